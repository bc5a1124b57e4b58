package sandboxsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/paulpham157/ii-agent/internal/fileedit"
	"github.com/paulpham157/ii-agent/internal/terminal"
)

// Server is the in-sandbox tool RPC server: terminal and file-edit
// operations over HTTP JSON, one endpoint per operation.
type Server struct {
	terminal terminal.Manager
	files    *fileedit.Manager

	httpServer *http.Server
}

// Options configure the tool server.
type Options struct {
	Terminal terminal.Manager
	Files    *fileedit.Manager
}

// New builds the tool server.
func New(opts Options) *Server {
	return &Server{terminal: opts.Terminal, files: opts.Files}
}

// Handler returns the HTTP handler with every RPC route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/terminal/create_session", s.terminalOp(func(r terminalRequest) terminal.SessionResult {
		return s.terminal.CreateSession(r.SessionID)
	}))
	mux.HandleFunc("POST /api/terminal/shell_exec", s.terminalOp(func(r terminalRequest) terminal.SessionResult {
		return s.terminal.ShellExec(r.SessionID, r.Command, r.ExecDir, r.Timeout)
	}))
	mux.HandleFunc("POST /api/terminal/shell_view", s.terminalOp(func(r terminalRequest) terminal.SessionResult {
		return s.terminal.ShellView(r.SessionID)
	}))
	mux.HandleFunc("POST /api/terminal/shell_wait", s.terminalOp(func(r terminalRequest) terminal.SessionResult {
		return s.terminal.ShellWait(r.SessionID, r.Seconds)
	}))
	mux.HandleFunc("POST /api/terminal/shell_write_to_process", s.terminalOp(func(r terminalRequest) terminal.SessionResult {
		return s.terminal.ShellWriteToProcess(r.SessionID, r.InputText, r.PressEnter)
	}))
	mux.HandleFunc("POST /api/terminal/shell_kill_process", s.terminalOp(func(r terminalRequest) terminal.SessionResult {
		return s.terminal.ShellKillProcess(r.SessionID)
	}))

	mux.HandleFunc("POST /api/str_replace/validate_path", s.fileOp(func(r fileRequest) fileedit.Response {
		return s.files.ValidatePath(r.Command, r.Path)
	}))
	mux.HandleFunc("POST /api/str_replace/view", s.fileOp(func(r fileRequest) fileedit.Response {
		return s.files.View(r.Path, r.ViewRange)
	}))
	mux.HandleFunc("POST /api/str_replace/create", s.fileOp(func(r fileRequest) fileedit.Response {
		return s.files.Create(r.Path, r.FileText)
	}))
	mux.HandleFunc("POST /api/str_replace/str_replace", s.fileOp(func(r fileRequest) fileedit.Response {
		return s.files.StrReplace(r.Path, r.OldStr, r.NewStr)
	}))
	mux.HandleFunc("POST /api/str_replace/insert", s.fileOp(func(r fileRequest) fileedit.Response {
		return s.files.Insert(r.Path, r.InsertLine, r.NewStr)
	}))
	mux.HandleFunc("POST /api/str_replace/undo_edit", s.fileOp(func(r fileRequest) fileedit.Response {
		return s.files.UndoEdit(r.Path)
	}))
	mux.HandleFunc("POST /api/str_replace/read_file", s.fileOp(func(r fileRequest) fileedit.Response {
		return s.files.ReadFile(r.Path)
	}))
	mux.HandleFunc("POST /api/str_replace/write_file", s.fileOp(func(r fileRequest) fileedit.Response {
		return s.files.WriteFile(r.Path, r.File)
	}))
	mux.HandleFunc("POST /api/str_replace/is_path_in_directory", s.fileOp(func(r fileRequest) fileedit.Response {
		if s.files.IsPathInDirectory(r.Directory, r.Path) {
			return fileedit.Response{Success: true}
		}
		return fileedit.Response{Success: false, FileContent: fmt.Sprintf("The path %s is not in directory %s", r.Path, r.Directory)}
	}))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "Sandbox tool server is running"})
	})

	return mux
}

// Start begins serving on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("sandbox tool server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type terminalRequest struct {
	SessionID  string `json:"session_id"`
	Command    string `json:"command"`
	ExecDir    string `json:"exec_dir"`
	Timeout    int    `json:"timeout"`
	Seconds    int    `json:"seconds"`
	InputText  string `json:"input_text"`
	PressEnter bool   `json:"press_enter"`
}

type fileRequest struct {
	Command    string `json:"command"`
	Path       string `json:"path"`
	FileText   string `json:"file_text"`
	File       string `json:"file"`
	OldStr     string `json:"old_str"`
	NewStr     string `json:"new_str"`
	InsertLine int    `json:"insert_line"`
	ViewRange  []int  `json:"view_range"`
	Directory  string `json:"directory"`
}

func (s *Server) terminalOp(op func(terminalRequest) terminal.SessionResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req terminalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, terminal.SessionResult{Success: false, Output: "invalid request body"})
			return
		}
		writeJSON(w, http.StatusOK, op(req))
	}
}

func (s *Server) fileOp(op func(fileRequest) fileedit.Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, fileedit.Response{Success: false, FileContent: "invalid request body"})
			return
		}
		writeJSON(w, http.StatusOK, op(req))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
