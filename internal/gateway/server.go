package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/internal/sandbox"
	"github.com/paulpham157/ii-agent/internal/store"
	"github.com/paulpham157/ii-agent/internal/store/filestore"
)

// Server is the agent WebSocket server: one ChatSession per connection,
// plus the HTTP session/event/settings API.
type Server struct {
	cfg        *config.Config
	db         *store.Store
	files      filestore.FileStore
	sandboxReg *sandbox.Registry

	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer wires the server from its dependencies.
func NewServer(cfg *config.Config, db *store.Store, files filestore.FileStore, sandboxReg *sandbox.Registry) *Server {
	return &Server{
		cfg:        cfg,
		db:         db,
		files:      files,
		sandboxReg: sandboxReg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Sessions are keyed by UUID, not cookies; origin checks are
			// left to the deployment's proxy layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/sessions/{device_id}", s.handleSessionsByDevice)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("agent server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// handleWebSocket accepts a client connection and runs its chat session
// until disconnect. The client may supply an existing session UUID to
// resume; otherwise a fresh session is created.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.New()
	if raw := r.URL.Query().Get("session_uuid"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid session_uuid", http.StatusBadRequest)
			return
		}
		sessionID = parsed
	}
	deviceID := r.URL.Query().Get("device_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	session := NewChatSession(SessionDeps{
		Conn:       conn,
		SessionID:  sessionID,
		DeviceID:   deviceID,
		Config:     s.cfg,
		DB:         s.db,
		Files:      s.files,
		SandboxReg: s.sandboxReg,
	})
	session.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSessionsByDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	sessions, err := s.db.SessionsByDeviceID(deviceID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid session id"})
		return
	}
	events, err := s.db.SessionEvents(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleGetSettings reports the model registry with secrets masked.
// API keys never leave the server in GET responses.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	models := make(map[string]any)
	for name, mc := range s.cfg.Models.List {
		models[name] = map[string]any{
			"api_type":        mc.APIType,
			"api_key":         maskSecret(mc.APIKey),
			"base_url":        mc.BaseURL,
			"model":           mc.Model,
			"thinking_tokens": mc.ThinkingTokens,
			"max_retries":     mc.MaxRetries,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default": s.cfg.Models.Default,
		"models":  models,
	})
}

// handlePutSettings replaces the model registry for the running server.
// Existing sessions keep their already-built clients; new init_agent
// calls see the update.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var models config.ModelsConfig
	if err := json.NewDecoder(r.Body).Decode(&models); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid settings payload"})
		return
	}
	s.cfg.ReplaceModels(models)
	slog.Info("model registry replaced via settings API", "models", len(models.List))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + strings.Repeat("*", 8) + s[len(s)-4:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
