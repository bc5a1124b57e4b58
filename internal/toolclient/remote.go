package toolclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paulpham157/ii-agent/internal/fileedit"
	"github.com/paulpham157/ii-agent/internal/terminal"
)

// RemoteTerminalClient forwards terminal operations to the tool server
// running inside a sandbox.
type RemoteTerminalClient struct {
	baseURL string
	client  *http.Client
}

// NewRemoteTerminalClient targets the sandbox tool server at baseURL.
func NewRemoteTerminalClient(baseURL string, timeout time.Duration) *RemoteTerminalClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &RemoteTerminalClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *RemoteTerminalClient) post(endpoint string, payload map[string]any) terminal.SessionResult {
	var result struct {
		Success bool   `json:"success"`
		Output  string `json:"output"`
	}
	if err := postJSON(c.client, c.baseURL+"/api/terminal/"+endpoint, payload, &result); err != nil {
		slog.Error("terminal rpc failed", "endpoint", endpoint, "error", err)
		return terminal.SessionResult{Success: false, Output: fmt.Sprintf("Request error: %s", err)}
	}
	return terminal.SessionResult{Success: result.Success, Output: result.Output}
}

func (c *RemoteTerminalClient) CreateSession(sessionID string) terminal.SessionResult {
	return c.post("create_session", map[string]any{"session_id": sessionID})
}

func (c *RemoteTerminalClient) ShellExec(sessionID, command, execDir string, timeoutSeconds int) terminal.SessionResult {
	return c.post("shell_exec", map[string]any{
		"session_id": sessionID,
		"command":    command,
		"exec_dir":   execDir,
		"timeout":    timeoutSeconds,
	})
}

func (c *RemoteTerminalClient) ShellView(sessionID string) terminal.SessionResult {
	return c.post("shell_view", map[string]any{"session_id": sessionID})
}

func (c *RemoteTerminalClient) ShellWait(sessionID string, seconds int) terminal.SessionResult {
	return c.post("shell_wait", map[string]any{"session_id": sessionID, "seconds": seconds})
}

func (c *RemoteTerminalClient) ShellWriteToProcess(sessionID, text string, pressEnter bool) terminal.SessionResult {
	return c.post("shell_write_to_process", map[string]any{
		"session_id":  sessionID,
		"input_text":  text,
		"press_enter": pressEnter,
	})
}

func (c *RemoteTerminalClient) ShellKillProcess(sessionID string) terminal.SessionResult {
	return c.post("shell_kill_process", map[string]any{"session_id": sessionID})
}

// RemoteFileEditClient forwards file-edit operations to the sandbox tool
// server.
type RemoteFileEditClient struct {
	baseURL string
	client  *http.Client
}

// NewRemoteFileEditClient targets the sandbox tool server at baseURL.
func NewRemoteFileEditClient(baseURL string, timeout time.Duration) *RemoteFileEditClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &RemoteFileEditClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *RemoteFileEditClient) post(endpoint string, payload map[string]any) fileedit.Response {
	var result struct {
		Success     bool   `json:"success"`
		FileContent string `json:"file_content"`
	}
	if err := postJSON(c.client, c.baseURL+"/api/str_replace/"+endpoint, payload, &result); err != nil {
		slog.Error("file-edit rpc failed", "endpoint", endpoint, "error", err)
		return fileedit.Response{Success: false, FileContent: fmt.Sprintf("Request error: %s", err)}
	}
	return fileedit.Response{Success: result.Success, FileContent: result.FileContent}
}

func (c *RemoteFileEditClient) ValidatePath(command, path string) fileedit.Response {
	return c.post("validate_path", map[string]any{"command": command, "path": path})
}

func (c *RemoteFileEditClient) View(path string, viewRange []int) fileedit.Response {
	payload := map[string]any{"path": path}
	if len(viewRange) > 0 {
		payload["view_range"] = viewRange
	}
	return c.post("view", payload)
}

func (c *RemoteFileEditClient) Create(path, text string) fileedit.Response {
	return c.post("create", map[string]any{"path": path, "file_text": text})
}

func (c *RemoteFileEditClient) StrReplace(path, oldStr, newStr string) fileedit.Response {
	return c.post("str_replace", map[string]any{"path": path, "old_str": oldStr, "new_str": newStr})
}

func (c *RemoteFileEditClient) Insert(path string, insertLine int, newStr string) fileedit.Response {
	return c.post("insert", map[string]any{"path": path, "insert_line": insertLine, "new_str": newStr})
}

func (c *RemoteFileEditClient) UndoEdit(path string) fileedit.Response {
	return c.post("undo_edit", map[string]any{"path": path})
}

func (c *RemoteFileEditClient) ReadFile(path string) fileedit.Response {
	return c.post("read_file", map[string]any{"path": path})
}

func (c *RemoteFileEditClient) WriteFile(path, content string) fileedit.Response {
	return c.post("write_file", map[string]any{"path": path, "file": content})
}

func (c *RemoteFileEditClient) IsPathInDirectory(directory, path string) bool {
	resp := c.post("is_path_in_directory", map[string]any{"directory": directory, "path": path})
	return resp.Success
}

func postJSON(client *http.Client, url string, payload map[string]any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
