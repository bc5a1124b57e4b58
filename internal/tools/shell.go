package tools

import (
	"context"

	"github.com/paulpham157/ii-agent/internal/toolclient"
	"github.com/paulpham157/ii-agent/internal/workspace"
)

const defaultShellTimeout = 30 // seconds

// ShellExecTool executes commands in a named shell session.
type ShellExecTool struct {
	client    toolclient.TerminalClient
	workspace *workspace.Manager
}

func NewShellExecTool(client toolclient.TerminalClient, ws *workspace.Manager) *ShellExecTool {
	return &ShellExecTool{client: client, workspace: ws}
}

func (t *ShellExecTool) Name() string { return "shell_exec" }

func (t *ShellExecTool) Description() string {
	return "Execute commands in a specified shell session. Use for running code, installing packages, or managing files."
}

func (t *ShellExecTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": map[string]any{
				"type":        "string",
				"description": "Unique identifier of the target shell session; automatically creates new session if not exists",
			},
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute",
			},
			"exec_dir": map[string]any{
				"type":        "string",
				"description": "Working directory for command execution",
			},
		},
		"required": []any{"session_id", "command", "exec_dir"},
	}
}

func (t *ShellExecTool) Run(_ context.Context, _ Context, input map[string]any) (string, error) {
	sessionID, err := stringInput(input, "session_id")
	if err != nil {
		return err.Error(), nil
	}
	command, err := stringInput(input, "command")
	if err != nil {
		return err.Error(), nil
	}
	execDir := optionalString(input, "exec_dir")
	if execDir != "" {
		execDir = t.workspace.AgentPath(execDir)
	}
	result := t.client.ShellExec(sessionID, command, execDir, defaultShellTimeout)
	return result.Output, nil
}

// ShellViewTool returns the current content of a shell session.
type ShellViewTool struct {
	client toolclient.TerminalClient
}

func NewShellViewTool(client toolclient.TerminalClient) *ShellViewTool {
	return &ShellViewTool{client: client}
}

func (t *ShellViewTool) Name() string { return "shell_view" }

func (t *ShellViewTool) Description() string {
	return "View the content of a specified shell session. Use for checking command execution results or monitoring output."
}

func (t *ShellViewTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": map[string]any{
				"type":        "string",
				"description": "Unique identifier of the target shell session",
			},
		},
		"required": []any{"session_id"},
	}
}

func (t *ShellViewTool) Run(_ context.Context, _ Context, input map[string]any) (string, error) {
	sessionID, err := stringInput(input, "session_id")
	if err != nil {
		return err.Error(), nil
	}
	return t.client.ShellView(sessionID).Output, nil
}

// ShellWaitTool sleeps in a shell session, then reports.
type ShellWaitTool struct {
	client toolclient.TerminalClient
}

func NewShellWaitTool(client toolclient.TerminalClient) *ShellWaitTool {
	return &ShellWaitTool{client: client}
}

func (t *ShellWaitTool) Name() string { return "shell_wait" }

func (t *ShellWaitTool) Description() string {
	return "Wait for a specified number of seconds in a shell session. Use when a long-running command needs more time to finish."
}

func (t *ShellWaitTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": map[string]any{
				"type":        "string",
				"description": "Unique identifier of the target shell session",
			},
			"seconds": map[string]any{
				"type":        "integer",
				"description": "Number of seconds to wait",
			},
		},
		"required": []any{"session_id"},
	}
}

func (t *ShellWaitTool) Run(_ context.Context, _ Context, input map[string]any) (string, error) {
	sessionID, err := stringInput(input, "session_id")
	if err != nil {
		return err.Error(), nil
	}
	seconds := optionalInt(input, "seconds", 30)
	return t.client.ShellWait(sessionID, seconds).Output, nil
}

// ShellWriteToProcessTool writes input to the running process.
type ShellWriteToProcessTool struct {
	client toolclient.TerminalClient
}

func NewShellWriteToProcessTool(client toolclient.TerminalClient) *ShellWriteToProcessTool {
	return &ShellWriteToProcessTool{client: client}
}

func (t *ShellWriteToProcessTool) Name() string { return "shell_write_to_process" }

func (t *ShellWriteToProcessTool) Description() string {
	return "Write input to a running process in a specified shell session. Use for responding to interactive prompts."
}

func (t *ShellWriteToProcessTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": map[string]any{
				"type":        "string",
				"description": "Unique identifier of the target shell session",
			},
			"input_text": map[string]any{
				"type":        "string",
				"description": "Text to write to the process",
			},
			"press_enter": map[string]any{
				"type":        "boolean",
				"description": "Whether to press enter after writing the text",
			},
		},
		"required": []any{"session_id", "input_text"},
	}
}

func (t *ShellWriteToProcessTool) Run(_ context.Context, _ Context, input map[string]any) (string, error) {
	sessionID, err := stringInput(input, "session_id")
	if err != nil {
		return err.Error(), nil
	}
	text, err := stringInput(input, "input_text")
	if err != nil {
		return err.Error(), nil
	}
	return t.client.ShellWriteToProcess(sessionID, text, optionalBool(input, "press_enter")).Output, nil
}

// ShellKillProcessTool terminates the session's process.
type ShellKillProcessTool struct {
	client toolclient.TerminalClient
}

func NewShellKillProcessTool(client toolclient.TerminalClient) *ShellKillProcessTool {
	return &ShellKillProcessTool{client: client}
}

func (t *ShellKillProcessTool) Name() string { return "shell_kill_process" }

func (t *ShellKillProcessTool) Description() string {
	return "Terminate a running process in a specified shell session. Use for stopping long-running processes or handling frozen commands."
}

func (t *ShellKillProcessTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id": map[string]any{
				"type":        "string",
				"description": "Unique identifier of the target shell session",
			},
		},
		"required": []any{"session_id"},
	}
}

func (t *ShellKillProcessTool) Run(_ context.Context, _ Context, input map[string]any) (string, error) {
	sessionID, err := stringInput(input, "session_id")
	if err != nil {
		return err.Error(), nil
	}
	return t.client.ShellKillProcess(sessionID).Output, nil
}
