package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/paulpham157/ii-agent/internal/bus"
	"github.com/paulpham157/ii-agent/internal/fileedit"
	"github.com/paulpham157/ii-agent/internal/toolclient"
	"github.com/paulpham157/ii-agent/internal/workspace"
	"github.com/paulpham157/ii-agent/pkg/protocol"
)

// StrReplaceEditorTool is the file editor: view, create, replace,
// insert, undo. Paths are resolved against the session workspace and
// rejected outside it. Successful mutations emit file_edit events with
// the full new content.
type StrReplaceEditorTool struct {
	client    toolclient.FileEditClient
	workspace *workspace.Manager
}

func NewStrReplaceEditorTool(client toolclient.FileEditClient, ws *workspace.Manager) *StrReplaceEditorTool {
	return &StrReplaceEditorTool{client: client, workspace: ws}
}

func (t *StrReplaceEditorTool) Name() string { return "str_replace_editor" }

func (t *StrReplaceEditorTool) Description() string {
	return "Custom editing tool for viewing, creating and editing files\n" +
		"* State is persistent across command calls and discussions with the user\n" +
		"* If `path` is a file, `view` displays the result of applying `cat -n`. If `path` is a directory, `view` lists non-hidden files and directories up to 2 levels deep\n" +
		"* The `create` command cannot be used if the specified `path` already exists as a non-empty file\n" +
		"* The `undo_edit` command will revert the last edit made to the file at `path`"
}

func (t *StrReplaceEditorTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"enum":        []any{"view", "create", "str_replace", "insert", "undo_edit"},
				"description": "The command to run.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Path to file or directory, relative to the workspace root or absolute within it.",
			},
			"file_text": map[string]any{
				"type":        "string",
				"description": "Required for `create`: the content of the file to be created.",
			},
			"old_str": map[string]any{
				"type":        "string",
				"description": "Required for `str_replace`: the exact string in the file to replace.",
			},
			"new_str": map[string]any{
				"type":        "string",
				"description": "For `str_replace`: the replacement string. For `insert`: the string to insert.",
			},
			"insert_line": map[string]any{
				"type":        "integer",
				"description": "Required for `insert`: the line after which to insert (0 prepends).",
			},
			"view_range": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "integer"},
				"description": "For `view` on files: [start, end] 1-indexed line range, end=-1 for EOF.",
			},
		},
		"required": []any{"command", "path"},
	}
}

func (t *StrReplaceEditorTool) Run(_ context.Context, tc Context, input map[string]any) (string, error) {
	command, err := stringInput(input, "command")
	if err != nil {
		return err.Error(), nil
	}
	rawPath, err := stringInput(input, "path")
	if err != nil {
		return err.Error(), nil
	}

	path := t.workspace.AgentPath(rawPath)
	if !t.workspace.Contains(path) {
		return fmt.Sprintf("The path %s is outside the workspace directory %s.", rawPath, t.workspace.RootPath()), nil
	}

	if resp := t.client.ValidatePath(command, path); !resp.Success {
		return resp.FileContent, nil
	}

	var resp fileedit.Response
	mutating := false
	switch command {
	case "view":
		resp = t.client.View(path, intSlice(input, "view_range"))
	case "create":
		fileText, ferr := stringInput(input, "file_text")
		if ferr != nil {
			return ferr.Error(), nil
		}
		resp = t.client.Create(path, fileText)
		mutating = true
	case "str_replace":
		oldStr, ferr := stringInput(input, "old_str")
		if ferr != nil {
			return ferr.Error(), nil
		}
		resp = t.client.StrReplace(path, oldStr, optionalString(input, "new_str"))
		mutating = true
	case "insert":
		newStr, ferr := stringInput(input, "new_str")
		if ferr != nil {
			return ferr.Error(), nil
		}
		resp = t.client.Insert(path, optionalInt(input, "insert_line", -1), newStr)
		mutating = true
	case "undo_edit":
		resp = t.client.UndoEdit(path)
		mutating = true
	default:
		return fmt.Sprintf("Unrecognized command %s.", command), nil
	}

	if resp.Success && mutating {
		t.emitFileEdit(tc, path)
	}
	return resp.FileContent, nil
}

// emitFileEdit publishes the full new content so connected clients can
// refresh their file view.
func (t *StrReplaceEditorTool) emitFileEdit(tc Context, path string) {
	if tc.Queue == nil {
		return
	}
	read := t.client.ReadFile(path)
	if !read.Success {
		return
	}
	tc.Queue.Push(bus.New(tc.SessionID, protocol.EventFileEdit, map[string]any{
		"path":        t.workspace.RelativePath(path),
		"content":     read.FileContent,
		"total_lines": len(strings.Split(read.FileContent, "\n")),
	}))
}
