package toolclient

import (
	"github.com/paulpham157/ii-agent/internal/fileedit"
	"github.com/paulpham157/ii-agent/internal/terminal"
)

// TerminalClient is the uniform facade over shell session operations,
// whether they run in-process or inside a remote sandbox.
type TerminalClient interface {
	CreateSession(sessionID string) terminal.SessionResult
	ShellExec(sessionID, command, execDir string, timeoutSeconds int) terminal.SessionResult
	ShellView(sessionID string) terminal.SessionResult
	ShellWait(sessionID string, seconds int) terminal.SessionResult
	ShellWriteToProcess(sessionID, text string, pressEnter bool) terminal.SessionResult
	ShellKillProcess(sessionID string) terminal.SessionResult
}

// FileEditClient is the uniform facade over file-edit operations.
type FileEditClient interface {
	ValidatePath(command, path string) fileedit.Response
	View(path string, viewRange []int) fileedit.Response
	Create(path, text string) fileedit.Response
	StrReplace(path, oldStr, newStr string) fileedit.Response
	Insert(path string, insertLine int, newStr string) fileedit.Response
	UndoEdit(path string) fileedit.Response
	ReadFile(path string) fileedit.Response
	WriteFile(path, content string) fileedit.Response
	IsPathInDirectory(directory, path string) bool
}

// LocalTerminalClient dispatches directly to an in-process manager.
type LocalTerminalClient struct {
	mgr terminal.Manager
}

// NewLocalTerminalClient wraps a terminal manager.
func NewLocalTerminalClient(mgr terminal.Manager) *LocalTerminalClient {
	return &LocalTerminalClient{mgr: mgr}
}

func (c *LocalTerminalClient) CreateSession(sessionID string) terminal.SessionResult {
	return c.mgr.CreateSession(sessionID)
}

func (c *LocalTerminalClient) ShellExec(sessionID, command, execDir string, timeoutSeconds int) terminal.SessionResult {
	return c.mgr.ShellExec(sessionID, command, execDir, timeoutSeconds)
}

func (c *LocalTerminalClient) ShellView(sessionID string) terminal.SessionResult {
	return c.mgr.ShellView(sessionID)
}

func (c *LocalTerminalClient) ShellWait(sessionID string, seconds int) terminal.SessionResult {
	return c.mgr.ShellWait(sessionID, seconds)
}

func (c *LocalTerminalClient) ShellWriteToProcess(sessionID, text string, pressEnter bool) terminal.SessionResult {
	return c.mgr.ShellWriteToProcess(sessionID, text, pressEnter)
}

func (c *LocalTerminalClient) ShellKillProcess(sessionID string) terminal.SessionResult {
	return c.mgr.ShellKillProcess(sessionID)
}

// LocalFileEditClient dispatches directly to an in-process manager.
type LocalFileEditClient struct {
	mgr *fileedit.Manager
}

// NewLocalFileEditClient wraps a file-edit manager.
func NewLocalFileEditClient(mgr *fileedit.Manager) *LocalFileEditClient {
	return &LocalFileEditClient{mgr: mgr}
}

func (c *LocalFileEditClient) ValidatePath(command, path string) fileedit.Response {
	return c.mgr.ValidatePath(command, path)
}

func (c *LocalFileEditClient) View(path string, viewRange []int) fileedit.Response {
	return c.mgr.View(path, viewRange)
}

func (c *LocalFileEditClient) Create(path, text string) fileedit.Response {
	return c.mgr.Create(path, text)
}

func (c *LocalFileEditClient) StrReplace(path, oldStr, newStr string) fileedit.Response {
	return c.mgr.StrReplace(path, oldStr, newStr)
}

func (c *LocalFileEditClient) Insert(path string, insertLine int, newStr string) fileedit.Response {
	return c.mgr.Insert(path, insertLine, newStr)
}

func (c *LocalFileEditClient) UndoEdit(path string) fileedit.Response {
	return c.mgr.UndoEdit(path)
}

func (c *LocalFileEditClient) ReadFile(path string) fileedit.Response {
	return c.mgr.ReadFile(path)
}

func (c *LocalFileEditClient) WriteFile(path, content string) fileedit.Response {
	return c.mgr.WriteFile(path, content)
}

func (c *LocalFileEditClient) IsPathInDirectory(directory, path string) bool {
	return c.mgr.IsPathInDirectory(directory, path)
}
