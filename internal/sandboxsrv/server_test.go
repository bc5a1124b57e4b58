package sandboxsrv

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulpham157/ii-agent/internal/fileedit"
	"github.com/paulpham157/ii-agent/internal/terminal"
	"github.com/paulpham157/ii-agent/internal/toolclient"
)

// fakeTerminal records calls and replies with canned results.
type fakeTerminal struct {
	lastOp   string
	lastExec struct {
		id, command, execDir string
		timeout              int
	}
}

func (f *fakeTerminal) CreateSession(id string) terminal.SessionResult {
	f.lastOp = "create"
	return terminal.SessionResult{Success: true, Output: fmt.Sprintf("Session %s created successfully", id)}
}

func (f *fakeTerminal) ShellExec(id, command, execDir string, timeout int) terminal.SessionResult {
	f.lastOp = "exec"
	f.lastExec.id, f.lastExec.command, f.lastExec.execDir, f.lastExec.timeout = id, command, execDir, timeout
	return terminal.SessionResult{Success: true, Output: "$ " + command + "\nok"}
}

func (f *fakeTerminal) ShellView(id string) terminal.SessionResult {
	f.lastOp = "view"
	return terminal.SessionResult{Success: true, Output: "history"}
}

func (f *fakeTerminal) ShellWait(id string, seconds int) terminal.SessionResult {
	f.lastOp = "wait"
	return terminal.SessionResult{Success: true, Output: fmt.Sprintf("Finished waiting for %d seconds", seconds)}
}

func (f *fakeTerminal) ShellWriteToProcess(id, text string, pressEnter bool) terminal.SessionResult {
	f.lastOp = "write"
	return terminal.SessionResult{Success: true, Output: "written"}
}

func (f *fakeTerminal) ShellKillProcess(id string) terminal.SessionResult {
	f.lastOp = "kill"
	return terminal.SessionResult{Success: true, Output: fmt.Sprintf("Killed process in session %s", id)}
}

func newTestRig(t *testing.T) (*fakeTerminal, string, *toolclient.RemoteTerminalClient, *toolclient.RemoteFileEditClient) {
	t.Helper()
	term := &fakeTerminal{}
	root := t.TempDir()
	files := fileedit.NewManager(fileedit.Options{Root: root})

	srv := httptest.NewServer(New(Options{Terminal: term, Files: files}).Handler())
	t.Cleanup(srv.Close)

	return term,
		root,
		toolclient.NewRemoteTerminalClient(srv.URL, 10*time.Second),
		toolclient.NewRemoteFileEditClient(srv.URL, 10*time.Second)
}

func TestTerminalRPCRoundTrip(t *testing.T) {
	term, _, client, _ := newTestRig(t)

	if res := client.CreateSession("s1"); !res.Success || term.lastOp != "create" {
		t.Errorf("create = %+v, op = %s", res, term.lastOp)
	}

	res := client.ShellExec("s1", "ls -la", "/workspace/src", 30)
	if !res.Success || !strings.Contains(res.Output, "ls -la") {
		t.Errorf("exec = %+v", res)
	}
	if term.lastExec.command != "ls -la" || term.lastExec.execDir != "/workspace/src" || term.lastExec.timeout != 30 {
		t.Errorf("exec forwarded as %+v", term.lastExec)
	}

	if res := client.ShellView("s1"); !res.Success || res.Output != "history" {
		t.Errorf("view = %+v", res)
	}
	if res := client.ShellWait("s1", 5); !strings.Contains(res.Output, "5 seconds") {
		t.Errorf("wait = %+v", res)
	}
	if res := client.ShellWriteToProcess("s1", "y", true); !res.Success {
		t.Errorf("write = %+v", res)
	}
	if res := client.ShellKillProcess("s1"); !strings.Contains(res.Output, "Killed process") {
		t.Errorf("kill = %+v", res)
	}
}

func TestFileEditRPCRoundTrip(t *testing.T) {
	_, root, _, client := newTestRig(t)
	path := filepath.Join(root, "notes.txt")

	if resp := client.WriteFile(path, "alpha\nbeta"); !resp.Success {
		t.Fatalf("write: %s", resp.FileContent)
	}
	if resp := client.ReadFile(path); resp.FileContent != "alpha\nbeta" {
		t.Errorf("read = %q", resp.FileContent)
	}
	if resp := client.StrReplace(path, "beta", "gamma"); !resp.Success {
		t.Errorf("replace: %s", resp.FileContent)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "alpha\ngamma" {
		t.Errorf("file = %q", data)
	}
	if resp := client.UndoEdit(path); !resp.Success {
		t.Errorf("undo: %s", resp.FileContent)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "alpha\nbeta" {
		t.Errorf("after undo = %q", data)
	}

	if resp := client.View(path, []int{1, 1}); !strings.Contains(resp.FileContent, "1\talpha") {
		t.Errorf("view = %q", resp.FileContent)
	}
	if !client.IsPathInDirectory(root, path) {
		t.Error("path should be inside root")
	}
	if client.IsPathInDirectory(root, "/etc/passwd") {
		t.Error("outside path reported as inside")
	}
}

func TestRPCErrorsTravelAsPayloads(t *testing.T) {
	_, root, _, client := newTestRig(t)

	resp := client.ReadFile(filepath.Join(root, "missing.txt"))
	if resp.Success {
		t.Fatal("missing file read should fail")
	}
	if !strings.Contains(resp.FileContent, "while trying to read") {
		t.Errorf("error payload = %q", resp.FileContent)
	}
}
