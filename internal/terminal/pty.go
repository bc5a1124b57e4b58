package terminal

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// errExpectTimeout signals that the end sentinel did not arrive in time.
var errExpectTimeout = fmt.Errorf("timed out waiting for prompt")

// ptySession is one interactive shell on a pseudo-terminal.
type ptySession struct {
	id          string
	cmd         *exec.Cmd
	tty         *os.File
	state       SessionState
	lastCommand string
	history     []string
	currentDir  string

	mu  sync.Mutex
	buf strings.Builder // output read but not yet consumed by expect
	eof bool
}

// PTYManager runs sessions on pseudo-terminals (creack/pty). Portable
// default backend.
type PTYManager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*ptySession
	workDir  string // shell-reported workspace dir, parsed from the first prompt
}

// NewPTYManager builds the PTY-backed terminal manager.
func NewPTYManager(opts Options) *PTYManager {
	return &PTYManager{
		opts:     opts.withDefaults(),
		sessions: make(map[string]*ptySession),
	}
}

func (m *PTYManager) session(id string) *ptySession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// CreateSession spawns a shell with the sentinel prompt installed.
func (m *PTYManager) CreateSession(id string) SessionResult {
	if _, err := m.createSession(id); err != nil {
		slog.Error("failed to create terminal session", "session", id, "error", err)
		return SessionResult{Success: false, Output: fmt.Sprintf("Error creating session: %s", err)}
	}
	return SessionResult{Success: true, Output: fmt.Sprintf("Session %s created successfully", id)}
}

func (m *PTYManager) createSession(id string) (*ptySession, error) {
	cmd := exec.Command(m.opts.Shell)
	if m.opts.Cwd != "" {
		cmd.Dir = m.opts.Cwd
	}
	cmd.Env = append(os.Environ(), "TERM=dumb")

	tty, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("spawn shell: %w", err)
	}

	sess := &ptySession{
		id:    id,
		cmd:   cmd,
		tty:   tty,
		state: StateIdle,
	}
	go sess.readLoop()

	// Install the sentinel prompt, then wait for it to render once.
	if _, err := tty.WriteString(promptSetup + "\n"); err != nil {
		sess.kill()
		return nil, fmt.Errorf("install prompt: %w", err)
	}
	before, err := sess.expectEnd(time.Duration(m.opts.DefaultTimeout) * time.Second)
	if err != nil {
		sess.kill()
		return nil, fmt.Errorf("prompt never appeared: %w", err)
	}

	dir := extractPromptDirectory(before)
	if dir == "" {
		sess.kill()
		return nil, fmt.Errorf("could not parse prompt from shell output")
	}
	if i := strings.LastIndex(dir, ":"); i >= 0 {
		m.mu.Lock()
		m.workDir = strings.TrimSpace(dir[i+1:])
		m.mu.Unlock()
	}
	sess.currentDir = m.rewritePaths(dir)
	sess.state = StateReady

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess, nil
}

// ShellExec runs a command in the session, creating it on first use. If
// a previous command is still running, a 1-second completion check is
// attempted first.
func (m *PTYManager) ShellExec(id, command, execDir string, timeoutSeconds int) SessionResult {
	if execDir != "" {
		command = fmt.Sprintf("cd %s && %s", execDir, command)
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	sess := m.session(id)
	if sess == nil {
		var err error
		sess, err = m.createSession(id)
		if err != nil {
			return SessionResult{Success: false, Output: fmt.Sprintf("Error creating session: %s", err)}
		}
	}

	if sess.state == StateRunning {
		before, err := sess.expectEnd(time.Second)
		if err != nil {
			partial := m.formatOutput(sess, before, sess.lastCommand, 1, true)
			return SessionResult{
				Success: false,
				Output: fmt.Sprintf("Previous command %s is still running. Ensure it's done or run on a new session.\n%s",
					sess.lastCommand, partial),
			}
		}
		sess.state = StateCompleted
		sess.history = append(sess.history, m.formatOutput(sess, before, sess.lastCommand, 1, false))
	}

	return m.execute(sess, command, timeoutSeconds)
}

func (m *PTYManager) execute(sess *ptySession, command string, timeoutSeconds int) SessionResult {
	if _, err := sess.tty.WriteString(command + "\n"); err != nil {
		sess.state = StateError
		return SessionResult{Success: false, Output: fmt.Sprintf("Shell process ended: %s", err)}
	}
	sess.lastCommand = command
	sess.state = StateRunning

	before, err := sess.expectEnd(time.Duration(timeoutSeconds) * time.Second)
	if err != nil {
		// Still running: report partial output, leave it buffered for a
		// later completion check.
		return SessionResult{Success: false, Output: m.formatOutput(sess, before, command, timeoutSeconds, false)}
	}
	sess.state = StateCompleted
	formatted := m.formatOutput(sess, before, command, timeoutSeconds, false)
	sess.history = append(sess.history, formatted)
	return SessionResult{Success: true, Output: formatted + "\n" + sess.currentDir + "$"}
}

// ShellView returns the full session history plus the current prompt,
// performing the 1-second completion check for running commands.
func (m *PTYManager) ShellView(id string) SessionResult {
	sess := m.session(id)
	if sess == nil {
		return SessionResult{Success: false, Output: fmt.Sprintf("Session %s not found", id)}
	}

	if sess.state == StateCompleted || sess.state == StateReady {
		return SessionResult{Success: true, Output: strings.Join(sess.history, "\n") + "\n" + sess.currentDir + "$"}
	}

	before, err := sess.expectEnd(time.Second)
	if err != nil {
		partial := m.formatOutput(sess, before, sess.lastCommand, 1, true)
		return SessionResult{Success: true, Output: strings.Join(append(sess.history, partial), "\n")}
	}
	sess.state = StateCompleted
	sess.history = append(sess.history, m.formatOutput(sess, before, sess.lastCommand, 1, false))
	return SessionResult{Success: true, Output: strings.Join(sess.history, "\n") + "\n" + sess.currentDir + "$"}
}

// ShellWait sleeps, then reports.
func (m *PTYManager) ShellWait(id string, seconds int) SessionResult {
	if m.session(id) == nil {
		return SessionResult{Success: false, Output: fmt.Sprintf("Session %s not found", id)}
	}
	time.Sleep(time.Duration(seconds) * time.Second)
	return SessionResult{Success: true, Output: fmt.Sprintf("Finished waiting for %d seconds", seconds)}
}

// ShellWriteToProcess writes raw input to the running process.
func (m *PTYManager) ShellWriteToProcess(id, text string, pressEnter bool) SessionResult {
	sess := m.session(id)
	if sess == nil {
		return SessionResult{Success: false, Output: fmt.Sprintf("Session %s not found", id)}
	}

	payload := text
	if pressEnter {
		payload += "\n"
	}
	if _, err := sess.tty.WriteString(payload); err != nil {
		return SessionResult{Success: false, Output: fmt.Sprintf("No active process in session %s", id)}
	}

	time.Sleep(100 * time.Millisecond)
	before, err := sess.expectEnd(3 * time.Second)
	if err != nil {
		sess.state = StateRunning
		return SessionResult{Success: false, Output: m.formatOutput(sess, before, sess.lastCommand, 3, false)}
	}
	sess.state = StateCompleted
	formatted := m.formatOutput(sess, before, sess.lastCommand, 3, false)
	sess.history = append(sess.history, formatted)
	return SessionResult{Success: true, Output: formatted + "\n" + sess.currentDir + "$"}
}

// ShellKillProcess SIGKILLs the shell and forgets the session.
func (m *PTYManager) ShellKillProcess(id string) SessionResult {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return SessionResult{Success: false, Output: fmt.Sprintf("Session %s not found", id)}
	}
	sess.kill()
	return SessionResult{Success: true, Output: fmt.Sprintf("Killed process in session %s", id)}
}

// formatOutput turns raw pty output into the user-facing transcript
// block, updating the session's current directory from the new prompt.
func (m *PTYManager) formatOutput(sess *ptySession, raw, command string, timeoutSeconds int, view bool) string {
	raw = stripANSI(raw)

	if !strings.Contains(raw, cmdBegin) {
		// Timed out before the next prompt rendered.
		out := truncateTail(dropEchoedCommand(strings.TrimSpace(raw), command))
		header := fmt.Sprintf("%s$ %s", sess.currentDir, command)
		msg := fmt.Sprintf("The command is still running after %d seconds. Output so far:", timeoutSeconds)
		if view {
			msg = "Process running. Output so far:"
		}
		if out == "" {
			return m.rewritePaths(header + "\n" + msg)
		}
		return m.rewritePaths(header + "\n" + msg + "\n" + out)
	}

	parts := strings.SplitN(raw, cmdBegin, 2)
	out := truncateTail(dropEchoedCommand(strings.TrimSpace(parts[0]), command))

	header := fmt.Sprintf("%s$ %s", sess.currentDir, command)
	if len(parts) > 1 {
		newDir := strings.TrimSpace(strings.NewReplacer("\n", "", "\r", "").Replace(parts[1]))
		if newDir != "" {
			sess.currentDir = m.rewritePaths(newDir)
		}
	}

	if out == "" {
		return m.rewritePaths(header)
	}
	return m.rewritePaths(header + "\n" + out)
}

func (m *PTYManager) rewritePaths(s string) string {
	if !m.opts.UseRelativePath {
		return s
	}
	if m.opts.Cwd != "" {
		s = strings.ReplaceAll(s, m.opts.Cwd, workdirPlaceholder)
	}
	m.mu.Lock()
	wd := m.workDir
	m.mu.Unlock()
	if wd != "" {
		s = strings.ReplaceAll(s, wd, workdirPlaceholder)
	}
	return s
}

// extractPromptDirectory parses "user@host:cwd" from the first prompt
// rendered after setup.
func extractPromptDirectory(before string) string {
	parts := strings.Split(before, cmdBegin)
	if len(parts) < 2 {
		// Prompt setup output may already have consumed [CMD_BEGIN];
		// fall back to the last non-empty line.
		lines := strings.Split(strings.TrimSpace(before), "\n")
		if len(lines) == 0 {
			return ""
		}
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return strings.TrimSpace(strings.NewReplacer("\n", "", "\r", "").Replace(parts[1]))
}

// readLoop pumps pty output into the session buffer.
func (s *ptySession) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.tty.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.buf.Write(buf[:n])
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			s.eof = true
			s.mu.Unlock()
			if err != io.EOF {
				slog.Debug("pty read ended", "session", s.id, "error", err)
			}
			return
		}
	}
}

// expectEnd waits for the end sentinel. On success the buffer is
// consumed through the sentinel and the preceding output returned. On
// timeout the accumulated output is returned unconsumed, so a later
// expect still sees the sentinel when the command finishes.
func (s *ptySession) expectEnd(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		content := s.buf.String()
		if i := strings.Index(content, cmdEnd); i >= 0 {
			before := content[:i]
			s.buf.Reset()
			s.buf.WriteString(content[i+len(cmdEnd):])
			s.mu.Unlock()
			return before, nil
		}
		eof := s.eof
		s.mu.Unlock()

		if eof {
			return content, fmt.Errorf("shell process ended")
		}
		if time.Now().After(deadline) {
			return content, errExpectTimeout
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (s *ptySession) kill() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(syscall.SIGKILL)
	}
	if s.tty != nil {
		_ = s.tty.Close()
	}
}
