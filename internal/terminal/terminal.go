package terminal

import (
	"fmt"
	"regexp"
	"strings"
)

// Sentinels bracketing the shell prompt so command output and the
// current working directory parse deterministically.
const (
	cmdBegin = "[CMD_BEGIN]"
	cmdEnd   = "[CMD_END]"

	// promptSetup installs the sentinel prompt in a fresh bash. The
	// sentinels are quote-split so the echoed setup line itself never
	// contains a literal marker; only the rendered prompt does.
	promptSetup = `export PS1="[CMD_""BEGIN]\n\u@\h:\w\n[CMD_""END]"; export PS2=""`

	// workdirPlaceholder replaces the host workspace root in output when
	// relative-path mode is on, so output never leaks host paths.
	workdirPlaceholder = ".WORKING_DIR"

	// maxOutputChars is the tail kept of oversized command output.
	maxOutputChars = 5000
)

// SessionState tracks a terminal session's lifecycle.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateReady     SessionState = "ready"
	StateRunning   SessionState = "running"
	StateCompleted SessionState = "completed"
	StateError     SessionState = "error"
)

// SessionResult is the uniform result of every terminal operation.
type SessionResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// Manager is the contract both terminal backends satisfy. One session
// per id; commands within a session are strictly serial.
type Manager interface {
	CreateSession(id string) SessionResult
	ShellExec(id, command, execDir string, timeoutSeconds int) SessionResult
	ShellView(id string) SessionResult
	ShellWait(id string, seconds int) SessionResult
	ShellWriteToProcess(id, text string, pressEnter bool) SessionResult
	ShellKillProcess(id string) SessionResult
}

// Options configure a terminal manager.
type Options struct {
	Shell           string // default /bin/bash
	DefaultTimeout  int    // seconds, default 10
	Cwd             string // initial working directory
	UseRelativePath bool   // rewrite host paths to workdirPlaceholder
}

func (o Options) withDefaults() Options {
	if o.Shell == "" {
		o.Shell = "/bin/bash"
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 10
	}
	return o
}

// New builds a terminal manager for the named backend: "pty" or "tmux".
func New(backend string, opts Options) (Manager, error) {
	switch backend {
	case "", "pty":
		return NewPTYManager(opts), nil
	case "tmux":
		return NewTmuxManager(opts), nil
	default:
		return nil, fmt.Errorf("unknown terminal backend %q", backend)
	}
}

var ansiEscape = regexp.MustCompile(`\x1B\[[0-?]*[ -/]*[@-~]`)

// stripANSI removes ANSI escape sequences and a leading carriage return.
func stripANSI(s string) string {
	clean := ansiEscape.ReplaceAllString(s, "")
	return strings.TrimPrefix(clean, "\r")
}

// truncateTail keeps the last maxOutputChars characters, marking clipped
// content.
func truncateTail(s string) string {
	if len(s) <= maxOutputChars {
		return s
	}
	return "[Content Truncated]" + s[len(s)-maxOutputChars:]
}

// dropEchoedCommand removes the first line when it is the echo of the
// command just sent.
func dropEchoedCommand(output, command string) string {
	lines := strings.SplitN(output, "\n", 2)
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == strings.TrimSpace(command) {
		if len(lines) == 2 {
			return lines[1]
		}
		return ""
	}
	return output
}
