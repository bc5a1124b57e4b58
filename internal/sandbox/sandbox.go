package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/paulpham157/ii-agent/internal/config"
)

// Sandbox is an isolated execution environment owning the session
// workspace and running the tool server.
type Sandbox interface {
	// Create provisions resources and starts the service, setting the
	// host URL and sandbox id.
	Create(ctx context.Context) error

	// Connect attaches to an existing sandbox identified by the
	// session's persisted sandbox id.
	Connect(ctx context.Context) error

	// ExposePort returns a public URL routing to port inside the sandbox.
	ExposePort(port int) (string, error)

	// Start resumes a suspended sandbox; optional for backends that do
	// not distinguish.
	Start(ctx context.Context) error

	// Stop suspends the sandbox.
	Stop(ctx context.Context) error

	// Cleanup tears down best-effort; partial failures are logged, not
	// returned.
	Cleanup(ctx context.Context)

	// HostURL is the tool server base URL, valid after Create/Connect.
	HostURL() (string, error)

	// SandboxID is the backend-assigned id, valid after Create/Connect.
	SandboxID() (string, error)
}

// SessionBinder persists the backend-assigned sandbox id on the session
// row so reconnects can find it again.
type SessionBinder interface {
	PersistSandboxID(sessionID, sandboxID string) error
	LookupSandboxID(sessionID string) (string, error)
}

// Factory builds a sandbox for one session.
type Factory func(sessionID string, cfg config.SandboxConfig, binder SessionBinder) Sandbox

// Registry maps a sandbox mode to its implementation. Built explicitly
// at startup; no package-level singletons.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in backends registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("local", func(sessionID string, cfg config.SandboxConfig, _ SessionBinder) Sandbox {
		return NewLocal(sessionID, cfg)
	})
	r.Register("container", func(sessionID string, cfg config.SandboxConfig, _ SessionBinder) Sandbox {
		return NewContainer(sessionID, cfg)
	})
	r.Register("remote-vm", func(sessionID string, cfg config.SandboxConfig, binder SessionBinder) Sandbox {
		return NewRemoteVM(sessionID, cfg, binder)
	})
	return r
}

// Register adds or replaces a backend.
func (r *Registry) Register(mode string, f Factory) {
	r.factories[mode] = f
}

// Create builds a sandbox for the configured mode.
func (r *Registry) Create(sessionID string, cfg config.SandboxConfig, binder SessionBinder) (Sandbox, error) {
	f, ok := r.factories[cfg.Mode]
	if !ok {
		modes := make([]string, 0, len(r.factories))
		for m := range r.factories {
			modes = append(modes, m)
		}
		sort.Strings(modes)
		return nil, fmt.Errorf("unknown sandbox mode %q, available: %s", cfg.Mode, strings.Join(modes, ", "))
	}
	return f(sessionID, cfg, binder), nil
}

// errUninitialized is returned when URL/id accessors run before
// Create/Connect.
func errUninitialized(what string) error {
	return fmt.Errorf("sandbox %s is not set; call Create or Connect first", what)
}
