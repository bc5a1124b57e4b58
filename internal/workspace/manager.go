package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ContainerWorkDir is the fixed workspace path inside sandbox containers.
const ContainerWorkDir = "/workspace"

// Manager translates between host workspace paths and the paths the
// agent sees inside a sandbox. For local mode the two coincide.
type Manager struct {
	root      string // host workspace for this session
	sessionID string
	local     bool
}

// NewManager creates the session workspace directory under parentDir.
func NewManager(parentDir, sessionID string, localMode bool) (*Manager, error) {
	abs, err := filepath.Abs(filepath.Join(parentDir, sessionID))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Manager{root: abs, sessionID: sessionID, local: localMode}, nil
}

// Root returns the absolute host workspace directory.
func (m *Manager) Root() string { return m.root }

// SessionID returns the owning session id.
func (m *Manager) SessionID() string { return m.sessionID }

// IsLocal reports whether tools run directly on the host.
func (m *Manager) IsLocal() bool { return m.local }

// RootPath returns the workspace root as the agent addresses it: the
// container path in sandbox mode, the host path locally.
func (m *Manager) RootPath() string {
	if m.local {
		return m.root
	}
	return ContainerWorkDir
}

// HostPath maps a possibly container-relative path to the host filesystem.
func (m *Manager) HostPath(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.Join(m.root, path)
	}
	if !m.local {
		if rel, ok := pathUnder(ContainerWorkDir, path); ok {
			return filepath.Join(m.root, rel)
		}
	}
	return path
}

// AgentPath maps a path to the form the sandbox tool server understands:
// the container path in sandbox mode, the host path locally.
func (m *Manager) AgentPath(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.Join(m.RootPath(), path)
	}
	if !m.local {
		if rel, ok := pathUnder(m.root, path); ok {
			return filepath.Join(ContainerWorkDir, rel)
		}
	}
	return path
}

// RelativePath returns path relative to the workspace root when inside
// it; otherwise the input unchanged.
func (m *Manager) RelativePath(path string) string {
	abs := m.AgentPath(path)
	if rel, ok := pathUnder(m.RootPath(), abs); ok {
		return rel
	}
	return path
}

// Contains reports whether the resolved path lies under the workspace
// root (host or container form).
func (m *Manager) Contains(path string) bool {
	p := filepath.Clean(path)
	if _, ok := pathUnder(m.root, p); ok {
		return true
	}
	if !m.local {
		if _, ok := pathUnder(ContainerWorkDir, p); ok {
			return true
		}
	}
	return false
}

func pathUnder(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		rel = ""
	}
	return rel, true
}
