package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/internal/workspace"
)

// Container provisions a docker container per session: resource limits,
// a named network, and the session workspace bind-mounted at the fixed
// in-container path. The container name doubles as the network hostname
// the reverse proxy routes to.
type Container struct {
	sessionID   string
	cfg         config.SandboxConfig
	hostRoot    string
	containerID string
	hostURL     string
}

// NewContainer builds the docker-backed sandbox.
func NewContainer(sessionID string, cfg config.SandboxConfig) *Container {
	return &Container{sessionID: sessionID, cfg: cfg}
}

// SetHostWorkspaceRoot points the bind mount at the host workspace
// parent directory.
func (s *Container) SetHostWorkspaceRoot(root string) { s.hostRoot = root }

func (s *Container) containerName() string { return s.sessionID }

func (s *Container) Create(ctx context.Context) error {
	hostDir := filepath.Join(s.hostRoot, s.sessionID)
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return fmt.Errorf("create sandbox workspace: %w", err)
	}

	args := []string{
		"run", "-d",
		"--name", s.containerName(),
		"--hostname", "sandbox",
		"--memory", s.cfg.MemoryLimit,
		"--cpus", fmt.Sprintf("%g", s.cfg.CPULimit),
		"-v", fmt.Sprintf("%s:%s", hostDir, workspace.ContainerWorkDir),
	}
	if s.cfg.NetworkName != "" {
		args = append(args, "--network", s.cfg.NetworkName)
	}
	args = append(args, s.cfg.Image)

	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		s.Cleanup(ctx)
		return fmt.Errorf("failed to create sandbox: %s: %w", strings.TrimSpace(string(out)), err)
	}
	s.containerID = strings.TrimSpace(string(out))
	s.hostURL = fmt.Sprintf("http://%s:%d", s.containerName(), s.cfg.ServicePort)
	slog.Info("sandbox container created", "session", s.sessionID, "container", s.containerID[:min(12, len(s.containerID))])
	return nil
}

func (s *Container) Connect(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "docker", "inspect", "--format", "{{.Id}}", s.containerName()).Output()
	if err != nil {
		return fmt.Errorf("sandbox container %s not found: %w", s.containerName(), err)
	}
	s.containerID = strings.TrimSpace(string(out))
	s.hostURL = fmt.Sprintf("http://%s:%d", s.containerName(), s.cfg.ServicePort)
	return nil
}

// ExposePort synthesizes the public URL the reverse proxy routes back to
// this container.
func (s *Container) ExposePort(port int) (string, error) {
	if s.cfg.BaseDomain == "" {
		return "", fmt.Errorf("base domain is not configured, cannot expose port %d", port)
	}
	return fmt.Sprintf("http://%s-%d.%s", s.containerName(), port, s.cfg.BaseDomain), nil
}

func (s *Container) Start(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "docker", "start", s.containerName()).CombinedOutput()
	if err != nil {
		return fmt.Errorf("start sandbox: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *Container) Stop(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "docker", "stop", "-t", "5", s.containerName()).CombinedOutput()
	if err != nil {
		return fmt.Errorf("stop sandbox: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *Container) Cleanup(ctx context.Context) {
	if out, err := exec.CommandContext(ctx, "docker", "stop", "-t", "5", s.containerName()).CombinedOutput(); err != nil {
		slog.Warn("sandbox cleanup: container stop failed", "session", s.sessionID, "output", strings.TrimSpace(string(out)), "error", err)
	}
	if out, err := exec.CommandContext(ctx, "docker", "rm", "-f", s.containerName()).CombinedOutput(); err != nil {
		slog.Warn("sandbox cleanup: container remove failed", "session", s.sessionID, "output", strings.TrimSpace(string(out)), "error", err)
	}
	s.containerID = ""
}

func (s *Container) HostURL() (string, error) {
	if s.hostURL == "" {
		return "", errUninitialized("host URL")
	}
	return s.hostURL, nil
}

func (s *Container) SandboxID() (string, error) {
	if s.containerID == "" {
		return "", errUninitialized("id")
	}
	return s.containerID, nil
}
