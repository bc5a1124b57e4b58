package sandbox

import (
	"context"
	"fmt"

	"github.com/paulpham157/ii-agent/internal/config"
)

// Local runs the tool service on the host itself. There is nothing to
// provision; the service is this same process (or a sibling started by
// the operator).
type Local struct {
	sessionID string
	cfg       config.SandboxConfig
	hostURL   string
}

// NewLocal builds the host-local sandbox.
func NewLocal(sessionID string, cfg config.SandboxConfig) *Local {
	return &Local{sessionID: sessionID, cfg: cfg}
}

func (s *Local) Create(context.Context) error {
	s.hostURL = fmt.Sprintf("http://localhost:%d", s.cfg.ServicePort)
	return nil
}

func (s *Local) Connect(context.Context) error {
	s.hostURL = fmt.Sprintf("http://localhost:%d", s.cfg.ServicePort)
	return nil
}

func (s *Local) ExposePort(port int) (string, error) {
	return fmt.Sprintf("http://localhost:%d", port), nil
}

func (s *Local) Start(context.Context) error { return nil }
func (s *Local) Stop(context.Context) error  { return nil }
func (s *Local) Cleanup(context.Context)     {}

func (s *Local) HostURL() (string, error) {
	if s.hostURL == "" {
		return "", errUninitialized("host URL")
	}
	return s.hostURL, nil
}

func (s *Local) SandboxID() (string, error) {
	return s.sessionID, nil
}
