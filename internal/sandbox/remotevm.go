package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paulpham157/ii-agent/internal/config"
)

// RemoteVM provisions sandboxes through a vendor HTTP API. The
// vendor-assigned id is persisted on the session row so reconnects and
// resumes can find the VM again.
type RemoteVM struct {
	sessionID string
	cfg       config.SandboxConfig
	binder    SessionBinder
	client    *http.Client

	sandboxID string
	hostURL   string
}

// NewRemoteVM builds the vendor-API sandbox.
func NewRemoteVM(sessionID string, cfg config.SandboxConfig, binder SessionBinder) *RemoteVM {
	return &RemoteVM{
		sessionID: sessionID,
		cfg:       cfg,
		binder:    binder,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

type vendorSandbox struct {
	SandboxID string `json:"sandbox_id"`
	Hostname  string `json:"hostname"`
	State     string `json:"state"`
}

func (s *RemoteVM) api(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal vendor request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.cfg.VendorAPIBase, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.VendorAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("vendor api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("vendor api %s %s: %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (s *RemoteVM) Create(ctx context.Context) error {
	var vm vendorSandbox
	err := s.api(ctx, http.MethodPost, "/sandboxes", map[string]any{
		"template_id": s.cfg.TemplateID,
		"timeout":     3600,
	}, &vm)
	if err != nil {
		return fmt.Errorf("create remote sandbox: %w", err)
	}
	s.sandboxID = vm.SandboxID
	s.hostURL = s.portURL(vm, s.cfg.ServicePort)

	if s.binder != nil {
		if err := s.binder.PersistSandboxID(s.sessionID, s.sandboxID); err != nil {
			return fmt.Errorf("persist sandbox id: %w", err)
		}
	}
	return nil
}

func (s *RemoteVM) Connect(ctx context.Context) error {
	if s.binder == nil {
		return fmt.Errorf("no session binder, cannot look up sandbox id")
	}
	id, err := s.binder.LookupSandboxID(s.sessionID)
	if err != nil {
		return fmt.Errorf("look up sandbox id: %w", err)
	}
	if id == "" {
		return fmt.Errorf("no sandbox id recorded for session %s", s.sessionID)
	}
	var vm vendorSandbox
	if err := s.api(ctx, http.MethodGet, "/sandboxes/"+id, nil, &vm); err != nil {
		return fmt.Errorf("connect remote sandbox %s: %w", id, err)
	}
	s.sandboxID = vm.SandboxID
	s.hostURL = s.portURL(vm, s.cfg.ServicePort)
	return nil
}

func (s *RemoteVM) ExposePort(port int) (string, error) {
	if s.sandboxID == "" {
		return "", errUninitialized("id")
	}
	return fmt.Sprintf("https://%d-%s", port, s.hostSuffix()), nil
}

func (s *RemoteVM) Start(ctx context.Context) error {
	if s.sandboxID == "" {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}
	return s.api(ctx, http.MethodPost, "/sandboxes/"+s.sandboxID+"/resume", nil, nil)
}

func (s *RemoteVM) Stop(ctx context.Context) error {
	if s.sandboxID == "" {
		return errUninitialized("id")
	}
	return s.api(ctx, http.MethodPost, "/sandboxes/"+s.sandboxID+"/pause", nil, nil)
}

func (s *RemoteVM) Cleanup(ctx context.Context) {
	if s.sandboxID == "" {
		return
	}
	if err := s.api(ctx, http.MethodDelete, "/sandboxes/"+s.sandboxID, nil, nil); err != nil {
		slog.Warn("sandbox cleanup: vendor delete failed", "session", s.sessionID, "sandbox", s.sandboxID, "error", err)
	}
}

func (s *RemoteVM) HostURL() (string, error) {
	if s.hostURL == "" {
		return "", errUninitialized("host URL")
	}
	return s.hostURL, nil
}

func (s *RemoteVM) SandboxID() (string, error) {
	if s.sandboxID == "" {
		return "", errUninitialized("id")
	}
	return s.sandboxID, nil
}

func (s *RemoteVM) portURL(vm vendorSandbox, port int) string {
	host := vm.Hostname
	if host == "" {
		host = s.hostSuffix()
	}
	return fmt.Sprintf("https://%d-%s", port, host)
}

func (s *RemoteVM) hostSuffix() string {
	base := strings.TrimPrefix(strings.TrimRight(s.cfg.VendorAPIBase, "/"), "https://")
	base = strings.TrimPrefix(base, "api.")
	return fmt.Sprintf("%s.%s", s.sandboxID, base)
}
