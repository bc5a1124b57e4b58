package sandbox

import (
	"context"
	"strings"
	"testing"

	"github.com/paulpham157/ii-agent/internal/config"
)

func TestRegistryModes(t *testing.T) {
	reg := NewRegistry()
	for _, mode := range []string{"local", "container", "remote-vm"} {
		if _, err := reg.Create("sess", config.SandboxConfig{Mode: mode}, nil); err != nil {
			t.Errorf("mode %s: %v", mode, err)
		}
	}

	_, err := reg.Create("sess", config.SandboxConfig{Mode: "firecracker"}, nil)
	if err == nil {
		t.Fatal("unknown mode should fail")
	}
	if !strings.Contains(err.Error(), "available: container, local, remote-vm") {
		t.Errorf("error should list available modes: %v", err)
	}
}

func TestLocalSandboxURLs(t *testing.T) {
	s := NewLocal("sess-1", config.SandboxConfig{Mode: "local", ServicePort: 17300})

	if _, err := s.HostURL(); err == nil {
		t.Error("host URL before create should fail")
	}

	if err := s.Create(context.Background()); err != nil {
		t.Fatal(err)
	}
	url, err := s.HostURL()
	if err != nil || url != "http://localhost:17300" {
		t.Errorf("host url = %q, %v", url, err)
	}
	public, err := s.ExposePort(3000)
	if err != nil || public != "http://localhost:3000" {
		t.Errorf("exposed = %q, %v", public, err)
	}
}

func TestContainerExposePort(t *testing.T) {
	s := NewContainer("abc-def", config.SandboxConfig{
		Mode:        "container",
		ServicePort: 17300,
		BaseDomain:  "agents.example.com",
	})

	url, err := s.ExposePort(8080)
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://abc-def-8080.agents.example.com" {
		t.Errorf("exposed = %q", url)
	}

	s2 := NewContainer("abc", config.SandboxConfig{Mode: "container"})
	if _, err := s2.ExposePort(80); err == nil {
		t.Error("expose without base domain should fail")
	}
}
