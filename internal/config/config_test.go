package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Agent.MaxTurns != 200 {
		t.Errorf("max turns = %d, want 200", cfg.Agent.MaxTurns)
	}
	if cfg.Agent.TokenBudget != 120_000 {
		t.Errorf("token budget = %d, want 120000", cfg.Agent.TokenBudget)
	}
	if cfg.Sandbox.Mode != "local" {
		t.Errorf("sandbox mode = %s, want local", cfg.Sandbox.Mode)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("database driver = %s", cfg.Database.Driver)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadJSON5Settings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	content := `{
		// agent server
		server: { host: "127.0.0.1", port: 9100 },
		agent: { max_turns: 50, token_budget: 60000 },
		sandbox: { mode: "container", service_port: 17300, base_domain: "agents.local" },
		models: {
			default: "sonnet",
			list: {
				sonnet: { api_type: "anthropic", api_key: "sk-test", thinking_tokens: 4096 },
				gpt: { api_type: "openai", api_key: "sk-oai" },
			},
		},
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9100 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Agent.MaxTurns != 50 || cfg.Agent.TokenBudget != 60000 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.Sandbox.Mode != "container" || cfg.Sandbox.BaseDomain != "agents.local" {
		t.Errorf("sandbox = %+v", cfg.Sandbox)
	}

	mc, err := cfg.Model("sonnet")
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if mc.APIType != "anthropic" || mc.ThinkingTokens != 4096 {
		t.Errorf("model = %+v", mc)
	}
	if mc.Model != "sonnet" {
		t.Errorf("model id should default to the registry key, got %q", mc.Model)
	}

	// Default resolution with empty name.
	if mc, err := cfg.Model(""); err != nil || mc.APIType != "anthropic" {
		t.Errorf("default model = %+v, %v", mc, err)
	}

	if _, err := cfg.Model("missing"); err == nil {
		t.Error("unknown model should fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("II_AGENT_PORT", "9999")
	t.Setenv("II_AGENT_SANDBOX_MODE", "remote-vm")
	t.Setenv("II_AGENT_POSTGRES_DSN", "postgres://u:p@localhost/db")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Sandbox.Mode != "remote-vm" {
		t.Errorf("sandbox mode = %s", cfg.Sandbox.Mode)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.PostgresDSN == "" {
		t.Errorf("database = %+v", cfg.Database)
	}
}

func TestEnvSeedsModelKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	content := `{ models: { list: { claude: { api_type: "anthropic" } } } }`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	mc, err := cfg.Model("claude")
	if err != nil {
		t.Fatal(err)
	}
	if mc.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want the env-seeded key", mc.APIKey)
	}
}
