package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".ii-agent")
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			RateLimitRPM: 0,
			LogsPath:     filepath.Join(base, "agent_logs.txt"),
		},
		Workspace: WorkspaceConfig{
			HostRoot: filepath.Join(base, "workspace"),
		},
		Sandbox: SandboxConfig{
			Mode:        "local",
			ServicePort: 17300,
			MemoryLimit: "4096m",
			CPULimit:    1.0,
		},
		Agent: AgentConfig{
			MaxTurns:        200,
			MaxOutputTokens: 8192,
			TokenBudget:     120_000,
			DefaultShell:    "/bin/bash",
			TerminalBackend: "pty",
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(base, "events.db"),
		},
		FileStore: FileStoreConfig{
			Type: "local",
			Root: filepath.Join(base, "file_store"),
		},
		Proxy: ProxyConfig{
			Host:            "0.0.0.0",
			Port:            8100,
			UpstreamTimeout: 60,
		},
	}
}

// Load reads config from a JSON5 settings file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("II_AGENT_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("II_AGENT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("II_AGENT_WORKSPACE_ROOT"); v != "" {
		c.Workspace.HostRoot = v
	}
	if v := os.Getenv("II_AGENT_SANDBOX_MODE"); v != "" {
		c.Sandbox.Mode = v
	}
	if v := os.Getenv("II_AGENT_SANDBOX_API_KEY"); v != "" {
		c.Sandbox.VendorAPIKey = v
	}
	if v := os.Getenv("II_AGENT_BASE_DOMAIN"); v != "" {
		c.Sandbox.BaseDomain = v
	}
	if v := os.Getenv("II_AGENT_POSTGRES_DSN"); v != "" {
		c.Database.Driver = "postgres"
		c.Database.PostgresDSN = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.seedModelKey("anthropic", v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.seedModelKey("openai", v)
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.seedModelKey("gemini", v)
	}
}

// seedModelKey fills in a missing api_key for registry entries of the
// given api_type so keys can live in env instead of the settings file.
func (c *Config) seedModelKey(apiType, key string) {
	for name, mc := range c.Models.List {
		if mc.APIType == apiType && mc.APIKey == "" {
			mc.APIKey = key
			c.Models.List[name] = mc
		}
	}
}

// Watch re-reads the settings file whenever it changes and hot-swaps the
// model registry. Other fields require a restart. Returns a stop func.
func (c *Config) Watch(path string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				fresh, err := Load(path)
				if err != nil {
					slog.Warn("config reload failed", "path", path, "error", err)
					continue
				}
				c.ReplaceModels(fresh.Models)
				slog.Info("model registry reloaded", "path", path, "models", len(fresh.Models.List))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
