package config

import (
	"fmt"
	"sync"
)

// Config is the root configuration for the agent server, the reverse
// proxy, and the in-sandbox tool server. Loaded from a JSON5 settings
// file with env-var overlays.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Workspace WorkspaceConfig `json:"workspace"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Agent     AgentConfig     `json:"agent"`
	Models    ModelsConfig    `json:"models"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	FileStore FileStoreConfig `json:"file_store,omitempty"`
	Proxy     ProxyConfig     `json:"proxy,omitempty"`

	mu sync.RWMutex
}

// ServerConfig configures the WebSocket server listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // 0 = disabled
	LogsPath     string `json:"logs_path,omitempty"`
}

// WorkspaceConfig locates session workspaces on the host.
type WorkspaceConfig struct {
	HostRoot string `json:"host_root"` // parent dir; each session gets <host_root>/<session_id>
}

// SandboxConfig selects and parameterizes the sandbox backend.
type SandboxConfig struct {
	Mode        string `json:"mode"`         // "local", "container", "remote-vm"
	ServicePort int    `json:"service_port"` // tool server port inside the sandbox
	Image       string `json:"image,omitempty"`
	NetworkName string `json:"network_name,omitempty"`
	MemoryLimit string `json:"memory_limit,omitempty"` // e.g. "4096m"
	CPULimit    float64 `json:"cpu_limit,omitempty"`
	BaseDomain  string `json:"base_domain,omitempty"` // public URL suffix for exposed ports
	// Remote VM vendor API (secret key from env II_AGENT_SANDBOX_API_KEY only).
	VendorAPIBase string `json:"vendor_api_base,omitempty"`
	VendorAPIKey  string `json:"-"`
	TemplateID    string `json:"template_id,omitempty"`
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	MaxTurns           int  `json:"max_turns"`
	MaxOutputTokens    int  `json:"max_output_tokens"`
	TokenBudget        int  `json:"token_budget"`
	IgnoreIndentation  bool `json:"ignore_indentation,omitempty"`
	ExpandTabs         bool `json:"expand_tabs,omitempty"`
	UseRelativePaths   bool `json:"use_relative_paths,omitempty"`
	DefaultShell       string `json:"default_shell,omitempty"`
	TerminalBackend    string `json:"terminal_backend,omitempty"` // "pty" (default) or "tmux"
}

// ModelsConfig is the model registry: name → provider binding.
type ModelsConfig struct {
	Default string                 `json:"default,omitempty"`
	List    map[string]ModelConfig `json:"list,omitempty"`
}

// ModelConfig binds a model name to a provider endpoint.
// APIKey is never serialized back out.
type ModelConfig struct {
	APIType        string `json:"api_type"` // "anthropic", "openai", "gemini"
	APIKey         string `json:"api_key,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	Model          string `json:"model,omitempty"` // provider-side model id; defaults to registry key
	ThinkingTokens int    `json:"thinking_tokens,omitempty"`
	MaxRetries     int    `json:"max_retries,omitempty"`
}

// DatabaseConfig selects the event/session store backend.
// PostgresDSN is only read from env II_AGENT_POSTGRES_DSN.
type DatabaseConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"`
}

// FileStoreConfig configures the history snapshot store.
type FileStoreConfig struct {
	Type string `json:"type,omitempty"` // "local" (default) or "memory"
	Root string `json:"root,omitempty"`
}

// ProxyConfig configures the standalone reverse proxy process.
type ProxyConfig struct {
	Host            string `json:"host,omitempty"`
	Port            int    `json:"port,omitempty"`
	UpstreamTimeout int    `json:"upstream_timeout_seconds,omitempty"`
}

// Model resolves a model name from the registry, falling back to the
// configured default when name is empty.
func (c *Config) Model(name string) (ModelConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name == "" {
		name = c.Models.Default
	}
	mc, ok := c.Models.List[name]
	if !ok {
		return ModelConfig{}, fmt.Errorf("model %q not found in registry", name)
	}
	if mc.Model == "" {
		mc.Model = name
	}
	return mc, nil
}

// ReplaceModels swaps the model registry. Called by the settings watcher
// on hot reload.
func (c *Config) ReplaceModels(m ModelsConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Models = m
}
