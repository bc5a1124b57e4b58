package llm

import (
	"context"
	"fmt"

	"github.com/paulpham157/ii-agent/internal/config"
)

// Client is the interface all LLM providers implement.
type Client interface {
	// Generate sends the conversation and returns one assistant turn.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// ModelName returns the provider-side model identifier.
	ModelName() string
}

// NewClient builds a provider client from a model registry entry.
func NewClient(mc config.ModelConfig) (Client, error) {
	retry := RetryConfig{MaxRetries: mc.MaxRetries}
	switch mc.APIType {
	case "anthropic":
		return NewAnthropicClient(mc.APIKey, mc.Model,
			WithAnthropicBaseURL(mc.BaseURL),
			WithAnthropicThinkingTokens(mc.ThinkingTokens),
			WithAnthropicRetry(retry),
		), nil
	case "openai":
		return NewOpenAIClient("openai", mc.APIKey, mc.BaseURL, mc.Model, retry), nil
	case "gemini":
		base := mc.BaseURL
		if base == "" {
			base = "https://generativelanguage.googleapis.com/v1beta/openai"
		}
		return NewOpenAIClient("gemini", mc.APIKey, base, mc.Model, retry), nil
	default:
		return nil, fmt.Errorf("unsupported api_type %q", mc.APIType)
	}
}
