package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicClient implements Client against the Anthropic Messages API
// via net/http.
type AnthropicClient struct {
	apiKey         string
	baseURL        string
	model          string
	thinkingTokens int
	client         *http.Client
	retry          RetryConfig
}

type AnthropicOption func(*AnthropicClient)

func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(c *AnthropicClient) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithAnthropicThinkingTokens(n int) AnthropicOption {
	return func(c *AnthropicClient) { c.thinkingTokens = n }
}

func WithAnthropicRetry(cfg RetryConfig) AnthropicOption {
	return func(c *AnthropicClient) { c.retry = cfg }
}

// NewAnthropicClient creates a new Anthropic provider client.
func NewAnthropicClient(apiKey, model string, opts ...AnthropicOption) *AnthropicClient {
	c := &AnthropicClient{
		apiKey:  apiKey,
		baseURL: anthropicAPIBase,
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
		retry:   DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *AnthropicClient) ModelName() string { return c.model }

func (c *AnthropicClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body := c.buildRequestBody(req)
	return retryDo(ctx, c.retry, func() (*GenerateResponse, error) {
		respBody, err := c.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp anthropicResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("anthropic: decode response: %w", err)
		}
		return c.parseResponse(&resp), nil
	})
}

func (c *AnthropicClient) buildRequestBody(req GenerateRequest) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, turn := range req.Messages {
		role := "assistant"
		blocks := make([]map[string]any, 0, len(turn))
		for _, b := range turn {
			switch v := b.(type) {
			case TextPrompt:
				role = "user"
				blocks = append(blocks, map[string]any{"type": "text", "text": v.Text})
			case TextResult:
				blocks = append(blocks, map[string]any{"type": "text", "text": v.Text})
			case Thinking:
				blocks = append(blocks, map[string]any{
					"type": "thinking", "thinking": v.Thinking, "signature": v.Signature,
				})
			case RedactedThinking:
				blocks = append(blocks, map[string]any{"type": "redacted_thinking", "data": v.Data})
			case ToolCall:
				input := v.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, map[string]any{
					"type": "tool_use", "id": v.ID, "name": v.Name, "input": input,
				})
			case ToolResult:
				role = "user"
				blocks = append(blocks, map[string]any{
					"type": "tool_result", "tool_use_id": v.ID, "content": v.Output,
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		msgs = append(msgs, map[string]any{"role": role, "content": blocks})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	body := map[string]any{
		"model":      c.model,
		"max_tokens": maxTokens,
		"messages":   msgs,
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.InputSchema,
			})
		}
		body["tools"] = tools
	}
	thinking := req.ThinkingTokens
	if thinking == 0 {
		thinking = c.thinkingTokens
	}
	if thinking > 0 {
		body["thinking"] = map[string]any{"type": "enabled", "budget_tokens": thinking}
	}
	return body
}

func (c *AnthropicClient) doRequest(ctx context.Context, body any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &apiError{status: resp.StatusCode, body: string(data)}
	}
	return resp.Body, nil
}

type anthropicResponse struct {
	Content []struct {
		Type      string          `json:"type"`
		Text      string          `json:"text,omitempty"`
		Thinking  string          `json:"thinking,omitempty"`
		Signature string          `json:"signature,omitempty"`
		Data      string          `json:"data,omitempty"`
		ID        string          `json:"id,omitempty"`
		Name      string          `json:"name,omitempty"`
		Input     json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *AnthropicClient) parseResponse(resp *anthropicResponse) *GenerateResponse {
	var turn Turn
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			turn = append(turn, TextResult{Text: block.Text})
		case "thinking":
			turn = append(turn, Thinking{Thinking: block.Thinking, Signature: block.Signature})
		case "redacted_thinking":
			turn = append(turn, RedactedThinking{Data: block.Data})
		case "tool_use":
			input := map[string]any{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &input)
			}
			turn = append(turn, ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	return &GenerateResponse{
		Content: turn,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
}
