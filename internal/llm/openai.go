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

	"github.com/google/uuid"
)

// OpenAIClient implements Client against any OpenAI-compatible chat
// completions endpoint. The Gemini binding reuses it through Google's
// OpenAI-compatibility surface.
type OpenAIClient struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	retry   RetryConfig
}

// NewOpenAIClient creates a client for an OpenAI-compatible API.
func NewOpenAIClient(name, apiKey, baseURL, model string, retry RetryConfig) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
		retry:   retry,
	}
}

func (c *OpenAIClient) ModelName() string { return c.model }

func (c *OpenAIClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body := c.buildRequestBody(req)
	return retryDo(ctx, c.retry, func() (*GenerateResponse, error) {
		respBody, err := c.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", c.name, err)
		}
		return c.parseResponse(&resp)
	})
}

func (c *OpenAIClient) buildRequestBody(req GenerateRequest) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	for _, turn := range req.Messages {
		var userText []string
		var assistantText []string
		var toolCalls []map[string]any
		var toolResults []ToolResult
		for _, b := range turn {
			switch v := b.(type) {
			case TextPrompt:
				userText = append(userText, v.Text)
			case TextResult:
				assistantText = append(assistantText, v.Text)
			case Thinking, RedactedThinking:
				// Reasoning blocks are provider-internal for the
				// Anthropic API shape; OpenAI-compatible endpoints
				// never see them again.
			case ToolCall:
				args, _ := json.Marshal(v.Input)
				toolCalls = append(toolCalls, map[string]any{
					"id":   v.ID,
					"type": "function",
					"function": map[string]any{
						"name":      v.Name,
						"arguments": string(args),
					},
				})
			case ToolResult:
				toolResults = append(toolResults, v)
			}
		}
		if len(userText) > 0 {
			msgs = append(msgs, map[string]any{"role": "user", "content": strings.Join(userText, "\n")})
		}
		if len(assistantText) > 0 || len(toolCalls) > 0 {
			m := map[string]any{"role": "assistant", "content": strings.Join(assistantText, "\n")}
			if len(toolCalls) > 0 {
				m["tool_calls"] = toolCalls
			}
			msgs = append(msgs, m)
		}
		for _, tr := range toolResults {
			msgs = append(msgs, map[string]any{
				"role":         "tool",
				"tool_call_id": tr.ID,
				"content":      tr.Output,
			})
		}
	}

	body := map[string]any{
		"model":    c.model,
		"messages": msgs,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.InputSchema,
				},
			})
		}
		body["tools"] = tools
	}
	return body
}

func (c *OpenAIClient) doRequest(ctx context.Context, body any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &apiError{status: resp.StatusCode, body: string(data)}
	}
	return resp.Body, nil
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) parseResponse(resp *openAIResponse) (*GenerateResponse, error) {
	if len(resp.Choices) == 0 {
		return &GenerateResponse{}, nil
	}
	choice := resp.Choices[0]

	var turn Turn
	if choice.Message.Content != "" {
		turn = append(turn, TextResult{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("%s: tool arguments for %s: %w", c.name, tc.Function.Name, err)
			}
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		turn = append(turn, ToolCall{ID: id, Name: tc.Function.Name, Input: input})
	}

	return &GenerateResponse{
		Content: turn,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
