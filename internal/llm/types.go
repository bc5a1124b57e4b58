package llm

import (
	"encoding/json"
	"fmt"
)

// ContentBlock is one element of a conversation turn. The concrete types
// form a closed set; anything crossing the wire is parsed into one of
// them at the boundary.
type ContentBlock interface {
	blockKind() string
}

// TextPrompt is user-authored text.
type TextPrompt struct {
	Text string `json:"text"`
}

// TextResult is assistant-authored text.
type TextResult struct {
	Text string `json:"text"`
}

// Thinking is an assistant reasoning block. Signature is the provider's
// opaque integrity token and must be passed back verbatim.
type Thinking struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

// RedactedThinking is an opaque reasoning block.
type RedactedThinking struct {
	Data string `json:"data"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult is the output of a dispatched tool call, matched by ID.
type ToolResult struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Output string `json:"output"`
}

func (TextPrompt) blockKind() string       { return "text_prompt" }
func (TextResult) blockKind() string       { return "text_result" }
func (Thinking) blockKind() string         { return "thinking" }
func (RedactedThinking) blockKind() string { return "redacted_thinking" }
func (ToolCall) blockKind() string         { return "tool_call" }
func (ToolResult) blockKind() string       { return "tool_result" }

// Turn is an ordered, non-empty group of content blocks attributed to a
// single role boundary.
type Turn []ContentBlock

// HasTextPrompt reports whether the turn contains user text.
func (t Turn) HasTextPrompt() bool {
	for _, b := range t {
		if _, ok := b.(TextPrompt); ok {
			return true
		}
	}
	return false
}

// HasThinking reports whether the turn carries reasoning blocks.
func (t Turn) HasThinking() bool {
	for _, b := range t {
		switch b.(type) {
		case Thinking, RedactedThinking:
			return true
		}
	}
	return false
}

// blockEnvelope is the serialized form of a ContentBlock, with a kind
// discriminator so histories survive the snapshot store round trip.
type blockEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON serializes the turn as a list of kind-tagged envelopes.
func (t Turn) MarshalJSON() ([]byte, error) {
	envs := make([]blockEnvelope, 0, len(t))
	for _, b := range t {
		payload, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		envs = append(envs, blockEnvelope{Kind: b.blockKind(), Payload: payload})
	}
	return json.Marshal(envs)
}

// UnmarshalJSON restores a turn from kind-tagged envelopes.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var envs []blockEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}
	out := make(Turn, 0, len(envs))
	for _, env := range envs {
		var b ContentBlock
		switch env.Kind {
		case "text_prompt":
			var v TextPrompt
			if err := json.Unmarshal(env.Payload, &v); err != nil {
				return err
			}
			b = v
		case "text_result":
			var v TextResult
			if err := json.Unmarshal(env.Payload, &v); err != nil {
				return err
			}
			b = v
		case "thinking":
			var v Thinking
			if err := json.Unmarshal(env.Payload, &v); err != nil {
				return err
			}
			b = v
		case "redacted_thinking":
			var v RedactedThinking
			if err := json.Unmarshal(env.Payload, &v); err != nil {
				return err
			}
			b = v
		case "tool_call":
			var v ToolCall
			if err := json.Unmarshal(env.Payload, &v); err != nil {
				return err
			}
			b = v
		case "tool_result":
			var v ToolResult
			if err := json.Unmarshal(env.Payload, &v); err != nil {
				return err
			}
			b = v
		default:
			return fmt.Errorf("unknown content block kind %q", env.Kind)
		}
		out = append(out, b)
	}
	*t = out
	return nil
}

// ToolParam describes a tool made available to the model.
type ToolParam struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Usage tracks token consumption for one generation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// GenerateRequest is the input for one model call.
type GenerateRequest struct {
	Messages       []Turn
	SystemPrompt   string
	Tools          []ToolParam
	MaxTokens      int
	ThinkingTokens int
}

// GenerateResponse is one assistant turn plus usage accounting.
type GenerateResponse struct {
	Content Turn
	Usage   Usage
}
