package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/paulpham157/ii-agent/internal/bus"
	"github.com/paulpham157/ii-agent/internal/llm"
)

// Context carries per-session facilities into tool execution.
type Context struct {
	SessionID uuid.UUID
	Queue     *bus.Queue
	History   *llm.MessageHistory
}

// Tool is the capability interface every handler implements. Expected
// operational failures (missing file, non-unique match, non-zero exit)
// are reported inside the returned output so the model can react; a Go
// error means an infrastructure failure.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Run(ctx context.Context, tc Context, input map[string]any) (string, error)
}

// Registry holds the session's tool catalog. Names are unique, enforced
// at bind time.
type Registry struct {
	order []string
	byName map[string]Tool
}

// NewRegistry binds the given tools, failing on duplicate names.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.byName[t.Name()]; dup {
			return nil, fmt.Errorf("tool %s is duplicated", t.Name())
		}
		r.byName[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r, nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Names lists bound tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Params renders the catalog for the LLM request.
func (r *Registry) Params() []llm.ToolParam {
	params := make([]llm.ToolParam, 0, len(r.order))
	for _, name := range r.order {
		t := r.byName[name]
		params = append(params, llm.ToolParam{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return params
}

// stringInput fetches a required string field from tool input.
func stringInput(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q must be a string", key)
	}
	return s, nil
}

func optionalString(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func optionalInt(input map[string]any, key string, def int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func optionalBool(input map[string]any, key string) bool {
	v, _ := input[key].(bool)
	return v
}

// intSlice coerces a JSON array of numbers.
func intSlice(input map[string]any, key string) []int {
	raw, ok := input[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}
