package tools

import (
	"context"
	"fmt"
	"sync"
)

// SequentialThinkingTool lets the model externalize step-by-step
// reasoning without side effects.
type SequentialThinkingTool struct{}

func (SequentialThinkingTool) Name() string { return "sequential_thinking" }

func (SequentialThinkingTool) Description() string {
	return "Record one step of structured thinking. Use to break a hard problem into numbered thoughts before acting."
}

func (SequentialThinkingTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"thought": map[string]any{
				"type":        "string",
				"description": "The current thinking step",
			},
			"thought_number": map[string]any{
				"type":        "integer",
				"description": "Current step number",
			},
			"total_thoughts": map[string]any{
				"type":        "integer",
				"description": "Estimated total steps needed",
			},
			"next_thought_needed": map[string]any{
				"type":        "boolean",
				"description": "Whether another step is needed",
			},
		},
		"required": []any{"thought", "thought_number", "total_thoughts", "next_thought_needed"},
	}
}

func (SequentialThinkingTool) Run(_ context.Context, _ Context, input map[string]any) (string, error) {
	n := optionalInt(input, "thought_number", 1)
	total := optionalInt(input, "total_thoughts", 1)
	return fmt.Sprintf("Recorded thought %d/%d.", n, total), nil
}

// SimpleMemoryTool is a per-session scratchpad: write notes, read them
// back later in the run.
type SimpleMemoryTool struct {
	mu    sync.Mutex
	notes []string
}

func NewSimpleMemoryTool() *SimpleMemoryTool { return &SimpleMemoryTool{} }

func (*SimpleMemoryTool) Name() string { return "simple_memory" }

func (*SimpleMemoryTool) Description() string {
	return "Store and retrieve short notes that persist for the rest of this session. Action \"write\" appends a note; \"read\" returns all notes."
}

func (*SimpleMemoryTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []any{"write", "read"},
			},
			"note": map[string]any{
				"type":        "string",
				"description": "The note to store (for \"write\")",
			},
		},
		"required": []any{"action"},
	}
}

func (t *SimpleMemoryTool) Run(_ context.Context, _ Context, input map[string]any) (string, error) {
	action, err := stringInput(input, "action")
	if err != nil {
		return err.Error(), nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch action {
	case "write":
		note := optionalString(input, "note")
		if note == "" {
			return "Nothing to store: note is empty.", nil
		}
		t.notes = append(t.notes, note)
		return fmt.Sprintf("Stored note %d.", len(t.notes)), nil
	case "read":
		if len(t.notes) == 0 {
			return "No notes stored.", nil
		}
		out := ""
		for i, n := range t.notes {
			out += fmt.Sprintf("%d. %s\n", i+1, n)
		}
		return out, nil
	default:
		return fmt.Sprintf("Unknown action %q.", action), nil
	}
}
