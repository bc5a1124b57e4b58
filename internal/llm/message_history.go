package llm

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MessageHistory is the canonical ordered log of turns for one agent.
// It is single-writer (the agent loop of its session); readers take
// atomic snapshots under the same lock.
type MessageHistory struct {
	mu    sync.Mutex
	turns []Turn
}

// NewMessageHistory returns an empty history.
func NewMessageHistory() *MessageHistory {
	return &MessageHistory{}
}

// AddUserPrompt appends a user turn with a single text prompt.
func (h *MessageHistory) AddUserPrompt(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{TextPrompt{Text: text}})
}

// AddAssistantTurn appends a full assistant response turn.
func (h *MessageHistory) AddAssistantTurn(turn Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn)
}

// AddToolCallResult resolves a pending tool call with its output. Tool
// results travel on the user side of the exchange.
func (h *MessageHistory) AddToolCallResult(tc ToolCall, output string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{ToolResult{ID: tc.ID, Name: tc.Name, Output: output}})
}

// PendingToolCalls returns tool calls in the last turn that have no
// matching result anywhere in the history.
func (h *MessageHistory) PendingToolCalls() []ToolCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) == 0 {
		return nil
	}
	resolved := make(map[string]bool)
	for _, turn := range h.turns {
		for _, b := range turn {
			if tr, ok := b.(ToolResult); ok {
				resolved[tr.ID] = true
			}
		}
	}
	var pending []ToolCall
	for _, b := range h.turns[len(h.turns)-1] {
		if tc, ok := b.(ToolCall); ok && !resolved[tc.ID] {
			pending = append(pending, tc)
		}
	}
	return pending
}

// UnmatchedToolCallIDs returns the ids of every tool call with no
// matching result, pending or otherwise. Empty for a committed history.
func (h *MessageHistory) UnmatchedToolCallIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	resolved := make(map[string]bool)
	for _, turn := range h.turns {
		for _, b := range turn {
			if tr, ok := b.(ToolResult); ok {
				resolved[tr.ID] = true
			}
		}
	}
	var unmatched []string
	for _, turn := range h.turns {
		for _, b := range turn {
			if tc, ok := b.(ToolCall); ok && !resolved[tc.ID] {
				unmatched = append(unmatched, tc.ID)
			}
		}
	}
	return unmatched
}

// Turns returns an atomic snapshot of the history.
func (h *MessageHistory) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	for i, t := range h.turns {
		cp := make(Turn, len(t))
		copy(cp, t)
		out[i] = cp
	}
	return out
}

// SetTurns replaces the history wholesale. Used after truncation; the
// caller is responsible for the replacement preserving tool-call pairing.
func (h *MessageHistory) SetTurns(turns []Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = turns
}

// Len returns the number of turns.
func (h *MessageHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Clear empties the history.
func (h *MessageHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

// IsNextTurnUser reports whether the next appended turn should be a user
// turn (history empty, or last turn was an assistant text/tool response
// that got its results).
func (h *MessageHistory) IsNextTurnUser() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) == 0 {
		return true
	}
	last := h.turns[len(h.turns)-1]
	for _, b := range last {
		switch b.(type) {
		case TextPrompt:
			return false
		}
	}
	return true
}

// ClearFromLastToUserMessage removes turns from the end back through and
// including the most recent turn containing a TextPrompt. Used by
// edit_query to rewind the conversation to before the last user message.
func (h *MessageHistory) ClearFromLastToUserMessage() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].HasTextPrompt() {
			h.turns = h.turns[:i]
			return
		}
	}
	h.turns = nil
}

// FindLastToolCallInput scans backwards for the most recent call to the
// named tool and returns its input. Used by the reviewer flow to recover
// the agent's final user-facing message.
func (h *MessageHistory) FindLastToolCallInput(toolName string) (map[string]any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.turns) - 1; i >= 0; i-- {
		for _, b := range h.turns[i] {
			if tc, ok := b.(ToolCall); ok && tc.Name == toolName {
				return tc.Input, true
			}
		}
	}
	return nil, false
}

// Snapshot serializes the history for the session blob store.
func (h *MessageHistory) Snapshot() ([]byte, error) {
	turns := h.Turns()
	return json.Marshal(turns)
}

// RestoreSnapshot replaces the history with a previously serialized one.
func (h *MessageHistory) RestoreSnapshot(data []byte) error {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return fmt.Errorf("restore history: %w", err)
	}
	h.SetTurns(turns)
	return nil
}
