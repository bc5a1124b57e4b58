package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// DefaultTokenBudget bounds the serialized history size.
	DefaultTokenBudget = 120_000
	// SummaryMaxTokens bounds the summarization response.
	SummaryMaxTokens = 32_000

	summaryPrefix      = "Conversation Summary: "
	compactSeedPrefix  = "This session is being continued from a previous conversation. The conversation is summarized below:\n"
	defaultMaxSize     = 100
	defaultKeepFirst   = 1
	defaultMaxEventLen = 10_000
)

// ErrEmptyHistory is returned by Compact on an empty history.
var ErrEmptyHistory = errors.New("history is empty, nothing to compact")

// ContextManager keeps the history within its token budget and turn
// bound by summarizing forgotten turns with the LLM. Truncation never
// orphans a tool call or tool result.
type ContextManager struct {
	client      Client
	counter     *TokenCounter
	tokenBudget int
	maxSize     int
	keepFirst   int
	maxEventLen int
}

// ContextManagerOption tweaks ContextManager construction.
type ContextManagerOption func(*ContextManager)

func WithMaxSize(n int) ContextManagerOption {
	return func(m *ContextManager) { m.maxSize = n }
}

func WithMaxEventLength(n int) ContextManagerOption {
	return func(m *ContextManager) { m.maxEventLen = n }
}

// NewContextManager builds a manager summarizing through client.
func NewContextManager(client Client, counter *TokenCounter, tokenBudget int, opts ...ContextManagerOption) *ContextManager {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	m := &ContextManager{
		client:      client,
		counter:     counter,
		tokenBudget: tokenBudget,
		maxSize:     defaultMaxSize,
		keepFirst:   defaultKeepFirst,
		maxEventLen: defaultMaxEventLen,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CountTokens returns the token count of the given turns.
func (m *ContextManager) CountTokens(turns []Turn) int {
	return m.counter.CountTurns(turns)
}

// ShouldTruncate reports whether either bound is exceeded.
func (m *ContextManager) ShouldTruncate(turns []Turn) bool {
	return len(turns) > m.maxSize || m.counter.CountTurns(turns) > m.tokenBudget
}

// ApplyTruncationIfNeeded returns turns unchanged when within bounds,
// otherwise a condensed history.
func (m *ContextManager) ApplyTruncationIfNeeded(ctx context.Context, turns []Turn) []Turn {
	if !m.ShouldTruncate(turns) {
		return turns
	}
	return m.applyTruncation(ctx, turns)
}

func (m *ContextManager) applyTruncation(ctx context.Context, turns []Turn) []Turn {
	for _, t := range turns {
		if t.HasThinking() {
			return m.truncateAtPromptBoundary(ctx, turns)
		}
	}
	return m.truncateHeadTail(ctx, turns)
}

// truncateAtPromptBoundary cuts only before the last user prompt, so
// thinking-block ordering and tool pairing inside the live exchange are
// untouched.
func (m *ContextManager) truncateAtPromptBoundary(ctx context.Context, turns []Turn) []Turn {
	lastPrompt := len(turns) - 1
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].HasTextPrompt() {
			lastPrompt = i
			break
		}
	}
	if lastPrompt <= m.keepFirst {
		return turns
	}

	targetSize := min(m.maxSize, len(turns)) / 2
	cut := min(lastPrompt, m.keepFirst+targetSize)
	// Land the cut on a prompt turn so no tool call is summarized away
	// from its result.
	for cut < lastPrompt && !turns[cut].HasTextPrompt() {
		cut++
	}
	toSummarize := turns[m.keepFirst:cut]
	if len(toSummarize) <= 1 {
		slog.Info("nothing to summarize, keeping history as is", "turns", len(turns))
		return turns
	}

	summary := m.generateSummary(ctx, toSummarize, "")

	condensed := make([]Turn, 0, m.keepFirst+1+len(turns)-cut)
	condensed = append(condensed, turns[:m.keepFirst]...)
	condensed = append(condensed, Turn{TextResult{Text: summaryPrefix + summary}})
	condensed = append(condensed, turns[cut:]...)

	slog.Info("condensed history at prompt boundary",
		"before", len(turns), "after", len(condensed), "summarized", len(toSummarize))
	return condensed
}

// truncateHeadTail keeps the first keepFirst turns and a tail slice,
// summarizing everything between. A previous summary turn directly after
// the head is folded into the new summarization prompt.
func (m *ContextManager) truncateHeadTail(ctx context.Context, turns []Turn) []Turn {
	targetSize := min(m.maxSize, len(turns)) / 2
	eventsFromTail := targetSize - m.keepFirst - 1

	prevSummary := ""
	summaryStart := m.keepFirst
	if len(turns) > m.keepFirst && len(turns[m.keepFirst]) > 0 {
		if text, ok := blockText(turns[m.keepFirst][0]); ok && strings.HasPrefix(text, strings.TrimSpace(summaryPrefix)) {
			prevSummary = strings.TrimPrefix(text, summaryPrefix)
			summaryStart = m.keepFirst + 1
		}
	}

	cut := len(turns)
	if eventsFromTail > 0 {
		cut = len(turns) - eventsFromTail
	}
	if cut < summaryStart {
		cut = summaryStart
	}
	// Widen the cut so the tail never starts with a tool result whose
	// call would be forgotten.
	for cut > summaryStart && tailSplitsToolPair(turns, cut) {
		cut--
	}

	forgotten := turns[summaryStart:cut]
	if len(forgotten) == 0 {
		return turns
	}

	summary := m.generateSummary(ctx, forgotten, prevSummary)

	condensed := make([]Turn, 0, m.keepFirst+1+len(turns)-cut)
	condensed = append(condensed, turns[:m.keepFirst]...)
	condensed = append(condensed, Turn{TextResult{Text: summaryPrefix + summary}})
	condensed = append(condensed, turns[cut:]...)

	slog.Info("condensed history head-tail",
		"before", len(turns), "after", len(condensed), "summarized", len(forgotten))
	return condensed
}

// tailSplitsToolPair reports whether cutting before turns[cut] would
// separate a tool result in the tail from its call in the forgotten range.
func tailSplitsToolPair(turns []Turn, cut int) bool {
	callsInTail := make(map[string]bool)
	for i := cut; i < len(turns); i++ {
		for _, b := range turns[i] {
			if tc, ok := b.(ToolCall); ok {
				callsInTail[tc.ID] = true
			}
		}
	}
	for i := cut; i < len(turns); i++ {
		for _, b := range turns[i] {
			if tr, ok := b.(ToolResult); ok && !callsInTail[tr.ID] {
				return true
			}
		}
	}
	return false
}

// Compact summarizes the entire history into one seed text for a fresh
// synthetic user turn. Fails cleanly on an empty history.
func (m *ContextManager) Compact(ctx context.Context, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", ErrEmptyHistory
	}
	summary := m.generateSummary(ctx, turns, "")
	return compactSeedPrefix + summary, nil
}

const summarizationPrompt = `You are maintaining a context-aware state summary for an interactive agent. You will be given a list of events corresponding to actions taken by the agent, and the most recent previous summary if one exists. Produce a summary with exactly these seven sections:

1. Primary Request & Intent: the user's essential requirements, goals, and clarifications in concise form.
2. Key Technical Concepts: technologies, frameworks, and domain ideas in play.
3. Files & Code Sections: file paths, function signatures, and data structures touched or discussed.
4. Problem Solving: issues encountered, diagnoses, and how they were resolved.
5. Pending Tasks: work that still needs to be done.
6. Current Work: precisely what was in progress when these events end.
7. Optional Next Step: the single most useful next action, if one is clear.

Keep every section concise and relevant; write "None" for sections with nothing to report.

`

func (m *ContextManager) generateSummary(ctx context.Context, forgotten []Turn, previousSummary string) string {
	var sb strings.Builder
	sb.WriteString(summarizationPrompt)
	sb.WriteString("<PREVIOUS SUMMARY>\n")
	sb.WriteString(m.clip(previousSummary))
	sb.WriteString("\n</PREVIOUS SUMMARY>\n\n")
	for i, turn := range forgotten {
		fmt.Fprintf(&sb, "<EVENT id=%d>\n%s\n</EVENT>\n", i, m.clip(turnToString(turn)))
	}
	sb.WriteString("\nNow summarize the events using the rules above.")

	resp, err := m.client.Generate(ctx, GenerateRequest{
		Messages:  []Turn{{TextPrompt{Text: sb.String()}}},
		MaxTokens: SummaryMaxTokens,
	})
	if err != nil {
		slog.Error("summarization failed", "events", len(forgotten), "error", err)
		return fmt.Sprintf("Failed to summarize %d events due to error: %s", len(forgotten), err)
	}

	var summary strings.Builder
	for _, b := range resp.Content {
		if tr, ok := b.(TextResult); ok {
			summary.WriteString(tr.Text)
		}
	}
	slog.Info("generated summary", "events", len(forgotten))
	return summary.String()
}

func (m *ContextManager) clip(s string) string {
	if len(s) <= m.maxEventLen {
		return s
	}
	return s[:m.maxEventLen] + "... [truncated]"
}

func turnToString(turn Turn) string {
	var parts []string
	for _, b := range turn {
		switch v := b.(type) {
		case TextPrompt:
			parts = append(parts, "USER: "+v.Text)
		case TextResult:
			parts = append(parts, "ASSISTANT: "+v.Text)
		case Thinking:
			parts = append(parts, "ASSISTANT: "+v.Thinking)
		case RedactedThinking:
			// opaque, nothing to summarize
		case ToolCall:
			input, _ := json.Marshal(v.Input)
			parts = append(parts, fmt.Sprintf("TOOL_CALL: %s %s", v.Name, input))
		case ToolResult:
			parts = append(parts, "TOOL_RESULT: "+v.Output)
		}
	}
	return strings.Join(parts, "\n")
}

func blockText(b ContentBlock) (string, bool) {
	switch v := b.(type) {
	case TextPrompt:
		return v.Text, true
	case TextResult:
		return v.Text, true
	}
	return "", false
}
