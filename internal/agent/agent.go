package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/paulpham157/ii-agent/internal/bus"
	"github.com/paulpham157/ii-agent/internal/llm"
	"github.com/paulpham157/ii-agent/internal/tools"
	"github.com/paulpham157/ii-agent/pkg/protocol"
)

// ErrMaxTurns is returned when the loop exhausts its turn bound without
// terminating.
var ErrMaxTurns = errors.New("max turns reached")

// ErrCancelled is returned when a cooperative cancel stops the run.
var ErrCancelled = errors.New("query cancelled")

const interruptedResult = "interrupted"

// Agent drives the bounded tool-use loop: build prompt, call the model,
// dispatch at most one tool, append the result, repeat until a final
// answer or the termination tool.
type Agent struct {
	systemPrompt    string
	client          llm.Client
	tools           *tools.Registry
	terminationTool string
	contextMgr      *llm.ContextManager
	history         *llm.MessageHistory
	queue           *bus.Queue
	sessionID       uuid.UUID
	maxTurns        int
	maxOutputTokens int

	cancelled atomic.Bool
	tracer    trace.Tracer

	// toolParams caches the validated catalog for the agent's lifetime.
	toolParams []llm.ToolParam
}

// Config assembles an Agent.
type Config struct {
	SystemPrompt    string
	Client          llm.Client
	Tools           *tools.Registry
	TerminationTool string // defaults to return_control_to_user
	ContextManager  *llm.ContextManager
	History         *llm.MessageHistory
	Queue           *bus.Queue
	SessionID       uuid.UUID
	MaxTurns        int
	MaxOutputTokens int
}

// New builds an agent. Tool names were validated unique at registry
// construction; the rendered catalog is cached here.
func New(cfg Config) *Agent {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 200
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 8192
	}
	if cfg.TerminationTool == "" {
		cfg.TerminationTool = tools.ReturnControlToUserName
	}
	if cfg.History == nil {
		cfg.History = llm.NewMessageHistory()
	}
	return &Agent{
		systemPrompt:    cfg.SystemPrompt,
		client:          cfg.Client,
		tools:           cfg.Tools,
		terminationTool: cfg.TerminationTool,
		contextMgr:      cfg.ContextManager,
		history:         cfg.History,
		queue:           cfg.Queue,
		sessionID:       cfg.SessionID,
		maxTurns:        cfg.MaxTurns,
		maxOutputTokens: cfg.MaxOutputTokens,
		tracer:          otel.Tracer("ii-agent/agent"),
		toolParams:      cfg.Tools.Params(),
	}
}

// History exposes the agent's canonical message log.
func (a *Agent) History() *llm.MessageHistory { return a.history }

// Cancel requests a cooperative stop. The loop observes it at each
// suspension point.
func (a *Agent) Cancel() { a.cancelled.Store(true) }

// Cancelled reports whether a cancel has been requested.
func (a *Agent) Cancelled() bool { return a.cancelled.Load() }

// ResetCancel clears the flag before a new run.
func (a *Agent) ResetCancel() { a.cancelled.Store(false) }

func (a *Agent) emit(kind string, content map[string]any) {
	if a.queue != nil {
		a.queue.Push(bus.New(a.sessionID, kind, content))
	}
}

// Run executes one query through the loop and returns the final answer.
func (a *Agent) Run(ctx context.Context, text string, files []string, resume bool) (string, error) {
	if !resume {
		a.history.AddUserPrompt(composeUserText(text, files))
	}
	return a.runLoop(ctx)
}

func (a *Agent) runLoop(ctx context.Context) (string, error) {
	for turn := 1; turn <= a.maxTurns; turn++ {
		// Keep the history inside the context budget before each call.
		turns := a.history.Turns()
		if a.contextMgr != nil && a.contextMgr.ShouldTruncate(turns) {
			a.history.SetTurns(a.contextMgr.ApplyTruncationIfNeeded(ctx, turns))
			turns = a.history.Turns()
		}

		// Suspension point: before the LLM call.
		if a.cancelled.Load() {
			a.resolveInterrupted()
			return "", ErrCancelled
		}

		resp, err := a.generate(ctx, turns)
		if err != nil {
			if ctx.Err() != nil || a.cancelled.Load() {
				a.resolveInterrupted()
				return "", ErrCancelled
			}
			return "", fmt.Errorf("LLM call failed (turn %d): %w", turn, err)
		}

		content := resp.Content
		if len(content) == 0 {
			content = llm.Turn{llm.TextResult{Text: "No response from model"}}
		}
		a.history.AddAssistantTurn(content)
		a.emitAssistantBlocks(content)

		pending := a.history.PendingToolCalls()

		// One tool call per turn is the contract; a violation fails the
		// turn recoverably and the loop retries.
		if len(pending) > 1 {
			slog.Warn("model emitted multiple tool calls in one turn", "count", len(pending))
			for _, tc := range pending {
				a.history.AddToolCallResult(tc,
					"Error: only one tool call per turn is supported. Please retry with a single tool call.")
			}
			a.emit(protocol.EventSystem, map[string]any{
				"message": fmt.Sprintf("Model emitted %d tool calls in one turn; retrying", len(pending)),
			})
			continue
		}

		if len(pending) == 0 {
			answer := joinTextResults(content)
			a.emit(protocol.EventAgentResponse, map[string]any{"text": answer})
			return answer, nil
		}

		tc := pending[0]
		a.emit(protocol.EventToolCall, map[string]any{
			"tool_call_id": tc.ID,
			"tool_name":    tc.Name,
			"tool_input":   tc.Input,
		})

		// Suspension point: before tool dispatch.
		if a.cancelled.Load() {
			a.history.AddToolCallResult(tc, interruptedResult)
			return "", ErrCancelled
		}

		output := a.dispatch(ctx, tc)
		a.history.AddToolCallResult(tc, output)
		a.emit(protocol.EventToolResult, map[string]any{
			"tool_call_id": tc.ID,
			"tool_name":    tc.Name,
			"result":       output,
		})

		if tc.Name == a.terminationTool {
			a.emit(protocol.EventAgentResponse, map[string]any{"text": output})
			return output, nil
		}

		// Suspension point: after the tool result is appended.
		if a.cancelled.Load() {
			return "", ErrCancelled
		}
	}

	return "", ErrMaxTurns
}

func (a *Agent) generate(ctx context.Context, turns []llm.Turn) (*llm.GenerateResponse, error) {
	spanCtx, span := a.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("model", a.client.ModelName()),
		attribute.Int("history.turns", len(turns)),
	))
	defer span.End()

	resp, err := a.client.Generate(spanCtx, llm.GenerateRequest{
		Messages:     turns,
		SystemPrompt: a.systemPrompt,
		Tools:        a.toolParams,
		MaxTokens:    a.maxOutputTokens,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("usage.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

// dispatch runs one tool. Expected failures come back in the output
// string; infrastructure errors are folded in too, so the loop continues
// and the model can react.
func (a *Agent) dispatch(ctx context.Context, tc llm.ToolCall) string {
	tool, ok := a.tools.Get(tc.Name)
	if !ok {
		return fmt.Sprintf("Tool not found: %s", tc.Name)
	}

	spanCtx, span := a.tracer.Start(ctx, "tool.exec", trace.WithAttributes(
		attribute.String("tool.name", tc.Name),
	))
	defer span.End()

	slog.Info("tool call", "session", a.sessionID, "tool", tc.Name)
	output, err := tool.Run(spanCtx, tools.Context{
		SessionID: a.sessionID,
		Queue:     a.queue,
		History:   a.history,
	}, tc.Input)
	if err != nil {
		span.RecordError(err)
		slog.Warn("tool failed", "session", a.sessionID, "tool", tc.Name, "error", err)
		return fmt.Sprintf("Error executing tool %s: %s", tc.Name, err)
	}
	return output
}

// resolveInterrupted appends a synthetic result for any pending tool
// call so the committed history never carries an orphan.
func (a *Agent) resolveInterrupted() {
	for _, tc := range a.history.PendingToolCalls() {
		a.history.AddToolCallResult(tc, interruptedResult)
	}
}

func (a *Agent) emitAssistantBlocks(turn llm.Turn) {
	for _, b := range turn {
		switch v := b.(type) {
		case llm.Thinking:
			a.emit(protocol.EventThinking, map[string]any{"text": v.Thinking})
		case llm.TextResult:
			a.emit(protocol.EventAssistantText, map[string]any{"text": v.Text})
		}
	}
}

func composeUserText(text string, files []string) string {
	if len(files) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nAttached files:\n")
	for _, f := range files {
		b.WriteString("- " + f + "\n")
	}
	return b.String()
}

func joinTextResults(turn llm.Turn) string {
	var parts []string
	for _, b := range turn {
		if tr, ok := b.(llm.TextResult); ok {
			parts = append(parts, tr.Text)
		}
	}
	return strings.Join(parts, "\n")
}
