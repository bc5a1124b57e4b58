package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/paulpham157/ii-agent/internal/bus"
	"github.com/paulpham157/ii-agent/internal/llm"
	"github.com/paulpham157/ii-agent/internal/tools"
)

// Reviewer is the optional second agent that critiques the primary
// agent's final answer. Same loop, different system prompt, and a
// termination tool that hands control back to the general agent.
type Reviewer struct {
	inner *Agent
}

// ReviewerConfig assembles a Reviewer.
type ReviewerConfig struct {
	Client          llm.Client
	Tools           *tools.Registry
	ContextManager  *llm.ContextManager
	Queue           *bus.Queue
	SessionID       uuid.UUID
	MaxTurns        int
	MaxOutputTokens int
}

// NewReviewer builds the reviewer agent.
func NewReviewer(cfg ReviewerConfig) *Reviewer {
	return &Reviewer{
		inner: New(Config{
			SystemPrompt:    ReviewerSystemPrompt,
			Client:          cfg.Client,
			Tools:           cfg.Tools,
			TerminationTool: tools.ReturnControlToGeneralAgentName,
			ContextManager:  cfg.ContextManager,
			History:         llm.NewMessageHistory(),
			Queue:           cfg.Queue,
			SessionID:       cfg.SessionID,
			MaxTurns:        cfg.MaxTurns,
			MaxOutputTokens: cfg.MaxOutputTokens,
		}),
	}
}

// Cancel requests a cooperative stop of the review.
func (r *Reviewer) Cancel() { r.inner.Cancel() }

// Review runs the reviewer over the agent's result and returns written
// feedback for the general agent.
func (r *Reviewer) Review(ctx context.Context, task, result, workspaceDir string) (string, error) {
	r.inner.ResetCancel()
	r.inner.history.Clear()
	r.inner.history.AddUserPrompt(BuildReviewInstruction(task, result, workspaceDir))

	if _, err := r.inner.runLoop(ctx); err != nil {
		return "", fmt.Errorf("reviewer loop: %w", err)
	}

	// One more pass: turn the hands-on review into written feedback.
	r.inner.history.AddUserPrompt(reviewSummaryPrompt)
	turns := r.inner.history.Turns()
	if r.inner.contextMgr != nil {
		turns = r.inner.contextMgr.ApplyTruncationIfNeeded(ctx, turns)
		r.inner.history.SetTurns(turns)
	}

	resp, err := r.inner.generate(ctx, turns)
	if err != nil {
		return "", fmt.Errorf("reviewer summary: %w", err)
	}
	feedback := joinTextResults(resp.Content)
	if strings.TrimSpace(feedback) == "" {
		return "", fmt.Errorf("reviewer did not provide text feedback")
	}
	r.inner.history.AddAssistantTurn(resp.Content)
	return feedback, nil
}
