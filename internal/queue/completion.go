package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/dialq/internal/store"
	"github.com/kiranshivaraju/dialq/pkg/models"
)

// Completion is a provider's report that a conversation ended.
type Completion struct {
	ConversationID string         `json:"conversation_id"`
	Outcome        models.Outcome `json:"outcome"`
	Detail         string         `json:"detail,omitempty"`
}

// CompletionResult tells the webhook caller what a delivery did.
type CompletionResult string

const (
	CompletionIgnored  CompletionResult = "ignored"
	CompletionAdvanced CompletionResult = "advanced"
)

// HandleCompletion advances the running job waiting on c.ConversationID.
// Stale and duplicate deliveries are ignored. A delivery that beats the
// dispatch step to recording its conversation id is stashed and applied by
// the dispatch step.
func (r *Runner) HandleCompletion(ctx context.Context, c Completion) (CompletionResult, error) {
	if c.ConversationID == "" {
		return "", fmt.Errorf("%w: conversation_id is required", ErrInvalidInput)
	}
	if c.Outcome != models.OutcomeCompleted && c.Outcome != models.OutcomeFailed {
		return "", fmt.Errorf("%w: unsupported outcome %q", ErrInvalidInput, c.Outcome)
	}

	ctx = context.WithoutCancel(ctx)

	job, err := r.jobs.FindJobByConversation(ctx, c.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		job, err = r.stashEarly(ctx, c)
		if err != nil {
			return "", err
		}
		if job == nil {
			return CompletionIgnored, nil
		}
	} else if err != nil {
		return "", fmt.Errorf("finding job for conversation: %w", err)
	}

	advanced, err := r.advance(ctx, job, c.ConversationID, c.Outcome, c.Detail)
	if err != nil {
		return "", err
	}
	if !advanced {
		slog.Info("stale completion ignored", "job_id", job.ID, "conversation_id", c.ConversationID)
		return CompletionIgnored, nil
	}
	return CompletionAdvanced, nil
}

// stashEarly parks c for the dispatch step, then looks again in case the
// id was recorded meanwhile. It returns the job only if this delivery
// reclaimed its own stash and must advance it.
func (r *Runner) stashEarly(ctx context.Context, c Completion) (*models.QueueJob, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding completion: %w", err)
	}
	// An unstashed outcome would be lost, so the provider must redeliver.
	if err := r.stash.StashOutcome(ctx, c.ConversationID, payload, r.stashTTL); err != nil {
		return nil, fmt.Errorf("stashing early completion: %w", err)
	}

	job, err := r.jobs.FindJobByConversation(ctx, c.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("completion for unknown conversation stashed", "conversation_id", c.ConversationID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding job for conversation: %w", err)
	}

	// Whoever takes the stash applies it.
	if _, found, err := r.stash.TakeOutcome(ctx, c.ConversationID); err != nil || !found {
		return nil, err
	}
	return job, nil
}
