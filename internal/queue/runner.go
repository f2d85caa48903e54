// Package queue owns the lifecycle of outbound call jobs: it enqueues a
// batch of leads, dispatches them one at a time, advances on completion
// webhooks and recovers jobs that stall.
//
// Every mutation of a job goes through Runner.commit, a compare-and-swap on
// (status, current_index, current_conversation_id). A writer that loses the
// swap backs off; whoever won has already moved the job on.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dialq/internal/config"
	"github.com/kiranshivaraju/dialq/internal/store"
	"github.com/kiranshivaraju/dialq/internal/voice"
	"github.com/kiranshivaraju/dialq/pkg/models"
)

// maxCancelAttempts bounds how often Cancel reloads a job that keeps
// advancing underneath it.
const maxCancelAttempts = 5

// Dispatcher places a single call for a single lead.
type Dispatcher interface {
	// Ready returns voice.ErrUnauthenticated if ownerID cannot dial.
	Ready(ctx context.Context, ownerID uuid.UUID) error
	Dispatch(ctx context.Context, ownerID uuid.UUID, lead models.Lead) (string, error)
}

// OutcomeStash parks completions whose conversation id is not yet recorded
// on any job.
type OutcomeStash interface {
	StashOutcome(ctx context.Context, conversationID string, payload []byte, ttl time.Duration) error
	TakeOutcome(ctx context.Context, conversationID string) ([]byte, bool, error)
}

// Runner drives queue jobs through their lifecycle.
type Runner struct {
	jobs       store.JobStore
	dispatcher Dispatcher
	stash      OutcomeStash
	maxLeads   int
	stashTTL   time.Duration
	now        func() time.Time
}

// NewRunner creates a new Runner.
func NewRunner(jobs store.JobStore, dispatcher Dispatcher, stash OutcomeStash, cfg config.QueueConfig) *Runner {
	return &Runner{
		jobs:       jobs,
		dispatcher: dispatcher,
		stash:      stash,
		maxLeads:   cfg.MaxLeads,
		stashTTL:   cfg.OutcomeStashTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ListFilter narrows ListJobs.
type ListFilter struct {
	Status models.JobStatus
	Page   int
	Limit  int
}

// Enqueue validates leads, persists a new job and dispatches the first lead
// before returning. Once the job row exists Enqueue does not fail: dispatch
// problems are recorded on the job and seen by polling.
func (r *Runner) Enqueue(ctx context.Context, ownerID uuid.UUID, leads []models.Lead) (*models.QueueJob, error) {
	if ownerID == uuid.Nil {
		return nil, ErrUnauthorized
	}

	snapshot, err := normalizeLeads(leads, r.maxLeads)
	if err != nil {
		return nil, err
	}

	if err := r.dispatcher.Ready(ctx, ownerID); err != nil {
		if errors.Is(err, voice.ErrUnauthenticated) {
			return nil, ErrProviderNotConfigured
		}
		return nil, fmt.Errorf("checking agent config: %w", err)
	}

	now := r.now()
	job := &models.QueueJob{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Status:     models.JobStatusQueued,
		Leads:      snapshot,
		TotalLeads: len(snapshot),
		Results:    []models.LeadResult{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	slog.Info("job enqueued", "job_id", job.ID, "owner_id", ownerID, "total_leads", job.TotalLeads)

	// The request may end before the first call is placed; the job must not.
	current, err := r.start(context.WithoutCancel(ctx), job)
	if err != nil {
		slog.Error("starting job", "job_id", job.ID, "error", err)
	}
	return current, nil
}

// start moves a queued job to running and dispatches its first lead.
func (r *Runner) start(ctx context.Context, job *models.QueueJob) (*models.QueueJob, error) {
	next := started(job, r.now())
	ok, err := r.commit(ctx, job, next)
	if err != nil {
		return job, err
	}
	if !ok {
		return r.reload(ctx, job)
	}
	slog.Info("job started", "job_id", job.ID, "owner_id", job.OwnerID)
	return r.drive(ctx, next)
}

// drive dispatches leads until one is waiting on its webhook, the job is
// terminal, or another writer has taken over. Rejected leads advance in
// this loop rather than by recursion.
func (r *Runner) drive(ctx context.Context, job *models.QueueJob) (*models.QueueJob, error) {
	for job.Status == models.JobStatusRunning && !job.InFlight() && job.CurrentIndex < job.TotalLeads {
		next, ok, err := r.dispatchCurrent(ctx, job)
		if err != nil {
			return job, err
		}
		if !ok {
			return r.reload(ctx, job)
		}
		job = next
	}
	return job, nil
}

// dispatchCurrent attempts leads[current_index] once and commits the result.
func (r *Runner) dispatchCurrent(ctx context.Context, job *models.QueueJob) (*models.QueueJob, bool, error) {
	index := job.CurrentIndex
	convID, dispatchErr := r.dispatcher.Dispatch(ctx, job.OwnerID, job.Leads[index])

	now := r.now()
	var next *models.QueueJob
	switch {
	case dispatchErr == nil:
		next = dispatched(job, convID, now)
	case errors.Is(dispatchErr, voice.ErrProviderRejected):
		slog.Warn("lead rejected by provider", "job_id", job.ID, "index", index, "error", dispatchErr)
		next = rejected(job, dispatchErr.Error(), now)
	case errors.Is(dispatchErr, voice.ErrProviderUnavailable), errors.Is(dispatchErr, voice.ErrUnauthenticated):
		slog.Error("dispatch failed, aborting job", "job_id", job.ID, "owner_id", job.OwnerID, "index", index, "error", dispatchErr)
		next = aborted(job, dispatchErr, now)
	default:
		// Not a provider verdict. Leave the lead pending for the watchdog.
		return job, false, fmt.Errorf("dispatching lead %d: %w", index, dispatchErr)
	}

	ok, err := r.commit(ctx, job, next)
	if err != nil || !ok {
		if dispatchErr == nil {
			slog.Warn("placed call could not be recorded", "job_id", job.ID, "index", index, "conversation_id", convID, "error", err)
		}
		return job, ok, err
	}

	if dispatchErr != nil {
		return next, true, nil
	}

	slog.Info("call dispatched", "job_id", job.ID, "index", index, "conversation_id", convID)
	return r.applyStashed(ctx, next)
}

// applyStashed consumes a completion that arrived before the conversation
// id was recorded.
func (r *Runner) applyStashed(ctx context.Context, job *models.QueueJob) (*models.QueueJob, bool, error) {
	payload, found, err := r.stash.TakeOutcome(ctx, job.CurrentConversationID)
	if err != nil {
		slog.Warn("checking early completion", "job_id", job.ID, "conversation_id", job.CurrentConversationID, "error", err)
		return job, true, nil
	}
	if !found {
		return job, true, nil
	}

	var c Completion
	if err := json.Unmarshal(payload, &c); err != nil {
		slog.Warn("discarding malformed early completion", "conversation_id", job.CurrentConversationID, "error", err)
		return job, true, nil
	}

	slog.Info("applying early completion", "job_id", job.ID, "conversation_id", job.CurrentConversationID, "outcome", c.Outcome)
	next := recorded(job, c.Outcome, c.Detail, r.now())
	ok, err := r.commit(ctx, job, next)
	if err != nil || !ok {
		return job, ok, err
	}
	return next, true, nil
}

// advance records the outcome of the call conversationID and moves on to
// the next lead. It reports false when the job no longer waits on that call.
func (r *Runner) advance(ctx context.Context, job *models.QueueJob, conversationID string, outcome models.Outcome, detail string) (bool, error) {
	if job.Status != models.JobStatusRunning || conversationID == "" || job.CurrentConversationID != conversationID {
		return false, nil
	}

	next := recorded(job, outcome, detail, r.now())
	ok, err := r.commit(ctx, job, next)
	if err != nil || !ok {
		return false, err
	}

	slog.Info("lead finished",
		"job_id", job.ID,
		"index", job.CurrentIndex,
		"conversation_id", conversationID,
		"outcome", outcome,
	)
	if next.Status == models.JobStatusCompleted {
		slog.Info("job completed", "job_id", job.ID, "completed", next.Completed, "failed", next.Failed)
		return true, nil
	}

	if _, err := r.drive(ctx, next); err != nil {
		slog.Error("dispatching next lead", "job_id", job.ID, "index", next.CurrentIndex, "error", err)
	}
	return true, nil
}

// Cancel stops a queued or running job owned by ownerID.
func (r *Runner) Cancel(ctx context.Context, ownerID, jobID uuid.UUID) (*models.QueueJob, error) {
	if ownerID == uuid.Nil {
		return nil, ErrUnauthorized
	}

	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		job, err := r.load(ctx, ownerID, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return nil, fmt.Errorf("%w: job is already %s", ErrInvalidTransition, job.Status)
		}

		next := cancelled(job, r.now())
		ok, err := r.commit(ctx, job, next)
		if err != nil {
			return nil, err
		}
		if ok {
			slog.Info("job cancelled", "job_id", jobID, "owner_id", ownerID, "abandoned", next.Abandoned)
			return next, nil
		}
	}
	return nil, fmt.Errorf("cancelling job %s: still advancing after %d attempts", jobID, maxCancelAttempts)
}

// GetStatus returns the job if ownerID owns it. A missing job and a job
// owned by someone else both yield ErrNotFound.
func (r *Runner) GetStatus(ctx context.Context, ownerID, jobID uuid.UUID) (*models.QueueJob, error) {
	if ownerID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	return r.load(ctx, ownerID, jobID)
}

// ListJobs returns ownerID's jobs, newest first, and the total match count.
func (r *Runner) ListJobs(ctx context.Context, ownerID uuid.UUID, filter ListFilter) ([]*models.QueueJob, int, error) {
	if ownerID == uuid.Nil {
		return nil, 0, ErrUnauthorized
	}
	if filter.Status != "" && !knownStatus(filter.Status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}

	jobs, total, err := r.jobs.ListJobsByOwner(ctx, store.JobFilter{
		OwnerID: ownerID,
		Status:  filter.Status,
		Page:    filter.Page,
		Limit:   filter.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, total, nil
}

// commit writes next over job if job is still the stored version. It
// reports false when another writer got there first.
func (r *Runner) commit(ctx context.Context, job, next *models.QueueJob) (bool, error) {
	if err := checkTransition(job.Status, next.Status); err != nil {
		return false, err
	}
	ok, err := r.jobs.CompareAndAdvance(ctx, job.ID, store.VersionOf(job), next)
	if err != nil {
		return false, fmt.Errorf("committing job %s: %w", job.ID, err)
	}
	if !ok {
		slog.Info("job changed concurrently, backing off",
			"job_id", job.ID,
			"index", job.CurrentIndex,
			"conversation_id", job.CurrentConversationID,
		)
	}
	return ok, nil
}

func (r *Runner) load(ctx context.Context, ownerID, jobID uuid.UUID) (*models.QueueJob, error) {
	job, err := r.jobs.GetJob(ctx, jobID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	return job, nil
}

// reload fetches the stored version of job after a lost compare-and-swap.
func (r *Runner) reload(ctx context.Context, job *models.QueueJob) (*models.QueueJob, error) {
	current, err := r.jobs.GetJobByID(ctx, job.ID)
	if err != nil {
		return job, fmt.Errorf("reloading job: %w", err)
	}
	return current, nil
}

func knownStatus(s models.JobStatus) bool {
	switch s {
	case models.JobStatusQueued, models.JobStatusRunning, models.JobStatusCompleted,
		models.JobStatusFailed, models.JobStatusCancelled:
		return true
	}
	return false
}
