package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/dialq/internal/config"
	"github.com/kiranshivaraju/dialq/internal/voice"
	"github.com/kiranshivaraju/dialq/pkg/models"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// sweepBatch caps how many stalled jobs one sweep picks up.
const sweepBatch = 100

// Watchdog periodically recovers jobs that stopped making progress: a call
// whose webhook never arrived, or a process that died between steps.
type Watchdog struct {
	runner       *Runner
	schedule     string
	stallTimeout time.Duration
	concurrency  int
	cron         *cron.Cron
}

// NewWatchdog creates a Watchdog over the runner's jobs.
func NewWatchdog(runner *Runner, cfg config.QueueConfig) *Watchdog {
	return &Watchdog{
		runner:       runner,
		schedule:     cfg.WatchdogSchedule,
		stallTimeout: cfg.StallTimeout,
		concurrency:  cfg.WatchdogConcurrency,
		cron:         cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start registers the sweep and starts the scheduler.
func (w *Watchdog) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		n, err := w.Sweep(ctx)
		if err != nil {
			slog.Warn("watchdog sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("watchdog recovered stalled jobs", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid watchdog schedule %q: %w", w.schedule, err)
	}
	w.cron.Start()
	slog.Info("watchdog started", "schedule", w.schedule, "stall_timeout", w.stallTimeout)
	return nil
}

// Stop stops scheduling sweeps and waits for a running sweep to finish.
func (w *Watchdog) Stop() {
	<-w.cron.Stop().Done()
	slog.Info("watchdog stopped")
}

// Sweep recovers every job untouched for longer than the stall timeout and
// returns how many it acted on.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	cutoff := w.runner.now().Add(-w.stallTimeout)
	jobs, err := w.runner.jobs.ListStalledJobs(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("listing stalled jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if w.concurrency > 0 {
		g.SetLimit(w.concurrency)
	}

	recovered := make([]bool, len(jobs))
	for i, job := range jobs {
		g.Go(func() error {
			ok, err := w.resume(gctx, job)
			if err != nil {
				// one bad job must not stop the sweep
				slog.Warn("recovering stalled job", "job_id", job.ID, "status", job.Status, "error", err)
				return nil
			}
			recovered[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, ok := range recovered {
		if ok {
			n++
		}
	}
	return n, nil
}

// resume moves one stalled job forward.
func (w *Watchdog) resume(ctx context.Context, job *models.QueueJob) (bool, error) {
	r := w.runner

	switch {
	case job.Status == models.JobStatusQueued:
		if err := r.dispatcher.Ready(ctx, job.OwnerID); errors.Is(err, voice.ErrUnauthenticated) {
			ok, err := r.commit(ctx, job, aborted(job, err, r.now()))
			return ok, err
		} else if err != nil {
			// Retried on the next sweep.
			return false, fmt.Errorf("checking agent config: %w", err)
		}
		slog.Info("watchdog starting queued job", "job_id", job.ID)
		_, err := r.start(ctx, job)
		return true, err

	case job.InFlight():
		detail := fmt.Sprintf("no completion received within %s", w.stallTimeout)
		slog.Warn("watchdog timing out call", "job_id", job.ID, "index", job.CurrentIndex, "conversation_id", job.CurrentConversationID)
		return r.advance(ctx, job, job.CurrentConversationID, models.OutcomeTimedOut, detail)

	default:
		slog.Info("watchdog resuming job", "job_id", job.ID, "index", job.CurrentIndex)
		_, err := r.drive(ctx, job)
		return true, err
	}
}
