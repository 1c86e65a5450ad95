package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// JobHandler runs one claimed job. A returned error schedules a retry.
type JobHandler func(ctx context.Context, payload string) error

// JobRunner claims due jobs on a ticker and hands each to the handler
// registered for its kind.
type JobRunner struct {
	repo           JobRepo
	mu             sync.RWMutex
	handlers       map[string]JobHandler
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	now            func() time.Time
}

// NewJobRunner returns a runner polling every pollInterval (10s when unset).
func NewJobRunner(repo JobRepo, pollInterval time.Duration) *JobRunner {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &JobRunner{
		repo:           repo,
		handlers:       make(map[string]JobHandler),
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		now:            time.Now,
	}
}

// RegisterHandler binds a job kind to its handler, replacing any previous one.
func (r *JobRunner) RegisterHandler(kind string, handler JobHandler) {
	r.mu.Lock()
	r.handlers[kind] = handler
	r.mu.Unlock()
	slog.Debug("JobRunner.RegisterHandler", "kind", kind)
}

// RecoverStaleJobs requeues jobs left running by a previous process.
// Call it once before Run.
func (r *JobRunner) RecoverStaleJobs() error {
	n, err := r.repo.RequeueStaleRunningJobs(r.now().Add(-r.staleThreshold))
	if err != nil {
		return fmt.Errorf("recover stale jobs failed: %w", err)
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverStaleJobs: requeued", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (r *JobRunner) Run(ctx context.Context) {
	slog.Info("JobRunner.Run: started", "pollInterval", r.pollInterval)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("JobRunner.Run: stopped")
			return
		case <-ticker.C:
			r.runDue(ctx)
		}
	}
}

// jobBackoff doubles from 30s per failed attempt.
func jobBackoff(attempt int) time.Duration {
	return time.Duration(30*(1<<attempt)) * time.Second
}

func (r *JobRunner) handlerFor(kind string) (JobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

func (r *JobRunner) runDue(ctx context.Context) {
	now := r.now()
	jobs, err := r.repo.ClaimDueJobs(now, r.claimLimit)
	if err != nil {
		slog.Error("JobRunner.runDue: claim failed", "error", err)
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		handler, ok := r.handlerFor(job.Kind)
		if !ok {
			slog.Warn("JobRunner.runDue: unhandled kind", "kind", job.Kind, "id", job.ID)
			if err := r.repo.FailJob(job.ID, "no handler for kind "+job.Kind, now.Add(time.Minute)); err != nil {
				slog.Error("JobRunner.runDue: fail job", "id", job.ID, "error", err)
			}
			continue
		}

		if err := handler(ctx, job.PayloadJSON); err != nil {
			slog.Warn("JobRunner.runDue: job failed", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", err)
			if err := r.repo.FailJob(job.ID, err.Error(), now.Add(jobBackoff(job.Attempt))); err != nil {
				slog.Error("JobRunner.runDue: fail job", "id", job.ID, "error", err)
			}
			continue
		}
		if err := r.repo.CompleteJob(job.ID); err != nil {
			slog.Error("JobRunner.runDue: complete job", "id", job.ID, "error", err)
			continue
		}
		slog.Debug("JobRunner.runDue: job done", "id", job.ID, "kind", job.Kind)
	}
}
