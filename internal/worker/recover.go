package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jdubz/imagineer/internal/domain"
	"github.com/Jdubz/imagineer/internal/queue"
	"github.com/Jdubz/imagineer/internal/runtrack"
)

// Recover restores queue state after a restart: jobs left Running by a crash
// are failed (generation output is lost with the process), run accounting is
// reconciled against the jobs' terminal statuses, and still-Queued jobs are
// re-enqueued in submission order. Must run before the worker loop starts.
func Recover(ctx context.Context, jobs domain.JobRepository, tracker *runtrack.Tracker, q *queue.Queue, logger zerolog.Logger) error {
	interrupted, err := jobs.ListByStatus(ctx, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("list interrupted jobs: %w", err)
	}
	now := time.Now().UTC()
	for _, job := range interrupted {
		var elapsed time.Duration
		if job.StartedAt != nil {
			elapsed = now.Sub(*job.StartedAt)
		}
		if err := jobs.Finish(ctx, job.ID, domain.JobStatusFailed, "", "interrupted by restart", now, elapsed); err != nil {
			return fmt.Errorf("fail interrupted job %s: %w", job.ID, err)
		}
		logger.Warn().Str("job_id", job.ID.String()).Msg("worker: failed job interrupted by restart")
	}

	// Replays outcomes the previous process never recorded, the interrupted
	// failures above included, and finalizes any run that drained.
	if err := tracker.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile runs: %w", err)
	}

	pending, err := jobs.ListByStatus(ctx, domain.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	for _, job := range pending {
		if _, err := q.Enqueue(job.ID); err != nil {
			return fmt.Errorf("re-enqueue job %s: %w", job.ID, err)
		}
	}
	if len(pending) > 0 || len(interrupted) > 0 {
		logger.Info().Int("requeued", len(pending)).Int("failed", len(interrupted)).Msg("worker: recovered queue state")
	}
	return nil
}
