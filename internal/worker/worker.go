// Package worker runs the single sequential job consumer.
//
// Exactly one generation call is in flight at any time: the underlying
// compute resource cannot be time-sliced. Concurrency lives in the queue and
// the state layer, never here.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Jdubz/imagineer/internal/domain"
	"github.com/Jdubz/imagineer/internal/generate"
	"github.com/Jdubz/imagineer/internal/metrics"
	"github.com/Jdubz/imagineer/internal/queue"
	"github.com/Jdubz/imagineer/internal/runtrack"
)

// Worker drains the queue one job at a time.
type Worker struct {
	queue     *queue.Queue
	jobs      domain.JobRepository
	tracker   *runtrack.Tracker
	generator generate.Generator
	history   *History
	logger    zerolog.Logger
	errMax    int
}

// New creates a worker. errMax bounds the length of stored error messages.
func New(q *queue.Queue, jobs domain.JobRepository, tracker *runtrack.Tracker, generator generate.Generator, history *History, logger zerolog.Logger, errMax int) *Worker {
	return &Worker{
		queue:     q,
		jobs:      jobs,
		tracker:   tracker,
		generator: generator,
		history:   history,
		logger:    logger,
		errMax:    errMax,
	}
}

// Run consumes jobs until the context is cancelled or the queue closes. A
// single job's failure never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("worker: started")
	for {
		jobID, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrShuttingDown) || errors.Is(err, context.Canceled) {
				w.logger.Info().Msg("worker: stopping")
				return err
			}
			return err
		}
		metrics.QueueDepth.Set(float64(w.queue.Len()))

		w.process(ctx, jobID)
	}
}

func (w *Worker) process(ctx context.Context, jobID uuid.UUID) {
	job, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("worker: failed to load claimed job")
		return
	}

	// The job may have been cancelled between enqueue and claim; skip it
	// without touching the generator.
	if job.Status != domain.JobStatusQueued {
		w.logger.Debug().Str("job_id", jobID.String()).Str("status", string(job.Status)).Msg("worker: skipping non-queued job")
		return
	}

	started := time.Now().UTC()
	if err := w.jobs.MarkRunning(ctx, jobID, started); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			// Lost the race against a concurrent cancellation.
			w.logger.Debug().Str("job_id", jobID.String()).Msg("worker: job cancelled at claim time")
			return
		}
		w.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("worker: failed to mark job running")
		return
	}
	job.Status = domain.JobStatusRunning
	job.StartedAt = &started
	w.logger.Info().Str("job_id", jobID.String()).Msg("worker: processing job")

	outputRef, genErr := w.generator.Generate(ctx, jobID, job.Params)

	completed := time.Now().UTC()
	elapsed := completed.Sub(started)
	metrics.JobDuration.Observe(elapsed.Seconds())

	status := domain.JobStatusCompleted
	errMsg := ""
	if genErr != nil {
		status = domain.JobStatusFailed
		outputRef = ""
		errMsg = truncate(genErr.Error(), w.errMax)
		metrics.JobsFailed.Inc()
		metrics.GenerationErrors.Inc()
		w.logger.Error().Err(genErr).Str("job_id", jobID.String()).Dur("duration", elapsed).Msg("worker: job failed")
	} else {
		metrics.JobsCompleted.Inc()
		w.logger.Info().Str("job_id", jobID.String()).Str("output_ref", outputRef).Dur("duration", elapsed).Msg("worker: job completed")
	}

	// The outcome must land even when the worker context is cancelled
	// mid-job (shutdown right after generation finished).
	persistCtx := context.WithoutCancel(ctx)
	if err := w.jobs.Finish(persistCtx, jobID, status, outputRef, errMsg, completed, elapsed); err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("worker: failed to persist job outcome")
		return
	}

	// Run accounting happens strictly after the job write is durable.
	if job.RunID != nil {
		if err := w.tracker.RecordOutcome(persistCtx, *job.RunID, genErr == nil); err != nil {
			w.logger.Error().Err(err).Str("run_id", job.RunID.String()).Msg("worker: failed to record run outcome")
		}
	}

	job.Status = status
	job.OutputRef = outputRef
	job.ErrorMessage = errMsg
	job.CompletedAt = &completed
	ms := elapsed.Milliseconds()
	job.DurationMS = &ms
	w.history.Add(*job)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
