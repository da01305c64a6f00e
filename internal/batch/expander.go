// Package batch expands a template plus a user theme into a tracked run of
// generation jobs.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Jdubz/imagineer/internal/domain"
	"github.com/Jdubz/imagineer/internal/queue"
)

// Expander turns one batch submission into a run record plus one queued job
// per template row.
type Expander struct {
	templates domain.TemplateRepository
	runs      domain.RunRepository
	queue     *queue.Queue
	logger    zerolog.Logger
}

// New creates an expander.
func New(templates domain.TemplateRepository, runs domain.RunRepository, q *queue.Queue, logger zerolog.Logger) *Expander {
	return &Expander{templates: templates, runs: runs, queue: q, logger: logger}
}

// Expand resolves the template, creates the run and its jobs atomically, and
// enqueues the jobs in row order. It returns as soon as everything is
// queued; no generation happens on this path.
//
// The run reaches Processing before any job can start: the status flip
// happens after the transactional create and before the first enqueue.
func (e *Expander) Expand(ctx context.Context, templateID uuid.UUID, collectionName, userTheme string) (*domain.BatchRun, error) {
	template, err := e.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if len(template.Rows) == 0 {
		return nil, domain.ErrEmptyTemplate
	}

	now := time.Now().UTC()
	run := &domain.BatchRun{
		ID:             uuid.New(),
		TemplateID:     template.ID,
		CollectionName: collectionName,
		UserTheme:      userTheme,
		Status:         domain.RunStatusQueued,
		TotalItems:     len(template.Rows),
		CreatedAt:      now,
	}

	jobs := make([]*domain.Job, 0, len(template.Rows))
	for _, row := range template.Rows {
		jobs = append(jobs, &domain.Job{
			ID:          uuid.New(),
			Status:      domain.JobStatusQueued,
			Params:      template.Params(userTheme, row),
			RunID:       &run.ID,
			SubmittedAt: now,
		})
	}

	// One transaction: a partial failure must not leave a run whose
	// total_items disagrees with the jobs actually created.
	if err := e.runs.CreateWithJobs(ctx, run, jobs); err != nil {
		return nil, fmt.Errorf("create run for template %s: %w", templateID, err)
	}

	if err := e.runs.MarkProcessing(ctx, run.ID, now); err != nil {
		e.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("batch: failed to mark run processing")
	} else {
		run.Status = domain.RunStatusProcessing
		run.StartedAt = &now
	}

	for _, job := range jobs {
		if _, err := e.queue.Enqueue(job.ID); err != nil {
			// Only happens during shutdown; the jobs stay Queued in the
			// store and are re-enqueued at the next startup.
			e.logger.Warn().Err(err).Str("run_id", run.ID.String()).Msg("batch: enqueue interrupted by shutdown")
			break
		}
	}

	e.logger.Info().
		Str("run_id", run.ID.String()).
		Str("template_id", templateID.String()).
		Int("total_items", run.TotalItems).
		Msg("batch: run expanded")
	return run, nil
}
