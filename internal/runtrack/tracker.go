// Package runtrack aggregates per-job outcomes into batch run records and
// materializes output collections when a run drains.
package runtrack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Jdubz/imagineer/internal/domain"
	"github.com/Jdubz/imagineer/internal/metrics"
)

// Tracker owns all mutation of batch run records. RecordOutcome is safe for
// concurrent callers: the counter increment is a single guarded update and
// finalization commits at most once.
type Tracker struct {
	runs        domain.RunRepository
	collections domain.CollectionRepository
	jobs        domain.JobRepository
	logger      zerolog.Logger
}

// New creates a tracker over the given repositories.
func New(runs domain.RunRepository, collections domain.CollectionRepository, jobs domain.JobRepository, logger zerolog.Logger) *Tracker {
	return &Tracker{runs: runs, collections: collections, jobs: jobs, logger: logger}
}

// RecordOutcome accounts one job outcome against the run. Exactly one call
// observes the drain and finalizes: it computes the terminal status,
// materializes the output collection when at least one item completed, and
// stamps the run terminal.
func (t *Tracker) RecordOutcome(ctx context.Context, runID uuid.UUID, succeeded bool) error {
	run, err := t.runs.RecordOutcome(ctx, runID, succeeded)
	if err != nil {
		if errors.Is(err, domain.ErrRunDrained) {
			// Counter overflow past total_items is a programming error,
			// never a recoverable condition.
			t.logger.Error().Str("run_id", runID.String()).Msg("runtrack: outcome recorded against drained run")
		}
		return fmt.Errorf("record outcome for run %s: %w", runID, err)
	}

	if !run.Drained() {
		return nil
	}
	return t.finalize(ctx, run)
}

// Reconcile closes accounting gaps left by a crash or a lost write: every
// non-terminal run is compared against its jobs' terminal statuses, missing
// outcomes are replayed, and drained runs are finalized. Runs before the
// worker starts consuming.
func (t *Tracker) Reconcile(ctx context.Context) error {
	runs, err := t.runs.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished runs: %w", err)
	}
	for i := range runs {
		if err := t.reconcileRun(ctx, &runs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) reconcileRun(ctx context.Context, run *domain.BatchRun) error {
	completed, failed, err := t.jobs.CountOutcomesByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("count outcomes for run %s: %w", run.ID, err)
	}

	replayed := 0
	for run.CompletedItems < completed || run.FailedItems < failed {
		updated, err := t.runs.RecordOutcome(ctx, run.ID, run.CompletedItems < completed)
		if err != nil {
			return fmt.Errorf("replay outcome for run %s: %w", run.ID, err)
		}
		run = updated
		replayed++
	}
	if replayed > 0 {
		t.logger.Warn().
			Str("run_id", run.ID.String()).
			Int("replayed", replayed).
			Msg("runtrack: replayed lost run outcomes")
	}

	if !run.Drained() {
		return nil
	}
	if err := t.finalize(ctx, run); err != nil {
		return fmt.Errorf("reconcile run %s: %w", run.ID, err)
	}
	return nil
}

func (t *Tracker) finalize(ctx context.Context, run *domain.BatchRun) error {
	status := run.OutcomeStatus()

	var collectionID *uuid.UUID
	if run.CompletedItems > 0 {
		collection, err := t.materialize(ctx, run)
		if err != nil {
			return err
		}
		collectionID = &collection.ID
	}

	done, err := t.runs.Finalize(ctx, run.ID, status, collectionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", run.ID, err)
	}
	if !done {
		t.logger.Error().Str("run_id", run.ID.String()).Msg("runtrack: run was already terminal at finalization")
		return domain.ErrRunDrained
	}

	metrics.RunsFinalized.WithLabelValues(string(status)).Inc()
	t.logger.Info().
		Str("run_id", run.ID.String()).
		Str("status", string(status)).
		Int("completed", run.CompletedItems).
		Int("failed", run.FailedItems).
		Msg("runtrack: run finalized")
	return nil
}

func (t *Tracker) materialize(ctx context.Context, run *domain.BatchRun) (*domain.Collection, error) {
	// A crash between collection creation and run finalization leaves the
	// collection behind; reuse it instead of writing a duplicate.
	existing, err := t.collections.GetBySourceRef(ctx, run.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("look up collection for run %s: %w", run.ID, err)
	}

	completed, err := t.jobs.ListCompletedByRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("list completed jobs for run %s: %w", run.ID, err)
	}
	items := make([]domain.CollectionItem, 0, len(completed))
	for _, job := range completed {
		items = append(items, domain.CollectionItem{JobID: job.ID, OutputRef: job.OutputRef})
	}

	collection := &domain.Collection{
		ID:         uuid.New(),
		Name:       run.CollectionName,
		SourceKind: domain.SourceKindBatchGeneration,
		SourceRef:  run.ID,
		CreatedAt:  time.Now().UTC(),
		Items:      items,
	}
	if err := t.collections.Create(ctx, collection); err != nil {
		return nil, fmt.Errorf("materialize collection for run %s: %w", run.ID, err)
	}
	return collection, nil
}
