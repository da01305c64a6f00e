package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobRepository defines persistence for job records. Mutating methods are
// guarded: they apply only from the expected prior status and return
// ErrIllegalTransition when the guard does not hold.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	// ListByIDs returns the jobs for the given ids in the given order,
	// silently skipping unknown ids.
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]Job, error)
	// ListByStatus returns jobs ordered by submission time.
	ListByStatus(ctx context.Context, status JobStatus) ([]Job, error)
	ListCompletedByRun(ctx context.Context, runID uuid.UUID) ([]Job, error)
	CountByStatus(ctx context.Context, status JobStatus) (int, error)
	// CountOutcomesByRun counts the run's jobs that reached a terminal
	// status: completed on one side, failed or cancelled on the other.
	CountOutcomesByRun(ctx context.Context, runID uuid.UUID) (completed, failed int, err error)
	// MarkRunning transitions Queued -> Running and sets started_at.
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// MarkCancelled transitions Queued -> Cancelled.
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	// Finish transitions Running to Completed or Failed, writing the
	// output reference or error message along with completion time and
	// duration. These fields are written exactly once.
	Finish(ctx context.Context, id uuid.UUID, status JobStatus, outputRef, errMsg string, completedAt time.Time, duration time.Duration) error
}

// RunRepository defines persistence for batch generation runs. The run
// record is mutated exclusively through these methods.
type RunRepository interface {
	// CreateWithJobs atomically persists the run together with all of its
	// jobs; a partial failure leaves no trace of either.
	CreateWithJobs(ctx context.Context, run *BatchRun, jobs []*Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*BatchRun, error)
	// ListUnfinished returns runs that have not reached a terminal status,
	// oldest first.
	ListUnfinished(ctx context.Context) ([]BatchRun, error)
	// MarkProcessing transitions Queued -> Processing and sets started_at.
	MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// RecordOutcome atomically increments the completed or failed counter
	// and returns the updated run. It fails with ErrRunDrained when the
	// run has already accounted for all of its items, so a drained run can
	// never over-count.
	RecordOutcome(ctx context.Context, id uuid.UUID, succeeded bool) (*BatchRun, error)
	// Finalize moves a non-terminal run to the given terminal status,
	// setting collection_id and completed_at. It reports false when the
	// run was already terminal, making finalization exactly-once.
	Finalize(ctx context.Context, id uuid.UUID, status RunStatus, collectionID *uuid.UUID, completedAt time.Time) (bool, error)
}

// CollectionRepository handles persistence for materialized output
// collections.
type CollectionRepository interface {
	Create(ctx context.Context, collection *Collection) error
	GetByID(ctx context.Context, id uuid.UUID) (*Collection, error)
	// GetBySourceRef returns the collection materialized from the given
	// source, or ErrNotFound.
	GetBySourceRef(ctx context.Context, sourceRef uuid.UUID) (*Collection, error)
}

// TemplateRepository resolves batch templates to their row sets and shared
// parameters. Absence is reported as ErrTemplateNotFound.
type TemplateRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
}
