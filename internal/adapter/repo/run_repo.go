package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jdubz/imagineer/internal/domain"
)

// RunRepositoryPG implements domain.RunRepository on PostgreSQL. Counter
// updates and finalization are single guarded statements, so concurrent
// outcome recording cannot lose updates or finalize twice.
type RunRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewRunRepository creates a new run repository backed by PostgreSQL.
func NewRunRepository(pool *pgxpool.Pool) *RunRepositoryPG {
	return &RunRepositoryPG{pool: pool}
}

const runColumns = `id, template_id, collection_name, user_theme, status, total_items, completed_items, failed_items, created_at, started_at, completed_at, collection_id`

// CreateWithJobs persists the run and its jobs in one transaction.
func (r *RunRepositoryPG) CreateWithJobs(ctx context.Context, run *domain.BatchRun, jobs []*domain.Job) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin run creation: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
INSERT INTO batch_runs (id, template_id, collection_name, user_theme, status, total_items, completed_items, failed_items, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7);
`
	if _, err := tx.Exec(ctx, query,
		run.ID,
		run.TemplateID,
		run.CollectionName,
		run.UserTheme,
		run.Status,
		run.TotalItems,
		run.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, job := range jobs {
		if err := insertJob(ctx, tx, job); err != nil {
			return fmt.Errorf("insert run job: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID fetches a run by its identifier.
func (r *RunRepositoryPG) GetByID(ctx context.Context, id uuid.UUID) (*domain.BatchRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM batch_runs WHERE id = $1;`, runColumns)
	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListUnfinished returns non-terminal runs, oldest first.
func (r *RunRepositoryPG) ListUnfinished(ctx context.Context) ([]domain.BatchRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM batch_runs WHERE status IN ($1, $2) ORDER BY created_at, id;`, runColumns)
	rows, err := r.pool.Query(ctx, query, domain.RunStatusQueued, domain.RunStatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BatchRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// MarkProcessing transitions Queued -> Processing.
func (r *RunRepositoryPG) MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
UPDATE batch_runs
SET status = $3, started_at = $2
WHERE id = $1 AND status = $4;
`
	tag, err := r.pool.Exec(ctx, query, id, startedAt, domain.RunStatusProcessing, domain.RunStatusQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIllegalTransition
	}
	return nil
}

// RecordOutcome increments one counter and returns the updated run. The
// drain guard makes the increment and the terminal check one atomic unit.
func (r *RunRepositoryPG) RecordOutcome(ctx context.Context, id uuid.UUID, succeeded bool) (*domain.BatchRun, error) {
	completedDelta, failedDelta := 0, 1
	if succeeded {
		completedDelta, failedDelta = 1, 0
	}
	query := fmt.Sprintf(`
UPDATE batch_runs
SET completed_items = completed_items + $2,
    failed_items = failed_items + $3
WHERE id = $1 AND completed_items + failed_items < total_items
RETURNING %s;`, runColumns)

	run, err := scanRun(r.pool.QueryRow(ctx, query, id, completedDelta, failedDelta))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Either the run does not exist or it is already fully accounted for.
	var exists bool
	if scanErr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM batch_runs WHERE id = $1);`, id).Scan(&exists); scanErr != nil {
		return nil, scanErr
	}
	if !exists {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrRunDrained
}

// Finalize stamps a non-terminal run with its terminal status. The status
// guard makes finalization exactly-once.
func (r *RunRepositoryPG) Finalize(ctx context.Context, id uuid.UUID, status domain.RunStatus, collectionID *uuid.UUID, completedAt time.Time) (bool, error) {
	query := `
UPDATE batch_runs
SET status = $2, collection_id = $3, completed_at = $4
WHERE id = $1 AND status IN ($5, $6);
`
	tag, err := r.pool.Exec(ctx, query, id, status, collectionID, completedAt, domain.RunStatusQueued, domain.RunStatusProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanRun(row pgx.Row) (*domain.BatchRun, error) {
	var run domain.BatchRun
	if err := row.Scan(
		&run.ID,
		&run.TemplateID,
		&run.CollectionName,
		&run.UserTheme,
		&run.Status,
		&run.TotalItems,
		&run.CompletedItems,
		&run.FailedItems,
		&run.CreatedAt,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CollectionID,
	); err != nil {
		return nil, err
	}
	return &run, nil
}
