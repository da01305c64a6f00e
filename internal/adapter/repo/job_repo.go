package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jdubz/imagineer/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. Status
// updates are guarded by the expected prior status so illegal transitions
// surface as errors instead of silently overwriting terminal state.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, status, prompt, negative_prompt, seed, steps, width, height, guidance, adapters, run_id, submitted_at, started_at, completed_at, duration_ms, output_ref, error_message`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	return insertJob(ctx, r.pool, job)
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, letting the batch
// expansion insert jobs inside its transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertJob(ctx context.Context, tx execer, job *domain.Job) error {
	adapters, err := marshalAdapters(job.Params.Adapters)
	if err != nil {
		return err
	}
	query := `
INSERT INTO jobs (id, status, prompt, negative_prompt, seed, steps, width, height, guidance, adapters, run_id, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`
	_, err = tx.Exec(ctx, query,
		job.ID,
		job.Status,
		job.Params.Prompt,
		job.Params.NegativePrompt,
		job.Params.Seed,
		job.Params.Steps,
		job.Params.Width,
		job.Params.Height,
		job.Params.Guidance,
		adapters,
		job.RunID,
		job.SubmittedAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1;`, jobColumns)
	job, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByIDs returns jobs for the given ids, preserving the input order.
func (r *JobRepositoryPG) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = ANY($1);`, jobColumns)
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]domain.Job, len(ids))
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		byID[job.ID] = *job
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := byID[id]; ok {
			out = append(out, job)
		}
	}
	return out, nil
}

// ListByStatus returns jobs with the given status ordered by submission time.
func (r *JobRepositoryPG) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE status = $1 ORDER BY submitted_at, id;`, jobColumns)
	return r.list(ctx, query, status)
}

// ListCompletedByRun returns the completed jobs of a run in submission order.
func (r *JobRepositoryPG) ListCompletedByRun(ctx context.Context, runID uuid.UUID) ([]domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE run_id = $1 AND status = $2 ORDER BY submitted_at, id;`, jobColumns)
	return r.list(ctx, query, runID, domain.JobStatusCompleted)
}

func (r *JobRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// CountByStatus counts jobs with the given status.
func (r *JobRepositoryPG) CountByStatus(ctx context.Context, status domain.JobStatus) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = $1;`, status).Scan(&n)
	return n, err
}

// CountOutcomesByRun counts the run's terminal jobs: completed versus failed
// or cancelled.
func (r *JobRepositoryPG) CountOutcomesByRun(ctx context.Context, runID uuid.UUID) (int, int, error) {
	query := `
SELECT
    COUNT(*) FILTER (WHERE status = $2),
    COUNT(*) FILTER (WHERE status IN ($3, $4))
FROM jobs
WHERE run_id = $1;
`
	var completed, failed int
	err := r.pool.QueryRow(ctx, query, runID,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled,
	).Scan(&completed, &failed)
	return completed, failed, err
}

// MarkRunning transitions Queued -> Running.
func (r *JobRepositoryPG) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
UPDATE jobs
SET status = $3, started_at = $2
WHERE id = $1 AND status = $4;
`
	tag, err := r.pool.Exec(ctx, query, id, startedAt, domain.JobStatusRunning, domain.JobStatusQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

// MarkCancelled transitions Queued -> Cancelled.
func (r *JobRepositoryPG) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	query := `
UPDATE jobs
SET status = $2
WHERE id = $1 AND status = $3;
`
	tag, err := r.pool.Exec(ctx, query, id, domain.JobStatusCancelled, domain.JobStatusQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

// Finish writes the terminal outcome of a Running job exactly once.
func (r *JobRepositoryPG) Finish(ctx context.Context, id uuid.UUID, status domain.JobStatus, outputRef, errMsg string, completedAt time.Time, duration time.Duration) error {
	query := `
UPDATE jobs
SET status = $2, output_ref = $3, error_message = $4, completed_at = $5, duration_ms = $6
WHERE id = $1 AND status = $7;
`
	tag, err := r.pool.Exec(ctx, query, id, status, outputRef, errMsg, completedAt, duration.Milliseconds(), domain.JobStatusRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

func (r *JobRepositoryPG) transitionError(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1);`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrIllegalTransition
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var adapters []byte
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Params.Prompt,
		&job.Params.NegativePrompt,
		&job.Params.Seed,
		&job.Params.Steps,
		&job.Params.Width,
		&job.Params.Height,
		&job.Params.Guidance,
		&adapters,
		&job.RunID,
		&job.SubmittedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.DurationMS,
		&job.OutputRef,
		&job.ErrorMessage,
	); err != nil {
		return nil, err
	}
	if len(adapters) > 0 {
		if err := json.Unmarshal(adapters, &job.Params.Adapters); err != nil {
			return nil, fmt.Errorf("decode adapters: %w", err)
		}
	}
	return &job, nil
}

func marshalAdapters(adapters []domain.AdapterWeight) ([]byte, error) {
	if len(adapters) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(adapters)
	if err != nil {
		return nil, fmt.Errorf("encode adapters: %w", err)
	}
	return data, nil
}
