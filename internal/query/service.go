// Package query serves read-only views over jobs, the queue and runs. It
// performs no mutation.
package query

import (
	"context"

	"github.com/google/uuid"

	"github.com/Jdubz/imagineer/internal/domain"
	"github.com/Jdubz/imagineer/internal/queue"
	"github.com/Jdubz/imagineer/internal/worker"
)

// Service computes queue positions, run progress and activity snapshots for
// polling clients.
type Service struct {
	jobs    domain.JobRepository
	runs    domain.RunRepository
	queue   *queue.Queue
	history *worker.History
}

// New creates a query service.
func New(jobs domain.JobRepository, runs domain.RunRepository, q *queue.Queue, history *worker.History) *Service {
	return &Service{jobs: jobs, runs: runs, queue: q, history: history}
}

// Job returns the job and, when it is still queued, its 0-based queue
// position.
func (s *Service) Job(ctx context.Context, id uuid.UUID) (*domain.Job, *int, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status == domain.JobStatusQueued {
		if pos, ok := s.queue.Position(id); ok {
			return job, &pos, nil
		}
	}
	return job, nil, nil
}

// QueuePosition returns the number of jobs strictly ahead of the given job.
func (s *Service) QueuePosition(id uuid.UUID) (int, bool) {
	return s.queue.Position(id)
}

// RunProgress returns the run record for progress reporting.
func (s *Service) RunProgress(ctx context.Context, id uuid.UUID) (*domain.BatchRun, error) {
	return s.runs.GetByID(ctx, id)
}

// Overview is the activity snapshot served by GET /jobs.
type Overview struct {
	Current *domain.Job  `json:"current"`
	Queued  []domain.Job `json:"queued"`
	History []domain.Job `json:"history"`
}

// Overview assembles the currently running job, the pending queue in order,
// and the recent completion history. The "current job" is a query over
// status, not stored global state.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	overview := &Overview{
		Queued:  []domain.Job{},
		History: s.history.Recent(),
	}

	running, err := s.jobs.ListByStatus(ctx, domain.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	if len(running) > 0 {
		overview.Current = &running[0]
	}

	ids := s.queue.JobIDs()
	if len(ids) > 0 {
		queued, err := s.jobs.ListByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		overview.Queued = queued
	}
	return overview, nil
}
