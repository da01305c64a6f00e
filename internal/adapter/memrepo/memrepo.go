// Package memrepo provides in-memory implementations of the domain
// repositories. They honor the same transition guards and atomicity rules as
// the PostgreSQL adapters and back the unit tests and local development.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jdubz/imagineer/internal/domain"
)

// JobStore is an in-memory domain.JobRepository.
type JobStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*domain.Job
	order []uuid.UUID
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]*domain.Job)}
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	if j.RunID != nil {
		runID := *j.RunID
		c.RunID = &runID
	}
	c.Params.Adapters = append([]domain.AdapterWeight(nil), j.Params.Adapters...)
	return &c
}

func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	s.order = append(s.order, job.ID)
	return nil
}

func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *JobStore) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := s.jobs[id]; ok {
			out = append(out, *cloneJob(job))
		}
	}
	return out, nil
}

func (s *JobStore) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, id := range s.order {
		if job := s.jobs[id]; job.Status == status {
			out = append(out, *cloneJob(job))
		}
	}
	return out, nil
}

func (s *JobStore) ListCompletedByRun(ctx context.Context, runID uuid.UUID) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status == domain.JobStatusCompleted && job.RunID != nil && *job.RunID == runID {
			out = append(out, *cloneJob(job))
		}
	}
	return out, nil
}

func (s *JobStore) CountByStatus(ctx context.Context, status domain.JobStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *JobStore) CountOutcomesByRun(ctx context.Context, runID uuid.UUID) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	completed, failed := 0, 0
	for _, job := range s.jobs {
		if job.RunID == nil || *job.RunID != runID {
			continue
		}
		switch job.Status {
		case domain.JobStatusCompleted:
			completed++
		case domain.JobStatusFailed, domain.JobStatusCancelled:
			failed++
		}
	}
	return completed, failed, nil
}

func (s *JobStore) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusQueued {
		return domain.ErrIllegalTransition
	}
	job.Status = domain.JobStatusRunning
	job.StartedAt = &startedAt
	return nil
}

func (s *JobStore) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusQueued {
		return domain.ErrIllegalTransition
	}
	job.Status = domain.JobStatusCancelled
	return nil
}

func (s *JobStore) Finish(ctx context.Context, id uuid.UUID, status domain.JobStatus, outputRef, errMsg string, completedAt time.Time, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.CanTransition(job.Status, status) {
		return domain.ErrIllegalTransition
	}
	job.Status = status
	job.OutputRef = outputRef
	job.ErrorMessage = errMsg
	job.CompletedAt = &completedAt
	ms := duration.Milliseconds()
	job.DurationMS = &ms
	return nil
}

// RunStore is an in-memory domain.RunRepository. It shares the job store so
// CreateWithJobs stays atomic.
type RunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.BatchRun
	jobs *JobStore
}

// NewRunStore creates an empty run store writing jobs into the given job
// store.
func NewRunStore(jobs *JobStore) *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]*domain.BatchRun), jobs: jobs}
}

func cloneRun(r *domain.BatchRun) *domain.BatchRun {
	c := *r
	if r.CollectionID != nil {
		id := *r.CollectionID
		c.CollectionID = &id
	}
	return &c
}

func (s *RunStore) CreateWithJobs(ctx context.Context, run *domain.BatchRun, jobs []*domain.Job) error {
	s.mu.Lock()
	s.runs[run.ID] = cloneRun(run)
	s.mu.Unlock()
	for _, job := range jobs {
		if err := s.jobs.Create(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (s *RunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.BatchRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRun(run), nil
}

func (s *RunStore) ListUnfinished(ctx context.Context) ([]domain.BatchRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BatchRun
	for _, run := range s.runs {
		if !run.Status.Terminal() {
			out = append(out, *cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RunStore) MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if run.Status != domain.RunStatusQueued {
		return domain.ErrIllegalTransition
	}
	run.Status = domain.RunStatusProcessing
	run.StartedAt = &startedAt
	return nil
}

func (s *RunStore) RecordOutcome(ctx context.Context, id uuid.UUID, succeeded bool) (*domain.BatchRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if run.CompletedItems+run.FailedItems >= run.TotalItems {
		return nil, domain.ErrRunDrained
	}
	if succeeded {
		run.CompletedItems++
	} else {
		run.FailedItems++
	}
	return cloneRun(run), nil
}

func (s *RunStore) Finalize(ctx context.Context, id uuid.UUID, status domain.RunStatus, collectionID *uuid.UUID, completedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if run.Status.Terminal() {
		return false, nil
	}
	run.Status = status
	run.CollectionID = collectionID
	run.CompletedAt = &completedAt
	return true, nil
}

// CollectionStore is an in-memory domain.CollectionRepository.
type CollectionStore struct {
	mu          sync.Mutex
	collections map[uuid.UUID]*domain.Collection
}

// NewCollectionStore creates an empty collection store.
func NewCollectionStore() *CollectionStore {
	return &CollectionStore{collections: make(map[uuid.UUID]*domain.Collection)}
}

func (s *CollectionStore) Create(ctx context.Context, collection *domain.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *collection
	c.Items = append([]domain.CollectionItem(nil), collection.Items...)
	s.collections[collection.ID] = &c
	return nil
}

func (s *CollectionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	collection, ok := s.collections[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneCollection(collection), nil
}

func (s *CollectionStore) GetBySourceRef(ctx context.Context, sourceRef uuid.UUID) (*domain.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, collection := range s.collections {
		if collection.SourceRef == sourceRef {
			return cloneCollection(collection), nil
		}
	}
	return nil, domain.ErrNotFound
}

func cloneCollection(collection *domain.Collection) *domain.Collection {
	c := *collection
	c.Items = append([]domain.CollectionItem(nil), collection.Items...)
	return &c
}

// Len reports the number of stored collections.
func (s *CollectionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections)
}

// TemplateStore is an in-memory domain.TemplateRepository seeded via Put.
type TemplateStore struct {
	mu        sync.Mutex
	templates map[uuid.UUID]*domain.Template
}

// NewTemplateStore creates an empty template store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[uuid.UUID]*domain.Template)}
}

// Put stores or replaces a template.
func (s *TemplateStore) Put(template *domain.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := *template
	t.Rows = append([]domain.TemplateRow(nil), template.Rows...)
	t.Adapters = append([]domain.AdapterWeight(nil), template.Adapters...)
	s.templates[template.ID] = &t
}

func (s *TemplateStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	template, ok := s.templates[id]
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	t := *template
	t.Rows = append([]domain.TemplateRow(nil), template.Rows...)
	t.Adapters = append([]domain.AdapterWeight(nil), template.Adapters...)
	return &t, nil
}

var (
	_ domain.JobRepository        = (*JobStore)(nil)
	_ domain.RunRepository        = (*RunStore)(nil)
	_ domain.CollectionRepository = (*CollectionStore)(nil)
	_ domain.TemplateRepository   = (*TemplateStore)(nil)
)
