package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Jdubz/imagineer/internal/adapter/memrepo"
	"github.com/Jdubz/imagineer/internal/domain"
	"github.com/Jdubz/imagineer/internal/queue"
	"github.com/Jdubz/imagineer/internal/runtrack"
)

// stubGenerator records the order of generation calls and fails job ids
// registered via failWith.
type stubGenerator struct {
	mu        sync.Mutex
	processed []uuid.UUID
	failures  map[uuid.UUID]error
	done      chan uuid.UUID
}

func newStubGenerator() *stubGenerator {
	return &stubGenerator{
		failures: make(map[uuid.UUID]error),
		done:     make(chan uuid.UUID, 64),
	}
}

func (g *stubGenerator) failWith(jobID uuid.UUID, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[jobID] = err
}

func (g *stubGenerator) Generate(ctx context.Context, jobID uuid.UUID, params domain.GenerationParams) (string, error) {
	g.mu.Lock()
	g.processed = append(g.processed, jobID)
	err := g.failures[jobID]
	g.mu.Unlock()
	g.done <- jobID
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("generated/%s/image.png", jobID), nil
}

func (g *stubGenerator) order() []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]uuid.UUID(nil), g.processed...)
}

type harness struct {
	jobs      *memrepo.JobStore
	runs      *memrepo.RunStore
	queue     *queue.Queue
	generator *stubGenerator
	history   *History
	worker    *Worker
	tracker   *runtrack.Tracker
}

func newHarness() *harness {
	jobs := memrepo.NewJobStore()
	runs := memrepo.NewRunStore(jobs)
	collections := memrepo.NewCollectionStore()
	q := queue.New()
	gen := newStubGenerator()
	history := NewHistory(10)
	tracker := runtrack.New(runs, collections, jobs, zerolog.Nop())
	return &harness{
		jobs:      jobs,
		runs:      runs,
		queue:     q,
		generator: gen,
		history:   history,
		tracker:   tracker,
		worker:    New(q, jobs, tracker, gen, history, zerolog.Nop(), 500),
	}
}

func (h *harness) submit(t *testing.T, runID *uuid.UUID) uuid.UUID {
	t.Helper()
	job := &domain.Job{
		ID:          uuid.New(),
		Status:      domain.JobStatusQueued,
		Params:      domain.GenerationParams{Prompt: "p"},
		RunID:       runID,
		SubmittedAt: time.Now().UTC(),
	}
	if err := h.jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := h.queue.Enqueue(job.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job.ID
}

// drain waits until the generator has been invoked n times, then shuts the
// worker down and waits for the loop to exit.
func (h *harness) drain(t *testing.T, n int, workerErr <-chan error) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.generator.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("generator call %d never happened", i+1)
		}
	}
	h.queue.Close()
	select {
	case err := <-workerErr:
		if !errors.Is(err, domain.ErrShuttingDown) {
			t.Fatalf("worker exit err = %v, want ErrShuttingDown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func (h *harness) start() <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.worker.Run(context.Background()) }()
	return errCh
}

func TestProcessesJobsInOrder(t *testing.T) {
	h := newHarness()
	a := h.submit(t, nil)
	b := h.submit(t, nil)
	c := h.submit(t, nil)

	errCh := h.start()
	h.drain(t, 3, errCh)

	order := h.generator.order()
	if len(order) != 3 || order[0] != a || order[1] != b || order[2] != c {
		t.Fatalf("processing order = %v, want [%s %s %s]", order, a, b, c)
	}

	job, err := h.jobs.GetByID(context.Background(), a)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("job status = %s, want COMPLETED", job.Status)
	}
	if job.OutputRef == "" {
		t.Fatal("completed job has no output_ref")
	}
	if job.CompletedAt == nil || job.DurationMS == nil {
		t.Fatal("completion metadata not stamped")
	}
}

func TestFailureDoesNotStopTheLoop(t *testing.T) {
	h := newHarness()
	bad := h.submit(t, nil)
	good := h.submit(t, nil)
	h.generator.failWith(bad, errors.New("CUDA out of memory"))

	errCh := h.start()
	h.drain(t, 2, errCh)

	ctx := context.Background()
	failed, _ := h.jobs.GetByID(ctx, bad)
	if failed.Status != domain.JobStatusFailed {
		t.Fatalf("bad job status = %s, want FAILED", failed.Status)
	}
	if failed.ErrorMessage != "CUDA out of memory" {
		t.Fatalf("error message = %q", failed.ErrorMessage)
	}
	if failed.OutputRef != "" {
		t.Fatal("failed job kept an output_ref")
	}

	ok, _ := h.jobs.GetByID(ctx, good)
	if ok.Status != domain.JobStatusCompleted {
		t.Fatalf("good job status = %s, want COMPLETED", ok.Status)
	}
}

func TestErrorMessageTruncated(t *testing.T) {
	h := newHarness()
	h.worker.errMax = 10
	id := h.submit(t, nil)
	h.generator.failWith(id, errors.New(strings.Repeat("x", 100)))

	errCh := h.start()
	h.drain(t, 1, errCh)

	job, _ := h.jobs.GetByID(context.Background(), id)
	if got := len([]rune(job.ErrorMessage)); got != 10 {
		t.Fatalf("stored error length = %d, want 10", got)
	}
}

func TestSkipsCancelledJob(t *testing.T) {
	h := newHarness()
	cancelled := h.submit(t, nil)
	kept := h.submit(t, nil)

	// Cancel before the worker starts: remove from queue, mark in the store.
	if !h.queue.Remove(cancelled) {
		t.Fatal("Remove returned false for a queued job")
	}
	if err := h.jobs.MarkCancelled(context.Background(), cancelled); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}

	errCh := h.start()
	h.drain(t, 1, errCh)

	order := h.generator.order()
	if len(order) != 1 || order[0] != kept {
		t.Fatalf("processing order = %v, want only %s", order, kept)
	}
	job, _ := h.jobs.GetByID(context.Background(), cancelled)
	if job.Status != domain.JobStatusCancelled {
		t.Fatalf("cancelled job status = %s", job.Status)
	}
}

func TestRecordsRunOutcomes(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	run := &domain.BatchRun{
		ID:             uuid.New(),
		TemplateID:     uuid.New(),
		CollectionName: "Deck",
		Status:         domain.RunStatusProcessing,
		TotalItems:     2,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.runs.CreateWithJobs(ctx, run, nil); err != nil {
		t.Fatalf("CreateWithJobs: %v", err)
	}
	good := h.submit(t, &run.ID)
	bad := h.submit(t, &run.ID)
	h.generator.failWith(bad, errors.New("boom"))

	errCh := h.start()
	h.drain(t, 2, errCh)

	job, _ := h.jobs.GetByID(ctx, good)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("good job status = %s, want COMPLETED", job.Status)
	}

	got, err := h.runs.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CompletedItems != 1 || got.FailedItems != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", got.CompletedItems, got.FailedItems)
	}
	if got.Status != domain.RunStatusCompletedWithErrors {
		t.Fatalf("run status = %s, want COMPLETED_WITH_ERRORS", got.Status)
	}
}

func TestFinishedJobsEnterHistory(t *testing.T) {
	h := newHarness()
	a := h.submit(t, nil)
	b := h.submit(t, nil)

	errCh := h.start()
	h.drain(t, 2, errCh)

	recent := h.history.Recent()
	if len(recent) != 2 {
		t.Fatalf("history has %d jobs, want 2", len(recent))
	}
	// Most recent first.
	if recent[0].ID != b || recent[1].ID != a {
		t.Fatalf("history order = [%s %s], want [%s %s]", recent[0].ID, recent[1].ID, b, a)
	}
}
