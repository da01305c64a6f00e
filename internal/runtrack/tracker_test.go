package runtrack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Jdubz/imagineer/internal/adapter/memrepo"
	"github.com/Jdubz/imagineer/internal/domain"
)

type fixture struct {
	jobs        *memrepo.JobStore
	runs        *memrepo.RunStore
	collections *memrepo.CollectionStore
	tracker     *Tracker
}

func newFixture() *fixture {
	jobs := memrepo.NewJobStore()
	runs := memrepo.NewRunStore(jobs)
	collections := memrepo.NewCollectionStore()
	return &fixture{
		jobs:        jobs,
		runs:        runs,
		collections: collections,
		tracker:     New(runs, collections, jobs, zerolog.Nop()),
	}
}

// seedRun creates a run with total items and one stored job per item. Jobs
// whose index is below completedJobs are finished as Completed so collection
// materialization has something to pick up.
func (f *fixture) seedRun(t *testing.T, total, completedJobs int) *domain.BatchRun {
	t.Helper()
	ctx := context.Background()
	run := &domain.BatchRun{
		ID:             uuid.New(),
		TemplateID:     uuid.New(),
		CollectionName: "Test Collection",
		Status:         domain.RunStatusProcessing,
		TotalItems:     total,
		CreatedAt:      time.Now().UTC(),
	}
	jobs := make([]*domain.Job, 0, total)
	for i := 0; i < total; i++ {
		jobs = append(jobs, &domain.Job{
			ID:          uuid.New(),
			Status:      domain.JobStatusQueued,
			Params:      domain.GenerationParams{Prompt: "p"},
			RunID:       &run.ID,
			SubmittedAt: time.Now().UTC(),
		})
	}
	if err := f.runs.CreateWithJobs(ctx, run, jobs); err != nil {
		t.Fatalf("CreateWithJobs: %v", err)
	}
	now := time.Now().UTC()
	for i := 0; i < completedJobs; i++ {
		if err := f.jobs.MarkRunning(ctx, jobs[i].ID, now); err != nil {
			t.Fatalf("MarkRunning: %v", err)
		}
		if err := f.jobs.Finish(ctx, jobs[i].ID, domain.JobStatusCompleted, "generated/x/image.png", "", now, time.Second); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	}
	return run
}

func TestRecordOutcomeFinalizesOnDrain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	run := f.seedRun(t, 3, 2)

	if err := f.tracker.RecordOutcome(ctx, run.ID, true); err != nil {
		t.Fatalf("RecordOutcome 1: %v", err)
	}
	if err := f.tracker.RecordOutcome(ctx, run.ID, true); err != nil {
		t.Fatalf("RecordOutcome 2: %v", err)
	}

	got, err := f.runs.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.RunStatusProcessing {
		t.Fatalf("run finalized early: %s", got.Status)
	}

	if err := f.tracker.RecordOutcome(ctx, run.ID, false); err != nil {
		t.Fatalf("RecordOutcome 3: %v", err)
	}
	got, err = f.runs.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.RunStatusCompletedWithErrors {
		t.Fatalf("run status = %s, want COMPLETED_WITH_ERRORS", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not stamped")
	}
	if got.CollectionID == nil {
		t.Fatal("collection not materialized despite completed items")
	}

	collection, err := f.collections.GetByID(ctx, *got.CollectionID)
	if err != nil {
		t.Fatalf("collection lookup: %v", err)
	}
	if len(collection.Items) != 2 {
		t.Fatalf("collection has %d items, want 2", len(collection.Items))
	}
	if collection.SourceRef != run.ID {
		t.Fatalf("collection source = %s, want %s", collection.SourceRef, run.ID)
	}
}

func TestAllSucceededCompletes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	run := f.seedRun(t, 2, 2)

	for i := 0; i < 2; i++ {
		if err := f.tracker.RecordOutcome(ctx, run.ID, true); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	got, _ := f.runs.GetByID(ctx, run.ID)
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("run status = %s, want COMPLETED", got.Status)
	}
	if got.CollectionID == nil {
		t.Fatal("collection not materialized")
	}
}

func TestAllFailedSkipsCollection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	run := f.seedRun(t, 2, 0)

	for i := 0; i < 2; i++ {
		if err := f.tracker.RecordOutcome(ctx, run.ID, false); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	got, _ := f.runs.GetByID(ctx, run.ID)
	if got.Status != domain.RunStatusFailed {
		t.Fatalf("run status = %s, want FAILED", got.Status)
	}
	if got.CollectionID != nil {
		t.Fatal("collection materialized for a fully failed run")
	}
	if f.collections.Len() != 0 {
		t.Fatalf("collection store has %d entries, want 0", f.collections.Len())
	}
}

func TestOutcomePastDrainIsRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	run := f.seedRun(t, 1, 1)

	if err := f.tracker.RecordOutcome(ctx, run.ID, true); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	err := f.tracker.RecordOutcome(ctx, run.ID, true)
	if !errors.Is(err, domain.ErrRunDrained) {
		t.Fatalf("extra outcome err = %v, want ErrRunDrained", err)
	}

	got, _ := f.runs.GetByID(ctx, run.ID)
	if got.CompletedItems != 1 {
		t.Fatalf("completed_items = %d, want 1", got.CompletedItems)
	}
}

func TestUnknownRun(t *testing.T) {
	f := newFixture()
	err := f.tracker.RecordOutcome(context.Background(), uuid.New(), true)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReconcileReplaysLostOutcomes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Two jobs reached terminal statuses but neither outcome was recorded,
	// as happens when the recording write is lost mid-request.
	run := &domain.BatchRun{
		ID:             uuid.New(),
		TemplateID:     uuid.New(),
		CollectionName: "Recovered",
		Status:         domain.RunStatusProcessing,
		TotalItems:     2,
		CreatedAt:      time.Now().UTC(),
	}
	now := time.Now().UTC()
	completed := &domain.Job{ID: uuid.New(), Status: domain.JobStatusQueued, Params: domain.GenerationParams{Prompt: "p"}, RunID: &run.ID, SubmittedAt: now}
	cancelled := &domain.Job{ID: uuid.New(), Status: domain.JobStatusQueued, Params: domain.GenerationParams{Prompt: "p"}, RunID: &run.ID, SubmittedAt: now}
	if err := f.runs.CreateWithJobs(ctx, run, []*domain.Job{completed, cancelled}); err != nil {
		t.Fatalf("CreateWithJobs: %v", err)
	}
	if err := f.jobs.MarkRunning(ctx, completed.ID, now); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := f.jobs.Finish(ctx, completed.ID, domain.JobStatusCompleted, "generated/x/image.png", "", now, time.Second); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := f.jobs.MarkCancelled(ctx, cancelled.ID); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}

	if err := f.tracker.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, err := f.runs.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CompletedItems != 1 || got.FailedItems != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", got.CompletedItems, got.FailedItems)
	}
	if got.Status != domain.RunStatusCompletedWithErrors {
		t.Fatalf("run status = %s, want COMPLETED_WITH_ERRORS", got.Status)
	}
	if got.CollectionID == nil {
		t.Fatal("collection not materialized")
	}
	collection, err := f.collections.GetByID(ctx, *got.CollectionID)
	if err != nil {
		t.Fatalf("collection lookup: %v", err)
	}
	if len(collection.Items) != 1 {
		t.Fatalf("collection has %d items, want 1", len(collection.Items))
	}
}

func TestReconcileFinalizesDrainedRun(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	run := f.seedRun(t, 1, 1)

	// Counter already drained but the run was never flipped terminal, the
	// state a crash between materialization and finalization leaves behind.
	if _, err := f.runs.RecordOutcome(ctx, run.ID, true); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	orphan := &domain.Collection{
		ID:         uuid.New(),
		Name:       run.CollectionName,
		SourceKind: domain.SourceKindBatchGeneration,
		SourceRef:  run.ID,
		CreatedAt:  time.Now().UTC(),
		Items:      []domain.CollectionItem{{JobID: uuid.New(), OutputRef: "generated/x/image.png"}},
	}
	if err := f.collections.Create(ctx, orphan); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.tracker.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, err := f.runs.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("run status = %s, want COMPLETED", got.Status)
	}
	if got.CollectionID == nil || *got.CollectionID != orphan.ID {
		t.Fatalf("collection_id = %v, want the pre-existing collection %s", got.CollectionID, orphan.ID)
	}
	if f.collections.Len() != 1 {
		t.Fatalf("collection store has %d entries, want 1", f.collections.Len())
	}
}

func TestReconcileLeavesConsistentRunsAlone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	run := f.seedRun(t, 3, 1)

	// One outcome recorded and matching one terminal job: nothing to replay.
	if err := f.tracker.RecordOutcome(ctx, run.ID, true); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := f.tracker.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, _ := f.runs.GetByID(ctx, run.ID)
	if got.CompletedItems != 1 || got.FailedItems != 0 {
		t.Fatalf("counters = %d/%d, want 1/0", got.CompletedItems, got.FailedItems)
	}
	if got.Status != domain.RunStatusProcessing {
		t.Fatalf("run status = %s, want PROCESSING", got.Status)
	}
}

func TestConcurrentOutcomesFinalizeOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	const total = 20
	run := f.seedRun(t, total, total)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.tracker.RecordOutcome(ctx, run.ID, true); err != nil {
				t.Errorf("RecordOutcome: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := f.runs.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CompletedItems != total || got.FailedItems != 0 {
		t.Fatalf("counters = %d/%d, want %d/0", got.CompletedItems, got.FailedItems, total)
	}
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("run status = %s, want COMPLETED", got.Status)
	}
	if f.collections.Len() != 1 {
		t.Fatalf("collection store has %d entries, want exactly 1", f.collections.Len())
	}
}
