package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Jdubz/imagineer/internal/adapter/memrepo"
	"github.com/Jdubz/imagineer/internal/domain"
	"github.com/Jdubz/imagineer/internal/queue"
)

func deckTemplate() *domain.Template {
	return &domain.Template{
		ID:          uuid.New(),
		Name:        "Card Deck",
		BasePrompt:  "playing card",
		StyleSuffix: "art nouveau",
		Width:       512,
		Height:      768,
		Rows: []domain.TemplateRow{
			{Position: 1, Fill: "ace of spades"},
			{Position: 2, Fill: "king of hearts"},
			{Position: 3, Fill: "queen of diamonds"},
		},
	}
}

func newExpander() (*Expander, *memrepo.TemplateStore, *memrepo.JobStore, *memrepo.RunStore, *queue.Queue) {
	templates := memrepo.NewTemplateStore()
	jobs := memrepo.NewJobStore()
	runs := memrepo.NewRunStore(jobs)
	q := queue.New()
	return New(templates, runs, q, zerolog.Nop()), templates, jobs, runs, q
}

func TestExpandUnknownTemplate(t *testing.T) {
	e, _, _, _, _ := newExpander()
	_, err := e.Expand(context.Background(), uuid.New(), "Deck", "haunted")
	if !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("err = %v, want ErrTemplateNotFound", err)
	}
}

func TestExpandEmptyTemplate(t *testing.T) {
	e, templates, _, _, _ := newExpander()
	tmpl := deckTemplate()
	tmpl.Rows = nil
	templates.Put(tmpl)

	_, err := e.Expand(context.Background(), tmpl.ID, "Deck", "haunted")
	if !errors.Is(err, domain.ErrEmptyTemplate) {
		t.Fatalf("err = %v, want ErrEmptyTemplate", err)
	}
}

func TestExpandCreatesRunAndQueuesJobsInRowOrder(t *testing.T) {
	e, templates, jobs, runs, q := newExpander()
	tmpl := deckTemplate()
	templates.Put(tmpl)
	ctx := context.Background()

	run, err := e.Expand(ctx, tmpl.ID, "Haunted Deck", "haunted forest")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if run.TotalItems != 3 {
		t.Fatalf("total_items = %d, want 3", run.TotalItems)
	}
	if run.Status != domain.RunStatusProcessing {
		t.Fatalf("run status = %s, want PROCESSING", run.Status)
	}

	stored, err := runs.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.RunStatusProcessing {
		t.Fatalf("stored run status = %s, want PROCESSING", stored.Status)
	}
	if stored.CollectionName != "Haunted Deck" || stored.UserTheme != "haunted forest" {
		t.Fatalf("run fields = %q/%q", stored.CollectionName, stored.UserTheme)
	}

	ids := q.JobIDs()
	if len(ids) != 3 {
		t.Fatalf("queue has %d jobs, want 3", len(ids))
	}
	wantPrompts := []string{
		"playing card haunted forest ace of spades art nouveau",
		"playing card haunted forest king of hearts art nouveau",
		"playing card haunted forest queen of diamonds art nouveau",
	}
	for i, id := range ids {
		job, err := jobs.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job.Status != domain.JobStatusQueued {
			t.Fatalf("job %d status = %s, want QUEUED", i, job.Status)
		}
		if job.RunID == nil || *job.RunID != run.ID {
			t.Fatalf("job %d not linked to run", i)
		}
		if job.Params.Prompt != wantPrompts[i] {
			t.Fatalf("job %d prompt = %q, want %q", i, job.Params.Prompt, wantPrompts[i])
		}
		if job.Params.Width != 512 || job.Params.Height != 768 {
			t.Fatalf("job %d dims = %dx%d", i, job.Params.Width, job.Params.Height)
		}
		if job.Params.Steps != domain.DefaultSteps {
			t.Fatalf("job %d steps = %d, want default", i, job.Params.Steps)
		}
	}
}

func TestExpandDuringShutdownKeepsJobsStored(t *testing.T) {
	e, templates, jobs, _, q := newExpander()
	tmpl := deckTemplate()
	templates.Put(tmpl)
	ctx := context.Background()

	q.Close()
	run, err := e.Expand(ctx, tmpl.ID, "Deck", "haunted")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	// Nothing enqueued, but the jobs exist and will be requeued at startup.
	if q.Len() != 0 {
		t.Fatalf("queue has %d jobs after close, want 0", q.Len())
	}
	queued, err := jobs.ListByStatus(ctx, domain.JobStatusQueued)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(queued) != run.TotalItems {
		t.Fatalf("stored queued jobs = %d, want %d", len(queued), run.TotalItems)
	}
}
