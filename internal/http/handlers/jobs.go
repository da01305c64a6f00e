package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Jdubz/imagineer/internal/domain"
	"github.com/Jdubz/imagineer/internal/metrics"
)

type jobView struct {
	domain.Job
	QueuePosition *int `json:"queue_position,omitempty"`
}

// CreateJob validates the submitted parameters, persists the job and
// enqueues it. Creation returns immediately; generation happens later.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var params domain.GenerationParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	params.ApplyDefaults()
	if err := params.Validate(); err != nil {
		a.domainError(w, err)
		return
	}

	job := &domain.Job{
		ID:          uuid.New(),
		Status:      domain.JobStatusQueued,
		Params:      params,
		SubmittedAt: time.Now().UTC(),
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.domainError(w, err)
		return
	}
	if _, err := a.Queue.Enqueue(job.ID); err != nil {
		a.domainError(w, err)
		return
	}
	metrics.QueueDepth.Set(float64(a.Queue.Len()))

	pos, _ := a.Queue.Position(job.ID)
	w.Header().Set("Location", fmt.Sprintf("/jobs/%s", job.ID))
	a.json(w, http.StatusCreated, jobView{Job: *job, QueuePosition: &pos})
}

// ListJobs serves the activity snapshot: current job, pending queue and
// recent history.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	overview, err := a.Query.Overview(r.Context())
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, overview)
}

// GetJob serves one job, with its queue position while it waits.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown job")
		return
	}
	job, pos, err := a.Query.Job(r.Context(), id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, jobView{Job: *job, QueuePosition: pos})
}

// CancelJob cancels a job that the worker has not yet claimed. Running jobs
// conflict (409), finished jobs are gone (410).
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown job")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), id)
	if err != nil {
		a.domainError(w, err)
		return
	}

	switch job.Status {
	case domain.JobStatusRunning:
		a.domainError(w, domain.ErrAlreadyClaimed)
		return
	case domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled:
		a.domainError(w, domain.ErrAlreadyTerminal)
		return
	}

	// Remove from the queue before touching the store: once removal
	// succeeds the worker can never claim this job.
	if !a.Queue.Remove(id) {
		// Lost a race since the status read above: either the worker
		// claimed the job or another cancel finished first.
		current, err := a.Jobs.GetByID(r.Context(), id)
		if err != nil {
			a.domainError(w, err)
			return
		}
		if current.Status.Terminal() {
			a.domainError(w, domain.ErrAlreadyTerminal)
			return
		}
		a.domainError(w, domain.ErrAlreadyClaimed)
		return
	}

	// From here the job can never run again, so the state write and the
	// run accounting must survive a client disconnect.
	ctx := context.WithoutCancel(r.Context())
	if err := a.Jobs.MarkCancelled(ctx, id); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			a.domainError(w, domain.ErrAlreadyClaimed)
			return
		}
		a.domainError(w, err)
		return
	}
	metrics.JobsCancelled.Inc()
	metrics.QueueDepth.Set(float64(a.Queue.Len()))

	// A cancelled batch item counts against the run as a failure.
	if job.RunID != nil {
		if err := a.Tracker.RecordOutcome(ctx, *job.RunID, false); err != nil {
			a.Logger.Error().Err(err).Str("run_id", job.RunID.String()).Msg("handlers: failed to record cancelled outcome")
		}
	}

	a.Logger.Info().Str("job_id", id.String()).Msg("handlers: job cancelled")
	job.Status = domain.JobStatusCancelled
	a.json(w, http.StatusOK, jobView{Job: *job})
}
