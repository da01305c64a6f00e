package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Jdubz/imagineer/internal/domain"
)

type generateBatchRequest struct {
	CollectionName string `json:"collection_name"`
	Theme          string `json:"theme"`
}

type runProgressView struct {
	RunID        uuid.UUID        `json:"run_id"`
	Status       domain.RunStatus `json:"status"`
	Total        int              `json:"total"`
	Completed    int              `json:"completed"`
	Failed       int              `json:"failed"`
	CollectionID *uuid.UUID       `json:"collection_id,omitempty"`
}

// GenerateBatch expands a template with the caller's theme into a run of
// queued jobs and returns the run id without waiting for any generation.
func (a *App) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	templateID, err := uuid.Parse(chi.URLParam(r, "template_id"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown template")
		return
	}
	var req generateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.CollectionName = strings.TrimSpace(req.CollectionName)
	req.Theme = strings.TrimSpace(req.Theme)
	if req.CollectionName == "" || len([]rune(req.CollectionName)) > 200 {
		a.error(w, http.StatusBadRequest, "bad_request", "collection_name must be 1-200 characters")
		return
	}
	if req.Theme == "" || len([]rune(req.Theme)) > 500 {
		a.error(w, http.StatusBadRequest, "bad_request", "theme must be 1-500 characters")
		return
	}

	run, err := a.Expander.Expand(r.Context(), templateID, req.CollectionName, req.Theme)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"run_id": run.ID})
}

// RunProgress serves batch run progress for polling clients.
func (a *App) RunProgress(w http.ResponseWriter, r *http.Request) {
	templateID, err := uuid.Parse(chi.URLParam(r, "template_id"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown template")
		return
	}
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown run")
		return
	}

	run, err := a.Query.RunProgress(r.Context(), runID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if run.TemplateID != templateID {
		a.error(w, http.StatusNotFound, "not_found", "run does not belong to template")
		return
	}

	a.json(w, http.StatusOK, runProgressView{
		RunID:        run.ID,
		Status:       run.Status,
		Total:        run.TotalItems,
		Completed:    run.CompletedItems,
		Failed:       run.FailedItems,
		CollectionID: run.CollectionID,
	})
}

// GetCollection serves a materialized output collection.
func (a *App) GetCollection(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "collection_id"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown collection")
		return
	}
	collection, err := a.Collections.GetByID(r.Context(), id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, collection)
}
