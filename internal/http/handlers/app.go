package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Jdubz/imagineer/internal/batch"
	"github.com/Jdubz/imagineer/internal/domain"
	"github.com/Jdubz/imagineer/internal/infra"
	"github.com/Jdubz/imagineer/internal/query"
	"github.com/Jdubz/imagineer/internal/queue"
	"github.com/Jdubz/imagineer/internal/runtrack"
)

// App carries the dependencies shared by all HTTP handlers.
type App struct {
	Config      *infra.Config
	Logger      zerolog.Logger
	Jobs        domain.JobRepository
	Collections domain.CollectionRepository
	Queue       *queue.Queue
	Expander    *batch.Expander
	Tracker     *runtrack.Tracker
	Query       *query.Service
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

// domainError maps domain sentinel errors onto the HTTP taxonomy; unmatched
// errors become 500s.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrTemplateNotFound):
		a.error(w, http.StatusNotFound, "not_found", "template not found")
	case errors.Is(err, domain.ErrEmptyTemplate):
		a.error(w, http.StatusUnprocessableEntity, "empty_template", "template has no rows to generate")
	case errors.Is(err, domain.ErrAlreadyClaimed):
		a.error(w, http.StatusConflict, "state_conflict", "job is already running")
	case errors.Is(err, domain.ErrAlreadyTerminal):
		a.error(w, http.StatusGone, "gone", "job already finished")
	case errors.Is(err, domain.ErrInvalidParams):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrShuttingDown):
		a.error(w, http.StatusServiceUnavailable, "shutting_down", "service is shutting down")
	default:
		a.Logger.Error().Err(err).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
