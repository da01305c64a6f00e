package handlers

import (
	"net/http"

	"github.com/Jdubz/imagineer/internal/domain"
)

// Health reports queue depth, the in-flight job and the completed total.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	completed, err := a.Jobs.CountByStatus(r.Context(), domain.JobStatusCompleted)
	if err != nil {
		a.domainError(w, err)
		return
	}

	var current *string
	running, err := a.Jobs.ListByStatus(r.Context(), domain.JobStatusRunning)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if len(running) > 0 {
		id := running[0].ID.String()
		current = &id
	}

	a.json(w, http.StatusOK, map[string]any{
		"queue_size":      a.Queue.Len(),
		"current_job":     current,
		"total_completed": completed,
	})
}
