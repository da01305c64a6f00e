package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus enumerates batch generation run states.
type RunStatus string

const (
	RunStatusQueued              RunStatus = "QUEUED"
	RunStatusProcessing          RunStatus = "PROCESSING"
	RunStatusCompleted           RunStatus = "COMPLETED"
	RunStatusCompletedWithErrors RunStatus = "COMPLETED_WITH_ERRORS"
	RunStatusFailed              RunStatus = "FAILED"
)

// Terminal reports whether the run status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCompletedWithErrors, RunStatusFailed:
		return true
	}
	return false
}

// BatchRun aggregates the outcome of every job spawned from one batch
// submission. Counters only ever move forward; the run is terminal exactly
// when completed+failed equals total.
type BatchRun struct {
	ID             uuid.UUID  `json:"id"`
	TemplateID     uuid.UUID  `json:"template_id"`
	CollectionName string     `json:"collection_name"`
	UserTheme      string     `json:"user_theme"`
	Status         RunStatus  `json:"status"`
	TotalItems     int        `json:"total_items"`
	CompletedItems int        `json:"completed_items"`
	FailedItems    int        `json:"failed_items"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CollectionID   *uuid.UUID `json:"collection_id,omitempty"`
}

// Drained reports whether every item has been accounted for.
func (r *BatchRun) Drained() bool {
	return r.CompletedItems+r.FailedItems >= r.TotalItems
}

// OutcomeStatus computes the terminal status for a drained run: all items
// succeeded -> Completed, none succeeded -> Failed, otherwise
// CompletedWithErrors.
func (r *BatchRun) OutcomeStatus() RunStatus {
	switch {
	case r.FailedItems == 0:
		return RunStatusCompleted
	case r.CompletedItems == 0:
		return RunStatusFailed
	default:
		return RunStatusCompletedWithErrors
	}
}
