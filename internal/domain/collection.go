package domain

import (
	"time"

	"github.com/google/uuid"
)

// SourceKindBatchGeneration marks collections materialized from a drained
// batch run.
const SourceKindBatchGeneration = "BATCH_GENERATION"

// CollectionItem references one successfully generated artifact.
type CollectionItem struct {
	JobID     uuid.UUID `json:"job_id"`
	OutputRef string    `json:"output_ref"`
}

// Collection is the materialized set of completed outputs from a drained
// run. Failed items are excluded but remain inspectable via the run record.
type Collection struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	SourceKind string           `json:"source_kind"`
	SourceRef  uuid.UUID        `json:"source_ref"`
	CreatedAt  time.Time        `json:"created_at"`
	Items      []CollectionItem `json:"items"`
}
