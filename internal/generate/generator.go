// Package generate defines the external image-generation collaborator.
//
// The service treats generation as a black box: one synchronous call that
// either yields an artifact reference or an error. The worker never inspects
// why generation failed.
package generate

import (
	"context"

	"github.com/google/uuid"

	"github.com/Jdubz/imagineer/internal/domain"
)

// Generator produces one image for the given parameters and returns a
// reference to the stored artifact. Implementations own their own runtime
// bounding; callers treat the call as blocking.
type Generator interface {
	Generate(ctx context.Context, jobID uuid.UUID, params domain.GenerationParams) (string, error)
}
