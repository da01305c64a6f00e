package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Queued may become Running or Cancelled; Running may become Completed or
// Failed. Everything else is a programming error.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusCancelled
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed
	}
	return false
}

// AdapterWeight names a LoRA-style adapter and the weight to apply it with.
type AdapterWeight struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Generation parameter bounds. Dimensions must be multiples of 8 because the
// generation backend works on 8px latent blocks.
const (
	MaxPromptChars   = 2000
	MinDimension     = 64
	MaxDimension     = 2048
	DimensionStep    = 8
	MinSteps         = 1
	MaxSteps         = 150
	DefaultSteps     = 20
	DefaultWidth     = 512
	DefaultHeight    = 512
	MaxGuidance      = 30
	DefaultGuidance  = 7.5
	MaxAdapterWeight = 2
)

// GenerationParams is everything the generation collaborator needs to
// produce one image.
type GenerationParams struct {
	Prompt         string          `json:"prompt"`
	NegativePrompt string          `json:"negative_prompt,omitempty"`
	Seed           *int64          `json:"seed,omitempty"`
	Steps          int             `json:"steps,omitempty"`
	Width          int             `json:"width,omitempty"`
	Height         int             `json:"height,omitempty"`
	Guidance       float64         `json:"guidance,omitempty"`
	Adapters       []AdapterWeight `json:"adapters,omitempty"`
}

// ApplyDefaults fills zero-valued optional parameters.
func (p *GenerationParams) ApplyDefaults() {
	if p.Steps == 0 {
		p.Steps = DefaultSteps
	}
	if p.Width == 0 {
		p.Width = DefaultWidth
	}
	if p.Height == 0 {
		p.Height = DefaultHeight
	}
	if p.Guidance == 0 {
		p.Guidance = DefaultGuidance
	}
}

// Validate checks the parameter set after defaults have been applied.
func (p *GenerationParams) Validate() error {
	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidParams)
	}
	if len([]rune(prompt)) > MaxPromptChars {
		return fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidParams, MaxPromptChars)
	}
	for _, dim := range []struct {
		name  string
		value int
	}{{"width", p.Width}, {"height", p.Height}} {
		if dim.value < MinDimension || dim.value > MaxDimension {
			return fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidParams, dim.name, MinDimension, MaxDimension)
		}
		if dim.value%DimensionStep != 0 {
			return fmt.Errorf("%w: %s must be divisible by %d", ErrInvalidParams, dim.name, DimensionStep)
		}
	}
	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps must be between %d and %d", ErrInvalidParams, MinSteps, MaxSteps)
	}
	if p.Guidance < 0 || p.Guidance > MaxGuidance {
		return fmt.Errorf("%w: guidance must be between 0 and %d", ErrInvalidParams, MaxGuidance)
	}
	if p.Seed != nil && *p.Seed < 0 {
		return fmt.Errorf("%w: seed must not be negative", ErrInvalidParams)
	}
	for _, a := range p.Adapters {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("%w: adapter name is required", ErrInvalidParams)
		}
		if a.Weight < -MaxAdapterWeight || a.Weight > MaxAdapterWeight {
			return fmt.Errorf("%w: adapter weight must be between %d and %d", ErrInvalidParams, -MaxAdapterWeight, MaxAdapterWeight)
		}
	}
	return nil
}

// Job is one unit of generation work. Status transitions are owned by the
// worker, except Queued -> Cancelled which cancellation requests perform.
type Job struct {
	ID           uuid.UUID        `json:"id"`
	Status       JobStatus        `json:"status"`
	Params       GenerationParams `json:"parameters"`
	RunID        *uuid.UUID       `json:"run_id,omitempty"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	DurationMS   *int64           `json:"duration_ms,omitempty"`
	OutputRef    string           `json:"output_ref,omitempty"`
	ErrorMessage string           `json:"error,omitempty"`
}
