package worker

import (
	"sync"

	"github.com/Jdubz/imagineer/internal/domain"
)

// History is a bounded in-memory record of recently finished jobs, most
// recent first. Eviction is FIFO by completion time.
type History struct {
	mu   sync.Mutex
	jobs []domain.Job
	max  int
}

// NewHistory creates a history retaining at most max jobs.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 50
	}
	return &History{max: max}
}

// Add records a finished job, evicting the oldest entry when full.
func (h *History) Add(job domain.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	if len(h.jobs) > h.max {
		h.jobs = h.jobs[len(h.jobs)-h.max:]
	}
}

// Recent returns the retained jobs, most recent first.
func (h *History) Recent() []domain.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Job, len(h.jobs))
	for i, job := range h.jobs {
		out[len(h.jobs)-1-i] = job
	}
	return out
}
