package api

import (
	"sync"
	"time"

	"github.com/pwnlabs/gymscout/internal/sitegraph"
)

// Phase names the stage a run is in.
type Phase string

// Run phases.
const (
	PhaseIdle      Phase = "idle"
	PhaseCrawling  Phase = "crawling"
	PhaseAnalyzing Phase = "analyzing"
	PhaseDone      Phase = "done"
	PhaseError     Phase = "error"
)

// RunStatus is the snapshot served on the status endpoint.
type RunStatus struct {
	RunID     string           `json:"run_id,omitempty"`
	Phase     Phase            `json:"phase"`
	Counts    sitegraph.Counts `json:"counts"`
	StartedAt time.Time        `json:"started_at,omitempty"`
	UpdatedAt time.Time        `json:"updated_at,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// StatusStore holds the current run snapshot for the HTTP server. Safe for
// concurrent use.
type StatusStore struct {
	mu     sync.RWMutex
	status RunStatus
}

// NewStatusStore starts in the idle phase.
func NewStatusStore() *StatusStore {
	return &StatusStore{status: RunStatus{Phase: PhaseIdle}}
}

// Set replaces the snapshot, stamping UpdatedAt.
func (s *StatusStore) Set(status RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status.UpdatedAt = time.Now().UTC()
	s.status = status
}

// Update applies a mutation to the snapshot under the lock.
func (s *StatusStore) Update(fn func(*RunStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
	s.status.UpdatedAt = time.Now().UTC()
}

// Get returns the current snapshot.
func (s *StatusStore) Get() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
