// Package runstore tracks asynchronous analysis runs and keeps finished
// outcomes in memory for polling. Nothing outlives the process.
package runstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joelkehle/idea-sonar/internal/priorartsearch"
)

const DefaultMaxRuns = 200

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Run is one submitted analysis. Outcome is set once the run finishes.
type Run struct {
	ID        string                  `json:"id"`
	Idea      string                  `json:"idea"`
	Status    Status                  `json:"status"`
	Stage     string                  `json:"stage,omitempty"`
	Message   string                  `json:"message,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	Outcome   *priorartsearch.Outcome `json:"outcome,omitempty"`
}

// Done reports whether the run has finished, successfully or not.
func (r Run) Done() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

type Store struct {
	mu   sync.RWMutex
	runs map[string]*Run
	max  int
	now  func() time.Time
}

// New returns a store holding at most max runs.
func New(max int) *Store {
	if max <= 0 {
		max = DefaultMaxRuns
	}
	return &Store{runs: make(map[string]*Run), max: max, now: time.Now}
}

// Create registers a queued run and returns a copy of it.
func (s *Store) Create(idea string) Run {
	now := s.now()
	run := &Run{
		ID:        uuid.NewString(),
		Idea:      idea,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.evictLocked()
	s.mu.Unlock()
	return *run
}

// Progress records the stage a running analysis has reached.
func (s *Store) Progress(id, stage, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Done() {
		return
	}
	run.Status = StatusRunning
	run.Stage = stage
	run.Message = message
	run.UpdatedAt = s.now()
}

// Complete stores the outcome. It reports false when the run is unknown,
// for example because it was evicted.
func (s *Store) Complete(id string, out priorartsearch.Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return false
	}
	run.Outcome = &out
	run.Status = StatusCompleted
	run.Message = ""
	if out.Status == priorartsearch.OutcomeError {
		run.Status = StatusError
		run.Message = out.Error
	}
	run.UpdatedAt = s.now()
	return true
}

func (s *Store) Get(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns runs newest first, without their outcomes.
func (s *Store) List() []Run {
	s.mu.RLock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		r := *run
		r.Outcome = nil
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// evictLocked drops the oldest finished runs while the store is over
// capacity. Runs still in flight are never evicted.
func (s *Store) evictLocked() {
	if len(s.runs) <= s.max {
		return
	}
	finished := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if run.Done() {
			finished = append(finished, run)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].CreatedAt.Before(finished[j].CreatedAt) })
	for _, run := range finished {
		if len(s.runs) <= s.max {
			return
		}
		delete(s.runs, run.ID)
	}
}
