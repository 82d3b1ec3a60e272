package session

import (
	"sync"
	"time"
)

// Store keeps one Workflow per session ID in memory.
type Store struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewStore creates an empty store. Sessions idle longer than idleTTL are
// evicted by Sweep, which Get also runs every quarter TTL. Zero disables eviction.
func NewStore(idleTTL time.Duration) *Store {
	return &Store{workflows: make(map[string]*Workflow), idleTTL: idleTTL, now: time.Now}
}

// Get returns the workflow for id, creating an Empty one on first use.
func (s *Store) Get(id string) *Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idleTTL > 0 && s.now().Sub(s.lastSweep) >= s.idleTTL/4 {
		s.sweepLocked()
	}

	w, ok := s.workflows[id]
	if !ok {
		w = newWorkflow(s.now)
		s.workflows[id] = w
	}
	return w
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workflows)
}

// Sweep evicts idle sessions and returns how many were removed.
func (s *Store) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *Store) sweepLocked() int {
	now := s.now()
	s.lastSweep = now
	cutoff := now.Add(-s.idleTTL)

	removed := 0
	for id, w := range s.workflows {
		if w.idleSince().Before(cutoff) {
			delete(s.workflows, id)
			removed++
		}
	}
	return removed
}
