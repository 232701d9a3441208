package pipeline

import "sync"

// SeenSet is the job-wide dedupe set shared by all fetch workers in a run.
type SeenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewSeenSet returns an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{keys: make(map[string]struct{})}
}

// Add records key and reports whether it was newly added. Callers must only
// add keys for items that passed the engagement filter, so a low-engagement
// first sighting does not block a later, better item for the same identity.
func (s *SeenSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Len returns the number of distinct keys seen.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
