package seo

import "sync"

// VisitedSet tracks processed-or-queued URLs for one audit. The same link
// can be discovered by two pages fetched concurrently; MarkIfNew is the
// atomic insert-if-absent that makes the loser of that race drop out.
type VisitedSet struct {
	seen sync.Map
}

// NewVisitedSet returns an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{}
}

// MarkIfNew stores the normalized URL if it has not been seen before and
// returns true only for the first caller.
func (s *VisitedSet) MarkIfNew(normalizedURL string) bool {
	if normalizedURL == "" {
		return false
	}
	_, loaded := s.seen.LoadOrStore(normalizedURL, struct{}{})
	return !loaded
}

// Contains reports membership without inserting.
func (s *VisitedSet) Contains(normalizedURL string) bool {
	_, ok := s.seen.Load(normalizedURL)
	return ok
}

// Len counts entries. Intended for diagnostics, not hot paths.
func (s *VisitedSet) Len() int {
	n := 0
	s.seen.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
