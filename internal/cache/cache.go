// Package cache provides the content-addressed memo stores for analysis
// results. One store per analysis kind, keyed by ContentKey, so the
// classification and visual-cue results for the same file never collide.
package cache

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Store memoizes computed results for the process lifetime. Concurrent
// callers for the same key collapse into a single in-flight computation;
// writers for different keys never block each other beyond the map lock.
type Store[T any] struct {
	mu      sync.RWMutex
	entries map[string]T

	maxEntries int // 0 = unbounded
	group      singleflight.Group
}

// New creates a store. maxEntries bounds the number of memoized results;
// 0 keeps the store unbounded, which is the deployed configuration.
func New[T any](maxEntries int) *Store[T] {
	return &Store[T]{
		entries:    make(map[string]T),
		maxEntries: maxEntries,
	}
}

// Lookup returns the memoized result for key, if any.
func (s *Store[T]) Lookup(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Do returns the cached result for key, or runs compute exactly once even
// under concurrent callers and stores its result on success. The second
// return reports whether the value came from the cache without running
// compute for this caller.
func (s *Store[T]) Do(key string, compute func() (T, error)) (T, bool, error) {
	if v, ok := s.Lookup(key); ok {
		return v, true, nil
	}

	res, err, shared := s.group.Do(key, func() (any, error) {
		if v, ok := s.Lookup(key); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return v, err
		}
		s.store(key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), shared, nil
}

// Len reports the number of memoized entries.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store[T]) store(key string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		if _, ok := s.entries[key]; !ok {
			return
		}
	}
	s.entries[key] = v
}
