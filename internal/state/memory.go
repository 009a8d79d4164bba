package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

type claim struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore implements Store in process memory. Nothing survives exit.
type MemoryStore struct {
	mu       sync.RWMutex
	keys     map[string]struct{}
	claims   map[string]claim
	failures map[string]Failure
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:     make(map[string]struct{}),
		claims:   make(map[string]claim),
		failures: make(map[string]Failure),
		now:      time.Now,
	}
}

func (s *MemoryStore) Contains(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok, nil
}

func (s *MemoryStore) Add(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = struct{}{}
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c, ok := s.claims[key]; ok && c.owner != owner && now.Before(c.expiresAt) {
		return false, nil
	}
	s.claims[key] = claim{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[key]; ok && c.owner == owner {
		delete(s.claims, key)
	}
	return nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, key string, attempts int, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := Failure{Key: key, Attempts: attempts, FailedAt: s.now()}
	if cause != nil {
		f.LastError = cause.Error()
	}
	s.failures[key] = f
	return nil
}

// Failures returns dead-letter records ordered by key
func (s *MemoryStore) Failures(_ context.Context) ([]Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Failure, 0, len(s.failures))
	for _, f := range s.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Len returns the number of recorded keys
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func (s *MemoryStore) Close() error {
	return nil
}
