// Package inmem implements cache.L1 as a process-local map, for tests and
// single-node deployments.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/cache"
	"github.com/lawercase/petition-orchestrator/internal/clock"
)

type slot struct {
	entry     cache.Entry
	expiresAt time.Time
	lastUsed  uint64
}

// Store is an in-memory L1 with TTL expiry and max-entries LRU eviction,
// grounded on the same bounded-slots-with-eviction shape as
// internal/memory/working.
type Store struct {
	mu         sync.Mutex
	clock      clock.Clock
	maxEntries int
	tick       uint64
	slots      map[string]*slot
}

// New returns a Store that evicts the least-recently-used entry once more
// than maxEntries are held. maxEntries <= 0 means unbounded.
func New(c clock.Clock, maxEntries int) *Store {
	return &Store{clock: c, maxEntries: maxEntries, slots: make(map[string]*slot)}
}

func (s *Store) Get(_ context.Context, keyHash string) (cache.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[keyHash]
	if !ok {
		return cache.Entry{}, false, nil
	}
	if s.clock.Now().After(sl.expiresAt) {
		delete(s.slots, keyHash)
		return cache.Entry{}, false, nil
	}
	s.tick++
	sl.lastUsed = s.tick
	return sl.entry, true, nil
}

func (s *Store) Put(_ context.Context, entry cache.Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.slots[entry.KeyHash]; !exists && s.maxEntries > 0 && len(s.slots) >= s.maxEntries {
		s.evictOldest()
	}

	s.tick++
	s.slots[entry.KeyHash] = &slot{
		entry:     entry,
		expiresAt: s.clock.Now().Add(ttl),
		lastUsed:  s.tick,
	}
	return nil
}

func (s *Store) evictOldest() {
	var oldestKey string
	var oldestTick uint64
	first := true
	for k, sl := range s.slots {
		if first || sl.lastUsed < oldestTick {
			oldestKey = k
			oldestTick = sl.lastUsed
			first = false
		}
	}
	if !first {
		delete(s.slots, oldestKey)
	}
}
