// Package working implements the bounded per-thread working-memory slot map
// (C4): a small number of named values kept hot for the duration of a
// workflow run, evicted LRU-on-slot-count except for a pinned set. Grounded
// on the teacher's copy-on-read discipline for mutable per-thread state
// (runtime/agent/session/inmem/store.go's cloneSession pattern) applied to a
// slot map instead of a session record.
package working

import (
	"context"
	"sync"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
)

// Value is any JSON-marshalable slot payload: a string or a structured map.
type Value = any

// Store is the working-memory contract.
type Store interface {
	// Get returns the value stored in slot for thread, marking it as
	// recently used. ok is false if the slot is unset.
	Get(ctx context.Context, threadID, slot string) (Value, bool, error)

	// Set writes value into slot for thread atomically, evicting the
	// least-recently-read non-pinned slot if the thread is at capacity and
	// slot is new.
	Set(ctx context.Context, threadID, slot string, value Value) error

	// Snapshot returns a copy of every slot currently held for thread.
	Snapshot(ctx context.Context, threadID string) (map[string]Value, error)
}

type entry struct {
	value    Value
	lastUsed uint64
}

type threadSlots struct {
	slots map[string]*entry
	clock uint64
}

// InMemory is the process-local Store implementation.
type InMemory struct {
	mu          sync.Mutex
	maxSlots    int
	pinned      map[string]struct{}
	byThread    map[string]*threadSlots
}

// New returns a Store capping each thread at maxSlots slots. Names in
// pinnedSlots are exempt from LRU eviction.
func New(maxSlots int, pinnedSlots []string) *InMemory {
	pinned := make(map[string]struct{}, len(pinnedSlots))
	for _, p := range pinnedSlots {
		pinned[p] = struct{}{}
	}
	return &InMemory{
		maxSlots: maxSlots,
		pinned:   pinned,
		byThread: make(map[string]*threadSlots),
	}
}

func (s *InMemory) Get(_ context.Context, threadID, slot string) (Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.byThread[threadID]
	if !ok {
		return nil, false, nil
	}
	e, ok := ts.slots[slot]
	if !ok {
		return nil, false, nil
	}
	ts.clock++
	e.lastUsed = ts.clock
	return e.value, true, nil
}

func (s *InMemory) Set(_ context.Context, threadID, slot string, value Value) error {
	if s.maxSlots <= 0 {
		return apperr.New(apperr.Internal, "working memory: max slots must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.byThread[threadID]
	if !ok {
		ts = &threadSlots{slots: make(map[string]*entry)}
		s.byThread[threadID] = ts
	}

	ts.clock++
	if e, exists := ts.slots[slot]; exists {
		e.value = value
		return nil
	}

	if len(ts.slots) >= s.maxSlots {
		s.evictOne(ts)
	}
	ts.slots[slot] = &entry{value: value, lastUsed: ts.clock}
	return nil
}

func (s *InMemory) Snapshot(_ context.Context, threadID string) (map[string]Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.byThread[threadID]
	if !ok {
		return map[string]Value{}, nil
	}
	out := make(map[string]Value, len(ts.slots))
	for name, e := range ts.slots {
		out[name] = e.value
	}
	return out, nil
}

// evictOne removes the least-recently-read non-pinned slot. Callers must
// hold s.mu. If every occupied slot is pinned, no eviction occurs and the
// caller's Set proceeds over capacity rather than evicting a pinned slot.
func (s *InMemory) evictOne(ts *threadSlots) {
	var victim string
	var oldest uint64
	found := false
	for name, e := range ts.slots {
		if _, isPinned := s.pinned[name]; isPinned {
			continue
		}
		if !found || e.lastUsed < oldest {
			victim = name
			oldest = e.lastUsed
			found = true
		}
	}
	if found {
		delete(ts.slots, victim)
	}
}
