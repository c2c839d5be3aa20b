// Package inmem implements runlog.Store in memory, for tests and local
// development.
package inmem

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/lawercase/petition-orchestrator/internal/runlog"
)

// Store implements runlog.Store in memory, assigning each run its own
// monotonically increasing sequence of event IDs.
type Store struct {
	mu      sync.Mutex
	nextSeq map[string]int64
	events  map[string][]*runlog.Event
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nextSeq: make(map[string]int64),
		events:  make(map[string][]*runlog.Event),
	}
}

func (s *Store) Append(_ context.Context, e *runlog.Event) error {
	if e == nil {
		return fmt.Errorf("runlog: event is required")
	}
	if e.RunID == "" {
		return fmt.Errorf("runlog: run_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[e.RunID] + 1
	s.nextSeq[e.RunID] = seq

	ev := *e
	ev.ID = strconv.FormatInt(seq, 10)
	s.events[e.RunID] = append(s.events[e.RunID], &ev)
	return nil
}

func (s *Store) List(_ context.Context, runID, cursor string, limit int) (runlog.Page, error) {
	if runID == "" {
		return runlog.Page{}, fmt.Errorf("runlog: run_id is required")
	}
	if limit <= 0 {
		return runlog.Page{}, fmt.Errorf("runlog: limit must be > 0")
	}

	var after int64
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return runlog.Page{}, fmt.Errorf("runlog: invalid cursor %q: %w", cursor, err)
		}
		after = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.events[runID]
	if len(all) == 0 {
		return runlog.Page{}, nil
	}

	start := 0
	if after > 0 {
		start = int(after)
		if start >= len(all) {
			return runlog.Page{}, nil
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	events := append([]*runlog.Event(nil), all[start:end]...)
	var next string
	if end < len(all) {
		next = events[len(events)-1].ID
	}
	return runlog.Page{Events: events, NextCursor: next}, nil
}
