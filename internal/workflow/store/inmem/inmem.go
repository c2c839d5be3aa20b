// Package inmem implements store.Store as a process-local map, for tests
// and single-node deployments. Grounded on
// runtime/agent/session/inmem/store.go's copy-on-read discipline: every
// read returns a clone so callers can't mutate store internals by
// reference.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	"github.com/lawercase/petition-orchestrator/internal/workflow/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu     sync.Mutex
	clock  clock.Clock
	notify store.Broadcaster
	states map[string]workflow.State
}

// New returns an empty Store. notify may be store.NoopBroadcaster{}.
func New(c clock.Clock, notify store.Broadcaster) *Store {
	if notify == nil {
		notify = store.NoopBroadcaster{}
	}
	return &Store{clock: c, notify: notify, states: make(map[string]workflow.State)}
}

func (s *Store) Save(ctx context.Context, state workflow.State) error {
	if state.ThreadID == "" {
		return apperr.New(apperr.InvalidState, "workflow store: thread_id is required")
	}
	state.UpdatedAt = s.clock.Now()

	s.mu.Lock()
	s.states[state.ThreadID] = state.Clone()
	s.mu.Unlock()

	s.notify.Publish(ctx, workflow.Delta{ThreadID: state.ThreadID, Kind: "full", State: state.Clone()})
	return nil
}

func (s *Store) Load(_ context.Context, threadID string) (workflow.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[threadID]
	if !ok {
		return workflow.State{}, apperr.New(apperr.NotFound, "workflow store: thread not found")
	}
	return st.Clone(), nil
}

func (s *Store) UpdateSection(ctx context.Context, threadID, sectionID string, patch workflow.SectionPatch) error {
	now := s.clock.Now()
	st, err := s.mutate(threadID, func(st *workflow.State) error {
		for i := range st.Sections {
			if st.Sections[i].SectionID == sectionID {
				st.Sections[i] = patch.Apply(st.Sections[i], now)
				st.UpdatedAt = now
				return nil
			}
		}
		return apperr.New(apperr.NotFound, "workflow store: section not found")
	})
	if err != nil {
		return err
	}
	s.notify.Publish(ctx, workflow.Delta{ThreadID: threadID, Kind: "section_update", State: st})
	return nil
}

func (s *Store) AddExhibit(ctx context.Context, threadID string, exhibit workflow.Exhibit) error {
	st, err := s.mutate(threadID, func(st *workflow.State) error {
		st.Exhibits = append(st.Exhibits, exhibit)
		st.UpdatedAt = s.clock.Now()
		return nil
	})
	if err != nil {
		return err
	}
	s.notify.Publish(ctx, workflow.Delta{ThreadID: threadID, Kind: "exhibit_added", State: st})
	return nil
}

func (s *Store) AddLog(ctx context.Context, threadID string, entry workflow.LogEntry) error {
	st, err := s.mutate(threadID, func(st *workflow.State) error {
		st.Logs = append(st.Logs, entry)
		st.UpdatedAt = s.clock.Now()
		return nil
	})
	if err != nil {
		return err
	}
	s.notify.Publish(ctx, workflow.Delta{ThreadID: threadID, Kind: "log_added", State: st})
	return nil
}

func (s *Store) SetStatus(ctx context.Context, threadID string, status workflow.Status, at time.Time) error {
	st, err := s.mutate(threadID, func(st *workflow.State) error {
		st.Status = status
		st.UpdatedAt = at
		if status == workflow.StatusCompleted || status == workflow.StatusError {
			completed := at
			st.CompletedAt = &completed
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify.Publish(ctx, workflow.Delta{ThreadID: threadID, Kind: "status_changed", State: st})
	return nil
}

func (s *Store) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, threadID)
	return nil
}

func (s *Store) ListActive(_ context.Context) ([]workflow.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []workflow.State
	for _, st := range s.states {
		if st.Status == workflow.StatusGenerating || st.Status == workflow.StatusPaused {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out, nil
}

// mutate applies fn to a cloned copy of the stored state under lock and
// persists the result, returning the clone handed to callers/broadcast.
func (s *Store) mutate(threadID string, fn func(*workflow.State) error) (workflow.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[threadID]
	if !ok {
		return workflow.State{}, apperr.New(apperr.NotFound, "workflow store: thread not found")
	}
	clone := st.Clone()
	if err := fn(&clone); err != nil {
		return workflow.State{}, err
	}
	s.states[threadID] = clone
	return clone.Clone(), nil
}
