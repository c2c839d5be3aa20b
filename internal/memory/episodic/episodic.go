// Package episodic implements the append-only episodic store (C2): every
// user-visible event the orchestrator observes, queryable by user/case/time
// window. Grounded on the teacher's memory.Store.AppendEvents/LoadRun shape,
// generalized from a per-run event log to a queryable multi-user table.
package episodic

import (
	"context"
	"sort"
	"sync"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/memory"
)

// Store is the episodic store contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append adds record to the log. record.Type must be memory.Episodic and
	// record.Embedding must be nil; callers violating this get apperr.InvalidState.
	Append(ctx context.Context, record memory.Record) error

	// Query returns episodic records matching filter with CreatedAt >= since
	// (zero time means no lower bound), ordered by CreatedAt ascending with
	// ties broken by ID, capped at limit (0 means no cap).
	Query(ctx context.Context, filter memory.Filter, since int64, limit int) ([]memory.Record, error)
}

// InMemory is a process-local Store backed by a slice per user, suitable for
// tests and single-node deployments without a durable backend configured.
type InMemory struct {
	mu      sync.RWMutex
	records map[string][]memory.Record // keyed by UserID
}

// NewInMemory returns an empty in-memory episodic store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string][]memory.Record)}
}

func (s *InMemory) Append(_ context.Context, record memory.Record) error {
	if record.Type != memory.Episodic {
		return apperr.New(apperr.InvalidState, "episodic store: record type must be episodic")
	}
	if record.Embedding != nil {
		return apperr.New(apperr.InvalidState, "episodic store: episodic records must not carry an embedding")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.UserID] = append(s.records[record.UserID], record)
	return nil
}

func (s *InMemory) Query(_ context.Context, filter memory.Filter, since int64, limit int) ([]memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []memory.Record
	for _, r := range s.records[filter.UserID] {
		if filter.CaseID != "" && r.CaseID != filter.CaseID {
			continue
		}
		if since != 0 && r.CreatedAt.UnixNano() < since {
			continue
		}
		if len(filter.Tags) > 0 && !hasAnyTag(r.Tags, filter.Tags) {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}
