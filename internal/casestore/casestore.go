// Package casestore implements the Case record referenced (but not owned)
// by the core per the data model: "Case (referenced, external)". The
// dispatch Case agent (C10) and the intake state machine (C12) both need
// a concrete home for it, so it lives here as a narrow store rather than
// inside either caller. Grounded on the teacher's Store-interface-per-
// entity shape (runtime/agent/session/session.go's Store:
// CreateSession/LoadSession/EndSession), adapted to a soft-deletable
// record with a Restore path for C12's orphan recovery.
package casestore

import (
	"context"
	"sync"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/ids"
)

// Case is the Case record from the data model.
type Case struct {
	CaseID    string
	UserID    string
	Title     string
	Status    string // "draft", "active", "submitted", ...
	CaseType  string // questionnaire category: "EB1A", "O1", "General"
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Store is the Case contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create inserts a new case, assigning CaseID if unset.
	Create(ctx context.Context, c Case) (Case, error)

	// Get returns the case by ID. Returns apperr.NotFound if absent or
	// soft-deleted.
	Get(ctx context.Context, caseID string) (Case, error)

	// ListActive returns every non-deleted case for userID, most recently
	// updated first.
	ListActive(ctx context.Context, userID string) ([]Case, error)

	// Exists reports whether a non-deleted case with the given ID exists,
	// without surfacing apperr.NotFound for the common existence-check
	// case (C12's ensure_case_exists guard).
	Exists(ctx context.Context, caseID string) (bool, error)

	// Restore re-creates a case at a specific, caller-supplied CaseID
	// (C12's orphan recovery path, S4). It fails with apperr.Conflict if
	// a non-deleted case with that ID already exists.
	Restore(ctx context.Context, c Case) (Case, error)

	// SoftDelete marks a case deleted without removing its history.
	SoftDelete(ctx context.Context, caseID string) error
}

// InMemory is a process-local Store backed by a map, suitable for tests
// and single-node deployments.
type InMemory struct {
	mu    sync.RWMutex
	clock clock.Clock
	cases map[string]Case
}

// NewInMemory returns an empty in-memory case store.
func NewInMemory(c clock.Clock) *InMemory {
	return &InMemory{clock: c, cases: make(map[string]Case)}
}

func (s *InMemory) Create(_ context.Context, c Case) (Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CaseID == "" {
		c.CaseID = ids.Prefixed("case")
	}
	if existing, ok := s.cases[c.CaseID]; ok && existing.DeletedAt == nil {
		return Case{}, apperr.New(apperr.Conflict, "casestore: case already exists")
	}
	now := s.clock.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.DeletedAt = nil
	s.cases[c.CaseID] = c
	return c, nil
}

func (s *InMemory) Get(_ context.Context, caseID string) (Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[caseID]
	if !ok || c.DeletedAt != nil {
		return Case{}, apperr.New(apperr.NotFound, "casestore: case not found")
	}
	return c, nil
}

func (s *InMemory) ListActive(_ context.Context, userID string) ([]Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Case
	for _, c := range s.cases {
		if c.UserID == userID && c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].UpdatedAt.After(out[j-1].UpdatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (s *InMemory) Exists(_ context.Context, caseID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	return ok && c.DeletedAt == nil, nil
}

func (s *InMemory) Restore(_ context.Context, c Case) (Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cases[c.CaseID]; ok && existing.DeletedAt == nil {
		return Case{}, apperr.New(apperr.Conflict, "casestore: case already exists, cannot restore")
	}
	now := s.clock.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.DeletedAt = nil
	s.cases[c.CaseID] = c
	return c, nil
}

func (s *InMemory) SoftDelete(_ context.Context, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok || c.DeletedAt != nil {
		return apperr.New(apperr.NotFound, "casestore: case not found")
	}
	now := s.clock.Now()
	c.DeletedAt = &now
	c.UpdatedAt = now
	s.cases[caseID] = c
	return nil
}
