// Package inmem implements semantic.Store with a brute-force in-process
// cosine scan, for tests and single-node deployments without a configured
// vector backend.
package inmem

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/memory"
)

// Store is a process-local semantic.Store.
type Store struct {
	mu        sync.RWMutex
	dimension int
	records   []memory.Record
}

// New returns an empty Store fixed to dimension.
func New(dimension int) *Store {
	return &Store{dimension: dimension}
}

func (s *Store) Dimension() int { return s.dimension }

func (s *Store) Insert(_ context.Context, records []memory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if len(r.Embedding) != s.dimension {
			return apperr.New(apperr.EmbeddingDimensionMismatch,
				fmt.Sprintf("semantic store: record %s has embedding dimension %d, want %d", r.ID, len(r.Embedding), s.dimension))
		}
		s.records = append(s.records, r)
	}
	return nil
}

func (s *Store) Search(_ context.Context, queryEmbedding []float32, topK int, filter memory.Filter) ([]memory.Scored, error) {
	if len(queryEmbedding) != s.dimension {
		return nil, apperr.New(apperr.EmbeddingDimensionMismatch,
			fmt.Sprintf("semantic store: query embedding dimension %d, want %d", len(queryEmbedding), s.dimension))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []memory.Scored
	for _, r := range s.records {
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if filter.CaseID != "" && r.CaseID != filter.CaseID {
			continue
		}
		if len(filter.Tags) > 0 && !hasAnyTag(r.Tags, filter.Tags) {
			continue
		}
		scored = append(scored, memory.Scored{Record: r, Score: cosine(queryEmbedding, r.Embedding)})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
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
