// Package inmem implements cache.L2 as a brute-force cosine scan, for
// tests and single-node deployments, the same shape as
// internal/memory/semantic/inmem for the same reason: a small corpus makes
// an index unnecessary and a linear scan easy to reason about.
package inmem

import (
	"context"
	"math"
	"sync"

	"github.com/lawercase/petition-orchestrator/internal/cache"
	"github.com/lawercase/petition-orchestrator/internal/clock"
)

type bucketKey struct {
	modelID              string
	quantizedTemperature float64
}

// Store scans entries within the same (model_id, quantized_temperature)
// bucket for the nearest neighbor above threshold.
type Store struct {
	mu      sync.Mutex
	clock   clock.Clock
	buckets map[bucketKey][]cache.Entry
}

// New returns an empty Store.
func New(c clock.Clock) *Store {
	return &Store{clock: c, buckets: make(map[bucketKey][]cache.Entry)}
}

func (s *Store) Search(_ context.Context, modelID string, quantizedTemperature float64, embedding []float32, threshold float64) (cache.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey{modelID, quantizedTemperature}
	bucket := s.buckets[key]
	now := s.clock.Now()
	live := bucket[:0]
	var best cache.Entry
	bestScore := -1.0
	for _, e := range bucket {
		if now.After(e.ExpiresAt) {
			continue
		}
		live = append(live, e)
		score := cosine(embedding, e.Embedding)
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	s.buckets[key] = live
	if bestScore < threshold {
		return cache.Entry{}, false, nil
	}
	return best, true, nil
}

func (s *Store) Insert(_ context.Context, modelID string, quantizedTemperature float64, entry cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey{modelID, quantizedTemperature}
	s.buckets[key] = append(s.buckets[key], entry)
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
