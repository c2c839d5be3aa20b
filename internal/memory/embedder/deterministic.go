package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// Deterministic is a seeded hash-to-vector embedder suitable for offline
// tests: the same text always yields the same vector, with no network
// dependency, grounded on the corpus convention of shipping an in-memory
// test double alongside every store/provider interface.
type Deterministic struct {
	dimension int
}

// NewDeterministic returns a Deterministic embedder producing vectors of
// the given dimension.
func NewDeterministic(dimension int) *Deterministic {
	return &Deterministic{dimension: dimension}
}

func (d *Deterministic) Dimension() int { return d.dimension }

// Name identifies this embedder as a model_id for cache/record keying.
func (d *Deterministic) Name() string { return "deterministic-test" }

func (d *Deterministic) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = d.vectorFor(text)
	}
	return out, nil
}

func (d *Deterministic) vectorFor(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	rng := rand.New(rand.NewSource(int64(seed)))

	vec := make([]float32, d.dimension)
	var norm float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
