// Package semantic defines the vector-index contract for the semantic store
// (C3): a narrow Store interface selected by configuration, grounded on the
// corpus's multi-backend vector-store pattern (kadirpekel-hector's
// pkg/vector.Provider, selected by ProviderType) generalized to the
// orchestrator's Record/Filter shape instead of a raw (collection,id,vector)
// triple.
package semantic

import (
	"context"

	"github.com/lawercase/petition-orchestrator/internal/memory"
)

// Store is the vector index contract. Dimension is fixed at construction
// time; Insert of a record whose Embedding length does not match it must
// fail with apperr.EmbeddingDimensionMismatch rather than silently
// truncating or padding.
type Store interface {
	// Insert adds records to the index. Every record must carry an
	// Embedding of exactly Dimension() length.
	Insert(ctx context.Context, records []memory.Record) error

	// Search returns the topK nearest records to queryEmbedding matching
	// filter, sorted by descending cosine similarity.
	Search(ctx context.Context, queryEmbedding []float32, topK int, filter memory.Filter) ([]memory.Scored, error)

	// Dimension reports the fixed vector length this index was built for.
	Dimension() int
}
