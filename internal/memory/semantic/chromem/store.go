// Package chromem implements semantic.Store using chromem-go, an embedded
// pure-Go vector store. Zero external dependencies, single-process only —
// the recommended backend for tests and small deployments. Grounded on
// kadirpekel-hector's pkg/vector.ChromemProvider.
package chromem

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/memory"
)

const collectionName = "semantic_records"

// Store implements semantic.Store on top of an in-process chromem-go
// collection.
type Store struct {
	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
	dimension  int
}

// New returns a Store bound to dimension. PersistPath, when non-empty,
// persists the index to disk across restarts.
func New(dimension int, persistPath string) (*Store, error) {
	if dimension <= 0 {
		return nil, apperr.New(apperr.Internal, "chromem semantic store: dimension must be positive")
	}

	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "chromem semantic store: open persistent db", err)
		}
	} else {
		db = chromem.NewDB()
	}

	// Records carry pre-computed embeddings from the orchestrator's own
	// embedder (C5); chromem's embedding func is never invoked.
	identity := func(context.Context, string) ([]float32, error) {
		return nil, apperr.New(apperr.Internal, "chromem semantic store: embeddings must be precomputed")
	}
	coll, err := db.GetOrCreateCollection(collectionName, nil, identity)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "chromem semantic store: create collection", err)
	}

	return &Store{db: db, collection: coll, dimension: dimension}, nil
}

func (s *Store) Dimension() int { return s.dimension }

func (s *Store) Insert(ctx context.Context, records []memory.Record) error {
	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != s.dimension {
			return apperr.New(apperr.EmbeddingDimensionMismatch,
				fmt.Sprintf("chromem semantic store: record %s has embedding dimension %d, want %d", r.ID, len(r.Embedding), s.dimension))
		}
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Metadata:  metadataToStrings(r),
			Embedding: r.Embedding,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "chromem semantic store: insert", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, queryEmbedding []float32, topK int, filter memory.Filter) ([]memory.Scored, error) {
	if len(queryEmbedding) != s.dimension {
		return nil, apperr.New(apperr.EmbeddingDimensionMismatch,
			fmt.Sprintf("chromem semantic store: query embedding dimension %d, want %d", len(queryEmbedding), s.dimension))
	}

	where := map[string]string{}
	if filter.UserID != "" {
		where["user_id"] = filter.UserID
	}
	if filter.CaseID != "" {
		where["case_id"] = filter.CaseID
	}

	s.mu.Lock()
	results, err := s.collection.QueryEmbedding(ctx, queryEmbedding, topK, where, nil)
	s.mu.Unlock()
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "chromem semantic store: search", err)
	}

	out := make([]memory.Scored, 0, len(results))
	for _, r := range results {
		rec := memory.Record{
			ID:       r.ID,
			Text:     r.Content,
			UserID:   r.Metadata["user_id"],
			CaseID:   r.Metadata["case_id"],
			Type:     memory.Semantic,
			Metadata: stringsToAny(r.Metadata),
		}
		if len(filter.Tags) > 0 && !hasAnyTag(tagsFromMetadata(r.Metadata), filter.Tags) {
			continue
		}
		out = append(out, memory.Scored{Record: rec, Score: float64(r.Similarity)})
	}
	return out, nil
}

func metadataToStrings(r memory.Record) map[string]string {
	m := make(map[string]string, len(r.Metadata)+3)
	m["user_id"] = r.UserID
	if r.CaseID != "" {
		m["case_id"] = r.CaseID
	}
	if len(r.Tags) > 0 {
		m["tags"] = joinTags(r.Tags)
	}
	for k, v := range r.Metadata {
		m[k] = fmt.Sprint(v)
	}
	return m
}

func stringsToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}

func tagsFromMetadata(m map[string]string) []string {
	v, ok := m["tags"]
	if !ok || v == "" {
		return nil
	}
	var tags []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				tags = append(tags, v[start:i])
			}
			start = i + 1
		}
	}
	return tags
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
