// Package pinecone implements semantic.Store against a managed Pinecone
// index, grounded on kadirpekel-hector's pkg/vector.PineconeProvider
// (index-connection-per-call, structpb-encoded metadata).
package pinecone

import (
	"context"
	"fmt"
	"slices"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/memory"
)

// Config configures the Pinecone connection.
type Config struct {
	APIKey    string
	Host      string
	IndexName string
}

// Store implements semantic.Store against Pinecone. The target index must
// already exist (Pinecone indexes are provisioned out of band) with the
// configured dimension.
type Store struct {
	client    *pinecone.Client
	indexName string
	dimension int
}

// New validates cfg, connects, and confirms the target index exists.
func New(ctx context.Context, cfg Config, dimension int) (*Store, error) {
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.Internal, "pinecone semantic store: api key is required")
	}
	if dimension <= 0 {
		return nil, apperr.New(apperr.Internal, "pinecone semantic store: dimension must be positive")
	}

	params := pinecone.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		params.Host = cfg.Host
	}
	client, err := pinecone.NewClient(params)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "pinecone semantic store: connect", err)
	}

	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "petition-orchestrator"
	}
	indexes, err := client.ListIndexes(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "pinecone semantic store: list indexes", err)
	}
	found := false
	for _, idx := range indexes {
		if idx.Name == indexName {
			found = true
			break
		}
	}
	if !found {
		return nil, apperr.New(apperr.Internal, fmt.Sprintf("pinecone semantic store: index %q does not exist; provision it via the Pinecone console first", indexName))
	}

	return &Store{client: client, indexName: indexName, dimension: dimension}, nil
}

func (s *Store) Dimension() int { return s.dimension }

func (s *Store) conn(ctx context.Context) (*pinecone.IndexConnection, error) {
	idx, err := s.client.DescribeIndex(ctx, s.indexName)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "pinecone semantic store: describe index", err)
	}
	conn, err := s.client.Index(pinecone.NewIndexConnParams{Host: idx.Host})
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "pinecone semantic store: connect to index", err)
	}
	return conn, nil
}

func (s *Store) Insert(ctx context.Context, records []memory.Record) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	vectors := make([]*pinecone.Vector, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != s.dimension {
			return apperr.New(apperr.EmbeddingDimensionMismatch,
				fmt.Sprintf("pinecone semantic store: record %s has embedding dimension %d, want %d", r.ID, len(r.Embedding), s.dimension))
		}
		meta, err := structpb.NewStruct(toMetadata(r))
		if err != nil {
			return apperr.Wrap(apperr.Internal, "pinecone semantic store: encode metadata", err)
		}
		vectors = append(vectors, &pinecone.Vector{
			Id:       r.ID,
			Values:   r.Embedding,
			Metadata: meta,
		})
	}

	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "pinecone semantic store: upsert", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, queryEmbedding []float32, topK int, filter memory.Filter) ([]memory.Scored, error) {
	if len(queryEmbedding) != s.dimension {
		return nil, apperr.New(apperr.EmbeddingDimensionMismatch,
			fmt.Sprintf("pinecone semantic store: query embedding dimension %d, want %d", len(queryEmbedding), s.dimension))
	}

	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var metaFilter *pinecone.MetadataFilter
	if f := toFilterMap(filter); len(f) > 0 {
		metaFilter, err = structpb.NewStruct(f)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "pinecone semantic store: encode filter", err)
		}
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          queryEmbedding,
		TopK:            uint32(topK),
		MetadataFilter:  metaFilter,
		IncludeMetadata: true,
		IncludeValues:   false,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "pinecone semantic store: query", err)
	}

	out := make([]memory.Scored, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.Vector == nil {
			continue
		}
		rec := fromMetadata(m.Vector.Id, m.Vector.Metadata)
		if len(filter.Tags) > 0 && !slices.ContainsFunc(filter.Tags, func(t string) bool { return slices.Contains(rec.Tags, t) }) {
			continue
		}
		out = append(out, memory.Scored{Record: rec, Score: float64(m.Score)})
	}
	return out, nil
}

func toMetadata(r memory.Record) map[string]any {
	m := map[string]any{"user_id": r.UserID, "text": r.Text}
	if r.CaseID != "" {
		m["case_id"] = r.CaseID
	}
	if len(r.Tags) > 0 {
		tags := make([]any, len(r.Tags))
		for i, t := range r.Tags {
			tags[i] = t
		}
		m["tags"] = tags
	}
	return m
}

func toFilterMap(filter memory.Filter) map[string]any {
	m := map[string]any{}
	if filter.UserID != "" {
		m["user_id"] = filter.UserID
	}
	if filter.CaseID != "" {
		m["case_id"] = filter.CaseID
	}
	return m
}

func fromMetadata(id string, meta *pinecone.Metadata) memory.Record {
	r := memory.Record{ID: id, Type: memory.Semantic}
	if meta == nil {
		return r
	}
	asMap := meta.AsMap()
	if v, ok := asMap["user_id"].(string); ok {
		r.UserID = v
	}
	if v, ok := asMap["case_id"].(string); ok {
		r.CaseID = v
	}
	if v, ok := asMap["text"].(string); ok {
		r.Text = v
	}
	if v, ok := asMap["tags"].([]any); ok {
		for _, t := range v {
			if s, ok := t.(string); ok {
				r.Tags = append(r.Tags, s)
			}
		}
	}
	return r
}
