// Package qdrant implements semantic.Store against a Qdrant vector database,
// grounded on kadirpekel-hector's pkg/vector.QdrantProvider (collection
// creation, point upsert, filtered search over the gRPC client).
package qdrant

import (
	"context"
	"fmt"
	"slices"

	qd "github.com/qdrant/go-client/qdrant"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/memory"
)

const collectionName = "semantic_records"

// Config configures the connection to a Qdrant instance.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Store implements semantic.Store against Qdrant.
type Store struct {
	client    *qd.Client
	dimension int
}

// New connects to Qdrant and ensures the backing collection exists with the
// given dimension.
func New(ctx context.Context, cfg Config, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, apperr.New(apperr.Internal, "qdrant semantic store: dimension must be positive")
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qd.NewClient(&qd.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "qdrant semantic store: connect", err)
	}

	exists, err := client.CollectionExists(ctx, collectionName)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "qdrant semantic store: check collection", err)
	}
	if !exists {
		if err := client.CreateCollection(ctx, &qd.CreateCollection{
			CollectionName: collectionName,
			VectorsConfig: qd.NewVectorsConfig(&qd.VectorParams{
				Size:     uint64(dimension),
				Distance: qd.Distance_Cosine,
			}),
		}); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "qdrant semantic store: create collection", err)
		}
	}

	return &Store{client: client, dimension: dimension}, nil
}

func (s *Store) Dimension() int { return s.dimension }

func (s *Store) Insert(ctx context.Context, records []memory.Record) error {
	points := make([]*qd.PointStruct, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != s.dimension {
			return apperr.New(apperr.EmbeddingDimensionMismatch,
				fmt.Sprintf("qdrant semantic store: record %s has embedding dimension %d, want %d", r.ID, len(r.Embedding), s.dimension))
		}
		payload, err := toPayload(r)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "qdrant semantic store: encode payload", err)
		}
		points = append(points, &qd.PointStruct{
			Id:      qd.NewID(r.ID),
			Vectors: qd.NewVectors(r.Embedding...),
			Payload: payload,
		})
	}

	if _, err := s.client.Upsert(ctx, &qd.UpsertPoints{
		CollectionName: collectionName,
		Points:         points,
	}); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "qdrant semantic store: upsert", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, queryEmbedding []float32, topK int, filter memory.Filter) ([]memory.Scored, error) {
	if len(queryEmbedding) != s.dimension {
		return nil, apperr.New(apperr.EmbeddingDimensionMismatch,
			fmt.Sprintf("qdrant semantic store: query embedding dimension %d, want %d", len(queryEmbedding), s.dimension))
	}

	req := &qd.SearchPoints{
		CollectionName: collectionName,
		Vector:         queryEmbedding,
		Limit:          uint64(topK),
		WithPayload:    qd.NewWithPayload(true),
	}
	if qf := buildFilter(filter); qf != nil {
		req.Filter = qf
	}

	result, err := s.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "qdrant semantic store: search", err)
	}

	out := make([]memory.Scored, 0, len(result.Result))
	for _, p := range result.Result {
		rec := fromPayload(p)
		if len(filter.Tags) > 0 && !slices.ContainsFunc(filter.Tags, func(t string) bool { return slices.Contains(rec.Tags, t) }) {
			continue
		}
		out = append(out, memory.Scored{Record: rec, Score: float64(p.Score)})
	}
	return out, nil
}

func buildFilter(filter memory.Filter) *qd.Filter {
	var must []*qd.Condition
	if filter.UserID != "" {
		must = append(must, matchKeyword("user_id", filter.UserID))
	}
	if filter.CaseID != "" {
		must = append(must, matchKeyword("case_id", filter.CaseID))
	}
	if len(must) == 0 {
		return nil
	}
	return &qd.Filter{Must: must}
}

func matchKeyword(key, value string) *qd.Condition {
	return &qd.Condition{
		ConditionOneOf: &qd.Condition_Field{
			Field: &qd.FieldCondition{
				Key:   key,
				Match: &qd.Match{MatchValue: &qd.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func toPayload(r memory.Record) (map[string]*qd.Value, error) {
	payload := map[string]*qd.Value{}
	var err error
	if payload["user_id"], err = qd.NewValue(r.UserID); err != nil {
		return nil, err
	}
	if r.CaseID != "" {
		if payload["case_id"], err = qd.NewValue(r.CaseID); err != nil {
			return nil, err
		}
	}
	if payload["text"], err = qd.NewValue(r.Text); err != nil {
		return nil, err
	}
	if len(r.Tags) > 0 {
		anyTags := make([]any, len(r.Tags))
		for i, t := range r.Tags {
			anyTags[i] = t
		}
		if payload["tags"], err = qd.NewValue(anyTags); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func fromPayload(p *qd.ScoredPoint) memory.Record {
	var id string
	if p.Id != nil {
		switch v := p.Id.PointIdOptions.(type) {
		case *qd.PointId_Uuid:
			id = v.Uuid
		case *qd.PointId_Num:
			id = fmt.Sprintf("%d", v.Num)
		}
	}
	r := memory.Record{ID: id, Type: memory.Semantic}
	if p.Payload == nil {
		return r
	}
	if v, ok := p.Payload["user_id"]; ok {
		r.UserID = v.GetStringValue()
	}
	if v, ok := p.Payload["case_id"]; ok {
		r.CaseID = v.GetStringValue()
	}
	if v, ok := p.Payload["text"]; ok {
		r.Text = v.GetStringValue()
	}
	if v, ok := p.Payload["tags"]; ok && v.GetListValue() != nil {
		for _, item := range v.GetListValue().Values {
			r.Tags = append(r.Tags, item.GetStringValue())
		}
	}
	return r
}
