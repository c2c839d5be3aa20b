// Package redisstore implements cache.L1 against Redis, giving the L1
// layer the TTL-backed shared backend the in-process map cannot provide
// across replicas.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lawercase/petition-orchestrator/internal/cache"
)

// Store wraps a Redis client, namespacing every key under a fixed prefix.
type Store struct {
	client *redis.Client
	prefix string
}

// New returns a Store over client. keyPrefix defaults to "respcache:".
func New(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "respcache:"
	}
	return &Store{client: client, prefix: keyPrefix}
}

type document struct {
	Prompt      string    `json:"prompt"`
	Embedding   []float32 `json:"embedding"`
	ModelID     string    `json:"model_id"`
	Response    string    `json:"response"`
	Temperature float64   `json:"temperature"`
	TokensUsed  int       `json:"tokens_used"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Store) Get(ctx context.Context, keyHash string) (cache.Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+keyHash).Bytes()
	if err == redis.Nil {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, err
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cache.Entry{}, false, err
	}
	return cache.Entry{
		KeyHash:     keyHash,
		Prompt:      doc.Prompt,
		Embedding:   doc.Embedding,
		ModelID:     doc.ModelID,
		Response:    doc.Response,
		Temperature: doc.Temperature,
		TokensUsed:  doc.TokensUsed,
		CreatedAt:   doc.CreatedAt,
		ExpiresAt:   doc.ExpiresAt,
	}, true, nil
}

func (s *Store) Put(ctx context.Context, entry cache.Entry, ttl time.Duration) error {
	doc := document{
		Prompt:      entry.Prompt,
		Embedding:   entry.Embedding,
		ModelID:     entry.ModelID,
		Response:    entry.Response,
		Temperature: entry.Temperature,
		TokensUsed:  entry.TokensUsed,
		CreatedAt:   entry.CreatedAt,
		ExpiresAt:   entry.ExpiresAt,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+entry.KeyHash, raw, ttl).Err()
}
