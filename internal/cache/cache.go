// Package cache implements the two-layer response cache (C7): an exact-key
// L1 keyed on (canonical_prompt, model_id, quantized_temperature), and a
// semantic-similarity L2 for near-duplicate prompts within the same model
// and temperature band. Shape grounded on
// features/model/middleware/ratelimit.go's wrapper-around-model.Client
// pattern: the cache sits at the same seam a rate limiter would, in front
// of the provider call.
package cache

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/ids"
	"github.com/lawercase/petition-orchestrator/internal/memory/embedder"
	"github.com/lawercase/petition-orchestrator/internal/telemetry"
)

// Entry is a CachedResponse per the data model: a stored model response
// plus the key material needed to find it again.
type Entry struct {
	KeyHash     string
	Prompt      string
	Embedding   []float32
	ModelID     string
	Response    string
	Temperature float64 // exact caller-supplied temperature, kept for audit
	TokensUsed  int
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// L1 is the exact-key layer: O(1) lookup on a content hash.
type L1 interface {
	Get(ctx context.Context, keyHash string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry, ttl time.Duration) error
}

// L2 is the semantic-similarity layer: nearest-neighbor search restricted
// to entries sharing the same model_id and quantized temperature band, per
// the invariant that L2 must never cross model or temperature boundaries.
type L2 interface {
	Search(ctx context.Context, modelID string, quantizedTemperature float64, embedding []float32, threshold float64) (Entry, bool, error)
	Insert(ctx context.Context, modelID string, quantizedTemperature float64, entry Entry) error
}

// Options configures a Cache.
type Options struct {
	TTL                         time.Duration // default 1h
	MaxEntries                  int           // L1 LRU eviction bound, backend-enforced
	L2SimilarityThreshold       float64       // default 0.95
	TemperatureCacheableCeiling float64       // θ_cache, default 0.1
}

// Cache composes an L1 and an L2 store behind the write policy and metrics
// contract from the spec: cache only deterministic-enough responses,
// report hit rate per layer, average hit latency, and cost saved.
type Cache struct {
	l1     L1
	l2     L2
	embed  embedder.Embedder
	clock  clock.Clock
	log    telemetry.Logger
	mx     telemetry.Metrics
	opts   Options
	flight singleflight.Group
}

// New builds a Cache over the given layers.
func New(l1 L1, l2 L2, emb embedder.Embedder, c clock.Clock, log telemetry.Logger, mx telemetry.Metrics, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.L2SimilarityThreshold <= 0 {
		opts.L2SimilarityThreshold = 0.95
	}
	if opts.TemperatureCacheableCeiling <= 0 {
		opts.TemperatureCacheableCeiling = 0.1
	}
	return &Cache{l1: l1, l2: l2, embed: emb, clock: c, log: log, mx: mx, opts: opts}
}

// QuantizeTemperature rounds t to one decimal place, the granularity used
// for both the L1 key and the L2 temperature band.
func QuantizeTemperature(t float64) float64 {
	return math.Round(t*10) / 10
}

func keyHash(canonicalPrompt, modelID string, quantizedTemperature float64) string {
	return ids.ContentHash([]byte(fmt.Sprintf("%s\x00%s\x00%.1f", canonicalPrompt, modelID, quantizedTemperature)))
}

// Get looks up canonicalPrompt for modelID/temperature, trying L1 then L2.
// A true bool return means the Entry is a valid cache hit; cached=false on
// a clean miss is not an error.
func (c *Cache) Get(ctx context.Context, canonicalPrompt, modelID string, temperature float64) (Entry, bool, error) {
	quantized := QuantizeTemperature(temperature)
	hash := keyHash(canonicalPrompt, modelID, quantized)
	start := c.clock.Now()

	if entry, ok, err := c.l1.Get(ctx, hash); err != nil {
		return Entry{}, false, apperr.Wrap(apperr.StoreUnavailable, "cache: l1 get failed", err)
	} else if ok {
		c.recordHit("l1", start)
		return entry, true, nil
	}

	v, err, _ := c.flight.Do(hash, func() (any, error) {
		vecs, err := c.embed.Embed(ctx, []string{canonicalPrompt})
		if err != nil {
			return nil, err
		}
		entry, ok, err := c.l2.Search(ctx, modelID, quantized, vecs[0], c.opts.L2SimilarityThreshold)
		if err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "cache: l2 search failed", err)
		}
		if !ok {
			return nil, nil
		}
		// Backfill L1 so the next exact-match lookup is O(1).
		if err := c.l1.Put(ctx, entry, c.opts.TTL); err != nil {
			c.log.Warn(ctx, "cache: l1 backfill after l2 hit failed", "error", err)
		}
		return entry, nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	if v == nil {
		c.recordMiss()
		return Entry{}, false, nil
	}
	entry := v.(Entry)
	c.recordHit("l2", start)
	return entry, true, nil
}

// Put stores response for canonicalPrompt/modelID/temperature, subject to
// the write policy: only responses produced at or below the cacheable
// temperature ceiling are stored, since a high-temperature sample is not
// representative of what a repeat of the same prompt would produce.
func (c *Cache) Put(ctx context.Context, canonicalPrompt, modelID string, temperature float64, response string, tokensUsed int) error {
	if temperature > c.opts.TemperatureCacheableCeiling {
		return nil
	}

	quantized := QuantizeTemperature(temperature)
	vecs, err := c.embed.Embed(ctx, []string{canonicalPrompt})
	if err != nil {
		return err
	}

	now := c.clock.Now()
	entry := Entry{
		KeyHash:     keyHash(canonicalPrompt, modelID, quantized),
		Prompt:      canonicalPrompt,
		Embedding:   vecs[0],
		ModelID:     modelID,
		Response:    response,
		Temperature: temperature,
		TokensUsed:  tokensUsed,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.opts.TTL),
	}

	if err := c.l1.Put(ctx, entry, c.opts.TTL); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "cache: l1 put failed", err)
	}
	if err := c.l2.Insert(ctx, modelID, quantized, entry); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "cache: l2 insert failed", err)
	}
	return nil
}

func (c *Cache) recordHit(layer string, start time.Time) {
	c.mx.IncCounter("cache.hit", 1, "layer", layer)
	c.mx.RecordTimer("cache.hit_latency", c.clock.Now().Sub(start), "layer", layer)
}

func (c *Cache) recordMiss() {
	c.mx.IncCounter("cache.miss", 1)
}

// CostSaved reports the model cost a hit avoided, given the provider's
// per-token price; callers invoke this at the call site where both the
// Entry and the active routing price are known.
func CostSaved(entry Entry, costPerToken float64) float64 {
	return float64(entry.TokensUsed) * costPerToken
}
