package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/cache"
	l1inmem "github.com/lawercase/petition-orchestrator/internal/cache/l1/inmem"
	l2inmem "github.com/lawercase/petition-orchestrator/internal/cache/l2/inmem"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/memory/embedder"
	"github.com/lawercase/petition-orchestrator/internal/telemetry"
)

func newTestCache(c clock.Clock) *cache.Cache {
	return cache.New(
		l1inmem.New(c, 0),
		l2inmem.New(c),
		embedder.NewDeterministic(8),
		c,
		telemetry.NoopLogger{},
		telemetry.NoopMetrics{},
		cache.Options{TTL: time.Hour, L2SimilarityThreshold: 0.95, TemperatureCacheableCeiling: 0.1},
	)
}

func TestCache_MissThenL1HitOnExactPrompt(t *testing.T) {
	t.Parallel()

	c := newTestCache(clock.NewFake(time.Unix(0, 0)))
	ctx := context.Background()

	_, hit, err := c.Get(ctx, "What is EB-1A?", "claude-sonnet", 0.0)
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, c.Put(ctx, "What is EB-1A?", "claude-sonnet", 0.0, "EB-1A is...", 42))

	entry, hit, err := c.Get(ctx, "What is EB-1A?", "claude-sonnet", 0.0)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "EB-1A is...", entry.Response)
}

func TestCache_L2HitAfterL1EvictionSameModelAndTemperature(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Unix(0, 0))
	c := cache.New(
		l1inmem.New(fc, 1),
		l2inmem.New(fc),
		embedder.NewDeterministic(8),
		fc,
		telemetry.NoopLogger{},
		telemetry.NoopMetrics{},
		cache.Options{TTL: time.Hour, L2SimilarityThreshold: 0.95, TemperatureCacheableCeiling: 0.1},
	)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "What is EB-1A?", "claude-sonnet", 0.0, "EB-1A is...", 42))

	// L1 holds one entry, so this second Put evicts the first prompt from
	// L1 while L2 keeps both. The deterministic embedder gives unrelated
	// vectors to different strings, so the lookup below repeats the first
	// prompt: it misses L1 and is served from the L2 bucket.
	require.NoError(t, c.Put(ctx, "Explain EB-1A", "claude-sonnet", 0.0, "another answer", 10))

	entry, hit, err := c.Get(ctx, "What is EB-1A?", "claude-sonnet", 0.0)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "EB-1A is...", entry.Response)
}

func TestCache_WritePolicyRejectsHighTemperature(t *testing.T) {
	t.Parallel()

	c := newTestCache(clock.NewFake(time.Unix(0, 0)))
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "Explain EB-1A", "claude-sonnet", 0.8, "a high-temperature answer", 10))

	_, hit, err := c.Get(ctx, "Explain EB-1A", "claude-sonnet", 0.8)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestCache_L2NeverCrossesModelBoundary(t *testing.T) {
	t.Parallel()

	c := newTestCache(clock.NewFake(time.Unix(0, 0)))
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "What is EB-1A?", "claude-sonnet", 0.0, "EB-1A is...", 42))

	_, hit, err := c.Get(ctx, "What is EB-1A?", "gpt-4o", 0.0)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Unix(0, 0))
	c := cache.New(
		l1inmem.New(fc, 0),
		l2inmem.New(fc),
		embedder.NewDeterministic(8),
		fc,
		telemetry.NoopLogger{},
		telemetry.NoopMetrics{},
		cache.Options{TTL: time.Minute, L2SimilarityThreshold: 0.999, TemperatureCacheableCeiling: 0.1},
	)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "What is EB-1A?", "claude-sonnet", 0.0, "EB-1A is...", 42))
	fc.Advance(2 * time.Minute)

	_, hit, err := c.Get(ctx, "What is EB-1A?", "claude-sonnet", 0.0)
	require.NoError(t, err)
	require.False(t, hit)
}
