// Package remote implements embedder.Embedder against a remote embedding
// API, batching requests up to a configured size and retrying transient
// failures with exponential backoff. Libs: github.com/cenkalti/backoff/v4,
// present in the corpus's dependency graph (goa-ai, rakunlabs-at,
// kadirpekel-hector all carry it) though none of those repos wire it
// directly into application code — this is the first concrete consumer.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
)

// Caller performs one remote embedding request for a batch of texts,
// returning one vector per input in order. Implementations wrap a concrete
// provider SDK (OpenAI, Bedrock, ...); errors it returns are treated as
// transient and retried unless they satisfy apperr.Is(err, apperr.Internal).
type Caller interface {
	Call(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder batches and retries calls to a remote Caller.
type Embedder struct {
	caller     Caller
	modelID    string
	dimension  int
	batchSize  int
	maxRetries uint64
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Options configures an Embedder.
type Options struct {
	ModelID    string
	Dimension  int
	BatchSize  int // default 96
	MaxRetries uint64 // default 5
	BaseDelay  time.Duration // default 500ms
	MaxDelay   time.Duration // default 30s
}

// New returns an Embedder wrapping caller.
func New(caller Caller, opts Options) (*Embedder, error) {
	if caller == nil {
		return nil, apperr.New(apperr.Internal, "remote embedder: caller is required")
	}
	if opts.Dimension <= 0 {
		return nil, apperr.New(apperr.Internal, "remote embedder: dimension must be positive")
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 96
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &Embedder{
		caller:     caller,
		modelID:    opts.ModelID,
		dimension:  opts.Dimension,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}, nil
}

func (e *Embedder) Dimension() int { return e.dimension }

// Name identifies this embedder as a model_id for cache/record keying.
func (e *Embedder) Name() string { return e.modelID }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.baseDelay
	policy.MaxInterval = e.maxDelay
	bounded := backoff.WithMaxRetries(policy, e.maxRetries)
	withCtx := backoff.WithContext(bounded, ctx)

	var result [][]float32
	operation := func() error {
		vecs, err := e.caller.Call(ctx, batch)
		if err != nil {
			if apperr.Is(err, apperr.Internal) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(vecs) != len(batch) {
			return backoff.Permanent(apperr.New(apperr.Internal, "remote embedder: response vector count mismatch"))
		}
		for i, v := range vecs {
			if len(v) != e.dimension {
				return backoff.Permanent(apperr.New(apperr.EmbeddingDimensionMismatch,
					fmt.Sprintf("remote embedder: provider returned dimension %d for input %d, want %d", len(v), i, e.dimension)))
			}
		}
		result = vecs
		return nil
	}

	if err := backoff.Retry(operation, withCtx); err != nil {
		if apperr.KindOf(err) == apperr.EmbeddingDimensionMismatch || apperr.KindOf(err) == apperr.Internal {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.RetryExhausted, "remote embedder: retries exhausted", err)
	}
	return result, nil
}
