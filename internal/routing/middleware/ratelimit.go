// Package middleware provides reusable routing.Client middlewares,
// adapted from features/model/middleware/ratelimit.go's AdaptiveRateLimiter:
// the same AIMD token-bucket strategy (back off hard on a rate-limit
// error, probe back up slowly on success), simplified to a process-local
// limiter since this system has no Pulse/rmap cluster-coordination
// dependency in its stack.
package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/routing"
	"github.com/lawercase/petition-orchestrator/internal/routing/tokencount"
)

// AdaptiveRateLimiter applies an AIMD-style token bucket on top of a
// routing.Client: it estimates the token cost of a request, blocks until
// capacity is available, and shrinks its effective budget when the
// wrapped client reports apperr.ProviderUnavailable, recovering slowly
// on each subsequent success.
type AdaptiveRateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64

	recoveryRate float64
	counter      *tokencount.Counter
}

// NewAdaptiveRateLimiter builds a limiter starting at initialTPM
// tokens/minute (60000 when not positive). maxTPM caps recovery; when it
// is not positive or is below initialTPM it is raised to initialTPM.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64, counter *tokencount.Counter) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	if counter == nil {
		counter = tokencount.Shared()
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
		counter:      counter,
	}
}

// Middleware wraps next with the rate limit.
func (l *AdaptiveRateLimiter) Middleware(next routing.Client) routing.Client {
	if next == nil {
		return nil
	}
	return &limitedClient{next: next, limiter: l}
}

type limitedClient struct {
	next    routing.Client
	limiter *AdaptiveRateLimiter
}

func (c *limitedClient) Complete(ctx context.Context, req routing.Request) (routing.Response, error) {
	tokens := c.limiter.counter.CountMessages(toCountMessages(req.Messages))
	if err := c.limiter.limiter.WaitN(ctx, maxOne(tokens)); err != nil {
		return routing.Response{}, apperr.Wrap(apperr.Cancelled, "ratelimit: wait interrupted", err)
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func maxOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func toCountMessages(msgs []routing.Message) []tokencount.Message {
	out := make([]tokencount.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokencount.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if apperr.Is(err, apperr.ProviderUnavailable) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.mu.Unlock()
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.mu.Unlock()
}

// CurrentTPM reports the limiter's current tokens-per-minute budget, for
// diagnostics and tests.
func (l *AdaptiveRateLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}
