// Package routing implements model routing and budget tracking (C15):
// providers are declared with a cost and capability profile, the router
// consults the response cache (C7) before calling out, picks the
// cheapest capable provider under the active budget caps, falls back to
// the next-preferred provider on a retryable failure, and tracks spend
// atomically so a global budget exhaustion disables non-essential
// features process-wide.
//
// Client/Response shapes are grounded on
// runtime/agent/model.Client/Request/Response: trimmed to the
// chat-completion subset this system needs (no streaming, no tool use),
// since a petition-writing workflow node makes one blocking call and
// waits for the full text.
package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/cache"
	"github.com/lawercase/petition-orchestrator/internal/routing/tokencount"
	"github.com/lawercase/petition-orchestrator/internal/telemetry"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Request is one model invocation.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// Capability is the capability this request needs, e.g. "chat" or
	// "embed"; only providers declaring it in Supports are eligible.
	Capability string
	// Essential, when false, means the router may refuse this request
	// outright once the global budget drops under the warn threshold,
	// per the spec's "disables non-essential features" budget response.
	Essential bool
}

// Response is the result of one model invocation.
type Response struct {
	Text       string
	Provider   string
	Model      string
	TokensIn   int
	TokensOut  int
	CostUSD    float64
	FromCache  bool
}

// Client is the provider-agnostic model client every provider adapter
// implements.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ProviderSpec declares one provider's identity, pricing, and
// capabilities, per the spec's {id, cost_per_token, token_limit,
// supports} shape.
type ProviderSpec struct {
	ID             string
	Client         Client
	CostPerInputK  float64
	CostPerOutputK float64
	TokenLimit     int
	Supports       []string
}

func (p ProviderSpec) supports(capability string) bool {
	if capability == "" {
		return true
	}
	for _, c := range p.Supports {
		if c == capability {
			return true
		}
	}
	return false
}

func (p ProviderSpec) estimatedCost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1000*p.CostPerInputK + float64(tokensOut)/1000*p.CostPerOutputK
}

// BudgetTracker accumulates spend atomically and reports whether new
// spend is admissible under the per-request and global caps.
type BudgetTracker struct {
	mu            sync.Mutex
	perRequestCap float64
	globalCap     float64
	warnThreshold float64
	spent         float64
	warned        bool
	mx            telemetry.Metrics
}

// NewBudgetTracker builds a tracker. warnThreshold is a fraction of
// globalCap (e.g. 0.8) at which a one-time warning is logged/metered.
func NewBudgetTracker(perRequestCap, globalCap, warnThreshold float64, mx telemetry.Metrics) *BudgetTracker {
	if mx == nil {
		mx = telemetry.NoopMetrics{}
	}
	return &BudgetTracker{perRequestCap: perRequestCap, globalCap: globalCap, warnThreshold: warnThreshold, mx: mx}
}

// Remaining reports the unspent portion of the global budget.
func (b *BudgetTracker) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.globalCap - b.spent
}

// Admit reports whether estimatedCost fits the per-request cap and the
// remaining global budget, without committing the spend.
func (b *BudgetTracker) Admit(estimatedCost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.perRequestCap > 0 && estimatedCost > b.perRequestCap {
		return false
	}
	return b.globalCap <= 0 || b.spent+estimatedCost <= b.globalCap
}

// Commit records actualCost against the global budget, emitting a
// warning metric the first time total spend reaches warnThreshold of the
// cap.
func (b *BudgetTracker) Commit(ctx context.Context, actualCost float64) {
	b.mu.Lock()
	b.spent += actualCost
	b.mx.RecordGauge("routing.budget.spent", b.spent)
	shouldWarn := !b.warned && b.globalCap > 0 && b.spent >= b.globalCap*b.warnThreshold
	if shouldWarn {
		b.warned = true
	}
	b.mu.Unlock()
	if shouldWarn {
		b.mx.IncCounter("routing.budget.warning", 1)
	}
}

// Depleted reports whether the global budget has crossed the warn
// threshold, the signal the router uses to refuse non-essential
// requests.
func (b *BudgetTracker) Depleted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.globalCap > 0 && b.spent >= b.globalCap*b.warnThreshold
}

// Router selects a provider per request, consulting the cache first and
// falling back across providers on retryable failure.
type Router struct {
	providers []ProviderSpec
	cache     *cache.Cache
	budget    *BudgetTracker
	counter   *tokencount.Counter
	clock     func() time.Time
	log       telemetry.Logger
	mx        telemetry.Metrics
}

// Options configures a Router.
type Options struct {
	Providers []ProviderSpec
	Cache     *cache.Cache // optional; nil disables caching
	Budget    *BudgetTracker
	Counter   *tokencount.Counter
	Now       func() time.Time
	Log       telemetry.Logger
	Metrics   telemetry.Metrics
}

// New builds a Router. Providers are sorted ascending by
// CostPerInputK+CostPerOutputK so Route's default preference order is
// cost-minimizing; ties keep declaration order.
func New(opts Options) *Router {
	providers := append([]ProviderSpec(nil), opts.Providers...)
	sort.SliceStable(providers, func(i, j int) bool {
		return providers[i].CostPerInputK+providers[i].CostPerOutputK < providers[j].CostPerInputK+providers[j].CostPerOutputK
	})
	counter := opts.Counter
	if counter == nil {
		counter = tokencount.Shared()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	mx := opts.Metrics
	if mx == nil {
		mx = telemetry.NoopMetrics{}
	}
	budget := opts.Budget
	if budget == nil {
		budget = NewBudgetTracker(0, 0, 0.8, mx)
	}
	return &Router{providers: providers, cache: opts.Cache, budget: budget, counter: counter, clock: now, log: log, mx: mx}
}

func (r *Router) canonicalPrompt(req Request) string {
	var out string
	for _, m := range req.Messages {
		out += m.Role + ":" + m.Content + "\n"
	}
	return out
}

// Route selects a provider and performs the call, consulting the cache
// first. On a cache miss it tries providers in cost order, skipping any
// whose estimated cost exceeds the admissible budget or that lacks
// req.Capability, and falling through to the next provider when a call
// fails with a retryable apperr.ProviderUnavailable. If every eligible
// provider fails, it returns apperr.RetryExhausted; if no provider is
// admissible under budget, it returns apperr.BudgetExceeded.
func (r *Router) Route(ctx context.Context, req Request) (Response, error) {
	if !req.Essential && r.budget.Depleted() {
		return Response{}, apperr.New(apperr.BudgetExceeded, "routing: non-essential request refused, global budget depleted")
	}

	prompt := r.canonicalPrompt(req)
	primaryModel := ""
	if len(r.providers) > 0 {
		primaryModel = r.providers[0].ID
	}
	if r.cache != nil {
		if entry, ok, err := r.cache.Get(ctx, prompt, primaryModel, req.Temperature); err == nil && ok {
			r.mx.IncCounter("routing.cache_hit", 1)
			return Response{Text: entry.Response, Provider: primaryModel, TokensOut: entry.TokensUsed, FromCache: true}, nil
		}
	}

	eligible := make([]ProviderSpec, 0, len(r.providers))
	for _, p := range r.providers {
		if p.supports(req.Capability) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return Response{}, apperr.New(apperr.InvalidState, fmt.Sprintf("routing: no provider supports capability %q", req.Capability))
	}

	tokensIn := r.counter.CountMessages(toCountMessages(req.Messages))
	maxOut := req.MaxTokens
	if maxOut == 0 {
		maxOut = 1024
	}

	var lastErr error
	var budgetBlocked bool
	for _, p := range eligible {
		estimate := p.estimatedCost(tokensIn, maxOut)
		if !r.budget.Admit(estimate) {
			budgetBlocked = true
			continue
		}
		resp, err := p.Client.Complete(ctx, req)
		if err != nil {
			if apperr.Is(err, apperr.ProviderUnavailable) {
				lastErr = err
				r.mx.IncCounter("routing.fallback", 1, "provider", p.ID)
				continue
			}
			return Response{}, err
		}
		resp.Provider = p.ID
		if resp.TokensIn == 0 {
			resp.TokensIn = tokensIn
		}
		actualCost := p.estimatedCost(resp.TokensIn, resp.TokensOut)
		resp.CostUSD = actualCost
		r.budget.Commit(ctx, actualCost)
		if r.cache != nil {
			if err := r.cache.Put(ctx, prompt, p.ID, req.Temperature, resp.Text, resp.TokensOut); err != nil {
				r.log.Warn(ctx, "routing: cache put failed", "err", err)
			}
		}
		return resp, nil
	}

	if lastErr != nil {
		return Response{}, apperr.Wrap(apperr.RetryExhausted, "routing: every eligible provider failed", lastErr)
	}
	if budgetBlocked {
		return Response{}, apperr.New(apperr.BudgetExceeded, "routing: no provider admissible under the active budget caps")
	}
	return Response{}, apperr.New(apperr.InvalidState, "routing: no eligible provider")
}

func toCountMessages(msgs []Message) []tokencount.Message {
	out := make([]tokencount.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokencount.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
