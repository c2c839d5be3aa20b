package routing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/routing"
)

type fakeClient struct {
	resp routing.Response
	err  error
	n    int
}

func (f *fakeClient) Complete(context.Context, routing.Request) (routing.Response, error) {
	f.n++
	return f.resp, f.err
}

func TestRouter_PicksCheapestEligibleProvider(t *testing.T) {
	t.Parallel()

	cheap := &fakeClient{resp: routing.Response{Text: "cheap reply", TokensOut: 10}}
	expensive := &fakeClient{resp: routing.Response{Text: "expensive reply", TokensOut: 10}}

	r := routing.New(routing.Options{
		Providers: []routing.ProviderSpec{
			{ID: "expensive", Client: expensive, CostPerInputK: 1, CostPerOutputK: 1, Supports: []string{"chat"}},
			{ID: "cheap", Client: cheap, CostPerInputK: 0.001, CostPerOutputK: 0.001, Supports: []string{"chat"}},
		},
	})

	resp, err := r.Route(context.Background(), routing.Request{
		Messages:   []routing.Message{{Role: "user", Content: "hello"}},
		Capability: "chat",
		Essential:  true,
	})
	require.NoError(t, err)
	require.Equal(t, "cheap", resp.Provider)
	require.Equal(t, "cheap reply", resp.Text)
	require.Equal(t, 0, expensive.n)
}

func TestRouter_FallsBackOnProviderUnavailable(t *testing.T) {
	t.Parallel()

	failing := &fakeClient{err: apperr.New(apperr.ProviderUnavailable, "down")}
	ok := &fakeClient{resp: routing.Response{Text: "ok"}}

	r := routing.New(routing.Options{
		Providers: []routing.ProviderSpec{
			{ID: "failing", Client: failing, CostPerInputK: 0.001, CostPerOutputK: 0.001, Supports: []string{"chat"}},
			{ID: "ok", Client: ok, CostPerInputK: 0.002, CostPerOutputK: 0.002, Supports: []string{"chat"}},
		},
	})

	resp, err := r.Route(context.Background(), routing.Request{
		Messages:   []routing.Message{{Role: "user", Content: "hello"}},
		Capability: "chat",
		Essential:  true,
	})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
	require.Equal(t, 1, failing.n)
}

func TestRouter_RejectsNonEssentialWhenBudgetDepleted(t *testing.T) {
	t.Parallel()

	client := &fakeClient{resp: routing.Response{Text: "reply"}}
	budget := routing.NewBudgetTracker(10, 10, 0.5, nil)
	budget.Commit(context.Background(), 6)

	r := routing.New(routing.Options{
		Providers: []routing.ProviderSpec{{ID: "p", Client: client, Supports: []string{"chat"}}},
		Budget:    budget,
	})

	_, err := r.Route(context.Background(), routing.Request{
		Messages:   []routing.Message{{Role: "user", Content: "hi"}},
		Capability: "chat",
		Essential:  false,
	})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.BudgetExceeded))
	require.Equal(t, 0, client.n)
}

func TestRouter_BudgetExceededWhenNoProviderAdmissible(t *testing.T) {
	t.Parallel()

	client := &fakeClient{resp: routing.Response{Text: "reply"}}
	budget := routing.NewBudgetTracker(0.0000001, 1000, 0.8, nil)

	r := routing.New(routing.Options{
		Providers: []routing.ProviderSpec{{ID: "p", Client: client, CostPerInputK: 1, CostPerOutputK: 1, Supports: []string{"chat"}}},
		Budget:    budget,
	})

	_, err := r.Route(context.Background(), routing.Request{
		Messages:   []routing.Message{{Role: "user", Content: "hi"}},
		Capability: "chat",
		Essential:  true,
	})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.BudgetExceeded))
}
