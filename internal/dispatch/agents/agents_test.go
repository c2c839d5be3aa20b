package agents_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/audit"
	"github.com/lawercase/petition-orchestrator/internal/casestore"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/dispatch"
	"github.com/lawercase/petition-orchestrator/internal/dispatch/agents"
	"github.com/lawercase/petition-orchestrator/internal/intake"
	"github.com/lawercase/petition-orchestrator/internal/memory"
	"github.com/lawercase/petition-orchestrator/internal/memory/embedder"
	"github.com/lawercase/petition-orchestrator/internal/memory/episodic"
	semanticinmem "github.com/lawercase/petition-orchestrator/internal/memory/semantic/inmem"
	"github.com/lawercase/petition-orchestrator/internal/routing"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
)

func newMemoryManager(t *testing.T) (*memory.Manager, clock.Clock) {
	t.Helper()
	c := clock.NewFake(time.Unix(0, 0))
	aud := audit.NewInMemory(c)
	return memory.New(episodic.NewInMemory(), semanticinmem.New(4), embedder.NewDeterministic(4), aud, c, nil), c
}

func TestCase_CreateThenIntakeStartAnswer(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(time.Unix(0, 0))
	cases := casestore.NewInMemory(c)
	mem, _ := newMemoryManager(t)
	aud := audit.NewInMemory(c)
	machine := intake.New(intake.NewInMemory(), cases, mem, aud, c, nil)
	agent := agents.NewCase(cases, machine)

	created, err := agent.Handle(context.Background(), dispatch.Command{
		UserID: "u1", Kind: "case_create", Payload: map[string]any{"title": "T1"},
	})
	require.NoError(t, err)
	cc, ok := created.Response.(casestore.Case)
	require.True(t, ok)
	require.Equal(t, "T1", cc.Title)

	started, err := agent.Handle(context.Background(), dispatch.Command{
		UserID: "u1", Kind: "intake_start", Payload: map[string]any{"case_id": cc.CaseID},
	})
	require.NoError(t, err)
	res, ok := started.Response.(intake.StatusResult)
	require.True(t, ok)
	require.Equal(t, "basic_info", res.Progress.CurrentBlock)

	answered, err := agent.Handle(context.Background(), dispatch.Command{
		UserID: "u1", Kind: "intake_answer", Payload: map[string]any{"case_id": cc.CaseID, "text": "Jane Doe"},
	})
	require.NoError(t, err)
	ares := answered.Response.(intake.StatusResult)
	require.Equal(t, 1, ares.Progress.CurrentStep)
	require.Equal(t, int64(3), agent.Stats()["calls"])
}

func TestCase_UnsupportedKind(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(time.Unix(0, 0))
	cases := casestore.NewInMemory(c)
	mem, _ := newMemoryManager(t)
	aud := audit.NewInMemory(c)
	machine := intake.New(intake.NewInMemory(), cases, mem, aud, c, nil)
	agent := agents.NewCase(cases, machine)

	_, err := agent.Handle(context.Background(), dispatch.Command{Kind: "no_such_kind"})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.InvalidState))
}

type fakeChatClient struct {
	text string
}

func (f *fakeChatClient) Complete(_ context.Context, req routing.Request) (routing.Response, error) {
	return routing.Response{Text: f.text, TokensOut: 10}, nil
}

func TestResearch_MemoryLookupAndAsk(t *testing.T) {
	t.Parallel()
	mem, _ := newMemoryManager(t)
	require.NoError(t, mem.Remember(context.Background(), "u1", "case1", "The beneficiary won a national award.", "award"))

	router := routing.New(routing.Options{
		Providers: []routing.ProviderSpec{{ID: "p1", Client: &fakeChatClient{text: "Yes, based on the award."}, Supports: []string{"chat"}}},
	})
	agent := agents.NewResearch(mem, router)

	lookup, err := agent.Handle(context.Background(), dispatch.Command{
		UserID: "u1", Kind: "memory_lookup", Payload: map[string]any{"case_id": "case1", "query": "award"},
	})
	require.NoError(t, err)
	facts := lookup.Response.([]memory.Scored)
	require.Len(t, facts, 1)

	asked, err := agent.Handle(context.Background(), dispatch.Command{
		UserID: "u1", Kind: "ask", Payload: map[string]any{"case_id": "case1", "text": "Does the beneficiary qualify?"},
	})
	require.NoError(t, err)
	out := asked.Response.(map[string]any)
	require.Equal(t, "Yes, based on the award.", out["answer"])
}

func TestValidator_RejectsIncompleteSections(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(time.Unix(0, 0))
	aud := audit.NewInMemory(c)
	v := agents.NewValidator(aud)

	err := v.ValidateSections(context.Background(), workflow.State{
		ThreadID: "t1", UserID: "u1",
		Sections: []workflow.Section{{SectionID: "s1", Status: workflow.SectionPending}},
	})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.InvalidState))

	events, err := aud.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "validation_failed", events[0].Action)
}

func TestValidator_AcceptsCompleteSections(t *testing.T) {
	t.Parallel()
	v := agents.NewValidator(nil)
	err := v.ValidateSections(context.Background(), workflow.State{
		Sections: []workflow.Section{{
			SectionID:   "s1",
			Status:      workflow.SectionCompleted,
			ContentHTML: "This is a sufficiently long drafted section body for validation to accept.",
		}},
	})
	require.NoError(t, err)
}
