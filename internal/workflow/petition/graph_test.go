package petition_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/routing"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	"github.com/lawercase/petition-orchestrator/internal/workflow/engine"
	"github.com/lawercase/petition-orchestrator/internal/workflow/engine/inmem"
	"github.com/lawercase/petition-orchestrator/internal/workflow/petition"
	"github.com/lawercase/petition-orchestrator/internal/workflow/store"
	storeinmem "github.com/lawercase/petition-orchestrator/internal/workflow/store/inmem"
)

type fakeClient struct{ text string }

func (f *fakeClient) Complete(_ context.Context, _ routing.Request) (routing.Response, error) {
	return routing.Response{Text: f.text, TokensOut: 5}, nil
}

type passValidator struct{ calls int }

func (p *passValidator) ValidateSections(_ context.Context, _ workflow.State) error {
	p.calls++
	return nil
}

func TestBuild_RunsSectionsInOrderAndValidates(t *testing.T) {
	t.Parallel()

	st := storeinmem.New(clock.NewFake(time.Unix(0, 0)), store.NoopBroadcaster{})
	eng := inmem.New(nil, nil, nil)
	router := routing.New(routing.Options{Providers: []routing.ProviderSpec{
		{ID: "p1", Client: &fakeClient{text: "drafted content long enough to pass validation checks easily"}, Supports: []string{"chat"}},
	}})
	validator := &passValidator{}

	specs := petition.EB1A()
	g, err := petition.Build("petition:test", specs, router, nil, st, validator)
	require.NoError(t, err)
	require.NoError(t, g.RegisterActivities(context.Background(), eng))
	require.NoError(t, eng.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name:    g.Name(),
		Handler: g.Compile(st, nil),
	}))

	sections := make([]workflow.Section, len(specs))
	for i, spec := range specs {
		sections[i] = workflow.Section{SectionID: spec.SectionID, Order: i, Name: spec.Name, Status: workflow.SectionPending}
	}
	initial := workflow.State{ThreadID: "t1", UserID: "u1", Status: workflow.StatusGenerating, Sections: sections}
	require.NoError(t, st.Save(context.Background(), initial))

	handle, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID:       initial.ThreadID,
		Workflow: g.Name(),
		Input:    initial,
	})
	require.NoError(t, err)

	var final workflow.State
	require.NoError(t, handle.Wait(context.Background(), &final))
	require.Equal(t, workflow.StatusCompleted, final.Status)
	require.Equal(t, 1, validator.calls)
	for _, sec := range final.Sections {
		require.Equal(t, workflow.SectionCompleted, sec.Status)
		require.NotEmpty(t, sec.ContentHTML)
	}
}

func TestBuild_RejectsEmptySections(t *testing.T) {
	t.Parallel()
	_, err := petition.Build("petition:empty", nil, nil, nil, nil, nil)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.InvalidState))
}
