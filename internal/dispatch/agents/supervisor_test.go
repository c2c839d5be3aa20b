package agents_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/dispatch"
	"github.com/lawercase/petition-orchestrator/internal/dispatch/agents"
)

type recordingDispatcher struct {
	kinds []string
	resp  map[string]dispatch.Response
}

func (r *recordingDispatcher) Dispatch(_ context.Context, cmd dispatch.Command) (dispatch.Response, error) {
	r.kinds = append(r.kinds, cmd.Kind)
	if resp, ok := r.resp[cmd.Kind]; ok {
		return resp, nil
	}
	return dispatch.Response{}, nil
}

func TestSupervisor_ComposesResearchThenWriter(t *testing.T) {
	t.Parallel()
	rd := &recordingDispatcher{resp: map[string]dispatch.Response{
		"memory_lookup":              {Response: []string{"fact one"}},
		"generate_petition_internal": {Response: map[string]string{"thread_id": "t1"}},
	}}
	sup := agents.NewSupervisor(rd)

	resp, err := sup.Handle(context.Background(), dispatch.Command{
		UserID: "u1", Kind: "generate_petition", Payload: map[string]any{"case_id": "case1", "document_type": "EB1A"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"memory_lookup", "generate_petition_internal"}, rd.kinds)
	require.Equal(t, map[string]string{"thread_id": "t1"}, resp.Response)
}

func TestSupervisor_RejectsMissingCaseID(t *testing.T) {
	t.Parallel()
	rd := &recordingDispatcher{}
	sup := agents.NewSupervisor(rd)

	_, err := sup.Handle(context.Background(), dispatch.Command{Kind: "generate_petition", Payload: map[string]any{}})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.InvalidState))
	require.Empty(t, rd.kinds)
}

func TestSupervisor_RejectsExcessiveHopDepth(t *testing.T) {
	t.Parallel()
	rd := &recordingDispatcher{}
	sup := agents.NewSupervisor(rd)

	_, err := sup.Handle(context.Background(), dispatch.Command{
		Kind: "generate_petition", Payload: map[string]any{"case_id": "case1", "__hop": 1},
	})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.InvalidState))
	require.Empty(t, rd.kinds)
}
