package graph_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/telemetry"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	wfengine "github.com/lawercase/petition-orchestrator/internal/workflow/engine"
	"github.com/lawercase/petition-orchestrator/internal/workflow/engine/inmem"
	"github.com/lawercase/petition-orchestrator/internal/workflow/graph"
	"github.com/lawercase/petition-orchestrator/internal/workflow/hitl"
	"github.com/lawercase/petition-orchestrator/internal/workflow/interrupt"
	"github.com/lawercase/petition-orchestrator/internal/workflow/store"
	storeinmem "github.com/lawercase/petition-orchestrator/internal/workflow/store/inmem"
)

func newState(threadID string) workflow.State {
	return workflow.State{
		ThreadID: threadID,
		Status:   workflow.StatusGenerating,
		Sections: []workflow.Section{{SectionID: "s1", Status: workflow.SectionPending}},
	}
}

func TestGraph_RunsLinearPathToCompletion(t *testing.T) {
	t.Parallel()

	g := graph.New("doc_workflow_test")
	require.NoError(t, g.Add(graph.Node{
		ID: "draft",
		Run: func(_ context.Context, s workflow.State) (graph.NodeResult, error) {
			s.Sections[0].Status = workflow.SectionInProgress
			return graph.NodeResult{State: s}, nil
		},
	}))
	require.NoError(t, g.Add(graph.Node{
		ID: "finalize",
		Run: func(_ context.Context, s workflow.State) (graph.NodeResult, error) {
			s.Sections[0].Status = workflow.SectionCompleted
			s.Status = workflow.StatusCompleted
			return graph.NodeResult{State: s}, nil
		},
	}))
	require.NoError(t, g.Connect("draft", "finalize", nil))
	require.NoError(t, g.StartAt("draft"))

	eng := inmem.New(telemetry.NoopLogger{}, telemetry.NoopMetrics{}, telemetry.NoopTracer{})
	ctx := context.Background()
	require.NoError(t, g.RegisterActivities(ctx, eng))

	st := storeinmem.New(clock.NewFake(time.Unix(0, 0)), store.NoopBroadcaster{})
	require.NoError(t, eng.RegisterWorkflow(ctx, wfengine.WorkflowDefinition{
		Name:    "doc_workflow_test",
		Handler: g.Compile(st, nil),
	}))

	h, err := eng.StartWorkflow(ctx, wfengine.WorkflowStartRequest{
		ID:       "t1",
		Workflow: "doc_workflow_test",
		Input:    newState("t1"),
	})
	require.NoError(t, err)

	var final workflow.State
	require.NoError(t, h.Wait(ctx, &final))
	require.Equal(t, workflow.StatusCompleted, final.Status)
	require.Equal(t, workflow.SectionCompleted, final.Sections[0].Status)

	loaded, err := st.Load(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, loaded.Status)
}

func TestGraph_PauseThenResumeContinuesFromCurrentNode(t *testing.T) {
	t.Parallel()

	g := graph.New("pausable_workflow")
	require.NoError(t, g.Add(graph.Node{
		ID: "draft",
		Run: func(_ context.Context, s workflow.State) (graph.NodeResult, error) {
			s.Sections[0].Status = workflow.SectionInProgress
			return graph.NodeResult{State: s}, nil
		},
	}))
	require.NoError(t, g.Add(graph.Node{
		ID: "finalize",
		Run: func(_ context.Context, s workflow.State) (graph.NodeResult, error) {
			s.Sections[0].Status = workflow.SectionCompleted
			s.Status = workflow.StatusCompleted
			return graph.NodeResult{State: s}, nil
		},
	}))
	require.NoError(t, g.Connect("draft", "finalize", nil))
	require.NoError(t, g.StartAt("draft"))

	eng := inmem.New(telemetry.NoopLogger{}, telemetry.NoopMetrics{}, telemetry.NoopTracer{})
	ctx := context.Background()
	require.NoError(t, g.RegisterActivities(ctx, eng))

	st := storeinmem.New(clock.NewFake(time.Unix(0, 0)), store.NoopBroadcaster{})
	require.NoError(t, eng.RegisterWorkflow(ctx, wfengine.WorkflowDefinition{
		Name:    "pausable_workflow",
		Handler: g.Compile(st, nil),
	}))

	h, err := eng.StartWorkflow(ctx, wfengine.WorkflowStartRequest{
		ID:       "t2",
		Workflow: "pausable_workflow",
		Input:    newState("t2"),
	})
	require.NoError(t, err)

	require.NoError(t, h.Signal(ctx, "workflow.pause", struct{}{}))
	require.NoError(t, h.Signal(ctx, "workflow.resume", struct{}{}))

	var final workflow.State
	require.NoError(t, h.Wait(ctx, &final))
	require.Equal(t, workflow.StatusCompleted, final.Status)
}

func TestGraph_HumanGateSuspendsAndReRunsWithChoice(t *testing.T) {
	t.Parallel()

	g := graph.New("gated_workflow")
	require.NoError(t, g.Add(graph.Node{
		ID: "review",
		Run: func(_ context.Context, s workflow.State) (graph.NodeResult, error) {
			choices, _ := s.Metadata["human_gate_choices"].(map[string]string)
			if choice, ok := choices["review"]; ok {
				s.Metadata["decision"] = choice
				return graph.NodeResult{State: s}, nil
			}
			return graph.NodeResult{
				State: s,
				HumanGate: &hitl.Request{
					Prompt:        "approve this section?",
					Options:       []string{"approve", "reject"},
					DefaultChoice: "reject",
				},
			}, nil
		},
	}))
	require.NoError(t, g.Add(graph.Node{
		ID: "finalize",
		Run: func(_ context.Context, s workflow.State) (graph.NodeResult, error) {
			s.Status = workflow.StatusCompleted
			return graph.NodeResult{State: s}, nil
		},
	}))
	require.NoError(t, g.Connect("review", "finalize", nil))
	require.NoError(t, g.StartAt("review"))

	eng := inmem.New(telemetry.NoopLogger{}, telemetry.NoopMetrics{}, telemetry.NoopTracer{})
	ctx := context.Background()
	require.NoError(t, g.RegisterActivities(ctx, eng))

	st := storeinmem.New(clock.NewFake(time.Unix(0, 0)), store.NoopBroadcaster{})
	require.NoError(t, eng.RegisterWorkflow(ctx, wfengine.WorkflowDefinition{
		Name:    "gated_workflow",
		Handler: g.Compile(st, nil),
	}))

	initial := newState("t3")
	initial.Metadata = map[string]any{}
	h, err := eng.StartWorkflow(ctx, wfengine.WorkflowStartRequest{
		ID:       "t3",
		Workflow: "gated_workflow",
		Input:    initial,
	})
	require.NoError(t, err)

	require.NoError(t, h.Signal(ctx, interrupt.SignalProvideApproval, interrupt.ApprovalAnswer{
		ThreadID: "t3",
		Choice:   "approve",
	}))

	var final workflow.State
	require.NoError(t, h.Wait(ctx, &final))
	require.Equal(t, workflow.StatusCompleted, final.Status)
	require.Equal(t, "approve", final.Metadata["decision"])
	require.Equal(t, "approve", final.Metadata["human_gate_choices"].(map[string]string)["review"])
}
