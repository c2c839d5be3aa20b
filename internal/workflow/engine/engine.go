// Package engine defines the durable workflow engine abstractions (C9):
// Engine/WorkflowContext/Future/SignalChannel, copied nearly verbatim in
// shape from runtime/agent/engine/engine.go — the teacher's generic
// durable-execution seam — and specialized so a workflow's input/output is
// always a workflow.State rather than an arbitrary any. Node execution
// itself stays generic (ActivityFunc), since a graph node's job is the
// kind of short-lived, side-effecting unit Temporal calls an activity.
package engine

import (
	"context"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/telemetry"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
)

type (
	// Engine abstracts workflow registration and execution so adapters
	// (Temporal, in-memory) can be swapped without touching graph code.
	Engine interface {
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler (almost always a compiled
	// graph's Run method) to a logical name and default queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the durable entry point: given a WorkflowContext and
	// the initial state, it must deterministically reach a terminal state.
	WorkflowFunc func(ctx WorkflowContext, initial workflow.State) (workflow.State, error)

	// WorkflowContext exposes engine operations to a running workflow.
	// Implementations must keep ExecuteActivity/SignalChannel replay-safe:
	// no direct I/O, randomness, or wall-clock reads outside Now().
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string

		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		SignalChannel(name string) SignalChannel

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer

		Now() time.Time
	}

	// Future represents a pending activity result.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers a node handler with optional retry
	// defaults.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc executes one graph node's side-effecting work.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry/timeout behavior for an activity.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		ID          string
		Workflow    string
		TaskQueue   string
		Input       workflow.State
		Memo        map[string]any
		RetryPolicy RetryPolicy
	}

	// ActivityRequest schedules one activity invocation from within a
	// running workflow.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets callers interact with a running workflow.
	WorkflowHandle interface {
		Wait(ctx context.Context, result *workflow.State) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and
	// activities. Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes workflow signal delivery in an engine-agnostic
	// way, used for pause/resume and human-gate answers.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)
