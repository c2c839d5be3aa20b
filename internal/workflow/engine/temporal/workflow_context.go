package temporal

import (
	"context"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/lawercase/petition-orchestrator/internal/telemetry"
	wfengine "github.com/lawercase/petition-orchestrator/internal/workflow/engine"
)

type (
	temporalWorkflowContext struct {
		engine     *Engine
		ctx        workflow.Context
		workflowID string
		runID      string
	}

	temporalFuture struct {
		future workflow.Future
		ctx    workflow.Context
	}

	temporalSignalChannel struct {
		ctx workflow.Context
		ch  workflow.ReceiveChannel
	}
)

func newTemporalWorkflowContext(e *Engine, ctx workflow.Context) *temporalWorkflowContext {
	info := workflow.GetInfo(ctx)
	w := &temporalWorkflowContext{
		engine:     e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
	}
	e.workflowContexts.Store(w.runID, w)
	return w
}

func (w *temporalWorkflowContext) Context() context.Context   { return context.Background() }
func (w *temporalWorkflowContext) WorkflowID() string          { return w.workflowID }
func (w *temporalWorkflowContext) RunID() string               { return w.runID }
func (w *temporalWorkflowContext) Logger() telemetry.Logger   { return w.engine.logger }
func (w *temporalWorkflowContext) Metrics() telemetry.Metrics { return w.engine.metrics }
func (w *temporalWorkflowContext) Tracer() telemetry.Tracer   { return w.engine.tracer }
func (w *temporalWorkflowContext) Now() time.Time             { return workflow.Now(w.ctx) }

func (w *temporalWorkflowContext) ExecuteActivity(_ context.Context, req wfengine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(context.Background(), req)
	if err != nil {
		return err
	}
	return fut.Get(context.Background(), result)
}

func (w *temporalWorkflowContext) ExecuteActivityAsync(_ context.Context, req wfengine.ActivityRequest) (wfengine.Future, error) {
	opts := workflow.ActivityOptions{
		TaskQueue:           req.Queue,
		StartToCloseTimeout: req.Timeout,
	}
	if opts.StartToCloseTimeout == 0 {
		opts.StartToCloseTimeout = 5 * time.Minute
	}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	} else {
		opts.RetryPolicy = &sdktemporal.RetryPolicy{MaximumAttempts: 5}
	}
	actx := workflow.WithActivityOptions(w.ctx, opts)
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	return &temporalFuture{future: fut, ctx: actx}, nil
}

func (w *temporalWorkflowContext) SignalChannel(name string) wfengine.SignalChannel {
	return &temporalSignalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

func (f *temporalFuture) Get(_ context.Context, result any) error {
	return f.future.Get(f.ctx, result)
}

func (f *temporalFuture) IsReady() bool { return f.future.IsReady() }

func (s *temporalSignalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *temporalSignalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}
