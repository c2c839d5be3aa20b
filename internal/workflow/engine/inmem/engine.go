// Package inmem provides a goroutine-per-workflow implementation of
// engine.Engine for tests and single-node deployments. Adapted from
// runtime/agent/engine/inmem/engine.go: a workflow handler runs in its own
// goroutine and its activities each run in a child goroutine resolved
// through a future, with signal delivery backed by a buffered channel per
// signal name. Like its teacher, this adapter is not replay-safe; it exists
// for the case a deployment doesn't need Temporal's durability.
package inmem

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/telemetry"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	wfengine "github.com/lawercase/petition-orchestrator/internal/workflow/engine"
)

type (
	eng struct {
		mu         sync.RWMutex
		workflows  map[string]wfengine.WorkflowDefinition
		activities map[string]activity

		log telemetry.Logger
		mx  telemetry.Metrics
		tr  telemetry.Tracer
	}

	activity struct {
		handler wfengine.ActivityFunc
		opts    wfengine.ActivityOptions
	}

	handle struct {
		mu     sync.Mutex
		done   chan struct{}
		err    error
		result workflow.State
		wctx   *wfCtx
	}

	wfCtx struct {
		ctx   context.Context
		id    string
		runID string
		eng   *eng

		sigMu sync.Mutex
		sigs  map[string]*signalChan
	}

	future struct {
		mu     sync.Mutex
		ready  chan struct{}
		result any
		err    error
	}

	signalChan struct{ ch chan any }
)

// New returns a fresh in-memory engine.
func New(log telemetry.Logger, mx telemetry.Metrics, tr telemetry.Tracer) wfengine.Engine {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	if mx == nil {
		mx = telemetry.NoopMetrics{}
	}
	if tr == nil {
		tr = telemetry.NoopTracer{}
	}
	return &eng{
		workflows:  make(map[string]wfengine.WorkflowDefinition),
		activities: make(map[string]activity),
		log:        log,
		mx:         mx,
		tr:         tr,
	}
}

func (e *eng) RegisterWorkflow(_ context.Context, def wfengine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("workflow engine: invalid workflow definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("workflow engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *eng) RegisterActivity(_ context.Context, def wfengine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("workflow engine: invalid activity definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("workflow engine: activity %q already registered", def.Name)
	}
	e.activities[def.Name] = activity{handler: def.Handler, opts: def.Options}
	return nil
}

func (e *eng) StartWorkflow(ctx context.Context, req wfengine.WorkflowStartRequest) (wfengine.WorkflowHandle, error) {
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow engine: workflow %q not registered", req.Workflow)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("workflow engine: workflow id is required")
	}

	wctx := &wfCtx{ctx: ctx, id: req.ID, runID: req.ID, eng: e, sigs: make(map[string]*signalChan)}
	h := &handle{done: make(chan struct{}), wctx: wctx}

	go func() {
		defer close(h.done)
		res, err := def.Handler(wctx, req.Input)
		h.mu.Lock()
		h.result, h.err = res, err
		h.mu.Unlock()
	}()

	return h, nil
}

func (h *handle) Wait(ctx context.Context, result *workflow.State) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		if result != nil {
			*result = h.result
		}
		return h.err
	}
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	ch := h.wctx.SignalChannel(name).(*signalChan)
	select {
	case ch.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return fmt.Errorf("workflow engine: workflow already completed")
	}
}

// Cancel is best-effort: the in-memory engine has no durable cancellation
// channel, so callers relying on true cancellation should signal
// interrupt.SignalPause/resume handling inside the graph instead.
func (h *handle) Cancel(context.Context) error { return nil }

func (w *wfCtx) Context() context.Context   { return w.ctx }
func (w *wfCtx) WorkflowID() string         { return w.id }
func (w *wfCtx) RunID() string              { return w.runID }
func (w *wfCtx) Logger() telemetry.Logger   { return w.eng.log }
func (w *wfCtx) Metrics() telemetry.Metrics { return w.eng.mx }
func (w *wfCtx) Tracer() telemetry.Tracer   { return w.eng.tr }
func (w *wfCtx) Now() time.Time             { return time.Now() }

func (w *wfCtx) ExecuteActivity(ctx context.Context, req wfengine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return fut.Get(ctx, result)
}

func (w *wfCtx) ExecuteActivityAsync(ctx context.Context, req wfengine.ActivityRequest) (wfengine.Future, error) {
	w.eng.mu.RLock()
	a, ok := w.eng.activities[req.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow engine: activity %q not registered", req.Name)
	}
	f := &future{ready: make(chan struct{})}
	go func() {
		defer close(f.ready)
		res, err := a.handler(ctx, req.Input)
		f.mu.Lock()
		f.result, f.err = res, err
		f.mu.Unlock()
	}()
	return f, nil
}

func (w *wfCtx) SignalChannel(name string) wfengine.SignalChannel {
	w.sigMu.Lock()
	defer w.sigMu.Unlock()
	ch, ok := w.sigs[name]
	if !ok {
		ch = &signalChan{ch: make(chan any, 1)}
		w.sigs[name] = ch
	}
	return ch
}

func (f *future) Get(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ready:
		f.mu.Lock()
		defer f.mu.Unlock()
		assignResult(result, f.result)
		return f.err
	}
}

func (f *future) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

func (s *signalChan) Receive(ctx context.Context, dest any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case v := <-s.ch:
		assignResult(dest, v)
		return nil
	}
}

func (s *signalChan) ReceiveAsync(dest any) bool {
	select {
	case v := <-s.ch:
		assignResult(dest, v)
		return true
	default:
		return false
	}
}

func assignResult(dst, src any) {
	if dst == nil || src == nil {
		return
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	if sv.IsValid() && sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return
	}
	if dv.Elem().Kind() == reflect.Interface && sv.Type().Implements(dv.Elem().Type()) {
		dv.Elem().Set(sv)
	}
}
