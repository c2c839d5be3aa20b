// Package temporal implements engine.Engine backed by Temporal
// (https://temporal.io), the durable-execution backend the workflow engine
// (C9) uses in production so a document workflow survives process
// restarts and crashes between checkpoints. Adapted from
// runtime/agent/engine/temporal/engine.go: one Temporal worker per task
// queue, workflow handlers wrapped to present engine.WorkflowContext,
// activities registered by name and invoked with the context Temporal
// supplies (no workflow run ID is attached to it).
package temporal

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/lawercase/petition-orchestrator/internal/telemetry"
	wfmodel "github.com/lawercase/petition-orchestrator/internal/workflow"
	wfengine "github.com/lawercase/petition-orchestrator/internal/workflow/engine"
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, ClientOptions
	// builds one.
	Client client.Client
	// ClientOptions constructs the client when Client is nil.
	ClientOptions *client.Options
	// WorkerOptions configures the default task queue and concurrency
	// shared across every worker this engine creates.
	WorkerOptions WorkerOptions
	// DisableWorkerAutoStart disables starting workers on first
	// StartWorkflow call; callers must use Worker().Start() instead.
	DisableWorkerAutoStart bool

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// WorkerOptions configures the shared worker settings applied to every
// task queue this engine manages.
type WorkerOptions struct {
	TaskQueue string
	Options   worker.Options
}

// Engine implements wfengine.Engine on top of the Temporal Go SDK.
type Engine struct {
	client      client.Client
	closeClient bool

	defaultQueue      string
	workerOpts        worker.Options
	autoStartDisabled bool

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu             sync.Mutex
	workers        map[string]*workerBundle
	workersStarted bool
	workflows      map[string]wfengine.WorkflowDefinition

	workflowContexts sync.Map // runID -> wfengine.WorkflowContext
}

// New constructs a Temporal engine adapter. Either Client or ClientOptions
// must be set, and WorkerOptions.TaskQueue is required.
func New(opts Options) (*Engine, error) {
	if opts.WorkerOptions.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: a default task queue is required")
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	mx := opts.Metrics
	if mx == nil {
		mx = telemetry.NoopMetrics{}
	}
	tr := opts.Tracer
	if tr == nil {
		tr = telemetry.NoopTracer{}
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options are required when Client is nil")
		}
		var err error
		cli, err = client.NewLazyClient(*opts.ClientOptions)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}

	return &Engine{
		client:            cli,
		closeClient:       closeClient,
		defaultQueue:      opts.WorkerOptions.TaskQueue,
		workerOpts:        opts.WorkerOptions.Options,
		autoStartDisabled: opts.DisableWorkerAutoStart,
		logger:            log,
		metrics:           mx,
		tracer:            tr,
		workers:           make(map[string]*workerBundle),
		workflows:         make(map[string]wfengine.WorkflowDefinition),
	}, nil
}

func (e *Engine) RegisterWorkflow(_ context.Context, def wfengine.WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("temporal engine: workflow name cannot be empty")
	}
	queue := def.TaskQueue
	if queue == "" {
		queue = e.defaultQueue
	}
	bundle, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}

	bundle.registerWorkflow(def.Name, func(tctx workflow.Context, input wfmodel.State) (wfmodel.State, error) {
		wfCtx := newTemporalWorkflowContext(e, tctx)
		defer e.workflowContexts.Delete(wfCtx.RunID())
		return def.Handler(wfCtx, input)
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *Engine) RegisterActivity(_ context.Context, def wfengine.ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("temporal engine: activity name cannot be empty")
	}
	queue := def.Options.Queue
	if queue == "" {
		queue = e.defaultQueue
	}
	bundle, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}
	bundle.registerActivity(def.Name, func(actx context.Context, input any) (any, error) {
		return def.Handler(actx, input)
	})
	return nil
}

func (e *Engine) StartWorkflow(ctx context.Context, req wfengine.WorkflowStartRequest) (wfengine.WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("temporal engine: workflow name is required")
	}
	e.mu.Lock()
	def, ok := e.workflows[req.Workflow]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("temporal engine: workflow %q is not registered", req.Workflow)
	}

	if !e.autoStartDisabled {
		e.ensureWorkersStarted()
	}

	queue := req.TaskQueue
	if queue == "" {
		queue = def.TaskQueue
	}
	if queue == "" {
		queue = e.defaultQueue
	}

	opts := client.StartWorkflowOptions{ID: req.ID, TaskQueue: queue}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}

	run, err := e.client.ExecuteWorkflow(ctx, opts, def.Name, req.Input)
	if err != nil {
		return nil, err
	}
	return &workflowHandle{run: run, client: e.client}, nil
}

// Worker returns a controller for manual worker lifecycle management; used
// when DisableWorkerAutoStart is set.
func (e *Engine) Worker() *WorkerController { return &WorkerController{engine: e} }

// Close shuts down the Temporal client if this engine created it.
func (e *Engine) Close() error {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
	return nil
}

func (e *Engine) workerForQueue(queue string) (*workerBundle, error) {
	if queue == "" {
		queue = e.defaultQueue
	}
	if queue == "" {
		return nil, fmt.Errorf("temporal engine: no task queue configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.workers[queue]; ok {
		return b, nil
	}
	w := worker.New(e.client, queue, e.workerOpts)
	b := &workerBundle{queue: queue, worker: w, logger: e.logger}
	e.workers[queue] = b
	if e.workersStarted {
		b.start()
	}
	return b, nil
}

func (e *Engine) ensureWorkersStarted() {
	e.mu.Lock()
	if e.workersStarted {
		e.mu.Unlock()
		return
	}
	e.workersStarted = true
	bundles := make([]*workerBundle, 0, len(e.workers))
	for _, b := range e.workers {
		bundles = append(bundles, b)
	}
	e.mu.Unlock()
	for _, b := range bundles {
		b.start()
	}
}

// WorkerController manages start/stop of every worker this engine owns.
type WorkerController struct{ engine *Engine }

func (c *WorkerController) Start() error {
	c.engine.ensureWorkersStarted()
	return nil
}

func (c *WorkerController) Stop() {
	c.engine.mu.Lock()
	bundles := make([]*workerBundle, 0, len(c.engine.workers))
	for _, b := range c.engine.workers {
		bundles = append(bundles, b)
	}
	c.engine.mu.Unlock()
	for _, b := range bundles {
		b.stop()
	}
}

type workerBundle struct {
	queue     string
	worker    worker.Worker
	logger    telemetry.Logger
	startOnce sync.Once
}

func (b *workerBundle) start() {
	b.startOnce.Do(func() {
		go func() {
			if err := b.worker.Run(worker.InterruptCh()); err != nil {
				b.logger.Error(context.Background(), "temporal worker exited", "queue", b.queue, "err", err)
			}
		}()
	})
}

func (b *workerBundle) stop() { b.worker.Stop() }

func (b *workerBundle) registerWorkflow(name string, fn any) {
	b.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
}

func (b *workerBundle) registerActivity(name string, fn any) {
	b.worker.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

type workflowHandle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *workflowHandle) Wait(ctx context.Context, result *wfmodel.State) error {
	return h.run.Get(ctx, result)
}

func (h *workflowHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

func convertRetryPolicy(rp wfengine.RetryPolicy) *sdktemporal.RetryPolicy {
	if rp.MaxAttempts == 0 && rp.InitialInterval == 0 && rp.BackoffCoefficient == 0 {
		return nil
	}
	out := &sdktemporal.RetryPolicy{}
	if rp.MaxAttempts > 0 {
		out.MaximumAttempts = int32(rp.MaxAttempts)
	}
	if rp.InitialInterval > 0 {
		out.InitialInterval = rp.InitialInterval
	}
	if rp.BackoffCoefficient > 0 {
		out.BackoffCoefficient = rp.BackoffCoefficient
	}
	return out
}
