// Package graph implements the typed directed-graph executor at the core of
// the workflow engine (C9): nodes are registered as engine activities (so a
// Temporal-backed engine gets real durability per node), edges route
// deterministically by predicate, and the compiled WorkflowFunc checkpoints
// state after every node, honors pause/resume signals, and runs
// compensating nodes in reverse order on cancellation.
//
// Shape grounded on the node/edge/predicate arena in the langgraph-go
// reference engine (other_examples), adapted from a generic Engine[S] to a
// single fixed state type (workflow.State) and from direct in-process node
// execution to activity-backed node execution, matching this engine's
// split between durable workflow code and side-effecting activity code.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/audit"
	"github.com/lawercase/petition-orchestrator/internal/runlog"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	"github.com/lawercase/petition-orchestrator/internal/workflow/engine"
	"github.com/lawercase/petition-orchestrator/internal/workflow/hitl"
	"github.com/lawercase/petition-orchestrator/internal/workflow/interrupt"
	"github.com/lawercase/petition-orchestrator/internal/workflow/store"
)

// NodeResult is what a node returns: the new state (a node receives the
// full state and returns the full next state, not a delta — workflow.State
// is small and cloning is cheap) plus an optional explicit route override.
type NodeResult struct {
	State workflow.State
	Route string // next node ID; empty means "evaluate edges"

	// HumanGate, when non-nil, asks the graph executor (C13) to suspend
	// the workflow and wait for a human decision before this node is
	// re-invoked. A node that sets HumanGate must be idempotent about it:
	// on the next invocation the answer is available at
	// state.Metadata["human_gate_choices"][nodeID], and the node should
	// proceed using it instead of requesting the gate again.
	HumanGate *hitl.Request
}

// NodeFunc performs one node's work. It must be idempotent with respect to
// the state it returns: the engine may re-execute a node after a
// pre-checkpoint crash.
type NodeFunc func(ctx context.Context, state workflow.State) (NodeResult, error)

// Node is one vertex in the graph.
type Node struct {
	ID string
	Run NodeFunc
	// Compensate, if set, is invoked in reverse traversal order when a
	// workflow is cancelled after this node has run.
	Compensate NodeFunc
}

// Predicate decides whether an edge should be followed given the state
// produced by its source node. A nil Predicate means unconditional.
type Predicate func(state workflow.State) bool

// Edge is a possible transition between two nodes.
type Edge struct {
	From, To  string
	Predicate Predicate
}

// AuditAppender records one audit-trail entry per completed node
// transition; satisfied directly by audit.Store.
type AuditAppender interface {
	Append(ctx context.Context, userID, threadID, source, action string, payload any) (audit.Event, error)
}

// Graph is a compiled, named node/edge topology over workflow.State.
type Graph struct {
	name  string
	nodes map[string]Node
	order []string // declaration order, for deterministic edge evaluation
	edges []Edge
	start string
}

// New returns an empty graph identified by name (used as the activity-name
// prefix for every node registered from it).
func New(name string) *Graph {
	return &Graph{name: name, nodes: make(map[string]Node)}
}

// Add registers a node. IDs must be unique within the graph.
func (g *Graph) Add(n Node) error {
	if n.ID == "" || n.Run == nil {
		return fmt.Errorf("graph %q: invalid node", g.name)
	}
	if _, dup := g.nodes[n.ID]; dup {
		return fmt.Errorf("graph %q: node %q already registered", g.name, n.ID)
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// Connect adds an edge; edges are evaluated in the order Connect was called,
// first matching predicate wins.
func (g *Graph) Connect(from, to string, predicate Predicate) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("graph %q: unknown source node %q", g.name, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("graph %q: unknown target node %q", g.name, to)
	}
	g.edges = append(g.edges, Edge{From: from, To: to, Predicate: predicate})
	return nil
}

// StartAt designates the entry node.
func (g *Graph) StartAt(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("graph %q: unknown start node %q", g.name, id)
	}
	g.start = id
	return nil
}

func (g *Graph) activityName(nodeID string) string { return g.name + ":" + nodeID }

// Name returns the graph's registration name, used by callers as the
// engine.WorkflowDefinition.Name for the workflow this graph compiles to.
func (g *Graph) Name() string { return g.name }

// RegisterActivities registers every node's Run (and Compensate, if set)
// function as an engine activity, under name prefixed by the graph name.
func (g *Graph) RegisterActivities(ctx context.Context, eng engine.Engine) error {
	for _, id := range g.order {
		n := g.nodes[id]
		if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
			Name:    g.activityName(id),
			Handler: wrapNode(n.Run),
		}); err != nil {
			return err
		}
		if n.Compensate != nil {
			if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
				Name:    g.activityName(id) + ":compensate",
				Handler: wrapNode(n.Compensate),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func wrapNode(fn NodeFunc) engine.ActivityFunc {
	return func(ctx context.Context, input any) (any, error) {
		state, ok := input.(workflow.State)
		if !ok {
			return nil, fmt.Errorf("graph: activity input is not a workflow.State")
		}
		return fn(ctx, state)
	}
}

// nextNode evaluates edges leaving "from" in declaration order, returning
// the first one whose predicate matches (nil predicate always matches).
func (g *Graph) nextNode(from string, state workflow.State) (string, bool) {
	for _, e := range g.edges {
		if e.From != from {
			continue
		}
		if e.Predicate == nil || e.Predicate(state) {
			return e.To, true
		}
	}
	return "", false
}

// Option configures optional Compile behavior.
type Option func(*compileConfig)

type compileConfig struct {
	runlog runlog.Store
}

// WithRunLog attaches a diagnostic run log: every node transition and
// human-gate suspend/resume is appended to it in addition to the audit
// trail, for operator-facing execution tracing that the compliance
// audit record is not meant to carry.
func WithRunLog(s runlog.Store) Option {
	return func(c *compileConfig) { c.runlog = s }
}

// Compile returns a WorkflowFunc that drives the graph to completion:
// before each node it polls for a pause signal (checkpointing status_paused
// and blocking on resume if one arrives), after each node it checkpoints
// full state via st.Save and appends an audit entry, and on context
// cancellation it runs compensating nodes for the already-visited path in
// reverse order before returning apperr.Cancelled.
func (g *Graph) Compile(st store.Store, appender AuditAppender, opts ...Option) engine.WorkflowFunc {
	cfg := compileConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(wctx engine.WorkflowContext, initial workflow.State) (workflow.State, error) {
		ctx := wctx.Context()
		ctrl := interrupt.New(wctx)

		state := initial
		current := g.start
		if state.CurrentNode != "" {
			current = state.CurrentNode // resuming from a checkpoint
		}
		var visited []string

		for current != "" {
			if ctx.Err() != nil {
				runCompensations(ctx, g, visited, state)
				return state, apperr.Wrap(apperr.Cancelled, "workflow: cancelled", ctx.Err())
			}

			if ctrl.PollPause() {
				state.Status = workflow.StatusPaused
				if err := st.SetStatus(ctx, state.ThreadID, workflow.StatusPaused, wctx.Now()); err != nil {
					return state, err
				}
				if err := ctrl.WaitResume(ctx); err != nil {
					return state, apperr.Wrap(apperr.Cancelled, "workflow: cancelled while paused", err)
				}
				state.Status = workflow.StatusGenerating
				if err := st.SetStatus(ctx, state.ThreadID, workflow.StatusGenerating, wctx.Now()); err != nil {
					return state, err
				}
			}

			state.CurrentNode = current
			var out NodeResult
			err := wctx.ExecuteActivity(ctx, engine.ActivityRequest{
				Name:  g.activityName(current),
				Input: state,
			}, &out)
			if err != nil {
				runCompensations(ctx, g, visited, state)
				return state, apperr.Wrap(apperr.Internal, "workflow: node "+current+" failed", err)
			}

			state = out.State
			state.CurrentNode = current

			if out.HumanGate != nil {
				req := *out.HumanGate
				if req.ThreadID == "" {
					req.ThreadID = state.ThreadID
				}
				pending := state.Clone()
				if pending.Metadata == nil {
					pending.Metadata = map[string]any{}
				}
				pending.Metadata["pending_approval"] = map[string]any{
					"thread_id": req.ThreadID,
					"prompt":    req.Prompt,
					"options":   req.Options,
				}
				if err := st.Save(ctx, pending); err != nil {
					return state, err
				}
				appendRunLog(ctx, cfg.runlog, state.ThreadID, "human_gate_await", req, wctx.Now())

				gate := hitl.New(wctx, st)
				choice, err := gate.Await(ctx, req, wctx.Now())
				if err != nil {
					_ = st.SetStatus(ctx, state.ThreadID, workflow.StatusError, wctx.Now())
					runCompensations(ctx, g, visited, state)
					return state, err
				}

				choices, _ := pending.Metadata["human_gate_choices"].(map[string]string)
				if choices == nil {
					choices = map[string]string{}
				}
				choices[current] = choice
				pending.Metadata["human_gate_choices"] = choices
				delete(pending.Metadata, "pending_approval")
				pending.Status = workflow.StatusGenerating
				if err := st.Save(ctx, pending); err != nil {
					return state, err
				}
				state = pending
				appendRunLog(ctx, cfg.runlog, state.ThreadID, "human_gate_resolved", map[string]string{"node": current, "choice": choice}, wctx.Now())
				continue // re-run the same node now that its choice is recorded
			}

			visited = append(visited, current)

			if err := st.Save(ctx, state); err != nil {
				return state, err
			}
			appendRunLog(ctx, cfg.runlog, state.ThreadID, "node_transition", map[string]string{"node": current, "route": out.Route}, wctx.Now())
			if appender != nil {
				_, _ = appender.Append(ctx, state.UserID, state.ThreadID, "workflow_engine", "node_transition",
					map[string]string{"node": current, "route": out.Route})
			}

			if out.Route != "" {
				current = out.Route
				continue
			}
			next, ok := g.nextNode(current, state)
			if !ok {
				break // terminal node
			}
			current = next
		}

		return state, nil
	}
}

// appendRunLog best-effort-appends a diagnostic event; a nil store or an
// append failure never affects workflow execution.
func appendRunLog(ctx context.Context, s runlog.Store, threadID, eventType string, payload any, now time.Time) {
	if s == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = s.Append(ctx, &runlog.Event{RunID: threadID, Type: eventType, Payload: data, Timestamp: now})
}

// runCompensations invokes each visited node's Compensate function, in
// reverse order, best-effort (errors are swallowed beyond a single retry
// since the workflow is already unwinding).
func runCompensations(ctx context.Context, g *Graph, visited []string, state workflow.State) {
	for i := len(visited) - 1; i >= 0; i-- {
		n, ok := g.nodes[visited[i]]
		if !ok || n.Compensate == nil {
			continue
		}
		if _, err := n.Compensate(ctx, state); err != nil {
			_, _ = n.Compensate(ctx, state)
		}
	}
}
