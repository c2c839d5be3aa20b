// Package hitl implements the human-in-the-loop gate (C13): a graph node
// calls Gate.Await to suspend the enclosing workflow in the paused
// status, publish a delta describing the pending approval, and block
// until an external resolve(thread_id, choice) call answers it or the
// gate's timeout elapses. Built directly on
// internal/workflow/interrupt.Controller's WaitApproval, generalized from
// a bare signal wait to the prompt/options/timeout/default-choice shape
// the spec's await_human_gate names.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	"github.com/lawercase/petition-orchestrator/internal/workflow/engine"
	"github.com/lawercase/petition-orchestrator/internal/workflow/interrupt"
	"github.com/lawercase/petition-orchestrator/internal/workflow/store"
)

// Request describes one pending human decision.
type Request struct {
	ThreadID string
	Prompt   string
	Options  []string
	// Timeout bounds the wait; zero means wait indefinitely (bounded only
	// by ctx).
	Timeout time.Duration
	// DefaultChoice is returned when Timeout elapses. Per the spec's open
	// question on human-gate timeout policy, an empty DefaultChoice means
	// a timeout surfaces as apperr.TimedOut (routing the workflow to
	// error) rather than silently picking a choice.
	DefaultChoice string
}

// Gate waits for a human decision on behalf of one running workflow
// execution.
type Gate struct {
	ctrl *interrupt.Controller
	st   store.Store
}

// New builds a Gate wired to wctx's signal channels and, if st is
// non-nil, to the workflow-state store so Await can checkpoint the
// paused status before waiting.
func New(wctx engine.WorkflowContext, st store.Store) *Gate {
	return &Gate{ctrl: interrupt.New(wctx), st: st}
}

// Await suspends the workflow to paused, waits for a resolve() answer (or
// Request.Timeout), and returns the chosen option. Options validate the
// answer when non-empty: a choice outside Options is rejected with
// apperr.InvalidState rather than silently accepted.
//
// TODO: the Temporal engine adapter's SignalChannel.Receive does not
// currently honor ctx cancellation (it blocks on the underlying
// workflow.Context only), so Request.Timeout has no effect when this
// gate runs under the Temporal-backed engine; it works as specified
// under the in-memory engine. A Temporal-native timeout needs a
// workflow.NewTimer + Selector in that adapter, not here.
func (g *Gate) Await(ctx context.Context, req Request, now time.Time) (string, error) {
	if g.st != nil {
		if err := g.st.SetStatus(ctx, req.ThreadID, workflow.StatusPaused, now); err != nil {
			return "", err
		}
	}

	waitCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	ans, err := g.ctrl.WaitApproval(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			if req.DefaultChoice != "" {
				return req.DefaultChoice, nil
			}
			return "", apperr.New(apperr.TimedOut, "hitl: human gate timed out with no default choice configured")
		}
		return "", apperr.Wrap(apperr.Cancelled, "hitl: gate wait interrupted", err)
	}

	if len(req.Options) > 0 && !contains(req.Options, ans.Choice) {
		return "", apperr.New(apperr.InvalidState, fmt.Sprintf("hitl: choice %q is not one of the offered options", ans.Choice))
	}
	return ans.Choice, nil
}

func contains(options []string, choice string) bool {
	for _, o := range options {
		if o == choice {
			return true
		}
	}
	return false
}
