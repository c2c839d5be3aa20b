// Package dispatch implements the agent registry and command dispatch
// pipeline (C10): every inbound Command is authorized against a role x
// kind matrix, screened for suspected prompt injection, routed to the
// agent registered for its kind, and unconditionally audited. Grounded on
// features/policy/basic/engine.go's allow/deny decision shape for the
// authorize step and runtime/agent/hooks/bus.go's subscriber-registry
// idiom for the agent registry, adapted from goa-ai's tool-call/event
// plumbing to this domain's command-kind routing.
package dispatch

import (
	"context"
	"fmt"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/audit"
	"github.com/lawercase/petition-orchestrator/internal/telemetry"
)

// Command is the unit the dispatch pipeline accepts, per the spec's
// submit_command shape.
type Command struct {
	CommandID string
	UserID    string
	Role      string
	Kind      string
	Payload   map[string]any
	// SessionID attributes this command to a durable session.Session, for
	// agents that track run-level bookkeeping (the Writer's generation
	// runs). Empty when the caller issues commands outside a session.
	SessionID string
}

// Response is returned from a successful or failed dispatch.
type Response struct {
	Status   string // "ok" or "error"
	Response any
	Reason   string
}

// Authorizer performs the authorize step. It must return an
// *apperr.Error with Kind apperr.Forbidden to deny a command.
type Authorizer interface {
	Authorize(ctx context.Context, cmd Command) error
}

// Screener performs the screen step. A non-nil error with Kind
// apperr.SuspectedInjection rejects the command; ScreenResult.Sanitized
// carries the (possibly unmodified) payload to route downstream.
type Screener interface {
	Screen(ctx context.Context, cmd Command) (ScreenResult, error)
}

// Agent is the capability every dispatch target implements: handle one
// command and report introspectable counters.
type Agent interface {
	Handle(ctx context.Context, cmd Command) (Response, error)
	Stats() map[string]any
}

// Dispatcher drives the authorize -> screen -> route -> audit pipeline.
type Dispatcher struct {
	authz    Authorizer
	screen   Screener
	registry *Registry
	audit    audit.Store
	log      telemetry.Logger
	mx       telemetry.Metrics
}

// NewDispatcher builds a Dispatcher over the given pipeline stages.
func NewDispatcher(authz Authorizer, screen Screener, reg *Registry, aud audit.Store, log telemetry.Logger, mx telemetry.Metrics) *Dispatcher {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	if mx == nil {
		mx = telemetry.NoopMetrics{}
	}
	return &Dispatcher{authz: authz, screen: screen, registry: reg, audit: aud, log: log, mx: mx}
}

// Dispatch runs cmd through the full pipeline. An audit event is
// appended at every exit point, successful or not.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (Response, error) {
	threadID := extractThreadID(cmd.Payload)
	redacted := RedactPayload(cmd.Payload)

	if err := d.authz.Authorize(ctx, cmd); err != nil {
		d.mx.IncCounter("dispatch.denied", 1, "kind", cmd.Kind, "reason", "forbidden")
		d.appendAudit(ctx, cmd, threadID, redacted, err)
		return Response{Status: "error", Reason: string(apperr.Forbidden)}, err
	}

	screenResult, err := d.screen.Screen(ctx, cmd)
	if err != nil {
		d.mx.IncCounter("dispatch.denied", 1, "kind", cmd.Kind, "reason", "suspected_injection")
		d.appendAudit(ctx, cmd, threadID, redacted, err)
		return Response{Status: "error", Reason: string(apperr.SuspectedInjection)}, err
	}
	cmd.Payload = screenResult.Sanitized

	agent := d.registry.Get(cmd.Kind)
	if agent == nil {
		err := apperr.New(apperr.InvalidState, fmt.Sprintf("dispatch: no agent registered for kind %q", cmd.Kind))
		d.appendAudit(ctx, cmd, threadID, redacted, err)
		return Response{Status: "error", Reason: string(apperr.InvalidState)}, err
	}

	resp, err := agent.Handle(ctx, cmd)
	d.appendAudit(ctx, cmd, threadID, redacted, err)
	if err != nil {
		d.mx.IncCounter("dispatch.failed", 1, "kind", cmd.Kind)
		return Response{Status: "error", Reason: string(apperr.KindOf(err))}, err
	}
	resp.Status = "ok"
	d.mx.IncCounter("dispatch.ok", 1, "kind", cmd.Kind)
	return resp, nil
}

func (d *Dispatcher) appendAudit(ctx context.Context, cmd Command, threadID string, payload map[string]any, outcome error) {
	entry := map[string]any{"payload": payload}
	if outcome != nil {
		entry["reason"] = string(apperr.KindOf(outcome))
	}
	if _, err := d.audit.Append(ctx, cmd.UserID, threadID, "dispatch", cmd.Kind, entry); err != nil {
		d.log.Error(ctx, "dispatch: audit append failed", "command_id", cmd.CommandID, "err", err)
	}
}

func extractThreadID(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload["thread_id"].(string); ok {
		return v
	}
	return ""
}
