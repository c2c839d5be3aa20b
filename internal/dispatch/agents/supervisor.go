package agents

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/dispatch"
)

// maxHops bounds the Supervisor's controlled re-entry into the dispatch
// pipeline: one level of Supervisor -> Research/Writer, never Supervisor
// invoking itself a second time through the registry.
const maxHops = 1

// hopKey is the reserved Command.Payload key the Supervisor uses to carry
// its re-entry depth through dispatch.Dispatcher.Dispatch, which treats
// payload as opaque and passes it through to the audit trail unredacted
// apart from the usual redaction rules.
const hopKey = "__hop"

// Reentrant is the subset of dispatch.Dispatcher the Supervisor calls
// back into to invoke other agents. Declared narrowly so this package
// does not need a dependency cycle with dispatch beyond the Command/
// Response/Agent types it already imports.
type Reentrant interface {
	Dispatch(ctx context.Context, cmd dispatch.Command) (dispatch.Response, error)
}

// Supervisor composes Research and Writer to fulfil generate_petition:
// it first gathers case facts via Research's memory_lookup, then hands
// them to Writer's generate_petition_internal so the drafted sections
// start from what is already known about the case, rather than an empty
// prompt. This is the spec's "single level of controlled re-entry":
// Supervisor re-enters the dispatch pipeline for its sub-commands instead
// of calling the other agents' Go methods directly, so authorization,
// screening, and audit logging apply uniformly to the sub-commands too.
type Supervisor struct {
	dispatcher Reentrant
	calls      atomic.Int64
}

// NewSupervisor builds a Supervisor that re-enters dispatcher for its
// sub-commands.
func NewSupervisor(dispatcher Reentrant) *Supervisor {
	return &Supervisor{dispatcher: dispatcher}
}

func (s *Supervisor) Handle(ctx context.Context, cmd dispatch.Command) (dispatch.Response, error) {
	s.calls.Add(1)

	if cmd.Kind != "generate_petition" {
		return dispatch.Response{}, apperr.New(apperr.InvalidState, fmt.Sprintf("supervisor agent: unsupported command kind %q", cmd.Kind))
	}

	hop := hopOf(cmd.Payload)
	if hop >= maxHops {
		return dispatch.Response{}, apperr.New(apperr.InvalidState, "supervisor: max re-entry depth exceeded")
	}

	caseID, _ := cmd.Payload["case_id"].(string)
	if caseID == "" {
		return dispatch.Response{}, apperr.New(apperr.InvalidState, "supervisor: case_id is required")
	}

	lookup := dispatch.Command{
		CommandID: cmd.CommandID + ":research",
		UserID:    cmd.UserID,
		Role:      "system",
		Kind:      "memory_lookup",
		Payload: map[string]any{
			"case_id": caseID,
			"query":   "case facts relevant to the EB-1A extraordinary ability petition",
			hopKey:    hop + 1,
		},
	}
	research, err := s.dispatcher.Dispatch(ctx, lookup)
	if err != nil {
		return dispatch.Response{}, apperr.Wrap(apperr.Internal, "supervisor: research sub-command failed", err)
	}

	draft := dispatch.Command{
		CommandID: cmd.CommandID + ":writer",
		UserID:    cmd.UserID,
		Role:      "system",
		Kind:      "generate_petition_internal",
		Payload: map[string]any{
			"case_id":       caseID,
			"document_type": cmd.Payload["document_type"],
			"facts":         research.Response,
			hopKey:          hop + 1,
		},
	}
	writer, err := s.dispatcher.Dispatch(ctx, draft)
	if err != nil {
		return dispatch.Response{}, apperr.Wrap(apperr.Internal, "supervisor: writer sub-command failed", err)
	}
	return writer, nil
}

func (s *Supervisor) Stats() map[string]any {
	return map[string]any{"calls": s.calls.Load()}
}

func hopOf(payload map[string]any) int {
	switch v := payload[hopKey].(type) {
	case int:
		return v
	default:
		return 0
	}
}
