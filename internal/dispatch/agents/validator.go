package agents

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/audit"
	"github.com/lawercase/petition-orchestrator/internal/dispatch"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
)

// minSectionLength is the shortest completed-section content the
// Validator accepts before flagging a draft as too thin to submit.
const minSectionLength = 40

// Validator closes out a petition workflow run: every section must be
// completed with non-trivial content before the thread is allowed to
// reach workflow.StatusCompleted. It is invoked directly by the petition
// graph's terminal node (internal/workflow/petition), and is also
// reachable as a dispatch.Agent under the internal "validate_section"
// kind, which the "system" role may issue; the Supervisor does not send it.
type Validator struct {
	audit audit.Store
	calls atomic.Int64
}

// NewValidator builds a Validator that appends a compliance audit entry
// for every section it rejects.
func NewValidator(aud audit.Store) *Validator {
	return &Validator{audit: aud}
}

// ValidateSections implements petition.Validator.
func (v *Validator) ValidateSections(ctx context.Context, state workflow.State) error {
	v.calls.Add(1)
	for _, sec := range state.Sections {
		if sec.Status != workflow.SectionCompleted {
			return v.reject(ctx, state, sec.SectionID, fmt.Sprintf("section %q is %s, not completed", sec.SectionID, sec.Status))
		}
		if len(sec.ContentHTML) < minSectionLength {
			return v.reject(ctx, state, sec.SectionID, fmt.Sprintf("section %q content is too short to submit (%d chars)", sec.SectionID, len(sec.ContentHTML)))
		}
	}
	return nil
}

func (v *Validator) reject(ctx context.Context, state workflow.State, sectionID, reason string) error {
	if v.audit != nil {
		_, _ = v.audit.Append(ctx, state.UserID, state.ThreadID, "validator", "validation_failed", map[string]string{
			"section_id": sectionID,
			"reason":     reason,
		})
	}
	return apperr.New(apperr.InvalidState, "validator: "+reason)
}

func (v *Validator) Handle(ctx context.Context, cmd dispatch.Command) (dispatch.Response, error) {
	if cmd.Kind != "validate_section" {
		return dispatch.Response{}, apperr.New(apperr.InvalidState, fmt.Sprintf("validator agent: unsupported command kind %q", cmd.Kind))
	}
	state, ok := cmd.Payload["state"].(workflow.State)
	if !ok {
		return dispatch.Response{}, apperr.New(apperr.InvalidState, "validator: payload.state must be a workflow.State")
	}
	if err := v.ValidateSections(ctx, state); err != nil {
		return dispatch.Response{}, err
	}
	return dispatch.Response{Response: "valid"}, nil
}

func (v *Validator) Stats() map[string]any {
	return map[string]any{"calls": v.calls.Load()}
}
