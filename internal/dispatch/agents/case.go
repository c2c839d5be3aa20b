// Package agents implements the concrete C10 agent variants: Case,
// Research, Validator, Writer, and Supervisor, registered into a
// dispatch.Registry under the command kinds the dispatch API recognizes.
// Grounded on the teacher's tool-handler shape (runtime/agent/client.go),
// adapted from a single generic tool-calling client to five
// domain-specific handlers behind the shared dispatch.Agent interface.
package agents

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/casestore"
	"github.com/lawercase/petition-orchestrator/internal/dispatch"
	"github.com/lawercase/petition-orchestrator/internal/intake"
)

// Case handles the case-lifecycle and intake-questionnaire command kinds:
// case_create, case_get, case_active, intake_start, intake_answer,
// intake_skip, intake_status, intake_cancel, intake_resume.
type Case struct {
	cases  casestore.Store
	intake *intake.Machine
	calls  atomic.Int64
}

// NewCase builds a Case agent over cases and the intake state machine.
func NewCase(cases casestore.Store, in *intake.Machine) *Case {
	return &Case{cases: cases, intake: in}
}

func (c *Case) Handle(ctx context.Context, cmd dispatch.Command) (dispatch.Response, error) {
	c.calls.Add(1)
	caseID, _ := cmd.Payload["case_id"].(string)

	switch cmd.Kind {
	case "case_create":
		title, _ := cmd.Payload["title"].(string)
		if title == "" {
			return dispatch.Response{}, apperr.New(apperr.InvalidState, "case: title is required")
		}
		description, _ := cmd.Payload["description"].(string)
		data := map[string]any{}
		if description != "" {
			data["description"] = description
		}
		created, err := c.cases.Create(ctx, casestore.Case{
			UserID:   cmd.UserID,
			Title:    title,
			Status:   "draft",
			CaseType: intake.DefaultCategory,
			Data:     data,
		})
		if err != nil {
			return dispatch.Response{}, err
		}
		return dispatch.Response{Response: created}, nil

	case "case_get":
		if caseID == "" {
			return dispatch.Response{}, apperr.New(apperr.InvalidState, "case: case_id is required")
		}
		got, err := c.cases.Get(ctx, caseID)
		if err != nil {
			return dispatch.Response{}, err
		}
		return dispatch.Response{Response: got}, nil

	case "case_active":
		cases, err := c.cases.ListActive(ctx, cmd.UserID)
		if err != nil {
			return dispatch.Response{}, err
		}
		return dispatch.Response{Response: cases}, nil

	case "intake_start":
		category, _ := cmd.Payload["category"].(string)
		res, err := c.intake.Start(ctx, cmd.UserID, caseID, category)
		return dispatch.Response{Response: res}, err

	case "intake_answer":
		text, _ := cmd.Payload["text"].(string)
		res, err := c.intake.Answer(ctx, cmd.UserID, caseID, text)
		return dispatch.Response{Response: res}, err

	case "intake_skip":
		res, err := c.intake.Skip(ctx, cmd.UserID, caseID)
		return dispatch.Response{Response: res}, err

	case "intake_status":
		res, err := c.intake.Status(ctx, cmd.UserID, caseID)
		return dispatch.Response{Response: res}, err

	case "intake_cancel":
		res, err := c.intake.Cancel(ctx, cmd.UserID, caseID)
		return dispatch.Response{Response: res}, err

	case "intake_resume":
		res, err := c.intake.Resume(ctx, cmd.UserID, caseID)
		return dispatch.Response{Response: res}, err

	default:
		return dispatch.Response{}, apperr.New(apperr.InvalidState, fmt.Sprintf("case agent: unsupported command kind %q", cmd.Kind))
	}
}

func (c *Case) Stats() map[string]any {
	return map[string]any{"calls": c.calls.Load()}
}
