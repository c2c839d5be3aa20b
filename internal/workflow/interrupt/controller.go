// Package interrupt provides the pause/resume/human-gate signal plumbing
// used by the workflow engine's graph executor (C9) and by the
// human-in-the-loop gate (C13). Adapted from
// runtime/agent/interrupt/controller.go: a Controller wraps named
// engine.SignalChannels and exposes non-blocking polls plus blocking waits
// the graph loop can call between node executions.
package interrupt

import (
	"context"
	"errors"

	"github.com/lawercase/petition-orchestrator/internal/workflow/engine"
)

const (
	// SignalPause requests that a running workflow suspend after its
	// current node completes.
	SignalPause = "workflow.pause"
	// SignalResume resumes a workflow suspended by SignalPause.
	SignalResume = "workflow.resume"
	// SignalProvideApproval delivers a human answer to a pending
	// human-in-the-loop gate (C13).
	SignalProvideApproval = "workflow.provide.approval"
)

type (
	// PauseRequest carries metadata attached to a pause signal.
	PauseRequest struct {
		ThreadID    string
		Reason      string
		RequestedBy string
	}

	// ResumeRequest carries metadata attached to a resume signal.
	ResumeRequest struct {
		ThreadID    string
		RequestedBy string
		Notes       string
	}

	// ApprovalRequest describes what the gate is asking a human to decide.
	ApprovalRequest struct {
		ThreadID string
		Prompt   string
		Options  []string
	}

	// ApprovalAnswer is the human's response to an ApprovalRequest.
	ApprovalAnswer struct {
		ThreadID string
		Choice   string
		Notes    string
	}

	// Controller drains interrupt signals for one running workflow
	// execution and exposes helpers the graph loop calls between nodes.
	Controller struct {
		pauseCh    engine.SignalChannel
		resumeCh   engine.SignalChannel
		approvalCh engine.SignalChannel
	}
)

// New builds a Controller wired to wctx's signal channels.
func New(wctx engine.WorkflowContext) *Controller {
	return &Controller{
		pauseCh:    wctx.SignalChannel(SignalPause),
		resumeCh:   wctx.SignalChannel(SignalResume),
		approvalCh: wctx.SignalChannel(SignalProvideApproval),
	}
}

// PollPause reports whether a pause request has arrived, without blocking.
// The request payload itself is discarded; callers that need the reason
// should use PollPauseRequest.
func (c *Controller) PollPause() bool {
	_, ok := c.PollPauseRequest()
	return ok
}

// PollPauseRequest attempts to dequeue a pause request without blocking.
func (c *Controller) PollPauseRequest() (PauseRequest, bool) {
	if c == nil || c.pauseCh == nil {
		return PauseRequest{}, false
	}
	var req PauseRequest
	if !c.pauseCh.ReceiveAsync(&req) {
		return PauseRequest{}, false
	}
	return req, true
}

// WaitResume blocks until a resume request is delivered or ctx is done.
func (c *Controller) WaitResume(ctx context.Context) error {
	if c == nil || c.resumeCh == nil {
		return errors.New("interrupt: resume channel unavailable")
	}
	var req ResumeRequest
	return c.resumeCh.Receive(ctx, &req)
}

// WaitApproval blocks until a human answers the pending approval request,
// or ctx is done first (callers apply the human-gate timeout via ctx).
func (c *Controller) WaitApproval(ctx context.Context) (ApprovalAnswer, error) {
	if c == nil || c.approvalCh == nil {
		return ApprovalAnswer{}, errors.New("interrupt: approval channel unavailable")
	}
	var ans ApprovalAnswer
	if err := c.approvalCh.Receive(ctx, &ans); err != nil {
		return ApprovalAnswer{}, err
	}
	return ans, nil
}
