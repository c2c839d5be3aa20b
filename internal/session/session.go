// Package session tracks conversation-level lifecycle and per-run
// bookkeeping, separate from the workflow-state store (C8): a Session
// groups every command and workflow run a user makes against one case
// into one durable container, and a RunMeta records which agent handled
// one workflow thread and how it ended. Grounded on
// runtime/agent/session/session.go: the Session/RunMeta split and the
// explicit create/end lifecycle, narrowed to this system's
// (session, thread) relationship (here a "run" is always a workflow
// thread, not an arbitrary agent invocation).
package session

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// RunStatus is the lifecycle state of one tracked run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Session is a durable conversational container: every dispatch.Command
// a user issues about one case is attributed to one Session.
type Session struct {
	ID        string
	UserID    string
	CaseID    string
	Status    Status
	CreatedAt time.Time
	EndedAt   *time.Time
}

// RunMeta records which agent drove one workflow thread and its outcome,
// independent of the thread's own workflow.State (which the engine owns).
type RunMeta struct {
	RunID     string // workflow.State.ThreadID
	SessionID string
	AgentKind string // which dispatch.Agent started the run
	Status    RunStatus
	StartedAt time.Time
	UpdatedAt time.Time
	Labels    map[string]string
	Metadata  map[string]any
}

// Store persists Session and RunMeta state.
type Store interface {
	CreateSession(ctx context.Context, sessionID, userID, caseID string, createdAt time.Time) (Session, error)
	LoadSession(ctx context.Context, sessionID string) (Session, error)
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) (Session, error)

	UpsertRun(ctx context.Context, run RunMeta) error
	LoadRun(ctx context.Context, runID string) (RunMeta, error)
	ListRunsBySession(ctx context.Context, sessionID string, statuses []RunStatus) ([]RunMeta, error)
}

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionEnded    = errors.New("session: already ended")
	ErrRunNotFound     = errors.New("session: run not found")
)
