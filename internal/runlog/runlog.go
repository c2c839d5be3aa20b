// Package runlog provides a durable, append-only diagnostic event log
// for workflow run internals: node transitions, model calls, cache
// hits, retries. It is distinct from the audit trail (C11, a
// hash-chained compliance record of commands and their outcomes) and
// from workflow.LogEntry (C8, user-facing progress narrative shown in
// the live preview): this is operator-facing execution trace, queried
// by cursor rather than broadcast. Grounded on
// runtime/agent/runlog/runlog.go's Event/Page/Store shape, narrowed
// from the teacher's agent.Ident/hooks.EventType types to this system's
// plain string kind and workflow thread ID.
package runlog

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one immutable diagnostic entry appended to a run's log.
type Event struct {
	ID        string
	RunID     string // workflow.State.ThreadID
	AgentKind string
	SessionID string
	Type      string // "node_transition", "model_call", "cache_hit", "retry", ...
	Payload   json.RawMessage
	Timestamp time.Time
}

// Page is a forward page of run events, oldest first.
type Page struct {
	Events     []*Event
	NextCursor string
}

// Store is an append-only event store for run introspection.
type Store interface {
	Append(ctx context.Context, e *Event) error
	List(ctx context.Context, runID, cursor string, limit int) (Page, error)
}
