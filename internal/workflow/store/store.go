// Package store implements the workflow-state store (C8): save/load and
// targeted mutation operations over workflow.State, with an in-memory
// backend for tests and a redis-backed durable backend for production.
package store

import (
	"context"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/workflow"
)

// Broadcaster receives a Delta after every committed write. C14 implements
// this to fan deltas out to live-preview subscribers; tests may pass a
// no-op.
type Broadcaster interface {
	Publish(ctx context.Context, delta workflow.Delta)
}

// NoopBroadcaster discards every delta.
type NoopBroadcaster struct{}

func (NoopBroadcaster) Publish(context.Context, workflow.Delta) {}

// Store is the C8 contract. Implementations must serialize concurrent
// writers per thread_id; the mutation methods (UpdateSection, AddExhibit,
// AddLog, SetStatus) return apperr.ConcurrentUpdate after exhausting their
// retry budget on an optimistic-concurrency conflict. Save replaces the
// whole state unconditionally and never reports a conflict.
type Store interface {
	Save(ctx context.Context, state workflow.State) error
	Load(ctx context.Context, threadID string) (workflow.State, error)
	UpdateSection(ctx context.Context, threadID, sectionID string, patch workflow.SectionPatch) error
	AddExhibit(ctx context.Context, threadID string, exhibit workflow.Exhibit) error
	AddLog(ctx context.Context, threadID string, entry workflow.LogEntry) error
	SetStatus(ctx context.Context, threadID string, status workflow.Status, at time.Time) error
	Delete(ctx context.Context, threadID string) error
	ListActive(ctx context.Context) ([]workflow.State, error)
}
