package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/audit"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/memory/embedder"
	"github.com/lawercase/petition-orchestrator/internal/memory/episodic"
	"github.com/lawercase/petition-orchestrator/internal/memory/semantic/inmem"
	"github.com/lawercase/petition-orchestrator/internal/telemetry"
)

func newTestManager() *Manager {
	c := clock.NewFake(time.Unix(0, 0))
	emb := embedder.NewDeterministic(8)
	return New(episodic.NewInMemory(), inmem.New(8), emb, audit.NewInMemory(c), c, telemetry.NoopLogger{})
}

func TestManager_LogEventAppendsEpisodicAndAudit(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	ctx := context.Background()

	rec, err := m.LogEvent(ctx, Event{UserID: "u1", CaseID: "c1", Text: "user asked a question"})
	require.NoError(t, err)
	require.Equal(t, Episodic, rec.Type)
	require.Nil(t, rec.Embedding)

	entries, err := m.episodic.Query(ctx, Filter{UserID: "u1"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestManager_ReflectSkipsEmptyAndDeduplicatesExactText(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	ctx := context.Background()

	records, tok, err := m.Reflect(ctx, Event{
		UserID: "u1",
		Facts:  []string{"fact one", "", "  ", "fact one", "fact two"},
	})
	require.NoError(t, err)
	require.NoError(t, tok.Wait(ctx))
	require.Len(t, records, 2)
	require.Equal(t, "fact one", records[0].Text)
	require.Equal(t, "fact two", records[1].Text)
}

func TestManager_ReflectThenRetrieveFindsFact(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	ctx := context.Background()

	_, tok, err := m.Reflect(ctx, Event{UserID: "u1", Facts: []string{"applicant has published three peer-reviewed papers"}})
	require.NoError(t, err)
	require.NoError(t, tok.Wait(ctx))

	results, err := m.Retrieve(ctx, "applicant has published three peer-reviewed papers", Filter{UserID: "u1"}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "applicant has published three peer-reviewed papers", results[0].Record.Text)
}

func TestManager_RememberWritesSemanticFact(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Remember(ctx, "u1", "c1", "intake answer: field of endeavor is machine learning", "intake"))

	results, err := m.Retrieve(ctx, "field of endeavor", Filter{UserID: "u1"}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}
