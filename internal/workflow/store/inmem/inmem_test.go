package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	"github.com/lawercase/petition-orchestrator/internal/workflow/store"
	"github.com/lawercase/petition-orchestrator/internal/workflow/store/inmem"
)

type recordingBroadcaster struct {
	deltas []workflow.Delta
}

func (r *recordingBroadcaster) Publish(_ context.Context, d workflow.Delta) {
	r.deltas = append(r.deltas, d)
}

func newState(threadID string) workflow.State {
	return workflow.State{
		ThreadID: threadID,
		Status:   workflow.StatusGenerating,
		Sections: []workflow.Section{
			{SectionID: "s1", Order: 0, Name: "Introduction", Status: workflow.SectionPending},
		},
	}
}

func TestStore_SaveAndLoadRoundTrips(t *testing.T) {
	t.Parallel()

	s := inmem.New(clock.NewFake(time.Unix(0, 0)), store.NoopBroadcaster{})
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newState("t1")))

	loaded, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "t1", loaded.ThreadID)
	require.Len(t, loaded.Sections, 1)
}

func TestStore_LoadMissingThreadReturnsNotFound(t *testing.T) {
	t.Parallel()

	s := inmem.New(clock.NewFake(time.Unix(0, 0)), store.NoopBroadcaster{})
	_, err := s.Load(context.Background(), "missing")
	require.True(t, apperr.Is(err, apperr.NotFound))
}

func TestStore_UpdateSectionBroadcastsDelta(t *testing.T) {
	t.Parallel()

	rb := &recordingBroadcaster{}
	s := inmem.New(clock.NewFake(time.Unix(0, 0)), rb)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newState("t1")))

	status := workflow.SectionCompleted
	content := "<p>done</p>"
	require.NoError(t, s.UpdateSection(ctx, "t1", "s1", workflow.SectionPatch{Status: &status, ContentHTML: &content}))

	loaded, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, workflow.SectionCompleted, loaded.Sections[0].Status)
	require.Equal(t, "<p>done</p>", loaded.Sections[0].ContentHTML)

	require.Len(t, rb.deltas, 2) // save + update_section
	require.Equal(t, "section_update", rb.deltas[1].Kind)
}

func TestStore_ListActiveExcludesTerminalStates(t *testing.T) {
	t.Parallel()

	s := inmem.New(clock.NewFake(time.Unix(0, 0)), store.NoopBroadcaster{})
	ctx := context.Background()

	active := newState("t1")
	require.NoError(t, s.Save(ctx, active))

	done := newState("t2")
	done.Status = workflow.StatusCompleted
	require.NoError(t, s.Save(ctx, done))

	out, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "t1", out[0].ThreadID)
}

func TestStore_SetStatusStampsCompletedAt(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Unix(100, 0))
	s := inmem.New(fc, store.NoopBroadcaster{})
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newState("t1")))

	require.NoError(t, s.SetStatus(ctx, "t1", workflow.StatusCompleted, fc.Now()))

	loaded, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, loaded.CompletedAt)
}
