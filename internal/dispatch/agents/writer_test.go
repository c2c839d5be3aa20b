package agents_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/dispatch"
	"github.com/lawercase/petition-orchestrator/internal/dispatch/agents"
	"github.com/lawercase/petition-orchestrator/internal/routing"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	"github.com/lawercase/petition-orchestrator/internal/workflow/engine/inmem"
	wfstore "github.com/lawercase/petition-orchestrator/internal/workflow/store"
	storeinmem "github.com/lawercase/petition-orchestrator/internal/workflow/store/inmem"
)

func newWriterFixture(t *testing.T, text string) (*agents.Writer, wfstore.Store) {
	t.Helper()
	st := storeinmem.New(clock.NewFake(time.Unix(0, 0)), wfstore.NoopBroadcaster{})
	eng := inmem.New(nil, nil, nil)
	router := routing.New(routing.Options{Providers: []routing.ProviderSpec{
		{ID: "p1", Client: &fakeChatClient{text: text}, Supports: []string{"chat"}},
	}})
	return agents.NewWriter(st, eng, nil, router, nil, nil, nil, nil, nil), st
}

func TestWriter_GenerateLetterRunsToCompletion(t *testing.T) {
	t.Parallel()
	w, st := newWriterFixture(t, "a sufficiently long drafted letter body for validation purposes")

	resp, err := w.Handle(context.Background(), dispatch.Command{
		UserID: "u1", Kind: "generate_letter", Payload: map[string]any{"title": "Recommendation"},
	})
	require.NoError(t, err)
	out := resp.Response.(map[string]string)
	threadID := out["thread_id"]
	require.NotEmpty(t, threadID)

	require.Eventually(t, func() bool {
		state, err := st.Load(context.Background(), threadID)
		return err == nil && state.Status == workflow.StatusCompleted
	}, time.Second, 10*time.Millisecond)

	preview, err := w.Handle(context.Background(), dispatch.Command{
		Kind: "get_preview", Payload: map[string]any{"thread_id": threadID},
	})
	require.NoError(t, err)
	state := preview.Response.(workflow.State)
	require.Equal(t, workflow.StatusCompleted, state.Status)
}

func TestWriter_DownloadPDFUnknownThreadFails(t *testing.T) {
	t.Parallel()
	w, _ := newWriterFixture(t, "irrelevant")

	_, err := w.Handle(context.Background(), dispatch.Command{
		Kind: "download_pdf", Payload: map[string]any{"thread_id": "no-such-thread"},
	})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.NotFound))
}

func TestWriter_PauseUnknownThreadFails(t *testing.T) {
	t.Parallel()
	w, _ := newWriterFixture(t, "irrelevant")

	_, err := w.Handle(context.Background(), dispatch.Command{
		Kind: "pause", Payload: map[string]any{"thread_id": "missing"},
	})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.NotFound))
}
