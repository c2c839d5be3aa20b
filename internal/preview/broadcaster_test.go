package preview_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/preview"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
)

func TestBroadcaster_SubscribeReceivesSnapshotThenDeltas(t *testing.T) {
	t.Parallel()

	snap := fakeSnapshotter{state: workflow.State{ThreadID: "t1", Status: workflow.StatusGenerating}}
	b := preview.New(snap)

	sub := b.Subscribe(context.Background(), "t1")
	defer sub.Close()

	select {
	case env := <-sub.C:
		require.Equal(t, "full", env.Delta.Kind)
		require.Equal(t, workflow.StatusGenerating, env.Delta.State.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	b.Publish(context.Background(), workflow.Delta{ThreadID: "t1", Kind: "status_changed", State: workflow.State{Status: workflow.StatusCompleted}})

	select {
	case env := <-sub.C:
		require.Equal(t, uint64(1), env.Sequence)
		require.Equal(t, "status_changed", env.Delta.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delta")
	}
}

func TestBroadcaster_SlowConsumerIsDroppedWithNotice(t *testing.T) {
	t.Parallel()

	b := preview.New(nil)
	sub := b.Subscribe(context.Background(), "t2")
	defer sub.Close()

	for i := 0; i < 64; i++ {
		b.Publish(context.Background(), workflow.Delta{ThreadID: "t2", Kind: "log_added"})
	}

	var sawSlowConsumer bool
	for env := range sub.C {
		if env.SlowConsumer {
			sawSlowConsumer = true
			break
		}
	}
	require.True(t, sawSlowConsumer)
	require.Equal(t, 0, b.SubscriberCount("t2"))
}

func TestBroadcaster_OnlySubscribersOfMatchingThreadReceiveDelta(t *testing.T) {
	t.Parallel()

	b := preview.New(nil)
	subA := b.Subscribe(context.Background(), "a")
	subB := b.Subscribe(context.Background(), "b")
	defer subA.Close()
	defer subB.Close()

	b.Publish(context.Background(), workflow.Delta{ThreadID: "a", Kind: "log_added"})

	select {
	case <-subA.C:
	case <-time.After(time.Second):
		t.Fatal("expected subscriber a to receive delta")
	}

	select {
	case <-subB.C:
		t.Fatal("subscriber b should not receive a's delta")
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeSnapshotter struct {
	state workflow.State
}

func (f fakeSnapshotter) Load(context.Context, string) (workflow.State, error) {
	return f.state, nil
}
