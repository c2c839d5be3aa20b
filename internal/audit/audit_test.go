package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/clock"
)

func TestInMemory_FirstEventUsesGenesisHash(t *testing.T) {
	t.Parallel()

	s := NewInMemory(clock.NewFake(time.Unix(0, 0)))
	e, err := s.Append(context.Background(), "u1", "", "dispatch", "submit_command", map[string]string{"kind": "ask"})
	require.NoError(t, err)
	require.Equal(t, GenesisHash, e.PrevHash)
	require.NotEmpty(t, e.Hash)
}

func TestInMemory_ChainLinksAndVerifies(t *testing.T) {
	t.Parallel()

	s := NewInMemory(clock.NewFake(time.Unix(0, 0)))
	ctx := context.Background()

	e1, err := s.Append(ctx, "u1", "t1", "dispatch", "submit_command", nil)
	require.NoError(t, err)
	e2, err := s.Append(ctx, "u1", "t1", "engine", "pause", nil)
	require.NoError(t, err)

	require.Equal(t, e1.Hash, e2.PrevHash)
	require.NoError(t, s.Verify(ctx))
}

func TestInMemory_VerifyDetectsTampering(t *testing.T) {
	t.Parallel()

	s := NewInMemory(clock.NewFake(time.Unix(0, 0)))
	ctx := context.Background()

	_, err := s.Append(ctx, "u1", "t1", "dispatch", "submit_command", nil)
	require.NoError(t, err)

	s.events[0].Action = "tampered"
	require.Error(t, s.Verify(ctx))
}

func TestInMemory_ListFiltersByThread(t *testing.T) {
	t.Parallel()

	s := NewInMemory(clock.NewFake(time.Unix(0, 0)))
	ctx := context.Background()

	_, err := s.Append(ctx, "u1", "t1", "dispatch", "submit_command", nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, "u1", "t2", "dispatch", "submit_command", nil)
	require.NoError(t, err)

	out, err := s.List(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "t1", out[0].ThreadID)
}
