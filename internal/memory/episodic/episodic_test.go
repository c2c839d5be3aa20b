package episodic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/memory"
)

func TestInMemory_AppendRejectsSemanticType(t *testing.T) {
	t.Parallel()

	s := NewInMemory()
	err := s.Append(context.Background(), memory.Record{
		ID:     "r1",
		UserID: "u1",
		Type:   memory.Semantic,
	})
	require.Error(t, err)
	require.Equal(t, apperr.InvalidState, apperr.KindOf(err))
}

func TestInMemory_AppendRejectsEmbedding(t *testing.T) {
	t.Parallel()

	s := NewInMemory()
	err := s.Append(context.Background(), memory.Record{
		ID:        "r1",
		UserID:    "u1",
		Type:      memory.Episodic,
		Embedding: []float32{0.1, 0.2},
	})
	require.Error(t, err)
	require.Equal(t, apperr.InvalidState, apperr.KindOf(err))
}

func TestInMemory_QueryOrdersByCreatedAtThenID(t *testing.T) {
	t.Parallel()

	s := NewInMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, memory.Record{ID: "b", UserID: "u1", Type: memory.Episodic, CreatedAt: base}))
	require.NoError(t, s.Append(ctx, memory.Record{ID: "a", UserID: "u1", Type: memory.Episodic, CreatedAt: base}))
	require.NoError(t, s.Append(ctx, memory.Record{ID: "c", UserID: "u1", Type: memory.Episodic, CreatedAt: base.Add(time.Minute)}))

	out, err := s.Query(ctx, memory.Filter{UserID: "u1"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{out[0].ID, out[1].ID, out[2].ID})
}

func TestInMemory_QueryFiltersByCaseAndTags(t *testing.T) {
	t.Parallel()

	s := NewInMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Append(ctx, memory.Record{ID: "1", UserID: "u1", CaseID: "c1", Type: memory.Episodic, Tags: []string{"intake"}, CreatedAt: now}))
	require.NoError(t, s.Append(ctx, memory.Record{ID: "2", UserID: "u1", CaseID: "c2", Type: memory.Episodic, Tags: []string{"letter"}, CreatedAt: now}))

	out, err := s.Query(ctx, memory.Filter{UserID: "u1", CaseID: "c1"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "1", out[0].ID)

	out, err = s.Query(ctx, memory.Filter{UserID: "u1", Tags: []string{"letter"}}, 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "2", out[0].ID)
}

func TestInMemory_QueryRespectsLimit(t *testing.T) {
	t.Parallel()

	s := NewInMemory()
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, memory.Record{ID: string(rune('a' + i)), UserID: "u1", Type: memory.Episodic, CreatedAt: now}))
	}

	out, err := s.Query(ctx, memory.Filter{UserID: "u1"}, 0, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
}
