package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatrelay/relay/runtime/session"
)

func TestUpsertAndLoad(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Load(ctx, "s-1")
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, s.Upsert(ctx, session.Record{SessionID: "s-1", Model: "opus", TokensUsed: 20_000}))
	r, err := s.Load(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "opus", r.Model)
	require.False(t, r.StartedAt.IsZero())
	require.False(t, r.UpdatedAt.IsZero())
}

func TestUpsertPreservesStartedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	started := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Upsert(ctx, session.Record{SessionID: "s-1", StartedAt: started}))
	require.NoError(t, s.Upsert(ctx, session.Record{SessionID: "s-1", TokensUsed: 30_000}))

	r, err := s.Load(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, started, r.StartedAt)
	require.Equal(t, 30_000, r.TokensUsed)
}

func TestReset(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, session.Record{SessionID: "s-1"}))
	s.Reset()
	_, err := s.Load(ctx, "s-1")
	require.ErrorIs(t, err, session.ErrNotFound)
}
