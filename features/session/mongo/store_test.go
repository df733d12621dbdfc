package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatrelay/relay/runtime/session"
)

type fakeClient struct {
	upserted []session.Record
	loadErr  error
}

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) Ping(context.Context) error { return nil }

func (c *fakeClient) UpsertSession(_ context.Context, r session.Record) error {
	c.upserted = append(c.upserted, r)
	return nil
}

func (c *fakeClient) LoadSession(_ context.Context, sessionID string) (session.Record, error) {
	if c.loadErr != nil {
		return session.Record{}, c.loadErr
	}
	return session.Record{SessionID: sessionID}, nil
}

func TestStoreDelegates(t *testing.T) {
	cli := &fakeClient{}
	store, err := NewStore(cli)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(context.Background(), session.Record{SessionID: "s-1"}))
	require.Len(t, cli.upserted, 1)

	r, err := store.Load(context.Background(), "s-1")
	require.NoError(t, err)
	require.Equal(t, "s-1", r.SessionID)
}

func TestStorePropagatesErrors(t *testing.T) {
	cli := &fakeClient{loadErr: errors.New("down")}
	store, err := NewStore(cli)
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "s-1")
	require.Error(t, err)
}

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	require.Error(t, err)
}
