package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chatrelay/relay/runtime/session"
)

type fakeCollection struct {
	findOne   func(filter any) singleResult
	updateOne func(filter, update any) (*mongodriver.UpdateResult, error)
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	return c.findOne(filter)
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter, update any,
	_ ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.updateOne(filter, update)
}

func (c *fakeCollection) Indexes() indexView { return fakeIndexView{} }

type fakeIndexView struct{}

func (fakeIndexView) CreateOne(context.Context, mongodriver.IndexModel,
	...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return "session_id_1", nil
}

type fakeResult struct {
	doc *sessionDocument
	err error
}

func (r fakeResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	*(val.(*sessionDocument)) = *r.doc
	return nil
}

func testClient(coll collection) *client {
	return &client{sessions: coll, timeout: time.Second}
}

func TestUpsertSessionSetsStartedAtOnInsertOnly(t *testing.T) {
	var gotFilter, gotUpdate any
	coll := &fakeCollection{updateOne: func(filter, update any) (*mongodriver.UpdateResult, error) {
		gotFilter, gotUpdate = filter, update
		return &mongodriver.UpdateResult{UpsertedCount: 1}, nil
	}}
	c := testClient(coll)

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	err := c.UpsertSession(context.Background(), session.Record{
		SessionID:  "s-1",
		Model:      "sonnet",
		TokensUsed: 42_000,
		StartedAt:  started,
	})
	require.NoError(t, err)

	require.Equal(t, bson.M{"session_id": "s-1"}, gotFilter)
	update := gotUpdate.(bson.M)
	set := update["$set"].(bson.M)
	require.Equal(t, "s-1", set["session_id"])
	require.Equal(t, "sonnet", set["model"])
	require.Equal(t, 42_000, set["tokens_used"])
	require.NotContains(t, set, "started_at")
	insert := update["$setOnInsert"].(bson.M)
	require.Equal(t, started, insert["started_at"])
}

func TestUpsertSessionRequiresID(t *testing.T) {
	c := testClient(&fakeCollection{})
	require.Error(t, c.UpsertSession(context.Background(), session.Record{}))
}

func TestLoadSessionDecodesRecord(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	coll := &fakeCollection{findOne: func(filter any) singleResult {
		require.Equal(t, bson.M{"session_id": "s-1"}, filter)
		return fakeResult{doc: &sessionDocument{
			SessionID:  "s-1",
			Model:      "sonnet",
			TokensUsed: 42_000,
			StartedAt:  started,
			UpdatedAt:  started.Add(time.Hour),
		}}
	}}
	c := testClient(coll)

	r, err := c.LoadSession(context.Background(), "s-1")
	require.NoError(t, err)
	require.Equal(t, "s-1", r.SessionID)
	require.Equal(t, 42_000, r.TokensUsed)
	require.Equal(t, started, r.StartedAt)
}

func TestLoadSessionMapsNotFound(t *testing.T) {
	coll := &fakeCollection{findOne: func(any) singleResult {
		return fakeResult{err: mongodriver.ErrNoDocuments}
	}}
	c := testClient(coll)

	_, err := c.LoadSession(context.Background(), "missing")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{Client: &mongodriver.Client{}})
	require.Error(t, err)
}
