// Package mongo hosts the MongoDB client used by the session store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/chatrelay/relay/runtime/session"
)

const (
	defaultCollection = "relay_sessions"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "session-mongo"
)

// Client exposes Mongo-backed operations for session metadata.
type Client interface {
	health.Pinger

	UpsertSession(ctx context.Context, r session.Record) error
	LoadSession(ctx context.Context, sessionID string) (session.Record, error)
}

// Options configures the Mongo session client.
type Options struct {
	// Client is the connected driver client. Required.
	Client *mongodriver.Client
	// Database names the target database. Required.
	Database string
	// Collection overrides the default sessions collection name.
	Collection string
	// Timeout bounds individual operations. Defaults to 5s.
	Timeout time.Duration
}

type client struct {
	mongo    *mongodriver.Client
	sessions collection
	timeout  time.Duration
}

// New returns a Client backed by MongoDB. It ensures the unique session_id
// index exists before returning.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(collName)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, sessions: coll, timeout: timeout}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// UpsertSession inserts or updates the record keyed by SessionID. StartedAt
// is written only on insert so the original value survives later updates.
func (c *client) UpsertSession(ctx context.Context, r session.Record) error {
	if r.SessionID == "" {
		return errors.New("session id is required")
	}
	now := time.Now().UTC()
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	doc := fromRecord(r)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"session_id": r.SessionID}
	update := bson.M{
		"$set": bson.M{
			"session_id":  doc.SessionID,
			"model":       doc.Model,
			"tokens_used": doc.TokensUsed,
			"updated_at":  doc.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"started_at": doc.StartedAt,
		},
	}
	_, err := c.sessions.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// LoadSession retrieves a record or session.ErrNotFound.
func (c *client) LoadSession(ctx context.Context, sessionID string) (session.Record, error) {
	if sessionID == "" {
		return session.Record{}, errors.New("session id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	var doc sessionDocument
	if err := c.sessions.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Record{}, session.ErrNotFound
		}
		return session.Record{}, err
	}
	return doc.toRecord(), nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type sessionDocument struct {
	SessionID  string    `bson:"session_id"`
	Model      string    `bson:"model,omitempty"`
	TokensUsed int       `bson:"tokens_used"`
	StartedAt  time.Time `bson:"started_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func fromRecord(r session.Record) sessionDocument {
	return sessionDocument{
		SessionID:  r.SessionID,
		Model:      r.Model,
		TokensUsed: r.TokensUsed,
		StartedAt:  r.StartedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func (doc sessionDocument) toRecord() session.Record {
	return session.Record{
		SessionID:  doc.SessionID,
		Model:      doc.Model,
		TokensUsed: doc.TokensUsed,
		StartedAt:  doc.StartedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

// collection abstracts the driver collection so tests can substitute fakes.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
