// Package mongo implements session.Store on MongoDB so conversations survive
// relay restarts. It delegates driver access to the clients/mongo wrapper,
// which owns collection setup, indexes, and operation timeouts.
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/chatrelay/relay/features/session/mongo/clients/mongo"
	"github.com/chatrelay/relay/runtime/session"
)

// Store implements session.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Upsert stores the provided session metadata.
func (s *Store) Upsert(ctx context.Context, r session.Record) error {
	return s.client.UpsertSession(ctx, r)
}

// Load retrieves session metadata from storage.
func (s *Store) Load(ctx context.Context, sessionID string) (session.Record, error) {
	return s.client.LoadSession(ctx, sessionID)
}
