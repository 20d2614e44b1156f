package duckdb

import (
	"context"

	"github.com/tunogya/tkg/pkg/store"
)

// Store bundles the DuckDB repositories behind the store.Store contract
type Store struct {
	*BarRepo
	*ObservationRepo
	*LabelRepo

	client *Client
}

var _ store.Store = (*Store)(nil)

// Open connects to path, creates the schema and returns a ready store
func Open(ctx context.Context, path string) (*Store, error) {
	client, err := NewClient(path)
	if err != nil {
		return nil, err
	}
	if err := InitializeSchema(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return &Store{
		BarRepo:         NewBarRepo(client),
		ObservationRepo: NewObservationRepo(client),
		LabelRepo:       NewLabelRepo(client),
		client:          client,
	}, nil
}

// Reset drops and recreates every table
func (s *Store) Reset(ctx context.Context) error {
	if err := DropAllTables(ctx, s.client); err != nil {
		return err
	}
	return InitializeSchema(ctx, s.client)
}

// Close closes the underlying connection
func (s *Store) Close() error {
	return s.client.Close()
}
