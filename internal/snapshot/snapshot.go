// Package snapshot captures a target database's table and column metadata and
// keeps a copy in the catalog so prompts can be built without touching the
// target again. Stored snapshots are never refreshed; drift is accepted.
package snapshot

import (
	"context"
	"fmt"

	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/schema"
)

type Repository interface {
	SaveSchemaSnapshot(ctx context.Context, connectionID int64, snapshot schema.Snapshot) error
	GetSchemaSnapshot(ctx context.Context, connectionID int64) (schema.Snapshot, error)
}

type Store struct {
	engines engine.Set
	repo    Repository
}

func NewStore(engines engine.Set, repo Repository) *Store {
	return &Store{engines: engines, repo: repo}
}

// Capture introspects the live database behind target.
func (s *Store) Capture(ctx context.Context, kind engine.Kind, target engine.Target) (schema.Snapshot, error) {
	e, err := s.engines.For(kind)
	if err != nil {
		return schema.Snapshot{}, err
	}
	return e.Introspect(ctx, target)
}

func (s *Store) Persist(ctx context.Context, connectionID int64, snapshot schema.Snapshot) error {
	if err := s.repo.SaveSchemaSnapshot(ctx, connectionID, snapshot); err != nil {
		return fmt.Errorf("persist schema snapshot: %w", err)
	}
	return nil
}

// Retrieve returns the stored snapshot, or an empty one when nothing was stored.
func (s *Store) Retrieve(ctx context.Context, connectionID int64) (schema.Snapshot, error) {
	snapshot, err := s.repo.GetSchemaSnapshot(ctx, connectionID)
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("retrieve schema snapshot: %w", err)
	}
	if snapshot.Tables == nil {
		snapshot.Tables = []schema.Table{}
	}
	return snapshot, nil
}
