package db

import (
	"context"

	"github.com/kimhsiao/crafttrack/internal/models"
)

// EntityStore defines the keyed entity operations.
type EntityStore interface {
	// Get returns the record or a NOT_FOUND error.
	Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error)

	// GetAll returns every record of kind.
	GetAll(ctx context.Context, kind models.Kind) ([]models.Entity, error)

	// GetAllByIndex returns records whose index column equals value.
	GetAllByIndex(ctx context.Context, kind models.Kind, index Index, value string) ([]models.Entity, error)

	// Put writes a whole record; last write wins.
	Put(ctx context.Context, e models.Entity) error

	// Delete removes a record if present.
	Delete(ctx context.Context, kind models.Kind, id string) error

	// Rekey replaces oldID with e's id in one transaction.
	Rekey(ctx context.Context, oldID string, e models.Entity) error
}

// TombstoneStore defines operations on pending deletions.
type TombstoneStore interface {
	PutTombstone(ctx context.Context, t *models.Tombstone) error
	HasTombstone(ctx context.Context, kind models.Kind, id string) (bool, error)
	ListTombstones(ctx context.Context) ([]*models.Tombstone, error)
	DeleteTombstone(ctx context.Context, kind models.Kind, id string) error
}

// MetadataStore defines operations on scalar metadata.
type MetadataStore interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
	DeleteMeta(ctx context.Context, key string) error
}

// SyncStore combines the stores needed by the mutation gateway and the sync
// engine.
type SyncStore interface {
	EntityStore
	TombstoneStore
	MetadataStore
	Count(ctx context.Context, kind models.Kind, status models.SyncStatus) (int, error)
}

// Ensure *Store implements the interfaces at compile time.
var (
	_ EntityStore    = (*Store)(nil)
	_ TombstoneStore = (*Store)(nil)
	_ MetadataStore  = (*Store)(nil)
	_ SyncStore      = (*Store)(nil)
)
