package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/crafttrack/internal/db"
	"github.com/kimhsiao/crafttrack/internal/models"
)

// KindCounts is the per-status breakdown of one kind.
type KindCounts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
}

// Snapshot is a read-only view of local sync state for diagnostics.
type Snapshot struct {
	Status       SyncStatus                 `json:"status"`
	Kinds        map[models.Kind]KindCounts `json:"kinds"`
	Tombstones   []*models.Tombstone        `json:"tombstones"`
	LastSyncTime *time.Time                 `json:"last_sync_time,omitempty"`
	Errors       []SyncErrorEntry           `json:"errors,omitempty"`
}

// Inspector exposes store and engine state for debugging tools. It works
// without an engine when sync is not configured.
type Inspector struct {
	store  db.SyncStore
	engine *Engine
}

// NewInspector creates an Inspector. engine may be nil.
func NewInspector(store db.SyncStore, engine *Engine) *Inspector {
	return &Inspector{store: store, engine: engine}
}

// Snapshot collects counts, tombstones and the last sync time.
func (i *Inspector) Snapshot(ctx context.Context) (*Snapshot, error) {
	store := i.store
	snap := &Snapshot{
		Status: SyncStatusIdle,
		Kinds:  make(map[models.Kind]KindCounts),
	}
	if i.engine != nil {
		snap.Status = i.engine.Status()
		snap.Errors = i.engine.GetErrorHistory()
	}
	for _, k := range models.Kinds() {
		total, err := store.Count(ctx, k, "")
		if err != nil {
			return nil, err
		}
		pending, err := store.Count(ctx, k, models.StatusPending)
		if err != nil {
			return nil, err
		}
		snap.Kinds[k] = KindCounts{Total: total, Pending: pending}
	}

	tombstones, err := store.ListTombstones(ctx)
	if err != nil {
		return nil, err
	}
	snap.Tombstones = tombstones

	last, ok, err := lastSyncTime(ctx, store)
	if err != nil {
		return nil, err
	}
	if ok {
		snap.LastSyncTime = &last
	}
	return snap, nil
}

// Pending lists the records of kind awaiting push.
func (i *Inspector) Pending(ctx context.Context, kind models.Kind) ([]models.Entity, error) {
	return i.store.GetAllByIndex(ctx, kind, db.IndexSyncStatus, string(models.StatusPending))
}
