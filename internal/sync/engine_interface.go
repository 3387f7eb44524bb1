package sync

import (
	"context"
	"time"
)

// SyncEngineInterface is what the trigger layer and the app need from an
// engine.
type SyncEngineInterface interface {
	// Sync runs one pass. It never returns an error; see SyncResult.
	Sync(ctx context.Context) *SyncResult

	// SetEventHandler sets the handler for pass events.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current engine state.
	Status() SyncStatus

	// LastSync returns the end time of the last pass in this process.
	LastSync() *time.Time

	// PendingChanges counts records and tombstones awaiting push.
	PendingChanges(ctx context.Context) (int, error)

	// LastError summarizes the failures of the last pass.
	LastError() error
}

var _ SyncEngineInterface = (*Engine)(nil)
