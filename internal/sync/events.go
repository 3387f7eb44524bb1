package sync

import (
	"time"
)

// SyncEventType identifies a pass lifecycle event.
type SyncEventType string

const (
	SyncEventStarted   SyncEventType = "sync_started"
	SyncEventCompleted SyncEventType = "sync_completed"
	SyncEventFailed    SyncEventType = "sync_failed"
	SyncEventSkipped   SyncEventType = "sync_skipped"
)

// SyncEvent is delivered to a SyncEventHandler.
type SyncEvent struct {
	Type      SyncEventType `json:"type"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Result    *SyncResult   `json:"result,omitempty"`
}

// SyncEventHandler receives pass events. Implementations must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(SyncEvent)

// OnSyncEvent implements SyncEventHandler.
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) {
	f(event)
}

// SyncErrorEntry is one entry of the engine's error history.
type SyncErrorEntry struct {
	ItemID    string    `json:"item_id"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// maxErrorHistory bounds the retained error history.
const maxErrorHistory = 100
