package models

import (
	"fmt"
	"time"

	"github.com/kimhsiao/crafttrack/internal/uuid"
)

// SyncStatus is the reconciliation state of a local record.
type SyncStatus string

const (
	StatusSynced  SyncStatus = "synced"
	StatusPending SyncStatus = "pending"
	// StatusConflict is reserved; no code path assigns it yet.
	StatusConflict SyncStatus = "conflict"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	return s == StatusSynced || s == StatusPending || s == StatusConflict
}

// SyncMeta is embedded in every stored entity. It never leaves the device.
type SyncMeta struct {
	SyncStatus     SyncStatus `json:"sync_status"`
	LocalUpdatedAt int64      `json:"local_updated_at"`
	IsLocalOnly    bool       `json:"is_local_only"`
}

// Sync exposes the embedded metadata through the Entity interface.
func (m *SyncMeta) Sync() *SyncMeta {
	return m
}

// MarkPending flags a local mutation stamped at now (ms).
func (m *SyncMeta) MarkPending(now int64) {
	m.SyncStatus = StatusPending
	m.LocalUpdatedAt = now
}

// MarkSynced records server acknowledgement.
func (m *SyncMeta) MarkSynced() {
	m.SyncStatus = StatusSynced
	m.IsLocalOnly = false
}

// LocalUpdatedTime returns LocalUpdatedAt as time.Time.
func (m *SyncMeta) LocalUpdatedTime() time.Time {
	return time.UnixMilli(m.LocalUpdatedAt)
}

// Entity is implemented by every synchronizable record.
type Entity interface {
	Kind() Kind
	GetID() string
	SetID(id string)
	Sync() *SyncMeta
	// ParentID returns the owning project id, or "" for top-level records.
	ParentID() string
	// RemoteUpdatedAt returns the last known server updated_at (ms).
	RemoteUpdatedAt() int64
	// ReplaceRef rewrites references to a record of kind k from oldID to
	// newID and reports whether anything changed.
	ReplaceRef(k Kind, oldID, newID string) bool
	Validate() error
}

// Labeled is implemented by entities merged by natural key.
type Labeled interface {
	NaturalKey() string
}

// Tombstone records the local deletion of a previously synced record until
// the deletion is confirmed upstream.
type Tombstone struct {
	ID         string `db:"id" json:"id"`
	EntityType Kind   `db:"entity_type" json:"entity_type"`
	EntityID   string `db:"entity_id" json:"entity_id"`
	DeletedAt  int64  `db:"deleted_at" json:"deleted_at"`
}

// TableName returns the table name for Tombstone.
func (Tombstone) TableName() string {
	return "deletions"
}

// NewTombstone builds the tombstone for kind/id deleted at now (ms).
func NewTombstone(k Kind, id string, now int64) *Tombstone {
	return &Tombstone{
		ID:         fmt.Sprintf("del-%s-%s", k, id),
		EntityType: k,
		EntityID:   id,
		DeletedAt:  now,
	}
}

// Key returns the deletions table key.
func (t *Tombstone) Key() string {
	return TombstoneKey(t.EntityType, t.EntityID)
}

// TombstoneKey returns the deletions table key for kind/id.
func TombstoneKey(k Kind, id string) string {
	return string(k) + ":" + id
}

// Metadata keys.
const (
	MetaLastSyncTime = "lastSyncTime"
	MetaAccount      = "account"
)

// IsLocalID reports whether id was minted on this device.
func IsLocalID(id string) bool {
	return uuid.IsLocal(id)
}

func replaceInSlice(ids []string, oldID, newID string) bool {
	changed := false
	for i, id := range ids {
		if id == oldID {
			ids[i] = newID
			changed = true
		}
	}
	return changed
}
