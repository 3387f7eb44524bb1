// Package sync reconciles the local store with the remote API in single-flight
// push-then-pull passes.
package sync

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kimhsiao/crafttrack/internal/db"
	"github.com/kimhsiao/crafttrack/internal/logging"
	"github.com/kimhsiao/crafttrack/internal/models"
	"github.com/kimhsiao/crafttrack/internal/remote"
	"github.com/kimhsiao/crafttrack/internal/sync/conflict"
)

// SyncStatus is the engine state.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
)

// Remote is the subset of the API client a pass needs.
type Remote interface {
	List(ctx context.Context, kind models.Kind) (*remote.ListResult, error)
	Create(ctx context.Context, e models.Entity) (models.Entity, error)
	Update(ctx context.Context, e models.Entity) (models.Entity, error)
	Delete(ctx context.Context, kind models.Kind, id string) error
	UploadPhoto(ctx context.Context, p *models.Photo, payload []byte) (*models.Photo, error)
}

// BlobStore holds pending photo payloads.
type BlobStore interface {
	Get(hash string) ([]byte, error)
	Delete(hash string) error
}

// Engine runs sync passes. At most one pass runs at a time; a request made
// while a pass is running is skipped.
type Engine struct {
	store    db.SyncStore
	remote   Remote
	blobs    BlobStore
	resolver *conflict.Resolver
	gate     *semaphore.Weighted
	now      func() time.Time

	pullConcurrency int

	mu           sync.RWMutex
	status       SyncStatus
	lastSync     *time.Time
	lastErr      error
	handler      SyncEventHandler
	errorHistory []SyncErrorEntry
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver overrides the pull conflict policy.
func WithResolver(r *conflict.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEventHandler sets the initial event handler.
func WithEventHandler(h SyncEventHandler) Option {
	return func(e *Engine) { e.handler = h }
}

// WithPullConcurrency bounds concurrent collection fetches.
func WithPullConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pullConcurrency = n
		}
	}
}

// NewEngine creates an Engine. blobs may be nil when photos are not used.
func NewEngine(store db.SyncStore, r Remote, blobs BlobStore, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		remote:          r,
		blobs:           blobs,
		resolver:        conflict.NewResolver(conflict.StrategyLocalWinsIfNewer),
		gate:            semaphore.NewWeighted(1),
		now:             time.Now,
		pullConcurrency: len(models.Kinds()),
		status:          SyncStatusIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetEventHandler replaces the event handler; nil disables events.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

func (e *Engine) emitEvent(event SyncEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h != nil {
		h.OnSyncEvent(event)
	}
}

// Status returns the current engine state.
func (e *Engine) Status() SyncStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// LastSync returns the end time of the last completed pass in this process.
func (e *Engine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastError returns a summary error for the last pass, or nil.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// PendingChanges counts records and tombstones awaiting push.
func (e *Engine) PendingChanges(ctx context.Context) (int, error) {
	total := 0
	for _, k := range models.PushKinds() {
		n, err := e.store.Count(ctx, k, models.StatusPending)
		if err != nil {
			return 0, err
		}
		total += n
	}
	tombstones, err := e.store.ListTombstones(ctx)
	if err != nil {
		return 0, err
	}
	return total + len(tombstones), nil
}

// LastSyncTime reads the persisted end time of the last pass.
func (e *Engine) LastSyncTime(ctx context.Context) (time.Time, bool, error) {
	return lastSyncTime(ctx, e.store)
}

func lastSyncTime(ctx context.Context, store db.MetadataStore) (time.Time, bool, error) {
	v, ok, err := store.GetMeta(ctx, models.MetaLastSyncTime)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (e *Engine) recordError(itemID, operation string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorHistory = append(e.errorHistory, SyncErrorEntry{
		ItemID:    itemID,
		Operation: operation,
		Error:     err.Error(),
		Timestamp: e.now(),
	})
	if over := len(e.errorHistory) - maxErrorHistory; over > 0 {
		e.errorHistory = append([]SyncErrorEntry(nil), e.errorHistory[over:]...)
	}
}

// GetErrorHistory returns a copy of the recent record-level errors.
func (e *Engine) GetErrorHistory() []SyncErrorEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SyncErrorEntry, len(e.errorHistory))
	copy(out, e.errorHistory)
	return out
}

// ClearErrorHistory forgets recorded errors.
func (e *Engine) ClearErrorHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorHistory = nil
}

// Sync runs one push-then-pull pass, or returns a skipped result when a pass
// is already running. Once started a pass runs to completion even if ctx is
// cancelled; individual calls are still bounded by the client timeout.
func (e *Engine) Sync(ctx context.Context) *SyncResult {
	if !e.gate.TryAcquire(1) {
		logging.Debug("Sync already in progress, skipping", nil)
		res := newResult(e.now())
		res.Skipped = true
		res.EndTime = res.StartTime
		e.emitEvent(SyncEvent{Type: SyncEventSkipped, Result: res})
		return res
	}
	defer e.gate.Release(1)

	ctx = context.WithoutCancel(ctx)
	res := newResult(e.now())

	e.mu.Lock()
	e.status = SyncStatusSyncing
	e.mu.Unlock()
	e.emitEvent(SyncEvent{Type: SyncEventStarted, Timestamp: res.StartTime})
	logging.Info("Sync pass started", nil)

	p := &pass{Engine: e, ctx: ctx, res: res, suppressed: make(map[string]bool)}
	p.push()
	p.pull()

	res.EndTime = e.now()
	res.Duration = res.EndTime.Sub(res.StartTime)
	if err := e.store.SetMeta(ctx, models.MetaLastSyncTime, strconv.FormatInt(res.EndTime.UnixMilli(), 10)); err != nil {
		res.addError("record last sync time: %v", err)
	}
	res.Success = len(res.Errors) == 0

	e.mu.Lock()
	e.status = SyncStatusIdle
	end := res.EndTime
	e.lastSync = &end
	e.lastErr = nil
	if !res.Success {
		e.lastErr = &PassError{Count: len(res.Errors), First: res.Errors[0]}
	}
	e.mu.Unlock()

	if res.Success {
		logging.Info("Sync pass completed", res.logFields())
		e.emitEvent(SyncEvent{Type: SyncEventCompleted, Result: res})
	} else {
		logging.Warn("Sync pass completed with errors", res.logFields())
		e.emitEvent(SyncEvent{Type: SyncEventFailed, Message: res.Errors[0], Result: res})
	}
	return res
}

// PassError summarizes the record failures of a pass.
type PassError struct {
	Count int
	First string
}

func (e *PassError) Error() string {
	if e.Count == 1 {
		return "sync pass had 1 error: " + e.First
	}
	return "sync pass had " + strconv.Itoa(e.Count) + " errors, first: " + e.First
}
