// Package conflict decides how a pulled record meets its local copy and
// performs the per-kind field merge.
package conflict

import (
	"slices"

	"github.com/kimhsiao/crafttrack/internal/logging"
	"github.com/kimhsiao/crafttrack/internal/models"
)

// Strategy selects the policy for pending local copies.
type Strategy string

const (
	// StrategyLocalWinsIfNewer keeps a pending local copy edited after the
	// remote updated_at.
	StrategyLocalWinsIfNewer Strategy = "local_wins_if_newer"
	// StrategyRemoteWins always merges the remote copy in.
	StrategyRemoteWins Strategy = "remote_wins"
)

// Resolution is the outcome for one pulled record.
type Resolution string

const (
	ResolutionInsert      Resolution = "insert"
	ResolutionKeepLocal   Resolution = "keep_local"
	ResolutionApplyRemote Resolution = "apply_remote"
)

// Decision describes what the merge step should do with one pulled record.
type Decision struct {
	Kind            models.Kind
	ID              string
	Resolution      Resolution
	LocalTimestamp  int64
	RemoteTimestamp int64
}

// Resolver applies a Strategy.
type Resolver struct {
	strategy Strategy
}

// NewResolver creates a Resolver. An unknown strategy falls back to
// StrategyLocalWinsIfNewer.
func NewResolver(strategy Strategy) *Resolver {
	if strategy != StrategyRemoteWins {
		strategy = StrategyLocalWinsIfNewer
	}
	return &Resolver{strategy: strategy}
}

// Strategy returns the configured policy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Decide compares local (nil when absent) with remote.
func (r *Resolver) Decide(local, remote models.Entity) (*Decision, error) {
	if remote == nil {
		return nil, ErrInvalidConflict
	}
	d := &Decision{
		Kind:            remote.Kind(),
		ID:              remote.GetID(),
		RemoteTimestamp: remote.RemoteUpdatedAt(),
	}
	if local == nil {
		d.Resolution = ResolutionInsert
		return d, nil
	}
	if local.Kind() != remote.Kind() || local.GetID() != remote.GetID() {
		return nil, ErrItemIDMismatch
	}

	meta := local.Sync()
	d.LocalTimestamp = meta.LocalUpdatedAt
	d.Resolution = ResolutionApplyRemote
	if r.strategy == StrategyLocalWinsIfNewer &&
		meta.SyncStatus == models.StatusPending &&
		meta.LocalUpdatedAt > remote.RemoteUpdatedAt() {
		d.Resolution = ResolutionKeepLocal
	}

	if meta.SyncStatus == models.StatusPending {
		logging.Info("Pulled record meets pending local edit", map[string]interface{}{
			"kind":             string(d.Kind),
			"id":               d.ID,
			"local_timestamp":  d.LocalTimestamp,
			"remote_timestamp": d.RemoteTimestamp,
			"resolution":       string(d.Resolution),
			"strategy":         string(r.strategy),
		})
	}
	return d, nil
}

// Merge returns remote with local-only state carried over and every
// monotonically accumulating counter raised to max(local, remote). diverged
// reports that the result differs from what the server holds, so the merged
// record still needs pushing. local may be nil.
func Merge(local, remote models.Entity) (merged models.Entity, diverged bool, err error) {
	if remote == nil {
		return nil, false, ErrInvalidConflict
	}
	if local == nil {
		return remote, false, nil
	}
	if local.Kind() != remote.Kind() || local.GetID() != remote.GetID() {
		return nil, false, ErrItemIDMismatch
	}

	switch r := remote.(type) {
	case *models.Project:
		l := local.(*models.Project)
		r.CurrentRow, diverged = maxInt(l.CurrentRow, r.CurrentRow, diverged)
		r.TimeSpentSeconds, diverged = maxInt64(l.TimeSpentSeconds, r.TimeSpentSeconds, diverged)
		keepLocalRefs(l, r)
	case *models.Session:
		l := local.(*models.Session)
		r.DurationSeconds, diverged = maxInt64(l.DurationSeconds, r.DurationSeconds, diverged)
		r.RowsCompleted, diverged = maxInt(l.RowsCompleted, r.RowsCompleted, diverged)
	case *models.Photo:
		l := local.(*models.Photo)
		// Cached preview of an already uploaded photo.
		r.ThumbHash = l.ThumbHash
	case *models.Material, *models.Note, *models.Category:
	default:
		return nil, false, ErrMergeNotSupported
	}

	remote.Sync().LocalUpdatedAt = local.Sync().LocalUpdatedAt
	return remote, diverged, nil
}

// keepLocalRefs carries references to records the server has not seen yet.
// They are rewritten once those records receive server ids.
func keepLocalRefs(l, r *models.Project) {
	if r.CategoryID == "" && models.IsLocalID(l.CategoryID) {
		r.CategoryID = l.CategoryID
	}
	for _, id := range l.MaterialIDs {
		if models.IsLocalID(id) && !slices.Contains(r.MaterialIDs, id) {
			r.MaterialIDs = append(r.MaterialIDs, id)
		}
	}
}

func maxInt(local, remote int, diverged bool) (int, bool) {
	if local > remote {
		return local, true
	}
	return remote, diverged
}

func maxInt64(local, remote int64, diverged bool) (int64, bool) {
	if local > remote {
		return local, true
	}
	return remote, diverged
}

// Errors
var (
	ErrInvalidConflict   = &ConflictError{Message: "invalid conflict: remote record must be non-nil"}
	ErrItemIDMismatch    = &ConflictError{Message: "item kind or id mismatch"}
	ErrMergeNotSupported = &ConflictError{Message: "merge not supported"}
)

// ConflictError represents a resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
