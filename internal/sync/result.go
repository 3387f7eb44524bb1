package sync

import (
	"fmt"
	"time"

	"github.com/kimhsiao/crafttrack/internal/models"
)

// SyncResult summarizes one pass. A pass never fails as a whole; record
// failures are collected in Errors and Success is false when any occurred.
type SyncResult struct {
	Skipped bool
	Success bool

	Pushed  map[models.Kind]int
	Pulled  map[models.Kind]int
	Deleted int

	// Deferred counts children left pending because their parent has no
	// server id yet.
	Deferred int
	// Kept counts pulled records ignored in favour of a newer pending edit.
	Kept int
	// Suppressed counts pulled records ignored because of a local deletion.
	Suppressed int
	// Pruned counts synced records removed because the server no longer
	// lists them.
	Pruned int
	// Invalid counts pulled records rejected by validation.
	Invalid int

	Errors []string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

func newResult(start time.Time) *SyncResult {
	return &SyncResult{
		Pushed:    make(map[models.Kind]int),
		Pulled:    make(map[models.Kind]int),
		StartTime: start,
	}
}

func (r *SyncResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// TotalPushed sums Pushed over every kind.
func (r *SyncResult) TotalPushed() int {
	return sum(r.Pushed)
}

// TotalPulled sums Pulled over every kind.
func (r *SyncResult) TotalPulled() int {
	return sum(r.Pulled)
}

func sum(m map[models.Kind]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

// logFields renders the result for structured logging.
func (r *SyncResult) logFields() map[string]interface{} {
	return map[string]interface{}{
		"skipped":     r.Skipped,
		"success":     r.Success,
		"pushed":      r.TotalPushed(),
		"pulled":      r.TotalPulled(),
		"deleted":     r.Deleted,
		"deferred":    r.Deferred,
		"kept":        r.Kept,
		"suppressed":  r.Suppressed,
		"pruned":      r.Pruned,
		"invalid":     r.Invalid,
		"errors":      len(r.Errors),
		"duration_ms": r.Duration.Milliseconds(),
	}
}
