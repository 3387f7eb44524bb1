package models

import (
	"time"

	"github.com/kimhsiao/crafttrack/internal/errors"
)

// Session is one timed working session on a project.
type Session struct {
	ID              string `db:"id" json:"id"`
	ProjectID       string `db:"project_id" json:"project_id"`
	StartedAt       int64  `db:"started_at" json:"started_at"`
	EndedAt         int64  `db:"ended_at" json:"ended_at,omitempty"`
	DurationSeconds int64  `db:"duration_seconds" json:"duration_seconds"`
	RowsCompleted   int    `db:"rows_completed" json:"rows_completed"`
	Notes           string `db:"notes" json:"notes,omitempty"`
	CreatedAt       int64  `db:"created_at" json:"created_at"`
	UpdatedAt       int64  `db:"updated_at" json:"updated_at"`
	SyncMeta
}

func (*Session) Kind() Kind               { return KindSession }
func (s *Session) GetID() string          { return s.ID }
func (s *Session) SetID(id string)        { s.ID = id }
func (s *Session) ParentID() string       { return s.ProjectID }
func (s *Session) RemoteUpdatedAt() int64 { return s.UpdatedAt }

// ReplaceRef rewrites the owning project reference.
func (s *Session) ReplaceRef(k Kind, oldID, newID string) bool {
	if k == KindProject && s.ProjectID == oldID {
		s.ProjectID = newID
		return true
	}
	return false
}

// Validate checks required fields.
func (s *Session) Validate() error {
	if s.ProjectID == "" {
		return errors.New(errors.ErrValidation, "session project_id is required")
	}
	if s.DurationSeconds < 0 || s.RowsCompleted < 0 {
		return errors.New(errors.ErrValidation, "session counters must not be negative")
	}
	if s.EndedAt != 0 && s.EndedAt < s.StartedAt {
		return errors.New(errors.ErrValidation, "session ends before it starts")
	}
	return nil
}

// Duration returns DurationSeconds as time.Duration.
func (s *Session) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}
