package models

import (
	"strings"
	"time"

	"github.com/kimhsiao/crafttrack/internal/errors"
)

// ProjectStatus is the lifecycle state of a craft project.
type ProjectStatus string

const (
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectPaused     ProjectStatus = "paused"
	ProjectFrogged    ProjectStatus = "frogged"
)

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectInProgress, ProjectCompleted, ProjectPaused, ProjectFrogged:
		return true
	default:
		return false
	}
}

// Project is a tracked craft project.
type Project struct {
	ID               string        `db:"id" json:"id"`
	Title            string        `db:"title" json:"title"`
	Description      string        `db:"description" json:"description,omitempty"`
	CategoryID       string        `db:"category_id" json:"category_id,omitempty"`
	Status           ProjectStatus `db:"status" json:"status"`
	CurrentRow       int           `db:"current_row" json:"current_row"`
	TotalRows        int           `db:"total_rows" json:"total_rows,omitempty"`
	TimeSpentSeconds int64         `db:"time_spent_seconds" json:"time_spent_seconds"`
	MaterialIDs      []string      `db:"material_ids" json:"material_ids,omitempty"`
	PatternURL       string        `db:"pattern_url" json:"pattern_url,omitempty"`
	CreatedAt        int64         `db:"created_at" json:"created_at"`
	UpdatedAt        int64         `db:"updated_at" json:"updated_at"`
	CompletedAt      int64         `db:"completed_at" json:"completed_at,omitempty"`
	SyncMeta
}

func (*Project) Kind() Kind               { return KindProject }
func (p *Project) GetID() string          { return p.ID }
func (p *Project) SetID(id string)        { p.ID = id }
func (p *Project) ParentID() string       { return "" }
func (p *Project) RemoteUpdatedAt() int64 { return p.UpdatedAt }

// ReplaceRef rewrites material and category references.
func (p *Project) ReplaceRef(k Kind, oldID, newID string) bool {
	switch k {
	case KindMaterial:
		return replaceInSlice(p.MaterialIDs, oldID, newID)
	case KindCategory:
		if p.CategoryID == oldID {
			p.CategoryID = newID
			return true
		}
	}
	return false
}

// Validate checks required fields and ranges.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New(errors.ErrValidation, "project title is required")
	}
	if !p.Status.Valid() {
		return errors.Newf(errors.ErrValidation, "invalid project status %q", p.Status)
	}
	if p.CurrentRow < 0 || p.TotalRows < 0 {
		return errors.New(errors.ErrValidation, "row counts must not be negative")
	}
	if p.TimeSpentSeconds < 0 {
		return errors.New(errors.ErrValidation, "time spent must not be negative")
	}
	return nil
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (p *Project) CreatedAtTime() time.Time {
	return time.UnixMilli(p.CreatedAt)
}

// Progress returns the completed fraction of TotalRows, or 0 when unknown.
func (p *Project) Progress() float64 {
	if p.TotalRows <= 0 {
		return 0
	}
	if p.CurrentRow >= p.TotalRows {
		return 1
	}
	return float64(p.CurrentRow) / float64(p.TotalRows)
}
