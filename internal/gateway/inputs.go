package gateway

import (
	"github.com/kimhsiao/crafttrack/internal/models"
)

// Partial inputs. A nil field keeps the existing value (or the documented
// default on first write). ID "" creates a new local record. SyncStatus is
// honored only when set, which is reserved for importing server data.

// ProjectInput is a partial project.
type ProjectInput struct {
	ID               string
	Title            *string
	Description      *string
	CategoryID       *string
	Status           *models.ProjectStatus
	CurrentRow       *int
	TotalRows        *int
	TimeSpentSeconds *int64
	MaterialIDs      *[]string
	PatternURL       *string
	CreatedAt        *int64
	UpdatedAt        *int64
	CompletedAt      *int64
	SyncStatus       models.SyncStatus
}

// MaterialInput is a partial material.
type MaterialInput struct {
	ID         string
	Name       *string
	Type       *string
	Brand      *string
	Color      *string
	Weight     *string
	Quantity   *float64
	Unit       *string
	Notes      *string
	CreatedAt  *int64
	UpdatedAt  *int64
	SyncStatus models.SyncStatus
}

// SessionInput is a partial session.
type SessionInput struct {
	ID              string
	ProjectID       *string
	StartedAt       *int64
	EndedAt         *int64
	DurationSeconds *int64
	RowsCompleted   *int
	Notes           *string
	CreatedAt       *int64
	UpdatedAt       *int64
	SyncStatus      models.SyncStatus
}

// NoteInput is a partial note.
type NoteInput struct {
	ID         string
	ProjectID  *string
	Content    *string
	CreatedAt  *int64
	UpdatedAt  *int64
	SyncStatus models.SyncStatus
}

// PhotoInput is a partial photo. The payload is passed separately.
type PhotoInput struct {
	ID         string
	ProjectID  *string
	Caption    *string
	RemoteURL  *string
	CreatedAt  *int64
	UpdatedAt  *int64
	SyncStatus models.SyncStatus
}

// CategoryInput is a partial category.
type CategoryInput struct {
	ID         string
	Label      *string
	Color      *string
	CreatedAt  *int64
	UpdatedAt  *int64
	SyncStatus models.SyncStatus
}

// Ptr returns a pointer to v, for building inputs.
func Ptr[T any](v T) *T {
	return &v
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Documented first-write defaults.
const (
	DefaultMaterialType = "yarn"
	DefaultMaterialUnit = "skein"
	DefaultQuantity     = 1
)
