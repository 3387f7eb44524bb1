package models

import (
	"strings"

	"github.com/kimhsiao/crafttrack/internal/errors"
)

// Material is a stash item (yarn, fabric, notions). Materials are owned
// independently of projects.
type Material struct {
	ID        string  `db:"id" json:"id"`
	Name      string  `db:"name" json:"name"`
	Type      string  `db:"type" json:"type"`
	Brand     string  `db:"brand" json:"brand,omitempty"`
	Color     string  `db:"color" json:"color,omitempty"`
	Weight    string  `db:"weight" json:"weight,omitempty"`
	Quantity  float64 `db:"quantity" json:"quantity"`
	Unit      string  `db:"unit" json:"unit"`
	Notes     string  `db:"notes" json:"notes,omitempty"`
	CreatedAt int64   `db:"created_at" json:"created_at"`
	UpdatedAt int64   `db:"updated_at" json:"updated_at"`
	SyncMeta
}

func (*Material) Kind() Kind                             { return KindMaterial }
func (m *Material) GetID() string                        { return m.ID }
func (m *Material) SetID(id string)                      { m.ID = id }
func (m *Material) ParentID() string                     { return "" }
func (m *Material) RemoteUpdatedAt() int64               { return m.UpdatedAt }
func (m *Material) ReplaceRef(Kind, string, string) bool { return false }

// Validate checks required fields.
func (m *Material) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New(errors.ErrValidation, "material name is required")
	}
	if m.Quantity < 0 {
		return errors.New(errors.ErrValidation, "material quantity must not be negative")
	}
	return nil
}
