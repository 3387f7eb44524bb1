package models

import (
	"strings"

	"github.com/kimhsiao/crafttrack/internal/errors"
)

// Category is reference data for grouping projects, merged by label.
type Category struct {
	ID        string `db:"id" json:"id"`
	Label     string `db:"label" json:"label"`
	Color     string `db:"color" json:"color,omitempty"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	SyncMeta
}

func (*Category) Kind() Kind                             { return KindCategory }
func (c *Category) GetID() string                        { return c.ID }
func (c *Category) SetID(id string)                      { c.ID = id }
func (c *Category) ParentID() string                     { return "" }
func (c *Category) RemoteUpdatedAt() int64               { return c.UpdatedAt }
func (c *Category) ReplaceRef(Kind, string, string) bool { return false }

// NaturalKey returns the normalized label.
func (c *Category) NaturalKey() string {
	return NormalizeLabel(c.Label)
}

// NormalizeLabel folds a category label for comparison.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// Validate checks required fields.
func (c *Category) Validate() error {
	if NormalizeLabel(c.Label) == "" {
		return errors.New(errors.ErrValidation, "category label is required")
	}
	return nil
}
