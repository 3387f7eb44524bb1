package models

import (
	"strings"

	"github.com/kimhsiao/crafttrack/internal/errors"
)

// Note is free text attached to a project.
type Note struct {
	ID        string `db:"id" json:"id"`
	ProjectID string `db:"project_id" json:"project_id"`
	Content   string `db:"content" json:"content"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	SyncMeta
}

func (*Note) Kind() Kind               { return KindNote }
func (n *Note) GetID() string          { return n.ID }
func (n *Note) SetID(id string)        { n.ID = id }
func (n *Note) ParentID() string       { return n.ProjectID }
func (n *Note) RemoteUpdatedAt() int64 { return n.UpdatedAt }

// ReplaceRef rewrites the owning project reference.
func (n *Note) ReplaceRef(k Kind, oldID, newID string) bool {
	if k == KindProject && n.ProjectID == oldID {
		n.ProjectID = newID
		return true
	}
	return false
}

// Validate checks required fields.
func (n *Note) Validate() error {
	if n.ProjectID == "" {
		return errors.New(errors.ErrValidation, "note project_id is required")
	}
	if strings.TrimSpace(n.Content) == "" {
		return errors.New(errors.ErrValidation, "note content is required")
	}
	return nil
}
