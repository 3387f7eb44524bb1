package models

import (
	"github.com/kimhsiao/crafttrack/internal/errors"
)

// Photo is an image attached to a project. While pending, the payload lives
// in the local blob store under BlobHash; once uploaded only RemoteURL is kept.
type Photo struct {
	ID          string `db:"id" json:"id"`
	ProjectID   string `db:"project_id" json:"project_id"`
	Caption     string `db:"caption" json:"caption,omitempty"`
	ContentType string `db:"content_type" json:"content_type,omitempty"`
	BlobHash    string `db:"blob_hash" json:"blob_hash,omitempty"`
	ThumbHash   string `db:"thumb_hash" json:"thumb_hash,omitempty"`
	Width       int    `db:"width" json:"width,omitempty"`
	Height      int    `db:"height" json:"height,omitempty"`
	RemoteURL   string `db:"remote_url" json:"remote_url,omitempty"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
	SyncMeta
}

func (*Photo) Kind() Kind               { return KindPhoto }
func (p *Photo) GetID() string          { return p.ID }
func (p *Photo) SetID(id string)        { p.ID = id }
func (p *Photo) ParentID() string       { return p.ProjectID }
func (p *Photo) RemoteUpdatedAt() int64 { return p.UpdatedAt }

// ReplaceRef rewrites the owning project reference.
func (p *Photo) ReplaceRef(k Kind, oldID, newID string) bool {
	if k == KindProject && p.ProjectID == oldID {
		p.ProjectID = newID
		return true
	}
	return false
}

// HasPayload reports whether an upload is still held locally.
func (p *Photo) HasPayload() bool {
	return p.BlobHash != ""
}

// Validate checks required fields.
func (p *Photo) Validate() error {
	if p.ProjectID == "" {
		return errors.New(errors.ErrValidation, "photo project_id is required")
	}
	if p.BlobHash == "" && p.RemoteURL == "" {
		return errors.New(errors.ErrValidation, "photo has neither payload nor remote url")
	}
	return nil
}
