// Package gateway is the only write path for entities. Every save and delete
// lands in the local store first, whatever the connectivity.
package gateway

import (
	"context"

	"github.com/kimhsiao/crafttrack/internal/db"
	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/logging"
	"github.com/kimhsiao/crafttrack/internal/media"
	"github.com/kimhsiao/crafttrack/internal/models"
	"github.com/kimhsiao/crafttrack/internal/storage"
	"github.com/kimhsiao/crafttrack/internal/uuid"
)

// Gateway applies partial saves and deletes to the store.
type Gateway struct {
	store db.SyncStore
	blobs *storage.BlobStore
	clock Clock
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the timestamp source.
func WithClock(c Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// New creates a Gateway. blobs may be nil when photos are not used.
func New(store db.SyncStore, blobs *storage.BlobStore, opts ...Option) *Gateway {
	g := &Gateway{store: store, blobs: blobs, clock: NewMonotonicClock()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// save runs the read-merge-stamp-write sequence shared by every kind.
// apply merges the caller's fields; isNew tells it to fill defaults first.
func (g *Gateway) save(ctx context.Context, kind models.Kind, id string, explicit models.SyncStatus,
	apply func(e models.Entity, isNew bool, now int64) error) (models.Entity, error) {

	var e models.Entity
	isNew := id == ""
	if !isNew {
		existing, err := g.store.Get(ctx, kind, id)
		switch {
		case err == nil:
			e = existing
		case errors.Is(err, errors.ErrNotFound):
			// Server ids are minted upstream only.
			if !models.IsLocalID(id) && explicit == "" {
				return nil, errors.Newf(errors.ErrNotFound, "%s %s not found", kind, id)
			}
			isNew = true
		default:
			return nil, err
		}
	}
	if e == nil {
		var err error
		if e, err = models.New(kind); err != nil {
			return nil, err
		}
		if id == "" {
			id = uuid.NewLocal()
		}
		e.SetID(id)
	}

	now := g.clock.NowMillis()
	if err := apply(e, isNew, now); err != nil {
		return nil, err
	}

	meta := e.Sync()
	meta.IsLocalOnly = models.IsLocalID(e.GetID())
	switch {
	case explicit == "":
		meta.SyncStatus = models.StatusPending
	case !explicit.Valid():
		return nil, errors.Newf(errors.ErrValidation, "invalid sync status %q", explicit)
	case meta.IsLocalOnly && explicit != models.StatusPending:
		// A never-pushed record cannot be anything but pending.
		logging.Warn("Ignoring explicit sync status for local-only record", map[string]interface{}{
			"kind": string(kind), "id": e.GetID(), "status": string(explicit),
		})
		meta.SyncStatus = models.StatusPending
	default:
		meta.SyncStatus = explicit
	}
	meta.LocalUpdatedAt = now

	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := g.store.Put(ctx, e); err != nil {
		return nil, err
	}

	logging.Debug("Entity saved", map[string]interface{}{
		"kind": string(kind), "id": e.GetID(), "new": isNew, "sync_status": string(meta.SyncStatus),
	})
	return e, nil
}

// requireProject checks that a child's owning project exists locally.
func (g *Gateway) requireProject(ctx context.Context, projectID string) error {
	if projectID == "" {
		return nil // Validate reports the missing field
	}
	if _, err := g.store.Get(ctx, models.KindProject, projectID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.Newf(errors.ErrValidation, "project %s does not exist", projectID)
		}
		return err
	}
	return nil
}

// =====================================================
// Typed Saves
// =====================================================

// SaveProject creates or updates a project.
func (g *Gateway) SaveProject(ctx context.Context, in ProjectInput) (*models.Project, error) {
	e, err := g.save(ctx, models.KindProject, in.ID, in.SyncStatus, func(e models.Entity, isNew bool, now int64) error {
		p := e.(*models.Project)
		if isNew {
			p.Status = models.ProjectInProgress
			p.CreatedAt = now
		}
		prevStatus := p.Status
		set(&p.Title, in.Title)
		set(&p.Description, in.Description)
		set(&p.CategoryID, in.CategoryID)
		set(&p.Status, in.Status)
		set(&p.CurrentRow, in.CurrentRow)
		set(&p.TotalRows, in.TotalRows)
		set(&p.TimeSpentSeconds, in.TimeSpentSeconds)
		set(&p.MaterialIDs, in.MaterialIDs)
		set(&p.PatternURL, in.PatternURL)
		set(&p.CreatedAt, in.CreatedAt)
		set(&p.UpdatedAt, in.UpdatedAt)
		set(&p.CompletedAt, in.CompletedAt)
		if in.CompletedAt == nil && p.Status == models.ProjectCompleted && prevStatus != models.ProjectCompleted {
			p.CompletedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.(*models.Project), nil
}

// SaveMaterial creates or updates a material.
func (g *Gateway) SaveMaterial(ctx context.Context, in MaterialInput) (*models.Material, error) {
	e, err := g.save(ctx, models.KindMaterial, in.ID, in.SyncStatus, func(e models.Entity, isNew bool, now int64) error {
		m := e.(*models.Material)
		if isNew {
			m.Type = DefaultMaterialType
			m.Unit = DefaultMaterialUnit
			m.Quantity = DefaultQuantity
			m.CreatedAt = now
		}
		set(&m.Name, in.Name)
		set(&m.Type, in.Type)
		set(&m.Brand, in.Brand)
		set(&m.Color, in.Color)
		set(&m.Weight, in.Weight)
		set(&m.Quantity, in.Quantity)
		set(&m.Unit, in.Unit)
		set(&m.Notes, in.Notes)
		set(&m.CreatedAt, in.CreatedAt)
		set(&m.UpdatedAt, in.UpdatedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.(*models.Material), nil
}

// SaveSession creates or updates a session.
func (g *Gateway) SaveSession(ctx context.Context, in SessionInput) (*models.Session, error) {
	e, err := g.save(ctx, models.KindSession, in.ID, in.SyncStatus, func(e models.Entity, isNew bool, now int64) error {
		s := e.(*models.Session)
		if isNew {
			s.StartedAt = now
			s.CreatedAt = now
		}
		set(&s.ProjectID, in.ProjectID)
		set(&s.StartedAt, in.StartedAt)
		set(&s.EndedAt, in.EndedAt)
		set(&s.DurationSeconds, in.DurationSeconds)
		set(&s.RowsCompleted, in.RowsCompleted)
		set(&s.Notes, in.Notes)
		set(&s.CreatedAt, in.CreatedAt)
		set(&s.UpdatedAt, in.UpdatedAt)
		if in.ProjectID != nil {
			return g.requireProject(ctx, s.ProjectID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.(*models.Session), nil
}

// SaveNote creates or updates a note.
func (g *Gateway) SaveNote(ctx context.Context, in NoteInput) (*models.Note, error) {
	e, err := g.save(ctx, models.KindNote, in.ID, in.SyncStatus, func(e models.Entity, isNew bool, now int64) error {
		n := e.(*models.Note)
		if isNew {
			n.CreatedAt = now
		}
		set(&n.ProjectID, in.ProjectID)
		set(&n.Content, in.Content)
		set(&n.CreatedAt, in.CreatedAt)
		set(&n.UpdatedAt, in.UpdatedAt)
		if in.ProjectID != nil {
			return g.requireProject(ctx, n.ProjectID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.(*models.Note), nil
}

// SaveCategory creates or updates a category. Local categories stay
// local-only until a server category with the same label absorbs them.
func (g *Gateway) SaveCategory(ctx context.Context, in CategoryInput) (*models.Category, error) {
	e, err := g.save(ctx, models.KindCategory, in.ID, in.SyncStatus, func(e models.Entity, isNew bool, now int64) error {
		c := e.(*models.Category)
		if isNew {
			c.CreatedAt = now
		}
		set(&c.Label, in.Label)
		set(&c.Color, in.Color)
		set(&c.CreatedAt, in.CreatedAt)
		set(&c.UpdatedAt, in.UpdatedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.(*models.Category), nil
}

// SavePhoto creates or updates a photo. A non-empty payload is inspected,
// kept in the blob store with a preview thumbnail, and replaces any
// previous pending payload.
func (g *Gateway) SavePhoto(ctx context.Context, in PhotoInput, payload []byte) (*models.Photo, error) {
	var info *media.Info
	var hash, thumbHash string
	if len(payload) > 0 {
		if g.blobs == nil {
			return nil, errors.New(errors.ErrStorageUnavailable, "photo storage is not configured")
		}
		var err error
		if info, err = media.Inspect(payload); err != nil {
			return nil, err
		}
		if hash, err = g.blobs.Put(payload); err != nil {
			return nil, err
		}
		if thumb, err := media.Thumbnail(payload, media.ThumbnailWidth, media.ThumbnailHeight); err != nil {
			logging.Warn("Thumbnail generation failed", map[string]interface{}{"error": err.Error()})
		} else if thumbHash, err = g.blobs.Put(thumb); err != nil {
			return nil, err
		}
	}

	var replaced []string
	e, err := g.save(ctx, models.KindPhoto, in.ID, in.SyncStatus, func(e models.Entity, isNew bool, now int64) error {
		p := e.(*models.Photo)
		if isNew {
			p.CreatedAt = now
		}
		set(&p.ProjectID, in.ProjectID)
		set(&p.Caption, in.Caption)
		set(&p.RemoteURL, in.RemoteURL)
		set(&p.CreatedAt, in.CreatedAt)
		set(&p.UpdatedAt, in.UpdatedAt)
		if info != nil && !isNew && !p.IsLocalOnly {
			return errors.Newf(errors.ErrValidation, "photo %s is already uploaded; add a new photo instead", p.ID)
		}
		if info != nil {
			if p.BlobHash != "" && p.BlobHash != hash {
				replaced = append(replaced, p.BlobHash)
			}
			if p.ThumbHash != "" && p.ThumbHash != thumbHash {
				replaced = append(replaced, p.ThumbHash)
			}
			p.BlobHash = hash
			p.ThumbHash = thumbHash
			p.ContentType = info.ContentType
			p.Width = info.Width
			p.Height = info.Height
		}
		if in.ProjectID != nil {
			return g.requireProject(ctx, p.ProjectID)
		}
		return nil
	})
	if err != nil {
		g.dropBlob(ctx, hash)
		g.dropBlob(ctx, thumbHash)
		return nil, err
	}
	for _, h := range replaced {
		g.dropBlob(ctx, h)
	}
	return e.(*models.Photo), nil
}

// LogSession records a finished session and accumulates its rows and
// duration onto the owning project.
func (g *Gateway) LogSession(ctx context.Context, in SessionInput) (*models.Session, *models.Project, error) {
	if in.ID != "" {
		return nil, nil, errors.New(errors.ErrInvalid, "LogSession always creates a new session")
	}
	s, err := g.SaveSession(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	e, err := g.store.Get(ctx, models.KindProject, s.ProjectID)
	if err != nil {
		return s, nil, err
	}
	p := e.(*models.Project)
	p, err = g.SaveProject(ctx, ProjectInput{
		ID:               p.ID,
		CurrentRow:       Ptr(p.CurrentRow + s.RowsCompleted),
		TimeSpentSeconds: Ptr(p.TimeSpentSeconds + s.DurationSeconds),
	})
	return s, p, err
}

// AdvanceRow moves a project's row counter by delta, never below zero.
func (g *Gateway) AdvanceRow(ctx context.Context, projectID string, delta int) (*models.Project, error) {
	e, err := g.store.Get(ctx, models.KindProject, projectID)
	if err != nil {
		return nil, err
	}
	row := e.(*models.Project).CurrentRow + delta
	if row < 0 {
		row = 0
	}
	return g.SaveProject(ctx, ProjectInput{ID: projectID, CurrentRow: &row})
}

// =====================================================
// Reads
// =====================================================

// Get returns one record.
func (g *Gateway) Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	return g.store.Get(ctx, kind, id)
}

// List returns all records of kind.
func (g *Gateway) List(ctx context.Context, kind models.Kind) ([]models.Entity, error) {
	return g.store.GetAll(ctx, kind)
}

// ListByProject returns the children of kind owned by projectID.
func (g *Gateway) ListByProject(ctx context.Context, kind models.Kind, projectID string) ([]models.Entity, error) {
	return g.store.GetAllByIndex(ctx, kind, db.IndexParent, projectID)
}

// Pending returns the records of kind awaiting push.
func (g *Gateway) Pending(ctx context.Context, kind models.Kind) ([]models.Entity, error) {
	return g.store.GetAllByIndex(ctx, kind, db.IndexSyncStatus, string(models.StatusPending))
}

// =====================================================
// Delete
// =====================================================

// Delete removes kind/id. A record the server knows about leaves a
// tombstone. Deleting a project also removes its sessions, notes and photos;
// materials are owned independently and stay.
func (g *Gateway) Delete(ctx context.Context, kind models.Kind, id string) error {
	e, err := g.store.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if kind == models.KindCategory && !e.Sync().IsLocalOnly {
		return errors.Newf(errors.ErrValidation, "category %s is managed by the server", id)
	}

	if kind == models.KindProject {
		for _, childKind := range kind.Dependents() {
			children, err := g.store.GetAllByIndex(ctx, childKind, db.IndexParent, id)
			if err != nil {
				return err
			}
			for _, child := range children {
				if err := g.deleteOne(ctx, child); err != nil {
					return err
				}
			}
		}
	}
	return g.deleteOne(ctx, e)
}

func (g *Gateway) deleteOne(ctx context.Context, e models.Entity) error {
	if !e.Sync().IsLocalOnly {
		ts := models.NewTombstone(e.Kind(), e.GetID(), g.clock.NowMillis())
		if err := g.store.PutTombstone(ctx, ts); err != nil {
			return err
		}
	}
	if err := g.store.Delete(ctx, e.Kind(), e.GetID()); err != nil {
		return err
	}
	if p, ok := e.(*models.Photo); ok {
		g.dropBlob(ctx, p.BlobHash)
		g.dropBlob(ctx, p.ThumbHash)
	}
	logging.Debug("Entity deleted", map[string]interface{}{
		"kind": string(e.Kind()), "id": e.GetID(), "tombstoned": !e.Sync().IsLocalOnly,
	})
	return nil
}

// dropBlob removes a payload no remaining photo references.
func (g *Gateway) dropBlob(ctx context.Context, hash string) {
	if hash == "" || g.blobs == nil {
		return
	}
	photos, err := g.store.GetAll(ctx, models.KindPhoto)
	if err != nil {
		return
	}
	for _, e := range photos {
		if p := e.(*models.Photo); p.BlobHash == hash || p.ThumbHash == hash {
			return
		}
	}
	if err := g.blobs.Delete(hash); err != nil {
		logging.Warn("Failed to remove photo blob", map[string]interface{}{"hash": hash, "error": err.Error()})
	}
}
