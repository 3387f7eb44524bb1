package sync

import (
	"context"

	"github.com/kimhsiao/crafttrack/internal/db"
	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/logging"
	"github.com/kimhsiao/crafttrack/internal/models"
	"github.com/kimhsiao/crafttrack/internal/sync/conflict"
)

// pass holds the state of one running pass.
type pass struct {
	*Engine
	ctx context.Context
	res *SyncResult
	// suppressed holds tombstone keys seen during this pass, including those
	// confirmed and cleared by the push, so the pull never resurrects them.
	suppressed map[string]bool
}

func (p *pass) fail(e models.Entity, op string, err error) {
	p.res.addError("%s %s %s: %v", op, e.Kind(), e.GetID(), err)
	p.recordError(string(e.Kind())+":"+e.GetID(), op, err)
}

// push sends pending records in dependency order, then tombstones.
func (p *pass) push() {
	for _, kind := range models.PushKinds() {
		pending, err := p.store.GetAllByIndex(p.ctx, kind, db.IndexSyncStatus, string(models.StatusPending))
		if err != nil {
			p.res.addError("scan pending %s: %v", kind, err)
			continue
		}
		for _, e := range pending {
			if ref, blocked := localReference(e); blocked {
				p.res.Deferred++
				logging.Debug("Deferring push until referenced record has a server id", map[string]interface{}{
					"kind": string(kind), "id": e.GetID(), "ref": ref,
				})
				continue
			}
			if e.Sync().IsLocalOnly {
				p.pushCreate(e)
			} else {
				p.pushUpdate(e)
			}
		}
	}
	p.pushTombstones()
}

// localReference reports a reference e holds to a record that has not been
// pushed yet. Category references are exempt: categories are never pushed.
func localReference(e models.Entity) (string, bool) {
	if parent := e.ParentID(); models.IsLocalID(parent) {
		return parent, true
	}
	if proj, ok := e.(*models.Project); ok {
		for _, id := range proj.MaterialIDs {
			if models.IsLocalID(id) {
				return id, true
			}
		}
	}
	return "", false
}

// pushCreate creates a local-only record upstream and moves it to the
// server-issued id.
func (p *pass) pushCreate(e models.Entity) {
	var (
		created models.Entity
		err     error
	)
	if photo, ok := e.(*models.Photo); ok {
		created, err = p.uploadPhoto(photo)
	} else {
		created, err = p.remote.Create(p.ctx, e)
	}
	if err != nil {
		p.fail(e, "create", err)
		return
	}

	oldID := e.GetID()
	newID := created.GetID()
	current, err := p.store.Get(p.ctx, e.Kind(), oldID)
	if errors.Is(err, errors.ErrNotFound) {
		// Deleted locally while the create was in flight.
		p.tombstone(e.Kind(), newID)
		p.res.Pushed[e.Kind()]++
		return
	}
	if err != nil {
		p.fail(e, "reload", err)
		return
	}

	stored := p.acknowledge(e, current, created)
	if err := p.store.Rekey(p.ctx, oldID, stored); err != nil {
		p.fail(e, "rekey", err)
		return
	}
	if err := p.remap(e.Kind(), oldID, newID); err != nil {
		p.fail(e, "remap", err)
	}
	if photo, ok := e.(*models.Photo); ok && photo.BlobHash != "" {
		if after, ok := stored.(*models.Photo); !ok || after.BlobHash != photo.BlobHash {
			p.dropBlob(photo.BlobHash)
		}
	}
	p.res.Pushed[e.Kind()]++
	logging.Debug("Pushed new record", map[string]interface{}{
		"kind": string(e.Kind()), "local_id": oldID, "id": newID,
	})
}

// pushUpdate patches a previously synced record.
func (p *pass) pushUpdate(e models.Entity) {
	updated, err := p.remote.Update(p.ctx, e)
	if errors.Is(err, errors.ErrRemoteNotFound) {
		logging.Info("Remote record gone; leaving local copy for the pull", map[string]interface{}{
			"kind": string(e.Kind()), "id": e.GetID(),
		})
		return
	}
	if err != nil {
		p.fail(e, "update", err)
		return
	}

	current, err := p.store.Get(p.ctx, e.Kind(), e.GetID())
	if errors.Is(err, errors.ErrNotFound) {
		p.res.Pushed[e.Kind()]++
		return
	}
	if err != nil {
		p.fail(e, "reload", err)
		return
	}
	if err := p.store.Put(p.ctx, p.acknowledge(e, current, updated)); err != nil {
		p.fail(e, "acknowledge", err)
		return
	}
	p.res.Pushed[e.Kind()]++
}

// acknowledge builds the record to store after the server accepted sent.
// current is the local copy re-read after the call; server may be nil. An
// edit made while the call was in flight keeps the record pending.
func (p *pass) acknowledge(sent, current, server models.Entity) models.Entity {
	edited := current.Sync().LocalUpdatedAt != sent.Sync().LocalUpdatedAt
	if server != nil {
		current.SetID(server.GetID())
	}
	if edited || server == nil {
		meta := current.Sync()
		meta.IsLocalOnly = false
		if !edited {
			meta.SyncStatus = models.StatusSynced
		}
		return current
	}

	merged, diverged, err := conflict.Merge(current, server)
	if err != nil {
		current.Sync().MarkSynced()
		return current
	}
	meta := merged.Sync()
	meta.IsLocalOnly = false
	meta.SyncStatus = models.StatusSynced
	if diverged {
		meta.SyncStatus = models.StatusPending
	}
	return merged
}

func (p *pass) uploadPhoto(photo *models.Photo) (models.Entity, error) {
	if p.blobs == nil || photo.BlobHash == "" {
		return nil, errors.New(errors.ErrNotFound, "photo payload is not available locally")
	}
	payload, err := p.blobs.Get(photo.BlobHash)
	if err != nil {
		return nil, err
	}
	return p.remote.UploadPhoto(p.ctx, photo, payload)
}

func (p *pass) dropBlob(hash string) {
	if p.blobs == nil {
		return
	}
	if err := p.blobs.Delete(hash); err != nil {
		logging.Warn("Failed to remove uploaded photo payload", map[string]interface{}{
			"hash": hash, "error": err.Error(),
		})
	}
}

// tombstone schedules an upstream delete for the next pass.
func (p *pass) tombstone(kind models.Kind, id string) {
	ts := models.NewTombstone(kind, id, p.now().UnixMilli())
	if err := p.store.PutTombstone(p.ctx, ts); err != nil {
		p.res.addError("tombstone %s %s: %v", kind, id, err)
	}
	p.suppressed[ts.Key()] = true
}

// pushTombstones confirms local deletions upstream. A 404 counts as done.
func (p *pass) pushTombstones() {
	list, err := p.store.ListTombstones(p.ctx)
	if err != nil {
		p.res.addError("scan tombstones: %v", err)
		return
	}
	for _, ts := range list {
		p.suppressed[ts.Key()] = true
		if !ts.EntityType.Pushable() {
			continue
		}
		err := p.remote.Delete(p.ctx, ts.EntityType, ts.EntityID)
		if err != nil && !errors.Is(err, errors.ErrRemoteNotFound) {
			p.res.addError("delete %s %s: %v", ts.EntityType, ts.EntityID, err)
			p.recordError(ts.Key(), "delete", err)
			continue
		}
		if err := p.store.DeleteTombstone(p.ctx, ts.EntityType, ts.EntityID); err != nil {
			p.res.addError("clear tombstone %s: %v", ts.Key(), err)
			continue
		}
		p.res.Deleted++
	}
}
