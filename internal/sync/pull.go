package sync

import (
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/crafttrack/internal/db"
	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/logging"
	"github.com/kimhsiao/crafttrack/internal/models"
	"github.com/kimhsiao/crafttrack/internal/remote"
	"github.com/kimhsiao/crafttrack/internal/sync/conflict"
)

// pullOrder merges categories first so label collapses rewrite project
// references before the projects themselves are merged.
func pullOrder() []models.Kind {
	return append([]models.Kind{models.KindCategory}, models.PushKinds()...)
}

// pull fetches every collection concurrently and merges them one kind at a
// time.
func (p *pass) pull() {
	kinds := pullOrder()
	lists := make([]*remote.ListResult, len(kinds))
	errs := make([]error, len(kinds))

	var g errgroup.Group
	g.SetLimit(p.pullConcurrency)
	for i, kind := range kinds {
		g.Go(func() error {
			lists[i], errs[i] = p.remote.List(p.ctx, kind)
			return nil
		})
	}
	_ = g.Wait()

	for i, kind := range kinds {
		if errs[i] != nil {
			p.res.addError("pull %s: %v", kind, errs[i])
			p.recordError(string(kind), "pull", errs[i])
			continue
		}
		p.mergeKind(kind, lists[i])
	}
}

func (p *pass) mergeKind(kind models.Kind, list *remote.ListResult) {
	p.res.Invalid += list.Invalid
	seen := make(map[string]bool, len(list.Items))
	for _, r := range list.Items {
		seen[r.GetID()] = true
		if err := p.mergeOne(r); err != nil {
			p.fail(r, "merge", err)
		}
	}
	// Invalid records have unknown ids, so absence proves nothing.
	if list.Invalid == 0 {
		p.prune(kind, seen)
	}
}

// isDeleted reports a local deletion of kind/id not yet known upstream.
func (p *pass) isDeleted(kind models.Kind, id string) (bool, error) {
	if p.suppressed[models.TombstoneKey(kind, id)] {
		return true, nil
	}
	return p.store.HasTombstone(p.ctx, kind, id)
}

func (p *pass) mergeOne(r models.Entity) error {
	kind := r.Kind()
	deleted, err := p.isDeleted(kind, r.GetID())
	if err != nil {
		return err
	}
	if !deleted && r.ParentID() != "" {
		deleted, err = p.isDeleted(models.KindProject, r.ParentID())
		if err != nil {
			return err
		}
	}
	if deleted {
		p.res.Suppressed++
		return nil
	}

	local, err := p.store.Get(p.ctx, kind, r.GetID())
	switch {
	case errors.Is(err, errors.ErrNotFound):
		local = nil
		if c, ok := r.(*models.Category); ok {
			if err := p.absorbLocalCategories(c); err != nil {
				return err
			}
		}
	case err != nil:
		return err
	}

	d, err := p.resolver.Decide(local, r)
	if err != nil {
		return err
	}
	if d.Resolution == conflict.ResolutionKeepLocal {
		p.res.Kept++
		return nil
	}

	merged, diverged, err := conflict.Merge(local, r)
	if err != nil {
		return err
	}
	meta := merged.Sync()
	meta.IsLocalOnly = false
	if diverged {
		// Local counters are ahead of the server; send them next pass.
		meta.MarkPending(p.now().UnixMilli())
	} else {
		meta.SyncStatus = models.StatusSynced
	}
	if err := p.store.Put(p.ctx, merged); err != nil {
		return err
	}
	p.res.Pulled[kind]++
	return nil
}

// absorbLocalCategories collapses local-only categories carrying the same
// label as server category c into it.
func (p *pass) absorbLocalCategories(c *models.Category) error {
	matches, err := p.store.GetAllByIndex(p.ctx, models.KindCategory, db.IndexLabel, c.NaturalKey())
	if err != nil {
		return err
	}
	for _, m := range matches {
		if m.GetID() == c.ID || !m.Sync().IsLocalOnly {
			continue
		}
		if err := p.remap(models.KindCategory, m.GetID(), c.ID); err != nil {
			return err
		}
		if err := p.store.Delete(p.ctx, models.KindCategory, m.GetID()); err != nil {
			return err
		}
		logging.Info("Collapsed local category into server category", map[string]interface{}{
			"label": c.Label, "local_id": m.GetID(), "id": c.ID,
		})
	}
	return nil
}

// prune removes synced records the server no longer lists. Pending and
// local-only records are kept, except children of a pruned project, which go
// with it.
func (p *pass) prune(kind models.Kind, seen map[string]bool) {
	synced, err := p.store.GetAllByIndex(p.ctx, kind, db.IndexSyncStatus, string(models.StatusSynced))
	if err != nil {
		p.res.addError("scan synced %s: %v", kind, err)
		return
	}
	for _, e := range synced {
		if seen[e.GetID()] || e.Sync().IsLocalOnly {
			continue
		}
		if kind == models.KindProject {
			n, err := p.pruneChildren(e.GetID())
			p.res.Pruned += n
			if err != nil {
				p.fail(e, "prune", err)
				continue
			}
		}
		if err := p.store.Delete(p.ctx, kind, e.GetID()); err != nil {
			p.fail(e, "prune", err)
			continue
		}
		p.res.Pruned++
		logging.Debug("Removed record deleted upstream", map[string]interface{}{
			"kind": string(kind), "id": e.GetID(),
		})
	}
}

// pruneChildren deletes every record owned by a project the server removed.
// No tombstones are written: the server already dropped them with their
// project.
func (p *pass) pruneChildren(projectID string) (int, error) {
	removed := 0
	var hashes []string
	for _, kind := range models.KindProject.Dependents() {
		children, err := p.store.GetAllByIndex(p.ctx, kind, db.IndexParent, projectID)
		if err != nil {
			return removed, err
		}
		for _, child := range children {
			if err := p.store.Delete(p.ctx, kind, child.GetID()); err != nil {
				return removed, err
			}
			if photo, ok := child.(*models.Photo); ok {
				hashes = append(hashes, photo.BlobHash, photo.ThumbHash)
			}
			removed++
		}
	}
	p.dropUnreferencedBlobs(hashes)
	return removed, nil
}

// dropUnreferencedBlobs removes payloads no remaining photo points at.
func (p *pass) dropUnreferencedBlobs(hashes []string) {
	if p.blobs == nil || len(hashes) == 0 {
		return
	}
	photos, err := p.store.GetAll(p.ctx, models.KindPhoto)
	if err != nil {
		p.res.addError("scan photos: %v", err)
		return
	}
	inUse := make(map[string]bool, len(photos))
	for _, e := range photos {
		ph := e.(*models.Photo)
		inUse[ph.BlobHash] = true
		inUse[ph.ThumbHash] = true
	}
	for _, h := range hashes {
		if h != "" && !inUse[h] {
			p.dropBlob(h)
			inUse[h] = true
		}
	}
}
