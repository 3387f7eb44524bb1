package sync

import (
	"github.com/kimhsiao/crafttrack/internal/db"
	"github.com/kimhsiao/crafttrack/internal/models"
)

// remap rewrites references to kind/oldID held by dependent records. The
// rewrite is local bookkeeping, except that a synced record which held a
// local id was stored upstream without that reference and becomes pending.
func (p *pass) remap(kind models.Kind, oldID, newID string) error {
	for _, dep := range kind.Dependents() {
		var (
			candidates []models.Entity
			err        error
		)
		if kind == models.KindProject {
			candidates, err = p.store.GetAllByIndex(p.ctx, dep, db.IndexParent, oldID)
		} else {
			candidates, err = p.store.GetAll(p.ctx, dep)
		}
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if !c.ReplaceRef(kind, oldID, newID) {
				continue
			}
			if meta := c.Sync(); models.IsLocalID(oldID) && meta.SyncStatus == models.StatusSynced {
				meta.MarkPending(p.now().UnixMilli())
			}
			if err := p.store.Put(p.ctx, c); err != nil {
				return err
			}
		}
	}
	return nil
}
