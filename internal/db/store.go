package db

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/models"
)

// Index names a secondary index of the entity tables.
type Index string

const (
	// IndexSyncStatus is keyed by models.SyncStatus.
	IndexSyncStatus Index = "sync_status"
	// IndexParent is keyed by the owning project id.
	IndexParent Index = "parent_id"
	// IndexLabel is keyed by the normalized natural key (categories).
	IndexLabel Index = "label"
)

func (i Index) valid() bool {
	return i == IndexSyncStatus || i == IndexParent || i == IndexLabel
}

// Store is the keyed document store holding one table per entity kind plus
// the deletions and metadata tables. Every call is its own transaction.
type Store struct {
	db *sql.DB

	// Prepared statement cache keyed by query text.
	stmtCache sync.Map // map[string]*sql.Stmt

	mu     sync.RWMutex
	closed bool
}

// NewStore creates a Store over an opened, migrated database.
func NewStore(db *DB) *Store {
	return &Store{db: db.DB}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (s *Store) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close releases cached statements. Later calls fail with
// STORAGE_UNAVAILABLE. The underlying *DB is closed by its owner.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// acquire holds the read lock for the duration of one call.
func (s *Store) acquire() (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.New(errors.ErrStorageUnavailable, "store is closed")
	}
	return s.mu.RUnlock, nil
}

func unavailable(op string, err error) error {
	return errors.Wrap(errors.ErrStorageUnavailable, op, err)
}

func tableFor(k models.Kind) (string, error) {
	if !k.Valid() {
		return "", errors.Newf(errors.ErrInvalid, "unknown entity kind %q", k)
	}
	return k.TableName(), nil
}

// =====================================================
// Entity Operations
// =====================================================

// Get returns the record kind/id, or NOT_FOUND.
func (s *Store) Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	stmt, err := s.PrepareStmt(ctx, "SELECT data FROM "+table+" WHERE id = ?")
	if err != nil {
		return nil, unavailable("prepare get", err)
	}

	var data string
	err = stmt.QueryRowContext(ctx, id).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "%s %s not found", kind, id)
	}
	if err != nil {
		return nil, unavailable("get "+string(kind), err)
	}
	return decode(kind, data)
}

// GetAll returns every record of kind ordered by id.
func (s *Store) GetAll(ctx context.Context, kind models.Kind) ([]models.Entity, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, kind, "SELECT data FROM "+table+" ORDER BY id")
}

// GetAllByIndex returns the records of kind whose index column equals value.
func (s *Store) GetAllByIndex(ctx context.Context, kind models.Kind, index Index, value string) ([]models.Entity, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if !index.valid() {
		return nil, errors.Newf(errors.ErrInvalid, "unknown index %q", index)
	}
	return s.query(ctx, kind, "SELECT data FROM "+table+" WHERE "+string(index)+" = ? ORDER BY local_updated_at, id", value)
}

func (s *Store) query(ctx context.Context, kind models.Kind, query string, args ...interface{}) ([]models.Entity, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	stmt, err := s.PrepareStmt(ctx, query)
	if err != nil {
		return nil, unavailable("prepare list", err)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, unavailable("list "+string(kind), err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, unavailable("scan "+string(kind), err)
		}
		e, err := decode(kind, data)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list "+string(kind), err)
	}
	return out, nil
}

const upsertColumns = `(id, sync_status, is_local_only, local_updated_at, parent_id, label, data)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		sync_status = excluded.sync_status,
		is_local_only = excluded.is_local_only,
		local_updated_at = excluded.local_updated_at,
		parent_id = excluded.parent_id,
		label = excluded.label,
		data = excluded.data`

// Put writes e whole, replacing any record with the same id.
func (s *Store) Put(ctx context.Context, e models.Entity) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	table, err := tableFor(e.Kind())
	if err != nil {
		return err
	}
	args, err := rowArgs(e)
	if err != nil {
		return err
	}
	stmt, err := s.PrepareStmt(ctx, "INSERT INTO "+table+" "+upsertColumns)
	if err != nil {
		return unavailable("prepare put", err)
	}
	if _, err := stmt.ExecContext(ctx, args...); err != nil {
		return unavailable("put "+string(e.Kind()), err)
	}
	return nil
}

// Delete removes kind/id. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, kind models.Kind, id string) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	stmt, err := s.PrepareStmt(ctx, "DELETE FROM "+table+" WHERE id = ?")
	if err != nil {
		return unavailable("prepare delete", err)
	}
	if _, err := stmt.ExecContext(ctx, id); err != nil {
		return unavailable("delete "+string(kind), err)
	}
	return nil
}

// Rekey atomically removes oldID and writes e under its (new) id.
func (s *Store) Rekey(ctx context.Context, oldID string, e models.Entity) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	table, err := tableFor(e.Kind())
	if err != nil {
		return err
	}
	args, err := rowArgs(e)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin rekey", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", oldID); err != nil {
		return unavailable("rekey delete", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO "+table+" "+upsertColumns, args...); err != nil {
		return unavailable("rekey put", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit rekey", err)
	}
	return nil
}

// Count returns the number of records of kind with the given status, or all
// records when status is empty.
func (s *Store) Count(ctx context.Context, kind models.Kind, status models.SyncStatus) (int, error) {
	release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) FROM " + table
	var args []interface{}
	if status != "" {
		query += " WHERE sync_status = ?"
		args = append(args, string(status))
	}
	stmt, err := s.PrepareStmt(ctx, query)
	if err != nil {
		return 0, unavailable("prepare count", err)
	}
	var n int
	if err := stmt.QueryRowContext(ctx, args...).Scan(&n); err != nil {
		return 0, unavailable("count "+string(kind), err)
	}
	return n, nil
}

func rowArgs(e models.Entity) ([]interface{}, error) {
	if e.GetID() == "" {
		return nil, errors.Newf(errors.ErrInvalid, "%s record has no id", e.Kind())
	}
	meta := e.Sync()
	if !meta.SyncStatus.Valid() {
		return nil, errors.Newf(errors.ErrInvalid, "%s %s has invalid sync status %q", e.Kind(), e.GetID(), meta.SyncStatus)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "encode "+string(e.Kind()), err)
	}
	label := ""
	if l, ok := e.(models.Labeled); ok {
		label = l.NaturalKey()
	}
	return []interface{}{
		e.GetID(), string(meta.SyncStatus), meta.IsLocalOnly, meta.LocalUpdatedAt,
		e.ParentID(), label, string(data),
	}, nil
}

func decode(kind models.Kind, data string) (models.Entity, error) {
	e, err := models.New(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), e); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "decode "+string(kind), err)
	}
	return e, nil
}

// =====================================================
// Tombstone Operations
// =====================================================

// PutTombstone writes (or refreshes) a tombstone.
func (s *Store) PutTombstone(ctx context.Context, t *models.Tombstone) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	stmt, err := s.PrepareStmt(ctx, `INSERT INTO deletions (key, id, entity_type, entity_id, deleted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET deleted_at = excluded.deleted_at`)
	if err != nil {
		return unavailable("prepare put tombstone", err)
	}
	if _, err := stmt.ExecContext(ctx, t.Key(), t.ID, string(t.EntityType), t.EntityID, t.DeletedAt); err != nil {
		return unavailable("put tombstone", err)
	}
	return nil
}

// HasTombstone reports whether kind/id has a pending deletion.
func (s *Store) HasTombstone(ctx context.Context, kind models.Kind, id string) (bool, error) {
	release, err := s.acquire()
	if err != nil {
		return false, err
	}
	defer release()

	stmt, err := s.PrepareStmt(ctx, "SELECT COUNT(*) FROM deletions WHERE key = ?")
	if err != nil {
		return false, unavailable("prepare has tombstone", err)
	}
	var n int
	if err := stmt.QueryRowContext(ctx, models.TombstoneKey(kind, id)).Scan(&n); err != nil {
		return false, unavailable("has tombstone", err)
	}
	return n > 0, nil
}

// ListTombstones returns all pending deletions, oldest first.
func (s *Store) ListTombstones(ctx context.Context) ([]*models.Tombstone, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	stmt, err := s.PrepareStmt(ctx, "SELECT id, entity_type, entity_id, deleted_at FROM deletions ORDER BY deleted_at, key")
	if err != nil {
		return nil, unavailable("prepare list tombstones", err)
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, unavailable("list tombstones", err)
	}
	defer rows.Close()

	var out []*models.Tombstone
	for rows.Next() {
		var t models.Tombstone
		var kind string
		if err := rows.Scan(&t.ID, &kind, &t.EntityID, &t.DeletedAt); err != nil {
			return nil, unavailable("scan tombstone", err)
		}
		t.EntityType = models.Kind(kind)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list tombstones", err)
	}
	return out, nil
}

// DeleteTombstone clears the tombstone for kind/id.
func (s *Store) DeleteTombstone(ctx context.Context, kind models.Kind, id string) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	stmt, err := s.PrepareStmt(ctx, "DELETE FROM deletions WHERE key = ?")
	if err != nil {
		return unavailable("prepare delete tombstone", err)
	}
	if _, err := stmt.ExecContext(ctx, models.TombstoneKey(kind, id)); err != nil {
		return unavailable("delete tombstone", err)
	}
	return nil
}

// =====================================================
// Metadata Operations
// =====================================================

// GetMeta returns the metadata value for key and whether it exists.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	release, err := s.acquire()
	if err != nil {
		return "", false, err
	}
	defer release()

	stmt, err := s.PrepareStmt(ctx, "SELECT value FROM metadata WHERE key = ?")
	if err != nil {
		return "", false, unavailable("prepare get meta", err)
	}
	var value string
	err = stmt.QueryRowContext(ctx, key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get meta", err)
	}
	return value, true, nil
}

// SetMeta upserts a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	stmt, err := s.PrepareStmt(ctx, `INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return unavailable("prepare set meta", err)
	}
	if _, err := stmt.ExecContext(ctx, key, value, time.Now().UnixMilli()); err != nil {
		return unavailable("set meta", err)
	}
	return nil
}

// DeleteMeta removes a metadata key.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	stmt, err := s.PrepareStmt(ctx, "DELETE FROM metadata WHERE key = ?")
	if err != nil {
		return unavailable("prepare delete meta", err)
	}
	if _, err := stmt.ExecContext(ctx, key); err != nil {
		return unavailable("delete meta", err)
	}
	return nil
}

// Reset clears every entity table, the deletions table and the metadata
// table in one transaction.
func (s *Store) Reset(ctx context.Context) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin reset", err)
	}
	defer tx.Rollback()

	tables := []string{"deletions", "metadata"}
	for _, k := range models.Kinds() {
		tables = append(tables, k.TableName())
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return unavailable("reset "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit reset", err)
	}
	return nil
}
