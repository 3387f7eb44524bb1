// Package export writes local backup archives and restores them.
//
// An archive holds every stored record with its sync metadata, the pending
// deletions and, optionally, the photo payloads not yet uploaded. Restoring
// only adds what is missing locally; it never overwrites a record.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kimhsiao/crafttrack/internal/db"
	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/logging"
	"github.com/kimhsiao/crafttrack/internal/models"
)

// FormatVersion is written to every manifest.
const FormatVersion = 1

// BlobStore holds photo payloads by content hash.
type BlobStore interface {
	Get(hash string) ([]byte, error)
	Put(data []byte) (string, error)
	Exists(hash string) bool
}

// ExportService provides backup and restore.
type ExportService struct {
	store db.SyncStore
	blobs BlobStore
	now   func() time.Time
}

// NewExportService creates a new ExportService. blobs may be nil, in which
// case payloads are neither written nor restored.
func NewExportService(store db.SyncStore, blobs BlobStore) *ExportService {
	return &ExportService{store: store, blobs: blobs, now: time.Now}
}

// ExportConfig holds export configuration.
type ExportConfig struct {
	OutputPath   string
	Password     string // empty writes a plain tar.gz
	IncludeMedia bool
}

// ExportManifest describes an archive.
type ExportManifest struct {
	Version      int                 `json:"version"`
	ExportedAt   time.Time           `json:"exported_at"`
	Records      map[models.Kind]int `json:"records"`
	Tombstones   int                 `json:"tombstones"`
	Blobs        int                 `json:"blobs"`
	Checksum     string              `json:"checksum"`
	IncludeMedia bool                `json:"include_media"`
}

// ExportResult represents the result of an export operation.
type ExportResult struct {
	FilePath  string
	SizeBytes int64
	ItemCount int
	Blobs     int
	Checksum  string
	Encrypted bool
	Duration  time.Duration
}

// ImportResult represents the result of an import operation.
type ImportResult struct {
	ImportedCount  int
	SkippedCount   int
	TombstoneCount int
	BlobCount      int
	Duration       time.Duration
}

// checksum covers the records and tombstones entries in a fixed order.
func checksum(entries map[string][]byte) string {
	h := sha256.New()
	for _, kind := range models.Kinds() {
		h.Write(entries[recordsEntry(string(kind))])
	}
	h.Write(entries[tombstonesName])
	return hex.EncodeToString(h.Sum(nil))
}

// Export writes an archive of all local data to config.OutputPath.
func (s *ExportService) Export(ctx context.Context, config *ExportConfig) (*ExportResult, error) {
	start := s.now()
	if config == nil || config.OutputPath == "" {
		return nil, errors.New(errors.ErrInvalid, "output path is required")
	}

	entries := make(map[string][]byte)
	manifest := &ExportManifest{
		Version:      FormatVersion,
		ExportedAt:   start.UTC(),
		Records:      make(map[models.Kind]int),
		IncludeMedia: config.IncludeMedia && s.blobs != nil,
	}
	var hashes []string
	total := 0
	for _, kind := range models.Kinds() {
		list, err := s.store.GetAll(ctx, kind)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(list)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "encode records", err)
		}
		entries[recordsEntry(string(kind))] = data
		manifest.Records[kind] = len(list)
		total += len(list)

		if manifest.IncludeMedia && kind == models.KindPhoto {
			for _, e := range list {
				p := e.(*models.Photo)
				for _, h := range []string{p.BlobHash, p.ThumbHash} {
					if h != "" && s.blobs.Exists(h) {
						hashes = append(hashes, h)
					}
				}
			}
		}
	}

	tombstones, err := s.store.ListTombstones(ctx)
	if err != nil {
		return nil, err
	}
	if entries[tombstonesName], err = json.Marshal(tombstones); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "encode tombstones", err)
	}
	manifest.Tombstones = len(tombstones)
	manifest.Checksum = checksum(entries)

	type blob struct {
		hash string
		data []byte
	}
	var payloads []blob
	for _, h := range hashes {
		data, err := s.blobs.Get(h)
		if err != nil {
			logging.Warn("Skipping unreadable photo payload", map[string]interface{}{"hash": h, "error": err.Error()})
			continue
		}
		payloads = append(payloads, blob{hash: h, data: data})
	}
	manifest.Blobs = len(payloads)

	w := newArchiveWriter(start)
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "encode manifest", err)
	}
	if err := w.add(manifestName, manifestData); err != nil {
		return nil, err
	}
	for _, kind := range models.Kinds() {
		name := recordsEntry(string(kind))
		if err := w.add(name, entries[name]); err != nil {
			return nil, err
		}
	}
	if err := w.add(tombstonesName, entries[tombstonesName]); err != nil {
		return nil, err
	}
	for _, h := range payloads {
		if err := w.add(path.Join(blobsDir, h.hash), h.data); err != nil {
			return nil, err
		}
	}

	data, err := w.finish(config.Password)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(config.OutputPath, data); err != nil {
		return nil, err
	}

	result := &ExportResult{
		FilePath:  config.OutputPath,
		SizeBytes: int64(len(data)),
		ItemCount: total,
		Blobs:     manifest.Blobs,
		Checksum:  manifest.Checksum,
		Encrypted: config.Password != "",
		Duration:  s.now().Sub(start),
	}
	logging.Info("Backup written", map[string]interface{}{
		"path": result.FilePath, "records": total, "blobs": result.Blobs, "encrypted": result.Encrypted,
	})
	return result, nil
}

func writeFileAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrap(errors.ErrStorageUnavailable, "create backup directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".backup-*")
	if err != nil {
		return errors.Wrap(errors.ErrStorageUnavailable, "create temp file", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(errors.ErrStorageUnavailable, "write backup", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrStorageUnavailable, "close backup", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return errors.Wrap(errors.ErrStorageUnavailable, "move backup into place", err)
	}
	return nil
}

// ReadManifest returns the manifest of the archive at archivePath.
func (s *ExportService) ReadManifest(archivePath, password string) (*ExportManifest, error) {
	entries, err := s.load(archivePath, password)
	if err != nil {
		return nil, err
	}
	return parseManifest(entries)
}

func (s *ExportService) load(archivePath, password string) (map[string][]byte, error) {
	data, err := os.ReadFile(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrNotFound, "backup %s does not exist", archivePath)
		}
		return nil, errors.Wrap(errors.ErrStorageUnavailable, "read backup", err)
	}
	return readArchive(data, password)
}

func parseManifest(entries map[string][]byte) (*ExportManifest, error) {
	raw, ok := entries[manifestName]
	if !ok {
		return nil, errors.New(errors.ErrValidation, "archive has no manifest")
	}
	var m ExportManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "decode manifest", err)
	}
	if m.Version != FormatVersion {
		return nil, errors.Newf(errors.ErrValidation, "unsupported backup version %d", m.Version)
	}
	if got := checksum(entries); got != m.Checksum {
		return nil, errors.Newf(errors.ErrValidation, "checksum mismatch: expected %s, got %s", m.Checksum, got)
	}
	return &m, nil
}

// restoreOrder puts referenced records before the records pointing at them.
func restoreOrder() []models.Kind {
	return []models.Kind{
		models.KindCategory, models.KindMaterial, models.KindProject,
		models.KindSession, models.KindNote, models.KindPhoto,
	}
}

// Import restores an archive. Records that exist locally, or whose deletion
// is pending, are skipped.
func (s *ExportService) Import(ctx context.Context, archivePath, password string) (*ImportResult, error) {
	start := s.now()
	entries, err := s.load(archivePath, password)
	if err != nil {
		return nil, err
	}
	if _, err := parseManifest(entries); err != nil {
		return nil, err
	}

	res := &ImportResult{}
	for name, payload := range entries {
		if !strings.HasPrefix(name, blobsDir+"/") || s.blobs == nil {
			continue
		}
		want := path.Base(name)
		if s.blobs.Exists(want) {
			continue
		}
		got, err := s.blobs.Put(payload)
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, errors.Newf(errors.ErrValidation, "photo payload %s is corrupt", want)
		}
		res.BlobCount++
	}

	for _, kind := range restoreOrder() {
		var raws []json.RawMessage
		if data, ok := entries[recordsEntry(string(kind))]; ok {
			if err := json.Unmarshal(data, &raws); err != nil {
				return nil, errors.Wrap(errors.ErrValidation, "decode "+string(kind)+" records", err)
			}
		}
		for _, raw := range raws {
			imported, err := s.importRecord(ctx, kind, raw)
			if err != nil {
				return nil, err
			}
			if imported {
				res.ImportedCount++
			} else {
				res.SkippedCount++
			}
		}
	}

	var tombstones []*models.Tombstone
	if err := json.Unmarshal(entries[tombstonesName], &tombstones); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "decode tombstones", err)
	}
	for _, t := range tombstones {
		exists, err := s.store.HasTombstone(ctx, t.EntityType, t.EntityID)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		if err := s.store.PutTombstone(ctx, t); err != nil {
			return nil, err
		}
		res.TombstoneCount++
	}

	res.Duration = s.now().Sub(start)
	logging.Info("Backup restored", map[string]interface{}{
		"path": archivePath, "imported": res.ImportedCount, "skipped": res.SkippedCount,
	})
	return res, nil
}

func (s *ExportService) importRecord(ctx context.Context, kind models.Kind, raw json.RawMessage) (bool, error) {
	e, err := models.New(kind)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return false, errors.Wrap(errors.ErrValidation, "decode "+string(kind), err)
	}
	if err := e.Validate(); err != nil {
		return false, err
	}

	deleted, err := s.store.HasTombstone(ctx, kind, e.GetID())
	if err != nil || deleted {
		return false, err
	}
	_, err = s.store.Get(ctx, kind, e.GetID())
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, errors.ErrNotFound):
		return false, err
	}
	if p, ok := e.(*models.Photo); ok && p.HasPayload() && (s.blobs == nil || !s.blobs.Exists(p.BlobHash)) {
		logging.Warn("Skipping photo without payload", map[string]interface{}{"id": p.ID})
		return false, nil
	}
	if p := e.ParentID(); p != "" {
		if _, err := s.store.Get(ctx, models.KindProject, p); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
	}
	if err := s.store.Put(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}
