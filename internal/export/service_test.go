package export

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/crafttrack/internal/db"
	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/gateway"
	"github.com/kimhsiao/crafttrack/internal/models"
	"github.com/kimhsiao/crafttrack/internal/storage"
)

type fixture struct {
	store *db.Store
	blobs *storage.BlobStore
	gw    *gateway.Gateway
	svc   *ExportService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.OpenPath(":memory:")
	require.NoError(t, err)
	store := db.NewStore(conn)
	t.Cleanup(func() {
		store.Close()
		conn.Close()
	})
	blobs := storage.NewBlobStore(t.TempDir())
	return &fixture{
		store: store,
		blobs: blobs,
		gw:    gateway.New(store, blobs),
		svc:   NewExportService(store, blobs),
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// seed creates a project with a note and a photo, a material, and a pending
// deletion of a synced material.
func (f *fixture) seed(t *testing.T) *models.Project {
	t.Helper()
	ctx := context.Background()
	p, err := f.gw.SaveProject(ctx, gateway.ProjectInput{Title: gateway.Ptr("Blanket"), CurrentRow: gateway.Ptr(12)})
	require.NoError(t, err)
	_, err = f.gw.SaveNote(ctx, gateway.NoteInput{ProjectID: gateway.Ptr(p.ID), Content: gateway.Ptr("granny squares")})
	require.NoError(t, err)
	_, err = f.gw.SavePhoto(ctx, gateway.PhotoInput{ProjectID: gateway.Ptr(p.ID)}, pngBytes(t))
	require.NoError(t, err)
	_, err = f.gw.SaveMaterial(ctx, gateway.MaterialInput{Name: gateway.Ptr("Acrylic")})
	require.NoError(t, err)
	_, err = f.gw.SaveMaterial(ctx, gateway.MaterialInput{ID: "m-remote", Name: gateway.Ptr("Wool"), SyncStatus: models.StatusSynced})
	require.NoError(t, err)
	require.NoError(t, f.gw.Delete(ctx, models.KindMaterial, "m-remote"))
	return p
}

func TestExportImport_roundTrip(t *testing.T) {
	src := newFixture(t)
	p := src.seed(t)
	ctx := context.Background()
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")

	res, err := src.svc.Export(ctx, &ExportConfig{OutputPath: archive, IncludeMedia: true})
	require.NoError(t, err)
	assert.Equal(t, 4, res.ItemCount)
	assert.Equal(t, 2, res.Blobs, "payload and thumbnail")
	assert.False(t, res.Encrypted)
	assert.NotEmpty(t, res.Checksum)

	m, err := src.svc.ReadManifest(archive, "")
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, m.Version)
	assert.Equal(t, 1, m.Records[models.KindProject])
	assert.Equal(t, 1, m.Tombstones)

	dst := newFixture(t)
	imp, err := dst.svc.Import(ctx, archive, "")
	require.NoError(t, err)
	assert.Equal(t, 4, imp.ImportedCount)
	assert.Equal(t, 1, imp.TombstoneCount)
	assert.Equal(t, 2, imp.BlobCount)

	e, err := dst.store.Get(ctx, models.KindProject, p.ID)
	require.NoError(t, err)
	restored := e.(*models.Project)
	assert.Equal(t, 12, restored.CurrentRow)
	assert.Equal(t, models.StatusPending, restored.SyncStatus)
	assert.True(t, restored.IsLocalOnly)

	photos, err := dst.store.GetAll(ctx, models.KindPhoto)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.True(t, dst.blobs.Exists(photos[0].(*models.Photo).BlobHash))

	deleted, err := dst.store.HasTombstone(ctx, models.KindMaterial, "m-remote")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestImport_skipsExistingRecords(t *testing.T) {
	f := newFixture(t)
	p := f.seed(t)
	ctx := context.Background()
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	_, err := f.svc.Export(ctx, &ExportConfig{OutputPath: archive, IncludeMedia: true})
	require.NoError(t, err)

	_, err = f.gw.SaveProject(ctx, gateway.ProjectInput{ID: p.ID, CurrentRow: gateway.Ptr(40)})
	require.NoError(t, err)

	imp, err := f.svc.Import(ctx, archive, "")
	require.NoError(t, err)
	assert.Zero(t, imp.ImportedCount)
	assert.Equal(t, 4, imp.SkippedCount)
	assert.Zero(t, imp.TombstoneCount)

	e, err := f.store.Get(ctx, models.KindProject, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, e.(*models.Project).CurrentRow, "local edit is kept")
}

func TestImport_withoutMediaSkipsPendingPhotos(t *testing.T) {
	src := newFixture(t)
	src.seed(t)
	ctx := context.Background()
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	res, err := src.svc.Export(ctx, &ExportConfig{OutputPath: archive})
	require.NoError(t, err)
	assert.Zero(t, res.Blobs)

	dst := newFixture(t)
	imp, err := dst.svc.Import(ctx, archive, "")
	require.NoError(t, err)
	assert.Equal(t, 3, imp.ImportedCount)
	assert.Equal(t, 1, imp.SkippedCount)
}

func TestExport_encrypted(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()
	archive := filepath.Join(t.TempDir(), "backup.tar.gz.enc")

	res, err := f.svc.Export(ctx, &ExportConfig{OutputPath: archive, Password: "knit-one-purl-two"})
	require.NoError(t, err)
	assert.True(t, res.Encrypted)

	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(data))

	_, err = f.svc.ReadManifest(archive, "")
	assert.True(t, errors.Is(err, errors.ErrValidation), "missing password: %v", err)
	_, err = f.svc.ReadManifest(archive, "wrong-password")
	assert.True(t, errors.Is(err, errors.ErrCryptoFailed), "wrong password: %v", err)

	m, err := f.svc.ReadManifest(archive, "knit-one-purl-two")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Records[models.KindMaterial])
}

func TestExport_shortPassword(t *testing.T) {
	f := newFixture(t)
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	_, err := f.svc.Export(context.Background(), &ExportConfig{OutputPath: archive, Password: "short"})
	assert.True(t, errors.Is(err, errors.ErrValidation))
	_, statErr := os.Stat(archive)
	assert.True(t, os.IsNotExist(statErr), "no archive on failure")
}

func TestImport_rejectsDamagedArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := f.svc.Import(ctx, filepath.Join(dir, "missing.tar.gz"), "")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	junk := filepath.Join(dir, "junk.tar.gz")
	require.NoError(t, os.WriteFile(junk, []byte("not an archive"), 0600))
	_, err = f.svc.Import(ctx, junk, "")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	// A manifest whose checksum does not match the records.
	w := newArchiveWriter(f.svc.now())
	require.NoError(t, w.add(manifestName, []byte(`{"version":1,"checksum":"00"}`)))
	data, err := w.finish("")
	require.NoError(t, err)
	tampered := filepath.Join(dir, "tampered.tar.gz")
	require.NoError(t, os.WriteFile(tampered, data, 0600))
	_, err = f.svc.Import(ctx, tampered, "")
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestExport_requiresPath(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Export(context.Background(), &ExportConfig{})
	assert.True(t, errors.Is(err, errors.ErrInvalid))
}
