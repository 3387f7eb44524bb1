package app

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/crafttrack/internal/config"
	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/gateway"
	"github.com/kimhsiao/crafttrack/internal/models"
	"github.com/kimhsiao/crafttrack/internal/remote/remotetest"
)

func loadConfig(t *testing.T, dataDir, baseURL string) *config.Config {
	t.Helper()
	t.Setenv("CRAFTTRACK_DATA_DIR", dataDir)
	t.Setenv("CRAFTTRACK_API_BASE_URL", baseURL)
	t.Setenv("CRAFTTRACK_API_MAX_RETRIES", "0")
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.SetSyncEnabled(true))
	return cfg
}

func newApp(t *testing.T, baseURL string) *App {
	t.Helper()
	a, err := New(loadConfig(t, t.TempDir(), baseURL))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func newServer(t *testing.T) *remotetest.Server {
	t.Helper()
	srv := remotetest.New("secret")
	t.Cleanup(srv.Close)
	return srv
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNew_withoutAPI(t *testing.T) {
	a := newApp(t, "")
	ctx := context.Background()

	assert.False(t, a.SyncConfigured())
	_, err := a.Sync(ctx)
	assert.True(t, errors.Is(err, errors.ErrSyncNotConfigured))

	_, err = a.Gateway.SaveMaterial(ctx, gateway.MaterialInput{Name: gateway.Ptr("Linen")})
	require.NoError(t, err)
	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Configured)
	assert.Equal(t, 1, st.Kinds[models.KindMaterial].Pending)
}

func TestSync_pushesLocalChanges(t *testing.T) {
	srv := newServer(t)
	a := newApp(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, a.Accounts.Link(ctx, "u1", "secret"))
	p, err := a.Gateway.SaveProject(ctx, gateway.ProjectInput{Title: gateway.Ptr("Scarf")})
	require.NoError(t, err)

	res, err := a.Sync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, 1, res.Pushed[models.KindProject])
	assert.Equal(t, 1, srv.Len(models.KindProject))

	_, err = a.Gateway.Get(ctx, models.KindProject, p.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "local id should be replaced")

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Linked)
	assert.Equal(t, "u1", st.UserID)
	assert.NotNil(t, st.LastSyncTime)
}

func TestSync_gate(t *testing.T) {
	srv := newServer(t)
	a := newApp(t, srv.URL)
	ctx := context.Background()

	_, err := a.Sync(ctx)
	assert.True(t, errors.Is(err, errors.ErrSyncNotConfigured), "unlinked: %v", err)

	require.NoError(t, a.Accounts.Link(ctx, "u1", "secret"))
	require.NoError(t, a.Config.SetSyncEnabled(false))
	_, err = a.Sync(ctx)
	assert.True(t, errors.Is(err, errors.ErrSyncNotConfigured), "disabled: %v", err)
	assert.Zero(t, srv.Writes())
}

func TestSync_offlineKeepsChangesPending(t *testing.T) {
	srv := newServer(t)
	a := newApp(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, a.Accounts.Link(ctx, "u1", "secret"))
	_, err := a.Gateway.SaveMaterial(ctx, gateway.MaterialInput{Name: gateway.Ptr("Cotton")})
	require.NoError(t, err)
	srv.Close()

	_, err = a.Sync(ctx)
	assert.True(t, errors.Is(err, errors.ErrNetworkUnreachable), "got %v", err)

	pending, err := a.Inspector.Pending(ctx, models.KindMaterial)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDeviceID_survivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := New(loadConfig(t, dir, ""))
	require.NoError(t, err)
	first := a.DeviceID()
	require.NoError(t, a.Accounts.Link(ctx, "u1", "secret"))
	require.NoError(t, a.Close())

	b, err := New(loadConfig(t, dir, ""))
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, first, b.DeviceID())
	token, err := b.Accounts.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret", token)
}

func TestReset(t *testing.T) {
	a := newApp(t, "")
	ctx := context.Background()

	require.NoError(t, a.Accounts.Link(ctx, "u1", "secret"))
	p, err := a.Gateway.SaveProject(ctx, gateway.ProjectInput{Title: gateway.Ptr("Quilt")})
	require.NoError(t, err)
	photo, err := a.Gateway.SavePhoto(ctx, gateway.PhotoInput{ProjectID: gateway.Ptr(p.ID)}, pngBytes(t))
	require.NoError(t, err)
	require.True(t, a.Blobs.Exists(photo.BlobHash))

	require.NoError(t, a.Reset(ctx))

	projects, err := a.Gateway.List(ctx, models.KindProject)
	require.NoError(t, err)
	assert.Empty(t, projects)
	assert.False(t, a.Blobs.Exists(photo.BlobHash))
	assert.False(t, a.Accounts.IsLinked(ctx))
}

func TestRouter(t *testing.T) {
	a := newApp(t, "")
	ctx := context.Background()
	p, err := a.Gateway.SaveProject(ctx, gateway.ProjectInput{Title: gateway.Ptr("Hat")})
	require.NoError(t, err)
	r := a.Router()

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"health", http.MethodGet, "/api/health", http.StatusOK},
		{"status", http.MethodGet, "/api/status", http.StatusOK},
		{"list", http.MethodGet, "/api/records/project", http.StatusOK},
		{"get", http.MethodGet, "/api/records/project/" + p.ID, http.StatusOK},
		{"missing record", http.MethodGet, "/api/records/project/nope", http.StatusNotFound},
		{"unknown kind", http.MethodGet, "/api/records/yarn", http.StatusBadRequest},
		{"pending", http.MethodGet, "/api/pending/project", http.StatusOK},
		{"sync not configured", http.MethodPost, "/api/sync", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/records/project", nil))
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestBackup_restoresAfterReset(t *testing.T) {
	a := newApp(t, "")
	ctx := context.Background()

	p, err := a.Gateway.SaveProject(ctx, gateway.ProjectInput{Title: gateway.Ptr("Cardigan")})
	require.NoError(t, err)
	res, err := a.Backup.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemCount)

	require.NoError(t, a.Reset(ctx))
	imp, err := a.Backups.Import(ctx, res.FilePath, "")
	require.NoError(t, err)
	assert.Equal(t, 1, imp.ImportedCount)

	e, err := a.Gateway.Get(ctx, models.KindProject, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cardigan", e.(*models.Project).Title)
}
