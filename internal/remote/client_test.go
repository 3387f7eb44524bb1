package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/models"
	"github.com/kimhsiao/crafttrack/internal/remote/remotetest"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, StaticToken("secret"))
	require.NoError(t, err)
	return c
}

func TestNewClient_requiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.True(t, errors.Is(err, errors.ErrSyncNotConfigured))
}

func TestClient_retriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"m1","name":"Wool","quantity":2,"updated_at":"2026-01-02T03:04:05Z"}]`))
	}))
	defer server.Close()

	res, err := newTestClient(t, server.URL).List(context.Background(), models.KindMaterial)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	m := res.Items[0].(*models.Material)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(), m.UpdatedAt)
}

func TestClient_statusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   errors.ErrorCode
	}{
		{http.StatusNotFound, errors.ErrRemoteNotFound},
		{http.StatusUnauthorized, errors.ErrUnauthorized},
		{http.StatusUnprocessableEntity, errors.ErrRemoteRejected},
		{http.StatusBadRequest, errors.ErrRemoteRejected},
		{http.StatusInternalServerError, errors.ErrRemoteUnavailable},
		{http.StatusTooManyRequests, errors.ErrRemoteUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"code":"X","message":"nope"}`))
			}))
			defer server.Close()

			err := newTestClient(t, server.URL).Delete(context.Background(), models.KindMaterial, "m1")
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.CodeOf(err))

			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
		})
	}
}

func TestClient_timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL, Timeout: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	_, err = c.List(context.Background(), models.KindProject)
	assert.Equal(t, errors.ErrTimeout, errors.CodeOf(err))
}

func TestClient_unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, err := NewClient(Config{BaseURL: url, Timeout: time.Second}, nil)
	require.NoError(t, err)
	err = c.Health(context.Background())
	assert.Equal(t, errors.ErrNetworkUnreachable, errors.CodeOf(err))
}

func TestClient_listSkipsInvalidRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[
			{"id":"p1","title":"Socks","status":"in_progress","current_row":3,"time_spent_seconds":10},
			{"id":"p2","title":"","status":"in_progress"},
			{"id":"p3","title":"Hat","status":"unravelled"},
			{"title":"no id"}
		]}`))
	}))
	defer server.Close()

	res, err := newTestClient(t, server.URL).List(context.Background(), models.KindProject)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 3, res.Invalid)
	assert.Len(t, res.Errors, 3)
	assert.Equal(t, 3, res.Items[0].(*models.Project).CurrentRow)
}

func TestClient_createAgainstFake(t *testing.T) {
	fake := remotetest.New("secret")
	defer fake.Close()
	c := newTestClient(t, fake.URL)
	ctx := context.Background()

	created, err := c.Create(ctx, &models.Project{ID: "local-abc", Title: "Mittens", Status: models.ProjectInProgress})
	require.NoError(t, err)
	assert.NotEqual(t, "local-abc", created.GetID())
	assert.False(t, models.IsLocalID(created.GetID()))
	assert.NotZero(t, created.RemoteUpdatedAt())

	rec, ok := fake.Record(models.KindProject, created.GetID())
	require.True(t, ok)
	assert.Equal(t, "Mittens", rec["title"])
	assert.Equal(t, 1, fake.Count(http.MethodPost, "/projects"))

	p := created.(*models.Project)
	p.CurrentRow = 12
	updated, err := c.Update(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 12, updated.(*models.Project).CurrentRow)

	_, err = c.Update(ctx, &models.Project{ID: "gone", Title: "x", Status: models.ProjectPaused})
	assert.True(t, errors.Is(err, errors.ErrRemoteNotFound))
}

func TestClient_unauthorizedAgainstFake(t *testing.T) {
	fake := remotetest.New("secret")
	defer fake.Close()

	c, err := NewClient(Config{BaseURL: fake.URL}, StaticToken("wrong"))
	require.NoError(t, err)
	_, err = c.List(context.Background(), models.KindMaterial)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
	assert.NoError(t, c.Health(context.Background()))
}

func TestClient_uploadPhoto(t *testing.T) {
	fake := remotetest.New("secret")
	defer fake.Close()
	c := newTestClient(t, fake.URL)
	pid := fake.Seed(models.KindProject, map[string]interface{}{"title": "Quilt", "status": "in_progress"})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))

	photo, err := c.UploadPhoto(context.Background(), &models.Photo{
		ID: "local-ph", ProjectID: pid, Caption: "border", ContentType: "image/png",
	}, buf.Bytes())
	require.NoError(t, err)
	assert.NotEmpty(t, photo.RemoteURL)
	assert.Equal(t, "border", photo.Caption)

	stored, ok := fake.Payload(photo.ID)
	require.True(t, ok)
	assert.Equal(t, buf.Bytes(), stored)
}

func TestTimestamp_roundTrip(t *testing.T) {
	var ts Timestamp
	require.NoError(t, ts.UnmarshalJSON([]byte(`1700000000123`)))
	assert.EqualValues(t, 1700000000123, ts)

	b, err := ts.MarshalJSON()
	require.NoError(t, err)
	var back Timestamp
	require.NoError(t, back.UnmarshalJSON(b))
	assert.Equal(t, ts, back)

	require.NoError(t, back.UnmarshalJSON([]byte(`null`)))
	assert.Zero(t, back)
}

func TestEncode_omitsLocalID(t *testing.T) {
	body, err := Encode(&models.Material{ID: "local-x", Name: "Yarn"})
	require.NoError(t, err)
	assert.Empty(t, body.(materialDTO).ID)

	body, err = Encode(&models.Material{ID: "m9", Name: "Yarn"})
	require.NoError(t, err)
	assert.Equal(t, "m9", body.(materialDTO).ID)
}

func TestEncode_sendsClearedFields(t *testing.T) {
	body, err := Encode(&models.Project{ID: "p1", Title: "Vest", Status: models.ProjectInProgress})
	require.NoError(t, err)
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &wire))
	for _, key := range []string{"description", "category_id", "total_rows", "pattern_url", "completed_at"} {
		assert.Contains(t, wire, key)
	}
	assert.Equal(t, "", wire["description"])
	assert.Nil(t, wire["completed_at"])
	assert.NotContains(t, wire, "updated_at")

	body, err = Encode(&models.Session{ID: "s1", ProjectID: "p1"})
	require.NoError(t, err)
	raw, err = json.Marshal(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"ended_at":null`)
	assert.Contains(t, string(raw), `"notes":""`)
}
