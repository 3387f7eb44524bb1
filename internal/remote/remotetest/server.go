// Package remotetest provides an in-process fake of the remote API for tests.
package remotetest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kimhsiao/crafttrack/internal/models"
	"github.com/kimhsiao/crafttrack/internal/uuid"
)

// Request is one call observed by the fake.
type Request struct {
	Method string
	Path   string
}

type failure struct {
	method string
	path   string
	status int
	times  int
}

// Server is a fake API backed by in-memory collections.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	token    string
	records  map[models.Kind]map[string]map[string]interface{}
	order    map[models.Kind][]string
	payloads map[string][]byte
	requests []Request
	failures []*failure
	delay    time.Duration

	// Now stamps updated_at on writes.
	Now func() time.Time
}

// New starts a fake. An empty token disables the bearer check.
func New(token string) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		token:    token,
		records:  make(map[models.Kind]map[string]map[string]interface{}),
		order:    make(map[models.Kind][]string),
		payloads: make(map[string][]byte),
		Now:      time.Now,
	}
	for _, k := range models.Kinds() {
		s.records[k] = make(map[string]map[string]interface{})
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.intercept)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	for _, k := range models.Kinds() {
		kind := k
		base := "/" + kind.TableName()
		r.GET(base, func(c *gin.Context) { s.list(c, kind) })
		if kind == models.KindPhoto {
			r.POST(base, s.uploadPhoto)
		} else {
			r.POST(base, func(c *gin.Context) { s.create(c, kind) })
		}
		r.PATCH(base+"/:id", func(c *gin.Context) { s.update(c, kind) })
		r.DELETE(base+"/:id", func(c *gin.Context) { s.remove(c, kind) })
	}
	s.Server = httptest.NewServer(r)
	return s
}

// intercept records the call, applies injected failures and checks auth.
func (s *Server) intercept(c *gin.Context) {
	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: c.Request.Method, Path: c.Request.URL.Path})
	delay := s.delay
	var injected int
	for _, f := range s.failures {
		if f.times != 0 && f.method == c.Request.Method && f.path == c.Request.URL.Path {
			injected = f.status
			if f.times > 0 {
				f.times--
			}
			break
		}
	}
	token := s.token
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if injected != 0 {
		c.AbortWithStatusJSON(injected, gin.H{"code": "INJECTED", "message": http.StatusText(injected)})
		return
	}
	if token != "" && c.Request.URL.Path != "/health" && c.GetHeader("Authorization") != "Bearer "+token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing or invalid token"})
		return
	}
	c.Next()
}

func (s *Server) stamp() string {
	return s.Now().UTC().Format(time.RFC3339Nano)
}

func copyRecord(rec map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func (s *Server) list(c *gin.Context, kind models.Kind) {
	s.mu.Lock()
	out := make([]map[string]interface{}, 0, len(s.order[kind]))
	for _, id := range s.order[kind] {
		if rec, ok := s.records[kind][id]; ok {
			out = append(out, copyRecord(rec))
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (s *Server) create(c *gin.Context, kind models.Kind) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	// The server owns updated_at.
	delete(body, "updated_at")
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg := s.checkParent(kind, body); msg != "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "VALIDATION", "message": msg})
		return
	}
	rec := s.insertLocked(kind, body)
	c.JSON(http.StatusCreated, copyRecord(rec))
}

func (s *Server) checkParent(kind models.Kind, body map[string]interface{}) string {
	switch kind {
	case models.KindSession, models.KindNote, models.KindPhoto:
		pid, _ := body["project_id"].(string)
		if _, ok := s.records[models.KindProject][pid]; !ok {
			return "unknown project_id " + pid
		}
	}
	return ""
}

func (s *Server) insertLocked(kind models.Kind, body map[string]interface{}) map[string]interface{} {
	rec := copyRecord(body)
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.New()
	}
	rec["id"] = id
	now := s.stamp()
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = now
	}
	if _, ok := rec["updated_at"]; !ok {
		rec["updated_at"] = now
	}
	if _, exists := s.records[kind][id]; !exists {
		s.order[kind] = append(s.order[kind], id)
	}
	s.records[kind][id] = rec
	return rec
}

func (s *Server) update(c *gin.Context, kind models.Kind) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[kind][id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
		return
	}
	for k, v := range body {
		rec[k] = v
	}
	rec["id"] = id
	rec["updated_at"] = s.stamp()
	c.JSON(http.StatusOK, copyRecord(rec))
}

func (s *Server) remove(c *gin.Context, kind models.Kind) {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[kind][id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
		return
	}
	s.removeLocked(kind, id)
	c.Status(http.StatusNoContent)
}

func (s *Server) removeLocked(kind models.Kind, id string) {
	delete(s.records[kind], id)
	ids := s.order[kind][:0]
	for _, existing := range s.order[kind] {
		if existing != id {
			ids = append(ids, existing)
		}
	}
	s.order[kind] = ids
}

func (s *Server) uploadPhoto(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "file is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	body := map[string]interface{}{
		"project_id":   c.Query("project_id"),
		"content_type": header.Header.Get("Content-Type"),
	}
	if caption := c.PostForm("caption"); caption != "" {
		body["caption"] = caption
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg := s.checkParent(models.KindPhoto, body); msg != "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": msg})
		return
	}
	id := uuid.New()
	body["id"] = id
	body["url"] = s.URL + "/media/" + id
	s.payloads[id] = data
	rec := s.insertLocked(models.KindPhoto, body)
	c.JSON(http.StatusCreated, copyRecord(rec))
}

// =====================================================
// Test Controls
// =====================================================

// Seed stores rec under kind as if another device had created it and
// returns its id. A missing id is generated.
func (s *Server) Seed(kind models.Kind, rec map[string]interface{}) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(kind, rec)["id"].(string)
}

// Drop deletes kind/id server-side without recording a request.
func (s *Server) Drop(kind models.Kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(kind, id)
}

// Record returns a copy of kind/id.
func (s *Server) Record(kind models.Kind, id string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[kind][id]
	if !ok {
		return nil, false
	}
	return copyRecord(rec), true
}

// Len returns the number of records of kind.
func (s *Server) Len(kind models.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[kind])
}

// Payload returns an uploaded photo body.
func (s *Server) Payload(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.payloads[id]
	return b, ok
}

// Requests returns the calls seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many calls matched method and path. A path ending in
// "/" matches as a prefix.
func (s *Server) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method != method {
			continue
		}
		if r.Path == path || (strings.HasSuffix(path, "/") && strings.HasPrefix(r.Path, path)) {
			n++
		}
	}
	return n
}

// Writes returns how many non-GET calls were seen.
func (s *Server) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method != http.MethodGet {
			n++
		}
	}
	return n
}

// ResetRequests forgets the observed calls.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// Fail answers the next times calls to method path with status. times < 0
// fails forever.
func (s *Server) Fail(method, path string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{method: method, path: path, status: status, times: times})
}

// ClearFailures removes every injected failure.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = nil
}

// SetDelay makes every call wait d before being served.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}
