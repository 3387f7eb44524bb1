// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"

	"github.com/kimhsiao/crafttrack/internal/errors"
)

// =====================================================
// Kind Tests
// =====================================================

// TestNew_everyKind verifies the factory covers every kind.
func TestNew_everyKind(t *testing.T) {
	for _, k := range Kinds() {
		e, err := New(k)
		if err != nil {
			t.Fatalf("New(%s) error = %v", k, err)
		}
		if e.Kind() != k {
			t.Errorf("New(%s).Kind() = %s", k, e.Kind())
		}
	}
	if _, err := New("widget"); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("New(widget) error = %v, want INVALID_INPUT", err)
	}
}

// TestKind_TableName verifies collection names.
func TestKind_TableName(t *testing.T) {
	want := map[Kind]string{
		KindProject:  "projects",
		KindMaterial: "materials",
		KindSession:  "sessions",
		KindNote:     "notes",
		KindPhoto:    "photos",
		KindCategory: "categories",
	}
	for k, name := range want {
		if got := k.TableName(); got != name {
			t.Errorf("%s.TableName() = %q, want %q", k, got, name)
		}
	}
}

// TestPushKinds_parentsFirst verifies dependency order and that categories
// are never pushed.
func TestPushKinds_parentsFirst(t *testing.T) {
	pos := make(map[Kind]int)
	for i, k := range PushKinds() {
		pos[k] = i
	}
	if _, ok := pos[KindCategory]; ok {
		t.Error("categories must not be pushed")
	}
	for _, child := range KindProject.Dependents() {
		if pos[child] < pos[KindProject] {
			t.Errorf("%s pushed before project", child)
		}
	}
	if pos[KindMaterial] > pos[KindProject] {
		t.Error("materials must be pushed before projects")
	}
}

// TestParseKind verifies string parsing.
func TestParseKind(t *testing.T) {
	if k, err := ParseKind("note"); err != nil || k != KindNote {
		t.Errorf("ParseKind(note) = %v, %v", k, err)
	}
	if _, err := ParseKind("notes"); err == nil {
		t.Error("ParseKind(notes) should fail")
	}
}

// =====================================================
// SyncMeta Tests
// =====================================================

// TestSyncMeta_transitions verifies pending and synced marking.
func TestSyncMeta_transitions(t *testing.T) {
	p := &Project{ID: "local-1", SyncMeta: SyncMeta{IsLocalOnly: true}}

	p.Sync().MarkPending(1700000000000)
	if p.SyncStatus != StatusPending || p.LocalUpdatedAt != 1700000000000 {
		t.Errorf("after MarkPending = %+v", p.SyncMeta)
	}

	p.Sync().MarkSynced()
	if p.SyncStatus != StatusSynced || p.IsLocalOnly {
		t.Errorf("after MarkSynced = %+v", p.SyncMeta)
	}
	if p.LocalUpdatedTime().UnixMilli() != 1700000000000 {
		t.Error("LocalUpdatedTime() lost precision")
	}
}

// TestSyncMeta_flattenedJSON verifies metadata serializes alongside entity
// fields.
func TestSyncMeta_flattenedJSON(t *testing.T) {
	n := &Note{ID: "n1", ProjectID: "p1", Content: "gauge swatch", SyncMeta: SyncMeta{SyncStatus: StatusPending}}
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if raw["sync_status"] != "pending" {
		t.Errorf("sync_status = %v, want pending", raw["sync_status"])
	}
	if raw["project_id"] != "p1" {
		t.Errorf("project_id = %v, want p1", raw["project_id"])
	}
}

// =====================================================
// Tombstone Tests
// =====================================================

// TestNewTombstone verifies ids and keys.
func TestNewTombstone(t *testing.T) {
	ts := NewTombstone(KindMaterial, "m1", 42)
	if ts.ID != "del-material-m1" {
		t.Errorf("ID = %q, want del-material-m1", ts.ID)
	}
	if ts.Key() != "material:m1" {
		t.Errorf("Key() = %q, want material:m1", ts.Key())
	}
	if ts.TableName() != "deletions" {
		t.Errorf("TableName() = %q", ts.TableName())
	}
}

// =====================================================
// Reference Tests
// =====================================================

// TestReplaceRef verifies reference rewriting per kind.
func TestReplaceRef(t *testing.T) {
	p := &Project{MaterialIDs: []string{"local-m", "m2"}, CategoryID: "local-c"}
	if !p.ReplaceRef(KindMaterial, "local-m", "m1") {
		t.Error("project material ref not rewritten")
	}
	if p.MaterialIDs[0] != "m1" || p.MaterialIDs[1] != "m2" {
		t.Errorf("MaterialIDs = %v", p.MaterialIDs)
	}
	if !p.ReplaceRef(KindCategory, "local-c", "c1") || p.CategoryID != "c1" {
		t.Errorf("CategoryID = %q", p.CategoryID)
	}
	if p.ReplaceRef(KindProject, "local-m", "x") {
		t.Error("project does not reference projects")
	}

	children := []Entity{
		&Session{ProjectID: "local-p"},
		&Note{ProjectID: "local-p"},
		&Photo{ProjectID: "local-p"},
	}
	for _, c := range children {
		if !c.ReplaceRef(KindProject, "local-p", "p1") || c.ParentID() != "p1" {
			t.Errorf("%s parent = %q, want p1", c.Kind(), c.ParentID())
		}
		if c.ReplaceRef(KindProject, "local-p", "p2") {
			t.Errorf("%s rewrote a stale reference", c.Kind())
		}
	}
}

// =====================================================
// Validation Tests
// =====================================================

// TestValidate verifies per-kind required fields.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		entity  Entity
		wantErr bool
	}{
		{"valid project", &Project{Title: "Socks", Status: ProjectInProgress}, false},
		{"blank title", &Project{Title: "  ", Status: ProjectInProgress}, true},
		{"bad status", &Project{Title: "Socks", Status: "abandoned"}, true},
		{"negative row", &Project{Title: "Socks", Status: ProjectPaused, CurrentRow: -1}, true},
		{"valid material", &Material{Name: "Merino", Quantity: 2}, false},
		{"nameless material", &Material{}, true},
		{"valid session", &Session{ProjectID: "p1", StartedAt: 1, EndedAt: 2}, false},
		{"orphan session", &Session{}, true},
		{"session ends early", &Session{ProjectID: "p1", StartedAt: 5, EndedAt: 2}, true},
		{"valid note", &Note{ProjectID: "p1", Content: "x"}, false},
		{"empty note", &Note{ProjectID: "p1"}, true},
		{"valid photo", &Photo{ProjectID: "p1", BlobHash: "abc"}, false},
		{"photo without payload", &Photo{ProjectID: "p1"}, true},
		{"valid category", &Category{Label: "Knitting"}, false},
		{"blank category", &Category{Label: " "}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entity.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrValidation) {
				t.Errorf("Validate() code = %s, want VALIDATION_ERROR", errors.CodeOf(err))
			}
		})
	}
}

// TestNormalizeLabel verifies label folding used for category merges.
func TestNormalizeLabel(t *testing.T) {
	if a, b := NormalizeLabel(" Knitting  Projects"), NormalizeLabel("knitting projects"); a != b {
		t.Errorf("NormalizeLabel mismatch: %q vs %q", a, b)
	}
	c := &Category{Label: "Crochet"}
	var l Labeled = c
	if l.NaturalKey() != "crochet" {
		t.Errorf("NaturalKey() = %q", l.NaturalKey())
	}
}

// TestProject_Progress verifies fractional progress.
func TestProject_Progress(t *testing.T) {
	tests := []struct {
		cur, total int
		want       float64
	}{
		{0, 0, 0},
		{50, 100, 0.5},
		{120, 100, 1},
	}
	for _, tt := range tests {
		p := &Project{CurrentRow: tt.cur, TotalRows: tt.total}
		if got := p.Progress(); got != tt.want {
			t.Errorf("Progress(%d/%d) = %v, want %v", tt.cur, tt.total, got, tt.want)
		}
	}
}
