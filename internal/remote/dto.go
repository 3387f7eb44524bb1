package remote

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/models"
)

// Timestamp is Unix milliseconds locally and RFC 3339 on the wire. Numeric
// epoch milliseconds are accepted on input.
type Timestamp int64

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(time.UnixMilli(int64(t)).UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*t = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return err
		}
		*t = Timestamp(parsed.UnixMilli())
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*t = Timestamp(n)
	return nil
}

// Wire representations. Sync metadata never leaves the device; ids are
// omitted on create. User-editable fields are always sent so that a cleared
// value reaches the server through a PATCH.

type projectDTO struct {
	ID               string    `json:"id,omitempty"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	CategoryID       string    `json:"category_id"`
	Status           string    `json:"status"`
	CurrentRow       int       `json:"current_row"`
	TotalRows        int       `json:"total_rows"`
	TimeSpentSeconds int64     `json:"time_spent_seconds"`
	MaterialIDs      []string  `json:"material_ids"`
	PatternURL       string    `json:"pattern_url"`
	CreatedAt        Timestamp `json:"created_at,omitempty"`
	UpdatedAt        Timestamp `json:"updated_at,omitempty"`
	CompletedAt      Timestamp `json:"completed_at"`
}

type materialDTO struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Brand     string    `json:"brand"`
	Color     string    `json:"color"`
	Weight    string    `json:"weight"`
	Quantity  float64   `json:"quantity"`
	Unit      string    `json:"unit"`
	Notes     string    `json:"notes"`
	CreatedAt Timestamp `json:"created_at,omitempty"`
	UpdatedAt Timestamp `json:"updated_at,omitempty"`
}

type sessionDTO struct {
	ID              string    `json:"id,omitempty"`
	ProjectID       string    `json:"project_id"`
	StartedAt       Timestamp `json:"started_at"`
	EndedAt         Timestamp `json:"ended_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	RowsCompleted   int       `json:"rows_completed"`
	Notes           string    `json:"notes"`
	CreatedAt       Timestamp `json:"created_at,omitempty"`
	UpdatedAt       Timestamp `json:"updated_at,omitempty"`
}

type noteDTO struct {
	ID        string    `json:"id,omitempty"`
	ProjectID string    `json:"project_id"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"created_at,omitempty"`
	UpdatedAt Timestamp `json:"updated_at,omitempty"`
}

type photoDTO struct {
	ID          string    `json:"id,omitempty"`
	ProjectID   string    `json:"project_id"`
	Caption     string    `json:"caption"`
	URL         string    `json:"url,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	CreatedAt   Timestamp `json:"created_at,omitempty"`
	UpdatedAt   Timestamp `json:"updated_at,omitempty"`
}

type categoryDTO struct {
	ID        string    `json:"id,omitempty"`
	Label     string    `json:"label"`
	Color     string    `json:"color"`
	CreatedAt Timestamp `json:"created_at,omitempty"`
	UpdatedAt Timestamp `json:"updated_at,omitempty"`
}

// Encode returns the wire payload for e. Local ids are never sent, neither
// as the record id nor as a reference.
func Encode(e models.Entity) (interface{}, error) {
	id := e.GetID()
	if models.IsLocalID(id) {
		id = ""
	}
	switch v := e.(type) {
	case *models.Project:
		ids := make([]string, 0, len(v.MaterialIDs))
		for _, m := range v.MaterialIDs {
			if !models.IsLocalID(m) {
				ids = append(ids, m)
			}
		}
		category := v.CategoryID
		if models.IsLocalID(category) {
			category = ""
		}
		return projectDTO{
			ID: id, Title: v.Title, Description: v.Description, CategoryID: category,
			Status: string(v.Status), CurrentRow: v.CurrentRow, TotalRows: v.TotalRows,
			TimeSpentSeconds: v.TimeSpentSeconds, MaterialIDs: ids, PatternURL: v.PatternURL,
			CreatedAt: Timestamp(v.CreatedAt), UpdatedAt: Timestamp(v.UpdatedAt), CompletedAt: Timestamp(v.CompletedAt),
		}, nil
	case *models.Material:
		return materialDTO{
			ID: id, Name: v.Name, Type: v.Type, Brand: v.Brand, Color: v.Color, Weight: v.Weight,
			Quantity: v.Quantity, Unit: v.Unit, Notes: v.Notes,
			CreatedAt: Timestamp(v.CreatedAt), UpdatedAt: Timestamp(v.UpdatedAt),
		}, nil
	case *models.Session:
		return sessionDTO{
			ID: id, ProjectID: v.ProjectID, StartedAt: Timestamp(v.StartedAt), EndedAt: Timestamp(v.EndedAt),
			DurationSeconds: v.DurationSeconds, RowsCompleted: v.RowsCompleted, Notes: v.Notes,
			CreatedAt: Timestamp(v.CreatedAt), UpdatedAt: Timestamp(v.UpdatedAt),
		}, nil
	case *models.Note:
		return noteDTO{
			ID: id, ProjectID: v.ProjectID, Content: v.Content,
			CreatedAt: Timestamp(v.CreatedAt), UpdatedAt: Timestamp(v.UpdatedAt),
		}, nil
	case *models.Photo:
		return photoDTO{
			ID: id, ProjectID: v.ProjectID, Caption: v.Caption, URL: v.RemoteURL,
			ContentType: v.ContentType, Width: v.Width, Height: v.Height,
			CreatedAt: Timestamp(v.CreatedAt), UpdatedAt: Timestamp(v.UpdatedAt),
		}, nil
	case *models.Category:
		return categoryDTO{
			ID: id, Label: v.Label, Color: v.Color,
			CreatedAt: Timestamp(v.CreatedAt), UpdatedAt: Timestamp(v.UpdatedAt),
		}, nil
	default:
		return nil, errors.Newf(errors.ErrInternal, "no wire format for %T", e)
	}
}

// Decode converts one wire record of kind into an entity with zero sync
// metadata.
func Decode(kind models.Kind, raw []byte) (models.Entity, error) {
	var e models.Entity
	var err error
	switch kind {
	case models.KindProject:
		var d projectDTO
		if err = json.Unmarshal(raw, &d); err == nil {
			e = &models.Project{
				ID: d.ID, Title: d.Title, Description: d.Description, CategoryID: d.CategoryID,
				Status: models.ProjectStatus(d.Status), CurrentRow: d.CurrentRow, TotalRows: d.TotalRows,
				TimeSpentSeconds: d.TimeSpentSeconds, MaterialIDs: d.MaterialIDs, PatternURL: d.PatternURL,
				CreatedAt: int64(d.CreatedAt), UpdatedAt: int64(d.UpdatedAt), CompletedAt: int64(d.CompletedAt),
			}
			if d.Status == "" {
				e.(*models.Project).Status = models.ProjectInProgress
			}
		}
	case models.KindMaterial:
		var d materialDTO
		if err = json.Unmarshal(raw, &d); err == nil {
			e = &models.Material{
				ID: d.ID, Name: d.Name, Type: d.Type, Brand: d.Brand, Color: d.Color, Weight: d.Weight,
				Quantity: d.Quantity, Unit: d.Unit, Notes: d.Notes,
				CreatedAt: int64(d.CreatedAt), UpdatedAt: int64(d.UpdatedAt),
			}
		}
	case models.KindSession:
		var d sessionDTO
		if err = json.Unmarshal(raw, &d); err == nil {
			e = &models.Session{
				ID: d.ID, ProjectID: d.ProjectID, StartedAt: int64(d.StartedAt), EndedAt: int64(d.EndedAt),
				DurationSeconds: d.DurationSeconds, RowsCompleted: d.RowsCompleted, Notes: d.Notes,
				CreatedAt: int64(d.CreatedAt), UpdatedAt: int64(d.UpdatedAt),
			}
		}
	case models.KindNote:
		var d noteDTO
		if err = json.Unmarshal(raw, &d); err == nil {
			e = &models.Note{
				ID: d.ID, ProjectID: d.ProjectID, Content: d.Content,
				CreatedAt: int64(d.CreatedAt), UpdatedAt: int64(d.UpdatedAt),
			}
		}
	case models.KindPhoto:
		var d photoDTO
		if err = json.Unmarshal(raw, &d); err == nil {
			e = &models.Photo{
				ID: d.ID, ProjectID: d.ProjectID, Caption: d.Caption, RemoteURL: d.URL,
				ContentType: d.ContentType, Width: d.Width, Height: d.Height,
				CreatedAt: int64(d.CreatedAt), UpdatedAt: int64(d.UpdatedAt),
			}
		}
	case models.KindCategory:
		var d categoryDTO
		if err = json.Unmarshal(raw, &d); err == nil {
			e = &models.Category{
				ID: d.ID, Label: d.Label, Color: d.Color,
				CreatedAt: int64(d.CreatedAt), UpdatedAt: int64(d.UpdatedAt),
			}
		}
	default:
		return nil, errors.Newf(errors.ErrInvalid, "unknown entity kind %q", kind)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrRemoteRejected, "decode "+string(kind), err)
	}
	if e.GetID() == "" {
		return nil, errors.Newf(errors.ErrRemoteRejected, "%s record without id", kind)
	}
	return e, nil
}
