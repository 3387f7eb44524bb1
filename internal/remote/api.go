package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/logging"
	"github.com/kimhsiao/crafttrack/internal/models"
)

// ListResult is one pulled collection. Records failing validation are
// counted and described, never returned.
type ListResult struct {
	Kind    models.Kind
	Items   []models.Entity
	Invalid int
	Errors  []string
}

func collectionPath(kind models.Kind) string {
	return "/" + kind.TableName()
}

func itemPath(kind models.Kind, id string) string {
	return collectionPath(kind) + "/" + url.PathEscape(id)
}

// List fetches the full server collection of kind.
func (c *Client) List(ctx context.Context, kind models.Kind) (*ListResult, error) {
	if !kind.Valid() {
		return nil, errors.Newf(errors.ErrInvalid, "unknown entity kind %q", kind)
	}
	req, _ := jsonRequest(http.MethodGet, collectionPath(kind), nil)
	payload, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	raws, err := splitCollection(payload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRemoteRejected, "decode "+kind.TableName(), err)
	}

	result := &ListResult{Kind: kind, Items: make([]models.Entity, 0, len(raws))}
	for i, raw := range raws {
		if err := c.schemas.validate(kind, raw); err != nil {
			result.Invalid++
			result.Errors = append(result.Errors, fmt.Sprintf("%s[%d]: %v", kind, i, err))
			continue
		}
		e, err := Decode(kind, raw)
		if err != nil {
			result.Invalid++
			result.Errors = append(result.Errors, fmt.Sprintf("%s[%d]: %v", kind, i, err))
			continue
		}
		result.Items = append(result.Items, e)
	}
	if result.Invalid > 0 {
		logging.Warn("Skipped invalid remote records", map[string]interface{}{
			"kind": string(kind), "invalid": result.Invalid,
		})
	}
	return result, nil
}

// splitCollection accepts a bare JSON array or an {"items": [...]} envelope.
func splitCollection(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var raws []json.RawMessage
	if trimmed[0] == '[' {
		err := json.Unmarshal(trimmed, &raws)
		return raws, err
	}
	var envelope struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	return envelope.Items, nil
}

// decodeOne validates and decodes a single-record response.
func (c *Client) decodeOne(kind models.Kind, payload []byte) (models.Entity, error) {
	if err := c.schemas.validate(kind, payload); err != nil {
		return nil, err
	}
	return Decode(kind, payload)
}

// Create posts a new record and returns the server representation, which
// carries the server-issued id.
func (c *Client) Create(ctx context.Context, e models.Entity) (models.Entity, error) {
	if e.Kind() == models.KindPhoto {
		return nil, errors.New(errors.ErrInvalid, "photos are created with UploadPhoto")
	}
	body, err := Encode(e)
	if err != nil {
		return nil, err
	}
	req, err := jsonRequest(http.MethodPost, collectionPath(e.Kind()), body)
	if err != nil {
		return nil, err
	}
	payload, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.decodeOne(e.Kind(), payload)
}

// Update patches an existing record by id. An empty 2xx body yields a nil
// entity.
func (c *Client) Update(ctx context.Context, e models.Entity) (models.Entity, error) {
	body, err := Encode(e)
	if err != nil {
		return nil, err
	}
	req, err := jsonRequest(http.MethodPatch, itemPath(e.Kind(), e.GetID()), body)
	if err != nil {
		return nil, err
	}
	payload, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	return c.decodeOne(e.Kind(), payload)
}

// Delete removes kind/id upstream. A 404 is reported as REMOTE_NOT_FOUND;
// callers treat it as success.
func (c *Client) Delete(ctx context.Context, kind models.Kind, id string) error {
	req, _ := jsonRequest(http.MethodDelete, itemPath(kind, id), nil)
	_, err := c.do(ctx, req)
	return err
}

// UploadPhoto creates a photo with its binary payload as multipart form data
// and returns the server representation.
func (c *Client) UploadPhoto(ctx context.Context, p *models.Photo, payload []byte) (*models.Photo, error) {
	if len(payload) == 0 {
		return nil, errors.New(errors.ErrInvalid, "photo payload is empty")
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if p.Caption != "" {
		if err := w.WriteField("caption", p.Caption); err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "encode photo form", err)
		}
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="photo"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "encode photo form", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "encode photo form", err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "encode photo form", err)
	}

	q := url.Values{}
	q.Set("project_id", p.ProjectID)
	req := request{
		method:      http.MethodPost,
		path:        collectionPath(models.KindPhoto) + "?" + q.Encode(),
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
		auth:        true,
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	e, err := c.decodeOne(models.KindPhoto, resp)
	if err != nil {
		return nil, err
	}
	return e.(*models.Photo), nil
}

// Health probes the unauthenticated health endpoint once.
func (c *Client) Health(ctx context.Context) error {
	r := request{method: http.MethodGet, path: "/health"}
	_, _, _, err := c.roundTrip(ctx, r, "")
	if err != nil {
		return classifyTransport(r, err)
	}
	return nil
}
