// Package remote is the HTTP client for the craft tracking API. It knows the
// REST layout per entity kind, converts wire records to local entities, and
// classifies every failure into the shared error taxonomy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/logging"
)

const (
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxRetries is the number of extra attempts on 429/5xx.
	DefaultMaxRetries = 2
)

// TokenSource supplies the bearer credential. The client never issues or
// refreshes it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// Config holds client settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	HTTPClient *http.Client
}

// HTTPError carries the status and error body of a non-2xx response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client talks to the remote API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	schemas    *schemaSet
}

// NewClient creates a Client. tokens may be nil for unauthenticated probes.
func NewClient(cfg Config, tokens TokenSource) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New(errors.ErrSyncNotConfigured, "remote base url is not configured")
	}
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:    base,
		tokens:     tokens,
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		schemas:    schemas,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	return c, nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// request describes one API call. body is replayed on retries.
type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	auth        bool
}

func jsonRequest(method, path string, payload interface{}) (request, error) {
	req := request{method: method, path: path, auth: true}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return req, errors.Wrap(errors.ErrInternal, "encode request", err)
		}
		req.body = b
		req.contentType = "application/json"
	}
	return req, nil
}

// do runs r with retries on 429 and 5xx and returns the response body of the
// first 2xx answer.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	var token string
	if r.auth && c.tokens != nil {
		var err error
		if token, err = c.tokens.Token(ctx); err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		status, header, payload, err := c.roundTrip(ctx, r, token)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, classifyTransport(r, waitErr)
				}
				continue
			}
			return nil, classifyTransport(r, err)
		}

		if status >= 200 && status <= 299 {
			return payload, nil
		}

		if (status == http.StatusTooManyRequests || status >= 500) && attempt < c.maxRetries {
			logging.Debug("Retrying remote call", map[string]interface{}{
				"method": r.method, "path": r.path, "status": status, "attempt": attempt + 1,
			})
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, header.Get("Retry-After"))); waitErr != nil {
				return nil, classifyTransport(r, waitErr)
			}
			continue
		}
		return nil, classifyStatus(r, status, payload)
	}
}

// roundTrip performs one attempt under the per-call timeout.
func (c *Client) roundTrip(ctx context.Context, r request, token string) (int, http.Header, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return 0, nil, nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, payload, nil
}

func classifyStatus(r request, status int, payload []byte) error {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(payload, &body)
	if body.Message == "" {
		body.Message = body.Error
	}
	if body.Message == "" {
		body.Message = http.StatusText(status)
	}
	httpErr := &HTTPError{StatusCode: status, Code: body.Code, Message: body.Message}
	msg := r.method + " " + r.path

	switch {
	case status == http.StatusNotFound:
		return errors.Wrap(errors.ErrRemoteNotFound, msg, httpErr)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Wrap(errors.ErrUnauthorized, msg, httpErr)
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.Wrap(errors.ErrRemoteUnavailable, msg, httpErr)
	default:
		return errors.Wrap(errors.ErrRemoteRejected, msg, httpErr)
	}
}

func classifyTransport(r request, err error) error {
	msg := r.method + " " + r.path
	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(errors.ErrTimeout, msg, err)
	case stderrors.As(err, &netErr) && netErr.Timeout():
		return errors.Wrap(errors.ErrTimeout, msg, err)
	default:
		return errors.Wrap(errors.ErrNetworkUnreachable, msg, err)
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
