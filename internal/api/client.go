// Package api is the HTTP client for the remote annotation service:
// project and document lookups, the three document-stream endpoints and
// object CRUD.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kittclouds/annokitt/internal/store"
)

// Options configures a Client.
type Options struct {
	BaseURL        string `json:"base_url"`
	Token          string `json:"token,omitempty"`           // sent as Bearer
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // default 30

	// RequestsPerSecond caps the request rate; 0 disables the limiter.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`

	HTTPClient *http.Client `json:"-"`
	Logger     *slog.Logger `json:"-"`
}

func (o *Options) defaults() {
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 30
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: time.Duration(o.TimeoutSeconds) * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client talks to the annotation service.
type Client struct {
	hc    *http.Client
	base  string
	token string
	log   *slog.Logger
	limit *rate.Limiter // nil when unthrottled
}

// New builds a Client. BaseURL is required.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api: base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("api: base url: %w", err)
	}
	opts.defaults()
	c := &Client{hc: opts.HTTPClient, base: base, token: opts.Token, log: opts.Logger}
	if opts.RequestsPerSecond > 0 {
		c.limit = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond)))
	}
	return c, nil
}

// path joins escaped segments into an absolute request path.
func path(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func (c *Client) do(ctx context.Context, method, p string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, p, err)
		}
		reader = bytes.NewReader(raw)
	}

	if c.limit != nil {
		if err := c.limit.Wait(ctx); err != nil {
			return fmt.Errorf("api: %s %s: %w", method, p, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+p, reader)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, p, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	c.log.Debug("api request", "method", method, "path", p, "status", resp.StatusCode,
		"dur_ms", time.Since(start).Milliseconds())

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: p, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: %s %s: %w: %v", method, p, ErrBadResponse, err)
	}
	return nil
}

func (c *Client) documents(ctx context.Context, p string) ([]store.Document, error) {
	var docs []store.Document
	if err := c.do(ctx, http.MethodGet, p, nil, &docs); err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []store.Document{}
	}
	return docs, nil
}

// =============================================================================
// Document stream
// =============================================================================

// SimpleFetch returns up to |n| documents adjacent to docID in sort order:
// after it for positive n, before it (nearest first) for negative n.
func (c *Client) SimpleFetch(ctx context.Context, projectID, docID string, n int) ([]store.Document, error) {
	return c.documents(ctx, path("project", projectID, "idoc", docID, "simplefetch", strconv.Itoa(n)))
}

// RandFetch returns up to n documents chosen by the server.
func (c *Client) RandFetch(ctx context.Context, projectID string, n int) ([]store.Document, error) {
	return c.documents(ctx, path("project", projectID, "randfetch", strconv.Itoa(n)))
}

// FetchHistory returns up to n recently viewed documents, most recent first.
func (c *Client) FetchHistory(ctx context.Context, projectID string, n int) ([]store.Document, error) {
	return c.documents(ctx, path("project", projectID, "fetchHistory", strconv.Itoa(n)))
}

// =============================================================================
// Projects, documents, objects
// =============================================================================

func (c *Client) GetProject(ctx context.Context, projectID string) (*store.Project, error) {
	var p store.Project
	if err := c.do(ctx, http.MethodGet, path("project", projectID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListDocuments(ctx context.Context, projectID string) ([]store.Document, error) {
	return c.documents(ctx, path("project", projectID, "idoc"))
}

func (c *Client) GetDocument(ctx context.Context, projectID, docID string) (*store.Document, error) {
	var d store.Document
	if err := c.do(ctx, http.MethodGet, path("project", projectID, "idoc", docID), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListObjects returns the annotations drawn on a document.
func (c *Client) ListObjects(ctx context.Context, projectID, docID string) ([]store.Annotation, error) {
	var objs []store.Annotation
	if err := c.do(ctx, http.MethodGet, path("project", projectID, "idoc", docID, "iobj"), nil, &objs); err != nil {
		return nil, err
	}
	if objs == nil {
		objs = []store.Annotation{}
	}
	return objs, nil
}

// SaveObject creates the annotation when it has no ID yet and replaces it
// otherwise. The stored record is returned.
func (c *Client) SaveObject(ctx context.Context, projectID, docID string, a *store.Annotation) (*store.Annotation, error) {
	method, p := http.MethodPost, path("project", projectID, "idoc", docID, "iobj")
	if a.ID != "" {
		method, p = http.MethodPut, path("project", projectID, "idoc", docID, "iobj", a.ID)
	}
	var saved store.Annotation
	if err := c.do(ctx, method, p, a, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

func (c *Client) DeleteObject(ctx context.Context, projectID, docID, objID string) error {
	return c.do(ctx, http.MethodDelete, path("project", projectID, "idoc", docID, "iobj", objID), nil, nil)
}
