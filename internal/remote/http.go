package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/evsync/internal/event"
)

// HTTPClient calls the remote action API over HTTP with JSON bodies.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithToken sends token as a bearer credential.
func WithToken(token string) HTTPOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// NewHTTPClient returns a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateEvent implements Client.
func (c *HTTPClient) CreateEvent(ctx context.Context, req CreateRequest) (event.Document, error) {
	var doc event.Document
	err := c.do(ctx, http.MethodPost, "/events", req, &doc)
	return doc, err
}

// Act implements Client.
func (c *HTTPClient) Act(ctx context.Context, req ActionRequest) (event.Document, error) {
	var doc event.Document
	path := "/events/" + url.PathEscape(req.EventID) + "/" + ActionSlug(req.Action)
	err := c.do(ctx, http.MethodPost, path, req, &doc)
	return doc, err
}

// GetEvent implements Client.
func (c *HTTPClient) GetEvent(ctx context.Context, id string) (event.Document, error) {
	var doc event.Document
	err := c.do(ctx, http.MethodGet, "/events/"+url.PathEscape(id), nil, &doc)
	return doc, err
}

// Search implements Client.
func (c *HTTPClient) Search(ctx context.Context, req SearchRequest) (event.Page, error) {
	var page event.Page
	err := c.do(ctx, http.MethodPost, "/search", req, &page)
	return page, err
}

// ListDrafts implements Client.
func (c *HTTPClient) ListDrafts(ctx context.Context) ([]event.Draft, error) {
	var drafts []event.Draft
	err := c.do(ctx, http.MethodGet, "/drafts", nil, &drafts)
	return drafts, err
}

// CreateDraft implements Client.
func (c *HTTPClient) CreateDraft(ctx context.Context, d event.Draft) (event.Draft, error) {
	var out event.Draft
	err := c.do(ctx, http.MethodPost, "/drafts", d, &out)
	return out, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil {
			se.Message = payload.Error
		}
		return se
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
