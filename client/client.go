// Package client reads from a running verso server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"verso/internal/errors"
	"verso/internal/history"
	"verso/internal/service"
)

type Client struct {
	baseURL    string
	routes     service.Routes
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		routes:  service.DefaultRoutes(),
		httpClient: &http.Client{
			Timeout: time.Second * 30,
		},
	}
}

// WithRoutes sets the route names the server was configured with.
func (c *Client) WithRoutes(routes service.Routes) *Client {
	c.routes = routes
	return c
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFound(strings.TrimSpace(string(body)))
	case resp.StatusCode == http.StatusBadRequest:
		return nil, errors.BadRequest(strings.TrimSpace(string(body)), nil)
	default:
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func (c *Client) Metadata(ctx context.Context) (*service.Metadata, error) {
	var meta service.Metadata
	if err := c.getJSON(ctx, "/"+c.routes.Meta, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Directory lists every version entry, newest first.
func (c *Client) Directory(ctx context.Context) ([]history.VersionEntry, error) {
	var entries []history.VersionEntry
	if err := c.getJSON(ctx, "/"+c.routes.Meta+"/"+c.routes.Object, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Range bounds a versions query. Nil bounds are open.
type Range struct {
	Start *int64
	End   *int64
}

// Suffix renders r as a path suffix in the range grammar.
func (r Range) Suffix() string {
	switch {
	case r.Start != nil && r.End != nil:
		return fmt.Sprintf("/%d/-/%d", *r.Start, *r.End)
	case r.Start != nil:
		return fmt.Sprintf("/%d/-", *r.Start)
	case r.End != nil:
		return fmt.Sprintf("/-/%d", *r.End)
	}
	return ""
}

// Versions lists the versions of path, newest first.
func (c *Client) Versions(ctx context.Context, path string, r Range) (*service.VersionList, error) {
	var list service.VersionList
	p := "/" + c.routes.Meta + "/" + c.routes.Versions + "/" + escapePath(path) + r.Suffix()
	if err := c.getJSON(ctx, p, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Object returns the raw content of id, sliced to r when bounds are set.
func (c *Client) Object(ctx context.Context, id string, r Range) ([]byte, error) {
	return c.get(ctx, "/"+c.routes.Object+"/"+url.PathEscape(id)+r.Suffix())
}

// Envelope returns the structured form of id without its body.
func (c *Client) Envelope(ctx context.Context, id string, withBody bool) (*service.Envelope, error) {
	p := "/" + c.routes.Meta + "/" + c.routes.Object + "/" + url.PathEscape(id)
	if !withBody {
		p += "?nobody"
	}
	var env service.Envelope
	if err := c.getJSON(ctx, p, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Int64 is a helper for building a Range.
func Int64(n int64) *int64 {
	return &n
}

// ParseBound parses an optional bound; an empty string is open.
func ParseBound(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, errors.BadRequest("Non-Integer Time Index", map[string]string{"bound": s})
	}
	return &n, nil
}
