package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/gridsync/internal/record"
)

// DefaultTimeout bounds each HTTP round-trip made by Client.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client implements Backend over HTTP.
type Client struct {
	base         *url.URL
	path         string
	http         *http.Client
	updateMethod string
	token        func(context.Context) (string, error)
	headers      http.Header
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithUpdateMethod selects PATCH (default) or PUT for updates.
func WithUpdateMethod(method string) ClientOption {
	return func(c *Client) {
		c.updateMethod = strings.ToUpper(method)
	}
}

// WithToken sets a bearer-token source called before every request.
func WithToken(tok func(context.Context) (string, error)) ClientOption {
	return func(c *Client) {
		c.token = tok
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Add(key, value)
	}
}

// NewClient creates a client for the collection at baseURL + path,
// e.g. NewClient("https://erp.example.com/api", "/parts").
func NewClient(baseURL, path string, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	c := &Client{
		base:         base,
		path:         strings.TrimRight(path, "/"),
		http:         &http.Client{Timeout: DefaultTimeout},
		updateMethod: http.MethodPatch,
		headers:      make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.updateMethod != http.MethodPatch && c.updateMethod != http.MethodPut {
		return nil, fmt.Errorf("update method %q: must be PATCH or PUT", c.updateMethod)
	}
	return c, nil
}

type wirePage struct {
	Items      []map[string]any `json:"items"`
	NextCursor record.Cursor    `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
	PrevCursor record.Cursor    `json:"prev_cursor"`
	HasPrev    bool             `json:"has_prev"`
}

// Keyset fetches one page.
func (c *Client) Keyset(ctx context.Context, req KeysetRequest) (Page, error) {
	q := url.Values{}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if !req.Cursor.IsZero() {
		q.Set("cursor", req.Cursor.String())
	}
	if req.Keyword != "" {
		q.Set("q", req.Keyword)
	}
	if req.Direction == Backward {
		q.Set("direction", "prev")
	}
	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, req.Params[k])
	}

	var wp wirePage
	if err := c.do(ctx, http.MethodGet, c.path+"/keyset", q, nil, &wp); err != nil {
		return Page{}, err
	}

	page := Page{
		Items:      make([]record.Fields, 0, len(wp.Items)),
		NextCursor: wp.NextCursor,
		HasMore:    wp.HasMore,
		PrevCursor: wp.PrevCursor,
		HasPrev:    wp.HasPrev,
	}
	for i, raw := range wp.Items {
		f, err := record.NormalizeFields(raw)
		if err != nil {
			return Page{}, fmt.Errorf("keyset item %d: %w", i, err)
		}
		page.Items = append(page.Items, f)
	}
	return page, nil
}

// Create posts a new entity and returns the server's version of it.
func (c *Client) Create(ctx context.Context, fields record.Fields) (record.Fields, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, c.path, nil, fields, &out); err != nil {
		return nil, err
	}
	return record.NormalizeFields(out)
}

// Update sends fields for entity id and returns the server's version.
func (c *Client) Update(ctx context.Context, id int64, fields record.Fields) (record.Fields, error) {
	var out map[string]any
	if err := c.do(ctx, c.updateMethod, c.entityPath(id), nil, fields, &out); err != nil {
		return nil, err
	}
	return record.NormalizeFields(out)
}

// Delete removes entity id. Any response body is ignored.
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, c.entityPath(id), nil, nil, nil)
}

func (c *Client) entityPath(id int64) string {
	return c.path + "/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, u.Path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("%s %s: token: %w", method, u.Path, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	slog.Debug("backend request",
		"method", method,
		"path", u.Path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(method, u.Path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, u.Path, err)
	}
	return nil
}

func newStatusError(method, path string, resp *http.Response) error {
	se := &StatusError{Method: method, URL: path, Code: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		se.ErrCode = body.Code
		se.Message = body.Error
	} else if s := strings.TrimSpace(string(data)); s != "" {
		se.Message = s
	}
	return se
}
