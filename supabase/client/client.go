// Package client is a small Supabase client covering the surfaces the
// marketplace uses: PostgREST tables, GoTrue auth, Storage buckets and Edge
// Functions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one Supabase project.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the project URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Database Operations (PostgREST)
// =============================================================================

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{
		client: c,
		table:  table,
		params: url.Values{},
	}
}

// QueryBuilder builds PostgREST queries. Filters apply to reads, updates and
// deletes alike.
type QueryBuilder struct {
	client *Client
	table  string
	params url.Values
	single bool
	count  string
}

// Select specifies columns to select.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.params.Set("select", columns)
	return q
}

func (q *QueryBuilder) filter(column, op string, value any) *QueryBuilder {
	q.params.Add(column, op+"."+fmt.Sprint(value))
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	return q.filter(column, "eq", value)
}

// Neq adds a not-equal filter.
func (q *QueryBuilder) Neq(column string, value any) *QueryBuilder {
	return q.filter(column, "neq", value)
}

// Lt adds a less-than filter.
func (q *QueryBuilder) Lt(column string, value any) *QueryBuilder {
	return q.filter(column, "lt", value)
}

// Is adds an IS filter (null, true, false).
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	return q.filter(column, "is", value)
}

// Or adds a disjunction of PostgREST filters, e.g.
// Or("donation_id.is.null", "donation_id.eq.42").
func (q *QueryBuilder) Or(filters ...string) *QueryBuilder {
	q.params.Add("or", "("+strings.Join(filters, ",")+")")
	return q
}

// In adds an IN filter. Values are double quoted so ids containing commas or
// parentheses survive.
func (q *QueryBuilder) In(column string, values []string) *QueryBuilder {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	q.params.Add(column, "in.("+strings.Join(quoted, ",")+")")
	return q
}

// Contains adds an array containment filter (cs).
func (q *QueryBuilder) Contains(column string, values []string) *QueryBuilder {
	q.params.Add(column, "cs.{"+strings.Join(values, ",")+"}")
	return q
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	if existing := q.params.Get("order"); existing != "" {
		q.params.Set("order", existing+","+column+"."+dir)
	} else {
		q.params.Set("order", column+"."+dir)
	}
	return q
}

// Limit sets the LIMIT.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

// Single expects exactly one row; PostgREST answers 406 otherwise.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

// Count asks for a row count (exact, planned, estimated) in Content-Range.
func (q *QueryBuilder) Count(countType string) *QueryBuilder {
	q.count = countType
	return q
}

func (q *QueryBuilder) url() string {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)
	if len(q.params) > 0 {
		reqURL += "?" + q.params.Encode()
	}
	return reqURL
}

// Execute executes a SELECT query.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.url(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q.decorate(req, "")
	return q.client.do(req)
}

// ExecuteInsert inserts data (object or array) and returns the stored rows.
func (q *QueryBuilder) ExecuteInsert(ctx context.Context, data any) (*Response, error) {
	return q.send(ctx, http.MethodPost, data)
}

// ExecuteUpdate patches every row matching the filters and returns them. A
// conditional update that matched nothing answers 200 with an empty array.
func (q *QueryBuilder) ExecuteUpdate(ctx context.Context, data any) (*Response, error) {
	return q.send(ctx, http.MethodPatch, data)
}

// ExecuteDelete deletes every row matching the filters.
func (q *QueryBuilder) ExecuteDelete(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, q.url(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q.decorate(req, "return=representation")
	return q.client.do(req)
}

func (q *QueryBuilder) send(ctx context.Context, method string, data any) (*Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.url(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	q.decorate(req, "return=representation")
	return q.client.do(req)
}

func (q *QueryBuilder) decorate(req *http.Request, prefer string) {
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}
	q.client.setHeaders(req)
	if q.count != "" {
		if prefer != "" {
			prefer += ","
		}
		prefer += "count=" + q.count
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
}

// =============================================================================
// RPC (Stored Procedures)
// =============================================================================

// RPC calls a stored procedure.
func (c *Client) RPC(ctx context.Context, fn string, params any) (*Response, error) {
	reqURL := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, fn)

	var body io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setHeaders(req)
	if params != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

// =============================================================================
// Response
// =============================================================================

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Error returns a *Error when the status indicates failure.
func (r *Response) Error() error {
	if r.StatusCode < 400 {
		return nil
	}
	return parseError(r.StatusCode, r.Body)
}

// Total parses the row count from Content-Range ("0-9/42"), or -1.
func (r *Response) Total() int {
	cr := r.Headers.Get("Content-Range")
	idx := strings.LastIndex(cr, "/")
	if idx < 0 {
		return -1
	}
	n, err := strconv.Atoi(cr[idx+1:])
	if err != nil {
		return -1
	}
	return n
}

// =============================================================================
// Internal Methods
// =============================================================================

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if id := GetRequestID(req.Context()); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}, nil
}

// doJSON runs req and decodes a successful body into out (when non-nil).
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if err := resp.Error(); err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := resp.JSON(out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
