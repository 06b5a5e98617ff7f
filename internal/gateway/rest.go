package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Client talks to the hosted backend over its REST surface and the realtime
// websocket. Queries and writes are PostgREST-style; the change feed is a
// realtime channel per table.
type Client struct {
	http    *resty.Client
	logger  *zap.Logger
	baseURL string
	apiKey  string

	mu   sync.Mutex
	feed *feedConn
}

// NewClient creates a gateway client for the given project URL and API key.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("apikey", apiKey).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetTimeout(30 * time.Second)

	return &Client{
		http:    hc,
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// Close tears down the realtime connection, if one was opened.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.feed != nil {
		c.feed.close()
		c.feed = nil
	}
}

// Select implements Gateway.
func (c *Client) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	req := c.http.R().SetContext(ctx)
	applyFilter(req, q.Filter)
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		req.SetQueryParam("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		req.SetQueryParam("limit", fmt.Sprint(q.Limit))
	}

	resp, err := req.Get("/rest/v1/" + table)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("select %s: %s", table, resp.Status())
	}
	var rows []Row
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("select %s: decode: %w", table, err)
	}
	return rows, nil
}

// Insert implements Gateway.
func (c *Client) Insert(ctx context.Context, table string, row Row) (Row, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(row).
		Post("/rest/v1/" + table)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("insert %s: %s", table, resp.Status())
	}
	return firstRow(resp.Body())
}

// Update implements Gateway.
func (c *Client) Update(ctx context.Context, table string, f Filter, patch Row) ([]Row, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(patch)
	applyFilter(req, f)

	resp, err := req.Patch("/rest/v1/" + table)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("update %s: %s", table, resp.Status())
	}
	var rows []Row
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("update %s: decode: %w", table, err)
	}
	return rows, nil
}

// Call implements Gateway. The backend runs the procedure in one
// transaction, so multi-row procedures are all-or-nothing.
func (c *Client) Call(ctx context.Context, fn string, args map[string]any) (Row, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(args).
		Post("/rest/v1/rpc/" + fn)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", fn, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("rpc %s: %s", fn, resp.Status())
	}
	return firstRow(resp.Body())
}

// CurrentUser implements Gateway.
func (c *Client) CurrentUser(ctx context.Context) (Row, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/auth/v1/user")
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return nil, ErrNotAuthenticated
	}
	if resp.IsError() {
		return nil, fmt.Errorf("current user: %s", resp.Status())
	}
	var row Row
	if err := json.Unmarshal(resp.Body(), &row); err != nil {
		return nil, fmt.Errorf("current user: decode: %w", err)
	}
	if row.ID() == "" {
		return nil, ErrNotAuthenticated
	}
	return row, nil
}

// Subscribe implements Gateway. The realtime connection is dialed on first
// use and shared by all subscriptions.
func (c *Client) Subscribe(ctx context.Context, table string, f Filter, h func(ChangeEvent)) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.feed == nil {
		feed, err := dialFeed(ctx, c.baseURL, c.apiKey, c.logger)
		if err != nil {
			return nil, err
		}
		c.feed = feed
	}
	return c.feed.subscribe(table, f, h)
}

func applyFilter(req *resty.Request, f Filter) {
	for _, cond := range f {
		switch cond.Op {
		case OpIn:
			vals, _ := cond.Value.([]string)
			req.SetQueryParam(cond.Column, "in.("+strings.Join(vals, ",")+")")
		default:
			req.SetQueryParam(cond.Column, fmt.Sprintf("%s.%v", cond.Op, cond.Value))
		}
	}
}

// firstRow decodes a representation body that may be a single object or a
// one-element array.
func firstRow(body []byte) (Row, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var rows []Row
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode rows: %w", err)
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("empty representation")
		}
		return rows[0], nil
	}
	var row Row
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return row, nil
}
