// Package api is the HTTP client viewers use to fetch snapshots.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
)

const defaultTimeout = 10 * time.Second

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// Error is any non-2xx response not covered by the sentinels.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Client calls the tracking HTTP API with a session token.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

// New creates a client for baseURL. httpClient may be nil.
func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: u, httpClient: httpClient, token: token}, nil
}

// GetOrder fetches GET /orders/{id}.
func (c *Client) GetOrder(ctx context.Context, id string) (*contracts.OrderView, error) {
	var out contracts.OrderView
	if err := c.get(ctx, "/orders/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRestaurantOrders fetches GET /restaurants/{id}/orders.
func (c *Client) ListRestaurantOrders(ctx context.Context, restaurantID string) ([]contracts.OrderView, error) {
	var out []contracts.OrderView
	if err := c.get(ctx, "/restaurants/"+url.PathEscape(restaurantID)+"/orders", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RequestTransition calls POST /orders/{id}/transitions.
func (c *Client) RequestTransition(ctx context.Context, id, status string) (*contracts.OrderView, error) {
	body, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return nil, err
	}
	var out contracts.OrderView
	if err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(id)+"/transitions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusForbidden:
			return ErrForbidden
		}
		return &Error{Status: resp.StatusCode, Message: e.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
