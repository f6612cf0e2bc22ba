// Package orders is the thin client for the authoritative Order service.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

var (
	ErrNotFound    = errors.New("orders: order not found")
	ErrUnavailable = errors.New("orders: service unavailable")
)

// Client fetches order data over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client with a bounded timeout. No automatic retries: order
// lookup happens during the fail-fast validation phase.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// Amount returns the recorded amount for the order in minor units.
func (c *Client) Amount(ctx context.Context, orderID string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+orderID, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return 0, ErrNotFound
	default:
		return 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return body.Amount, nil
}
