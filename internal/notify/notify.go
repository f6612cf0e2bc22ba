// Package notify is the fire-and-forget client for the notification service.
// Delivery failures are reported to the caller, who is expected to swallow
// and log them; nothing here retries.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// ErrUnavailable indicates the notification service could not be reached or
// rejected the message.
var ErrUnavailable = fmt.Errorf("notify: service unavailable")

// Client posts messages to the notification service.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client with a bounded timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Send delivers one message. Best effort: callers treat errors as non-fatal.
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: no endpoint configured", ErrUnavailable)
	}
	payload, err := json.Marshal(message{To: to, Subject: subject, Message: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
