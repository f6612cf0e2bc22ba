// Package gateway submits charges to the payment provider. The provider is
// responsible for de-duplicating retries through the Idempotency-Key header.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// ErrUnavailable indicates the gateway could not be reached at all.
var ErrUnavailable = errors.New("gateway: unavailable")

// Error is a provider-agnostic charge rejection. It deliberately carries only
// a status code and a short message; provider stack traces never reach it.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: charge rejected (status %d): %s", e.Status, e.Message)
}

// Charge is the result of a successful submission.
type Charge struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Gateway charges a payment instrument.
type Gateway interface {
	// CreateCharge submits one charge. The idempotency key must be
	// deterministic for the logical charge so retries are safe.
	CreateCharge(ctx context.Context, amount int64, currency, instrument, idempotencyKey string) (Charge, error)
}

// HTTPGateway implements Gateway against a REST charge API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTP creates an HTTPGateway.
func NewHTTP(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type chargeRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Source   string `json:"source"`
}

func (g *HTTPGateway) CreateCharge(ctx context.Context, amount int64, currency, instrument, idempotencyKey string) (Charge, error) {
	payload, err := json.Marshal(chargeRequest{Amount: amount, Currency: currency, Source: instrument})
	if err != nil {
		return Charge{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/charges", bytes.NewReader(payload))
	if err != nil {
		return Charge{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Charge{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		msg := body.Error
		if msg == "" {
			msg = "charge declined"
		}
		return Charge{}, &Error{Status: resp.StatusCode, Message: msg}
	}

	var charge Charge
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return Charge{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return charge, nil
}
