package payment

import "errors"

// Request describes one attempt to charge an order. Amount is in minor units.
// The decrypted instrument token is never persisted and never logged.
type Request struct {
	OrderID        string
	Amount         int64
	Currency       string
	EncryptedToken string
	UserEmail      string
	Provider       string
}

// Result is the outcome of a successful charge.
type Result struct {
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	PaymentID string `json:"payment_id"`
}

var (
	ErrInvalidInput = errors.New("payment: invalid input")

	// ErrAmountMismatch means the claimed amount differs from the order's
	// recorded amount by any nonzero delta.
	ErrAmountMismatch = errors.New("payment: amount mismatch with order")

	ErrOrderNotFound    = errors.New("payment: order not found")
	ErrOrderUnavailable = errors.New("payment: order service unavailable")

	// ErrProviderNotImplemented marks a known but not yet supported provider.
	ErrProviderNotImplemented = errors.New("payment: provider not yet implemented")

	// ErrUnsupportedProvider marks a provider this service does not know at all.
	ErrUnsupportedProvider = errors.New("payment: unsupported provider")
)
