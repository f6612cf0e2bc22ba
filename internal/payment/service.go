// Package payment validates an order against its source of truth, decrypts
// the payment instrument and submits exactly one charge.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mallhive.org/internal/audit"
	"mallhive.org/internal/obs"
	"mallhive.org/internal/payment/gateway"
	"mallhive.org/internal/payment/orders"
)

const (
	providerStripe = "stripe"
	providerPaypal = "paypal"

	defaultNotifyTimeout = 5 * time.Second
)

// idempotencyNamespace seeds the deterministic per-order idempotency key.
// It must stay stable across deployments and replicas.
var idempotencyNamespace = uuid.MustParse("2e7f9a44-31c5-4c6e-9b1a-7df3a1c0b5d9")

// OrderSource supplies the authoritative amount for an order.
type OrderSource interface {
	Amount(ctx context.Context, orderID string) (int64, error)
}

// Decrypter turns an encrypted instrument token into its plaintext.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// Notifier delivers the best-effort success message.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Service is the payment core. All collaborators are injected.
type Service struct {
	orders        OrderSource
	vault         Decrypter
	gateways      map[string]gateway.Gateway
	notifier      Notifier
	notifyTimeout time.Duration
}

// Option configures Service behavior.
type Option func(*Service)

// WithNotifyTimeout bounds the fire-and-forget notification attempt.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// NewService constructs the payment service. The gateways map binds provider
// names to their charge gateways; only "stripe" is expected today.
func NewService(orderSource OrderSource, vault Decrypter, gateways map[string]gateway.Gateway, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		orders:        orderSource,
		vault:         vault,
		gateways:      gateways,
		notifier:      notifier,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IdempotencyKey derives the deterministic gateway idempotency key for an
// order. Never time-based: retrying the same order always produces the same
// key, so the gateway can de-duplicate.
func IdempotencyKey(orderID string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(orderID)).String()
}

// Process runs the full charge pipeline. Ordering is a contract: the order is
// validated before any secret is touched or the gateway contacted.
func (s *Service) Process(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = providerStripe
	}

	// Provider policy is checked before any collaborator call.
	gw, ok := s.gateways[provider]
	if !ok {
		if provider == providerPaypal {
			return Result{}, ErrProviderNotImplemented
		}
		return Result{}, ErrUnsupportedProvider
	}

	if err := s.validateOrder(ctx, req); err != nil {
		return Result{}, err
	}

	instrument, err := s.vault.Decrypt(ctx, req.EncryptedToken)
	if err != nil {
		return Result{}, err
	}

	charge, err := gw.CreateCharge(ctx, req.Amount, req.Currency, instrument, IdempotencyKey(req.OrderID))
	if err != nil {
		obs.CountCharge(provider, "error")
		return Result{}, err
	}

	obs.CountCharge(provider, "success")
	_ = audit.LogEvent(ctx, "payment.charge.created", map[string]any{
		"order_id":   req.OrderID,
		"provider":   provider,
		"payment_id": charge.ID,
		"amount":     req.Amount,
		"currency":   req.Currency,
	})

	s.notifySuccess(req.UserEmail, req.Amount)

	return Result{Status: charge.Status, Provider: provider, PaymentID: charge.ID}, nil
}

// validateOrder fails closed: any non-success from the order service or any
// nonzero amount delta rejects the request.
func (s *Service) validateOrder(ctx context.Context, req Request) error {
	recorded, err := s.orders.Amount(ctx, req.OrderID)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return ErrOrderNotFound
	case err != nil:
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	if recorded != req.Amount {
		return ErrAmountMismatch
	}
	return nil
}

// notifySuccess runs detached; a failed notification never unwinds a charge
// that already succeeded.
func (s *Service) notifySuccess(email string, amount int64) {
	if s.notifier == nil || email == "" {
		return
	}
	timeout := s.notifyTimeout
	notifier := s.notifier
	body := fmt.Sprintf("Your payment of $%d.%02d was successful.", amount/100, amount%100)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := notifier.Send(ctx, email, "Payment Successful", body); err != nil {
			obs.CountNotifyFailure()
			obs.LogEvent(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "warn",
				"msg":   "payment notification failed",
				"to":    email,
				"error": err.Error(),
			})
		}
	}()
}

func validate(req Request) error {
	if strings.TrimSpace(req.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required", ErrInvalidInput)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.EncryptedToken) == "" {
		return fmt.Errorf("%w: encrypted_token is required", ErrInvalidInput)
	}
	return nil
}
