package httpapi

import (
	"errors"
	"net/http"
	"time"

	"mallhive.org/internal/obs"
	"mallhive.org/internal/payment"
	"mallhive.org/internal/payment/gateway"
	"mallhive.org/internal/vault"
)

// PaymentsAPI is the HTTP surface of the payment service.
type PaymentsAPI struct {
	mux        *http.ServeMux
	svc        *payment.Service
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec int
}

// NewPayments wires the payment routes.
func NewPayments(svc *payment.Service, rp ReadyProbe, version string) *PaymentsAPI {
	a := &PaymentsAPI{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.healthz)
	a.mux.HandleFunc("/readyz", a.ready)
	a.mux.HandleFunc("/v1/info", a.info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/v1/payments", a.handlePayment)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *PaymentsAPI) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RequestID(h)
	h = Logging(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	return obs.Instrument(h)
}

func (a *PaymentsAPI) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "mallhive-payments",
		"version": a.version,
	})
}

func (a *PaymentsAPI) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *PaymentsAPI) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "mallhive-payments",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

type paymentRequest struct {
	OrderID        string `json:"order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	EncryptedToken string `json:"encrypted_token"`
	UserEmail      string `json:"user_email"`
	Provider       string `json:"provider"`
}

func (a *PaymentsAPI) handlePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.svc.Process(r.Context(), payment.Request{
		OrderID:        req.OrderID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		EncryptedToken: req.EncryptedToken,
		UserEmail:      req.UserEmail,
		Provider:       req.Provider,
	})
	if err != nil {
		a.handlePaymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *PaymentsAPI) handlePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	var gwErr *gateway.Error
	switch {
	case errors.Is(err, payment.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrProviderNotImplemented):
		writeError(w, r, http.StatusNotImplemented, "Provider support is not yet implemented")
	case errors.Is(err, payment.ErrUnsupportedProvider):
		writeError(w, r, http.StatusBadRequest, "Unsupported payment provider")
	case errors.Is(err, payment.ErrOrderNotFound):
		writeError(w, r, http.StatusBadRequest, "Order not found")
	case errors.Is(err, payment.ErrAmountMismatch):
		writeError(w, r, http.StatusBadRequest, "Amount mismatch with order")
	case errors.Is(err, vault.ErrDecryption):
		writeError(w, r, http.StatusBadRequest, "Payment token could not be decrypted")
	case errors.As(err, &gwErr):
		writeError(w, r, http.StatusBadRequest, gwErr.Message)
	case errors.Is(err, payment.ErrOrderUnavailable), errors.Is(err, gateway.ErrUnavailable):
		writeError(w, r, http.StatusBadGateway, "Upstream service unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
