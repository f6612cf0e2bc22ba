package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCharge(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody chargeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/charges", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ch_123","status":"succeeded"}`))
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, "sk_test_abc")
	charge, err := g.CreateCharge(context.Background(), 4999, "usd", "tok_visa", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "ch_123", charge.ID)
	assert.Equal(t, "succeeded", charge.Status)
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "Bearer sk_test_abc", gotAuth)
	assert.Equal(t, int64(4999), gotBody.Amount)
	assert.Equal(t, "tok_visa", gotBody.Source)
}

func TestCreateChargeDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":"card declined"}`))
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, "")
	_, err := g.CreateCharge(context.Background(), 4999, "usd", "tok_visa", "key-1")
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusPaymentRequired, gwErr.Status)
	assert.Equal(t, "card declined", gwErr.Message)
}

func TestCreateChargeOpaqueFailureBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("stacktrace: secret internals"))
	}))
	defer srv.Close()

	g := NewHTTP(srv.URL, "")
	_, err := g.CreateCharge(context.Background(), 100, "usd", "tok", "key")
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "charge declined", gwErr.Message, "provider internals must not leak")
}

func TestCreateChargeUnreachable(t *testing.T) {
	g := NewHTTP("http://127.0.0.1:1", "")
	_, err := g.CreateCharge(context.Background(), 100, "usd", "tok", "key")
	assert.True(t, errors.Is(err, ErrUnavailable))
}
