package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	signer, err := NewSigner([]byte("test-secret"), WithIssuer("mallhive-identity"), WithTTL(30*time.Minute))
	require.NoError(t, err)

	signed, expiresAt, err := signer.Issue("alice@example.com")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	subject, err := signer.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", subject)
}

func TestValidateExpired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	signer, err := NewSigner([]byte("test-secret"), WithTTL(time.Hour), WithClock(func() time.Time { return past }))
	require.NoError(t, err)

	signed, _, err := signer.Issue("alice@example.com")
	require.NoError(t, err)

	// Same signer with a real clock: the token is an hour past expiry.
	live, err := NewSigner([]byte("test-secret"))
	require.NoError(t, err)
	_, err = live.Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateWrongSecret(t *testing.T) {
	signer, err := NewSigner([]byte("test-secret"))
	require.NoError(t, err)
	signed, _, err := signer.Issue("alice@example.com")
	require.NoError(t, err)

	other, err := NewSigner([]byte("other-secret"))
	require.NoError(t, err)
	_, err = other.Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsAlgorithmConfusion(t *testing.T) {
	// A token signed with "none" must never be accepted, even with a valid shape.
	claims := jwt.RegisteredClaims{
		Subject:   "alice@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	signer, err := NewSigner([]byte("test-secret"))
	require.NoError(t, err)
	_, err = signer.Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateGarbage(t *testing.T) {
	signer, err := NewSigner([]byte("test-secret"))
	require.NoError(t, err)

	for _, input := range []string{"", "   ", "not-a-token", "a.b.c"} {
		_, err := signer.Validate(input)
		assert.ErrorIs(t, err, ErrInvalidToken, "input %q", input)
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner(nil)
	assert.Error(t, err)
}
