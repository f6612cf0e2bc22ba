package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticDecryptRoundTrip(t *testing.T) {
	v := NewStatic(nil)
	ciphertext := v.Encrypt("tok_visa_4242")

	plaintext, err := v.Decrypt(context.Background(), ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "tok_visa_4242", plaintext)
}

func TestStaticDecryptRejectsGarbage(t *testing.T) {
	v := NewStatic(nil)
	for _, input := range []string{"", "not-base64!!", "aGVsbG8="} {
		_, err := v.Decrypt(context.Background(), input)
		assert.ErrorIs(t, err, ErrDecryption, "input %q", input)
	}
}

func TestStaticSecrets(t *testing.T) {
	v := NewStatic(map[string]string{"jwt-signing-key": "s3cret"})

	value, err := v.GetSecret(context.Background(), "jwt-signing-key")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", value)

	_, err = v.GetSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	v.SetSecret("missing", "now-present")
	value, err = v.GetSecret(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, "now-present", value)
}
