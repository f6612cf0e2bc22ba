// Package vault abstracts the secret store that supplies signing keys and
// decrypts payment instrument tokens.
package vault

import (
	"context"
	"errors"
)

var (
	// ErrDecryption covers every decrypt failure (wrong key, corrupted
	// payload, unauthorized) without leaking the provider's detail.
	ErrDecryption = errors.New("vault: decryption failed")

	// ErrSecretNotFound indicates the named secret does not exist.
	ErrSecretNotFound = errors.New("vault: secret not found")
)

// Vault supplies secrets and decrypts ciphertexts. Implementations must never
// include key material in returned errors.
type Vault interface {
	// Decrypt turns a base64 ciphertext into its plaintext.
	Decrypt(ctx context.Context, ciphertext string) (string, error)

	// GetSecret returns the named secret value.
	GetSecret(ctx context.Context, name string) (string, error)
}
