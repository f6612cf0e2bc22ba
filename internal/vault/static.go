package vault

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
)

// Static is an in-process vault for tests and local development. Ciphertexts
// are base64("static:" + plaintext); secrets live in a plain map.
type Static struct {
	mu      sync.RWMutex
	secrets map[string]string
}

const staticPrefix = "static:"

var _ Vault = (*Static)(nil)

// NewStatic creates a vault seeded with the given secrets.
func NewStatic(secrets map[string]string) *Static {
	copied := make(map[string]string, len(secrets))
	for k, v := range secrets {
		copied[k] = v
	}
	return &Static{secrets: copied}
}

// Encrypt produces a ciphertext that Decrypt will accept. Test helper.
func (s *Static) Encrypt(plaintext string) string {
	return base64.StdEncoding.EncodeToString([]byte(staticPrefix + plaintext))
}

func (s *Static) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryption
	}
	if !strings.HasPrefix(string(raw), staticPrefix) {
		return "", ErrDecryption
	}
	return strings.TrimPrefix(string(raw), staticPrefix), nil
}

func (s *Static) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.secrets[name]
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// SetSecret stores or replaces a secret. Test helper.
func (s *Static) SetSecret(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}
