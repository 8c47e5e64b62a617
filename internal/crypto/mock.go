package crypto

import (
	"context"
	"fmt"
	"strings"
)

// MockEncryptor implements Encryptor for local development (no KMS required).
// Ciphertext is "mock:<scope>:<plaintext>", which is enough to catch scope mix-ups in tests.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(_ context.Context, scope, plaintext string) (string, error) {
	return "mock:" + scope + ":" + plaintext, nil
}

func (m *MockEncryptor) Decrypt(_ context.Context, scope, ciphertext string) (string, error) {
	prefix := "mock:" + scope + ":"
	if !strings.HasPrefix(ciphertext, prefix) {
		return "", fmt.Errorf("ciphertext does not belong to scope %q", scope)
	}
	return strings.TrimPrefix(ciphertext, prefix), nil
}
