package crypto

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Encryptor protects cloud tokens at rest. The scope (a user ID) is bound
// to the ciphertext so a token copied to another user cannot be decrypted.
type Encryptor interface {
	Encrypt(ctx context.Context, scope, plaintext string) (string, error)
	Decrypt(ctx context.Context, scope, ciphertext string) (string, error)
}

// KMSAPI is the subset of *kms.Client methods used by KMSService.
type KMSAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

const scopeContextKey = "user_id"

// KMSService implements Encryptor using AWS KMS.
type KMSService struct {
	client KMSAPI
	keyID  string
}

// NewKMSService creates a new KMSService.
// keyID can be a key ID, key ARN, or alias name (e.g., "alias/iub-recorder-token-key").
func NewKMSService(client KMSAPI, keyID string) *KMSService {
	return &KMSService{
		client: client,
		keyID:  keyID,
	}
}

// Encrypt encrypts the plaintext with the configured key and returns base64 ciphertext.
func (s *KMSService) Encrypt(ctx context.Context, scope, plaintext string) (string, error) {
	result, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(s.keyID),
		Plaintext:         []byte(plaintext),
		EncryptionContext: map[string]string{scopeContextKey: scope},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encrypt token: %w", err)
	}

	return base64.StdEncoding.EncodeToString(result.CiphertextBlob), nil
}

// Decrypt decrypts base64 ciphertext produced by Encrypt for the same scope.
func (s *KMSService) Decrypt(ctx context.Context, scope, ciphertext string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	result, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    decoded,
		KeyId:             aws.String(s.keyID),
		EncryptionContext: map[string]string{scopeContextKey: scope},
	})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}

	return string(result.Plaintext), nil
}
