package auth

import (
	"context"
	"fmt"

	"github.com/adem9445/iub-recorder/backend/internal/crypto"
	"github.com/adem9445/iub-recorder/backend/internal/model"
	"github.com/adem9445/iub-recorder/backend/internal/store"
)

// TokenVault keeps a user's cloud tokens in their store, encrypting every
// token with the user id as encryption scope.
type TokenVault struct {
	store     *store.Store
	encryptor crypto.Encryptor
}

// NewTokenVault creates a vault over the user's store.
func NewTokenVault(st *store.Store, encryptor crypto.Encryptor) *TokenVault {
	return &TokenVault{store: st, encryptor: encryptor}
}

// ReadTokens returns the decrypted tokens. Nothing stored yields empty tokens.
func (v *TokenVault) ReadTokens(ctx context.Context) (model.CloudTokens, error) {
	var sealed model.CloudTokens
	if _, err := v.store.Get(ctx, store.KeyTokens, &sealed); err != nil {
		return model.CloudTokens{}, err
	}

	var out model.CloudTokens
	for _, f := range tokenFields(&sealed, &out) {
		if *f.in == "" {
			continue
		}
		plain, err := v.encryptor.Decrypt(ctx, v.store.UserID(), *f.in)
		if err != nil {
			return model.CloudTokens{}, fmt.Errorf("failed to decrypt %s token: %w", f.name, err)
		}
		*f.out = plain
	}
	return out, nil
}

// WriteTokens encrypts and replaces all stored tokens.
func (v *TokenVault) WriteTokens(ctx context.Context, tokens model.CloudTokens) error {
	var sealed model.CloudTokens
	for _, f := range tokenFields(&tokens, &sealed) {
		if *f.in == "" {
			continue
		}
		enc, err := v.encryptor.Encrypt(ctx, v.store.UserID(), *f.in)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s token: %w", f.name, err)
		}
		*f.out = enc
	}
	if err := v.store.Put(ctx, store.KeyTokens, sealed); err != nil {
		return err
	}
	return v.store.TouchConfig(ctx)
}

// UpdateTokens applies fn to the current tokens and stores the result.
func (v *TokenVault) UpdateTokens(ctx context.Context, fn func(*model.CloudTokens)) error {
	tokens, err := v.ReadTokens(ctx)
	if err != nil {
		return err
	}
	fn(&tokens)
	return v.WriteTokens(ctx, tokens)
}

type tokenField struct {
	name    string
	in, out *string
}

func tokenFields(in, out *model.CloudTokens) []tokenField {
	return []tokenField{
		{"dropbox", &in.DropboxToken, &out.DropboxToken},
		{"onedrive", &in.OneDriveToken, &out.OneDriveToken},
		{"google drive", &in.GoogleDriveToken, &out.GoogleDriveToken},
		{"google drive refresh", &in.GoogleDriveRefreshToken, &out.GoogleDriveRefreshToken},
	}
}
