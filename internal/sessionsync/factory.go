package sessionsync

import (
	"context"

	"github.com/adem9445/iub-recorder/backend/internal/cloud"
	"github.com/adem9445/iub-recorder/backend/internal/cloud/dropbox"
	"github.com/adem9445/iub-recorder/backend/internal/cloud/googledrive"
	"github.com/adem9445/iub-recorder/backend/internal/cloud/onedrive"
	"github.com/adem9445/iub-recorder/backend/internal/model"
)

// ClientFactory builds the backend client for a provider. It returns a nil
// client for providers without a remote.
type ClientFactory func(ctx context.Context, provider model.Provider, settings model.CloudSettings, tokens model.CloudTokens) (cloud.Client, error)

// DefaultClientFactory dispatches to the Dropbox, OneDrive and Google Drive
// clients. driveOpts are passed to every Google Drive client, typically
// googledrive.WithOAuthConfig so refresh tokens can be used.
func DefaultClientFactory(driveOpts ...googledrive.Option) ClientFactory {
	return func(ctx context.Context, provider model.Provider, settings model.CloudSettings, tokens model.CloudTokens) (cloud.Client, error) {
		// Clients outlive the request that initialized them.
		ctx = context.WithoutCancel(ctx)

		switch provider {
		case model.ProviderDropbox:
			return dropbox.NewClient(ctx, settings, tokens), nil
		case model.ProviderOneDrive:
			return onedrive.NewClient(ctx, settings, tokens), nil
		case model.ProviderGDrive:
			c, err := googledrive.NewClient(ctx, settings, tokens, driveOpts...)
			if err != nil {
				return nil, err
			}
			return c, nil
		default:
			return nil, nil
		}
	}
}
