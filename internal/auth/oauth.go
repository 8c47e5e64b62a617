package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/adem9445/iub-recorder/backend/internal/cloud/googledrive"
	"github.com/adem9445/iub-recorder/backend/internal/model"
)

// GoogleConfig builds the OAuth2 config for connecting Google Drive.
// drive.file limits access to files the app created or the user opened with it.
func GoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			drive.DriveFileScope,
			oauth2api.UserinfoEmailScope,
		},
		Endpoint: google.Endpoint,
	}
}

// AuthService handles the Google OAuth2 flow used to connect Google Drive.
type AuthService struct {
	oauthConfig      *oauth2.Config
	userInfoEndpoint string
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithUserInfoEndpoint points user info lookups at another API base (tests).
func WithUserInfoEndpoint(u string) Option {
	return func(s *AuthService) { s.userInfoEndpoint = u }
}

// NewAuthService creates a new AuthService.
// The oauthConfig should be constructed by the caller (e.g., with GoogleConfig).
func NewAuthService(oauthConfig *oauth2.Config, opts ...Option) *AuthService {
	s := &AuthService{oauthConfig: oauthConfig}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the OAuth2 config.
func (s *AuthService) Config() *oauth2.Config {
	return s.oauthConfig
}

// GenerateAuthURL returns the URL to redirect the user to for Google consent.
// Offline access with forced approval makes Google return a refresh token.
func (s *AuthService) GenerateAuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges the authorization code for a token.
func (s *AuthService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return s.oauthConfig.Exchange(ctx, code)
}

// UserInfo returns the Google account the token belongs to.
func (s *AuthService) UserInfo(ctx context.Context, token *oauth2.Token) (*oauth2api.Userinfo, error) {
	opts := []option.ClientOption{option.WithTokenSource(s.oauthConfig.TokenSource(ctx, token))}
	if s.userInfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(s.userInfoEndpoint))
	}
	srv, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth2 service: %w", err)
	}
	info, err := srv.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	return info, nil
}

// ConnectGoogleDrive stores the Google tokens in the user's vault. A token
// without a refresh token keeps the previously stored refresh token, since
// Google only returns one on first consent.
func (s *AuthService) ConnectGoogleDrive(ctx context.Context, vault *TokenVault, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("no access token in response")
	}
	return vault.UpdateTokens(ctx, func(t *model.CloudTokens) {
		t.GoogleDriveToken = token.AccessToken
		if token.RefreshToken != "" {
			t.GoogleDriveRefreshToken = token.RefreshToken
		}
	})
}

// DriveOptions lets Google Drive clients refresh expired access tokens.
func (s *AuthService) DriveOptions() []googledrive.Option {
	return []googledrive.Option{googledrive.WithOAuthConfig(s.oauthConfig)}
}
