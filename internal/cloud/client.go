// Package cloud defines the contract every remote session backend
// implements and the wire format they share.
package cloud

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/adem9445/iub-recorder/backend/internal/model"
)

// ReasonMissingToken is reported when a save is attempted on an unconfigured client.
const ReasonMissingToken = "missing-token"

// ErrInvalidPayload is wrapped when the remote document is not valid JSON.
var ErrInvalidPayload = errors.New("invalid session payload")

// Client fetches and overwrites the single remote session document of one backend.
type Client interface {
	// IsConfigured reports whether the client has enough credentials and
	// location information to make requests.
	IsConfigured() bool

	// LoadSessions returns the remote sessions. A missing document yields an
	// empty list. An unconfigured client returns nil, nil.
	LoadSessions(ctx context.Context) ([]model.Session, error)

	// SaveSessions replaces the remote document. An unconfigured client
	// returns a skipped result without making a request.
	SaveSessions(ctx context.Context, sessions []model.Session) (model.RemoteResult, error)
}

// MissingToken is the result of saving through an unconfigured client.
func MissingToken() model.RemoteResult {
	return model.RemoteResult{Success: false, Skipped: true, Reason: ReasonMissingToken}
}

// BearerClient returns an HTTP client that attaches token as a bearer
// credential. base supplies the underlying transport; nil means http.DefaultClient.
func BearerClient(ctx context.Context, base *http.Client, token string) *http.Client {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}
