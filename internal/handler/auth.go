package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/adem9445/iub-recorder/backend/internal/auth"
	"github.com/adem9445/iub-recorder/backend/internal/crypto"
	"github.com/adem9445/iub-recorder/backend/internal/sessionsync"
)

const stateCookieName = "oauth_state"

// AuthHandler handles authentication requests.
type AuthHandler struct {
	authService *auth.AuthService
	syncers     *sessionsync.Registry
	encryptor   crypto.Encryptor
	jwtSecret   string
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *auth.AuthService, syncers *sessionsync.Registry, encryptor crypto.Encryptor, jwtSecret string) *AuthHandler {
	return &AuthHandler{authService: s, syncers: syncers, encryptor: encryptor, jwtSecret: jwtSecret}
}

// Login initiates the Google OAuth2 flow. The state is kept in a short-lived
// cookie and checked in Callback.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	state := uuid.NewString()
	url := h.authService.GenerateAuthURL(state)

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": url,
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {cookieHeader(stateCookieName, state, 600)},
		},
	}, nil
}

// Callback handles the OAuth2 callback from Google. It stores the Drive
// tokens in the user's vault and starts a session.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	state := req.QueryStringParameters["state"]
	if state == "" || state != cookie(req, stateCookieName) {
		return textResponse(http.StatusBadRequest, "Invalid state"), nil
	}

	code := req.QueryStringParameters["code"]
	if code == "" {
		return textResponse(http.StatusBadRequest, "Missing code"), nil
	}

	// Exchange code for token
	token, err := h.authService.ExchangeCode(ctx, code)
	if err != nil {
		fmt.Printf("ExchangeCode error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to exchange code"), nil
	}

	userinfo, err := h.authService.UserInfo(ctx, token)
	if err != nil {
		fmt.Printf("UserInfo error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to get user info"), nil
	}

	// Note: We use userinfo.Id (Google Subject ID) as UserID.
	userID := userinfo.Id

	syncer := h.syncers.Get(userID)
	vault := auth.NewTokenVault(syncer.Store(), h.encryptor)
	if err := h.authService.ConnectGoogleDrive(ctx, vault, token); err != nil {
		fmt.Printf("ConnectGoogleDrive error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to store Google Drive tokens"), nil
	}
	if err := syncer.Reinitialize(ctx); err != nil {
		fmt.Printf("Reinitialize error for user %s: %v\n", userID, err)
	}

	signedToken, err := h.signSession(userID, userinfo.Email, userinfo.Name, 24*time.Hour)
	if err != nil {
		return textResponse(http.StatusInternalServerError, "Failed to sign token"), nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": fmt.Sprintf("%s/?success=true", frontendURL()),
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {
				cookieHeader(sessionCookieName, signedToken, 86400),
				cookieHeader(stateCookieName, "", 0),
			},
		},
	}, nil
}

// DemoLogin issues a temporary JWT without Google OAuth. Demo users start
// with local-only storage.
func (h *AuthHandler) DemoLogin(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID := fmt.Sprintf("demo-user-%s", uuid.New().String())

	signedToken, err := h.signSession(userID, "demo@iub-recorder.local", "Demo User", time.Hour)
	if err != nil {
		return textResponse(http.StatusInternalServerError, "Failed to sign token"), nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": fmt.Sprintf("%s/?token=%s", frontendURL(), signedToken),
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {cookieHeader(sessionCookieName, signedToken, 3600)},
		},
	}, nil
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Body:       `{"success":true}`,
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {cookieHeader(sessionCookieName, "", 0)},
		},
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}, nil
}

func (h *AuthHandler) signSession(userID, email, name string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"name":  name,
		"exp":   time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.jwtSecret))
}
