package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/oauth2"

	"github.com/adem9445/iub-recorder/backend/internal/auth"
	"github.com/adem9445/iub-recorder/backend/internal/crypto"
	"github.com/adem9445/iub-recorder/backend/internal/sessionsync"
	"github.com/adem9445/iub-recorder/backend/internal/store"
)

// googleStub serves the token and userinfo endpoints.
func googleStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("code") != "auth-code" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"access-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/oauth2/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"google-42","email":"a@example.com","name":"A"}`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestAuthHandler(t *testing.T) (*AuthHandler, *sessionsync.Registry) {
	t.Helper()
	ts := googleStub(t)
	cfg := auth.GoogleConfig("client", "secret", "http://localhost:8080/auth/google/callback")
	cfg.Endpoint = oauth2.Endpoint{
		AuthURL:   ts.URL + "/auth",
		TokenURL:  ts.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	svc := auth.NewAuthService(cfg, auth.WithUserInfoEndpoint(ts.URL+"/"))

	enc := crypto.NewMockEncryptor()
	registry := sessionsync.NewRegistry(func(userID string) *sessionsync.Syncer {
		st := store.NewMemory(userID)
		return sessionsync.New(st, auth.NewTokenVault(st, enc))
	})
	return NewAuthHandler(svc, registry, enc, "test-secret"), registry
}

func setCookie(resp events.APIGatewayProxyResponse, name string) string {
	for _, c := range resp.MultiValueHeaders["Set-Cookie"] {
		if v, ok := strings.CutPrefix(c, name+"="); ok {
			value, _, _ := strings.Cut(v, ";")
			return value
		}
	}
	return ""
}

func TestLogin_SetsStateCookie(t *testing.T) {
	h, _ := newTestAuthHandler(t)

	resp, err := h.Login(context.Background(), events.APIGatewayProxyRequest{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected status 302, got %d", resp.StatusCode)
	}

	loc, err := url.Parse(resp.Headers["Location"])
	if err != nil {
		t.Fatalf("Invalid Location: %v", err)
	}
	state := setCookie(resp, stateCookieName)
	if state == "" || loc.Query().Get("state") != state {
		t.Errorf("State cookie %q does not match auth URL state %q", state, loc.Query().Get("state"))
	}
}

func TestCallback_RejectsBadState(t *testing.T) {
	h, _ := newTestAuthHandler(t)

	tests := []struct {
		name   string
		query  map[string]string
		cookie string
	}{
		{"missing state", map[string]string{"code": "auth-code"}, "oauth_state=abc"},
		{"no cookie", map[string]string{"code": "auth-code", "state": "abc"}, ""},
		{"mismatch", map[string]string{"code": "auth-code", "state": "abc"}, "oauth_state=xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := events.APIGatewayProxyRequest{
				QueryStringParameters: tt.query,
				Headers:               map[string]string{"Cookie": tt.cookie},
			}
			resp, _ := h.Callback(context.Background(), req)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestCallback_ConnectsGoogleDrive(t *testing.T) {
	h, registry := newTestAuthHandler(t)
	ctx := context.Background()

	req := events.APIGatewayProxyRequest{
		QueryStringParameters: map[string]string{"code": "auth-code", "state": "abc"},
		Headers:               map[string]string{"Cookie": "oauth_state=abc"},
	}
	resp, err := h.Callback(ctx, req)
	if err != nil {
		t.Fatalf("Callback failed: %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected status 302, got %d: %s", resp.StatusCode, resp.Body)
	}
	if !strings.HasSuffix(resp.Headers["Location"], "/?success=true") {
		t.Errorf("Unexpected redirect %q", resp.Headers["Location"])
	}

	session := setCookie(resp, sessionCookieName)
	userID, err := GetUserID(events.APIGatewayProxyRequest{
		Headers: map[string]string{"Cookie": sessionCookieName + "=" + session},
	}, "test-secret")
	if err != nil || userID != "google-42" {
		t.Fatalf("Expected session for google-42, got %q (%v)", userID, err)
	}

	vault := auth.NewTokenVault(registry.Get("google-42").Store(), crypto.NewMockEncryptor())
	tokens, err := vault.ReadTokens(ctx)
	if err != nil {
		t.Fatalf("ReadTokens failed: %v", err)
	}
	if tokens.GoogleDriveToken != "access-1" || tokens.GoogleDriveRefreshToken != "refresh-1" {
		t.Errorf("Unexpected stored tokens %v", tokens)
	}
}

func TestCallback_ExchangeFails(t *testing.T) {
	h, _ := newTestAuthHandler(t)
	req := events.APIGatewayProxyRequest{
		QueryStringParameters: map[string]string{"code": "bad-code", "state": "abc"},
		Headers:               map[string]string{"Cookie": "oauth_state=abc"},
	}
	resp, _ := h.Callback(context.Background(), req)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
}

func TestDemoLogin_IssuesSession(t *testing.T) {
	h, _ := newTestAuthHandler(t)

	resp, err := h.DemoLogin(context.Background(), events.APIGatewayProxyRequest{})
	if err != nil {
		t.Fatalf("DemoLogin failed: %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected status 302, got %d. Body: %s", resp.StatusCode, resp.Body)
	}

	userID, err := GetUserID(events.APIGatewayProxyRequest{
		Headers: map[string]string{"Authorization": "Bearer " + setCookie(resp, sessionCookieName)},
	}, "test-secret")
	if err != nil {
		t.Fatalf("Demo session is not valid: %v", err)
	}
	if !strings.HasPrefix(userID, "demo-user-") {
		t.Errorf("Unexpected demo user id %q", userID)
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	h, _ := newTestAuthHandler(t)
	resp, _ := h.Logout(context.Background(), events.APIGatewayProxyRequest{})
	cookies := resp.MultiValueHeaders["Set-Cookie"]
	if len(cookies) != 1 || !strings.Contains(cookies[0], "Max-Age=0") {
		t.Errorf("Expected an expired session cookie, got %v", cookies)
	}
}
