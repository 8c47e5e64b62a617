package onedrive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adem9445/iub-recorder/backend/internal/cloud"
	"github.com/adem9445/iub-recorder/backend/internal/model"
)

func newTestClient(ts *httptest.Server, settings model.CloudSettings, token string) *Client {
	c := NewClient(context.Background(), settings, model.CloudTokens{OneDriveToken: token},
		WithBaseURL(ts.URL+"/root:"), WithHTTPClient(ts.Client()))
	c.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return c
}

func TestClient_ContentURL(t *testing.T) {
	c := NewClient(context.Background(), model.CloudSettings{OneDrivePath: "My Files", FileName: "s.json"},
		model.CloudTokens{OneDriveToken: "x"})
	want := DefaultBaseURL + "/My%20Files/s.json:/content"
	if got := c.contentURL(); got != want {
		t.Errorf("contentURL = %q, want %q", got, want)
	}

	d := NewClient(context.Background(), model.CloudSettings{}, model.CloudTokens{})
	if got := d.RemotePath(); got != "/Documents/IUB-Recorder/"+model.DefaultFileName {
		t.Errorf("default RemotePath = %q", got)
	}
}

func TestClient_LoadSessions(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantLen int
		wantErr string
	}{
		{"document", http.StatusOK, `{"version":1,"sessions":[{"id":1},{"id":2}]}`, 2, ""},
		{"bare array", http.StatusOK, `[{"id":1}]`, 1, ""},
		{"not found", http.StatusNotFound, `{"error":{"code":"itemNotFound","message":"nope"}}`, 0, ""},
		{"expired token", http.StatusUnauthorized, `{"error":{"code":"InvalidAuthenticationToken","message":"Access token has expired."}}`, 0, "Access token has expired."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotAuth string
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.EscapedPath()
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer ts.Close()

			got, err := newTestClient(ts, model.CloudSettings{FileName: "s.json"}, "tok").LoadSessions(context.Background())
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadSessions failed: %v", err)
			}
			if got == nil || len(got) != tt.wantLen {
				t.Errorf("expected %d sessions, got %#v", tt.wantLen, got)
			}
			if gotPath != "/root:/Documents/IUB-Recorder/s.json:/content" {
				t.Errorf("path = %q", gotPath)
			}
			if gotAuth != "Bearer tok" {
				t.Errorf("Authorization = %q", gotAuth)
			}
		})
	}
}

func TestClient_SaveSessions(t *testing.T) {
	var method, contentType string
	var payload cloud.Payload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"item"}`)
	}))
	defer ts.Close()

	res, err := newTestClient(ts, model.CloudSettings{}, "tok").SaveSessions(context.Background(), []model.Session{{ID: 9}})
	if err != nil {
		t.Fatalf("SaveSessions failed: %v", err)
	}
	if !res.Success || res.Status != http.StatusCreated {
		t.Errorf("unexpected result %+v", res)
	}
	if method != http.MethodPut || contentType != "application/json" {
		t.Errorf("unexpected request %s %s", method, contentType)
	}
	if payload.UpdatedAt != "2024-05-06T07:08:09.000Z" || len(payload.Sessions) != 1 || payload.Sessions[0].ID != 9 {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestClient_SaveSessions_Failure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"code":"accessDenied","message":"Access denied"}}`)
	}))
	defer ts.Close()

	_, err := newTestClient(ts, model.CloudSettings{}, "tok").SaveSessions(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "(403): Access denied") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestClient_Unconfigured(t *testing.T) {
	c := NewClient(context.Background(), model.CloudSettings{}, model.CloudTokens{})
	if c.IsConfigured() {
		t.Fatal("expected unconfigured client")
	}
	res, err := c.SaveSessions(context.Background(), nil)
	if err != nil || !res.Skipped || res.Reason != cloud.ReasonMissingToken {
		t.Errorf("unexpected save result %+v, %v", res, err)
	}
	if got, err := c.LoadSessions(context.Background()); got != nil || err != nil {
		t.Errorf("expected nil, nil; got %v, %v", got, err)
	}
}
