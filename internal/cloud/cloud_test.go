package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adem9445/iub-recorder/backend/internal/model"
)

func TestParseSessions(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantIDs []int64
		wantErr bool
	}{
		{"empty body", "", nil, false},
		{"whitespace", "  \n", nil, false},
		{"bare array", `[{"id":1,"timestamp":5},{"id":2}]`, []int64{1, 2}, false},
		{"wrapped", `{"version":1,"updatedAt":"x","sessions":[{"id":3}]}`, []int64{3}, false},
		{"object without sessions", `{"version":1}`, nil, false},
		{"sessions not an array", `{"sessions":{"id":1}}`, nil, false},
		{"scalar", `42`, nil, false},
		{"null entries skipped", `[null,{"id":4}]`, []int64{4}, false},
		{"not json", `<html>oops</html>`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSessions([]byte(tt.in))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("expected ErrInvalidPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got == nil {
				t.Fatal("expected non-nil slice")
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("expected %d sessions, got %d", len(tt.wantIDs), len(got))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("session %d: id %d, want %d", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestEncodePayload(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 250_000_000, time.FixedZone("CET", 3600))
	body, err := EncodePayload([]model.Session{{ID: 1, Timestamp: 2}}, now)
	if err != nil {
		t.Fatalf("EncodePayload failed: %v", err)
	}

	var p struct {
		Version   int              `json:"version"`
		UpdatedAt string           `json:"updatedAt"`
		Sessions  []map[string]any `json:"sessions"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.Version != 1 {
		t.Errorf("version = %d, want 1", p.Version)
	}
	if p.UpdatedAt != "2024-03-01T11:30:00.250Z" {
		t.Errorf("updatedAt = %q", p.UpdatedAt)
	}
	if len(p.Sessions) != 1 {
		t.Errorf("expected 1 session, got %d", len(p.Sessions))
	}

	empty, _ := EncodePayload(nil, now)
	if !strings.Contains(string(empty), `"sessions":[]`) {
		t.Errorf("nil sessions should encode as []: %s", empty)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"graph style", `{"error":{"code":"InvalidAuthenticationToken","message":"Access token has expired."}}`, "Access token has expired."},
		{"message field", `{"message":"bad request"}`, "bad request"},
		{"dropbox style", `{"error_summary":"path/not_found/..","error":{".tag":"path"}}`, "path/not_found/.."},
		{"plain text", `Error in call to API function`, "Error in call to API function"},
		{"empty", ``, ""},
		{"string error", `{"error":"invalid_grant"}`, `{"error":"invalid_grant"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Body: io.NopCloser(strings.NewReader(tt.body))}
			if got := ErrorMessage(resp); got != tt.want {
				t.Errorf("ErrorMessage = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, fallback, want string
	}{
		{"", "/Apps/IUB-Recorder", "/Apps/IUB-Recorder"},
		{"   ", "/fallback", "/fallback"},
		{"Team/Recordings", "/x", "/Team/Recordings"},
		{"/Already/Absolute", "/x", "/Already/Absolute"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in, tt.fallback); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		folder, file, want string
	}{
		{"/Apps/IUB-Recorder", "s.json", "/Apps/IUB-Recorder/s.json"},
		{"/Apps/IUB-Recorder/", "s.json", "/Apps/IUB-Recorder/s.json"},
		{"//a///b//", "/s.json", "/a/b/s.json"},
	}
	for _, tt := range tests {
		if got := JoinPath(tt.folder, tt.file); got != tt.want {
			t.Errorf("JoinPath(%q, %q) = %q, want %q", tt.folder, tt.file, got, tt.want)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("  "); got != model.DefaultFileName {
		t.Errorf("blank name should default, got %q", got)
	}
	if got := FileName(" custom.json "); got != "custom.json" {
		t.Errorf("expected trimmed name, got %q", got)
	}
}

func TestBearerClient_SetsAuthorization(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer ts.Close()

	c := BearerClient(context.Background(), ts.Client(), "tok-123")
	resp, err := c.Get(ts.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if got != "Bearer tok-123" {
		t.Errorf("Authorization = %q", got)
	}
}
