// Package dropbox stores the session document as a single file through the
// Dropbox content API.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adem9445/iub-recorder/backend/internal/cloud"
	"github.com/adem9445/iub-recorder/backend/internal/model"
)

const (
	DefaultContentURL = "https://content.dropboxapi.com"
	DefaultPath       = "/Apps/IUB-Recorder"
)

// Client implements cloud.Client for Dropbox.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	path       string
	fileName   string
	now        func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another content host (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the transport the bearer client is layered on.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a Dropbox client from the user's settings and tokens.
func NewClient(ctx context.Context, settings model.CloudSettings, tokens model.CloudTokens, opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultContentURL,
		token:    strings.TrimSpace(tokens.DropboxToken),
		path:     cloud.NormalizePath(settings.DropboxPath, DefaultPath),
		fileName: cloud.FileName(settings.FileName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = cloud.BearerClient(ctx, c.httpClient, c.token)
	return c
}

// IsConfigured reports whether a token is present.
func (c *Client) IsConfigured() bool {
	return c.token != ""
}

// RemotePath is the full path of the session document.
func (c *Client) RemotePath() string {
	return cloud.JoinPath(c.path, c.fileName)
}

type apiArg struct {
	Path       string `json:"path"`
	Mode       string `json:"mode,omitempty"`
	Mute       bool   `json:"mute,omitempty"`
	Autorename *bool  `json:"autorename,omitempty"`
}

func (c *Client) argHeader(arg apiArg) (string, error) {
	b, err := json.Marshal(arg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// LoadSessions downloads the session document. Dropbox answers 409 when the
// path does not exist, which is treated as an empty remote.
func (c *Client) LoadSessions(ctx context.Context) ([]model.Session, error) {
	if !c.IsConfigured() {
		return nil, nil
	}

	sessions, err := c.download(ctx)
	if err != nil {
		return nil, fmt.Errorf("dropbox fetch error: %w", err)
	}
	return sessions, nil
}

func (c *Client) download(ctx context.Context) ([]model.Session, error) {
	arg, err := c.argHeader(apiArg{Path: c.RemotePath()})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/files/download", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Dropbox-API-Arg", arg)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return []model.Session{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dropbox download failed (%d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return cloud.ParseSessions(body)
}

// SaveSessions overwrites the session document.
func (c *Client) SaveSessions(ctx context.Context, sessions []model.Session) (model.RemoteResult, error) {
	if !c.IsConfigured() {
		return cloud.MissingToken(), nil
	}

	body, err := cloud.EncodePayload(sessions, c.now())
	if err != nil {
		return model.RemoteResult{}, err
	}
	autorename := false
	arg, err := c.argHeader(apiArg{Path: c.RemotePath(), Mode: "overwrite", Mute: true, Autorename: &autorename})
	if err != nil {
		return model.RemoteResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/files/upload", bytes.NewReader(body))
	if err != nil {
		return model.RemoteResult{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", arg)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.RemoteResult{}, fmt.Errorf("dropbox upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.RemoteResult{}, fmt.Errorf("dropbox upload failed (%d): %s", resp.StatusCode, cloud.ErrorMessage(resp))
	}
	return model.RemoteResult{Success: true, Status: resp.StatusCode}, nil
}
