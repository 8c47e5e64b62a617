// Package onedrive stores the session document in the user's OneDrive via
// Microsoft Graph path addressing.
package onedrive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adem9445/iub-recorder/backend/internal/cloud"
	"github.com/adem9445/iub-recorder/backend/internal/model"
)

const (
	DefaultBaseURL = "https://graph.microsoft.com/v1.0/me/drive/root:"
	DefaultPath    = "/Documents/IUB-Recorder"
)

// Client implements cloud.Client for OneDrive.
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

// WithBaseURL replaces the Graph drive root prefix.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets the transport the bearer client is layered on.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func NewClient(ctx context.Context, settings model.CloudSettings, tokens model.CloudTokens, opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		token:    strings.TrimSpace(tokens.OneDriveToken),
		path:     cloud.NormalizePath(settings.OneDrivePath, DefaultPath),
		fileName: cloud.FileName(settings.FileName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = cloud.BearerClient(ctx, c.httpClient, c.token)
	return c
}

func (c *Client) IsConfigured() bool {
	return c.token != ""
}

// RemotePath is the full drive path of the session document.
func (c *Client) RemotePath() string {
	return cloud.JoinPath(c.path, c.fileName)
}

// contentURL addresses the document's content by path, escaping spaces and
// other characters that are not valid in a URL path.
func (c *Client) contentURL() string {
	escaped := (&url.URL{Path: c.RemotePath()}).EscapedPath()
	return c.baseURL + escaped + ":/content"
}

// LoadSessions downloads the document. 404 means nothing was uploaded yet.
func (c *Client) LoadSessions(ctx context.Context) ([]model.Session, error) {
	if !c.IsConfigured() {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentURL(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onedrive download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []model.Session{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("onedrive download failed (%d): %s", resp.StatusCode, cloud.ErrorMessage(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("onedrive download failed: %w", err)
	}
	return cloud.ParseSessions(body)
}

// SaveSessions replaces the document content.
func (c *Client) SaveSessions(ctx context.Context, sessions []model.Session) (model.RemoteResult, error) {
	if !c.IsConfigured() {
		return cloud.MissingToken(), nil
	}

	body, err := cloud.EncodePayload(sessions, c.now())
	if err != nil {
		return model.RemoteResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contentURL(), bytes.NewReader(body))
	if err != nil {
		return model.RemoteResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.RemoteResult{}, fmt.Errorf("onedrive upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.RemoteResult{}, fmt.Errorf("onedrive upload failed (%d): %s", resp.StatusCode, cloud.ErrorMessage(resp))
	}
	return model.RemoteResult{Success: true, Status: resp.StatusCode}, nil
}
