// Package googledrive keeps the session document as a JSON file in Google
// Drive. The file is addressed by id; when only a parent folder is known the
// file is created on first save.
package googledrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/adem9445/iub-recorder/backend/internal/cloud"
	"github.com/adem9445/iub-recorder/backend/internal/model"
)

const jsonMimeType = "application/json"

// Client implements cloud.Client for Google Drive.
type Client struct {
	service  *drive.Service
	hasToken bool
	fileName string
	parentID string
	now      func() time.Time

	mu        sync.Mutex
	fileID    string
	createdID string
}

type config struct {
	httpClient  *http.Client
	endpoint    string
	oauthConfig *oauth2.Config
}

// Option customizes a Client.
type Option func(*config)

// WithHTTPClient sets the transport used beneath the OAuth layer.
func WithHTTPClient(h *http.Client) Option {
	return func(c *config) { c.httpClient = h }
}

// WithEndpoint overrides the Drive API base path (tests).
func WithEndpoint(u string) Option {
	return func(c *config) { c.endpoint = u }
}

// WithOAuthConfig enables refreshing the access token with the stored
// refresh token.
func WithOAuthConfig(cfg *oauth2.Config) Option {
	return func(c *config) { c.oauthConfig = cfg }
}

// NewClient creates a Drive client for the given settings and tokens.
func NewClient(ctx context.Context, settings model.CloudSettings, tokens model.CloudTokens, opts ...Option) (*Client, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	access := strings.TrimSpace(tokens.GoogleDriveToken)
	refresh := strings.TrimSpace(tokens.GoogleDriveRefreshToken)

	var httpClient *http.Client
	if refresh != "" && cfg.oauthConfig != nil {
		if cfg.httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.httpClient)
		}
		ts := cfg.oauthConfig.TokenSource(ctx, &oauth2.Token{AccessToken: access, RefreshToken: refresh})
		httpClient = oauth2.NewClient(ctx, ts)
	} else {
		httpClient = cloud.BearerClient(ctx, cfg.httpClient, access)
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(cfg.endpoint))
	}
	srv, err := drive.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create drive service: %w", err)
	}

	return &Client{
		service:  srv,
		hasToken: access != "" || (refresh != "" && cfg.oauthConfig != nil),
		fileName: cloud.FileName(settings.FileName),
		parentID: strings.TrimSpace(settings.GoogleDriveFolderID),
		fileID:   strings.TrimSpace(settings.GoogleDriveFileID),
		now:      time.Now,
	}, nil
}

// IsConfigured requires a credential and either a file id or a folder to
// create the file in.
func (c *Client) IsConfigured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasToken && (c.fileID != "" || c.parentID != "")
}

// CreatedFileID returns the id of a file this client created, or "" when
// it only ever used a configured id.
func (c *Client) CreatedFileID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdID
}

func (c *Client) currentFileID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileID
}

// LoadSessions downloads the file. Without a file id there is nothing to
// read yet.
func (c *Client) LoadSessions(ctx context.Context) ([]model.Session, error) {
	if !c.IsConfigured() {
		return nil, nil
	}
	fileID := c.currentFileID()
	if fileID == "" {
		return []model.Session{}, nil
	}

	resp, err := c.service.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			return []model.Session{}, nil
		}
		return nil, fmt.Errorf("google drive download failed %s", describe(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read file content: %w", err)
	}
	return cloud.ParseSessions(body)
}

// ensureFile returns the file id, creating an empty JSON file in the
// configured folder when none is known.
func (c *Client) ensureFile(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fileID != "" {
		return c.fileID, nil
	}

	f := &drive.File{Name: c.fileName, MimeType: jsonMimeType}
	if c.parentID != "" {
		f.Parents = []string{c.parentID}
	}
	res, err := c.service.Files.Create(f).SupportsAllDrives(true).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("google drive create failed %s", describe(err))
	}
	if res.Id == "" {
		return "", errors.New("google drive create failed: response has no file id")
	}
	c.fileID = res.Id
	c.createdID = res.Id
	return c.fileID, nil
}

// SaveSessions replaces the file content.
func (c *Client) SaveSessions(ctx context.Context, sessions []model.Session) (model.RemoteResult, error) {
	if !c.IsConfigured() {
		return cloud.MissingToken(), nil
	}

	fileID, err := c.ensureFile(ctx)
	if err != nil {
		return model.RemoteResult{}, err
	}
	body, err := cloud.EncodePayload(sessions, c.now())
	if err != nil {
		return model.RemoteResult{}, err
	}

	res, err := c.service.Files.Update(fileID, &drive.File{}).
		Media(bytes.NewReader(body), googleapi.ContentType(jsonMimeType)).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return model.RemoteResult{}, fmt.Errorf("google drive upload failed %s", describe(err))
	}
	return model.RemoteResult{Success: true, Status: res.HTTPStatusCode}, nil
}

func isNotFound(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusNotFound
	}
	return false
}

// describe renders "(code): message" for API errors.
func describe(err error) string {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		msg := gErr.Message
		if msg == "" {
			msg = strings.TrimSpace(gErr.Body)
		}
		return fmt.Sprintf("(%d): %s", gErr.Code, msg)
	}
	return ": " + err.Error()
}
