package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/adem9445/iub-recorder/backend/internal/model"
	"github.com/adem9445/iub-recorder/backend/internal/sessionsync"
	"github.com/adem9445/iub-recorder/backend/internal/store"
)

// SessionsHandler serves the user's session list.
type SessionsHandler struct {
	syncers   *sessionsync.Registry
	jwtSecret string
}

// NewSessionsHandler creates a new SessionsHandler.
func NewSessionsHandler(syncers *sessionsync.Registry, jwtSecret string) *SessionsHandler {
	return &SessionsHandler{syncers: syncers, jwtSecret: jwtSecret}
}

// ListSessions returns the sessions, merged with the cloud copy when due.
// ?forceRemote=true skips the refresh interval.
func (h *SessionsHandler) ListSessions(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}

	force, _ := strconv.ParseBool(req.QueryStringParameters["forceRemote"])
	sessions := h.syncers.Get(userID).LoadSessions(ctx, sessionsync.LoadOptions{ForceRemote: force})
	return jsonResponse(http.StatusOK, sessions)
}

// SaveSessions replaces the session list. The body must be a JSON array.
func (h *SessionsHandler) SaveSessions(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}

	var sessions []model.Session
	if err := json.Unmarshal([]byte(req.Body), &sessions); err != nil || sessions == nil {
		return textResponse(http.StatusBadRequest, "Invalid request body: expected a JSON array of sessions"), nil
	}

	result := h.syncers.Get(userID).SaveSessions(ctx, sessions)
	return jsonResponse(http.StatusOK, result)
}

// CleanupSessions keeps the newest ?keep=N sessions (default 3).
func (h *SessionsHandler) CleanupSessions(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}

	keep := sessionsync.DefaultKeepSessions
	if raw := req.QueryStringParameters["keep"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return textResponse(http.StatusBadRequest, fmt.Sprintf("Invalid keep value %q", raw)), nil
		}
		keep = n
	}

	result := h.syncers.Get(userID).CleanupOldSessions(ctx, keep)
	return jsonResponse(http.StatusOK, result)
}

// UsageResponse is the body of GET /storage/usage.
type UsageResponse struct {
	Usage   store.Usage `json:"usage"`
	Warning bool        `json:"warning"`
	Message string      `json:"message,omitempty"`
}

// StorageUsage reports how much of the quota the user occupies.
func (h *SessionsHandler) StorageUsage(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}

	usage, err := h.syncers.Get(userID).Usage(ctx)
	if err != nil {
		fmt.Printf("Usage error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to measure storage usage"), nil
	}

	resp := UsageResponse{Usage: usage, Warning: usage.Warning()}
	if resp.Warning {
		resp.Message = fmt.Sprintf("Storage is %.1f%% full (%.2f MB). Consider cleaning up old sessions.", usage.PercentUsed, usage.MB)
	}
	return jsonResponse(http.StatusOK, resp)
}

// AutoCleanup trims old sessions when storage is critically full.
func (h *SessionsHandler) AutoCleanup(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}

	result, err := h.syncers.Get(userID).AutoCleanupIfNeeded(ctx)
	if err != nil {
		fmt.Printf("AutoCleanupIfNeeded error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to run auto cleanup"), nil
	}
	return jsonResponse(http.StatusOK, result)
}
