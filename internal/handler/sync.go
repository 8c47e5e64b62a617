package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/adem9445/iub-recorder/backend/internal/model"
	"github.com/adem9445/iub-recorder/backend/internal/sessionsync"
)

// SyncHandler reports synchronization state.
type SyncHandler struct {
	syncers   *sessionsync.Registry
	jwtSecret string
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(syncers *sessionsync.Registry, jwtSecret string) *SyncHandler {
	return &SyncHandler{syncers: syncers, jwtSecret: jwtSecret}
}

// ProviderResponse is the body of GET /sync/provider.
type ProviderResponse struct {
	Provider model.Provider `json:"provider"`
}

// GetProvider returns the active cloud provider.
func (h *SyncHandler) GetProvider(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}
	return jsonResponse(http.StatusOK, ProviderResponse{Provider: h.syncers.Get(userID).GetActiveProvider(ctx)})
}

// GetMeta returns the last sync outcome, or null if nothing was synced yet.
func (h *SyncHandler) GetMeta(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}

	meta, err := h.syncers.Get(userID).GetCloudSyncMeta(ctx)
	if err != nil {
		fmt.Printf("GetCloudSyncMeta error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to read sync status"), nil
	}
	return jsonResponse(http.StatusOK, meta)
}
