package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/adem9445/iub-recorder/backend/internal/auth"
	"github.com/adem9445/iub-recorder/backend/internal/crypto"
	"github.com/adem9445/iub-recorder/backend/internal/model"
	"github.com/adem9445/iub-recorder/backend/internal/sessionsync"
)

// SettingsHandler manages the cloud settings and tokens. Every change
// re-initializes the user's syncer so the next operation uses it.
type SettingsHandler struct {
	syncers   *sessionsync.Registry
	encryptor crypto.Encryptor
	jwtSecret string
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(syncers *sessionsync.Registry, encryptor crypto.Encryptor, jwtSecret string) *SettingsHandler {
	return &SettingsHandler{syncers: syncers, encryptor: encryptor, jwtSecret: jwtSecret}
}

// GetSettings returns the stored cloud settings.
func (h *SettingsHandler) GetSettings(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}

	settings, err := h.syncers.Get(userID).Store().ReadSettings(ctx)
	if err != nil {
		fmt.Printf("ReadSettings error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to read settings"), nil
	}
	return jsonResponse(http.StatusOK, settings)
}

// UpdateSettings applies the fields present in the body to the stored settings.
func (h *SettingsHandler) UpdateSettings(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}

	st := h.syncers.Get(userID).Store()
	settings, err := st.ReadSettings(ctx)
	if err != nil {
		fmt.Printf("ReadSettings error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to read settings"), nil
	}
	if err := json.Unmarshal([]byte(req.Body), &settings); err != nil {
		return textResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if settings.Provider == "" {
		settings.Provider = model.ProviderLocal
	}
	if p := model.ParseProvider(string(settings.Provider)); p != settings.Provider {
		return textResponse(http.StatusBadRequest, fmt.Sprintf("Unknown provider %q", settings.Provider)), nil
	}
	if settings.FileName == "" {
		settings.FileName = model.DefaultFileName
	}

	if err := st.WriteSettings(ctx, settings); err != nil {
		fmt.Printf("WriteSettings error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to save settings"), nil
	}
	h.reinitialize(ctx, userID)
	return jsonResponse(http.StatusOK, settings)
}

// TokenStatus reports which tokens are stored without revealing them.
type TokenStatus struct {
	Dropbox            bool `json:"dropbox"`
	OneDrive           bool `json:"onedrive"`
	GoogleDrive        bool `json:"gdrive"`
	GoogleDriveRefresh bool `json:"gdriveRefresh"`
}

func tokenStatus(t model.CloudTokens) TokenStatus {
	return TokenStatus{
		Dropbox:            t.DropboxToken != "",
		OneDrive:           t.OneDriveToken != "",
		GoogleDrive:        t.GoogleDriveToken != "",
		GoogleDriveRefresh: t.GoogleDriveRefreshToken != "",
	}
}

// GetTokens returns which cloud tokens are configured.
func (h *SettingsHandler) GetTokens(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}

	tokens, err := h.vault(userID).ReadTokens(ctx)
	if err != nil {
		fmt.Printf("ReadTokens error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to read tokens"), nil
	}
	return jsonResponse(http.StatusOK, tokenStatus(tokens))
}

// tokenPatch holds the tokens present in an update body.
type tokenPatch struct {
	DropboxToken            *string `json:"dropboxToken"`
	OneDriveToken           *string `json:"oneDriveToken"`
	GoogleDriveToken        *string `json:"googleDriveToken"`
	GoogleDriveRefreshToken *string `json:"googleDriveRefreshToken"`
}

func (p tokenPatch) apply(t *model.CloudTokens) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&t.DropboxToken, p.DropboxToken)
	set(&t.OneDriveToken, p.OneDriveToken)
	set(&t.GoogleDriveToken, p.GoogleDriveToken)
	set(&t.GoogleDriveRefreshToken, p.GoogleDriveRefreshToken)
}

// UpdateTokens stores the tokens present in the body. Omitted tokens are
// kept and empty strings clear them.
func (h *SettingsHandler) UpdateTokens(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return unauthorized()
	}

	var patch tokenPatch
	if err := json.Unmarshal([]byte(req.Body), &patch); err != nil {
		return textResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	vault := h.vault(userID)
	if err := vault.UpdateTokens(ctx, patch.apply); err != nil {
		fmt.Printf("UpdateTokens error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to save tokens"), nil
	}
	h.reinitialize(ctx, userID)

	tokens, err := vault.ReadTokens(ctx)
	if err != nil {
		fmt.Printf("ReadTokens error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to read tokens"), nil
	}
	return jsonResponse(http.StatusOK, tokenStatus(tokens))
}

func (h *SettingsHandler) vault(userID string) *auth.TokenVault {
	return auth.NewTokenVault(h.syncers.Get(userID).Store(), h.encryptor)
}

func (h *SettingsHandler) reinitialize(ctx context.Context, userID string) {
	if err := h.syncers.Reinitialize(ctx, userID); err != nil {
		fmt.Printf("Reinitialize error for user %s: %v\n", userID, err)
	}
}
