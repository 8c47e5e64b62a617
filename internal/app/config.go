package app

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/adem9445/iub-recorder/backend/internal/lease"
	"github.com/adem9445/iub-recorder/backend/internal/sessionsync"
	"github.com/adem9445/iub-recorder/backend/internal/store"
)

// Config is read from the environment. Secrets are not part of it: only the
// names of their SSM parameters are.
type Config struct {
	DevMode bool
	// MemoryStore keeps all data in process instead of DynamoDB (DEV_MODE only).
	MemoryStore bool

	StoreTable string
	LeaseTable string
	KMSKeyID   string

	GoogleClientID          string
	GoogleClientSecretParam string
	GoogleRedirectURL       string
	JWTSecretParam          string
	APIGatewaySecretParam   string
	FrontendURL             string

	RefreshInterval time.Duration
	RemoteTimeout   time.Duration
	QuotaBytes      int64
}

// LoadConfig reads the configuration from the environment, applying defaults.
func LoadConfig() Config {
	cfg := Config{
		DevMode:     os.Getenv("DEV_MODE") == "true",
		StoreTable:  getenv("STORE_TABLE", store.DefaultTableName),
		LeaseTable:  getenv("SYNC_LEASE_TABLE", lease.DefaultTableName),
		KMSKeyID:    getenv("KMS_KEY_ID", "alias/iub-recorder-token-key"),
		FrontendURL: getenv("FRONTEND_URL", "http://localhost:3000"),

		GoogleClientID:          os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecretParam: getenv("GOOGLE_CLIENT_SECRET_PARAM", "/iub-recorder/google-client-secret"),
		JWTSecretParam:          getenv("JWT_SECRET_PARAM", "/iub-recorder/jwt-secret"),
		APIGatewaySecretParam:   getenv("API_GATEWAY_SECRET_PARAM", "/iub-recorder/api-gateway-secret"),

		RefreshInterval: durationEnv("SYNC_REFRESH_INTERVAL", sessionsync.DefaultRefreshInterval),
		RemoteTimeout:   durationEnv("SYNC_REMOTE_TIMEOUT", sessionsync.DefaultRemoteTimeout),
		QuotaBytes:      int64Env("STORAGE_QUOTA_BYTES", store.DefaultQuotaBytes),
	}
	cfg.MemoryStore = cfg.DevMode && os.Getenv("MEMORY_STORE") == "true"

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		if cfg.DevMode {
			cfg.GoogleRedirectURL = "http://localhost:8080/auth/google/callback"
		} else {
			cfg.GoogleRedirectURL = cfg.FrontendURL + "/api/auth/google/callback"
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("WARNING: invalid %s=%q, using %s: %v", key, raw, fallback, err)
		return fallback
	}
	return d
}

func int64Env(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		log.Printf("WARNING: invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return n
}
