package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"

	"github.com/adem9445/iub-recorder/backend/internal/auth"
	"github.com/adem9445/iub-recorder/backend/internal/crypto"
	"github.com/adem9445/iub-recorder/backend/internal/handler"
	"github.com/adem9445/iub-recorder/backend/internal/lease"
	"github.com/adem9445/iub-recorder/backend/internal/secret"
	"github.com/adem9445/iub-recorder/backend/internal/sessionsync"
	"github.com/adem9445/iub-recorder/backend/internal/store"
)

// Deps are the external services the application is built from. A nil
// Dynamo gives every user an in-memory store. Locker is optional and
// serializes cloud pushes across instances.
type Deps struct {
	Dynamo           store.DynamoAPI
	Locker           lease.Locker
	Encryptor        crypto.Encryptor
	AuthService      *auth.AuthService
	JWTSecret        string
	APIGatewaySecret string
}

// App holds the dependencies for the Lambda function.
type App struct {
	authHandler      *handler.AuthHandler
	sessionsHandler  *handler.SessionsHandler
	syncHandler      *handler.SyncHandler
	settingsHandler  *handler.SettingsHandler
	apiGatewaySecret string
	devMode          bool
}

// NewApp initializes the application dependencies from the environment.
func NewApp(ctx context.Context) *App {
	cfg := LoadConfig()

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}

	// DynamoDB Client
	var (
		dynamoClient store.DynamoAPI
		locker       lease.Locker
	)
	if cfg.MemoryStore {
		locker = lease.NewMemoryLocker()
		fmt.Println("Using in-memory store (DEV_MODE=true, MEMORY_STORE=true)")
	} else {
		client := dynamodb.NewFromConfig(awsCfg)
		dynamoClient = client
		locker = lease.NewDynamoLocker(client, cfg.LeaseTable)
	}

	// KMS Client
	var encryptor crypto.Encryptor
	if cfg.DevMode {
		encryptor = crypto.NewMockEncryptor()
		fmt.Println("Using MockEncryptor (DEV_MODE=true)")
	} else {
		encryptor = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
	}

	// ---------- Secret Resolver ----------
	var resolver secret.Resolver
	if cfg.DevMode {
		resolver = secret.NewEnvResolver()
		fmt.Println("Using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
		fmt.Println("Using SSMResolver (SSM Parameter Store)")
	}
	secrets := secret.NewCachingResolver(resolver)
	if err := secrets.Preload(ctx, cfg.GoogleClientSecretParam, cfg.JWTSecretParam, cfg.APIGatewaySecretParam); err != nil {
		fmt.Printf("Secret preload error: %v\n", err)
	}

	googleClientSecret := secret.Lookup(ctx, secrets, cfg.GoogleClientSecretParam, "")
	jwtSecret := secret.Lookup(ctx, secrets, cfg.JWTSecretParam, "default-dev-secret")
	apiGatewaySecret := secret.Lookup(ctx, secrets, cfg.APIGatewaySecretParam, "")

	oauthConfig := auth.GoogleConfig(cfg.GoogleClientID, googleClientSecret, cfg.GoogleRedirectURL)

	return New(cfg, Deps{
		Dynamo:           dynamoClient,
		Locker:           locker,
		Encryptor:        encryptor,
		AuthService:      auth.NewAuthService(oauthConfig),
		JWTSecret:        jwtSecret,
		APIGatewaySecret: apiGatewaySecret,
	})
}

// New wires the handlers.
func New(cfg Config, d Deps) *App {
	clientFactory := sessionsync.DefaultClientFactory(d.AuthService.DriveOptions()...)

	storeFor := func(userID string) *store.Store {
		// Demo users never persist.
		if d.Dynamo == nil || strings.HasPrefix(userID, "demo-user-") {
			return store.NewMemory(userID)
		}
		return store.New(d.Dynamo, cfg.StoreTable, userID)
	}

	opts := []sessionsync.Option{
		sessionsync.WithClientFactory(clientFactory),
		sessionsync.WithRefreshInterval(cfg.RefreshInterval),
		sessionsync.WithRemoteTimeout(cfg.RemoteTimeout),
		sessionsync.WithQuota(cfg.QuotaBytes),
	}
	if d.Locker != nil {
		opts = append(opts, sessionsync.WithLease(d.Locker, "instance-"+uuid.NewString()))
	}

	registry := sessionsync.NewRegistry(func(userID string) *sessionsync.Syncer {
		st := storeFor(userID)
		return sessionsync.New(st, auth.NewTokenVault(st, d.Encryptor), opts...)
	})

	return &App{
		authHandler:      handler.NewAuthHandler(d.AuthService, registry, d.Encryptor, d.JWTSecret),
		sessionsHandler:  handler.NewSessionsHandler(registry, d.JWTSecret),
		syncHandler:      handler.NewSyncHandler(registry, d.JWTSecret),
		settingsHandler:  handler.NewSettingsHandler(registry, d.Encryptor, d.JWTSecret),
		apiGatewaySecret: d.APIGatewaySecret,
		devMode:          cfg.DevMode,
	}
}

type handlerFunc func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

func (app *App) route(method, path string) handlerFunc {
	switch method + " " + path {
	case "GET /auth/google/login":
		return app.authHandler.Login
	case "GET /auth/google/callback":
		return app.authHandler.Callback
	case "GET /auth/demo-login":
		return app.authHandler.DemoLogin
	case "POST /auth/logout":
		return app.authHandler.Logout

	case "GET /sessions":
		return app.sessionsHandler.ListSessions
	case "PUT /sessions":
		return app.sessionsHandler.SaveSessions
	case "POST /sessions/cleanup":
		return app.sessionsHandler.CleanupSessions
	case "GET /storage/usage":
		return app.sessionsHandler.StorageUsage
	case "POST /storage/auto-cleanup":
		return app.sessionsHandler.AutoCleanup

	case "GET /sync/provider":
		return app.syncHandler.GetProvider
	case "GET /sync/meta":
		return app.syncHandler.GetMeta

	case "GET /settings":
		return app.settingsHandler.GetSettings
	case "PUT /settings":
		return app.settingsHandler.UpdateSettings
	case "GET /settings/tokens":
		return app.settingsHandler.GetTokens
	case "PUT /settings/tokens":
		return app.settingsHandler.UpdateTokens
	}
	return nil
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	fmt.Printf("Request: %s %s\n", method, path)

	// CORS Preflight
	if method == "OPTIONS" {
		return corsResponse(events.APIGatewayProxyResponse{StatusCode: 204}), nil
	}

	// Security: Verify Request Origin (CloudFront only)
	if !app.devMode {
		if req.Headers["X-Origin-Verify"] != app.apiGatewaySecret && req.Headers["x-origin-verify"] != app.apiGatewaySecret {
			fmt.Printf("Security Block: Missing or invalid X-Origin-Verify header\n")
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusForbidden,
				Body:       "Forbidden: Access denied",
			}, nil
		}
	}

	// Strip /api prefix if present (for CloudFront proxying)
	path = strings.TrimPrefix(path, "/api")
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	if h := app.route(method, path); h != nil {
		return corsResponse(must(h(ctx, req))), nil
	}

	return corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}), nil
}

// corsResponse adds CORS headers to an API Gateway response.
func corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = os.Getenv("FRONTEND_URL")
	if resp.Headers["Access-Control-Allow-Origin"] == "" {
		resp.Headers["Access-Control-Allow-Origin"] = "http://localhost:3000"
	}
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, ignoring the error.
func must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		fmt.Printf("Handler error: %v\n", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
