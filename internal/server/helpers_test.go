package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goevery/hotelsync/internal/auth"
	"github.com/goevery/hotelsync/internal/broadcaster"
	"github.com/goevery/hotelsync/internal/handler"
	"github.com/goevery/hotelsync/internal/persistence/memory"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "test-secret"
	testAPIKey = "test-api-key"
)

type testBackend struct {
	server        *httptest.Server
	authenticator *auth.Authenticator
	registry      *broadcaster.InMemoryRegistry
	engine        *memory.PersistenceEngine
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	logger := zap.NewNop()
	authenticator := auth.NewAuthenticator(testSecret, []string{testAPIKey}, time.Minute)
	sessionStore := auth.NewSessionStore([]byte("0123456789abcdef0123456789abcdef"), false)
	registry := broadcaster.NewInMemoryRegistry(logger)
	engine := memory.NewPersistenceEngine(0)

	publishHandler := handler.NewPublishHandler(engine, registry)

	router := NewRouter(
		logger,
		handler.NewHeartbeatHandler(),
		handler.NewSubscriptionHandler(registry),
		publishHandler,
	)

	wsServer := NewWebSocketServer(logger, &websocket.Upgrader{}, authenticator, registry, router)
	restServer := NewRESTServer(
		logger,
		authenticator,
		sessionStore,
		handler.NewAuthHandler(authenticator),
		handler.NewTokenHandler(authenticator),
		publishHandler,
		handler.NewHistoryHandler(engine),
	)

	mainRouter := mux.NewRouter()
	wsServer.Register(mainRouter)
	restServer.Register(mainRouter)

	server := httptest.NewServer(mainRouter)
	t.Cleanup(server.Close)

	return &testBackend{
		server,
		authenticator,
		registry,
		engine,
	}
}

func signStaffToken(t *testing.T, channels []string, scope ...string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":                "test-user",
		"exp":                time.Now().Add(time.Hour).Unix(),
		"iat":                time.Now().Unix(),
		"aud":                auth.StaffAudience,
		"role":               "chef",
		"authorizedChannels": channels,
		"scope":              scope,
	})

	tokenString, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	return tokenString
}
