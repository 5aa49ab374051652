package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/hotelsync/internal/auth"
	"github.com/goevery/hotelsync/internal/broadcaster"
	"github.com/goevery/hotelsync/internal/handler"
	"github.com/goevery/hotelsync/internal/logging"
	"github.com/goevery/hotelsync/internal/persistence"
	"github.com/goevery/hotelsync/internal/persistence/memory"
	"github.com/goevery/hotelsync/internal/persistence/mongodb"
	"github.com/goevery/hotelsync/internal/server"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type App struct {
	logger            *zap.Logger
	settings          Settings
	persistenceEngine persistence.Engine
	websocketServer   *server.WebSocketServer
	restServer        *server.RESTServer
}

func NewApp(logger *zap.Logger, settings Settings, persistenceEngine persistence.Engine) *App {
	originChecker := server.NewOriginChecker(settings.AllowedOrigins...)
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       originChecker.Check,
		EnableCompression: true,
	}

	authenticator := auth.NewAuthenticator(settings.JWTSecret, settings.APIKeys, settings.ConnectionTokenTTL)
	sessionStore := auth.NewSessionStore([]byte(settings.SessionKey), settings.SecureCookies)

	registry := broadcaster.NewInMemoryRegistry(logger)

	heartbeatHandler := handler.NewHeartbeatHandler()
	subscriptionHandler := handler.NewSubscriptionHandler(registry)
	publishHandler := handler.NewPublishHandler(persistenceEngine, registry)
	authHandler := handler.NewAuthHandler(authenticator)
	tokenHandler := handler.NewTokenHandler(authenticator)
	historyHandler := handler.NewHistoryHandler(persistenceEngine)

	router := server.NewRouter(
		logger,
		heartbeatHandler,
		subscriptionHandler,
		publishHandler,
	)

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		authenticator,
		registry,
		router,
	)
	restServer := server.NewRESTServer(
		logger,
		authenticator,
		sessionStore,
		authHandler,
		tokenHandler,
		publishHandler,
		historyHandler,
	)

	return &App{
		logger,
		settings,
		persistenceEngine,
		websocketServer,
		restServer,
	}
}

func (a *App) setup(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.persistenceEngine.Setup(setupCtx); err != nil {
		return fmt.Errorf("setup persistence engine: %w", err)
	}

	a.startHttpServer(ctx)

	return nil
}

func (a *App) startHttpServer(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter()
	if a.settings.BasePath != "" && a.settings.BasePath != "/" {
		router = router.PathPrefix(a.settings.BasePath).Subrouter()
	}

	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Fatal("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func newPersistenceEngine(logger *zap.Logger, settings Settings) (persistence.Engine, func(context.Context) error, error) {
	if settings.MongoURI == "" {
		logger.Warn("MONGO_URI not set, keeping event history in memory")

		return memory.NewPersistenceEngine(settings.HistoryCapacity), func(context.Context) error { return nil }, nil
	}

	client, err := mongo.Connect(options.Client().ApplyURI(settings.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	return mongodb.NewPersistenceEngine(client), client.Disconnect, nil
}

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to parse settings from environment:", err)
		os.Exit(1)
	}

	logger, err := logging.New(settings.LogEncoding)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	persistenceEngine, closePersistence, err := newPersistenceEngine(logger, settings)
	if err != nil {
		logger.Fatal("failed to create persistence engine", zap.Error(err))
	}
	defer closePersistence(context.Background())

	app := NewApp(logger, settings, persistenceEngine)

	err = app.setup(ctx)
	if err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}
}
