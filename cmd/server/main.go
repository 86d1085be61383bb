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

	"edupulse-sync-server/internal/collaborator"
	"edupulse-sync-server/internal/config"
	"edupulse-sync-server/internal/handler"
	"edupulse-sync-server/internal/ledger"
	"edupulse-sync-server/internal/logger"
	"edupulse-sync-server/internal/queue"
	"edupulse-sync-server/internal/repository"
	"edupulse-sync-server/internal/service"
	"edupulse-sync-server/internal/validation"
	"edupulse-sync-server/internal/version"
	"edupulse-sync-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Server.Env, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(100000))

	store, ping := openStore(cfg, log)
	health.AddReadinessCheck("database", healthcheck.Timeout(ping, 2*time.Second))

	identity := collaborator.NewDeviceIdentity(store.Devices, cfg.Collaborators.IdentityCacheTTL)
	collab := service.Collaborators{
		Identity:     identity,
		Quizzes:      collaborator.PermissiveQuizCatalog{},
		Gamification: collaborator.NoopGamificationLedger{},
	}
	if cfg.Collaborators.QuizCatalogURL != "" {
		collab.Quizzes = collaborator.NewHTTPQuizCatalog(
			cfg.Collaborators.QuizCatalogURL,
			cfg.Collaborators.Timeout,
			cfg.Collaborators.IdentityCacheTTL,
		)
	} else {
		log.Warn("QUIZ_CATALOG_URL not set, quiz answers are accepted without catalog checks")
	}
	if cfg.Collaborators.GamificationURL != "" {
		collab.Gamification = collaborator.NewHTTPGamificationLedger(cfg.Collaborators.GamificationURL, cfg.Collaborators.Timeout)
	} else {
		log.Warn("GAMIFICATION_URL not set, points deltas are dropped")
	}

	validator := validation.New(cfg.Sync.ClockSkew)
	tracker := version.NewTracker(store.Entities, cfg.Sync.LockWait)
	changeLedger := ledger.New(store.Ledger)
	deferQueue := queue.New(store.Deferred, cfg.Sync.DeferAttempts, cfg.Sync.RetryInitialInterval)

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		cfg.WebSocket.MaxMessageSize,
		log,
	)
	go wsManager.Run()

	settingsService := service.NewSettingsService(store.Settings, validator, cfg.Sync.DefaultCadence)
	deviceService := service.NewDeviceService(store.Devices, identity, validator)
	syncService := service.NewSyncService(
		store,
		tracker,
		changeLedger,
		deferQueue,
		validator,
		collab,
		settingsService,
		wsManager,
		service.SyncOptions{
			TokenTTL:     cfg.Sync.TokenTTL,
			TokenSecret:  cfg.Sync.TokenSecret,
			Workers:      cfg.Sync.Workers,
			HistoryLimit: cfg.Sync.HistoryLimit,
		},
		log,
	)
	conflictService := service.NewConflictService(store.Conflicts, syncService, log)

	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(syncService, wsManager))

	handlers := handler.Handlers{
		Sync:     handler.NewSyncHandler(syncService, conflictService, deviceService),
		Settings: handler.NewSettingsHandler(settingsService),
		Device:   handler.NewDeviceHandler(deviceService),
		WebSocket: handler.NewWebSocketHandler(
			wsManager,
			identity,
			cfg.JWT.Secret,
			cfg.WebSocket.ReadBufferSize,
			cfg.WebSocket.WriteBufferSize,
			log,
		),
		Live:  health.LiveEndpoint,
		Ready: health.ReadyEndpoint,
	}
	if cfg.Metrics.Enabled {
		handlers.Metrics = promhttp.Handler()
	}

	r := handler.NewRouter(handlers, cfg.JWT.Secret, cfg.CORS, log)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("Starting EduPulse Sync Server", "addr", addr, "env", cfg.Server.Env, "db_driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wsManager.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
		return
	}

	log.Info("Server stopped gracefully")
}

// openStore returns the configured store and a readiness probe for it.
func openStore(cfg *config.Config, log *zap.SugaredLogger) (*repository.Store, healthcheck.Check) {
	if cfg.Database.Driver == "memory" {
		log.Warn("Using in-memory store, state is lost on restart")
		return repository.NewMemoryStore(), func() error { return nil }
	}

	client, err := kivik.New("couch", cfg.Database.URL())
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repository.EnsureDatabase(ctx, client, cfg.Database.Name); err != nil {
		log.Fatalf("Failed to prepare database: %v", err)
	}
	log.Infow("Connected to CouchDB", "host", cfg.Database.Host, "port", cfg.Database.Port, "db", cfg.Database.Name)

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		up, err := client.Ping(ctx)
		if err != nil {
			return err
		}
		if !up {
			return errors.New("couchdb is not responding")
		}
		return nil
	}
	return repository.NewCouchStore(client, cfg.Database.Name), ping
}
