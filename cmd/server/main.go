/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Hi-Bridge server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (YAML file, environment, flags)
  2. Open the store (Postgres when DATABASE_URL is set, SQLite otherwise)
  3. Build directory (seeding the admin), rewards, voting and check-in services
  4. Start the push notification worker pool (when VAPID keys are set)
  5. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  APP_ENV, PORT, SESSION_SECRET, DATABASE_URL, SQLITE_PATH, UPLOAD_DIR,
  VAPID_PUBLIC_KEY, VAPID_PRIVATE_KEY, LOG_LEVEL, ALLOWED_ORIGINS,
  ENABLE_SCENARIOS, TRUST_PROXY, ADMIN_EMAIL, ADMIN_PASSWORD

ADMIN ACCOUNT:
  Registration only creates employees and managers. Set ADMIN_EMAIL and
  ADMIN_PASSWORD to seed the global admin on startup.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop notification workers
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/hibridge.db"

  # Run with in-memory database and demo scenarios
  ENABLE_SCENARIOS=true ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Configuration sources and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/hibridge/engine/api"
	"github.com/hibridge/engine/auth"
	"github.com/hibridge/engine/checkin"
	"github.com/hibridge/engine/config"
	"github.com/hibridge/engine/directory"
	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/notify"
	"github.com/hibridge/engine/rewards"
	"github.com/hibridge/engine/store/postgres"
	"github.com/hibridge/engine/store/sqlite"
	"github.com/hibridge/engine/voting"
)

// backend is what both SQL stores provide.
type backend interface {
	generic.TxStore
	Reset(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Store.SQLitePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer store.Close()

	// Notifications
	subs := notify.NewSubscriptions(store)
	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Push.Enabled() {
		pool := notify.NewWorkerPool(cfg.Push.WorkerPoolSize, cfg.Push.QueueSize, subs, &webpush.Options{
			Subscriber:      cfg.Push.Subject,
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			TTL:             cfg.Push.TTL,
		}, logger)
		pool.Start(ctx)
		notifier = notify.Multi{notifier, pool}
		logger.Info("web push enabled", "workers", cfg.Push.WorkerPoolSize)
	}

	// Domain services
	locks := generic.NewKeyedMutex()
	dir := directory.New(store, logger)
	if cfg.Admin.Email != "" {
		hash, err := auth.HashPassword(cfg.Admin.Password)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		admin, err := dir.SeedAdmin(ctx, cfg.Admin.Email, hash)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		logger.Info("admin account ready", "user_id", admin.ID)
	}
	rw := rewards.NewService(store, dir,
		rewards.WithNotifier(notifier),
		rewards.WithLocks(locks),
		rewards.WithLogger(logger),
	)
	votes := voting.NewAggregator(store, dir,
		voting.WithNotifier(notifier),
		voting.WithLogger(logger),
	)
	photos, err := checkin.NewDiskPhotoStore(cfg.Uploads.Dir)
	if err != nil {
		return fmt.Errorf("initialize uploads: %w", err)
	}
	checkins := checkin.NewService(dir, rw, photos,
		checkin.WithNotifier(notifier),
		checkin.WithLogger(logger),
	)

	// Initialize handler
	handler := api.NewHandler(api.Deps{
		Directory:     dir,
		Rewards:       rw,
		Votes:         votes,
		CheckIns:      checkins,
		Subscriptions: subs,
		Store:         store,
		Sessions: api.SessionConfig{
			Secret:     cfg.Session.Secret,
			TTL:        cfg.Session.TTL,
			CookieName: cfg.Session.CookieName,
			Secure:     cfg.Production(),
		},
		VAPIDPublicKey: cfg.Push.PublicKey,
		Logger:         logger,
	})

	// Create router
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		TrustProxy:      cfg.Server.TrustProxy,
		UploadsDir:      cfg.Uploads.Dir,
		EnableScenarios: cfg.Server.EnableScenarios,
		Logger:          logger,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port, "env", cfg.Env, "scenarios", cfg.Server.EnableScenarios)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (backend, error) {
	if cfg.DatabaseURL != "" {
		return postgres.New(ctx, cfg.DatabaseURL)
	}
	return sqlite.New(cfg.SQLitePath)
}
