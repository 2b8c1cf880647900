package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	httpAdapter "github.com/lorrc/salon-notifications/internal/adapters/primary/http"
	mw "github.com/lorrc/salon-notifications/internal/adapters/primary/http/middleware"
	"github.com/lorrc/salon-notifications/internal/adapters/primary/websocket"
	"github.com/lorrc/salon-notifications/internal/adapters/secondary/postgres"
	"github.com/lorrc/salon-notifications/internal/adapters/secondary/push"
	"github.com/lorrc/salon-notifications/internal/auth"
	"github.com/lorrc/salon-notifications/internal/config"
	"github.com/lorrc/salon-notifications/internal/core/ports"
	"github.com/lorrc/salon-notifications/internal/core/services"
	"github.com/lorrc/salon-notifications/internal/infrastructure/logging"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	logger.Info("starting service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)
	logger.Debug("configuration loaded", "config", cfg.String())

	// 3. Schema migrations and database pool
	ctx := context.Background()
	if cfg.Migrations.OnStart {
		if err := postgres.RunMigrations(cfg.Migrations.Path, cfg.Database.URL, logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.Database.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database connection established")

	// 4. Security and realtime transport
	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL).WithIssuer(cfg.JWT.Issuer)
	hub := websocket.NewHub(logger)

	// 5. Dependency Injection (Wiring the Hexagon)
	notificationRepo := postgres.NewNotificationRepository(pool)
	staffRepo := postgres.NewStaffRepository(pool)
	pusher := newPushNotifier(ctx, cfg, logger)

	registry := services.NewConnectionRegistry(time.Now, logger)
	roomRouter := services.NewRoomRouter(
		registry,
		staffRepo,
		notificationRepo,
		hub,
		cfg.Notification.CatchUpLimit,
		time.Now,
		logger,
	)
	dispatcher := services.NewNotificationDispatcher(
		notificationRepo,
		registry,
		hub,
		pusher,
		services.DispatcherOptions{
			PersistTimeout: cfg.Notification.PersistTimeout,
			PushTimeout:    cfg.Push.Timeout,
		},
		logger,
	)
	reaper := services.NewLivenessReaper(
		registry,
		hub,
		cfg.Notification.ReaperInterval,
		cfg.Notification.ConnectionTimeout,
		time.Now,
		logger,
	)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		if err := reaper.Run(reaperCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("liveness reaper stopped", "error", err)
		}
	}()

	// Handlers (Primary Adapters)
	errorHandler := httpAdapter.NewErrorHandler(logger)
	notificationHandler := httpAdapter.NewNotificationHandler(dispatcher, errorHandler, logger)
	wsHandler := httpAdapter.NewWebSocketHandler(hub, roomRouter, dispatcher, cfg, logger)
	healthHandler := httpAdapter.NewHealthHandler(pool, registry, cfg.App.Version)

	// 6. Rate limiters
	var generalRateLimiter *mw.RateLimiter
	var upgradeRateLimiter *mw.RateLimitByKey
	if cfg.RateLimit.Enabled {
		rlConfig := mw.DefaultRateLimiterConfig()
		rlConfig.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rlConfig.BurstSize = cfg.RateLimit.BurstSize
		generalRateLimiter = mw.NewRateLimiter(rlConfig)
		upgradeRateLimiter = mw.NewRateLimitByKey(cfg.RateLimit.UpgradeRPS, cfg.RateLimit.UpgradeBurst)
	}

	// 7. Setup Router
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))
	r.Use(cors.Handler(corsOptions(cfg)))

	if generalRateLimiter != nil {
		r.Use(generalRateLimiter.Middleware)
	}

	// Health check endpoints (outside /api/v1 for standard probe paths)
	healthHandler.RegisterRoutes(r)

	r.Route("/api/v1", func(r chi.Router) {
		// Browsers cannot set headers on the handshake, so the token may come
		// from the query string here.
		r.Group(func(r chi.Router) {
			r.Use(mw.JWTMiddleware(tokenManager, true))
			if upgradeRateLimiter != nil {
				r.Use(upgradeRateLimiter.Middleware(mw.TenantKey))
			}
			r.Get("/ws", wsHandler.ServeHTTP)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.JWTMiddleware(tokenManager, false))
			r.Route("/notifications", notificationHandler.RegisterRoutes)
		})
	})

	// 8. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests, then stop background work in dependency order.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	stopReaper()
	<-reaperDone

	logger.Info("closing websocket clients", "clients", hub.GetClientCount())
	hub.Close()
	dispatcher.Shutdown()

	logger.Info("server shutdown complete")
}

// newPushNotifier returns the FCM notifier when credentials are configured and
// a log-only notifier otherwise. Both are wrapped with retries.
func newPushNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) ports.PushNotifier {
	var base ports.PushNotifier = push.NewLogNotifier(logger)

	if cfg.Push.CredentialsFile != "" {
		fcm, err := push.NewFCMNotifier(ctx, cfg.Push.CredentialsFile, cfg.Push.TopicPrefix, logger)
		if err != nil {
			logger.Error("push disabled: failed to initialize FCM", "error", err)
		} else {
			base = fcm
		}
	}

	return push.NewRetryingNotifier(base, push.RetryConfig{
		MaxRetries:     cfg.Push.MaxRetries,
		InitialBackoff: cfg.Push.InitialBackoff,
		MaxBackoff:     cfg.Push.MaxBackoff,
	}, logger)
}

func corsOptions(cfg *config.Config) cors.Options {
	origins := cfg.CORS.AllowedOrigins
	if len(origins) == 0 && cfg.IsDevelopment() {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           cfg.CORS.MaxAge,
	}
}
