package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-hms/meridian-hms/internal/app"
	"github.com/meridian-hms/meridian-hms/internal/audit"
	"github.com/meridian-hms/meridian-hms/internal/auth"
	"github.com/meridian-hms/meridian-hms/internal/observability"
	"github.com/meridian-hms/meridian-hms/internal/permissions"
	"github.com/meridian-hms/meridian-hms/internal/platform/cache"
	"github.com/meridian-hms/meridian-hms/internal/platform/db"
	"github.com/meridian-hms/meridian-hms/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo)

	tokenStore := auth.NewTokenStore(redisClient, cfg.AuthTokenTTL)
	authService := auth.NewService(usersService, tokenStore)
	authHandler := auth.NewHandler(logger, authService)
	authMiddleware := auth.Middleware{Tokens: tokenStore, Users: usersService, Logger: logger}

	permRepo := permissions.NewRepository(pool, audit.NewRecorder())
	catalog := permissions.NewCatalog(permRepo)
	decisionCache := permissions.NewDecisionCache(redisClient, cfg.PermissionCacheTTL)
	resolver := permissions.NewResolver(permRepo, decisionCache, metrics, logger)
	guard := permissions.Middleware{Resolver: resolver}

	grantService := permissions.NewService(permRepo, catalog, decisionCache, logger)
	permHandler := permissions.NewHandler(logger, grantService, catalog, resolver, usersService, guard)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService, guard.Require("audit.read"))

	usersHandler := users.NewHandler(logger, usersService, guard)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        authHandler,
		AuthMiddleware:     authMiddleware,
		PermissionsHandler: permHandler,
		UsersHandler:       usersHandler,
		AuditHandler:       auditHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
