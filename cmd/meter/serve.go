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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/api"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/auth"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/middleware"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/pricing"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/telemetry"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/usage"
	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/cache"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	log := logger.FromLevel(cfg.LogLevel, cfg.DebugMode)
	defer func() { _ = log.Sync() }()

	shutdownTracer, err := telemetry.InitTracer(ctx, "meter", cfg.OTELExporter, cfg.OTELEndpoint, log)
	if err != nil {
		return err
	}
	defer shutdownTracer()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = store.Migrate(migrateCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	defaults, err := loadDefaults(cfg)
	if err != nil {
		return err
	}
	log.Info("default pricing loaded", "entries", defaults.Len())

	// Redis is optional: without it rate limiting and result caching are off.
	var (
		limiter     middleware.RateLimiter
		resultCache analytics.ResultCache
	)
	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	rc, err := cache.NewCache(redisCtx, cache.Options{Addr: cfg.RedisAddr(), Password: cfg.RedisPassword}, log)
	cancel()
	if err != nil {
		log.Warn("Redis unavailable, rate limiting and analytics caching disabled", "error", err)
	} else {
		defer rc.Close()
		limiter, resultCache = rc, rc
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		return err
	}

	calc := pricing.NewCalculator(store, defaults, log)
	usageSvc := usage.NewService(store, calc, nil, log)
	analyticsSvc := analytics.NewService(store, nil, log)
	if resultCache != nil {
		analyticsSvc.WithCache(resultCache, cfg.AnalyticsCacheTTL)
	}

	if !cfg.DebugMode && cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		middleware.Recovery(log),
		middleware.RequestID(),
		middleware.Logging(log),
		middleware.CORS(cfg.AllowedOrigins),
	)
	api.NewHandlers(usageSvc, analyticsSvc, store, log).Register(r,
		middleware.Auth(issuer),
		middleware.RateLimit(limiter, cfg.RateLimitMax, cfg.RateLimitWindow, log),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Meter API is ready", "port", cfg.Port, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}
