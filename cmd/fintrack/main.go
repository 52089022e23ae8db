package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/core"
	"fintrack/internal/extraction"
	apphttp "fintrack/internal/http"
	"fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/services"
)

const (
	overviewCacheSize = 512
	overviewCacheTTL  = 5 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)
	logger.Info("Starting fintrack")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	caches := cache.NewManager(logger)
	overviews := cache.NewLRUCache[core.MonthOverview](overviewCacheSize, overviewCacheTTL)
	caches.Register(overviews)
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	var publisher services.EventPublisher
	if amqpClient := cli.InitAMQP(logger, cfg, false); amqpClient != nil {
		defer amqpClient.Close()
		publisher = amqpClient
	}

	records := services.NewRecordService(repo, publisher,
		services.WithOverviewCache(overviews),
		services.WithRecordLogger(logger))

	pipeline, err := extraction.NewFromConfig(cfg.OCR, extraction.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to initialize extraction pipeline", log.FieldError, err)
		os.Exit(1)
	}
	if cfg.OCR.Endpoint() == "" {
		logger.Warn("OCR_BASE_URL not set, extractions will fail until it is configured")
	}

	srv := apphttp.NewServer(apphttp.ServerConfig{
		Addr:       ":" + cfg.Port,
		UserHeader: cfg.UserHeader,
		RateLimit: ratelimit.Config{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		ExtractPerMinute: cfg.ExtractRateLimitPerMinute,
	}, records, pipeline, repo.Ping, logger)

	srv.ReadHeaderTimeout = 10 * time.Second
	srv.ReadTimeout = 60 * time.Second
	// Extraction responses wait on the OCR call.
	srv.WriteTimeout = cfg.OCR.Timeout + 15*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
