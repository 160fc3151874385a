package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/WilliamBenEmbarek/erdetkoldt/internal/cache"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/config"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/dmi"
	httphandler "github.com/WilliamBenEmbarek/erdetkoldt/internal/http"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/lifecycle"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/observability"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/verdict"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	forecastClient, err := dmi.NewEDRClient(
		cfg.ForecastAPIKey,
		cfg.ForecastAPIURL,
		cfg.Longitude,
		cfg.Latitude,
		[]string{dmi.ParamTemperature, dmi.ParamWindSpeed},
		cfg.ForecastAPITimeout,
	)
	if err != nil {
		logger.Fatal("forecast client", zap.Error(err))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	verdictSvc := verdict.NewService(forecastClient, cacheSvc, cfg.CacheTTL, cfg.ColdThreshold)

	var cachePing func() error
	if memcacheCloser != nil {
		cachePing = memcacheCloser.Ping
	}
	handler := httphandler.NewHandler(verdictSvc, cfg.CacheTTL, logger, cachePing)

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.Use(httphandler.CORSMiddleware(cfg.CORSOrigin))
	router.HandleFunc("/healthz", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	// The verdict answers on every other path and method; the question is
	// always the same.
	router.PathPrefix("/").HandlerFunc(handler.GetVerdict)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", ":"+cfg.ServerPort),
			zap.Float64("longitude", cfg.Longitude),
			zap.Float64("latitude", cfg.Latitude))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	// Background cache writes are fire-and-forget per request but not per
	// process: the process stays alive until they land.
	pending := verdictSvc.PendingWrites()
	if pending > 0 {
		logger.Info("waiting for pending cache writes", zap.Int64("count", pending))
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.PendingWriteTimeout)
	defer waitCancel()
	if err := verdictSvc.WaitForPendingWrites(waitCtx, cfg.PendingWriteCheckPeriod); err != nil {
		logger.Warn("pending cache writes not completed", zap.Error(err), zap.Int64("remaining", verdictSvc.PendingWrites()))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
