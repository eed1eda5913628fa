package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meridianlabs/deepresearch/internal/agents"
	"github.com/meridianlabs/deepresearch/internal/config"
	"github.com/meridianlabs/deepresearch/internal/health"
	"github.com/meridianlabs/deepresearch/internal/httpapi"
	"github.com/meridianlabs/deepresearch/internal/research"
	"github.com/meridianlabs/deepresearch/internal/store"
	"github.com/meridianlabs/deepresearch/internal/streaming"
	"github.com/meridianlabs/deepresearch/internal/tracing"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	missing := cfg.Missing()
	if len(missing) > 0 {
		// Serve the UI anyway so the deployment gap is visible in the browser.
		logger.Warn("Service not fully configured", zap.Strings("missing", missing))
	}

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing initialization failed, continuing without it", zap.Error(err))
	} else {
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdownTracing(sctx); err != nil {
				logger.Warn("Tracing shutdown failed", zap.Error(err))
			}
		}()
	}

	history, err := store.Open(cfg.HistoryDB, logger)
	if err != nil {
		logger.Fatal("Failed to open history store", zap.Error(err))
	}
	defer history.Close()

	if cfg.StreamRingCapacity > 0 {
		streaming.Configure(cfg.StreamRingCapacity)
	}
	stream := streaming.Get()

	client := agents.NewClient(cfg.Endpoint, cfg.APIKey, agents.WithLogger(logger))
	mgr := research.NewManager(client, stream, history, cfg, logger)

	presets, err := config.LoadPresets(cfg.PresetsPath)
	if err != nil {
		logger.Warn("Failed to load presets, using defaults", zap.Error(err))
	}

	// Hot-reload: rate limits and poll interval pick up edits to the config
	// file without a restart.
	if cfgPath != "" {
		watcher, werr := config.NewWatcher(cfgPath, func(next *config.Config) {
			mgr.ApplyConfig(next)
			logger.Info("Configuration reloaded")
		}, logger)
		if werr != nil {
			logger.Warn("Config watcher unavailable", zap.Error(werr))
		} else {
			watcher.Start(ctx)
		}
	}

	hm := health.NewManager(logger)
	hm.Register(health.AgentAPIChecker(cfg.Endpoint))
	hm.Register(health.StoreChecker(history))

	mux := http.NewServeMux()
	httpapi.NewResearchHandler(mgr, history, presets, missing, logger).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(stream, logger).RegisterRoutes(mux)
	hm.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	httpapi.RegisterUI(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: SSE connections stay open for the whole run.
	}

	go func() {
		logger.Info("Deep research service listening",
			zap.Int("port", cfg.HTTPPort),
			zap.Bool("configured", len(missing) == 0))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown signal received")
	cancel()

	sctx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
