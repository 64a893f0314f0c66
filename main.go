package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"botvault/internal/api"
	"botvault/internal/config"
	"botvault/internal/logging"
	"botvault/internal/metrics"
	"botvault/internal/middleware"
	"botvault/internal/workspace"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tenants := workspace.NewRegistry(cfg.Database.Path, cfg.Database.InMemory, workspace.OptionsFromConfig(cfg), logger.Logger, m)
	defer func() {
		if err := tenants.CloseAll(); err != nil {
			logger.Error("closing tenant stores", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheck)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	api.NewVersioningHandler(tenants, logger, cfg.Archive.MaxImportSize).Register(mux, middleware.AllowAll)

	// Apply middleware
	handler := middleware.Chain(
		mux,
		middleware.Metrics(m),
		middleware.Logger(logger),
		middleware.Recover(logger),
		middleware.RequestID,
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting server",
			zap.String("address", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.Bool("import_enabled", cfg.Archive.ImportEnabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy"}`))
}
