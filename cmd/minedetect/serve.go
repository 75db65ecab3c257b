package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"minedetect/config"
	"minedetect/db"
	mhttp "minedetect/http"
	"minedetect/logging"
	"minedetect/mine"
	"minedetect/monitoring"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Fit the classifier and serve the detection API",
	Long: `Loads and cleans the dataset, fits the classifier and serves the HTTP API.

Load or fit failures abort startup. The config file is watched and a changed
log level is applied without restart; dataset and model settings only take
effect on the next start.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, nil)
}

// serve runs until ctx is done. A nil listener binds http.port.
func serve(ctx context.Context, listener net.Listener) error {
	history, err := monitoring.NewHistory(cfg.History.Size)
	if err != nil {
		return err
	}
	hub := monitoring.NewHub(logger)
	metrics := monitoring.NewDetectionMetrics()
	sinks := []mine.Sink{history, hub, metrics}

	// 1. Optional audit store
	var store *db.Store
	var audit mhttp.AuditLog
	if cfg.Audit.Path != "" {
		store, err = db.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, store)
		audit = store
		logger.Info("audit store opened", zap.String("path", cfg.Audit.Path))
	}

	// 2. Load, clean and fit
	start := time.Now()
	detector, err := mine.Build(buildConfig(cfg), mine.WithLogger(logger), mine.WithSinks(sinks...))
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	logger.Info("model fitted", zap.Duration("elapsed", time.Since(start)))
	if store != nil {
		dataset := detector.Dataset()
		if err := store.SaveQualityIssues(ctx, dataset.Source, dataset.Issues); err != nil {
			logger.Warn("save data quality issues failed", zap.Error(err))
		}
	}

	// 3. Background workers
	go hub.Run(ctx)
	if watcher, err := config.NewWatcher(configPath, applyReload, logger); err != nil {
		logger.Warn("config watcher disabled", zap.Error(err))
	} else {
		go watcher.Run(ctx)
	}

	// 4. HTTP server
	handler := mhttp.NewHandler(detector, history, audit, logger)
	handler.SetMetrics(metrics)
	server := mhttp.NewServer(mhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, handler, hub, logger)

	errCh := make(chan error, 1)
	go func() {
		if listener != nil {
			errCh <- server.Serve(listener)
			return
		}
		errCh <- server.Start()
	}()

	// 5. Graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	return nil
}

// applyReload applies the settings that can change at runtime.
func applyReload(next *config.Config) {
	if err := logging.ApplyLevel(logLevel, next.Log.Level); err != nil {
		logger.Warn("invalid log level in reloaded config", zap.String("level", next.Log.Level), zap.Error(err))
		return
	}
	logger.Info("config reloaded", zap.String("log_level", logLevel.String()))
}
