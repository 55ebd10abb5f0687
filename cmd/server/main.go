// FileCove Server
//
// Features:
// - Per-user storage areas behind a shared login endpoint
// - File listing, upload, download and delete endpoints
// - Folder zip downloads and archive extraction via zip/unzip
// - Prometheus metrics & structured logging (zap)
// - Background janitor for the temp artifact area
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/api"
	"github.com/filecove/filecove/internal/archive"
	"github.com/filecove/filecove/internal/auth"
	"github.com/filecove/filecove/internal/config"
	"github.com/filecove/filecove/internal/credstore"
	"github.com/filecove/filecove/internal/fsops"
	"github.com/filecove/filecove/internal/janitor"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/internal/sandbox"
	"github.com/filecove/filecove/internal/sanitize"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("FileCove Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("storage", cfg.StoragePath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load user credentials
	creds, err := credstore.Load(cfg.UsersFile)
	if err != nil {
		logging.Fatal("credential load failed", zap.Error(err))
	}
	logging.Info("credentials loaded", zap.Int("users", creds.Len()))
	sessions := auth.NewSessions(creds)

	// Prepare storage root and temp area
	tmpDir := filepath.Join(cfg.StoragePath, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}

	resolver, err := sandbox.New(cfg.StoragePath)
	if err != nil {
		logging.Fatal("storage root unusable", zap.Error(err))
	}

	sanitizer := sanitize.New(cfg.NameWhitelist, cfg.MaxNameLength)
	locks := fsops.NewPathLocks()
	engine := fsops.New(sanitizer, locks)

	registry := archive.NewRegistry()
	archiver, err := archive.New(tmpDir, registry, locks, sanitizer)
	if err != nil {
		logging.Fatal("temp area init failed", zap.Error(err))
	}

	// Start temp janitor
	jan := janitor.New(tmpDir, registry, cfg.TmpSweepInterval.Std(), cfg.TmpRetentionAge.Std())
	go jan.Run(ctx)

	// Create API server
	srv := api.NewServer(sessions, resolver, engine, archiver, cfg)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP server. No whole-request deadlines: uploads and zip
	// downloads may legitimately take longer than any fixed timeout.
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info("shutting down...")
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		logging.Error("shutdown error", zap.Error(err))
	}
	metricsServer.Close()
	logging.Info("server stopped")
}
