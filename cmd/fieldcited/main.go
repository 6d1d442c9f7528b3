// Package main provides the FieldCite sync daemon. It owns the local
// store and sync engine and serves a localhost REST/WebSocket API for
// the UI shell.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mensahk/fieldcite/internal/config"
	"github.com/mensahk/fieldcite/internal/logging"
	"github.com/mensahk/fieldcite/internal/models"
	"github.com/mensahk/fieldcite/internal/queue"
	"github.com/mensahk/fieldcite/internal/settings"
	"github.com/mensahk/fieldcite/internal/store"
	syncpkg "github.com/mensahk/fieldcite/internal/sync"
	"github.com/mensahk/fieldcite/internal/sync/trigger"
	"github.com/mensahk/fieldcite/internal/synclog"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	cfg := config.Load()
	logging.Init(os.Stdout, logLevel(cfg.LogLevel))

	logging.Info("FieldCite sync daemon starting",
		map[string]interface{}{"version": Version, "data_dir": cfg.DataDir})

	s, err := store.Open(cfg.DataDir, store.Schema{
		Version:     models.SchemaVersion,
		Collections: models.Collections(),
	})
	if err != nil {
		logging.Error("Failed to open store", err, nil)
		os.Exit(1)
	}
	defer s.Close()

	q := queue.New(s)
	q.SetMaxAttempts(cfg.MaxAttempts)
	l := synclog.New(s)

	prefs := settings.New(s, cfg.DeviceKey)
	if cfg.APIToken != "" {
		if err := prefs.SetAPIToken(cfg.APIToken); err != nil {
			logging.Error("Failed to store API token", err, nil)
		}
	}

	connectivity := trigger.NewManualConnectivity(true)

	engine := syncpkg.New(s, q, l, syncpkg.Config{
		Endpoints:      apiEndpoints(cfg.APIBaseURL),
		Tokens:         prefs,
		Online:         connectivity.Online,
		BatchSize:      cfg.BatchSize,
		RequestTimeout: cfg.RequestTimeout,
	})

	scheduler := trigger.NewScheduler(
		trigger.RunnerFunc(func(ctx context.Context) error {
			_, err := engine.RunPass(ctx)
			return err
		}),
		connectivity,
		trigger.Config{Interval: cfg.SyncInterval},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)

	hub := NewWSHub()
	server := NewServer(engine, q, l, scheduler, connectivity, hub)
	server.settings = prefs
	go server.WatchEngine(ctx)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("API listening", map[string]interface{}{"addr": cfg.ListenAddr})
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		logging.Error("API server stopped", err, nil)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("HTTP shutdown failed", err, nil)
	}

	// Let an in-flight pass finish before the store closes.
	scheduler.Stop()
	cancel()

	logging.Info("FieldCite sync daemon stopped", nil)
}

// apiEndpoints derives the per-entity endpoint map from the API base
// URL, matching the central server's route layout.
func apiEndpoints(baseURL string) syncpkg.Endpoints {
	return syncpkg.Endpoints{
		models.EntityTicket:  baseURL + "/api/tickets",
		models.EntityPhoto:   baseURL + "/api/photos",
		models.EntityPayment: baseURL + "/api/payments",
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logging.Info("Metrics listening", map[string]interface{}{"addr": addr})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Error("Metrics server stopped", err, nil)
	}
}

func logLevel(s string) logging.LogLevel {
	switch s {
	case "debug", "DEBUG":
		return logging.LevelDebug
	case "warn", "WARN":
		return logging.LevelWarn
	case "error", "ERROR":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
