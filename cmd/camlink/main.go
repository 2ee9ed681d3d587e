// Package main implements the camlink daemon: a resilient client session to
// a remote camera service that mirrors live state locally and exposes
// operational metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/camlink/auth"
	"github.com/c360/camlink/client"
	"github.com/c360/camlink/config"
	"github.com/c360/camlink/metric"
	"github.com/c360/camlink/state"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "camlink"
)

// Event categories the daemon mirrors.
const (
	categoryCameraStatus    = "camera.status"
	categoryRecordingStatus = "recording.status"
	categoryFileIndex       = "file.index"
	categorySystemHealth    = "system.health"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags override the file's logging section.
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting camlink",
		"version", Version,
		"build_time", BuildTime,
		"server_url", cfg.ServerURL)

	registry := metric.NewRegistry()

	cam, err := buildClient(cfg, logger, registry)
	if err != nil {
		return err
	}

	return runWithSignalHandling(cfg, cam, registry, logger)
}

// buildClient wires the client facade with the mirrored state containers.
func buildClient(cfg *config.Config, logger *slog.Logger, registry *metric.Registry) (*client.Client, error) {
	opts := append(client.FromConfig(cfg),
		client.WithLogger(logger),
		client.WithMetrics(registry.CoreMetrics()),
	)

	cam, err := client.New(cfg.ServerURL, auth.Credential{Token: cfg.Token}, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	cameras := state.NewCameraList(logger)
	recordings := state.NewRecordingStatus(logger)
	files := state.NewFileIndex(logger)
	system := state.NewSystemHealth(logger)

	cam.OnNotification(categoryCameraStatus, cameras.Handler())
	cam.OnNotification(categoryRecordingStatus, recordings.Handler())
	cam.OnNotification(categoryFileIndex, files.Handler())
	cam.OnNotification(categorySystemHealth, system.Handler())

	cam.OnStateChange(func(s client.State) {
		logger.Info("connection state", "state", s)
	})

	return cam, nil
}

// runWithSignalHandling connects, serves metrics, and blocks until shutdown.
func runWithSignalHandling(
	cfg *config.Config,
	cam *client.Client,
	registry *metric.Registry,
	logger *slog.Logger,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	connectCtx, connectCancel := context.WithTimeout(signalCtx, 30*time.Second)
	defer connectCancel()

	if err := cam.Subscribe(connectCtx,
		categoryCameraStatus,
		categoryRecordingStatus,
		categoryFileIndex,
		categorySystemHealth,
	); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := cam.Connect(connectCtx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	slog.Info("camlink started", "categories", cam.Subscriptions())

	g, gctx := errgroup.WithContext(signalCtx)

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		g.Go(metricsServer.Start)
		slog.Info("metrics endpoint up", "address", metricsServer.Address())
	}

	// Periodic health reporting keeps the score gauge fresh even when no
	// calls flow.
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				st := cam.Health()
				logger.Debug("connection health",
					"status", st.Status, "score", st.Score,
					"avg_rtt", st.AvgRTT, "last_rtt", st.LastRTT)
			}
		}
	})

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	cam.Close()
	if metricsServer != nil {
		_ = metricsServer.Stop()
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	slog.Info("camlink shutdown complete")
	return nil
}
