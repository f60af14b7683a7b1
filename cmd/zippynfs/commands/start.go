package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mark-i-m/zippynfs/internal/logger"
	"github.com/mark-i-m/zippynfs/internal/telemetry"
	adapter "github.com/mark-i-m/zippynfs/pkg/adapter/zipnfs"
	"github.com/mark-i-m/zippynfs/pkg/api"
	"github.com/mark-i-m/zippynfs/pkg/config"
	"github.com/mark-i-m/zippynfs/pkg/metrics"
	promimpl "github.com/mark-i-m/zippynfs/pkg/metrics/prometheus"
	"github.com/mark-i-m/zippynfs/pkg/storage"
)

var (
	startServer string
	startDir    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ZippyNFS server",
	Long: `Start the ZippyNFS server on the given address over the given data
directory. The directory is formatted automatically on first use.

Examples:
  # Start on all interfaces
  zippynfs start --server 0.0.0.0:7878 --dir /srv/zippynfs

  # Start with a config file and env overrides
  ZIPPYNFS_LOGGING_LEVEL=DEBUG zippynfs start --config config.yaml \
      --server 127.0.0.1:7878 --dir ./data`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&startServer, "server", "s", "", "IP:port to listen on")
	startCmd.Flags().StringVarP(&startDir, "dir", "d", "", "data directory for filesystem contents")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	// CLI flags override the file and environment.
	if startServer != "" {
		cfg.Server.Listen = startServer
	}
	if startDir != "" {
		cfg.Storage.Dir = startDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "zippynfs",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	// Continuous profiling (if enabled)
	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "zippynfs",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("ZippyNFS starting",
		"version", Version,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	// Format on first use, then open the store and allocate the epoch.
	if !storage.IsFormatted(cfg.Storage.Dir) {
		logger.Info("Formatting data directory", logger.KeyPath, cfg.Storage.Dir)
		if err := storage.Format(cfg.Storage.Dir); err != nil {
			return err
		}
	}
	store, err := storage.Open(cfg.Storage.Dir)
	if err != nil {
		return err
	}
	defer store.Close()

	var serverMetrics metrics.ServerMetrics
	var promMetrics *promimpl.ServerMetrics
	if cfg.Metrics.Enabled {
		promMetrics = promimpl.NewServerMetrics()
		serverMetrics = promMetrics
	}

	srv := adapter.New(adapter.Config{
		Listen:  cfg.Server.Listen,
		Workers: cfg.Server.Workers,
	}, store, serverMetrics)
	if err := srv.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if cfg.Metrics.Enabled {
		admin := api.New(cfg.Metrics.Listen, store, promMetrics.Handler())
		g.Go(func() error {
			return admin.Serve(gctx)
		})
	}

	return g.Wait()
}
