package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexuspay/fepgate/internal/connmgr"
	"github.com/nexuspay/fepgate/internal/gateway"
	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/internal/pan"
	"github.com/nexuspay/fepgate/internal/pipeline"
	"github.com/nexuspay/fepgate/internal/validation"
	"github.com/nexuspay/fepgate/pkg/api"
	"github.com/nexuspay/fepgate/pkg/config"
	"github.com/nexuspay/fepgate/pkg/metrics"
	prommetrics "github.com/nexuspay/fepgate/pkg/metrics/prometheus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the FEP gateway",
	Long: `Start the gateway with the specified configuration.

Loads the channel registry from the config file, brings up every active
channel endpoint, and serves the admin API. The config file is watched: edits
to the channels section are reconciled live without a restart.

Examples:
  # Start with default config location
  fepgate start

  # Start with custom config
  fepgate start --config /etc/fepgate/config.yaml

  # Override the log level for one run
  FEPGATE_LOGGING_LEVEL=DEBUG fepgate start`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Metrics (if enabled)
	var (
		txnMetrics     metrics.TransactionMetrics
		channelMetrics metrics.ChannelMetrics
		pendingMetrics metrics.PendingMetrics
		metricsServer  *http.Server
	)
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		txnMetrics = prommetrics.NewTransactionMetrics()
		channelMetrics = prommetrics.NewChannelMetrics()
		pendingMetrics = prommetrics.NewPendingMetrics()
		metricsServer = startMetricsServer(cfg.Metrics.Port)
		logger.Info("Metrics enabled", logger.KeyPort, cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Transaction audit store
	repo, err := config.CreateRepository(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to initialize transaction store: %w", err)
	}
	defer func() { _ = repo.Close() }()
	logger.Info("Transaction store ready", "type", cfg.Store.Type)

	// PAN protection
	var protector *pan.Protector
	if cfg.Security.PANKey != "" {
		protector, err = pan.NewProtectorFromHex(cfg.Security.PANKey)
		if err != nil {
			return fmt.Errorf("failed to initialize PAN protection: %w", err)
		}
		logger.Info("PAN encryption enabled")
	} else {
		logger.Warn("PAN encryption key not configured; card numbers stored masked and hashed only")
	}

	// Field validation rules
	engine, err := loadValidationEngine(&cfg.Pipeline)
	if err != nil {
		return err
	}

	// Pipeline and gateway handler
	var pipeOpts []pipeline.Option
	if txnMetrics != nil {
		pipeOpts = append(pipeOpts, pipeline.WithMetrics(txnMetrics))
	}
	pipe := pipeline.New(repo, pipeline.DefaultRouter(repo), engine, cfg.Pipeline.DedupWindow, pipeOpts...)
	gw := gateway.New(pipe, protector)

	// Channel endpoints, reconciled against the registry
	manager := connmgr.New(gw.Handler(), channelMetrics, pendingMetrics)
	registry := config.NewChannelRegistry(cfg.Channels)
	registry.SubscribeDelta(func(changed []connmgr.ChannelSpec, removed []string) {
		if err := manager.ApplyDelta(ctx, changed, removed); err != nil {
			logger.Error("Channel delta reconciliation failed", logger.KeyError, err.Error())
		}
	})
	defer func() { _ = registry.Close() }()

	if err := manager.ApplySnapshot(ctx, registry.Snapshot()); err != nil {
		// Failed channels retry on their own when auto_reconnect is set;
		// the gateway stays up either way.
		logger.Error("Some channels failed to start", logger.KeyError, err.Error())
	}
	logger.Info("Channels reconciled", "count", manager.Count())

	if path := resolvedConfigPath(); path != "" {
		if err := registry.Watch(path); err != nil {
			logger.Warn("Config watch unavailable", logger.KeyError, err.Error())
		}
	}

	// Admin API
	apiServer, err := api.NewServer(cfg.API, manager, repo, cfg.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Gateway is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("Admin API shutdown error", logger.KeyError, err.Error())
		}
	case err := <-serverDone:
		signal.Stop(sigChan)
		cancel()
		if err != nil {
			logger.Error("Admin API error", logger.KeyError, err.Error())
			shutdown(cfg.ShutdownTimeout, manager, metricsServer)
			return err
		}
	}

	shutdown(cfg.ShutdownTimeout, manager, metricsServer)
	logger.Info("Gateway stopped gracefully")
	return nil
}

// shutdown closes every channel endpoint and the metrics server within the
// configured deadline.
func shutdown(timeout time.Duration, manager *connmgr.Manager, metricsServer *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := manager.Close(shutdownCtx); err != nil {
		logger.Error("Channel shutdown error", logger.KeyError, err.Error())
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", logger.KeyError, err.Error())
		}
	}
}

// startMetricsServer serves the Prometheus exposition on its own port.
func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", logger.KeyError, err.Error())
		}
	}()
	return srv
}

// loadValidationEngine builds the field validation engine from the rules
// file or the inline document. A nil engine disables field validation.
func loadValidationEngine(cfg *config.PipelineConfig) (*validation.Engine, error) {
	doc := cfg.Rules
	if cfg.RulesPath != "" {
		data, err := os.ReadFile(cfg.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read validation rules %s: %w", cfg.RulesPath, err)
		}
		doc = string(data)
	}
	if doc == "" {
		logger.Info("Field validation disabled (no rules configured)")
		return nil, nil
	}

	engine, err := validation.NewEngine(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid validation rules: %w", err)
	}
	logger.Info("Field validation enabled")
	return engine, nil
}
