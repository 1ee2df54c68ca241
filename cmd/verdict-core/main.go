// Package main is the entry point for the verdict-core binary: the embedded
// policy-decision engine behind an HTTP transport adapter.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/verdictai/verdict-oss/pkg/config"
	"github.com/verdictai/verdict-oss/pkg/evaluator"
	"github.com/verdictai/verdict-oss/pkg/logging"
	"github.com/verdictai/verdict-oss/pkg/service"
	"github.com/verdictai/verdict-oss/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "verdict-core",
		Short: "Embedded policy-decision engine",
		Long: `verdict-core serves authorization and compliance decisions with a
two-tier decision cache, a partial-evaluation fast path, and request
batching, backed by an embedded OPA policy bundle.

Example:
  verdict-core --config verdict.yaml --listen :8090`,
		RunE: runServer,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("listen", "l", "", "Address to listen on (overrides config)")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("pretty", false, "Enable pretty console logging")

	return rootCmd
}

func runServer(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listenAddr, _ := cmd.Flags().GetString("listen")
	logLevel, _ := cmd.Flags().GetString("log-level")
	prettyLogs, _ := cmd.Flags().GetBool("pretty")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Address = listenAddr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Pretty: prettyLogs})
	slog.SetDefault(logger)

	logger.Info("Starting verdict-core", "config", configPath, "listen", cfg.Server.Address)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "verdict-core",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("Failed to flush telemetry", "error", err)
		}
	}()

	eval, err := buildEvaluator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	svc, err := service.New(service.Options{
		Config:    cfg,
		Evaluator: eval,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("initialize service: %w", err)
	}

	if cfg.Evaluator.BundleDir != "" {
		watcher, err := config.NewBundleWatcher(cfg.Evaluator.BundleDir, logger)
		if err != nil {
			logger.Warn("Bundle hot reload disabled", "error", err)
		} else {
			defer func() { _ = watcher.Close() }()
			go watchBundle(ctx, watcher, cfg, svc, logger)
		}
	}

	if cfg.Warmup.File != "" {
		samples, err := service.LoadWarmupFile(cfg.Warmup.File)
		if err != nil {
			logger.Warn("Skipping cache warmup", "error", err)
		} else {
			svc.Warm(ctx, samples)
		}
	}

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           otelhttp.NewHandler(svc.Handler(), "verdict.http"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Error("Service shutdown error", "error", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// buildEvaluator compiles the configured bundle, or falls back to the
// safe-default deny evaluator when no bundle directory is configured. The
// partial-evaluation fast path still answers well-known request shapes in
// that mode.
func buildEvaluator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (evaluator.Evaluator, error) {
	if cfg.Evaluator.BundleDir == "" {
		logger.Warn("No policy bundle configured, full evaluation denies by default")
		return evaluator.Static{}, nil
	}

	modules, err := evaluator.LoadBundleDir(cfg.Evaluator.BundleDir)
	if err != nil {
		return nil, err
	}
	engine, err := evaluator.NewOPAEngine(ctx, evaluator.OPAOptions{
		Entrypoint: cfg.Evaluator.Entrypoint,
		Modules:    modules,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Policy bundle loaded", "dir", cfg.Evaluator.BundleDir, "modules", len(modules))
	return engine, nil
}

// watchBundle recompiles and swaps the evaluator whenever the bundle
// directory changes. A broken bundle keeps the previous evaluator serving.
func watchBundle(ctx context.Context, watcher *config.BundleWatcher, cfg *config.Config, svc *service.Service, logger *slog.Logger) {
	updates := watcher.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			eval, err := buildEvaluator(ctx, cfg, logger)
			if err != nil {
				logger.Error("Bundle reload failed, keeping previous evaluator", "error", err)
				continue
			}
			svc.ReloadEvaluator(eval)
		}
	}
}
