package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/genflow/internal/control"
	"github.com/vietddude/genflow/internal/core/config"
)

var (
	cfgPath     string
	isDebug     bool
	retryFailed bool
)

var rootCmd = &cobra.Command{
	Use:   "genflow",
	Short: "Genflow batch generation service",
	Long:  `Genflow drives image and video generation batches against hosted model APIs with retries, fallbacks, and per-item tracking.`,
	Run:   runBatch,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "re-run only the failed items of the configured batch")
}

func runBatch(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	// Load Configuration
	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	// Transform config
	controlCfg := control.Config{
		Port:        cfg.Server.Port,
		Provider:    cfg.Provider,
		Generation:  cfg.Generation,
		Batch:       cfg.Batch,
		Redis:       cfg.Redis,
		Database:    cfg.Database,
		RetryFailed: retryFailed,
	}

	// Initialize Runner
	app, err := control.NewRunner(controlCfg)
	if err != nil {
		slog.Error("Failed to initialize Runner", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start Runner", "error", err)
		os.Exit(1)
	}

	slog.Info("Runner started", "config", cfgPath, "batch", app.BatchID())

	select {
	case <-app.Done():
		slog.Info("Batch run finished", "batch", app.BatchID())
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		cancel()
		select {
		case <-app.Done():
		case <-time.After(10 * time.Second):
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}
