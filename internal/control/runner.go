// Package control wires storage, transport, and the batch orchestrator into
// a runnable application.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/genflow/internal/assets"
	"github.com/vietddude/genflow/internal/core/config"
	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/generate"
	"github.com/vietddude/genflow/internal/generate/batch"
	"github.com/vietddude/genflow/internal/generate/dispatch"
	"github.com/vietddude/genflow/internal/generate/download"
	"github.com/vietddude/genflow/internal/generate/health"
	"github.com/vietddude/genflow/internal/generate/poll"
	"github.com/vietddude/genflow/internal/infra/credentials"
	"github.com/vietddude/genflow/internal/infra/provider"
	redisclient "github.com/vietddude/genflow/internal/infra/redis"
	"github.com/vietddude/genflow/internal/infra/storage"
	"github.com/vietddude/genflow/internal/infra/storage/memory"
	"github.com/vietddude/genflow/internal/infra/storage/postgres"

	"github.com/pressly/goose/v3"
)

// Config holds the application configuration.
type Config struct {
	Port        int
	Provider    config.ProviderConfig
	Generation  config.GenerationConfig
	Batch       config.BatchConfig
	Redis       redisclient.Config
	Database    postgres.Config
	RetryFailed bool // CLI flag: re-run only the failed items of an existing batch
}

// Runner is the main application struct that manages the batch lifecycle.
type Runner struct {
	cfg          Config
	batchID      string
	orch         *batch.Orchestrator
	repo         storage.BatchRepository
	transport    *provider.HTTPClient
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	retryIDs     []string // failed item IDs popped from the Redis queue
	log          *slog.Logger
	done         chan struct{}
}

// NewRunner creates a new Runner instance with all dependencies initialized.
func NewRunner(cfg Config) (*Runner, error) {

	// 1. Initialize Storage
	var repo storage.BatchRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Run migrations
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		repo = postgres.NewBatchRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		repo = memory.NewBatchRepo(memory.NewMemoryStorage())
		slog.Info("Using Memory storage")
	}

	// 2. Initialize Redis (optional retry queue + progress)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, retry queue disabled", "error", err)
		}
	}

	// 3. Initialize Provider Transport
	transport := provider.NewHTTPClient(cfg.Provider.Name, cfg.Provider.BaseURL, cfg.Provider.TimeoutValue)

	// 4. Initialize Credentials
	creds := credentials.NewEnvResolver()
	creds.Register(cfg.Provider.Name, cfg.Provider.APIKeyEnv, cfg.Generation.Model)

	// 5. Assemble or reload the batch
	batchID := cfg.Batch.Name
	if batchID == "" {
		if cfg.RetryFailed {
			return nil, fmt.Errorf("batch.name is required with -retry-failed")
		}
		batchID = newBatchID()
	}

	var items []*domain.BatchItem
	var err error
	var retryIDs []string
	if cfg.RetryFailed {
		items, err = repo.ListByBatch(context.Background(), batchID)
		if err != nil {
			return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("batch %s has no items to retry", batchID)
		}
		// The Redis queue holds the IDs that failed in earlier runs; when it
		// is populated the retry pass targets exactly that subset.
		if redisClient != nil {
			queued, qerr := redisClient.ListFailed(context.Background(), batchID)
			if qerr != nil {
				slog.Warn("Failed to read retry queue, retrying all failed items", "error", qerr)
			} else {
				retryIDs = queued
			}
		}
	} else {
		// A named batch that already has persisted items is resumed, not
		// re-assembled; terminal items keep their state and pending ones run.
		items, err = repo.ListByBatch(context.Background(), batchID)
		if err != nil {
			return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
		}
		if len(items) == 0 {
			items, err = AssembleBatch(batchID, cfg.Batch)
			if err != nil {
				return nil, err
			}
			if err := repo.SaveBatch(context.Background(), items); err != nil {
				return nil, fmt.Errorf("failed to persist batch: %w", err)
			}
		}
	}
	slog.Info("Batch ready", "batch", batchID, "items", len(items), "retry_failed", cfg.RetryFailed)

	// 6. Build the Pipeline
	observer := newProgressObserver(batchID, items, redisClient, slog.Default())

	runner := generate.NewRunner(
		generate.Config{
			Provider:       cfg.Provider.Name,
			Kind:           domain.JobKind(cfg.Generation.Kind),
			FallbackModels: cfg.Generation.FallbackModels,
			RetryDelays:    cfg.Generation.RetryDelayValues,
			AspectRatio:    cfg.Generation.AspectRatio,
			Resolution:     cfg.Generation.Resolution,
			OutputDir:      cfg.Batch.OutputDir,
			AssetOptions: assets.Options{
				MaxDimension: cfg.Batch.MaxAssetDimension,
				Quality:      cfg.Batch.AssetQuality,
			},
		},
		creds,
		dispatch.New(transport, nil),
		poll.New(transport, cfg.Generation.PollIntervalValue, cfg.Generation.MaxPolls, nil),
		download.New(cfg.Provider.TimeoutValue),
		observer,
		nil,
	)

	opts := []batch.Option{batch.WithObserver(observer)}
	if redisClient != nil {
		opts = append(opts, batch.WithRetryQueue(redisClient))
	}
	orch := batch.New(repo, runner, cfg.Generation.CooldownValue, nil, opts...)
	orch.Attach(batchID, items)

	// 7. Initialize Health Monitor
	healthMon := health.NewMonitor(transport, repo, batchID)
	healthServer := health.NewServer(healthMon, cfg.Port)

	return &Runner{
		cfg:          cfg,
		batchID:      batchID,
		orch:         orch,
		repo:         repo,
		transport:    transport,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisClient,
		retryIDs:     retryIDs,
		log:          slog.Default(),
		done:         make(chan struct{}),
	}, nil
}

// Start starts the health server and kicks off the batch run. It returns
// immediately; Done signals when the batch finishes.
func (r *Runner) Start(ctx context.Context) error {
	// Start Health Server
	go func() {
		if err := r.healthServer.Start(); err != nil {
			r.log.Error("Health server failed", "error", err)
		}
	}()

	// Run the batch
	go func() {
		defer close(r.done)

		var summary *batch.Summary
		var err error
		switch {
		case r.cfg.RetryFailed && len(r.retryIDs) > 0:
			summary, err = r.orch.RetrySubset(ctx, r.retryIDs)
		case r.cfg.RetryFailed:
			summary, err = r.orch.RetryAllFailed(ctx)
		default:
			summary, err = r.orch.Run(ctx)
		}
		if err != nil {
			r.log.Warn("Batch run interrupted", "batch", r.batchID, "error", err)
		}
		if r.cfg.RetryFailed && err == nil && summary != nil && summary.Failed == 0 {
			r.clearRetryQueue()
		}
		if summary != nil {
			r.log.Info("Batch finished",
				"batch", r.batchID,
				"total", summary.Total,
				"completed", summary.Completed,
				"failed", summary.Failed,
				"cancelled", summary.Cancelled,
				"skipped", summary.Skipped)
		}
	}()

	return nil
}

// clearRetryQueue drops the batch's Redis retry queue once every failed item
// has been reprocessed. Per-item dequeues already ran; this removes any
// stale or duplicate entries.
func (r *Runner) clearRetryQueue() {
	if r.redisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.redisClient.ClearFailed(ctx, r.batchID); err != nil {
		r.log.Warn("Failed to clear retry queue", "batch", r.batchID, "error", err)
	}
}

// Done is closed when the batch run has finished.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// BatchID returns the identifier of the batch this runner drives.
func (r *Runner) BatchID() string {
	return r.batchID
}

// Items returns the current state of the batch items.
func (r *Runner) Items() []*domain.BatchItem {
	return r.orch.Items()
}

// Stop stops the runner.
func (r *Runner) Stop(ctx context.Context) error {
	r.log.Info("Stopping Runner...")

	if err := r.transport.Close(); err != nil {
		r.log.Warn("Failed to close transport", "error", err)
	}

	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			r.log.Warn("Failed to close Redis", "error", err)
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.log.Warn("Failed to close database", "error", err)
		}
	}

	return r.healthServer.Stop(ctx)
}
