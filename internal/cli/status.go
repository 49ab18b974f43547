package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vietddude/genflow/internal/core/config"
	redisclient "github.com/vietddude/genflow/internal/infra/redis"
	"github.com/vietddude/genflow/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the per-item status of the configured batch",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.QueryContext(ctx,
		"SELECT id, status, retry_count, error_category, result_ref FROM batch_items WHERE batch_id = $1 ORDER BY created_at, id",
		cfg.Batch.Name)
	if err != nil {
		slog.Error("Failed to query batch items", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ITEM\tSTATUS\tRETRIES\tCATEGORY\tRESULT")

	for rows.Next() {
		var id, status, category, result string
		var retries int
		if err := rows.Scan(&id, &status, &retries, &category, &result); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", id, status, retries, category, result)
	}
	_ = w.Flush()

	// Progress counters from the last run, if Redis is configured.
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, skipping progress", "error", err)
			return
		}
		defer func() {
			_ = rc.Close()
		}()

		completed, total, err := rc.GetProgress(ctx, cfg.Batch.Name)
		if err != nil {
			slog.Warn("Failed to read batch progress", "error", err)
			return
		}
		if total > 0 {
			fmt.Printf("\nProgress: %d/%d completed\n", completed, total)
		}
	}
}
