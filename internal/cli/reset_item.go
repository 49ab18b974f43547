package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/genflow/internal/core/config"
	"github.com/vietddude/genflow/internal/infra/storage/postgres"
)

var resetItemCmd = &cobra.Command{
	Use:   "reset-item [item_id]",
	Short: "Reset a failed, cancelled, or stuck item back to pending",
	Args:  cobra.ExactArgs(1),
	Run:   runResetItem,
}

func init() {
	rootCmd.AddCommand(resetItemCmd)
}

func runResetItem(cmd *cobra.Command, args []string) {
	itemID := args[0]

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

	// Direct SQL keeps the override simple; completed items stay untouched.
	// A processing row can only be left over from a crashed run.
	query := `UPDATE batch_items
		SET status = 'pending', error_category = '', error_hint = '', updated_at = NOW()
		WHERE id = $1 AND status IN ('error', 'cancelled', 'processing')`
	res, err := db.ExecContext(ctx, query, itemID)
	if err != nil {
		slog.Error("Failed to reset item", "error", err)
		os.Exit(1)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		fmt.Printf("Item %s not found or not in a resettable state\n", itemID)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset item %s to pending\n", itemID)
}
