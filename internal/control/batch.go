package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/genflow/internal/core/config"
	"github.com/vietddude/genflow/internal/core/domain"
	redisclient "github.com/vietddude/genflow/internal/infra/redis"
)

func newBatchID() string {
	return "batch-" + uuid.New().String()[:8]
}

// AssembleBatch builds the item list from disk: every image in the assets
// directory paired with a prompt, or prompt-only items when no directory is
// configured. Item order is the batch's processing order.
func AssembleBatch(batchID string, cfg config.BatchConfig) ([]*domain.BatchItem, error) {
	prompts, err := loadPrompts(cfg)
	if err != nil {
		return nil, err
	}

	var sources []string
	if cfg.AssetsDir != "" {
		sources, err = listAssets(cfg.AssetsDir)
		if err != nil {
			return nil, err
		}
		if len(sources) == 0 {
			return nil, fmt.Errorf("no source assets found in %s", cfg.AssetsDir)
		}
		if len(prompts) > 1 && len(prompts) != len(sources) {
			return nil, fmt.Errorf("prompt count %d does not match asset count %d", len(prompts), len(sources))
		}
	}

	count := len(sources)
	if count == 0 {
		count = len(prompts)
	}

	now := time.Now()
	items := make([]*domain.BatchItem, 0, count)
	for i := 0; i < count; i++ {
		prompt := prompts[0]
		if len(prompts) > 1 {
			prompt = prompts[i]
		}
		item := &domain.BatchItem{
			ID:      uuid.New().String(),
			BatchID: batchID,
			Prompt:  prompt,
			Status:  domain.ItemStatusPending,
			// Staggered timestamps keep processing order stable in storage.
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: now,
		}
		if len(sources) > 0 {
			item.SourceAsset = sources[i]
		}
		items = append(items, item)
	}
	return items, nil
}

// loadPrompts returns the per-item prompt list, or a single shared prompt.
func loadPrompts(cfg config.BatchConfig) ([]string, error) {
	if cfg.PromptsFile == "" {
		if cfg.Prompt == "" {
			return nil, fmt.Errorf("no prompt configured")
		}
		return []string{cfg.Prompt}, nil
	}

	data, err := os.ReadFile(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	var prompts []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prompts = append(prompts, line)
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("prompts file %s is empty", cfg.PromptsFile)
	}
	return prompts, nil
}

// listAssets returns the image files in dir, sorted by name.
func listAssets(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read assets dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// progressObserver logs item transitions and pipeline stages, and mirrors
// batch progress into Redis when available.
type progressObserver struct {
	batchID   string
	total     int
	completed int
	redis     *redisclient.Client
	log       *slog.Logger
}

// newProgressObserver seeds the completed counter from the items' persisted
// statuses so a resumed batch reports its earlier completions too.
func newProgressObserver(batchID string, items []*domain.BatchItem, redis *redisclient.Client, log *slog.Logger) *progressObserver {
	completed := 0
	for _, item := range items {
		if item.Status == domain.ItemStatusCompleted {
			completed++
		}
	}
	return &progressObserver{
		batchID:   batchID,
		total:     len(items),
		completed: completed,
		redis:     redis,
		log:       log,
	}
}

func (o *progressObserver) OnItemTransition(item *domain.BatchItem) {
	o.log.Info("Item transition",
		"batch", o.batchID, "item", item.ID, "status", string(item.Status))

	if item.Status == domain.ItemStatusCompleted {
		o.completed++
	}
	if o.redis != nil && item.Status.Terminal() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := o.redis.SetProgress(ctx, o.batchID, o.completed, o.total, 24*time.Hour); err != nil {
			o.log.Warn("Failed to publish batch progress", "error", err)
		}
	}
}

func (o *progressObserver) OnStage(itemID, stage string) {
	o.log.Debug("Pipeline stage", "batch", o.batchID, "item", itemID, "stage", stage)
}
