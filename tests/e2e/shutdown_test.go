package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/genflow/internal/control"
	"github.com/vietddude/genflow/internal/core/config"
	"github.com/vietddude/genflow/internal/core/domain"
)

func TestGracefulShutdown(t *testing.T) {
	// Memory storage, no API key: every item settles fast, which is enough
	// to exercise startup, cancellation, and shutdown ordering.
	cfg := control.Config{
		Port: 0,
		Provider: config.ProviderConfig{
			Name:         "gemini",
			BaseURL:      "http://localhost:9999",
			TimeoutValue: time.Second,
		},
		Generation: config.GenerationConfig{
			Kind:          "image",
			Model:         "imagen-4",
			CooldownValue: 100 * time.Millisecond,
		},
		Batch: config.BatchConfig{
			Name:      "e2e-shutdown",
			Prompt:    "a lighthouse at dusk",
			OutputDir: t.TempDir(),
		},
	}

	runner, err := control.NewRunner(cfg)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let it run for a bit
	time.Sleep(200 * time.Millisecond)

	// Trigger shutdown
	cancel()

	select {
	case <-runner.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("batch did not stop within 10s of cancellation")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := runner.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	// No item may be left mid-flight after shutdown.
	for _, item := range runner.Items() {
		if item.Status == domain.ItemStatusProcessing {
			t.Errorf("item %s stuck in processing after shutdown", item.ID)
		}
	}
}
