package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/generate/dispatch"
	"github.com/vietddude/genflow/internal/infra/provider"
)

// Smoke harness: one synchronous image generation against the hosted API,
// followed by the endpoint monitor stats. Useful for checking a key and the
// retry/fallback wiring without assembling a batch.
func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found")
	}

	API_KEY := os.Getenv("GEMINI_API_KEY")
	if API_KEY == "" {
		log.Fatalf("GEMINI_API_KEY is not set")
	}
	model := os.Getenv("GENFLOW_MODEL")
	if model == "" {
		model = "gemini-2.5-flash-image"
	}

	ctx := context.Background()

	// 1. Create the transport
	transport := provider.NewHTTPClient("gemini", "https://generativelanguage.googleapis.com", 2*time.Minute)
	defer transport.Close()

	// 2. Dispatch with a short retry budget
	d := dispatch.New(transport, nil)
	plan := dispatch.Plan{
		Primary: model,
		Policy:  dispatch.RetryPolicy{Delays: []time.Duration{2 * time.Second, 5 * time.Second}},
	}

	start := time.Now()
	result, err := d.Dispatch(ctx, API_KEY, plan, &domain.GenerationRequest{
		Kind:   domain.JobKindImage,
		Prompt: "a watercolor painting of a lighthouse at dusk",
	})
	if err != nil {
		log.Fatalf("Generation failed: %v", err)
	}
	fmt.Printf("Generated %d bytes (%s) with %s in %v\n",
		len(result.Data), result.MimeType, result.Model, time.Since(start).Round(time.Millisecond))

	if err := os.WriteFile("smoke.png", result.Data, 0o644); err != nil {
		log.Fatalf("Failed to write artifact: %v", err)
	}
	fmt.Println("Wrote smoke.png")

	// 3. Show endpoint monitor stats
	if transport.Monitor != nil {
		stats := transport.Monitor.GetStats()
		fmt.Println("=== Endpoint Stats ===")
		fmt.Printf("Status: %s\n", stats.Status)
		fmt.Printf("Average latency: %v\n", stats.AverageLatency.Round(time.Millisecond))
		fmt.Printf("Requests last hour: %d\n", stats.RequestsLast1Hour)
		fmt.Printf("Requests last 24h: %d / %d (%.1f%%)\n",
			stats.RequestsLast24Hours, stats.EstimatedDailyLimit, stats.UsagePercentage)
	}

	health := transport.GetHealth()
	fmt.Printf("Available: %v, error rate: %.2f\n", health.Available, health.ErrorRate)
}
