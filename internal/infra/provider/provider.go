// Package provider implements generation provider transports.
//
// This package contains:
//   - Transport interface: core abstraction for generation endpoints
//   - HTTPClient: REST implementation for hosted generation APIs
//   - Monitor: health and rate tracking per endpoint
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/genflow/internal/core/domain"
)

// Transport defines the three operations the orchestration core needs from a
// generation provider. Each call may fail with a provider-shaped *Error.
type Transport interface {
	// Name returns the provider identifier (e.g. "gemini")
	Name() string

	// Generate performs a synchronous generation call and returns content
	Generate(ctx context.Context, key, model string, req *domain.GenerationRequest) (*domain.GenerationResult, error)

	// SubmitJob starts an asynchronous generation job
	SubmitJob(ctx context.Context, key, model string, req *domain.GenerationRequest) (*domain.OperationHandle, error)

	// RefreshJob fetches the current state of a submitted job
	RefreshJob(ctx context.Context, key string, handle *domain.OperationHandle) (*domain.OperationHandle, error)

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// Close cleans up resources
	Close() error
}

// Error is a provider-shaped failure: the structured code/status pair
// generation APIs return alongside a human-readable message.
type Error struct {
	Provider string
	Code     int
	Status   string
	Message  string
}

func (e *Error) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s: %s (code=%d status=%s)", e.Provider, e.Message, e.Code, e.Status)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code=%d)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool
	Latency       time.Duration
	ErrorRate     float64
	LastSuccessAt time.Time
	LastFailureAt time.Time
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}
