// Package dispatch executes one generation call with bounded retries against
// one model, then bounded fallbacks across alternate models.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vietddude/genflow/internal/classify"
	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/generate/metrics"
	"github.com/vietddude/genflow/internal/infra/provider"
)

// RetryPolicy is an ordered sequence of wait durations. The Nth retry of a
// model waits Delays[N]; exhausting the sequence means no further retries on
// that model. An empty policy means exactly one attempt per model.
type RetryPolicy struct {
	Delays []time.Duration
}

// Plan describes one dispatch: the primary model, the ordered fallback
// chain tried only after the primary exhausts its retries, and the retry
// policy applied to every model.
type Plan struct {
	Primary   string
	Fallbacks []string
	Policy    RetryPolicy
}

// Models returns the deduplicated attempt order: the primary first, then
// each fallback that is neither empty, the primary itself, nor a repeat.
func (p Plan) Models() []string {
	seen := make(map[string]bool)
	var models []string
	for _, m := range append([]string{p.Primary}, p.Fallbacks...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		models = append(models, m)
	}
	return models
}

// ExhaustedError is returned when every model/attempt combination failed
// with a transient overload.
type ExhaustedError struct {
	Models  []string
	LastErr error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all models exhausted (%s): %v", strings.Join(e.Models, ", "), e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Dispatcher runs generation calls against a transport. It holds no state
// across invocations.
type Dispatcher struct {
	transport provider.Transport
	log       *slog.Logger
}

func New(transport provider.Transport, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{transport: transport, log: log}
}

// Dispatch runs a synchronous generation call under the plan.
func (d *Dispatcher) Dispatch(ctx context.Context, key string, plan Plan, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	var result *domain.GenerationResult
	err := d.execute(ctx, plan, func(ctx context.Context, model string) error {
		r, err := d.transport.Generate(ctx, key, model, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DispatchJob submits an asynchronous generation job under the plan. Only
// the submission is covered; polling the returned handle is the caller's job.
func (d *Dispatcher) DispatchJob(ctx context.Context, key string, plan Plan, req *domain.GenerationRequest) (*domain.OperationHandle, error) {
	var handle *domain.OperationHandle
	err := d.execute(ctx, plan, func(ctx context.Context, model string) error {
		h, err := d.transport.SubmitJob(ctx, key, model, req)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// execute attempts the call on the primary model, retrying on overload per
// the policy, then walks the fallback chain. Any failure that is not an
// overload propagates immediately without consuming the chain; a model
// already proven futile is never tried twice.
func (d *Dispatcher) execute(ctx context.Context, plan Plan, attempt func(ctx context.Context, model string) error) error {
	models := plan.Models()
	if len(models) == 0 {
		return fmt.Errorf("dispatch plan has no models")
	}

	var lastErr error
	for i, model := range models {
		if i > 0 {
			metrics.FallbacksTotal.WithLabelValues(model).Inc()
			d.log.Info("Falling back to alternate model", "model", model)
		}

		err := d.tryModel(ctx, model, plan.Policy, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		if classify.Classify(err) != classify.Overloaded {
			// Non-overload failures are surfaced untouched, fallback or not.
			return err
		}

		lastErr = err
		d.log.Warn("Model retry budget exhausted on overload", "model", model)
	}

	return &ExhaustedError{Models: models, LastErr: lastErr}
}

// tryModel makes up to len(policy.Delays)+1 attempts against one model,
// sleeping the configured delay before each retry. Only overload-class
// failures are retried.
func (d *Dispatcher) tryModel(ctx context.Context, model string, policy RetryPolicy, attempt func(ctx context.Context, model string) error) error {
	for n := 0; ; n++ {
		err := attempt(ctx, model)
		if err == nil {
			metrics.GenerationAttempts.WithLabelValues(model, "success").Inc()
			return nil
		}
		metrics.GenerationAttempts.WithLabelValues(model, "failure").Inc()

		if classify.Classify(err) != classify.Overloaded || n >= len(policy.Delays) {
			return err
		}

		delay := policy.Delays[n]
		d.log.Debug("Model overloaded, retrying",
			"model", model, "attempt", n+1, "delay", delay)
		metrics.RetriesTotal.WithLabelValues(model).Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
