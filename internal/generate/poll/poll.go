// Package poll tracks long-running generation jobs to completion.
//
// Provider video jobs run for minutes, so a bounded poll loop with a
// refresh ceiling avoids unbounded waiting while tolerating latency
// variance.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/genflow/internal/classify"
	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/generate/metrics"
	"github.com/vietddude/genflow/internal/infra/provider"
)

// OperationFailedError reports a provider-side job failure: the operation's
// error field was set. Operation errors are terminal, never retried.
type OperationFailedError struct {
	Name    string
	Message string
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("operation %s failed: %s", e.Name, e.Message)
}

// Poller drives a submitted job handle until it yields a result reference,
// reports an error, or hits the poll ceiling.
type Poller struct {
	transport provider.Transport
	interval  time.Duration
	maxPolls  int
	log       *slog.Logger
}

func New(transport provider.Transport, interval time.Duration, maxPolls int, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		transport: transport,
		interval:  interval,
		maxPolls:  maxPolls,
		log:       log,
	}
}

// Submit starts an asynchronous generation job.
func (p *Poller) Submit(ctx context.Context, key, model string, req *domain.GenerationRequest) (*domain.OperationHandle, error) {
	return p.transport.SubmitJob(ctx, key, model, req)
}

// Resolve extracts a result reference from a handle by checking the fixed
// candidate fields in order; the first non-empty one wins. A handle with no
// result payload resolves nothing, regardless of its done flag.
func Resolve(handle *domain.OperationHandle) (domain.ResultReference, bool) {
	if handle == nil || handle.Result == nil {
		return "", false
	}
	for _, uri := range handle.Result.Candidates() {
		if uri != "" {
			return domain.ResultReference(uri), true
		}
	}
	return "", false
}

// WaitForResult polls the handle until a reference is resolvable. Providers
// that return inline results resolve immediately without a single refresh.
// A non-empty error field on a refreshed handle fails the wait at once, and
// exceeding the ceiling yields a timeout-classified failure. The binary
// fetch behind the returned reference is the caller's job, not the poller's.
func (p *Poller) WaitForResult(ctx context.Context, key string, handle *domain.OperationHandle) (domain.ResultReference, error) {
	if ref, ok := Resolve(handle); ok {
		return ref, nil
	}

	for i := 0; i < p.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.interval):
		}

		refreshed, err := p.transport.RefreshJob(ctx, key, handle)
		if err != nil {
			return "", err
		}
		handle = refreshed
		metrics.PollTicks.Inc()

		if handle.ErrorMessage != "" {
			return "", &OperationFailedError{Name: handle.Name, Message: handle.ErrorMessage}
		}

		if ref, ok := Resolve(handle); ok {
			return ref, nil
		}

		p.log.Debug("Operation still running", "operation", handle.Name, "poll", i+1, "done", handle.Done)
	}

	return "", classify.NewError(classify.Timeout,
		fmt.Errorf("operation %s produced no result after %d polls", handle.Name, p.maxPolls))
}
