// Package batch runs multi-item generation jobs strictly sequentially: one
// item in flight at a time, a cooldown between items, and per-item status
// tracking so failed items can be retried without touching completed ones.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/genflow/internal/classify"
	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/generate/metrics"
	"github.com/vietddude/genflow/internal/infra/storage"
)

// Runner executes the generation pipeline for a single item and returns a
// reference to the saved output.
type Runner interface {
	RunItem(ctx context.Context, item *domain.BatchItem) (domain.ResultReference, error)
}

// Observer receives item transitions as they are persisted. Implementations
// must not block; they run on the orchestrator goroutine.
type Observer interface {
	OnItemTransition(item *domain.BatchItem)
}

// RetryQueue records failed item IDs so a later run can target exactly the
// failed subset. Optional; queue errors are logged, never fatal.
type RetryQueue interface {
	PushFailed(ctx context.Context, batchID, itemID string) error
	RemoveFailed(ctx context.Context, batchID, itemID string) error
}

// Summary aggregates item outcomes for one orchestrator pass.
type Summary struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
	Skipped   int
}

// Orchestrator drives a batch of items through the runner one at a time.
type Orchestrator struct {
	repo     storage.BatchRepository
	runner   Runner
	cooldown time.Duration
	observer Observer
	queue    RetryQueue
	log      *slog.Logger

	mu      sync.Mutex // guarantees a single item in flight
	batchID string
	items   []*domain.BatchItem
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

func WithRetryQueue(q RetryQueue) Option {
	return func(o *Orchestrator) { o.queue = q }
}

func New(repo storage.BatchRepository, runner Runner, cooldown time.Duration, log *slog.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		repo:     repo,
		runner:   runner,
		cooldown: cooldown,
		log:      log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Attach loads an existing batch into the orchestrator, typically before a
// retry pass after a restart. Items keep their persisted statuses.
func (o *Orchestrator) Attach(batchID string, items []*domain.BatchItem) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batchID = batchID
	o.items = items
}

// Items returns the orchestrator's current view of the batch.
func (o *Orchestrator) Items() []*domain.BatchItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*domain.BatchItem, len(o.items))
	copy(out, o.items)
	return out
}

// Run processes every pending item in input order. Items that already reached
// a terminal status are skipped. A cancelled context stops the pass: the item
// in flight is marked cancelled, later items stay pending.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pending := make([]*domain.BatchItem, 0, len(o.items))
	skipped := 0
	for _, item := range o.items {
		if item.Status.Terminal() {
			skipped++
			continue
		}
		if item.Status == domain.ItemStatusProcessing {
			// Leftover from an interrupted run; nothing is actually in flight.
			item.Status = domain.ItemStatusPending
		}
		pending = append(pending, item)
	}
	summary := &Summary{Total: len(o.items), Skipped: skipped}
	return summary, o.runSequence(ctx, pending, summary, true)
}

// RetryAllFailed re-runs every item currently in error status, in the batch's
// original order, with the same cooldown between items. Completed items are
// never touched.
func (o *Orchestrator) RetryAllFailed(ctx context.Context) (*Summary, error) {
	return o.retryFailed(ctx, nil)
}

// RetrySubset re-runs only the error items whose IDs appear in ids, in the
// batch's original order. IDs for items that are not in error status are
// ignored.
func (o *Orchestrator) RetrySubset(ctx context.Context, ids []string) (*Summary, error) {
	only := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		only[id] = struct{}{}
	}
	return o.retryFailed(ctx, only)
}

func (o *Orchestrator) retryFailed(ctx context.Context, only map[string]struct{}) (*Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	failed := make([]*domain.BatchItem, 0, len(o.items))
	for _, item := range o.items {
		if item.Status != domain.ItemStatusError {
			continue
		}
		if only != nil {
			if _, ok := only[item.ID]; !ok {
				continue
			}
		}
		item.RetryCount++
		failed = append(failed, item)
	}
	o.log.Info("retrying failed items", "batch", o.batchID, "count", len(failed))
	summary := &Summary{Total: len(failed)}
	return summary, o.runSequence(ctx, failed, summary, true)
}

// RetryItem re-runs a single item regardless of cooldown. Completed items are
// rejected; there is nothing to redo.
func (o *Orchestrator) RetryItem(ctx context.Context, itemID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, item := range o.items {
		if item.ID != itemID {
			continue
		}
		if item.Status == domain.ItemStatusCompleted {
			return nil
		}
		item.RetryCount++
		summary := &Summary{Total: 1}
		return o.runSequence(ctx, []*domain.BatchItem{item}, summary, false)
	}
	return storage.ErrItemNotFound
}

// runSequence is the shared sequential loop. Callers hold o.mu.
func (o *Orchestrator) runSequence(ctx context.Context, items []*domain.BatchItem, summary *Summary, cooldown bool) error {
	for i, item := range items {
		if i > 0 && cooldown && o.cooldown > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cooldown):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		o.processItem(ctx, item)
		switch item.Status {
		case domain.ItemStatusCompleted:
			summary.Completed++
		case domain.ItemStatusCancelled:
			summary.Cancelled++
			return ctx.Err()
		default:
			summary.Failed++
		}
		o.updateRemaining()
	}
	return nil
}

// processItem runs one item through the runner and records the outcome. The
// runner's error never aborts the sequence; it is classified and stored on
// the item so the batch keeps moving.
func (o *Orchestrator) processItem(ctx context.Context, item *domain.BatchItem) {
	o.transition(ctx, item, domain.ItemStatusProcessing)
	o.log.Info("processing item",
		"batch", item.BatchID, "item", item.ID, "retries", item.RetryCount)

	started := time.Now()
	ref, err := o.runner.RunItem(ctx, item)
	elapsed := time.Since(started)

	switch {
	case err == nil:
		item.Result = ref
		item.ErrorCategory = ""
		item.ErrorHint = ""
		o.transition(ctx, item, domain.ItemStatusCompleted)
		o.removeFromQueue(ctx, item)
		metrics.ItemsProcessed.WithLabelValues(string(domain.ItemStatusCompleted)).Inc()
		o.log.Info("item completed",
			"batch", item.BatchID, "item", item.ID,
			"result", string(ref), "elapsed", elapsed)

	case ctx.Err() != nil:
		// Cancellation is not a failure; the item simply did not finish.
		o.transition(ctx, item, domain.ItemStatusCancelled)
		metrics.ItemsProcessed.WithLabelValues(string(domain.ItemStatusCancelled)).Inc()
		o.log.Warn("item cancelled", "batch", item.BatchID, "item", item.ID)

	default:
		category := classify.Classify(err)
		item.ErrorCategory = string(category)
		item.ErrorHint = category.Hint()
		o.transition(ctx, item, domain.ItemStatusError)
		o.pushToQueue(ctx, item)
		metrics.ItemsProcessed.WithLabelValues(string(domain.ItemStatusError)).Inc()
		metrics.FailuresByCategory.WithLabelValues(string(category)).Inc()
		o.log.Error("item failed",
			"batch", item.BatchID, "item", item.ID,
			"category", string(category), "error", err)
	}
}

// transition sets the status, persists, and notifies the observer. Persist
// errors are logged; in-memory state stays authoritative for the pass.
func (o *Orchestrator) transition(ctx context.Context, item *domain.BatchItem, status domain.ItemStatus) {
	item.Status = status
	item.UpdatedAt = time.Now()
	if err := o.repo.Update(context.WithoutCancel(ctx), item); err != nil {
		o.log.Error("failed to persist item status",
			"item", item.ID, "status", string(status), "error", err)
	}
	if o.observer != nil {
		o.observer.OnItemTransition(item)
	}
}

func (o *Orchestrator) pushToQueue(ctx context.Context, item *domain.BatchItem) {
	if o.queue == nil {
		return
	}
	if err := o.queue.PushFailed(context.WithoutCancel(ctx), item.BatchID, item.ID); err != nil {
		o.log.Warn("failed to enqueue item for retry", "item", item.ID, "error", err)
	}
}

func (o *Orchestrator) removeFromQueue(ctx context.Context, item *domain.BatchItem) {
	if o.queue == nil {
		return
	}
	if err := o.queue.RemoveFailed(context.WithoutCancel(ctx), item.BatchID, item.ID); err != nil {
		o.log.Warn("failed to dequeue retried item", "item", item.ID, "error", err)
	}
}

func (o *Orchestrator) updateRemaining() {
	remaining := 0
	for _, item := range o.items {
		if !item.Status.Terminal() {
			remaining++
		}
	}
	metrics.BatchItemsRemaining.WithLabelValues(o.batchID).Set(float64(remaining))
}
