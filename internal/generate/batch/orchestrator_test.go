package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/genflow/internal/classify"
	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/infra/storage/memory"
)

type fakeRunner struct {
	order    []string
	failures map[string]error // item ID -> error to return
	onItem   func(itemID string)
}

func (f *fakeRunner) RunItem(ctx context.Context, item *domain.BatchItem) (domain.ResultReference, error) {
	f.order = append(f.order, item.ID)
	if f.onItem != nil {
		f.onItem(item.ID)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := f.failures[item.ID]; ok {
		delete(f.failures, item.ID)
		return "", err
	}
	return domain.ResultReference("out/" + item.ID + ".mp4"), nil
}

func newBatch(t *testing.T, repo *memory.BatchRepo, ids ...string) []*domain.BatchItem {
	t.Helper()
	base := time.Now()
	items := make([]*domain.BatchItem, 0, len(ids))
	for i, id := range ids {
		item := &domain.BatchItem{
			ID:        id,
			BatchID:   "b1",
			Prompt:    "prompt " + id,
			Status:    domain.ItemStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := repo.Save(context.Background(), item); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		items = append(items, item)
	}
	return items
}

func TestRunProcessesItemsInOrder(t *testing.T) {
	repo := memory.NewBatchRepo(memory.NewMemoryStorage())
	runner := &fakeRunner{}
	orch := New(repo, runner, 0, nil)
	orch.Attach("b1", newBatch(t, repo, "a", "b", "c"))

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Completed != 3 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 3 completed", summary)
	}
	want := []string{"a", "b", "c"}
	if fmt.Sprint(runner.order) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", runner.order, want)
	}
	for _, id := range want {
		got, _ := repo.GetByID(context.Background(), id)
		if got.Status != domain.ItemStatusCompleted {
			t.Errorf("item %s status = %s, want completed", id, got.Status)
		}
		if got.Result == "" {
			t.Errorf("item %s has no result reference", id)
		}
	}
}

func TestRunContinuesPastFailedItem(t *testing.T) {
	repo := memory.NewBatchRepo(memory.NewMemoryStorage())
	runner := &fakeRunner{failures: map[string]error{
		"b": classify.NewError(classify.ContentRejected, errors.New("blocked by safety filter")),
	}}
	orch := New(repo, runner, 0, nil)
	orch.Attach("b1", newBatch(t, repo, "a", "b", "c"))

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Completed != 2 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 2 completed 1 failed", summary)
	}

	got, _ := repo.GetByID(context.Background(), "b")
	if got.Status != domain.ItemStatusError {
		t.Fatalf("item b status = %s, want error", got.Status)
	}
	if got.ErrorCategory != string(classify.ContentRejected) {
		t.Errorf("category = %s, want %s", got.ErrorCategory, classify.ContentRejected)
	}
	if got.ErrorHint == "" {
		t.Error("expected a hint on the failed item")
	}
	for _, id := range []string{"a", "c"} {
		got, _ := repo.GetByID(context.Background(), id)
		if got.Status != domain.ItemStatusCompleted {
			t.Errorf("item %s status = %s, want completed", id, got.Status)
		}
	}
}

func TestRetryAllFailedTouchesOnlyErrorItems(t *testing.T) {
	repo := memory.NewBatchRepo(memory.NewMemoryStorage())
	runner := &fakeRunner{failures: map[string]error{
		"b": classify.NewError(classify.ServerError, errors.New("internal error")),
	}}
	orch := New(repo, runner, 0, nil)
	orch.Attach("b1", newBatch(t, repo, "a", "b", "c"))

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	completedA, _ := repo.GetByID(context.Background(), "a")

	runner.order = nil
	summary, err := orch.RetryAllFailed(context.Background())
	if err != nil {
		t.Fatalf("RetryAllFailed failed: %v", err)
	}
	if summary.Total != 1 || summary.Completed != 1 {
		t.Errorf("summary = %+v, want exactly the one failed item retried", summary)
	}
	if len(runner.order) != 1 || runner.order[0] != "b" {
		t.Errorf("retried = %v, want [b]", runner.order)
	}

	got, _ := repo.GetByID(context.Background(), "b")
	if got.Status != domain.ItemStatusCompleted {
		t.Errorf("item b status = %s, want completed after retry", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if got.ErrorCategory != "" || got.ErrorHint != "" {
		t.Errorf("error fields not cleared: %q %q", got.ErrorCategory, got.ErrorHint)
	}

	untouchedA, _ := repo.GetByID(context.Background(), "a")
	if untouchedA.Result != completedA.Result || untouchedA.UpdatedAt != completedA.UpdatedAt {
		t.Error("completed item was modified by a failed-items retry")
	}
}

func TestRetrySubsetTargetsOnlyListedItems(t *testing.T) {
	repo := memory.NewBatchRepo(memory.NewMemoryStorage())
	runner := &fakeRunner{failures: map[string]error{
		"a": classify.NewError(classify.ServerError, errors.New("boom a")),
		"c": classify.NewError(classify.ServerError, errors.New("boom c")),
	}}
	orch := New(repo, runner, 0, nil)
	orch.Attach("b1", newBatch(t, repo, "a", "b", "c"))

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	runner.order = nil
	summary, err := orch.RetrySubset(context.Background(), []string{"c", "b"})
	if err != nil {
		t.Fatalf("RetrySubset failed: %v", err)
	}
	if summary.Total != 1 || summary.Completed != 1 {
		t.Errorf("summary = %+v, want only the listed failed item retried", summary)
	}
	if len(runner.order) != 1 || runner.order[0] != "c" {
		t.Errorf("retried = %v, want [c]", runner.order)
	}

	gotA, _ := repo.GetByID(context.Background(), "a")
	if gotA.Status != domain.ItemStatusError {
		t.Errorf("unlisted failed item status = %s, want error", gotA.Status)
	}
	gotC, _ := repo.GetByID(context.Background(), "c")
	if gotC.Status != domain.ItemStatusCompleted || gotC.RetryCount != 1 {
		t.Errorf("item c = %+v, want completed with retry count 1", gotC)
	}
}

func TestRunResumesStaleProcessingItem(t *testing.T) {
	repo := memory.NewBatchRepo(memory.NewMemoryStorage())
	runner := &fakeRunner{}
	orch := New(repo, runner, 0, nil)

	// Simulates a batch reloaded after a crash mid-item.
	items := newBatch(t, repo, "a", "b")
	items[0].Status = domain.ItemStatusProcessing
	_ = repo.Update(context.Background(), items[0])
	orch.Attach("b1", items)

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Completed != 2 || summary.Skipped != 0 {
		t.Errorf("summary = %+v, want both items completed", summary)
	}
	got, _ := repo.GetByID(context.Background(), "a")
	if got.Status != domain.ItemStatusCompleted {
		t.Errorf("stale item status = %s, want completed", got.Status)
	}
}

func TestCancellationMarksInFlightItemCancelled(t *testing.T) {
	repo := memory.NewBatchRepo(memory.NewMemoryStorage())
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{onItem: func(itemID string) {
		if itemID == "b" {
			cancel()
		}
	}}
	orch := New(repo, runner, 0, nil)
	orch.Attach("b1", newBatch(t, repo, "a", "b", "c"))

	summary, err := orch.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if summary.Completed != 1 || summary.Cancelled != 1 {
		t.Errorf("summary = %+v, want 1 completed 1 cancelled", summary)
	}

	gotB, _ := repo.GetByID(context.Background(), "b")
	if gotB.Status != domain.ItemStatusCancelled {
		t.Errorf("in-flight item status = %s, want cancelled", gotB.Status)
	}
	gotC, _ := repo.GetByID(context.Background(), "c")
	if gotC.Status != domain.ItemStatusPending {
		t.Errorf("later item status = %s, want pending", gotC.Status)
	}
}

func TestRunSkipsTerminalItems(t *testing.T) {
	repo := memory.NewBatchRepo(memory.NewMemoryStorage())
	runner := &fakeRunner{}
	orch := New(repo, runner, 0, nil)

	items := newBatch(t, repo, "a", "b")
	items[0].Status = domain.ItemStatusCompleted
	items[0].Result = "out/a.mp4"
	_ = repo.Update(context.Background(), items[0])
	orch.Attach("b1", items)

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Skipped != 1 || summary.Completed != 1 {
		t.Errorf("summary = %+v, want 1 skipped 1 completed", summary)
	}
	if len(runner.order) != 1 || runner.order[0] != "b" {
		t.Errorf("processed = %v, want [b]", runner.order)
	}
}

func TestRetryItemIgnoresCooldown(t *testing.T) {
	repo := memory.NewBatchRepo(memory.NewMemoryStorage())
	runner := &fakeRunner{failures: map[string]error{
		"a": classify.NewError(classify.ServerError, errors.New("boom")),
	}}
	orch := New(repo, runner, time.Hour, nil)
	orch.Attach("b1", newBatch(t, repo, "a"))

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- orch.RetryItem(context.Background(), "a") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RetryItem failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RetryItem blocked on cooldown")
	}

	got, _ := repo.GetByID(context.Background(), "a")
	if got.Status != domain.ItemStatusCompleted || got.RetryCount != 1 {
		t.Errorf("item = %+v, want completed with retry count 1", got)
	}
}

type recordingQueue struct {
	pushed  []string
	removed []string
}

func (q *recordingQueue) PushFailed(ctx context.Context, batchID, itemID string) error {
	q.pushed = append(q.pushed, itemID)
	return nil
}

func (q *recordingQueue) RemoveFailed(ctx context.Context, batchID, itemID string) error {
	q.removed = append(q.removed, itemID)
	return nil
}

func TestRetryQueueTracksFailures(t *testing.T) {
	repo := memory.NewBatchRepo(memory.NewMemoryStorage())
	queue := &recordingQueue{}
	runner := &fakeRunner{failures: map[string]error{
		"b": classify.NewError(classify.ServerError, errors.New("boom")),
	}}
	orch := New(repo, runner, 0, nil, WithRetryQueue(queue))
	orch.Attach("b1", newBatch(t, repo, "a", "b"))

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(queue.pushed) != 1 || queue.pushed[0] != "b" {
		t.Errorf("pushed = %v, want [b]", queue.pushed)
	}

	if _, err := orch.RetryAllFailed(context.Background()); err != nil {
		t.Fatalf("RetryAllFailed failed: %v", err)
	}
	if len(queue.removed) == 0 || queue.removed[len(queue.removed)-1] != "b" {
		t.Errorf("removed = %v, want b dequeued after successful retry", queue.removed)
	}
}
