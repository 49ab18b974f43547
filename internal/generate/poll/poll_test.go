package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/genflow/internal/classify"
	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/infra/provider"
)

// fakeTransport replays a scripted sequence of handle states per refresh.
type fakeTransport struct {
	refreshes int
	states    []*domain.OperationHandle
	err       error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Generate(ctx context.Context, key, model string, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTransport) SubmitJob(ctx context.Context, key, model string, req *domain.GenerationRequest) (*domain.OperationHandle, error) {
	return &domain.OperationHandle{Name: "operations/abc"}, nil
}

func (f *fakeTransport) RefreshJob(ctx context.Context, key string, handle *domain.OperationHandle) (*domain.OperationHandle, error) {
	f.refreshes++
	if f.err != nil {
		return nil, f.err
	}
	idx := f.refreshes - 1
	if idx >= len(f.states) {
		idx = len(f.states) - 1
	}
	return f.states[idx], nil
}

func (f *fakeTransport) GetHealth() provider.HealthStatus { return provider.HealthStatus{} }
func (f *fakeTransport) Close() error                     { return nil }

func running(name string) *domain.OperationHandle {
	return &domain.OperationHandle{Name: name}
}

func finished(name, uri string) *domain.OperationHandle {
	return &domain.OperationHandle{
		Name: name,
		Done: true,
		Result: &domain.OperationResult{
			VideoURI: uri,
		},
	}
}

func TestInlineResultResolvesWithoutRefresh(t *testing.T) {
	tr := &fakeTransport{}
	p := New(tr, time.Millisecond, 5, nil)

	handle := finished("operations/abc", "https://example.com/video.mp4")
	ref, err := p.WaitForResult(context.Background(), "key", handle)
	if err != nil {
		t.Fatalf("WaitForResult failed: %v", err)
	}
	if ref != "https://example.com/video.mp4" {
		t.Errorf("ref = %s", ref)
	}
	if tr.refreshes != 0 {
		t.Errorf("refreshes = %d, want 0", tr.refreshes)
	}
}

func TestResolveBeforeDoneFlag(t *testing.T) {
	// A resolvable reference wins even if the provider never set done.
	h := &domain.OperationHandle{
		Name:   "operations/abc",
		Done:   false,
		Result: &domain.OperationResult{DownloadURI: "https://example.com/out.mp4"},
	}
	ref, ok := Resolve(h)
	if !ok || ref != "https://example.com/out.mp4" {
		t.Fatalf("Resolve = %q, %v", ref, ok)
	}
}

func TestResolveCandidateOrder(t *testing.T) {
	h := &domain.OperationHandle{
		Name: "operations/abc",
		Result: &domain.OperationResult{
			VideoURI:    "first",
			DownloadURI: "second",
			FileURI:     "third",
		},
	}
	if ref, _ := Resolve(h); ref != "first" {
		t.Errorf("ref = %s, want first", ref)
	}

	h.Result.VideoURI = ""
	if ref, _ := Resolve(h); ref != "second" {
		t.Errorf("ref = %s, want second", ref)
	}
}

func TestPollsUntilResult(t *testing.T) {
	tr := &fakeTransport{states: []*domain.OperationHandle{
		running("operations/abc"),
		running("operations/abc"),
		finished("operations/abc", "https://example.com/video.mp4"),
	}}
	p := New(tr, time.Millisecond, 10, nil)

	ref, err := p.WaitForResult(context.Background(), "key", running("operations/abc"))
	if err != nil {
		t.Fatalf("WaitForResult failed: %v", err)
	}
	if ref != "https://example.com/video.mp4" {
		t.Errorf("ref = %s", ref)
	}
	if tr.refreshes != 3 {
		t.Errorf("refreshes = %d, want 3", tr.refreshes)
	}
}

func TestOperationErrorFailsImmediately(t *testing.T) {
	tr := &fakeTransport{states: []*domain.OperationHandle{
		{Name: "operations/abc", Done: true, ErrorMessage: "blocked by safety filter"},
	}}
	p := New(tr, time.Millisecond, 10, nil)

	_, err := p.WaitForResult(context.Background(), "key", running("operations/abc"))

	var opErr *OperationFailedError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationFailedError, got %v", err)
	}
	if tr.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1 (fail fast)", tr.refreshes)
	}
	if cat := classify.Classify(err); cat != classify.ContentRejected {
		t.Errorf("category = %v, want %v", cat, classify.ContentRejected)
	}
}

func TestPollCeilingYieldsTimeout(t *testing.T) {
	tr := &fakeTransport{states: []*domain.OperationHandle{running("operations/abc")}}
	p := New(tr, time.Millisecond, 4, nil)

	_, err := p.WaitForResult(context.Background(), "key", running("operations/abc"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if cat := classify.Classify(err); cat != classify.Timeout {
		t.Errorf("category = %v, want %v", cat, classify.Timeout)
	}
	if tr.refreshes != 4 {
		t.Errorf("refreshes = %d, want exactly maxPolls", tr.refreshes)
	}
}

func TestRefreshFailurePropagates(t *testing.T) {
	boom := &provider.Error{Provider: "fake", Code: 503, Message: "unavailable"}
	tr := &fakeTransport{err: boom}
	p := New(tr, time.Millisecond, 10, nil)

	_, err := p.WaitForResult(context.Background(), "key", running("operations/abc"))
	var perr *provider.Error
	if !errors.As(err, &perr) || perr != boom {
		t.Fatalf("expected transport error, got %v", err)
	}
	if tr.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", tr.refreshes)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	tr := &fakeTransport{states: []*domain.OperationHandle{running("operations/abc")}}
	p := New(tr, time.Hour, 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.WaitForResult(ctx, "key", running("operations/abc"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tr.refreshes != 0 {
		t.Errorf("refreshes = %d, want 0", tr.refreshes)
	}
}
