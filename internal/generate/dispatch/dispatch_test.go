package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/genflow/internal/core/domain"
	"github.com/vietddude/genflow/internal/infra/provider"
)

// fakeTransport scripts per-model responses and counts attempts.
type fakeTransport struct {
	attempts map[string]int
	fail     map[string]error // model -> error returned on every attempt
	results  map[string]*domain.GenerationResult
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		attempts: make(map[string]int),
		fail:     make(map[string]error),
		results:  make(map[string]*domain.GenerationResult),
	}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Generate(ctx context.Context, key, model string, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	f.attempts[model]++
	if err := f.fail[model]; err != nil {
		return nil, err
	}
	if res := f.results[model]; res != nil {
		return res, nil
	}
	return &domain.GenerationResult{Model: model, Data: []byte("ok")}, nil
}

func (f *fakeTransport) SubmitJob(ctx context.Context, key, model string, req *domain.GenerationRequest) (*domain.OperationHandle, error) {
	f.attempts[model]++
	if err := f.fail[model]; err != nil {
		return nil, err
	}
	return &domain.OperationHandle{Name: "operations/" + model}, nil
}

func (f *fakeTransport) RefreshJob(ctx context.Context, key string, handle *domain.OperationHandle) (*domain.OperationHandle, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTransport) GetHealth() provider.HealthStatus { return provider.HealthStatus{} }
func (f *fakeTransport) Close() error                     { return nil }

func overloaded() error {
	return &provider.Error{Provider: "fake", Code: 503, Status: "UNAVAILABLE", Message: "model overloaded"}
}

func quickPolicy(n int) RetryPolicy {
	delays := make([]time.Duration, n)
	for i := range delays {
		delays[i] = time.Millisecond
	}
	return RetryPolicy{Delays: delays}
}

func TestRetryCountPerModel(t *testing.T) {
	// A model that always overloads is attempted exactly k+1 times for a
	// policy of length k before falling back.
	for _, k := range []int{0, 1, 3} {
		tr := newFakeTransport()
		tr.fail["primary"] = overloaded()

		d := New(tr, nil)
		_, err := d.Dispatch(context.Background(), "key", Plan{
			Primary:   "primary",
			Fallbacks: []string{"backup"},
			Policy:    quickPolicy(k),
		}, &domain.GenerationRequest{Prompt: "p"})
		if err != nil {
			t.Fatalf("k=%d: expected fallback success, got %v", k, err)
		}

		if got := tr.attempts["primary"]; got != k+1 {
			t.Errorf("k=%d: primary attempted %d times, want %d", k, got, k+1)
		}
		if got := tr.attempts["backup"]; got != 1 {
			t.Errorf("k=%d: backup attempted %d times, want 1", k, got)
		}
	}
}

func TestNonOverloadFailurePropagatesImmediately(t *testing.T) {
	tr := newFakeTransport()
	rejected := &provider.Error{Provider: "fake", Code: 400, Status: "SAFETY", Message: "blocked"}
	tr.fail["primary"] = rejected

	d := New(tr, nil)
	_, err := d.Dispatch(context.Background(), "key", Plan{
		Primary:   "primary",
		Fallbacks: []string{"backup"},
		Policy:    quickPolicy(3),
	}, &domain.GenerationRequest{Prompt: "p"})

	var perr *provider.Error
	if !errors.As(err, &perr) || perr != rejected {
		t.Fatalf("expected the original provider error, got %v", err)
	}
	if tr.attempts["primary"] != 1 {
		t.Errorf("primary attempted %d times, want 1", tr.attempts["primary"])
	}
	if tr.attempts["backup"] != 0 {
		t.Errorf("backup attempted %d times, want 0", tr.attempts["backup"])
	}
}

func TestNonOverloadFailureOnFallbackSurfaces(t *testing.T) {
	tr := newFakeTransport()
	tr.fail["primary"] = overloaded()
	tr.fail["backup"] = &provider.Error{Code: 401, Message: "API key not valid"}

	d := New(tr, nil)
	_, err := d.Dispatch(context.Background(), "key", Plan{
		Primary:   "primary",
		Fallbacks: []string{"backup", "third"},
		Policy:    quickPolicy(1),
	}, &domain.GenerationRequest{Prompt: "p"})

	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Code != 401 {
		t.Fatalf("expected the fallback's auth error, got %v", err)
	}
	if tr.attempts["third"] != 0 {
		t.Errorf("third attempted %d times, want 0", tr.attempts["third"])
	}
}

func TestFallbackChainDeduplicated(t *testing.T) {
	tr := newFakeTransport()
	tr.fail["a"] = overloaded()
	tr.fail["b"] = overloaded()

	d := New(tr, nil)
	_, err := d.Dispatch(context.Background(), "key", Plan{
		Primary:   "a",
		Fallbacks: []string{"a", "b", "b", "", "a"},
		Policy:    quickPolicy(0),
	}, &domain.GenerationRequest{Prompt: "p"})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if tr.attempts["a"] != 1 || tr.attempts["b"] != 1 {
		t.Errorf("attempts a=%d b=%d, want 1 each", tr.attempts["a"], tr.attempts["b"])
	}
	if len(exhausted.Models) != 2 {
		t.Errorf("exhausted models = %v, want 2 entries", exhausted.Models)
	}
}

func TestEmptyFallbackChainIsSingleModelRetry(t *testing.T) {
	tr := newFakeTransport()
	tr.fail["only"] = overloaded()

	d := New(tr, nil)
	_, err := d.Dispatch(context.Background(), "key", Plan{
		Primary: "only",
		Policy:  quickPolicy(2),
	}, &domain.GenerationRequest{Prompt: "p"})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if tr.attempts["only"] != 3 {
		t.Errorf("attempted %d times, want 3", tr.attempts["only"])
	}
}

func TestOverloadedPrimaryThenFallbackSucceeds(t *testing.T) {
	// Policy of two delays: exactly 3 attempts on primary, then the first
	// fallback succeeds on its first attempt and its result is returned.
	tr := newFakeTransport()
	tr.fail["veo-3"] = overloaded()
	tr.results["veo-2"] = &domain.GenerationResult{Model: "veo-2", Data: []byte("video")}

	d := New(tr, nil)
	res, err := d.Dispatch(context.Background(), "key", Plan{
		Primary:   "veo-3",
		Fallbacks: []string{"veo-2"},
		Policy:    RetryPolicy{Delays: []time.Duration{time.Millisecond, 2 * time.Millisecond}},
	}, &domain.GenerationRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if tr.attempts["veo-3"] != 3 {
		t.Errorf("primary attempted %d times, want 3", tr.attempts["veo-3"])
	}
	if tr.attempts["veo-2"] != 1 {
		t.Errorf("fallback attempted %d times, want 1", tr.attempts["veo-2"])
	}
	if res.Model != "veo-2" {
		t.Errorf("result model = %s, want veo-2", res.Model)
	}
}

func TestDispatchJobFallsBackOnOverload(t *testing.T) {
	tr := newFakeTransport()
	tr.fail["veo-3"] = overloaded()

	d := New(tr, nil)
	handle, err := d.DispatchJob(context.Background(), "key", Plan{
		Primary:   "veo-3",
		Fallbacks: []string{"veo-2"},
		Policy:    quickPolicy(1),
	}, &domain.GenerationRequest{Kind: domain.JobKindVideo, Prompt: "p"})
	if err != nil {
		t.Fatalf("DispatchJob failed: %v", err)
	}

	if handle.Name != "operations/veo-2" {
		t.Errorf("handle = %s, want the fallback's operation", handle.Name)
	}
	if tr.attempts["veo-3"] != 2 || tr.attempts["veo-2"] != 1 {
		t.Errorf("attempts veo-3=%d veo-2=%d, want 2 and 1",
			tr.attempts["veo-3"], tr.attempts["veo-2"])
	}
}

func TestDispatchHonorsCancellation(t *testing.T) {
	tr := newFakeTransport()
	tr.fail["primary"] = overloaded()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(tr, nil)
	_, err := d.Dispatch(ctx, "key", Plan{
		Primary: "primary",
		Policy:  RetryPolicy{Delays: []time.Duration{time.Hour}},
	}, &domain.GenerationRequest{Prompt: "p"})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tr.attempts["primary"] != 1 {
		t.Errorf("attempted %d times, want 1", tr.attempts["primary"])
	}
}
