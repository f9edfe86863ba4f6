package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/genqueue/internal/breaker"
	"github.com/vietddude/genqueue/internal/core/domain"
	"github.com/vietddude/genqueue/internal/provider"
	"github.com/vietddude/genqueue/internal/queue"
	"github.com/vietddude/genqueue/internal/retry"
)

type fakeClient struct {
	mu       sync.Mutex
	generate func(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error)
	requests []*domain.GenerationRequest
}

func (f *fakeClient) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	reqCopy := *req
	f.mu.Lock()
	f.requests = append(f.requests, &reqCopy)
	gen := f.generate
	f.mu.Unlock()
	if gen != nil {
		return gen(ctx, req)
	}
	return &domain.GenerationResult{ID: req.Prompt, ResultURL: "https://cdn.example/" + req.Prompt}, nil
}

func (f *fakeClient) Cancel(ctx context.Context, jobID string) error { return nil }

func (f *fakeClient) GetStatus(ctx context.Context, jobID string) (domain.ProviderJobStatus, error) {
	return domain.ProviderStatusRunning, nil
}

func (f *fakeClient) ClientFor(string) (provider.Client, error) { return f, nil }

func newTestQueue(t *testing.T, fake *fakeClient) *queue.Queue {
	t.Helper()
	q := queue.New(queue.Config{
		MaxConcurrent:     3,
		ProcessingTimeout: 5 * time.Second,
		Policy: retry.Policy{
			Name:         "test",
			MaxRetries:   0,
			BaseDelay:    2 * time.Millisecond,
			MaxDelay:     10 * time.Millisecond,
			JitterFactor: 0.1,
		},
		Breaker: breaker.Config{FailureThreshold: 100, ResetTimeout: time.Minute},
	}, fake)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	})
	return q
}

func frames(n int) []*domain.Job {
	jobs := make([]*domain.Job, n)
	for i := range jobs {
		jobs[i] = &domain.Job{
			ID:          fmt.Sprintf("frame-%d", i+1),
			ProviderKey: "test",
			Payload:     &domain.GenerationRequest{Kind: domain.KindImage, Prompt: fmt.Sprintf("frame-%d", i+1)},
		}
	}
	return jobs
}

func TestRunParallel_AllSettled(t *testing.T) {
	fake := &fakeClient{
		generate: func(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
			if req.Prompt == "frame-2" {
				return nil, errors.New("401 invalid api key")
			}
			return &domain.GenerationResult{ID: req.Prompt}, nil
		},
	}
	q := newTestQueue(t, fake)
	o := New(q, nil)

	_, results, err := o.RunParallel(context.Background(), "", frames(4))
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	failures := 0
	for i, r := range results {
		if r.Err != nil {
			failures++
			if i != 1 {
				t.Errorf("unexpected failure at index %d: %v", i, r.Err)
			}
			continue
		}
		if r.Job.Result == nil {
			t.Errorf("result %d missing generation result", i)
		}
	}
	if failures != 1 {
		t.Errorf("expected exactly 1 failure, got %d", failures)
	}
}

func TestRunSequential_ConsistencyPropagation(t *testing.T) {
	fake := &fakeClient{
		generate: func(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
			if req.Prompt == "frame-2" {
				return nil, errors.New("500 internal server error")
			}
			return &domain.GenerationResult{ID: req.Prompt}, nil
		},
	}
	q := newTestQueue(t, fake)

	var extractions int64
	o := New(q, func(res *domain.GenerationResult) *domain.ConsistencyContext {
		atomic.AddInt64(&extractions, 1)
		return &domain.ConsistencyContext{Lighting: "golden hour", StyleNotes: "from " + res.ID}
	})

	_, results, err := o.RunSequential(context.Background(), "", frames(3))
	if err != nil {
		t.Fatalf("RunSequential: %v", err)
	}

	// Frame 2 fails but frames 1 and 3 both complete.
	if results[0].Err != nil {
		t.Errorf("frame 1 should complete, got %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("frame 2 should fail")
	}
	if results[2].Err != nil {
		t.Errorf("frame 3 should complete despite frame 2 failing, got %v", results[2].Err)
	}

	// The extractor runs exactly once, after the first success.
	if got := atomic.LoadInt64(&extractions); got != 1 {
		t.Errorf("expected exactly 1 extraction, got %d", got)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.requests) != 3 {
		t.Fatalf("expected 3 provider calls, got %d", len(fake.requests))
	}
	if fake.requests[0].Consistency != nil {
		t.Error("frame 1 must run without consistency context")
	}
	for i := 1; i < 3; i++ {
		if fake.requests[i].Consistency == nil {
			t.Errorf("frame %d missing propagated consistency context", i+1)
		} else if fake.requests[i].Consistency.Lighting != "golden hour" {
			t.Errorf("frame %d got wrong context: %+v", i+1, fake.requests[i].Consistency)
		}
	}
}

func TestRunSequential_StrictOrder(t *testing.T) {
	fake := &fakeClient{}
	q := newTestQueue(t, fake)
	o := New(q, nil)

	_, results, err := o.RunSequential(context.Background(), "", frames(5))
	if err != nil {
		t.Fatalf("RunSequential: %v", err)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected failure: %v", r.Err)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	for i, req := range fake.requests {
		want := fmt.Sprintf("frame-%d", i+1)
		if req.Prompt != want {
			t.Fatalf("sequential order broken at %d: got %s, want %s", i, req.Prompt, want)
		}
	}
}

func TestRunParallel_DuplicateJob(t *testing.T) {
	fake := &fakeClient{}
	q := newTestQueue(t, fake)
	o := New(q, nil)

	jobs := frames(2)
	jobs[1].ID = jobs[0].ID

	_, results, err := o.RunParallel(context.Background(), "", jobs)
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}
	if results[0].Err != nil {
		t.Errorf("first copy should run: %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrDuplicate) {
		t.Errorf("second copy should be rejected as duplicate, got %v", results[1].Err)
	}
}

func TestCancelBatch(t *testing.T) {
	release := make(chan struct{})
	var calls int64
	fake := &fakeClient{
		generate: func(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
			atomic.AddInt64(&calls, 1)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &domain.GenerationResult{ID: req.Prompt}, nil
		},
	}
	q := queue.New(queue.Config{
		MaxConcurrent:     1,
		ProcessingTimeout: 5 * time.Second,
		Policy:            retry.Policy{Name: "test", MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Breaker:           breaker.Config{FailureThreshold: 100, ResetTimeout: time.Minute},
	}, fake)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	})
	o := New(q, nil)

	jobs := frames(3)
	resultCh := make(chan []Result, 1)
	batchID := "batch-1"
	go func() {
		_, results, _ := o.RunParallel(context.Background(), batchID, jobs)
		resultCh <- results
	}()

	// Wait until the first job holds the only slot and the rest are
	// admitted behind it.
	deadline := time.After(2 * time.Second)
	for {
		st := q.GetStatus()
		if atomic.LoadInt64(&calls) == 1 && st.Processing == 1 && st.Pending == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("batch never settled into the expected shape: %+v", q.GetStatus())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if n := o.CancelBatch(batchID); n != 3 {
		t.Errorf("expected 3 cancellations, got %d", n)
	}
	close(release)

	results := <-resultCh
	for i, r := range results {
		if r.Err == nil {
			t.Errorf("job %d should not succeed after batch cancel", i)
		}
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("only the in-flight job should have reached the provider, got %d calls", got)
	}
}
