package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/voxrecorder/internal/capture"
	"github.com/lexiqai/voxrecorder/internal/config"
	"github.com/lexiqai/voxrecorder/internal/resilience"
)

// funcWriter adapts a function to SegmentWriter and counts calls per segment.
type funcWriter struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, seg *capture.Segment, call int) (Output, error)
}

func newFuncWriter(fn func(ctx context.Context, seg *capture.Segment, call int) (Output, error)) *funcWriter {
	return &funcWriter{calls: make(map[string]int), fn: fn}
}

func (w *funcWriter) Write(ctx context.Context, seg *capture.Segment) (Output, error) {
	w.mu.Lock()
	w.calls[seg.ID]++
	call := w.calls[seg.ID]
	w.mu.Unlock()
	return w.fn(ctx, seg, call)
}

func (w *funcWriter) callCount(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[id]
}

func testPoolConfig(workers, queue int, policy string) PoolConfig {
	return PoolConfig{
		Workers:        workers,
		QueueSize:      queue,
		Backpressure:   policy,
		EnqueueTimeout: 50 * time.Millisecond,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       2,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 1,
		},
	}
}

func collect(t *testing.T, results <-chan Result, n int) []Result {
	t.Helper()
	var out []Result
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case res, ok := <-results:
			if !ok {
				t.Fatalf("results closed after %d of %d", len(out), n)
			}
			out = append(out, res)
		case <-timeout:
			t.Fatalf("timed out after %d of %d results", len(out), n)
		}
	}
	return out
}

func TestPool_WritesEverySegment(t *testing.T) {
	dir := t.TempDir()
	pool := NewPool(testWriter(t, dir), testPoolConfig(3, 16, config.BackpressureBlock))

	const n = 10
	for i := 0; i < n; i++ {
		if err := pool.Submit(context.Background(), testSegment(fmt.Sprintf("seg-%d", i), 3000, 0, -3000)); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	results := collect(t, pool.Results(), n)
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, res := range results {
		if res.Status != StatusWritten {
			t.Errorf("segment %s: Expected written, got %s (%v)", res.SegmentID, res.Status, res.Err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != n {
		t.Errorf("Expected %d files, got %d", n, len(entries))
	}

	if _, ok := <-pool.Results(); ok {
		t.Error("Expected results channel closed after Close")
	}
}

func TestPool_SlowJobDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	w := newFuncWriter(func(ctx context.Context, seg *capture.Segment, call int) (Output, error) {
		if seg.ID == "slow" {
			<-release
		}
		return Output{Path: seg.ID + ".wav"}, nil
	})
	pool := NewPool(w, testPoolConfig(2, 8, config.BackpressureBlock))

	ctx := context.Background()
	for _, id := range []string{"slow", "a", "b", "c"} {
		if err := pool.Submit(ctx, testSegment(id, 3000)); err != nil {
			t.Fatalf("Submit %s failed: %v", id, err)
		}
	}

	fast := collect(t, pool.Results(), 3)
	for _, res := range fast {
		if res.SegmentID == "slow" {
			t.Error("Expected slow segment to still be in flight")
		}
	}

	close(release)
	last := collect(t, pool.Results(), 1)
	if last[0].SegmentID != "slow" || last[0].Status != StatusWritten {
		t.Errorf("Expected slow segment written last, got %+v", last[0])
	}

	if err := pool.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

// stalledPool returns a one-worker pool whose worker is busy and whose queue
// is full, plus the function that frees the worker.
func stalledPool(t *testing.T, policy string) (*Pool, func()) {
	t.Helper()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	w := newFuncWriter(func(ctx context.Context, seg *capture.Segment, call int) (Output, error) {
		if seg.ID == "busy" {
			started <- struct{}{}
			<-release
		}
		return Output{}, nil
	})
	pool := NewPool(w, testPoolConfig(1, 1, policy))

	ctx := context.Background()
	if err := pool.Submit(ctx, testSegment("busy", 3000)); err != nil {
		t.Fatalf("Submit busy failed: %v", err)
	}
	<-started
	if err := pool.Submit(ctx, testSegment("queued", 3000)); err != nil {
		t.Fatalf("Submit queued failed: %v", err)
	}

	var once sync.Once
	return pool, func() { once.Do(func() { close(release) }) }
}

func TestPool_DropPolicy(t *testing.T) {
	pool, release := stalledPool(t, config.BackpressureDrop)
	defer release()

	start := time.Now()
	err := pool.Submit(context.Background(), testSegment("extra", 3000))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("Expected drop policy to return at once, took %s", elapsed)
	}

	release()
	collect(t, pool.Results(), 2)
	pool.Close(context.Background())
}

func TestPool_BlockPolicyTimesOut(t *testing.T) {
	pool, release := stalledPool(t, config.BackpressureBlock)
	defer release()

	start := time.Now()
	err := pool.Submit(context.Background(), testSegment("extra", 3000))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull after timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Expected Submit to wait for the enqueue timeout, took %s", elapsed)
	}

	release()
	collect(t, pool.Results(), 2)
	pool.Close(context.Background())
}

func TestPool_BlockPolicyWaitsForSpace(t *testing.T) {
	pool, release := stalledPool(t, config.BackpressureBlock)
	pool.cfg.EnqueueTimeout = 5 * time.Second

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	if err := pool.Submit(context.Background(), testSegment("extra", 3000)); err != nil {
		t.Fatalf("Expected Submit to succeed once space frees up, got %v", err)
	}

	collect(t, pool.Results(), 3)
	pool.Close(context.Background())
}

func TestPool_RetriesIOErrorOnce(t *testing.T) {
	w := newFuncWriter(func(ctx context.Context, seg *capture.Segment, call int) (Output, error) {
		if call == 1 {
			return Output{}, resilience.NewRetryableError(errors.New("disk busy"))
		}
		return Output{Path: "ok.wav"}, nil
	})
	pool := NewPool(w, testPoolConfig(1, 1, config.BackpressureBlock))

	if err := pool.Submit(context.Background(), testSegment("a", 3000)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	res := collect(t, pool.Results(), 1)[0]
	pool.Close(context.Background())

	if res.Status != StatusWritten {
		t.Errorf("Expected written after retry, got %s (%v)", res.Status, res.Err)
	}
	if res.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", res.Attempts)
	}
}

func TestPool_FailureAfterRetries(t *testing.T) {
	w := newFuncWriter(func(ctx context.Context, seg *capture.Segment, call int) (Output, error) {
		return Output{}, resilience.NewRetryableError(errors.New("disk full"))
	})
	pool := NewPool(w, testPoolConfig(1, 1, config.BackpressureBlock))

	pool.Submit(context.Background(), testSegment("a", 3000))
	res := collect(t, pool.Results(), 1)[0]
	pool.Close(context.Background())

	if res.Status != StatusFailed || res.Err == nil {
		t.Errorf("Expected failed with error, got %s (%v)", res.Status, res.Err)
	}
	if w.callCount("a") != 2 {
		t.Errorf("Expected 2 write calls, got %d", w.callCount("a"))
	}
}

func TestPool_InvalidParamsNotRetried(t *testing.T) {
	w := newFuncWriter(func(ctx context.Context, seg *capture.Segment, call int) (Output, error) {
		return Output{}, fmt.Errorf("%w: bad format", ErrInvalidParams)
	})
	pool := NewPool(w, testPoolConfig(1, 1, config.BackpressureBlock))

	pool.Submit(context.Background(), testSegment("a", 3000))
	res := collect(t, pool.Results(), 1)[0]
	pool.Close(context.Background())

	if res.Status != StatusFailed || !errors.Is(res.Err, ErrInvalidParams) {
		t.Errorf("Expected failed with ErrInvalidParams, got %s (%v)", res.Status, res.Err)
	}
	if w.callCount("a") != 1 {
		t.Errorf("Expected 1 write call, got %d", w.callCount("a"))
	}
}

func TestPool_EmptySegmentSkipped(t *testing.T) {
	pool := NewPool(testWriter(t, t.TempDir()), testPoolConfig(1, 1, config.BackpressureBlock))

	pool.Submit(context.Background(), testSegment("quiet", 0, 0))
	res := collect(t, pool.Results(), 1)[0]
	pool.Close(context.Background())

	if res.Status != StatusSkipped {
		t.Errorf("Expected skipped, got %s", res.Status)
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	pool := NewPool(testWriter(t, t.TempDir()), testPoolConfig(1, 1, config.BackpressureBlock))
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := pool.Submit(context.Background(), testSegment("late", 3000)); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
	if err := pool.Close(context.Background()); err != nil {
		t.Errorf("Expected second Close to succeed, got %v", err)
	}
}

func TestPool_CloseDrainsQueue(t *testing.T) {
	w := newFuncWriter(func(ctx context.Context, seg *capture.Segment, call int) (Output, error) {
		time.Sleep(5 * time.Millisecond)
		return Output{Path: seg.ID}, nil
	})
	pool := NewPool(w, testPoolConfig(1, 8, config.BackpressureBlock))

	for i := 0; i < 5; i++ {
		pool.Submit(context.Background(), testSegment(fmt.Sprintf("seg-%d", i), 3000))
	}

	var results []Result
	done := make(chan struct{})
	go func() {
		for res := range pool.Results() {
			results = append(results, res)
		}
		close(done)
	}()

	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	<-done

	if len(results) != 5 {
		t.Errorf("Expected 5 results after drain, got %d", len(results))
	}
}

func TestPool_CloseTimeout(t *testing.T) {
	w := newFuncWriter(func(ctx context.Context, seg *capture.Segment, call int) (Output, error) {
		<-ctx.Done()
		return Output{}, ctx.Err()
	})
	pool := NewPool(w, testPoolConfig(1, 1, config.BackpressureBlock))
	pool.Submit(context.Background(), testSegment("stuck", 3000))

	go func() {
		for range pool.Results() {
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := pool.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestPool_ImplementsDispatcher(t *testing.T) {
	var _ capture.Dispatcher = (*Pool)(nil)
}

func TestPool_DurationIncludesQueueWait(t *testing.T) {
	w := newFuncWriter(func(ctx context.Context, seg *capture.Segment, call int) (Output, error) {
		if seg.ID == "first" {
			time.Sleep(50 * time.Millisecond)
		}
		return Output{Path: seg.ID}, nil
	})
	pool := NewPool(w, testPoolConfig(1, 4, config.BackpressureBlock))

	ctx := context.Background()
	pool.Submit(ctx, testSegment("first", 3000))
	pool.Submit(ctx, testSegment("second", 3000))

	results := collect(t, pool.Results(), 2)
	pool.Close(ctx)

	for _, res := range results {
		if res.SegmentID == "second" && res.Duration < 50*time.Millisecond {
			t.Errorf("Expected queued segment duration to include the wait, got %s", res.Duration)
		}
	}
}

func TestPool_CloseReleasesBlockedSubmit(t *testing.T) {
	pool, release := stalledPool(t, config.BackpressureBlock)
	defer release()
	pool.cfg.EnqueueTimeout = 5 * time.Second

	submitErr := make(chan error, 1)
	go func() {
		submitErr <- pool.Submit(context.Background(), testSegment("waiting", 3000))
	}()
	time.Sleep(20 * time.Millisecond)

	closeErr := make(chan error, 1)
	go func() {
		closeErr <- pool.Close(context.Background())
	}()

	select {
	case err := <-submitErr:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("Expected ErrPoolClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected Close to release the waiting Submit before the enqueue timeout")
	}

	release()
	if err := <-closeErr; err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
