package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/voxrecorder/internal/capture"
	"github.com/lexiqai/voxrecorder/internal/config"
	"github.com/lexiqai/voxrecorder/internal/observability"
	"github.com/lexiqai/voxrecorder/internal/resilience"
)

var (
	// ErrQueueFull is returned by Submit when a segment is dropped under
	// backpressure.
	ErrQueueFull = errors.New("persistence queue full")

	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("persistence pool closed")
)

// Status is the outcome of one persistence job.
type Status string

const (
	StatusWritten Status = "written"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped" // Nothing left after trimming
	StatusDropped Status = "dropped" // Rejected by backpressure
)

// Result reports what happened to one segment.
type Result struct {
	SegmentID string
	Status    Status
	Path      string
	Samples   int
	Attempts  int
	Duration  time.Duration // From hand-off to outcome, queue wait included
	Err       error
}

// SegmentWriter persists one segment.
type SegmentWriter interface {
	Write(ctx context.Context, seg *capture.Segment) (Output, error)
}

// PoolConfig sizes the pool and sets its backpressure policy.
type PoolConfig struct {
	Workers        int
	QueueSize      int
	Backpressure   string        // config.BackpressureBlock or config.BackpressureDrop
	EnqueueTimeout time.Duration // Longest Submit waits under the block policy
	Retry          *resilience.RetryConfig
}

// job is a queued segment with the time it was handed off.
type job struct {
	seg        *capture.Segment
	enqueuedAt time.Time
}

// Pool runs a fixed number of workers over a bounded queue of segments.
// It implements capture.Dispatcher.
type Pool struct {
	cfg     PoolConfig
	writer  SegmentWriter
	logger  zerolog.Logger
	jobs    chan job
	results chan Result

	// closing is closed when Close starts so blocked submitters give up
	// their read lock instead of holding Close off for EnqueueTimeout.
	closing   chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPool starts cfg.Workers workers. Every accepted segment yields exactly
// one Result on Results; the channel is closed once Close has drained the queue.
func NewPool(writer SegmentWriter, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		writer:  writer,
		logger:  observability.WithComponent("persist"),
		jobs:    make(chan job, cfg.QueueSize),
		results: make(chan Result, cfg.QueueSize+cfg.Workers),
		closing: make(chan struct{}),
		group:   &errgroup.Group{},
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.group.Go(p.work)
	}
	go func() {
		p.group.Wait()
		close(p.results)
		close(p.done)
	}()

	p.logger.Info().
		Int("workers", cfg.Workers).
		Int("queue_size", cfg.QueueSize).
		Str("backpressure", cfg.Backpressure).
		Msg("Persistence pool started")
	return p
}

// Results returns the channel of job outcomes.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// QueueDepth returns the number of segments waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.jobs)
}

// Submit enqueues seg. When the queue is full it either waits up to
// EnqueueTimeout (block policy) or gives up at once (drop policy); a
// segment that cannot be enqueued is dropped and ErrQueueFull returned.
// On success ownership of seg passes to the pool. A Submit waiting for
// space returns ErrPoolClosed as soon as Close is called.
func (p *Pool) Submit(ctx context.Context, seg *capture.Segment) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	j := job{seg: seg, enqueuedAt: time.Now()}
	select {
	case p.jobs <- j:
		observability.SetQueueDepth(len(p.jobs))
		return nil
	default:
	}

	if p.cfg.Backpressure == config.BackpressureBlock && p.cfg.EnqueueTimeout > 0 {
		timer := time.NewTimer(p.cfg.EnqueueTimeout)
		defer timer.Stop()

		select {
		case p.jobs <- j:
			observability.SetQueueDepth(len(p.jobs))
			return nil
		case <-p.closing:
			return ErrPoolClosed
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	observability.RecordPersist(string(StatusDropped))
	p.logger.Warn().
		Str("segment_id", seg.ID).
		Int("samples", seg.Len()).
		Int("queue_size", p.cfg.QueueSize).
		Str("backpressure", p.cfg.Backpressure).
		Msg("Persistence queue full, dropping segment")
	return fmt.Errorf("%w: segment %s dropped", ErrQueueFull, seg.ID)
}

// Close stops accepting segments and waits for queued ones to be written.
// If ctx ends first, in-flight retries are abandoned and ctx.Err() returned.
func (p *Pool) Close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.closing) })

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		p.cancel()
		p.logger.Info().Msg("Persistence pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		p.logger.Warn().Msg("Persistence drain timed out, remaining segments abandoned")
		return ctx.Err()
	}
}

func (p *Pool) work() error {
	for j := range p.jobs {
		observability.SetQueueDepth(len(p.jobs))
		p.results <- p.process(j)
	}
	return nil
}

// process writes one segment, retrying I/O failures. Duration counts from
// hand-off, so time spent queued is included.
func (p *Pool) process(j job) Result {
	seg := j.seg
	res := Result{SegmentID: seg.ID}

	var out Output
	err := resilience.Retry(p.ctx, func(attempt int) error {
		res.Attempts = attempt
		var err error
		out, err = p.writer.Write(p.ctx, seg)
		return err
	}, p.cfg.Retry, resilience.IsRetryable)

	res.Duration = time.Since(j.enqueuedAt)
	switch {
	case err == nil:
		res.Status = StatusWritten
		res.Path = out.Path
		res.Samples = out.Samples
	case errors.Is(err, ErrEmptySegment):
		res.Status = StatusSkipped
	default:
		res.Status = StatusFailed
		res.Err = err
	}
	return res
}
