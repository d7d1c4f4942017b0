package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voxrecorder/internal/audio"
	"github.com/lexiqai/voxrecorder/internal/device"
	"github.com/lexiqai/voxrecorder/internal/observability"
	"github.com/lexiqai/voxrecorder/internal/resilience"
)

// ErrDeviceLost is returned by Run when the input keeps failing and cannot
// be reopened.
var ErrDeviceLost = errors.New("capture device lost")

// Read error kinds reported to metrics.
const (
	readErrorEmpty  = "empty"
	readErrorDevice = "device"
)

// Dispatcher accepts closed segments for persistence. Submit must return
// promptly; it may wait only for a bounded enqueue timeout.
type Dispatcher interface {
	Submit(ctx context.Context, seg *Segment) error
}

// LoopConfig configures the capture loop.
type LoopConfig struct {
	Segmenter       SegmenterConfig
	ReadMaxFailures int                         // Consecutive read failures before reopening the source
	ReadBackoff     *resilience.RetryConfig     // Backoff between failed reads
	Reconnect       *resilience.ReconnectConfig // Reopen attempts after ReadMaxFailures
}

// Loop reads blocks from a Source, feeds them to a Segmenter and dispatches
// every closed segment.
type Loop struct {
	src        device.Source
	segmenter  *Segmenter
	dispatcher Dispatcher
	cfg        LoopConfig
	logger     zerolog.Logger

	lastRead atomic.Int64 // Unix nanoseconds of the last successful read
	lastAt   time.Time    // Timestamp of the last block fed to the segmenter
}

// NewLoop creates a capture loop. Run must be called at most once.
func NewLoop(src device.Source, dispatcher Dispatcher, cfg LoopConfig) *Loop {
	if cfg.ReadMaxFailures <= 0 {
		cfg.ReadMaxFailures = 1
	}
	if cfg.ReadBackoff == nil {
		cfg.ReadBackoff = resilience.DefaultRetryConfig()
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = resilience.DefaultReconnectConfig()
	}

	return &Loop{
		src:        src,
		segmenter:  NewSegmenter(cfg.Segmenter),
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     observability.WithComponent("capture"),
	}
}

// LastReadAt returns the wall-clock time of the last successful block read,
// or the zero time if none has completed.
func (l *Loop) LastReadAt() time.Time {
	n := l.lastRead.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run reads until the context is canceled or the source ends, flushing any
// open segment on the way out. It returns nil on cancellation and io.EOF,
// and an error wrapping ErrDeviceLost when the source cannot be recovered.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().
		Int("threshold", l.cfg.Segmenter.Threshold).
		Dur("silence_timeout", l.cfg.Segmenter.SilenceTimeout).
		Int("max_samples", l.cfg.Segmenter.MaxSamples).
		Msg("Capture loop started")

	failures := 0
	for {
		block, err := l.src.ReadBlock(ctx)
		if err == nil && len(block.Samples) == 0 {
			err = device.ErrEmptyBlock
		}

		if err != nil {
			if ctx.Err() != nil {
				l.flush(ctx, ReasonShutdown)
				return nil
			}
			if errors.Is(err, io.EOF) {
				l.logger.Info().Msg("Input ended")
				l.flush(ctx, ReasonEOF)
				return nil
			}

			failures++
			l.recordReadError(err, failures)

			if failures >= l.cfg.ReadMaxFailures {
				if rerr := l.reopen(ctx); rerr != nil {
					if ctx.Err() != nil {
						l.flush(ctx, ReasonShutdown)
						return nil
					}
					l.flush(ctx, ReasonDeviceLost)
					return fmt.Errorf("%w: %w", ErrDeviceLost, rerr)
				}
				failures = 0
				continue
			}

			backoff := resilience.CalculateBackoff(failures-1,
				l.cfg.ReadBackoff.InitialBackoff, l.cfg.ReadBackoff.MaxBackoff, l.cfg.ReadBackoff.BackoffMultiplier)
			if !sleep(ctx, backoff) {
				l.flush(ctx, ReasonShutdown)
				return nil
			}
			continue
		}

		failures = 0
		l.process(ctx, block)
	}
}

// process runs one good block through the state machine.
func (l *Loop) process(ctx context.Context, block device.Block) {
	l.lastRead.Store(time.Now().UnixNano())
	l.lastAt = block.At
	observability.RecordBlockRead(len(block.Samples), block.At)

	wasRecording := l.segmenter.State() == StateRecording
	closed := l.segmenter.Feed(block)
	for _, seg := range closed {
		l.dispatch(ctx, seg)
	}

	recording := l.segmenter.State() == StateRecording
	if recording != wasRecording || len(closed) > 0 {
		observability.SetRecording(recording)
	}
	if recording && (!wasRecording || len(closed) > 0) {
		_, startedAt, _ := l.segmenter.Current()
		l.logger.Debug().Time("started_at", startedAt).Msg("Voice detected, recording")
	}
}

// dispatch hands a closed segment off. The loop never touches seg again.
func (l *Loop) dispatch(ctx context.Context, seg *Segment) {
	observability.RecordSegmentClosed(string(seg.Reason), seg.Len())

	logger := observability.WithSegmentID(seg.ID)
	logger.Info().
		Str("reason", string(seg.Reason)).
		Int("samples", seg.Len()).
		Float64("rms", audio.CalculateRMS(seg.Samples)).
		Time("started_at", seg.StartedAt).
		Time("closed_at", seg.ClosedAt).
		Msg("Segment closed")

	if err := l.dispatcher.Submit(ctx, seg); err != nil {
		logger.Error().Err(err).Msg("Segment dropped, not persisted")
	}
}

// flush closes and dispatches the open segment while shutting down. The
// submit is detached from ctx so a canceled loop still hands it off.
func (l *Loop) flush(ctx context.Context, reason CloseReason) {
	at := l.lastAt
	if at.IsZero() {
		at = time.Now()
	}
	if seg := l.segmenter.Flush(at, reason); seg != nil {
		l.dispatch(context.WithoutCancel(ctx), seg)
	}
	observability.SetRecording(false)
}

func (l *Loop) recordReadError(err error, failures int) {
	kind := readErrorDevice
	if errors.Is(err, device.ErrEmptyBlock) {
		kind = readErrorEmpty
	}
	observability.RecordReadError(kind)

	l.logger.Warn().
		Err(err).
		Str("kind", kind).
		Int("consecutive_failures", failures).
		Int("max_failures", l.cfg.ReadMaxFailures).
		Msg("Block read failed")
}

// reopen recovers the source through resilience.Reconnect when it supports it.
func (l *Loop) reopen(ctx context.Context) error {
	r, ok := l.src.(device.Reopener)
	if !ok {
		return fmt.Errorf("source %T cannot be reopened after %d consecutive failures",
			l.src, l.cfg.ReadMaxFailures)
	}

	l.logger.Warn().Int("failures", l.cfg.ReadMaxFailures).Msg("Reopening capture device")
	return resilience.Reconnect(ctx, "capture device", r.Reopen, l.cfg.Reconnect)
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
