package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/lexiqai/voxrecorder/internal/audio"
	"github.com/lexiqai/voxrecorder/internal/capture"
	"github.com/lexiqai/voxrecorder/internal/resilience"
)

var (
	// ErrInvalidParams is returned for a segment or format that cannot be
	// written. It is never retried.
	ErrInvalidParams = errors.New("invalid segment parameters")

	// ErrEmptySegment is returned when trimming leaves no samples.
	ErrEmptySegment = errors.New("segment has no samples above threshold")
)

// WriterConfig describes how segments are turned into files.
type WriterConfig struct {
	Threshold   int // Per-sample level used for edge trimming
	PadSamples  int // Zero samples added to each end
	SampleRate  int
	SampleWidth int // Bytes per sample; only 2 is supported
	Namer       Namer
}

// Output describes a written file.
type Output struct {
	Path    string
	Samples int // Samples in the file, padding included
	Trimmed int // Samples removed from the segment edges
}

// format returns the WAV layout for the configured rate and sample width.
func (c WriterConfig) format() audio.Format {
	return audio.Format{
		SampleRate:  c.SampleRate,
		BitDepth:    c.SampleWidth * 8,
		NumChannels: 1,
	}
}

// Writer trims, pads and encodes segments into WAV files. It is safe for
// concurrent use.
type Writer struct {
	cfg WriterConfig

	// commitMu serializes choosing a free name and renaming into it.
	commitMu sync.Mutex
}

// NewWriter creates a Writer.
func NewWriter(cfg WriterConfig) *Writer {
	return &Writer{cfg: cfg}
}

// Write persists seg. The file appears under its final name only once it is
// complete and synced. I/O failures are wrapped as retryable.
func (w *Writer) Write(ctx context.Context, seg *capture.Segment) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if err := w.validate(seg); err != nil {
		return Output{}, err
	}

	if audio.DetectSilence(seg.Samples, w.cfg.Threshold) {
		return Output{}, ErrEmptySegment
	}
	trimmed := audio.TrimEdges(seg.Samples, w.cfg.Threshold)
	padded := audio.PadSamples(trimmed, w.cfg.PadSamples)

	tmp, err := w.encodeTemp(padded)
	if err != nil {
		return Output{}, resilience.NewRetryableError(err)
	}

	path, err := w.commit(tmp, w.cfg.Namer.Name(seg.StartedAt, seg.ClosedAt))
	if err != nil {
		os.Remove(tmp)
		return Output{}, resilience.NewRetryableError(err)
	}

	return Output{
		Path:    path,
		Samples: len(padded),
		Trimmed: len(seg.Samples) - len(trimmed),
	}, nil
}

func (w *Writer) validate(seg *capture.Segment) error {
	if seg == nil {
		return fmt.Errorf("%w: nil segment", ErrInvalidParams)
	}
	if err := w.cfg.format().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if w.cfg.Threshold < 0 {
		return fmt.Errorf("%w: negative threshold %d", ErrInvalidParams, w.cfg.Threshold)
	}
	if w.cfg.Namer.Dir == "" {
		return fmt.Errorf("%w: no output directory", ErrInvalidParams)
	}
	if seg.StartedAt.IsZero() || seg.ClosedAt.Before(seg.StartedAt) {
		return fmt.Errorf("%w: segment %s closed at %s before start %s",
			ErrInvalidParams, seg.ID, seg.ClosedAt, seg.StartedAt)
	}
	return nil
}

// encodeTemp writes samples to a synced temporary file in the output directory.
func (w *Writer) encodeTemp(samples []int16) (string, error) {
	f, err := os.CreateTemp(w.cfg.Namer.Dir, ".voxtmp-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()

	if err := audio.EncodeWAV(f, samples, w.cfg.format()); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return name, nil
}

// commit renames tmp to the first free variant of target.
func (w *Writer) commit(tmp, target string) (string, error) {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	path, err := Unique(target)
	if err != nil {
		return "", fmt.Errorf("resolve name %s: %w", target, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename to %s: %w", path, err)
	}
	return path, nil
}
