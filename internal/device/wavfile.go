package device

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/lexiqai/voxrecorder/internal/audio"
)

// WAVFileSource replays a decoded WAV file in fixed-size blocks. Block
// timestamps come from a virtual clock that starts at base and advances by
// the duration of the samples returned, so replay runs as fast as the
// consumer reads while timing decisions match a live capture.
type WAVFileSource struct {
	mu        sync.Mutex
	samples   []int16
	offset    int
	blockSize int
	rate      int
	base      time.Time
	closed    bool
}

// OpenWAVFile decodes path and returns a source positioned at its start.
func OpenWAVFile(path string, blockSize int, base time.Time) (*WAVFileSource, error) {
	samples, f, err := audio.DecodeWAVFile(path)
	if err != nil {
		return nil, err
	}
	return NewSampleSource(samples, f.SampleRate, blockSize, base), nil
}

// NewSampleSource replays samples already in memory.
func NewSampleSource(samples []int16, sampleRate, blockSize int, base time.Time) *WAVFileSource {
	return &WAVFileSource{
		samples:   samples,
		blockSize: blockSize,
		rate:      sampleRate,
		base:      base,
	}
}

// SampleRate returns the rate of the replayed samples.
func (s *WAVFileSource) SampleRate() int {
	return s.rate
}

// ReadBlock returns the next block stamped with the virtual time at its last
// sample. The final block may be short. After that it returns io.EOF.
func (s *WAVFileSource) ReadBlock(ctx context.Context) (Block, error) {
	if err := ctx.Err(); err != nil {
		return Block{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Block{}, ErrClosed
	}
	if s.offset >= len(s.samples) {
		return Block{}, io.EOF
	}

	end := min(s.offset+s.blockSize, len(s.samples))
	block := make([]int16, end-s.offset)
	copy(block, s.samples[s.offset:end])
	s.offset = end

	return Block{Samples: block, At: s.base.Add(audio.SampleSpan(end, s.rate))}, nil
}

// Close releases the decoded samples.
func (s *WAVFileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.samples = nil
	return nil
}
