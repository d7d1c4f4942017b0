package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lexiqai/voxrecorder/internal/audio"
)

// RawPCMSource reads headerless little-endian 16-bit mono PCM, such as the
// output of `arecord -t raw -f S16_LE`. Blocks are stamped with the wall
// clock at the time the read completes.
type RawPCMSource struct {
	mu        sync.Mutex
	r         io.Reader
	buf       []byte
	now       func() time.Time
	closed    bool
	exhausted bool
}

// NewRawPCMSource reads blockSize samples per block from r.
func NewRawPCMSource(r io.Reader, blockSize int) *RawPCMSource {
	return &RawPCMSource{
		r:   r,
		buf: make([]byte, blockSize*2),
		now: time.Now,
	}
}

// ReadBlock fills one block. A short final read is returned as a short
// block, followed by io.EOF.
func (s *RawPCMSource) ReadBlock(ctx context.Context) (Block, error) {
	if err := ctx.Err(); err != nil {
		return Block{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Block{}, ErrClosed
	}
	if s.exhausted {
		return Block{}, io.EOF
	}

	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		return Block{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.exhausted = true
	default:
		return Block{}, fmt.Errorf("reading raw PCM failed: %w", err)
	}

	// A trailing odd byte is half a sample.
	n -= n % 2
	if n == 0 {
		return Block{}, io.EOF
	}

	samples, err := audio.BytesToSamples(s.buf[:n])
	if err != nil {
		return Block{}, err
	}
	return Block{Samples: samples, At: s.now()}, nil
}

// Close closes the underlying reader if it is an io.Closer.
func (s *RawPCMSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
