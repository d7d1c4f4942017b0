package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

// PortAudioConfig describes the capture stream to open.
type PortAudioConfig struct {
	SampleRate int
	BlockSize  int    // Frames per buffer; one Block per read
	Device     string // Case-insensitive name substring; empty selects the default input
}

// PortAudioSource reads mono 16-bit blocks from a PortAudio input stream.
type PortAudioSource struct {
	cfg PortAudioConfig

	mu     sync.Mutex
	buf    []int16
	stream *portaudio.Stream
	closed bool
}

// OpenPortAudio initializes PortAudio and starts a capture stream.
func OpenPortAudio(cfg PortAudioConfig) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize failed: %w", err)
	}

	s := &PortAudioSource{cfg: cfg}
	if err := s.open(); err != nil {
		portaudio.Terminate()
		return nil, err
	}
	return s, nil
}

func (s *PortAudioSource) open() error {
	dev, err := findInputDevice(s.cfg.Device)
	if err != nil {
		return err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(s.cfg.SampleRate)
	params.FramesPerBuffer = s.cfg.BlockSize

	buf := make([]int16, s.cfg.BlockSize)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return fmt.Errorf("portaudio: opening stream on %q failed: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: starting stream on %q failed: %w", dev.Name, err)
	}

	s.buf = buf
	s.stream = stream

	log.Info().
		Str("device", dev.Name).
		Int("sample_rate", s.cfg.SampleRate).
		Int("block_size", s.cfg.BlockSize).
		Msg("Capture stream started")
	return nil
}

// findInputDevice returns the default input, or the first input device whose
// name contains name.
func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: no default input device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: listing devices failed: %w", err)
	}

	want := strings.ToLower(name)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device matching %q", name)
}

// ReadBlock blocks until the stream delivers one buffer and returns a copy of it.
func (s *PortAudioSource) ReadBlock(ctx context.Context) (Block, error) {
	if err := ctx.Err(); err != nil {
		return Block{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.stream == nil {
		return Block{}, ErrClosed
	}

	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return Block{}, fmt.Errorf("portaudio: input overflowed: %w", err)
		}
		return Block{}, fmt.Errorf("portaudio: reading failed: %w", err)
	}

	samples := make([]int16, len(s.buf))
	copy(samples, s.buf)
	return Block{Samples: samples, At: time.Now()}, nil
}

// Reopen stops and closes the current stream, then opens a new one.
func (s *PortAudioSource) Reopen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closeStream()
	return s.open()
}

// Close stops the stream and terminates PortAudio.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.closeStream()

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate failed: %w", err)
	}
	return nil
}

// closeStream releases the current stream. Callers must hold s.mu.
func (s *PortAudioSource) closeStream() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Stop(); err != nil {
		log.Warn().Err(err).Msg("portaudio: stopping stream failed")
	}
	if err := s.stream.Close(); err != nil {
		log.Warn().Err(err).Msg("portaudio: closing stream failed")
	}
	s.stream = nil
}
