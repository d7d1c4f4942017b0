package capture

import (
	"time"

	"github.com/lexiqai/voxrecorder/internal/audio"
	"github.com/lexiqai/voxrecorder/internal/device"
	"github.com/lexiqai/voxrecorder/internal/observability"
)

// SegmenterConfig holds the voice activity parameters.
type SegmenterConfig struct {
	Threshold      int           // Absolute amplitude a sample must exceed for a block to be active
	SilenceTimeout time.Duration // Quiet time after the last active block that ends a segment
	MaxSamples     int           // A segment longer than this is closed immediately
}

// Segmenter is the Idle/Recording state machine. It is not safe for
// concurrent use; the capture loop is its only caller.
type Segmenter struct {
	cfg     SegmenterConfig
	current *Segment
	newID   func() string
}

// NewSegmenter returns a Segmenter in the Idle state.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{
		cfg:   cfg,
		newID: observability.NewSegmentID,
	}
}

// State returns the current state.
func (s *Segmenter) State() State {
	if s.current != nil {
		return StateRecording
	}
	return StateIdle
}

// Current returns the open segment's length and start time. ok is false
// while Idle.
func (s *Segmenter) Current() (samples int, startedAt time.Time, ok bool) {
	if s.current == nil {
		return 0, time.Time{}, false
	}
	return len(s.current.Samples), s.current.StartedAt, true
}

// Feed advances the state machine by one block and returns the segments it
// closed, in closing order. Usually that is none; a silence closure followed
// by a block that alone exceeds MaxSamples yields two.
//
// The silence deadline is checked before the block is considered, so a block
// stamped after lastVoiceAt+SilenceTimeout never joins the segment it closes.
// It is then evaluated from Idle and opens a new segment if active. While
// Recording every block is appended whatever its level.
func (s *Segmenter) Feed(b device.Block) []*Segment {
	var closed []*Segment

	if s.current != nil && b.At.Sub(s.current.LastVoiceAt) > s.cfg.SilenceTimeout {
		closed = append(closed, s.close(b.At, ReasonSilence))
	}

	active := audio.IsActive(b.Samples, s.cfg.Threshold)

	if s.current == nil {
		if !active {
			return closed
		}
		s.current = &Segment{
			ID:        s.newID(),
			StartedAt: b.At,
		}
	}

	s.current.Samples = append(s.current.Samples, b.Samples...)
	if active {
		s.current.LastVoiceAt = b.At
	}

	if len(s.current.Samples) > s.cfg.MaxSamples {
		closed = append(closed, s.close(b.At, ReasonMaxSize))
	}

	return closed
}

// Flush closes the open segment, if any, with the given reason.
func (s *Segmenter) Flush(at time.Time, reason CloseReason) *Segment {
	if s.current == nil {
		return nil
	}
	return s.close(at, reason)
}

// close hands the open segment to the caller and returns to Idle.
func (s *Segmenter) close(at time.Time, reason CloseReason) *Segment {
	seg := s.current
	s.current = nil

	seg.ClosedAt = at
	seg.Reason = reason
	return seg
}
