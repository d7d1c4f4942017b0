// Package capture turns a stream of device blocks into closed voice segments.
//
// The Segmenter is a pure state machine driven by block timestamps. The Loop
// owns a Segmenter and a device.Source, and hands each closed Segment to a
// Dispatcher without waiting for it to be persisted.
package capture

import (
	"time"
)

// State is the voice activity state of a Segmenter.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// CloseReason records why a segment was closed.
type CloseReason string

const (
	ReasonSilence    CloseReason = "silence"     // No active block within the silence timeout
	ReasonMaxSize    CloseReason = "max_size"    // Forced cutover at the size limit
	ReasonShutdown   CloseReason = "shutdown"    // Process is stopping
	ReasonEOF        CloseReason = "eof"         // Finite input ended
	ReasonDeviceLost CloseReason = "device_lost" // Input could not be reopened
)

// Segment is one utterance. While open it is owned by the Segmenter; once
// returned from Feed or Flush it belongs to the caller and the Segmenter
// keeps no reference to it.
type Segment struct {
	ID          string
	Samples     []int16
	StartedAt   time.Time // Time of the block that opened the segment
	LastVoiceAt time.Time // Time of the most recent active block
	ClosedAt    time.Time
	Reason      CloseReason
}

// Len returns the number of samples in the segment.
func (s *Segment) Len() int {
	return len(s.Samples)
}

// Forced reports whether the segment was cut at the size limit.
func (s *Segment) Forced() bool {
	return s.Reason == ReasonMaxSize
}
