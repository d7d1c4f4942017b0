package persist

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voxrecorder/internal/audio"
	"github.com/lexiqai/voxrecorder/internal/observability"
	"github.com/lexiqai/voxrecorder/internal/resilience"
)

// StorageService names the storage breaker in metrics.
const StorageService = "storage"

// Supervisor consumes pool results. It logs each outcome, records metrics
// and tracks storage health through a circuit breaker. It never feeds back
// into capture.
type Supervisor struct {
	breaker    *resilience.CircuitBreaker
	sampleRate int
	logger     zerolog.Logger

	mu     sync.Mutex
	counts map[Status]int64
}

// NewSupervisor creates a Supervisor. sampleRate is used to report file
// durations.
func NewSupervisor(breaker *resilience.CircuitBreaker, sampleRate int) *Supervisor {
	return &Supervisor{
		breaker:    breaker,
		sampleRate: sampleRate,
		logger:     observability.WithComponent("supervisor"),
		counts:     make(map[Status]int64),
	}
}

// Run handles results until the channel is closed.
func (s *Supervisor) Run(results <-chan Result) {
	for res := range results {
		s.Handle(res)
	}
}

// Handle records one result.
func (s *Supervisor) Handle(res Result) {
	s.mu.Lock()
	s.counts[res.Status]++
	s.mu.Unlock()

	observability.RecordPersist(string(res.Status))
	observability.ObservePersistLatency(res.Duration)

	logger := observability.WithSegmentID(res.SegmentID)
	switch res.Status {
	case StatusWritten:
		s.breaker.RecordResult(true)
		logger.Info().
			Str("path", res.Path).
			Float64("seconds", audio.Duration(res.Samples, s.sampleRate)).
			Int("attempts", res.Attempts).
			Dur("took", res.Duration).
			Msg("Segment written")
	case StatusSkipped:
		logger.Info().Msg("Segment skipped, nothing above threshold after trimming")
	case StatusFailed:
		s.breaker.RecordResult(false)
		logger.Error().
			Err(res.Err).
			Int("attempts", res.Attempts).
			Dur("took", res.Duration).
			Msg("Segment write failed")
	}

	observability.UpdateCircuitBreakerState(s.breaker.Name(), int(s.breaker.GetState()))
}

// StorageError returns nil while storage is accepting writes, otherwise an
// error describing the recent failures.
func (s *Supervisor) StorageError() error {
	state, requests, failures, rate := s.breaker.GetStats()
	if state != resilience.StateOpen {
		return nil
	}
	return fmt.Errorf("%s circuit %s: %d of %d segment writes failed (%.1f%%)",
		s.breaker.Name(), state, failures, requests, rate)
}

// Count returns how many results had the given status.
func (s *Supervisor) Count(status Status) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[status]
}
