package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capture metrics
	blocksRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxrecorder_blocks_read_total",
		Help: "Total number of blocks read from the input device",
	})

	samplesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxrecorder_samples_read_total",
		Help: "Total number of samples read from the input device",
	})

	readErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxrecorder_read_errors_total",
		Help: "Total number of failed device reads",
	}, []string{"kind"}) // kind: "device", "empty"

	recordingState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxrecorder_state",
		Help: "Capture state (0=idle, 1=recording)",
	})

	lastBlockAt = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxrecorder_last_block_timestamp_seconds",
		Help: "Unix time of the most recent block read",
	})

	// Segment metrics
	segmentsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxrecorder_segments_closed_total",
		Help: "Total number of closed segments",
	}, []string{"reason"})

	segmentSamples = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxrecorder_segment_samples",
		Help:    "Number of samples in a closed segment",
		Buckets: prometheus.ExponentialBuckets(4096, 4, 10),
	})

	// Persistence metrics
	persistTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxrecorder_persist_total",
		Help: "Total number of persistence outcomes",
	}, []string{"status"})

	persistLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxrecorder_persist_latency_seconds",
		Help:    "Time from segment hand-off to file written, queue wait included",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxrecorder_queue_depth",
		Help: "Segments waiting for a persistence worker",
	})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxrecorder_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

// RecordBlockRead records one successful device read
func RecordBlockRead(samples int, at time.Time) {
	blocksRead.Inc()
	samplesRead.Add(float64(samples))
	lastBlockAt.Set(float64(at.UnixNano()) / 1e9)
}

// RecordReadError records a failed device read
func RecordReadError(kind string) {
	readErrors.WithLabelValues(kind).Inc()
}

// SetRecording updates the capture state gauge
func SetRecording(recording bool) {
	if recording {
		recordingState.Set(1)
		return
	}
	recordingState.Set(0)
}

// RecordSegmentClosed records a segment leaving the capture loop
func RecordSegmentClosed(reason string, samples int) {
	segmentsClosed.WithLabelValues(reason).Inc()
	segmentSamples.Observe(float64(samples))
}

// RecordPersist records the outcome of one persistence job
func RecordPersist(status string) {
	persistTotal.WithLabelValues(status).Inc()
}

// ObservePersistLatency records the time from segment hand-off to file written
func ObservePersistLatency(d time.Duration) {
	persistLatency.Observe(d.Seconds())
}

// SetQueueDepth updates the persistence queue depth gauge
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
