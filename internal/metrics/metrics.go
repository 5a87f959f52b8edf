package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "blockrecorder"

type Metrics struct {
	// Record state
	lastRecordedHeight prometheus.Gauge
	remoteHeight       prometheus.Gauge

	// Ingestion counters
	blocksAppended prometheus.Counter
	errors         *prometheus.CounterVec

	// RPC metrics
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	rpcInFlight prometheus.Gauge

	// Persistence latency
	appendDuration prometheus.Histogram
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		lastRecordedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_recorded_height",
			Help:      "Height of the most recent durably appended block record",
		}),
		remoteHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "remote_height",
			Help:      "Chain tip height most recently reported by the remote node",
		}),
		blocksAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "blocks_appended_total",
			Help:      "Total number of block records durably appended",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "RPC call duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		rpcInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "in_flight",
			Help:      "Number of RPC calls currently in progress",
		}),
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "append_duration_seconds",
			Help:      "Time to durably append a single block record",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}

	err := errors.Join(
		reg.Register(m.lastRecordedHeight),
		reg.Register(m.remoteHeight),
		reg.Register(m.blocksAppended),
		reg.Register(m.errors),
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.rpcInFlight),
		reg.Register(m.appendDuration),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Error type constants.
const (
	ErrTypeRPC         = "rpc"
	ErrTypePersistence = "persistence"
)

// IncError increments the error counter for the given error type.
func (m *Metrics) IncError(errType string) {
	m.errors.WithLabelValues(errType).Inc()
}

// BlockAppended records a durably appended block record.
func (m *Metrics) BlockAppended(height uint64) {
	m.blocksAppended.Inc()
	m.lastRecordedHeight.Set(float64(height))
}

// SetLastRecordedHeight updates the last recorded height gauge, used on
// startup reconciliation before any append has happened.
func (m *Metrics) SetLastRecordedHeight(height uint64) {
	m.lastRecordedHeight.Set(float64(height))
}

// SetRemoteHeight updates the remote chain tip gauge.
func (m *Metrics) SetRemoteHeight(height uint64) {
	m.remoteHeight.Set(float64(height))
}

// IncRPCInFlight increments the in-flight RPC gauge.
func (m *Metrics) IncRPCInFlight() {
	m.rpcInFlight.Inc()
}

// DecRPCInFlight decrements the in-flight RPC gauge.
func (m *Metrics) DecRPCInFlight() {
	m.rpcInFlight.Dec()
}

// RecordRPCCall records an RPC call outcome.
func (m *Metrics) RecordRPCCall(method string, err error, durationSeconds float64) {
	status := "success"
	if err != nil {
		status = "error"
		m.errors.WithLabelValues(ErrTypeRPC).Inc()
	}
	m.rpcCalls.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// ObserveAppendDuration records the latency of a single durable append.
func (m *Metrics) ObserveAppendDuration(seconds float64) {
	m.appendDuration.Observe(seconds)
}
