// Package metric defines the prometheus collectors exported by the register
// bus stack and a small HTTP server for them.
//
// All recording methods accept a nil *Metrics, so components can be built
// without instrumentation.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every metric name.
const Namespace = "regbus"

// Request outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeBusError = "bus_error"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
	OutcomeLost     = "connection_lost"
)

// Metrics holds the stack's collectors.
type Metrics struct {
	// Transport client
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Retries         *prometheus.CounterVec
	ChecksumErrors  prometheus.Counter
	StaleResponses  prometheus.Counter
	InFlight        prometheus.Gauge

	// Reliability sessions
	SegmentsSent     prometheus.Counter
	SegmentsReceived prometheus.Counter
	Retransmits      prometheus.Counter
	Duplicates       prometheus.Counter
	SessionsLost     prometheus.Counter
	SessionUp        prometheus.Gauge
	SendWindow       prometheus.Gauge

	// Multiplexer
	MuxDropped *prometheus.CounterVec

	// Polling
	PollSweeps   prometheus.Counter
	PollDuration prometheus.Histogram
	PollErrors   prometheus.Counter
}

// New returns unregistered collectors.
func New() *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Register requests by operation and outcome",
		}, []string{"op", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Register request latency including retries",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "retries_total",
			Help:      "Request retransmissions by cause",
		}, []string{"cause"}),
		ChecksumErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "checksum_errors_total",
			Help:      "Responses dropped for a bad checksum",
		}),
		StaleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "stale_responses_total",
			Help:      "Responses with no pending request",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "in_flight",
			Help:      "Requests awaiting a response",
		}),

		SegmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reliable",
			Name:      "segments_sent_total",
			Help:      "Segments transmitted, including retransmissions",
		}),
		SegmentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reliable",
			Name:      "segments_received_total",
			Help:      "Valid segments received",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reliable",
			Name:      "retransmits_total",
			Help:      "Data segments retransmitted after a timeout",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reliable",
			Name:      "duplicates_total",
			Help:      "Duplicate data segments acknowledged and discarded",
		}),
		SessionsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reliable",
			Name:      "sessions_lost_total",
			Help:      "Sessions torn down by retransmit exhaustion or timeout",
		}),
		SessionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "reliable",
			Name:      "session_up",
			Help:      "Established sessions",
		}),
		SendWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "reliable",
			Name:      "send_window_segments",
			Help:      "Unacknowledged segments in the send window",
		}),

		MuxDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mux",
			Name:      "dropped_total",
			Help:      "Messages dropped by the stream multiplexer",
		}, []string{"reason"}),

		PollSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "poll",
			Name:      "sweeps_total",
			Help:      "Completed poll sweeps",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "poll",
			Name:      "sweep_duration_seconds",
			Help:      "Time to refresh all polled variables",
			Buckets:   prometheus.DefBuckets,
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "poll",
			Name:      "errors_total",
			Help:      "Variables that failed to refresh",
		}),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Requests, m.RequestDuration, m.Retries, m.ChecksumErrors, m.StaleResponses, m.InFlight,
		m.SegmentsSent, m.SegmentsReceived, m.Retransmits, m.Duplicates, m.SessionsLost, m.SessionUp, m.SendWindow,
		m.MuxDropped,
		m.PollSweeps, m.PollDuration, m.PollErrors,
	}
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding m plus the Go runtime and process
// collectors.
func NewRegistry(m *Metrics) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, nil
}

// ObserveRequest records a finished request.
func (m *Metrics) ObserveRequest(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(op, outcome).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Retry records a retransmitted request.
func (m *Metrics) Retry(cause string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(cause).Inc()
}

// AddInFlight adjusts the in-flight gauge.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}

// ChecksumError records a response dropped for a bad checksum.
func (m *Metrics) ChecksumError() {
	if m != nil {
		m.ChecksumErrors.Inc()
	}
}

// StaleResponse records a response that matched no pending request.
func (m *Metrics) StaleResponse() {
	if m != nil {
		m.StaleResponses.Inc()
	}
}

// SegmentSent records a transmitted segment.
func (m *Metrics) SegmentSent() {
	if m != nil {
		m.SegmentsSent.Inc()
	}
}

// SegmentReceived records a valid received segment.
func (m *Metrics) SegmentReceived() {
	if m != nil {
		m.SegmentsReceived.Inc()
	}
}

// Retransmit records a data segment sent again after a timeout.
func (m *Metrics) Retransmit() {
	if m != nil {
		m.Retransmits.Inc()
	}
}

// Duplicate records a discarded duplicate segment.
func (m *Metrics) Duplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

// SessionLost records a session torn down by the liveness rules.
func (m *Metrics) SessionLost() {
	if m != nil {
		m.SessionsLost.Inc()
	}
}

// SessionEstablished adjusts the established session gauge by delta.
func (m *Metrics) SessionEstablished(delta float64) {
	if m != nil {
		m.SessionUp.Add(delta)
	}
}

// SetSendWindow records the current number of unacknowledged segments.
func (m *Metrics) SetSendWindow(n int) {
	if m != nil {
		m.SendWindow.Set(float64(n))
	}
}

// MuxDrop records a dropped multiplexed message.
func (m *Metrics) MuxDrop(reason string) {
	if m == nil {
		return
	}
	m.MuxDropped.WithLabelValues(reason).Inc()
}

// ObservePoll records a finished sweep and its failures.
func (m *Metrics) ObservePoll(d time.Duration, failures int) {
	if m == nil {
		return
	}
	m.PollSweeps.Inc()
	m.PollDuration.Observe(d.Seconds())
	m.PollErrors.Add(float64(failures))
}
