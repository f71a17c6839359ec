// Package prometheus provides the Prometheus-backed implementations of the
// pkg/metrics interfaces. Constructors return nil when metrics are disabled;
// all methods are nil-safe.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nexuspay/fepgate/pkg/metrics"
)

// transactionMetrics implements metrics.TransactionMetrics.
type transactionMetrics struct {
	completed     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	shortCircuits *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

// NewTransactionMetrics creates the pipeline metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewTransactionMetrics() metrics.TransactionMetrics {
	if !metrics.IsEnabled() {
		// Typed nil keeps the nil-safe methods callable through the interface.
		return (*transactionMetrics)(nil)
	}
	reg := metrics.GetRegistry()

	return &transactionMetrics{
		completed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fepgate_transactions_total",
				Help: "Completed transactions by type and final status",
			},
			[]string{"type", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fepgate_transaction_duration_seconds",
				Help:    "End-to-end transaction processing time",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
			},
			[]string{"type"},
		),
		shortCircuits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fepgate_pipeline_short_circuits_total",
				Help: "Pipeline stages that produced a terminal response before processing",
			},
			[]string{"stage"},
		),
		inFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fepgate_transactions_in_flight",
				Help: "Transactions currently inside the pipeline",
			},
		),
	}
}

func (m *transactionMetrics) RecordTransaction(txnType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(txnType, status).Inc()
	m.duration.WithLabelValues(txnType).Observe(duration.Seconds())
}

func (m *transactionMetrics) RecordShortCircuit(stage string) {
	if m == nil {
		return
	}
	m.shortCircuits.WithLabelValues(stage).Inc()
}

func (m *transactionMetrics) RecordInFlight(delta int) {
	if m == nil {
		return
	}
	m.inFlight.Add(float64(delta))
}

// pendingMetrics implements metrics.PendingMetrics.
type pendingMetrics struct {
	outcomes *prometheus.CounterVec
	pending  prometheus.Gauge
}

// NewPendingMetrics creates the STAN-registry metrics.
//
// Returns nil if metrics are not enabled.
func NewPendingMetrics() metrics.PendingMetrics {
	if !metrics.IsEnabled() {
		return (*pendingMetrics)(nil)
	}
	reg := metrics.GetRegistry()

	return &pendingMetrics{
		outcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fepgate_pending_requests_total",
				Help: "Pending-registry events by outcome",
			},
			[]string{"outcome"}, // registered, completed, timed_out, cancelled, duplicate
		),
		pending: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fepgate_pending_requests",
				Help: "Requests currently awaiting a response",
			},
		),
	}
}

func (m *pendingMetrics) RecordRegistered() {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues("registered").Inc()
}

func (m *pendingMetrics) RecordCompleted() {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues("completed").Inc()
}

func (m *pendingMetrics) RecordTimedOut() {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues("timed_out").Inc()
}

func (m *pendingMetrics) RecordCancelled() {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues("cancelled").Inc()
}

func (m *pendingMetrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues("duplicate").Inc()
}

func (m *pendingMetrics) SetPending(count int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(count))
}

// channelMetrics implements metrics.ChannelMetrics.
type channelMetrics struct {
	state      *prometheus.GaugeVec
	reconnects *prometheus.CounterVec
	frames     *prometheus.CounterVec
	frameBytes *prometheus.CounterVec
	heartbeats *prometheus.CounterVec
}

// NewChannelMetrics creates the endpoint/connection metrics.
//
// Returns nil if metrics are not enabled.
func NewChannelMetrics() metrics.ChannelMetrics {
	if !metrics.IsEnabled() {
		return (*channelMetrics)(nil)
	}
	reg := metrics.GetRegistry()

	return &channelMetrics{
		state: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fepgate_channel_state",
				Help: "Endpoint state per channel (1 for the current state, 0 otherwise)",
			},
			[]string{"channel", "state"},
		),
		reconnects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fepgate_channel_reconnects_total",
				Help: "Reconnect attempts per channel",
			},
			[]string{"channel"},
		),
		frames: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fepgate_channel_frames_total",
				Help: "Wire frames per channel and direction",
			},
			[]string{"channel", "direction"},
		),
		frameBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fepgate_channel_frame_bytes_total",
				Help: "Wire bytes per channel and direction",
			},
			[]string{"channel", "direction"},
		),
		heartbeats: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fepgate_channel_heartbeats_total",
				Help: "Heartbeat probes per channel and result",
			},
			[]string{"channel", "result"},
		),
	}
}

// endpointStates must match the endpoint state machine's String values.
var endpointStates = []string{
	"DISCONNECTED", "CONNECTING", "SEND_ONLY_CONNECTED", "RECEIVE_ONLY_CONNECTED",
	"BOTH_CONNECTED", "SIGNED_ON", "RECONNECTING", "CLOSING", "CLOSED", "FAILED",
}

func (m *channelMetrics) SetState(channel, state string) {
	if m == nil {
		return
	}
	for _, s := range endpointStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.state.WithLabelValues(channel, s).Set(v)
	}
}

func (m *channelMetrics) RecordReconnect(channel string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(channel).Inc()
}

func (m *channelMetrics) RecordFrame(channel, direction string, bytes int) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(channel, direction).Inc()
	m.frameBytes.WithLabelValues(channel, direction).Add(float64(bytes))
}

func (m *channelMetrics) RecordHeartbeat(channel string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "missed"
	}
	m.heartbeats.WithLabelValues(channel, result).Inc()
}
