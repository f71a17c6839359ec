// Package metrics defines the observability interfaces of the gateway and a
// process-wide Prometheus registry. The interfaces are optional everywhere:
// pass nil to disable collection with zero overhead.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide registry with the standard Go and
// process collectors. Calling it twice is a no-op.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process-wide registry, or nil when disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler returns the /metrics HTTP handler for the process registry.
// When metrics are disabled the handler serves an empty exposition.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// TransactionMetrics observes the pipeline.
type TransactionMetrics interface {
	// RecordTransaction records a completed transaction with its type, final
	// status, and end-to-end duration.
	RecordTransaction(txnType, status string, duration time.Duration)

	// RecordShortCircuit records a pipeline stage producing a terminal
	// response before the processor ran (duplicate, validation, no-route).
	RecordShortCircuit(stage string)

	// RecordInFlight adjusts the in-flight transaction gauge by delta.
	RecordInFlight(delta int)
}

// PendingMetrics observes a STAN pending-request registry.
type PendingMetrics interface {
	RecordRegistered()
	RecordCompleted()
	RecordTimedOut()
	RecordCancelled()
	RecordDuplicate()
	SetPending(count int)
}

// ChannelMetrics observes endpoint and connection-manager lifecycle.
type ChannelMetrics interface {
	// SetState records the endpoint state for a channel (one-hot gauge).
	SetState(channel, state string)

	// RecordReconnect counts a reconnect attempt on a channel.
	RecordReconnect(channel string)

	// RecordFrame counts one wire frame with its direction ("in" or "out")
	// and size in bytes.
	RecordFrame(channel, direction string, bytes int)

	// RecordHeartbeat counts a heartbeat probe and whether it was answered.
	RecordHeartbeat(channel string, ok bool)
}
