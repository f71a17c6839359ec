// Package pending matches asynchronously returning responses to outstanding
// requests by STAN. Every registered request resolves with exactly one
// terminal outcome: a response, a timeout, or a cancellation.
package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/pkg/metrics"
)

var (
	// ErrDuplicateSTAN terminates the prior waiter when its STAN is
	// re-registered. The newer registration takes the slot.
	ErrDuplicateSTAN = errors.New("duplicate STAN registered")

	// ErrRegistryClosed fails Register calls after Close and terminates
	// waiters still pending at close time.
	ErrRegistryClosed = errors.New("pending registry closed")

	// ErrConnectionLost is the conventional CancelAll cause on socket loss.
	ErrConnectionLost = errors.New("connection lost")
)

// TimeoutError reports that no response arrived within the request's window.
type TimeoutError struct {
	Stan  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out after %s", e.Stan, e.After)
}

// Result is the terminal outcome of a pending request.
type Result struct {
	Response *iso8583.Message
	Err      error
}

// Request is the waiter handle returned by Register. The done channel has
// capacity 1 so delivery never blocks the socket read loop.
type Request struct {
	Stan         string
	RegisteredAt time.Time
	Timeout      time.Duration

	done chan Result
}

// Done returns the channel carrying the terminal outcome.
func (r *Request) Done() <-chan Result {
	return r.done
}

// Await blocks until the terminal outcome or context cancellation. Context
// cancellation does not consume the slot; the registry's own timeout still
// cleans it up.
func (r *Request) Await(ctx context.Context) (*iso8583.Message, error) {
	select {
	case res := <-r.done:
		return res.Response, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type entry struct {
	req   *Request
	timer *time.Timer
}

// Stats is a snapshot of the registry counters.
type Stats struct {
	Pending    int    `json:"pending"`
	Registered uint64 `json:"registered"`
	Completed  uint64 `json:"completed"`
	TimedOut   uint64 `json:"timed_out"`
	Cancelled  uint64 `json:"cancelled"`
}

// Registry is the STAN-keyed waiter map. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]*entry
	closed  bool

	registered atomic.Uint64
	completed  atomic.Uint64
	timedOut   atomic.Uint64
	cancelled  atomic.Uint64

	metrics metrics.PendingMetrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(m metrics.PendingMetrics) *Registry {
	return &Registry{
		waiters: make(map[string]*entry),
		metrics: m,
	}
}

// Register inserts a waiter for stan with an individual timeout. If the STAN
// is already pending, the prior waiter is terminated with ErrDuplicateSTAN
// and the new registration takes its slot.
func (r *Registry) Register(stan string, timeout time.Duration) (*Request, error) {
	req := &Request{
		Stan:         stan,
		RegisteredAt: time.Now(),
		Timeout:      timeout,
		done:         make(chan Result, 1),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}

	var displaced *entry
	if prior, ok := r.waiters[stan]; ok {
		prior.timer.Stop()
		displaced = prior
	}

	e := &entry{req: req}
	e.timer = time.AfterFunc(timeout, func() { r.expire(stan, req) })
	r.waiters[stan] = e
	pending := len(r.waiters)
	r.mu.Unlock()

	r.registered.Add(1)
	if r.metrics != nil {
		r.metrics.RecordRegistered()
		r.metrics.SetPending(pending)
	}

	if displaced != nil {
		logger.Warn("Duplicate STAN displaced prior waiter", logger.KeyStan, stan)
		if r.metrics != nil {
			r.metrics.RecordDuplicate()
		}
		displaced.req.done <- Result{Err: ErrDuplicateSTAN}
	}

	return req, nil
}

// expire is the timer callback. It only fires for the request it was armed
// for; a displaced or completed entry is left alone.
func (r *Registry) expire(stan string, req *Request) {
	r.mu.Lock()
	e, ok := r.waiters[stan]
	if !ok || e.req != req {
		r.mu.Unlock()
		return
	}
	delete(r.waiters, stan)
	pending := len(r.waiters)
	r.mu.Unlock()

	r.timedOut.Add(1)
	if r.metrics != nil {
		r.metrics.RecordTimedOut()
		r.metrics.SetPending(pending)
	}
	logger.Debug("Pending request timed out",
		logger.KeyStan, stan,
		"timeout", req.Timeout)

	req.done <- Result{Err: &TimeoutError{Stan: stan, After: req.Timeout}}
}

// Complete fulfills the waiter for stan with the response. Returns false for
// unknown STANs, which callers treat as a non-fatal warning (late or
// unsolicited response).
func (r *Registry) Complete(stan string, response *iso8583.Message) bool {
	r.mu.Lock()
	e, ok := r.waiters[stan]
	if ok {
		e.timer.Stop()
		delete(r.waiters, stan)
	}
	pending := len(r.waiters)
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.completed.Add(1)
	if r.metrics != nil {
		r.metrics.RecordCompleted()
		r.metrics.SetPending(pending)
	}

	e.req.done <- Result{Response: response}
	return true
}

// Cancel terminates one pending request with a caller-supplied cause.
func (r *Registry) Cancel(stan string, cause error) bool {
	r.mu.Lock()
	e, ok := r.waiters[stan]
	if ok {
		e.timer.Stop()
		delete(r.waiters, stan)
	}
	pending := len(r.waiters)
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.cancelled.Add(1)
	if r.metrics != nil {
		r.metrics.RecordCancelled()
		r.metrics.SetPending(pending)
	}

	e.req.done <- Result{Err: cause}
	return true
}

// CancelAll terminates every pending request with the cause and returns how
// many were cancelled. Used on connection loss and shutdown.
func (r *Registry) CancelAll(cause error) int {
	r.mu.Lock()
	drained := r.waiters
	r.waiters = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range drained {
		e.timer.Stop()
		r.cancelled.Add(1)
		if r.metrics != nil {
			r.metrics.RecordCancelled()
		}
		e.req.done <- Result{Err: cause}
	}
	if r.metrics != nil {
		r.metrics.SetPending(0)
	}

	if len(drained) > 0 {
		logger.Info("Cancelled all pending requests",
			"count", len(drained),
			logger.KeyError, cause.Error())
	}
	return len(drained)
}

// PendingCount returns the number of outstanding requests.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// IsPending reports whether stan has an outstanding request.
func (r *Registry) IsPending(stan string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.waiters[stan]
	return ok
}

// Stats returns a counter snapshot.
func (r *Registry) Stats() Stats {
	return Stats{
		Pending:    r.PendingCount(),
		Registered: r.registered.Load(),
		Completed:  r.completed.Load(),
		TimedOut:   r.timedOut.Load(),
		Cancelled:  r.cancelled.Load(),
	}
}

// Close cancels all pending requests and fails subsequent Registers.
// Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.CancelAll(ErrRegistryClosed)
}
