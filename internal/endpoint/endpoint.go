package endpoint

import (
	"context"
	"sync"

	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/internal/pending"
	"github.com/nexuspay/fepgate/pkg/metrics"
)

// Handler processes one inbound request and returns the response to write
// back to the peer. A nil return means no response is sent.
type Handler func(ctx context.Context, channelID string, msg *iso8583.Message) *iso8583.Message

// Endpoint is one live channel peer: a dialing client or a listening server.
type Endpoint interface {
	ChannelID() string
	Config() Config
	State() State
	IsServer() bool

	// Start brings the endpoint up and returns once sockets are bound
	// (server) or the first connection attempt has been scheduled (client).
	Start(ctx context.Context) error

	// Close gracefully shuts the endpoint down: best-effort sign-off, then
	// socket teardown, bounded by the config's sign-off timeout.
	Close(ctx context.Context) error

	// Send transmits a request and waits for its STAN-matched response.
	Send(ctx context.Context, msg *iso8583.Message) (*iso8583.Message, error)

	// AddStateListener subscribes to state transitions.
	AddStateListener(l StateListener)

	// Pending exposes the endpoint's pending-request registry.
	Pending() *pending.Registry
}

// isResponseMTI reports whether the MTI's function digit marks a response
// (0210, 0410, 0810, ...).
func isResponseMTI(mti string) bool {
	if len(mti) != 4 {
		return false
	}
	return (mti[2]-'0')%2 == 1
}

// base carries the state machine, listeners, and registry shared by client
// and server endpoints.
type base struct {
	cfg     Config
	codec   *iso8583.Codec
	handler Handler
	reg     *pending.Registry
	metrics metrics.ChannelMetrics

	mu        sync.Mutex
	state     State
	listeners []StateListener
}

func newBase(cfg Config, handler Handler, chm metrics.ChannelMetrics, pm metrics.PendingMetrics) *base {
	cfg.ApplyDefaults()
	return &base{
		cfg:     cfg,
		codec:   iso8583.NewCodec(nil, cfg.Framing),
		handler: handler,
		reg:     pending.NewRegistry(pm),
		metrics: chm,
		state:   StateDisconnected,
	}
}

func (b *base) ChannelID() string          { return b.cfg.ChannelID }
func (b *base) Config() Config             { return b.cfg }
func (b *base) Pending() *pending.Registry { return b.reg }

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AddStateListener appends a listener. The list is copy-on-write so
// notification never holds the lock.
func (b *base) AddStateListener(l StateListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]StateListener, len(b.listeners), len(b.listeners)+1)
	copy(next, b.listeners)
	b.listeners = append(next, l)
}

// setState performs a serialized transition and notifies listeners. Illegal
// transitions are dropped with a log line; returns whether the transition
// happened.
func (b *base) setState(to State) bool {
	b.mu.Lock()
	from := b.state
	if from == to {
		b.mu.Unlock()
		return false
	}
	if !from.CanTransitionTo(to) {
		b.mu.Unlock()
		logger.Warn("Dropping illegal endpoint transition",
			logger.KeyChannel, b.cfg.ChannelID,
			"from", from.String(),
			"to", to.String())
		return false
	}
	b.state = to
	snapshot := b.listeners
	b.mu.Unlock()

	logger.Info("Endpoint state changed",
		logger.KeyChannel, b.cfg.ChannelID,
		"from", from.String(),
		logger.KeyState, to.String())

	if b.metrics != nil {
		b.metrics.SetState(b.cfg.ChannelID, to.String())
	}

	// Leaving the connected family terminates every in-flight request.
	switch to {
	case StateReconnecting, StateFailed:
		b.reg.CancelAll(pending.ErrConnectionLost)
	}

	for _, l := range snapshot {
		b.notify(l, from, to)
	}
	return true
}

// notify guards each listener so one panic cannot stop the chain.
func (b *base) notify(l StateListener, from, to State) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Endpoint state listener panicked",
				logger.KeyChannel, b.cfg.ChannelID,
				"panic", r)
		}
	}()
	l(b.cfg.ChannelID, from, to)
}
