// Package connmgr reconciles the set of live channel endpoints against the
// configured channel registry: snapshots rebuild the whole set, deltas touch
// only the channels they name, and any config change recreates the endpoint.
package connmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nexuspay/fepgate/internal/endpoint"
	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/pkg/metrics"
)

// ChannelSpec is one channel's desired state: its connection profile plus
// whether it should currently be live.
type ChannelSpec struct {
	Active bool `mapstructure:"active" yaml:"active"`

	endpoint.Config `mapstructure:",squash" yaml:",inline"`
}

// managed pairs a live endpoint with the spec it was built from, so config
// changes can be detected by comparison.
type managed struct {
	spec ChannelSpec
	ep   endpoint.Endpoint
}

// Manager owns the endpoint map. Reads share a lock; mutations take it
// exclusively; the lock is never held across socket I/O.
type Manager struct {
	handler endpoint.Handler
	chm     metrics.ChannelMetrics
	pm      metrics.PendingMetrics

	mu        sync.RWMutex
	endpoints map[string]*managed
	closed    bool

	// reconcileMu serializes reconciliation passes so concurrent snapshot
	// and delta applications cannot interleave their build/teardown work.
	reconcileMu sync.Mutex

	lmu       sync.Mutex
	listeners []Listener
}

// New creates an empty manager. The handler serves inbound requests on every
// endpoint the manager creates.
func New(handler endpoint.Handler, chm metrics.ChannelMetrics, pm metrics.PendingMetrics) *Manager {
	return &Manager{
		handler:   handler,
		chm:       chm,
		pm:        pm,
		endpoints: make(map[string]*managed),
	}
}

// Get returns the live endpoint for a channel.
func (m *Manager) Get(channelID string) (endpoint.Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mg, ok := m.endpoints[channelID]
	if !ok {
		return nil, false
	}
	return mg.ep, true
}

// Server returns the channel's endpoint as a server, when it is one.
func (m *Manager) Server(channelID string) (*endpoint.Server, bool) {
	ep, ok := m.Get(channelID)
	if !ok {
		return nil, false
	}
	srv, ok := ep.(*endpoint.Server)
	return srv, ok
}

// ChannelIDs lists the live channels in sorted order.
func (m *Manager) ChannelIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.endpoints))
	for id := range m.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// States reports the current state of every live channel.
func (m *Manager) States() map[string]endpoint.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]endpoint.State, len(m.endpoints))
	for id, mg := range m.endpoints {
		out[id] = mg.ep.State()
	}
	return out
}

// Count returns the number of live endpoints.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.endpoints)
}

// ApplySnapshot reconciles the live set against a full registry snapshot:
// after it returns, exactly the active specs have endpoints. Unchanged
// channels are left untouched.
func (m *Manager) ApplySnapshot(ctx context.Context, specs map[string]ChannelSpec) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	var toAdd, toRecreate []ChannelSpec
	var toRemove []string

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("connection manager is closed")
	}
	for id, mg := range m.endpoints {
		spec, ok := specs[id]
		switch {
		case !ok || !spec.Active:
			toRemove = append(toRemove, id)
		case spec != mg.spec:
			toRecreate = append(toRecreate, spec)
		}
	}
	for id, spec := range specs {
		if !spec.Active {
			continue
		}
		if _, ok := m.endpoints[id]; !ok {
			toAdd = append(toAdd, spec)
		}
	}
	m.mu.RUnlock()

	logger.Info("Reconciling channel snapshot",
		"add", len(toAdd),
		"recreate", len(toRecreate),
		"remove", len(toRemove))

	var firstErr error
	for _, id := range toRemove {
		if err := m.remove(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, spec := range toRecreate {
		if err := m.recreate(ctx, spec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, spec := range toAdd {
		if err := m.add(ctx, spec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ApplyDelta reconciles only the named channels: changed specs are added,
// recreated, or removed depending on their Active flag and prior state;
// removed ids are torn down. Channels the delta does not name are untouched.
func (m *Manager) ApplyDelta(ctx context.Context, changed []ChannelSpec, removed []string) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	var firstErr error
	for _, id := range removed {
		if err := m.remove(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, spec := range changed {
		var err error
		m.mu.RLock()
		mg, exists := m.endpoints[spec.ChannelID]
		m.mu.RUnlock()

		switch {
		case !spec.Active && exists:
			err = m.remove(ctx, spec.ChannelID)
		case !spec.Active:
			// inactive and absent: nothing to do
		case exists && spec == mg.spec:
			// unchanged: leave the live endpoint alone
		case exists:
			err = m.recreate(ctx, spec)
		default:
			err = m.add(ctx, spec)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Add builds and starts an endpoint for the spec.
func (m *Manager) Add(ctx context.Context, spec ChannelSpec) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()
	return m.add(ctx, spec)
}

// Remove tears the channel's endpoint down.
func (m *Manager) Remove(ctx context.Context, channelID string) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()
	return m.remove(ctx, channelID)
}

// Reconnect recreates the channel's endpoint from its current spec.
func (m *Manager) Reconnect(ctx context.Context, channelID string) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	m.mu.RLock()
	mg, ok := m.endpoints[channelID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("channel %s is not managed", channelID)
	}
	return m.recreate(ctx, mg.spec)
}

func (m *Manager) add(ctx context.Context, spec ChannelSpec) error {
	m.mu.RLock()
	_, exists := m.endpoints[spec.ChannelID]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return fmt.Errorf("connection manager is closed")
	}
	if exists {
		return fmt.Errorf("channel %s already managed", spec.ChannelID)
	}

	ep, err := m.build(ctx, spec)
	if err != nil {
		m.emit(EventFailed, spec.ChannelID)
		return err
	}

	m.mu.Lock()
	m.endpoints[spec.ChannelID] = &managed{spec: spec, ep: ep}
	m.mu.Unlock()

	m.emit(EventAdded, spec.ChannelID)
	if spec.ServerMode {
		m.emit(EventServerStarted, spec.ChannelID)
	}
	return nil
}

func (m *Manager) remove(ctx context.Context, channelID string) error {
	m.mu.Lock()
	mg, ok := m.endpoints[channelID]
	delete(m.endpoints, channelID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	err := mg.ep.Close(ctx)
	m.emit(EventRemoved, channelID)
	return err
}

func (m *Manager) recreate(ctx context.Context, spec ChannelSpec) error {
	m.mu.Lock()
	old, ok := m.endpoints[spec.ChannelID]
	delete(m.endpoints, spec.ChannelID)
	m.mu.Unlock()

	if ok {
		if err := old.ep.Close(ctx); err != nil {
			logger.Warn("Closing stale endpoint failed",
				logger.KeyChannel, spec.ChannelID,
				logger.KeyError, err.Error())
		}
	}

	ep, err := m.build(ctx, spec)
	if err != nil {
		m.emit(EventFailed, spec.ChannelID)
		return err
	}

	m.mu.Lock()
	m.endpoints[spec.ChannelID] = &managed{spec: spec, ep: ep}
	m.mu.Unlock()

	m.emit(EventRecreated, spec.ChannelID)
	return nil
}

// build constructs, wires, and starts an endpoint without holding any lock.
func (m *Manager) build(ctx context.Context, spec ChannelSpec) (endpoint.Endpoint, error) {
	var ep endpoint.Endpoint
	var err error
	if spec.ServerMode {
		var srv *endpoint.Server
		srv, err = endpoint.NewServer(spec.Config, m.handler, m.chm, m.pm)
		if err == nil {
			srv.AddClientEventListener(func(channelID, clientID string, connected bool) {
				if connected {
					m.emit(EventClientConnected, channelID)
				} else {
					m.emit(EventClientDisconnected, channelID)
				}
			})
			ep = srv
		}
	} else {
		ep, err = endpoint.NewClient(spec.Config, m.handler, m.chm, m.pm)
	}
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", spec.ChannelID, err)
	}

	ep.AddStateListener(func(channelID string, _, to endpoint.State) {
		m.emit(EventStateChanged, channelID)
		if to == endpoint.StateFailed {
			m.emit(EventFailed, channelID)
		}
	})

	if err := ep.Start(ctx); err != nil {
		_ = ep.Close(ctx)
		return nil, err
	}
	return ep, nil
}

// Close tears down every endpoint and rejects further reconciliation.
func (m *Manager) Close(ctx context.Context) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	eps := m.endpoints
	m.endpoints = make(map[string]*managed)
	m.mu.Unlock()

	var firstErr error
	for id, mg := range eps {
		if err := mg.ep.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		m.emit(EventRemoved, id)
	}
	return firstErr
}
