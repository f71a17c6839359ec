package connmgr

import (
	"github.com/nexuspay/fepgate/internal/logger"
)

// Event labels one endpoint lifecycle occurrence.
type Event string

const (
	EventAdded              Event = "added"
	EventRemoved            Event = "removed"
	EventRecreated          Event = "recreated"
	EventFailed             Event = "failed"
	EventStateChanged       Event = "state-changed"
	EventServerStarted      Event = "server-started"
	EventClientConnected    Event = "client-connected"
	EventClientDisconnected Event = "client-disconnected"
)

// Listener observes endpoint lifecycle events. Callbacks run synchronously
// on the goroutine that caused the event; a panicking listener does not stop
// the chain.
type Listener func(event Event, channelID string)

// AddListener subscribes to lifecycle events. The list is copy-on-write so
// emission never holds the lock.
func (m *Manager) AddListener(l Listener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	next := make([]Listener, len(m.listeners), len(m.listeners)+1)
	copy(next, m.listeners)
	m.listeners = append(next, l)
}

func (m *Manager) emit(event Event, channelID string) {
	m.lmu.Lock()
	snapshot := m.listeners
	m.lmu.Unlock()

	for _, l := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Lifecycle listener panicked",
						logger.KeyChannel, channelID,
						"event", string(event),
						"panic", r)
				}
			}()
			l(event, channelID)
		}()
	}
}
