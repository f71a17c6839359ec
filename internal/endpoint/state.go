// Package endpoint owns the live peer connections of a channel: one or two
// TCP sockets, a pending-request registry, framing, sign-on, heartbeats,
// and a serialized state machine with observer notifications.
package endpoint

// State is the lifecycle state of an endpoint.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSendOnlyConnected
	StateReceiveOnlyConnected
	StateBothConnected
	StateSignedOn
	StateReconnecting
	StateClosing
	StateClosed
	StateFailed
)

var stateNames = map[State]string{
	StateDisconnected:         "DISCONNECTED",
	StateConnecting:           "CONNECTING",
	StateSendOnlyConnected:    "SEND_ONLY_CONNECTED",
	StateReceiveOnlyConnected: "RECEIVE_ONLY_CONNECTED",
	StateBothConnected:        "BOTH_CONNECTED",
	StateSignedOn:             "SIGNED_ON",
	StateReconnecting:         "RECONNECTING",
	StateClosing:              "CLOSING",
	StateClosed:               "CLOSED",
	StateFailed:               "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// stateTransitions lists the forward edges. FAILED is reachable from every
// state on fatal error and is handled separately.
var stateTransitions = map[State][]State{
	StateDisconnected:         {StateConnecting, StateClosing},
	StateConnecting:           {StateSendOnlyConnected, StateReceiveOnlyConnected, StateBothConnected, StateReconnecting, StateClosing},
	StateSendOnlyConnected:    {StateBothConnected, StateReconnecting, StateClosing},
	StateReceiveOnlyConnected: {StateBothConnected, StateReconnecting, StateClosing},
	StateBothConnected:        {StateSignedOn, StateReconnecting, StateClosing},
	StateSignedOn:             {StateReconnecting, StateClosing},
	StateReconnecting:         {StateConnecting, StateClosing},
	StateClosing:              {StateClosed},
	StateFailed:               {StateConnecting, StateClosing},
}

// CanTransitionTo reports whether next is a legal move from s. Every state
// may fail.
func (s State) CanTransitionTo(next State) bool {
	if next == StateFailed {
		return true
	}
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsConnected reports whether the endpoint can carry traffic.
func (s State) IsConnected() bool {
	switch s {
	case StateSendOnlyConnected, StateReceiveOnlyConnected, StateBothConnected, StateSignedOn:
		return true
	}
	return false
}

// IsTerminal reports whether the endpoint is done.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// StateListener observes endpoint state changes. Callbacks are invoked
// synchronously in registration order; a panicking listener does not stop
// the others.
type StateListener func(channelID string, from, to State)
