package endpoint

import (
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

// PortKind labels which socket of a dual-channel pair a connection belongs
// to.
type PortKind string

const (
	PortSend    PortKind = "send"
	PortReceive PortKind = "receive"
	PortUnified PortKind = "unified"
)

// ClientInfo is a read-only snapshot of one connected peer.
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	SendBound   bool      `json:"send_bound"`
	RecvBound   bool      `json:"receive_bound"`
	ConnectedAt time.Time `json:"connected_at"`
}

// peer tracks the socket pair of one connected client.
type peer struct {
	id          string
	sendConn    *framedConn
	recvConn    *framedConn
	connectedAt time.Time
}

// directory indexes connected clients by sanitized remote host, so the two
// sockets of a dual-channel peer can be matched up.
type directory struct {
	mu    sync.RWMutex
	peers map[string]*peer
}

func newDirectory() *directory {
	return &directory{peers: make(map[string]*peer)}
}

// clientID derives the directory key from a remote address: the host part
// with separators flattened ("10.0.0.5" -> "10-0-0-5").
func clientID(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return strings.NewReplacer(".", "-", ":", "-", "%", "-").Replace(host)
}

// attach records a connection under its port kind and returns the peer.
func (d *directory) attach(fc *framedConn, kind PortKind) *peer {
	id := clientID(fc.RemoteAddr())

	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.peers[id]
	if !ok {
		p = &peer{id: id, connectedAt: time.Now()}
		d.peers[id] = p
	}
	switch kind {
	case PortReceive:
		p.recvConn = fc
	case PortUnified:
		p.sendConn = fc
		p.recvConn = fc
	default:
		p.sendConn = fc
	}
	return p
}

// detach drops a connection; the peer entry disappears when its last socket
// goes.
func (d *directory) detach(fc *framedConn) {
	id := clientID(fc.RemoteAddr())

	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.peers[id]
	if !ok {
		return
	}
	if p.sendConn == fc {
		p.sendConn = nil
	}
	if p.recvConn == fc {
		p.recvConn = nil
	}
	if p.sendConn == nil && p.recvConn == nil {
		delete(d.peers, id)
	}
}

// lookup returns the peer for a client id.
func (d *directory) lookup(id string) *peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peers[id]
}

// any returns an arbitrary fully-wired peer, preferring ones with a
// receive socket.
func (d *directory) any() *peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var fallback *peer
	for _, p := range d.peers {
		if p.recvConn != nil {
			return p
		}
		fallback = p
	}
	return fallback
}

// snapshot lists connected clients sorted by id.
func (d *directory) snapshot() []ClientInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ClientInfo, 0, len(d.peers))
	for _, p := range d.peers {
		info := ClientInfo{
			ID:          p.id,
			SendBound:   p.sendConn != nil,
			RecvBound:   p.recvConn != nil,
			ConnectedAt: p.connectedAt,
		}
		switch {
		case p.sendConn != nil:
			info.RemoteAddr = p.sendConn.RemoteAddr()
		case p.recvConn != nil:
			info.RemoteAddr = p.recvConn.RemoteAddr()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// count returns the number of connected clients.
func (d *directory) count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// closeAll tears down every socket.
func (d *directory) closeAll() {
	d.mu.Lock()
	peers := d.peers
	d.peers = make(map[string]*peer)
	d.mu.Unlock()

	for _, p := range peers {
		if p.sendConn != nil {
			_ = p.sendConn.Close()
		}
		if p.recvConn != nil && p.recvConn != p.sendConn {
			_ = p.recvConn.Close()
		}
	}
}
