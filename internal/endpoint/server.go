package endpoint

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/pkg/metrics"
)

// ClientEventListener observes peers connecting to and disconnecting from a
// server endpoint.
type ClientEventListener func(channelID, clientID string, connected bool)

// Server is a listening endpoint: the gateway binds the channel's port(s)
// and the peer institution dials in.
type Server struct {
	*base

	sendListener net.Listener
	recvListener net.Listener

	clients *directory

	clientListeners []ClientEventListener
	clmu            sync.Mutex

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer creates a server endpoint for the channel.
func NewServer(cfg Config, handler Handler, chm metrics.ChannelMetrics, pm metrics.PendingMetrics) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		base:     newBase(cfg, handler, chm, pm),
		clients:  newDirectory(),
		shutdown: make(chan struct{}),
	}, nil
}

func (s *Server) IsServer() bool { return true }

// AddClientEventListener subscribes to peer connect/disconnect events.
func (s *Server) AddClientEventListener(l ClientEventListener) {
	s.clmu.Lock()
	defer s.clmu.Unlock()
	next := make([]ClientEventListener, len(s.clientListeners), len(s.clientListeners)+1)
	copy(next, s.clientListeners)
	s.clientListeners = append(next, l)
}

func (s *Server) notifyClientEvent(clientID string, connected bool) {
	s.clmu.Lock()
	snapshot := s.clientListeners
	s.clmu.Unlock()
	for _, l := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Client event listener panicked",
						logger.KeyChannel, s.cfg.ChannelID, "panic", r)
				}
			}()
			l(s.cfg.ChannelID, clientID, connected)
		}()
	}
}

// Clients returns a snapshot of the connected-peer directory.
func (s *Server) Clients() []ClientInfo { return s.clients.snapshot() }

// ClientCount returns the number of connected peers.
func (s *Server) ClientCount() int { return s.clients.count() }

// Start binds the channel ports and begins accepting. It returns once the
// listeners are bound; accept loops run in the background.
func (s *Server) Start(ctx context.Context) error {
	s.setState(StateConnecting)

	if s.cfg.DualChannel {
		send, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.SendPort))
		if err != nil {
			s.setState(StateFailed)
			return fmt.Errorf("channel %s: bind send port: %w", s.cfg.ChannelID, err)
		}
		s.sendListener = send
		s.setState(StateSendOnlyConnected)

		recv, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ReceivePort))
		if err != nil {
			_ = send.Close()
			s.setState(StateFailed)
			return fmt.Errorf("channel %s: bind receive port: %w", s.cfg.ChannelID, err)
		}
		s.recvListener = recv
		s.setState(StateBothConnected)

		s.wg.Add(2)
		go s.acceptLoop(ctx, send, PortSend)
		go s.acceptLoop(ctx, recv, PortReceive)
	} else {
		unified, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.UnifiedPort))
		if err != nil {
			s.setState(StateFailed)
			return fmt.Errorf("channel %s: bind unified port: %w", s.cfg.ChannelID, err)
		}
		s.sendListener = unified
		s.setState(StateBothConnected)

		s.wg.Add(1)
		go s.acceptLoop(ctx, unified, PortUnified)
	}

	logger.Info("Server endpoint started",
		logger.KeyChannel, s.cfg.ChannelID,
		"dual_channel", s.cfg.DualChannel,
		logger.KeyPort, s.cfg.EffectiveReceivePort())
	return nil
}

// Addr returns the bound address of the send (or unified) listener, useful
// when the config asked for port 0.
func (s *Server) Addr() net.Addr {
	if s.sendListener == nil {
		return nil
	}
	return s.sendListener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, kind PortKind) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
			default:
				logger.Warn("Accept failed",
					logger.KeyChannel, s.cfg.ChannelID,
					logger.KeyPortKind, string(kind),
					logger.KeyError, err.Error())
			}
			return
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(ctx, c, kind)
		}(conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, kind PortKind) {
	fc := newFramedConn(conn, s.codec)
	p := s.clients.attach(fc, kind)

	logger.Info("Peer connected",
		logger.KeyChannel, s.cfg.ChannelID,
		logger.KeyClientID, p.id,
		logger.KeyClientIP, fc.RemoteAddr(),
		logger.KeyPortKind, string(kind))
	s.notifyClientEvent(p.id, true)

	defer func() {
		_ = fc.Close()
		s.clients.detach(fc)
		s.notifyClientEvent(p.id, false)
		logger.Info("Peer disconnected",
			logger.KeyChannel, s.cfg.ChannelID,
			logger.KeyClientID, p.id,
			logger.KeyPortKind, string(kind))
	}()

	// Responses to a dual-channel peer travel on its receive socket.
	respond := func(msg *iso8583.Message) error {
		target := fc
		if s.cfg.DualChannel {
			if pr := s.clients.lookup(p.id); pr != nil && pr.recvConn != nil {
				target = pr.recvConn
			} else {
				return fmt.Errorf("client %s has no receive connection", p.id)
			}
		}
		return s.writeOut(target, msg)
	}

	_ = s.readLoop(ctx, fc, respond)
}

// Send transmits a gateway-originated request to a connected peer and waits
// for the response. The peer is chosen arbitrarily; use SendTo when the
// channel has several.
func (s *Server) Send(ctx context.Context, msg *iso8583.Message) (*iso8583.Message, error) {
	p := s.clients.any()
	if p == nil {
		return nil, fmt.Errorf("channel %s: no connected peer", s.cfg.ChannelID)
	}
	return s.sendToPeer(ctx, p, msg)
}

// SendTo transmits a request to one specific connected peer.
func (s *Server) SendTo(ctx context.Context, clientID string, msg *iso8583.Message) (*iso8583.Message, error) {
	p := s.clients.lookup(clientID)
	if p == nil {
		return nil, fmt.Errorf("channel %s: client %s not connected", s.cfg.ChannelID, clientID)
	}
	return s.sendToPeer(ctx, p, msg)
}

func (s *Server) sendToPeer(ctx context.Context, p *peer, msg *iso8583.Message) (*iso8583.Message, error) {
	target := p.recvConn
	if target == nil {
		target = p.sendConn
	}
	if target == nil {
		return nil, fmt.Errorf("channel %s: client %s has no socket", s.cfg.ChannelID, p.id)
	}

	req, err := s.reg.Register(msg.Stan(), s.cfg.ResponseTimeout)
	if err != nil {
		return nil, err
	}
	if err := s.writeOut(target, msg); err != nil {
		s.reg.Cancel(msg.Stan(), err)
		return nil, err
	}
	return req.Await(ctx)
}

// Close gracefully stops the endpoint: listeners first so no new peers
// arrive, then client sockets, then the pending registry.
func (s *Server) Close(ctx context.Context) error {
	if !s.setState(StateClosing) {
		return nil
	}

	s.shutdownOnce.Do(func() { close(s.shutdown) })
	if s.sendListener != nil {
		_ = s.sendListener.Close()
	}
	if s.recvListener != nil {
		_ = s.recvListener.Close()
	}
	s.clients.closeAll()
	s.reg.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Server endpoint close timed out",
			logger.KeyChannel, s.cfg.ChannelID)
	}

	s.setState(StateClosed)
	return nil
}

var _ Endpoint = (*Server)(nil)
