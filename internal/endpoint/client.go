package endpoint

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/pkg/metrics"
)

// Network management information codes (field 70).
const (
	NetMgmtSignOn  = "001"
	NetMgmtSignOff = "002"
	NetMgmtEcho    = "301"
)

// Client is a dialing endpoint: the gateway connects out to the peer
// institution's port(s) and keeps the link alive with heartbeats.
type Client struct {
	*base

	connMu   sync.Mutex
	sendConn *framedConn
	recvConn *framedConn

	stanSeq uint64
	seqMu   sync.Mutex

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewClient creates a dialing endpoint for the channel.
func NewClient(cfg Config, handler Handler, chm metrics.ChannelMetrics, pm metrics.PendingMetrics) (*Client, error) {
	cfg.ApplyDefaults()
	cfg.ServerMode = false
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		base:     newBase(cfg, handler, chm, pm),
		stanSeq:  uint64(time.Now().UnixNano() % 1_000_000),
		shutdown: make(chan struct{}),
	}, nil
}

func (c *Client) IsServer() bool { return false }

// Start launches the connection loop. It returns immediately; the first
// dial happens in the background and state listeners observe progress.
func (c *Client) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// run drives the connect / serve / reconnect cycle until shutdown.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	attempt := 0
	for {
		select {
		case <-c.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		err := c.connect(ctx)
		if err == nil {
			attempt = 0
			c.serve(ctx)
		}

		select {
		case <-c.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !c.cfg.AutoReconnect {
			c.setState(StateFailed)
			return
		}
		attempt++
		if c.cfg.MaxRetries > 0 && attempt > c.cfg.MaxRetries {
			logger.Error("Retries exhausted",
				logger.KeyChannel, c.cfg.ChannelID,
				"attempts", attempt-1)
			c.setState(StateFailed)
			return
		}

		c.setState(StateReconnecting)
		if c.metrics != nil {
			c.metrics.RecordReconnect(c.cfg.ChannelID)
		}
		logger.Info("Reconnecting",
			logger.KeyChannel, c.cfg.ChannelID,
			"attempt", attempt,
			"delay", c.cfg.RetryDelay.String())

		select {
		case <-time.After(c.cfg.RetryDelay):
		case <-c.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// connect dials the peer and walks the state machine up to BOTH_CONNECTED
// (and SIGNED_ON when sign-on is configured).
func (c *Client) connect(ctx context.Context) error {
	c.setState(StateConnecting)

	if c.cfg.DualChannel {
		send, err := c.dial(c.cfg.SendPort)
		if err != nil {
			logger.Warn("Send channel dial failed",
				logger.KeyChannel, c.cfg.ChannelID,
				logger.KeyPort, c.cfg.SendPort,
				logger.KeyError, err.Error())
			c.setState(StateReconnecting)
			return err
		}
		c.setConns(send, nil)
		c.setState(StateSendOnlyConnected)

		recv, err := c.dial(c.cfg.ReceivePort)
		if err != nil {
			logger.Warn("Receive channel dial failed",
				logger.KeyChannel, c.cfg.ChannelID,
				logger.KeyPort, c.cfg.ReceivePort,
				logger.KeyError, err.Error())
			c.closeConns()
			c.setState(StateReconnecting)
			return err
		}
		c.setConns(send, recv)
	} else {
		unified, err := c.dial(c.cfg.UnifiedPort)
		if err != nil {
			logger.Warn("Dial failed",
				logger.KeyChannel, c.cfg.ChannelID,
				logger.KeyPort, c.cfg.UnifiedPort,
				logger.KeyError, err.Error())
			c.setState(StateReconnecting)
			return err
		}
		c.setConns(unified, unified)
	}
	c.setState(StateBothConnected)

	if c.cfg.SignOn {
		if err := c.signOn(ctx); err != nil {
			logger.Warn("Sign-on failed",
				logger.KeyChannel, c.cfg.ChannelID,
				logger.KeyError, err.Error())
			c.closeConns()
			c.setState(StateReconnecting)
			return err
		}
		c.setState(StateSignedOn)
	}
	return nil
}

func (c *Client) dial(port int) (*framedConn, error) {
	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, c.cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	return newFramedConn(conn, c.codec), nil
}

func (c *Client) setConns(send, recv *framedConn) {
	c.connMu.Lock()
	c.sendConn = send
	c.recvConn = recv
	c.connMu.Unlock()
}

func (c *Client) conns() (send, recv *framedConn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.sendConn, c.recvConn
}

func (c *Client) closeConns() {
	c.connMu.Lock()
	send, recv := c.sendConn, c.recvConn
	c.sendConn, c.recvConn = nil, nil
	c.connMu.Unlock()

	if send != nil {
		_ = send.Close()
	}
	if recv != nil && recv != send {
		_ = recv.Close()
	}
}

// serve runs read loops and the heartbeat until the link drops, then tears
// the sockets down and returns to the reconnect cycle.
func (c *Client) serve(ctx context.Context) {
	send, recv := c.conns()
	if send == nil {
		return
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.closeConns()

	// Inbound requests on the send channel are answered on the same socket
	// the peer expects responses on.
	respond := func(msg *iso8583.Message) error {
		s, _ := c.conns()
		if s == nil {
			return net.ErrClosed
		}
		return c.writeOut(s, msg)
	}

	var lwg sync.WaitGroup
	lwg.Add(1)
	go func() {
		defer lwg.Done()
		defer cancel()
		_ = c.readLoop(serveCtx, send, respond)
	}()
	if recv != nil && recv != send {
		lwg.Add(1)
		go func() {
			defer lwg.Done()
			defer cancel()
			_ = c.readLoop(serveCtx, recv, respond)
		}()
	}

	c.heartbeatLoop(serveCtx, cancel)
	lwg.Wait()
}

// heartbeatLoop sends 0800/301 echoes at the configured interval. A failed
// or unanswered echo drops the link so the reconnect cycle takes over.
func (c *Client) heartbeatLoop(ctx context.Context, cancel context.CancelFunc) {
	if c.cfg.HeartbeatInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			err := c.echo(ctx)
			if c.metrics != nil {
				c.metrics.RecordHeartbeat(c.cfg.ChannelID, err == nil)
			}
			if err != nil {
				logger.Warn("Heartbeat failed",
					logger.KeyChannel, c.cfg.ChannelID,
					logger.KeyError, err.Error())
				cancel()
				return
			}
		}
	}
}

// nextStan mints a six-digit trace number for endpoint-originated network
// management messages.
func (c *Client) nextStan() string {
	c.seqMu.Lock()
	c.stanSeq++
	if c.stanSeq >= 1_000_000 {
		c.stanSeq = 1
	}
	n := c.stanSeq
	c.seqMu.Unlock()
	return fmt.Sprintf("%06d", n)
}

func (c *Client) netMgmt(code string) *iso8583.Message {
	return iso8583.NewMessage("0800").
		SetN(iso8583.FieldStan, c.nextStan()).
		SetN(iso8583.FieldNetMgmtCode, code)
}

func (c *Client) signOn(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, c.cfg.ResponseTimeout)
	defer cancel()

	resp, err := c.Send(sctx, c.netMgmt(NetMgmtSignOn))
	if err != nil {
		return fmt.Errorf("sign-on: %w", err)
	}
	if rc := resp.FieldN(iso8583.FieldResponseCode); rc != "00" {
		return fmt.Errorf("sign-on rejected with response code %s", rc)
	}
	logger.Info("Signed on", logger.KeyChannel, c.cfg.ChannelID)
	return nil
}

func (c *Client) echo(ctx context.Context) error {
	ectx, cancel := context.WithTimeout(ctx, c.cfg.ResponseTimeout)
	defer cancel()
	_, err := c.Send(ectx, c.netMgmt(NetMgmtEcho))
	return err
}

// signOff notifies the peer on shutdown; failures are logged, not fatal.
func (c *Client) signOff(ctx context.Context) {
	send, _ := c.conns()
	if send == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, c.cfg.SignOffTimeout)
	defer cancel()
	if _, err := c.Send(sctx, c.netMgmt(NetMgmtSignOff)); err != nil {
		logger.Warn("Sign-off failed",
			logger.KeyChannel, c.cfg.ChannelID,
			logger.KeyError, err.Error())
	}
}

// Send transmits a request on the send channel and waits for its
// STAN-matched response to arrive on either socket.
func (c *Client) Send(ctx context.Context, msg *iso8583.Message) (*iso8583.Message, error) {
	send, _ := c.conns()
	if send == nil {
		return nil, fmt.Errorf("channel %s: not connected", c.cfg.ChannelID)
	}

	req, err := c.reg.Register(msg.Stan(), c.cfg.ResponseTimeout)
	if err != nil {
		return nil, err
	}
	if err := c.writeOut(send, msg); err != nil {
		c.reg.Cancel(msg.Stan(), err)
		return nil, err
	}
	return req.Await(ctx)
}

// Close signs off (best effort), stops the run loop, and tears the sockets
// down.
func (c *Client) Close(ctx context.Context) error {
	if !c.setState(StateClosing) {
		return nil
	}
	c.shutdownOnce.Do(func() { close(c.shutdown) })

	if c.cfg.SignOn {
		c.signOff(ctx)
	}
	c.closeConns()
	c.reg.Close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Client endpoint close timed out",
			logger.KeyChannel, c.cfg.ChannelID)
	}

	c.setState(StateClosed)
	return nil
}

var _ Endpoint = (*Client)(nil)
