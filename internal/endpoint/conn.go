package endpoint

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/nexuspay/fepgate/internal/iso8583"
	"github.com/nexuspay/fepgate/internal/logger"
)

// framedConn wraps one socket with length-prefix framing and a write mutex
// so concurrent senders never interleave frames.
type framedConn struct {
	conn  net.Conn
	br    *bufio.Reader
	codec *iso8583.Codec

	wmu    sync.Mutex
	closed sync.Once
}

func newFramedConn(conn net.Conn, codec *iso8583.Codec) *framedConn {
	return &framedConn{
		conn:  conn,
		br:    bufio.NewReader(conn),
		codec: codec,
	}
}

func (fc *framedConn) RemoteAddr() string {
	return fc.conn.RemoteAddr().String()
}

// ReadMessage blocks for the next frame. idleTimeout bounds the wait; zero
// means no deadline.
func (fc *framedConn) ReadMessage(idleTimeout time.Duration) (*iso8583.Message, int, error) {
	if idleTimeout > 0 {
		if err := fc.conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return nil, 0, err
		}
	}
	payload, err := iso8583.ReadFrame(fc.br, fc.codec.Framing)
	if err != nil {
		return nil, 0, err
	}
	msg, err := fc.codec.DecodePayload(payload)
	if err != nil {
		return nil, len(payload), err
	}
	return msg, len(payload), nil
}

// WriteMessage frames and writes one message under the write mutex.
func (fc *framedConn) WriteMessage(msg *iso8583.Message, timeout time.Duration) (int, error) {
	raw, err := fc.codec.Encode(msg)
	if err != nil {
		return 0, err
	}

	fc.wmu.Lock()
	defer fc.wmu.Unlock()
	if timeout > 0 {
		if err := fc.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	}
	n, err := fc.conn.Write(raw)
	return n, err
}

func (fc *framedConn) Close() error {
	var err error
	fc.closed.Do(func() { err = fc.conn.Close() })
	return err
}

// readLoop pumps frames off one socket until error or context cancellation.
// Responses complete the pending registry; requests go through the handler
// and the reply is written via respond. Decode failures are logged and the
// connection stays alive.
func (b *base) readLoop(ctx context.Context, fc *framedConn, respond func(*iso8583.Message) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, size, err := fc.ReadMessage(0)
		if err != nil {
			var parseErr *iso8583.ParseError
			if errors.As(err, &parseErr) {
				logger.Warn("Dropping unparseable frame",
					logger.KeyChannel, b.cfg.ChannelID,
					logger.KeyClientIP, fc.RemoteAddr(),
					logger.KeyError, parseErr.Error())
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return err
			}
			return err
		}

		if b.metrics != nil {
			b.metrics.RecordFrame(b.cfg.ChannelID, metricsDirIn, size)
		}

		if isResponseMTI(msg.MTI) {
			if !b.reg.Complete(msg.Stan(), msg) {
				logger.Warn("Unsolicited response",
					logger.KeyChannel, b.cfg.ChannelID,
					logger.KeyMTI, msg.MTI,
					logger.KeyStan, msg.Stan())
			}
			continue
		}

		go b.handleRequest(ctx, fc, msg, respond)
	}
}

const (
	metricsDirIn  = "in"
	metricsDirOut = "out"
)

// handleRequest runs one inbound request through the handler off the read
// goroutine so a slow pipeline never stalls the socket.
func (b *base) handleRequest(ctx context.Context, fc *framedConn, msg *iso8583.Message, respond func(*iso8583.Message) error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Request handler panicked",
				logger.KeyChannel, b.cfg.ChannelID,
				logger.KeyMTI, msg.MTI,
				"panic", r)
		}
	}()

	lctx := logger.WithContext(ctx,
		logger.NewLogContext(b.cfg.ChannelID, fc.RemoteAddr()).WithMessage(msg.MTI, msg.Stan()))

	if b.handler == nil {
		logger.WarnCtx(lctx, "No handler configured; dropping request")
		return
	}
	resp := b.handler(lctx, b.cfg.ChannelID, msg)
	if resp == nil {
		return
	}
	if err := respond(resp); err != nil {
		logger.ErrorCtx(lctx, "Failed to write response",
			logger.KeyError, err.Error())
	}
}

// writeOut writes a message on fc and records frame metrics.
func (b *base) writeOut(fc *framedConn, msg *iso8583.Message) error {
	n, err := fc.WriteMessage(msg, b.cfg.ResponseTimeout)
	if err == nil && b.metrics != nil {
		b.metrics.RecordFrame(b.cfg.ChannelID, metricsDirOut, n)
	}
	return err
}
