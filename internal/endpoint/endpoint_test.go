package endpoint

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuspay/fepgate/internal/iso8583"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// echoHandler approves every request, echoing STAN and network management
// code back.
func echoHandler(_ context.Context, _ string, msg *iso8583.Message) *iso8583.Message {
	mti := []byte(msg.MTI)
	mti[2]++
	resp := iso8583.NewMessage(string(mti)).
		SetN(iso8583.FieldStan, msg.Stan()).
		SetN(iso8583.FieldResponseCode, "00")
	if code := msg.FieldN(iso8583.FieldNetMgmtCode); code != "" {
		resp.SetN(iso8583.FieldNetMgmtCode, code)
	}
	return resp
}

// waitForState blocks until the endpoint reaches the wanted state.
func waitForState(t *testing.T, ep Endpoint, want State) {
	t.Helper()
	reached := make(chan struct{}, 1)
	ep.AddStateListener(func(_ string, _, to State) {
		if to == want {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	if ep.State() == want {
		return
	}
	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatalf("endpoint never reached %s (currently %s)", want, ep.State())
	}
}

func TestStateStringAndTransitions(t *testing.T) {
	assert.Equal(t, "BOTH_CONNECTED", StateBothConnected.String())
	assert.Equal(t, "SIGNED_ON", StateSignedOn.String())

	assert.True(t, StateDisconnected.CanTransitionTo(StateConnecting))
	assert.True(t, StateConnecting.CanTransitionTo(StateSendOnlyConnected))
	assert.True(t, StateSendOnlyConnected.CanTransitionTo(StateBothConnected))
	assert.True(t, StateBothConnected.CanTransitionTo(StateSignedOn))
	assert.True(t, StateSignedOn.CanTransitionTo(StateReconnecting))
	assert.True(t, StateReconnecting.CanTransitionTo(StateConnecting))
	assert.True(t, StateClosing.CanTransitionTo(StateClosed))

	// FAILED is reachable from anywhere.
	assert.True(t, StateClosed.CanTransitionTo(StateFailed))

	assert.False(t, StateDisconnected.CanTransitionTo(StateSignedOn))
	assert.False(t, StateClosed.CanTransitionTo(StateConnecting))
	assert.False(t, StateSignedOn.CanTransitionTo(StateBothConnected))

	assert.True(t, StateSignedOn.IsConnected())
	assert.False(t, StateReconnecting.IsConnected())
	assert.True(t, StateClosed.IsTerminal())
	assert.False(t, StateBothConnected.IsTerminal())
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{ChannelID: "ch1", DualChannel: true, SendPort: 9001}
	assert.Error(t, cfg.Validate())

	cfg.ReceivePort = 9001
	assert.Error(t, cfg.Validate())

	cfg.ReceivePort = 9002
	cfg.ServerMode = true
	assert.NoError(t, cfg.Validate())

	cfg.ServerMode = false
	assert.Error(t, cfg.Validate(), "client endpoints need a host")
	cfg.Host = "10.0.0.1"
	assert.NoError(t, cfg.Validate())

	unified := Config{ChannelID: "ch2", ServerMode: true}
	assert.Error(t, unified.Validate())
	unified.UnifiedPort = 9100
	assert.NoError(t, unified.Validate())
}

func TestUnifiedRequestResponse(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()

	srv, err := NewServer(Config{
		ChannelID:   "fisc-unified",
		ServerMode:  true,
		UnifiedPort: port,
	}, echoHandler, nil, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))
	defer srv.Close(ctx)

	cli, err := NewClient(Config{
		ChannelID:   "fisc-unified",
		Host:        "127.0.0.1",
		UnifiedPort: port,
	}, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, cli.Start(ctx))
	defer cli.Close(ctx)
	waitForState(t, cli, StateBothConnected)

	req := iso8583.NewMessage("0200").
		SetN(iso8583.FieldStan, "000123").
		SetN(iso8583.FieldProcessingCode, "010000")
	resp, err := cli.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "0210", resp.MTI)
	assert.Equal(t, "000123", resp.Stan())
	assert.Equal(t, "00", resp.FieldN(iso8583.FieldResponseCode))
}

func TestDualChannelRequestResponse(t *testing.T) {
	sendPort := freePort(t)
	recvPort := freePort(t)
	ctx := context.Background()

	srv, err := NewServer(Config{
		ChannelID:   "fisc-dual",
		ServerMode:  true,
		DualChannel: true,
		SendPort:    sendPort,
		ReceivePort: recvPort,
	}, echoHandler, nil, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))
	defer srv.Close(ctx)
	assert.Equal(t, StateBothConnected, srv.State())

	cli, err := NewClient(Config{
		ChannelID:   "fisc-dual",
		Host:        "127.0.0.1",
		DualChannel: true,
		SendPort:    sendPort,
		ReceivePort: recvPort,
	}, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, cli.Start(ctx))
	defer cli.Close(ctx)
	waitForState(t, cli, StateBothConnected)

	req := iso8583.NewMessage("0200").
		SetN(iso8583.FieldStan, "000777").
		SetN(iso8583.FieldProcessingCode, "310000")
	resp, err := cli.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "0210", resp.MTI)
	assert.Equal(t, "000777", resp.Stan())
}

func TestClientSignOn(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()

	srv, err := NewServer(Config{
		ChannelID:   "fisc-signon",
		ServerMode:  true,
		UnifiedPort: port,
	}, echoHandler, nil, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))
	defer srv.Close(ctx)

	cli, err := NewClient(Config{
		ChannelID:   "fisc-signon",
		Host:        "127.0.0.1",
		UnifiedPort: port,
		SignOn:      true,
	}, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, cli.Start(ctx))
	defer cli.Close(ctx)

	waitForState(t, cli, StateSignedOn)
}

func TestServerSendToClient(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()

	srv, err := NewServer(Config{
		ChannelID:   "fisc-push",
		ServerMode:  true,
		UnifiedPort: port,
	}, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))
	defer srv.Close(ctx)

	cli, err := NewClient(Config{
		ChannelID:   "fisc-push",
		Host:        "127.0.0.1",
		UnifiedPort: port,
	}, echoHandler, nil, nil)
	require.NoError(t, err)
	require.NoError(t, cli.Start(ctx))
	defer cli.Close(ctx)
	waitForState(t, cli, StateBothConnected)

	// Wait for the server side to register the peer.
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 },
		5*time.Second, 10*time.Millisecond)

	req := iso8583.NewMessage("0800").
		SetN(iso8583.FieldStan, "000900").
		SetN(iso8583.FieldNetMgmtCode, NetMgmtEcho)
	resp, err := srv.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "0810", resp.MTI)
	assert.Equal(t, NetMgmtEcho, resp.FieldN(iso8583.FieldNetMgmtCode))
}

func TestServerClientsSnapshot(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()

	srv, err := NewServer(Config{
		ChannelID:   "fisc-dir",
		ServerMode:  true,
		UnifiedPort: port,
	}, echoHandler, nil, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))
	defer srv.Close(ctx)

	var connects, disconnects atomic.Int32
	srv.AddClientEventListener(func(_, _ string, connected bool) {
		if connected {
			connects.Add(1)
		} else {
			disconnects.Add(1)
		}
	})

	cli, err := NewClient(Config{
		ChannelID:   "fisc-dir",
		Host:        "127.0.0.1",
		UnifiedPort: port,
	}, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, cli.Start(ctx))
	waitForState(t, cli, StateBothConnected)

	require.Eventually(t, func() bool { return srv.ClientCount() == 1 },
		5*time.Second, 10*time.Millisecond)

	infos := srv.Clients()
	require.Len(t, infos, 1)
	assert.Equal(t, "127-0-0-1", infos[0].ID)
	assert.True(t, infos[0].SendBound)
	assert.True(t, infos[0].RecvBound)
	assert.Equal(t, int32(1), connects.Load())

	require.NoError(t, cli.Close(ctx))
	require.Eventually(t, func() bool { return srv.ClientCount() == 0 },
		5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, disconnects.Load(), int32(1))
}

func TestClientRetriesExhaustToFailed(t *testing.T) {
	// Nothing listens on this port, so every dial is refused.
	port := freePort(t)
	ctx := context.Background()

	cli, err := NewClient(Config{
		ChannelID:     "fisc-dead",
		Host:          "127.0.0.1",
		UnifiedPort:   port,
		AutoReconnect: true,
		MaxRetries:    2,
		RetryDelay:    20 * time.Millisecond,
	}, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, cli.Start(ctx))
	defer cli.Close(ctx)

	waitForState(t, cli, StateFailed)
}

func TestClientSendWhileDisconnected(t *testing.T) {
	cli, err := NewClient(Config{
		ChannelID:   "fisc-idle",
		Host:        "127.0.0.1",
		UnifiedPort: 19999,
	}, nil, nil, nil)
	require.NoError(t, err)

	_, err = cli.Send(context.Background(),
		iso8583.NewMessage("0200").SetN(iso8583.FieldStan, "000001"))
	assert.Error(t, err)
}

func TestConnectionLossCancelsPending(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()

	// Server that never answers, so the request stays pending until the
	// link drops.
	silent := func(context.Context, string, *iso8583.Message) *iso8583.Message { return nil }
	srv, err := NewServer(Config{
		ChannelID:   "fisc-cut",
		ServerMode:  true,
		UnifiedPort: port,
	}, silent, nil, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))

	cli, err := NewClient(Config{
		ChannelID:       "fisc-cut",
		Host:            "127.0.0.1",
		UnifiedPort:     port,
		ResponseTimeout: 10 * time.Second,
		AutoReconnect:   true,
		MaxRetries:      1,
		RetryDelay:      10 * time.Millisecond,
	}, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, cli.Start(ctx))
	defer cli.Close(ctx)
	waitForState(t, cli, StateBothConnected)

	errCh := make(chan error, 1)
	go func() {
		_, err := cli.Send(ctx,
			iso8583.NewMessage("0200").SetN(iso8583.FieldStan, "000321"))
		errCh <- err
	}()

	require.Eventually(t, func() bool { return cli.Pending().PendingCount() == 1 },
		5*time.Second, 10*time.Millisecond)
	require.NoError(t, srv.Close(ctx))

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pending request survived connection loss")
	}
}

func TestDirectoryDualSocketPairing(t *testing.T) {
	codec := iso8583.NewCodec(nil, iso8583.DefaultFrameConfig())
	d := newDirectory()

	a1, b1 := net.Pipe()
	a2, b2 := net.Pipe()
	defer a1.Close()
	defer b1.Close()
	defer a2.Close()
	defer b2.Close()

	send := newFramedConn(a1, codec)
	recv := newFramedConn(a2, codec)

	p1 := d.attach(send, PortSend)
	p2 := d.attach(recv, PortReceive)
	assert.Same(t, p1, p2, "both sockets of one host pair up")
	assert.Equal(t, 1, d.count())

	got := d.lookup(p1.id)
	require.NotNil(t, got)
	assert.NotNil(t, got.sendConn)
	assert.NotNil(t, got.recvConn)

	d.detach(send)
	assert.Equal(t, 1, d.count(), "peer survives while one socket remains")
	d.detach(recv)
	assert.Equal(t, 0, d.count())
}

func TestClientIDSanitizing(t *testing.T) {
	assert.Equal(t, "10-0-0-5", clientID("10.0.0.5:41234"))
	assert.Equal(t, "--1", clientID("[::1]:9000"))
	assert.Equal(t, "host-example", clientID("host.example:80"))
}
