package connmgr

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuspay/fepgate/internal/endpoint"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func serverSpec(t *testing.T, id string) ChannelSpec {
	t.Helper()
	return ChannelSpec{
		Active: true,
		Config: endpoint.Config{
			ChannelID:   id,
			ServerMode:  true,
			UnifiedPort: freePort(t),
		},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := New(nil, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func TestSnapshotActiveSetBecomesLiveSet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	specA := serverSpec(t, "bank-a")
	specB := serverSpec(t, "bank-b")
	specC := serverSpec(t, "bank-c")
	specC.Active = false

	require.NoError(t, m.ApplySnapshot(ctx, map[string]ChannelSpec{
		"bank-a": specA,
		"bank-b": specB,
		"bank-c": specC,
	}))

	assert.Equal(t, []string{"bank-a", "bank-b"}, m.ChannelIDs())
	_, ok := m.Get("bank-c")
	assert.False(t, ok, "inactive channels never go live")

	states := m.States()
	assert.Len(t, states, 2)
	for id, st := range states {
		assert.True(t, st.IsConnected(), "channel %s should be up, got %s", id, st)
	}
}

func TestSnapshotRemovesRecreatesAndKeeps(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	specA := serverSpec(t, "bank-a")
	specB := serverSpec(t, "bank-b")
	require.NoError(t, m.ApplySnapshot(ctx, map[string]ChannelSpec{
		"bank-a": specA,
		"bank-b": specB,
	}))
	epA1, _ := m.Get("bank-a")
	epB1, _ := m.Get("bank-b")

	// bank-a unchanged, bank-b gets a new port, bank-c appears; bank-b's
	// old endpoint must be replaced and bank-a's left alone.
	specB2 := specB
	specB2.UnifiedPort = freePort(t)
	specC := serverSpec(t, "bank-c")
	require.NoError(t, m.ApplySnapshot(ctx, map[string]ChannelSpec{
		"bank-a": specA,
		"bank-b": specB2,
		"bank-c": specC,
	}))

	epA2, _ := m.Get("bank-a")
	assert.Same(t, epA1, epA2, "unchanged channel keeps its endpoint")

	epB2, ok := m.Get("bank-b")
	require.True(t, ok)
	assert.NotSame(t, epB1, epB2, "config change recreates the endpoint")
	assert.Equal(t, endpoint.StateClosed, epB1.State())

	assert.Equal(t, []string{"bank-a", "bank-b", "bank-c"}, m.ChannelIDs())

	// Dropping a channel from the snapshot tears it down.
	require.NoError(t, m.ApplySnapshot(ctx, map[string]ChannelSpec{
		"bank-a": specA,
		"bank-b": specB2,
	}))
	_, ok = m.Get("bank-c")
	assert.False(t, ok)
}

func TestApplyDelta(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	specA := serverSpec(t, "bank-a")
	specB := serverSpec(t, "bank-b")
	require.NoError(t, m.ApplySnapshot(ctx, map[string]ChannelSpec{
		"bank-a": specA,
		"bank-b": specB,
	}))
	epA1, _ := m.Get("bank-a")

	// Delta: bank-b removed by id, bank-c added, bank-a untouched.
	specC := serverSpec(t, "bank-c")
	require.NoError(t, m.ApplyDelta(ctx, []ChannelSpec{specC}, []string{"bank-b"}))

	assert.Equal(t, []string{"bank-a", "bank-c"}, m.ChannelIDs())
	epA2, _ := m.Get("bank-a")
	assert.Same(t, epA1, epA2)

	// Delta carrying an unchanged spec is a no-op for that channel.
	require.NoError(t, m.ApplyDelta(ctx, []ChannelSpec{specA}, nil))
	epA3, _ := m.Get("bank-a")
	assert.Same(t, epA1, epA3)

	// Deactivating via delta removes the endpoint.
	specC.Active = false
	require.NoError(t, m.ApplyDelta(ctx, []ChannelSpec{specC}, nil))
	assert.Equal(t, []string{"bank-a"}, m.ChannelIDs())
}

func TestReconnect(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	spec := serverSpec(t, "bank-a")
	require.NoError(t, m.Add(ctx, spec))
	ep1, _ := m.Get("bank-a")

	require.NoError(t, m.Reconnect(ctx, "bank-a"))
	ep2, ok := m.Get("bank-a")
	require.True(t, ok)
	assert.NotSame(t, ep1, ep2)
	assert.Equal(t, endpoint.StateClosed, ep1.State())

	assert.Error(t, m.Reconnect(ctx, "no-such-channel"))
}

func TestAddDuplicateRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	spec := serverSpec(t, "bank-a")
	require.NoError(t, m.Add(ctx, spec))
	assert.Error(t, m.Add(ctx, spec))
}

func TestLifecycleEvents(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []Event
	m.AddListener(func(_ Event, _ string) {
		panic("listener gone rogue")
	})
	m.AddListener(func(event Event, channelID string) {
		mu.Lock()
		defer mu.Unlock()
		if channelID == "bank-a" && event != EventStateChanged {
			got = append(got, event)
		}
	})

	spec := serverSpec(t, "bank-a")
	require.NoError(t, m.Add(ctx, spec))
	require.NoError(t, m.Reconnect(ctx, "bank-a"))
	require.NoError(t, m.Remove(ctx, "bank-a"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Event{EventAdded, EventServerStarted, EventRecreated, EventRemoved}, got)
}

func TestCloseTearsDownEverything(t *testing.T) {
	m := New(nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, serverSpec(t, "bank-a")))
	require.NoError(t, m.Add(ctx, serverSpec(t, "bank-b")))
	ep, _ := m.Get("bank-a")

	require.NoError(t, m.Close(ctx))
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, endpoint.StateClosed, ep.State())

	assert.Error(t, m.Add(ctx, serverSpec(t, "bank-c")))
	assert.Error(t, m.ApplySnapshot(ctx, nil))
	assert.NoError(t, m.Close(ctx), "second close is a no-op")
}
