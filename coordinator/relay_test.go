package coordinator_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/coordinator"
	"peercall/media"
	"peercall/peer"
	"peercall/pkg/socket"
	"peercall/signal"
	"peercall/signaling"
)

// TestCallOverRelay runs two coordinators against the development relay
// with pion connections on a virtual network.
func TestCallOverRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("uses real peer connections")
	}

	srv := httptest.NewServer(signal.New(signal.Config{Port: signal.DefaultPort}, nil).Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + signal.DefaultPath

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)

	newFactory := func(ip string) peer.Factory {
		n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
		require.NoError(t, err)
		require.NoError(t, router.AddNet(n))
		f, err := peer.NewPionFactory(peer.Config{LogLevel: "error", Net: n})
		require.NoError(t, err)
		return f
	}
	factoryA := newFactory("10.0.0.1")
	factoryB := newFactory("10.0.0.2")
	require.NoError(t, router.Start())
	t.Cleanup(func() { _ = router.Stop() })

	start := func(userID string, factory peer.Factory) (*coordinator.Coordinator, *atomic.Int32) {
		channel := signaling.New(signaling.Config{URL: url}.WithDefaults(), socket.WebSocketDialer{}, nil)
		co := coordinator.New(coordinator.Config{
			UserID:      userID,
			RoomID:      "living-room",
			Constraints: media.DefaultConstraints,
		}, channel, media.NewSession(media.NewSyntheticProvider()), factory, nil)

		var remote atomic.Int32
		co.OnRemoteTrack(func(peer.RemoteTrack) { remote.Add(1) })

		ctx, cancel := context.WithCancel(context.Background())
		go co.Run(ctx)
		t.Cleanup(cancel)
		t.Cleanup(co.Close)
		require.NoError(t, co.StartCall(context.Background()))
		return co, &remote
	}

	a, remoteA := start("aaa", factoryA)
	require.Eventually(t, func() bool { return a.Status() == coordinator.StatusWaitingForPeer }, 5*time.Second, 10*time.Millisecond)
	b, remoteB := start("bbb", factoryB)

	for _, co := range []*coordinator.Coordinator{a, b} {
		require.Eventually(t, func() bool { return co.Status() == coordinator.StatusCallActive }, 20*time.Second, 20*time.Millisecond)
	}
	assert.Eventually(t, func() bool { return remoteA.Load() > 0 && remoteB.Load() > 0 }, 10*time.Second, 20*time.Millisecond)

	stateA, err := a.State(context.Background())
	require.NoError(t, err)
	assert.True(t, stateA.Offerer)
	assert.Equal(t, "bbb", stateA.PeerID)
	assert.Equal(t, coordinator.RoomJoined, stateA.Room)

	a.EndCall()
	assert.Equal(t, coordinator.StatusCallEnded, a.Status())
}
