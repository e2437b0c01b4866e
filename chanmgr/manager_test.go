package chanmgr

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/peer"
	"github.com/tronnode/tnd/tronwire"
)

const (
	testTimeout = 5 * time.Second
	testPoll    = 10 * time.Millisecond
)

type recordingSink struct {
	mu       sync.Mutex
	messages []tronwire.Message
}

func (r *recordingSink) OnMessage(_ netsvc.Peer, msg tronwire.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, msg)
}

func (r *recordingSink) ReportFault(p netsvc.Peer, _ tronwire.Message,
	_ error) {

	p.Disconnect(tronwire.ReasonBadProtocol)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.messages)
}

func dialTCP(addr net.Addr) (net.Conn, error) {
	return net.DialTimeout("tcp", addr.String(), testTimeout)
}

// newTestManager starts a manager listening on a random local port.
func newTestManager(t *testing.T, maxPeers int) (*Manager, net.Addr,
	*recordingSink) {

	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sink := &recordingSink{}
	m := New(Config{
		Listeners: []net.Listener{listener},
		Dial:      dialTCP,
		MaxPeers:  maxPeers,
	})
	m.SetMessageSink(sink)
	require.NoError(t, m.Init())
	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})

	return m, listener.Addr(), sink
}

func waitForPeers(t *testing.T, m *Manager, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(m.Peers()) == n
	}, testTimeout, testPoll)
}

func faultHistory(m *Manager, addr net.Addr) []tronwire.ReasonCode {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.faultHistoryLocked(hostOf(addr))
}

// TestInitRequiresSink asserts that the manager refuses to start without a
// message sink.
func TestInitRequiresSink(t *testing.T) {
	m := New(Config{Dial: dialTCP})
	require.ErrorIs(t, m.Init(), ErrNoMessageSink)
}

// TestInboundPeerDispatch asserts that an accepted connection becomes a peer
// whose messages reach the sink.
func TestInboundPeerDispatch(t *testing.T) {
	m, addr, sink := newTestManager(t, 0)

	conn, err := dialTCP(addr)
	require.NoError(t, err)
	defer conn.Close()

	waitForPeers(t, m, 1)
	require.True(t, m.Peers()[0].Inbound())

	_, err = tronwire.WriteMessage(conn, &tronwire.SyncBlockChain{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, testTimeout, testPoll)
}

// TestMaxPeers asserts that connections beyond the peer limit are dropped.
func TestMaxPeers(t *testing.T) {
	m, addr, _ := newTestManager(t, 1)

	first, err := dialTCP(addr)
	require.NoError(t, err)
	defer first.Close()
	waitForPeers(t, m, 1)

	second, err := dialTCP(addr)
	require.NoError(t, err)
	defer second.Close()

	// The second connection is closed without a frame.
	require.NoError(t, second.SetReadDeadline(time.Now().Add(testTimeout)))
	_, err = tronwire.ReadMessage(second)
	require.Error(t, err)
	require.Len(t, m.Peers(), 1)
}

// TestFaultDisconnectBans asserts that a BAD_BLOCK disconnect notifies peer
// gone listeners, records the reason and bans the host.
func TestFaultDisconnectBans(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := New(Config{
		Listeners:    []net.Listener{listener},
		Dial:         dialTCP,
		BanThreshold: DefaultBanThreshold,
	})
	m.SetMessageSink(&recordingSink{})

	gone := make(chan *peer.Peer, 1)
	m.SubscribePeerGone(func(p *peer.Peer) {
		gone <- p
	})
	require.NoError(t, m.Init())
	defer func() {
		require.NoError(t, m.Close())
	}()

	conn, err := dialTCP(listener.Addr())
	require.NoError(t, err)
	defer conn.Close()
	waitForPeers(t, m, 1)

	p := m.Peers()[0]
	p.Disconnect(tronwire.ReasonBadBlock)

	select {
	case gonePeer := <-gone:
		require.Equal(t, p, gonePeer)
	case <-time.After(testTimeout):
		t.Fatal("peer gone not notified")
	}

	require.Empty(t, m.Peers())
	require.Equal(t, []tronwire.ReasonCode{tronwire.ReasonBadBlock},
		faultHistory(m, p.RemoteAddr()))
	require.True(t, m.IsBanned(p.RemoteAddr()))

	// The remote received the reason before the link closed.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	msg, err := tronwire.ReadMessage(conn)
	require.NoError(t, err)
	require.Equal(t, &tronwire.Disconnect{
		Reason: tronwire.ReasonBadBlock,
	}, msg)

	// A new connection from the banned host is refused.
	again, err := dialTCP(listener.Addr())
	require.NoError(t, err)
	defer again.Close()

	require.NoError(t, again.SetReadDeadline(time.Now().Add(testTimeout)))
	_, err = tronwire.ReadMessage(again)
	require.Error(t, err)
	require.Empty(t, m.Peers())

	require.ErrorIs(t, m.Connect(listener.Addr(), false), ErrHostBanned)
}

// TestPeerAddedBeforeGone asserts that added listeners see a peer before
// it is visible to others and before gone listeners do.
func TestPeerAddedBeforeGone(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := New(Config{Listeners: []net.Listener{listener}, Dial: dialTCP})
	m.SetMessageSink(&recordingSink{})

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(event string) {
		mu.Lock()
		defer mu.Unlock()

		events = append(events, event)
	}
	m.SubscribePeerAdded(func(p *peer.Peer) {
		record(fmt.Sprintf("added with %d peers", len(m.Peers())))
	})
	gone := make(chan struct{})
	m.SubscribePeerGone(func(p *peer.Peer) {
		record("gone")
		close(gone)
	})
	require.NoError(t, m.Init())
	defer func() {
		require.NoError(t, m.Close())
	}()

	conn, err := dialTCP(listener.Addr())
	require.NoError(t, err)
	defer conn.Close()
	waitForPeers(t, m, 1)

	m.Peers()[0].Disconnect(tronwire.ReasonSyncFail)

	select {
	case <-gone:
	case <-time.After(testTimeout):
		t.Fatal("peer gone not notified")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"added with 0 peers", "gone"}, events)
}

// TestPermanentPeerGivenUp asserts that a permanent peer is redialed after
// a fault, but not once every recent disconnect of its host was a fault.
func TestPermanentPeerGivenUp(t *testing.T) {
	remote, err := net.ListenTCP("tcp", &net.TCPAddr{
		IP: net.IPv4(127, 0, 0, 1),
	})
	require.NoError(t, err)
	defer remote.Close()

	m := New(Config{
		Dial:          dialTCP,
		RetryDuration: 10 * time.Millisecond,
	})
	m.SetMessageSink(&recordingSink{})

	gone := make(chan *peer.Peer, 1)
	m.SubscribePeerGone(func(p *peer.Peer) {
		gone <- p
	})
	require.NoError(t, m.Init())
	defer func() {
		require.NoError(t, m.Close())
	}()

	require.NoError(t, m.Connect(remote.Addr(), true))

	for i := 0; i < faultHistorySize; i++ {
		err := remote.SetDeadline(time.Now().Add(testTimeout))
		require.NoError(t, err)

		conn, err := remote.Accept()
		require.NoError(t, err, "dial %d", i)
		waitForPeers(t, m, 1)

		m.Peers()[0].Disconnect(tronwire.ReasonSyncFail)
		select {
		case <-gone:
		case <-time.After(testTimeout):
			t.Fatal("peer gone not notified")
		}
		conn.Close()
	}

	history := faultHistory(m, remote.Addr())
	require.Len(t, history, faultHistorySize)
	require.False(t, m.IsBanned(remote.Addr()))

	// No further dial arrives.
	require.NoError(t, remote.SetDeadline(time.Now().Add(
		20*m.cfg.RetryDuration,
	)))
	_, err = remote.Accept()
	require.Error(t, err)
	require.Empty(t, m.Peers())
}

// TestPersistentlyFaulty asserts when a fault history stops redials.
func TestPersistentlyFaulty(t *testing.T) {
	t.Parallel()

	faults := func(n int,
		reason tronwire.ReasonCode) []tronwire.ReasonCode {

		history := make([]tronwire.ReasonCode, 0, n)
		for i := 0; i < n; i++ {
			history = append(history, reason)
		}

		return history
	}

	require.False(t, persistentlyFaulty(nil))
	require.False(t, persistentlyFaulty(
		faults(faultHistorySize-1, tronwire.ReasonBadTx),
	))
	require.True(t, persistentlyFaulty(
		faults(faultHistorySize, tronwire.ReasonSyncFail),
	))

	mixed := faults(faultHistorySize, tronwire.ReasonSyncFail)
	mixed[2] = tronwire.ReasonUnknown
	require.False(t, persistentlyFaulty(mixed))
}

// TestOutboundConnect asserts that Connect dials the remote and both sides
// end up with a peer.
func TestOutboundConnect(t *testing.T) {
	local, _, _ := newTestManager(t, 0)
	remote, remoteAddr, _ := newTestManager(t, 0)

	require.NoError(t, local.Connect(remoteAddr, false))

	waitForPeers(t, local, 1)
	waitForPeers(t, remote, 1)
	require.False(t, local.Peers()[0].Inbound())

	local.Broadcast(&tronwire.Inventory{}, nil)
}

// TestCloseDisconnectsPeers asserts that Close tears every peer down and may
// be called again.
func TestCloseDisconnectsPeers(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := New(Config{Listeners: []net.Listener{listener}, Dial: dialTCP})
	m.SetMessageSink(&recordingSink{})
	require.NoError(t, m.Init())

	conn, err := dialTCP(listener.Addr())
	require.NoError(t, err)
	defer conn.Close()
	waitForPeers(t, m, 1)

	p := m.Peers()[0]
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	require.Equal(t, tronwire.ReasonUnknown,
		p.DisconnectReason().UnwrapOrFail(t))
	require.ErrorIs(t, m.Connect(listener.Addr(), false),
		ErrServerShuttingDown)
}

// TestBanman asserts ban scoring, expiry and purging.
func TestBanman(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	testClock := clock.NewTestClock(start)
	purge := ticker.NewForce(time.Hour)

	b := newBanman(DefaultBanThreshold, time.Hour, testClock, purge)
	b.start()
	defer b.stop()

	// Sync failures never count.
	require.False(
		t, b.recordDisconnect("10.0.0.1", tronwire.ReasonSyncFail),
	)
	require.False(t, b.isBanned("10.0.0.1"))

	// Ten bad transactions reach the threshold.
	for i := 0; i < 9; i++ {
		require.False(
			t, b.recordDisconnect("10.0.0.2", tronwire.ReasonBadTx),
		)
	}
	require.True(t, b.recordDisconnect("10.0.0.2", tronwire.ReasonBadTx))

	// A single bad block is enough.
	require.True(t, b.recordDisconnect("10.0.0.3", tronwire.ReasonBadBlock))
	require.True(t, b.isBanned("10.0.0.3"))

	// Bans lapse after the ban duration even before a purge.
	testClock.SetTime(start.Add(time.Hour))
	require.False(t, b.isBanned("10.0.0.3"))

	purge.Force <- testClock.Now()
	require.Eventually(t, func() bool {
		return b.hostBanIndex.Len() == 0
	}, testTimeout, testPoll)
}
