package peercheck

import (
	"net"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

const testTimeout = 2 * time.Second

var testTime = time.Unix(1_700_000_000, 0)

type fakePeer struct {
	port        int
	lastReceive time.Time
	reasons     chan tronwire.ReasonCode
}

func newFakePeer(port int, lastReceive time.Time) *fakePeer {
	return &fakePeer{
		port:        port,
		lastReceive: lastReceive,
		reasons:     make(chan tronwire.ReasonCode, 1),
	}
}

func (f *fakePeer) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: f.port}
}

func (f *fakePeer) SendMessage(tronwire.Message) error { return nil }

func (f *fakePeer) Disconnect(reason tronwire.ReasonCode) {
	f.reasons <- reason
}

func (f *fakePeer) LastReceive() time.Time { return f.lastReceive }

// fixedRequests reports one fixed request time per peer.
type fixedRequests map[netsvc.Peer]time.Time

func (f fixedRequests) OldestRequest(p netsvc.Peer) fn.Option[time.Time] {
	at, ok := f[p]
	if !ok {
		return fn.None[time.Time]()
	}

	return fn.Some(at)
}

// TestCheck asserts which peers are dropped and with which reason.
func TestCheck(t *testing.T) {
	t.Parallel()

	now := testTime
	fresh := now.Add(-time.Second)

	slowSync := newFakePeer(1, fresh)
	slowAdv := newFakePeer(2, fresh)
	slowBoth := newFakePeer(3, fresh)
	silent := newFakePeer(4, now.Add(-time.Hour))
	healthy := newFakePeer(5, fresh)

	sync := fixedRequests{
		slowSync: now.Add(-time.Minute),
		slowBoth: now.Add(-time.Minute),
		healthy:  now.Add(-time.Second),
	}
	adv := fixedRequests{
		slowAdv:  now.Add(-time.Minute),
		slowBoth: now.Add(-time.Minute),
	}

	c := New(Config{
		Trackers: []Tracker{
			{
				Name:     "sync",
				Requests: sync,
				Timeout:  DefaultRequestTimeout,
				Reason:   tronwire.ReasonSyncFail,
			},
			{
				Name:     "adv",
				Requests: adv,
				Timeout:  DefaultRequestTimeout,
				Reason:   tronwire.ReasonUnknown,
			},
		},
		IdleTimeout: DefaultIdleTimeout,
	})

	testCases := []struct {
		name   string
		peer   *fakePeer
		drop   bool
		reason tronwire.ReasonCode
	}{
		{"slow sync", slowSync, true, tronwire.ReasonSyncFail},
		{"slow adv", slowAdv, true, tronwire.ReasonUnknown},
		{"first tracker wins", slowBoth, true, tronwire.ReasonSyncFail},
		{"silent", silent, true, tronwire.ReasonUnknown},
		{"healthy", healthy, false, 0},
	}

	for _, tc := range testCases {
		reason, drop := c.check(tc.peer, now)
		require.Equal(t, tc.drop, drop, tc.name)
		require.Equal(t, tc.reason, reason, tc.name)
	}
}

// TestCheckLoop asserts that a tick disconnects the overdue peer only.
func TestCheckLoop(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(testTime)
	checkTicker := ticker.NewForce(time.Hour)

	overdue := newFakePeer(1, testTime)
	fine := newFakePeer(2, testTime)

	c := New(Config{
		Peers: func() []Peer {
			return []Peer{overdue, fine}
		},
		Trackers: []Tracker{{
			Name:     "sync",
			Requests: fixedRequests{overdue: testTime},
			Timeout:  DefaultRequestTimeout,
			Reason:   tronwire.ReasonSyncFail,
		}},
		Ticker: checkTicker,
		Clock:  testClock,
	})
	require.NoError(t, c.Init())
	defer func() {
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
	}()

	testClock.SetTime(testTime.Add(DefaultRequestTimeout + time.Second))
	checkTicker.Force <- testClock.Now()

	select {
	case reason := <-overdue.reasons:
		require.Equal(t, tronwire.ReasonSyncFail, reason)
	case <-time.After(testTimeout):
		t.Fatal("overdue peer not disconnected")
	}

	// The idle check is disabled, so the other peer stays.
	require.Empty(t, fine.reasons)
}
