package advsvc

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

const testTimeout = 2 * time.Second

var testTime = time.Unix(1_700_000_000, 0)

type fakePeer struct {
	addr net.Addr
	sent chan tronwire.Message
}

func newFakePeer(port int) *fakePeer {
	return &fakePeer{
		addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: port},
		sent: make(chan tronwire.Message, 10),
	}
}

func (f *fakePeer) RemoteAddr() net.Addr { return f.addr }

func (f *fakePeer) SendMessage(msg tronwire.Message) error {
	f.sent <- msg
	return nil
}

func (f *fakePeer) Disconnect(tronwire.ReasonCode) {}

func (f *fakePeer) next(t *testing.T) tronwire.Message {
	t.Helper()

	select {
	case msg := <-f.sent:
		return msg
	case <-time.After(testTimeout):
		t.Fatalf("nothing sent to %v", f.addr)
		return nil
	}
}

type harness struct {
	svc   *Service
	fetch *ticker.Force
	clock *clock.TestClock

	mu   sync.Mutex
	have map[Item]bool
}

func newHarness(t *testing.T, peers ...netsvc.Peer) *harness {
	t.Helper()

	h := &harness{
		fetch: ticker.NewForce(time.Hour),
		clock: clock.NewTestClock(testTime),
		have:  make(map[Item]bool),
	}
	h.svc = New(Config{
		Have: func(item Item) bool {
			h.mu.Lock()
			defer h.mu.Unlock()

			return h.have[item]
		},
		FetchTicker: h.fetch,
		Clock:       h.clock,
	})
	require.NoError(t, h.svc.Init())
	t.Cleanup(func() {
		require.NoError(t, h.svc.Close())
	})

	for _, p := range peers {
		h.svc.AddPeer(p)
	}

	return h
}

func (h *harness) tracked(p netsvc.Peer) bool {
	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()

	_, ok := h.svc.peers[p]
	return ok
}

func (h *harness) tick() {
	h.fetch.Force <- h.clock.Now()
}

func testItem(invType tronwire.InvType, n byte) Item {
	return Item{Type: invType, Hash: chainhash.Hash{n}}
}

func inventory(items ...Item) *tronwire.Inventory {
	inv := &tronwire.Inventory{InvList: tronwire.InvList{
		Type: items[0].Type,
	}}
	for _, item := range items {
		inv.Hashes = append(inv.Hashes, item.Hash)
	}

	return inv
}

// TestFetchAnnounced asserts that announced items we lack are requested from
// the announcing peer, and that only that peer may deliver them.
func TestFetchAnnounced(t *testing.T) {
	announcer, other := newFakePeer(1), newFakePeer(2)
	h := newHarness(t, announcer, other)

	known := testItem(tronwire.InvTrx, 1)
	wanted := testItem(tronwire.InvTrx, 2)
	h.have[known] = true

	h.svc.OnInventory(announcer, inventory(known, wanted))
	require.True(t, h.svc.OldestRequest(announcer).IsNone())

	h.tick()

	fetch, ok := announcer.next(t).(*tronwire.FetchInvData)
	require.True(t, ok)
	require.Equal(t, tronwire.InvTrx, fetch.Type)
	require.Equal(t, []chainhash.Hash{wanted.Hash}, fetch.Hashes)
	require.Empty(t, other.sent)

	require.Equal(
		t, testTime, h.svc.OldestRequest(announcer).UnwrapOrFail(t),
	)

	// Announcing a requested item again does not request it twice.
	h.svc.OnInventory(other, inventory(wanted))
	h.svc.fetch()
	require.Empty(t, other.sent)

	require.False(t, h.svc.Fulfilled(other, wanted))
	require.True(t, h.svc.Fulfilled(announcer, wanted))
	require.False(t, h.svc.Fulfilled(announcer, wanted))
	require.True(t, h.svc.OldestRequest(announcer).IsNone())
}

// TestBroadcastSkipsKnowing asserts that items are announced once, and never
// to the peer that announced them to us.
func TestBroadcastSkipsKnowing(t *testing.T) {
	source, target := newFakePeer(1), newFakePeer(2)
	h := newHarness(t, source, target)

	block := testItem(tronwire.InvBlock, 7)
	h.svc.OnInventory(source, inventory(block))

	h.svc.Broadcast(block)

	inv, ok := target.next(t).(*tronwire.Inventory)
	require.True(t, ok)
	require.Equal(t, tronwire.InvBlock, inv.Type)
	require.Equal(t, []chainhash.Hash{block.Hash}, inv.Hashes)
	require.Empty(t, source.sent)

	require.True(t, h.svc.WasSpread(target, block))
	require.False(t, h.svc.WasSpread(source, block))

	h.svc.Broadcast(block)
	require.Empty(t, target.sent)
}

// TestRemovePeerRequeues asserts that items requested from a peer that went
// away are fetched from another peer that announced them.
func TestRemovePeerRequeues(t *testing.T) {
	first, second := newFakePeer(1), newFakePeer(2)
	h := newHarness(t, first, second)

	tx := testItem(tronwire.InvTrx, 9)
	h.svc.OnInventory(first, inventory(tx))
	h.tick()
	first.next(t)

	h.svc.OnInventory(second, inventory(tx))
	h.svc.RemovePeer(first)
	require.False(t, h.svc.Fulfilled(first, tx))

	h.tick()
	fetch, ok := second.next(t).(*tronwire.FetchInvData)
	require.True(t, ok)
	require.Equal(t, []chainhash.Hash{tx.Hash}, fetch.Hashes)
	require.True(t, h.svc.Fulfilled(second, tx))
}

// TestFetchBatchLimit asserts that a fetch request never exceeds the
// inventory limit.
func TestFetchBatchLimit(t *testing.T) {
	p := newFakePeer(1)
	h := newHarness(t, p)

	total := tronwire.MaxInvItems + 5
	for i := 0; i < total; i++ {
		var hash chainhash.Hash
		copy(hash[:], fmt.Sprintf("tx-%d", i))
		h.svc.OnInventory(p, inventory(Item{
			Type: tronwire.InvTrx, Hash: hash,
		}))
	}

	h.tick()
	fetch, ok := p.next(t).(*tronwire.FetchInvData)
	require.True(t, ok)
	require.Len(t, fetch.Hashes, tronwire.MaxInvItems)

	h.tick()
	fetch, ok = p.next(t).(*tronwire.FetchInvData)
	require.True(t, ok)
	require.Len(t, fetch.Hashes, 5)
}

// TestRemovedPeerStaysRemoved asserts that a peer removed while it still
// shows up in other peer lists gets no new state from later calls.
func TestRemovedPeerStaysRemoved(t *testing.T) {
	gone, live := newFakePeer(1), newFakePeer(2)
	h := newHarness(t, gone, live)

	h.svc.RemovePeer(gone)
	require.False(t, h.tracked(gone))

	tx := testItem(tronwire.InvTrx, 3)
	h.svc.Broadcast(tx)
	h.svc.OnInventory(gone, inventory(testItem(tronwire.InvTrx, 4)))

	require.False(t, h.tracked(gone))
	require.Empty(t, gone.sent)
	require.False(t, h.svc.WasSpread(gone, tx))

	inv, ok := live.next(t).(*tronwire.Inventory)
	require.True(t, ok)
	require.Equal(t, []chainhash.Hash{tx.Hash}, inv.Hashes)

	// Nothing announced by the removed peer gets fetched.
	h.svc.fetch()
	require.Empty(t, gone.sent)

	// Adding the peer again starts from a clean state.
	h.svc.AddPeer(gone)
	require.True(t, h.tracked(gone))
	require.False(t, h.svc.WasSpread(gone, tx))
}
