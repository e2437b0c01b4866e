package msghandler

import (
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tronnode/tnd/advsvc"
	"github.com/tronnode/tnd/memchain"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

const testTimeout = 2 * time.Second

var testTime = time.UnixMilli(
	memchain.GenesisBlock.Header.Timestamp,
).Add(time.Hour)

type fakePeer struct {
	sent chan tronwire.Message
}

func newFakePeer() *fakePeer {
	return &fakePeer{sent: make(chan tronwire.Message, 10)}
}

func (f *fakePeer) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 18888}
}

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
		t.Fatal("nothing sent")
		return nil
	}
}

type mockAdv struct {
	mock.Mock
}

func (m *mockAdv) OnInventory(p netsvc.Peer, inv *tronwire.Inventory) {
	m.Called(p, inv)
}

func (m *mockAdv) Fulfilled(p netsvc.Peer, item advsvc.Item) bool {
	return m.Called(p, item).Bool(0)
}

func (m *mockAdv) WasSpread(p netsvc.Peer, item advsvc.Item) bool {
	return m.Called(p, item).Bool(0)
}

func (m *mockAdv) Broadcast(items ...advsvc.Item) {
	m.Called(items)
}

type mockSync struct {
	mock.Mock
}

func (m *mockSync) OnChainInventory(p netsvc.Peer,
	inv *tronwire.ChainInventory) error {

	return m.Called(p, inv).Error(0)
}

func (m *mockSync) BlockReceived(p netsvc.Peer, hash chainhash.Hash) bool {
	return m.Called(p, hash).Bool(0)
}

func (m *mockSync) MarkNeedSync(p netsvc.Peer) {
	m.Called(p)
}

func newTestChain(t *testing.T) *memchain.Chain {
	t.Helper()

	return memchain.New(clock.NewTestClock(testTime), 0)
}

func headBlock(t *testing.T, c *memchain.Chain) *tronwire.Block {
	t.Helper()

	block, ok := c.BlockByHash(c.Head().Hash)
	require.True(t, ok)

	return block
}

// nextBlock builds a valid child of parent carrying txs.
func nextBlock(parent *tronwire.Block,
	txs ...*tronwire.Transaction) *tronwire.Block {

	return &tronwire.Block{
		Header: tronwire.BlockHeader{
			ParentHash: parent.Header.BlockHash(),
			Number:     parent.Header.Number + 1,
			Timestamp:  parent.Header.Timestamp + 3000,
			MerkleRoot: tronwire.CalcMerkleRoot(txs),
		},
		Txs: txs,
	}
}

func testTx(expiry time.Time, payload string) *tronwire.Transaction {
	return &tronwire.Transaction{
		Expiration: expiry.UnixMilli(),
		Payload:    []byte(payload),
	}
}

func requireFault(t *testing.T, err error, kind netfault.Kind) {
	t.Helper()

	fault, ok := netfault.As(err)
	require.True(t, ok, "expected fault, got %v", err)
	require.Equal(t, kind, fault.Kind)
}
