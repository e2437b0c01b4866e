package msghandler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tronnode/tnd/advsvc"
	"github.com/tronnode/tnd/memchain"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

type reportedFault struct {
	peer netsvc.Peer
	msg  tronwire.Message
	err  error
}

func newTxHandler(t *testing.T, adv *mockAdv) (*TransactionsHandler,
	*memchain.TxPool, chan reportedFault) {

	t.Helper()

	pool := newTestChain(t).Pool()
	faults := make(chan reportedFault, 1)

	h := NewTransactionsHandler(TransactionsConfig{
		Pool:    pool,
		Adv:     adv,
		Workers: 2,
	})
	h.SetFaultReporter(func(p netsvc.Peer, msg tronwire.Message,
		err error) {

		faults <- reportedFault{peer: p, msg: msg, err: err}
	})
	require.NoError(t, h.Init())
	t.Cleanup(func() {
		require.NoError(t, h.Close())
	})

	return h, pool, faults
}

// TestTransactionsInitRequiresReporter asserts that the worker pool refuses
// to start without somewhere to send faults.
func TestTransactionsInitRequiresReporter(t *testing.T) {
	t.Parallel()

	h := NewTransactionsHandler(TransactionsConfig{})
	require.Error(t, h.Init())
}

// TestTransactionsUnrequested asserts that unrequested transactions are a
// protocol fault raised before anything is queued.
func TestTransactionsUnrequested(t *testing.T) {
	t.Parallel()

	p := newFakePeer()
	adv := &mockAdv{}
	adv.On("Fulfilled", p, mock.Anything).Return(false)

	h, pool, _ := newTxHandler(t, adv)

	tx := testTx(testTime.Add(time.Minute), "transfer")
	err := h.ProcessMessage(p, &tronwire.Transactions{
		Txs: []*tronwire.Transaction{tx},
	})
	requireFault(t, err, netfault.BadMessage)
	require.Zero(t, pool.Len())
}

// TestTransactionsValidated asserts that good transactions get pooled and
// announced while bad ones are reported after ProcessMessage returned.
func TestTransactionsValidated(t *testing.T) {
	t.Parallel()

	p := newFakePeer()
	good := testTx(testTime.Add(time.Minute), "transfer")
	expired := testTx(testTime, "expired")

	announced := make(chan []advsvc.Item, 1)
	adv := &mockAdv{}
	adv.On("Fulfilled", p, mock.Anything).Return(true)
	adv.On("Broadcast", mock.Anything).Run(func(args mock.Arguments) {
		announced <- args.Get(0).([]advsvc.Item)
	}).Return()

	h, pool, faults := newTxHandler(t, adv)

	require.NoError(t, h.ProcessMessage(p, &tronwire.Transactions{
		Txs: []*tronwire.Transaction{good},
	}))

	select {
	case items := <-announced:
		require.Equal(t, []advsvc.Item{{
			Type: tronwire.InvTrx, Hash: good.TxHash(),
		}}, items)
	case <-time.After(testTimeout):
		t.Fatal("tx not announced")
	}

	_, ok := pool.Tx(good.TxHash())
	require.True(t, ok)

	msg := &tronwire.Transactions{Txs: []*tronwire.Transaction{expired}}
	require.NoError(t, h.ProcessMessage(p, msg))

	select {
	case f := <-faults:
		require.Equal(t, p, f.peer)
		require.Equal(t, msg, f.msg)
		requireFault(t, f.err, netfault.BadTransaction)
	case <-time.After(testTimeout):
		t.Fatal("fault not reported")
	}
}

// TestTransactionsQueueFull asserts that a full backlog drops transactions
// without blaming the peer.
func TestTransactionsQueueFull(t *testing.T) {
	t.Parallel()

	p := newFakePeer()
	adv := &mockAdv{}
	adv.On("Fulfilled", p, mock.Anything).Return(true)

	// Not started, so nothing drains the queue.
	h := NewTransactionsHandler(TransactionsConfig{
		Pool:      newTestChain(t).Pool(),
		Adv:       adv,
		QueueSize: 1,
	})

	txs := []*tronwire.Transaction{
		testTx(testTime.Add(time.Minute), "a"),
		testTx(testTime.Add(time.Minute), "b"),
	}
	require.NoError(t, h.ProcessMessage(p, &tronwire.Transactions{
		Txs: txs,
	}))
	require.EqualValues(t, 1, h.dropped.Load())
	require.True(t, errors.Is(
		h.enqueue(txJob{peer: p, tx: txs[0]}), ErrTxQueueFull,
	))
}
