// Package msghandler holds the handlers bound to every dispatchable message
// type. Handlers validate what they receive, update the node's subsystems
// and return a *netfault.Fault for anything the sending peer must be
// punished for. They never disconnect peers themselves.
package msghandler

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/tronnode/tnd/advsvc"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

// Chain is the block store the handlers read and extend.
type Chain interface {
	// ChainSummary answers a remote locator.
	ChainSummary(locator []tronwire.BlockID) ([]tronwire.BlockID,
		uint64, error)

	// AddBlock validates and stores a block, reporting whether it was
	// new.
	AddBlock(block *tronwire.Block) (bool, error)

	// BlockByHash returns a stored block.
	BlockByHash(hash chainhash.Hash) (*tronwire.Block, bool)
}

// TxPool is the pool of transactions waiting for a block.
type TxPool interface {
	// Add validates and pools a transaction, reporting whether it was
	// new.
	Add(tx *tronwire.Transaction) (bool, error)

	// Tx returns a pooled transaction.
	Tx(hash chainhash.Hash) (*tronwire.Transaction, bool)
}

// Advertiser tracks inventory exchanged with peers.
type Advertiser interface {
	// OnInventory records items announced by p.
	OnInventory(p netsvc.Peer, inv *tronwire.Inventory)

	// Fulfilled records that p delivered a requested item.
	Fulfilled(p netsvc.Peer, item advsvc.Item) bool

	// WasSpread reports whether the item was announced to p.
	WasSpread(p netsvc.Peer, item advsvc.Item) bool

	// Broadcast announces new items to peers.
	Broadcast(items ...advsvc.Item)
}

// Syncer drives chain sync with peers.
type Syncer interface {
	// OnChainInventory processes an answer to our sync request.
	OnChainInventory(p netsvc.Peer, inv *tronwire.ChainInventory) error

	// BlockReceived records that p delivered a block requested by sync.
	BlockReceived(p netsvc.Peer, hash chainhash.Hash) bool

	// MarkNeedSync flags p as having blocks we lack.
	MarkNeedSync(p netsvc.Peer)
}

// FaultReporter handles faults found after ProcessMessage returned.
type FaultReporter func(p netsvc.Peer, msg tronwire.Message, err error)

// castMessage asserts the concrete type of msg. A mismatch means the
// handler was bound to the wrong type.
func castMessage[T tronwire.Message](msg tronwire.Message) (T, error) {
	m, ok := msg.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("expected %T, got %T", zero, msg)
	}

	return m, nil
}

// sendOrLog sends msg to p. A failed send means the peer is going away,
// which is not a fault of the peer.
func sendOrLog(p netsvc.Peer, msg tronwire.Message) {
	if err := p.SendMessage(msg); err != nil {
		log.Debugf("Unable to send %v to %v: %v", msg.MsgType(),
			p.RemoteAddr(), err)
	}
}
