// Package memchain keeps the node's block chain and transaction pool in
// memory. It links blocks by parent hash and checks what can be checked
// without executing contracts.
package memchain

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/tronwire"
)

// GenesisBlock is the block every chain starts from.
var GenesisBlock = tronwire.Block{
	Header: tronwire.BlockHeader{
		Timestamp: 1_529_891_469_000,
	},
}

// Chain is an in-memory block chain. Only blocks extending the current head
// join the main chain; blocks linking elsewhere are stored but not followed.
type Chain struct {
	mu sync.RWMutex

	blocks map[chainhash.Hash]*tronwire.Block

	// main holds the main chain hashes indexed by height.
	main []chainhash.Hash

	pool  *TxPool
	clock clock.Clock
}

// New creates a chain holding only the genesis block and an empty
// transaction pool.
func New(clk clock.Clock, poolSize int) *Chain {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	genesis := GenesisBlock
	hash := genesis.Header.BlockHash()

	return &Chain{
		blocks: map[chainhash.Hash]*tronwire.Block{hash: &genesis},
		main:   []chainhash.Hash{hash},
		pool:   NewTxPool(clk, poolSize),
		clock:  clk,
	}
}

// Pool returns the chain's transaction pool.
func (c *Chain) Pool() *TxPool {
	return c.pool
}

// Head returns the id of the main chain tip.
func (c *Chain) Head() tronwire.BlockID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.idAtLocked(uint64(len(c.main) - 1))
}

func (c *Chain) idAtLocked(num uint64) tronwire.BlockID {
	return tronwire.BlockID{Hash: c.main[num], Num: num}
}

// HaveBlock reports whether the block is stored, on the main chain or not.
func (c *Chain) HaveBlock(hash chainhash.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.blocks[hash]
	return ok
}

// BlockByHash returns a stored block.
func (c *Chain) BlockByHash(hash chainhash.Hash) (*tronwire.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	block, ok := c.blocks[hash]
	return block, ok
}

// Have reports whether the item behind an inventory hash is known, either
// as a block, a pooled transaction or a transaction in a block.
func (c *Chain) Have(invType tronwire.InvType, hash chainhash.Hash) bool {
	switch invType {
	case tronwire.InvBlock:
		return c.HaveBlock(hash)

	case tronwire.InvTrx:
		return c.pool.Have(hash)

	default:
		return false
	}
}

// onMainLocked reports whether id names a main chain block.
func (c *Chain) onMainLocked(id tronwire.BlockID) bool {
	return id.Num < uint64(len(c.main)) && c.main[id.Num] == id.Hash
}

// AddBlock validates block and stores it. It returns false without error if
// the block was already known. A block whose parent is unknown fails with an
// UnlinkableBlock fault, a block failing validation with a BadBlock fault.
func (c *Chain) AddBlock(block *tronwire.Block) (bool, error) {
	hash := block.Header.BlockHash()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.blocks[hash]; ok {
		return false, nil
	}

	parent, ok := c.blocks[block.Header.ParentHash]
	if !ok {
		return false, netfault.Errorf(netfault.UnlinkableBlock,
			"parent %v of block %d unknown",
			block.Header.ParentHash, block.Header.Number)
	}

	if err := validateBlock(block, parent); err != nil {
		return false, err
	}

	c.blocks[hash] = block

	head := c.idAtLocked(uint64(len(c.main) - 1))
	if block.Header.ParentHash != head.Hash {
		log.Debugf("Stored side block %d:%v", block.Header.Number, hash)
		return true, nil
	}

	c.main = append(c.main, hash)
	c.pool.removeIncluded(block.Txs)
	if pruned := c.pool.PruneExpired(); pruned > 0 {
		log.Debugf("Pruned %d expired txs", pruned)
	}

	log.Debugf("New head %d:%v with %d txs", block.Header.Number, hash,
		len(block.Txs))

	return true, nil
}

// validateBlock checks block against its parent.
func validateBlock(block, parent *tronwire.Block) error {
	if block.Header.Number != parent.Header.Number+1 {
		return netfault.Errorf(netfault.BadBlock,
			"block number %d does not follow parent %d",
			block.Header.Number, parent.Header.Number)
	}
	if block.Header.Timestamp <= parent.Header.Timestamp {
		return netfault.Errorf(netfault.BadBlock,
			"block timestamp %d not after parent %d",
			block.Header.Timestamp, parent.Header.Timestamp)
	}
	if tronwire.CalcMerkleRoot(block.Txs) != block.Header.MerkleRoot {
		return netfault.New(netfault.BadBlock, "invalid merkle root")
	}

	seen := make(map[chainhash.Hash]struct{}, len(block.Txs))
	for _, tx := range block.Txs {
		txHash := tx.TxHash()
		if _, ok := seen[txHash]; ok {
			return netfault.Errorf(netfault.BadBlock,
				"duplicate tx %v", txHash)
		}
		seen[txHash] = struct{}{}
	}

	return nil
}

// Locator returns ids of the main chain from the oldest to the head, dense
// near the head and exponentially sparser towards the genesis, which is
// always included.
func (c *Chain) Locator() []tronwire.BlockID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		reversed []tronwire.BlockID
		step     uint64 = 1
		num             = uint64(len(c.main) - 1)
	)
	for len(reversed) < tronwire.MaxLocatorSize-1 {
		reversed = append(reversed, c.idAtLocked(num))
		if num < step {
			break
		}

		num -= step
		if len(reversed) >= 10 {
			step *= 2
		}
	}

	genesis := c.idAtLocked(0)
	if reversed[len(reversed)-1] != genesis {
		reversed = append(reversed, genesis)
	}

	locator := make([]tronwire.BlockID, len(reversed))
	for i, id := range reversed {
		locator[len(reversed)-1-i] = id
	}

	return locator
}

// ChainSummary answers a peer's locator: the ids following the newest
// locator entry on our main chain, that entry included, and the number of
// our blocks beyond the last returned id. It fails with a SyncFailed fault
// if no entry is on our main chain.
func (c *Chain) ChainSummary(locator []tronwire.BlockID) ([]tronwire.BlockID,
	uint64, error) {

	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		common tronwire.BlockID
		found  bool
	)
	for i := len(locator) - 1; i >= 0; i-- {
		if c.onMainLocked(locator[i]) {
			common, found = locator[i], true
			break
		}
	}
	if !found {
		return nil, 0, netfault.New(
			netfault.SyncFailed, "no common block with locator",
		)
	}

	head := uint64(len(c.main) - 1)
	last := min(head, common.Num+tronwire.MaxChainInventorySize-1)

	ids := make([]tronwire.BlockID, 0, last-common.Num+1)
	for num := common.Num; num <= last; num++ {
		ids = append(ids, c.idAtLocked(num))
	}

	return ids, head - last, nil
}

// String returns a short description of the chain.
func (c *Chain) String() string {
	head := c.Head()
	return fmt.Sprintf("chain(head=%v, pool=%d)", head, c.pool.Len())
}
