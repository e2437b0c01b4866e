package memchain

import (
	"errors"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/tronwire"
)

const (
	// DefaultPoolSize is the default number of pooled transactions.
	DefaultPoolSize = 50_000

	// MaxTxLifetime is how far in the future a transaction may expire.
	MaxTxLifetime = 24 * time.Hour

	// includedCacheSize bounds the remembered ids of transactions that
	// left the pool in a block.
	includedCacheSize = 100_000
)

// ErrPoolFull is returned when the pool cannot take another transaction.
var ErrPoolFull = errors.New("transaction pool full")

// includedEntry marks a transaction id that made it into a block.
type includedEntry struct{}

// Size returns the "size" of an entry.
func (includedEntry) Size() (uint64, error) {
	return 1, nil
}

// TxPool holds transactions waiting to be included in a block.
type TxPool struct {
	mu  sync.RWMutex
	txs map[chainhash.Hash]*tronwire.Transaction

	// included remembers recently confirmed ids so they are not pooled
	// again when a slow peer relays them.
	included *lru.Cache[chainhash.Hash, includedEntry]

	maxSize int
	clock   clock.Clock
}

// NewTxPool creates an empty pool holding at most maxSize transactions.
func NewTxPool(clk clock.Clock, maxSize int) *TxPool {
	if maxSize <= 0 {
		maxSize = DefaultPoolSize
	}

	return &TxPool{
		txs: make(map[chainhash.Hash]*tronwire.Transaction),
		included: lru.NewCache[chainhash.Hash, includedEntry](
			includedCacheSize,
		),
		maxSize: maxSize,
		clock:   clk,
	}
}

// Validate checks a transaction without adding it. Failures are
// BadTransaction faults.
func (p *TxPool) Validate(tx *tronwire.Transaction) error {
	if len(tx.Payload) == 0 {
		return netfault.New(netfault.BadTransaction, "empty payload")
	}

	now := p.clock.Now()
	expiry := time.UnixMilli(tx.Expiration)
	switch {
	case !expiry.After(now):
		return netfault.Errorf(netfault.BadTransaction,
			"transaction %v expired at %v", tx.TxHash(), expiry)

	case expiry.After(now.Add(MaxTxLifetime)):
		return netfault.Errorf(netfault.BadTransaction,
			"transaction %v expires too late at %v", tx.TxHash(),
			expiry)
	}

	return nil
}

// Add validates tx and pools it. It returns false without error if the
// transaction is already known.
func (p *TxPool) Add(tx *tronwire.Transaction) (bool, error) {
	if err := p.Validate(tx); err != nil {
		return false, err
	}

	hash := tx.TxHash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haveLocked(hash) {
		return false, nil
	}
	if len(p.txs) >= p.maxSize {
		return false, ErrPoolFull
	}

	p.txs[hash] = tx

	return true, nil
}

func (p *TxPool) haveLocked(hash chainhash.Hash) bool {
	if _, ok := p.txs[hash]; ok {
		return true
	}
	_, err := p.included.Get(hash)

	return err == nil
}

// Have reports whether the transaction is pooled or was recently included
// in a block.
func (p *TxPool) Have(hash chainhash.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.haveLocked(hash)
}

// Tx returns a pooled transaction.
func (p *TxPool) Tx(hash chainhash.Hash) (*tronwire.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tx, ok := p.txs[hash]
	return tx, ok
}

// Len returns the number of pooled transactions.
func (p *TxPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.txs)
}

// PruneExpired drops pooled transactions whose expiration passed and
// returns how many were dropped.
func (p *TxPool) PruneExpired() int {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	var pruned int
	for hash, tx := range p.txs {
		if !time.UnixMilli(tx.Expiration).After(now) {
			delete(p.txs, hash)
			pruned++
		}
	}

	return pruned
}

// removeIncluded drops the transactions of a main chain block.
func (p *TxPool) removeIncluded(txs []*tronwire.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, tx := range txs {
		hash := tx.TxHash()
		delete(p.txs, hash)
		_, _ = p.included.Put(hash, includedEntry{})
	}
}
