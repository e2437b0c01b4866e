// Package chainsync catches the local chain up with peers that have blocks
// we lack. It negotiates the missing range with SyncBlockChain, collects the
// peer's ChainInventory answer and fetches the listed blocks.
package chainsync

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

const (
	// DefaultSyncInterval is how often idle peers are checked for sync.
	DefaultSyncInterval = time.Second

	// DefaultMaxBlocksInFlight bounds the blocks requested from one peer
	// at a time.
	DefaultMaxBlocksInFlight = 100
)

// ChainView is the part of the chain the sync service reads.
type ChainView interface {
	// Locator returns ids of our main chain, oldest first.
	Locator() []tronwire.BlockID

	// HaveBlock reports whether the block is stored.
	HaveBlock(chainhash.Hash) bool
}

// Config holds the dependencies of the sync service.
type Config struct {
	// Chain is the local chain.
	Chain ChainView

	// SyncTicker drives sync negotiation and block requests. Nil selects
	// a ticker firing every DefaultSyncInterval.
	SyncTicker ticker.Ticker

	// Clock is the time source. Nil selects the system clock.
	Clock clock.Clock

	// MaxBlocksInFlight bounds the outstanding block requests per peer.
	MaxBlocksInFlight int
}

// peerSync is the sync state of one peer.
type peerSync struct {
	// needSync is set while the peer may have blocks we lack.
	needSync bool

	// chainRequest is when our outstanding SyncBlockChain was sent.
	chainRequest fn.Option[time.Time]

	// remain is how many blocks the peer has beyond its last answer.
	remain uint64

	// toFetch holds the ids of the last answer still to be requested.
	toFetch []tronwire.BlockID

	// blockRequests holds the blocks requested from the peer and when.
	blockRequests map[chainhash.Hash]time.Time
}

// Service is the sync service.
type Service struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg Config

	mu sync.Mutex

	// peers holds the peers between AddPeer and RemovePeer.
	peers map[netsvc.Peer]*peerSync

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a sync service.
func New(cfg Config) *Service {
	if cfg.SyncTicker == nil {
		cfg.SyncTicker = ticker.New(DefaultSyncInterval)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.MaxBlocksInFlight == 0 {
		cfg.MaxBlocksInFlight = DefaultMaxBlocksInFlight
	}

	return &Service{
		cfg:   cfg,
		peers: make(map[netsvc.Peer]*peerSync),
		quit:  make(chan struct{}),
	}
}

// Init starts the sync loop.
func (s *Service) Init() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Sync service starting")

	s.cfg.SyncTicker.Resume()

	s.wg.Add(1)
	go s.syncHandler()

	return nil
}

// Close stops the sync loop.
func (s *Service) Close() error {
	if !s.started.Load() || !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Sync service shutting down")

	close(s.quit)
	s.wg.Wait()
	s.cfg.SyncTicker.Stop()

	return nil
}

// AddPeer starts syncing with p. A new peer is assumed to be ahead of us.
func (s *Service) AddPeer(p netsvc.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.peers[p]; ok {
		return
	}

	s.peers[p] = &peerSync{
		needSync:      true,
		blockRequests: make(map[chainhash.Hash]time.Time),
	}
}

// MarkNeedSync flags p as ahead of us after it sent a block we cannot link.
// Untracked peers are ignored.
func (s *Service) MarkNeedSync(p netsvc.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.peers[p]; ok {
		state.needSync = true
	}
}

// OnChainInventory processes p's answer to our SyncBlockChain. The answer
// must have been requested, list consecutive blocks and start at a block we
// have.
func (s *Service) OnChainInventory(p netsvc.Peer,
	inv *tronwire.ChainInventory) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.peers[p]
	if !ok || state.chainRequest.IsNone() {
		return netfault.New(
			netfault.BadMessage, "chain inventory not requested",
		)
	}
	state.chainRequest = fn.None[time.Time]()

	if len(inv.Blocks) == 0 {
		return netfault.New(
			netfault.SyncFailed, "empty chain inventory",
		)
	}
	for i := 1; i < len(inv.Blocks); i++ {
		if inv.Blocks[i].Num != inv.Blocks[i-1].Num+1 {
			return netfault.Errorf(netfault.BadMessage,
				"chain inventory not consecutive at %v",
				inv.Blocks[i])
		}
	}
	if inv.RemainNum > 0 &&
		len(inv.Blocks) < tronwire.MaxChainInventorySize {

		return netfault.Errorf(netfault.BadMessage,
			"chain inventory of %d ids withholds %d more",
			len(inv.Blocks), inv.RemainNum)
	}

	first := inv.Blocks[0]
	if !s.cfg.Chain.HaveBlock(first.Hash) {
		return netfault.Errorf(netfault.SyncFailed,
			"chain inventory starts at unknown block %v", first)
	}

	state.toFetch = state.toFetch[:0]
	for _, id := range inv.Blocks[1:] {
		if s.cfg.Chain.HaveBlock(id.Hash) {
			continue
		}
		if _, ok := state.blockRequests[id.Hash]; ok {
			continue
		}
		state.toFetch = append(state.toFetch, id)
	}
	state.remain = inv.RemainNum
	state.needSync = state.remain > 0 || len(state.toFetch) > 0

	log.Debugf("Peer %v chain inventory: %d new blocks, %d remain",
		p.RemoteAddr(), len(state.toFetch), state.remain)

	return nil
}

// BlockReceived records that p delivered the block. It returns false if the
// block was not requested from p by the sync service.
func (s *Service) BlockReceived(p netsvc.Peer, hash chainhash.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.peers[p]
	if !ok {
		return false
	}
	if _, ok := state.blockRequests[hash]; !ok {
		return false
	}
	delete(state.blockRequests, hash)

	return true
}

// OldestRequest returns when the longest outstanding sync request to p was
// sent, counting both chain negotiation and block requests.
func (s *Service) OldestRequest(p netsvc.Peer) fn.Option[time.Time] {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.peers[p]
	if !ok {
		return fn.None[time.Time]()
	}

	oldest := state.chainRequest
	for _, at := range state.blockRequests {
		if oldest.IsNone() || at.Before(oldest.UnsafeFromSome()) {
			oldest = fn.Some(at)
		}
	}

	return oldest
}

// RemovePeer forgets p.
func (s *Service) RemovePeer(p netsvc.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.peers, p)
}

// syncHandler drives sync with every peer on each tick.
//
// NOTE: This method MUST be run as a goroutine.
func (s *Service) syncHandler() {
	defer s.wg.Done()

	for {
		select {
		case <-s.cfg.SyncTicker.Ticks():
			s.syncPeers()

		case <-s.quit:
			return
		}
	}
}

// syncPeers sends the next sync request to every peer that needs one.
func (s *Service) syncPeers() {
	s.mu.Lock()
	peers := make([]netsvc.Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		if msg := s.nextRequest(p); msg != nil {
			if err := p.SendMessage(msg); err != nil {
				log.Debugf("Unable to send %v to %v: %v",
					msg.MsgType(), p.RemoteAddr(), err)
			}
		}
	}
}

// nextRequest decides what to ask p next: more blocks from its last answer,
// or a new chain negotiation once every requested block arrived. A peer
// removed since the snapshot gets nothing.
func (s *Service) nextRequest(p netsvc.Peer) tronwire.Message {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.peers[p]
	if !ok || state.chainRequest.IsSome() {
		return nil
	}

	if len(state.toFetch) > 0 {
		room := s.cfg.MaxBlocksInFlight - len(state.blockRequests)
		n := min(room, len(state.toFetch), tronwire.MaxInvItems)
		if n <= 0 {
			return nil
		}

		hashes := make([]chainhash.Hash, 0, n)
		for _, id := range state.toFetch[:n] {
			hashes = append(hashes, id.Hash)
			state.blockRequests[id.Hash] = now
		}
		state.toFetch = state.toFetch[n:]

		log.Debugf("Requesting %d blocks from %v", n, p.RemoteAddr())

		return &tronwire.FetchInvData{InvList: tronwire.InvList{
			Type:   tronwire.InvBlock,
			Hashes: hashes,
		}}
	}

	if !state.needSync || len(state.blockRequests) > 0 {
		return nil
	}

	state.chainRequest = fn.Some(now)

	return &tronwire.SyncBlockChain{Locator: s.cfg.Chain.Locator()}
}
