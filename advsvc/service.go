// Package advsvc tracks inventory announced by peers, fetches the items we
// do not have, and announces our new items to peers that do not know them.
package advsvc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

const (
	// DefaultFetchInterval is how often announced items are requested.
	DefaultFetchInterval = 100 * time.Millisecond

	// DefaultPeerCacheSize bounds the items remembered per peer and
	// direction.
	DefaultPeerCacheSize = 20_000

	// maxFetchBacklog bounds the items waiting to be requested.
	maxFetchBacklog = 50_000
)

// Item identifies an advertised block or transaction.
type Item struct {
	Type tronwire.InvType
	Hash chainhash.Hash
}

// String returns the item as type:hash.
func (i Item) String() string {
	return fmt.Sprintf("%v:%v", i.Type, i.Hash)
}

// seenEntry records when an item was seen.
type seenEntry struct {
	at time.Time
}

// Size returns the "size" of an entry.
func (s *seenEntry) Size() (uint64, error) {
	return 1, nil
}

// peerState is what we know about one peer's inventory.
type peerState struct {
	// received holds the items the peer announced to us.
	received *lru.Cache[Item, *seenEntry]

	// spread holds the items we announced to the peer.
	spread *lru.Cache[Item, *seenEntry]

	// requests holds the items we asked the peer for and when.
	requests map[Item]time.Time
}

// Config holds the dependencies of the advertisement service.
type Config struct {
	// Have reports whether the item is already stored locally.
	Have func(Item) bool

	// FetchTicker drives the requests for announced items. Nil selects
	// a ticker firing every DefaultFetchInterval.
	FetchTicker ticker.Ticker

	// Clock is the time source. Nil selects the system clock.
	Clock clock.Clock

	// PeerCacheSize bounds the items remembered per peer.
	PeerCacheSize uint64
}

// Service is the advertisement service.
type Service struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg Config

	mu sync.Mutex

	// peers holds the state of every peer between AddPeer and
	// RemovePeer. Nothing else creates entries.
	peers map[netsvc.Peer]*peerState

	// toFetch holds announced items we have not requested yet.
	toFetch *lru.Cache[Item, *seenEntry]

	// requested maps each requested item to the peer asked for it.
	requested map[Item]netsvc.Peer

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates an advertisement service.
func New(cfg Config) *Service {
	if cfg.FetchTicker == nil {
		cfg.FetchTicker = ticker.New(DefaultFetchInterval)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.PeerCacheSize == 0 {
		cfg.PeerCacheSize = DefaultPeerCacheSize
	}

	return &Service{
		cfg:       cfg,
		peers:     make(map[netsvc.Peer]*peerState),
		toFetch:   lru.NewCache[Item, *seenEntry](maxFetchBacklog),
		requested: make(map[Item]netsvc.Peer),
		quit:      make(chan struct{}),
	}
}

// Init starts the fetch loop.
func (s *Service) Init() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Adv service starting")

	s.cfg.FetchTicker.Resume()

	s.wg.Add(1)
	go s.fetchHandler()

	return nil
}

// Close stops the fetch loop.
func (s *Service) Close() error {
	if !s.started.Load() || !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Adv service shutting down")

	close(s.quit)
	s.wg.Wait()
	s.cfg.FetchTicker.Stop()

	return nil
}

// AddPeer starts tracking p. Announcements from and to a peer are only kept
// while it is tracked.
func (s *Service) AddPeer(p netsvc.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.peers[p]; ok {
		return
	}

	s.peers[p] = &peerState{
		received: lru.NewCache[Item, *seenEntry](s.cfg.PeerCacheSize),
		spread:   lru.NewCache[Item, *seenEntry](s.cfg.PeerCacheSize),
		requests: make(map[Item]time.Time),
	}
}

// OnInventory records the items p announced and queues the ones we neither
// have nor already requested.
func (s *Service) OnInventory(p netsvc.Peer, inv *tronwire.Inventory) {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.peers[p]
	if !ok {
		log.Tracef("Ignoring inventory from untracked peer %v",
			p.RemoteAddr())
		return
	}

	for _, hash := range inv.Hashes {
		item := Item{Type: inv.Type, Hash: hash}
		_, _ = state.received.Put(item, &seenEntry{at: now})

		if _, ok := s.requested[item]; ok {
			continue
		}
		if s.cfg.Have(item) {
			continue
		}

		_, _ = s.toFetch.Put(item, &seenEntry{at: now})
	}
}

// Fulfilled records that p delivered item. It returns false if the item was
// never requested from p.
func (s *Service) Fulfilled(p netsvc.Peer, item Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.peers[p]
	if !ok {
		return false
	}
	if _, ok := state.requests[item]; !ok {
		return false
	}

	delete(state.requests, item)
	delete(s.requested, item)

	return true
}

// WasSpread reports whether we announced item to p.
func (s *Service) WasSpread(p netsvc.Peer, item Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.peers[p]
	if !ok {
		return false
	}
	_, err := state.spread.Get(item)

	return err == nil
}

// OldestRequest returns when the longest outstanding request to p was sent.
func (s *Service) OldestRequest(p netsvc.Peer) fn.Option[time.Time] {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.peers[p]
	if !ok {
		return fn.None[time.Time]()
	}

	oldest := fn.None[time.Time]()
	for _, at := range state.requests {
		if oldest.IsNone() || at.Before(oldest.UnsafeFromSome()) {
			oldest = fn.Some(at)
		}
	}

	return oldest
}

// Broadcast announces items to every tracked peer that neither announced
// them to us nor was told about them already.
func (s *Service) Broadcast(items ...Item) {
	now := s.cfg.Clock.Now()
	batches := make(map[fetchKey][]chainhash.Hash)

	s.mu.Lock()
	for p, state := range s.peers {
		for _, item := range items {
			if _, err := state.received.Get(item); err == nil {
				continue
			}
			if _, err := state.spread.Get(item); err == nil {
				continue
			}

			_, _ = state.spread.Put(item, &seenEntry{at: now})

			key := fetchKey{peer: p, invType: item.Type}
			batches[key] = append(batches[key], item.Hash)
		}
	}
	s.mu.Unlock()

	for key, hashes := range batches {
		for len(hashes) > 0 {
			n := min(len(hashes), tronwire.MaxInvItems)
			s.send(key.peer, &tronwire.Inventory{
				InvList: tronwire.InvList{
					Type:   key.invType,
					Hashes: hashes[:n],
				},
			})
			hashes = hashes[n:]
		}
	}
}

// RemovePeer forgets p. Items requested from it become fetchable again.
func (s *Service) RemovePeer(p netsvc.Peer) {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.peers[p]
	if !ok {
		return
	}
	delete(s.peers, p)

	for item := range state.requests {
		delete(s.requested, item)
		_, _ = s.toFetch.Put(item, &seenEntry{at: now})
	}
}

// fetchHandler requests queued items on every tick.
//
// NOTE: This method MUST be run as a goroutine.
func (s *Service) fetchHandler() {
	defer s.wg.Done()

	for {
		select {
		case <-s.cfg.FetchTicker.Ticks():
			s.fetch()

		case <-s.quit:
			return
		}
	}
}

// fetchKey groups the hashes of one inventory type sent to one peer.
type fetchKey struct {
	peer    netsvc.Peer
	invType tronwire.InvType
}

// fetch assigns every queued item to a peer that announced it and sends the
// requests.
func (s *Service) fetch() {
	now := s.cfg.Clock.Now()
	batches := make(map[fetchKey][]chainhash.Hash)

	s.mu.Lock()
	var (
		assigned []Item
		stale    []Item
	)
	s.toFetch.Range(func(item Item, _ *seenEntry) bool {
		if s.cfg.Have(item) {
			stale = append(stale, item)
			return true
		}

		for p, state := range s.peers {
			if _, err := state.received.Get(item); err != nil {
				continue
			}

			key := fetchKey{peer: p, invType: item.Type}
			if len(batches[key]) >= tronwire.MaxInvItems {
				continue
			}

			batches[key] = append(batches[key], item.Hash)
			state.requests[item] = now
			s.requested[item] = p
			assigned = append(assigned, item)

			break
		}

		return true
	})
	for _, item := range append(assigned, stale...) {
		s.toFetch.Delete(item)
	}
	s.mu.Unlock()

	for key, hashes := range batches {
		log.Debugf("Fetching %d %v items from %v", len(hashes),
			key.invType, key.peer.RemoteAddr())

		s.send(key.peer, &tronwire.FetchInvData{
			InvList: tronwire.InvList{
				Type:   key.invType,
				Hashes: hashes,
			},
		})
	}
}

func (s *Service) send(p netsvc.Peer, msg tronwire.Message) {
	if err := p.SendMessage(msg); err != nil {
		log.Debugf("Unable to send %v to %v: %v", msg.MsgType(),
			p.RemoteAddr(), err)
	}
}
