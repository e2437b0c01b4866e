package chanmgr

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/tronnode/tnd/tronwire"
)

const (
	// DefaultBanThreshold is the default value to be used for banThreshold.
	DefaultBanThreshold = 100

	// DefaultBanDuration is how long a host stays banned.
	DefaultBanDuration = time.Hour

	// maxBannedHosts limits the number of hosts whose ban score we store.
	maxBannedHosts = 10_000

	// purgeInterval is how often expired bans and scores are removed.
	purgeInterval = time.Minute * 10
)

// ErrHostBanned is returned when connecting to a banned host.
var ErrHostBanned = errors.New("host is banned")

// banPenalty is the score added to a host for each disconnect reason.
// Reasons that are not listed do not count against the host.
var banPenalty = map[tronwire.ReasonCode]uint64{
	tronwire.ReasonBadBlock:    DefaultBanThreshold,
	tronwire.ReasonBadProtocol: DefaultBanThreshold / 2,
	tronwire.ReasonBadTx:       DefaultBanThreshold / 10,
}

// cachedBanInfo is used to track a host's ban score.
type cachedBanInfo struct {
	score      uint64
	lastUpdate time.Time
}

// Size returns the "size" of an entry.
func (c *cachedBanInfo) Size() (uint64, error) {
	return 1, nil
}

// isBanned returns true if the ban score is greater than the ban threshold.
func (c *cachedBanInfo) isBanned(banThreshold uint64) bool {
	return c.score >= banThreshold
}

// banman keeps in memory ban scores of remote hosts. Scores grow with every
// fault disconnect and are forgotten banDuration after their last update. It
// uses an LRU cache to bound memory in case many hosts misbehave.
type banman struct {
	hostBanIndex *lru.Cache[string, *cachedBanInfo]

	// mu makes read-modify-write of a score atomic.
	mu sync.Mutex

	banThreshold uint64
	banDuration  time.Duration
	clock        clock.Clock
	purgeTicker  ticker.Ticker

	wg   sync.WaitGroup
	quit chan struct{}
}

// newBanman creates a new banman. A zero threshold disables banning.
func newBanman(banThreshold uint64, banDuration time.Duration,
	clk clock.Clock, purgeTicker ticker.Ticker) *banman {

	if banThreshold == 0 {
		log.Warn("Banning is disabled due to zero banThreshold")
		banThreshold = math.MaxUint64
	}

	return &banman{
		hostBanIndex: lru.NewCache[string, *cachedBanInfo](
			maxBannedHosts,
		),
		banThreshold: banThreshold,
		banDuration:  banDuration,
		clock:        clk,
		purgeTicker:  purgeTicker,
		quit:         make(chan struct{}),
	}
}

// start kicks off the banman by calling purgeExpiredBans.
func (b *banman) start() {
	b.purgeTicker.Resume()

	b.wg.Add(1)
	go b.purgeExpiredBans()
}

// stop halts the banman.
func (b *banman) stop() {
	close(b.quit)
	b.wg.Wait()

	b.purgeTicker.Stop()
}

func (b *banman) purgeExpiredBans() {
	defer b.wg.Done()

	for {
		select {
		case <-b.purgeTicker.Ticks():
			b.purgeBanEntries()

		case <-b.quit:
			return
		}
	}
}

// purgeBanEntries removes every entry whose last update is older than the
// ban duration. This both lifts expired bans and resets stale scores.
func (b *banman) purgeBanEntries() {
	now := b.clock.Now()

	var keysToRemove []string
	b.hostBanIndex.Range(func(host string, info *cachedBanInfo) bool {
		if !info.lastUpdate.Add(b.banDuration).After(now) {
			keysToRemove = append(keysToRemove, host)
		}

		return true
	})

	for _, key := range keysToRemove {
		b.hostBanIndex.Delete(key)
	}
}

// isBanned checks whether the host is banned.
func (b *banman) isBanned(host string) bool {
	banInfo, err := b.hostBanIndex.Get(host)
	switch {
	case errors.Is(err, cache.ErrElementNotFound):
		return false

	case err != nil:
		return false

	default:
		if !banInfo.lastUpdate.Add(b.banDuration).After(b.clock.Now()) {
			return false
		}

		return banInfo.isBanned(b.banThreshold)
	}
}

// recordDisconnect adds the penalty of reason to the host's score and
// reports whether the host is now banned.
func (b *banman) recordDisconnect(host string,
	reason tronwire.ReasonCode) bool {

	penalty := banPenalty[reason]
	if penalty == 0 {
		return b.isBanned(host)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var score uint64
	banInfo, err := b.hostBanIndex.Get(host)
	if err == nil {
		score = banInfo.score
	}

	cachedInfo := &cachedBanInfo{
		score:      score + penalty,
		lastUpdate: b.clock.Now(),
	}
	_, _ = b.hostBanIndex.Put(host, cachedInfo)

	return cachedInfo.isBanned(b.banThreshold)
}
