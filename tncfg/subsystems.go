package tncfg

import (
	"fmt"
	"time"
)

const (
	// DefaultSyncInterval is how often peers are checked for chain sync.
	DefaultSyncInterval = time.Second

	// DefaultMaxBlocksInFlight bounds the blocks requested from one peer.
	DefaultMaxBlocksInFlight = 100

	// DefaultFetchInterval is how often announced items are requested.
	DefaultFetchInterval = 100 * time.Millisecond

	// DefaultCheckInterval is how often peers are checked for liveness.
	DefaultCheckInterval = 5 * time.Second

	// DefaultSyncTimeout bounds how long a sync request may stay
	// unanswered.
	DefaultSyncTimeout = 20 * time.Second

	// DefaultFetchTimeout bounds how long a fetch request may stay
	// unanswered.
	DefaultFetchTimeout = 20 * time.Second

	// DefaultIdleTimeout is how long a peer may stay silent.
	DefaultIdleTimeout = 3 * time.Minute
)

// Sync holds the chain sync options.
//
//nolint:lll
type Sync struct {
	Interval time.Duration `long:"interval" description:"How often peers are checked for chain sync"`

	MaxBlocksInFlight int `long:"maxblocksinflight" description:"The maximum number of blocks requested from one peer at a time"`
}

// Validate checks the sync options.
func (s *Sync) Validate() error {
	if s.Interval <= 0 || s.MaxBlocksInFlight < 1 {
		return fmt.Errorf("sync interval and blocks in flight must " +
			"be positive")
	}

	return nil
}

// Adv holds the inventory advertisement options.
//
//nolint:lll
type Adv struct {
	FetchInterval time.Duration `long:"fetchinterval" description:"How often announced items are requested from peers"`

	PeerCacheSize uint64 `long:"peercachesize" description:"The number of items remembered per peer and direction"`
}

// Validate checks the advertisement options.
func (a *Adv) Validate() error {
	if a.FetchInterval <= 0 || a.PeerCacheSize == 0 {
		return fmt.Errorf("fetch interval and peer cache size must " +
			"be positive")
	}

	return nil
}

// PeerCheck holds the peer liveness options.
//
//nolint:lll
type PeerCheck struct {
	Interval time.Duration `long:"interval" description:"How often peers are checked for unanswered requests"`

	SyncTimeout time.Duration `long:"synctimeout" description:"How long a peer may leave a sync request unanswered"`

	FetchTimeout time.Duration `long:"fetchtimeout" description:"How long a peer may leave a fetch request unanswered"`

	IdleTimeout time.Duration `long:"idletimeout" description:"How long a peer may stay silent. 0 disables the check"`
}

// Validate checks the peer liveness options.
func (p *PeerCheck) Validate() error {
	switch {
	case p.Interval <= 0:
		return fmt.Errorf("peer check interval must be positive")

	case p.SyncTimeout <= 0 || p.FetchTimeout <= 0:
		return fmt.Errorf("request timeouts must be positive")

	case p.IdleTimeout < 0:
		return fmt.Errorf("idle timeout must not be negative")
	}

	return nil
}
