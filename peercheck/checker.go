// Package peercheck drops peers that stopped answering: peers sitting on one
// of our requests for too long and peers that went silent.
package peercheck

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

const (
	// DefaultCheckInterval is how often peers are checked.
	DefaultCheckInterval = 5 * time.Second

	// DefaultRequestTimeout is how long a peer may leave a request
	// unanswered.
	DefaultRequestTimeout = 20 * time.Second

	// DefaultIdleTimeout is how long a peer may stay silent. Keepalive
	// pings make an idle link produce traffic well within this window.
	DefaultIdleTimeout = 3 * time.Minute
)

// Peer is a connected peer as seen by the checker.
type Peer interface {
	netsvc.Peer

	// LastReceive returns when the last frame arrived from the peer.
	LastReceive() time.Time
}

// RequestTracker reports the outstanding requests to a peer.
type RequestTracker interface {
	// OldestRequest returns when the longest outstanding request to p
	// was sent.
	OldestRequest(p netsvc.Peer) fn.Option[time.Time]
}

// Tracker binds a request tracker to its timeout and the reason sent to
// peers that exceed it.
type Tracker struct {
	Name     string
	Requests RequestTracker
	Timeout  time.Duration
	Reason   tronwire.ReasonCode
}

// Config holds the settings and dependencies of the checker.
type Config struct {
	// Peers returns the connected peers.
	Peers func() []Peer

	// Trackers are checked in order. A peer is dropped for the first
	// tracker it exceeds.
	Trackers []Tracker

	// IdleTimeout is how long a peer may stay silent. Zero disables the
	// idle check.
	IdleTimeout time.Duration

	// Ticker drives the checks. Nil selects a ticker firing every
	// DefaultCheckInterval.
	Ticker ticker.Ticker

	// Clock is the time source. Nil selects the system clock.
	Clock clock.Clock
}

// Checker is the peer liveness check.
type Checker struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg Config

	gm *fn.GoroutineManager
}

// New creates a checker.
func New(cfg Config) *Checker {
	if cfg.Ticker == nil {
		cfg.Ticker = ticker.New(DefaultCheckInterval)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Checker{
		cfg: cfg,
		gm:  fn.NewGoroutineManager(),
	}
}

// Init starts the check loop.
func (c *Checker) Init() error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Infof("Peer check starting, idle timeout %v", c.cfg.IdleTimeout)

	c.cfg.Ticker.Resume()

	if !c.gm.Go(context.Background(), c.checkHandler) {
		return errors.New("unable to start peer check")
	}

	return nil
}

// Close stops the check loop.
func (c *Checker) Close() error {
	if !c.started.Load() || !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Peer check shutting down")

	c.gm.Stop()
	c.cfg.Ticker.Stop()

	return nil
}

func (c *Checker) checkHandler(ctx context.Context) {
	for {
		select {
		case <-c.cfg.Ticker.Ticks():
			c.checkPeers()

		case <-ctx.Done():
			return
		}
	}
}

// checkPeers disconnects every peer that exceeded a request or idle
// timeout.
func (c *Checker) checkPeers() {
	now := c.cfg.Clock.Now()

	for _, p := range c.cfg.Peers() {
		reason, ok := c.check(p, now)
		if !ok {
			continue
		}

		p.Disconnect(reason)
	}
}

// check returns the reason p must be dropped for, if any.
func (c *Checker) check(p Peer, now time.Time) (tronwire.ReasonCode, bool) {
	for _, tracker := range c.cfg.Trackers {
		oldest := tracker.Requests.OldestRequest(p)
		waited := fn.MapOptionZ(oldest,
			func(at time.Time) time.Duration {
				return now.Sub(at)
			},
		)
		if oldest.IsNone() || waited <= tracker.Timeout {
			continue
		}

		log.Infof("Peer %v left %s request unanswered for %v, "+
			"disconnecting", p.RemoteAddr(), tracker.Name, waited)

		return tracker.Reason, true
	}

	if c.cfg.IdleTimeout == 0 {
		return 0, false
	}

	idle := now.Sub(p.LastReceive())
	if idle <= c.cfg.IdleTimeout {
		return 0, false
	}

	log.Infof("Peer %v silent for %v, disconnecting", p.RemoteAddr(), idle)

	return tronwire.ReasonUnknown, true
}
