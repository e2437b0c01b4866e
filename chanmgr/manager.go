// Package chanmgr owns the node's peer connections: it accepts and dials
// links, enforces the peer limit and host bans, and tells the rest of the
// node when a peer goes away.
package chanmgr

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/connmgr"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/tronnode/tnd/peer"
	"github.com/tronnode/tnd/tronwire"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxPeers is the default limit of simultaneous peers.
	DefaultMaxPeers = 30

	// DefaultRetryDuration is the delay before redialing a permanent peer.
	DefaultRetryDuration = 5 * time.Second

	// DefaultCloseTimeout bounds how long Close waits for peers to exit.
	DefaultCloseTimeout = 10 * time.Second

	// faultHistorySize is the number of disconnect reasons kept per host.
	// A permanent peer is no longer redialed once all of them are faults.
	faultHistorySize = 5
)

var (
	// ErrServerShuttingDown indicates that the manager is in the process
	// of gracefully exiting.
	ErrServerShuttingDown = errors.New("channel manager is shutting down")

	// ErrTooManyPeers is returned when the peer limit is reached.
	ErrTooManyPeers = errors.New("too many peers")

	// ErrNoMessageSink is returned by Init when no sink was set.
	ErrNoMessageSink = errors.New("no message sink")
)

// Config holds the settings and dependencies of the channel manager.
type Config struct {
	// Listeners accept inbound connections. The manager takes ownership
	// of them.
	Listeners []net.Listener

	// Dial connects to a remote address.
	Dial func(net.Addr) (net.Conn, error)

	// MaxPeers limits the number of simultaneous peers.
	MaxPeers int

	// BanThreshold is the score at which a host gets banned. Zero
	// disables banning.
	BanThreshold uint64

	// BanDuration is how long a ban lasts.
	BanDuration time.Duration

	// RetryDuration is the delay before redialing a permanent peer.
	RetryDuration time.Duration

	// PingInterval and PingTimeout govern keepalives of every peer.
	PingInterval time.Duration
	PingTimeout  time.Duration

	// Clock is the time source. Nil selects the system clock.
	Clock clock.Clock
}

// Manager is the channel manager.
type Manager struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg Config

	// sink is set once before Init.
	sink peer.MessageSink

	connMgr *connmgr.ConnManager
	bans    *banman

	mu sync.RWMutex

	peers map[uint64]*peer.Peer

	// connReqs maps an outbound peer to the request that dialed it.
	connReqs map[uint64]*connmgr.ConnReq

	// peerErrors keeps the recent disconnect reasons of each host across
	// connections.
	peerErrors map[string]*queue.CircularBuffer

	addedListeners []func(*peer.Peer)
	goneListeners  []func(*peer.Peer)
}

// New creates a channel manager. SetMessageSink must be called before Init.
func New(cfg Config) *Manager {
	if cfg.MaxPeers == 0 {
		cfg.MaxPeers = DefaultMaxPeers
	}
	if cfg.BanDuration == 0 {
		cfg.BanDuration = DefaultBanDuration
	}
	if cfg.RetryDuration == 0 {
		cfg.RetryDuration = DefaultRetryDuration
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = peer.DefaultPingInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Manager{
		cfg: cfg,
		bans: newBanman(
			cfg.BanThreshold, cfg.BanDuration, cfg.Clock,
			ticker.New(purgeInterval),
		),
		peers:      make(map[uint64]*peer.Peer),
		connReqs:   make(map[uint64]*connmgr.ConnReq),
		peerErrors: make(map[string]*queue.CircularBuffer),
	}
}

// SetMessageSink sets where peers deliver their messages.
func (m *Manager) SetMessageSink(sink peer.MessageSink) {
	m.sink = sink
}

// SubscribePeerAdded registers f to be called for every new peer before it
// starts reading, and so before any gone notification for it. It must be
// called before Init.
func (m *Manager) SubscribePeerAdded(f func(*peer.Peer)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addedListeners = append(m.addedListeners, f)
}

// SubscribePeerGone registers f to be called whenever a peer disconnects.
// It must be called before Init. f runs on the disconnecting peer's
// goroutine and must not block.
func (m *Manager) SubscribePeerGone(f func(*peer.Peer)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.goneListeners = append(m.goneListeners, f)
}

// Init starts listening and accepting connections.
func (m *Manager) Init() error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}
	if m.sink == nil {
		return ErrNoMessageSink
	}

	cmgr, err := connmgr.New(&connmgr.Config{
		Listeners:      m.cfg.Listeners,
		OnAccept:       m.inboundConnected,
		RetryDuration:  m.cfg.RetryDuration,
		TargetOutbound: uint32(m.cfg.MaxPeers),
		Dial:           m.cfg.Dial,
		OnConnection:   m.outboundConnected,
	})
	if err != nil {
		return fmt.Errorf("creating conn manager failed: %w", err)
	}
	m.connMgr = cmgr

	log.Infof("Channel manager starting, max peers %d", m.cfg.MaxPeers)

	m.bans.start()
	m.connMgr.Start()

	return nil
}

// Close disconnects every peer, waits for them to exit and stops accepting
// connections.
func (m *Manager) Close() error {
	if !m.started.Load() || !m.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Channel manager shutting down")

	peers := m.Peers()

	var g errgroup.Group
	for _, p := range peers {
		g.Go(func() error {
			p.Disconnect(tronwire.ReasonUnknown)
			p.WaitForDisconnect()

			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-m.cfg.Clock.TickAfter(DefaultCloseTimeout):
		err = fmt.Errorf("%d peers did not exit within %v", len(peers),
			DefaultCloseTimeout)
	}

	m.connMgr.Stop()
	m.connMgr.Wait()
	m.bans.stop()

	return err
}

// Connect dials addr in the background. A permanent address is redialed
// whenever the link drops.
func (m *Manager) Connect(addr net.Addr, permanent bool) error {
	if m.stopped.Load() {
		return ErrServerShuttingDown
	}
	if m.bans.isBanned(hostOf(addr)) {
		return fmt.Errorf("%w: %v", ErrHostBanned, addr)
	}

	log.Debugf("Connecting to %v, permanent=%v", addr, permanent)

	go m.connMgr.Connect(&connmgr.ConnReq{
		Addr:      addr,
		Permanent: permanent,
	})

	return nil
}

// Peers returns a snapshot of the connected peers.
func (m *Manager) Peers() []*peer.Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	peers := make([]*peer.Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}

	return peers
}

// Broadcast queues msg to every connected peer for which skip returns false.
// A nil skip sends to all peers.
func (m *Manager) Broadcast(msg tronwire.Message,
	skip func(*peer.Peer) bool) {

	for _, p := range m.Peers() {
		if skip != nil && skip(p) {
			log.Tracef("Skipping %v in broadcast", p)
			continue
		}

		if err := p.SendMessage(msg); err != nil {
			log.Debugf("Unable to broadcast %v to %v: %v",
				msg.MsgType(), p, err)
		}
	}
}

// IsBanned reports whether connections from the host of addr are refused.
func (m *Manager) IsBanned(addr net.Addr) bool {
	return m.bans.isBanned(hostOf(addr))
}

// faultHistoryLocked returns the most recent disconnect reasons of host,
// oldest first. The caller must hold mu.
func (m *Manager) faultHistoryLocked(host string) []tronwire.ReasonCode {
	buf, ok := m.peerErrors[host]
	if !ok {
		return nil
	}

	items := buf.List()
	reasons := make([]tronwire.ReasonCode, 0, len(items))
	for _, item := range items {
		reasons = append(reasons, item.(tronwire.ReasonCode))
	}

	return reasons
}

// inboundConnected is called by the conn manager for every accepted
// connection.
func (m *Manager) inboundConnected(conn net.Conn) {
	log.Infof("New inbound connection from %v", conn.RemoteAddr())

	if err := m.admit(conn.RemoteAddr()); err != nil {
		log.Infof("Rejecting inbound connection from %v: %v",
			conn.RemoteAddr(), err)
		conn.Close()

		return
	}

	m.addPeer(conn, nil)
}

// outboundConnected is called by the conn manager once a dial succeeded.
func (m *Manager) outboundConnected(req *connmgr.ConnReq, conn net.Conn) {
	log.Infof("Established outbound connection to %v", req.Addr)

	if err := m.admit(conn.RemoteAddr()); err != nil {
		log.Infof("Dropping outbound connection to %v: %v", req.Addr,
			err)
		conn.Close()
		m.connMgr.Remove(req.ID())

		return
	}

	m.addPeer(conn, req)
}

// admit checks the shutdown state, bans and the peer limit.
func (m *Manager) admit(addr net.Addr) error {
	if m.stopped.Load() {
		return ErrServerShuttingDown
	}
	if m.bans.isBanned(hostOf(addr)) {
		return ErrHostBanned
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.peers) >= m.cfg.MaxPeers {
		return ErrTooManyPeers
	}

	return nil
}

func (m *Manager) addPeer(conn net.Conn, req *connmgr.ConnReq) {
	p := peer.New(peer.Config{
		Conn:         conn,
		Inbound:      req == nil,
		Sink:         m.sink,
		OnDisconnect: m.peerDisconnected,
		Clock:        m.cfg.Clock,
		PingTicker:   ticker.New(m.cfg.PingInterval),
		PingTimeout:  m.cfg.PingTimeout,
	})

	m.mu.Lock()
	listeners := m.addedListeners
	m.mu.Unlock()

	for _, f := range listeners {
		f(p)
	}

	m.mu.Lock()
	m.peers[p.ID()] = p
	if req != nil {
		m.connReqs[p.ID()] = req
	}
	m.mu.Unlock()

	p.Start()
}

// peerDisconnected runs on the peer's goroutine once its link is closed.
func (m *Manager) peerDisconnected(p *peer.Peer, reason tronwire.ReasonCode) {
	host := hostOf(p.RemoteAddr())
	banned := m.bans.recordDisconnect(host, reason)
	if banned {
		log.Warnf("Banning %v for %v after %v", host,
			m.cfg.BanDuration, reason)
	}

	m.mu.Lock()
	delete(m.peers, p.ID())

	req, outbound := m.connReqs[p.ID()]
	delete(m.connReqs, p.ID())

	m.recordFaultLocked(host, reason)
	history := m.faultHistoryLocked(host)

	listeners := m.goneListeners
	m.mu.Unlock()

	if outbound && !m.stopped.Load() {
		failing := req.Permanent && persistentlyFaulty(history)
		if failing && !banned {
			log.Warnf("Giving up on permanent peer %v after "+
				"disconnects %v", req.Addr, history)
		}

		if banned || failing || !req.Permanent {
			m.connMgr.Remove(req.ID())
		} else {
			m.connMgr.Disconnect(req.ID())
		}
	}

	for _, f := range listeners {
		f(p)
	}
}

// recordFaultLocked appends reason to the host's history. The caller must
// hold mu.
func (m *Manager) recordFaultLocked(host string, reason tronwire.ReasonCode) {
	buf, ok := m.peerErrors[host]
	if !ok {
		var err error
		buf, err = queue.NewCircularBuffer(faultHistorySize)
		if err != nil {
			log.Errorf("Unable to create fault history: %v", err)
			return
		}
		m.peerErrors[host] = buf
	}

	buf.Add(reason)
}

// persistentlyFaulty reports whether history is full and every entry is a
// fault reason.
func persistentlyFaulty(history []tronwire.ReasonCode) bool {
	if len(history) < faultHistorySize {
		return false
	}

	for _, reason := range history {
		if reason == tronwire.ReasonUnknown {
			return false
		}
	}

	return true
}

// hostOf returns the host part of addr, or the whole address if it has no
// port.
func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}

	return host
}
