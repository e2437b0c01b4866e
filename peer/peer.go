package peer

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

const (
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultPingInterval is the time between keepalive pings.
	DefaultPingInterval = time.Minute

	// DefaultPingTimeout is how long we wait for the matching pong.
	DefaultPingTimeout = 30 * time.Second

	// inboundQueueSize is the buffer of decoded messages waiting for the
	// dispatcher before the concurrent queue starts to grow.
	inboundQueueSize = 50

	// outgoingQueueLen is the number of messages waiting to be written
	// before SendMessage blocks.
	outgoingQueueLen = 50
)

var (
	// ErrPeerExiting is returned when sending to a peer that is
	// disconnecting.
	ErrPeerExiting = errors.New("peer exiting")

	// numPeers hands out peer ids.
	numPeers atomic.Uint64
)

// MessageSink receives the messages of a peer and the faults detected while
// reading them. It is implemented by netsvc.Service.
type MessageSink interface {
	// OnMessage handles a dispatchable message.
	OnMessage(p netsvc.Peer, msg tronwire.Message)

	// ReportFault punishes the peer for a fault found outside of
	// message handling.
	ReportFault(p netsvc.Peer, msg tronwire.Message, err error)
}

// Config holds the dependencies of a peer.
type Config struct {
	// Conn is the established connection. The peer owns it.
	Conn net.Conn

	// Inbound is true if the remote node dialed us.
	Inbound bool

	// Sink receives every dispatchable message in arrival order.
	Sink MessageSink

	// OnDisconnect is called exactly once, after the connection is
	// closed, with the reason we sent or received. It must not wait for
	// the peer's goroutines.
	OnDisconnect func(p *Peer, reason tronwire.ReasonCode)

	// Clock is the time source. Nil selects the system clock.
	Clock clock.Clock

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// PingTicker drives keepalive pings. Nil selects a ticker firing
	// every DefaultPingInterval.
	PingTicker ticker.Ticker

	// PingTimeout is how long we wait for a pong.
	PingTimeout time.Duration
}

// Peer is a connected remote node. Messages it reads are handed to the sink
// from a single goroutine, so they are handled one at a time and in order.
type Peer struct {
	started      atomic.Bool
	disconnected atomic.Bool

	cfg Config
	id  uint64

	// lastRecv is the unix nano time of the last frame read.
	lastRecv atomic.Int64

	// reason is the disconnect reason, valid once disconnected is set.
	reason atomic.Uint32

	inbound   *fn.ConcurrentQueue[tronwire.Message]
	sendQueue chan tronwire.Message

	// writeMtx serializes frame writes to the connection.
	writeMtx sync.Mutex

	pingManager *PingManager

	quit chan struct{}
	wg   sync.WaitGroup
}

// A compile time check to ensure Peer implements netsvc.Peer.
var _ netsvc.Peer = (*Peer)(nil)

// New creates a peer for an established connection. Start must be called to
// begin reading from it.
func New(cfg Config) *Peer {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.PingTicker == nil {
		cfg.PingTicker = ticker.New(DefaultPingInterval)
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}

	inbound := fn.NewConcurrentQueue[tronwire.Message](inboundQueueSize)

	p := &Peer{
		cfg:       cfg,
		id:        numPeers.Add(1),
		inbound:   inbound,
		sendQueue: make(chan tronwire.Message, outgoingQueueLen),
		quit:      make(chan struct{}),
	}
	p.lastRecv.Store(cfg.Clock.Now().UnixNano())

	p.pingManager = NewPingManager(&PingManagerConfig{
		NewNonce:        rand.Uint64,
		Ticker:          cfg.PingTicker,
		TimeoutDuration: cfg.PingTimeout,
		Clock:           cfg.Clock,
		SendPing: func(ping *tronwire.Ping) {
			if err := p.SendMessage(ping); err != nil {
				log.Debugf("Unable to ping %v: %v", p, err)
			}
		},
		OnPongFailure: func(err error, waited time.Duration) {
			log.Warnf("Pong failure for %v after %v: %v", p,
				waited, err)

			p.Disconnect(tronwire.ReasonUnknown)
		},
	})

	return p
}

// Start launches the read, dispatch and write goroutines.
func (p *Peer) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	log.Debugf("Starting peer %v", p)

	p.inbound.Start()
	p.pingManager.Start()

	p.wg.Add(3)
	go p.readHandler()
	go p.msgHandler()
	go p.writeHandler()
}

// ID returns the process unique id of the peer.
func (p *Peer) ID() uint64 {
	return p.id
}

// Inbound reports whether the remote node dialed us.
func (p *Peer) Inbound() bool {
	return p.cfg.Inbound
}

// RemoteAddr returns the remote address of the connection.
func (p *Peer) RemoteAddr() net.Addr {
	return p.cfg.Conn.RemoteAddr()
}

// LastReceive returns the time the last frame was read from the peer.
func (p *Peer) LastReceive() time.Time {
	return time.Unix(0, p.lastRecv.Load())
}

// String returns the remote address and direction.
func (p *Peer) String() string {
	dir := "outbound"
	if p.cfg.Inbound {
		dir = "inbound"
	}

	return fmt.Sprintf("%v (%s)", p.RemoteAddr(), dir)
}

// SendMessage queues msg to be written to the peer.
func (p *Peer) SendMessage(msg tronwire.Message) error {
	select {
	case p.sendQueue <- msg:
		return nil
	case <-p.quit:
		return ErrPeerExiting
	}
}

// Disconnect tells the remote node why it is being dropped and closes the
// connection. Only the first call has an effect. It does not wait for the
// peer's goroutines, so it may be called from any of them.
func (p *Peer) Disconnect(reason tronwire.ReasonCode) {
	p.disconnect(reason, true)
}

// Disconnected returns a channel that is closed once the peer disconnected.
func (p *Peer) Disconnected() <-chan struct{} {
	return p.quit
}

// DisconnectReason returns the reason the peer was disconnected with.
func (p *Peer) DisconnectReason() fn.Option[tronwire.ReasonCode] {
	select {
	case <-p.quit:
		return fn.Some(tronwire.ReasonCode(p.reason.Load()))
	default:
		return fn.None[tronwire.ReasonCode]()
	}
}

// WaitForDisconnect blocks until the peer is disconnected and its goroutines
// have exited. It must not be called from one of them.
func (p *Peer) WaitForDisconnect() {
	<-p.quit
	p.wg.Wait()
}

func (p *Peer) disconnect(reason tronwire.ReasonCode, notifyRemote bool) {
	if !p.disconnected.CompareAndSwap(false, true) {
		return
	}
	p.reason.Store(uint32(reason))

	log.Infof("Disconnecting %v, reason: %v", p, reason)

	if notifyRemote {
		err := p.writeMessage(&tronwire.Disconnect{Reason: reason})
		if err != nil {
			log.Debugf("Unable to send disconnect to %v: %v", p,
				err)
		}
	}

	close(p.quit)
	if err := p.cfg.Conn.Close(); err != nil {
		log.Debugf("Unable to close connection to %v: %v", p, err)
	}

	if p.cfg.OnDisconnect != nil {
		p.cfg.OnDisconnect(p, reason)
	}
}

// writeMessage writes a single frame to the connection.
func (p *Peer) writeMessage(msg tronwire.Message) error {
	p.writeMtx.Lock()
	defer p.writeMtx.Unlock()

	deadline := p.cfg.Clock.Now().Add(p.cfg.WriteTimeout)
	if err := p.cfg.Conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	_, err := tronwire.WriteMessage(p.cfg.Conn, msg)

	return err
}

// readHandler reads frames until the connection fails, answering link level
// messages itself and queueing the rest for msgHandler.
//
// NOTE: This method MUST be run as a goroutine.
func (p *Peer) readHandler() {
	defer p.wg.Done()

	for {
		msg, err := tronwire.ReadMessage(p.cfg.Conn)
		if err != nil {
			p.handleReadError(err)
			return
		}
		p.lastRecv.Store(p.cfg.Clock.Now().UnixNano())

		switch m := msg.(type) {
		case *tronwire.Ping:
			err := p.SendMessage(&tronwire.Pong{Nonce: m.Nonce})
			if err != nil {
				return
			}

		case *tronwire.Pong:
			p.pingManager.ReceivedPong(m)

		case *tronwire.Disconnect:
			log.Infof("Peer %v disconnected us, reason: %v", p,
				m.Reason)

			p.disconnect(m.Reason, false)

			return

		default:
			select {
			case p.inbound.ChanIn() <- msg:
			case <-p.quit:
				return
			}
		}
	}
}

// handleReadError tears the link down after a failed read. Undecodable frames
// are faults of the peer; anything else is a broken connection.
func (p *Peer) handleReadError(err error) {
	if p.disconnected.Load() {
		return
	}

	if errors.Is(err, tronwire.ErrWrongLength) ||
		errors.Is(err, tronwire.ErrMalformed) {

		p.cfg.Sink.ReportFault(p, nil, netfault.FromWireError(err))
		return
	}

	if errors.Is(err, io.EOF) {
		log.Debugf("Peer %v closed the connection", p)
	} else {
		log.Debugf("Unable to read from %v: %v", p, err)
	}

	p.disconnect(tronwire.ReasonUnknown, false)
}

// msgHandler hands queued messages to the sink one at a time.
//
// NOTE: This method MUST be run as a goroutine.
func (p *Peer) msgHandler() {
	defer p.wg.Done()
	defer p.inbound.Stop()

	for {
		select {
		case msg := <-p.inbound.ChanOut():
			p.cfg.Sink.OnMessage(p, msg)

		case <-p.quit:
			return
		}
	}
}

// writeHandler writes queued messages in order.
//
// NOTE: This method MUST be run as a goroutine.
func (p *Peer) writeHandler() {
	defer p.wg.Done()
	defer p.pingManager.Stop()

	for {
		select {
		case msg := <-p.sendQueue:
			if err := p.writeMessage(msg); err != nil {
				log.Debugf("Unable to write %v to %v: %v",
					msg.MsgType(), p, err)

				p.disconnect(tronwire.ReasonUnknown, false)

				return
			}

		case <-p.quit:
			return
		}
	}
}
