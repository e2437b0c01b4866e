package peer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/tronnode/tnd/tronwire"
)

// PingManagerConfig is a structure containing various parameters that govern
// how the PingManager behaves.
type PingManagerConfig struct {
	// NewNonce returns the nonce for the next ping.
	NewNonce func() uint64

	// Ticker fires on every ping interval.
	Ticker ticker.Ticker

	// TimeoutDuration is the Duration we wait before declaring a ping
	// attempt failed.
	TimeoutDuration time.Duration

	// Clock measures round trips and ping timeouts.
	Clock clock.Clock

	// SendPing is responsible for sending the Ping message out to our
	// peer.
	SendPing func(ping *tronwire.Ping)

	// OnPongFailure runs when a Pong is late or does not echo the nonce
	// of our Ping.
	OnPongFailure func(failureReason error, timeWaitedForPong time.Duration)
}

// PingManager keeps track of the ping pong exchange with one remote peer. We
// assume there is only one ping outstanding at once.
//
// NOTE: This structure MUST be initialized with NewPingManager.
type PingManager struct {
	cfg *PingManagerConfig

	// pingTime is the last measured round trip time.
	pingTime atomic.Pointer[time.Duration]

	// The fields below are only accessed by pingHandler.
	pingLastSend fn.Option[time.Time]
	outstanding  fn.Option[uint64]
	pingTimeout  <-chan time.Time

	pongChan chan *tronwire.Pong

	started sync.Once
	stopped sync.Once

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewPingManager constructs a PingManager in a valid state. It must be started
// before it does anything useful, though.
func NewPingManager(cfg *PingManagerConfig) *PingManager {
	return &PingManager{
		cfg:      cfg,
		pongChan: make(chan *tronwire.Pong, 1),
		quit:     make(chan struct{}),
	}
}

// Start launches the primary goroutine that is owned by the PingManager.
func (m *PingManager) Start() {
	m.started.Do(func() {
		m.cfg.Ticker.Resume()

		m.wg.Add(1)
		go m.pingHandler()
	})
}

// pingHandler is the main goroutine responsible for enforcing the ping/pong
// protocol.
func (m *PingManager) pingHandler() {
	defer m.wg.Done()

	for {
		select {
		case <-m.cfg.Ticker.Ticks():
			// A new ping cycle while a ping is still unanswered
			// means that ping timed out.
			if m.outstanding.IsSome() {
				m.fail(errors.New("ping timed out by next " +
					"interval"))
			}

			nonce := m.cfg.NewNonce()
			m.outstanding = fn.Some(nonce)
			m.pingLastSend = fn.Some(m.cfg.Clock.Now())
			m.pingTimeout = m.cfg.Clock.TickAfter(
				m.cfg.TimeoutDuration,
			)

			m.cfg.SendPing(&tronwire.Ping{Nonce: nonce})

		case <-m.pingTimeout:
			m.fail(errors.New("timeout while waiting for pong " +
				"response"))

		case pong := <-m.pongChan:
			expected, err := m.outstanding.UnwrapOrErr(errNoPing)
			if err != nil {
				log.Debugf("Ignoring pong: %v", err)
				continue
			}

			if pong.Nonce != expected {
				m.fail(fmt.Errorf("pong nonce mismatch: "+
					"expected %d, got %d", expected,
					pong.Nonce))

				continue
			}

			rtt := m.waited()
			m.pingTime.Store(&rtt)
			m.resetPingState()

		case <-m.quit:
			return
		}
	}
}

var errNoPing = errors.New("no ping outstanding")

// waited returns how long ago the outstanding ping was sent.
func (m *PingManager) waited() time.Duration {
	return fn.MapOptionZ(m.pingLastSend,
		func(sent time.Time) time.Duration {
			return m.cfg.Clock.Now().Sub(sent)
		},
	)
}

func (m *PingManager) fail(err error) {
	m.cfg.OnPongFailure(err, m.waited())
	m.resetPingState()
}

// resetPingState clears the bookkeeping of the outstanding ping.
func (m *PingManager) resetPingState() {
	m.pingLastSend = fn.None[time.Time]()
	m.outstanding = fn.None[uint64]()
	m.pingTimeout = nil
}

// Stop interrupts the goroutines that the PingManager owns.
func (m *PingManager) Stop() {
	m.stopped.Do(func() {
		close(m.quit)
		m.wg.Wait()

		m.cfg.Ticker.Stop()
	})
}

// RTT reports the last measured round trip time, if any.
func (m *PingManager) RTT() fn.Option[time.Duration] {
	return fn.OptionFromPtr(m.pingTime.Load())
}

// ReceivedPong hands a Pong to the PingManager for evaluation.
func (m *PingManager) ReceivedPong(msg *tronwire.Pong) {
	select {
	case m.pongChan <- msg:
	case <-m.quit:
	}
}
