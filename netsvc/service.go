// Package netsvc is the protocol core of the node's networking layer. It
// brings the networking subsystems up and down in order, routes every
// inbound message to the handler for its type, and turns handler failures
// into a disconnect of the offending peer.
package netsvc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultDrainTimeout is how long Stop waits for messages that are
	// being handled before it closes the subsystems anyway.
	DefaultDrainTimeout = 5 * time.Second
)

var (
	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("network service already started")

	// ErrServerShuttingDown is returned when Start is called after Stop.
	ErrServerShuttingDown = errors.New("network service shutting down")
)

// Config holds the collaborators of the service.
type Config struct {
	// ChannelManager owns peer connections.
	ChannelManager Lifecycle

	// AdvService tracks and spreads inventory announcements.
	AdvService Lifecycle

	// SyncService drives chain synchronization with peers.
	SyncService Lifecycle

	// PeerStatusCheck disconnects unresponsive peers.
	PeerStatusCheck Lifecycle

	// TxHandler is the lifecycle of the transactions handler's worker
	// pool.
	TxHandler Lifecycle

	// Handlers binds each dispatchable message type to its handler.
	Handlers HandlerTable

	// DrainTimeout bounds how long Stop waits for in flight messages.
	// Zero selects DefaultDrainTimeout.
	DrainTimeout time.Duration

	// Clock is the time source. Nil selects the system clock.
	Clock clock.Clock

	// Registerer receives the service's metrics. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// namedSubsystem pairs a subsystem with the name used in logs and errors.
type namedSubsystem struct {
	name string
	Lifecycle
}

// Service coordinates the networking subsystems and dispatches inbound peer
// messages.
type Service struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg Config

	// handlers is a private copy of the table and is never written after
	// New returns.
	handlers HandlerTable

	// subsystems is the start order.
	subsystems []namedSubsystem

	mu          sync.Mutex
	initialized []namedSubsystem

	intake intake

	metrics *serviceMetrics
}

// New validates cfg and creates a service that is not yet started.
func New(cfg Config) (*Service, error) {
	subsystems := []namedSubsystem{
		{"channel manager", cfg.ChannelManager},
		{"adv service", cfg.AdvService},
		{"sync service", cfg.SyncService},
		{"peer status check", cfg.PeerStatusCheck},
		{"transactions handler", cfg.TxHandler},
	}
	for _, s := range subsystems {
		if s.Lifecycle == nil {
			return nil, fmt.Errorf("%s not configured", s.name)
		}
	}

	if err := cfg.Handlers.Validate(); err != nil {
		return nil, err
	}

	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	metrics, err := newServiceMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:        cfg,
		handlers:   cfg.Handlers.clone(),
		subsystems: subsystems,
		metrics:    metrics,
	}, nil
}

// Start initializes the subsystems in dependency order and then begins
// accepting messages. If a subsystem fails to initialize, the subsystems
// started before it stay recorded so Stop can close them.
func (s *Service) Start() error {
	if s.stopped.Load() {
		return ErrServerShuttingDown
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	log.Info("Network service starting")

	for _, sub := range s.subsystems {
		log.Debugf("Initializing %s", sub.name)

		if err := sub.Init(); err != nil {
			log.Errorf("Unable to initialize %s: %v", sub.name, err)

			return fmt.Errorf("unable to init %s: %w", sub.name,
				err)
		}

		s.mu.Lock()
		s.initialized = append(s.initialized, sub)
		s.mu.Unlock()
	}

	s.intake.admit()

	log.Info("Network service started")

	return nil
}

// Stop stops accepting messages, waits a bounded time for messages being
// handled, and closes the initialized subsystems in the order they were
// started. Every subsystem is closed even if an earlier one fails; the
// failures are returned together. Calls after the first return nil.
func (s *Service) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Network service shutting down...")

	drained := s.intake.shut()
	select {
	case <-drained:
	case <-s.cfg.Clock.TickAfter(s.cfg.DrainTimeout):
		log.Warnf("Messages still being handled after %v, closing "+
			"subsystems anyway", s.cfg.DrainTimeout)
	}

	s.mu.Lock()
	initialized := s.initialized
	s.initialized = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range initialized {
		log.Debugf("Closing %s", sub.name)

		if err := sub.Close(); err != nil {
			log.Errorf("Unable to close %s: %v", sub.name, err)

			errs = append(errs, fmt.Errorf("unable to close %s: %w",
				sub.name, err))
		}
	}

	log.Info("Network service shutdown complete")

	return errors.Join(errs...)
}
