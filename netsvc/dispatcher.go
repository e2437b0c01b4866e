package netsvc

import (
	"errors"
	"fmt"
	"maps"

	goerrors "github.com/go-errors/errors"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/tronwire"
)

var (
	// ErrMissingHandler is returned when a dispatchable message type has
	// no handler.
	ErrMissingHandler = errors.New("missing message handler")

	// ErrUnexpectedHandler is returned when a handler is bound to a type
	// that is never dispatched.
	ErrUnexpectedHandler = errors.New("handler bound to undispatchable " +
		"message type")
)

// DispatchableTypes lists the message types that are routed to a handler.
// Link level messages are consumed by the peer and never dispatched.
var DispatchableTypes = []tronwire.MessageType{
	tronwire.MsgSyncBlockChain,
	tronwire.MsgBlockChainInventory,
	tronwire.MsgInventory,
	tronwire.MsgFetchInvData,
	tronwire.MsgBlock,
	tronwire.MsgTrxs,
}

// HandlerTable binds each dispatchable message type to its handler.
type HandlerTable map[tronwire.MessageType]Handler

// Validate checks that every dispatchable type has exactly one handler and
// that nothing else is bound.
func (t HandlerTable) Validate() error {
	dispatchable := make(map[tronwire.MessageType]struct{})
	for _, msgType := range DispatchableTypes {
		dispatchable[msgType] = struct{}{}

		if h, ok := t[msgType]; !ok || h == nil {
			return fmt.Errorf("%w: %v", ErrMissingHandler, msgType)
		}
	}

	for msgType := range t {
		if _, ok := dispatchable[msgType]; !ok {
			return fmt.Errorf("%w: %v", ErrUnexpectedHandler,
				msgType)
		}
	}

	return nil
}

func (t HandlerTable) clone() HandlerTable {
	return maps.Clone(t)
}

// OnMessage routes msg received from p to the handler for its type. A
// failure of any kind, including a panicking handler, ends in p being
// disconnected. OnMessage never fails towards the caller.
//
// Each peer calls OnMessage from a single goroutine, so the messages of one
// peer are handled in arrival order.
func (s *Service) OnMessage(p Peer, msg tronwire.Message) {
	if !s.intake.enter() {
		s.metrics.rejected.Inc()
		log.Debugf("Dropping %v from %v, service not running",
			msg.MsgType(), p.RemoteAddr())

		return
	}
	defer s.intake.leave()

	if err := s.dispatch(p, msg); err != nil {
		s.handleFailure(p, msg, err)
	}
}

// dispatch runs the handler bound to the message type.
func (s *Service) dispatch(p Peer, msg tronwire.Message) (err error) {
	msgType := msg.MsgType()

	handler, ok := s.handlers[msgType]
	if !ok {
		return netfault.Errorf(netfault.NoSuchMessage,
			"no such message: %v", msgType)
	}

	defer func() {
		if r := recover(); r != nil {
			err = goerrors.Wrap(r, 2)
		}
	}()

	start := s.cfg.Clock.Now()
	defer func() {
		s.metrics.latency.WithLabelValues(msgType.String()).Observe(
			s.cfg.Clock.Now().Sub(start).Seconds(),
		)
	}()

	s.metrics.messages.WithLabelValues(msgType.String()).Inc()

	return handler.ProcessMessage(p, msg)
}
