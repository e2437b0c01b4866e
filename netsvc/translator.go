package netsvc

import (
	"errors"

	goerrors "github.com/go-errors/errors"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/tnutils"
	"github.com/tronnode/tnd/tronwire"
)

// ReportFault punishes p for err the same way a failing handler would. It is
// used for faults detected outside of OnMessage, such as undecodable frames
// or transactions validated asynchronously. msg may be nil when no message
// could be decoded. A nil err is ignored.
func (s *Service) ReportFault(p Peer, msg tronwire.Message, err error) {
	if err == nil {
		return
	}

	s.handleFailure(p, msg, err)
}

// handleFailure logs err at a verbosity matching its severity and disconnects
// p with the reason the error maps to.
func (s *Service) handleFailure(p Peer, msg tronwire.Message, err error) {
	reason := netfault.ReasonFor(err)

	msgType := "none"
	if msg != nil {
		msgType = msg.MsgType().String()
	}

	if netfault.IsSevere(err) {
		log.Errorf("Message from %v process failed, type: %v, "+
			"reason: %v, err: %v\nmessage: %v\nstack: %v",
			p.RemoteAddr(), msgType, reason, err,
			tnutils.SpewLogClosure(msg), stackClosure(err))
	} else {
		log.Errorf("Message from %v process failed, type: %v, "+
			"reason: %v, detail: %v", p.RemoteAddr(), msgType,
			reason, err)
	}

	s.metrics.disconnects.WithLabelValues(reason.String()).Inc()

	p.Disconnect(reason)
}

// stackClosure renders the stack carried by err, or the stack of the caller
// when err has none.
func stackClosure(err error) tnutils.LogClosure {
	var stacked *goerrors.Error
	if !errors.As(err, &stacked) {
		stacked = goerrors.Wrap(err, 2)
	}

	return tnutils.NewLogClosure(func() string {
		return string(stacked.Stack())
	})
}
