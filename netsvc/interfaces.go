package netsvc

import (
	"net"

	"github.com/tronnode/tnd/tronwire"
)

// Peer is the view of a connected remote node that message handling needs.
// Peers are owned by the channel manager; the service only reads from them
// and asks them to disconnect.
type Peer interface {
	// RemoteAddr returns the remote address of the link.
	RemoteAddr() net.Addr

	// SendMessage queues msg for delivery to the remote node.
	SendMessage(msg tronwire.Message) error

	// Disconnect sends reason to the remote node and tears the link
	// down. Calls after the first are no-ops.
	Disconnect(reason tronwire.ReasonCode)
}

// Handler processes one category of inbound message.
type Handler interface {
	// ProcessMessage validates and applies msg received from p. Any
	// condition that should get p punished must be reported as a
	// *netfault.Fault. Handlers never disconnect peers themselves.
	ProcessMessage(p Peer, msg tronwire.Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(p Peer, msg tronwire.Message) error

// ProcessMessage calls f(p, msg).
func (f HandlerFunc) ProcessMessage(p Peer, msg tronwire.Message) error {
	return f(p, msg)
}

// Lifecycle is a networking component whose start and stop the service
// drives.
type Lifecycle interface {
	// Init brings the subsystem online. An error aborts node startup.
	Init() error

	// Close stops the subsystem from accepting new work and releases its
	// resources.
	Close() error
}
