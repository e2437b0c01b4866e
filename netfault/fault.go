// Package netfault defines the protocol faults a message handler raises to
// have the offending peer disconnected, and the mapping from a fault to the
// reason code sent to that peer.
package netfault

import (
	"errors"
	"fmt"

	"github.com/tronnode/tnd/tronwire"
)

// Kind classifies a protocol fault.
type Kind uint8

const (
	// Default is a protocol fault that fits no other kind.
	Default Kind = iota

	// BadTransaction is raised for an invalid transaction.
	BadTransaction

	// BadBlock is raised for a block that fails validation.
	BadBlock

	// NoSuchMessage is raised for a message type we cannot dispatch.
	NoSuchMessage

	// MessageWrongLength is raised for a frame whose size is inconsistent
	// with its contents.
	MessageWrongLength

	// BadMessage is raised for a well framed message whose contents are
	// unacceptable.
	BadMessage

	// SyncFailed is raised when chain sync negotiation with the peer
	// cannot continue.
	SyncFailed

	// UnlinkableBlock is raised for a block whose parent we do not know.
	UnlinkableBlock

	// numKinds must stay last.
	numKinds
)

// AllKinds lists every fault kind.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, numKinds)
	for k := Default; k < numKinds; k++ {
		kinds = append(kinds, k)
	}

	return kinds
}

// String returns the protocol name of the kind.
func (k Kind) String() string {
	switch k {
	case Default:
		return "DEFAULT"
	case BadTransaction:
		return "BAD_TRX"
	case BadBlock:
		return "BAD_BLOCK"
	case NoSuchMessage:
		return "NO_SUCH_MESSAGE"
	case MessageWrongLength:
		return "MESSAGE_WITH_WRONG_LENGTH"
	case BadMessage:
		return "BAD_MESSAGE"
	case SyncFailed:
		return "SYNC_FAILED"
	case UnlinkableBlock:
		return "UNLINK_BLOCK"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Reason returns the disconnect reason sent to a peer that caused a fault of
// this kind.
func (k Kind) Reason() tronwire.ReasonCode {
	switch k {
	case BadTransaction:
		return tronwire.ReasonBadTx

	case BadBlock:
		return tronwire.ReasonBadBlock

	case NoSuchMessage, MessageWrongLength, BadMessage:
		return tronwire.ReasonBadProtocol

	case SyncFailed:
		return tronwire.ReasonSyncFail

	case UnlinkableBlock:
		return tronwire.ReasonUnlinkable

	default:
		return tronwire.ReasonUnknown
	}
}

// Severe reports whether faults of this kind point at a seriously invalid or
// hostile payload and deserve a full diagnostic log.
func (k Kind) Severe() bool {
	return k == BadBlock
}

// Fault is a classified protocol violation by a remote peer.
type Fault struct {
	Kind   Kind
	Detail string
}

// New creates a fault of the given kind.
func New(kind Kind, detail string) *Fault {
	return &Fault{Kind: kind, Detail: detail}
}

// Errorf creates a fault of the given kind with a formatted detail.
func Errorf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Error returns the kind and detail.
func (f *Fault) Error() string {
	return fmt.Sprintf("%v: %s", f.Kind, f.Detail)
}

// As returns the fault wrapped in err, if any.
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) && f != nil {
		return f, true
	}

	return nil, false
}

// ReasonFor maps any failure raised while handling a message to the
// disconnect reason. Errors that are not faults map to ReasonUnknown.
func ReasonFor(err error) tronwire.ReasonCode {
	if f, ok := As(err); ok {
		return f.Kind.Reason()
	}

	return tronwire.ReasonUnknown
}

// IsSevere reports whether the failure needs a full diagnostic log. Errors
// that are not faults are always severe, since they point at a local defect
// or an unanticipated peer behavior.
func IsSevere(err error) bool {
	if f, ok := As(err); ok {
		return f.Kind.Severe()
	}

	return true
}

// FromWireError turns a decoding error from tronwire into a fault. Errors
// that are not decoding errors are returned unchanged.
func FromWireError(err error) error {
	switch {
	case errors.Is(err, tronwire.ErrWrongLength):
		return New(MessageWrongLength, err.Error())

	case errors.Is(err, tronwire.ErrMalformed):
		return New(BadMessage, err.Error())

	default:
		return err
	}
}
