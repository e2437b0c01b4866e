package tronwire

import "fmt"

// ReasonCode is sent to a remote peer in a Disconnect message to tell it why
// the link is being dropped.
type ReasonCode uint8

// The closed set of disconnect reasons.
const (
	ReasonBadTx       ReasonCode = 0x01
	ReasonBadBlock    ReasonCode = 0x02
	ReasonBadProtocol ReasonCode = 0x03
	ReasonSyncFail    ReasonCode = 0x04
	ReasonUnlinkable  ReasonCode = 0x05
	ReasonUnknown     ReasonCode = 0xff
)

// AllReasons lists every reason code that may appear on the wire.
var AllReasons = []ReasonCode{
	ReasonBadTx, ReasonBadBlock, ReasonBadProtocol, ReasonSyncFail,
	ReasonUnlinkable, ReasonUnknown,
}

// IsValid reports whether r is one of the defined reason codes.
func (r ReasonCode) IsValid() bool {
	for _, known := range AllReasons {
		if r == known {
			return true
		}
	}

	return false
}

// String returns the protocol name of the reason.
func (r ReasonCode) String() string {
	switch r {
	case ReasonBadTx:
		return "BAD_TX"
	case ReasonBadBlock:
		return "BAD_BLOCK"
	case ReasonBadProtocol:
		return "BAD_PROTOCOL"
	case ReasonSyncFail:
		return "SYNC_FAIL"
	case ReasonUnlinkable:
		return "UNLINKABLE"
	case ReasonUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("ReasonCode(%d)", uint8(r))
	}
}
