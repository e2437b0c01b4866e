package tronwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ProtocolVersion is the version handed to the btcd varint helpers. None of
// our encodings depend on it.
const ProtocolVersion uint32 = 0

// MaxPayloadSize is the largest message body a peer may send.
const MaxPayloadSize = 4 * 1024 * 1024

// frameHeaderSize is the type byte followed by a big endian uint32 length.
const frameHeaderSize = 5

var (
	// ErrWrongLength is returned when a frame's declared length is out of
	// bounds or does not match the encoded body.
	ErrWrongLength = errors.New("message with wrong length")

	// ErrMalformed is returned when a message body cannot be decoded.
	ErrMalformed = errors.New("malformed message")
)

// MessageType is the one byte tag that prefixes every frame.
type MessageType uint8

// The currently defined message types.
const (
	MsgSyncBlockChain      MessageType = 0x01
	MsgBlockChainInventory MessageType = 0x02
	MsgInventory           MessageType = 0x03
	MsgFetchInvData        MessageType = 0x04
	MsgBlock               MessageType = 0x05
	MsgTrxs                MessageType = 0x06

	// Link level messages are consumed by the peer itself and never reach
	// the dispatcher.
	MsgPing       MessageType = 0x20
	MsgPong       MessageType = 0x21
	MsgDisconnect MessageType = 0x22
)

// String returns the protocol name of the message type.
func (t MessageType) String() string {
	switch t {
	case MsgSyncBlockChain:
		return "SYNC_BLOCK_CHAIN"
	case MsgBlockChainInventory:
		return "BLOCK_CHAIN_INVENTORY"
	case MsgInventory:
		return "INVENTORY"
	case MsgFetchInvData:
		return "FETCH_INV_DATA"
	case MsgBlock:
		return "BLOCK"
	case MsgTrxs:
		return "TRXS"
	case MsgPing:
		return "P2P_PING"
	case MsgPong:
		return "P2P_PONG"
	case MsgDisconnect:
		return "P2P_DISCONNECT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// Message is implemented by every wire message.
type Message interface {
	// MsgType returns the tag the message is framed with.
	MsgType() MessageType

	// Encode writes the message body to w.
	Encode(w io.Writer) error

	// Decode reads the message body from r.
	Decode(r io.Reader) error
}

// makeEmptyMessage returns a zero message for the tag. Tags we do not know
// decode into an UnknownMessage so the dispatcher can reject them.
func makeEmptyMessage(t MessageType) Message {
	switch t {
	case MsgSyncBlockChain:
		return &SyncBlockChain{}
	case MsgBlockChainInventory:
		return &ChainInventory{}
	case MsgInventory:
		return &Inventory{}
	case MsgFetchInvData:
		return &FetchInvData{}
	case MsgBlock:
		return &BlockMsg{}
	case MsgTrxs:
		return &Transactions{}
	case MsgPing:
		return &Ping{}
	case MsgPong:
		return &Pong{}
	case MsgDisconnect:
		return &Disconnect{}
	default:
		return &UnknownMessage{Type: t}
	}
}

// WriteMessage frames msg and writes it to w, returning the number of bytes
// written.
func WriteMessage(w io.Writer, msg Message) (int, error) {
	var body bytes.Buffer
	if err := msg.Encode(&body); err != nil {
		return 0, err
	}

	if body.Len() > MaxPayloadSize {
		return 0, fmt.Errorf("%w: %v payload of %d bytes exceeds "+
			"%d", ErrWrongLength, msg.MsgType(), body.Len(),
			MaxPayloadSize)
	}

	var header [frameHeaderSize]byte
	header[0] = byte(msg.MsgType())
	binary.BigEndian.PutUint32(header[1:], uint32(body.Len()))

	frame := append(header[:], body.Bytes()...)

	return w.Write(frame)
}

// ReadMessage reads the next frame from r and decodes it. Errors wrapping
// ErrWrongLength or ErrMalformed are protocol violations by the sender; any
// other error comes from the underlying reader.
func ReadMessage(r io.Reader) (Message, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	msgType := MessageType(header[0])
	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %v declares %d bytes, max %d",
			ErrWrongLength, msgType, length, MaxPayloadSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return DecodeMessage(msgType, payload)
}

// DecodeMessage decodes a complete message body of the given type.
func DecodeMessage(msgType MessageType, payload []byte) (Message, error) {
	msg := makeEmptyMessage(msgType)

	body := bytes.NewReader(payload)
	if err := msg.Decode(body); err != nil {
		switch {
		case errors.Is(err, ErrWrongLength):
			return nil, err

		// A body that ends early was framed with the wrong length.
		case errors.Is(err, io.EOF),
			errors.Is(err, io.ErrUnexpectedEOF):

			return nil, fmt.Errorf("%w: %v body truncated",
				ErrWrongLength, msgType)
		}

		return nil, fmt.Errorf("%w: %v: %v", ErrMalformed, msgType, err)
	}

	if body.Len() != 0 {
		return nil, fmt.Errorf("%w: %v has %d trailing bytes",
			ErrWrongLength, msgType, body.Len())
	}

	return msg, nil
}

// UnknownMessage carries the raw body of a message whose tag this node does
// not understand.
type UnknownMessage struct {
	Type    MessageType
	Payload []byte
}

// A compile time check to ensure UnknownMessage implements Message.
var _ Message = (*UnknownMessage)(nil)

// MsgType returns the unrecognized tag.
func (u *UnknownMessage) MsgType() MessageType {
	return u.Type
}

// Encode writes the raw payload.
func (u *UnknownMessage) Encode(w io.Writer) error {
	_, err := w.Write(u.Payload)
	return err
}

// Decode consumes the rest of r as the raw payload.
func (u *UnknownMessage) Decode(r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	u.Payload = payload

	return nil
}
