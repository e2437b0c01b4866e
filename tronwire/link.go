package tronwire

import (
	"fmt"
	"io"
)

// Ping is a keepalive. The receiver answers with a Pong echoing the nonce.
type Ping struct {
	Nonce uint64
}

// A compile time check to ensure Ping implements Message.
var _ Message = (*Ping)(nil)

// MsgType returns MsgPing.
func (p *Ping) MsgType() MessageType {
	return MsgPing
}

// Encode writes the nonce.
func (p *Ping) Encode(w io.Writer) error {
	return writeUint64(w, p.Nonce)
}

// Decode reads the nonce.
func (p *Ping) Decode(r io.Reader) error {
	var err error
	p.Nonce, err = readUint64(r)

	return err
}

// Pong answers a Ping.
type Pong struct {
	Nonce uint64
}

// A compile time check to ensure Pong implements Message.
var _ Message = (*Pong)(nil)

// MsgType returns MsgPong.
func (p *Pong) MsgType() MessageType {
	return MsgPong
}

// Encode writes the nonce.
func (p *Pong) Encode(w io.Writer) error {
	return writeUint64(w, p.Nonce)
}

// Decode reads the nonce.
func (p *Pong) Decode(r io.Reader) error {
	var err error
	p.Nonce, err = readUint64(r)

	return err
}

// Disconnect is the last message sent on a link before it is closed.
type Disconnect struct {
	Reason ReasonCode
}

// A compile time check to ensure Disconnect implements Message.
var _ Message = (*Disconnect)(nil)

// MsgType returns MsgDisconnect.
func (d *Disconnect) MsgType() MessageType {
	return MsgDisconnect
}

// Encode writes the reason code.
func (d *Disconnect) Encode(w io.Writer) error {
	_, err := w.Write([]byte{byte(d.Reason)})
	return err
}

// Decode reads the reason code.
func (d *Disconnect) Decode(r io.Reader) error {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}

	d.Reason = ReasonCode(b[0])
	if !d.Reason.IsValid() {
		return fmt.Errorf("unknown disconnect reason %d", b[0])
	}

	return nil
}
