package tronwire

import (
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// InvList is a typed list of item hashes shared by Inventory and
// FetchInvData.
type InvList struct {
	Type   InvType
	Hashes []chainhash.Hash
}

func (l *InvList) encode(w io.Writer) error {
	if _, err := w.Write([]byte{byte(l.Type)}); err != nil {
		return err
	}

	err := wire.WriteVarInt(w, ProtocolVersion, uint64(len(l.Hashes)))
	if err != nil {
		return err
	}

	for i := range l.Hashes {
		if _, err := w.Write(l.Hashes[i][:]); err != nil {
			return err
		}
	}

	return nil
}

func (l *InvList) decode(r io.Reader) error {
	var t [1]byte
	if _, err := io.ReadFull(r, t[:]); err != nil {
		return err
	}
	l.Type = InvType(t[0])

	n, err := readCount(r, MaxInvItems, "inventory hashes")
	if err != nil {
		return err
	}

	l.Hashes = make([]chainhash.Hash, n)
	for i := range l.Hashes {
		if err := readHash(r, &l.Hashes[i]); err != nil {
			return err
		}
	}

	return nil
}

// Inventory announces items the sender has and the receiver may not.
type Inventory struct {
	InvList
}

// A compile time check to ensure Inventory implements Message.
var _ Message = (*Inventory)(nil)

// MsgType returns MsgInventory.
func (i *Inventory) MsgType() MessageType {
	return MsgInventory
}

// Encode writes the inventory list.
func (i *Inventory) Encode(w io.Writer) error {
	return i.encode(w)
}

// Decode reads the inventory list.
func (i *Inventory) Decode(r io.Reader) error {
	return i.decode(r)
}

// FetchInvData requests the full items behind previously seen hashes.
type FetchInvData struct {
	InvList
}

// A compile time check to ensure FetchInvData implements Message.
var _ Message = (*FetchInvData)(nil)

// MsgType returns MsgFetchInvData.
func (f *FetchInvData) MsgType() MessageType {
	return MsgFetchInvData
}

// Encode writes the requested list.
func (f *FetchInvData) Encode(w io.Writer) error {
	return f.encode(w)
}

// Decode reads the requested list.
func (f *FetchInvData) Decode(r io.Reader) error {
	return f.decode(r)
}
