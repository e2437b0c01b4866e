package tronwire

import (
	"io"

	"github.com/btcsuite/btcd/wire"
)

// ChainInventory answers a SyncBlockChain with a run of consecutive block ids
// starting at the shared block, and how many more blocks the responder has
// beyond the last id.
type ChainInventory struct {
	Blocks    []BlockID
	RemainNum uint64
}

// A compile time check to ensure ChainInventory implements Message.
var _ Message = (*ChainInventory)(nil)

// MsgType returns MsgBlockChainInventory.
func (c *ChainInventory) MsgType() MessageType {
	return MsgBlockChainInventory
}

// Encode writes the ids and the remaining count.
func (c *ChainInventory) Encode(w io.Writer) error {
	if err := writeBlockIDs(w, c.Blocks); err != nil {
		return err
	}

	return wire.WriteVarInt(w, ProtocolVersion, c.RemainNum)
}

// Decode reads the ids and the remaining count.
func (c *ChainInventory) Decode(r io.Reader) error {
	var err error
	c.Blocks, err = readBlockIDs(r, MaxChainInventorySize, "chain ids")
	if err != nil {
		return err
	}

	c.RemainNum, err = wire.ReadVarInt(r, ProtocolVersion)

	return err
}
