package tronwire

import "io"

// BlockMsg delivers a full block.
type BlockMsg struct {
	Block Block
}

// A compile time check to ensure BlockMsg implements Message.
var _ Message = (*BlockMsg)(nil)

// MsgType returns MsgBlock.
func (b *BlockMsg) MsgType() MessageType {
	return MsgBlock
}

// Encode writes the header followed by the transactions.
func (b *BlockMsg) Encode(w io.Writer) error {
	if err := b.Block.Header.encode(w); err != nil {
		return err
	}

	return writeTxs(w, b.Block.Txs)
}

// Decode reads the header followed by the transactions.
func (b *BlockMsg) Decode(r io.Reader) error {
	if err := b.Block.Header.decode(r); err != nil {
		return err
	}

	var err error
	b.Block.Txs, err = readTxs(r, MaxBlockTxs)

	return err
}
