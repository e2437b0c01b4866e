package tronwire

import "io"

// SyncBlockChain asks the remote peer for the ids of the blocks that follow
// the most recent block both sides share. Locator lists our chain from the
// oldest interesting block to our head, sparser towards the genesis.
type SyncBlockChain struct {
	Locator []BlockID
}

// A compile time check to ensure SyncBlockChain implements Message.
var _ Message = (*SyncBlockChain)(nil)

// MsgType returns MsgSyncBlockChain.
func (s *SyncBlockChain) MsgType() MessageType {
	return MsgSyncBlockChain
}

// Encode writes the locator.
func (s *SyncBlockChain) Encode(w io.Writer) error {
	return writeBlockIDs(w, s.Locator)
}

// Decode reads the locator.
func (s *SyncBlockChain) Decode(r io.Reader) error {
	var err error
	s.Locator, err = readBlockIDs(r, MaxLocatorSize, "locator ids")

	return err
}
