package tronwire

import "io"

// Transactions delivers a batch of transactions, normally in answer to a
// FetchInvData of type InvTrx.
type Transactions struct {
	Txs []*Transaction
}

// A compile time check to ensure Transactions implements Message.
var _ Message = (*Transactions)(nil)

// MsgType returns MsgTrxs.
func (t *Transactions) MsgType() MessageType {
	return MsgTrxs
}

// Encode writes the transactions.
func (t *Transactions) Encode(w io.Writer) error {
	return writeTxs(w, t.Txs)
}

// Decode reads the transactions.
func (t *Transactions) Decode(r io.Reader) error {
	var err error
	t.Txs, err = readTxs(r, MaxTrxsPerMsg)

	return err
}
