package tronwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// MaxInvItems bounds the number of hashes in one Inventory or
	// FetchInvData message.
	MaxInvItems = 1000

	// MaxLocatorSize bounds the block locator of a SyncBlockChain message.
	MaxLocatorSize = 64

	// MaxChainInventorySize bounds the ids returned in one ChainInventory.
	MaxChainInventorySize = 2000

	// MaxBlockTxs bounds the transactions carried by a block.
	MaxBlockTxs = 10000

	// MaxTrxsPerMsg bounds the transactions carried by one Trxs message.
	MaxTrxsPerMsg = 1000

	// MaxTxPayload bounds the opaque contract payload of a transaction.
	MaxTxPayload = 64 * 1024

	// MaxWitnessSize bounds the producer witness carried in a block header.
	MaxWitnessSize = 256
)

// InvType tags the kind of item an inventory hash refers to.
type InvType uint8

const (
	// InvTrx refers to a transaction.
	InvTrx InvType = 0

	// InvBlock refers to a block.
	InvBlock InvType = 1
)

// String returns the name of the inventory type.
func (t InvType) String() string {
	switch t {
	case InvTrx:
		return "TRX"
	case InvBlock:
		return "BLOCK"
	default:
		return fmt.Sprintf("InvType(%d)", uint8(t))
	}
}

// BlockID identifies a block by hash and height.
type BlockID struct {
	Hash chainhash.Hash
	Num  uint64
}

// String returns the id as num:hash.
func (b BlockID) String() string {
	return fmt.Sprintf("%d:%v", b.Num, b.Hash)
}

// Transaction is an opaque signed contract. Its internals belong to the
// execution layer.
type Transaction struct {
	// Expiration is the unix time in milliseconds after which the
	// transaction must not be included in a block.
	Expiration int64

	// Payload is the serialized contract and signatures.
	Payload []byte
}

// TxHash returns the double sha256 of the serialized transaction.
func (t *Transaction) TxHash() chainhash.Hash {
	var b bytes.Buffer
	_ = t.encode(&b)

	return chainhash.DoubleHashH(b.Bytes())
}

func (t *Transaction) encode(w io.Writer) error {
	if err := writeInt64(w, t.Expiration); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, ProtocolVersion, t.Payload)
}

func (t *Transaction) decode(r io.Reader) error {
	var err error
	if t.Expiration, err = readInt64(r); err != nil {
		return err
	}

	t.Payload, err = wire.ReadVarBytes(
		r, ProtocolVersion, MaxTxPayload, "tx payload",
	)

	return err
}

// BlockHeader commits to a block's parent and contents.
type BlockHeader struct {
	ParentHash chainhash.Hash
	Number     uint64
	Timestamp  int64
	MerkleRoot chainhash.Hash
	Witness    []byte
}

// BlockHash returns the double sha256 of the serialized header.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	var b bytes.Buffer
	_ = h.encode(&b)

	return chainhash.DoubleHashH(b.Bytes())
}

func (h *BlockHeader) encode(w io.Writer) error {
	if _, err := w.Write(h.ParentHash[:]); err != nil {
		return err
	}
	if err := writeUint64(w, h.Number); err != nil {
		return err
	}
	if err := writeInt64(w, h.Timestamp); err != nil {
		return err
	}
	if _, err := w.Write(h.MerkleRoot[:]); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, ProtocolVersion, h.Witness)
}

func (h *BlockHeader) decode(r io.Reader) error {
	var err error
	if err = readHash(r, &h.ParentHash); err != nil {
		return err
	}
	if h.Number, err = readUint64(r); err != nil {
		return err
	}
	if h.Timestamp, err = readInt64(r); err != nil {
		return err
	}
	if err = readHash(r, &h.MerkleRoot); err != nil {
		return err
	}

	h.Witness, err = wire.ReadVarBytes(
		r, ProtocolVersion, MaxWitnessSize, "witness",
	)

	return err
}

// Block is a header plus the transactions it commits to.
type Block struct {
	Header BlockHeader
	Txs    []*Transaction
}

// ID returns the block's hash and height.
func (b *Block) ID() BlockID {
	return BlockID{Hash: b.Header.BlockHash(), Num: b.Header.Number}
}

// CalcMerkleRoot returns the merkle root over the transaction hashes. Odd
// levels duplicate their last element. An empty list yields the zero hash.
func CalcMerkleRoot(txs []*Transaction) chainhash.Hash {
	if len(txs) == 0 {
		return chainhash.Hash{}
	}

	level := make([]chainhash.Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.TxHash()
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([]chainhash.Hash, len(level)/2)
		for i := range next {
			var pair [chainhash.HashSize * 2]byte
			copy(pair[:chainhash.HashSize], level[2*i][:])
			copy(pair[chainhash.HashSize:], level[2*i+1][:])
			next[i] = chainhash.DoubleHashH(pair[:])
		}
		level = next
	}

	return level[0]
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])

	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint64(b[:]), nil
}

func writeInt64(w io.Writer, v int64) error {
	return writeUint64(w, uint64(v))
}

func readInt64(r io.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func readHash(r io.Reader, h *chainhash.Hash) error {
	_, err := io.ReadFull(r, h[:])
	return err
}

// readCount reads a varint element count and rejects counts above max with
// ErrWrongLength.
func readCount(r io.Reader, max uint64, field string) (uint64, error) {
	n, err := wire.ReadVarInt(r, ProtocolVersion)
	if err != nil {
		return 0, err
	}
	if n > max {
		return 0, fmt.Errorf("%w: %d %s exceeds max of %d",
			ErrWrongLength, n, field, max)
	}

	return n, nil
}

func writeBlockIDs(w io.Writer, ids []BlockID) error {
	err := wire.WriteVarInt(w, ProtocolVersion, uint64(len(ids)))
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := w.Write(id.Hash[:]); err != nil {
			return err
		}
		if err := writeUint64(w, id.Num); err != nil {
			return err
		}
	}

	return nil
}

func readBlockIDs(r io.Reader, max uint64, field string) ([]BlockID, error) {
	n, err := readCount(r, max, field)
	if err != nil {
		return nil, err
	}

	ids := make([]BlockID, n)
	for i := range ids {
		if err := readHash(r, &ids[i].Hash); err != nil {
			return nil, err
		}
		if ids[i].Num, err = readUint64(r); err != nil {
			return nil, err
		}
	}

	return ids, nil
}

func writeTxs(w io.Writer, txs []*Transaction) error {
	err := wire.WriteVarInt(w, ProtocolVersion, uint64(len(txs)))
	if err != nil {
		return err
	}

	for _, tx := range txs {
		if err := tx.encode(w); err != nil {
			return err
		}
	}

	return nil
}

func readTxs(r io.Reader, max uint64) ([]*Transaction, error) {
	n, err := readCount(r, max, "transactions")
	if err != nil {
		return nil, err
	}

	txs := make([]*Transaction, n)
	for i := range txs {
		txs[i] = &Transaction{}
		if err := txs[i].decode(r); err != nil {
			return nil, err
		}
	}

	return txs, nil
}
