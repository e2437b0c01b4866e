package msghandler

import (
	"github.com/tronnode/tnd/advsvc"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

// checkInvList rejects lists of unknown type or without hashes.
func checkInvList(l *tronwire.InvList) error {
	switch l.Type {
	case tronwire.InvTrx, tronwire.InvBlock:
	default:
		return netfault.Errorf(netfault.BadMessage,
			"unknown inventory type %v", l.Type)
	}

	if len(l.Hashes) == 0 {
		return netfault.New(netfault.BadMessage, "empty inventory")
	}

	return nil
}

// InventoryHandler records the items a peer announces.
type InventoryHandler struct {
	Adv Advertiser
}

// A compile time check to ensure InventoryHandler implements netsvc.Handler.
var _ netsvc.Handler = (*InventoryHandler)(nil)

// ProcessMessage processes an Inventory.
func (h *InventoryHandler) ProcessMessage(p netsvc.Peer,
	msg tronwire.Message) error {

	inv, err := castMessage[*tronwire.Inventory](msg)
	if err != nil {
		return err
	}
	if err := checkInvList(&inv.InvList); err != nil {
		return err
	}

	h.Adv.OnInventory(p, inv)

	return nil
}

// FetchInvDataHandler serves the items a peer asks for. Transactions are
// only served if we announced them to the peer. Blocks are served if stored,
// since syncing peers learn their ids from our chain summary.
type FetchInvDataHandler struct {
	Adv   Advertiser
	Chain Chain
	Pool  TxPool
}

// A compile time check to ensure FetchInvDataHandler implements
// netsvc.Handler.
var _ netsvc.Handler = (*FetchInvDataHandler)(nil)

// ProcessMessage processes a FetchInvData.
func (h *FetchInvDataHandler) ProcessMessage(p netsvc.Peer,
	msg tronwire.Message) error {

	req, err := castMessage[*tronwire.FetchInvData](msg)
	if err != nil {
		return err
	}
	if err := checkInvList(&req.InvList); err != nil {
		return err
	}

	if req.Type == tronwire.InvBlock {
		return h.serveBlocks(p, req)
	}

	return h.serveTxs(p, req)
}

func (h *FetchInvDataHandler) serveBlocks(p netsvc.Peer,
	req *tronwire.FetchInvData) error {

	blocks := make([]*tronwire.Block, 0, len(req.Hashes))
	for _, hash := range req.Hashes {
		block, ok := h.Chain.BlockByHash(hash)
		if !ok {
			return netfault.Errorf(netfault.BadMessage,
				"requested unknown block %v", hash)
		}
		blocks = append(blocks, block)
	}

	for _, block := range blocks {
		sendOrLog(p, &tronwire.BlockMsg{Block: *block})
	}

	return nil
}

func (h *FetchInvDataHandler) serveTxs(p netsvc.Peer,
	req *tronwire.FetchInvData) error {

	var txs []*tronwire.Transaction
	for _, hash := range req.Hashes {
		item := advsvc.Item{Type: tronwire.InvTrx, Hash: hash}
		if !h.Adv.WasSpread(p, item) {
			return netfault.Errorf(netfault.BadMessage,
				"requested %v which was not announced", item)
		}

		// A tx that left the pool since we announced it is skipped.
		tx, ok := h.Pool.Tx(hash)
		if !ok {
			log.Debugf("Requested tx %v no longer pooled", hash)
			continue
		}
		txs = append(txs, tx)
	}

	for len(txs) > 0 {
		n := min(len(txs), tronwire.MaxTrxsPerMsg)
		sendOrLog(p, &tronwire.Transactions{Txs: txs[:n]})
		txs = txs[n:]
	}

	return nil
}
