package msghandler

import (
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

// SyncBlockChainHandler answers a peer's sync request with the ids of the
// blocks following the newest block we share.
type SyncBlockChainHandler struct {
	Chain Chain
}

// A compile time check to ensure SyncBlockChainHandler implements
// netsvc.Handler.
var _ netsvc.Handler = (*SyncBlockChainHandler)(nil)

// ProcessMessage answers a SyncBlockChain with a ChainInventory.
func (h *SyncBlockChainHandler) ProcessMessage(p netsvc.Peer,
	msg tronwire.Message) error {

	req, err := castMessage[*tronwire.SyncBlockChain](msg)
	if err != nil {
		return err
	}

	locator := req.Locator
	if len(locator) == 0 {
		return netfault.New(netfault.SyncFailed, "empty locator")
	}
	for i := 1; i < len(locator); i++ {
		if locator[i].Num <= locator[i-1].Num {
			return netfault.Errorf(netfault.SyncFailed,
				"locator not ascending at %v", locator[i])
		}
	}

	ids, remain, err := h.Chain.ChainSummary(locator)
	if err != nil {
		return err
	}

	log.Debugf("Answering sync from %v with %d ids, %d remain",
		p.RemoteAddr(), len(ids), remain)

	sendOrLog(p, &tronwire.ChainInventory{
		Blocks:    ids,
		RemainNum: remain,
	})

	return nil
}

// ChainInventoryHandler hands a peer's answer to our sync request to the
// sync service.
type ChainInventoryHandler struct {
	Sync Syncer
}

// A compile time check to ensure ChainInventoryHandler implements
// netsvc.Handler.
var _ netsvc.Handler = (*ChainInventoryHandler)(nil)

// ProcessMessage processes a ChainInventory.
func (h *ChainInventoryHandler) ProcessMessage(p netsvc.Peer,
	msg tronwire.Message) error {

	inv, err := castMessage[*tronwire.ChainInventory](msg)
	if err != nil {
		return err
	}

	return h.Sync.OnChainInventory(p, inv)
}
