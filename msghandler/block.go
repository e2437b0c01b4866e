package msghandler

import (
	"github.com/tronnode/tnd/advsvc"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

// BlockHandler stores blocks delivered by peers and announces new ones.
type BlockHandler struct {
	Chain Chain
	Adv   Advertiser
	Sync  Syncer
}

// A compile time check to ensure BlockHandler implements netsvc.Handler.
var _ netsvc.Handler = (*BlockHandler)(nil)

// ProcessMessage processes a BlockMsg. Only blocks we requested, either
// while syncing or after an announcement, are accepted. An announced block
// that does not link to our chain means the peer is ahead of us, so we sync
// with it instead of punishing it.
func (h *BlockHandler) ProcessMessage(p netsvc.Peer,
	msg tronwire.Message) error {

	blockMsg, err := castMessage[*tronwire.BlockMsg](msg)
	if err != nil {
		return err
	}

	block := &blockMsg.Block
	id := block.ID()
	item := advsvc.Item{Type: tronwire.InvBlock, Hash: id.Hash}

	fromSync := h.Sync.BlockReceived(p, id.Hash)
	if !fromSync && !h.Adv.Fulfilled(p, item) {
		return netfault.Errorf(netfault.BadMessage,
			"block %v was not requested", id)
	}

	added, err := h.Chain.AddBlock(block)
	fault, isFault := netfault.As(err)
	switch {
	case !fromSync && isFault && fault.Kind == netfault.UnlinkableBlock:
		log.Debugf("Unlinkable block %v from %v, syncing with it", id,
			p.RemoteAddr())
		h.Sync.MarkNeedSync(p)

		return nil

	case err != nil:
		return err
	}
	if !added {
		log.Tracef("Block %v from %v already known", id,
			p.RemoteAddr())
		return nil
	}

	log.Debugf("Accepted block %v from %v", id, p.RemoteAddr())

	h.Adv.Broadcast(item)

	return nil
}
