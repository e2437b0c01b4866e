package tnd

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tronnode/tnd/advsvc"
	"github.com/tronnode/tnd/chainsync"
	"github.com/tronnode/tnd/chanmgr"
	"github.com/tronnode/tnd/memchain"
	"github.com/tronnode/tnd/msghandler"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/peer"
	"github.com/tronnode/tnd/peercheck"
	"github.com/tronnode/tnd/tronwire"
)

// server is the node: the chain, the networking subsystems and the network
// service coordinating them.
type server struct {
	started  atomic.Bool
	shutdown atomic.Bool

	cfg *Config

	chain *memchain.Chain

	connMgr   *chanmgr.Manager
	adv       *advsvc.Service
	sync      *chainsync.Service
	checker   *peercheck.Checker
	txHandler *msghandler.TransactionsHandler

	netSvc *netsvc.Service
}

// newServer assembles the node. The listeners are owned by the server from
// here on.
func newServer(cfg *Config, listeners []net.Listener,
	reg prometheus.Registerer, clk clock.Clock) (*server, error) {

	s := &server{
		cfg:   cfg,
		chain: memchain.New(clk, cfg.Workers.PoolSize),
	}

	s.connMgr = chanmgr.New(chanmgr.Config{
		Listeners:    listeners,
		Dial:         dial,
		MaxPeers:     cfg.P2P.MaxPeers,
		BanThreshold: cfg.P2P.BanThreshold,
		BanDuration:  cfg.P2P.BanDuration,
		PingInterval: cfg.P2P.PingInterval,
		PingTimeout:  cfg.P2P.PingTimeout,
		Clock:        clk,
	})

	s.adv = advsvc.New(advsvc.Config{
		Have: func(item advsvc.Item) bool {
			return s.chain.Have(item.Type, item.Hash)
		},
		FetchTicker:   ticker.New(cfg.Adv.FetchInterval),
		Clock:         clk,
		PeerCacheSize: cfg.Adv.PeerCacheSize,
	})

	s.sync = chainsync.New(chainsync.Config{
		Chain:             s.chain,
		SyncTicker:        ticker.New(cfg.Sync.Interval),
		Clock:             clk,
		MaxBlocksInFlight: cfg.Sync.MaxBlocksInFlight,
	})

	s.checker = peercheck.New(peercheck.Config{
		Peers: s.checkedPeers,
		Trackers: []peercheck.Tracker{
			{
				Name:     "sync",
				Requests: s.sync,
				Timeout:  cfg.PeerCheck.SyncTimeout,
				Reason:   tronwire.ReasonSyncFail,
			},
			{
				Name:     "fetch",
				Requests: s.adv,
				Timeout:  cfg.PeerCheck.FetchTimeout,
				Reason:   tronwire.ReasonUnknown,
			},
		},
		IdleTimeout: cfg.PeerCheck.IdleTimeout,
		Ticker:      ticker.New(cfg.PeerCheck.Interval),
		Clock:       clk,
	})

	s.txHandler = msghandler.NewTransactionsHandler(
		msghandler.TransactionsConfig{
			Pool:      s.chain.Pool(),
			Adv:       s.adv,
			Workers:   cfg.Workers.Tx,
			Rate:      cfg.Workers.TxRate,
			QueueSize: cfg.Workers.TxQueue,
		},
	)

	chainInv := &msghandler.ChainInventoryHandler{Sync: s.sync}
	handlers := netsvc.HandlerTable{
		tronwire.MsgSyncBlockChain: &msghandler.SyncBlockChainHandler{
			Chain: s.chain,
		},
		tronwire.MsgBlockChainInventory: chainInv,
		tronwire.MsgInventory: &msghandler.InventoryHandler{
			Adv: s.adv,
		},
		tronwire.MsgFetchInvData: &msghandler.FetchInvDataHandler{
			Adv:   s.adv,
			Chain: s.chain,
			Pool:  s.chain.Pool(),
		},
		tronwire.MsgBlock: &msghandler.BlockHandler{
			Chain: s.chain,
			Adv:   s.adv,
			Sync:  s.sync,
		},
		tronwire.MsgTrxs: s.txHandler,
	}

	netSvc, err := netsvc.New(netsvc.Config{
		ChannelManager:  s.connMgr,
		AdvService:      s.adv,
		SyncService:     s.sync,
		PeerStatusCheck: s.checker,
		TxHandler:       s.txHandler,
		Handlers:        handlers,
		DrainTimeout:    cfg.P2P.DrainTimeout,
		Clock:           clk,
		Registerer:      reg,
	})
	if err != nil {
		return nil, err
	}
	s.netSvc = netSvc

	s.connMgr.SetMessageSink(netSvc)
	s.connMgr.SubscribePeerAdded(s.peerAdded)
	s.connMgr.SubscribePeerGone(s.peerGone)
	s.txHandler.SetFaultReporter(netSvc.ReportFault)

	return s, nil
}

// Start starts the network service and dials the configured peers.
func (s *server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	srvrLog.Infof("Starting server at chain head %v", s.chain.Head())

	if err := s.netSvc.Start(); err != nil {
		return err
	}

	for _, addr := range s.cfg.ConnectPeers {
		if err := s.connMgr.Connect(addr, true); err != nil {
			return fmt.Errorf("unable to connect to %v: %w", addr,
				err)
		}
	}

	return nil
}

// Stop stops the network service. It is safe to call Stop on a server that
// failed to start.
func (s *server) Stop() error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	srvrLog.Infof("Stopping server at chain head %v", s.chain.Head())

	return s.netSvc.Stop()
}

// peerAdded creates the per-peer state of the services before p starts
// delivering messages.
func (s *server) peerAdded(p *peer.Peer) {
	s.adv.AddPeer(p)
	s.sync.AddPeer(p)
}

// peerGone drops every piece of per-peer state once p disconnected.
func (s *server) peerGone(p *peer.Peer) {
	s.adv.RemovePeer(p)
	s.sync.RemovePeer(p)

	reason := p.DisconnectReason().UnwrapOr(tronwire.ReasonUnknown)
	srvrLog.Debugf("Peer %v gone: %v", p, reason)
}

// checkedPeers returns the connected peers as seen by the liveness check.
func (s *server) checkedPeers() []peercheck.Peer {
	peers := s.connMgr.Peers()
	result := make([]peercheck.Peer, 0, len(peers))
	for _, p := range peers {
		result = append(result, p)
	}

	return result
}
