package msghandler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/tronnode/tnd/advsvc"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
	"golang.org/x/time/rate"
)

const (
	// DefaultTxWorkers is the default number of transaction validators.
	DefaultTxWorkers = 4

	// DefaultTxRate is the default number of transactions validated per
	// second across all workers.
	DefaultTxRate = 2000

	// DefaultTxQueueSize bounds the transactions waiting for validation.
	DefaultTxQueueSize = 10_000
)

// ErrTxQueueFull is returned by Enqueue when the validation backlog is full.
var ErrTxQueueFull = errors.New("transaction queue full")

// TransactionsConfig holds the settings and dependencies of the
// transactions handler.
type TransactionsConfig struct {
	Pool TxPool
	Adv  Advertiser

	// Workers is the number of validation goroutines.
	Workers int

	// Rate limits validations per second. Burst equals Workers.
	Rate float64

	// QueueSize bounds the validation backlog.
	QueueSize int
}

// txJob is one transaction waiting for validation.
type txJob struct {
	peer netsvc.Peer
	msg  *tronwire.Transactions
	tx   *tronwire.Transaction
}

// TransactionsHandler accepts requested transactions from peers and
// validates them on a rate limited worker pool. Validation faults surface
// after ProcessMessage returned and are passed to the fault reporter.
type TransactionsHandler struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg TransactionsConfig

	// reportFault is set once before Init.
	reportFault FaultReporter

	jobs    chan txJob
	limiter *rate.Limiter
	gm      *fn.GoroutineManager

	// dropped counts transactions discarded because the backlog was full.
	dropped atomic.Uint64
}

// A compile time check to ensure TransactionsHandler implements
// netsvc.Handler and netsvc.Lifecycle.
var (
	_ netsvc.Handler   = (*TransactionsHandler)(nil)
	_ netsvc.Lifecycle = (*TransactionsHandler)(nil)
)

// NewTransactionsHandler creates a transactions handler.
func NewTransactionsHandler(cfg TransactionsConfig) *TransactionsHandler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultTxWorkers
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultTxRate
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultTxQueueSize
	}

	return &TransactionsHandler{
		cfg:     cfg,
		jobs:    make(chan txJob, cfg.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Workers),
		gm:      fn.NewGoroutineManager(),
	}
}

// SetFaultReporter sets where asynchronous validation faults go.
func (h *TransactionsHandler) SetFaultReporter(f FaultReporter) {
	h.reportFault = f
}

// Init starts the validation workers.
func (h *TransactionsHandler) Init() error {
	if !h.started.CompareAndSwap(false, true) {
		return nil
	}
	if h.reportFault == nil {
		return errors.New("no fault reporter")
	}

	log.Infof("Transactions handler starting %d workers at %v tx/s",
		h.cfg.Workers, h.cfg.Rate)

	for i := 0; i < h.cfg.Workers; i++ {
		if !h.gm.Go(context.Background(), h.worker) {
			return fmt.Errorf("unable to start tx worker %d", i)
		}
	}

	return nil
}

// Close stops the validation workers. Transactions still queued are
// dropped.
func (h *TransactionsHandler) Close() error {
	if !h.started.Load() || !h.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Infof("Transactions handler shutting down, %d txs left queued, "+
		"%d dropped", len(h.jobs), h.dropped.Load())

	h.gm.Stop()

	return nil
}

// ProcessMessage checks that every transaction was requested from p and
// queues the batch for validation.
func (h *TransactionsHandler) ProcessMessage(p netsvc.Peer,
	msg tronwire.Message) error {

	txsMsg, err := castMessage[*tronwire.Transactions](msg)
	if err != nil {
		return err
	}

	for _, tx := range txsMsg.Txs {
		item := advsvc.Item{Type: tronwire.InvTrx, Hash: tx.TxHash()}
		if !h.cfg.Adv.Fulfilled(p, item) {
			return netfault.Errorf(netfault.BadMessage,
				"%v was not requested", item)
		}
	}

	for _, tx := range txsMsg.Txs {
		err := h.enqueue(txJob{peer: p, msg: txsMsg, tx: tx})
		if err != nil {
			h.dropped.Add(1)
			log.Warnf("Dropping tx %v from %v: %v", tx.TxHash(),
				p.RemoteAddr(), err)
		}
	}

	return nil
}

func (h *TransactionsHandler) enqueue(job txJob) error {
	select {
	case h.jobs <- job:
		return nil
	default:
		return ErrTxQueueFull
	}
}

// worker validates queued transactions at the configured rate.
func (h *TransactionsHandler) worker(ctx context.Context) {
	for {
		select {
		case job := <-h.jobs:
			if err := h.limiter.Wait(ctx); err != nil {
				return
			}
			h.validate(job)

		case <-ctx.Done():
			return
		}
	}
}

// validate pools one transaction and announces it if new.
func (h *TransactionsHandler) validate(job txJob) {
	hash := job.tx.TxHash()

	added, err := h.cfg.Pool.Add(job.tx)
	if err != nil {
		// Errors other than faults, such as a full pool, are local
		// limits and not the peer's doing.
		if _, ok := netfault.As(err); !ok {
			log.Debugf("Skipping tx %v: %v", hash, err)
			return
		}

		h.reportFault(job.peer, job.msg, err)

		return
	}

	if !added {
		return
	}

	log.Tracef("Pooled tx %v from %v", hash, job.peer.RemoteAddr())

	h.cfg.Adv.Broadcast(advsvc.Item{Type: tronwire.InvTrx, Hash: hash})
}
