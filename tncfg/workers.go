package tncfg

import "fmt"

const (
	// DefaultTxWorkers is the default number of transaction validators.
	DefaultTxWorkers = 4

	// DefaultTxRate is the default number of transactions validated per
	// second.
	DefaultTxRate = 2000

	// DefaultTxQueue is the default transaction validation backlog.
	DefaultTxQueue = 10_000

	// DefaultPoolSize is the default number of pooled transactions.
	DefaultPoolSize = 50_000
)

// Workers exposes CLI configuration for tuning the transaction validation
// pool.
//
//nolint:lll
type Workers struct {
	// Tx is the number of concurrent transaction validators.
	Tx int `long:"tx" description:"Maximum number of concurrent transaction validators."`

	// TxRate is the number of transactions validated per second.
	TxRate float64 `long:"txrate" description:"Maximum number of transactions validated per second."`

	// TxQueue bounds the transactions waiting for validation.
	TxQueue int `long:"txqueue" description:"Maximum number of transactions waiting for validation."`

	// PoolSize bounds the transactions waiting for a block.
	PoolSize int `long:"poolsize" description:"Maximum number of pooled transactions."`
}

// Validate checks that every worker option is positive.
func (w *Workers) Validate() error {
	switch {
	case w.Tx <= 0:
		return fmt.Errorf("number of tx workers should be greater "+
			"than 0, got %d", w.Tx)

	case w.TxRate <= 0:
		return fmt.Errorf("tx rate should be greater than 0, got %v",
			w.TxRate)

	case w.TxQueue <= 0 || w.PoolSize <= 0:
		return fmt.Errorf("tx queue and pool size should be greater " +
			"than 0")
	}

	return nil
}
