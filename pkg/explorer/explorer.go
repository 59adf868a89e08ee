// Package explorer defines the read/broadcast access to a bitcoin block
// explorer.
package explorer

import "errors"

var (
	// ErrTxNotFound is returned when the explorer doesn't know the tx.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrServiceUnavailable is returned when too many requests failed in a
	// row and the explorer is considered down.
	ErrServiceUnavailable = errors.New("explorer unavailable")
)

// Utxo is an unspent output of an address.
type Utxo struct {
	TxId        string
	Index       uint32
	Value       uint64
	Confirmed   bool
	BlockHeight int
}

// TransactionStatus tells whether and where a tx was mined.
type TransactionStatus struct {
	Confirmed   bool
	BlockHash   string
	BlockHeight int
	BlockTime   int64
}

// Service is a bitcoin block explorer.
type Service interface {
	// GetUnspents returns the unspent outputs of the given address.
	GetUnspents(address string) ([]Utxo, error)
	// GetTransactionHex returns the serialization of the given tx.
	GetTransactionHex(txid string) (string, error)
	// GetTransactionStatus returns ErrTxNotFound for unknown txs.
	GetTransactionStatus(txid string) (*TransactionStatus, error)
	// BroadcastTransaction adds the tx to the mempool and returns its hash.
	BroadcastTransaction(txhex string) (string, error)
	GetBlockHeight() (int, error)
}
