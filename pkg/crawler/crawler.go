// Package crawler periodically polls the chain for the status of the
// transactions it is asked to observe and emits an event when one of them is
// first seen and when it gets confirmed.
package crawler

import "context"

// TxStatus is what the chain knows about a transaction.
type TxStatus struct {
	Found         bool
	Confirmations uint32
	BlockHeight   uint32
	BlockTime     int64
}

// ChainSource returns the status of a transaction.
type ChainSource interface {
	GetTxStatus(ctx context.Context, txid string) (TxStatus, error)
}

// ChainSourceFunc adapts a plain function to the ChainSource interface.
type ChainSourceFunc func(ctx context.Context, txid string) (TxStatus, error)

func (f ChainSourceFunc) GetTxStatus(
	ctx context.Context, txid string,
) (TxStatus, error) {
	return f(ctx, txid)
}

// Event are emitted through a channel during observation.
type Event interface {
	Type() EventType
}

// Observable represent object that can be observe on the blockchain.
type Observable interface {
	// observe polls the chain once and returns the event to emit, if any, and
	// whether the observation is over.
	observe(ctx context.Context, source ChainSource) (Event, bool, error)
	Key() string
}

// Service is the interface for Crawler
type Service interface {
	Start()
	Stop()
	AddObservable(observable Observable)
	RemoveObservable(key string)
	IsObserving(key string) bool
	GetEventChannel() <-chan Event
}
