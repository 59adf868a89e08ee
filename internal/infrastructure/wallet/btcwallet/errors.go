package btcwallet

import "errors"

var (
	// ErrNullNetwork ...
	ErrNullNetwork = errors.New("network params are null")
	// ErrNullSeed ...
	ErrNullSeed = errors.New("seed must not be null")
	// ErrNullDerivationPath ...
	ErrNullDerivationPath = errors.New("derivation path must not be null")
	// ErrMalformedDerivationPath ...
	ErrMalformedDerivationPath = errors.New("malformed derivation path")
	// ErrNullChainService ...
	ErrNullChainService = errors.New("chain service must not be null")

	// ErrKeyMismatch is returned when an address entry doesn't match the key
	// derived at its index.
	ErrKeyMismatch = errors.New("address entry doesn't match derived key")
	// ErrInsufficientFunds ...
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInputNotFound is returned when asked to sign an input that the tx
	// doesn't spend.
	ErrInputNotFound = errors.New("input not found in tx")
	// ErrInvalidSignature ...
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidPubKey ...
	ErrInvalidPubKey = errors.New("invalid public key")
	// ErrDecryptionFailed is returned when a sealed message cannot be opened
	// with the local encryption key.
	ErrDecryptionFailed = errors.New("failed to open sealed message")
)
