package ports

import (
	"context"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// Keychain derives the keys backing the address entries of the wallet.
type Keychain interface {
	DeriveKey(index uint32) (KeyInfo, error)
}

// TradeWallet builds and signs the transactions of the trade protocols. It
// never broadcasts, that is the job of the ChainService.
type TradeWallet interface {
	// CreateFeeTx pays the taker fee and reserves an output of exactly
	// DepositAmount that funds the taker side of the deposit tx.
	CreateFeeTx(ctx context.Context, args FeeTxArgs) (*FeeTx, error)
	// SelectInputs selects funds of the given entry covering amount.
	SelectInputs(
		ctx context.Context, funding domain.AddressEntry, amount uint64,
	) (*SelectedInputs, error)
	CreateDepositTx(ctx context.Context, args DepositTxArgs) ([]byte, error)
	// SignInputs adds the witnesses of the given inputs, owned by the
	// funding entry, to the tx.
	SignInputs(
		ctx context.Context, tx []byte,
		inputs []domain.RawTransactionInput, funding domain.AddressEntry,
	) ([]byte, error)
	CreateDelayedPayoutTx(
		ctx context.Context, args DelayedPayoutTxArgs,
	) ([]byte, error)
	CreatePayoutTx(ctx context.Context, args PayoutTxArgs) ([]byte, error)
	SignMultisigInput(
		ctx context.Context, tx []byte, in MultisigInput, key domain.AddressEntry,
	) ([]byte, error)
	VerifyMultisigSignature(
		tx []byte, in MultisigInput, pubkey, sig []byte,
	) error
	FinalizeMultisigTx(
		tx []byte, in MultisigInput, buyerSig, sellerSig []byte,
	) ([]byte, error)
	CreateSwapTx(ctx context.Context, args SwapTxArgs) ([]byte, error)
	CreateWithdrawalTx(
		ctx context.Context, from domain.AddressEntry, toAddress string,
	) ([]byte, error)
}

// ChainService gives access to the bitcoin network.
type ChainService interface {
	GetUnspents(ctx context.Context, address string) ([]Utxo, error)
	GetTransaction(ctx context.Context, txid string) ([]byte, error)
	GetTxConfidence(ctx context.Context, txid string) (TxConfidence, error)
	BroadcastTransaction(ctx context.Context, tx []byte) (string, error)
	GetBlockHeight(ctx context.Context) (uint32, error)
}
