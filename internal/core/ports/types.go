package ports

import "github.com/tdex-network/tdex-p2ptrade/internal/core/domain"

// KeyInfo describes a derived wallet key.
type KeyInfo struct {
	Index   uint32
	PubKey  []byte
	Address string
}

// Utxo is an unspent output of a wallet address.
type Utxo struct {
	TxId      string
	Index     uint32
	Value     uint64
	PkScript  []byte
	Confirmed bool
}

// TxConfidence is what the network knows about a transaction.
type TxConfidence struct {
	Found         bool
	Confirmations uint32
	BlockHeight   uint32
	BlockTime     int64
}

// Output is a plain transaction output.
type Output struct {
	Address string
	Value   uint64
}

type FeeTxArgs struct {
	Funding       domain.AddressEntry
	Fee           uint64
	FeeAddress    string
	DepositAmount uint64
}

type FeeTx struct {
	TxId         string
	Tx           []byte
	DepositInput domain.RawTransactionInput
}

type SelectedInputs struct {
	Inputs        []domain.RawTransactionInput
	ChangeValue   uint64
	ChangeAddress string
}

type DepositTxArgs struct {
	BuyerInputs          []domain.RawTransactionInput
	SellerInputs         []domain.RawTransactionInput
	BuyerChange          Output
	SellerChange         Output
	BuyerMultiSigPubKey  []byte
	SellerMultiSigPubKey []byte
	MultisigValue        uint64
	ContractHash         []byte
}

type DelayedPayoutTxArgs struct {
	DepositTx     []byte
	LockTime      uint32
	RefundAddress string
	TxFee         uint64
}

type PayoutTxArgs struct {
	DepositTx     []byte
	BuyerAddress  string
	BuyerAmount   uint64
	SellerAddress string
	SellerAmount  uint64
}

// MultisigInput identifies the 2-of-2 output spent by the delayed payout and
// payout transactions.
type MultisigInput struct {
	BuyerPubKey  []byte
	SellerPubKey []byte
	Value        uint64
}

type SwapTxArgs struct {
	BuyerInputs  []domain.RawTransactionInput
	SellerInputs []domain.RawTransactionInput
	BuyerPayout  Output
	SellerPayout Output
	BuyerChange  Output
	SellerChange Output
}

// SendResult tells how a message reached the peer.
type SendResult uint8

const (
	SendResultArrived SendResult = iota
	SendResultStoredInMailbox
)

func (r SendResult) String() string {
	if r == SendResultArrived {
		return "arrived"
	}
	return "stored in mailbox"
}
