package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role tells whether the local party created the offer or took it.
type Role uint8

const (
	RoleMaker Role = iota
	RoleTaker
)

func (r Role) String() string {
	if r == RoleMaker {
		return "Maker"
	}
	return "Taker"
}

// Side tells whether the local party buys or sells BTC.
type Side uint8

const (
	SideBuyer Side = iota
	SideSeller
)

func (s Side) String() string {
	if s == SideBuyer {
		return "Buyer"
	}
	return "Seller"
}

// Opposite returns the side of the counterparty.
func (s Side) Opposite() Side {
	if s == SideBuyer {
		return SideSeller
	}
	return SideBuyer
}

// ProtocolKind distinguishes the 2-of-2 multisig protocol from the single
// transaction atomic swap.
type ProtocolKind uint8

const (
	ProtocolMultisig ProtocolKind = iota
	ProtocolAtomicSwap
)

func (p ProtocolKind) String() string {
	if p == ProtocolAtomicSwap {
		return "AtomicSwap"
	}
	return "Multisig"
}

// TradeList is the collection a trade currently belongs to.
type TradeList uint8

const (
	TradeListPending TradeList = iota
	TradeListClosed
	TradeListFailed
	TradeListSwap
)

var tradeListNames = map[TradeList]string{
	TradeListPending: "pending",
	TradeListClosed:  "closed",
	TradeListFailed:  "failed",
	TradeListSwap:    "swap",
}

func (l TradeList) String() string {
	return tradeListNames[l]
}

// ParseTradeList returns the list matching the given name.
func ParseTradeList(name string) (TradeList, bool) {
	for l, n := range tradeListNames {
		if n == name {
			return l, true
		}
	}
	return 0, false
}

// Trade is the aggregate of one negotiation between a maker and a taker.
type Trade struct {
	Id       string
	Uid      string
	OfferId  string
	Offer    Offer
	Protocol ProtocolKind
	Role     Role
	Side     Side
	List     TradeList

	State        State
	SwapState    SwapState
	DisputeState DisputeState
	PeriodState  TradePeriodState

	Amount   uint64
	Price    decimal.Decimal
	TxFee    uint64
	TakerFee uint64

	TakeOfferDate      int64
	DepositPublishedAt int64

	PeerNodeAddress        NodeAddress
	MediatorNodeAddress    NodeAddress
	RefundAgentNodeAddress NodeAddress

	Contract               *Contract
	ContractAsJson         string
	ContractHash           []byte
	MakerContractSignature []byte
	TakerContractSignature []byte

	LockTime        uint32
	TakerFeeTxId    string
	DepositTxId     string
	DepositTx       []byte
	DelayedPayoutTx []byte
	PayoutTxId      string
	PayoutTx        []byte
	SwapTxId        string
	SwapTx          []byte
	WithdrawTxId    string

	CounterCurrencyTxId      string
	CounterCurrencyExtraData string

	ErrorMessage string
	ProcessModel ProcessModel
}

// TradeInfo is the minimal trade descriptor used when a trade must be built
// before all its data is known.
type TradeInfo struct {
	Offer           Offer
	Role            Role
	Amount          uint64
	Price           decimal.Decimal
	TxFee           uint64
	TakerFee        uint64
	PeerNodeAddress NodeAddress
	MyNodeAddress   NodeAddress
	PubKeyRing      PubKeyRing
	AccountId       string
	Now             time.Time
}
