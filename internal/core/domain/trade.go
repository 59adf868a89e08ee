package domain

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var satsPerBtc = decimal.NewFromInt(100_000_000)

// NewTrade returns a trade in PREPARATION for the given offer. The trade id is
// the offer id, hence an offer can back at most one trade.
func NewTrade(info TradeInfo) *Trade {
	side := info.Offer.MakerSide()
	if info.Role == RoleTaker {
		side = side.Opposite()
	}
	now := info.Now
	if now.IsZero() {
		now = time.Now()
	}

	return &Trade{
		Id:              info.Offer.Id,
		Uid:             uuid.New().String(),
		OfferId:         info.Offer.Id,
		Offer:           info.Offer,
		Protocol:        info.Offer.Protocol,
		Role:            info.Role,
		Side:            side,
		List:            TradeListPending,
		State:           StatePreparation,
		SwapState:       SwapStatePreparation,
		Amount:          info.Amount,
		Price:           info.Price,
		TxFee:           info.TxFee,
		TakerFee:        info.TakerFee,
		TakeOfferDate:   now.Unix(),
		PeerNodeAddress: info.PeerNodeAddress,
		ProcessModel: ProcessModel{
			OfferId:       info.Offer.Id,
			AccountId:     info.AccountId,
			PubKeyRing:    info.PubKeyRing,
			MyNodeAddress: info.MyNodeAddress,
			TradePeer: TradePeer{
				NodeAddress: info.PeerNodeAddress,
			},
			MessageStates: make(map[MessageType]MessageState),
		},
	}
}

// TypeName returns the discriminator of the concrete trade kind, eg.
// BuyerAsTakerTrade.
func (t *Trade) TypeName() string {
	name := fmt.Sprintf("%sAs%sTrade", t.Side, t.Role)
	if t.Protocol == ProtocolAtomicSwap {
		return "AtomicSwap" + name
	}
	return name
}

func (t *Trade) IsBuyer() bool  { return t.Side == SideBuyer }
func (t *Trade) IsSeller() bool { return t.Side == SideSeller }
func (t *Trade) IsMaker() bool  { return t.Role == RoleMaker }
func (t *Trade) IsTaker() bool  { return t.Role == RoleTaker }

// Phase returns the phase of the current state.
func (t *Trade) Phase() Phase {
	return t.State.Phase()
}

// SetStateIfValidTransitionTo moves the trade to the given state unless it is
// behind the first state of the current phase. Moving back within the same
// phase is allowed, it happens when a resent message changes its delivery
// status.
func (t *Trade) SetStateIfValidTransitionTo(s State) bool {
	if s < firstStateOfPhase(t.State.Phase()) {
		return false
	}
	t.State = s
	return true
}

// SetStateIfProgress moves the trade to the given state only if it is not
// behind the current one.
func (t *Trade) SetStateIfProgress(s State) bool {
	if s < t.State {
		return false
	}
	t.State = s
	return true
}

// SetSwapState moves an atomic swap trade forward.
func (t *Trade) SetSwapState(s SwapState) bool {
	if s < t.SwapState {
		return false
	}
	t.SwapState = s
	return true
}

// SetPeriodState moves the trade period state forward.
func (t *Trade) SetPeriodState(s TradePeriodState) bool {
	if s <= t.PeriodState {
		return false
	}
	t.PeriodState = s
	return true
}

// SetDisputeState ...
func (t *Trade) SetDisputeState(s DisputeState) {
	t.DisputeState = s
}

// SetContract stores the agreed contract. It can be set only once.
func (t *Trade) SetContract(c *Contract, contractAsJson string, hash []byte) error {
	if t.ContractAsJson != "" {
		if t.ContractAsJson != contractAsJson {
			return fmt.Errorf("%w: contract", ErrArtifactAlreadySet)
		}
		return nil
	}
	t.Contract = c
	t.ContractAsJson = contractAsJson
	t.ContractHash = hash
	return nil
}

// SetLockTime ...
func (t *Trade) SetLockTime(lockTime uint32) error {
	if t.LockTime != 0 && t.LockTime != lockTime {
		return fmt.Errorf("%w: lock time", ErrArtifactAlreadySet)
	}
	t.LockTime = lockTime
	return nil
}

// SetDepositTx stores the fully signed deposit transaction.
func (t *Trade) SetDepositTx(txid string, tx []byte) error {
	if t.DepositTxId != "" {
		if t.DepositTxId != txid {
			return fmt.Errorf("%w: deposit tx", ErrArtifactAlreadySet)
		}
		return nil
	}
	t.DepositTxId = txid
	t.DepositTx = tx
	return nil
}

// SetDelayedPayoutTx stores the fully signed time-locked refund transaction.
func (t *Trade) SetDelayedPayoutTx(tx []byte) error {
	if len(t.DelayedPayoutTx) > 0 {
		if !bytes.Equal(t.DelayedPayoutTx, tx) {
			return fmt.Errorf("%w: delayed payout tx", ErrArtifactAlreadySet)
		}
		return nil
	}
	t.DelayedPayoutTx = tx
	return nil
}

// SetPayoutTx stores the cooperative payout transaction.
func (t *Trade) SetPayoutTx(txid string, tx []byte) error {
	if t.PayoutTxId != "" {
		if t.PayoutTxId != txid {
			return fmt.Errorf("%w: payout tx", ErrArtifactAlreadySet)
		}
		return nil
	}
	t.PayoutTxId = txid
	t.PayoutTx = tx
	return nil
}

// SetSwapTx stores the atomic swap transaction.
func (t *Trade) SetSwapTx(txid string, tx []byte) error {
	if t.SwapTxId != "" {
		if t.SwapTxId != txid {
			return fmt.Errorf("%w: swap tx", ErrArtifactAlreadySet)
		}
		return nil
	}
	t.SwapTxId = txid
	t.SwapTx = tx
	return nil
}

// IsDepositPublished tells whether the deposit tx reached the network.
func (t *Trade) IsDepositPublished() bool {
	if t.Protocol == ProtocolAtomicSwap {
		return t.SwapState >= SwapStateTxPublished
	}
	return t.State.Phase() >= PhaseDepositPublished
}

// IsPayoutPublished ...
func (t *Trade) IsPayoutPublished() bool {
	return t.PayoutTxId != "" || t.State.Phase() >= PhasePayoutPublished
}

// IsFundsLockedIn tells whether the multisig output of the trade still holds
// the funds of both parties.
func (t *Trade) IsFundsLockedIn() bool {
	if t.Protocol == ProtocolAtomicSwap {
		return false
	}
	if t.DepositTxId == "" || !t.IsDepositPublished() {
		return false
	}
	if t.IsPayoutPublished() {
		return false
	}
	return t.DisputeState != DisputeStateRefundRequestClosed
}

// IsCompleted tells whether the trade reached its terminal success state.
func (t *Trade) IsCompleted() bool {
	if t.Protocol == ProtocolAtomicSwap {
		return t.SwapState == SwapStateCompleted
	}
	return t.State == StateWithdrawCompleted
}

// Volume returns the amount of counter currency exchanged.
func (t *Trade) Volume() decimal.Decimal {
	return decimal.NewFromInt(int64(t.Amount)).Div(satsPerBtc).Mul(t.Price)
}

// CounterAmount returns the satoshis the buyer of an atomic swap pays to the
// seller, that is amount times price.
func (t *Trade) CounterAmount() uint64 {
	return uint64(decimal.NewFromInt(int64(t.Amount)).Mul(t.Price).IntPart())
}

// MultisigOutputValue returns the value locked in the 2-of-2 output: trade
// amount, both security deposits and the fee reserved for the payout tx.
func (t *Trade) MultisigOutputValue() uint64 {
	return t.Amount + t.Offer.BuyerSecurityDeposit + t.Offer.SellerSecurityDeposit + t.TxFee
}

// BuyerPayoutAmount ...
func (t *Trade) BuyerPayoutAmount() uint64 {
	return t.Amount + t.Offer.BuyerSecurityDeposit
}

// SellerPayoutAmount ...
func (t *Trade) SellerPayoutAmount() uint64 {
	return t.Offer.SellerSecurityDeposit
}

// OwnDepositContribution returns how much the local party funds the deposit
// tx with. The taker pays the mining fees of both the deposit and the payout
// transactions.
func (t *Trade) OwnDepositContribution() uint64 {
	amount := t.Offer.BuyerSecurityDeposit
	if t.IsSeller() {
		amount = t.Offer.SellerSecurityDeposit + t.Amount
	}
	if t.IsTaker() {
		amount += 2 * t.TxFee
	}
	return amount
}

// OwnSwapContribution returns how much the local party funds the swap tx
// with. The taker pays its mining fee.
func (t *Trade) OwnSwapContribution() uint64 {
	amount := t.CounterAmount()
	if t.IsSeller() {
		amount = t.Amount
	}
	if t.IsTaker() {
		amount += t.TxFee
	}
	return amount
}

// MaxTradePeriodDate returns the deadline of the trade, counted from the
// deposit publication. It is zero until the deposit is published.
func (t *Trade) MaxTradePeriodDate() time.Time {
	if t.DepositPublishedAt == 0 {
		return time.Time{}
	}
	return time.Unix(t.DepositPublishedAt, 0).Add(t.Offer.MaxTradePeriod)
}

// HalfTradePeriodDate ...
func (t *Trade) HalfTradePeriodDate() time.Time {
	if t.DepositPublishedAt == 0 {
		return time.Time{}
	}
	return time.Unix(t.DepositPublishedAt, 0).Add(t.Offer.MaxTradePeriod / 2)
}

// MessageState returns the delivery status of the given outgoing message type.
func (t *Trade) MessageState(msgType MessageType) (MessageState, bool) {
	s, ok := t.ProcessModel.MessageStates[msgType]
	return s, ok
}
