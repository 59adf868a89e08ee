package domain

import "fmt"

// Phase groups trade states into coarse protocol stages.
type Phase uint8

const (
	PhaseInit Phase = iota
	PhaseTakerFeePublished
	PhaseDepositPublished
	PhaseDepositConfirmed
	PhaseFiatSent
	PhaseFiatReceived
	PhasePayoutPublished
	PhaseWithdrawn
)

var phaseNames = map[Phase]string{
	PhaseInit:              "INIT",
	PhaseTakerFeePublished: "TAKER_FEE_PUBLISHED",
	PhaseDepositPublished:  "DEPOSIT_PUBLISHED",
	PhaseDepositConfirmed:  "DEPOSIT_CONFIRMED",
	PhaseFiatSent:          "FIAT_SENT",
	PhaseFiatReceived:      "FIAT_RECEIVED",
	PhasePayoutPublished:   "PAYOUT_PUBLISHED",
	PhaseWithdrawn:         "WITHDRAWN",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// State is the fine grained position of a trade in the multisig protocol.
// States are declared in protocol order, the ordinal is used to enforce
// monotonic progress.
type State uint8

const (
	StatePreparation State = iota

	StateTakerPublishedTakerFeeTx
	StateMakerReceivedInputsForDepositTxRequest
	StateMakerSentInputsForDepositTxResponse
	StateMakerSawArrivedInputsForDepositTxResponse
	StateMakerStoredInMailboxInputsForDepositTxResponse
	StateMakerSendFailedInputsForDepositTxResponse
	StateTakerReceivedInputsForDepositTxResponse
	StateSellerSentDelayedPayoutTxSignatureRequest
	StateBuyerReceivedDelayedPayoutTxSignatureRequest
	StateBuyerSentDelayedPayoutTxSignatureResponse
	StateSellerReceivedDelayedPayoutTxSignatureResponse

	StateSellerPublishedDepositTx
	StateSellerSentDepositTxPublishedMsg
	StateSellerSawArrivedDepositTxPublishedMsg
	StateSellerStoredInMailboxDepositTxPublishedMsg
	StateSellerSendFailedDepositTxPublishedMsg
	StateBuyerReceivedDepositTxPublishedMsg
	StateBuyerSawDepositTxInNetwork

	StateDepositConfirmedInBlockChain

	StateBuyerConfirmedInUIFiatPaymentInitiated
	StateBuyerSentFiatPaymentInitiatedMsg
	StateBuyerSawArrivedFiatPaymentInitiatedMsg
	StateBuyerStoredInMailboxFiatPaymentInitiatedMsg
	StateBuyerSendFailedFiatPaymentInitiatedMsg
	StateSellerReceivedFiatPaymentInitiatedMsg

	StateSellerConfirmedInUIFiatPaymentReceipt

	StateSellerPublishedPayoutTx
	StateSellerSentPayoutTxPublishedMsg
	StateSellerSawArrivedPayoutTxPublishedMsg
	StateSellerStoredInMailboxPayoutTxPublishedMsg
	StateSellerSendFailedPayoutTxPublishedMsg
	StateBuyerReceivedPayoutTxPublishedMsg
	StateBuyerSawPayoutTxInNetwork

	StateWithdrawCompleted
)

type stateInfo struct {
	name  string
	phase Phase
}

var states = map[State]stateInfo{
	StatePreparation: {"PREPARATION", PhaseInit},

	StateTakerPublishedTakerFeeTx:                       {"TAKER_PUBLISHED_TAKER_FEE_TX", PhaseTakerFeePublished},
	StateMakerReceivedInputsForDepositTxRequest:         {"MAKER_RECEIVED_INPUTS_FOR_DEPOSIT_TX_REQUEST", PhaseTakerFeePublished},
	StateMakerSentInputsForDepositTxResponse:            {"MAKER_SENT_INPUTS_FOR_DEPOSIT_TX_RESPONSE", PhaseTakerFeePublished},
	StateMakerSawArrivedInputsForDepositTxResponse:      {"MAKER_SAW_ARRIVED_INPUTS_FOR_DEPOSIT_TX_RESPONSE", PhaseTakerFeePublished},
	StateMakerStoredInMailboxInputsForDepositTxResponse: {"MAKER_STORED_IN_MAILBOX_INPUTS_FOR_DEPOSIT_TX_RESPONSE", PhaseTakerFeePublished},
	StateMakerSendFailedInputsForDepositTxResponse:      {"MAKER_SEND_FAILED_INPUTS_FOR_DEPOSIT_TX_RESPONSE", PhaseTakerFeePublished},
	StateTakerReceivedInputsForDepositTxResponse:        {"TAKER_RECEIVED_INPUTS_FOR_DEPOSIT_TX_RESPONSE", PhaseTakerFeePublished},
	StateSellerSentDelayedPayoutTxSignatureRequest:      {"SELLER_SENT_DELAYED_PAYOUT_TX_SIGNATURE_REQUEST", PhaseTakerFeePublished},
	StateBuyerReceivedDelayedPayoutTxSignatureRequest:   {"BUYER_RECEIVED_DELAYED_PAYOUT_TX_SIGNATURE_REQUEST", PhaseTakerFeePublished},
	StateBuyerSentDelayedPayoutTxSignatureResponse:      {"BUYER_SENT_DELAYED_PAYOUT_TX_SIGNATURE_RESPONSE", PhaseTakerFeePublished},
	StateSellerReceivedDelayedPayoutTxSignatureResponse: {"SELLER_RECEIVED_DELAYED_PAYOUT_TX_SIGNATURE_RESPONSE", PhaseTakerFeePublished},

	StateSellerPublishedDepositTx:                   {"SELLER_PUBLISHED_DEPOSIT_TX", PhaseDepositPublished},
	StateSellerSentDepositTxPublishedMsg:            {"SELLER_SENT_DEPOSIT_TX_PUBLISHED_MSG", PhaseDepositPublished},
	StateSellerSawArrivedDepositTxPublishedMsg:      {"SELLER_SAW_ARRIVED_DEPOSIT_TX_PUBLISHED_MSG", PhaseDepositPublished},
	StateSellerStoredInMailboxDepositTxPublishedMsg: {"SELLER_STORED_IN_MAILBOX_DEPOSIT_TX_PUBLISHED_MSG", PhaseDepositPublished},
	StateSellerSendFailedDepositTxPublishedMsg:      {"SELLER_SEND_FAILED_DEPOSIT_TX_PUBLISHED_MSG", PhaseDepositPublished},
	StateBuyerReceivedDepositTxPublishedMsg:         {"BUYER_RECEIVED_DEPOSIT_TX_PUBLISHED_MSG", PhaseDepositPublished},
	StateBuyerSawDepositTxInNetwork:                 {"BUYER_SAW_DEPOSIT_TX_IN_NETWORK", PhaseDepositPublished},

	StateDepositConfirmedInBlockChain: {"DEPOSIT_CONFIRMED_IN_BLOCK_CHAIN", PhaseDepositConfirmed},

	StateBuyerConfirmedInUIFiatPaymentInitiated:      {"BUYER_CONFIRMED_IN_UI_FIAT_PAYMENT_INITIATED", PhaseFiatSent},
	StateBuyerSentFiatPaymentInitiatedMsg:            {"BUYER_SENT_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateBuyerSawArrivedFiatPaymentInitiatedMsg:      {"BUYER_SAW_ARRIVED_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateBuyerStoredInMailboxFiatPaymentInitiatedMsg: {"BUYER_STORED_IN_MAILBOX_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateBuyerSendFailedFiatPaymentInitiatedMsg:      {"BUYER_SEND_FAILED_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateSellerReceivedFiatPaymentInitiatedMsg:       {"SELLER_RECEIVED_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},

	StateSellerConfirmedInUIFiatPaymentReceipt: {"SELLER_CONFIRMED_IN_UI_FIAT_PAYMENT_RECEIPT", PhaseFiatReceived},

	StateSellerPublishedPayoutTx:                   {"SELLER_PUBLISHED_PAYOUT_TX", PhasePayoutPublished},
	StateSellerSentPayoutTxPublishedMsg:            {"SELLER_SENT_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateSellerSawArrivedPayoutTxPublishedMsg:      {"SELLER_SAW_ARRIVED_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateSellerStoredInMailboxPayoutTxPublishedMsg: {"SELLER_STORED_IN_MAILBOX_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateSellerSendFailedPayoutTxPublishedMsg:      {"SELLER_SEND_FAILED_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateBuyerReceivedPayoutTxPublishedMsg:         {"BUYER_RECEIVED_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateBuyerSawPayoutTxInNetwork:                 {"BUYER_SAW_PAYOUT_TX_IN_NETWORK", PhasePayoutPublished},

	StateWithdrawCompleted: {"WITHDRAW_COMPLETED", PhaseWithdrawn},
}

func (s State) String() string {
	if info, ok := states[s]; ok {
		return info.name
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Phase returns the phase the state belongs to.
func (s State) Phase() Phase {
	return states[s].phase
}

// IsValid tells whether the state is one of the declared ones.
func (s State) IsValid() bool {
	_, ok := states[s]
	return ok
}

// ParseState returns the state matching the given name.
func ParseState(name string) (State, error) {
	for s, info := range states {
		if info.name == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownState, name)
}

// firstStateOfPhase returns the lowest ordinal state of the given phase.
func firstStateOfPhase(p Phase) State {
	first := StateWithdrawCompleted
	for s, info := range states {
		if info.phase == p && s < first {
			first = s
		}
	}
	return first
}

// SwapState is the position of an atomic swap trade.
type SwapState uint8

const (
	SwapStatePreparation SwapState = iota
	SwapStateTxRequested
	SwapStateTxSignedByMaker
	SwapStateTxPublished
	SwapStateCompleted
)

var swapStateNames = map[SwapState]string{
	SwapStatePreparation:     "SWAP_PREPARATION",
	SwapStateTxRequested:     "SWAP_TX_REQUESTED",
	SwapStateTxSignedByMaker: "SWAP_TX_SIGNED_BY_MAKER",
	SwapStateTxPublished:     "SWAP_TX_PUBLISHED",
	SwapStateCompleted:       "SWAP_COMPLETED",
}

func (s SwapState) String() string {
	if n, ok := swapStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("SwapState(%d)", uint8(s))
}

// DisputeState tracks mediation and arbitration of a trade.
type DisputeState uint8

const (
	DisputeStateNone DisputeState = iota
	DisputeStateMediationRequested
	DisputeStateMediationStartedByPeer
	DisputeStateMediationClosed
	DisputeStateRefundRequested
	DisputeStateRefundRequestStartedByPeer
	DisputeStateRefundRequestClosed
)

var disputeStateNames = map[DisputeState]string{
	DisputeStateNone:                       "NO_DISPUTE",
	DisputeStateMediationRequested:         "MEDIATION_REQUESTED",
	DisputeStateMediationStartedByPeer:     "MEDIATION_STARTED_BY_PEER",
	DisputeStateMediationClosed:            "MEDIATION_CLOSED",
	DisputeStateRefundRequested:            "REFUND_REQUESTED",
	DisputeStateRefundRequestStartedByPeer: "REFUND_REQUEST_STARTED_BY_PEER",
	DisputeStateRefundRequestClosed:        "REFUND_REQUEST_CLOSED",
}

func (s DisputeState) String() string {
	if n, ok := disputeStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("DisputeState(%d)", uint8(s))
}

// IsOpen tells whether a mediation or a refund request is in progress.
func (s DisputeState) IsOpen() bool {
	switch s {
	case DisputeStateMediationRequested, DisputeStateMediationStartedByPeer,
		DisputeStateRefundRequested, DisputeStateRefundRequestStartedByPeer:
		return true
	}
	return false
}

// TradePeriodState tells how much of the max trade period has elapsed.
type TradePeriodState uint8

const (
	TradePeriodFirstHalf TradePeriodState = iota
	TradePeriodSecondHalf
	TradePeriodOver
)

var periodStateNames = map[TradePeriodState]string{
	TradePeriodFirstHalf:  "FIRST_HALF",
	TradePeriodSecondHalf: "SECOND_HALF",
	TradePeriodOver:       "TRADE_PERIOD_OVER",
}

func (s TradePeriodState) String() string {
	if n, ok := periodStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("TradePeriodState(%d)", uint8(s))
}
