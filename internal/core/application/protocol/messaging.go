package protocol

import (
	"time"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/delivery"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// deliverySubStates maps the delivery status of the outgoing messages that
// have dedicated trade states.
var deliverySubStates = map[domain.MessageType]map[domain.MessageStatus]domain.State{
	domain.MsgInputsForDepositTxResponse: {
		domain.MessageStatusSent:            domain.StateMakerSentInputsForDepositTxResponse,
		domain.MessageStatusArrived:         domain.StateMakerSawArrivedInputsForDepositTxResponse,
		domain.MessageStatusAcknowledged:    domain.StateMakerSawArrivedInputsForDepositTxResponse,
		domain.MessageStatusStoredInMailbox: domain.StateMakerStoredInMailboxInputsForDepositTxResponse,
		domain.MessageStatusFailed:          domain.StateMakerSendFailedInputsForDepositTxResponse,
	},
	domain.MsgDepositTxAndDelayedPayoutTx: {
		domain.MessageStatusSent:            domain.StateSellerSentDepositTxPublishedMsg,
		domain.MessageStatusArrived:         domain.StateSellerSawArrivedDepositTxPublishedMsg,
		domain.MessageStatusAcknowledged:    domain.StateSellerSawArrivedDepositTxPublishedMsg,
		domain.MessageStatusStoredInMailbox: domain.StateSellerStoredInMailboxDepositTxPublishedMsg,
		domain.MessageStatusFailed:          domain.StateSellerSendFailedDepositTxPublishedMsg,
	},
	domain.MsgCounterCurrencyTransferStarted: {
		domain.MessageStatusSent:            domain.StateBuyerSentFiatPaymentInitiatedMsg,
		domain.MessageStatusArrived:         domain.StateBuyerSawArrivedFiatPaymentInitiatedMsg,
		domain.MessageStatusAcknowledged:    domain.StateBuyerSawArrivedFiatPaymentInitiatedMsg,
		domain.MessageStatusStoredInMailbox: domain.StateBuyerStoredInMailboxFiatPaymentInitiatedMsg,
		domain.MessageStatusFailed:          domain.StateBuyerSendFailedFiatPaymentInitiatedMsg,
	},
	domain.MsgPayoutTxPublished: {
		domain.MessageStatusSent:            domain.StateSellerSentPayoutTxPublishedMsg,
		domain.MessageStatusArrived:         domain.StateSellerSawArrivedPayoutTxPublishedMsg,
		domain.MessageStatusAcknowledged:    domain.StateSellerSawArrivedPayoutTxPublishedMsg,
		domain.MessageStatusStoredInMailbox: domain.StateSellerStoredInMailboxPayoutTxPublishedMsg,
		domain.MessageStatusFailed:          domain.StateSellerSendFailedPayoutTxPublishedMsg,
	},
	domain.MsgDelayedPayoutTxSignatureRequest: {
		domain.MessageStatusSent: domain.StateSellerSentDelayedPayoutTxSignatureRequest,
	},
	domain.MsgDelayedPayoutTxSignatureResponse: {
		domain.MessageStatusSent: domain.StateBuyerSentDelayedPayoutTxSignatureResponse,
	},
}

// applyMessageState records the delivery state of an outgoing message and
// moves the trade to the matching sub-state. A sub-state can replace another
// sub-state of the same message, otherwise the trade only moves forward.
func applyMessageState(
	t *domain.Trade, msgType domain.MessageType, state domain.MessageState,
) {
	t.ProcessModel.SetMessageState(msgType, state)

	subStates, ok := deliverySubStates[msgType]
	if !ok {
		return
	}
	target, ok := subStates[state.Status]
	if !ok {
		return
	}
	if t.State <= target || isSubStateOf(subStates, t.State) {
		t.SetStateIfValidTransitionTo(target)
	}
}

func isSubStateOf(
	subStates map[domain.MessageStatus]domain.State, s domain.State,
) bool {
	for _, subState := range subStates {
		if subState == s {
			return true
		}
	}
	return false
}

// sendMessage delivers a message to the trade peer through the reliability
// layer. Background resend cycles report back to the protocol goroutine.
func sendMessage(tc *TaskContext, msg domain.TradeMessage) error {
	svc := tc.Provider.Delivery
	msgType := msg.Type()
	policy := svc.Policy(msgType)

	if subStates, ok := deliverySubStates[msgType]; ok {
		if sent, ok := subStates[domain.MessageStatusSent]; ok {
			tc.Trade.SetStateIfProgress(sent)
		}
	}

	req := delivery.Request{
		Peer:           tc.Trade.PeerNodeAddress,
		PeerPubKeyRing: tc.Peer().PubKeyRing,
		Message:        msg,
	}
	if policy.IsTracked() && !policy.AwaitAck && tc.protocol != nil {
		req.OnStateChange = tc.protocol.deliveryCallback(msgType)
	}

	state, err := svc.Send(tc.Ctx, req)
	if !policy.IsTracked() {
		state.Envelope = nil
	}
	applyMessageState(tc.Trade, msgType, state)
	return err
}

// stopResending interrupts the background resend cycle of the given
// message type, if any.
func stopResending(tc *TaskContext, msgType domain.MessageType) {
	state, ok := tc.Trade.MessageState(msgType)
	if !ok {
		return
	}
	tc.Provider.Delivery.Stop(state.Uid)
}

func newMessageBase(tc *TaskContext, msgType domain.MessageType) domain.MessageBase {
	return domain.NewMessageBase(
		tc.Trade.Id, tc.Model().MyNodeAddress, msgType,
	)
}

func now() int64 {
	return time.Now().Unix()
}
