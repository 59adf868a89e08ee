package protocol

import (
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// Trigger is what makes a protocol run a task list: a local action, a
// chain observation or, for inbound messages, the message type.
type Trigger string

const (
	TriggerTakeOffer          Trigger = "TakeOffer"
	TriggerPaymentStarted     Trigger = "PaymentStarted"
	TriggerPaymentReceived    Trigger = "PaymentReceived"
	TriggerWithdraw           Trigger = "Withdraw"
	TriggerDepositTxSeen      Trigger = "DepositTxSeen"
	TriggerDepositTxConfirmed Trigger = "DepositTxConfirmed"
	TriggerPayoutTxSeen       Trigger = "PayoutTxSeen"
)

// MessageTrigger returns the trigger of an inbound message type.
func MessageTrigger(msgType domain.MessageType) Trigger {
	return Trigger(msgType)
}

type stepKey struct {
	protocol domain.ProtocolKind
	role     domain.Role
	side     domain.Side
	trigger  Trigger
}

// step is the task list run for a trigger together with the phases, or
// swap states, it is allowed in.
type step struct {
	phases     []domain.Phase
	swapStates []domain.SwapState
	tasks      []Task
}

type checkResult uint8

const (
	checkAllowed checkResult = iota
	// checkEarly means the trade did not reach the step yet.
	checkEarly
	// checkStale means the trade is already past the step.
	checkStale
)

func (s step) check(t *domain.Trade) checkResult {
	if t.Protocol == domain.ProtocolAtomicSwap {
		var max domain.SwapState
		for _, allowed := range s.swapStates {
			if t.SwapState == allowed {
				return checkAllowed
			}
			if allowed > max {
				max = allowed
			}
		}
		if t.SwapState > max {
			return checkStale
		}
		return checkEarly
	}

	phase := t.Phase()
	var max domain.Phase
	for _, allowed := range s.phases {
		if phase == allowed {
			return checkAllowed
		}
		if allowed > max {
			max = allowed
		}
	}
	if phase > max {
		return checkStale
	}
	return checkEarly
}

var (
	anyRole = []domain.Role{domain.RoleMaker, domain.RoleTaker}
	anySide = []domain.Side{domain.SideBuyer, domain.SideSeller}
	maker   = []domain.Role{domain.RoleMaker}
	taker   = []domain.Role{domain.RoleTaker}
	buyer   = []domain.Side{domain.SideBuyer}
	seller  = []domain.Side{domain.SideSeller}

	steps = make(map[stepKey]step)
)

func phases(p ...domain.Phase) []domain.Phase             { return p }
func swapStates(s ...domain.SwapState) []domain.SwapState { return s }
func tasks(t ...Task) []Task                              { return t }

func register(
	kind domain.ProtocolKind, roles []domain.Role, sides []domain.Side,
	trigger Trigger, s step,
) {
	for _, role := range roles {
		for _, side := range sides {
			steps[stepKey{kind, role, side, trigger}] = s
		}
	}
}

func lookupStep(t *domain.Trade, trigger Trigger) (step, bool) {
	s, ok := steps[stepKey{t.Protocol, t.Role, t.Side, trigger}]
	return s, ok
}

// TaskNames returns the names of the tasks run by the given kind of trade
// for the given trigger, in order.
func TaskNames(t *domain.Trade, trigger Trigger) ([]string, bool) {
	s, ok := lookupStep(t, trigger)
	if !ok {
		return nil, false
	}
	return NewTaskRunner(s.tasks...).Names(), true
}

func init() {
	registerMultisigSteps()
	registerSwapSteps()
}

func registerMultisigSteps() {
	ms := domain.ProtocolMultisig

	register(ms, taker, anySide, TriggerTakeOffer, step{
		phases: phases(domain.PhaseInit),
		tasks: tasks(
			createTakerFeeTx,
			takerReservesFundsForTrade,
			takerCreatesDepositTxInputs,
			takerPublishFeeTx,
			takerSendsInputsForDepositTxRequest,
		),
	})

	register(ms, maker, buyer, MessageTrigger(domain.MsgInputsForDepositTxRequest), step{
		phases: phases(domain.PhaseInit),
		tasks: tasks(
			makerProcessesInputsForDepositTxRequest,
			makerVerifyTakerFeePayment,
			makerSetsLockTime,
			makerCreateAndSignContract,
			buyerAsMakerCreatesAndSignsDepositTx,
			buyerSetupDepositTxListener,
			makerSendsInputsForDepositTxResponse,
		),
	})
	register(ms, maker, seller, MessageTrigger(domain.MsgInputsForDepositTxRequest), step{
		phases: phases(domain.PhaseInit),
		tasks: tasks(
			makerProcessesInputsForDepositTxRequest,
			makerVerifyTakerFeePayment,
			makerSetsLockTime,
			makerCreateAndSignContract,
			sellerAsMakerCreatesUnsignedDepositTx,
			makerSendsInputsForDepositTxResponse,
		),
	})

	register(ms, taker, buyer, MessageTrigger(domain.MsgInputsForDepositTxResponse), step{
		phases: phases(domain.PhaseTakerFeePublished),
		tasks: tasks(
			takerProcessesInputsForDepositTxResponse,
			takerVerifyAndSignContract,
			buyerAsTakerSignsDepositTx,
			buyerSetupDepositTxListener,
			buyerAsTakerSendsDepositTxMessage,
		),
	})
	register(ms, taker, seller, MessageTrigger(domain.MsgInputsForDepositTxResponse), step{
		phases: phases(domain.PhaseTakerFeePublished),
		tasks: tasks(
			takerProcessesInputsForDepositTxResponse,
			takerVerifyAndSignContract,
			sellerAsTakerSignsDepositTx,
			sellerCreatesDelayedPayoutTx,
			sellerSignsDelayedPayoutTx,
			sellerSendsDelayedPayoutTxSignatureRequest,
		),
	})

	register(ms, maker, seller, MessageTrigger(domain.MsgDepositTx), step{
		phases: phases(domain.PhaseTakerFeePublished),
		tasks: tasks(
			sellerAsMakerProcessDepositTxMessage,
			makerVerifiesTakerContractSignature,
			sellerAsMakerFinalizesDepositTx,
			sellerCreatesDelayedPayoutTx,
			sellerSignsDelayedPayoutTx,
			sellerSendsDelayedPayoutTxSignatureRequest,
		),
	})

	register(ms, maker, buyer, MessageTrigger(domain.MsgDelayedPayoutTxSignatureRequest), step{
		phases: phases(domain.PhaseTakerFeePublished),
		tasks: tasks(
			buyerProcessDelayedPayoutTxSignatureRequest,
			makerVerifiesTakerContractSignature,
			buyerVerifiesPreparedDelayedPayoutTx,
			buyerSignsDelayedPayoutTx,
			buyerFinalizesDelayedPayoutTx,
			buyerSendsShareBuyerPaymentAccountMessage,
			buyerSendsDelayedPayoutTxSignatureResponse,
		),
	})
	register(ms, taker, buyer, MessageTrigger(domain.MsgDelayedPayoutTxSignatureRequest), step{
		phases: phases(domain.PhaseTakerFeePublished),
		tasks: tasks(
			buyerProcessDelayedPayoutTxSignatureRequest,
			buyerVerifiesPreparedDelayedPayoutTx,
			buyerSignsDelayedPayoutTx,
			buyerFinalizesDelayedPayoutTx,
			buyerSendsShareBuyerPaymentAccountMessage,
			buyerSendsDelayedPayoutTxSignatureResponse,
		),
	})

	register(ms, anyRole, seller, MessageTrigger(domain.MsgShareBuyerPaymentAccount), step{
		phases: phases(domain.PhaseTakerFeePublished),
		tasks:  tasks(sellerProcessShareBuyerPaymentAccountMessage),
	})
	register(ms, anyRole, seller, MessageTrigger(domain.MsgDelayedPayoutTxSignatureResponse), step{
		phases: phases(domain.PhaseTakerFeePublished),
		tasks: tasks(
			sellerProcessDelayedPayoutTxSignatureResponse,
			sellerFinalizesDelayedPayoutTx,
			sellerPublishesDepositTx,
			sellerSetupDepositTxListener,
			sellerSendsDepositTxAndDelayedPayoutTxMessage,
		),
	})

	register(ms, anyRole, buyer, MessageTrigger(domain.MsgDepositTxAndDelayedPayoutTx), step{
		phases: phases(
			domain.PhaseTakerFeePublished,
			domain.PhaseDepositPublished,
			domain.PhaseDepositConfirmed,
		),
		tasks: tasks(
			buyerProcessDepositTxAndDelayedPayoutTxMessage,
			buyerVerifiesFinalDelayedPayoutTx,
		),
	})

	register(ms, anyRole, anySide, TriggerDepositTxSeen, step{
		phases: phases(domain.PhaseTakerFeePublished, domain.PhaseDepositPublished),
		tasks:  tasks(processDepositTxSeen),
	})
	register(ms, anyRole, anySide, TriggerDepositTxConfirmed, step{
		phases: phases(domain.PhaseTakerFeePublished, domain.PhaseDepositPublished),
		tasks:  tasks(processDepositTxSeen, processDepositTxConfirmed),
	})

	register(ms, anyRole, buyer, TriggerPaymentStarted, step{
		phases: phases(domain.PhaseDepositConfirmed),
		tasks: tasks(
			buyerSignsPayoutTx,
			buyerSetupPayoutTxListener,
			buyerSendsCounterCurrencyTransferStartedMessage,
		),
	})
	register(ms, anyRole, seller, MessageTrigger(domain.MsgCounterCurrencyTransferStarted), step{
		phases: phases(
			domain.PhaseDepositPublished,
			domain.PhaseDepositConfirmed,
			domain.PhaseFiatSent,
		),
		tasks: tasks(sellerProcessCounterCurrencyTransferStartedMessage),
	})

	register(ms, anyRole, seller, TriggerPaymentReceived, step{
		phases: phases(domain.PhaseFiatSent),
		tasks: tasks(
			sellerSignsAndFinalizesPayoutTx,
			sellerBroadcastsPayoutTx,
			sellerSendsPayoutTxPublishedMessage,
		),
	})
	register(ms, anyRole, buyer, MessageTrigger(domain.MsgPayoutTxPublished), step{
		phases: phases(domain.PhaseFiatSent, domain.PhasePayoutPublished),
		tasks:  tasks(buyerProcessPayoutTxPublishedMessage),
	})
	register(ms, anyRole, buyer, TriggerPayoutTxSeen, step{
		phases: phases(domain.PhaseFiatSent, domain.PhasePayoutPublished),
		tasks:  tasks(processPayoutTxSeen),
	})

	register(ms, anyRole, anySide, TriggerWithdraw, step{
		phases: phases(domain.PhasePayoutPublished),
		tasks:  tasks(withdrawFunds, setWithdrawCompleted),
	})
}

func registerSwapSteps() {
	swap := domain.ProtocolAtomicSwap

	register(swap, taker, anySide, TriggerTakeOffer, step{
		swapStates: swapStates(domain.SwapStatePreparation),
		tasks:      tasks(takerCreatesSwapInputs, takerSendsSwapTxRequest),
	})
	register(swap, maker, anySide, MessageTrigger(domain.MsgSwapTxRequest), step{
		swapStates: swapStates(domain.SwapStatePreparation),
		tasks: tasks(
			makerProcessesSwapTxRequest,
			makerCreatesAndSignsSwapTx,
			makerSendsSwapTxResponse,
		),
	})
	register(swap, taker, anySide, MessageTrigger(domain.MsgSwapTxResponse), step{
		swapStates: swapStates(domain.SwapStateTxRequested),
		tasks: tasks(
			takerProcessesSwapTxResponse,
			takerSignsAndPublishesSwapTx,
			takerSendsSwapTxPublishedMessage,
			setSwapCompleted,
		),
	})
	register(swap, maker, anySide, MessageTrigger(domain.MsgSwapTxPublished), step{
		swapStates: swapStates(domain.SwapStateTxSignedByMaker),
		tasks:      tasks(makerProcessesSwapTxPublishedMessage, setSwapCompleted),
	})
}
