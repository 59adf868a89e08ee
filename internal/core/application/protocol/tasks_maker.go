package protocol

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/pkg/txutil"
)

var makerProcessesInputsForDepositTxRequest = task("MakerProcessesInputsForDepositTxRequest", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.InputsForDepositTxRequest](tc)
	if err != nil {
		return err
	}
	t := tc.Trade
	p := tc.Provider

	if !t.Offer.IsAmountInRange(msg.TradeAmount) {
		return domain.ErrInvalidAmount
	}
	t.Amount = msg.TradeAmount
	t.Price = msg.TradePrice
	t.TxFee = msg.TxFee
	t.TakerFee = msg.TakerFee

	if msg.TakerFeeTxId == "" {
		return fmt.Errorf("%w: missing taker fee tx id", ErrInvalidMessage)
	}
	if len(msg.RawTransactionInputs) <= 0 {
		return fmt.Errorf("%w: missing taker inputs", ErrInvalidMessage)
	}
	if sumInputs(msg.RawTransactionInputs) < peerDepositContribution(t)+msg.ChangeOutputValue {
		return fmt.Errorf("%w: taker inputs don't cover its contribution", ErrInvalidMessage)
	}
	if err := validatePubKey(msg.TakerMultiSigPubKey); err != nil {
		return err
	}
	if err := validateAddress(tc, msg.TakerPayoutAddress); err != nil {
		return err
	}
	if msg.ChangeOutputValue > 0 {
		if err := validateAddress(tc, msg.ChangeOutputAddress); err != nil {
			return err
		}
	}
	if msg.TakerPubKeyRing.IsEmpty() {
		return fmt.Errorf("%w: missing taker pubkey ring", ErrInvalidMessage)
	}
	if len(msg.TakerPaymentAccountPayloadHash) <= 0 {
		return fmt.Errorf("%w: missing taker payment account", ErrInvalidMessage)
	}
	for _, agent := range []domain.DisputeAgent{msg.Mediator, msg.RefundAgent} {
		if !p.Disputes.IsAcceptedAgent(agent) {
			return fmt.Errorf("%w: %s", ErrAgentNotAccepted, agent.NodeAddress)
		}
	}
	if err := validateAddress(tc, msg.RefundAgent.PayoutAddress); err != nil {
		return err
	}

	peer := tc.Peer()
	peer.PubKeyRing = msg.TakerPubKeyRing
	peer.AccountId = msg.TakerAccountId
	peer.PaymentAccountPayloadHash = msg.TakerPaymentAccountPayloadHash
	peer.MultiSigPubKey = msg.TakerMultiSigPubKey
	peer.PayoutAddress = msg.TakerPayoutAddress
	peer.RawTransactionInputs = msg.RawTransactionInputs
	peer.ChangeOutputValue = msg.ChangeOutputValue
	peer.ChangeOutputAddress = msg.ChangeOutputAddress
	peer.CurrentDate = msg.CurrentDate

	pm := tc.Model()
	pm.Mediator, pm.RefundAgent = msg.Mediator, msg.RefundAgent
	t.MediatorNodeAddress = msg.Mediator.NodeAddress
	t.RefundAgentNodeAddress = msg.RefundAgent.NodeAddress
	t.TakerFeeTxId = msg.TakerFeeTxId

	t.SetStateIfProgress(domain.StateMakerReceivedInputsForDepositTxRequest)
	return reserveFunding(tc)
})

var makerVerifyTakerFeePayment = nonFatalTask("MakerVerifyTakerFeePayment", func(tc *TaskContext) error {
	t := tc.Trade
	raw, err := tc.Provider.Chain.GetTransaction(tc.Ctx, t.TakerFeeTxId)
	if err != nil {
		return err
	}
	feeTx, err := txutil.Decode(raw)
	if err != nil {
		return err
	}
	if feeTx.TxId != t.TakerFeeTxId {
		return fmt.Errorf("%w: unexpected taker fee tx %s", ErrInvalidTx, feeTx.TxId)
	}
	for _, in := range tc.Peer().RawTransactionInputs {
		if in.ParentTxId != feeTx.TxId || int(in.Index) >= len(feeTx.Outputs) {
			return fmt.Errorf("%w: taker input is not funded by fee tx", ErrInvalidTx)
		}
		if feeTx.Outputs[in.Index].Value != in.Value {
			return fmt.Errorf("%w: taker input value mismatch", ErrInvalidTx)
		}
	}
	return nil
})

var makerSetsLockTime = task("MakerSetsLockTime", func(tc *TaskContext) error {
	height, err := tc.Provider.Chain.GetBlockHeight(tc.Ctx)
	if err != nil {
		return err
	}
	return tc.Trade.SetLockTime(height + tc.Provider.Config.LockTimeDelta)
})

var makerCreateAndSignContract = task("MakerCreateAndSignContract", func(tc *TaskContext) error {
	t := tc.Trade
	if tc.Model().PaymentAccountPayload == nil {
		return ErrMissingPaymentAccount
	}
	if err := reserveTradeKeys(tc); err != nil {
		return err
	}

	contract := buildContract(t)
	contractAsJson, err := contract.JSON()
	if err != nil {
		return err
	}
	sig, err := tc.Provider.KeyRing.Sign([]byte(contractAsJson))
	if err != nil {
		return err
	}
	if err := t.SetContract(
		contract, contractAsJson, domain.ContractHash(contractAsJson),
	); err != nil {
		return err
	}
	t.MakerContractSignature = sig
	return nil
})

var buyerAsMakerCreatesAndSignsDepositTx = task("BuyerAsMakerCreatesAndSignsDepositTx", func(tc *TaskContext) error {
	t := tc.Trade
	if err := selectOwnInputs(tc, t.OwnDepositContribution()); err != nil {
		return err
	}
	tx, err := tc.Provider.TradeWallet.CreateDepositTx(tc.Ctx, depositTxArgs(t))
	if err != nil {
		return err
	}
	signed, err := signOwnInputs(tc, tx)
	if err != nil {
		return err
	}
	tc.Model().PreparedDepositTx = signed
	return nil
})

var sellerAsMakerCreatesUnsignedDepositTx = task("SellerAsMakerCreatesUnsignedDepositTx", func(tc *TaskContext) error {
	t := tc.Trade
	if err := selectOwnInputs(tc, t.OwnDepositContribution()); err != nil {
		return err
	}
	tx, err := tc.Provider.TradeWallet.CreateDepositTx(tc.Ctx, depositTxArgs(t))
	if err != nil {
		return err
	}
	tc.Model().PreparedDepositTx = tx
	return nil
})

var makerSendsInputsForDepositTxResponse = task("MakerSendsInputsForDepositTxResponse", func(tc *TaskContext) error {
	t := tc.Trade
	pm := tc.Model()

	return sendMessage(tc, &domain.InputsForDepositTxResponse{
		MessageBase:                    newMessageBase(tc, domain.MsgInputsForDepositTxResponse),
		MakerAccountId:                 pm.AccountId,
		MakerPaymentAccountPayloadHash: pm.PaymentAccountPayload.Hash(),
		MakerMultiSigPubKey:            pm.MyMultiSigPubKey,
		MakerPayoutAddress:             pm.PayoutAddress,
		MakerContractAsJson:            t.ContractAsJson,
		MakerContractSignature:         t.MakerContractSignature,
		PreparedDepositTx:              pm.PreparedDepositTx,
		MakerInputs:                    pm.RawTransactionInputs,
		LockTime:                       t.LockTime,
		CurrentDate:                    now(),
	})
})

var sellerAsMakerProcessDepositTxMessage = task("SellerAsMakerProcessDepositTxMessage", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.DepositTxMessage](tc)
	if err != nil {
		return err
	}
	same, err := sameTx(msg.DepositTx, tc.Model().PreparedDepositTx)
	if err != nil {
		return err
	}
	if !same {
		return fmt.Errorf("%w: deposit tx differs from the prepared one", ErrInvalidTx)
	}
	tx, err := txutil.Decode(msg.DepositTx)
	if err != nil {
		return err
	}
	if err := verifyOwnInputs(tx, tc.Peer().RawTransactionInputs); err != nil {
		return err
	}
	tc.Model().PreparedDepositTx = msg.DepositTx
	return nil
})

// makerVerifiesTakerContractSignature checks the taker signed the same
// contract the maker did. It runs before the maker gives the taker anything
// that lets the deposit be published.
var makerVerifiesTakerContractSignature = task("MakerVerifiesTakerContractSignature", func(tc *TaskContext) error {
	var sig []byte
	switch msg := tc.Message.(type) {
	case *domain.DepositTxMessage:
		sig = msg.TakerContractSignature
	case *domain.DelayedPayoutTxSignatureRequest:
		sig = msg.TakerContractSignature
	default:
		return fmt.Errorf("%w: unexpected %T", ErrInvalidMessage, tc.Message)
	}

	t := tc.Trade
	if len(sig) <= 0 {
		return fmt.Errorf("%w: missing taker contract signature", ErrInvalidContract)
	}
	if t.ContractAsJson == "" {
		return fmt.Errorf("%w: missing contract", ErrInvalidContract)
	}
	if err := tc.Provider.KeyRing.Verify(
		tc.Peer().PubKeyRing.SignaturePubKey, []byte(t.ContractAsJson), sig,
	); err != nil {
		return fmt.Errorf("%w: taker signature: %s", ErrInvalidContract, err)
	}
	t.TakerContractSignature = sig
	tc.Peer().ContractSignature = sig
	return nil
})

var sellerAsMakerFinalizesDepositTx = task("SellerAsMakerFinalizesDepositTx", func(tc *TaskContext) error {
	signed, err := signOwnInputs(tc, tc.Model().PreparedDepositTx)
	if err != nil {
		return err
	}
	tx, err := txutil.Decode(signed)
	if err != nil {
		return err
	}
	if !tx.IsFullySigned() {
		return fmt.Errorf("%w: deposit tx is not fully signed", ErrInvalidTx)
	}
	tc.Model().PreparedDepositTx = signed

	log.Debugf("deposit tx %s of trade %s finalized", tx.TxId, tc.Trade.Id)
	return nil
})
