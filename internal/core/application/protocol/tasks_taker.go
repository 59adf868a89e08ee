package protocol

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
)

var createTakerFeeTx = task("CreateTakerFeeTx", func(tc *TaskContext) error {
	t := tc.Trade
	p := tc.Provider

	funding, err := p.Wallet.FindAddressEntry(tc.Ctx, t.Id, domain.AddressContextOfferFunding)
	if err != nil {
		return err
	}
	amount := t.OwnDepositContribution()
	feeTx, err := p.TradeWallet.CreateFeeTx(tc.Ctx, ports.FeeTxArgs{
		Funding:       *funding,
		Fee:           t.TakerFee,
		FeeAddress:    p.Config.FeeAddress,
		DepositAmount: amount,
	})
	if err != nil {
		return err
	}

	pm := tc.Model()
	pm.TakeOfferFeeTxId = feeTx.TxId
	pm.TakeOfferFeeTx = feeTx.Tx
	pm.FundsNeededForTrade = amount
	pm.RawTransactionInputs = []domain.RawTransactionInput{feeTx.DepositInput}
	t.TakerFeeTxId = feeTx.TxId
	return nil
})

var takerReservesFundsForTrade = task("TakerReservesFundsForTrade", reserveFunding)

var takerCreatesDepositTxInputs = task("TakerCreatesDepositTxInputs", func(tc *TaskContext) error {
	pm := tc.Model()
	if len(pm.RawTransactionInputs) != 1 {
		return fmt.Errorf("missing deposit input of taker fee tx")
	}
	input := pm.RawTransactionInputs[0]
	if input.ParentTxId != pm.TakeOfferFeeTxId || input.Value != pm.FundsNeededForTrade {
		return fmt.Errorf("taker fee tx doesn't fund the deposit tx")
	}
	pm.ChangeOutputValue = 0
	pm.ChangeOutputAddress = ""

	return reserveTradeKeys(tc)
})

var takerPublishFeeTx = task("TakerPublishFeeTx", func(tc *TaskContext) error {
	t := tc.Trade
	txid, err := tc.Provider.Chain.BroadcastTransaction(tc.Ctx, tc.Model().TakeOfferFeeTx)
	if err != nil {
		return err
	}
	if txid != t.TakerFeeTxId {
		return fmt.Errorf("%w: broadcast fee tx %s, expected %s", ErrInvalidTx, txid, t.TakerFeeTxId)
	}
	t.SetStateIfProgress(domain.StateTakerPublishedTakerFeeTx)

	log.Infof("published taker fee tx %s for trade %s", txid, t.Id)
	return nil
})

var takerSendsInputsForDepositTxRequest = task("TakerSendsInputsForDepositTxRequest", func(tc *TaskContext) error {
	t := tc.Trade
	pm := tc.Model()
	p := tc.Provider

	if pm.PaymentAccountPayload == nil {
		return ErrMissingPaymentAccount
	}

	mediator, err := p.Disputes.SelectMediator(t.Id)
	if err != nil {
		return err
	}
	refundAgent, err := p.Disputes.SelectRefundAgent(t.Id)
	if err != nil {
		return err
	}
	pm.Mediator, pm.RefundAgent = mediator, refundAgent
	t.MediatorNodeAddress = mediator.NodeAddress
	t.RefundAgentNodeAddress = refundAgent.NodeAddress

	return sendMessage(tc, &domain.InputsForDepositTxRequest{
		MessageBase:                    newMessageBase(tc, domain.MsgInputsForDepositTxRequest),
		TradeAmount:                    t.Amount,
		TradePrice:                     t.Price,
		TxFee:                          t.TxFee,
		TakerFee:                       t.TakerFee,
		TakerFeeTxId:                   t.TakerFeeTxId,
		RawTransactionInputs:           pm.RawTransactionInputs,
		ChangeOutputValue:              pm.ChangeOutputValue,
		ChangeOutputAddress:            pm.ChangeOutputAddress,
		TakerMultiSigPubKey:            pm.MyMultiSigPubKey,
		TakerPayoutAddress:             pm.PayoutAddress,
		TakerPubKeyRing:                pm.PubKeyRing,
		TakerAccountId:                 pm.AccountId,
		TakerPaymentAccountPayloadHash: pm.PaymentAccountPayload.Hash(),
		Mediator:                       mediator,
		RefundAgent:                    refundAgent,
		CurrentDate:                    now(),
	})
})

var takerProcessesInputsForDepositTxResponse = task("TakerProcessesInputsForDepositTxResponse", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.InputsForDepositTxResponse](tc)
	if err != nil {
		return err
	}
	t := tc.Trade

	if err := validatePubKey(msg.MakerMultiSigPubKey); err != nil {
		return err
	}
	if err := validateAddress(tc, msg.MakerPayoutAddress); err != nil {
		return err
	}
	if len(msg.MakerInputs) <= 0 {
		return fmt.Errorf("%w: missing maker inputs", ErrInvalidMessage)
	}
	if sumInputs(msg.MakerInputs) < peerDepositContribution(t) {
		return fmt.Errorf("%w: maker inputs don't cover its contribution", ErrInvalidMessage)
	}
	if msg.MakerContractAsJson == "" || len(msg.MakerContractSignature) <= 0 {
		return fmt.Errorf("%w: missing maker contract", ErrInvalidMessage)
	}
	if len(msg.PreparedDepositTx) <= 0 {
		return fmt.Errorf("%w: missing prepared deposit tx", ErrInvalidMessage)
	}

	height, err := tc.Provider.Chain.GetBlockHeight(tc.Ctx)
	if err != nil {
		return err
	}
	if msg.LockTime <= height {
		return fmt.Errorf(
			"%w: lock time %d is not in the future (height %d)",
			ErrInvalidMessage, msg.LockTime, height,
		)
	}
	if err := t.SetLockTime(msg.LockTime); err != nil {
		return err
	}

	peer := tc.Peer()
	peer.AccountId = msg.MakerAccountId
	peer.PaymentAccountPayloadHash = msg.MakerPaymentAccountPayloadHash
	peer.MultiSigPubKey = msg.MakerMultiSigPubKey
	peer.PayoutAddress = msg.MakerPayoutAddress
	peer.RawTransactionInputs = msg.MakerInputs
	peer.ContractAsJson = msg.MakerContractAsJson
	peer.ContractSignature = msg.MakerContractSignature
	peer.CurrentDate = msg.CurrentDate
	tc.Model().PreparedDepositTx = msg.PreparedDepositTx

	t.SetStateIfProgress(domain.StateTakerReceivedInputsForDepositTxResponse)
	return nil
})

var takerVerifyAndSignContract = task("TakerVerifyAndSignContract", func(tc *TaskContext) error {
	t := tc.Trade
	peer := tc.Peer()

	contract := buildContract(t)
	contractAsJson, err := contract.JSON()
	if err != nil {
		return err
	}
	if contractAsJson != peer.ContractAsJson {
		return fmt.Errorf("%w: maker contract doesn't match", ErrInvalidContract)
	}
	if err := tc.Provider.KeyRing.Verify(
		peer.PubKeyRing.SignaturePubKey, []byte(contractAsJson), peer.ContractSignature,
	); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidContract, err)
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
	t.MakerContractSignature = peer.ContractSignature
	t.TakerContractSignature = sig
	return nil
})
