package protocol

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/pkg/txutil"
)

var buyerSetupDepositTxListener = task("BuyerSetupDepositTxListener", func(tc *TaskContext) error {
	txid := tc.Trade.DepositTxId
	if txid == "" {
		var err error
		if txid, err = txIdOf(tc.Model().PreparedDepositTx); err != nil {
			return err
		}
	}
	if tc.protocol != nil {
		tc.protocol.watch(txid, watchDeposit)
	}
	return nil
})

var buyerAsTakerSignsDepositTx = task("BuyerAsTakerSignsDepositTx", func(tc *TaskContext) error {
	pm := tc.Model()
	if _, err := verifyPreparedDepositTx(tc, pm.PreparedDepositTx); err != nil {
		return err
	}
	signed, err := signOwnInputs(tc, pm.PreparedDepositTx)
	if err != nil {
		return err
	}
	pm.PreparedDepositTx = signed
	return nil
})

var buyerAsTakerSendsDepositTxMessage = task("BuyerAsTakerSendsDepositTxMessage", func(tc *TaskContext) error {
	return sendMessage(tc, &domain.DepositTxMessage{
		MessageBase:            newMessageBase(tc, domain.MsgDepositTx),
		DepositTx:              tc.Model().PreparedDepositTx,
		TakerContractSignature: tc.Trade.TakerContractSignature,
	})
})

var buyerProcessDelayedPayoutTxSignatureRequest = task("BuyerProcessDelayedPayoutTxSignatureRequest", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.DelayedPayoutTxSignatureRequest](tc)
	if err != nil {
		return err
	}
	if len(msg.DelayedPayoutTx) <= 0 || len(msg.DelayedPayoutTxSellerSignature) <= 0 {
		return fmt.Errorf("%w: missing delayed payout tx or signature", ErrInvalidMessage)
	}

	tc.Peer().DelayedPayoutTxSignature = msg.DelayedPayoutTxSellerSignature
	tc.Model().PreparedDelayedPayoutTx = msg.DelayedPayoutTx
	tc.Trade.SetStateIfProgress(domain.StateBuyerReceivedDelayedPayoutTxSignatureRequest)
	return nil
})

// buyerVerifiesPreparedDelayedPayoutTx rebuilds the delayed payout tx and
// makes sure the one signed by the seller pays the refund agent after the
// agreed lock time.
var buyerVerifiesPreparedDelayedPayoutTx = task("BuyerVerifiesPreparedDelayedPayoutTx", func(tc *TaskContext) error {
	t := tc.Trade
	pm := tc.Model()

	expected, err := tc.Provider.TradeWallet.CreateDelayedPayoutTx(
		tc.Ctx, delayedPayoutTxArgs(t),
	)
	if err != nil {
		return err
	}
	same, err := sameTx(expected, pm.PreparedDelayedPayoutTx)
	if err != nil {
		return err
	}
	if !same {
		return fmt.Errorf("%w: unexpected delayed payout tx", ErrInvalidTx)
	}

	tx, err := txutil.Decode(pm.PreparedDelayedPayoutTx)
	if err != nil {
		return err
	}
	if tx.LockTime != t.LockTime {
		return fmt.Errorf(
			"%w: delayed payout tx lock time %d, expected %d",
			ErrInvalidTx, tx.LockTime, t.LockTime,
		)
	}

	if err := tc.Provider.TradeWallet.VerifyMultisigSignature(
		pm.PreparedDelayedPayoutTx, multisigInput(t),
		tc.Peer().MultiSigPubKey, tc.Peer().DelayedPayoutTxSignature,
	); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTx, err)
	}
	return nil
})

var buyerSignsDelayedPayoutTx = task("BuyerSignsDelayedPayoutTx", func(tc *TaskContext) error {
	key, err := multisigEntry(tc)
	if err != nil {
		return err
	}
	pm := tc.Model()
	sig, err := tc.Provider.TradeWallet.SignMultisigInput(
		tc.Ctx, pm.PreparedDelayedPayoutTx, multisigInput(tc.Trade), *key,
	)
	if err != nil {
		return err
	}
	pm.DelayedPayoutTxSignature = sig
	return nil
})

var buyerFinalizesDelayedPayoutTx = task("BuyerFinalizesDelayedPayoutTx", func(tc *TaskContext) error {
	t := tc.Trade
	pm := tc.Model()
	tx, err := tc.Provider.TradeWallet.FinalizeMultisigTx(
		pm.PreparedDelayedPayoutTx, multisigInput(t),
		pm.DelayedPayoutTxSignature, tc.Peer().DelayedPayoutTxSignature,
	)
	if err != nil {
		return err
	}
	return t.SetDelayedPayoutTx(tx)
})

var buyerSendsShareBuyerPaymentAccountMessage = task("BuyerSendsShareBuyerPaymentAccountMessage", func(tc *TaskContext) error {
	pm := tc.Model()
	if pm.PaymentAccountPayload == nil {
		return ErrMissingPaymentAccount
	}
	return sendMessage(tc, &domain.ShareBuyerPaymentAccountMessage{
		MessageBase:                newMessageBase(tc, domain.MsgShareBuyerPaymentAccount),
		BuyerPaymentAccountPayload: *pm.PaymentAccountPayload,
	})
})

var buyerSendsDelayedPayoutTxSignatureResponse = task("BuyerSendsDelayedPayoutTxSignatureResponse", func(tc *TaskContext) error {
	return sendMessage(tc, &domain.DelayedPayoutTxSignatureResponse{
		MessageBase:                   newMessageBase(tc, domain.MsgDelayedPayoutTxSignatureResponse),
		DelayedPayoutTxBuyerSignature: tc.Model().DelayedPayoutTxSignature,
	})
})

var buyerProcessDepositTxAndDelayedPayoutTxMessage = task("BuyerProcessDepositTxAndDelayedPayoutTxMessage", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.DepositTxAndDelayedPayoutTxMessage](tc)
	if err != nil {
		return err
	}
	t := tc.Trade
	peer := tc.Peer()

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
	if !tx.IsFullySigned() {
		return fmt.Errorf("%w: deposit tx is not fully signed", ErrInvalidTx)
	}

	if err := verifyPaymentAccount(
		msg.SellerPaymentAccountPayload, peer.PaymentAccountPayloadHash,
	); err != nil {
		return err
	}
	payload := msg.SellerPaymentAccountPayload
	peer.PaymentAccountPayload = &payload

	if err := t.SetDepositTx(tx.TxId, msg.DepositTx); err != nil {
		return err
	}
	t.SetStateIfProgress(domain.StateBuyerReceivedDepositTxPublishedMsg)
	return onDepositPublished(tc)
})

var buyerVerifiesFinalDelayedPayoutTx = task("BuyerVerifiesFinalDelayedPayoutTx", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.DepositTxAndDelayedPayoutTxMessage](tc)
	if err != nil {
		return err
	}
	same, err := sameTx(msg.DelayedPayoutTx, tc.Trade.DelayedPayoutTx)
	if err != nil {
		return err
	}
	if !same {
		return fmt.Errorf("%w: delayed payout tx differs from the signed one", ErrInvalidTx)
	}
	return nil
})

var buyerSignsPayoutTx = task("BuyerSignsPayoutTx", func(tc *TaskContext) error {
	t := tc.Trade
	pm := tc.Model()

	tx, err := tc.Provider.TradeWallet.CreatePayoutTx(tc.Ctx, payoutTxArgs(t))
	if err != nil {
		return err
	}
	key, err := multisigEntry(tc)
	if err != nil {
		return err
	}
	sig, err := tc.Provider.TradeWallet.SignMultisigInput(
		tc.Ctx, tx, multisigInput(t), *key,
	)
	if err != nil {
		return err
	}
	pm.PayoutTxSignature = sig
	pm.PreparedPayoutTx = tx

	t.SetStateIfProgress(domain.StateBuyerConfirmedInUIFiatPaymentInitiated)
	return nil
})

var buyerSetupPayoutTxListener = task("BuyerSetupPayoutTxListener", func(tc *TaskContext) error {
	txid, err := txIdOf(tc.Model().PreparedPayoutTx)
	if err != nil {
		return err
	}
	if tc.protocol != nil {
		tc.protocol.watch(txid, watchPayout)
	}
	return nil
})

var buyerSendsCounterCurrencyTransferStartedMessage = task("BuyerSendsCounterCurrencyTransferStartedMessage", func(tc *TaskContext) error {
	t := tc.Trade
	pm := tc.Model()
	return sendMessage(tc, &domain.CounterCurrencyTransferStartedMessage{
		MessageBase:              newMessageBase(tc, domain.MsgCounterCurrencyTransferStarted),
		BuyerPayoutAddress:       pm.PayoutAddress,
		BuyerSignature:           pm.PayoutTxSignature,
		CounterCurrencyTxId:      t.CounterCurrencyTxId,
		CounterCurrencyExtraData: t.CounterCurrencyExtraData,
	})
})

var buyerProcessPayoutTxPublishedMessage = task("BuyerProcessPayoutTxPublishedMessage", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.PayoutTxPublishedMessage](tc)
	if err != nil {
		return err
	}
	t := tc.Trade

	same, err := sameTx(msg.PayoutTx, tc.Model().PreparedPayoutTx)
	if err != nil {
		return err
	}
	if !same {
		return fmt.Errorf("%w: payout tx differs from the signed one", ErrInvalidTx)
	}
	txid, err := txIdOf(msg.PayoutTx)
	if err != nil {
		return err
	}
	if err := t.SetPayoutTx(txid, msg.PayoutTx); err != nil {
		return err
	}
	t.SetStateIfProgress(domain.StateBuyerReceivedPayoutTxPublishedMsg)
	if err := onPayoutPublished(tc); err != nil {
		return err
	}

	stopResending(tc, domain.MsgCounterCurrencyTransferStarted)
	if tc.protocol != nil {
		tc.protocol.unwatch(txid)
	}

	log.Infof("payout tx %s of trade %s published by seller", txid, t.Id)
	return nil
})
