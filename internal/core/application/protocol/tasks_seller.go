package protocol

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/pkg/txutil"
)

var sellerAsTakerSignsDepositTx = task("SellerAsTakerSignsDepositTx", func(tc *TaskContext) error {
	pm := tc.Model()
	if _, err := verifyPreparedDepositTx(tc, pm.PreparedDepositTx); err != nil {
		return err
	}
	signed, err := signOwnInputs(tc, pm.PreparedDepositTx)
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
	pm.PreparedDepositTx = signed
	return nil
})

var sellerCreatesDelayedPayoutTx = task("SellerCreatesDelayedPayoutTx", func(tc *TaskContext) error {
	tx, err := tc.Provider.TradeWallet.CreateDelayedPayoutTx(
		tc.Ctx, delayedPayoutTxArgs(tc.Trade),
	)
	if err != nil {
		return err
	}
	tc.Model().PreparedDelayedPayoutTx = tx
	return nil
})

var sellerSignsDelayedPayoutTx = task("SellerSignsDelayedPayoutTx", func(tc *TaskContext) error {
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

var sellerSendsDelayedPayoutTxSignatureRequest = task("SellerSendsDelayedPayoutTxSignatureRequest", func(tc *TaskContext) error {
	pm := tc.Model()
	msg := &domain.DelayedPayoutTxSignatureRequest{
		MessageBase:                    newMessageBase(tc, domain.MsgDelayedPayoutTxSignatureRequest),
		DelayedPayoutTx:                pm.PreparedDelayedPayoutTx,
		DelayedPayoutTxSellerSignature: pm.DelayedPayoutTxSignature,
	}
	if tc.Trade.Role == domain.RoleTaker {
		msg.TakerContractSignature = tc.Trade.TakerContractSignature
	}
	return sendMessage(tc, msg)
})

var sellerProcessShareBuyerPaymentAccountMessage = task("SellerProcessShareBuyerPaymentAccountMessage", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.ShareBuyerPaymentAccountMessage](tc)
	if err != nil {
		return err
	}
	peer := tc.Peer()
	if err := verifyPaymentAccount(
		msg.BuyerPaymentAccountPayload, peer.PaymentAccountPayloadHash,
	); err != nil {
		return err
	}
	payload := msg.BuyerPaymentAccountPayload
	peer.PaymentAccountPayload = &payload
	return nil
})

var sellerProcessDelayedPayoutTxSignatureResponse = task("SellerProcessDelayedPayoutTxSignatureResponse", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.DelayedPayoutTxSignatureResponse](tc)
	if err != nil {
		return err
	}
	if len(msg.DelayedPayoutTxBuyerSignature) <= 0 {
		return fmt.Errorf("%w: missing buyer signature", ErrInvalidMessage)
	}
	peer := tc.Peer()
	if peer.PaymentAccountPayload == nil {
		return fmt.Errorf("%w: buyer payment account not received", ErrMissingPaymentAccount)
	}
	peer.DelayedPayoutTxSignature = msg.DelayedPayoutTxBuyerSignature

	tc.Trade.SetStateIfProgress(domain.StateSellerReceivedDelayedPayoutTxSignatureResponse)
	return nil
})

var sellerFinalizesDelayedPayoutTx = task("SellerFinalizesDelayedPayoutTx", func(tc *TaskContext) error {
	t := tc.Trade
	pm := tc.Model()
	peer := tc.Peer()
	w := tc.Provider.TradeWallet
	in := multisigInput(t)

	if err := w.VerifyMultisigSignature(
		pm.PreparedDelayedPayoutTx, in, peer.MultiSigPubKey, peer.DelayedPayoutTxSignature,
	); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTx, err)
	}
	tx, err := w.FinalizeMultisigTx(
		pm.PreparedDelayedPayoutTx, in,
		peer.DelayedPayoutTxSignature, pm.DelayedPayoutTxSignature,
	)
	if err != nil {
		return err
	}
	return t.SetDelayedPayoutTx(tx)
})

var sellerPublishesDepositTx = task("SellerPublishesDepositTx", func(tc *TaskContext) error {
	t := tc.Trade
	raw := tc.Model().PreparedDepositTx

	txid, err := tc.Provider.Chain.BroadcastTransaction(tc.Ctx, raw)
	if err != nil {
		return err
	}
	if err := t.SetDepositTx(txid, raw); err != nil {
		return err
	}
	t.SetStateIfProgress(domain.StateSellerPublishedDepositTx)

	log.Infof("published deposit tx %s for trade %s", txid, t.Id)
	return onDepositPublished(tc)
})

var sellerSetupDepositTxListener = task("SellerSetupDepositTxListener", func(tc *TaskContext) error {
	if tc.protocol != nil {
		tc.protocol.watch(tc.Trade.DepositTxId, watchDeposit)
	}
	return nil
})

var sellerSendsDepositTxAndDelayedPayoutTxMessage = task("SellerSendsDepositTxAndDelayedPayoutTxMessage", func(tc *TaskContext) error {
	t := tc.Trade
	pm := tc.Model()
	if pm.PaymentAccountPayload == nil {
		return ErrMissingPaymentAccount
	}
	return sendMessage(tc, &domain.DepositTxAndDelayedPayoutTxMessage{
		MessageBase:                 newMessageBase(tc, domain.MsgDepositTxAndDelayedPayoutTx),
		DepositTx:                   t.DepositTx,
		DelayedPayoutTx:             t.DelayedPayoutTx,
		SellerPaymentAccountPayload: *pm.PaymentAccountPayload,
	})
})

var sellerProcessCounterCurrencyTransferStartedMessage = task("SellerProcessCounterCurrencyTransferStartedMessage", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.CounterCurrencyTransferStartedMessage](tc)
	if err != nil {
		return err
	}
	t := tc.Trade
	if t.Contract == nil {
		return fmt.Errorf("%w: missing contract", ErrInvalidContract)
	}
	if msg.BuyerPayoutAddress != t.Contract.BuyerPayoutAddress() {
		return fmt.Errorf("%w: buyer payout address doesn't match contract", ErrInvalidMessage)
	}
	if len(msg.BuyerSignature) <= 0 {
		return fmt.Errorf("%w: missing buyer payout signature", ErrInvalidMessage)
	}

	tc.Peer().PayoutTxSignature = msg.BuyerSignature
	t.CounterCurrencyTxId = msg.CounterCurrencyTxId
	t.CounterCurrencyExtraData = msg.CounterCurrencyExtraData
	t.SetStateIfProgress(domain.StateSellerReceivedFiatPaymentInitiatedMsg)
	return nil
})

var sellerSignsAndFinalizesPayoutTx = task("SellerSignsAndFinalizesPayoutTx", func(tc *TaskContext) error {
	t := tc.Trade
	pm := tc.Model()
	peer := tc.Peer()
	w := tc.Provider.TradeWallet
	in := multisigInput(t)

	tx, err := w.CreatePayoutTx(tc.Ctx, payoutTxArgs(t))
	if err != nil {
		return err
	}
	if err := w.VerifyMultisigSignature(
		tx, in, peer.MultiSigPubKey, peer.PayoutTxSignature,
	); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTx, err)
	}
	key, err := multisigEntry(tc)
	if err != nil {
		return err
	}
	sig, err := w.SignMultisigInput(tc.Ctx, tx, in, *key)
	if err != nil {
		return err
	}
	final, err := w.FinalizeMultisigTx(tx, in, peer.PayoutTxSignature, sig)
	if err != nil {
		return err
	}
	pm.PayoutTxSignature = sig
	pm.PreparedPayoutTx = final

	t.SetStateIfProgress(domain.StateSellerConfirmedInUIFiatPaymentReceipt)
	return nil
})

var sellerBroadcastsPayoutTx = task("SellerBroadcastsPayoutTx", func(tc *TaskContext) error {
	t := tc.Trade
	raw := tc.Model().PreparedPayoutTx

	txid, err := tc.Provider.Chain.BroadcastTransaction(tc.Ctx, raw)
	if err != nil {
		return err
	}
	if err := t.SetPayoutTx(txid, raw); err != nil {
		return err
	}
	t.SetStateIfProgress(domain.StateSellerPublishedPayoutTx)

	log.Infof("published payout tx %s for trade %s", txid, t.Id)
	return onPayoutPublished(tc)
})

var sellerSendsPayoutTxPublishedMessage = task("SellerSendsPayoutTxPublishedMessage", func(tc *TaskContext) error {
	return sendMessage(tc, &domain.PayoutTxPublishedMessage{
		MessageBase: newMessageBase(tc, domain.MsgPayoutTxPublished),
		PayoutTx:    tc.Trade.PayoutTx,
	})
})
