package protocol

import (
	"bytes"
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/tdex-network/tdex-p2ptrade/pkg/txutil"
)

// reserveSwapPayout binds a payout address to the swap trade.
func reserveSwapPayout(tc *TaskContext) error {
	w := tc.Provider.Wallet
	id := tc.Trade.Id

	payout, err := w.GetOrCreateAddressEntry(tc.Ctx, id, domain.AddressContextTradePayout)
	if err != nil {
		return err
	}
	tc.OnFailure(func(ctx context.Context) error {
		return w.SwapTradeEntryToAvailableEntry(ctx, id, domain.AddressContextTradePayout)
	})
	tc.Model().PayoutAddress = payout.Address
	return nil
}

func swapTxArgs(t *domain.Trade) ports.SwapTxArgs {
	pm := &t.ProcessModel
	peer := &pm.TradePeer

	buyerInputs, sellerInputs := buyerAndSeller(
		t, pm.RawTransactionInputs, peer.RawTransactionInputs,
	)
	buyerPayout, sellerPayout := buyerAndSeller(t, pm.PayoutAddress, peer.PayoutAddress)
	buyerChange, sellerChange := buyerAndSeller(
		t,
		ports.Output{Address: pm.ChangeOutputAddress, Value: pm.ChangeOutputValue},
		ports.Output{Address: peer.ChangeOutputAddress, Value: peer.ChangeOutputValue},
	)

	return ports.SwapTxArgs{
		BuyerInputs:  buyerInputs,
		SellerInputs: sellerInputs,
		BuyerPayout:  ports.Output{Address: buyerPayout, Value: t.Amount},
		SellerPayout: ports.Output{Address: sellerPayout, Value: t.CounterAmount()},
		BuyerChange:  buyerChange,
		SellerChange: sellerChange,
	}
}

// ownSwapPayout returns the output the local party expects to receive.
func ownSwapPayout(tc *TaskContext) (uint64, []byte, error) {
	t := tc.Trade
	value := t.CounterAmount()
	if t.IsBuyer() {
		value = t.Amount
	}
	script, err := txutil.AddressScript(tc.Model().PayoutAddress, tc.Provider.Config.Network)
	if err != nil {
		return 0, nil, err
	}
	return value, script, nil
}

func onSwapPublished(tc *TaskContext) error {
	t := tc.Trade
	if t.DepositPublishedAt == 0 {
		t.DepositPublishedAt = now()
	}
	if err := tc.Provider.Wallet.SwapTradeEntryToAvailableEntry(
		tc.Ctx, t.Id, domain.AddressContextReservedForTrade,
	); err != nil {
		return err
	}
	if t.IsMaker() {
		return tc.Provider.Offers.CloseOpenOffer(tc.Ctx, t.Id)
	}
	return nil
}

var takerCreatesSwapInputs = task("TakerCreatesSwapInputs", func(tc *TaskContext) error {
	if err := reserveFunding(tc); err != nil {
		return err
	}
	if err := selectOwnInputs(tc, tc.Trade.OwnSwapContribution()); err != nil {
		return err
	}
	return reserveSwapPayout(tc)
})

var takerSendsSwapTxRequest = task("TakerSendsSwapTxRequest", func(tc *TaskContext) error {
	t := tc.Trade
	pm := tc.Model()

	if err := sendMessage(tc, &domain.SwapTxRequest{
		MessageBase:         newMessageBase(tc, domain.MsgSwapTxRequest),
		TradeAmount:         t.Amount,
		TradePrice:          t.Price,
		TxFee:               t.TxFee,
		Inputs:              pm.RawTransactionInputs,
		ChangeOutputValue:   pm.ChangeOutputValue,
		ChangeOutputAddress: pm.ChangeOutputAddress,
		PayoutAddress:       pm.PayoutAddress,
		TakerPubKeyRing:     pm.PubKeyRing,
		CurrentDate:         now(),
	}); err != nil {
		return err
	}
	t.SetSwapState(domain.SwapStateTxRequested)
	return nil
})

var makerProcessesSwapTxRequest = task("MakerProcessesSwapTxRequest", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.SwapTxRequest](tc)
	if err != nil {
		return err
	}
	t := tc.Trade

	if !t.Offer.IsAmountInRange(msg.TradeAmount) {
		return domain.ErrInvalidAmount
	}
	t.Amount = msg.TradeAmount
	t.Price = msg.TradePrice
	t.TxFee = msg.TxFee

	if len(msg.Inputs) <= 0 {
		return fmt.Errorf("%w: missing taker inputs", ErrInvalidMessage)
	}
	if sumInputs(msg.Inputs) < peerSwapContribution(t)+msg.ChangeOutputValue {
		return fmt.Errorf("%w: taker inputs don't cover its contribution", ErrInvalidMessage)
	}
	if err := validateAddress(tc, msg.PayoutAddress); err != nil {
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

	peer := tc.Peer()
	peer.PubKeyRing = msg.TakerPubKeyRing
	peer.RawTransactionInputs = msg.Inputs
	peer.ChangeOutputValue = msg.ChangeOutputValue
	peer.ChangeOutputAddress = msg.ChangeOutputAddress
	peer.PayoutAddress = msg.PayoutAddress
	peer.CurrentDate = msg.CurrentDate

	if err := reserveFunding(tc); err != nil {
		return err
	}
	if err := reserveSwapPayout(tc); err != nil {
		return err
	}
	t.SetSwapState(domain.SwapStateTxRequested)
	return nil
})

var makerCreatesAndSignsSwapTx = task("MakerCreatesAndSignsSwapTx", func(tc *TaskContext) error {
	t := tc.Trade
	if err := selectOwnInputs(tc, t.OwnSwapContribution()); err != nil {
		return err
	}
	tx, err := tc.Provider.TradeWallet.CreateSwapTx(tc.Ctx, swapTxArgs(t))
	if err != nil {
		return err
	}
	signed, err := signOwnInputs(tc, tx)
	if err != nil {
		return err
	}
	tc.Model().PreparedSwapTx = signed
	t.SetSwapState(domain.SwapStateTxSignedByMaker)
	return nil
})

var makerSendsSwapTxResponse = task("MakerSendsSwapTxResponse", func(tc *TaskContext) error {
	pm := tc.Model()
	return sendMessage(tc, &domain.SwapTxResponse{
		MessageBase:        newMessageBase(tc, domain.MsgSwapTxResponse),
		SwapTx:             pm.PreparedSwapTx,
		MakerInputs:        pm.RawTransactionInputs,
		MakerPayoutAddress: pm.PayoutAddress,
		MakerChangeAddress: pm.ChangeOutputAddress,
		MakerChangeValue:   pm.ChangeOutputValue,
	})
})

var takerProcessesSwapTxResponse = task("TakerProcessesSwapTxResponse", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.SwapTxResponse](tc)
	if err != nil {
		return err
	}
	t := tc.Trade

	if len(msg.MakerInputs) <= 0 {
		return fmt.Errorf("%w: missing maker inputs", ErrInvalidMessage)
	}
	if err := validateAddress(tc, msg.MakerPayoutAddress); err != nil {
		return err
	}
	peer := tc.Peer()
	peer.RawTransactionInputs = msg.MakerInputs
	peer.PayoutAddress = msg.MakerPayoutAddress
	peer.ChangeOutputAddress = msg.MakerChangeAddress
	peer.ChangeOutputValue = msg.MakerChangeValue

	tx, err := txutil.Decode(msg.SwapTx)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTx, err)
	}
	if err := verifyOwnInputs(tx, tc.Model().RawTransactionInputs); err != nil {
		return err
	}
	if err := verifyOwnInputs(tx, msg.MakerInputs); err != nil {
		return err
	}
	if len(tx.Inputs) != len(tc.Model().RawTransactionInputs)+len(msg.MakerInputs) {
		return fmt.Errorf("%w: swap tx spends unknown inputs", ErrInvalidTx)
	}

	value, script, err := ownSwapPayout(tc)
	if err != nil {
		return err
	}
	found := false
	for _, out := range tx.Outputs {
		if out.Value == value && bytes.Equal(out.PkScript, script) {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: swap tx doesn't pay the expected amount", ErrInvalidTx)
	}

	inputsValue := sumInputs(tc.Model().RawTransactionInputs, msg.MakerInputs)
	outputsValue := tx.SumOutputs()
	if inputsValue < outputsValue || inputsValue-outputsValue < t.TxFee {
		return fmt.Errorf("%w: swap tx pays too low fee", ErrInvalidTx)
	}

	tc.Model().PreparedSwapTx = msg.SwapTx
	t.SetSwapState(domain.SwapStateTxSignedByMaker)
	return nil
})

var takerSignsAndPublishesSwapTx = task("TakerSignsAndPublishesSwapTx", func(tc *TaskContext) error {
	t := tc.Trade
	signed, err := signOwnInputs(tc, tc.Model().PreparedSwapTx)
	if err != nil {
		return err
	}
	tx, err := txutil.Decode(signed)
	if err != nil {
		return err
	}
	if !tx.IsFullySigned() {
		return fmt.Errorf("%w: swap tx is not fully signed", ErrInvalidTx)
	}

	txid, err := tc.Provider.Chain.BroadcastTransaction(tc.Ctx, signed)
	if err != nil {
		return err
	}
	if err := t.SetSwapTx(txid, signed); err != nil {
		return err
	}
	t.SetSwapState(domain.SwapStateTxPublished)

	log.Infof("published swap tx %s for trade %s", txid, t.Id)
	return onSwapPublished(tc)
})

var takerSendsSwapTxPublishedMessage = task("TakerSendsSwapTxPublishedMessage", func(tc *TaskContext) error {
	t := tc.Trade
	return sendMessage(tc, &domain.SwapTxPublishedMessage{
		MessageBase: newMessageBase(tc, domain.MsgSwapTxPublished),
		SwapTxId:    t.SwapTxId,
		SwapTx:      t.SwapTx,
	})
})

var makerProcessesSwapTxPublishedMessage = task("MakerProcessesSwapTxPublishedMessage", func(tc *TaskContext) error {
	msg, err := messageAs[*domain.SwapTxPublishedMessage](tc)
	if err != nil {
		return err
	}
	t := tc.Trade

	same, err := sameTx(msg.SwapTx, tc.Model().PreparedSwapTx)
	if err != nil {
		return err
	}
	if !same {
		return fmt.Errorf("%w: swap tx differs from the signed one", ErrInvalidTx)
	}
	txid, err := txIdOf(msg.SwapTx)
	if err != nil {
		return err
	}
	if txid != msg.SwapTxId {
		return fmt.Errorf("%w: swap tx id mismatch", ErrInvalidMessage)
	}
	if err := t.SetSwapTx(txid, msg.SwapTx); err != nil {
		return err
	}
	t.SetSwapState(domain.SwapStateTxPublished)
	return onSwapPublished(tc)
})

var setSwapCompleted = task("SetSwapCompleted", func(tc *TaskContext) error {
	t := tc.Trade
	if err := tc.Provider.Wallet.SwapTradeEntryToAvailableEntry(
		tc.Ctx, t.Id, domain.AddressContextTradePayout,
	); err != nil {
		return err
	}
	t.SetSwapState(domain.SwapStateCompleted)
	return nil
})
