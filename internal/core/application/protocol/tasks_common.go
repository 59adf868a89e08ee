package protocol

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// reserveTradeKeys binds a multisig key and a payout address to the trade.
func reserveTradeKeys(tc *TaskContext) error {
	w := tc.Provider.Wallet
	t := tc.Trade

	multisig, err := w.GetOrCreateAddressEntry(tc.Ctx, t.Id, domain.AddressContextMultiSig)
	if err != nil {
		return err
	}
	payout, err := w.GetOrCreateAddressEntry(tc.Ctx, t.Id, domain.AddressContextTradePayout)
	if err != nil {
		return err
	}
	tc.OnFailure(func(ctx context.Context) error {
		return w.ResetAddressEntriesForPendingTrade(ctx, t.Id)
	})

	tc.Model().MyMultiSigPubKey = multisig.PubKey
	tc.Model().PayoutAddress = payout.Address
	return nil
}

// reserveFunding moves the funding entry of the trade to RESERVED_FOR_TRADE.
func reserveFunding(tc *TaskContext) error {
	w := tc.Provider.Wallet
	id := tc.Trade.Id

	if err := w.SwapToContext(
		tc.Ctx, id, domain.AddressContextOfferFunding, domain.AddressContextReservedForTrade,
	); err != nil {
		return err
	}
	tc.OnFailure(func(ctx context.Context) error {
		return w.SwapToContext(
			ctx, id, domain.AddressContextReservedForTrade, domain.AddressContextOfferFunding,
		)
	})
	return nil
}

func reservedFunding(tc *TaskContext) (*domain.AddressEntry, error) {
	return tc.Provider.Wallet.FindAddressEntry(
		tc.Ctx, tc.Trade.Id, domain.AddressContextReservedForTrade,
	)
}

func selectOwnInputs(tc *TaskContext, amount uint64) error {
	funding, err := reservedFunding(tc)
	if err != nil {
		return err
	}
	selected, err := tc.Provider.TradeWallet.SelectInputs(tc.Ctx, *funding, amount)
	if err != nil {
		return err
	}

	pm := tc.Model()
	pm.RawTransactionInputs = selected.Inputs
	pm.ChangeOutputValue = selected.ChangeValue
	pm.ChangeOutputAddress = selected.ChangeAddress
	pm.FundsNeededForTrade = amount
	return nil
}

func signOwnInputs(tc *TaskContext, tx []byte) ([]byte, error) {
	funding, err := reservedFunding(tc)
	if err != nil {
		return nil, err
	}
	return tc.Provider.TradeWallet.SignInputs(
		tc.Ctx, tx, tc.Model().RawTransactionInputs, *funding,
	)
}

func multisigEntry(tc *TaskContext) (*domain.AddressEntry, error) {
	return tc.Provider.Wallet.FindAddressEntry(
		tc.Ctx, tc.Trade.Id, domain.AddressContextMultiSig,
	)
}

// onDepositPublished locks the trade funds in the multisig and consumes the
// offer. It can run more than once.
func onDepositPublished(tc *TaskContext) error {
	t := tc.Trade
	w := tc.Provider.Wallet

	if t.DepositPublishedAt == 0 {
		t.DepositPublishedAt = now()
	}
	if err := w.SetCoinLockedInMultiSig(
		tc.Ctx, t.Id, t.MultisigOutputValue(),
	); err != nil {
		return err
	}
	if err := w.SwapTradeEntryToAvailableEntry(
		tc.Ctx, t.Id, domain.AddressContextReservedForTrade,
	); err != nil {
		return err
	}
	if t.IsMaker() {
		return tc.Provider.Offers.CloseOpenOffer(tc.Ctx, t.Id)
	}
	return nil
}

func onPayoutPublished(tc *TaskContext) error {
	return tc.Provider.Wallet.SwapTradeEntryToAvailableEntry(
		tc.Ctx, tc.Trade.Id, domain.AddressContextMultiSig,
	)
}

var processDepositTxSeen = task("ProcessDepositTxSeen", onDepositTxSeen)

func onDepositTxSeen(tc *TaskContext) error {
	t := tc.Trade
	if tc.TxEvent == nil {
		return fmt.Errorf("missing tx event")
	}

	if t.DepositTxId == "" {
		tx, err := tc.Provider.Chain.GetTransaction(tc.Ctx, tc.TxEvent.TxID)
		if err != nil {
			return err
		}
		if err := t.SetDepositTx(tc.TxEvent.TxID, tx); err != nil {
			return err
		}
	}
	if t.IsBuyer() {
		t.SetStateIfProgress(domain.StateBuyerSawDepositTxInNetwork)
	}
	if tc.TxEvent.BlockTime > 0 && t.DepositPublishedAt == 0 {
		t.DepositPublishedAt = tc.TxEvent.BlockTime
	}
	return onDepositPublished(tc)
}

var processDepositTxConfirmed = task("ProcessDepositTxConfirmed", func(tc *TaskContext) error {
	t := tc.Trade
	// A tx found already mined is reported only once as confirmed.
	if t.DepositTxId == "" || t.DepositPublishedAt == 0 {
		if err := onDepositTxSeen(tc); err != nil {
			return err
		}
	}
	t.SetStateIfProgress(domain.StateDepositConfirmedInBlockChain)
	if t.IsSeller() {
		stopResending(tc, domain.MsgDepositTxAndDelayedPayoutTx)
	}
	log.Infof("deposit tx %s of trade %s confirmed", t.DepositTxId, t.Id)
	return nil
})

var processPayoutTxSeen = task("ProcessPayoutTxSeen", func(tc *TaskContext) error {
	t := tc.Trade
	if tc.TxEvent == nil {
		return fmt.Errorf("missing tx event")
	}

	if t.PayoutTxId == "" {
		tx, err := tc.Provider.Chain.GetTransaction(tc.Ctx, tc.TxEvent.TxID)
		if err != nil {
			return err
		}
		if err := t.SetPayoutTx(tc.TxEvent.TxID, tx); err != nil {
			return err
		}
	}
	t.SetStateIfProgress(domain.StateBuyerSawPayoutTxInNetwork)
	stopResending(tc, domain.MsgCounterCurrencyTransferStarted)
	return onPayoutPublished(tc)
})

var withdrawFunds = task("WithdrawFunds", func(tc *TaskContext) error {
	if tc.WithdrawAddress == "" {
		return nil
	}
	if err := validateAddress(tc, tc.WithdrawAddress); err != nil {
		return err
	}

	t := tc.Trade
	payout, err := tc.Provider.Wallet.FindAddressEntry(
		tc.Ctx, t.Id, domain.AddressContextTradePayout,
	)
	if err != nil {
		return err
	}
	tx, err := tc.Provider.TradeWallet.CreateWithdrawalTx(
		tc.Ctx, *payout, tc.WithdrawAddress,
	)
	if err != nil {
		return err
	}
	txid, err := tc.Provider.Chain.BroadcastTransaction(tc.Ctx, tx)
	if err != nil {
		return err
	}
	t.WithdrawTxId = txid

	log.Infof("withdrew funds of trade %s to %s in tx %s", t.Id, tc.WithdrawAddress, txid)
	return nil
})

var setWithdrawCompleted = task("SetWithdrawCompleted", func(tc *TaskContext) error {
	t := tc.Trade
	if err := tc.Provider.Wallet.SwapTradeEntryToAvailableEntry(
		tc.Ctx, t.Id, domain.AddressContextTradePayout,
	); err != nil {
		return err
	}
	t.SetStateIfProgress(domain.StateWithdrawCompleted)
	return nil
})
