package trade

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// OnTradeCompleted moves the trade to the closed list, or to the swap list
// for atomic swaps, and releases what the wallet still has reserved for it.
// It runs on the protocol goroutine right before it exits.
func (m *Manager) OnTradeCompleted(t *domain.Trade) {
	m.unregister(t.Id)
	m.moveToCompleted(context.Background(), t)
	m.metrics.TradeCompleted(t.TypeName())
}

// OnTradeFailed moves a trade whose deposit was never published to the
// failed list, closing the open offer and releasing its funding. A trade
// that already locked funds stays pending with the error recorded.
func (m *Manager) OnTradeFailed(t *domain.Trade, err error) {
	m.unregister(t.Id)
	m.metrics.TradeFailed(t.TypeName())

	ctx := context.Background()
	if t.IsDepositPublished() {
		log.WithError(err).Errorf(
			"trade %s failed after locking funds, it stays pending", t.Id,
		)
		return
	}
	m.moveToFailed(ctx, t, err)
}

// MoveTradeToFailed stops the protocol of a trade that cannot progress
// anymore and moves it to the failed list.
func (m *Manager) MoveTradeToFailed(
	ctx context.Context, tradeID, reason string,
) error {
	if p, ok := m.getProtocol(tradeID); ok {
		p.Stop()
		m.unregister(tradeID)
	}

	t, err := m.provider.Repository.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if t.List != domain.TradeListPending {
		return fmt.Errorf("trade %s is in %s list", tradeID, t.List)
	}
	m.moveToFailed(ctx, t, errors.New(reason))
	return nil
}

// UnFailTrade moves a failed trade back to pending if the wallet can bind
// again the multisig and payout addresses to it. If the recovery fails no
// address entry is modified and the trade stays failed.
func (m *Manager) UnFailTrade(ctx context.Context, tradeID string) error {
	if !m.isInitialized() {
		return ErrNotInitialized
	}

	t, err := m.provider.Repository.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if t.List != domain.TradeListFailed {
		return fmt.Errorf("%w: %s", ErrTradeNotFailed, tradeID)
	}

	_, err = m.provider.Wallet.FindAddressEntry(ctx, t.Id, domain.AddressContextMultiSig)
	boundBefore := err == nil

	if err := m.provider.Wallet.RecoverAddresses(ctx, t); err != nil {
		log.WithError(err).Warnf("trade %s stays failed", tradeID)
		return err
	}

	t.List = domain.TradeListPending
	t.ErrorMessage = ""
	if err := m.provider.Repository.SaveTrade(ctx, t); err != nil {
		if !boundBefore {
			if rerr := m.provider.Wallet.ResetAddressEntriesForPendingTrade(
				ctx, t.Id,
			); rerr != nil {
				log.WithError(rerr).Errorf(
					"failed to unbind recovered addresses of trade %s", tradeID,
				)
			}
		}
		log.WithError(err).Warnf("trade %s stays failed", tradeID)
		return err
	}
	log.Infof("trade %s moved back to pending", tradeID)

	if t.IsCompleted() {
		m.moveToCompleted(ctx, t)
		return nil
	}
	_, err = m.startProtocol(t)
	return err
}

// GetSetOfFailedOrClosedTradeIdsFromLockedInFunds returns the ids of the
// closed and failed trades that still have funds locked in their multisig.
// A closed trade with locked funds but without deposit tx or without a
// published payout, and a failed trade with locked funds, are
// inconsistencies: they are all collected into a *LockedFundsError.
func (m *Manager) GetSetOfFailedOrClosedTradeIdsFromLockedInFunds(
	ctx context.Context,
) ([]string, error) {
	entries, err := m.provider.Wallet.GetAddressEntries(ctx)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]bool)
	for _, e := range entries {
		if e.Context == domain.AddressContextMultiSig && e.CoinLockedInMultiSig > 0 {
			locked[e.OfferId] = true
		}
	}

	closed, err := m.provider.Repository.GetTradesByList(ctx, domain.TradeListClosed)
	if err != nil {
		return nil, err
	}
	failed, err := m.provider.Repository.GetTradesByList(ctx, domain.TradeListFailed)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0)
	lockedErr := &LockedFundsError{}
	for _, t := range closed {
		if !locked[t.Id] {
			continue
		}
		ids = append(ids, t.Id)
		// Either the deposit is unknown or the payout never happened.
		if t.DepositTxId == "" || t.IsFundsLockedIn() {
			lockedErr.add(ErrClosedTradeFundsLocked, t.Id)
		}
	}
	for _, t := range failed {
		if !locked[t.Id] && !t.IsFundsLockedIn() {
			continue
		}
		ids = append(ids, t.Id)
		lockedErr.add(ErrFailedTradeFundsLocked, t.Id)
	}

	return ids, lockedErr.errorOrNil()
}

func (m *Manager) moveToCompleted(ctx context.Context, t *domain.Trade) {
	list := domain.TradeListClosed
	if t.Protocol == domain.ProtocolAtomicSwap {
		list = domain.TradeListSwap
	}
	t.List = list
	if err := m.provider.Repository.SaveTrade(ctx, t); err != nil {
		log.WithError(err).Errorf("failed to move trade %s to %s list", t.Id, list)
		return
	}
	if err := m.provider.Wallet.ResetAddressEntriesForPendingTrade(ctx, t.Id); err != nil {
		log.WithError(err).Warnf("failed to release addresses of trade %s", t.Id)
	}

	log.Infof("trade %s moved to %s list", t.Id, list)
}

func (m *Manager) moveToFailed(ctx context.Context, t *domain.Trade, cause error) {
	t.List = domain.TradeListFailed
	if cause != nil {
		t.ErrorMessage = cause.Error()
	}
	if err := m.provider.Repository.SaveTrade(ctx, t); err != nil {
		log.WithError(err).Errorf("failed to move trade %s to failed list", t.Id)
		return
	}

	if !t.IsDepositPublished() {
		// The trade id is the offer id, an offer with a failed trade can't be
		// taken anymore.
		if t.IsMaker() {
			if err := m.provider.Offers.CloseOpenOffer(ctx, t.Id); err != nil {
				log.WithError(err).Warnf("failed to close offer %s", t.Id)
			}
		}
		if err := m.provider.Wallet.ResetAddressEntriesForOpenOffer(
			ctx, t.Id,
		); err != nil {
			log.WithError(err).Warnf("failed to release funding of trade %s", t.Id)
		}
		if err := m.provider.Wallet.ResetAddressEntriesForPendingTrade(
			ctx, t.Id,
		); err != nil {
			log.WithError(err).Warnf("failed to release addresses of trade %s", t.Id)
		}
	}

	log.WithField("trade_id", t.Id).Infof("trade moved to failed list: %s", t.ErrorMessage)
}
