package trade

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// OnPaymentStarted notifies the seller that the buyer initiated the counter
// currency transfer.
func (m *Manager) OnPaymentStarted(
	ctx context.Context, tradeID, counterCurrencyTxId, extraData string,
) error {
	p, err := m.activeProtocol(tradeID)
	if err != nil {
		return err
	}
	return p.OnPaymentStarted(ctx, counterCurrencyTxId, extraData)
}

// OnPaymentReceived makes the seller sign and publish the payout tx.
func (m *Manager) OnPaymentReceived(ctx context.Context, tradeID string) error {
	p, err := m.activeProtocol(tradeID)
	if err != nil {
		return err
	}
	return p.OnPaymentReceived(ctx)
}

// OnWithdrawRequest sends the payout of the trade to the given address, or
// keeps it in the wallet if empty, and completes the trade.
func (m *Manager) OnWithdrawRequest(
	ctx context.Context, tradeID, address string,
) error {
	p, err := m.activeProtocol(tradeID)
	if err != nil {
		return err
	}
	return p.OnWithdrawRequest(ctx, address)
}

// SetDisputeState records the outcome of the dispute protocol on the trade.
func (m *Manager) SetDisputeState(
	ctx context.Context, tradeID string, state domain.DisputeState,
) error {
	return m.updateTrade(ctx, tradeID, func(t *domain.Trade) error {
		t.SetDisputeState(state)
		return nil
	})
}

// UpdateTradePeriodStates moves the pending trades whose deposit is
// published to the second half of their max trade period, or past it.
func (m *Manager) UpdateTradePeriodStates(ctx context.Context, now time.Time) error {
	trades, err := m.provider.Repository.GetTradesByList(ctx, domain.TradeListPending)
	if err != nil {
		return err
	}

	for _, t := range trades {
		state, ok := periodStateAt(t, now)
		if !ok || state <= t.PeriodState {
			continue
		}

		if err := m.updateTrade(ctx, t.Id, func(t *domain.Trade) error {
			t.SetPeriodState(state)
			return nil
		}); err != nil {
			log.WithError(err).Warnf("failed to update period state of trade %s", t.Id)
			continue
		}

		if state == domain.TradePeriodOver {
			log.Warnf("max trade period of trade %s is over", t.Id)
			continue
		}
		log.Infof("trade %s reached half of its max trade period", t.Id)
	}
	return nil
}

func periodStateAt(t *domain.Trade, now time.Time) (domain.TradePeriodState, bool) {
	if t.Protocol != domain.ProtocolMultisig || t.IsPayoutPublished() {
		return 0, false
	}
	maxDate := t.MaxTradePeriodDate()
	if maxDate.IsZero() {
		return 0, false
	}
	if now.After(maxDate) {
		return domain.TradePeriodOver, true
	}
	if now.After(t.HalfTradePeriodDate()) {
		return domain.TradePeriodSecondHalf, true
	}
	return domain.TradePeriodFirstHalf, true
}
