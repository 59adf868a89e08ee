package inmemory

import (
	"context"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

type tradeRepositoryImpl struct {
	store *store
}

// NewTradeRepositoryImpl returns a new inmemory TradeRepository implementation.
func NewTradeRepositoryImpl() domain.TradeRepository {
	return &tradeRepositoryImpl{newStore()}
}

func (r *tradeRepositoryImpl) AddTrade(_ context.Context, trade *domain.Trade) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if _, ok := r.store.items[trade.Id]; ok {
		return domain.ErrTradeAlreadyExists
	}
	return r.store.put(trade.Id, trade)
}

func (r *tradeRepositoryImpl) GetTrade(
	_ context.Context, tradeID string,
) (*domain.Trade, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.getTrade(tradeID)
}

func (r *tradeRepositoryImpl) GetTradesByList(
	_ context.Context, list domain.TradeList,
) ([]*domain.Trade, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	trades, err := r.getAllTrades()
	if err != nil {
		return nil, err
	}
	filtered := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t.List == list {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (r *tradeRepositoryImpl) GetAllTrades(_ context.Context) ([]*domain.Trade, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.getAllTrades()
}

func (r *tradeRepositoryImpl) SaveTrade(_ context.Context, trade *domain.Trade) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.store.put(trade.Id, trade)
}

func (r *tradeRepositoryImpl) UpdateTrade(
	_ context.Context,
	tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	trade, err := r.getTrade(tradeID)
	if err != nil {
		return err
	}
	updatedTrade, err := updateFn(trade)
	if err != nil {
		return err
	}
	return r.store.put(tradeID, updatedTrade)
}

func (r *tradeRepositoryImpl) DeleteTrade(_ context.Context, tradeID string) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if _, ok := r.store.items[tradeID]; !ok {
		return domain.ErrTradeNotFound
	}
	r.store.delete(tradeID)
	return nil
}

func (r *tradeRepositoryImpl) getTrade(tradeID string) (*domain.Trade, error) {
	trade := &domain.Trade{}
	found, err := r.store.get(tradeID, trade)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrTradeNotFound
	}
	return trade, nil
}

func (r *tradeRepositoryImpl) getAllTrades() ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0, len(r.store.items))
	for _, id := range r.store.keys() {
		trade, err := r.getTrade(id)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, nil
}
