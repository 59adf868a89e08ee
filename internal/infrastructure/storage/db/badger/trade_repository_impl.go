package dbbadger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type tradeRepositoryImpl struct {
	store *badgerhold.Store
}

// NewTradeRepositoryImpl returns a badger based TradeRepository.
func NewTradeRepositoryImpl(store *badgerhold.Store) domain.TradeRepository {
	return &tradeRepositoryImpl{store}
}

func (r *tradeRepositoryImpl) AddTrade(
	ctx context.Context, trade *domain.Trade,
) error {
	var err error
	if tx := txFromContext(ctx); tx != nil {
		err = r.store.TxInsert(tx, trade.Id, *trade)
	} else {
		err = r.store.Insert(trade.Id, *trade)
	}
	if err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return domain.ErrTradeAlreadyExists
		}
		return err
	}
	return nil
}

func (r *tradeRepositoryImpl) GetTrade(
	ctx context.Context, tradeID string,
) (*domain.Trade, error) {
	return r.getTrade(ctx, tradeID)
}

func (r *tradeRepositoryImpl) GetTradesByList(
	ctx context.Context, list domain.TradeList,
) ([]*domain.Trade, error) {
	query := badgerhold.Where("List").Eq(list)
	return r.findTrades(ctx, query)
}

func (r *tradeRepositoryImpl) GetAllTrades(
	ctx context.Context,
) ([]*domain.Trade, error) {
	return r.findTrades(ctx, nil)
}

func (r *tradeRepositoryImpl) SaveTrade(
	ctx context.Context, trade *domain.Trade,
) error {
	if tx := txFromContext(ctx); tx != nil {
		return r.store.TxUpsert(tx, trade.Id, *trade)
	}
	return r.store.Upsert(trade.Id, *trade)
}

func (r *tradeRepositoryImpl) UpdateTrade(
	ctx context.Context,
	tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	if txFromContext(ctx) != nil {
		return r.updateTrade(ctx, tradeID, updateFn)
	}

	return r.store.Badger().Update(func(tx *badger.Txn) error {
		return r.updateTrade(
			context.WithValue(ctx, "tx", tx), tradeID, updateFn,
		)
	})
}

func (r *tradeRepositoryImpl) DeleteTrade(
	ctx context.Context, tradeID string,
) error {
	var err error
	if tx := txFromContext(ctx); tx != nil {
		err = r.store.TxDelete(tx, tradeID, domain.Trade{})
	} else {
		err = r.store.Delete(tradeID, domain.Trade{})
	}
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.ErrTradeNotFound
		}
		return err
	}
	return nil
}

func (r *tradeRepositoryImpl) updateTrade(
	ctx context.Context,
	tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	trade, err := r.getTrade(ctx, tradeID)
	if err != nil {
		return err
	}

	updatedTrade, err := updateFn(trade)
	if err != nil {
		return err
	}

	tx := txFromContext(ctx)
	return r.store.TxUpdate(tx, tradeID, *updatedTrade)
}

func (r *tradeRepositoryImpl) getTrade(
	ctx context.Context, tradeID string,
) (*domain.Trade, error) {
	var trade domain.Trade
	var err error
	if tx := txFromContext(ctx); tx != nil {
		err = r.store.TxGet(tx, tradeID, &trade)
	} else {
		err = r.store.Get(tradeID, &trade)
	}
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrTradeNotFound
		}
		return nil, err
	}
	return &trade, nil
}

func (r *tradeRepositoryImpl) findTrades(
	ctx context.Context, query *badgerhold.Query,
) ([]*domain.Trade, error) {
	var list []domain.Trade
	var err error
	if tx := txFromContext(ctx); tx != nil {
		err = r.store.TxFind(tx, &list, query)
	} else {
		err = r.store.Find(&list, query)
	}
	if err != nil {
		return nil, err
	}

	trades := make([]*domain.Trade, 0, len(list))
	for i := range list {
		trades = append(trades, &list[i])
	}
	return trades, nil
}
