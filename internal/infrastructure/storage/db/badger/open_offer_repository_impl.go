package dbbadger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type openOfferRepositoryImpl struct {
	store *badgerhold.Store
}

// NewOpenOfferRepositoryImpl returns a badger based OpenOfferRepository.
func NewOpenOfferRepositoryImpl(
	store *badgerhold.Store,
) domain.OpenOfferRepository {
	return &openOfferRepositoryImpl{store}
}

func (r *openOfferRepositoryImpl) AddOpenOffer(
	ctx context.Context, offer *domain.OpenOffer,
) error {
	var err error
	if tx := txFromContext(ctx); tx != nil {
		err = r.store.TxInsert(tx, offer.Offer.Id, *offer)
	} else {
		err = r.store.Insert(offer.Offer.Id, *offer)
	}
	if err != nil && !errors.Is(err, badgerhold.ErrKeyExists) {
		return err
	}
	return nil
}

func (r *openOfferRepositoryImpl) GetOpenOffer(
	ctx context.Context, offerID string,
) (*domain.OpenOffer, error) {
	return r.getOpenOffer(ctx, offerID)
}

func (r *openOfferRepositoryImpl) GetOpenOffers(
	ctx context.Context,
) ([]*domain.OpenOffer, error) {
	var list []domain.OpenOffer
	var err error
	if tx := txFromContext(ctx); tx != nil {
		err = r.store.TxFind(tx, &list, nil)
	} else {
		err = r.store.Find(&list, nil)
	}
	if err != nil {
		return nil, err
	}

	offers := make([]*domain.OpenOffer, 0, len(list))
	for i := range list {
		offers = append(offers, &list[i])
	}
	return offers, nil
}

func (r *openOfferRepositoryImpl) UpdateOpenOffer(
	ctx context.Context,
	offerID string,
	updateFn func(o *domain.OpenOffer) (*domain.OpenOffer, error),
) error {
	update := func(ctx context.Context) error {
		offer, err := r.getOpenOffer(ctx, offerID)
		if err != nil {
			return err
		}
		updated, err := updateFn(offer)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(txFromContext(ctx), offerID, *updated)
	}

	if txFromContext(ctx) != nil {
		return update(ctx)
	}
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		return update(context.WithValue(ctx, "tx", tx))
	})
}

func (r *openOfferRepositoryImpl) getOpenOffer(
	ctx context.Context, offerID string,
) (*domain.OpenOffer, error) {
	var offer domain.OpenOffer
	var err error
	if tx := txFromContext(ctx); tx != nil {
		err = r.store.TxGet(tx, offerID, &offer)
	} else {
		err = r.store.Get(offerID, &offer)
	}
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}
