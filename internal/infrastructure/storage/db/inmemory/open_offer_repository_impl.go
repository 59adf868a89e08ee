package inmemory

import (
	"context"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

type openOfferRepositoryImpl struct {
	store *store
}

// NewOpenOfferRepositoryImpl returns a new inmemory OpenOfferRepository
// implementation.
func NewOpenOfferRepositoryImpl() domain.OpenOfferRepository {
	return &openOfferRepositoryImpl{newStore()}
}

func (r *openOfferRepositoryImpl) AddOpenOffer(
	_ context.Context, offer *domain.OpenOffer,
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if _, ok := r.store.items[offer.Offer.Id]; ok {
		return nil
	}
	return r.store.put(offer.Offer.Id, offer)
}

func (r *openOfferRepositoryImpl) GetOpenOffer(
	_ context.Context, offerID string,
) (*domain.OpenOffer, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.getOpenOffer(offerID)
}

func (r *openOfferRepositoryImpl) GetOpenOffers(
	_ context.Context,
) ([]*domain.OpenOffer, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	offers := make([]*domain.OpenOffer, 0, len(r.store.items))
	for _, id := range r.store.keys() {
		o, err := r.getOpenOffer(id)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, nil
}

func (r *openOfferRepositoryImpl) UpdateOpenOffer(
	_ context.Context,
	offerID string,
	updateFn func(o *domain.OpenOffer) (*domain.OpenOffer, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	offer, err := r.getOpenOffer(offerID)
	if err != nil {
		return err
	}
	updated, err := updateFn(offer)
	if err != nil {
		return err
	}
	return r.store.put(offerID, updated)
}

func (r *openOfferRepositoryImpl) getOpenOffer(
	offerID string,
) (*domain.OpenOffer, error) {
	offer := &domain.OpenOffer{}
	found, err := r.store.get(offerID, offer)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrOfferNotFound
	}
	return offer, nil
}
