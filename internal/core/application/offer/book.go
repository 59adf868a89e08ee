package offer

import (
	"sort"
	"sync"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// Book is the set of offers known to the node, both its own and those of
// the makers it can trade with.
type Book struct {
	lock   *sync.RWMutex
	offers map[string]domain.Offer
}

func NewBook() *Book {
	return &Book{&sync.RWMutex{}, make(map[string]domain.Offer)}
}

func (b *Book) AddOffer(offer domain.Offer) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.offers[offer.Id] = offer
}

func (b *Book) RemoveOffer(offerID string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	delete(b.offers, offerID)
}

func (b *Book) GetOffer(offerID string) (domain.Offer, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	offer, ok := b.offers[offerID]
	if !ok {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	return offer, nil
}

// GetOffers returns the offers of the book, oldest first.
func (b *Book) GetOffers() []domain.Offer {
	b.lock.RLock()
	defer b.lock.RUnlock()

	offers := make([]domain.Offer, 0, len(b.offers))
	for _, o := range b.offers {
		offers = append(offers, o)
	}
	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].CreatedAt < offers[j].CreatedAt
	})
	return offers
}
