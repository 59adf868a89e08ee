package inmemory

import (
	"bytes"
	"context"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

type addressEntryRepositoryImpl struct {
	store *store
}

// NewAddressEntryRepositoryImpl returns a new inmemory AddressEntryRepository
// implementation.
func NewAddressEntryRepositoryImpl() domain.AddressEntryRepository {
	return &addressEntryRepositoryImpl{newStore()}
}

func (r *addressEntryRepositoryImpl) AddEntries(
	_ context.Context, entries ...*domain.AddressEntry,
) (int, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	count := 0
	for _, e := range entries {
		if _, ok := r.store.items[e.Address]; ok {
			continue
		}
		if err := r.store.put(e.Address, e); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (r *addressEntryRepositoryImpl) GetEntry(
	_ context.Context, address string,
) (*domain.AddressEntry, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	return r.getEntry(address)
}

func (r *addressEntryRepositoryImpl) FindEntry(
	_ context.Context, offerID string, addrContext domain.AddressContext,
) (*domain.AddressEntry, error) {
	return r.findOne(func(e *domain.AddressEntry) bool {
		return e.OfferId == offerID && e.Context == addrContext
	})
}

func (r *addressEntryRepositoryImpl) FindEntryByPubKey(
	_ context.Context, pubkey []byte,
) (*domain.AddressEntry, error) {
	return r.findOne(func(e *domain.AddressEntry) bool {
		return bytes.Equal(e.PubKey, pubkey)
	})
}

func (r *addressEntryRepositoryImpl) GetEntriesForOffer(
	_ context.Context, offerID string,
) ([]*domain.AddressEntry, error) {
	return r.filter(func(e *domain.AddressEntry) bool {
		return offerID != "" && e.OfferId == offerID
	})
}

func (r *addressEntryRepositoryImpl) GetAvailableEntries(
	_ context.Context,
) ([]*domain.AddressEntry, error) {
	return r.filter(func(e *domain.AddressEntry) bool {
		return e.IsAvailable()
	})
}

func (r *addressEntryRepositoryImpl) GetAllEntries(
	_ context.Context,
) ([]*domain.AddressEntry, error) {
	return r.filter(func(*domain.AddressEntry) bool { return true })
}

func (r *addressEntryRepositoryImpl) UpdateEntries(
	_ context.Context,
	addresses []string,
	updateFn func(entries []*domain.AddressEntry) ([]*domain.AddressEntry, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	entries := make([]*domain.AddressEntry, 0, len(addresses))
	for _, addr := range addresses {
		e, err := r.getEntry(addr)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}

	updated, err := updateFn(entries)
	if err != nil {
		return err
	}
	for _, e := range updated {
		if err := r.store.put(e.Address, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *addressEntryRepositoryImpl) getEntry(
	address string,
) (*domain.AddressEntry, error) {
	entry := &domain.AddressEntry{}
	found, err := r.store.get(address, entry)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrAddressEntryNotFound
	}
	return entry, nil
}

func (r *addressEntryRepositoryImpl) findOne(
	match func(e *domain.AddressEntry) bool,
) (*domain.AddressEntry, error) {
	entries, err := r.filter(match)
	if err != nil {
		return nil, err
	}
	if len(entries) <= 0 {
		return nil, domain.ErrAddressEntryNotFound
	}
	return entries[0], nil
}

func (r *addressEntryRepositoryImpl) filter(
	match func(e *domain.AddressEntry) bool,
) ([]*domain.AddressEntry, error) {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	entries := make([]*domain.AddressEntry, 0)
	for _, addr := range r.store.keys() {
		e, err := r.getEntry(addr)
		if err != nil {
			return nil, err
		}
		if match(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
