package dbbadger

import (
	"bytes"
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type addressEntryRepositoryImpl struct {
	store *badgerhold.Store
}

// NewAddressEntryRepositoryImpl returns a badger based AddressEntryRepository.
func NewAddressEntryRepositoryImpl(
	store *badgerhold.Store,
) domain.AddressEntryRepository {
	return &addressEntryRepositoryImpl{store}
}

func (r *addressEntryRepositoryImpl) AddEntries(
	ctx context.Context, entries ...*domain.AddressEntry,
) (int, error) {
	count := 0
	for _, e := range entries {
		var err error
		if tx := txFromContext(ctx); tx != nil {
			err = r.store.TxInsert(tx, e.Address, *e)
		} else {
			err = r.store.Insert(e.Address, *e)
		}
		if err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

func (r *addressEntryRepositoryImpl) GetEntry(
	ctx context.Context, address string,
) (*domain.AddressEntry, error) {
	return r.getEntry(ctx, address)
}

func (r *addressEntryRepositoryImpl) FindEntry(
	ctx context.Context, offerID string, addrContext domain.AddressContext,
) (*domain.AddressEntry, error) {
	query := badgerhold.Where("OfferId").Eq(offerID).
		And("Context").Eq(addrContext)
	return r.findOne(ctx, query)
}

func (r *addressEntryRepositoryImpl) FindEntryByPubKey(
	ctx context.Context, pubkey []byte,
) (*domain.AddressEntry, error) {
	query := badgerhold.Where("PubKey").MatchFunc(
		func(ra *badgerhold.RecordAccess) (bool, error) {
			key, ok := ra.Field().([]byte)
			return ok && bytes.Equal(key, pubkey), nil
		},
	)
	return r.findOne(ctx, query)
}

func (r *addressEntryRepositoryImpl) GetEntriesForOffer(
	ctx context.Context, offerID string,
) ([]*domain.AddressEntry, error) {
	if len(offerID) <= 0 {
		return []*domain.AddressEntry{}, nil
	}
	query := badgerhold.Where("OfferId").Eq(offerID)
	return r.findEntries(ctx, query)
}

func (r *addressEntryRepositoryImpl) GetAvailableEntries(
	ctx context.Context,
) ([]*domain.AddressEntry, error) {
	query := badgerhold.Where("Context").Eq(domain.AddressContextAvailable)
	return r.findEntries(ctx, query)
}

func (r *addressEntryRepositoryImpl) GetAllEntries(
	ctx context.Context,
) ([]*domain.AddressEntry, error) {
	return r.findEntries(ctx, nil)
}

func (r *addressEntryRepositoryImpl) UpdateEntries(
	ctx context.Context,
	addresses []string,
	updateFn func(entries []*domain.AddressEntry) ([]*domain.AddressEntry, error),
) error {
	if txFromContext(ctx) != nil {
		return r.updateEntries(ctx, addresses, updateFn)
	}

	return r.store.Badger().Update(func(tx *badger.Txn) error {
		return r.updateEntries(
			context.WithValue(ctx, "tx", tx), addresses, updateFn,
		)
	})
}

func (r *addressEntryRepositoryImpl) updateEntries(
	ctx context.Context,
	addresses []string,
	updateFn func(entries []*domain.AddressEntry) ([]*domain.AddressEntry, error),
) error {
	entries := make([]*domain.AddressEntry, 0, len(addresses))
	for _, addr := range addresses {
		e, err := r.getEntry(ctx, addr)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}

	updated, err := updateFn(entries)
	if err != nil {
		return err
	}

	tx := txFromContext(ctx)
	for _, e := range updated {
		if err := r.store.TxUpsert(tx, e.Address, *e); err != nil {
			return err
		}
	}
	return nil
}

func (r *addressEntryRepositoryImpl) getEntry(
	ctx context.Context, address string,
) (*domain.AddressEntry, error) {
	var entry domain.AddressEntry
	var err error
	if tx := txFromContext(ctx); tx != nil {
		err = r.store.TxGet(tx, address, &entry)
	} else {
		err = r.store.Get(address, &entry)
	}
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrAddressEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (r *addressEntryRepositoryImpl) findOne(
	ctx context.Context, query *badgerhold.Query,
) (*domain.AddressEntry, error) {
	entries, err := r.findEntries(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(entries) <= 0 {
		return nil, domain.ErrAddressEntryNotFound
	}
	return entries[0], nil
}

func (r *addressEntryRepositoryImpl) findEntries(
	ctx context.Context, query *badgerhold.Query,
) ([]*domain.AddressEntry, error) {
	var list []domain.AddressEntry
	var err error
	if tx := txFromContext(ctx); tx != nil {
		err = r.store.TxFind(tx, &list, query)
	} else {
		err = r.store.Find(&list, query)
	}
	if err != nil {
		return nil, err
	}

	entries := make([]*domain.AddressEntry, 0, len(list))
	for i := range list {
		entries = append(entries, &list[i])
	}
	return entries, nil
}
