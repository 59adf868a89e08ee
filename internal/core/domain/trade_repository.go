package domain

import "context"

// TradeRepository is the abstraction for any kind of database intended to
// persist Trades of every list (pending, closed, failed, swap).
type TradeRepository interface {
	// AddTrade stores a new trade. It fails with ErrTradeAlreadyExists if a
	// trade with the same id exists in any list.
	AddTrade(ctx context.Context, trade *Trade) error
	// GetTrade returns the trade with the given id.
	GetTrade(ctx context.Context, tradeID string) (*Trade, error)
	// GetTradesByList returns all the trades of the given list.
	GetTradesByList(ctx context.Context, list TradeList) ([]*Trade, error)
	// GetAllTrades returns the trades of all lists.
	GetAllTrades(ctx context.Context) ([]*Trade, error)
	// SaveTrade inserts or overwrites the given trade.
	SaveTrade(ctx context.Context, trade *Trade) error
	// UpdateTrade allows to commit multiple changes to the same trade in a
	// transactional way.
	UpdateTrade(
		ctx context.Context,
		tradeID string,
		updateFn func(t *Trade) (*Trade, error),
	) error
	// DeleteTrade ...
	DeleteTrade(ctx context.Context, tradeID string) error
}

// AddressEntryRepository persists the address book of the wallet.
type AddressEntryRepository interface {
	// AddEntries stores new entries, existing ones are left untouched.
	AddEntries(ctx context.Context, entries ...*AddressEntry) (int, error)
	// GetEntry returns the entry for the given address.
	GetEntry(ctx context.Context, address string) (*AddressEntry, error)
	// FindEntry returns the entry reserved for the given offer and context.
	FindEntry(
		ctx context.Context, offerID string, context AddressContext,
	) (*AddressEntry, error)
	// FindEntryByPubKey ...
	FindEntryByPubKey(ctx context.Context, pubkey []byte) (*AddressEntry, error)
	// GetEntriesForOffer returns all the entries reserved for the given offer.
	GetEntriesForOffer(ctx context.Context, offerID string) ([]*AddressEntry, error)
	// GetAvailableEntries returns the entries not bound to any offer.
	GetAvailableEntries(ctx context.Context) ([]*AddressEntry, error)
	// GetAllEntries ...
	GetAllEntries(ctx context.Context) ([]*AddressEntry, error)
	// UpdateEntries applies updateFn to the entries of the given addresses and
	// persists the result atomically: either all of them are updated or none.
	UpdateEntries(
		ctx context.Context,
		addresses []string,
		updateFn func(entries []*AddressEntry) ([]*AddressEntry, error),
	) error
}

// OpenOfferRepository persists the offers created by the local node.
type OpenOfferRepository interface {
	AddOpenOffer(ctx context.Context, offer *OpenOffer) error
	GetOpenOffer(ctx context.Context, offerID string) (*OpenOffer, error)
	GetOpenOffers(ctx context.Context) ([]*OpenOffer, error)
	UpdateOpenOffer(
		ctx context.Context,
		offerID string,
		updateFn func(o *OpenOffer) (*OpenOffer, error),
	) error
}
