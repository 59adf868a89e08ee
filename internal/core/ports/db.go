package ports

import "github.com/tdex-network/tdex-p2ptrade/internal/core/domain"

// RepoManager gives access to all the repositories of the daemon.
type RepoManager interface {
	TradeRepository() domain.TradeRepository
	AddressEntryRepository() domain.AddressEntryRepository
	OpenOfferRepository() domain.OpenOfferRepository

	Close()
}
