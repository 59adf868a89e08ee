package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
)

var (
	// ErrAddressRecoveryFailed is returned when the keys backing the multisig
	// or the payout address of a trade cannot be found or are bound to a
	// different trade.
	ErrAddressRecoveryFailed = errors.New("failed to recover trade addresses")
	// ErrInsufficientFunds ...
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Service manages the address book of the wallet: which key is reserved for
// which offer and purpose.
type Service struct {
	repo     domain.AddressEntryRepository
	keychain ports.Keychain
	chain    ports.ChainService

	lock *sync.Mutex
}

func NewService(
	repo domain.AddressEntryRepository,
	keychain ports.Keychain,
	chain ports.ChainService,
) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("missing address entry repository")
	}
	if keychain == nil {
		return nil, fmt.Errorf("missing keychain")
	}
	if chain == nil {
		return nil, fmt.Errorf("missing chain service")
	}
	return &Service{repo, keychain, chain, &sync.Mutex{}}, nil
}

// Chain returns the chain service used to look up balances.
func (s *Service) Chain() ports.ChainService {
	return s.chain
}

// GetOrCreateAddressEntry returns the entry reserved for the given offer and
// purpose, deriving a fresh key if none exists yet.
func (s *Service) GetOrCreateAddressEntry(
	ctx context.Context, offerID string, addrContext domain.AddressContext,
) (*domain.AddressEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry, err := s.repo.FindEntry(ctx, offerID, addrContext)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, domain.ErrAddressEntryNotFound) {
		return nil, err
	}

	entry, err = s.newEntry(ctx)
	if err != nil {
		return nil, err
	}
	entry.Reserve(offerID, addrContext)
	if _, err := s.repo.AddEntries(ctx, entry); err != nil {
		return nil, err
	}

	log.Debugf(
		"reserved address %s for offer %s (%s)", entry.Address, offerID, addrContext,
	)
	return entry, nil
}

// GetFreshAvailableEntry derives a new address not bound to any offer.
func (s *Service) GetFreshAvailableEntry(
	ctx context.Context,
) (*domain.AddressEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry, err := s.newEntry(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.AddEntries(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// FindAddressEntry ...
func (s *Service) FindAddressEntry(
	ctx context.Context, offerID string, addrContext domain.AddressContext,
) (*domain.AddressEntry, error) {
	return s.repo.FindEntry(ctx, offerID, addrContext)
}

// GetAddressEntries returns the whole address book.
func (s *Service) GetAddressEntries(
	ctx context.Context,
) ([]*domain.AddressEntry, error) {
	return s.repo.GetAllEntries(ctx)
}

// SwapToContext moves the entry of an offer from one purpose to another, eg.
// from OFFER_FUNDING to RESERVED_FOR_TRADE once the offer gets taken.
func (s *Service) SwapToContext(
	ctx context.Context, offerID string, from, to domain.AddressContext,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry, err := s.repo.FindEntry(ctx, offerID, from)
	if err != nil {
		return err
	}
	return s.repo.UpdateEntries(
		ctx, []string{entry.Address},
		func(entries []*domain.AddressEntry) ([]*domain.AddressEntry, error) {
			entries[0].Reserve(offerID, to)
			return entries, nil
		},
	)
}

// SwapTradeEntryToAvailableEntry releases the entry of the given offer and
// purpose. Releasing an entry that does not exist is a no-op.
func (s *Service) SwapTradeEntryToAvailableEntry(
	ctx context.Context, offerID string, addrContext domain.AddressContext,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.release(ctx, offerID, addrContext)
}

// ResetAddressEntriesForPendingTrade releases the multisig and payout entries
// of a trade that will not progress anymore.
func (s *Service) ResetAddressEntriesForPendingTrade(
	ctx context.Context, offerID string,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.release(ctx, offerID, domain.AddressContextMultiSig); err != nil {
		return err
	}
	return s.release(ctx, offerID, domain.AddressContextTradePayout)
}

// ResetAddressEntriesForOpenOffer releases the funding entries of an offer.
func (s *Service) ResetAddressEntriesForOpenOffer(
	ctx context.Context, offerID string,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.release(ctx, offerID, domain.AddressContextOfferFunding); err != nil {
		return err
	}
	return s.release(ctx, offerID, domain.AddressContextReservedForTrade)
}

// SetCoinLockedInMultiSig records how much the multisig entry of the offer
// has locked in the deposit tx.
func (s *Service) SetCoinLockedInMultiSig(
	ctx context.Context, offerID string, amount uint64,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry, err := s.repo.FindEntry(ctx, offerID, domain.AddressContextMultiSig)
	if err != nil {
		return err
	}
	return s.repo.UpdateEntries(
		ctx, []string{entry.Address},
		func(entries []*domain.AddressEntry) ([]*domain.AddressEntry, error) {
			entries[0].CoinLockedInMultiSig = amount
			return entries, nil
		},
	)
}

// RecoverAddresses binds again the multisig and payout keys of the trade to
// it. Either both entries are restored or none is.
func (s *Service) RecoverAddresses(ctx context.Context, trade *domain.Trade) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	pm := trade.ProcessModel
	if len(pm.MyMultiSigPubKey) == 0 || pm.PayoutAddress == "" {
		return fmt.Errorf("%w: trade %s has no keys", ErrAddressRecoveryFailed, trade.Id)
	}

	multisig, err := s.repo.FindEntryByPubKey(ctx, pm.MyMultiSigPubKey)
	if err != nil {
		return fmt.Errorf("%w: multisig key: %s", ErrAddressRecoveryFailed, err)
	}
	payout, err := s.repo.GetEntry(ctx, pm.PayoutAddress)
	if err != nil {
		return fmt.Errorf("%w: payout address: %s", ErrAddressRecoveryFailed, err)
	}
	for _, e := range []*domain.AddressEntry{multisig, payout} {
		if e.OfferId != "" && e.OfferId != trade.Id {
			return fmt.Errorf(
				"%w: address %s is reserved for offer %s",
				ErrAddressRecoveryFailed, e.Address, e.OfferId,
			)
		}
	}

	var lockedInMultisig uint64
	if trade.IsFundsLockedIn() {
		lockedInMultisig = trade.MultisigOutputValue()
	}

	return s.repo.UpdateEntries(
		ctx, []string{multisig.Address, payout.Address},
		func(entries []*domain.AddressEntry) ([]*domain.AddressEntry, error) {
			for _, e := range entries {
				if bytes.Equal(e.PubKey, pm.MyMultiSigPubKey) {
					e.Reserve(trade.Id, domain.AddressContextMultiSig)
					e.CoinLockedInMultiSig = lockedInMultisig
					continue
				}
				e.Reserve(trade.Id, domain.AddressContextTradePayout)
			}
			return entries, nil
		},
	)
}

// GetBalance returns the funds held by the given entry.
func (s *Service) GetBalance(
	ctx context.Context, entry domain.AddressEntry,
) (uint64, error) {
	utxos, err := s.chain.GetUnspents(ctx, entry.Address)
	if err != nil {
		return 0, err
	}
	var balance uint64
	for _, u := range utxos {
		balance += u.Value
	}
	return balance, nil
}

func (s *Service) release(
	ctx context.Context, offerID string, addrContext domain.AddressContext,
) error {
	entry, err := s.repo.FindEntry(ctx, offerID, addrContext)
	if err != nil {
		if errors.Is(err, domain.ErrAddressEntryNotFound) {
			return nil
		}
		return err
	}
	if err := s.repo.UpdateEntries(
		ctx, []string{entry.Address},
		func(entries []*domain.AddressEntry) ([]*domain.AddressEntry, error) {
			entries[0].Release()
			return entries, nil
		},
	); err != nil {
		return err
	}

	log.Debugf("released address %s of offer %s (%s)", entry.Address, offerID, addrContext)
	return nil
}

func (s *Service) newEntry(ctx context.Context) (*domain.AddressEntry, error) {
	entries, err := s.repo.GetAllEntries(ctx)
	if err != nil {
		return nil, err
	}
	key, err := s.keychain.DeriveKey(uint32(len(entries)))
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return &domain.AddressEntry{
		Address:  key.Address,
		PubKey:   key.PubKey,
		KeyIndex: key.Index,
		Context:  domain.AddressContextAvailable,
	}, nil
}
