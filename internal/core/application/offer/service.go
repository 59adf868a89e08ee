package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/wallet"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

var (
	// ErrInvalidOffer is returned when placing an offer with inconsistent
	// amounts or missing maker info.
	ErrInvalidOffer = errors.New("invalid offer")

	// priceTolerance is the max relative distance between the price seen by
	// a taker and the one of the offer.
	priceTolerance = decimal.NewFromFloat(0.01)
)

// Service manages the offers created by the local node, playing the maker
// role.
type Service struct {
	repo   domain.OpenOfferRepository
	wallet *wallet.Service
	book   *Book
}

func NewService(
	repo domain.OpenOfferRepository, walletSvc *wallet.Service, book *Book,
) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("missing open offer repository")
	}
	if walletSvc == nil {
		return nil, fmt.Errorf("missing wallet service")
	}
	if book == nil {
		book = NewBook()
	}
	return &Service{repo, walletSvc, book}, nil
}

// Book returns the offer book this node knows about.
func (s *Service) Book() *Book {
	return s.book
}

// PlaceOffer stores a new open offer and reserves the address funding it.
// The offer is also added to the local book.
func (s *Service) PlaceOffer(
	ctx context.Context, offer domain.Offer, account *domain.PaymentAccountPayload,
) (*domain.OpenOffer, *domain.AddressEntry, error) {
	if err := validateOffer(offer); err != nil {
		return nil, nil, err
	}
	if offer.Protocol == domain.ProtocolMultisig && account == nil {
		return nil, nil, fmt.Errorf("%w: missing payment account", ErrInvalidOffer)
	}
	if offer.Id == "" {
		offer.Id = uuid.New().String()
	}
	if offer.CreatedAt == 0 {
		offer.CreatedAt = time.Now().Unix()
	}

	funding, err := s.wallet.GetOrCreateAddressEntry(
		ctx, offer.Id, domain.AddressContextOfferFunding,
	)
	if err != nil {
		return nil, nil, err
	}

	openOffer := &domain.OpenOffer{
		Offer:          offer,
		State:          domain.OpenOfferAvailable,
		PaymentAccount: account,
	}
	if err := s.repo.AddOpenOffer(ctx, openOffer); err != nil {
		return nil, nil, err
	}
	s.book.AddOffer(offer)

	log.Infof(
		"placed %s offer %s for %d sats at %s %s",
		offer.Direction, offer.Id, offer.Amount, offer.Price, offer.CurrencyCode,
	)
	return openOffer, funding, nil
}

func (s *Service) GetOpenOffer(
	ctx context.Context, offerID string,
) (*domain.OpenOffer, error) {
	return s.repo.GetOpenOffer(ctx, offerID)
}

func (s *Service) GetOpenOffers(ctx context.Context) ([]*domain.OpenOffer, error) {
	return s.repo.GetOpenOffers(ctx)
}

// CheckAvailability answers an availability request of a taker.
func (s *Service) CheckAvailability(
	ctx context.Context, offerID string, takersPrice decimal.Decimal,
) domain.AvailabilityResult {
	openOffer, err := s.repo.GetOpenOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, domain.ErrOfferNotFound) {
			return domain.AvailabilityOfferTaken
		}
		log.WithError(err).Warnf("failed to check availability of offer %s", offerID)
		return domain.AvailabilityUnknownFailure
	}
	if !openOffer.IsAvailable() {
		return domain.AvailabilityOfferTaken
	}
	if !isPriceInTolerance(openOffer.Offer.Price, takersPrice) {
		return domain.AvailabilityPriceOutOfTolerance
	}
	return domain.AvailabilityAvailable
}

// ReserveOpenOffer prevents a second taker from taking the offer while a
// trade is being negotiated.
func (s *Service) ReserveOpenOffer(ctx context.Context, offerID string) error {
	return s.repo.UpdateOpenOffer(
		ctx, offerID,
		func(o *domain.OpenOffer) (*domain.OpenOffer, error) {
			if err := o.Reserve(); err != nil {
				return nil, err
			}
			return o, nil
		},
	)
}

// ReleaseOpenOffer makes a reserved offer available again, eg. when no trade
// could be created for the take request. Offers not owned by this node are
// ignored.
func (s *Service) ReleaseOpenOffer(ctx context.Context, offerID string) error {
	err := s.repo.UpdateOpenOffer(
		ctx, offerID,
		func(o *domain.OpenOffer) (*domain.OpenOffer, error) {
			o.Release()
			return o, nil
		},
	)
	if err != nil && !errors.Is(err, domain.ErrOfferNotFound) {
		return err
	}
	if err == nil {
		log.Debugf("offer %s is available again", offerID)
	}
	return nil
}

// CloseOpenOffer marks the offer as consumed and removes it from the book.
// Offers not owned by this node are ignored.
func (s *Service) CloseOpenOffer(ctx context.Context, offerID string) error {
	err := s.repo.UpdateOpenOffer(
		ctx, offerID,
		func(o *domain.OpenOffer) (*domain.OpenOffer, error) {
			o.Close()
			return o, nil
		},
	)
	if err != nil && !errors.Is(err, domain.ErrOfferNotFound) {
		return err
	}
	s.book.RemoveOffer(offerID)
	return nil
}

// CancelOpenOffer withdraws an offer that is not being traded and releases
// the address entries reserved for it.
func (s *Service) CancelOpenOffer(ctx context.Context, offerID string) error {
	if err := s.repo.UpdateOpenOffer(
		ctx, offerID,
		func(o *domain.OpenOffer) (*domain.OpenOffer, error) {
			if err := o.Cancel(); err != nil {
				return nil, err
			}
			return o, nil
		},
	); err != nil {
		return err
	}

	s.book.RemoveOffer(offerID)
	if err := s.wallet.ResetAddressEntriesForOpenOffer(ctx, offerID); err != nil {
		return err
	}

	log.Infof("canceled offer %s", offerID)
	return nil
}

func validateOffer(offer domain.Offer) error {
	if offer.Amount == 0 {
		return fmt.Errorf("%w: amount must not be zero", ErrInvalidOffer)
	}
	if offer.MinAmount > offer.Amount {
		return fmt.Errorf("%w: min amount greater than amount", ErrInvalidOffer)
	}
	if !offer.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOffer)
	}
	if offer.MakerNodeAddress == "" {
		return fmt.Errorf("%w: missing maker node address", ErrInvalidOffer)
	}
	if offer.Protocol == domain.ProtocolMultisig &&
		(offer.BuyerSecurityDeposit == 0 || offer.SellerSecurityDeposit == 0) {
		return fmt.Errorf("%w: missing security deposit", ErrInvalidOffer)
	}
	return nil
}

func isPriceInTolerance(offerPrice, takersPrice decimal.Decimal) bool {
	if offerPrice.IsZero() {
		return false
	}
	distance := offerPrice.Sub(takersPrice).Abs().Div(offerPrice)
	return distance.LessThanOrEqual(priceTolerance)
}
