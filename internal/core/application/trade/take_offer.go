package trade

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/delivery"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/protocol"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// TakeOfferRequest ...
type TakeOfferRequest struct {
	OfferId string
	// Amount defaults to the amount of the offer.
	Amount uint64
	// PaymentAccount is mandatory for multisig offers.
	PaymentAccount *domain.PaymentAccountPayload
}

// GetFundingAddress returns the address to fund before taking the given
// offer.
func (m *Manager) GetFundingAddress(
	ctx context.Context, offerID string,
) (*domain.AddressEntry, error) {
	if _, err := m.provider.Offers.Book().GetOffer(offerID); err != nil {
		return nil, err
	}
	return m.provider.Wallet.GetOrCreateAddressEntry(
		ctx, offerID, domain.AddressContextOfferFunding,
	)
}

// TakeOffer starts a trade for an offer of the book. The offer must not be
// used by any other trade, its funding address must hold enough for the
// local contribution and the maker must confirm it is still available.
// Rejections are reported with the sentinel errors of this package.
func (m *Manager) TakeOffer(
	ctx context.Context, req TakeOfferRequest,
) (*domain.Trade, error) {
	if !m.isInitialized() {
		return nil, ErrNotInitialized
	}

	offer, err := m.provider.Offers.Book().GetOffer(req.OfferId)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOfferNotAvailable, err)
	}
	if err := m.checkOfferNotUsed(ctx, offer.Id); err != nil {
		log.WithError(err).Warnf("cannot take offer %s", offer.Id)
		return nil, err
	}

	amount := req.Amount
	if amount == 0 {
		amount = offer.Amount
	}
	if !offer.IsAmountInRange(amount) {
		return nil, domain.ErrInvalidAmount
	}
	if offer.Protocol == domain.ProtocolMultisig && req.PaymentAccount == nil {
		return nil, protocol.ErrMissingPaymentAccount
	}

	takerFee := m.cfg.TakerFee
	if offer.Protocol == domain.ProtocolAtomicSwap {
		takerFee = 0
	}
	t := domain.NewTrade(domain.TradeInfo{
		Offer:           offer,
		Role:            domain.RoleTaker,
		Amount:          amount,
		Price:           offer.Price,
		TxFee:           m.cfg.TxFee,
		TakerFee:        takerFee,
		PeerNodeAddress: offer.MakerNodeAddress,
		MyNodeAddress:   m.p2p.NodeAddress(),
		PubKeyRing:      m.provider.KeyRing.PubKeyRing(),
	})
	t.ProcessModel.TradePeer.PubKeyRing = offer.MakerPubKeyRing
	if req.PaymentAccount != nil {
		account := *req.PaymentAccount
		t.ProcessModel.PaymentAccountPayload = &account
		t.ProcessModel.AccountId = account.Id
	}

	if err := m.checkFunds(ctx, t); err != nil {
		log.WithError(err).Warnf("cannot take offer %s", offer.Id)
		return nil, err
	}

	result, err := m.checkAvailability(ctx, offer)
	if err != nil {
		log.WithError(err).Warnf("cannot take offer %s", offer.Id)
		return nil, fmt.Errorf("%w: %s", ErrOfferNotAvailable, err)
	}
	if result != domain.AvailabilityAvailable {
		log.Warnf("cannot take offer %s: %s", offer.Id, result)
		return nil, fmt.Errorf("%w: %s", ErrOfferNotAvailable, result)
	}

	if err := m.provider.Repository.AddTrade(ctx, t); err != nil {
		if errors.Is(err, domain.ErrTradeAlreadyExists) {
			return nil, ErrOfferAlreadyUsed
		}
		return nil, err
	}
	log.Infof(
		"taking %s offer %s for %d sats as %s", offer.Direction, offer.Id,
		amount, t.TypeName(),
	)

	p, err := m.startProtocol(t)
	if err != nil {
		return nil, err
	}
	if err := p.TakeOffer(ctx); err != nil {
		return nil, err
	}
	return m.provider.Repository.GetTrade(ctx, t.Id)
}

// checkOfferNotUsed makes sure no trade of any list was created for the
// offer.
func (m *Manager) checkOfferNotUsed(ctx context.Context, offerID string) error {
	if _, ok := m.getProtocol(offerID); ok {
		return ErrOfferAlreadyUsed
	}
	_, err := m.provider.Repository.GetTrade(ctx, offerID)
	if err == nil {
		return ErrOfferAlreadyUsed
	}
	if errors.Is(err, domain.ErrTradeNotFound) {
		return nil
	}
	return err
}

func (m *Manager) checkFunds(ctx context.Context, t *domain.Trade) error {
	funding, err := m.provider.Wallet.FindAddressEntry(
		ctx, t.Id, domain.AddressContextOfferFunding,
	)
	if err != nil {
		if errors.Is(err, domain.ErrAddressEntryNotFound) {
			return fmt.Errorf("%w: offer funding address not found", ErrInsufficientFunds)
		}
		return err
	}

	utxos, err := m.provider.Chain.GetUnspents(ctx, funding.Address)
	if err != nil {
		return err
	}
	var balance uint64
	unconfirmed := 0
	for _, u := range utxos {
		balance += u.Value
		if !u.Confirmed {
			unconfirmed++
		}
	}
	if unconfirmed > m.cfg.MaxUnconfirmedOutputs {
		return fmt.Errorf(
			"%w: %d unconfirmed outputs", ErrUnconfirmedTxLimitHit, unconfirmed,
		)
	}

	needed := t.OwnSwapContribution()
	if t.Protocol == domain.ProtocolMultisig {
		needed = t.OwnDepositContribution() + t.TakerFee + t.TxFee
	}
	if balance < needed {
		return fmt.Errorf(
			"%w: funding address %s has %d sats, %d needed",
			ErrInsufficientFunds, funding.Address, balance, needed,
		)
	}
	return nil
}

// checkAvailability asks the maker whether the offer can still be taken at
// its price and waits for the answer.
func (m *Manager) checkAvailability(
	ctx context.Context, offer domain.Offer,
) (domain.AvailabilityResult, error) {
	req := &domain.OfferAvailabilityRequest{
		MessageBase: domain.NewMessageBase(
			offer.Id, m.p2p.NodeAddress(), domain.MsgOfferAvailabilityRequest,
			uuid.New().String(),
		),
		TakersTradePrice: offer.Price,
		TakerPubKeyRing:  m.provider.KeyRing.PubKeyRing(),
	}

	resultCh := make(chan domain.AvailabilityResult, 1)
	m.lock.Lock()
	m.availabilityRequests[req.Uid] = resultCh
	m.lock.Unlock()
	defer func() {
		m.lock.Lock()
		delete(m.availabilityRequests, req.Uid)
		m.lock.Unlock()
	}()

	if _, err := m.provider.Delivery.Send(ctx, delivery.Request{
		Peer:           offer.MakerNodeAddress,
		PeerPubKeyRing: offer.MakerPubKeyRing,
		Message:        req,
	}); err != nil {
		return domain.AvailabilityUnknownFailure, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.AvailabilityTimeout)
	defer cancel()

	select {
	case result := <-resultCh:
		return result, nil
	case <-ctx.Done():
		return domain.AvailabilityUnknownFailure, fmt.Errorf(
			"no answer from maker %s: %w", offer.MakerNodeAddress, ctx.Err(),
		)
	}
}
