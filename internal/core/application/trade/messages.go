package trade

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/delivery"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// OnDirectMessage routes a message received from a peer. Acks are first
// offered to the delivery layer, trade messages go to the protocol of their
// trade and the take offer requests of unknown trades start a new trade on
// the maker side.
func (m *Manager) OnDirectMessage(msg domain.TradeMessage, from domain.Sender) {
	switch msg := msg.(type) {
	case *domain.AckMessage:
		m.handleAck(msg, from)
	case *domain.OfferAvailabilityRequest:
		m.handleAvailabilityRequest(msg, from.Address)
	case *domain.OfferAvailabilityResponse:
		m.handleAvailabilityResponse(msg)
	default:
		m.handleTradeMessage(msg, from)
	}
}

func (m *Manager) handleAck(ack *domain.AckMessage, from domain.Sender) {
	if m.provider.Delivery.OnAck(ack, from) {
		return
	}
	p, ok := m.getProtocol(ack.TradeId)
	if !ok {
		log.Debugf("dropping ack of %s: trade %s not active", ack.SourceType, ack.TradeId)
		return
	}
	if err := p.HandleAck(ack, from); err != nil {
		log.WithError(err).Debugf("failed to forward ack to trade %s", ack.TradeId)
	}
}

func (m *Manager) handleTradeMessage(msg domain.TradeMessage, from domain.Sender) {
	tradeID := msg.GetTradeId()
	if p, ok := m.getProtocol(tradeID); ok {
		if err := p.HandleMessage(msg, from); err != nil {
			log.WithError(err).Warnf("failed to forward %s to trade %s", msg.Type(), tradeID)
		}
		return
	}

	var takerKeys domain.PubKeyRing
	switch req := msg.(type) {
	case *domain.InputsForDepositTxRequest:
		takerKeys = req.TakerPubKeyRing
	case *domain.SwapTxRequest:
		takerKeys = req.TakerPubKeyRing
	default:
		log.Warnf("dropping %s from %s: trade %s not active", msg.Type(), from.Address, tradeID)
		return
	}
	if !from.IsSignedBy(takerKeys.SignaturePubKey) {
		log.Warnf(
			"dropping %s for offer %s from %s: not signed by the taker",
			msg.Type(), tradeID, from.Address,
		)
		return
	}

	if err := m.onTakeOfferRequest(msg, from, takerKeys); err != nil {
		log.WithError(err).Warnf("rejected %s for offer %s from %s", msg.Type(), tradeID, from.Address)
		m.reject(msg, from.Address, takerKeys, err)
	}
}

// onTakeOfferRequest creates the maker side of a trade for an available
// open offer and hands it the request.
func (m *Manager) onTakeOfferRequest(
	msg domain.TradeMessage, from domain.Sender, takerKeys domain.PubKeyRing,
) error {
	ctx := context.Background()
	offerID := msg.GetTradeId()

	if offerID == "" {
		return fmt.Errorf("missing trade id")
	}
	if !m.isInitialized() {
		return ErrNotInitialized
	}

	openOffer, err := m.provider.Offers.GetOpenOffer(ctx, offerID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOfferNotAvailable, err)
	}
	if !openOffer.IsAvailable() {
		return fmt.Errorf("%w: offer is %s", ErrOfferNotAvailable, openOffer.State)
	}
	if err := m.checkOfferNotUsed(ctx, offerID); err != nil {
		return err
	}
	if err := m.provider.Offers.ReserveOpenOffer(ctx, offerID); err != nil {
		return err
	}

	info := domain.TradeInfo{
		Offer:           openOffer.Offer,
		Role:            domain.RoleMaker,
		PeerNodeAddress: from.Address,
		MyNodeAddress:   m.p2p.NodeAddress(),
		PubKeyRing:      m.provider.KeyRing.PubKeyRing(),
	}
	switch req := msg.(type) {
	case *domain.InputsForDepositTxRequest:
		info.Amount, info.Price = req.TradeAmount, req.TradePrice
		info.TxFee, info.TakerFee = req.TxFee, req.TakerFee
	case *domain.SwapTxRequest:
		info.Amount, info.Price, info.TxFee = req.TradeAmount, req.TradePrice, req.TxFee
	}
	t := domain.NewTrade(info)
	t.ProcessModel.TradePeer.PubKeyRing = takerKeys
	if openOffer.PaymentAccount != nil {
		account := *openOffer.PaymentAccount
		t.ProcessModel.PaymentAccountPayload = &account
		t.ProcessModel.AccountId = account.Id
	}

	if err := m.provider.Repository.AddTrade(ctx, t); err != nil {
		m.releaseOffer(ctx, offerID)
		if errors.Is(err, domain.ErrTradeAlreadyExists) {
			return ErrOfferAlreadyUsed
		}
		return err
	}

	p, err := m.startProtocol(t)
	if err != nil {
		m.moveToFailed(ctx, t, err)
		return err
	}
	log.Infof("offer %s taken by %s, started %s", offerID, from.Address, t.TypeName())

	return p.HandleMessage(msg, from)
}

func (m *Manager) handleAvailabilityRequest(
	req *domain.OfferAvailabilityRequest, from domain.NodeAddress,
) {
	ctx := context.Background()

	result := domain.AvailabilityMakerDenied
	if m.isInitialized() {
		result = m.provider.Offers.CheckAvailability(ctx, req.TradeId, req.TakersTradePrice)
		if result == domain.AvailabilityAvailable {
			if err := m.checkOfferNotUsed(ctx, req.TradeId); err != nil {
				result = domain.AvailabilityOfferTaken
			}
		}
	}
	log.Debugf("availability of offer %s asked by %s: %s", req.TradeId, from, result)

	resp := &domain.OfferAvailabilityResponse{
		MessageBase: domain.NewMessageBase(
			req.TradeId, m.p2p.NodeAddress(), domain.MsgOfferAvailabilityResponse,
			req.Uid,
		),
		RequestUid: req.Uid,
		Result:     result,
	}
	if _, err := m.provider.Delivery.Send(ctx, delivery.Request{
		Peer:           from,
		PeerPubKeyRing: req.TakerPubKeyRing,
		Message:        resp,
	}); err != nil {
		log.WithError(err).Warnf("failed to answer availability request of %s", from)
	}
}

func (m *Manager) handleAvailabilityResponse(resp *domain.OfferAvailabilityResponse) {
	m.lock.RLock()
	resultCh, ok := m.availabilityRequests[resp.RequestUid]
	m.lock.RUnlock()

	if !ok {
		log.Debugf("dropping unexpected availability response for offer %s", resp.TradeId)
		return
	}
	select {
	case resultCh <- resp.Result:
	default:
	}
}

// reject nacks a message that could not be handed to any protocol.
func (m *Manager) reject(
	msg domain.TradeMessage, to domain.NodeAddress,
	peerKeys domain.PubKeyRing, cause error,
) {
	ack := domain.NewAckMessage(msg, m.p2p.NodeAddress(), false, cause.Error())
	if _, err := m.provider.Delivery.Send(context.Background(), delivery.Request{
		Peer:           to,
		PeerPubKeyRing: peerKeys,
		Message:        ack,
	}); err != nil {
		log.WithError(err).Warnf("failed to nack %s of %s", msg.Type(), to)
	}
}

func (m *Manager) releaseOffer(ctx context.Context, offerID string) {
	if err := m.provider.Offers.ReleaseOpenOffer(ctx, offerID); err != nil {
		log.WithError(err).Warnf("failed to release offer %s", offerID)
	}
}
