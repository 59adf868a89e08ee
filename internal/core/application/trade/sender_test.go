package trade_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/delivery"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/trade"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

func TestTakeRequestSignedByStranger(t *testing.T) {
	env := newTestEnv(t)
	maker := newTestNode(t, env, trade.Config{})
	taker := newTestNode(t, env, trade.Config{})
	stranger := newKeyRing(t)

	o := maker.placeOffer(t, env, newOffer(domain.ProtocolMultisig, domain.OfferDirectionBuy), taker)

	req := &domain.InputsForDepositTxRequest{
		MessageBase: domain.NewMessageBase(
			o.Id, taker.p2p.NodeAddress(), domain.MsgInputsForDepositTxRequest,
		),
		TakerPubKeyRing: taker.keyRing.PubKeyRing(),
	}
	maker.manager.OnDirectMessage(req, domain.Sender{
		Address:         taker.p2p.NodeAddress(),
		SignaturePubKey: stranger.PubKeyRing().SignaturePubKey,
	})

	require.False(t, maker.manager.IsActive(o.Id))
	_, err := maker.manager.GetTrade(ctx, o.Id)
	require.ErrorIs(t, err, domain.ErrTradeNotFound)

	openOffer, err := maker.offers.GetOpenOffer(ctx, o.Id)
	require.NoError(t, err)
	require.True(t, openOffer.IsAvailable())
}

func TestAckSignedByStranger(t *testing.T) {
	env := newTestEnv(t)
	stranger := newKeyRing(t)

	var deliver atomic.Bool
	var dropped int32
	maker := newTestNode(t, env, trade.Config{},
		withPolicies(map[domain.MessageType]delivery.Policy{
			domain.MsgDepositTxAndDelayedPayoutTx: {
				MaxResends:   8,
				InitialDelay: 20 * time.Millisecond,
			},
		}),
		intercepting(func(msg domain.TradeMessage) (domain.TradeMessage, error) {
			if msg.Type() == domain.MsgDepositTxAndDelayedPayoutTx && !deliver.Load() {
				atomic.AddInt32(&dropped, 1)
				return nil, nil
			}
			return msg, nil
		}),
	)
	taker := newTestNode(t, env, trade.Config{})

	o := maker.placeOffer(t, env, newOffer(domain.ProtocolMultisig, domain.OfferDirectionSell), taker)
	taker.fundOffer(t, env, o.Id, takerFunds)

	_, err := taker.manager.TakeOffer(ctx, trade.TakeOfferRequest{
		OfferId: o.Id, PaymentAccount: newPaymentAccount(),
	})
	require.NoError(t, err)

	sellerTrade := maker.waitForTrade(t, o.Id, func(tr *domain.Trade) bool {
		state, ok := tr.MessageState(domain.MsgDepositTxAndDelayedPayoutTx)
		return ok && len(state.Envelope) > 0
	})
	state, _ := sellerTrade.MessageState(domain.MsgDepositTxAndDelayedPayoutTx)
	source, err := domain.DecodeMessage(state.Envelope)
	require.NoError(t, err)

	forged := domain.NewAckMessage(source, taker.p2p.NodeAddress(), true, "")
	maker.manager.OnDirectMessage(forged, domain.Sender{
		Address:         taker.p2p.NodeAddress(),
		SignaturePubKey: stranger.PubKeyRing().SignaturePubKey,
	})

	// The resend cycle goes on as if nothing was received.
	sent := atomic.LoadInt32(&dropped)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&dropped) > sent
	}, waitFor, tick)

	tr, err := maker.manager.GetTrade(ctx, o.Id)
	require.NoError(t, err)
	state, _ = tr.MessageState(domain.MsgDepositTxAndDelayedPayoutTx)
	require.NotEqual(t, domain.MessageStatusAcknowledged, state.Status)
	require.Empty(t, tr.ErrorMessage)

	deliver.Store(true)
	maker.waitForTrade(t, o.Id, func(tr *domain.Trade) bool {
		state, ok := tr.MessageState(domain.MsgDepositTxAndDelayedPayoutTx)
		return ok && state.Status == domain.MessageStatusAcknowledged
	})
}
