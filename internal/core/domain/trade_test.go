package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/thanhpk/randstr"
)

func TestNewTrade(t *testing.T) {
	tests := []struct {
		name      string
		direction domain.OfferDirection
		role      domain.Role
		side      domain.Side
		typeName  string
	}{
		{"buyer_as_maker", domain.OfferDirectionBuy, domain.RoleMaker, domain.SideBuyer, "BuyerAsMakerTrade"},
		{"seller_as_taker", domain.OfferDirectionBuy, domain.RoleTaker, domain.SideSeller, "SellerAsTakerTrade"},
		{"seller_as_maker", domain.OfferDirectionSell, domain.RoleMaker, domain.SideSeller, "SellerAsMakerTrade"},
		{"buyer_as_taker", domain.OfferDirectionSell, domain.RoleTaker, domain.SideBuyer, "BuyerAsTakerTrade"},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			offer := newOffer(tt.direction)
			trade := domain.NewTrade(domain.TradeInfo{
				Offer:  offer,
				Role:   tt.role,
				Amount: offer.Amount,
				Price:  offer.Price,
			})
			require.Equal(t, offer.Id, trade.Id)
			require.NotEmpty(t, trade.Uid)
			require.Equal(t, tt.side, trade.Side)
			require.Equal(t, tt.typeName, trade.TypeName())
			require.Equal(t, domain.StatePreparation, trade.State)
			require.Equal(t, domain.TradeListPending, trade.List)
			require.NotNil(t, trade.ProcessModel.MessageStates)
		})
	}
}

func TestTradeSetStateIfProgress(t *testing.T) {
	trade := newTrade(domain.RoleTaker, domain.OfferDirectionSell)

	require.True(t, trade.SetStateIfProgress(domain.StateBuyerSawDepositTxInNetwork))
	require.False(t, trade.SetStateIfProgress(domain.StateBuyerReceivedDepositTxPublishedMsg))
	require.Equal(t, domain.StateBuyerSawDepositTxInNetwork, trade.State)
	require.True(t, trade.SetStateIfProgress(domain.StateBuyerSawDepositTxInNetwork))
	require.True(t, trade.SetStateIfProgress(domain.StateDepositConfirmedInBlockChain))
	require.Equal(t, domain.PhaseDepositConfirmed, trade.Phase())
}

func TestTradeSetStateIfValidTransitionTo(t *testing.T) {
	trade := newTrade(domain.RoleTaker, domain.OfferDirectionSell)
	trade.State = domain.StateBuyerConfirmedInUIFiatPaymentInitiated

	// Moving within the same phase is allowed in both directions.
	require.True(t, trade.SetStateIfValidTransitionTo(domain.StateBuyerSendFailedFiatPaymentInitiatedMsg))
	require.True(t, trade.SetStateIfValidTransitionTo(domain.StateBuyerSawArrivedFiatPaymentInitiatedMsg))
	require.Equal(t, domain.StateBuyerSawArrivedFiatPaymentInitiatedMsg, trade.State)

	// Going back to a previous phase is not.
	require.False(t, trade.SetStateIfValidTransitionTo(domain.StateDepositConfirmedInBlockChain))

	trade.State = domain.StateBuyerReceivedPayoutTxPublishedMsg
	require.False(t, trade.SetStateIfValidTransitionTo(domain.StateBuyerSawArrivedFiatPaymentInitiatedMsg))
	require.Equal(t, domain.StateBuyerReceivedPayoutTxPublishedMsg, trade.State)
}

func TestTradeSetOnceArtifacts(t *testing.T) {
	trade := newTrade(domain.RoleMaker, domain.OfferDirectionBuy)
	txid := randstr.Hex(32)

	require.NoError(t, trade.SetDepositTx(txid, []byte{1}))
	require.NoError(t, trade.SetDepositTx(txid, []byte{1, 2}))
	require.Equal(t, []byte{1}, trade.DepositTx)
	require.ErrorIs(t, trade.SetDepositTx(randstr.Hex(32), []byte{3}), domain.ErrArtifactAlreadySet)

	require.NoError(t, trade.SetDelayedPayoutTx([]byte{4}))
	require.NoError(t, trade.SetDelayedPayoutTx([]byte{4}))
	require.ErrorIs(t, trade.SetDelayedPayoutTx([]byte{5}), domain.ErrArtifactAlreadySet)

	require.NoError(t, trade.SetLockTime(800000))
	require.ErrorIs(t, trade.SetLockTime(800001), domain.ErrArtifactAlreadySet)

	require.NoError(t, trade.SetContract(&domain.Contract{}, "{}", []byte{0}))
	require.ErrorIs(t, trade.SetContract(&domain.Contract{}, "{\"a\":1}", nil), domain.ErrArtifactAlreadySet)
}

func TestTradeIsFundsLockedIn(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(tr *domain.Trade)
		expected bool
	}{
		{
			name:     "deposit_not_published",
			setup:    func(tr *domain.Trade) {},
			expected: false,
		},
		{
			name: "deposit_published",
			setup: func(tr *domain.Trade) {
				tr.State = domain.StateSellerPublishedDepositTx
				tr.DepositTxId = randstr.Hex(32)
			},
			expected: true,
		},
		{
			name: "payout_published",
			setup: func(tr *domain.Trade) {
				tr.State = domain.StateSellerPublishedPayoutTx
				tr.DepositTxId = randstr.Hex(32)
				tr.PayoutTxId = randstr.Hex(32)
			},
			expected: false,
		},
		{
			name: "refund_closed",
			setup: func(tr *domain.Trade) {
				tr.State = domain.StateDepositConfirmedInBlockChain
				tr.DepositTxId = randstr.Hex(32)
				tr.DisputeState = domain.DisputeStateRefundRequestClosed
			},
			expected: false,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			trade := newTrade(domain.RoleMaker, domain.OfferDirectionSell)
			tt.setup(trade)
			require.Equal(t, tt.expected, trade.IsFundsLockedIn())
		})
	}
}

func TestTradeAmounts(t *testing.T) {
	trade := newTrade(domain.RoleTaker, domain.OfferDirectionBuy)
	trade.TxFee = 1000

	require.True(t, trade.IsSeller())
	require.Equal(t, uint64(1_000_000+150_000+1000), trade.MultisigOutputValue()-trade.Offer.BuyerSecurityDeposit)
	require.Equal(t, trade.Amount+trade.Offer.SellerSecurityDeposit+2*trade.TxFee, trade.OwnDepositContribution())
	require.Equal(t, trade.MultisigOutputValue()-trade.TxFee, trade.BuyerPayoutAmount()+trade.SellerPayoutAmount())
	require.True(t, decimal.RequireFromString("300").Equal(trade.Volume()))
}

func TestTradeSwapAmounts(t *testing.T) {
	offer := newOffer(domain.OfferDirectionSell)
	offer.Protocol = domain.ProtocolAtomicSwap
	offer.Price = decimal.RequireFromString("0.05")
	trade := domain.NewTrade(domain.TradeInfo{
		Offer:  offer,
		Role:   domain.RoleTaker,
		Amount: offer.Amount,
		Price:  offer.Price,
		TxFee:  500,
	})

	require.Equal(t, "AtomicSwapBuyerAsTakerTrade", trade.TypeName())
	require.Equal(t, uint64(50_000), trade.CounterAmount())
	require.Equal(t, uint64(50_500), trade.OwnSwapContribution())
	require.False(t, trade.IsFundsLockedIn())
}

func TestTradePeriodDates(t *testing.T) {
	trade := newTrade(domain.RoleMaker, domain.OfferDirectionBuy)
	require.True(t, trade.MaxTradePeriodDate().IsZero())

	publishedAt := time.Now().Add(-time.Hour)
	trade.DepositPublishedAt = publishedAt.Unix()
	require.Equal(t, publishedAt.Unix()+int64((24*time.Hour).Seconds()), trade.MaxTradePeriodDate().Unix())
	require.Equal(t, publishedAt.Unix()+int64((12*time.Hour).Seconds()), trade.HalfTradePeriodDate().Unix())

	require.True(t, trade.SetPeriodState(domain.TradePeriodSecondHalf))
	require.False(t, trade.SetPeriodState(domain.TradePeriodFirstHalf))
}

func TestParseState(t *testing.T) {
	s, err := domain.ParseState("BUYER_SAW_DEPOSIT_TX_IN_NETWORK")
	require.NoError(t, err)
	require.Equal(t, domain.StateBuyerSawDepositTxInNetwork, s)

	_, err = domain.ParseState("NOT_A_STATE")
	require.ErrorIs(t, err, domain.ErrUnknownState)
}

func newOffer(direction domain.OfferDirection) domain.Offer {
	return domain.Offer{
		Id:                    randstr.Hex(16),
		Direction:             direction,
		MakerNodeAddress:      domain.NodeAddress("/ip4/127.0.0.1/tcp/9000/p2p/" + randstr.Hex(8)),
		CurrencyCode:          "EUR",
		PaymentMethodId:       "SEPA",
		Price:                 decimal.NewFromInt(30000),
		Amount:                1_000_000,
		MinAmount:             500_000,
		BuyerSecurityDeposit:  150_000,
		SellerSecurityDeposit: 150_000,
		MaxTradePeriod:        24 * time.Hour,
	}
}

func newTrade(role domain.Role, direction domain.OfferDirection) *domain.Trade {
	offer := newOffer(direction)
	return domain.NewTrade(domain.TradeInfo{
		Offer:  offer,
		Role:   role,
		Amount: offer.Amount,
		Price:  offer.Price,
	})
}
