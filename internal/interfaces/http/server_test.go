package httpinterface_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/offer"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/trade"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/wallet/btcwallet"
	httpinterface "github.com/tdex-network/tdex-p2ptrade/internal/interfaces/http"
	"github.com/thanhpk/randstr"
)

const nodeAddress = domain.NodeAddress("/ip4/127.0.0.1/tcp/9945/p2p/peer")

func TestOperatorAPI(t *testing.T) {
	trades := newStubTrades()
	offers := &stubOffers{}
	book := offer.NewBook()
	handler := newHandler(t, trades, offers, book)

	t.Run("ping", func(t *testing.T) {
		rec := do(t, handler, http.MethodGet, "/api/ping", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "pong")
	})

	t.Run("node", func(t *testing.T) {
		rec := do(t, handler, http.MethodGet, "/api/node", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, string(nodeAddress), resp["nodeAddress"])
	})

	t.Run("place_offer", func(t *testing.T) {
		rec := do(t, handler, http.MethodPost, "/api/offers", map[string]interface{}{
			"direction":             "SELL",
			"currencyCode":          "EUR",
			"paymentMethodId":       "SEPA",
			"price":                 "30000",
			"amount":                1_000_000,
			"buyerSecurityDeposit":  150_000,
			"sellerSecurityDeposit": 150_000,
			"maxTradePeriod":        "24h",
			"paymentAccount": map[string]interface{}{
				"id":              randstr.Hex(16),
				"paymentMethodId": "SEPA",
				"holderName":      "alice",
			},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Len(t, offers.placed, 1)
		require.Equal(t, nodeAddress, offers.placed[0].MakerNodeAddress)
		require.Equal(t, domain.OfferDirectionSell, offers.placed[0].Direction)
		require.NotEmpty(t, offers.placed[0].Id)
		require.NotNil(t, offers.account)
	})

	t.Run("place_offer_invalid", func(t *testing.T) {
		tests := []struct {
			name string
			body map[string]interface{}
		}{
			{
				name: "unknown_direction",
				body: map[string]interface{}{"direction": "HOLD", "price": "1"},
			},
			{
				name: "invalid_price",
				body: map[string]interface{}{"direction": "BUY", "price": "cheap"},
			},
			{
				name: "unknown_field",
				body: map[string]interface{}{"direction": "BUY", "price": "1", "foo": 1},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := do(t, handler, http.MethodPost, "/api/offers", tt.body)
				require.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
	})

	t.Run("add_to_book", func(t *testing.T) {
		o := domain.Offer{
			Id:               randstr.Hex(16),
			Direction:        domain.OfferDirectionBuy,
			Protocol:         domain.ProtocolAtomicSwap,
			MakerNodeAddress: "/memory/maker",
			CurrencyCode:     "LTC",
			Price:            decimal.NewFromFloat(0.5),
			Amount:           100_000,
		}
		body := map[string]interface{}{
			"id":               o.Id,
			"direction":        "BUY",
			"protocol":         "AtomicSwap",
			"makerNodeAddress": string(o.MakerNodeAddress),
			"currencyCode":     o.CurrencyCode,
			"price":            o.Price.String(),
			"amount":           o.Amount,
		}
		rec := do(t, handler, http.MethodPost, "/api/book", body)
		require.Equal(t, http.StatusNoContent, rec.Code)

		got, err := book.GetOffer(o.Id)
		require.NoError(t, err)
		require.Equal(t, domain.ProtocolAtomicSwap, got.Protocol)
		require.True(t, o.Price.Equal(got.Price))

		rec = do(t, handler, http.MethodGet, "/api/book", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), o.Id)
	})

	t.Run("trades", func(t *testing.T) {
		rec := do(t, handler, http.MethodGet, "/api/trades?list=closed", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, domain.TradeListClosed, trades.lastList)

		rec = do(t, handler, http.MethodGet, "/api/trades?list=archived", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("trade", func(t *testing.T) {
		rec := do(t, handler, http.MethodGet, "/api/trades/"+trades.trade.Id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), trades.trade.Id)

		rec = do(t, handler, http.MethodGet, "/api/trades/unknown", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("take_offer_errors", func(t *testing.T) {
		tests := []struct {
			err        error
			wantStatus int
		}{
			{trade.ErrOfferAlreadyUsed, http.StatusConflict},
			{fmt.Errorf("wrapped: %w", trade.ErrInsufficientFunds), http.StatusBadRequest},
			{trade.ErrNotInitialized, http.StatusServiceUnavailable},
			{domain.ErrOfferNotFound, http.StatusNotFound},
			{fmt.Errorf("boom"), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			t.Run(tt.err.Error(), func(t *testing.T) {
				trades.takeErr = tt.err
				rec := do(t, handler, http.MethodPost, "/api/trades", map[string]interface{}{
					"offerId": randstr.Hex(16),
				})
				require.Equal(t, tt.wantStatus, rec.Code)
				require.Contains(t, rec.Body.String(), "error")
			})
		}
	})

	t.Run("actions", func(t *testing.T) {
		path := "/api/trades/" + trades.trade.Id
		rec := do(t, handler, http.MethodPost, path+"/paymentstarted", map[string]interface{}{
			"counterCurrencyTxId": "sepa-ref",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "sepa-ref", trades.trade.CounterCurrencyTxId)

		rec = do(t, handler, http.MethodPost, path+"/dispute", map[string]interface{}{
			"state": "MEDIATION_REQUESTED",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, domain.DisputeStateMediationRequested, trades.trade.DisputeState)

		rec = do(t, handler, http.MethodPost, path+"/dispute", map[string]interface{}{
			"state": "ESCALATED",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		trades.actionErr = trade.ErrTradeNotFailed
		rec = do(t, handler, http.MethodPost, path+"/unfail", nil)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("locked_funds", func(t *testing.T) {
		rec := do(t, handler, http.MethodGet, "/api/lockedfunds", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		trades.lockedErr = &trade.LockedFundsError{
			ClosedTradeIds: []string{trades.trade.Id},
		}
		rec = do(t, handler, http.MethodGet, "/api/lockedfunds", nil)
		require.Equal(t, http.StatusConflict, rec.Code)

		resp := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp["closedTradeIds"], 1)
	})
}

func TestNewHandler(t *testing.T) {
	_, err := httpinterface.NewHandler(httpinterface.Opts{})
	require.Error(t, err)

	_, err = httpinterface.NewServer(httpinterface.Opts{Addr: ":0"})
	require.Error(t, err)
}

func newHandler(
	t *testing.T, trades *stubTrades, offers *stubOffers, book *offer.Book,
) http.Handler {
	keyRing, err := btcwallet.NewKeyRing([]byte(randstr.Hex(64)))
	require.NoError(t, err)

	handler, err := httpinterface.NewHandler(httpinterface.Opts{
		Addr:    ":0",
		Trades:  trades,
		Offers:  offers,
		Book:    book,
		Node:    stubNode{},
		KeyRing: keyRing,
	})
	require.NoError(t, err)
	return handler
}

func do(
	t *testing.T, handler http.Handler, method, path string, body interface{},
) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type stubNode struct{}

func (stubNode) NodeAddress() domain.NodeAddress { return nodeAddress }

type stubOffers struct {
	placed  []domain.Offer
	account *domain.PaymentAccountPayload
}

func (s *stubOffers) PlaceOffer(
	_ context.Context, o domain.Offer, account *domain.PaymentAccountPayload,
) (*domain.OpenOffer, *domain.AddressEntry, error) {
	s.placed = append(s.placed, o)
	s.account = account
	return &domain.OpenOffer{Offer: o, PaymentAccount: account},
		&domain.AddressEntry{OfferId: o.Id, Address: "bcrt1qfunding"}, nil
}

func (s *stubOffers) GetOpenOffers(context.Context) ([]*domain.OpenOffer, error) {
	return nil, nil
}

func (s *stubOffers) CancelOpenOffer(context.Context, string) error {
	return nil
}

type stubTrades struct {
	trade     *domain.Trade
	lastList  domain.TradeList
	takeErr   error
	actionErr error
	lockedErr error
}

func newStubTrades() *stubTrades {
	return &stubTrades{
		trade: domain.NewTrade(domain.TradeInfo{
			Offer: domain.Offer{
				Id:        randstr.Hex(16),
				Direction: domain.OfferDirectionSell,
				Price:     decimal.NewFromInt(30000),
				Amount:    1_000_000,
			},
			Role:   domain.RoleTaker,
			Amount: 1_000_000,
			Price:  decimal.NewFromInt(30000),
		}),
	}
}

func (s *stubTrades) GetTrade(_ context.Context, id string) (*domain.Trade, error) {
	if id != s.trade.Id {
		return nil, domain.ErrTradeNotFound
	}
	return s.trade, nil
}

func (s *stubTrades) GetTrades(
	_ context.Context, list domain.TradeList,
) ([]*domain.Trade, error) {
	s.lastList = list
	return []*domain.Trade{s.trade}, nil
}

func (s *stubTrades) GetFundingAddress(
	_ context.Context, offerID string,
) (*domain.AddressEntry, error) {
	return &domain.AddressEntry{OfferId: offerID, Address: "bcrt1qfunding"}, nil
}

func (s *stubTrades) TakeOffer(
	context.Context, trade.TakeOfferRequest,
) (*domain.Trade, error) {
	if s.takeErr != nil {
		return nil, s.takeErr
	}
	return s.trade, nil
}

func (s *stubTrades) OnPaymentStarted(
	_ context.Context, _, txid, extraData string,
) error {
	s.trade.CounterCurrencyTxId = txid
	s.trade.CounterCurrencyExtraData = extraData
	return s.actionErr
}

func (s *stubTrades) OnPaymentReceived(context.Context, string) error {
	return s.actionErr
}

func (s *stubTrades) OnWithdrawRequest(context.Context, string, string) error {
	return s.actionErr
}

func (s *stubTrades) MoveTradeToFailed(context.Context, string, string) error {
	return s.actionErr
}

func (s *stubTrades) UnFailTrade(context.Context, string) error {
	return s.actionErr
}

func (s *stubTrades) SetDisputeState(
	_ context.Context, _ string, state domain.DisputeState,
) error {
	s.trade.DisputeState = state
	return s.actionErr
}

func (s *stubTrades) GetSetOfFailedOrClosedTradeIdsFromLockedInFunds(
	context.Context,
) ([]string, error) {
	return nil, s.lockedErr
}
