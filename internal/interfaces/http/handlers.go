package httpinterface

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/offer"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/protocol"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/trade"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/wallet"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, thing interface{}) {
	writeJSONWithStatus(w, thing, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, thing interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(thing); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONWithStatus(w, errorResponse{Error: err.Error()}, statusOf(err))
}

// statusOf maps the errors of the services to http status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrTradeNotFound),
		errors.Is(err, domain.ErrOfferNotFound):
		return http.StatusNotFound
	case errors.Is(err, trade.ErrOfferAlreadyUsed),
		errors.Is(err, trade.ErrOfferNotAvailable),
		errors.Is(err, trade.ErrTradeNotActive),
		errors.Is(err, trade.ErrTradeNotFailed),
		errors.Is(err, domain.ErrOfferNotAvailable):
		return http.StatusConflict
	case errors.Is(err, trade.ErrInsufficientFunds),
		errors.Is(err, trade.ErrUnconfirmedTxLimitHit),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, protocol.ErrMissingPaymentAccount),
		errors.Is(err, offer.ErrInvalidOffer),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, trade.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, wallet.ErrAddressRecoveryFailed):
		return http.StatusUnprocessableEntity
	}
	var lockedErr *trade.LockedFundsError
	if errors.As(err, &lockedErr) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s", errBadRequest, err)
	}
	return nil
}

func (s *server) apiPing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, "pong")
}

func (s *server) apiNode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, nodeInfo{
		NodeAddress: string(s.opts.Node.NodeAddress()),
		PubKeyRing:  newPubKeyRingView(s.opts.KeyRing.PubKeyRing()),
	})
}

func (s *server) apiLockedFunds(w http.ResponseWriter, r *http.Request) {
	ids, err := s.opts.Trades.GetSetOfFailedOrClosedTradeIdsFromLockedInFunds(r.Context())
	resp := lockedFundsResponse{TradeIds: ids}
	var lockedErr *trade.LockedFundsError
	if errors.As(err, &lockedErr) {
		resp.ClosedTradeIds = lockedErr.ClosedTradeIds
		resp.FailedTradeIds = lockedErr.FailedTradeIds
		resp.Error = lockedErr.Error()
		writeJSONWithStatus(w, resp, http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *server) apiOpenOffers(w http.ResponseWriter, r *http.Request) {
	openOffers, err := s.opts.Offers.GetOpenOffers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]openOfferView, 0, len(openOffers))
	for _, o := range openOffers {
		resp = append(resp, openOfferView{
			Offer: newOfferView(o.Offer),
			State: o.State.String(),
		})
	}
	writeJSON(w, resp)
}

func (s *server) apiPlaceOffer(w http.ResponseWriter, r *http.Request) {
	req := placeOfferRequest{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	o, err := req.offer()
	if err != nil {
		writeError(w, err)
		return
	}
	o.Id = uuid.New().String()
	o.MakerNodeAddress = s.opts.Node.NodeAddress()
	o.MakerPubKeyRing = s.opts.KeyRing.PubKeyRing()

	openOffer, funding, err := s.opts.Offers.PlaceOffer(
		r.Context(), o, req.PaymentAccount.payload(),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONWithStatus(w, placeOfferResponse{
		Offer:          newOfferView(openOffer.Offer),
		FundingAddress: funding.Address,
	}, http.StatusCreated)
}

func (s *server) apiCancelOffer(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Offers.CancelOpenOffer(
		r.Context(), chi.URLParam(r, offerIdKey),
	); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) apiBook(w http.ResponseWriter, _ *http.Request) {
	offers := s.opts.Book.GetOffers()
	resp := make([]offerView, 0, len(offers))
	for _, o := range offers {
		resp = append(resp, newOfferView(o))
	}
	writeJSON(w, resp)
}

func (s *server) apiAddToBook(w http.ResponseWriter, r *http.Request) {
	req := offerView{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	o, err := req.offer()
	if err != nil {
		writeError(w, err)
		return
	}
	s.opts.Book.AddOffer(o)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) apiFundingAddress(w http.ResponseWriter, r *http.Request) {
	entry, err := s.opts.Trades.GetFundingAddress(
		r.Context(), chi.URLParam(r, offerIdKey),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, fundingResponse{Address: entry.Address})
}

func (s *server) apiTrades(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("list")
	if name == "" {
		name = domain.TradeListPending.String()
	}
	list, ok := domain.ParseTradeList(strings.ToLower(name))
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown trade list %q", errBadRequest, name))
		return
	}

	trades, err := s.opts.Trades.GetTrades(r.Context(), list)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		resp = append(resp, newTradeView(t))
	}
	writeJSON(w, resp)
}

func (s *server) apiTrade(w http.ResponseWriter, r *http.Request) {
	t, err := s.opts.Trades.GetTrade(r.Context(), chi.URLParam(r, tradeIdKey))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, newTradeView(t))
}

func (s *server) apiTakeOffer(w http.ResponseWriter, r *http.Request) {
	req := takeOfferRequest{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.OfferId == "" {
		writeError(w, fmt.Errorf("%w: missing offer id", errBadRequest))
		return
	}

	t, err := s.opts.Trades.TakeOffer(r.Context(), trade.TakeOfferRequest{
		OfferId:        req.OfferId,
		Amount:         req.Amount,
		PaymentAccount: req.PaymentAccount.payload(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONWithStatus(w, newTradeView(t), http.StatusCreated)
}

func (s *server) apiPaymentStarted(w http.ResponseWriter, r *http.Request) {
	req := paymentStartedRequest{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.reply(w, r, s.opts.Trades.OnPaymentStarted(
		r.Context(), chi.URLParam(r, tradeIdKey),
		req.CounterCurrencyTxId, req.ExtraData,
	))
}

func (s *server) apiPaymentReceived(w http.ResponseWriter, r *http.Request) {
	s.reply(w, r, s.opts.Trades.OnPaymentReceived(
		r.Context(), chi.URLParam(r, tradeIdKey),
	))
}

func (s *server) apiWithdraw(w http.ResponseWriter, r *http.Request) {
	req := withdrawRequest{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.reply(w, r, s.opts.Trades.OnWithdrawRequest(
		r.Context(), chi.URLParam(r, tradeIdKey), req.Address,
	))
}

func (s *server) apiFail(w http.ResponseWriter, r *http.Request) {
	req := failRequest{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.reply(w, r, s.opts.Trades.MoveTradeToFailed(
		r.Context(), chi.URLParam(r, tradeIdKey), req.Reason,
	))
}

func (s *server) apiUnFail(w http.ResponseWriter, r *http.Request) {
	s.reply(w, r, s.opts.Trades.UnFailTrade(
		r.Context(), chi.URLParam(r, tradeIdKey),
	))
}

func (s *server) apiDispute(w http.ResponseWriter, r *http.Request) {
	req := disputeRequest{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	state, ok := parseDisputeState(req.State)
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown dispute state %q", errBadRequest, req.State))
		return
	}
	s.reply(w, r, s.opts.Trades.SetDisputeState(
		r.Context(), chi.URLParam(r, tradeIdKey), state,
	))
}

// reply returns the updated trade, or the error of the action.
func (s *server) reply(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	s.apiTrade(w, r)
}
