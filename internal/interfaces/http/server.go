// Package httpinterface exposes the operator JSON API of the daemon and the
// prometheus metrics.
package httpinterface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/trade"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/tdex-network/tdex-p2ptrade/internal/interfaces"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second

	tradeIdKey = "tradeId"
	offerIdKey = "offerId"
)

// TradeService is the subset of the trade manager served to the operator.
type TradeService interface {
	GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error)
	GetTrades(ctx context.Context, list domain.TradeList) ([]*domain.Trade, error)
	GetFundingAddress(ctx context.Context, offerID string) (*domain.AddressEntry, error)
	TakeOffer(ctx context.Context, req trade.TakeOfferRequest) (*domain.Trade, error)
	OnPaymentStarted(ctx context.Context, tradeID, counterCurrencyTxId, extraData string) error
	OnPaymentReceived(ctx context.Context, tradeID string) error
	OnWithdrawRequest(ctx context.Context, tradeID, address string) error
	MoveTradeToFailed(ctx context.Context, tradeID, reason string) error
	UnFailTrade(ctx context.Context, tradeID string) error
	SetDisputeState(ctx context.Context, tradeID string, state domain.DisputeState) error
	GetSetOfFailedOrClosedTradeIdsFromLockedInFunds(ctx context.Context) ([]string, error)
}

// OfferService is the subset of the offer registry served to the operator.
type OfferService interface {
	PlaceOffer(
		ctx context.Context, offer domain.Offer, account *domain.PaymentAccountPayload,
	) (*domain.OpenOffer, *domain.AddressEntry, error)
	GetOpenOffers(ctx context.Context) ([]*domain.OpenOffer, error)
	CancelOpenOffer(ctx context.Context, offerID string) error
}

// OfferBook holds the offers of other nodes that can be taken.
type OfferBook interface {
	AddOffer(offer domain.Offer)
	GetOffers() []domain.Offer
}

// Node tells how the local node is reached by peers.
type Node interface {
	NodeAddress() domain.NodeAddress
}

type Opts struct {
	Addr    string
	Trades  TradeService
	Offers  OfferService
	Book    OfferBook
	Node    Node
	KeyRing ports.KeyRing
	Metrics http.Handler
}

func (o Opts) validate() error {
	if o.Addr == "" {
		return fmt.Errorf("missing listening address")
	}
	if o.Trades == nil {
		return fmt.Errorf("missing trade service")
	}
	if o.Offers == nil {
		return fmt.Errorf("missing offer service")
	}
	if o.Book == nil {
		return fmt.Errorf("missing offer book")
	}
	if o.Node == nil {
		return fmt.Errorf("missing node info")
	}
	if o.KeyRing == nil {
		return fmt.Errorf("missing key ring")
	}
	return nil
}

type server struct {
	opts Opts
	srv  *http.Server
}

// NewServer returns the operator HTTP server. The routes are served at
// /api, the metrics, if any, at /metrics.
func NewServer(opts Opts) (interfaces.Service, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	s := &server{opts: opts}
	s.srv = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router(),
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
	}
	return s, nil
}

// NewHandler returns the router of the operator API, mostly for testing.
func NewHandler(opts Opts) (http.Handler, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := &server{opts: opts}
	return s.router(), nil
}

func (s *server) router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RealIP)
	mux.Use(requestLogger)

	if s.opts.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	mux.Route("/api", func(r chi.Router) {
		r.Get("/ping", s.apiPing)
		r.Get("/node", s.apiNode)
		r.Get("/lockedfunds", s.apiLockedFunds)

		r.Route("/offers", func(r chi.Router) {
			r.Get("/", s.apiOpenOffers)
			r.With(middleware.AllowContentType("application/json")).
				Post("/", s.apiPlaceOffer)
			r.Delete(fmt.Sprintf("/{%s}", offerIdKey), s.apiCancelOffer)
		})

		r.Route("/book", func(r chi.Router) {
			r.Get("/", s.apiBook)
			r.With(middleware.AllowContentType("application/json")).
				Post("/", s.apiAddToBook)
			r.Get(fmt.Sprintf("/{%s}/funding", offerIdKey), s.apiFundingAddress)
		})

		r.Route("/trades", func(r chi.Router) {
			r.Get("/", s.apiTrades)
			r.With(middleware.AllowContentType("application/json")).
				Post("/", s.apiTakeOffer)

			r.Route(fmt.Sprintf("/{%s}", tradeIdKey), func(r chi.Router) {
				r.Get("/", s.apiTrade)
				r.Post("/paymentreceived", s.apiPaymentReceived)
				r.Post("/unfail", s.apiUnFail)

				r.Group(func(r chi.Router) {
					r.Use(middleware.AllowContentType("application/json"))
					r.Post("/paymentstarted", s.apiPaymentStarted)
					r.Post("/withdraw", s.apiWithdraw)
					r.Post("/fail", s.apiFail)
					r.Post("/dispute", s.apiDispute)
				})
			})
		})
	})

	return mux
}

func (s *server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("can't listen on %s: %w", s.opts.Addr, err)
	}

	go func() {
		if err := s.srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("unexpected operator server error")
		}
	}()
	log.Infof("operator interface listening on %s", s.opts.Addr)
	return nil
}

func (s *server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("failed to shutdown operator interface")
		return
	}
	log.Info("operator interface stopped")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debugf(
			"%s %s %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start),
		)
	})
}
