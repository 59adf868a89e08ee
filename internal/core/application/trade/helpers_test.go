package trade_test

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/delivery"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/offer"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/protocol"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/trade"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/wallet"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	chainmem "github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/chain/inmemory"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/dispute"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/p2p"
	p2pmem "github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/p2p/inmemory"
	dbmem "github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/storage/db/inmemory"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/wallet/btcwallet"
	"github.com/tdex-network/tdex-p2ptrade/pkg/crawler"
	"github.com/thanhpk/randstr"
)

const (
	feeRate       = 1
	txFee         = 2000
	takerFee      = 5000
	lockTimeDelta = 10

	tradeAmount    = 1_000_000
	buyerDeposit   = 150_000
	sellerDeposit  = 300_000
	makerFunds     = 2_000_000
	takerFunds     = 2_000_000
	waitFor        = 10 * time.Second
	tick           = 50 * time.Millisecond
	crawlInterval  = 50 * time.Millisecond
	tradePeriod    = 24 * time.Hour
	availabilityTo = 2 * time.Second
)

var (
	ctx    = context.Background()
	params = &chaincfg.RegressionNetParams
)

// testEnv is what the nodes of a test share: the network connecting them,
// the chain and the dispute agents.
type testEnv struct {
	network    *p2pmem.Network
	chain      *chainmem.Chain
	disputes   *dispute.StaticSelector
	feeAddress string
}

func newTestEnv(t *testing.T) *testEnv {
	mediator := domain.DisputeAgent{
		NodeAddress:   "/memory/mediator",
		PubKeyRing:    newKeyRing(t).PubKeyRing(),
		PayoutAddress: newAddress(t),
	}
	refundAgent := domain.DisputeAgent{
		NodeAddress:   "/memory/refund-agent",
		PubKeyRing:    newKeyRing(t).PubKeyRing(),
		PayoutAddress: newAddress(t),
	}
	disputes, err := dispute.NewStaticSelector(
		[]domain.DisputeAgent{mediator}, []domain.DisputeAgent{refundAgent},
	)
	require.NoError(t, err)

	return &testEnv{
		network:    p2pmem.NewNetwork(),
		chain:      chainmem.NewChain(params),
		disputes:   disputes,
		feeAddress: newAddress(t),
	}
}

type testNode struct {
	manager     *trade.Manager
	p2p         *p2p.Service
	offers      *offer.Service
	wallet      *wallet.Service
	tradeWallet *btcwallet.TradeWallet
	keyRing     *btcwallet.KeyRing
	repo        domain.TradeRepository
	metrics     *countingMetrics
}

type nodeOption func(*nodeOptions)

type nodeOptions struct {
	wrapRepo func(domain.TradeRepository) domain.TradeRepository
	wrapP2P  func(ports.P2PService) ports.P2PService
	policies map[domain.MessageType]delivery.Policy
}

// withTradeRepository makes the manager of the node use the repository
// returned by wrap instead of the in-memory one.
func withTradeRepository(
	wrap func(domain.TradeRepository) domain.TradeRepository,
) nodeOption {
	return func(o *nodeOptions) {
		o.wrapRepo = wrap
	}
}

// withP2P makes the protocols of the node send through the service
// returned by wrap.
func withP2P(wrap func(ports.P2PService) ports.P2PService) nodeOption {
	return func(o *nodeOptions) {
		o.wrapP2P = wrap
	}
}

// withPolicies overrides the delivery policies of the given message types.
func withPolicies(policies map[domain.MessageType]delivery.Policy) nodeOption {
	return func(o *nodeOptions) {
		o.policies = policies
	}
}

// newTestNode returns a started node whose manager is already initialized.
func newTestNode(
	t *testing.T, env *testEnv, cfg trade.Config, opts ...nodeOption,
) *testNode {
	n := newUninitializedNode(t, env, cfg, opts...)
	require.NoError(t, n.manager.OnAllServicesInitialized(ctx))
	return n
}

func newUninitializedNode(
	t *testing.T, env *testEnv, cfg trade.Config, opts ...nodeOption,
) *testNode {
	options := &nodeOptions{}
	for _, opt := range opts {
		opt(options)
	}

	seed := newSeed(t)
	keychain, err := btcwallet.NewKeychain(btcwallet.KeychainOpts{
		Seed: seed, Network: params,
	})
	require.NoError(t, err)
	keyRing, err := btcwallet.NewKeyRing(seed)
	require.NoError(t, err)
	tradeWallet, err := btcwallet.NewTradeWallet(keychain, env.chain, feeRate)
	require.NoError(t, err)

	repoManager := dbmem.NewRepoManager()
	walletSvc, err := wallet.NewService(
		repoManager.AddressEntryRepository(), keychain, env.chain,
	)
	require.NoError(t, err)
	offerSvc, err := offer.NewService(
		repoManager.OpenOfferRepository(), walletSvc, nil,
	)
	require.NoError(t, err)

	transport, err := env.network.NewTransport(randstr.Hex(8))
	require.NoError(t, err)
	p2pSvc, err := p2p.NewService(transport, env.network.NewMailbox(), keyRing)
	require.NoError(t, err)

	var sender ports.P2PService = p2pSvc
	if options.wrapP2P != nil {
		sender = options.wrapP2P(p2pSvc)
	}
	tradeRepo := repoManager.TradeRepository()
	if options.wrapRepo != nil {
		tradeRepo = options.wrapRepo(tradeRepo)
	}

	metrics := newCountingMetrics()
	deliverySvc, err := delivery.NewService(sender, metrics, options.policies)
	require.NoError(t, err)

	provider := &protocol.Provider{
		Config: protocol.Config{
			Network:       params,
			FeeAddress:    env.feeAddress,
			LockTimeDelta: lockTimeDelta,
			Confirmations: 1,
		},
		Repository:  tradeRepo,
		Wallet:      walletSvc,
		TradeWallet: tradeWallet,
		Chain:       env.chain,
		KeyRing:     keyRing,
		Delivery:    deliverySvc,
		Disputes:    env.disputes,
		Offers:      offerSvc,
		Crawler: crawler.NewService(crawler.Opts{
			ChainSource:       env.chain,
			Interval:          crawlInterval,
			RequestsPerSecond: 100,
		}),
	}

	if cfg.TxFee == 0 {
		cfg.TxFee = txFee
	}
	if cfg.TakerFee == 0 {
		cfg.TakerFee = takerFee
	}
	if cfg.AvailabilityTimeout == 0 {
		cfg.AvailabilityTimeout = availabilityTo
	}
	manager, err := trade.NewManager(provider, p2pSvc, metrics, cfg)
	require.NoError(t, err)

	manager.Start()
	require.NoError(t, p2pSvc.Start(ctx))
	t.Cleanup(func() {
		manager.Stop()
		deliverySvc.Close()
		p2pSvc.Stop()
	})

	return &testNode{
		manager:     manager,
		p2p:         p2pSvc,
		offers:      offerSvc,
		wallet:      walletSvc,
		tradeWallet: tradeWallet,
		keyRing:     keyRing,
		repo:        tradeRepo,
		metrics:     metrics,
	}
}

// placeOffer makes the node publish an offer, funds it and adds it to the
// book of the given takers.
func (n *testNode) placeOffer(
	t *testing.T, env *testEnv, o domain.Offer, takers ...*testNode,
) domain.Offer {
	o.MakerNodeAddress = n.p2p.NodeAddress()
	o.MakerPubKeyRing = n.keyRing.PubKeyRing()

	var account *domain.PaymentAccountPayload
	if o.Protocol == domain.ProtocolMultisig {
		account = newPaymentAccount()
	}
	openOffer, funding, err := n.offers.PlaceOffer(ctx, o, account)
	require.NoError(t, err)
	_, err = env.chain.Fund(funding.Address, makerFunds)
	require.NoError(t, err)

	for _, taker := range takers {
		taker.offers.Book().AddOffer(openOffer.Offer)
	}
	return openOffer.Offer
}

// fundOffer funds the address the node takes the offer with.
func (n *testNode) fundOffer(
	t *testing.T, env *testEnv, offerID string, amount uint64,
) *domain.AddressEntry {
	funding, err := n.manager.GetFundingAddress(ctx, offerID)
	require.NoError(t, err)
	if amount > 0 {
		_, err = env.chain.Fund(funding.Address, amount)
		require.NoError(t, err)
	}
	return funding
}

func (n *testNode) waitForTrade(
	t *testing.T, tradeID string, cond func(tr *domain.Trade) bool,
) *domain.Trade {
	var last *domain.Trade
	require.Eventually(t, func() bool {
		tr, err := n.manager.GetTrade(ctx, tradeID)
		if err != nil {
			return false
		}
		last = tr
		return cond(tr)
	}, waitFor, tick)
	return last
}

func inPhase(phase domain.Phase) func(*domain.Trade) bool {
	return func(tr *domain.Trade) bool {
		return tr.Phase() >= phase
	}
}

func inList(list domain.TradeList) func(*domain.Trade) bool {
	return func(tr *domain.Trade) bool {
		return tr.List == list
	}
}

func newOffer(kind domain.ProtocolKind, direction domain.OfferDirection) domain.Offer {
	o := domain.Offer{
		Id:             randstr.Hex(16),
		Direction:      direction,
		Protocol:       kind,
		CurrencyCode:   "EUR",
		Price:          decimal.NewFromInt(30000),
		Amount:         tradeAmount,
		MinAmount:      tradeAmount / 2,
		MaxTradePeriod: tradePeriod,
	}
	if kind == domain.ProtocolMultisig {
		o.PaymentMethodId = "SEPA"
		o.BuyerSecurityDeposit = buyerDeposit
		o.SellerSecurityDeposit = sellerDeposit
		return o
	}
	o.CurrencyCode = "BTC"
	o.Price = decimal.NewFromFloat(0.5)
	return o
}

func newPaymentAccount() *domain.PaymentAccountPayload {
	return &domain.PaymentAccountPayload{
		Id:              randstr.Hex(8),
		PaymentMethodId: "SEPA",
		HolderName:      "Satoshi",
		Details:         map[string]string{"iban": "DE" + randstr.Hex(10)},
	}
}

func newSeed(t *testing.T) []byte {
	seed := make([]byte, 32)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	return seed
}

func newKeyRing(t *testing.T) *btcwallet.KeyRing {
	keyRing, err := btcwallet.NewKeyRing(newSeed(t))
	require.NoError(t, err)
	return keyRing
}

func newAddress(t *testing.T) string {
	keychain, err := btcwallet.NewKeychain(btcwallet.KeychainOpts{
		Seed: newSeed(t), Network: params,
	})
	require.NoError(t, err)
	key, err := keychain.DeriveKey(0)
	require.NoError(t, err)
	return key.Address
}

func balanceOf(t *testing.T, env *testEnv, address string) uint64 {
	utxos, err := env.chain.GetUnspents(ctx, address)
	require.NoError(t, err)
	var balance uint64
	for _, u := range utxos {
		balance += u.Value
	}
	return balance
}

type countingMetrics struct {
	lock      *sync.Mutex
	completed map[string]int
	failed    map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		lock:      &sync.Mutex{},
		completed: make(map[string]int),
		failed:    make(map[string]int),
	}
}

func (m *countingMetrics) MessageSent(domain.MessageType)   {}
func (m *countingMetrics) MessageResent(domain.MessageType) {}
func (m *countingMetrics) MessageAcked(domain.MessageType)  {}
func (m *countingMetrics) MessageGaveUp(domain.MessageType) {}

func (m *countingMetrics) TradeCompleted(tradeType string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.completed[tradeType]++
}

func (m *countingMetrics) TradeFailed(tradeType string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.failed[tradeType]++
}

func (m *countingMetrics) completedTrades(tradeType string) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.completed[tradeType]
}

var _ ports.Metrics = (*countingMetrics)(nil)

// interceptingP2P lets a test rewrite, drop or fail the messages a node
// sends. A nil message returned by intercept is silently lost, as if it was
// stored in a mailbox the peer never reads.
type interceptingP2P struct {
	ports.P2PService
	intercept func(msg domain.TradeMessage) (domain.TradeMessage, error)
}

func (s *interceptingP2P) SendDirectMessage(
	ctx context.Context, peer domain.NodeAddress, msg domain.TradeMessage,
) error {
	msg, err := s.intercept(msg)
	if err != nil || msg == nil {
		return err
	}
	return s.P2PService.SendDirectMessage(ctx, peer, msg)
}

func (s *interceptingP2P) SendMailboxMessage(
	ctx context.Context, peer domain.NodeAddress,
	peerPubKeyRing domain.PubKeyRing, msg domain.TradeMessage,
) (ports.SendResult, error) {
	msg, err := s.intercept(msg)
	if err != nil {
		return ports.SendResultArrived, err
	}
	if msg == nil {
		return ports.SendResultStoredInMailbox, nil
	}
	return s.P2PService.SendMailboxMessage(ctx, peer, peerPubKeyRing, msg)
}

func intercepting(
	intercept func(msg domain.TradeMessage) (domain.TradeMessage, error),
) nodeOption {
	return withP2P(func(svc ports.P2PService) ports.P2PService {
		return &interceptingP2P{P2PService: svc, intercept: intercept}
	})
}
