package trade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/protocol"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/tdex-network/tdex-p2ptrade/pkg/crawler"
)

const (
	defaultAvailabilityTimeout   = 30 * time.Second
	defaultMaxUnconfirmedOutputs = 20
	defaultPeriodCheckInterval   = time.Minute
)

// Config holds the parameters of the trades taken by the local node.
type Config struct {
	// TxFee is the mining fee of the deposit and payout txs, or of the swap
	// tx, paid by the taker.
	TxFee uint64
	// TakerFee is paid by the taker of a multisig trade to the fee address.
	TakerFee            uint64
	AvailabilityTimeout time.Duration
	// MaxUnconfirmedOutputs is the max number of unconfirmed outputs the
	// funding address of an offer can have to take it.
	MaxUnconfirmedOutputs int
	PeriodCheckInterval   time.Duration
}

// Manager owns the trades of the node. It creates a protocol for every
// trade being negotiated, routes to it the messages of the peers and the
// chain events, and moves the trades between the pending, closed, failed
// and swap lists.
type Manager struct {
	provider *protocol.Provider
	p2p      ports.P2PService
	metrics  ports.Metrics
	cfg      Config

	lock                 *sync.RWMutex
	protocols            map[string]*protocol.TradeProtocol
	availabilityRequests map[string]chan domain.AvailabilityResult
	initialized          bool

	quit     chan struct{}
	stopOnce *sync.Once
	wg       *sync.WaitGroup
}

func NewManager(
	provider *protocol.Provider, p2pSvc ports.P2PService,
	metrics ports.Metrics, cfg Config,
) (*Manager, error) {
	if provider == nil {
		return nil, fmt.Errorf("missing protocol provider")
	}
	if err := provider.Validate(); err != nil {
		return nil, err
	}
	if p2pSvc == nil {
		return nil, fmt.Errorf("missing p2p service")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.TxFee == 0 {
		return nil, fmt.Errorf("missing tx fee")
	}
	if cfg.AvailabilityTimeout <= 0 {
		cfg.AvailabilityTimeout = defaultAvailabilityTimeout
	}
	if cfg.MaxUnconfirmedOutputs <= 0 {
		cfg.MaxUnconfirmedOutputs = defaultMaxUnconfirmedOutputs
	}
	if cfg.PeriodCheckInterval <= 0 {
		cfg.PeriodCheckInterval = defaultPeriodCheckInterval
	}

	return &Manager{
		provider:             provider,
		p2p:                  p2pSvc,
		metrics:              metrics,
		cfg:                  cfg,
		lock:                 &sync.RWMutex{},
		protocols:            make(map[string]*protocol.TradeProtocol),
		availabilityRequests: make(map[string]chan domain.AvailabilityResult),
		quit:                 make(chan struct{}),
		stopOnce:             &sync.Once{},
		wg:                   &sync.WaitGroup{},
	}, nil
}

// Start subscribes to peer messages and chain events. Trades can be
// negotiated only after OnAllServicesInitialized.
func (m *Manager) Start() {
	m.p2p.AddMessageHandler(m.OnDirectMessage)

	go m.provider.Crawler.Start()

	m.wg.Add(2)
	go m.listenToChainEvents()
	go m.checkTradePeriods()
}

// OnAllServicesInitialized restarts the protocol of every pending trade. It
// must be called once the p2p layer is bootstrapped, earlier the node might
// act on a stale view of the network.
func (m *Manager) OnAllServicesInitialized(ctx context.Context) error {
	m.lock.Lock()
	if m.initialized {
		m.lock.Unlock()
		return nil
	}
	m.initialized = true
	m.lock.Unlock()

	trades, err := m.provider.Repository.GetTradesByList(ctx, domain.TradeListPending)
	if err != nil {
		return err
	}

	for _, t := range trades {
		if err := m.initPersistedTrade(ctx, t); err != nil {
			log.WithError(err).Warnf("failed to restore trade %s", t.Id)
		}
	}
	if len(trades) > 0 {
		log.Infof("restored %d pending trade(s)", len(trades))
	}

	if _, err := m.GetSetOfFailedOrClosedTradeIdsFromLockedInFunds(ctx); err != nil {
		log.WithError(err).Error("found inconsistent trades")
	}
	return nil
}

// Stop interrupts all running protocols without changing the outcome of
// their trades, they're resumed at next start.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.quit)

		m.lock.Lock()
		protocols := make([]*protocol.TradeProtocol, 0, len(m.protocols))
		for _, p := range m.protocols {
			protocols = append(protocols, p)
		}
		m.protocols = make(map[string]*protocol.TradeProtocol)
		m.lock.Unlock()

		for _, p := range protocols {
			p.Stop()
		}
		m.provider.Crawler.Stop()
		m.wg.Wait()
	})
}

// GetTrade returns the persisted snapshot of the trade.
func (m *Manager) GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error) {
	return m.provider.Repository.GetTrade(ctx, tradeID)
}

// GetTrades returns the persisted trades of the given list.
func (m *Manager) GetTrades(
	ctx context.Context, list domain.TradeList,
) ([]*domain.Trade, error) {
	return m.provider.Repository.GetTradesByList(ctx, list)
}

// IsActive tells whether a protocol is running for the trade.
func (m *Manager) IsActive(tradeID string) bool {
	_, ok := m.getProtocol(tradeID)
	return ok
}

func (m *Manager) initPersistedTrade(ctx context.Context, t *domain.Trade) error {
	if t.IsCompleted() {
		m.moveToCompleted(ctx, t)
		return nil
	}
	_, err := m.startProtocol(t)
	return err
}

// startProtocol creates, registers and starts the protocol of the trade.
// There is at most one protocol per trade, if one is already registered it
// is returned untouched.
func (m *Manager) startProtocol(t *domain.Trade) (*protocol.TradeProtocol, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if p, ok := m.protocols[t.Id]; ok {
		log.Warnf("protocol for trade %s already registered", t.Id)
		return p, nil
	}

	p, err := protocol.NewTradeProtocol(t, m.provider, m)
	if err != nil {
		return nil, err
	}
	m.protocols[t.Id] = p
	p.Start()

	log.Debugf("started %s protocol for trade %s", t.TypeName(), t.Id)
	return p, nil
}

func (m *Manager) getProtocol(tradeID string) (*protocol.TradeProtocol, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	p, ok := m.protocols[tradeID]
	return p, ok
}

func (m *Manager) activeProtocol(tradeID string) (*protocol.TradeProtocol, error) {
	p, ok := m.getProtocol(tradeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTradeNotActive, tradeID)
	}
	return p, nil
}

func (m *Manager) unregister(tradeID string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.protocols, tradeID)
}

func (m *Manager) isInitialized() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.initialized
}

// updateTrade applies fn through the protocol of the trade if running,
// otherwise straight on the repository.
func (m *Manager) updateTrade(
	ctx context.Context, tradeID string, fn func(t *domain.Trade) error,
) error {
	if p, ok := m.getProtocol(tradeID); ok {
		err := p.Update(ctx, fn)
		if !errors.Is(err, protocol.ErrProtocolStopped) {
			return err
		}
	}
	return m.provider.Repository.UpdateTrade(
		ctx, tradeID,
		func(t *domain.Trade) (*domain.Trade, error) {
			if err := fn(t); err != nil {
				return nil, err
			}
			return t, nil
		},
	)
}

func (m *Manager) listenToChainEvents() {
	defer m.wg.Done()

	for ev := range m.provider.Crawler.GetEventChannel() {
		switch e := ev.(type) {
		case crawler.QuitEvent:
			return
		case crawler.TransactionEvent:
			p, ok := m.getProtocol(e.ObserverID)
			if !ok {
				log.Debugf(
					"dropping %s of tx %s: trade %s not active",
					e.EventType, e.TxID, e.ObserverID,
				)
				continue
			}
			if err := p.OnTxEvent(e); err != nil {
				log.WithError(err).Warnf(
					"failed to forward %s of tx %s to trade %s",
					e.EventType, e.TxID, e.ObserverID,
				)
			}
		}
	}
}

func (m *Manager) checkTradePeriods() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PeriodCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case now := <-ticker.C:
			if !m.isInitialized() {
				continue
			}
			if err := m.UpdateTradePeriodStates(context.Background(), now); err != nil {
				log.WithError(err).Warn("failed to update trade period states")
			}
		}
	}
}

type noopMetrics struct{}

func (noopMetrics) MessageSent(domain.MessageType)   {}
func (noopMetrics) MessageResent(domain.MessageType) {}
func (noopMetrics) MessageAcked(domain.MessageType)  {}
func (noopMetrics) MessageGaveUp(domain.MessageType) {}
func (noopMetrics) TradeCompleted(string)            {}
func (noopMetrics) TradeFailed(string)               {}
