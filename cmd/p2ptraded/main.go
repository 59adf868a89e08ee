package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tdex-network/tdex-p2ptrade/internal/config"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/delivery"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/offer"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/protocol"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/trade"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/wallet"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/chain"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/dispute"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/metrics"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/p2p"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/p2p/libp2p"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/p2p/mailbox"
	dbbadger "github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/storage/db/badger"
	dbinmemory "github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/storage/db/inmemory"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/wallet/btcwallet"
	"github.com/tdex-network/tdex-p2ptrade/internal/interfaces"
	httpinterface "github.com/tdex-network/tdex-p2ptrade/internal/interfaces/http"
	"github.com/tdex-network/tdex-p2ptrade/pkg/crawler"
	"github.com/tdex-network/tdex-p2ptrade/pkg/explorer/esplora"
	"github.com/tdex-network/tdex-p2ptrade/pkg/stats"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon()
	if err != nil {
		log.WithError(err).Fatal("failed to initialize daemon")
	}
	defer d.stop()

	if err := d.start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start daemon")
	}

	if config.GetBool(config.EnableProfilerKey) {
		stats.EnableMemoryStatistics(
			ctx,
			time.Duration(config.GetInt(config.StatsIntervalKey))*time.Second,
			d.metrics.Gatherer(),
			filepath.Join(config.GetDatadir(), config.ProfilerLocation, "metrics"),
		)
	}

	log.Info("daemon started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down daemon")
}

type daemon struct {
	repoManager ports.RepoManager
	metrics     *metrics.Collector
	p2p         *p2p.Service
	delivery    *delivery.Service
	manager     *trade.Manager
	operator    interfaces.Service
}

func newDaemon() (*daemon, error) {
	network := config.GetNetwork()
	seed := config.GetSeed()

	repoManager, err := newRepoManager()
	if err != nil {
		return nil, err
	}

	explorerSvc, err := esplora.NewService(
		config.GetString(config.ExplorerURLKey),
		config.GetInt(config.ExplorerRateLimitKey),
		config.GetDuration(config.ExplorerRequestTimeoutKey),
	)
	if err != nil {
		return nil, err
	}
	chainSvc, err := chain.NewExplorerChain(explorerSvc, network)
	if err != nil {
		return nil, err
	}
	crawlerSvc := crawler.NewService(crawler.Opts{
		ChainSource:       chainSvc,
		Interval:          config.GetDuration(config.ChainPollIntervalKey),
		RequestsPerSecond: config.GetInt(config.ExplorerRateLimitKey),
		ErrorHandler: func(err error) {
			log.WithError(err).Debug("crawler")
		},
	})

	keychain, err := btcwallet.NewKeychain(btcwallet.KeychainOpts{
		Seed: seed, Network: network,
	})
	if err != nil {
		return nil, err
	}
	keyRing, err := btcwallet.NewKeyRing(seed)
	if err != nil {
		return nil, err
	}
	tradeWallet, err := btcwallet.NewTradeWallet(
		keychain, chainSvc, config.GetUint64(config.TxFeeSatsPerVbyteKey),
	)
	if err != nil {
		return nil, err
	}
	walletSvc, err := wallet.NewService(
		repoManager.AddressEntryRepository(), keychain, chainSvc,
	)
	if err != nil {
		return nil, err
	}
	offerSvc, err := offer.NewService(
		repoManager.OpenOfferRepository(), walletSvc, nil,
	)
	if err != nil {
		return nil, err
	}

	transport, err := libp2p.NewTransport(libp2p.Opts{
		ListenAddr:   config.GetString(config.P2PListenAddrKey),
		IdentitySeed: seed,
	})
	if err != nil {
		return nil, err
	}
	var p2pMailbox p2p.Mailbox
	if url := config.GetString(config.NatsURLKey); url != "" {
		mb, err := mailbox.NewMailbox(mailbox.Opts{
			URL:    url,
			Bucket: config.GetString(config.MailboxBucketKey),
		})
		if err != nil {
			return nil, err
		}
		p2pMailbox = mb
	} else {
		log.Warn("mailbox disabled, messages reach online peers only")
	}
	p2pSvc, err := p2p.NewService(transport, p2pMailbox, keyRing)
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		return nil, err
	}
	deliverySvc, err := delivery.NewService(p2pSvc, collector, deliveryOverrides())
	if err != nil {
		return nil, err
	}

	mediators, err := dispute.ParseAgents(config.GetAgents(config.MediatorsKey))
	if err != nil {
		return nil, fmt.Errorf("invalid mediators: %w", err)
	}
	refundAgents, err := dispute.ParseAgents(config.GetAgents(config.RefundAgentsKey))
	if err != nil {
		return nil, fmt.Errorf("invalid refund agents: %w", err)
	}
	disputes, err := dispute.NewStaticSelector(mediators, refundAgents)
	if err != nil {
		return nil, err
	}

	provider := &protocol.Provider{
		Config: protocol.Config{
			Network:       network,
			FeeAddress:    config.GetString(config.FeeReceiverAddressKey),
			LockTimeDelta: config.GetUint32(config.LockTimeDeltaKey),
			Confirmations: config.GetUint32(config.ConfirmationsKey),
		},
		Repository:  repoManager.TradeRepository(),
		Wallet:      walletSvc,
		TradeWallet: tradeWallet,
		Chain:       chainSvc,
		KeyRing:     keyRing,
		Delivery:    deliverySvc,
		Disputes:    disputes,
		Offers:      offerSvc,
		Crawler:     crawlerSvc,
	}
	manager, err := trade.NewManager(provider, p2pSvc, collector, trade.Config{
		TxFee:                 config.GetUint64(config.TxFeeKey),
		TakerFee:              config.GetUint64(config.TakerFeeKey),
		AvailabilityTimeout:   config.GetDuration(config.AvailabilityTimeoutKey),
		MaxUnconfirmedOutputs: config.GetInt(config.MaxUnconfirmedOutputsKey),
	})
	if err != nil {
		return nil, err
	}

	operator, err := httpinterface.NewServer(httpinterface.Opts{
		Addr:    fmt.Sprintf(":%d", config.GetInt(config.OperatorListeningPortKey)),
		Trades:  manager,
		Offers:  offerSvc,
		Book:    offerSvc.Book(),
		Node:    p2pSvc,
		KeyRing: keyRing,
		Metrics: collector.Handler(),
	})
	if err != nil {
		return nil, err
	}

	return &daemon{
		repoManager: repoManager,
		metrics:     collector,
		p2p:         p2pSvc,
		delivery:    deliverySvc,
		manager:     manager,
		operator:    operator,
	}, nil
}

// start brings up the p2p layer and the operator interface together, then
// resumes the pending trades.
func (d *daemon) start(ctx context.Context) error {
	d.manager.Start()

	var g errgroup.Group
	g.Go(func() error {
		return d.p2p.Start(ctx)
	})
	g.Go(d.operator.Start)
	if err := g.Wait(); err != nil {
		return err
	}

	return d.manager.OnAllServicesInitialized(ctx)
}

func (d *daemon) stop() {
	d.operator.Stop()
	d.manager.Stop()
	d.delivery.Close()
	d.p2p.Stop()
	d.repoManager.Close()
	log.Info("daemon stopped")
}

func newRepoManager() (ports.RepoManager, error) {
	if config.GetString(config.DBTypeKey) == config.DBInMemory {
		return dbinmemory.NewRepoManager(), nil
	}

	badgerLogger := log.New()
	badgerLogger.SetLevel(log.WarnLevel)
	return dbbadger.NewRepoManager(
		filepath.Join(config.GetDatadir(), config.DbLocation), badgerLogger,
	)
}

func deliveryOverrides() map[domain.MessageType]delivery.Policy {
	overrides := make(map[domain.MessageType]delivery.Policy)

	shareAccount := delivery.DefaultPolicies[domain.MsgShareBuyerPaymentAccount]
	shareAccount.InitialDelay = config.GetDuration(config.ShareAccountResendDelayKey)
	overrides[domain.MsgShareBuyerPaymentAccount] = shareAccount

	paymentStarted := delivery.DefaultPolicies[domain.MsgCounterCurrencyTransferStarted]
	paymentStarted.InitialDelay = config.GetDuration(config.PaymentStartedResendDelayKey)
	overrides[domain.MsgCounterCurrencyTransferStarted] = paymentStarted

	return overrides
}
