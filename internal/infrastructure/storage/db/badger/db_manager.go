package dbbadger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

type repoManager struct {
	tradeStore   *badgerhold.Store
	addressStore *badgerhold.Store
	offerStore   *badgerhold.Store

	tradeRepository        domain.TradeRepository
	addressEntryRepository domain.AddressEntryRepository
	openOfferRepository    domain.OpenOfferRepository
}

// NewRepoManager opens (or creates if not exists) the badger stores on disk.
// It expects a base data dir and an optional logger. An empty dir makes the
// stores run in memory.
func NewRepoManager(
	baseDbDir string, logger badger.Logger,
) (ports.RepoManager, error) {
	tradeStore, err := createDb(dbDir(baseDbDir, "trades"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening trades db: %w", err)
	}

	addressStore, err := createDb(dbDir(baseDbDir, "addresses"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening addresses db: %w", err)
	}

	offerStore, err := createDb(dbDir(baseDbDir, "offers"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening offers db: %w", err)
	}

	return &repoManager{
		tradeStore:             tradeStore,
		addressStore:           addressStore,
		offerStore:             offerStore,
		tradeRepository:        NewTradeRepositoryImpl(tradeStore),
		addressEntryRepository: NewAddressEntryRepositoryImpl(addressStore),
		openOfferRepository:    NewOpenOfferRepositoryImpl(offerStore),
	}, nil
}

func (d *repoManager) TradeRepository() domain.TradeRepository {
	return d.tradeRepository
}

func (d *repoManager) AddressEntryRepository() domain.AddressEntryRepository {
	return d.addressEntryRepository
}

func (d *repoManager) OpenOfferRepository() domain.OpenOfferRepository {
	return d.openOfferRepository
}

func (d *repoManager) Close() {
	d.tradeStore.Close()
	d.addressStore.Close()
	d.offerStore.Close()
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	en := json.NewEncoder(&buff)

	err := en.Encode(value)
	if err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	var buff bytes.Buffer
	de := json.NewDecoder(&buff)

	_, err := buff.Write(data)
	if err != nil {
		return err
	}

	return de.Decode(value)
}

func dbDir(baseDbDir, name string) string {
	if len(baseDbDir) <= 0 {
		return ""
	}
	return filepath.Join(baseDbDir, name)
}

func createDb(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}

// txFromContext returns the badger transaction optionally carried by ctx.
func txFromContext(ctx context.Context) *badger.Txn {
	if tx, ok := ctx.Value("tx").(*badger.Txn); ok {
		return tx
	}
	return nil
}
