package inmemory

import (
	"encoding/json"
	"sync"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
)

type RepoManager struct {
	tradeRepository        domain.TradeRepository
	addressEntryRepository domain.AddressEntryRepository
	openOfferRepository    domain.OpenOfferRepository
}

func NewRepoManager() ports.RepoManager {
	return &RepoManager{
		tradeRepository:        NewTradeRepositoryImpl(),
		addressEntryRepository: NewAddressEntryRepositoryImpl(),
		openOfferRepository:    NewOpenOfferRepositoryImpl(),
	}
}

func (d *RepoManager) TradeRepository() domain.TradeRepository {
	return d.tradeRepository
}

func (d *RepoManager) AddressEntryRepository() domain.AddressEntryRepository {
	return d.addressEntryRepository
}

func (d *RepoManager) OpenOfferRepository() domain.OpenOfferRepository {
	return d.openOfferRepository
}

func (d *RepoManager) Close() {}

// store keeps serialized copies of the entities so that callers never share
// memory with it.
type store struct {
	locker *sync.Mutex
	items  map[string][]byte
	order  []string
}

func newStore() *store {
	return &store{&sync.Mutex{}, make(map[string][]byte), make([]string, 0)}
}

func (s *store) put(key string, value interface{}) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if _, ok := s.items[key]; !ok {
		s.order = append(s.order, key)
	}
	s.items[key] = buf
	return nil
}

func (s *store) get(key string, value interface{}) (bool, error) {
	buf, ok := s.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(buf, value)
}

func (s *store) delete(key string) {
	if _, ok := s.items[key]; !ok {
		return
	}
	delete(s.items, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *store) keys() []string {
	return append([]string{}, s.order...)
}
