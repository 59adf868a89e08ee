package crawler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/pkg/crawler"
	"github.com/thanhpk/randstr"
)

func TestCrawler(t *testing.T) {
	chain := newMockChain()
	crawlSvc := crawler.NewService(crawler.Opts{
		ChainSource:       chain,
		Interval:          5 * time.Millisecond,
		RequestsPerSecond: 1000,
	})
	go crawlSvc.Start()

	observerID := randstr.Hex(16)
	txid := randstr.Hex(32)
	crawlSvc.AddObservable(crawler.NewTransactionObservable(observerID, txid, 1))
	crawlSvc.AddObservable(crawler.NewTransactionObservable(observerID, txid, 1))
	require.True(t, crawlSvc.IsObserving(txid))

	chain.setStatus(txid, crawler.TxStatus{Found: true})
	event := nextEvent(t, crawlSvc)
	require.Equal(t, crawler.TransactionSeen, event.Type())
	require.Equal(t, txid, event.(crawler.TransactionEvent).TxID)
	require.Equal(t, observerID, event.(crawler.TransactionEvent).ObserverID)

	chain.setStatus(txid, crawler.TxStatus{Found: true, Confirmations: 1, BlockHeight: 101})
	event = nextEvent(t, crawlSvc)
	require.Equal(t, crawler.TransactionConfirmed, event.Type())
	require.Equal(t, uint32(101), event.(crawler.TransactionEvent).BlockHeight)

	require.Eventually(t, func() bool {
		return !crawlSvc.IsObserving(txid)
	}, time.Second, 5*time.Millisecond)

	crawlSvc.Stop()
	event = nextEvent(t, crawlSvc)
	require.Equal(t, crawler.QuitSignal, event.Type())
}

func TestCrawlerRemoveObservable(t *testing.T) {
	errors := make(chan error, 10)
	chain := newMockChain()
	chain.fail = fmt.Errorf("explorer unreachable")
	crawlSvc := crawler.NewService(crawler.Opts{
		ChainSource:       chain,
		Interval:          5 * time.Millisecond,
		RequestsPerSecond: 1000,
		ErrorHandler: func(err error) {
			errors <- err
		},
	})
	go crawlSvc.Start()
	defer crawlSvc.Stop()

	txid := randstr.Hex(32)
	crawlSvc.AddObservable(crawler.NewTransactionObservable(randstr.Hex(16), txid, 1))

	select {
	case err := <-errors:
		require.EqualError(t, err, "explorer unreachable")
	case <-time.After(time.Second):
		t.Fatal("expected error to be forwarded")
	}

	crawlSvc.RemoveObservable(txid)
	require.False(t, crawlSvc.IsObserving(txid))
}

func nextEvent(t *testing.T, crawlSvc crawler.Service) crawler.Event {
	select {
	case event := <-crawlSvc.GetEventChannel():
		return event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for crawler event")
	}
	return nil
}

type mockChain struct {
	lock   *sync.Mutex
	status map[string]crawler.TxStatus
	fail   error
}

func newMockChain() *mockChain {
	return &mockChain{
		lock:   &sync.Mutex{},
		status: make(map[string]crawler.TxStatus),
	}
}

func (m *mockChain) setStatus(txid string, status crawler.TxStatus) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.status[txid] = status
}

func (m *mockChain) GetTxStatus(
	_ context.Context, txid string,
) (crawler.TxStatus, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.fail != nil {
		return crawler.TxStatus{}, m.fail
	}
	return m.status[txid], nil
}
