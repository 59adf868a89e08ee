package crawler

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
)

const (
	New       Status = "NEW"
	Waiting   Status = "WAITING"
	Processed Status = "PROCESSED"

	observeTimeout = 15 * time.Second
)

type Status string

type observableStatus struct {
	sync.RWMutex
	status Status
}

func newObservableStatus() *observableStatus {
	return &observableStatus{
		status: New,
	}
}

func (o *observableStatus) Get() Status {
	o.RLock()
	defer o.RUnlock()
	return o.status
}

func (o *observableStatus) Set(status Status) {
	o.Lock()
	defer o.Unlock()
	o.status = status
}

// TransactionObservable watches a tx until it gets the wanted number of
// confirmations. A TransactionSeen event is emitted the first time the tx is
// found unconfirmed.
type TransactionObservable struct {
	TxID          string
	ObserverID    string
	Confirmations uint32

	seen bool
}

func NewTransactionObservable(
	observerID, txid string, confirmations uint32,
) *TransactionObservable {
	if confirmations == 0 {
		confirmations = 1
	}
	return &TransactionObservable{
		TxID:          txid,
		ObserverID:    observerID,
		Confirmations: confirmations,
	}
}

func (t *TransactionObservable) observe(
	ctx context.Context, source ChainSource,
) (Event, bool, error) {
	status, err := source.GetTxStatus(ctx, t.TxID)
	if err != nil {
		return nil, false, err
	}
	if !status.Found {
		return nil, false, nil
	}

	event := TransactionEvent{
		EventType:     TransactionSeen,
		TxID:          t.TxID,
		ObserverID:    t.ObserverID,
		Confirmations: status.Confirmations,
		BlockHeight:   status.BlockHeight,
		BlockTime:     status.BlockTime,
	}
	if status.Confirmations >= t.Confirmations {
		event.EventType = TransactionConfirmed
		return event, true, nil
	}
	if t.seen {
		return nil, false, nil
	}
	t.seen = true
	return event, false, nil
}

func (t *TransactionObservable) Key() string {
	return t.TxID
}

type observableHandler struct {
	observable       Observable
	source           ChainSource
	ticker           *time.Ticker
	limiter          ratelimit.Limiter
	eventChan        chan Event
	errChan          chan error
	stopChan         chan struct{}
	stopOnce         *sync.Once
	observableStatus *observableStatus
	onDone           func()
}

func newObservableHandler(
	observable Observable,
	source ChainSource,
	interval time.Duration,
	limiter ratelimit.Limiter,
	eventChan chan Event,
	errChan chan error,
	onDone func(),
) *observableHandler {
	return &observableHandler{
		observable:       observable,
		source:           source,
		ticker:           time.NewTicker(interval),
		limiter:          limiter,
		eventChan:        eventChan,
		errChan:          errChan,
		stopChan:         make(chan struct{}),
		stopOnce:         &sync.Once{},
		observableStatus: newObservableStatus(),
		onDone:           onDone,
	}
}

func (oh *observableHandler) start(wg *sync.WaitGroup) {
	defer wg.Done()
	defer oh.ticker.Stop()

	oh.logAction("start")
	for {
		select {
		case <-oh.ticker.C:
			if oh.observableStatus.Get() == Waiting {
				continue
			}
			if done := oh.poll(); done {
				oh.onDone()
				return
			}
		case <-oh.stopChan:
			return
		}
	}
}

func (oh *observableHandler) poll() bool {
	oh.observableStatus.Set(Waiting)
	oh.limiter.Take()

	ctx, cancel := context.WithTimeout(context.Background(), observeTimeout)
	defer cancel()

	event, done, err := oh.observable.observe(ctx, oh.source)
	oh.observableStatus.Set(Processed)
	if err != nil {
		select {
		case oh.errChan <- err:
		default:
		}
		return false
	}
	if event == nil {
		return done
	}

	select {
	case oh.eventChan <- event:
	case <-oh.stopChan:
		return false
	}
	return done
}

func (oh *observableHandler) stop() {
	oh.stopOnce.Do(func() {
		oh.logAction("stop")
		close(oh.stopChan)
	})
}

func (oh *observableHandler) logAction(action string) {
	log.Debugf("%s observing tx: %v", action, oh.observable.Key())
}
