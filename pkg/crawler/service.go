package crawler

import (
	"sync"
	"time"

	"go.uber.org/ratelimit"
)

const (
	eventQueueMaxSize = 100
	errorQueueMaxSize = 10

	defaultInterval          = 10 * time.Second
	defaultRequestsPerSecond = 10
)

type blockchainCrawler struct {
	interval     time.Duration
	source       ChainSource
	limiter      ratelimit.Limiter
	errChan      chan error
	eventChan    chan Event
	observables  map[string]*observableHandler
	errorHandler func(err error)
	mutex        *sync.RWMutex
	wg           *sync.WaitGroup
	stopOnce     *sync.Once
	stopped      bool
}

// Opts defines the parameters needed for creating a crawler service with
// NewService method
type Opts struct {
	ChainSource ChainSource
	Interval    time.Duration
	// RequestsPerSecond caps the number of status requests made to the chain
	// source by all observables together.
	RequestsPerSecond int
	ErrorHandler      func(err error)
}

// NewService returns a crawler that is ready to watch for blockchain
// activities. Use Start and Stop methods to manage it.
func NewService(opts Opts) Service {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	errorHandler := opts.ErrorHandler
	if errorHandler == nil {
		errorHandler = func(error) {}
	}

	return &blockchainCrawler{
		interval:     interval,
		source:       opts.ChainSource,
		limiter:      ratelimit.New(rps),
		errChan:      make(chan error, errorQueueMaxSize),
		eventChan:    make(chan Event, eventQueueMaxSize),
		observables:  map[string]*observableHandler{},
		errorHandler: errorHandler,
		mutex:        &sync.RWMutex{},
		wg:           &sync.WaitGroup{},
		stopOnce:     &sync.Once{},
	}
}

// Start forwards the errors of the observables to the error handler until
// the crawler is stopped.
func (bc *blockchainCrawler) Start() {
	for err := range bc.errChan {
		bc.errorHandler(err)
	}
}

// Stop stops all observables, emits a QuitEvent and closes the event
// channel.
func (bc *blockchainCrawler) Stop() {
	bc.stopOnce.Do(func() {
		bc.mutex.Lock()
		bc.stopped = true
		for key, obsHandler := range bc.observables {
			obsHandler.stop()
			delete(bc.observables, key)
		}
		bc.mutex.Unlock()

		bc.wg.Wait()
		bc.eventChan <- QuitEvent{}
		close(bc.eventChan)
		close(bc.errChan)
	})
}

// GetEventChannel returns Event channel which can be used to "listen" to
// blockchain events
func (bc *blockchainCrawler) GetEventChannel() <-chan Event {
	return bc.eventChan
}

// AddObservable adds new Observable to the list of Observables to be "watched
// over" only if the same Observable is not already in the list
func (bc *blockchainCrawler) AddObservable(observable Observable) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	key := observable.Key()
	if _, ok := bc.observables[key]; ok || bc.stopped {
		return
	}

	var obsHandler *observableHandler
	obsHandler = newObservableHandler(
		observable, bc.source, bc.interval, bc.limiter,
		bc.eventChan, bc.errChan,
		func() { bc.removeHandler(key, obsHandler) },
	)
	bc.observables[key] = obsHandler

	bc.wg.Add(1)
	go obsHandler.start(bc.wg)
}

// RemoveObservable stops "watching" the Observable with the given key.
func (bc *blockchainCrawler) RemoveObservable(key string) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	if obsHandler, ok := bc.observables[key]; ok {
		obsHandler.stop()
		delete(bc.observables, key)
	}
}

// IsObserving returns whether the Observable with the given key is being
// watched.
func (bc *blockchainCrawler) IsObserving(key string) bool {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()

	_, ok := bc.observables[key]
	return ok
}

func (bc *blockchainCrawler) removeHandler(key string, obsHandler *observableHandler) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	if current, ok := bc.observables[key]; ok && current == obsHandler {
		delete(bc.observables, key)
	}
}
