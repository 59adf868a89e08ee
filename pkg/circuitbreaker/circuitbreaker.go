package circuitbreaker

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	defaultMinRequests  = 10
	defaultFailingRatio = 0.6
	defaultOpenTimeout  = 30 * time.Second
)

// Opts tunes when the breaker trips. Zero values are replaced by defaults.
type Opts struct {
	Name string
	// MinRequests is the number of requests in the current window below
	// which the breaker never trips.
	MinRequests uint32
	// FailingRatio is the share of failed requests that trips the breaker.
	FailingRatio float64
	// OpenTimeout is how long the breaker stays open before letting a probe
	// request through.
	OpenTimeout time.Duration
}

// NewCircuitBreaker returns a breaker that opens once more than MinRequests
// were made and at least FailingRatio of them failed. State changes are
// logged.
func NewCircuitBreaker(opts Opts) *gobreaker.CircuitBreaker {
	if opts.Name == "" {
		opts.Name = "circuitbreaker"
	}
	if opts.MinRequests == 0 {
		opts.MinRequests = defaultMinRequests
	}
	if opts.FailingRatio <= 0 {
		opts.FailingRatio = defaultFailingRatio
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    opts.Name,
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests <= opts.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= opts.FailingRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				log.Warnf("%s: too many failures, requests suspended", name)
				return
			}
			log.Debugf("%s: state changed from %s to %s", name, from, to)
		},
	})
}
