// Package metrics exposes the counters of the trade protocols to
// prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

const namespace = "p2ptrade"

// Collector is a ports.Metrics backed by prometheus counters.
type Collector struct {
	registry *prometheus.Registry

	messagesSent   *prometheus.CounterVec
	messagesResent *prometheus.CounterVec
	messagesAcked  *prometheus.CounterVec
	messagesGaveUp *prometheus.CounterVec
	tradesDone     *prometheus.CounterVec
	tradesFailed   *prometheus.CounterVec
}

// NewCollector registers the counters, along with the go runtime and
// process collectors, in a new registry.
func NewCollector() (*Collector, error) {
	messageCounter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      name,
			Help:      help,
		}, []string{"message_type"})
	}
	tradeCounter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      name,
			Help:      help,
		}, []string{"trade_type"})
	}

	c := &Collector{
		registry:       prometheus.NewRegistry(),
		messagesSent:   messageCounter("sent_total", "Messages sent to peers."),
		messagesResent: messageCounter("resent_total", "Messages resent for missing ack."),
		messagesAcked:  messageCounter("acked_total", "Messages acknowledged by peers."),
		messagesGaveUp: messageCounter("gave_up_total", "Messages never acknowledged after all resends."),
		tradesDone:     tradeCounter("completed_total", "Trades completed."),
		tradesFailed:   tradeCounter("failed_total", "Trades moved to failed."),
	}

	for _, collector := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.messagesSent, c.messagesResent, c.messagesAcked, c.messagesGaveUp,
		c.tradesDone, c.tradesFailed,
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler serves the metrics in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Gatherer ...
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

func (c *Collector) MessageSent(msgType domain.MessageType) {
	c.messagesSent.WithLabelValues(string(msgType)).Inc()
}

func (c *Collector) MessageResent(msgType domain.MessageType) {
	c.messagesResent.WithLabelValues(string(msgType)).Inc()
}

func (c *Collector) MessageAcked(msgType domain.MessageType) {
	c.messagesAcked.WithLabelValues(string(msgType)).Inc()
}

func (c *Collector) MessageGaveUp(msgType domain.MessageType) {
	c.messagesGaveUp.WithLabelValues(string(msgType)).Inc()
}

func (c *Collector) TradeCompleted(tradeType string) {
	c.tradesDone.WithLabelValues(tradeType).Inc()
}

func (c *Collector) TradeFailed(tradeType string) {
	c.tradesFailed.WithLabelValues(tradeType).Inc()
}
