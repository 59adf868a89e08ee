package ports

import "github.com/tdex-network/tdex-p2ptrade/internal/core/domain"

// Metrics collects protocol counters.
type Metrics interface {
	MessageSent(msgType domain.MessageType)
	MessageResent(msgType domain.MessageType)
	MessageAcked(msgType domain.MessageType)
	MessageGaveUp(msgType domain.MessageType)
	TradeCompleted(tradeType string)
	TradeFailed(tradeType string)
}
