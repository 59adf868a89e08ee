package ports

import "github.com/tdex-network/tdex-p2ptrade/internal/core/domain"

// DisputeAgentSelector picks mediators and refund agents for new trades.
type DisputeAgentSelector interface {
	SelectMediator(offerID string) (domain.DisputeAgent, error)
	SelectRefundAgent(offerID string) (domain.DisputeAgent, error)
	IsAcceptedAgent(agent domain.DisputeAgent) bool
}
