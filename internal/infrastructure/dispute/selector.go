// Package dispute selects the mediators and refund agents of new trades
// among a fixed set of agents trusted by the node.
package dispute

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

var (
	ErrNoMediator    = errors.New("no mediator configured")
	ErrNoRefundAgent = errors.New("no refund agent configured")
	ErrInvalidAgent  = errors.New("invalid dispute agent")
)

// StaticSelector is a ports.DisputeAgentSelector over configured agents.
// The agent of an offer is chosen by hashing its id, so that all trades of
// the same offer get the same agents.
type StaticSelector struct {
	mediators    []domain.DisputeAgent
	refundAgents []domain.DisputeAgent
}

func NewStaticSelector(
	mediators, refundAgents []domain.DisputeAgent,
) (*StaticSelector, error) {
	if len(mediators) == 0 {
		return nil, ErrNoMediator
	}
	if len(refundAgents) == 0 {
		return nil, ErrNoRefundAgent
	}
	return &StaticSelector{mediators, refundAgents}, nil
}

func (s *StaticSelector) SelectMediator(offerID string) (domain.DisputeAgent, error) {
	return pick(s.mediators, offerID), nil
}

func (s *StaticSelector) SelectRefundAgent(offerID string) (domain.DisputeAgent, error) {
	return pick(s.refundAgents, offerID), nil
}

// IsAcceptedAgent tells whether the agent proposed by a peer is one of the
// configured mediators or refund agents.
func (s *StaticSelector) IsAcceptedAgent(agent domain.DisputeAgent) bool {
	for _, list := range [][]domain.DisputeAgent{s.mediators, s.refundAgents} {
		for _, a := range list {
			if sameAgent(a, agent) {
				return true
			}
		}
	}
	return false
}

// ParseAgent parses an agent in the form
// <node address>,<signature pubkey hex>,<encryption pubkey hex>,<payout address>.
func ParseAgent(str string) (domain.DisputeAgent, error) {
	parts := strings.Split(strings.TrimSpace(str), ",")
	if len(parts) != 4 {
		return domain.DisputeAgent{}, fmt.Errorf(
			"%w: expected 4 comma separated fields, got %d", ErrInvalidAgent, len(parts),
		)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return domain.DisputeAgent{}, fmt.Errorf("%w: empty field %d", ErrInvalidAgent, i)
		}
	}

	sigPubKey, err := hex.DecodeString(parts[1])
	if err != nil {
		return domain.DisputeAgent{}, fmt.Errorf("%w: signature pubkey: %s", ErrInvalidAgent, err)
	}
	encPubKey, err := hex.DecodeString(parts[2])
	if err != nil {
		return domain.DisputeAgent{}, fmt.Errorf("%w: encryption pubkey: %s", ErrInvalidAgent, err)
	}
	return domain.DisputeAgent{
		NodeAddress: domain.NodeAddress(parts[0]),
		PubKeyRing: domain.PubKeyRing{
			SignaturePubKey:  sigPubKey,
			EncryptionPubKey: encPubKey,
		},
		PayoutAddress: parts[3],
	}, nil
}

// ParseAgents parses every entry of the list with ParseAgent.
func ParseAgents(list []string) ([]domain.DisputeAgent, error) {
	agents := make([]domain.DisputeAgent, 0, len(list))
	for _, str := range list {
		if strings.TrimSpace(str) == "" {
			continue
		}
		agent, err := ParseAgent(str)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

func pick(agents []domain.DisputeAgent, offerID string) domain.DisputeAgent {
	hash := sha256.Sum256([]byte(offerID))
	i := binary.BigEndian.Uint64(hash[:8]) % uint64(len(agents))
	return agents[i]
}

func sameAgent(a, b domain.DisputeAgent) bool {
	return a.NodeAddress == b.NodeAddress &&
		a.PayoutAddress == b.PayoutAddress &&
		bytes.Equal(a.PubKeyRing.SignaturePubKey, b.PubKeyRing.SignaturePubKey) &&
		bytes.Equal(a.PubKeyRing.EncryptionPubKey, b.PubKeyRing.EncryptionPubKey)
}
