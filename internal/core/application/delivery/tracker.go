package delivery

import (
	"sync"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// tracker correlates the acks received from the peer with one resend cycle.
type tracker struct {
	uid     string
	tradeID string
	msgType domain.MessageType
	peer    domain.NodeAddress
	peerKey []byte

	acked chan *domain.AckMessage
	stop  chan struct{}
	done  chan struct{}

	stopOnce *sync.Once
}

func newTracker(req Request) *tracker {
	msg := req.Message
	return &tracker{
		uid:      msg.GetUid(),
		tradeID:  msg.GetTradeId(),
		msgType:  msg.Type(),
		peer:     req.Peer,
		peerKey:  req.PeerPubKeyRing.SignaturePubKey,
		acked:    make(chan *domain.AckMessage, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		stopOnce: &sync.Once{},
	}
}

// isFromPeer tells whether an ack comes from the recipient of the message.
func (t *tracker) isFromPeer(from domain.Sender) bool {
	if t.peer != "" && from.Address != t.peer {
		return false
	}
	return from.IsSignedBy(t.peerKey)
}

func (t *tracker) onAck(ack *domain.AckMessage) {
	select {
	case t.acked <- ack:
	default:
	}
}

func (t *tracker) close() {
	t.stopOnce.Do(func() { close(t.stop) })
}
