package ports

import (
	"context"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// MessageHandler is notified of every message received from peers.
type MessageHandler func(msg domain.TradeMessage, from domain.Sender)

// P2PService sends and receives messages to/from peers.
type P2PService interface {
	Start(ctx context.Context) error
	Stop()
	NodeAddress() domain.NodeAddress
	// SendDirectMessage delivers the message only if the peer is online.
	SendDirectMessage(
		ctx context.Context, peer domain.NodeAddress, msg domain.TradeMessage,
	) error
	// SendMailboxMessage tries direct delivery first and falls back to
	// storing the message, sealed for the peer, in its mailbox.
	SendMailboxMessage(
		ctx context.Context, peer domain.NodeAddress,
		peerPubKeyRing domain.PubKeyRing, msg domain.TradeMessage,
	) (SendResult, error)
	AddMessageHandler(handler MessageHandler)
}
