// Package p2p delivers trade messages to peers. Messages go straight to the
// peer through a Transport when it is online, otherwise they are signed,
// sealed with the peer's encryption key and left in its Mailbox.
package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
)

var (
	// ErrMissingEncryptionKey is returned when a message can't be stored in
	// the mailbox of a peer whose key ring is unknown.
	ErrMissingEncryptionKey = errors.New("missing peer encryption key")
	ErrServiceNotStarted    = errors.New("p2p service not started")
	ErrMissingSignature     = errors.New("missing mailbox message signature")
)

// signedEnvelope is what gets sealed in a mailbox, the sealing alone doesn't
// tell who the sender is.
type signedEnvelope struct {
	Payload         []byte `json:"payload"`
	SignaturePubKey []byte `json:"signaturePubKey"`
	Signature       []byte `json:"signature"`
}

// Transport sends raw envelopes to online peers.
type Transport interface {
	// Start makes the transport accept messages. The handler receives the
	// envelope and the id of the authenticated remote peer.
	Start(ctx context.Context, handler func(data []byte, from string)) error
	Stop()
	Address() domain.NodeAddress
	Send(ctx context.Context, peer domain.NodeAddress, data []byte) error
	// PeerID returns the id of the peer reachable at the given address, the
	// one reported to the handler for its messages.
	PeerID(addr domain.NodeAddress) (string, error)
}

// Mailbox stores sealed messages for offline peers.
type Mailbox interface {
	// Start delivers to the handler every message stored, now and later, for
	// the given owner key. Messages are removed once handled.
	Start(ctx context.Context, owner []byte, handler func(sealed []byte)) error
	Stop()
	Put(ctx context.Context, recipient []byte, uid string, sealed []byte) error
}

// Service is a ports.P2PService. The mailbox is optional, without it
// messages reach only online peers.
type Service struct {
	transport Transport
	mailbox   Mailbox
	keyRing   ports.KeyRing

	lock     *sync.RWMutex
	handlers []ports.MessageHandler
	started  bool
}

func NewService(
	transport Transport, mailbox Mailbox, keyRing ports.KeyRing,
) (*Service, error) {
	if transport == nil {
		return nil, fmt.Errorf("missing transport")
	}
	if keyRing == nil {
		return nil, fmt.Errorf("missing key ring")
	}
	return &Service{
		transport: transport,
		mailbox:   mailbox,
		keyRing:   keyRing,
		lock:      &sync.RWMutex{},
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.started {
		return nil
	}
	if err := s.transport.Start(ctx, s.onDirectMessage); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	if s.mailbox != nil {
		owner := s.keyRing.PubKeyRing().EncryptionPubKey
		if err := s.mailbox.Start(ctx, owner, s.onMailboxMessage); err != nil {
			s.transport.Stop()
			return fmt.Errorf("failed to start mailbox: %w", err)
		}
	}
	s.started = true

	log.Infof("p2p service listening on %s", s.transport.Address())
	return nil
}

func (s *Service) Stop() {
	s.lock.Lock()
	if !s.started {
		s.lock.Unlock()
		return
	}
	s.started = false
	s.lock.Unlock()

	if s.mailbox != nil {
		s.mailbox.Stop()
	}
	s.transport.Stop()
}

func (s *Service) NodeAddress() domain.NodeAddress {
	return s.transport.Address()
}

func (s *Service) AddMessageHandler(handler ports.MessageHandler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.handlers = append(s.handlers, handler)
}

func (s *Service) SendDirectMessage(
	ctx context.Context, peer domain.NodeAddress, msg domain.TradeMessage,
) error {
	if !s.isStarted() {
		return ErrServiceNotStarted
	}
	data, err := domain.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, peer, data)
}

func (s *Service) SendMailboxMessage(
	ctx context.Context, peer domain.NodeAddress,
	peerPubKeyRing domain.PubKeyRing, msg domain.TradeMessage,
) (ports.SendResult, error) {
	err := s.SendDirectMessage(ctx, peer, msg)
	if err == nil {
		return ports.SendResultArrived, nil
	}
	if s.mailbox == nil || errors.Is(err, ErrServiceNotStarted) {
		return 0, err
	}
	log.WithError(err).Debugf(
		"peer %s unreachable, storing %s in mailbox", peer, msg.Type(),
	)

	if peerPubKeyRing.IsEmpty() {
		return 0, ErrMissingEncryptionKey
	}
	data, err := s.signedEnvelope(msg)
	if err != nil {
		return 0, err
	}
	sealed, err := s.keyRing.Seal(peerPubKeyRing.EncryptionPubKey, data)
	if err != nil {
		return 0, err
	}
	if err := s.mailbox.Put(
		ctx, peerPubKeyRing.EncryptionPubKey, msg.GetUid(), sealed,
	); err != nil {
		return 0, fmt.Errorf("failed to store message in mailbox: %w", err)
	}
	return ports.SendResultStoredInMailbox, nil
}

func (s *Service) onDirectMessage(data []byte, from string) {
	msg, err := domain.DecodeMessage(data)
	if err != nil {
		log.WithError(err).Warnf("dropped malformed message from peer %s", from)
		return
	}

	sender := msg.GetSenderNodeAddress()
	peerID, err := s.transport.PeerID(sender)
	if err != nil || peerID != from {
		log.Warnf(
			"dropped %s from peer %s claiming to be %s", msg.Type(), from, sender,
		)
		return
	}
	s.dispatch(msg, domain.Sender{Address: sender})
}

func (s *Service) onMailboxMessage(sealed []byte) {
	data, err := s.keyRing.Open(sealed)
	if err != nil {
		log.WithError(err).Warn("dropped mailbox message")
		return
	}
	msg, signer, err := s.openSignedEnvelope(data)
	if err != nil {
		log.WithError(err).Warn("dropped malformed mailbox message")
		return
	}
	s.dispatch(msg, domain.Sender{
		Address:         msg.GetSenderNodeAddress(),
		SignaturePubKey: signer,
	})
}

func (s *Service) signedEnvelope(msg domain.TradeMessage) ([]byte, error) {
	payload, err := domain.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	sig, err := s.keyRing.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return json.Marshal(signedEnvelope{
		Payload:         payload,
		SignaturePubKey: s.keyRing.PubKeyRing().SignaturePubKey,
		Signature:       sig,
	})
}

// openSignedEnvelope returns the message and the key it was signed with.
func (s *Service) openSignedEnvelope(data []byte) (domain.TradeMessage, []byte, error) {
	var env signedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, err
	}
	if len(env.SignaturePubKey) == 0 || len(env.Signature) == 0 {
		return nil, nil, ErrMissingSignature
	}
	if err := s.keyRing.Verify(env.SignaturePubKey, env.Payload, env.Signature); err != nil {
		return nil, nil, fmt.Errorf("invalid signature: %w", err)
	}
	msg, err := domain.DecodeMessage(env.Payload)
	if err != nil {
		return nil, nil, err
	}
	return msg, env.SignaturePubKey, nil
}

func (s *Service) dispatch(msg domain.TradeMessage, from domain.Sender) {
	s.lock.RLock()
	handlers := make([]ports.MessageHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.lock.RUnlock()

	for _, handler := range handlers {
		handler(msg, from)
	}
}

func (s *Service) isStarted() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.started
}
