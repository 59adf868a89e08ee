package delivery_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/delivery"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/thanhpk/randstr"
)

var (
	ctx  = context.Background()
	peer = domain.NodeAddress("/ip4/127.0.0.1/tcp/9000/p2p/peer")
	me   = domain.NodeAddress("/ip4/127.0.0.1/tcp/9001/p2p/me")

	fromPeer = domain.Sender{Address: peer}

	fastPolicies = map[domain.MessageType]delivery.Policy{
		domain.MsgShareBuyerPaymentAccount: {
			MaxResends: 3, InitialDelay: time.Millisecond, AwaitAck: true, FailOnGiveUp: true,
		},
		domain.MsgCounterCurrencyTransferStarted: {
			MaxResends: 3, InitialDelay: time.Millisecond,
		},
		domain.MsgPayoutTxPublished: {
			MaxResends: 3, InitialDelay: time.Hour,
		},
	}
)

func TestSendUntracked(t *testing.T) {
	tests := []struct {
		name           string
		result         ports.SendResult
		err            error
		expectedStatus domain.MessageStatus
	}{
		{"arrived", ports.SendResultArrived, nil, domain.MessageStatusArrived},
		{"stored_in_mailbox", ports.SendResultStoredInMailbox, nil, domain.MessageStatusStoredInMailbox},
		{"fault", ports.SendResultArrived, fmt.Errorf("peer unreachable"), domain.MessageStatusFailed},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			p2p := newP2PStub(func(int, domain.TradeMessage) (ports.SendResult, error) {
				return tt.result, tt.err
			})
			svc := newTestService(t, p2p)
			states := &stateRecorder{}

			state, err := svc.Send(ctx, delivery.Request{
				Peer:          peer,
				Message:       newMessage(domain.MsgInputsForDepositTxRequest),
				OnStateChange: states.record,
			})
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, 1, p2p.count())

			require.Equal(t, tt.expectedStatus, state.Status)
			require.Equal(t, 1, state.Attempts)
			require.NotEmpty(t, state.Envelope)
			// Synchronous changes are returned, never notified.
			require.Empty(t, states.all())
		})
	}
}

func TestSendAwaitAck(t *testing.T) {
	t.Run("acked", func(t *testing.T) {
		var svc *delivery.Service
		p2p := newP2PStub(func(n int, msg domain.TradeMessage) (ports.SendResult, error) {
			if n == 2 {
				svc.OnAck(domain.NewAckMessage(msg, peer, true, ""), fromPeer)
			}
			return ports.SendResultStoredInMailbox, nil
		})
		svc = newTestService(t, p2p)
		msg := newMessage(domain.MsgShareBuyerPaymentAccount)

		state, err := svc.Send(ctx, delivery.Request{Peer: peer, Message: msg})
		require.NoError(t, err)
		require.Equal(t, 2, p2p.count())
		require.Equal(t, domain.MessageStatusAcknowledged, state.Status)
		require.False(t, svc.IsTracked(msg.GetUid()))

		// Every resend carries the very same message id.
		for _, sent := range p2p.messages() {
			require.Equal(t, msg.GetUid(), sent.GetUid())
		}
	})

	t.Run("gave_up", func(t *testing.T) {
		p2p := newP2PStub(func(int, domain.TradeMessage) (ports.SendResult, error) {
			return ports.SendResultArrived, nil
		})
		svc := newTestService(t, p2p)

		state, err := svc.Send(ctx, delivery.Request{
			Peer:    peer,
			Message: newMessage(domain.MsgShareBuyerPaymentAccount),
		})
		require.ErrorIs(t, err, delivery.ErrGaveUp)
		require.Equal(t, 4, p2p.count())
		require.Equal(t, domain.MessageStatusGaveUp, state.Status)
		require.Equal(t, 4, state.Attempts)
	})

	t.Run("nack", func(t *testing.T) {
		var svc *delivery.Service
		p2p := newP2PStub(func(_ int, msg domain.TradeMessage) (ports.SendResult, error) {
			svc.OnAck(domain.NewAckMessage(msg, peer, false, "invalid account"), fromPeer)
			return ports.SendResultArrived, nil
		})
		svc = newTestService(t, p2p)

		state, err := svc.Send(ctx, delivery.Request{
			Peer: peer, Message: newMessage(domain.MsgShareBuyerPaymentAccount),
		})
		require.ErrorIs(t, err, delivery.ErrNack)
		require.Equal(t, domain.MessageStatusGaveUp, state.Status)
	})

	t.Run("transport_faults_are_retried", func(t *testing.T) {
		var svc *delivery.Service
		p2p := newP2PStub(func(n int, msg domain.TradeMessage) (ports.SendResult, error) {
			if n < 3 {
				return ports.SendResultArrived, fmt.Errorf("peer unreachable")
			}
			svc.OnAck(domain.NewAckMessage(msg, peer, true, ""), fromPeer)
			return ports.SendResultArrived, nil
		})
		svc = newTestService(t, p2p)

		_, err := svc.Send(ctx, delivery.Request{
			Peer: peer, Message: newMessage(domain.MsgShareBuyerPaymentAccount),
		})
		require.NoError(t, err)
		require.Equal(t, 3, p2p.count())
	})
}

func TestSendInBackground(t *testing.T) {
	t.Run("silent_give_up", func(t *testing.T) {
		p2p := newP2PStub(func(int, domain.TradeMessage) (ports.SendResult, error) {
			return ports.SendResultStoredInMailbox, nil
		})
		svc := newTestService(t, p2p)
		states := &stateRecorder{}
		msg := newMessage(domain.MsgCounterCurrencyTransferStarted)

		state, err := svc.Send(ctx, delivery.Request{
			Peer: peer, Message: msg, OnStateChange: states.record,
		})
		require.NoError(t, err)
		require.Equal(t, domain.MessageStatusStoredInMailbox, state.Status)
		require.Equal(t, 1, state.Attempts)
		require.Equal(t, time.Millisecond, state.NextDelay)

		require.Eventually(t, func() bool {
			return !svc.IsTracked(msg.GetUid())
		}, time.Second, 5*time.Millisecond)
		require.Equal(t, 4, p2p.count())
		require.Equal(t, domain.MessageStatusGaveUp, states.last().Status)

		// The wait doubles after every resend.
		require.Equal(t, []time.Duration{
			2 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond,
		}, states.delays())
	})

	t.Run("already_tracked_and_stop", func(t *testing.T) {
		p2p := newP2PStub(func(int, domain.TradeMessage) (ports.SendResult, error) {
			return ports.SendResultArrived, nil
		})
		svc := newTestService(t, p2p)
		msg := newMessage(domain.MsgPayoutTxPublished)

		_, err := svc.Send(ctx, delivery.Request{Peer: peer, Message: msg})
		require.NoError(t, err)
		require.True(t, svc.IsTracked(msg.GetUid()))

		_, err = svc.Send(ctx, delivery.Request{Peer: peer, Message: msg})
		require.ErrorIs(t, err, delivery.ErrAlreadyTracked)
		require.Equal(t, 1, p2p.count())

		svc.StopTrade(msg.GetTradeId())
		require.False(t, svc.IsTracked(msg.GetUid()))
	})

	t.Run("acked", func(t *testing.T) {
		p2p := newP2PStub(func(int, domain.TradeMessage) (ports.SendResult, error) {
			return ports.SendResultArrived, nil
		})
		svc := newTestService(t, p2p)
		states := &stateRecorder{}
		msg := newMessage(domain.MsgPayoutTxPublished)

		_, err := svc.Send(ctx, delivery.Request{
			Peer: peer, Message: msg, OnStateChange: states.record,
		})
		require.NoError(t, err)
		require.True(t, svc.OnAck(domain.NewAckMessage(msg, peer, true, ""), fromPeer))

		require.Eventually(t, func() bool {
			return states.last().Status == domain.MessageStatusAcknowledged
		}, time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			return !svc.IsTracked(msg.GetUid())
		}, time.Second, 5*time.Millisecond)
		require.False(t, svc.OnAck(domain.NewAckMessage(msg, peer, true, ""), fromPeer))
	})
}

func TestAckFromStranger(t *testing.T) {
	peerKey := []byte(randstr.Hex(33))
	tests := []struct {
		name string
		from domain.Sender
	}{
		{
			name: "other_address",
			from: domain.Sender{Address: "/ip4/127.0.0.1/tcp/9002/p2p/other"},
		},
		{
			name: "other_signer",
			from: domain.Sender{Address: peer, SignaturePubKey: []byte(randstr.Hex(33))},
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			var svc *delivery.Service
			p2p := newP2PStub(func(n int, msg domain.TradeMessage) (ports.SendResult, error) {
				if n == 1 {
					// A nack from anyone else than the recipient must neither
					// fail the send nor stop the resend cycle.
					require.True(t, svc.OnAck(domain.NewAckMessage(msg, peer, false, "forged"), tt.from))
				}
				if n == 3 {
					svc.OnAck(domain.NewAckMessage(msg, peer, true, ""), domain.Sender{
						Address: peer, SignaturePubKey: peerKey,
					})
				}
				return ports.SendResultStoredInMailbox, nil
			})
			svc = newTestService(t, p2p)

			state, err := svc.Send(ctx, delivery.Request{
				Peer:           peer,
				PeerPubKeyRing: domain.PubKeyRing{SignaturePubKey: peerKey},
				Message:        newMessage(domain.MsgShareBuyerPaymentAccount),
			})
			require.NoError(t, err)
			require.Equal(t, 3, p2p.count())
			require.Equal(t, domain.MessageStatusAcknowledged, state.Status)
		})
	}
}

func TestResume(t *testing.T) {
	p2p := newP2PStub(func(int, domain.TradeMessage) (ports.SendResult, error) {
		return ports.SendResultStoredInMailbox, nil
	})
	svc := newTestService(t, p2p)
	states := &stateRecorder{}

	msg := newMessage(domain.MsgCounterCurrencyTransferStarted)
	envelope, err := domain.EncodeMessage(msg)
	require.NoError(t, err)

	_, err = svc.Send(ctx, delivery.Request{
		Peer: peer,
		Resume: &domain.MessageState{
			Uid:       msg.GetUid(),
			Status:    domain.MessageStatusStoredInMailbox,
			Attempts:  3,
			NextDelay: 20 * time.Millisecond,
			Envelope:  envelope,
		},
		OnStateChange: states.record,
	})
	require.NoError(t, err)

	// Nothing is sent again before the persisted delay expires.
	require.Zero(t, p2p.count())

	require.Eventually(t, func() bool {
		return !svc.IsTracked(msg.GetUid())
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, p2p.count())
	require.Equal(t, msg.GetUid(), p2p.messages()[0].GetUid())

	last := states.last()
	require.Equal(t, domain.MessageStatusGaveUp, last.Status)
	require.Equal(t, 4, last.Attempts)
}

func TestDefaultPolicies(t *testing.T) {
	svc := newTestService(t, newP2PStub(nil))

	share := delivery.DefaultPolicies[domain.MsgShareBuyerPaymentAccount]
	require.Equal(t, 7, share.MaxResends)
	require.Equal(t, 4*time.Second, share.InitialDelay)
	require.True(t, share.AwaitAck)
	require.True(t, share.FailOnGiveUp)

	started := delivery.DefaultPolicies[domain.MsgCounterCurrencyTransferStarted]
	require.Equal(t, 10, started.MaxResends)
	require.Equal(t, 15*time.Minute, started.InitialDelay)
	require.False(t, started.AwaitAck)
	require.False(t, started.FailOnGiveUp)

	require.False(t, svc.Policy(domain.MsgInputsForDepositTxRequest).IsTracked())
	require.True(t, svc.Policy(domain.MsgOfferAvailabilityRequest).Direct)
	// Overrides replace the defaults.
	require.Equal(t, time.Hour, svc.Policy(domain.MsgPayoutTxPublished).InitialDelay)
}

func newTestService(t *testing.T, p2p ports.P2PService) *delivery.Service {
	svc, err := delivery.NewService(p2p, nil, fastPolicies)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func newMessage(msgType domain.MessageType) domain.TradeMessage {
	base := domain.NewMessageBase(randstr.Hex(16), me, msgType)
	switch msgType {
	case domain.MsgShareBuyerPaymentAccount:
		return &domain.ShareBuyerPaymentAccountMessage{MessageBase: base}
	case domain.MsgCounterCurrencyTransferStarted:
		return &domain.CounterCurrencyTransferStartedMessage{MessageBase: base}
	case domain.MsgPayoutTxPublished:
		return &domain.PayoutTxPublishedMessage{MessageBase: base}
	default:
		return &domain.InputsForDepositTxRequest{MessageBase: base}
	}
}

type p2pStub struct {
	lock   *sync.Mutex
	sent   []domain.TradeMessage
	sendFn func(n int, msg domain.TradeMessage) (ports.SendResult, error)
}

func newP2PStub(
	sendFn func(n int, msg domain.TradeMessage) (ports.SendResult, error),
) *p2pStub {
	return &p2pStub{lock: &sync.Mutex{}, sendFn: sendFn}
}

func (p *p2pStub) Start(context.Context) error            { return nil }
func (p *p2pStub) Stop()                                  {}
func (p *p2pStub) NodeAddress() domain.NodeAddress        { return me }
func (p *p2pStub) AddMessageHandler(ports.MessageHandler) {}

func (p *p2pStub) SendDirectMessage(
	_ context.Context, _ domain.NodeAddress, msg domain.TradeMessage,
) error {
	_, err := p.send(msg)
	return err
}

func (p *p2pStub) SendMailboxMessage(
	_ context.Context, _ domain.NodeAddress, _ domain.PubKeyRing,
	msg domain.TradeMessage,
) (ports.SendResult, error) {
	return p.send(msg)
}

func (p *p2pStub) send(msg domain.TradeMessage) (ports.SendResult, error) {
	p.lock.Lock()
	p.sent = append(p.sent, msg)
	n := len(p.sent)
	p.lock.Unlock()

	return p.sendFn(n, msg)
}

func (p *p2pStub) count() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.sent)
}

func (p *p2pStub) messages() []domain.TradeMessage {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]domain.TradeMessage{}, p.sent...)
}

type stateRecorder struct {
	lock   sync.Mutex
	states []domain.MessageState
}

func (r *stateRecorder) record(state domain.MessageState) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) all() []domain.MessageState {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]domain.MessageState{}, r.states...)
}

func (r *stateRecorder) last() domain.MessageState {
	r.lock.Lock()
	defer r.lock.Unlock()
	if len(r.states) <= 0 {
		return domain.MessageState{}
	}
	return r.states[len(r.states)-1]
}

// delays returns the wait scheduled after each notified attempt.
func (r *stateRecorder) delays() []time.Duration {
	r.lock.Lock()
	defer r.lock.Unlock()

	delays := make([]time.Duration, 0)
	attempts := 0
	for _, s := range r.states {
		if s.Attempts > attempts {
			attempts = s.Attempts
			delays = append(delays, s.NextDelay)
		}
	}
	return delays
}
