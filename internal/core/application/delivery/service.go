package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
)

var (
	// ErrGaveUp is returned by a blocking Send when the message was never
	// acked after all resends.
	ErrGaveUp = errors.New("message was never acknowledged by peer")
	// ErrNack is returned by a blocking Send when the peer rejected the
	// message.
	ErrNack = errors.New("message rejected by peer")
	// ErrAlreadyTracked is returned when a resend cycle is started for a
	// message that is already being tracked.
	ErrAlreadyTracked = errors.New("message is already being tracked")
	// ErrStopped is returned by a blocking Send when the tracking of the
	// message is stopped before it gets acked.
	ErrStopped = errors.New("message tracking stopped")

	sendTimeout = 30 * time.Second
)

// Request is what is needed to deliver a message to a peer.
type Request struct {
	Peer           domain.NodeAddress
	PeerPubKeyRing domain.PubKeyRing
	Message        domain.TradeMessage
	// Resume is the persisted state of an interrupted resend cycle. When set,
	// the first resend happens only after the persisted delay.
	Resume *domain.MessageState
	// OnStateChange is notified of the changes of the delivery state made by
	// a resend cycle running in background. It is never called from within
	// Send.
	OnStateChange func(state domain.MessageState)
}

// Service is the message delivery reliability layer. It sends messages
// through the p2p service, falling back to the peer's mailbox, and resends
// the ones that need confirmation until they get acked.
type Service struct {
	p2p      ports.P2PService
	metrics  ports.Metrics
	policies map[domain.MessageType]Policy

	lock     *sync.Mutex
	trackers map[string]*tracker
	wg       *sync.WaitGroup
}

func NewService(
	p2pSvc ports.P2PService, metrics ports.Metrics,
	overrides map[domain.MessageType]Policy,
) (*Service, error) {
	if p2pSvc == nil {
		return nil, fmt.Errorf("missing p2p service")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	policies := make(map[domain.MessageType]Policy)
	for msgType, policy := range DefaultPolicies {
		policies[msgType] = policy
	}
	for msgType, policy := range overrides {
		policies[msgType] = policy
	}

	return &Service{
		p2p:      p2pSvc,
		metrics:  metrics,
		policies: policies,
		lock:     &sync.Mutex{},
		trackers: make(map[string]*tracker),
		wg:       &sync.WaitGroup{},
	}, nil
}

// Policy returns the delivery policy of the given message type.
func (s *Service) Policy(msgType domain.MessageType) Policy {
	if p, ok := s.policies[msgType]; ok {
		return p
	}
	return singleShot
}

// Send delivers the message according to its policy and returns the
// delivery state reached before returning.
// Untracked messages are sent once and a transport fault is returned as
// error. Tracked messages are resent until acked: if the policy says to
// await the ack Send blocks until the end of the cycle, otherwise the cycle
// continues in background and Send returns after the first attempt.
func (s *Service) Send(
	ctx context.Context, req Request,
) (domain.MessageState, error) {
	if req.Message == nil {
		msg, err := resumedMessage(req.Resume)
		if err != nil {
			return domain.MessageState{}, err
		}
		req.Message = msg
	}

	policy := s.Policy(req.Message.Type())
	state := domain.MessageState{Uid: req.Message.GetUid()}
	if req.Resume != nil {
		state = *req.Resume
	}
	if len(state.Envelope) <= 0 {
		envelope, err := domain.EncodeMessage(req.Message)
		if err != nil {
			return state, err
		}
		state.Envelope = envelope
	}

	if !policy.IsTracked() {
		err := s.sendOnce(ctx, req, policy, &state, 0, nil)
		return state, err
	}

	t := newTracker(req)
	if err := s.addTracker(t); err != nil {
		return state, err
	}

	b := &backoff.Backoff{
		Min:    policy.InitialDelay,
		Max:    policy.maxDelay(),
		Factor: 2,
	}

	firstWait := b.ForAttempt(0)
	if req.Resume != nil && req.Resume.Attempts > 0 {
		firstWait = req.Resume.NextDelay
		log.Debugf(
			"resuming delivery of %s for trade %s after %d attempts",
			req.Message.Type(), req.Message.GetTradeId(), state.Attempts,
		)
	} else {
		//nolint
		s.sendOnce(ctx, req, policy, &state, firstWait, nil)
	}

	if policy.AwaitAck {
		defer s.removeTracker(t)
		err := s.resendUntilAcked(
			ctx.Done(), t, b, req, policy, &state, firstWait, nil,
		)
		return state, err
	}

	bgState := state
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.removeTracker(t)
		//nolint
		s.resendUntilAcked(
			nil, t, b, req, policy, &bgState, firstWait, req.OnStateChange,
		)
	}()
	return state, nil
}

// OnAck routes an ack received from a peer to the resend cycle of the
// acked message. It returns whether the message was being tracked. Acks not
// sent by the recipient of the message are dropped.
func (s *Service) OnAck(ack *domain.AckMessage, from domain.Sender) bool {
	s.lock.Lock()
	t, ok := s.trackers[ack.SourceUid]
	s.lock.Unlock()

	if !ok {
		return false
	}
	if !t.isFromPeer(from) {
		log.Warnf(
			"dropping ack of %s for trade %s from %s: not the recipient",
			ack.SourceType, ack.TradeId, from.Address,
		)
		return true
	}
	t.onAck(ack)
	return true
}

// IsTracked tells whether a resend cycle is running for the given message.
func (s *Service) IsTracked(uid string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, ok := s.trackers[uid]
	return ok
}

// Stop interrupts the resend cycle of the given message.
func (s *Service) Stop(uid string) {
	s.lock.Lock()
	t, ok := s.trackers[uid]
	s.lock.Unlock()

	if ok {
		t.close()
	}
}

// StopTrade interrupts all the resend cycles of the given trade and waits
// for them to terminate.
func (s *Service) StopTrade(tradeID string) {
	s.lock.Lock()
	trackers := make([]*tracker, 0)
	for _, t := range s.trackers {
		if t.tradeID == tradeID {
			trackers = append(trackers, t)
		}
	}
	s.lock.Unlock()

	for _, t := range trackers {
		t.close()
		<-t.done
	}
}

// Close interrupts every resend cycle.
func (s *Service) Close() {
	s.lock.Lock()
	for _, t := range s.trackers {
		t.close()
	}
	s.lock.Unlock()

	s.wg.Wait()
}

func (s *Service) resendUntilAcked(
	ctxDone <-chan struct{}, t *tracker, b *backoff.Backoff, req Request,
	policy Policy, state *domain.MessageState, wait time.Duration,
	notify func(domain.MessageState),
) error {
	msgType := req.Message.Type()
	tradeID := req.Message.GetTradeId()

	for {
		timer := time.NewTimer(wait)

		select {
		case ack := <-t.acked:
			timer.Stop()
			state.NextDelay = 0
			if !ack.Success {
				state.Status = domain.MessageStatusGaveUp
				notifyState(notify, *state)
				log.Warnf(
					"peer rejected %s of trade %s: %s", msgType, tradeID, ack.ErrorMessage,
				)
				return fmt.Errorf("%w: %s", ErrNack, ack.ErrorMessage)
			}
			state.Status = domain.MessageStatusAcknowledged
			notifyState(notify, *state)
			s.metrics.MessageAcked(msgType)
			log.Debugf("%s of trade %s acknowledged by peer", msgType, tradeID)
			return nil
		case <-t.stop:
			timer.Stop()
			return ErrStopped
		case <-ctxDone:
			timer.Stop()
			return ErrStopped
		case <-timer.C:
		}

		resends := state.Attempts - 1
		if resends >= policy.MaxResends {
			state.Status = domain.MessageStatusGaveUp
			state.NextDelay = 0
			notifyState(notify, *state)
			s.metrics.MessageGaveUp(msgType)

			if policy.FailOnGiveUp {
				log.Warnf(
					"giving up on %s of trade %s after %d attempts",
					msgType, tradeID, state.Attempts,
				)
				return ErrGaveUp
			}
			log.Warnf(
				"no ack received for %s of trade %s after %d attempts, the peer "+
					"will get it from the mailbox", msgType, tradeID, state.Attempts,
			)
			return nil
		}

		wait = b.ForAttempt(float64(resends + 1))
		s.metrics.MessageResent(msgType)
		//nolint
		s.sendOnce(context.Background(), req, policy, state, wait, notify)
	}
}

// sendOnce makes one delivery attempt and updates the given state
// accordingly.
func (s *Service) sendOnce(
	ctx context.Context, req Request, policy Policy,
	state *domain.MessageState, nextDelay time.Duration,
	notify func(domain.MessageState),
) error {
	msg := req.Message
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if state.Attempts == 0 {
		s.metrics.MessageSent(msg.Type())
	}
	state.Attempts++
	state.LastAttemptAt = time.Now().Unix()
	state.NextDelay = nextDelay

	var err error
	if policy.Direct {
		err = s.p2p.SendDirectMessage(ctx, req.Peer, msg)
		state.Status = domain.MessageStatusArrived
	} else {
		var res ports.SendResult
		res, err = s.p2p.SendMailboxMessage(ctx, req.Peer, req.PeerPubKeyRing, msg)
		state.Status = domain.MessageStatusArrived
		if res == ports.SendResultStoredInMailbox {
			state.Status = domain.MessageStatusStoredInMailbox
		}
	}
	if err != nil {
		state.Status = domain.MessageStatusFailed
		log.WithError(err).Warnf(
			"failed to send %s of trade %s to %s (attempt %d)",
			msg.Type(), msg.GetTradeId(), req.Peer, state.Attempts,
		)
	} else {
		log.Debugf(
			"%s of trade %s %s (attempt %d)",
			msg.Type(), msg.GetTradeId(), state.Status, state.Attempts,
		)
	}

	notifyState(notify, *state)
	return err
}

func (s *Service) addTracker(t *tracker) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.trackers[t.uid]; ok {
		return ErrAlreadyTracked
	}
	s.trackers[t.uid] = t
	return nil
}

func (s *Service) removeTracker(t *tracker) {
	s.lock.Lock()
	if current, ok := s.trackers[t.uid]; ok && current == t {
		delete(s.trackers, t.uid)
	}
	s.lock.Unlock()

	close(t.done)
}

func notifyState(notify func(domain.MessageState), state domain.MessageState) {
	if notify != nil {
		notify(state)
	}
}

func resumedMessage(state *domain.MessageState) (domain.TradeMessage, error) {
	if state == nil || len(state.Envelope) <= 0 {
		return nil, fmt.Errorf("missing message to send")
	}
	return domain.DecodeMessage(state.Envelope)
}

type noopMetrics struct{}

func (noopMetrics) MessageSent(domain.MessageType)   {}
func (noopMetrics) MessageResent(domain.MessageType) {}
func (noopMetrics) MessageAcked(domain.MessageType)  {}
func (noopMetrics) MessageGaveUp(domain.MessageType) {}
func (noopMetrics) TradeCompleted(string)            {}
func (noopMetrics) TradeFailed(string)               {}
