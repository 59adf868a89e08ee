package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/application/delivery"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/pkg/crawler"
)

const (
	eventQueueSize     = 64
	processedCacheSize = 128
)

// Listener is notified when a trade reaches a terminal outcome. Callbacks run
// on the protocol goroutine once its resources are released, they must not
// call Stop.
type Listener interface {
	OnTradeCompleted(trade *domain.Trade)
	OnTradeFailed(trade *domain.Trade, err error)
}

type noopListener struct{}

func (noopListener) OnTradeCompleted(*domain.Trade)      {}
func (noopListener) OnTradeFailed(*domain.Trade, error) {}

type eventKind uint8

const (
	eventLocal eventKind = iota
	eventMessage
	eventAck
	eventChain
	eventUpdate
)

type event struct {
	kind    eventKind
	trigger Trigger

	msg     domain.TradeMessage
	from    domain.NodeAddress
	signer  []byte
	ack     *domain.AckMessage
	txEvent *crawler.TransactionEvent
	update  func(t *domain.Trade) error

	withdrawAddress     string
	counterCurrencyTxId string
	counterCurrencyData string

	result chan error
}

type watchKind uint8

const (
	watchDeposit watchKind = iota
	watchPayout
)

// TradeProtocol drives one trade. Every trigger, be it a local action, an
// inbound message, an ack or a chain observation, is queued and handled in
// order by a single goroutine that is the only writer of the trade.
type TradeProtocol struct {
	trade    *domain.Trade
	provider *Provider
	listener Listener

	events  chan event
	quit    chan struct{}
	exiting chan struct{}
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	lock     *sync.Mutex
	started  bool
	stopped  bool
	exitOnce *sync.Once

	failure   error
	watched   map[string]watchKind
	processed *lru.Cache[string, *domain.AckMessage]
}

func NewTradeProtocol(
	trade *domain.Trade, provider *Provider, listener Listener,
) (*TradeProtocol, error) {
	if trade == nil {
		return nil, fmt.Errorf("missing trade")
	}
	if provider == nil {
		return nil, fmt.Errorf("missing provider")
	}
	if err := provider.Validate(); err != nil {
		return nil, err
	}
	if listener == nil {
		listener = noopListener{}
	}
	processed, err := lru.New[string, *domain.AckMessage](processedCacheSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TradeProtocol{
		trade:     trade,
		provider:  provider,
		listener:  listener,
		events:    make(chan event, eventQueueSize),
		quit:      make(chan struct{}),
		exiting:   make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		lock:      &sync.Mutex{},
		exitOnce:  &sync.Once{},
		watched:   make(map[string]watchKind),
		processed: processed,
	}, nil
}

// TradeId ...
func (p *TradeProtocol) TradeId() string {
	return p.trade.Id
}

// Done is closed once the protocol goroutine has terminated.
func (p *TradeProtocol) Done() <-chan struct{} {
	return p.done
}

// Start resumes the interrupted resend cycles and chain observations of the
// trade and starts handling triggers. Calling it more than once is a no-op.
func (p *TradeProtocol) Start() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true
	go p.run()
}

// Stop terminates the protocol without changing the outcome of the trade
// and waits for the goroutine to exit.
func (p *TradeProtocol) Stop() {
	p.lock.Lock()
	if p.stopped {
		p.lock.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.lock.Unlock()

	p.cancel()
	close(p.quit)
	if started {
		<-p.done
		return
	}
	close(p.done)
}

// TakeOffer starts the negotiation on the taker side.
func (p *TradeProtocol) TakeOffer(ctx context.Context) error {
	return p.trigger(ctx, event{kind: eventLocal, trigger: TriggerTakeOffer})
}

// OnPaymentStarted is called when the buyer has initiated the counter
// currency transfer.
func (p *TradeProtocol) OnPaymentStarted(
	ctx context.Context, counterCurrencyTxId, extraData string,
) error {
	return p.trigger(ctx, event{
		kind:                eventLocal,
		trigger:             TriggerPaymentStarted,
		counterCurrencyTxId: counterCurrencyTxId,
		counterCurrencyData: extraData,
	})
}

// OnPaymentReceived is called when the seller has received the counter
// currency transfer.
func (p *TradeProtocol) OnPaymentReceived(ctx context.Context) error {
	return p.trigger(ctx, event{kind: eventLocal, trigger: TriggerPaymentReceived})
}

// OnWithdrawRequest moves the payout funds to the given address, or keeps
// them in the wallet if empty, and completes the trade.
func (p *TradeProtocol) OnWithdrawRequest(ctx context.Context, address string) error {
	return p.trigger(ctx, event{
		kind: eventLocal, trigger: TriggerWithdraw, withdrawAddress: address,
	})
}

// Update applies fn to the trade from within the protocol goroutine and
// persists the result.
func (p *TradeProtocol) Update(
	ctx context.Context, fn func(t *domain.Trade) error,
) error {
	return p.trigger(ctx, event{kind: eventUpdate, update: fn})
}

// HandleMessage queues a message received from a peer.
func (p *TradeProtocol) HandleMessage(
	msg domain.TradeMessage, from domain.Sender,
) error {
	return p.post(event{
		kind: eventMessage, msg: msg, from: from.Address, signer: from.SignaturePubKey,
	})
}

// HandleAck queues an ack for a message not tracked by the delivery layer.
func (p *TradeProtocol) HandleAck(ack *domain.AckMessage, from domain.Sender) error {
	return p.post(event{
		kind: eventAck, ack: ack, from: from.Address, signer: from.SignaturePubKey,
	})
}

// OnTxEvent queues a chain observation of a transaction of the trade.
func (p *TradeProtocol) OnTxEvent(ev crawler.TransactionEvent) error {
	return p.post(event{kind: eventChain, txEvent: &ev})
}

func (p *TradeProtocol) trigger(ctx context.Context, ev event) error {
	ev.result = make(chan error, 1)
	if err := p.post(ev); err != nil {
		return err
	}

	select {
	case err := <-ev.result:
		return err
	case <-p.done:
		select {
		case err := <-ev.result:
			return err
		default:
		}
		if p.failure != nil {
			return p.failure
		}
		return ErrProtocolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *TradeProtocol) post(ev event) error {
	select {
	case <-p.exiting:
		return ErrProtocolStopped
	case <-p.quit:
		return ErrProtocolStopped
	case <-p.done:
		return ErrProtocolStopped
	default:
	}

	select {
	case p.events <- ev:
		return nil
	case <-p.exiting:
		return ErrProtocolStopped
	case <-p.quit:
		return ErrProtocolStopped
	case <-p.done:
		return ErrProtocolStopped
	}
}

func (p *TradeProtocol) run() {
	defer close(p.done)

	p.resume()

	for {
		select {
		case <-p.quit:
			p.release()
			return
		case ev := <-p.events:
			err := p.handle(ev)

			if p.failure != nil || p.trade.IsCompleted() {
				p.finish()
				reply(ev, err)
				return
			}
			reply(ev, err)
		}
	}
}

func (p *TradeProtocol) handle(ev event) error {
	switch ev.kind {
	case eventMessage:
		return p.handleMessage(ev)
	case eventAck:
		if err := p.checkSender(ev); err != nil {
			log.Warnf(
				"dropping ack of %s for trade %s from %s: not the trade peer",
				ev.ack.SourceType, p.trade.Id, ev.from,
			)
			return err
		}
		p.handleAck(ev.ack)
		return nil
	case eventChain:
		return p.handleTxEvent(ev.txEvent)
	case eventUpdate:
		if err := ev.update(p.trade); err != nil {
			return err
		}
		p.persist()
		return nil
	default:
		return p.handleLocal(ev)
	}
}

func (p *TradeProtocol) handleLocal(ev event) error {
	s, err := p.lookup(ev.trigger)
	if err != nil {
		return err
	}
	if check := s.check(p.trade); check != checkAllowed {
		return fmt.Errorf(
			"%w: %s in state %s", ErrInvalidPhase, ev.trigger, p.stateString(),
		)
	}

	if ev.trigger == TriggerPaymentStarted {
		p.trade.CounterCurrencyTxId = ev.counterCurrencyTxId
		p.trade.CounterCurrencyExtraData = ev.counterCurrencyData
	}

	tc := p.newTaskContext()
	tc.WithdrawAddress = ev.withdrawAddress
	return p.runStep(ev.trigger, s, tc)
}

func (p *TradeProtocol) handleMessage(ev event) error {
	msg := ev.msg
	if err := p.checkSender(ev); err != nil {
		log.Warnf(
			"dropping %s of trade %s from %s: not the trade peer",
			msg.Type(), p.trade.Id, ev.from,
		)
		return err
	}

	if ack, ok := p.processed.Get(msg.GetUid()); ok {
		log.Debugf("%s of trade %s already processed", msg.Type(), p.trade.Id)
		p.sendAck(ev.from, ack)
		return nil
	}

	trigger := Trigger(msg.Type())
	s, err := p.lookup(trigger)
	if err != nil {
		p.sendAck(ev.from, p.newAck(msg, err))
		return err
	}

	switch s.check(p.trade) {
	case checkStale:
		log.Warnf(
			"ignoring stale %s of trade %s in state %s",
			msg.Type(), p.trade.Id, p.stateString(),
		)
		ack := p.newAck(msg, nil)
		p.processed.Add(msg.GetUid(), ack)
		p.sendAck(ev.from, ack)
		return nil
	case checkEarly:
		err := fmt.Errorf(
			"%w: %s in state %s", ErrInvalidPhase, msg.Type(), p.stateString(),
		)
		log.Warn(err)
		p.sendAck(ev.from, p.newAck(msg, err))
		return err
	}

	tc := p.newTaskContext()
	tc.Message = msg
	p.trade.ProcessModel.TradeMessage = msg
	err = p.runStep(trigger, s, tc)
	p.trade.ProcessModel.TradeMessage = nil

	ack := p.newAck(msg, err)
	p.processed.Add(msg.GetUid(), ack)
	p.sendAck(ev.from, ack)
	return err
}

// checkSender makes sure a message or ack comes from the trade peer, by its
// address and, for mailbox messages, by its signature key.
func (p *TradeProtocol) checkSender(ev event) error {
	if p.trade.PeerNodeAddress != "" && ev.from != p.trade.PeerNodeAddress {
		return ErrPeerMismatch
	}
	sender := domain.Sender{Address: ev.from, SignaturePubKey: ev.signer}
	if !sender.IsSignedBy(p.trade.ProcessModel.TradePeer.PubKeyRing.SignaturePubKey) {
		return ErrPeerMismatch
	}
	return nil
}

func (p *TradeProtocol) handleAck(ack *domain.AckMessage) {
	pm := &p.trade.ProcessModel
	state, ok := pm.MessageStates[ack.SourceType]
	if ok && state.Uid == ack.SourceUid && !state.Status.IsFinal() {
		state.Status = domain.MessageStatusAcknowledged
		if !ack.Success {
			state.Status = domain.MessageStatusGaveUp
		}
		applyMessageState(p.trade, ack.SourceType, state)
	}

	if !ack.Success {
		log.Warnf(
			"peer rejected %s of trade %s: %s",
			ack.SourceType, p.trade.Id, ack.ErrorMessage,
		)
		if !p.trade.IsDepositPublished() {
			p.fail(fmt.Errorf("%w: %s", delivery.ErrNack, ack.ErrorMessage))
		}
	}
	p.persist()
}

func (p *TradeProtocol) handleTxEvent(ev *crawler.TransactionEvent) error {
	kind, ok := p.watched[ev.TxID]
	if !ok {
		return nil
	}

	var trigger Trigger
	switch kind {
	case watchDeposit:
		trigger = TriggerDepositTxSeen
		if ev.EventType == crawler.TransactionConfirmed {
			trigger = TriggerDepositTxConfirmed
			delete(p.watched, ev.TxID)
		}
	case watchPayout:
		trigger = TriggerPayoutTxSeen
		p.unwatch(ev.TxID)
	}

	s, err := p.lookup(trigger)
	if err != nil {
		return err
	}
	if s.check(p.trade) != checkAllowed {
		log.Debugf(
			"ignoring %s of tx %s for trade %s in state %s",
			ev.EventType, ev.TxID, p.trade.Id, p.stateString(),
		)
		return nil
	}

	tc := p.newTaskContext()
	tc.TxEvent = ev
	return p.runStep(trigger, s, tc)
}

func (p *TradeProtocol) runStep(trigger Trigger, s step, tc *TaskContext) error {
	log.Debugf("handling %s for trade %s", trigger, p.trade.Id)

	err := NewTaskRunner(s.tasks...).Run(tc)
	if err != nil {
		p.trade.ErrorMessage = err.Error()
		log.WithError(err).Warnf("failed to handle %s for trade %s", trigger, p.trade.Id)

		// An interrupted task doesn't make the trade fail, it's up to the
		// next run to resume it.
		if p.ctx.Err() == nil && !p.trade.IsDepositPublished() {
			p.fail(err)
		}
	}

	p.persist()
	return err
}

func (p *TradeProtocol) fail(err error) {
	if p.failure != nil {
		return
	}
	p.failure = err
	p.trade.ErrorMessage = err.Error()
}

// resume restarts the background resend cycles and the chain observations
// interrupted by a shutdown. Resend cycles wait for the persisted delay
// before sending again.
func (p *TradeProtocol) resume() {
	pm := &p.trade.ProcessModel
	for msgType, state := range pm.MessageStates {
		policy := p.provider.Delivery.Policy(msgType)
		if !policy.IsTracked() || policy.AwaitAck ||
			state.Status.IsFinal() || len(state.Envelope) <= 0 ||
			p.isStale(msgType) {
			continue
		}

		state := state
		newState, err := p.provider.Delivery.Send(p.ctx, delivery.Request{
			Peer:           p.trade.PeerNodeAddress,
			PeerPubKeyRing: pm.TradePeer.PubKeyRing,
			Resume:         &state,
			OnStateChange:  p.deliveryCallback(msgType),
		})
		if err != nil {
			log.WithError(err).Warnf(
				"failed to resume delivery of %s for trade %s", msgType, p.trade.Id,
			)
			continue
		}
		applyMessageState(p.trade, msgType, newState)
	}

	if txid := p.depositTxToWatch(); txid != "" {
		p.watch(txid, watchDeposit)
	}
	if txid := p.payoutTxToWatch(); txid != "" {
		p.watch(txid, watchPayout)
	}
	p.persist()
}

// finish releases the resources of a trade that reached its outcome and
// notifies the listener.
func (p *TradeProtocol) finish() {
	p.release()
	p.persist()

	if p.failure != nil {
		log.WithError(p.failure).Infof("trade %s failed", p.trade.Id)
		p.listener.OnTradeFailed(p.trade, p.failure)
		return
	}
	log.Infof("trade %s completed", p.trade.Id)
	p.listener.OnTradeCompleted(p.trade)
}

func (p *TradeProtocol) release() {
	p.exitOnce.Do(func() { close(p.exiting) })
	p.cancel()

	for txid := range p.watched {
		p.unwatch(txid)
	}
	p.provider.Delivery.StopTrade(p.trade.Id)
}

func (p *TradeProtocol) persist() {
	if err := p.provider.Repository.SaveTrade(
		context.Background(), p.trade,
	); err != nil {
		log.WithError(err).Errorf("failed to persist trade %s", p.trade.Id)
	}
}

func (p *TradeProtocol) watch(txid string, kind watchKind) {
	if _, ok := p.watched[txid]; ok {
		return
	}
	p.watched[txid] = kind
	p.provider.Crawler.AddObservable(crawler.NewTransactionObservable(
		p.trade.Id, txid, p.provider.Config.Confirmations,
	))
}

func (p *TradeProtocol) unwatch(txid string) {
	delete(p.watched, txid)
	p.provider.Crawler.RemoveObservable(txid)
}

// deliveryCallback forwards the state changes of a background resend cycle
// to the protocol goroutine.
func (p *TradeProtocol) deliveryCallback(
	msgType domain.MessageType,
) func(domain.MessageState) {
	return func(state domain.MessageState) {
		//nolint
		p.post(event{
			kind: eventUpdate,
			update: func(t *domain.Trade) error {
				applyMessageState(t, msgType, state)
				return nil
			},
		})
	}
}

func (p *TradeProtocol) sendAck(to domain.NodeAddress, ack *domain.AckMessage) {
	if _, err := p.provider.Delivery.Send(p.ctx, delivery.Request{
		Peer:           to,
		PeerPubKeyRing: p.trade.ProcessModel.TradePeer.PubKeyRing,
		Message:        ack,
	}); err != nil {
		log.WithError(err).Warnf(
			"failed to send ack of %s for trade %s", ack.SourceType, p.trade.Id,
		)
	}
}

func (p *TradeProtocol) newAck(msg domain.TradeMessage, err error) *domain.AckMessage {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return domain.NewAckMessage(
		msg, p.trade.ProcessModel.MyNodeAddress, err == nil, errMsg,
	)
}

func (p *TradeProtocol) newTaskContext() *TaskContext {
	return &TaskContext{
		Ctx:      p.ctx,
		Trade:    p.trade,
		Provider: p.provider,
		protocol: p,
	}
}

func (p *TradeProtocol) lookup(trigger Trigger) (step, error) {
	s, ok := lookupStep(p.trade, trigger)
	if !ok {
		return step{}, fmt.Errorf(
			"%w: %s for %s", ErrUnexpectedTrigger, trigger, p.trade.TypeName(),
		)
	}
	return s, nil
}

func (p *TradeProtocol) isStale(msgType domain.MessageType) bool {
	switch msgType {
	case domain.MsgDepositTxAndDelayedPayoutTx:
		return p.trade.Phase() >= domain.PhaseDepositConfirmed
	case domain.MsgCounterCurrencyTransferStarted:
		return p.trade.IsPayoutPublished()
	}
	return p.trade.IsCompleted()
}

func (p *TradeProtocol) depositTxToWatch() string {
	t := p.trade
	if t.Protocol != domain.ProtocolMultisig {
		return ""
	}
	phase := t.Phase()
	if phase < domain.PhaseTakerFeePublished || phase > domain.PhaseDepositPublished {
		return ""
	}
	if t.DepositTxId != "" {
		return t.DepositTxId
	}
	if t.IsBuyer() && len(t.ProcessModel.PreparedDepositTx) > 0 {
		txid, err := txIdOf(t.ProcessModel.PreparedDepositTx)
		if err != nil {
			return ""
		}
		return txid
	}
	return ""
}

func (p *TradeProtocol) payoutTxToWatch() string {
	t := p.trade
	if t.Protocol != domain.ProtocolMultisig || !t.IsBuyer() || t.IsPayoutPublished() {
		return ""
	}
	if t.Phase() < domain.PhaseFiatSent || len(t.ProcessModel.PreparedPayoutTx) <= 0 {
		return ""
	}
	txid, err := txIdOf(t.ProcessModel.PreparedPayoutTx)
	if err != nil {
		return ""
	}
	return txid
}

func (p *TradeProtocol) stateString() string {
	if p.trade.Protocol == domain.ProtocolAtomicSwap {
		return p.trade.SwapState.String()
	}
	return p.trade.State.String()
}

func reply(ev event, err error) {
	if ev.result == nil {
		return
	}
	ev.result <- err
}

// IsPeerRejection tells whether err is caused by a NACK of the peer.
func IsPeerRejection(err error) bool {
	return errors.Is(err, delivery.ErrNack)
}
