// Package inmemory connects nodes living in the same process. Each node gets
// a Transport and a Mailbox from a shared Network, peers go offline when
// their transport is stopped.
package inmemory

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

const (
	inboxSize     = 256
	addressPrefix = "/memory/"
)

var (
	ErrPeerOffline    = errors.New("peer is offline")
	ErrInvalidAddress = errors.New("invalid node address")
	ErrMailboxInUse   = errors.New("mailbox already started for owner")
	ErrNotStarted     = errors.New("not started")
	ErrAlreadyStarted = errors.New("already started")
	ErrDuplicatedNode = errors.New("node address already in use")
)

type storedMessage struct {
	uid    string
	sealed []byte
}

// Network routes messages between the transports and mailboxes created
// from it.
type Network struct {
	lock       *sync.Mutex
	transports map[domain.NodeAddress]*Transport
	mailboxes  map[string]*Mailbox
	stored     map[string][]storedMessage
}

func NewNetwork() *Network {
	return &Network{
		lock:       &sync.Mutex{},
		transports: make(map[domain.NodeAddress]*Transport),
		mailboxes:  make(map[string]*Mailbox),
		stored:     make(map[string][]storedMessage),
	}
}

// NewTransport returns the transport of the node with the given name, its
// address is /memory/<name>.
func (n *Network) NewTransport(name string) (*Transport, error) {
	addr := domain.NodeAddress(addressPrefix + name)

	n.lock.Lock()
	defer n.lock.Unlock()

	if _, ok := n.transports[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatedNode, addr)
	}
	t := &Transport{
		network: n,
		address: addr,
		lock:    &sync.RWMutex{},
	}
	n.transports[addr] = t
	return t, nil
}

func (n *Network) NewMailbox() *Mailbox {
	return &Mailbox{network: n, lock: &sync.Mutex{}}
}

// StoredMessages returns the number of messages waiting in the mailbox of
// the given owner.
func (n *Network) StoredMessages(owner []byte) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return len(n.stored[hex.EncodeToString(owner)])
}

func (n *Network) transport(addr domain.NodeAddress) (*Transport, bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	t, ok := n.transports[addr]
	return t, ok
}

func (n *Network) store(owner, uid string, sealed []byte) *Mailbox {
	n.lock.Lock()
	defer n.lock.Unlock()

	msgs := n.stored[owner]
	for i, m := range msgs {
		if m.uid == uid {
			msgs[i].sealed = sealed
			return n.mailboxes[owner]
		}
	}
	n.stored[owner] = append(msgs, storedMessage{uid, sealed})
	return n.mailboxes[owner]
}

func (n *Network) takeStored(owner string) []storedMessage {
	n.lock.Lock()
	defer n.lock.Unlock()

	msgs := n.stored[owner]
	delete(n.stored, owner)
	return msgs
}

func (n *Network) register(owner string, m *Mailbox) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	if _, ok := n.mailboxes[owner]; ok {
		return ErrMailboxInUse
	}
	n.mailboxes[owner] = m
	return nil
}

func (n *Network) unregister(owner string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	delete(n.mailboxes, owner)
}

type delivery struct {
	data []byte
	from string
}

// Transport delivers messages in the order they're sent.
type Transport struct {
	network *Network
	address domain.NodeAddress

	lock    *sync.RWMutex
	handler func([]byte, string)
	inbox   chan delivery
	quit    chan struct{}
	wg      *sync.WaitGroup
}

func (t *Transport) Start(_ context.Context, handler func([]byte, string)) error {
	if handler == nil {
		return fmt.Errorf("missing message handler")
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.quit != nil {
		return ErrAlreadyStarted
	}
	t.handler = handler
	t.inbox = make(chan delivery, inboxSize)
	t.quit = make(chan struct{})
	t.wg = &sync.WaitGroup{}

	t.wg.Add(1)
	go t.listen(t.inbox, t.quit, t.wg)
	return nil
}

// Stop takes the node offline, messages not yet handled are lost.
func (t *Transport) Stop() {
	t.lock.Lock()
	if t.quit == nil {
		t.lock.Unlock()
		return
	}
	quit, wg := t.quit, t.wg
	t.quit = nil
	t.inbox = nil
	t.lock.Unlock()

	close(quit)
	wg.Wait()
}

func (t *Transport) Address() domain.NodeAddress {
	return t.address
}

func (t *Transport) Send(
	ctx context.Context, peer domain.NodeAddress, data []byte,
) error {
	if !t.isOnline() {
		return ErrNotStarted
	}
	dest, ok := t.network.transport(peer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerOffline, peer)
	}

	dest.lock.RLock()
	defer dest.lock.RUnlock()

	if dest.quit == nil {
		return fmt.Errorf("%w: %s", ErrPeerOffline, peer)
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case dest.inbox <- delivery{buf, string(t.address)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) PeerID(addr domain.NodeAddress) (string, error) {
	if len(addr) <= len(addressPrefix) || string(addr[:len(addressPrefix)]) != addressPrefix {
		return "", fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	return string(addr), nil
}

func (t *Transport) isOnline() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.quit != nil
}

func (t *Transport) listen(inbox chan delivery, quit chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-quit:
			return
		case d := <-inbox:
			t.handler(d.data, d.from)
		}
	}
}

// Mailbox delivers the messages stored for its owner while started.
type Mailbox struct {
	network *Network

	lock    *sync.Mutex
	owner   string
	handler func([]byte)
	notify  chan struct{}
	quit    chan struct{}
	wg      *sync.WaitGroup
}

func (m *Mailbox) Start(_ context.Context, owner []byte, handler func([]byte)) error {
	if len(owner) == 0 {
		return fmt.Errorf("missing mailbox owner")
	}
	if handler == nil {
		return fmt.Errorf("missing message handler")
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if m.quit != nil {
		return ErrAlreadyStarted
	}
	key := hex.EncodeToString(owner)
	if err := m.network.register(key, m); err != nil {
		return err
	}
	m.owner = key
	m.handler = handler
	m.notify = make(chan struct{}, 1)
	m.quit = make(chan struct{})
	m.wg = &sync.WaitGroup{}

	m.wg.Add(1)
	go m.listen(m.notify, m.quit, m.wg)
	m.notify <- struct{}{}
	return nil
}

func (m *Mailbox) Stop() {
	m.lock.Lock()
	if m.quit == nil {
		m.lock.Unlock()
		return
	}
	quit, wg := m.quit, m.wg
	m.quit = nil
	m.network.unregister(m.owner)
	m.lock.Unlock()

	close(quit)
	wg.Wait()
}

func (m *Mailbox) Put(
	_ context.Context, recipient []byte, uid string, sealed []byte,
) error {
	if len(recipient) == 0 {
		return fmt.Errorf("missing recipient")
	}
	buf := make([]byte, len(sealed))
	copy(buf, sealed)

	if owner := m.network.store(hex.EncodeToString(recipient), uid, buf); owner != nil {
		owner.wakeUp()
	}
	return nil
}

func (m *Mailbox) wakeUp() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.quit == nil {
		return
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Mailbox) listen(notify, quit chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-quit:
			return
		case <-notify:
			for _, msg := range m.network.takeStored(m.owner) {
				m.handler(msg.sealed)
			}
		}
	}
}
