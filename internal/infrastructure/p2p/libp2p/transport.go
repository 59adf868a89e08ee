// Package libp2p is a p2p transport over libp2p streams. Every message is
// sent on a new stream as a varint length-prefixed envelope, the receiver
// acknowledges it before closing the stream.
package libp2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/jpillora/backoff"
	golibp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	msgio "github.com/libp2p/go-msgio"
	"github.com/multiformats/go-multiaddr"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// ProtocolID identifies the trade messages streams.
const ProtocolID = protocol.ID("/p2ptrade/1.0.0")

const (
	defaultDialAttempts = 3
	defaultSendTimeout  = 10 * time.Second
	ackSize             = 1
	ackByte             = 0x01
)

var (
	identityKeyTag = []byte("p2ptrade/identity")

	ErrNotDelivered = errors.New("message not acknowledged by peer")
	ErrNotStarted   = errors.New("transport not started")
)

type Opts struct {
	// ListenAddr is a multiaddr like /ip4/0.0.0.0/tcp/9945.
	ListenAddr string
	// IdentitySeed determines the peer id of the node, the same seed always
	// gives the same node address.
	IdentitySeed []byte
	DialAttempts int
	SendTimeout  time.Duration
}

func (o *Opts) validate() error {
	if o.ListenAddr == "" {
		return fmt.Errorf("missing listen address")
	}
	if len(o.IdentitySeed) <= 0 {
		return fmt.Errorf("missing identity seed")
	}
	if o.DialAttempts <= 0 {
		o.DialAttempts = defaultDialAttempts
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	return nil
}

type Transport struct {
	opts Opts
	host host.Host

	lock    *sync.RWMutex
	handler func([]byte, string)
}

// NewTransport creates the libp2p host, listening on the given address.
// Incoming messages are accepted only after Start.
func NewTransport(opts Opts) (*Transport, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	listenAddr, err := multiaddr.NewMultiaddr(opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address: %w", err)
	}
	identity, err := crypto.UnmarshalSecp256k1PrivateKey(
		chainhash.TaggedHash(identityKeyTag, opts.IdentitySeed)[:],
	)
	if err != nil {
		return nil, fmt.Errorf("failed to derive identity: %w", err)
	}

	h, err := golibp2p.New(
		golibp2p.Identity(identity),
		golibp2p.ListenAddrs(listenAddr),
		golibp2p.DefaultSecurity,
		golibp2p.DefaultMuxers,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	return &Transport{
		opts: opts,
		host: h,
		lock: &sync.RWMutex{},
	}, nil
}

func (t *Transport) Start(_ context.Context, handler func([]byte, string)) error {
	if handler == nil {
		return fmt.Errorf("missing message handler")
	}

	t.lock.Lock()
	t.handler = handler
	t.lock.Unlock()

	t.host.SetStreamHandler(ProtocolID, t.handleStream)
	log.Debugf("libp2p host %s listening on %v", t.host.ID(), t.host.Addrs())
	return nil
}

// Stop closes the host, the transport can't be restarted.
func (t *Transport) Stop() {
	t.host.RemoveStreamHandler(ProtocolID)
	if err := t.host.Close(); err != nil {
		log.WithError(err).Warn("failed to close libp2p host")
	}
}

// Address returns the first address of the host, including its peer id.
func (t *Transport) Address() domain.NodeAddress {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{
		ID: t.host.ID(), Addrs: t.host.Addrs(),
	})
	if err != nil || len(addrs) == 0 {
		return ""
	}
	return domain.NodeAddress(addrs[0].String())
}

func (t *Transport) PeerID(addr domain.NodeAddress) (string, error) {
	info, err := addrInfo(addr)
	if err != nil {
		return "", err
	}
	return info.ID.String(), nil
}

func (t *Transport) Send(
	ctx context.Context, addr domain.NodeAddress, data []byte,
) error {
	if !t.isStarted() {
		return ErrNotStarted
	}
	info, err := addrInfo(addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.SendTimeout)
	defer cancel()

	if err := t.connect(ctx, *info); err != nil {
		return err
	}

	s, err := t.host.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return fmt.Errorf("failed to open stream to %s: %w", info.ID, err)
	}
	defer s.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}
	if err := msgio.NewVarintWriter(s).WriteMsg(data); err != nil {
		_ = s.Reset()
		return fmt.Errorf("failed to write message: %w", err)
	}

	reader := msgio.NewVarintReaderSize(s, ackSize)
	ack, err := reader.ReadMsg()
	if err != nil {
		_ = s.Reset()
		return fmt.Errorf("%w: %s", ErrNotDelivered, err)
	}
	reader.ReleaseMsg(ack)
	return nil
}

// connect dials the peer unless already connected, retrying with
// increasing delays.
func (t *Transport) connect(ctx context.Context, info peer.AddrInfo) error {
	if t.host.Network().Connectedness(info.ID) == network.Connected {
		return nil
	}

	b := &backoff.Backoff{
		Min:    200 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
	}
	var err error
	for attempt := 1; attempt <= t.opts.DialAttempts; attempt++ {
		if err = t.host.Connect(ctx, info); err == nil {
			return nil
		}
		if attempt == t.opts.DialAttempts {
			break
		}
		log.WithError(err).Debugf(
			"dial %s failed (attempt %d/%d)", info.ID, attempt, t.opts.DialAttempts,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return fmt.Errorf("failed to connect to %s: %w", info.ID, err)
}

func (t *Transport) handleStream(s network.Stream) {
	defer s.Close()

	from := s.Conn().RemotePeer()
	_ = s.SetDeadline(time.Now().Add(t.opts.SendTimeout))

	reader := msgio.NewVarintReaderSize(s, network.MessageSizeMax)
	msg, err := reader.ReadMsg()
	if err != nil {
		log.WithError(err).Debugf("failed to read message from %s", from)
		_ = s.Reset()
		return
	}
	data := make([]byte, len(msg))
	copy(data, msg)
	reader.ReleaseMsg(msg)

	if err := msgio.NewVarintWriter(s).WriteMsg([]byte{ackByte}); err != nil {
		log.WithError(err).Debugf("failed to ack message from %s", from)
		return
	}

	t.lock.RLock()
	handler := t.handler
	t.lock.RUnlock()
	handler(data, from.String())
}

func (t *Transport) isStarted() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.handler != nil
}

func addrInfo(addr domain.NodeAddress) (*peer.AddrInfo, error) {
	maddr, err := multiaddr.NewMultiaddr(string(addr))
	if err != nil {
		return nil, fmt.Errorf("invalid node address %s: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, fmt.Errorf("invalid node address %s: %w", addr, err)
	}
	return info, nil
}
