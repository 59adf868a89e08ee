// Package mailbox stores sealed messages for offline peers in a NATS
// JetStream key-value bucket. Keys are made of the hashed key of the
// recipient and the message uid, so resends of a message overwrite it.
package mailbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBucket = "p2ptrade-mailbox"
	// DefaultTTL is how long an unread message stays in the mailbox.
	DefaultTTL = 15 * 24 * time.Hour

	keyPrefix = "inbox"
)

var ErrNotStarted = errors.New("mailbox not started")

type Opts struct {
	URL    string
	Bucket string
	TTL    time.Duration
}

func (o *Opts) validate() error {
	if o.URL == "" {
		return fmt.Errorf("missing nats url")
	}
	if o.Bucket == "" {
		o.Bucket = DefaultBucket
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return nil
}

type Mailbox struct {
	opts Opts
	nc   *nats.Conn
	kv   nats.KeyValue

	lock    *sync.Mutex
	watcher nats.KeyWatcher
	quit    chan struct{}
	wg      *sync.WaitGroup
}

// NewMailbox connects to the NATS server and opens the bucket, creating it
// if missing.
func NewMailbox(opts Opts) (*Mailbox, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	nc, err := nats.Connect(opts.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("disconnected from nats")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to nats at %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Debug("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	kv, err := js.KeyValue(opts.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      opts.Bucket,
			Description: "sealed trade messages for offline peers",
			History:     1,
			TTL:         opts.TTL,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open bucket %s: %w", opts.Bucket, err)
	}

	return &Mailbox{
		opts: opts,
		nc:   nc,
		kv:   kv,
		lock: &sync.Mutex{},
	}, nil
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
		return nil
	}
	watcher, err := m.kv.Watch(inboxKey(owner)+".*", nats.IgnoreDeletes())
	if err != nil {
		return fmt.Errorf("failed to watch mailbox: %w", err)
	}
	m.watcher = watcher
	m.quit = make(chan struct{})
	m.wg = &sync.WaitGroup{}

	m.wg.Add(1)
	go m.listen(watcher, handler, m.quit, m.wg)
	return nil
}

// Stop stops watching the mailbox and closes the connection.
func (m *Mailbox) Stop() {
	m.lock.Lock()
	if m.quit != nil {
		close(m.quit)
		if err := m.watcher.Stop(); err != nil {
			log.WithError(err).Debug("failed to stop mailbox watcher")
		}
		m.quit = nil
	}
	wg := m.wg
	m.lock.Unlock()

	if wg != nil {
		wg.Wait()
	}
	m.nc.Close()
}

func (m *Mailbox) Put(
	_ context.Context, recipient []byte, uid string, sealed []byte,
) error {
	if len(recipient) == 0 {
		return fmt.Errorf("missing recipient")
	}
	if m.nc.IsClosed() {
		return ErrNotStarted
	}
	_, err := m.kv.Put(messageKey(recipient, uid), sealed)
	return err
}

func (m *Mailbox) listen(
	watcher nats.KeyWatcher, handler func([]byte),
	quit chan struct{}, wg *sync.WaitGroup,
) {
	defer wg.Done()

	for {
		select {
		case <-quit:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			// A nil entry marks the end of the initial values.
			if entry == nil || entry.Operation() != nats.KeyValuePut {
				continue
			}
			handler(entry.Value())
			if err := m.kv.Delete(entry.Key()); err != nil {
				log.WithError(err).Warnf("failed to delete mailbox message %s", entry.Key())
			}
		}
	}
}

func inboxKey(owner []byte) string {
	hash := sha256.Sum256(owner)
	return fmt.Sprintf("%s.%s", keyPrefix, hex.EncodeToString(hash[:16]))
}

func messageKey(recipient []byte, uid string) string {
	return fmt.Sprintf("%s.%s", inboxKey(recipient), uid)
}
