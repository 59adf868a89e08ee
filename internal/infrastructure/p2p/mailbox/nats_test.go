package mailbox_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/p2p/mailbox"
	"github.com/thanhpk/randstr"
)

var ctx = context.Background()

func TestNewMailbox(t *testing.T) {
	_, err := mailbox.NewMailbox(mailbox.Opts{})
	require.Error(t, err)
}

// TestMailbox needs a NATS server with JetStream enabled, reachable at
// NATS_URL.
func TestMailbox(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	opts := mailbox.Opts{URL: url, Bucket: "test-" + randstr.Hex(8), TTL: time.Hour}
	sender, err := mailbox.NewMailbox(opts)
	require.NoError(t, err)
	defer sender.Stop()
	receiver, err := mailbox.NewMailbox(opts)
	require.NoError(t, err)
	defer receiver.Stop()

	owner := []byte(randstr.Hex(32))
	require.NoError(t, sender.Put(ctx, owner, "uid1", []byte("stored before start")))

	inbox := make(chan string, 10)
	require.NoError(t, receiver.Start(ctx, owner, func(sealed []byte) {
		inbox <- string(sealed)
	}))
	require.NoError(t, sender.Put(ctx, owner, "uid2", []byte("stored after start")))
	require.NoError(t, sender.Put(ctx, []byte("someone else"), "uid3", []byte("not mine")))

	got := make([]string, 0, 2)
	for len(got) < 2 {
		select {
		case msg := <-inbox:
			got = append(got, msg)
		case <-time.After(5 * time.Second):
			t.Fatal("mailbox message not delivered")
		}
	}
	require.ElementsMatch(t, []string{"stored before start", "stored after start"}, got)

	select {
	case msg := <-inbox:
		t.Fatalf("unexpected message %s", msg)
	case <-time.After(200 * time.Millisecond):
	}
}
