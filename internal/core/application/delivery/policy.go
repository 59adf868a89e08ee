package delivery

import (
	"time"

	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

// Policy defines how a message type is delivered.
type Policy struct {
	// MaxResends is the number of times the message is sent again when no
	// ack is received. Zero means the message is sent once and not tracked.
	MaxResends int
	// InitialDelay is the time waited for an ack after the first send. It is
	// doubled after every resend.
	InitialDelay time.Duration
	// AwaitAck makes Send block until the message is acked or given up.
	// Otherwise the resend cycle runs in background.
	AwaitAck bool
	// FailOnGiveUp makes a blocking Send fail when no ack is received.
	FailOnGiveUp bool
	// Direct skips the mailbox fallback.
	Direct bool
}

// IsTracked tells whether the message is resent until acked.
func (p Policy) IsTracked() bool {
	return p.MaxResends > 0
}

func (p Policy) maxDelay() time.Duration {
	return p.InitialDelay << uint(p.MaxResends)
}

var (
	singleShot = Policy{}
	directShot = Policy{Direct: true}

	shortResend = Policy{MaxResends: 7, InitialDelay: 4 * time.Second}

	// DefaultPolicies maps every message type to its delivery policy.
	DefaultPolicies = map[domain.MessageType]Policy{
		domain.MsgInputsForDepositTxRequest:        singleShot,
		domain.MsgInputsForDepositTxResponse:       singleShot,
		domain.MsgDepositTx:                        singleShot,
		domain.MsgDelayedPayoutTxSignatureRequest:  singleShot,
		domain.MsgDelayedPayoutTxSignatureResponse: singleShot,
		domain.MsgSwapTxRequest:                    singleShot,
		domain.MsgSwapTxResponse:                   singleShot,
		domain.MsgShareBuyerPaymentAccount: {
			MaxResends:   7,
			InitialDelay: 4 * time.Second,
			AwaitAck:     true,
			FailOnGiveUp: true,
		},
		domain.MsgDepositTxAndDelayedPayoutTx: shortResend,
		domain.MsgCounterCurrencyTransferStarted: {
			MaxResends:   10,
			InitialDelay: 15 * time.Minute,
		},
		domain.MsgPayoutTxPublished:         shortResend,
		domain.MsgSwapTxPublished:           shortResend,
		domain.MsgAck:                       singleShot,
		domain.MsgOfferAvailabilityRequest:  directShot,
		domain.MsgOfferAvailabilityResponse: directShot,
	}
)
