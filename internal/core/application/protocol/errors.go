package protocol

import "errors"

var (
	// ErrProtocolStopped is returned when triggering a protocol whose event
	// loop is terminated.
	ErrProtocolStopped = errors.New("trade protocol is stopped")
	// ErrUnexpectedTrigger is returned when no task list handles a trigger
	// for the kind of trade.
	ErrUnexpectedTrigger = errors.New("unexpected trigger for trade")
	// ErrInvalidPhase is returned when a trigger is not allowed in the
	// current phase of the trade.
	ErrInvalidPhase = errors.New("trigger not allowed in current trade phase")
	// ErrPeerMismatch is returned when a message comes from a node other
	// than the trade peer.
	ErrPeerMismatch = errors.New("message sender is not the trade peer")
	// ErrTaskPanic wraps the value of a recovered task panic.
	ErrTaskPanic = errors.New("task panicked")
	// ErrInvalidMessage is returned when an inbound message has missing or
	// inconsistent fields.
	ErrInvalidMessage = errors.New("invalid trade message")
	// ErrInvalidContract is returned when the contract of the peer doesn't
	// match the local one or its signature is invalid.
	ErrInvalidContract = errors.New("invalid contract")
	// ErrInvalidTx is returned when a transaction built by the peer doesn't
	// match what was agreed.
	ErrInvalidTx = errors.New("invalid transaction")
	// ErrAgentNotAccepted is returned when the taker selected a dispute
	// agent the maker doesn't accept.
	ErrAgentNotAccepted = errors.New("dispute agent not accepted")
	// ErrMissingPaymentAccount ...
	ErrMissingPaymentAccount = errors.New("missing payment account")
)
