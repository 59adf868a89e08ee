package domain

import "errors"

var (
	// ErrUnknownState is returned when parsing a state name that is not declared.
	ErrUnknownState = errors.New("unknown trade state")
	// ErrInvalidStateTransition is returned by strict transitions when the
	// target state is behind the allowed floor.
	ErrInvalidStateTransition = errors.New("invalid trade state transition")
	// ErrArtifactAlreadySet is returned when trying to overwrite a set-once
	// field of a trade with a different value.
	ErrArtifactAlreadySet = errors.New("trade artifact already set with a different value")
	// ErrTradeNotFound ...
	ErrTradeNotFound = errors.New("trade not found")
	// ErrTradeAlreadyExists ...
	ErrTradeAlreadyExists = errors.New("trade with same id already exists")
	// ErrOfferNotFound ...
	ErrOfferNotFound = errors.New("offer not found")
	// ErrOfferNotAvailable is returned when reserving an open offer that is
	// already reserved, closed or canceled.
	ErrOfferNotAvailable = errors.New("offer is not available")
	// ErrAddressEntryNotFound ...
	ErrAddressEntryNotFound = errors.New("address entry not found")
	// ErrUnknownMessageType is returned when decoding an envelope whose type
	// discriminator is not registered.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrInvalidMessage is returned when a decoded message misses mandatory
	// fields.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidAmount ...
	ErrInvalidAmount = errors.New("amount is out of the offer range")
)
