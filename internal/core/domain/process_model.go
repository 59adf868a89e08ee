package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"time"
)

// NodeAddress is the network address of a peer, a multiaddr terminated by the
// peer id.
type NodeAddress string

func (a NodeAddress) String() string { return string(a) }

// Sender is the origin of a received message. SignaturePubKey is set only for
// messages carrying a verified signature, the ones taken from a mailbox,
// while direct messages are authenticated by the transport.
type Sender struct {
	Address         NodeAddress
	SignaturePubKey []byte
}

// IsSignedBy tells whether the message may come from the owner of the given
// signature key.
func (s Sender) IsSignedBy(signaturePubKey []byte) bool {
	if len(s.SignaturePubKey) == 0 {
		return true
	}
	return len(signaturePubKey) > 0 && bytes.Equal(s.SignaturePubKey, signaturePubKey)
}

// PubKeyRing holds the public keys a peer uses for signing and for receiving
// encrypted mailbox messages.
type PubKeyRing struct {
	SignaturePubKey  []byte
	EncryptionPubKey []byte
}

// IsEmpty ...
func (r PubKeyRing) IsEmpty() bool {
	return len(r.SignaturePubKey) == 0 || len(r.EncryptionPubKey) == 0
}

// RawTransactionInput references an output funding a deposit or swap tx.
type RawTransactionInput struct {
	ParentTxId string
	Index      uint32
	Value      uint64
	PkScript   []byte
}

// PaymentAccountPayload describes the off-chain account used to settle the
// counter currency leg of the trade.
type PaymentAccountPayload struct {
	Id              string
	PaymentMethodId string
	HolderName      string
	Details         map[string]string
}

// Hash returns the sha256 of the JSON serialization of the payload.
func (p PaymentAccountPayload) Hash() []byte {
	buf, _ := json.Marshal(p)
	h := sha256.Sum256(buf)
	return h[:]
}

// DisputeAgent is a mediator or a refund agent.
type DisputeAgent struct {
	NodeAddress   NodeAddress
	PubKeyRing    PubKeyRing
	PayoutAddress string
}

// MessageStatus is the delivery status of an outgoing message.
type MessageStatus uint8

const (
	MessageStatusUndefined MessageStatus = iota
	MessageStatusSent
	MessageStatusArrived
	MessageStatusStoredInMailbox
	MessageStatusFailed
	MessageStatusAcknowledged
	MessageStatusGaveUp
)

var messageStatusNames = map[MessageStatus]string{
	MessageStatusUndefined:       "UNDEFINED",
	MessageStatusSent:            "SENT",
	MessageStatusArrived:         "ARRIVED",
	MessageStatusStoredInMailbox: "STORED_IN_MAILBOX",
	MessageStatusFailed:          "FAILED",
	MessageStatusAcknowledged:    "ACKNOWLEDGED",
	MessageStatusGaveUp:          "GAVE_UP",
}

func (s MessageStatus) String() string {
	return messageStatusNames[s]
}

// IsFinal tells whether no more delivery attempts are expected.
func (s MessageStatus) IsFinal() bool {
	return s == MessageStatusAcknowledged || s == MessageStatusGaveUp
}

// MessageState is the persisted delivery state of one outgoing message. The
// encoded envelope is kept so that an interrupted resend cycle can be resumed
// with the very same message after a restart.
type MessageState struct {
	Uid           string
	Status        MessageStatus
	Attempts      int
	LastAttemptAt int64
	NextDelay     time.Duration
	Envelope      []byte
}

// TradePeer holds what the local party learned about the counterparty.
type TradePeer struct {
	NodeAddress               NodeAddress
	PubKeyRing                PubKeyRing
	AccountId                 string
	PaymentAccountPayloadHash []byte
	PaymentAccountPayload     *PaymentAccountPayload
	MultiSigPubKey            []byte
	PayoutAddress             string
	RawTransactionInputs      []RawTransactionInput
	ChangeOutputValue         uint64
	ChangeOutputAddress       string
	ContractAsJson            string
	ContractSignature         []byte
	DelayedPayoutTxSignature  []byte
	PayoutTxSignature         []byte
	CurrentDate               int64
}

// ProcessModel is the scratchpad of the protocol: intermediate artifacts
// produced while negotiating and the peer view.
type ProcessModel struct {
	OfferId       string
	AccountId     string
	PubKeyRing    PubKeyRing
	MyNodeAddress NodeAddress
	TradePeer     TradePeer

	TakeOfferFeeTxId     string
	TakeOfferFeeTx       []byte
	FundsNeededForTrade  uint64
	MyMultiSigPubKey     []byte
	PayoutAddress        string
	RawTransactionInputs []RawTransactionInput
	ChangeOutputValue    uint64
	ChangeOutputAddress  string

	PaymentAccountPayload *PaymentAccountPayload
	RefundAgent           DisputeAgent
	Mediator              DisputeAgent

	PreparedDepositTx        []byte
	PreparedDelayedPayoutTx  []byte
	DelayedPayoutTxSignature []byte
	PayoutTxSignature        []byte
	PreparedPayoutTx         []byte
	PreparedSwapTx           []byte

	MessageStates map[MessageType]MessageState

	// TradeMessage is the inbound message being processed. It is set by the
	// protocol right before running a task list and never persisted.
	TradeMessage TradeMessage `json:"-"`
}

// SetMessageState records the delivery state of an outgoing message.
func (m *ProcessModel) SetMessageState(msgType MessageType, state MessageState) {
	if m.MessageStates == nil {
		m.MessageStates = make(map[MessageType]MessageState)
	}
	m.MessageStates[msgType] = state
}
