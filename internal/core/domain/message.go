package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MessageType is the discriminator of a peer message.
type MessageType string

const (
	MsgInputsForDepositTxRequest        MessageType = "InputsForDepositTxRequest"
	MsgInputsForDepositTxResponse       MessageType = "InputsForDepositTxResponse"
	MsgDepositTx                        MessageType = "DepositTxMessage"
	MsgDelayedPayoutTxSignatureRequest  MessageType = "DelayedPayoutTxSignatureRequest"
	MsgShareBuyerPaymentAccount         MessageType = "ShareBuyerPaymentAccountMessage"
	MsgDelayedPayoutTxSignatureResponse MessageType = "DelayedPayoutTxSignatureResponse"
	MsgDepositTxAndDelayedPayoutTx      MessageType = "DepositTxAndDelayedPayoutTxMessage"
	MsgCounterCurrencyTransferStarted   MessageType = "CounterCurrencyTransferStartedMessage"
	MsgPayoutTxPublished                MessageType = "PayoutTxPublishedMessage"
	MsgSwapTxRequest                    MessageType = "SwapTxRequest"
	MsgSwapTxResponse                   MessageType = "SwapTxResponse"
	MsgSwapTxPublished                  MessageType = "SwapTxPublishedMessage"
	MsgOfferAvailabilityRequest         MessageType = "OfferAvailabilityRequest"
	MsgOfferAvailabilityResponse        MessageType = "OfferAvailabilityResponse"
	MsgAck                              MessageType = "AckMessage"
)

var messageUidNamespace = uuid.MustParse("6f1d3b0e-5b8a-4c1e-9f57-2d1c8e4b7a90")

// NewMessageUid returns the identifier of a message. It only depends on the
// trade, the sender, the message type and the optional extra parts, so that
// every resend of the same logical message carries the same uid.
func NewMessageUid(
	tradeID string, sender NodeAddress, msgType MessageType, extra ...string,
) string {
	parts := append([]string{tradeID, string(sender), string(msgType)}, extra...)
	return uuid.NewSHA1(messageUidNamespace, []byte(strings.Join(parts, "|"))).String()
}

// TradeMessage is a message exchanged between the parties of a trade.
type TradeMessage interface {
	GetTradeId() string
	GetUid() string
	GetSenderNodeAddress() NodeAddress
	Type() MessageType
}

// MessageBase holds the fields common to every message.
type MessageBase struct {
	TradeId           string
	Uid               string
	SenderNodeAddress NodeAddress
}

// NewMessageBase returns the base of a message of the given type with its
// deterministic uid.
func NewMessageBase(
	tradeID string, sender NodeAddress, msgType MessageType, extra ...string,
) MessageBase {
	return MessageBase{
		TradeId:           tradeID,
		Uid:               NewMessageUid(tradeID, sender, msgType, extra...),
		SenderNodeAddress: sender,
	}
}

func (m MessageBase) GetTradeId() string                { return m.TradeId }
func (m MessageBase) GetUid() string                    { return m.Uid }
func (m MessageBase) GetSenderNodeAddress() NodeAddress { return m.SenderNodeAddress }

type InputsForDepositTxRequest struct {
	MessageBase
	TradeAmount                    uint64
	TradePrice                     decimal.Decimal
	TxFee                          uint64
	TakerFee                       uint64
	TakerFeeTxId                   string
	RawTransactionInputs           []RawTransactionInput
	ChangeOutputValue              uint64
	ChangeOutputAddress            string
	TakerMultiSigPubKey            []byte
	TakerPayoutAddress             string
	TakerPubKeyRing                PubKeyRing
	TakerAccountId                 string
	TakerPaymentAccountPayloadHash []byte
	Mediator                       DisputeAgent
	RefundAgent                    DisputeAgent
	CurrentDate                    int64
}

func (InputsForDepositTxRequest) Type() MessageType { return MsgInputsForDepositTxRequest }

type InputsForDepositTxResponse struct {
	MessageBase
	MakerAccountId                 string
	MakerPaymentAccountPayloadHash []byte
	MakerMultiSigPubKey            []byte
	MakerPayoutAddress             string
	MakerContractAsJson            string
	MakerContractSignature         []byte
	PreparedDepositTx              []byte
	MakerInputs                    []RawTransactionInput
	LockTime                       uint32
	CurrentDate                    int64
}

func (InputsForDepositTxResponse) Type() MessageType { return MsgInputsForDepositTxResponse }

// DepositTxMessage carries the deposit tx signed by the buyer as taker,
// together with its signature of the contract.
type DepositTxMessage struct {
	MessageBase
	DepositTx              []byte
	TakerContractSignature []byte
}

func (DepositTxMessage) Type() MessageType { return MsgDepositTx }

type DelayedPayoutTxSignatureRequest struct {
	MessageBase
	DelayedPayoutTx                []byte
	DelayedPayoutTxSellerSignature []byte
	// TakerContractSignature is set only when the seller is the taker.
	TakerContractSignature []byte
}

func (DelayedPayoutTxSignatureRequest) Type() MessageType {
	return MsgDelayedPayoutTxSignatureRequest
}

type ShareBuyerPaymentAccountMessage struct {
	MessageBase
	BuyerPaymentAccountPayload PaymentAccountPayload
}

func (ShareBuyerPaymentAccountMessage) Type() MessageType { return MsgShareBuyerPaymentAccount }

type DelayedPayoutTxSignatureResponse struct {
	MessageBase
	DelayedPayoutTxBuyerSignature []byte
}

func (DelayedPayoutTxSignatureResponse) Type() MessageType {
	return MsgDelayedPayoutTxSignatureResponse
}

type DepositTxAndDelayedPayoutTxMessage struct {
	MessageBase
	DepositTx                   []byte
	DelayedPayoutTx             []byte
	SellerPaymentAccountPayload PaymentAccountPayload
}

func (DepositTxAndDelayedPayoutTxMessage) Type() MessageType { return MsgDepositTxAndDelayedPayoutTx }

type CounterCurrencyTransferStartedMessage struct {
	MessageBase
	BuyerPayoutAddress       string
	BuyerSignature           []byte
	CounterCurrencyTxId      string
	CounterCurrencyExtraData string
}

func (CounterCurrencyTransferStartedMessage) Type() MessageType {
	return MsgCounterCurrencyTransferStarted
}

type PayoutTxPublishedMessage struct {
	MessageBase
	PayoutTx []byte
}

func (PayoutTxPublishedMessage) Type() MessageType { return MsgPayoutTxPublished }

type SwapTxRequest struct {
	MessageBase
	TradeAmount         uint64
	TradePrice          decimal.Decimal
	TxFee               uint64
	Inputs              []RawTransactionInput
	ChangeOutputValue   uint64
	ChangeOutputAddress string
	PayoutAddress       string
	TakerPubKeyRing     PubKeyRing
	CurrentDate         int64
}

func (SwapTxRequest) Type() MessageType { return MsgSwapTxRequest }

type SwapTxResponse struct {
	MessageBase
	SwapTx             []byte
	MakerInputs        []RawTransactionInput
	MakerPayoutAddress string
	MakerChangeAddress string
	MakerChangeValue   uint64
}

func (SwapTxResponse) Type() MessageType { return MsgSwapTxResponse }

type SwapTxPublishedMessage struct {
	MessageBase
	SwapTxId string
	SwapTx   []byte
}

func (SwapTxPublishedMessage) Type() MessageType { return MsgSwapTxPublished }

// AvailabilityResult is the answer of a maker to an availability request.
type AvailabilityResult uint8

const (
	AvailabilityUnknownFailure AvailabilityResult = iota
	AvailabilityAvailable
	AvailabilityOfferTaken
	AvailabilityPriceOutOfTolerance
	AvailabilityMakerDenied
)

var availabilityResultNames = map[AvailabilityResult]string{
	AvailabilityUnknownFailure:      "UNKNOWN_FAILURE",
	AvailabilityAvailable:           "AVAILABLE",
	AvailabilityOfferTaken:          "OFFER_TAKEN",
	AvailabilityPriceOutOfTolerance: "PRICE_OUT_OF_TOLERANCE",
	AvailabilityMakerDenied:         "MAKER_DENIED",
}

func (r AvailabilityResult) String() string {
	return availabilityResultNames[r]
}

// OfferAvailabilityRequest is sent by a taker to the maker before taking an
// offer. TradeId holds the offer id.
type OfferAvailabilityRequest struct {
	MessageBase
	TakersTradePrice decimal.Decimal
	TakerPubKeyRing  PubKeyRing
}

func (OfferAvailabilityRequest) Type() MessageType { return MsgOfferAvailabilityRequest }

type OfferAvailabilityResponse struct {
	MessageBase
	RequestUid string
	Result     AvailabilityResult
}

func (OfferAvailabilityResponse) Type() MessageType { return MsgOfferAvailabilityResponse }

// AckMessage acknowledges the processing of the message with uid SourceUid.
type AckMessage struct {
	MessageBase
	SourceUid    string
	SourceType   MessageType
	Success      bool
	ErrorMessage string
}

func (AckMessage) Type() MessageType { return MsgAck }

// NewAckMessage returns the ack of the given message.
func NewAckMessage(
	source TradeMessage, sender NodeAddress, success bool, errMsg string,
) *AckMessage {
	return &AckMessage{
		MessageBase:  NewMessageBase(source.GetTradeId(), sender, MsgAck, source.GetUid()),
		SourceUid:    source.GetUid(),
		SourceType:   source.Type(),
		Success:      success,
		ErrorMessage: errMsg,
	}
}

var messageFactories = map[MessageType]func() TradeMessage{
	MsgInputsForDepositTxRequest:        func() TradeMessage { return &InputsForDepositTxRequest{} },
	MsgInputsForDepositTxResponse:       func() TradeMessage { return &InputsForDepositTxResponse{} },
	MsgDepositTx:                        func() TradeMessage { return &DepositTxMessage{} },
	MsgDelayedPayoutTxSignatureRequest:  func() TradeMessage { return &DelayedPayoutTxSignatureRequest{} },
	MsgShareBuyerPaymentAccount:         func() TradeMessage { return &ShareBuyerPaymentAccountMessage{} },
	MsgDelayedPayoutTxSignatureResponse: func() TradeMessage { return &DelayedPayoutTxSignatureResponse{} },
	MsgDepositTxAndDelayedPayoutTx:      func() TradeMessage { return &DepositTxAndDelayedPayoutTxMessage{} },
	MsgCounterCurrencyTransferStarted:   func() TradeMessage { return &CounterCurrencyTransferStartedMessage{} },
	MsgPayoutTxPublished:                func() TradeMessage { return &PayoutTxPublishedMessage{} },
	MsgSwapTxRequest:                    func() TradeMessage { return &SwapTxRequest{} },
	MsgSwapTxResponse:                   func() TradeMessage { return &SwapTxResponse{} },
	MsgSwapTxPublished:                  func() TradeMessage { return &SwapTxPublishedMessage{} },
	MsgOfferAvailabilityRequest:         func() TradeMessage { return &OfferAvailabilityRequest{} },
	MsgOfferAvailabilityResponse:        func() TradeMessage { return &OfferAvailabilityResponse{} },
	MsgAck:                              func() TradeMessage { return &AckMessage{} },
}

// NetworkEnvelope is the wire format of a peer message.
type NetworkEnvelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeMessage serializes a message into an envelope.
func EncodeMessage(msg TradeMessage) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", msg.Type(), err)
	}
	return json.Marshal(NetworkEnvelope{Type: msg.Type(), Payload: payload})
}

// DecodeMessage parses an envelope into the concrete message it carries.
func DecodeMessage(buf []byte) (TradeMessage, error) {
	var env NetworkEnvelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	factory, ok := messageFactories[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, env.Type)
	}
	msg := factory()
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	if msg.GetTradeId() == "" || msg.GetUid() == "" || msg.GetSenderNodeAddress() == "" {
		return nil, fmt.Errorf("%w: missing trade id, uid or sender", ErrInvalidMessage)
	}
	return msg, nil
}
