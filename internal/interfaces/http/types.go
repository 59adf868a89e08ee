package httpinterface

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

type pubKeyRingView struct {
	SignaturePubKey  string `json:"signaturePubKey"`
	EncryptionPubKey string `json:"encryptionPubKey"`
}

func newPubKeyRingView(ring domain.PubKeyRing) pubKeyRingView {
	return pubKeyRingView{
		SignaturePubKey:  hex.EncodeToString(ring.SignaturePubKey),
		EncryptionPubKey: hex.EncodeToString(ring.EncryptionPubKey),
	}
}

func (v pubKeyRingView) pubKeyRing() (domain.PubKeyRing, error) {
	sigKey, err := hex.DecodeString(v.SignaturePubKey)
	if err != nil {
		return domain.PubKeyRing{}, fmt.Errorf(
			"%w: invalid signature pubkey", errBadRequest,
		)
	}
	encKey, err := hex.DecodeString(v.EncryptionPubKey)
	if err != nil {
		return domain.PubKeyRing{}, fmt.Errorf(
			"%w: invalid encryption pubkey", errBadRequest,
		)
	}
	return domain.PubKeyRing{SignaturePubKey: sigKey, EncryptionPubKey: encKey}, nil
}

type nodeInfo struct {
	NodeAddress string         `json:"nodeAddress"`
	PubKeyRing  pubKeyRingView `json:"pubKeyRing"`
}

type lockedFundsResponse struct {
	TradeIds       []string `json:"tradeIds"`
	ClosedTradeIds []string `json:"closedTradeIds,omitempty"`
	FailedTradeIds []string `json:"failedTradeIds,omitempty"`
	Error          string   `json:"error,omitempty"`
}

type offerView struct {
	Id                    string         `json:"id"`
	Direction             string         `json:"direction"`
	Protocol              string         `json:"protocol"`
	MakerNodeAddress      string         `json:"makerNodeAddress"`
	MakerPubKeyRing       pubKeyRingView `json:"makerPubKeyRing"`
	CurrencyCode          string         `json:"currencyCode"`
	PaymentMethodId       string         `json:"paymentMethodId"`
	Price                 string         `json:"price"`
	Amount                uint64         `json:"amount"`
	MinAmount             uint64         `json:"minAmount"`
	BuyerSecurityDeposit  uint64         `json:"buyerSecurityDeposit"`
	SellerSecurityDeposit uint64         `json:"sellerSecurityDeposit"`
	MakerFee              uint64         `json:"makerFee"`
	MakerFeeTxId          string         `json:"makerFeeTxId,omitempty"`
	MaxTradePeriod        string         `json:"maxTradePeriod"`
	CreatedAt             int64          `json:"createdAt"`
}

func newOfferView(o domain.Offer) offerView {
	return offerView{
		Id:                    o.Id,
		Direction:             o.Direction.String(),
		Protocol:              o.Protocol.String(),
		MakerNodeAddress:      o.MakerNodeAddress.String(),
		MakerPubKeyRing:       newPubKeyRingView(o.MakerPubKeyRing),
		CurrencyCode:          o.CurrencyCode,
		PaymentMethodId:       o.PaymentMethodId,
		Price:                 o.Price.String(),
		Amount:                o.Amount,
		MinAmount:             o.MinAmount,
		BuyerSecurityDeposit:  o.BuyerSecurityDeposit,
		SellerSecurityDeposit: o.SellerSecurityDeposit,
		MakerFee:              o.MakerFee,
		MakerFeeTxId:          o.MakerFeeTxId,
		MaxTradePeriod:        o.MaxTradePeriod.String(),
		CreatedAt:             o.CreatedAt,
	}
}

func (v offerView) offer() (domain.Offer, error) {
	if v.Id == "" {
		return domain.Offer{}, fmt.Errorf("%w: missing offer id", errBadRequest)
	}
	if v.MakerNodeAddress == "" {
		return domain.Offer{}, fmt.Errorf(
			"%w: missing maker node address", errBadRequest,
		)
	}
	terms, err := parseOfferTerms(
		v.Direction, v.Protocol, v.Price, v.MaxTradePeriod,
	)
	if err != nil {
		return domain.Offer{}, err
	}
	ring, err := v.MakerPubKeyRing.pubKeyRing()
	if err != nil {
		return domain.Offer{}, err
	}

	return domain.Offer{
		Id:                    v.Id,
		Direction:             terms.direction,
		Protocol:              terms.protocol,
		MakerNodeAddress:      domain.NodeAddress(v.MakerNodeAddress),
		MakerPubKeyRing:       ring,
		CurrencyCode:          v.CurrencyCode,
		PaymentMethodId:       v.PaymentMethodId,
		Price:                 terms.price,
		Amount:                v.Amount,
		MinAmount:             v.MinAmount,
		BuyerSecurityDeposit:  v.BuyerSecurityDeposit,
		SellerSecurityDeposit: v.SellerSecurityDeposit,
		MakerFee:              v.MakerFee,
		MakerFeeTxId:          v.MakerFeeTxId,
		MaxTradePeriod:        terms.maxTradePeriod,
		CreatedAt:             v.CreatedAt,
	}, nil
}

type openOfferView struct {
	Offer offerView `json:"offer"`
	State string    `json:"state"`
}

type paymentAccount struct {
	Id              string            `json:"id"`
	PaymentMethodId string            `json:"paymentMethodId"`
	HolderName      string            `json:"holderName"`
	Details         map[string]string `json:"details,omitempty"`
}

func (a *paymentAccount) payload() *domain.PaymentAccountPayload {
	if a == nil {
		return nil
	}
	return &domain.PaymentAccountPayload{
		Id:              a.Id,
		PaymentMethodId: a.PaymentMethodId,
		HolderName:      a.HolderName,
		Details:         a.Details,
	}
}

type placeOfferRequest struct {
	Direction             string          `json:"direction"`
	Protocol              string          `json:"protocol"`
	CurrencyCode          string          `json:"currencyCode"`
	PaymentMethodId       string          `json:"paymentMethodId"`
	Price                 string          `json:"price"`
	Amount                uint64          `json:"amount"`
	MinAmount             uint64          `json:"minAmount"`
	BuyerSecurityDeposit  uint64          `json:"buyerSecurityDeposit"`
	SellerSecurityDeposit uint64          `json:"sellerSecurityDeposit"`
	MakerFee              uint64          `json:"makerFee"`
	MaxTradePeriod        string          `json:"maxTradePeriod"`
	PaymentAccount        *paymentAccount `json:"paymentAccount,omitempty"`
}

func (r placeOfferRequest) offer() (domain.Offer, error) {
	terms, err := parseOfferTerms(
		r.Direction, r.Protocol, r.Price, r.MaxTradePeriod,
	)
	if err != nil {
		return domain.Offer{}, err
	}
	return domain.Offer{
		Direction:             terms.direction,
		Protocol:              terms.protocol,
		CurrencyCode:          r.CurrencyCode,
		PaymentMethodId:       r.PaymentMethodId,
		Price:                 terms.price,
		Amount:                r.Amount,
		MinAmount:             r.MinAmount,
		BuyerSecurityDeposit:  r.BuyerSecurityDeposit,
		SellerSecurityDeposit: r.SellerSecurityDeposit,
		MakerFee:              r.MakerFee,
		MaxTradePeriod:        terms.maxTradePeriod,
		CreatedAt:             time.Now().Unix(),
	}, nil
}

type placeOfferResponse struct {
	Offer          offerView `json:"offer"`
	FundingAddress string    `json:"fundingAddress"`
}

type fundingResponse struct {
	Address string `json:"address"`
}

type offerTerms struct {
	direction      domain.OfferDirection
	protocol       domain.ProtocolKind
	price          decimal.Decimal
	maxTradePeriod time.Duration
}

func parseOfferTerms(
	direction, protocol, price, maxTradePeriod string,
) (*offerTerms, error) {
	terms := &offerTerms{}

	switch direction {
	case domain.OfferDirectionBuy.String():
		terms.direction = domain.OfferDirectionBuy
	case domain.OfferDirectionSell.String():
		terms.direction = domain.OfferDirectionSell
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", errBadRequest, direction)
	}

	switch protocol {
	case "", domain.ProtocolMultisig.String():
		terms.protocol = domain.ProtocolMultisig
	case domain.ProtocolAtomicSwap.String():
		terms.protocol = domain.ProtocolAtomicSwap
	default:
		return nil, fmt.Errorf("%w: unknown protocol %q", errBadRequest, protocol)
	}

	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid price %q", errBadRequest, price)
	}
	terms.price = p

	if maxTradePeriod != "" {
		period, err := time.ParseDuration(maxTradePeriod)
		if err != nil {
			return nil, fmt.Errorf(
				"%w: invalid max trade period %q", errBadRequest, maxTradePeriod,
			)
		}
		terms.maxTradePeriod = period
	}
	return terms, nil
}

type tradeView struct {
	Id                  string `json:"id"`
	OfferId             string `json:"offerId"`
	Type                string `json:"type"`
	Protocol            string `json:"protocol"`
	List                string `json:"list"`
	Phase               string `json:"phase"`
	State               string `json:"state"`
	SwapState           string `json:"swapState,omitempty"`
	DisputeState        string `json:"disputeState"`
	PeriodState         string `json:"periodState"`
	Amount              uint64 `json:"amount"`
	Price               string `json:"price"`
	CounterAmount       uint64 `json:"counterAmount"`
	CurrencyCode        string `json:"currencyCode"`
	TxFee               uint64 `json:"txFee"`
	TakerFee            uint64 `json:"takerFee"`
	PeerNodeAddress     string `json:"peerNodeAddress"`
	TakeOfferDate       int64  `json:"takeOfferDate"`
	TakerFeeTxId        string `json:"takerFeeTxId,omitempty"`
	DepositTxId         string `json:"depositTxId,omitempty"`
	PayoutTxId          string `json:"payoutTxId,omitempty"`
	SwapTxId            string `json:"swapTxId,omitempty"`
	WithdrawTxId        string `json:"withdrawTxId,omitempty"`
	LockTime            uint32 `json:"lockTime,omitempty"`
	CounterCurrencyTxId string `json:"counterCurrencyTxId,omitempty"`
	ErrorMessage        string `json:"errorMessage,omitempty"`
}

func newTradeView(t *domain.Trade) tradeView {
	v := tradeView{
		Id:                  t.Id,
		OfferId:             t.OfferId,
		Type:                t.TypeName(),
		Protocol:            t.Protocol.String(),
		List:                t.List.String(),
		Phase:               t.Phase().String(),
		State:               t.State.String(),
		DisputeState:        t.DisputeState.String(),
		PeriodState:         t.PeriodState.String(),
		Amount:              t.Amount,
		Price:               t.Price.String(),
		CounterAmount:       t.CounterAmount(),
		CurrencyCode:        t.Offer.CurrencyCode,
		TxFee:               t.TxFee,
		TakerFee:            t.TakerFee,
		PeerNodeAddress:     t.PeerNodeAddress.String(),
		TakeOfferDate:       t.TakeOfferDate,
		TakerFeeTxId:        t.TakerFeeTxId,
		DepositTxId:         t.DepositTxId,
		PayoutTxId:          t.PayoutTxId,
		SwapTxId:            t.SwapTxId,
		WithdrawTxId:        t.WithdrawTxId,
		LockTime:            t.LockTime,
		CounterCurrencyTxId: t.CounterCurrencyTxId,
		ErrorMessage:        t.ErrorMessage,
	}
	if t.Protocol == domain.ProtocolAtomicSwap {
		v.SwapState = t.SwapState.String()
	}
	return v
}

type takeOfferRequest struct {
	OfferId        string          `json:"offerId"`
	Amount         uint64          `json:"amount"`
	PaymentAccount *paymentAccount `json:"paymentAccount,omitempty"`
}

type paymentStartedRequest struct {
	CounterCurrencyTxId string `json:"counterCurrencyTxId"`
	ExtraData           string `json:"extraData"`
}

type withdrawRequest struct {
	Address string `json:"address"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

type disputeRequest struct {
	State string `json:"state"`
}

func parseDisputeState(name string) (domain.DisputeState, bool) {
	for s := domain.DisputeStateNone; s <= domain.DisputeStateRefundRequestClosed; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}
