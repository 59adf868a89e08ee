package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OfferDirection is the intention of the maker.
type OfferDirection uint8

const (
	OfferDirectionBuy OfferDirection = iota
	OfferDirectionSell
)

func (d OfferDirection) String() string {
	if d == OfferDirectionBuy {
		return "BUY"
	}
	return "SELL"
}

// Offer is the published intention to buy or sell BTC at a given price.
type Offer struct {
	Id                    string
	Direction             OfferDirection
	Protocol              ProtocolKind
	MakerNodeAddress      NodeAddress
	MakerPubKeyRing       PubKeyRing
	CurrencyCode          string
	PaymentMethodId       string
	Price                 decimal.Decimal
	Amount                uint64
	MinAmount             uint64
	BuyerSecurityDeposit  uint64
	SellerSecurityDeposit uint64
	MakerFee              uint64
	MakerFeeTxId          string
	MaxTradePeriod        time.Duration
	CreatedAt             int64
}

// MakerSide returns the side of the maker of the offer.
func (o Offer) MakerSide() Side {
	if o.Direction == OfferDirectionBuy {
		return SideBuyer
	}
	return SideSeller
}

// IsAmountInRange tells whether a trade amount satisfies the offer.
func (o Offer) IsAmountInRange(amount uint64) bool {
	min := o.MinAmount
	if min == 0 {
		min = o.Amount
	}
	return amount >= min && amount <= o.Amount
}

// OpenOfferState is the state of an offer owned by the local node.
type OpenOfferState uint8

const (
	OpenOfferAvailable OpenOfferState = iota
	OpenOfferReserved
	OpenOfferClosed
	OpenOfferCanceled
)

var openOfferStateNames = map[OpenOfferState]string{
	OpenOfferAvailable: "AVAILABLE",
	OpenOfferReserved:  "RESERVED",
	OpenOfferClosed:    "CLOSED",
	OpenOfferCanceled:  "CANCELED",
}

func (s OpenOfferState) String() string {
	return openOfferStateNames[s]
}

// OpenOffer is an offer created by the local node together with its
// reservation state.
type OpenOffer struct {
	Offer Offer
	State OpenOfferState
	// PaymentAccount is the account the maker settles the counter currency
	// leg with. Atomic swap offers have none.
	PaymentAccount *PaymentAccountPayload
}

// Reserve marks the offer as taken by a pending trade.
func (o *OpenOffer) Reserve() error {
	if o.State != OpenOfferAvailable {
		return ErrOfferNotAvailable
	}
	o.State = OpenOfferReserved
	return nil
}

// Release makes a reserved offer available again.
func (o *OpenOffer) Release() {
	if o.State == OpenOfferReserved {
		o.State = OpenOfferAvailable
	}
}

// Close marks the offer as consumed by a trade whose deposit got published.
func (o *OpenOffer) Close() {
	o.State = OpenOfferClosed
}

// Cancel withdraws the offer. A reserved offer cannot be canceled until the
// pending trade either fails or completes.
func (o *OpenOffer) Cancel() error {
	if o.State == OpenOfferReserved || o.State == OpenOfferClosed {
		return ErrOfferNotAvailable
	}
	o.State = OpenOfferCanceled
	return nil
}

// IsAvailable ...
func (o *OpenOffer) IsAvailable() bool {
	return o.State == OpenOfferAvailable
}
