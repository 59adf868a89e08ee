package domain

// AddressContext is the purpose an address of the wallet is reserved for.
type AddressContext uint8

const (
	AddressContextAvailable AddressContext = iota
	AddressContextOfferFunding
	AddressContextReservedForTrade
	AddressContextMultiSig
	AddressContextTradePayout
	AddressContextArbitrator
)

var addressContextNames = map[AddressContext]string{
	AddressContextAvailable:        "AVAILABLE",
	AddressContextOfferFunding:     "OFFER_FUNDING",
	AddressContextReservedForTrade: "RESERVED_FOR_TRADE",
	AddressContextMultiSig:         "MULTI_SIG",
	AddressContextTradePayout:      "TRADE_PAYOUT",
	AddressContextArbitrator:       "ARBITRATOR",
}

func (c AddressContext) String() string {
	return addressContextNames[c]
}

// AddressEntry binds a wallet key to an offer/trade and a purpose.
type AddressEntry struct {
	Address              string
	PubKey               []byte
	KeyIndex             uint32
	OfferId              string
	Context              AddressContext
	CoinLockedInMultiSig uint64
}

// IsAvailable tells whether the entry can be reserved for a new purpose.
func (e *AddressEntry) IsAvailable() bool {
	return e.Context == AddressContextAvailable
}

// Reserve binds the entry to the given offer and purpose.
func (e *AddressEntry) Reserve(offerID string, context AddressContext) {
	e.OfferId = offerID
	e.Context = context
}

// Release makes the entry available again.
func (e *AddressEntry) Release() {
	e.OfferId = ""
	e.Context = AddressContextAvailable
	e.CoinLockedInMultiSig = 0
}
