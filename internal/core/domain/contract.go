package domain

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Contract is the agreement both parties sign before funding the deposit tx.
// Its JSON serialization is what gets signed and hashed into the deposit tx.
type Contract struct {
	OfferId                        string
	TradeAmount                    uint64
	TradePrice                     string
	TxFee                          uint64
	BuyerSecurityDeposit           uint64
	SellerSecurityDeposit          uint64
	CurrencyCode                   string
	PaymentMethodId                string
	TakerFeeTxId                   string
	IsBuyerMakerAndSellerTaker     bool
	BuyerNodeAddress               NodeAddress
	SellerNodeAddress              NodeAddress
	MediatorNodeAddress            NodeAddress
	RefundAgentNodeAddress         NodeAddress
	MakerAccountId                 string
	TakerAccountId                 string
	MakerPaymentAccountPayloadHash []byte
	TakerPaymentAccountPayloadHash []byte
	MakerPubKeyRing                PubKeyRing
	TakerPubKeyRing                PubKeyRing
	MakerPayoutAddress             string
	TakerPayoutAddress             string
	MakerMultiSigPubKey            []byte
	TakerMultiSigPubKey            []byte
	LockTime                       uint32
}

// JSON returns the canonical serialization of the contract.
func (c *Contract) JSON() (string, error) {
	buf, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to serialize contract: %w", err)
	}
	return string(buf), nil
}

// ContractHash returns the sha256 of the contract serialization.
func ContractHash(contractAsJson string) []byte {
	h := sha256.Sum256([]byte(contractAsJson))
	return h[:]
}

// ParseContract decodes a contract serialization.
func ParseContract(contractAsJson string) (*Contract, error) {
	c := &Contract{}
	if err := json.Unmarshal([]byte(contractAsJson), c); err != nil {
		return nil, fmt.Errorf("failed to parse contract: %w", err)
	}
	return c, nil
}

func (c *Contract) BuyerMultiSigPubKey() []byte {
	if c.IsBuyerMakerAndSellerTaker {
		return c.MakerMultiSigPubKey
	}
	return c.TakerMultiSigPubKey
}

func (c *Contract) SellerMultiSigPubKey() []byte {
	if c.IsBuyerMakerAndSellerTaker {
		return c.TakerMultiSigPubKey
	}
	return c.MakerMultiSigPubKey
}

func (c *Contract) BuyerPayoutAddress() string {
	if c.IsBuyerMakerAndSellerTaker {
		return c.MakerPayoutAddress
	}
	return c.TakerPayoutAddress
}

func (c *Contract) SellerPayoutAddress() string {
	if c.IsBuyerMakerAndSellerTaker {
		return c.TakerPayoutAddress
	}
	return c.MakerPayoutAddress
}

func (c *Contract) BuyerPaymentAccountPayloadHash() []byte {
	if c.IsBuyerMakerAndSellerTaker {
		return c.MakerPaymentAccountPayloadHash
	}
	return c.TakerPaymentAccountPayloadHash
}

func (c *Contract) SellerPaymentAccountPayloadHash() []byte {
	if c.IsBuyerMakerAndSellerTaker {
		return c.TakerPaymentAccountPayloadHash
	}
	return c.MakerPaymentAccountPayloadHash
}
