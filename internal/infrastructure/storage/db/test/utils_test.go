package db_test

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	dbbadger "github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/storage/db/inmemory"
)

type repoManager struct {
	Name    string
	Manager ports.RepoManager
}

func createRepoManagers(t *testing.T) []repoManager {
	badgerRepoManager, err := dbbadger.NewRepoManager("", nil)
	require.NoError(t, err)
	t.Cleanup(badgerRepoManager.Close)

	return []repoManager{
		{
			Name:    "inmemory",
			Manager: inmemory.NewRepoManager(),
		},
		{
			Name:    "badger",
			Manager: badgerRepoManager,
		},
	}
}

func makeRandomOffer() domain.Offer {
	return domain.Offer{
		Id:                    randomHex(16),
		Direction:             domain.OfferDirectionBuy,
		MakerNodeAddress:      domain.NodeAddress(randomHex(20)),
		CurrencyCode:          "EUR",
		PaymentMethodId:       "SEPA",
		Price:                 decimal.NewFromInt(25000),
		Amount:                2_000_000,
		MinAmount:             1_000_000,
		BuyerSecurityDeposit:  300_000,
		SellerSecurityDeposit: 300_000,
		MaxTradePeriod:        48 * time.Hour,
		CreatedAt:             time.Now().Unix(),
	}
}

func makeRandomTrade(role domain.Role) *domain.Trade {
	offer := makeRandomOffer()
	trade := domain.NewTrade(domain.TradeInfo{
		Offer:           offer,
		Role:            role,
		Amount:          offer.Amount,
		Price:           offer.Price,
		TxFee:           2000,
		TakerFee:        5000,
		PeerNodeAddress: domain.NodeAddress(randomHex(20)),
	})
	trade.ProcessModel.MyMultiSigPubKey = randomBytes(33)
	trade.ProcessModel.SetMessageState(
		domain.MsgDepositTxAndDelayedPayoutTx,
		domain.MessageState{
			Uid:       randomHex(16),
			Status:    domain.MessageStatusStoredInMailbox,
			Attempts:  2,
			NextDelay: 8 * time.Second,
			Envelope:  randomBytes(64),
		},
	)
	return trade
}

func makeRandomEntries(num int) []*domain.AddressEntry {
	entries := make([]*domain.AddressEntry, 0, num)
	for i := 0; i < num; i++ {
		entries = append(entries, &domain.AddressEntry{
			Address:  randomHex(20),
			PubKey:   randomBytes(33),
			KeyIndex: uint32(i),
			Context:  domain.AddressContextAvailable,
		})
	}
	return entries
}

func randomHex(len int) string {
	return hex.EncodeToString(randomBytes(len))
}

func randomBytes(len int) []byte {
	b := make([]byte, len)
	//nolint
	rand.Read(b)
	return b
}
