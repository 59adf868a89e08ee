package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/thanhpk/randstr"
)

func TestNewMessageUid(t *testing.T) {
	tradeID := randstr.Hex(16)
	sender := domain.NodeAddress("/ip4/127.0.0.1/tcp/9000/p2p/alice")

	uid := domain.NewMessageUid(tradeID, sender, domain.MsgCounterCurrencyTransferStarted)
	require.Equal(t, uid, domain.NewMessageUid(tradeID, sender, domain.MsgCounterCurrencyTransferStarted))
	require.NotEqual(t, uid, domain.NewMessageUid(tradeID, sender, domain.MsgPayoutTxPublished))
	require.NotEqual(t, uid, domain.NewMessageUid(tradeID, "other", domain.MsgCounterCurrencyTransferStarted))
	require.NotEqual(t, uid, domain.NewMessageUid(randstr.Hex(16), sender, domain.MsgCounterCurrencyTransferStarted))
}

func TestEncodeDecodeMessage(t *testing.T) {
	tradeID := randstr.Hex(16)
	sender := domain.NodeAddress("/ip4/127.0.0.1/tcp/9000/p2p/bob")

	tests := []struct {
		name string
		msg  domain.TradeMessage
	}{
		{
			name: "inputs_for_deposit_tx_request",
			msg: &domain.InputsForDepositTxRequest{
				MessageBase: domain.NewMessageBase(tradeID, sender, domain.MsgInputsForDepositTxRequest),
				TradeAmount: 100000,
				TradePrice:  decimal.RequireFromString("30123.45"),
				RawTransactionInputs: []domain.RawTransactionInput{
					{ParentTxId: randstr.Hex(32), Index: 1, Value: 50000, PkScript: []byte{0, 20}},
				},
			},
		},
		{
			name: "counter_currency_transfer_started",
			msg: &domain.CounterCurrencyTransferStartedMessage{
				MessageBase:        domain.NewMessageBase(tradeID, sender, domain.MsgCounterCurrencyTransferStarted),
				BuyerPayoutAddress: "bc1qexample",
				BuyerSignature:     []byte{1, 2, 3},
			},
		},
		{
			name: "ack",
			msg: domain.NewAckMessage(
				&domain.PayoutTxPublishedMessage{
					MessageBase: domain.NewMessageBase(tradeID, "peer", domain.MsgPayoutTxPublished),
				},
				sender, false, "boom",
			),
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			buf, err := domain.EncodeMessage(tt.msg)
			require.NoError(t, err)

			msg, err := domain.DecodeMessage(buf)
			require.NoError(t, err)
			require.Equal(t, tt.msg.Type(), msg.Type())
			require.Equal(t, tt.msg.GetUid(), msg.GetUid())
			require.Equal(t, tt.msg.GetTradeId(), msg.GetTradeId())
			require.Equal(t, tt.msg.GetSenderNodeAddress(), msg.GetSenderNodeAddress())
		})
	}
}

func TestDecodeMessageFails(t *testing.T) {
	tests := []struct {
		name        string
		buf         []byte
		expectedErr error
	}{
		{"not_json", []byte("nope"), domain.ErrInvalidMessage},
		{"unknown_type", []byte(`{"type":"Foo","payload":{}}`), domain.ErrUnknownMessageType},
		{"missing_base", []byte(`{"type":"AckMessage","payload":{"SourceUid":"x"}}`), domain.ErrInvalidMessage},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			msg, err := domain.DecodeMessage(tt.buf)
			require.ErrorIs(t, err, tt.expectedErr)
			require.Nil(t, msg)
		})
	}
}

func TestAckMessage(t *testing.T) {
	source := &domain.ShareBuyerPaymentAccountMessage{
		MessageBase: domain.NewMessageBase(randstr.Hex(16), "buyer", domain.MsgShareBuyerPaymentAccount),
	}
	ack := domain.NewAckMessage(source, "seller", true, "")
	require.Equal(t, source.GetUid(), ack.SourceUid)
	require.Equal(t, domain.MsgShareBuyerPaymentAccount, ack.SourceType)
	require.Equal(t, source.GetTradeId(), ack.GetTradeId())
	require.Equal(t, ack.GetUid(), domain.NewAckMessage(source, "seller", true, "").GetUid())
}

func TestOpenOfferReservation(t *testing.T) {
	openOffer := &domain.OpenOffer{Offer: newOffer(domain.OfferDirectionBuy)}

	require.NoError(t, openOffer.Reserve())
	require.ErrorIs(t, openOffer.Reserve(), domain.ErrOfferNotAvailable)
	openOffer.Release()
	require.Equal(t, domain.OpenOfferAvailable, openOffer.State)
	openOffer.Close()
	openOffer.Release()
	require.Equal(t, domain.OpenOfferClosed, openOffer.State)
}

func TestContractAccessors(t *testing.T) {
	c := &domain.Contract{
		IsBuyerMakerAndSellerTaker: true,
		MakerMultiSigPubKey:        []byte{1},
		TakerMultiSigPubKey:        []byte{2},
		MakerPayoutAddress:         "maker",
		TakerPayoutAddress:         "taker",
	}
	require.Equal(t, []byte{1}, c.BuyerMultiSigPubKey())
	require.Equal(t, []byte{2}, c.SellerMultiSigPubKey())
	require.Equal(t, "maker", c.BuyerPayoutAddress())

	json, err := c.JSON()
	require.NoError(t, err)
	parsed, err := domain.ParseContract(json)
	require.NoError(t, err)
	require.Equal(t, c.MakerPayoutAddress, parsed.MakerPayoutAddress)
	require.Len(t, domain.ContractHash(json), 32)
}

func TestSenderIsSignedBy(t *testing.T) {
	key := []byte(randstr.Hex(33))
	other := []byte(randstr.Hex(33))

	tests := []struct {
		name     string
		signer   []byte
		key      []byte
		expected bool
	}{
		{"unsigned", nil, key, true},
		{"same_key", key, key, true},
		{"other_key", other, key, false},
		{"unknown_key", key, nil, false},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			sender := domain.Sender{Address: "/memory/peer", SignaturePubKey: tt.signer}
			require.Equal(t, tt.expected, sender.IsSignedBy(tt.key))
		})
	}
}
