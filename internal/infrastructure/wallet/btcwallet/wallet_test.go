package btcwallet_test

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/chain/inmemory"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/wallet/btcwallet"
	"github.com/tdex-network/tdex-p2ptrade/pkg/txutil"
)

const (
	feeRate       = 1
	takerFee      = 5000
	txFee         = 2000
	buyerDeposit  = 150000
	sellerDeposit = 300000
)

var (
	ctx    = context.Background()
	params = &chaincfg.RegressionNetParams
)

type party struct {
	keychain *btcwallet.Keychain
	wallet   *btcwallet.TradeWallet
	funding  domain.AddressEntry
	multisig domain.AddressEntry
	payout   domain.AddressEntry
}

func newParty(t *testing.T, chain ports.ChainService) *party {
	keychain := newKeychain(t, newSeed(t))
	wallet, err := btcwallet.NewTradeWallet(keychain, chain, feeRate)
	require.NoError(t, err)
	return &party{
		keychain: keychain,
		wallet:   wallet,
		funding:  newEntry(t, keychain, 0),
		multisig: newEntry(t, keychain, 1),
		payout:   newEntry(t, keychain, 2),
	}
}

func TestNewTradeWallet(t *testing.T) {
	chain := inmemory.NewChain(params)
	keychain := newKeychain(t, newSeed(t))

	_, err := btcwallet.NewTradeWallet(nil, chain, feeRate)
	require.Error(t, err)

	_, err = btcwallet.NewTradeWallet(keychain, nil, feeRate)
	require.ErrorIs(t, err, btcwallet.ErrNullChainService)

	wallet, err := btcwallet.NewTradeWallet(keychain, chain, 0)
	require.NoError(t, err)
	require.NotNil(t, wallet)
}

func TestMultisigTradeTransactions(t *testing.T) {
	chain := inmemory.NewChain(params)
	buyer := newParty(t, chain)
	seller := newParty(t, chain)
	feeAddress := newEntry(t, newKeychain(t, newSeed(t)), 0).Address
	refundAddress := newEntry(t, newKeychain(t, newSeed(t)), 0).Address

	fund(t, chain, buyer.funding.Address, 500000)
	fund(t, chain, seller.funding.Address, 1000000)

	feeTx, err := seller.wallet.CreateFeeTx(ctx, ports.FeeTxArgs{
		Funding:       seller.funding,
		Fee:           takerFee,
		FeeAddress:    feeAddress,
		DepositAmount: sellerDeposit,
	})
	require.NoError(t, err)
	require.Equal(t, uint32(1), feeTx.DepositInput.Index)
	require.Equal(t, uint64(sellerDeposit), feeTx.DepositInput.Value)

	decodedFeeTx, err := txutil.Decode(feeTx.Tx)
	require.NoError(t, err)
	require.Len(t, decodedFeeTx.Outputs, 3)
	require.Equal(t, uint64(takerFee), decodedFeeTx.Outputs[0].Value)
	require.True(t, decodedFeeTx.IsFullySigned())

	txid, err := chain.BroadcastTransaction(ctx, feeTx.Tx)
	require.NoError(t, err)
	require.Equal(t, feeTx.TxId, txid)

	selected, err := buyer.wallet.SelectInputs(ctx, buyer.funding, buyerDeposit)
	require.NoError(t, err)
	require.Len(t, selected.Inputs, 1)
	require.Equal(t, uint64(500000-buyerDeposit), selected.ChangeValue)
	require.Equal(t, buyer.funding.Address, selected.ChangeAddress)

	multisigValue := uint64(buyerDeposit + sellerDeposit - txFee)
	depositArgs := ports.DepositTxArgs{
		BuyerInputs:          selected.Inputs,
		SellerInputs:         []domain.RawTransactionInput{feeTx.DepositInput},
		BuyerChange:          ports.Output{Address: selected.ChangeAddress, Value: selected.ChangeValue},
		BuyerMultiSigPubKey:  buyer.multisig.PubKey,
		SellerMultiSigPubKey: seller.multisig.PubKey,
		MultisigValue:        multisigValue,
		ContractHash:         make([]byte, 32),
	}
	buyerDepositTx, err := buyer.wallet.CreateDepositTx(ctx, depositArgs)
	require.NoError(t, err)
	sellerDepositTx, err := seller.wallet.CreateDepositTx(ctx, depositArgs)
	require.NoError(t, err)
	require.Equal(t, buyerDepositTx, sellerDepositTx)

	depositTx, err := buyer.wallet.SignInputs(ctx, buyerDepositTx, selected.Inputs, buyer.funding)
	require.NoError(t, err)
	depositTx, err = seller.wallet.SignInputs(
		ctx, depositTx, []domain.RawTransactionInput{feeTx.DepositInput}, seller.funding,
	)
	require.NoError(t, err)

	unsignedTxid, err := txutil.TxId(buyerDepositTx)
	require.NoError(t, err)
	depositTxid, err := chain.BroadcastTransaction(ctx, depositTx)
	require.NoError(t, err)
	require.Equal(t, unsignedTxid, depositTxid)

	decodedDeposit, err := txutil.Decode(depositTx)
	require.NoError(t, err)
	require.Equal(t, multisigValue, decodedDeposit.Outputs[0].Value)
	contractHash, ok := txutil.NullData(decodedDeposit.Outputs[1].PkScript)
	require.True(t, ok)
	require.Equal(t, depositArgs.ContractHash, contractHash)

	multisig := ports.MultisigInput{
		BuyerPubKey:  buyer.multisig.PubKey,
		SellerPubKey: seller.multisig.PubKey,
		Value:        multisigValue,
	}
	height, err := chain.GetBlockHeight(ctx)
	require.NoError(t, err)

	delayedPayoutTx, err := seller.wallet.CreateDelayedPayoutTx(ctx, ports.DelayedPayoutTxArgs{
		DepositTx:     depositTx,
		LockTime:      height + 10,
		RefundAddress: refundAddress,
		TxFee:         txFee,
	})
	require.NoError(t, err)
	delayedPayoutTx = signMultisig(t, buyer, seller, delayedPayoutTx, multisig)

	t.Run("delayed payout is time locked", func(t *testing.T) {
		decoded, err := txutil.Decode(delayedPayoutTx)
		require.NoError(t, err)
		require.Equal(t, height+10, decoded.LockTime)
		require.Equal(t, multisigValue-txFee, decoded.Outputs[0].Value)

		_, err = chain.BroadcastTransaction(ctx, delayedPayoutTx)
		require.ErrorIs(t, err, inmemory.ErrNonFinalTx)
	})

	t.Run("payout", func(t *testing.T) {
		chain.Mine(1)

		payoutTx, err := seller.wallet.CreatePayoutTx(ctx, ports.PayoutTxArgs{
			DepositTx:     depositTx,
			BuyerAddress:  buyer.payout.Address,
			BuyerAmount:   sellerDeposit,
			SellerAddress: seller.payout.Address,
			SellerAmount:  buyerDeposit - 2*txFee,
		})
		require.NoError(t, err)

		sellerSig, err := seller.wallet.SignMultisigInput(ctx, payoutTx, multisig, seller.multisig)
		require.NoError(t, err)
		err = buyer.wallet.VerifyMultisigSignature(payoutTx, multisig, seller.multisig.PubKey, sellerSig)
		require.NoError(t, err)
		err = buyer.wallet.VerifyMultisigSignature(payoutTx, multisig, buyer.multisig.PubKey, sellerSig)
		require.ErrorIs(t, err, btcwallet.ErrInvalidSignature)

		payoutTx = signMultisig(t, buyer, seller, payoutTx, multisig)
		_, err = chain.BroadcastTransaction(ctx, payoutTx)
		require.NoError(t, err)

		utxos, err := chain.GetUnspents(ctx, buyer.payout.Address)
		require.NoError(t, err)
		require.Len(t, utxos, 1)
		require.Equal(t, uint64(sellerDeposit), utxos[0].Value)

		chain.Mine(10)
		_, err = chain.BroadcastTransaction(ctx, delayedPayoutTx)
		require.ErrorIs(t, err, inmemory.ErrMissingInput)
	})

	t.Run("withdrawal", func(t *testing.T) {
		to := newEntry(t, newKeychain(t, newSeed(t)), 0).Address
		withdrawalTx, err := buyer.wallet.CreateWithdrawalTx(ctx, buyer.payout, to)
		require.NoError(t, err)
		_, err = chain.BroadcastTransaction(ctx, withdrawalTx)
		require.NoError(t, err)

		decoded, err := txutil.Decode(withdrawalTx)
		require.NoError(t, err)
		require.Len(t, decoded.Outputs, 1)
		require.Less(t, decoded.Outputs[0].Value, uint64(sellerDeposit))

		_, err = buyer.wallet.CreateWithdrawalTx(ctx, buyer.payout, to)
		require.ErrorIs(t, err, btcwallet.ErrInsufficientFunds)
	})
}

func TestSwapTransaction(t *testing.T) {
	chain := inmemory.NewChain(params)
	buyer := newParty(t, chain)
	seller := newParty(t, chain)

	fund(t, chain, buyer.funding.Address, 200000)
	fund(t, chain, seller.funding.Address, 100000)

	buyerInputs, err := buyer.wallet.SelectInputs(ctx, buyer.funding, 150000)
	require.NoError(t, err)
	sellerInputs, err := seller.wallet.SelectInputs(ctx, seller.funding, 80000+txFee)
	require.NoError(t, err)

	swapTx, err := seller.wallet.CreateSwapTx(ctx, ports.SwapTxArgs{
		BuyerInputs:  buyerInputs.Inputs,
		SellerInputs: sellerInputs.Inputs,
		BuyerPayout:  ports.Output{Address: buyer.payout.Address, Value: 80000},
		SellerPayout: ports.Output{Address: seller.payout.Address, Value: 150000},
		BuyerChange:  ports.Output{Address: buyerInputs.ChangeAddress, Value: buyerInputs.ChangeValue},
		SellerChange: ports.Output{Address: sellerInputs.ChangeAddress, Value: sellerInputs.ChangeValue},
	})
	require.NoError(t, err)

	swapTx, err = buyer.wallet.SignInputs(ctx, swapTx, buyerInputs.Inputs, buyer.funding)
	require.NoError(t, err)
	_, err = chain.BroadcastTransaction(ctx, swapTx)
	require.ErrorIs(t, err, inmemory.ErrInvalidScript)

	swapTx, err = seller.wallet.SignInputs(ctx, swapTx, sellerInputs.Inputs, seller.funding)
	require.NoError(t, err)
	_, err = chain.BroadcastTransaction(ctx, swapTx)
	require.NoError(t, err)

	decoded, err := txutil.Decode(swapTx)
	require.NoError(t, err)
	require.Len(t, decoded.Outputs, 4)
	require.True(t, decoded.IsFullySigned())
}

func TestWalletErrors(t *testing.T) {
	chain := inmemory.NewChain(params)
	alice := newParty(t, chain)
	bob := newParty(t, chain)
	fund(t, chain, alice.funding.Address, 10000)

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := alice.wallet.SelectInputs(ctx, alice.funding, 20000)
		require.ErrorIs(t, err, btcwallet.ErrInsufficientFunds)

		_, err = alice.wallet.CreateFeeTx(ctx, ports.FeeTxArgs{
			Funding:       alice.funding,
			Fee:           1000,
			FeeAddress:    bob.funding.Address,
			DepositAmount: 9000,
		})
		require.ErrorIs(t, err, btcwallet.ErrInsufficientFunds)
	})

	t.Run("key mismatch", func(t *testing.T) {
		selected, err := alice.wallet.SelectInputs(ctx, alice.funding, 5000)
		require.NoError(t, err)
		tx, err := alice.wallet.CreateSwapTx(ctx, ports.SwapTxArgs{
			BuyerInputs: selected.Inputs,
			BuyerPayout: ports.Output{Address: bob.funding.Address, Value: 9000},
		})
		require.NoError(t, err)

		_, err = bob.wallet.SignInputs(ctx, tx, selected.Inputs, alice.funding)
		require.ErrorIs(t, err, btcwallet.ErrKeyMismatch)
	})

	t.Run("input not found", func(t *testing.T) {
		fund(t, chain, bob.funding.Address, 5000)
		bobInputs, err := bob.wallet.SelectInputs(ctx, bob.funding, 5000)
		require.NoError(t, err)

		selected, err := alice.wallet.SelectInputs(ctx, alice.funding, 5000)
		require.NoError(t, err)
		tx, err := alice.wallet.CreateSwapTx(ctx, ports.SwapTxArgs{
			BuyerInputs: selected.Inputs,
			BuyerPayout: ports.Output{Address: bob.funding.Address, Value: 9000},
		})
		require.NoError(t, err)

		_, err = alice.wallet.SignInputs(ctx, tx, bobInputs.Inputs, alice.funding)
		require.ErrorIs(t, err, btcwallet.ErrInputNotFound)
	})
}

func fund(t *testing.T, chain *inmemory.Chain, address string, value uint64) {
	_, err := chain.Fund(address, value)
	require.NoError(t, err)
}

func signMultisig(
	t *testing.T, buyer, seller *party, tx []byte, in ports.MultisigInput,
) []byte {
	buyerSig, err := buyer.wallet.SignMultisigInput(ctx, tx, in, buyer.multisig)
	require.NoError(t, err)
	sellerSig, err := seller.wallet.SignMultisigInput(ctx, tx, in, seller.multisig)
	require.NoError(t, err)

	require.NoError(t, seller.wallet.VerifyMultisigSignature(tx, in, buyer.multisig.PubKey, buyerSig))
	require.NoError(t, buyer.wallet.VerifyMultisigSignature(tx, in, seller.multisig.PubKey, sellerSig))

	signed, err := buyer.wallet.FinalizeMultisigTx(tx, in, buyerSig, sellerSig)
	require.NoError(t, err)
	return signed
}

func newSeed(t *testing.T) []byte {
	seed := make([]byte, 32)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	return seed
}

func newKeychain(t *testing.T, seed []byte) *btcwallet.Keychain {
	keychain, err := btcwallet.NewKeychain(btcwallet.KeychainOpts{
		Seed: seed, Network: params,
	})
	require.NoError(t, err)
	return keychain
}

func newEntry(t *testing.T, keychain *btcwallet.Keychain, index uint32) domain.AddressEntry {
	key, err := keychain.DeriveKey(index)
	require.NoError(t, err)
	return domain.AddressEntry{
		Address:  key.Address,
		PubKey:   key.PubKey,
		KeyIndex: index,
	}
}
