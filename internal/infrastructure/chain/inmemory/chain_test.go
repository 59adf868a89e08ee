package inmemory_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/chain/inmemory"
	"github.com/tdex-network/tdex-p2ptrade/pkg/txutil"
)

var (
	ctx    = context.Background()
	params = &chaincfg.RegressionNetParams
)

func TestFundAndMine(t *testing.T) {
	chain := inmemory.NewChain(nil)
	_, addr := newAddress(t)

	txid, err := chain.Fund(addr, 100000)
	require.NoError(t, err)

	utxos, err := chain.GetUnspents(ctx, addr)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	require.Equal(t, txid, utxos[0].TxId)
	require.Equal(t, uint64(100000), utxos[0].Value)
	require.True(t, utxos[0].Confirmed)

	conf, err := chain.GetTxConfidence(ctx, txid)
	require.NoError(t, err)
	require.True(t, conf.Found)
	require.Equal(t, uint32(1), conf.Confirmations)

	chain.Mine(5)
	conf, err = chain.GetTxConfidence(ctx, txid)
	require.NoError(t, err)
	require.Equal(t, uint32(6), conf.Confirmations)

	status, err := chain.GetTxStatus(ctx, txid)
	require.NoError(t, err)
	require.Equal(t, conf.Confirmations, status.Confirmations)

	conf, err = chain.GetTxConfidence(ctx, "unknown")
	require.NoError(t, err)
	require.False(t, conf.Found)

	_, err = chain.GetTransaction(ctx, "unknown")
	require.ErrorIs(t, err, inmemory.ErrTxNotFound)
}

func TestBroadcast(t *testing.T) {
	chain := inmemory.NewChain(params)
	key, addr := newAddress(t)
	_, dest := newAddress(t)

	fundingTxid, err := chain.Fund(addr, 100000)
	require.NoError(t, err)
	utxos, err := chain.GetUnspents(ctx, addr)
	require.NoError(t, err)
	prevOut := wire.NewTxOut(int64(utxos[0].Value), utxos[0].PkScript)

	t.Run("valid", func(t *testing.T) {
		tx := spendTx(t, fundingTxid, 0, 99000, dest, 0)
		signTx(t, tx, key, prevOut)
		raw, err := txutil.Serialize(tx)
		require.NoError(t, err)

		txid, err := chain.BroadcastTransaction(ctx, raw)
		require.NoError(t, err)
		require.True(t, chain.IsInMempool(txid))

		conf, err := chain.GetTxConfidence(ctx, txid)
		require.NoError(t, err)
		require.True(t, conf.Found)
		require.Zero(t, conf.Confirmations)

		spent, err := chain.GetUnspents(ctx, addr)
		require.NoError(t, err)
		require.Empty(t, spent)
		received, err := chain.GetUnspents(ctx, dest)
		require.NoError(t, err)
		require.Len(t, received, 1)
		require.False(t, received[0].Confirmed)

		again, err := chain.BroadcastTransaction(ctx, raw)
		require.NoError(t, err)
		require.Equal(t, txid, again)

		chain.Mine(1)
		require.False(t, chain.IsInMempool(txid))
		conf, err = chain.GetTxConfidence(ctx, txid)
		require.NoError(t, err)
		require.Equal(t, uint32(1), conf.Confirmations)
	})

	t.Run("invalid", func(t *testing.T) {
		otherTxid, err := chain.Fund(addr, 50000)
		require.NoError(t, err)
		height, err := chain.GetBlockHeight(ctx)
		require.NoError(t, err)

		tests := []struct {
			name        string
			tx          func() *wire.MsgTx
			expectedErr error
		}{
			{
				name: "spent input",
				tx: func() *wire.MsgTx {
					tx := spendTx(t, fundingTxid, 0, 1000, dest, 0)
					signTx(t, tx, key, prevOut)
					return tx
				},
				expectedErr: inmemory.ErrMissingInput,
			},
			{
				name: "missing signature",
				tx: func() *wire.MsgTx {
					return spendTx(t, otherTxid, 0, 49000, dest, 0)
				},
				expectedErr: inmemory.ErrInvalidScript,
			},
			{
				name: "locked",
				tx: func() *wire.MsgTx {
					tx := spendTx(t, otherTxid, 0, 49000, dest, height+10)
					tx.TxIn[0].Sequence = wire.MaxTxInSequenceNum - 1
					return tx
				},
				expectedErr: inmemory.ErrNonFinalTx,
			},
		}

		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				raw, err := txutil.Serialize(tt.tx())
				require.NoError(t, err)
				_, err = chain.BroadcastTransaction(ctx, raw)
				require.ErrorIs(t, err, tt.expectedErr)
			})
		}
	})
}

func newAddress(t *testing.T) (*btcec.PrivateKey, string) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), params,
	)
	require.NoError(t, err)
	return key, addr.EncodeAddress()
}

func spendTx(
	t *testing.T, txid string, index uint32, value uint64, to string, lockTime uint32,
) *wire.MsgTx {
	hash, err := chainhash.NewHashFromStr(txid)
	require.NoError(t, err)
	script, err := txutil.AddressScript(to, params)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, index), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(value), script))
	tx.LockTime = lockTime
	return tx
}

func signTx(t *testing.T, tx *wire.MsgTx, key *btcec.PrivateKey, prevOut *wire.TxOut) {
	fetcher := txscript.NewCannedPrevOutputFetcher(prevOut.PkScript, prevOut.Value)
	witness, err := txscript.WitnessSignature(
		tx, txscript.NewTxSigHashes(tx, fetcher), 0, prevOut.Value,
		prevOut.PkScript, txscript.SigHashAll, key, true,
	)
	require.NoError(t, err)
	tx.TxIn[0].Witness = witness
}
