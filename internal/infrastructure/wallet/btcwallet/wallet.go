package btcwallet

import (
	"context"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/tdex-network/tdex-p2ptrade/pkg/txutil"
)

const (
	// DustLimit is the min value of the change outputs created by the
	// wallet, smaller amounts go to miners.
	DustLimit = 546

	defaultFeeRate        = 2
	delayedPayoutSequence = wire.MaxTxInSequenceNum - 1
	multisigInputIndex    = 0
)

// TradeWallet builds and signs the transactions of the trade protocols with
// the keys of a Keychain. Funds are looked up through the chain service.
type TradeWallet struct {
	keychain *Keychain
	chain    ports.ChainService
	// feeRate is in sats/vbyte.
	feeRate uint64
}

func NewTradeWallet(
	keychain *Keychain, chain ports.ChainService, feeRate uint64,
) (*TradeWallet, error) {
	if keychain == nil {
		return nil, fmt.Errorf("missing keychain")
	}
	if chain == nil {
		return nil, ErrNullChainService
	}
	if feeRate == 0 {
		feeRate = defaultFeeRate
	}
	return &TradeWallet{keychain, chain, feeRate}, nil
}

// CreateFeeTx pays the taker fee to the fee address and locks DepositAmount
// into a new output of the funding address. The deposit tx spends that
// output, so it does not depend on the other coins of the funding address.
func (w *TradeWallet) CreateFeeTx(
	ctx context.Context, args ports.FeeTxArgs,
) (*ports.FeeTx, error) {
	fundingScript, err := w.addressScript(args.Funding.Address)
	if err != nil {
		return nil, err
	}
	utxos, err := w.chain.GetUnspents(ctx, args.Funding.Address)
	if err != nil {
		return nil, err
	}

	outputs := make([]*wire.TxOut, 0, 3)
	if args.Fee > 0 {
		feeScript, err := w.addressScript(args.FeeAddress)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, wire.NewTxOut(int64(args.Fee), feeScript))
	}
	depositIndex := uint32(len(outputs))
	outputs = append(outputs, wire.NewTxOut(int64(args.DepositAmount), fundingScript))

	tx, err := w.fundAndSign(args.Funding, fundingScript, utxos, outputs)
	if err != nil {
		return nil, err
	}
	raw, err := txutil.Serialize(tx)
	if err != nil {
		return nil, err
	}
	txid := tx.TxHash().String()

	return &ports.FeeTx{
		TxId: txid,
		Tx:   raw,
		DepositInput: domain.RawTransactionInput{
			ParentTxId: txid,
			Index:      depositIndex,
			Value:      args.DepositAmount,
			PkScript:   fundingScript,
		},
	}, nil
}

// SelectInputs returns coins of the funding address worth at least amount.
// The whole excess is returned as change, the fees of the deposit and swap
// txs are part of the contributions.
func (w *TradeWallet) SelectInputs(
	ctx context.Context, funding domain.AddressEntry, amount uint64,
) (*ports.SelectedInputs, error) {
	utxos, err := w.chain.GetUnspents(ctx, funding.Address)
	if err != nil {
		return nil, err
	}
	selected, total, err := selectUtxos(utxos, amount)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", funding.Address, err)
	}

	inputs := make([]domain.RawTransactionInput, 0, len(selected))
	for _, u := range selected {
		inputs = append(inputs, domain.RawTransactionInput{
			ParentTxId: u.TxId,
			Index:      u.Index,
			Value:      u.Value,
			PkScript:   u.PkScript,
		})
	}

	res := &ports.SelectedInputs{Inputs: inputs}
	if change := total - amount; change > 0 {
		res.ChangeValue = change
		res.ChangeAddress = funding.Address
	}
	return res, nil
}

// CreateDepositTx returns the unsigned deposit tx: the 2-of-2 multisig
// output comes first, followed by the OP_RETURN committing to the contract
// and by the change outputs.
func (w *TradeWallet) CreateDepositTx(
	_ context.Context, args ports.DepositTxArgs,
) ([]byte, error) {
	_, multisigScript, err := txutil.MultisigScript(
		args.BuyerMultiSigPubKey, args.SellerMultiSigPubKey, w.network(),
	)
	if err != nil {
		return nil, err
	}
	contractScript, err := txutil.NullDataScript(args.ContractHash)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, list := range [][]domain.RawTransactionInput{args.BuyerInputs, args.SellerInputs} {
		if err := addInputs(tx, list, wire.MaxTxInSequenceNum); err != nil {
			return nil, err
		}
	}
	tx.AddTxOut(wire.NewTxOut(int64(args.MultisigValue), multisigScript))
	tx.AddTxOut(wire.NewTxOut(0, contractScript))
	if err := w.addOutputs(tx, args.BuyerChange, args.SellerChange); err != nil {
		return nil, err
	}
	return txutil.Serialize(tx)
}

// SignInputs adds the witness of each of the given inputs.
func (w *TradeWallet) SignInputs(
	_ context.Context, rawTx []byte,
	inputs []domain.RawTransactionInput, funding domain.AddressEntry,
) ([]byte, error) {
	tx, err := txutil.Deserialize(rawTx)
	if err != nil {
		return nil, err
	}
	privKey, err := w.keychain.signingKey(funding)
	if err != nil {
		return nil, err
	}

	for _, in := range inputs {
		index, err := inputIndex(tx, in.ParentTxId, in.Index)
		if err != nil {
			return nil, err
		}
		if err := signP2WPKH(tx, index, in.PkScript, in.Value, privKey); err != nil {
			return nil, err
		}
	}
	return txutil.Serialize(tx)
}

// CreateDelayedPayoutTx returns the tx paying the whole multisig output to
// the refund agent, spendable only after LockTime.
func (w *TradeWallet) CreateDelayedPayoutTx(
	_ context.Context, args ports.DelayedPayoutTxArgs,
) ([]byte, error) {
	deposit, err := txutil.Deserialize(args.DepositTx)
	if err != nil {
		return nil, err
	}
	if len(deposit.TxOut) == 0 {
		return nil, fmt.Errorf("deposit tx has no outputs")
	}
	multisigValue := uint64(deposit.TxOut[multisigInputIndex].Value)
	if multisigValue <= args.TxFee {
		return nil, fmt.Errorf("%w: multisig output can't pay the fee", ErrInsufficientFunds)
	}
	refundScript, err := w.addressScript(args.RefundAddress)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	in := wire.NewTxIn(wire.NewOutPoint(ptr(deposit.TxHash()), multisigInputIndex), nil, nil)
	in.Sequence = delayedPayoutSequence
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(int64(multisigValue-args.TxFee), refundScript))
	tx.LockTime = args.LockTime
	return txutil.Serialize(tx)
}

// CreatePayoutTx returns the cooperative tx splitting the multisig output
// between buyer and seller.
func (w *TradeWallet) CreatePayoutTx(
	_ context.Context, args ports.PayoutTxArgs,
) ([]byte, error) {
	deposit, err := txutil.Deserialize(args.DepositTx)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(ptr(deposit.TxHash()), multisigInputIndex), nil, nil,
	))
	if err := w.addOutputs(
		tx,
		ports.Output{Address: args.BuyerAddress, Value: args.BuyerAmount},
		ports.Output{Address: args.SellerAddress, Value: args.SellerAmount},
	); err != nil {
		return nil, err
	}
	return txutil.Serialize(tx)
}

// SignMultisigInput returns the signature of the multisig input, with the
// sighash type appended, made with the key of the given entry.
func (w *TradeWallet) SignMultisigInput(
	_ context.Context, rawTx []byte, in ports.MultisigInput, key domain.AddressEntry,
) ([]byte, error) {
	tx, err := txutil.Deserialize(rawTx)
	if err != nil {
		return nil, err
	}
	privKey, err := w.keychain.signingKey(key)
	if err != nil {
		return nil, err
	}
	witnessScript, pkScript, err := txutil.MultisigScript(
		in.BuyerPubKey, in.SellerPubKey, w.network(),
	)
	if err != nil {
		return nil, err
	}

	sigHashes := txscript.NewTxSigHashes(
		tx, txscript.NewCannedPrevOutputFetcher(pkScript, int64(in.Value)),
	)
	return txscript.RawTxInWitnessSignature(
		tx, sigHashes, multisigInputIndex, int64(in.Value), witnessScript,
		txscript.SigHashAll, privKey,
	)
}

func (w *TradeWallet) VerifyMultisigSignature(
	rawTx []byte, in ports.MultisigInput, pubkey, sig []byte,
) error {
	if len(sig) < 2 {
		return ErrInvalidSignature
	}
	if txscript.SigHashType(sig[len(sig)-1]) != txscript.SigHashAll {
		return fmt.Errorf("%w: unexpected sighash type", ErrInvalidSignature)
	}
	tx, err := txutil.Deserialize(rawTx)
	if err != nil {
		return err
	}
	witnessScript, pkScript, err := txutil.MultisigScript(
		in.BuyerPubKey, in.SellerPubKey, w.network(),
	)
	if err != nil {
		return err
	}

	sigHashes := txscript.NewTxSigHashes(
		tx, txscript.NewCannedPrevOutputFetcher(pkScript, int64(in.Value)),
	)
	hash, err := txscript.CalcWitnessSigHash(
		witnessScript, sigHashes, txscript.SigHashAll, tx,
		multisigInputIndex, int64(in.Value),
	)
	if err != nil {
		return err
	}

	key, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPubKey, err)
	}
	signature, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	if !signature.Verify(hash, key) {
		return ErrInvalidSignature
	}
	return nil
}

// FinalizeMultisigTx sets the witness of the multisig input. Signatures
// follow the order of the keys in the witness script.
func (w *TradeWallet) FinalizeMultisigTx(
	rawTx []byte, in ports.MultisigInput, buyerSig, sellerSig []byte,
) ([]byte, error) {
	tx, err := txutil.Deserialize(rawTx)
	if err != nil {
		return nil, err
	}
	if len(tx.TxIn) == 0 {
		return nil, fmt.Errorf("tx has no inputs")
	}
	witnessScript, _, err := txutil.MultisigScript(
		in.BuyerPubKey, in.SellerPubKey, w.network(),
	)
	if err != nil {
		return nil, err
	}

	tx.TxIn[multisigInputIndex].Witness = wire.TxWitness{
		nil, buyerSig, sellerSig, witnessScript,
	}
	return txutil.Serialize(tx)
}

// CreateSwapTx returns the unsigned atomic swap tx exchanging the coins of
// buyer and seller in a single transaction.
func (w *TradeWallet) CreateSwapTx(
	_ context.Context, args ports.SwapTxArgs,
) ([]byte, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, list := range [][]domain.RawTransactionInput{args.BuyerInputs, args.SellerInputs} {
		if err := addInputs(tx, list, wire.MaxTxInSequenceNum); err != nil {
			return nil, err
		}
	}
	if err := w.addOutputs(
		tx, args.BuyerPayout, args.SellerPayout, args.BuyerChange, args.SellerChange,
	); err != nil {
		return nil, err
	}
	return txutil.Serialize(tx)
}

// CreateWithdrawalTx sweeps all the coins of the given entry to toAddress.
func (w *TradeWallet) CreateWithdrawalTx(
	ctx context.Context, from domain.AddressEntry, toAddress string,
) ([]byte, error) {
	fromScript, err := w.addressScript(from.Address)
	if err != nil {
		return nil, err
	}
	toScript, err := w.addressScript(toAddress)
	if err != nil {
		return nil, err
	}
	utxos, err := w.chain.GetUnspents(ctx, from.Address)
	if err != nil {
		return nil, err
	}
	if len(utxos) == 0 {
		return nil, fmt.Errorf("%w: %s has no coins", ErrInsufficientFunds, from.Address)
	}

	var total uint64
	for _, u := range utxos {
		total += u.Value
	}
	fee := w.fee(len(utxos), [][]byte{toScript})
	if total < fee+DustLimit {
		return nil, fmt.Errorf(
			"%w: %d sats can't pay a fee of %d", ErrInsufficientFunds, total, fee,
		)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := addUtxos(tx, utxos); err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(int64(total-fee), toScript))

	privKey, err := w.keychain.signingKey(from)
	if err != nil {
		return nil, err
	}
	for i, u := range utxos {
		if err := signP2WPKH(tx, i, fromScript, u.Value, privKey); err != nil {
			return nil, err
		}
	}

	log.Debugf("created withdrawal of %d sats from %s to %s", total-fee, from.Address, toAddress)
	return txutil.Serialize(tx)
}

// fundAndSign adds to the outputs enough coins of the funding entry to pay
// them and the mining fee, plus a change back to the funding address if
// above dust.
func (w *TradeWallet) fundAndSign(
	funding domain.AddressEntry, fundingScript []byte,
	utxos []ports.Utxo, outputs []*wire.TxOut,
) (*wire.MsgTx, error) {
	var amount uint64
	scripts := make([][]byte, 0, len(outputs)+1)
	for _, out := range outputs {
		amount += uint64(out.Value)
		scripts = append(scripts, out.PkScript)
	}
	scripts = append(scripts, fundingScript)

	var (
		selected []ports.Utxo
		total    uint64
		fee      uint64
		err      error
	)
	for numInputs := 1; numInputs <= len(utxos); numInputs++ {
		fee = w.fee(numInputs, scripts)
		selected, total, err = selectUtxos(utxos, amount+fee)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", funding.Address, err)
		}
		if len(selected) <= numInputs {
			break
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: %s has no coins", ErrInsufficientFunds, funding.Address)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := addUtxos(tx, selected); err != nil {
		return nil, err
	}
	for _, out := range outputs {
		tx.AddTxOut(out)
	}
	if change := total - amount - fee; change >= DustLimit {
		tx.AddTxOut(wire.NewTxOut(int64(change), fundingScript))
	}

	privKey, err := w.keychain.signingKey(funding)
	if err != nil {
		return nil, err
	}
	for i, u := range selected {
		if err := signP2WPKH(tx, i, fundingScript, u.Value, privKey); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func (w *TradeWallet) fee(numInputs int, outScripts [][]byte) uint64 {
	return uint64(estimateVirtualSize(numInputs, outScripts)) * w.feeRate
}

func (w *TradeWallet) addOutputs(tx *wire.MsgTx, outputs ...ports.Output) error {
	for _, out := range outputs {
		if out.Value == 0 {
			continue
		}
		script, err := w.addressScript(out.Address)
		if err != nil {
			return err
		}
		tx.AddTxOut(wire.NewTxOut(int64(out.Value), script))
	}
	return nil
}

func (w *TradeWallet) addressScript(address string) ([]byte, error) {
	return txutil.AddressScript(address, w.network())
}

func (w *TradeWallet) network() *chaincfg.Params {
	return w.keychain.Network()
}

// selectUtxos picks confirmed coins first, the largest first, until target
// is covered.
func selectUtxos(utxos []ports.Utxo, target uint64) ([]ports.Utxo, uint64, error) {
	sorted := make([]ports.Utxo, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Confirmed != sorted[j].Confirmed {
			return sorted[i].Confirmed
		}
		return sorted[i].Value > sorted[j].Value
	})

	var total uint64
	for i, u := range sorted {
		total += u.Value
		if total >= target {
			return sorted[:i+1], total, nil
		}
	}
	return nil, 0, fmt.Errorf(
		"%w: %d sats available, %d needed", ErrInsufficientFunds, total, target,
	)
}

func addInputs(tx *wire.MsgTx, inputs []domain.RawTransactionInput, sequence uint32) error {
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.ParentTxId)
		if err != nil {
			return fmt.Errorf("invalid input txid %s: %w", in.ParentTxId, err)
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(hash, in.Index), nil, nil)
		txIn.Sequence = sequence
		tx.AddTxIn(txIn)
	}
	return nil
}

func addUtxos(tx *wire.MsgTx, utxos []ports.Utxo) error {
	inputs := make([]domain.RawTransactionInput, 0, len(utxos))
	for _, u := range utxos {
		inputs = append(inputs, domain.RawTransactionInput{
			ParentTxId: u.TxId, Index: u.Index, Value: u.Value,
		})
	}
	return addInputs(tx, inputs, wire.MaxTxInSequenceNum)
}

func inputIndex(tx *wire.MsgTx, txid string, index uint32) (int, error) {
	for i, in := range tx.TxIn {
		if in.PreviousOutPoint.Hash.String() == txid &&
			in.PreviousOutPoint.Index == index {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s:%d", ErrInputNotFound, txid, index)
}

func signP2WPKH(
	tx *wire.MsgTx, index int, pkScript []byte, value uint64,
	privKey *btcec.PrivateKey,
) error {
	sigHashes := txscript.NewTxSigHashes(
		tx, txscript.NewCannedPrevOutputFetcher(pkScript, int64(value)),
	)
	witness, err := txscript.WitnessSignature(
		tx, sigHashes, index, int64(value), pkScript, txscript.SigHashAll,
		privKey, true,
	)
	if err != nil {
		return fmt.Errorf("failed to sign input %d: %w", index, err)
	}
	tx.TxIn[index].Witness = witness
	return nil
}

func ptr(h chainhash.Hash) *chainhash.Hash {
	return &h
}
