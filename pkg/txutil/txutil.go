// Package txutil decodes raw bitcoin transactions and builds the scripts
// shared by both parties of a trade.
package txutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Input is the summary of a transaction input.
type Input struct {
	TxId     string
	Index    uint32
	Sequence uint32
	Witness  [][]byte
}

// Output is the summary of a transaction output.
type Output struct {
	Value    uint64
	PkScript []byte
}

// Tx is the summary of a transaction.
type Tx struct {
	TxId     string
	LockTime uint32
	Inputs   []Input
	Outputs  []Output
}

// Decode parses a serialized transaction.
func Decode(raw []byte) (*Tx, error) {
	msgTx, err := Deserialize(raw)
	if err != nil {
		return nil, err
	}

	tx := &Tx{
		TxId:     msgTx.TxHash().String(),
		LockTime: msgTx.LockTime,
		Inputs:   make([]Input, 0, len(msgTx.TxIn)),
		Outputs:  make([]Output, 0, len(msgTx.TxOut)),
	}
	for _, in := range msgTx.TxIn {
		tx.Inputs = append(tx.Inputs, Input{
			TxId:     in.PreviousOutPoint.Hash.String(),
			Index:    in.PreviousOutPoint.Index,
			Sequence: in.Sequence,
			Witness:  in.Witness,
		})
	}
	for _, out := range msgTx.TxOut {
		tx.Outputs = append(tx.Outputs, Output{
			Value:    uint64(out.Value),
			PkScript: out.PkScript,
		})
	}
	return tx, nil
}

// Deserialize returns the wire representation of a serialized transaction.
func Deserialize(raw []byte) (*wire.MsgTx, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing transaction")
	}
	msgTx := wire.NewMsgTx(wire.TxVersion)
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return msgTx, nil
}

// Serialize ...
func Serialize(tx *wire.MsgTx) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, tx.SerializeSize()))
	if err := tx.Serialize(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TxId returns the hash of a serialized transaction.
func TxId(raw []byte) (string, error) {
	tx, err := Deserialize(raw)
	if err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

// HasInput tells whether the tx spends the given outpoint.
func (tx *Tx) HasInput(txid string, index uint32) bool {
	for _, in := range tx.Inputs {
		if in.TxId == txid && in.Index == index {
			return true
		}
	}
	return false
}

// IsFullySigned tells whether every input carries a witness.
func (tx *Tx) IsFullySigned() bool {
	for _, in := range tx.Inputs {
		if len(in.Witness) == 0 {
			return false
		}
	}
	return len(tx.Inputs) > 0
}

// SumOutputs ...
func (tx *Tx) SumOutputs() uint64 {
	var sum uint64
	for _, out := range tx.Outputs {
		sum += out.Value
	}
	return sum
}

// AddressScript returns the output script paying to the given address.
func AddressScript(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", address, err)
	}
	return txscript.PayToAddrScript(addr)
}

// MultisigScript returns the 2-of-2 witness script of buyer and seller keys
// and the P2WSH output script locking funds to it.
func MultisigScript(
	buyerPubKey, sellerPubKey []byte, params *chaincfg.Params,
) (witnessScript, pkScript []byte, err error) {
	buyer, err := btcutil.NewAddressPubKey(buyerPubKey, params)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid buyer pubkey: %w", err)
	}
	seller, err := btcutil.NewAddressPubKey(sellerPubKey, params)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid seller pubkey: %w", err)
	}
	witnessScript, err = txscript.MultiSigScript(
		[]*btcutil.AddressPubKey{buyer, seller}, 2,
	)
	if err != nil {
		return nil, nil, err
	}
	hash := sha256.Sum256(witnessScript)
	pkScript, err = txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(hash[:]).Script()
	if err != nil {
		return nil, nil, err
	}
	return witnessScript, pkScript, nil
}

// NullDataScript returns an OP_RETURN script carrying data.
func NullDataScript(data []byte) ([]byte, error) {
	return txscript.NullDataScript(data)
}

// NullData returns the data pushed by an OP_RETURN script.
func NullData(script []byte) ([]byte, bool) {
	if len(script) == 0 || script[0] != txscript.OP_RETURN {
		return nil, false
	}
	tokenizer := txscript.MakeScriptTokenizer(0, script[1:])
	if !tokenizer.Next() {
		return nil, false
	}
	return tokenizer.Data(), true
}
