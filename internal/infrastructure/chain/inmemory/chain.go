// Package inmemory implements a bitcoin chain held in memory: broadcast txs
// are fully validated against the utxo set and wait in the mempool until
// the next block is mined.
package inmemory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/tdex-network/tdex-p2ptrade/pkg/crawler"
	"github.com/tdex-network/tdex-p2ptrade/pkg/txutil"
)

var (
	// ErrTxNotFound ...
	ErrTxNotFound = errors.New("transaction not found")
	// ErrMissingInput is returned when a tx spends an unknown or already
	// spent output.
	ErrMissingInput = errors.New("missing or spent input")
	// ErrNonFinalTx is returned when a tx is broadcast before its lock time.
	ErrNonFinalTx = errors.New("non-final transaction")
	// ErrInvalidScript ...
	ErrInvalidScript = errors.New("script verification failed")
)

type txEntry struct {
	raw       []byte
	height    uint32
	blockTime int64
	inBlock   bool
}

// Chain is safe for concurrent use.
type Chain struct {
	network *chaincfg.Params

	lock   *sync.RWMutex
	height uint32
	txs    map[string]*txEntry
	utxos  map[wire.OutPoint]*wire.TxOut
}

func NewChain(network *chaincfg.Params) *Chain {
	if network == nil {
		network = &chaincfg.RegressionNetParams
	}
	return &Chain{
		network: network,
		lock:    &sync.RWMutex{},
		height:  100,
		txs:     make(map[string]*txEntry),
		utxos:   make(map[wire.OutPoint]*wire.TxOut),
	}
}

// Fund creates a mined tx paying value to address and returns its id.
func (c *Chain) Fund(address string, value uint64) (string, error) {
	script, err := txutil.AddressScript(address, c.network)
	if err != nil {
		return "", err
	}

	var prevHash chainhash.Hash
	if _, err := rand.Read(prevHash[:]); err != nil {
		return "", err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(value), script))
	raw, err := txutil.Serialize(tx)
	if err != nil {
		return "", err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.height++
	txid := tx.TxHash()
	c.txs[txid.String()] = &txEntry{
		raw: raw, height: c.height, blockTime: time.Now().Unix(), inBlock: true,
	}
	c.utxos[*wire.NewOutPoint(&txid, 0)] = tx.TxOut[0]
	return txid.String(), nil
}

// Mine confirms all txs of the mempool in numBlocks new blocks.
func (c *Chain) Mine(numBlocks uint32) {
	if numBlocks == 0 {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.height++
	now := time.Now().Unix()
	for _, tx := range c.txs {
		if !tx.inBlock {
			tx.inBlock = true
			tx.height = c.height
			tx.blockTime = now
		}
	}
	c.height += numBlocks - 1
}

// IsInMempool ...
func (c *Chain) IsInMempool(txid string) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()

	tx, ok := c.txs[txid]
	return ok && !tx.inBlock
}

func (c *Chain) GetUnspents(_ context.Context, address string) ([]ports.Utxo, error) {
	script, err := txutil.AddressScript(address, c.network)
	if err != nil {
		return nil, err
	}

	c.lock.RLock()
	defer c.lock.RUnlock()

	utxos := make([]ports.Utxo, 0)
	for outpoint, out := range c.utxos {
		if string(out.PkScript) != string(script) {
			continue
		}
		txid := outpoint.Hash.String()
		utxos = append(utxos, ports.Utxo{
			TxId:      txid,
			Index:     outpoint.Index,
			Value:     uint64(out.Value),
			PkScript:  out.PkScript,
			Confirmed: c.txs[txid].inBlock,
		})
	}
	return utxos, nil
}

func (c *Chain) GetTransaction(_ context.Context, txid string) ([]byte, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	tx, ok := c.txs[txid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
	}
	return tx.raw, nil
}

func (c *Chain) GetTxConfidence(
	_ context.Context, txid string,
) (ports.TxConfidence, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	tx, ok := c.txs[txid]
	if !ok {
		return ports.TxConfidence{}, nil
	}
	if !tx.inBlock {
		return ports.TxConfidence{Found: true}, nil
	}
	return ports.TxConfidence{
		Found:         true,
		Confirmations: c.height - tx.height + 1,
		BlockHeight:   tx.height,
		BlockTime:     tx.blockTime,
	}, nil
}

// BroadcastTransaction validates the tx against the utxo set and adds it to
// the mempool. Broadcasting a known tx is a no-op.
func (c *Chain) BroadcastTransaction(_ context.Context, raw []byte) (string, error) {
	tx, err := txutil.Deserialize(raw)
	if err != nil {
		return "", err
	}
	txid := tx.TxHash()

	c.lock.Lock()
	defer c.lock.Unlock()

	if _, ok := c.txs[txid.String()]; ok {
		return txid.String(), nil
	}
	if err := c.validate(tx); err != nil {
		return "", err
	}

	for _, in := range tx.TxIn {
		delete(c.utxos, in.PreviousOutPoint)
	}
	for i, out := range tx.TxOut {
		if txscript.GetScriptClass(out.PkScript) == txscript.NullDataTy {
			continue
		}
		c.utxos[*wire.NewOutPoint(&txid, uint32(i))] = out
	}
	c.txs[txid.String()] = &txEntry{raw: raw}

	log.Debugf("tx %s added to mempool", txid)
	return txid.String(), nil
}

func (c *Chain) GetBlockHeight(_ context.Context) (uint32, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.height, nil
}

// GetTxStatus makes the chain a source for the crawler.
func (c *Chain) GetTxStatus(ctx context.Context, txid string) (crawler.TxStatus, error) {
	conf, err := c.GetTxConfidence(ctx, txid)
	if err != nil {
		return crawler.TxStatus{}, err
	}
	return crawler.TxStatus(conf), nil
}

func (c *Chain) validate(tx *wire.MsgTx) error {
	if tx.LockTime > c.height {
		for _, in := range tx.TxIn {
			if in.Sequence != wire.MaxTxInSequenceNum {
				return fmt.Errorf(
					"%w: locked until block %d, tip is %d", ErrNonFinalTx, tx.LockTime, c.height,
				)
			}
		}
	}

	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	var inputsValue int64
	for _, in := range tx.TxIn {
		out, ok := c.utxos[in.PreviousOutPoint]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingInput, in.PreviousOutPoint)
		}
		prevOuts.AddPrevOut(in.PreviousOutPoint, out)
		inputsValue += out.Value
	}
	var outputsValue int64
	for _, out := range tx.TxOut {
		outputsValue += out.Value
	}
	if outputsValue > inputsValue {
		return fmt.Errorf("outputs exceed inputs by %d sats", outputsValue-inputsValue)
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)
	for i, in := range tx.TxIn {
		out := prevOuts.FetchPrevOutput(in.PreviousOutPoint)
		engine, err := txscript.NewEngine(
			out.PkScript, tx, i, txscript.StandardVerifyFlags, nil,
			sigHashes, out.Value, prevOuts,
		)
		if err != nil {
			return fmt.Errorf("%w: input %d: %s", ErrInvalidScript, i, err)
		}
		if err := engine.Execute(); err != nil {
			return fmt.Errorf("%w: input %d: %s", ErrInvalidScript, i, err)
		}
	}
	return nil
}
