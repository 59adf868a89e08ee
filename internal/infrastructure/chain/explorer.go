// Package chain implements the access to the bitcoin network on top of a
// block explorer.
package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
	"github.com/tdex-network/tdex-p2ptrade/pkg/crawler"
	"github.com/tdex-network/tdex-p2ptrade/pkg/explorer"
	"github.com/tdex-network/tdex-p2ptrade/pkg/txutil"
)

// ExplorerChain is a ports.ChainService and a crawler.ChainSource backed by
// an explorer.
type ExplorerChain struct {
	explorer explorer.Service
	network  *chaincfg.Params
}

func NewExplorerChain(
	svc explorer.Service, network *chaincfg.Params,
) (*ExplorerChain, error) {
	if svc == nil {
		return nil, fmt.Errorf("missing explorer")
	}
	if network == nil {
		return nil, fmt.Errorf("missing network")
	}
	return &ExplorerChain{svc, network}, nil
}

func (c *ExplorerChain) GetUnspents(
	_ context.Context, address string,
) ([]ports.Utxo, error) {
	script, err := txutil.AddressScript(address, c.network)
	if err != nil {
		return nil, err
	}
	utxos, err := c.explorer.GetUnspents(address)
	if err != nil {
		return nil, err
	}

	res := make([]ports.Utxo, 0, len(utxos))
	for _, u := range utxos {
		res = append(res, ports.Utxo{
			TxId:      u.TxId,
			Index:     u.Index,
			Value:     u.Value,
			PkScript:  script,
			Confirmed: u.Confirmed,
		})
	}
	return res, nil
}

func (c *ExplorerChain) GetTransaction(_ context.Context, txid string) ([]byte, error) {
	txhex, err := c.explorer.GetTransactionHex(txid)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(txhex)
}

func (c *ExplorerChain) GetTxConfidence(
	_ context.Context, txid string,
) (ports.TxConfidence, error) {
	status, err := c.explorer.GetTransactionStatus(txid)
	if err != nil {
		if errors.Is(err, explorer.ErrTxNotFound) {
			return ports.TxConfidence{}, nil
		}
		return ports.TxConfidence{}, err
	}
	if !status.Confirmed {
		return ports.TxConfidence{Found: true}, nil
	}

	tip, err := c.explorer.GetBlockHeight()
	if err != nil {
		return ports.TxConfidence{}, err
	}
	confirmations := uint32(1)
	if tip >= status.BlockHeight {
		confirmations = uint32(tip-status.BlockHeight) + 1
	}
	return ports.TxConfidence{
		Found:         true,
		Confirmations: confirmations,
		BlockHeight:   uint32(status.BlockHeight),
		BlockTime:     status.BlockTime,
	}, nil
}

func (c *ExplorerChain) BroadcastTransaction(
	_ context.Context, tx []byte,
) (string, error) {
	return c.explorer.BroadcastTransaction(hex.EncodeToString(tx))
}

func (c *ExplorerChain) GetBlockHeight(_ context.Context) (uint32, error) {
	height, err := c.explorer.GetBlockHeight()
	if err != nil {
		return 0, err
	}
	return uint32(height), nil
}

// GetTxStatus makes the chain a source for the crawler.
func (c *ExplorerChain) GetTxStatus(
	ctx context.Context, txid string,
) (crawler.TxStatus, error) {
	conf, err := c.GetTxConfidence(ctx, txid)
	if err != nil {
		return crawler.TxStatus{}, err
	}
	return crawler.TxStatus(conf), nil
}
