package esplora

import "github.com/tdex-network/tdex-p2ptrade/pkg/explorer"

type txStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int    `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   int64  `json:"block_time"`
}

func (s txStatus) toStatus() *explorer.TransactionStatus {
	if !s.Confirmed {
		return &explorer.TransactionStatus{BlockHeight: -1}
	}
	return &explorer.TransactionStatus{
		Confirmed:   true,
		BlockHash:   s.BlockHash,
		BlockHeight: s.BlockHeight,
		BlockTime:   s.BlockTime,
	}
}

type utxo struct {
	TxId   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Value  uint64   `json:"value"`
	Status txStatus `json:"status"`
}

func (u utxo) toUtxo() explorer.Utxo {
	height := -1
	if u.Status.Confirmed {
		height = u.Status.BlockHeight
	}
	return explorer.Utxo{
		TxId:        u.TxId,
		Index:       u.Vout,
		Value:       u.Value,
		Confirmed:   u.Status.Confirmed,
		BlockHeight: height,
	}
}
