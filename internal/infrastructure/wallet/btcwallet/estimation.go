package btcwallet

import "github.com/btcsuite/btcd/wire"

const (
	// hash + index + sequence + empty script sig
	inputBaseSize = 32 + 4 + 4 + 1
	// value + script len
	outputBaseSize = 8 + 1
	// len + sig + len + pubkey, plus the item count
	p2wpkhWitnessSize = 1 + 1 + 72 + 1 + 33
	// version + locktime
	txOverhead = 4 + 4
	// segwit marker and flag
	segwitOverhead = 2
)

// estimateVirtualSize estimates the vsize of a tx spending numInputs P2WPKH
// inputs to the given output scripts.
func estimateVirtualSize(numInputs int, outScripts [][]byte) int {
	baseSize := txOverhead +
		wire.VarIntSerializeSize(uint64(numInputs)) +
		wire.VarIntSerializeSize(uint64(len(outScripts))) +
		numInputs*inputBaseSize
	for _, script := range outScripts {
		baseSize += outputBaseSize + len(script)
	}
	totalSize := baseSize + segwitOverhead + numInputs*p2wpkhWitnessSize

	weight := baseSize*3 + totalSize
	return (weight + 3) / 4
}
