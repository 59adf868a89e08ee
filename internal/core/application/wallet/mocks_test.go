package wallet_test

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/mock"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
)

// **** Keychain ****

type mockKeychain struct {
	mock.Mock
}

func (m *mockKeychain) DeriveKey(index uint32) (ports.KeyInfo, error) {
	args := m.Called(index)

	var res ports.KeyInfo
	if rf, ok := args.Get(0).(func(uint32) ports.KeyInfo); ok {
		res = rf(index)
	} else if a := args.Get(0); a != nil {
		res = a.(ports.KeyInfo)
	}
	return res, args.Error(1)
}

// newKeychain returns a keychain deriving a deterministic key for any index.
func newKeychain() *mockKeychain {
	kc := &mockKeychain{}
	kc.On("DeriveKey", mock.Anything).Return(
		func(index uint32) ports.KeyInfo {
			return ports.KeyInfo{
				Index:   index,
				PubKey:  []byte{0x02, byte(index >> 8), byte(index)},
				Address: fmt.Sprintf("bcrt1qaddress%d", index),
			}
		},
		nil,
	)
	return kc
}

// **** Chain ****

type mockChain struct {
	mock.Mock
}

func (m *mockChain) GetUnspents(
	ctx context.Context, address string,
) ([]ports.Utxo, error) {
	args := m.Called(ctx, address)

	var res []ports.Utxo
	if a := args.Get(0); a != nil {
		res = a.([]ports.Utxo)
	}
	return res, args.Error(1)
}

func (m *mockChain) GetTransaction(
	ctx context.Context, txid string,
) ([]byte, error) {
	args := m.Called(ctx, txid)

	var res []byte
	if a := args.Get(0); a != nil {
		res = a.([]byte)
	}
	return res, args.Error(1)
}

func (m *mockChain) GetTxConfidence(
	ctx context.Context, txid string,
) (ports.TxConfidence, error) {
	args := m.Called(ctx, txid)

	var res ports.TxConfidence
	if a := args.Get(0); a != nil {
		res = a.(ports.TxConfidence)
	}
	return res, args.Error(1)
}

func (m *mockChain) BroadcastTransaction(
	ctx context.Context, tx []byte,
) (string, error) {
	args := m.Called(ctx, tx)
	return args.String(0), args.Error(1)
}

func (m *mockChain) GetBlockHeight(ctx context.Context) (uint32, error) {
	args := m.Called(ctx)

	var res uint32
	if a := args.Get(0); a != nil {
		res = a.(uint32)
	}
	return res, args.Error(1)
}
