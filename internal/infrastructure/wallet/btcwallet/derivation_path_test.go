package btcwallet_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/infrastructure/wallet/btcwallet"
)

func TestParseDerivationPath(t *testing.T) {
	h := uint32(hdkeychain.HardenedKeyStart)

	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			path     string
			expected btcwallet.DerivationPath
			str      string
		}{
			{"m/84'/1'/0'/0", btcwallet.DerivationPath{h + 84, h + 1, h, 0}, "m/84'/1'/0'/0"},
			{"84'/0'/0'/1", btcwallet.DerivationPath{h + 84, h, h, 1}, "m/84'/0'/0'/1"},
			{"m/0x10/ 2 ", btcwallet.DerivationPath{16, 2}, "m/16/2"},
		}

		for _, tt := range tests {
			tt := tt
			t.Run(tt.path, func(t *testing.T) {
				path, err := btcwallet.ParseDerivationPath(tt.path)
				require.NoError(t, err)
				require.Equal(t, tt.expected, path)
				require.Equal(t, tt.str, path.String())
			})
		}
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			path        string
			expectedErr error
		}{
			{"", btcwallet.ErrNullDerivationPath},
			{"m", btcwallet.ErrMalformedDerivationPath},
			{"m/84'//0", btcwallet.ErrMalformedDerivationPath},
		}

		for _, tt := range tests {
			tt := tt
			t.Run(tt.path, func(t *testing.T) {
				_, err := btcwallet.ParseDerivationPath(tt.path)
				require.ErrorIs(t, err, tt.expectedErr)
			})
		}

		for _, path := range []string{"m/abc", "m/-1", "m/4294967296", "m/2147483648'"} {
			_, err := btcwallet.ParseDerivationPath(path)
			require.Error(t, err, path)
		}
	})

	t.Run("default", func(t *testing.T) {
		path := btcwallet.DefaultDerivationPath(&chaincfg.RegressionNetParams)
		require.Equal(t, "m/84'/1'/0'/0", path.String())
	})
}
