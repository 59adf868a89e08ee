package config_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/internal/config"
	"github.com/thanhpk/randstr"
)

func TestInitConfig(t *testing.T) {
	feeAddress, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	valid := map[string]string{
		"P2PTRADE_NETWORK":              "regtest",
		"P2PTRADE_SEED":                 randstr.Hex(64),
		"P2PTRADE_FEE_RECEIVER_ADDRESS": feeAddress.EncodeAddress(),
		"P2PTRADE_MEDIATORS":            "/memory/mediator,02aa,03bb,bcrt1qmediator",
		"P2PTRADE_REFUND_AGENTS":        "/memory/agent1,02aa,03bb,bcrt1qa;/memory/agent2,02cc,03dd,bcrt1qb",
	}

	tests := []struct {
		name     string
		override map[string]string
		wantErr  bool
	}{
		{name: "valid"},
		{
			name:     "unknown_network",
			override: map[string]string{"P2PTRADE_NETWORK": "liquid"},
			wantErr:  true,
		},
		{
			name:     "seed_not_hex",
			override: map[string]string{"P2PTRADE_SEED": "not a seed"},
			wantErr:  true,
		},
		{
			name:     "seed_too_short",
			override: map[string]string{"P2PTRADE_SEED": randstr.Hex(8)},
			wantErr:  true,
		},
		{
			name:     "unknown_db_type",
			override: map[string]string{"P2PTRADE_DB_TYPE": "postgres"},
			wantErr:  true,
		},
		{
			name:     "fee_address_of_other_network",
			override: map[string]string{"P2PTRADE_NETWORK": "mainnet"},
			wantErr:  true,
		},
		{
			name:     "missing_mediators",
			override: map[string]string{"P2PTRADE_MEDIATORS": ""},
			wantErr:  true,
		},
		{
			name:     "missing_tx_fee",
			override: map[string]string{"P2PTRADE_TX_FEE": "0"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("P2PTRADE_DATADIR", t.TempDir())
			for k, v := range valid {
				t.Setenv(k, v)
			}
			for k, v := range tt.override {
				t.Setenv(k, v)
			}

			err := config.InitConfig()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, &chaincfg.RegressionNetParams, config.GetNetwork())
			require.Len(t, config.GetSeed(), 32)
			require.Len(t, config.GetAgents(config.RefundAgentsKey), 2)
			require.Equal(t, config.DBBadger, config.GetString(config.DBTypeKey))
			require.DirExists(t, config.GetDatadir()+"/"+config.DbLocation)
		})
	}
}
