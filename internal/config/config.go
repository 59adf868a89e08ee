package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

const (
	// DatadirKey is the local data directory to store the internal state of daemon
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// NetworkKey is the bitcoin network, one of mainnet, testnet, regtest
	NetworkKey = "NETWORK"
	// SeedKey is the hex encoded seed of the wallet and of the node identity
	SeedKey = "SEED"
	// DBTypeKey is used to switch database type between those supported
	DBTypeKey = "DB_TYPE"
	// P2PListenAddrKey is the multiaddr the libp2p host listens on
	P2PListenAddrKey = "P2P_LISTEN_ADDR"
	// NatsURLKey is the url of the NATS server hosting the mailboxes. The
	// mailbox fallback is disabled if not set
	NatsURLKey = "NATS_URL"
	// MailboxBucketKey is the name of the JetStream bucket of the mailboxes
	MailboxBucketKey = "MAILBOX_BUCKET"
	// ExplorerURLKey is the endpoint of the esplora REST API
	ExplorerURLKey = "EXPLORER_URL"
	// ExplorerRateLimitKey is the max number of requests per second made to
	// the explorer
	ExplorerRateLimitKey = "EXPLORER_RATE_LIMIT"
	// ExplorerRequestTimeoutKey is the timeout of every explorer request
	ExplorerRequestTimeoutKey = "EXPLORER_REQUEST_TIMEOUT"
	// OperatorListeningPortKey is the port where the HTTP Operator interface will listen on
	OperatorListeningPortKey = "OPERATOR_LISTENING_PORT"
	// LockTimeDeltaKey is the number of blocks after which the delayed
	// payout tx can be published
	LockTimeDeltaKey = "LOCK_TIME_DELTA"
	// ConfirmationsKey is the number of confirmations for a deposit tx to be
	// considered confirmed
	ConfirmationsKey = "CONFIRMATIONS"
	// ChainPollIntervalKey is the interval between two checks of the watched txs
	ChainPollIntervalKey = "CHAIN_POLL_INTERVAL"
	// TxFeeSatsPerVbyteKey is the fee rate of the txs built by the wallet
	TxFeeSatsPerVbyteKey = "TX_FEE_SATS_PER_VBYTE"
	// TxFeeKey is the mining fee in sats reserved for the deposit and payout
	// txs of a multisig trade, or for the swap tx
	TxFeeKey = "TX_FEE"
	// TakerFeeKey is the fee in sats paid by the taker of a multisig trade
	TakerFeeKey = "TAKER_FEE"
	// FeeReceiverAddressKey is the address receiving the taker fees
	FeeReceiverAddressKey = "FEE_RECEIVER_ADDRESS"
	// MediatorsKey is the list of accepted mediators in the form
	// <node address>,<sig pubkey>,<enc pubkey>,<payout address> separated by ;
	MediatorsKey = "MEDIATORS"
	// RefundAgentsKey is the list of accepted refund agents, same format of
	// MediatorsKey
	RefundAgentsKey = "REFUND_AGENTS"
	// AvailabilityTimeoutKey is how long a taker waits for the maker to
	// confirm an offer is available
	AvailabilityTimeoutKey = "AVAILABILITY_TIMEOUT"
	// MaxUnconfirmedOutputsKey is the max number of unconfirmed outputs of
	// the funding address of an offer to take it
	MaxUnconfirmedOutputsKey = "MAX_UNCONFIRMED_OUTPUTS"
	// ShareAccountResendDelayKey overrides the first resend delay of the
	// message sharing the buyer payment account
	ShareAccountResendDelayKey = "SHARE_ACCOUNT_RESEND_DELAY"
	// PaymentStartedResendDelayKey overrides the first resend delay of the
	// message notifying the seller that the payment started
	PaymentStartedResendDelayKey = "PAYMENT_STARTED_RESEND_DELAY"
	// EnableProfilerKey enables profiler that can be used to investigate performance issues
	EnableProfilerKey = "ENABLE_PROFILER"
	// StatsIntervalKey defines interval for printing basic stats
	StatsIntervalKey = "STATS_INTERVAL"

	DbLocation       = "db"
	ProfilerLocation = "stats"

	DBBadger   = "badger"
	DBInMemory = "inmemory"

	agentSeparator = ";"
)

var (
	vip            *viper.Viper
	defaultDatadir = btcutil.AppDataDir("p2ptrade", false)

	networks = map[string]*chaincfg.Params{
		chaincfg.MainNetParams.Name:       &chaincfg.MainNetParams,
		chaincfg.TestNet3Params.Name:      &chaincfg.TestNet3Params,
		chaincfg.RegressionNetParams.Name: &chaincfg.RegressionNetParams,
		chaincfg.SigNetParams.Name:        &chaincfg.SigNetParams,
	}
)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("P2PTRADE")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(NetworkKey, chaincfg.MainNetParams.Name)
	vip.SetDefault(DBTypeKey, DBBadger)
	vip.SetDefault(P2PListenAddrKey, "/ip4/0.0.0.0/tcp/9945")
	vip.SetDefault(MailboxBucketKey, "p2ptrade-mailbox")
	vip.SetDefault(ExplorerURLKey, "https://blockstream.info/api")
	vip.SetDefault(ExplorerRateLimitKey, 10)
	vip.SetDefault(ExplorerRequestTimeoutKey, 15*time.Second)
	vip.SetDefault(OperatorListeningPortKey, 9000)
	vip.SetDefault(LockTimeDeltaKey, 4320)
	vip.SetDefault(ConfirmationsKey, 1)
	vip.SetDefault(ChainPollIntervalKey, 10*time.Second)
	vip.SetDefault(TxFeeSatsPerVbyteKey, 2)
	vip.SetDefault(TxFeeKey, 5000)
	vip.SetDefault(TakerFeeKey, 10000)
	vip.SetDefault(AvailabilityTimeoutKey, 30*time.Second)
	vip.SetDefault(MaxUnconfirmedOutputsKey, 20)
	vip.SetDefault(ShareAccountResendDelayKey, 4*time.Second)
	vip.SetDefault(PaymentStartedResendDelayKey, 15*time.Minute)
	vip.SetDefault(EnableProfilerKey, false)
	vip.SetDefault(StatsIntervalKey, 600)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetUint64(key string) uint64 {
	return vip.GetUint64(key)
}

func GetUint32(key string) uint32 {
	return vip.GetUint32(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

// GetNetwork returns the chain params of the configured network.
func GetNetwork() *chaincfg.Params {
	return networks[GetString(NetworkKey)]
}

// GetSeed returns the decoded seed.
func GetSeed() []byte {
	seed, _ := hex.DecodeString(GetString(SeedKey))
	return seed
}

// GetAgents returns the entries of a list of dispute agents.
func GetAgents(key string) []string {
	str := GetString(key)
	if str == "" {
		return nil
	}
	return strings.Split(str, agentSeparator)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	if GetNetwork() == nil {
		return fmt.Errorf("unknown network %s", GetString(NetworkKey))
	}

	seed, err := hex.DecodeString(GetString(SeedKey))
	if err != nil {
		return fmt.Errorf("seed must be in hex format")
	}
	if len(seed) < 16 || len(seed) > 64 {
		return fmt.Errorf("seed must be between 16 and 64 bytes")
	}

	dbType := GetString(DBTypeKey)
	if dbType != DBBadger && dbType != DBInMemory {
		return fmt.Errorf(
			"%s must be one of %s, %s", DBTypeKey, DBBadger, DBInMemory,
		)
	}

	if _, err := btcutil.DecodeAddress(
		GetString(FeeReceiverAddressKey), GetNetwork(),
	); err != nil {
		return fmt.Errorf("invalid fee receiver address: %s", err)
	}

	if len(GetAgents(MediatorsKey)) <= 0 {
		return fmt.Errorf("missing mediators")
	}
	if len(GetAgents(RefundAgentsKey)) <= 0 {
		return fmt.Errorf("missing refund agents")
	}

	if GetUint64(TxFeeKey) == 0 {
		return fmt.Errorf("%s must be greater than 0", TxFeeKey)
	}
	if GetUint32(ConfirmationsKey) == 0 {
		return fmt.Errorf("%s must be greater than 0", ConfirmationsKey)
	}
	if GetUint32(LockTimeDeltaKey) == 0 {
		return fmt.Errorf("%s must be greater than 0", LockTimeDeltaKey)
	}

	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
		return err
	}

	profilerEnabled := GetBool(EnableProfilerKey)
	if profilerEnabled {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, ProfilerLocation)); err != nil {
			return err
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
