package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/naoina/toml"
)

// Well-known session addresses. These are fixed protocol constants of
// the sandbox: the controller account that privileged operations are
// dispatched through, the default transaction sender, and the address
// the default test contract is deployed to.
var (
	// CheatcodeAddress is the account privileged operations are called on.
	CheatcodeAddress = common.HexToAddress("0x7109709ECfa91a80626fF3989D68f67F5b1DD12D")

	// DefaultSender is the sender used when a transaction carries no caller.
	DefaultSender = common.HexToAddress("0x1804c8AB1F12E6bbf3894d4083f33e07309d1f38")

	// DefaultTestContract is the address the default test contract lives at.
	DefaultTestContract = common.HexToAddress("0xb4c79daB8f259C7Aee6E5b2Aa729821864227e84")

	// SystemSender marks chain-internal transactions during replay; such
	// transactions lack normal pricing fields and are skipped.
	SystemSender = common.HexToAddress("0xDeaDDEaDDeAdDeAdDEAdDEaddeAddEAdDEAd0001")
)

// SystemTransactionType is the transaction type used by chain-internal
// (deposit style) transactions; replay skips these.
const SystemTransactionType = uint8(0x7e)

// NumPrecompiles is the highest precompile address considered reserved.
const NumPrecompiles = 10

// IsPrecompile reports whether addr falls into the reserved precompile
// range 0x01..NumPrecompiles.
func IsPrecompile(addr common.Address) bool {
	for _, b := range addr[:18] {
		if b != 0 {
			return false
		}
	}
	n := uint16(addr[18])<<8 | uint16(addr[19])
	return n >= 1 && n <= NumPrecompiles
}

// Config carries the sandbox session settings.
type Config struct {
	// EthRpcUrl is the default endpoint used when a fork creation
	// request names no endpoint of its own.
	EthRpcUrl string

	// ChainID of the local (non-forked) environment.
	ChainID uint64

	// Sender is the session caller address.
	Sender common.Address

	// GasLimit applied to the local block environment.
	GasLimit uint64

	// RequestTimeout bounds every remote fetch call.
	RequestTimeout time.Duration

	// CacheSize caps the per-identity LRU caches of the fetch layer.
	CacheSize int
}

// DefaultConfig returns the session defaults used by tests and the CLI.
func DefaultConfig() *Config {
	return &Config{
		ChainID:        31337,
		Sender:         DefaultSender,
		GasLimit:       30_000_000,
		RequestTimeout: 45 * time.Second,
		CacheSize:      4096,
	}
}

// tomlConfig is the on-disk shape; addresses are hex strings.
type tomlConfig struct {
	EthRpcUrl      string
	ChainID        uint64
	Sender         string
	GasLimit       uint64
	RequestTimeout string
	CacheSize      int
}

// Load reads a TOML config file and overlays it on the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var raw tomlConfig
	if err := toml.NewDecoder(file).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	if raw.EthRpcUrl != "" {
		cfg.EthRpcUrl = raw.EthRpcUrl
	}
	if raw.ChainID != 0 {
		cfg.ChainID = raw.ChainID
	}
	if raw.Sender != "" {
		if !common.IsHexAddress(raw.Sender) {
			return nil, fmt.Errorf("invalid sender address: %s", raw.Sender)
		}
		cfg.Sender = common.HexToAddress(raw.Sender)
	}
	if raw.GasLimit != 0 {
		cfg.GasLimit = raw.GasLimit
	}
	if raw.RequestTimeout != "" {
		d, err := time.ParseDuration(raw.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid request timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if raw.CacheSize != 0 {
		cfg.CacheSize = raw.CacheSize
	}
	return cfg, nil
}
