package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"stableswap/pkg/history"
	"stableswap/pkg/tokens"
	"stableswap/pkg/types"
)

// Price source names accepted by price.source
const (
	SourceUniswap  = "uniswap"
	SourceOneClick = "oneclick"
)

// CacheConfig configures the price cache
type CacheConfig struct {
	TTL           time.Duration
	PollInterval  time.Duration
	FetchTimeout  time.Duration
	MaxEntries    int
	RateLimit     float64
	RateBurst     int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// SwapConfig holds orchestration defaults
type SwapConfig struct {
	SlippageBps    uint32
	DeadlineOffset time.Duration
	ReadTimeout    time.Duration
	ReceiptPoll    time.Duration
}

// TokenConfig is an allow-list extension entry
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Name     string `mapstructure:"name"`
	Decimals uint8  `mapstructure:"decimals"`
	ChainID  int64  `mapstructure:"chain_id"`
}

// Config holds the application configuration
type Config struct {
	RPCURL           string
	ChainID          int64
	PrivateKey       string
	SwapContract     string
	Router           string
	Factory          string
	PairInitCodeHash string

	Cache CacheConfig
	Swap  SwapConfig

	PriceSource       string
	OneClickJWT       string
	OneClickRecipient string

	HistoryPath string
	LogLevel    string
	LogFile     string
	MetricsAddr string

	Tokens []TokenConfig
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("chain_id", tokens.Mainnet)

	v.SetDefault("cache.ttl", 14*time.Second)
	v.SetDefault("cache.poll_interval", 15*time.Second)
	v.SetDefault("cache.fetch_timeout", 10*time.Second)
	v.SetDefault("cache.max_entries", 0)
	v.SetDefault("cache.rate_limit", 2.0)
	v.SetDefault("cache.rate_burst", 1)
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("swap.slippage_bps", 50)
	v.SetDefault("swap.deadline_offset", 20*time.Minute)
	v.SetDefault("swap.read_timeout", 10*time.Second)
	v.SetDefault("swap.receipt_poll", 2*time.Second)

	v.SetDefault("price.source", SourceUniswap)
	v.SetDefault("history.path", defaultHistoryPath())
	v.SetDefault("log.level", "info")
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".stableswap")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	return LoadFrom(viper.GetViper())
}

// LoadFrom builds a Config from v, applying defaults and STABLESWAP_ env
// overrides. A missing config file is not an error.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("STABLESWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		RPCURL:           v.GetString("rpc_url"),
		ChainID:          v.GetInt64("chain_id"),
		PrivateKey:       v.GetString("private_key"),
		SwapContract:     v.GetString("swap_contract"),
		Router:           v.GetString("router"),
		Factory:          v.GetString("factory"),
		PairInitCodeHash: v.GetString("pair_init_code_hash"),
		Cache: CacheConfig{
			TTL:           v.GetDuration("cache.ttl"),
			PollInterval:  v.GetDuration("cache.poll_interval"),
			FetchTimeout:  v.GetDuration("cache.fetch_timeout"),
			MaxEntries:    v.GetInt("cache.max_entries"),
			RateLimit:     v.GetFloat64("cache.rate_limit"),
			RateBurst:     v.GetInt("cache.rate_burst"),
			RedisAddr:     v.GetString("cache.redis_addr"),
			RedisPassword: v.GetString("cache.redis_password"),
			RedisDB:       v.GetInt("cache.redis_db"),
		},
		Swap: SwapConfig{
			SlippageBps:    v.GetUint32("swap.slippage_bps"),
			DeadlineOffset: v.GetDuration("swap.deadline_offset"),
			ReadTimeout:    v.GetDuration("swap.read_timeout"),
			ReceiptPoll:    v.GetDuration("swap.receipt_poll"),
		},
		PriceSource:       strings.ToLower(v.GetString("price.source")),
		OneClickJWT:       v.GetString("oneclick.jwt_token"),
		OneClickRecipient: v.GetString("oneclick.recipient"),
		HistoryPath:       v.GetString("history.path"),
		LogLevel:          v.GetString("log.level"),
		LogFile:           v.GetString("log.file"),
		MetricsAddr:       v.GetString("metrics.addr"),
	}
	if err := v.UnmarshalKey("tokens", &cfg.Tokens); err != nil {
		return nil, fmt.Errorf("parse tokens: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and address formats. Values only needed for
// writes (rpc_url, private_key, swap_contract) are checked by RequireSwap.
func (c *Config) Validate() error {
	if c.ChainID <= 0 {
		return fmt.Errorf("chain_id must be positive, got %d", c.ChainID)
	}
	if c.Swap.SlippageBps < 1 || c.Swap.SlippageBps >= 10_000 {
		return fmt.Errorf("swap.slippage_bps must be in [1, 10000), got %d", c.Swap.SlippageBps)
	}
	durations := map[string]time.Duration{
		"cache.ttl":           c.Cache.TTL,
		"cache.poll_interval": c.Cache.PollInterval,
		"cache.fetch_timeout": c.Cache.FetchTimeout,
		"swap.read_timeout":   c.Swap.ReadTimeout,
		"swap.receipt_poll":   c.Swap.ReceiptPoll,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Swap.DeadlineOffset < time.Second {
		return fmt.Errorf("swap.deadline_offset must be at least 1s, got %s", c.Swap.DeadlineOffset)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}
	if c.Cache.RateLimit < 0 {
		return fmt.Errorf("cache.rate_limit must not be negative")
	}

	for name, addr := range map[string]string{
		"swap_contract": c.SwapContract,
		"router":        c.Router,
		"factory":       c.Factory,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not a valid address: %q", name, addr)
		}
	}
	if c.PairInitCodeHash != "" && len(common.FromHex(c.PairInitCodeHash)) != common.HashLength {
		return fmt.Errorf("pair_init_code_hash must be 32 bytes")
	}

	switch c.PriceSource {
	case SourceUniswap:
	case SourceOneClick:
		if c.OneClickJWT == "" {
			return fmt.Errorf("oneclick.jwt_token is required when price.source is %q", SourceOneClick)
		}
	default:
		return fmt.Errorf("unknown price.source %q", c.PriceSource)
	}

	for i, t := range c.Tokens {
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("tokens[%d]: invalid address %q", i, t.Address)
		}
		if t.Symbol == "" {
			return fmt.Errorf("tokens[%d]: symbol is required", i)
		}
	}
	return nil
}

// RequireSwap checks the settings a swap needs beyond read-only pricing
func (c *Config) RequireSwap() error {
	switch {
	case c.RPCURL == "":
		return fmt.Errorf("rpc_url not set. Please set STABLESWAP_RPC_URL or add it to .stableswap.yaml")
	case c.PrivateKey == "":
		return fmt.Errorf("private_key not set. Please set STABLESWAP_PRIVATE_KEY or add it to .stableswap.yaml")
	case c.SwapContract == "":
		return fmt.Errorf("swap_contract not set. Please set STABLESWAP_SWAP_CONTRACT or add it to .stableswap.yaml")
	}
	return nil
}

// AllowList returns the built-in allow-list extended with configured tokens
func (c *Config) AllowList() (*tokens.AllowList, error) {
	al := tokens.Default()
	for _, t := range c.Tokens {
		chainID := t.ChainID
		if chainID == 0 {
			chainID = c.ChainID
		}
		name := t.Name
		if name == "" {
			name = t.Symbol
		}
		err := al.AddToken(types.Token{
			Address:  common.HexToAddress(t.Address),
			Symbol:   strings.ToUpper(t.Symbol),
			Name:     name,
			Decimals: t.Decimals,
			ChainID:  chainID,
		})
		if err != nil {
			return nil, err
		}
	}
	return al, nil
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return history.DefaultStorageFileName
	}
	return filepath.Join(home, history.DefaultStorageFileName)
}
