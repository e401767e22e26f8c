package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"onchainScreener/internal/erc20"
	"onchainScreener/internal/model"
)

// Source kinds for labels and rules.
const (
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

// ChainConfig describes one monitored chain.
type ChainConfig struct {
	Name    string       `mapstructure:"name"`
	WSURL   string       `mapstructure:"ws-url"`
	HTTPURL string       `mapstructure:"http-url"`
	Topics  []string     `mapstructure:"topics"`
	Watch   *WatchConfig `mapstructure:"watch"`
}

// WatchConfig is the watched-wallet fast path of a chain.
type WatchConfig struct {
	Wallets    []string     `mapstructure:"wallets"`
	EventName  string       `mapstructure:"event-name"`
	Direction  string       `mapstructure:"direction"`
	RecheckUSD float64      `mapstructure:"recheck-usd"`
	Tiers      []model.Tier `mapstructure:"tiers"`
}

type RelayConfig struct {
	URL               string
	ServiceType       string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

type PriceConfig struct {
	BaseURL          string
	APIKey           string
	Retries          int
	Timeout          time.Duration
	RateLimitRetries int
	RateLimitDelay   time.Duration
}

type NotifyConfig struct {
	TelegramToken string
	AlertsChatID  string
	ErrorsChatID  string
}

// Config holds the run command configuration loaded from flags, env, or config file.
type Config struct {
	LogLevel            string
	FiltersDir          string
	RulesFile           string
	TokenDataFile       string
	PGDSN               string
	LabelsSource        string
	RulesSource         string
	Archive             string
	CheckpointDir       string
	ResumeMaxLag        uint64
	MaxInFlight         int
	AddressBatchSize    int
	BlockCap            int
	ReconnectAttempts   int
	ReconnectDelay      time.Duration
	TokenReloadInterval time.Duration
	HTTPAddr            string
	ExchangeMatch       string
	ExchangeNames       []string

	Chains   []ChainConfig
	Tiers    map[model.EventKind][]model.Tier
	USDTiers []model.Tier
	Relay    RelayConfig
	Price    PriceConfig
	Notify   NotifyConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("filters-dir", "./database/filters")
	v.SetDefault("rules-file", "./database/custom_rules.json")
	v.SetDefault("token-data-file", "./database/token_data.json")
	v.SetDefault("labels-source", SourceFile)
	v.SetDefault("rules-source", SourceFile)
	v.SetDefault("archive", "./data/signals.jsonl")
	v.SetDefault("resume-max-lag", uint64(1000))
	v.SetDefault("max-in-flight", 64)
	v.SetDefault("address-batch-size", 500)
	v.SetDefault("block-cap", 5)
	v.SetDefault("reconnect-attempts", 10)
	v.SetDefault("reconnect-delay", 5*time.Second)
	v.SetDefault("token-reload-interval", 10*time.Minute)
	v.SetDefault("http-addr", ":9102")
	v.SetDefault("exchange-match", "first-word")

	v.SetDefault("relay.url", "ws://localhost:8765")
	v.SetDefault("relay.service-type", "onchain_screener")
	v.SetDefault("relay.reconnect-attempts", 10)
	v.SetDefault("relay.reconnect-delay", 5*time.Second)

	v.SetDefault("price.base-url", "https://pro-api.coingecko.com/api/v3")
	v.SetDefault("price.retries", 3)
	v.SetDefault("price.timeout", 30*time.Second)
	v.SetDefault("price.rate-limit-retries", 3)
	v.SetDefault("price.rate-limit-delay", 60*time.Second)

	v.SetDefault("notify.telegram-token", "")
	v.SetDefault("notify.alerts-chat-id", "")
	v.SetDefault("notify.errors-chat-id", "")
	v.SetDefault("pg-dsn", "")
	v.SetDefault("checkpoint-dir", "")
}

// newViper wires env, flags and the optional config file the same way for every command.
func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("SCREENER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// Load merges config file, environment variables, and flags into Config and validates it.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}
	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (Config, error) {
	setDefaults(v)

	cfg := Config{
		LogLevel:            v.GetString("log-level"),
		FiltersDir:          v.GetString("filters-dir"),
		RulesFile:           v.GetString("rules-file"),
		TokenDataFile:       v.GetString("token-data-file"),
		PGDSN:               v.GetString("pg-dsn"),
		LabelsSource:        strings.ToLower(v.GetString("labels-source")),
		RulesSource:         strings.ToLower(v.GetString("rules-source")),
		Archive:             v.GetString("archive"),
		CheckpointDir:       v.GetString("checkpoint-dir"),
		ResumeMaxLag:        v.GetUint64("resume-max-lag"),
		MaxInFlight:         v.GetInt("max-in-flight"),
		AddressBatchSize:    v.GetInt("address-batch-size"),
		BlockCap:            v.GetInt("block-cap"),
		ReconnectAttempts:   v.GetInt("reconnect-attempts"),
		ReconnectDelay:      v.GetDuration("reconnect-delay"),
		TokenReloadInterval: v.GetDuration("token-reload-interval"),
		HTTPAddr:            v.GetString("http-addr"),
		ExchangeMatch:       v.GetString("exchange-match"),
		ExchangeNames:       getStringSlice(v, "exchange-names"),
		Relay: RelayConfig{
			URL:               v.GetString("relay.url"),
			ServiceType:       v.GetString("relay.service-type"),
			ReconnectAttempts: v.GetInt("relay.reconnect-attempts"),
			ReconnectDelay:    v.GetDuration("relay.reconnect-delay"),
		},
		Price: PriceConfig{
			BaseURL:          v.GetString("price.base-url"),
			APIKey:           v.GetString("price.api-key"),
			Retries:          v.GetInt("price.retries"),
			Timeout:          v.GetDuration("price.timeout"),
			RateLimitRetries: v.GetInt("price.rate-limit-retries"),
			RateLimitDelay:   v.GetDuration("price.rate-limit-delay"),
		},
		Notify: NotifyConfig{
			TelegramToken: v.GetString("notify.telegram-token"),
			AlertsChatID:  v.GetString("notify.alerts-chat-id"),
			ErrorsChatID:  v.GetString("notify.errors-chat-id"),
		},
	}

	if err := v.UnmarshalKey("chains", &cfg.Chains); err != nil {
		return Config{}, fmt.Errorf("decode chains: %w", err)
	}
	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		c.Name = strings.ToUpper(strings.TrimSpace(c.Name))
		c.WSURL = os.ExpandEnv(c.WSURL)
		c.HTTPURL = os.ExpandEnv(c.HTTPURL)
	}

	var tiers map[string][]model.Tier
	if err := v.UnmarshalKey("tiers", &tiers); err != nil {
		return Config{}, fmt.Errorf("decode tiers: %w", err)
	}
	cfg.Tiers = make(map[model.EventKind][]model.Tier, len(tiers))
	for name, bands := range tiers {
		kind, err := model.ParseEventKind(name)
		if err != nil {
			return Config{}, fmt.Errorf("tiers: %w", err)
		}
		cfg.Tiers[kind] = bands
	}

	if err := v.UnmarshalKey("usd-tiers", &cfg.USDTiers); err != nil {
		return Config{}, fmt.Errorf("decode usd-tiers: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late at runtime.
func (c Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain is required")
	}
	seen := make(map[string]struct{}, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.Name == "" {
			return fmt.Errorf("chain name is required")
		}
		if _, dup := seen[chain.Name]; dup {
			return fmt.Errorf("duplicate chain %s", chain.Name)
		}
		seen[chain.Name] = struct{}{}

		if !strings.HasPrefix(chain.WSURL, "ws://") && !strings.HasPrefix(chain.WSURL, "wss://") {
			return fmt.Errorf("chain %s: ws-url must be a ws:// or wss:// endpoint", chain.Name)
		}
		if _, err := chain.TopicHashes(); err != nil {
			return fmt.Errorf("chain %s: %w", chain.Name, err)
		}
		if chain.Watch != nil {
			if err := chain.Watch.validate(); err != nil {
				return fmt.Errorf("chain %s: watch: %w", chain.Name, err)
			}
		}
	}

	if _, err := c.TierTables(); err != nil {
		return err
	}
	if _, err := c.USDTierTable(); err != nil {
		return err
	}

	for name, src := range map[string]string{"labels-source": c.LabelsSource, "rules-source": c.RulesSource} {
		switch src {
		case SourceFile:
		case SourcePostgres:
			if c.PGDSN == "" {
				return fmt.Errorf("%s postgres requires pg-dsn", name)
			}
		default:
			return fmt.Errorf("%s must be %s or %s, got %q", name, SourceFile, SourcePostgres, src)
		}
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("max-in-flight must be positive")
	}
	if c.AddressBatchSize <= 0 {
		return fmt.Errorf("address-batch-size must be positive")
	}
	if c.BlockCap <= 0 {
		return fmt.Errorf("block-cap must be positive")
	}
	return nil
}

// Chain returns the named chain config.
func (c Config) Chain(name string) (ChainConfig, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, chain := range c.Chains {
		if chain.Name == name {
			return chain, true
		}
	}
	return ChainConfig{}, false
}

// TopicHashes parses the configured topic0 filters. The ERC-20 Transfer topic is the default.
func (c ChainConfig) TopicHashes() ([]common.Hash, error) {
	if len(c.Topics) == 0 {
		return []common.Hash{erc20.TransferTopic}, nil
	}
	out := make([]common.Hash, 0, len(c.Topics))
	for _, raw := range c.Topics {
		b, err := hexutil.Decode(strings.TrimSpace(raw))
		if err != nil || len(b) != common.HashLength {
			return nil, fmt.Errorf("invalid topic %q: expected 32-byte hex", raw)
		}
		out = append(out, common.BytesToHash(b))
	}
	return out, nil
}

func (w WatchConfig) validate() error {
	if len(w.Wallets) == 0 {
		return fmt.Errorf("wallets are required")
	}
	if _, err := w.Addresses(); err != nil {
		return err
	}
	_, err := w.Build()
	return err
}

// Addresses parses the watched wallets in configured order.
func (w WatchConfig) Addresses() ([]common.Address, error) {
	out := make([]common.Address, 0, len(w.Wallets))
	for _, raw := range w.Wallets {
		raw = strings.TrimSpace(raw)
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid wallet address %q", raw)
		}
		out = append(out, common.HexToAddress(raw))
	}
	return out, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
