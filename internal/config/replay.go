package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// ReplayConfig drives a historical run over a block range on one chain.
type ReplayConfig struct {
	Config
	Chain     ChainConfig
	RPCURL    string
	FromBlock uint64
	ToBlock   uint64
	RangeSize uint64
}

// LoadReplay loads the shared settings plus the replay window. The RPC URL falls back to
// the chain's http-url.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ReplayConfig{}, err
	}
	v.SetDefault("range-size", uint64(100))

	base, err := decode(v)
	if err != nil {
		return ReplayConfig{}, err
	}
	if err := base.Validate(); err != nil {
		return ReplayConfig{}, err
	}

	name := v.GetString("chain")
	chain, ok := base.Chain(name)
	if !ok {
		return ReplayConfig{}, fmt.Errorf("unknown chain %q", name)
	}

	cfg := ReplayConfig{
		Config:    base,
		Chain:     chain,
		RPCURL:    strings.TrimSpace(v.GetString("rpc")),
		FromBlock: v.GetUint64("from"),
		ToBlock:   v.GetUint64("to"),
		RangeSize: v.GetUint64("range-size"),
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = chain.HTTPURL
	}
	if cfg.RPCURL == "" {
		return ReplayConfig{}, fmt.Errorf("rpc url is required (flag --rpc or chain http-url)")
	}
	if cfg.FromBlock == 0 || cfg.ToBlock < cfg.FromBlock {
		return ReplayConfig{}, fmt.Errorf("invalid block range %d..%d", cfg.FromBlock, cfg.ToBlock)
	}
	if cfg.RangeSize == 0 {
		return ReplayConfig{}, fmt.Errorf("range-size must be positive")
	}
	return cfg, nil
}
