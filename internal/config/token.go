package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
)

// TokenConfig holds configuration for the token inspection command.
type TokenConfig struct {
	RPCURL   string
	Address  common.Address
	LogLevel string
}

func LoadToken(cfgFile string, flags *pflag.FlagSet) (TokenConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return TokenConfig{}, err
	}
	v.SetDefault("log-level", "info")

	cfg := TokenConfig{
		RPCURL:   strings.TrimSpace(v.GetString("rpc")),
		LogLevel: v.GetString("log-level"),
	}
	if cfg.RPCURL == "" {
		return TokenConfig{}, fmt.Errorf("rpc url is required")
	}
	addr := strings.TrimSpace(v.GetString("address"))
	if !common.IsHexAddress(addr) {
		return TokenConfig{}, fmt.Errorf("invalid token address %q", addr)
	}
	cfg.Address = common.HexToAddress(addr)
	return cfg, nil
}
