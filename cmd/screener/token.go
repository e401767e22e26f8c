package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"onchainScreener/internal/chain"
	"onchainScreener/internal/config"
	"onchainScreener/internal/erc20"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print on-chain ERC-20 metadata for a token",
		RunE:  runToken,
	}

	cmd.Flags().String("rpc", "", "RPC URL")
	cmd.Flags().String("address", "", "token contract address")
	cmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")
	return cmd
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadToken(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	meta, err := erc20.FetchTokenMeta(ctx, client, cfg.Address, logger)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}
