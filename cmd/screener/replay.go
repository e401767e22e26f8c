package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"onchainScreener/internal/app"
	"onchainScreener/internal/config"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a historical block range through detection without the relay",
		RunE:  runReplay,
	}

	cmd.Flags().String("chain", "", "configured chain name")
	cmd.Flags().String("rpc", "", "HTTP RPC URL, defaults to the chain http-url")
	cmd.Flags().Uint64("from", 0, "start block (inclusive)")
	cmd.Flags().Uint64("to", 0, "end block (inclusive)")
	cmd.Flags().Uint64("range-size", 100, "blocks per eth_getLogs request")
	cmd.Flags().String("archive", "./data/replay_signals.jsonl", "signal archive JSONL path, empty disables")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Replay(ctx, cfg, logger)
}
