package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"onchainScreener/internal/app"
	"onchainScreener/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:               "screener",
		Short:             "On-chain token transfer screener",
		SilenceUsage:      true,
		PersistentPreRunE: loadEnv,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before config")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Follow every configured chain and emit signals",
		RunE:  runScreener,
	}

	runCmd.Flags().String("filters-dir", "./database/filters", "address labels, multisig and blacklist directory")
	runCmd.Flags().String("rules-file", "./database/custom_rules.json", "custom rules JSON")
	runCmd.Flags().String("token-data-file", "./database/token_data.json", "token metadata JSON")
	runCmd.Flags().String("labels-source", "file", "labels source (file, postgres)")
	runCmd.Flags().String("rules-source", "file", "custom rules source (file, postgres)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("archive", "./data/signals.jsonl", "signal archive JSONL path, empty disables")
	runCmd.Flags().String("checkpoint-dir", "", "per-chain checkpoint directory")
	runCmd.Flags().Int("max-in-flight", 64, "concurrent transaction handlers per chain")
	runCmd.Flags().Int("block-cap", 5, "blocks processed per new head")
	runCmd.Flags().Int("reconnect-attempts", 10, "chain reconnect attempts before giving up")
	runCmd.Flags().Duration("reconnect-delay", 5*time.Second, "delay between chain reconnect attempts")
	runCmd.Flags().Duration("token-reload-interval", 10*time.Minute, "token metadata reload interval, 0 disables")
	runCmd.Flags().String("http-addr", ":9102", "operator API listen address, empty disables")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)
	root.AddCommand(newReplayCmd())
	root.AddCommand(newTokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadEnv(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func runScreener(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
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

	screener, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer screener.Close()

	names := make([]string, 0, len(cfg.Chains))
	for _, c := range cfg.Chains {
		names = append(names, c.Name)
	}
	logger.Info("screener start",
		zap.Strings("chains", names),
		zap.String("relay", cfg.Relay.URL),
		zap.String("labels_source", cfg.LabelsSource),
		zap.String("rules_source", cfg.RulesSource),
		zap.Int("max_in_flight", cfg.MaxInFlight),
		zap.String("http_addr", cfg.HTTPAddr),
	)

	return screener.Run(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
