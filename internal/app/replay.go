package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"onchainScreener/internal/chain"
	"onchainScreener/internal/config"
	"onchainScreener/internal/subscriber"
)

// Replay runs a historical block range of one chain through reconstruction, filtering and
// the notification gateway over plain RPC. The relay is not involved.
func Replay(ctx context.Context, cfg config.ReplayConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	s, err := buildShared(ctx, cfg.Config, logger)
	if err != nil {
		return err
	}
	defer s.close()

	topics, err := cfg.Chain.TopicHashes()
	if err != nil {
		return err
	}
	client, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer client.Close()

	engine, err := s.engineFor(cfg.Config, cfg.Chain, client, logger)
	if err != nil {
		return err
	}
	chainLogger := logger.With(zap.String("chain", cfg.Chain.Name))

	sub, err := subscriber.New(ctx, subscriber.Config{
		Chain:            cfg.Chain.Name,
		Topics:           topics,
		Tokens:           s.tokenList(cfg.Chain.Name),
		AddressBatchSize: cfg.AddressBatchSize,
		MaxInFlight:      int64(cfg.MaxInFlight),
		ConnectRetries:   3,
		ReconnectDelay:   time.Second,
	}, func(context.Context) (subscriber.Client, error) {
		return client, nil
	}, subscriber.Deps{Metrics: s.metrics, Logger: logger})
	if err != nil {
		return err
	}

	if len(sub.Tokens()) == 0 {
		return fmt.Errorf("no tracked tokens for chain %s", cfg.Chain.Name)
	}

	pipe := &pipeline{
		eval:    engine,
		deliver: GatewayDeliverer{Gateway: s.gateway, Logger: chainLogger},
		archive: s.archive,
		logger:  chainLogger,
	}

	start := time.Now()
	chainLogger.Info("replay starting",
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("range_size", cfg.RangeSize),
		zap.Int("tokens", len(sub.Tokens())),
	)
	if err := sub.Backfill(ctx, cfg.FromBlock, cfg.ToBlock, cfg.RangeSize, pipe.Handler()); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	chainLogger.Info("replay complete", zap.Uint64("last_block", sub.LastProcessed()), zap.Duration("took", time.Since(start)))
	return nil
}
