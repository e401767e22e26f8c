package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"onchainScreener/internal/model"
)

// Gateway delivers user alerts for signals and operator error alerts.
type Gateway interface {
	SendAlert(ctx context.Context, sig model.Signal) error
	SendErrorAlert(ctx context.Context, title, message string) error
}

// LogGateway writes alerts to the process log.
type LogGateway struct {
	logger *zap.Logger
}

func NewLogGateway(logger *zap.Logger) *LogGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogGateway{logger: logger}
}

func (g *LogGateway) SendAlert(_ context.Context, sig model.Signal) error {
	g.logger.Info("signal",
		zap.String("chain", sig.Chain),
		zap.String("ticker", sig.Ticker),
		zap.String("contract", sig.Contract),
		zap.String("event_type", sig.EventType),
		zap.String("tier", sig.MessageTier),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("supply_percent", sig.SupplyPercent),
		zap.Float64("usd_amount", sig.USDAmount),
		zap.Bool("auto_open", sig.AutoOpen),
		zap.String("tx_hash", sig.TxHash),
	)
	return nil
}

func (g *LogGateway) SendErrorAlert(_ context.Context, title, message string) error {
	g.logger.Error("error alert", zap.String("title", title), zap.String("message", message))
	return nil
}

// Multi fans every alert out to all gateways and joins their errors.
type Multi []Gateway

func (m Multi) SendAlert(ctx context.Context, sig model.Signal) error {
	var errs []error
	for _, g := range m {
		if err := g.SendAlert(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SendErrorAlert(ctx context.Context, title, message string) error {
	var errs []error
	for _, g := range m {
		if err := g.SendErrorAlert(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
