package app

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"onchainScreener/internal/model"
	"onchainScreener/internal/notify"
	"onchainScreener/internal/server"
	"onchainScreener/internal/storage"
	"onchainScreener/internal/subscriber"
)

// Evaluator turns one transaction's aggregates into signals.
type Evaluator interface {
	EvaluateTx(ctx context.Context, txHash common.Hash, events model.TxEvents) []model.Signal
}

// Deliverer hands signals to users and the control plane.
type Deliverer interface {
	Deliver(ctx context.Context, signals []model.Signal)
}

// GatewayDeliverer sends every signal to the notification gateway only.
type GatewayDeliverer struct {
	Gateway notify.Gateway
	Logger  *zap.Logger
}

func (d GatewayDeliverer) Deliver(ctx context.Context, signals []model.Signal) {
	for _, sig := range signals {
		if err := d.Gateway.SendAlert(ctx, sig); err != nil && d.Logger != nil {
			d.Logger.Warn("gateway alert failed", zap.String("ticker", sig.Ticker), zap.Error(err))
		}
	}
}

type pipeline struct {
	eval    Evaluator
	deliver Deliverer
	archive storage.Sink
	logger  *zap.Logger
}

// Handler returns the per-transaction unit of work run by the subscriber.
func (p *pipeline) Handler() subscriber.Handler {
	return p.handle
}

func (p *pipeline) handle(ctx context.Context, txHash common.Hash, events model.TxEvents) {
	signals := p.eval.EvaluateTx(ctx, txHash, events)
	if len(signals) == 0 {
		return
	}
	for _, sig := range signals {
		p.logger.Info("signal",
			zap.String("tx", txHash.Hex()),
			zap.String("ticker", sig.Ticker),
			zap.String("event", sig.EventType),
			zap.String("tier", sig.MessageTier),
			zap.Bool("auto_open", sig.AutoOpen),
		)
	}
	p.deliver.Deliver(ctx, signals)

	if p.archive == nil {
		return
	}
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.archive.PutSignals(archiveCtx, signals); err != nil {
		p.logger.Warn("archive signals failed", zap.String("tx", txHash.Hex()), zap.Error(err))
	}
}

// ChainStatus is the read side of a running subscription.
type ChainStatus interface {
	Chain() string
	State() string
	LastProcessed() uint64
	Tokens() []common.Address
}

// RelayStatus is the read side of the relay.
type RelayStatus interface {
	Connected() bool
	Stopped() bool
}

func buildHealth(chains []ChainStatus, relay RelayStatus) server.Health {
	h := server.Health{Status: server.StatusOK, Relay: "disabled"}
	failed := 0
	for _, c := range chains {
		state := c.State()
		h.Chains = append(h.Chains, server.ChainStatus{
			Chain:         c.Chain(),
			State:         state,
			LastProcessed: c.LastProcessed(),
			Tokens:        len(c.Tokens()),
		})
		switch state {
		case subscriber.StateSubscribed:
		case subscriber.StateFailed, subscriber.StateStopped:
			failed++
			h.Status = server.StatusDegraded
		default:
			h.Status = server.StatusDegraded
		}
	}
	if len(chains) > 0 && failed == len(chains) {
		h.Status = server.StatusFailed
	}

	if relay != nil {
		switch {
		case relay.Stopped():
			h.Relay = "stopped"
		case relay.Connected():
			h.Relay = "connected"
		default:
			h.Relay = "down"
		}
		if h.Relay != "connected" && h.Status == server.StatusOK {
			h.Status = server.StatusDegraded
		}
	}
	return h
}

// unionTokens merges the token lists of every source in first-seen order.
func unionTokens(lists ...[]common.Address) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, list := range lists {
		for _, addr := range list {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}
