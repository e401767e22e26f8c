package subscriber

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"onchainScreener/internal/chain"
	"onchainScreener/internal/checkpoint"
	"onchainScreener/internal/metrics"
	"onchainScreener/internal/model"
	"onchainScreener/internal/reconstruct"
)

// ErrReconnectExhausted ends a subscription whose reconnect budget is spent.
var ErrReconnectExhausted = errors.New("max reconnect attempts reached")

// Subscription states reported by State.
const (
	StateConnecting   = "connecting"
	StateSubscribed   = "subscribed"
	StateReconnecting = "reconnecting"
	StateStopped      = "stopped"
	StateFailed       = "failed"
)

// Client is the slice of the chain client the subscriber needs.
type Client interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens a new client connection. It is used for the first connect and every reconnect.
type Dialer func(ctx context.Context) (Client, error)

// Handler receives the reconstructed events of one transaction.
type Handler func(ctx context.Context, txHash common.Hash, events model.TxEvents)

// Alerter reports fatal conditions to operators.
type Alerter interface {
	SendErrorAlert(ctx context.Context, title, message string) error
}

// Config controls one chain subscription.
type Config struct {
	Chain             string
	Topics            []common.Hash
	Tokens            []common.Address
	AddressBatchSize  int
	BlockCap          uint64
	MaxInFlight       int64
	ConnectRetries    int
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ResumeMaxLag      uint64
}

func (c *Config) applyDefaults() {
	if c.AddressBatchSize <= 0 {
		c.AddressBatchSize = 500
	}
	if c.BlockCap == 0 {
		c.BlockCap = 5
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 64
	}
	if c.ConnectRetries < 0 {
		c.ConnectRetries = 0
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 10
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	c.Chain = strings.ToUpper(c.Chain)
}

// Deps are optional collaborators.
type Deps struct {
	Checkpoint checkpoint.Store
	Alerter    Alerter
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Subscriber follows new blocks of one chain and hands reconstructed transactions to a handler.
type Subscriber struct {
	cfg        Config
	dial       Dialer
	checkpoint checkpoint.Store
	alerter    Alerter
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu     sync.Mutex
	client Client

	tokens    atomic.Pointer[[]common.Address]
	last      atomic.Uint64
	state     atomic.Value
	sem       *semaphore.Weighted
	handlers  sync.WaitGroup
	alertOnce sync.Once
}

// New connects and reads the chain head. It fails when the handshake does not succeed
// within ConnectRetries retries.
func New(ctx context.Context, cfg Config, dial Dialer, deps Deps) (*Subscriber, error) {
	if dial == nil {
		return nil, fmt.Errorf("dialer is nil")
	}
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	if deps.Checkpoint == nil {
		deps.Checkpoint = checkpoint.Nop{}
	}

	s := &Subscriber{
		cfg:        cfg,
		dial:       dial,
		checkpoint: deps.Checkpoint,
		alerter:    deps.Alerter,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With(zap.String("chain", cfg.Chain)),
		sem:        semaphore.NewWeighted(cfg.MaxInFlight),
	}
	s.state.Store(StateConnecting)
	s.UpdateTokenAddressList(cfg.Tokens)

	var latest uint64
	err := withRetry(ctx, cfg.ConnectRetries, cfg.ReconnectDelay, func(ctx context.Context) error {
		client, err := dial(ctx)
		if err != nil {
			s.logger.Warn("connect failed", zap.Error(err))
			return err
		}
		head, err := client.BlockNumber(ctx)
		if err != nil {
			client.Close()
			s.logger.Warn("read chain head failed", zap.Error(err))
			return fmt.Errorf("block number: %w", err)
		}
		s.setClient(client)
		latest = head
		return nil
	})
	if err != nil {
		s.state.Store(StateFailed)
		return nil, fmt.Errorf("connect %s: %w", cfg.Chain, err)
	}

	s.last.Store(s.startBlock(ctx, latest))
	s.logger.Info("subscriber connected",
		zap.Uint64("head", latest),
		zap.Uint64("last_processed", s.last.Load()),
		zap.Int("tokens", len(s.Tokens())),
	)
	return s, nil
}

// startBlock resumes from the checkpoint when it is close enough to head, else head-1.
func (s *Subscriber) startBlock(ctx context.Context, head uint64) uint64 {
	start := uint64(0)
	if head > 0 {
		start = head - 1
	}
	if s.cfg.ResumeMaxLag == 0 {
		return start
	}
	saved, ok, err := s.checkpoint.Load(ctx)
	if err != nil {
		s.logger.Warn("checkpoint load failed", zap.Error(err))
		return start
	}
	if ok && saved < head && head-saved <= s.cfg.ResumeMaxLag {
		s.logger.Info("resume from checkpoint", zap.Uint64("last_processed", saved))
		return saved
	}
	return start
}

func (s *Subscriber) setClient(client Client) {
	s.mu.Lock()
	old := s.client
	s.client = client
	s.mu.Unlock()
	if old != nil && old != client {
		old.Close()
	}
}

func (s *Subscriber) currentClient() Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Chain returns the upper-case chain name.
func (s *Subscriber) Chain() string {
	return s.cfg.Chain
}

// LastProcessed returns the last block marked processed.
func (s *Subscriber) LastProcessed() uint64 {
	return s.last.Load()
}

// State returns the current subscription state.
func (s *Subscriber) State() string {
	state, _ := s.state.Load().(string)
	return state
}

// Tokens returns the current tracked address set.
func (s *Subscriber) Tokens() []common.Address {
	if list := s.tokens.Load(); list != nil {
		return *list
	}
	return nil
}

// UpdateTokenAddressList replaces the tracked set for subsequent fetches. Fetches already
// in flight keep the list they started with.
func (s *Subscriber) UpdateTokenAddressList(addrs []common.Address) int {
	list := dedupe(addrs)
	s.tokens.Store(&list)
	return len(list)
}

// Close releases the current connection.
func (s *Subscriber) Close() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client != nil {
		client.Close()
	}
}

// Subscribe follows new heads until ctx is cancelled or the reconnect budget is spent.
// It waits for running handlers before returning.
func (s *Subscriber) Subscribe(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is nil")
	}
	defer s.handlers.Wait()

	failures := 0
	for {
		subscribed, err := s.session(ctx, handler)
		if ctx.Err() != nil {
			s.state.Store(StateStopped)
			return ctx.Err()
		}
		if subscribed {
			failures = 0
		}
		s.state.Store(StateReconnecting)
		s.logger.Warn("block subscription lost", zap.Error(err))

		if err := s.reconnect(ctx, &failures); err != nil {
			return err
		}
	}
}

func (s *Subscriber) reconnect(ctx context.Context, failures *int) error {
	for {
		if *failures >= s.cfg.ReconnectAttempts {
			s.state.Store(StateFailed)
			s.fatal(ctx)
			return ErrReconnectExhausted
		}
		*failures++
		s.metrics.Reconnects.WithLabelValues("subscriber_" + strings.ToLower(s.cfg.Chain)).Inc()
		s.logger.Info("reconnecting",
			zap.Int("attempt", *failures),
			zap.Int("max_attempts", s.cfg.ReconnectAttempts),
			zap.Duration("delay", s.cfg.ReconnectDelay),
		)
		if err := sleep(ctx, s.cfg.ReconnectDelay); err != nil {
			s.state.Store(StateStopped)
			return err
		}

		client, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("reconnect failed", zap.Error(err))
			continue
		}
		s.setClient(client)
		return nil
	}
}

// fatal reports reconnect exhaustion once per subscriber.
func (s *Subscriber) fatal(ctx context.Context) {
	s.alertOnce.Do(func() {
		s.logger.Error("max reconnect attempts reached", zap.Int("attempts", s.cfg.ReconnectAttempts))
		if s.alerter == nil {
			return
		}
		message := fmt.Sprintf("%s Max reconnect attempts reached", s.cfg.Chain)
		if err := s.alerter.SendErrorAlert(context.WithoutCancel(ctx), "BLOCK SUBSCRIPTION ERROR", message); err != nil {
			s.logger.Error("send subscription alert", zap.Error(err))
		}
	})
}

// session runs one newHeads subscription. subscribed reports whether it got that far.
func (s *Subscriber) session(ctx context.Context, handler Handler) (subscribed bool, err error) {
	client := s.currentClient()
	if client == nil {
		return false, fmt.Errorf("no connection")
	}

	headers := make(chan *types.Header, 16)
	sub, err := client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return false, fmt.Errorf("subscribe new heads: %w", err)
	}
	defer sub.Unsubscribe()

	s.state.Store(StateSubscribed)
	s.logger.Info("subscribed to new heads", zap.Uint64("last_processed", s.last.Load()))

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = fmt.Errorf("subscription closed")
			}
			return true, err
		case header := <-headers:
			if header == nil || header.Number == nil {
				continue
			}
			s.advance(ctx, client, header.Number.Uint64(), handler)
		}
	}
}

// advance processes blocks after the last processed one up to head, at most BlockCap per call.
// Blocks past the cap wait for the next head.
func (s *Subscriber) advance(ctx context.Context, client Client, head uint64, handler Handler) {
	last := s.last.Load()
	if head <= last {
		return
	}
	target := head
	if head-last > s.cfg.BlockCap {
		target = last + s.cfg.BlockCap
		s.logger.Debug("block backlog deferred",
			zap.Uint64("head", head),
			zap.Uint64("target", target),
			zap.Uint64("behind", head-target),
		)
	}

	for block := last + 1; block <= target; block++ {
		if ctx.Err() != nil {
			return
		}
		logs, err := s.fetchLogs(ctx, client, block, block)
		if err != nil {
			// Shutdown interrupted the fetch: leave the block for the next run.
			if ctx.Err() != nil {
				return
			}
			s.metrics.BlockFetchErrors.WithLabelValues(s.cfg.Chain).Inc()
			s.logger.Warn("log fetch failed, skipping block", zap.Uint64("block", block), zap.Error(err))
		} else if !s.dispatch(ctx, logs, handler) {
			return
		}
		s.markProcessed(ctx, block)
	}
}

func (s *Subscriber) markProcessed(ctx context.Context, block uint64) {
	s.last.Store(block)
	s.metrics.BlocksProcessed.WithLabelValues(s.cfg.Chain).Inc()
	s.metrics.LastBlock.WithLabelValues(s.cfg.Chain).Set(float64(block))
	if err := s.checkpoint.Save(ctx, block); err != nil {
		s.logger.Warn("checkpoint save failed", zap.Uint64("block", block), zap.Error(err))
	}
}

// fetchLogs queries the tracked addresses in batches of AddressBatchSize.
func (s *Subscriber) fetchLogs(ctx context.Context, client Client, from, to uint64) ([]types.Log, error) {
	tokens := s.Tokens()
	if len(tokens) == 0 {
		return nil, nil
	}

	var logs []types.Log
	for _, batch := range SplitAddresses(tokens, s.cfg.AddressBatchSize) {
		part, err := client.FilterLogs(ctx, chain.LogQuery(from, to, batch, s.cfg.Topics))
		if err != nil {
			return nil, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
		}
		logs = append(logs, part...)
	}
	s.metrics.LogsFetched.WithLabelValues(s.cfg.Chain).Add(float64(len(logs)))
	return logs, nil
}

type txLogs struct {
	hash common.Hash
	logs []types.Log
}

// groupByTx groups logs by transaction, keeping first-seen transaction order.
func groupByTx(logs []types.Log) []txLogs {
	index := make(map[common.Hash]int)
	var groups []txLogs
	for _, log := range logs {
		if log.Removed {
			continue
		}
		i, ok := index[log.TxHash]
		if !ok {
			i = len(groups)
			index[log.TxHash] = i
			groups = append(groups, txLogs{hash: log.TxHash})
		}
		groups[i].logs = append(groups[i].logs, log)
	}
	return groups
}

// dispatch reconstructs every transaction and runs the handler for non-empty ones on the
// bounded pool. It blocks while the pool is full and reports false when ctx ended before every
// transaction was handed off.
func (s *Subscriber) dispatch(ctx context.Context, logs []types.Log, handler Handler) bool {
	for _, group := range groupByTx(logs) {
		events := reconstruct.Reconstruct(group.logs)
		if events.Empty() {
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return false
		}
		s.handlers.Add(1)
		s.metrics.TxDispatched.WithLabelValues(s.cfg.Chain).Inc()
		s.metrics.HandlersInFlight.WithLabelValues(s.cfg.Chain).Inc()

		go func(hash common.Hash, events model.TxEvents) {
			defer func() {
				s.metrics.HandlersInFlight.WithLabelValues(s.cfg.Chain).Dec()
				s.sem.Release(1)
				s.handlers.Done()
			}()
			start := time.Now()
			handler(ctx, hash, events)
			s.metrics.HandlerDuration.WithLabelValues(s.cfg.Chain).Observe(time.Since(start).Seconds())
		}(group.hash, events)
	}
	return true
}

// Backfill runs historical blocks [from, to] through the same pipeline in rangeSize batches.
// Unlike live processing, a fetch error aborts the run.
func (s *Subscriber) Backfill(ctx context.Context, from, to, rangeSize uint64, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is nil")
	}
	client := s.currentClient()
	if client == nil {
		return fmt.Errorf("no connection")
	}
	ranges, err := SplitRange(from, to, rangeSize)
	if err != nil {
		return err
	}
	defer s.handlers.Wait()

	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}
		var logs []types.Log
		err := withRetry(ctx, 2, s.cfg.ReconnectDelay, func(ctx context.Context) error {
			var err error
			logs, err = s.fetchLogs(ctx, client, r.From, r.To)
			if err != nil {
				s.logger.Warn("filter logs failed", zap.Uint64("from", r.From), zap.Uint64("to", r.To), zap.Error(err))
			}
			return err
		})
		if err != nil {
			return err
		}
		if !s.dispatch(ctx, logs, handler) {
			return ctx.Err()
		}
		s.last.Store(r.To)
		s.logger.Info("range complete", zap.Int("logs", len(logs)), zap.Uint64("from", r.From), zap.Uint64("to", r.To))
	}
	return nil
}
