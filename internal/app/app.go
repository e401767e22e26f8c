package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"onchainScreener/internal/chain"
	"onchainScreener/internal/checkpoint"
	"onchainScreener/internal/config"
	"onchainScreener/internal/filter"
	"onchainScreener/internal/labels"
	"onchainScreener/internal/metrics"
	"onchainScreener/internal/notify"
	"onchainScreener/internal/price"
	"onchainScreener/internal/relay"
	"onchainScreener/internal/rules"
	"onchainScreener/internal/server"
	"onchainScreener/internal/storage"
	"onchainScreener/internal/storage/postgres"
	"onchainScreener/internal/subscriber"
	"onchainScreener/internal/tokens"
)

// Reload targets accepted by the operator API.
const (
	ReloadLabels = "labels"
	ReloadRules  = "rules"
	ReloadTokens = "tokens"
)

type chainRunner struct {
	sub      *subscriber.Subscriber
	receipts *chain.Client
	pipe     *pipeline
}

// App owns every long-running component of the screener.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	pg      *postgres.Store
	labels  *labels.Store
	rules   *rules.Store
	tokens  *tokens.Store
	relay   *relay.Relay
	archive storage.Sink
	chains  []*chainRunner
}

// shared holds what both the live run and replay build from the same config.
type shared struct {
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pg       *postgres.Store
	labels   *labels.Store
	rules    *rules.Store
	tokens   *tokens.Store
	prices   *price.Client
	gateway  notify.Gateway
	archive  storage.Sink
	cache    *filter.PriceCache
}

func buildShared(ctx context.Context, cfg config.Config, logger *zap.Logger) (*shared, error) {
	s := &shared{registry: prometheus.NewRegistry(), cache: filter.NewPriceCache()}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.New(s.registry)

	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		s.pg = pg
	}

	matcher, err := labels.NewMatcher(cfg.ExchangeMatch, cfg.ExchangeNames)
	if err != nil {
		s.close()
		return nil, err
	}
	var labelSource labels.Source = labels.FileSource{Dir: cfg.FiltersDir}
	var ruleSource rules.Source = rules.FileSource{Path: cfg.RulesFile, Logger: logger}
	if cfg.LabelsSource == config.SourcePostgres {
		labelSource = &labels.DBSource{Store: s.pg}
	}
	if cfg.RulesSource == config.SourcePostgres {
		ruleSource = &rules.DBSource{Store: s.pg, Logger: logger}
	}
	s.labels = labels.NewStore(labelSource, matcher, logger)
	s.rules = rules.NewStore(ruleSource, logger)
	s.tokens = tokens.NewStore(tokens.FileSource{Path: cfg.TokenDataFile}, logger)

	for name, reload := range map[string]func(context.Context) error{
		ReloadLabels: s.labels.Reload,
		ReloadRules:  s.rules.Reload,
		ReloadTokens: s.tokens.Reload,
	} {
		if err := reload(ctx); err != nil {
			s.close()
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
	}

	s.prices = price.NewClient(price.Config{
		BaseURL:          cfg.Price.BaseURL,
		APIKey:           cfg.Price.APIKey,
		Timeout:          cfg.Price.Timeout,
		Retries:          cfg.Price.Retries,
		RateLimitRetries: cfg.Price.RateLimitRetries,
		RateLimitDelay:   cfg.Price.RateLimitDelay,
	}, logger)
	s.prices.OnRequest(func(status string) {
		s.metrics.PriceRequests.WithLabelValues(status).Inc()
	})

	gateways := notify.Multi{notify.NewLogGateway(logger)}
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramGateway(notify.TelegramConfig{
			Token:        cfg.Notify.TelegramToken,
			AlertsChatID: cfg.Notify.AlertsChatID,
			ErrorsChatID: cfg.Notify.ErrorsChatID,
		}, logger)
		if err != nil {
			s.close()
			return nil, err
		}
		gateways = append(gateways, tg)
	}
	s.gateway = gateways

	var sinks storage.Multi
	if cfg.Archive != "" {
		sinks = append(sinks, storage.NewJSONLSink(cfg.Archive))
	}
	if s.pg != nil {
		sinks = append(sinks, s.pg)
	}
	if len(sinks) > 0 {
		s.archive = sinks
	}
	return s, nil
}

func (s *shared) close() {
	if s.pg != nil {
		s.pg.Close()
	}
}

// engineFor builds the filter engine of one chain.
func (s *shared) engineFor(cfg config.Config, c config.ChainConfig, receipts filter.Receipts, logger *zap.Logger) (*filter.Engine, error) {
	tiers, err := cfg.TierTables()
	if err != nil {
		return nil, err
	}
	usd, err := cfg.USDTierTable()
	if err != nil {
		return nil, err
	}
	var watch *filter.Watch
	if c.Watch != nil {
		if watch, err = c.Watch.Build(); err != nil {
			return nil, fmt.Errorf("chain %s watch: %w", c.Name, err)
		}
	}
	return filter.NewEngine(
		filter.Config{Chain: c.Name, Tiers: tiers, USDTiers: usd, Watch: watch},
		filter.Deps{
			Labels:   s.labels,
			Rules:    s.rules,
			Tokens:   s.tokens,
			Prices:   s.prices,
			Receipts: receipts,
			Cache:    s.cache,
			Metrics:  s.metrics,
			Logger:   logger,
		},
	), nil
}

func (s *shared) checkpointFor(cfg config.Config, name string) checkpoint.Store {
	switch {
	case cfg.CheckpointDir != "":
		return checkpoint.NewFileStore(cfg.CheckpointDir, name)
	case s.pg != nil:
		return &checkpoint.DBStore{Store: s.pg, Name: "checkpoint:" + name}
	default:
		return checkpoint.Nop{}
	}
}

func (s *shared) tokenList(name string) []common.Address {
	return unionTokens(s.tokens.Tokens(name), s.rules.Tokens(name))
}

func dialer(url string) subscriber.Dialer {
	return func(ctx context.Context) (subscriber.Client, error) {
		client, err := chain.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		if !client.SupportsSubscriptions() {
			client.Close()
			return nil, fmt.Errorf("%s does not support subscriptions", chain.Redact(url))
		}
		return client, nil
	}
}

// New connects every configured chain and prepares the relay and operator API.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := buildShared(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: s.registry,
		metrics:  s.metrics,
		pg:       s.pg,
		labels:   s.labels,
		rules:    s.rules,
		tokens:   s.tokens,
		archive:  s.archive,
	}
	a.relay = relay.New(relay.Config{
		URL:               cfg.Relay.URL,
		ServiceType:       cfg.Relay.ServiceType,
		ReconnectAttempts: cfg.Relay.ReconnectAttempts,
		ReconnectDelay:    cfg.Relay.ReconnectDelay,
	}, s.gateway, s.metrics, logger)

	a.chains, err = startChains(ctx, cfg.Chains, s.gateway, logger, func(ctx context.Context, c config.ChainConfig) (*chainRunner, error) {
		return a.startChain(ctx, s, c)
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// startChains starts each chain in turn. A chain that fails to start is alerted and skipped;
// the call fails only when no chain starts.
func startChains(
	ctx context.Context,
	chains []config.ChainConfig,
	alerter subscriber.Alerter,
	logger *zap.Logger,
	start func(context.Context, config.ChainConfig) (*chainRunner, error),
) ([]*chainRunner, error) {
	var (
		runners []*chainRunner
		errs    []error
	)
	for _, c := range chains {
		runner, err := start(ctx, c)
		if err != nil {
			err = fmt.Errorf("chain %s: %w", c.Name, err)
			errs = append(errs, err)
			logger.Error("chain startup failed", zap.String("chain", c.Name), zap.Error(err))
			if alerter != nil {
				if aerr := alerter.SendErrorAlert(context.WithoutCancel(ctx), "BLOCK SUBSCRIPTION ERROR", err.Error()); aerr != nil {
					logger.Error("send startup alert", zap.Error(aerr))
				}
			}
			continue
		}
		runners = append(runners, runner)
	}
	if len(runners) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return runners, nil
}

func (a *App) startChain(ctx context.Context, s *shared, c config.ChainConfig) (*chainRunner, error) {
	topics, err := c.TopicHashes()
	if err != nil {
		return nil, err
	}
	receiptURL := c.HTTPURL
	if receiptURL == "" {
		receiptURL = c.WSURL
	}
	receipts, err := chain.Dial(ctx, receiptURL)
	if err != nil {
		return nil, err
	}
	if id, err := receipts.ChainID(ctx); err != nil {
		a.logger.Warn("read chain id failed", zap.String("chain", c.Name), zap.Error(err))
	} else {
		a.logger.Info("receipts client connected", zap.String("chain", c.Name), zap.String("chain_id", id.String()))
	}

	engine, err := s.engineFor(a.cfg, c, receipts, a.logger)
	if err != nil {
		receipts.Close()
		return nil, err
	}

	sub, err := subscriber.New(ctx, subscriber.Config{
		Chain:             c.Name,
		Topics:            topics,
		Tokens:            s.tokenList(c.Name),
		AddressBatchSize:  a.cfg.AddressBatchSize,
		BlockCap:          uint64(a.cfg.BlockCap),
		MaxInFlight:       int64(a.cfg.MaxInFlight),
		ConnectRetries:    3,
		ReconnectAttempts: a.cfg.ReconnectAttempts,
		ReconnectDelay:    a.cfg.ReconnectDelay,
		ResumeMaxLag:      a.cfg.ResumeMaxLag,
	}, dialer(c.WSURL), subscriber.Deps{
		Checkpoint: s.checkpointFor(a.cfg, c.Name),
		Alerter:    s.gateway,
		Metrics:    s.metrics,
		Logger:     a.logger,
	})
	if err != nil {
		receipts.Close()
		return nil, err
	}

	return &chainRunner{
		sub:      sub,
		receipts: receipts,
		pipe: &pipeline{
			eval:    engine,
			deliver: a.relay,
			archive: a.archive,
			logger:  a.logger.With(zap.String("chain", c.Name)),
		},
	}, nil
}

// Run drives every chain, the relay, the operator API and the token reload loop until ctx ends.
// A chain or relay that exhausts its reconnect budget stops alone.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, runner := range a.chains {
		runner := runner
		g.Go(func() error {
			err := runner.sub.Subscribe(ctx, runner.pipe.Handler())
			if errors.Is(err, subscriber.ErrReconnectExhausted) {
				a.logger.Error("chain stopped", zap.String("chain", runner.sub.Chain()), zap.Error(err))
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		err := a.relay.Run(ctx)
		if errors.Is(err, relay.ErrReconnectExhausted) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if a.cfg.HTTPAddr != "" {
		api := server.New(a.Health, a.Reloaders(), a.registry, a.logger)
		g.Go(func() error {
			return api.Serve(ctx, a.cfg.HTTPAddr)
		})
	}

	if a.cfg.TokenReloadInterval > 0 {
		g.Go(func() error {
			a.reloadLoop(ctx, a.cfg.TokenReloadInterval)
			return nil
		})
	}

	return g.Wait()
}

func (a *App) reloadLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.reloadTokens(ctx); err != nil {
				a.logger.Warn("periodic token reload failed", zap.Error(err))
			}
		}
	}
}

// Reloaders maps operator reload targets to their actions.
func (a *App) Reloaders() map[string]server.Reloader {
	return map[string]server.Reloader{
		ReloadLabels: a.labels.Reload,
		ReloadRules: func(ctx context.Context) error {
			if err := a.rules.Reload(ctx); err != nil {
				return err
			}
			a.refreshTokenLists()
			return nil
		},
		ReloadTokens: a.reloadTokens,
	}
}

func (a *App) reloadTokens(ctx context.Context) error {
	if err := a.tokens.Reload(ctx); err != nil {
		return err
	}
	a.refreshTokenLists()
	return nil
}

// refreshTokenLists pushes the union of token metadata and rule tokens into every subscriber.
func (a *App) refreshTokenLists() {
	for _, runner := range a.chains {
		name := runner.sub.Chain()
		n := runner.sub.UpdateTokenAddressList(unionTokens(a.tokens.Tokens(name), a.rules.Tokens(name)))
		a.logger.Info("token list updated", zap.String("chain", name), zap.Int("tokens", n))
	}
}

// Health reports chain and relay state for the operator API.
func (a *App) Health() server.Health {
	chains := make([]ChainStatus, 0, len(a.chains))
	for _, runner := range a.chains {
		chains = append(chains, runner.sub)
	}
	return buildHealth(chains, a.relay)
}

// Close releases connections. It is safe to call after Run returns.
func (a *App) Close() {
	for _, runner := range a.chains {
		runner.sub.Close()
		runner.receipts.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
