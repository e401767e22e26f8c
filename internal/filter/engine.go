package filter

import (
	"context"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"onchainScreener/internal/metrics"
	"onchainScreener/internal/model"
)

// Drop reasons reported for aggregates that produce no signal.
const (
	ReasonEmpty                = "empty"
	ReasonNoTier               = "no_tier"
	ReasonNoTokenData          = "no_token_data"
	ReasonExchangeSelfTransfer = "exchange_self_transfer"
	ReasonMultisig             = "multisig"
	ReasonBlacklisted          = "blacklisted_signature"
	ReasonReceiptError         = "receipt_error"
	ReasonPriceError           = "price_error"
	ReasonUnlabelled           = "unlabelled"
	ReasonRuleAddress          = "rule_address_filter"
	ReasonRuleFloor            = "rule_supply_floor"
)

const customTierLabel = "Custom event"

// Labels is the label snapshot the engine reads.
type Labels interface {
	IsExchangeSelfTransfer(agg *model.KindAggregate) bool
	FilterNames(agg *model.KindAggregate) model.FilterMatches
	MultisigCheck(agg *model.KindAggregate) (ignore bool, fromMultisig bool)
	Blacklist(kind model.EventKind) map[common.Hash]string
}

type Rules interface {
	Rule(chain string, token common.Address, kind model.EventKind) (model.CustomRule, bool)
}

type Tokens interface {
	Token(chain string, token common.Address) (model.TokenData, bool)
}

type Prices interface {
	TokenPrice(ctx context.Context, chain string, token common.Address) (float64, error)
}

type Receipts interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Watch configures the watched-wallet fast path of one chain.
type Watch struct {
	Wallets    []common.Address
	EventName  string
	Direction  model.Direction
	RecheckUSD float64
	Tiers      *TierTable
}

// Config is the per-chain filter configuration.
type Config struct {
	Chain    string
	Tiers    map[model.EventKind]*TierTable
	USDTiers *TierTable
	Watch    *Watch
}

// Deps are the collaborators of an Engine. Rules, Prices, Receipts and Cache may be nil.
type Deps struct {
	Labels   Labels
	Rules    Rules
	Tokens   Tokens
	Prices   Prices
	Receipts Receipts
	Cache    *PriceCache
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Input is one (token, kind) aggregate of a transaction.
type Input struct {
	TxHash    common.Hash
	Token     common.Address
	Kind      model.EventKind
	Aggregate *model.KindAggregate
}

// Result is the outcome of evaluating one aggregate: a signal, or the reason there is none.
type Result struct {
	Signal *model.Signal
	Reason string
}

func (r Result) Matched() bool {
	return r.Signal != nil
}

func drop(reason string) Result {
	return Result{Reason: reason}
}

// Engine decides which aggregates of one chain become signals.
type Engine struct {
	cfg        Config
	deps       Deps
	watchIndex map[common.Address]int
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	if deps.Cache == nil {
		deps.Cache = NewPriceCache()
	}
	cfg.Chain = strings.ToUpper(cfg.Chain)

	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		logger:  deps.Logger.With(zap.String("chain", cfg.Chain)),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if cfg.Watch != nil {
		watch := *cfg.Watch
		e.cfg.Watch = &watch
		if e.cfg.Watch.EventName == "" {
			e.cfg.Watch.EventName = model.EventWatchedWallet
		}
		if e.cfg.Watch.Direction == "" {
			e.cfg.Watch.Direction = model.Long
		}
		e.watchIndex = make(map[common.Address]int, len(cfg.Watch.Wallets))
		for i, wallet := range cfg.Watch.Wallets {
			if _, ok := e.watchIndex[wallet]; !ok {
				e.watchIndex[wallet] = i + 1
			}
		}
	}
	return e
}

// Chain returns the upper-case chain name the engine serves.
func (e *Engine) Chain() string {
	return e.cfg.Chain
}

// EvaluateTx runs every aggregate of a transaction and returns the signals, tokens in
// address order and kinds in transfer, mint, burn order.
func (e *Engine) EvaluateTx(ctx context.Context, txHash common.Hash, events model.TxEvents) []model.Signal {
	tokens := make([]common.Address, 0, len(events))
	for token := range events {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Hex() < tokens[j].Hex() })

	var signals []model.Signal
	for _, token := range tokens {
		for _, kind := range model.Kinds {
			agg, ok := events[token][kind]
			if !ok {
				continue
			}
			res := e.Evaluate(ctx, Input{TxHash: txHash, Token: token, Kind: kind, Aggregate: agg})
			if !res.Matched() {
				e.metrics.Drops.WithLabelValues(e.cfg.Chain, res.Reason).Inc()
				continue
			}
			e.metrics.Signals.WithLabelValues(e.cfg.Chain, res.Signal.EventType, strconv.FormatBool(res.Signal.AutoOpen)).Inc()
			signals = append(signals, *res.Signal)
		}
	}
	return signals
}

// Evaluate applies, in order, the watched-wallet path, a custom rule for the token and kind,
// and the standard path.
func (e *Engine) Evaluate(ctx context.Context, in Input) Result {
	if in.Aggregate == nil || len(in.Aggregate.Legs) == 0 {
		return drop(ReasonEmpty)
	}
	if e.watchIndex != nil {
		if wallet, index, amount, ok := e.watchedLeg(in.Aggregate); ok {
			return e.evaluateWatched(ctx, in, wallet, index, amount)
		}
	}
	if e.deps.Rules != nil {
		if rule, ok := e.deps.Rules.Rule(e.cfg.Chain, in.Token, in.Kind); ok {
			return e.evaluateRule(in, rule)
		}
	}
	return e.evaluateStandard(ctx, in)
}

// watchedLeg finds the first leg landing in a watched wallet and sums every leg into it.
func (e *Engine) watchedLeg(agg *model.KindAggregate) (common.Address, int, *big.Int, bool) {
	for _, leg := range agg.Legs {
		index, ok := e.watchIndex[leg.To]
		if !ok {
			continue
		}
		amount := new(big.Int)
		for _, other := range agg.Legs {
			if other.To == leg.To && other.Amount != nil {
				amount.Add(amount, other.Amount)
			}
		}
		return leg.To, index, amount, true
	}
	return common.Address{}, 0, nil, false
}

func (e *Engine) evaluateWatched(ctx context.Context, in Input, wallet common.Address, index int, amount *big.Int) Result {
	data, ok := e.tokenData(in)
	if !ok {
		e.logger.Warn("watched wallet transfer without token data", zap.String("token", in.Token.Hex()))
		return drop(ReasonNoTokenData)
	}
	tokens := scale(amount, *data.Decimals)

	usd, err := e.watchedUSD(ctx, in.Token, tokens)
	if err != nil {
		e.logger.Warn("watched wallet price lookup failed", zap.String("token", in.Token.Hex()), zap.Error(err))
		return drop(ReasonPriceError)
	}
	tier, ok := e.cfg.Watch.Tiers.Match(usd.InexactFloat64())
	if !ok {
		return drop(ReasonNoTier)
	}

	sig := e.newSignal(in)
	sig.EventType = e.cfg.Watch.EventName
	sig.Direction = e.cfg.Watch.Direction
	sig.Ticker = data.Ticker
	sig.USDAmount = usd.InexactFloat64()
	sig.TokenAmount = tokens.InexactFloat64()
	sig.WalletAddress = model.LowerHex(wallet)
	sig.WalletIndex = index
	if pct, ok := percentOf(tokens, data.SupplyDenominator()); ok {
		sig.SupplyPercent = pct.InexactFloat64()
	}
	applyTier(sig, tier)
	return Result{Signal: sig}
}

// watchedUSD values an amount with the cached reference price, refreshing the price when
// none is cached or when the cached value puts the transfer at or above the recheck size.
func (e *Engine) watchedUSD(ctx context.Context, token common.Address, tokens decimal.Decimal) (decimal.Decimal, error) {
	if price, ok := e.deps.Cache.Get(e.cfg.Chain, token); ok {
		usd := tokens.Mul(decimal.NewFromFloat(price))
		if usd.LessThan(decimal.NewFromFloat(e.cfg.Watch.RecheckUSD)) {
			return usd, nil
		}
	}
	price, err := e.fetchPrice(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	e.deps.Cache.Set(e.cfg.Chain, token, price)
	return tokens.Mul(decimal.NewFromFloat(price)), nil
}

func (e *Engine) evaluateRule(in Input, rule model.CustomRule) Result {
	data := rule.TokenData
	if data.Decimals == nil {
		e.logger.Warn("custom rule without decimals", zap.String("token", in.Token.Hex()))
		return drop(ReasonNoTokenData)
	}
	if !legsAllowed(in.Aggregate, rule.From, rule.To) {
		return drop(ReasonRuleAddress)
	}

	tokens := scale(in.Aggregate.Total, *data.Decimals)
	pct, ok := percentOf(tokens, data.SupplyDenominator())
	if !ok {
		e.logger.Warn("custom rule without supply", zap.String("token", in.Token.Hex()))
		return drop(ReasonNoTokenData)
	}
	if pct.LessThan(decimal.NewFromFloat(rule.SupplyPercent)) {
		return drop(ReasonRuleFloor)
	}

	sig := e.newSignal(in)
	sig.EventType = string(in.Kind)
	if rule.EventName != "" {
		sig.EventType = rule.EventName
	}
	sig.Direction = rule.Direction
	if sig.Direction == "" {
		sig.Direction = model.DefaultDirection(in.Kind)
	}
	sig.Ticker = data.Ticker
	sig.SupplyPercent = pct.InexactFloat64()
	sig.TokenAmount = tokens.InexactFloat64()
	sig.AutoOpen = true
	sig.MessageTier = customTierLabel
	return Result{Signal: sig}
}

// legsAllowed applies a rule's sender and receiver allow-lists. An empty list allows any
// address; otherwise at least one leg endpoint must be listed.
func legsAllowed(agg *model.KindAggregate, from, to []common.Address) bool {
	return anyListed(agg.FromAddresses(), from) && anyListed(agg.ToAddresses(), to)
}

func anyListed(addrs, allowed []common.Address) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, addr := range addrs {
		for _, candidate := range allowed {
			if addr == candidate {
				return true
			}
		}
	}
	return false
}

func (e *Engine) evaluateStandard(ctx context.Context, in Input) Result {
	labels := e.deps.Labels
	var fromMultisig bool
	if labels != nil {
		if labels.IsExchangeSelfTransfer(in.Aggregate) {
			return drop(ReasonExchangeSelfTransfer)
		}
		var ignore bool
		ignore, fromMultisig = labels.MultisigCheck(in.Aggregate)
		if ignore {
			return drop(ReasonMultisig)
		}
	}

	data, ok := e.tokenData(in)
	if !ok {
		e.logger.Warn("no token data", zap.String("token", in.Token.Hex()), zap.String("kind", string(in.Kind)))
		return drop(ReasonNoTokenData)
	}
	tokens := scale(in.Aggregate.Total, *data.Decimals)
	pct, ok := percentOf(tokens, data.SupplyDenominator())
	if !ok {
		e.logger.Warn("token data without supply", zap.String("token", in.Token.Hex()))
		return drop(ReasonNoTokenData)
	}

	if tier, ok := e.cfg.Tiers[in.Kind].Match(pct.InexactFloat64()); ok {
		if reason, blocked := e.blacklisted(ctx, in); blocked {
			return drop(reason)
		}
		sig := e.newSignal(in)
		sig.EventType = string(in.Kind)
		sig.Direction = model.DefaultDirection(in.Kind)
		sig.Ticker = data.Ticker
		sig.SupplyPercent = pct.InexactFloat64()
		sig.TokenAmount = tokens.InexactFloat64()
		sig.FromMultisig = fromMultisig
		applyTier(sig, tier)
		return Result{Signal: sig}
	}

	if in.Kind != model.KindTransfer || e.cfg.USDTiers.Len() == 0 {
		return drop(ReasonNoTier)
	}
	if labels == nil || labels.FilterNames(in.Aggregate).Empty() {
		return drop(ReasonUnlabelled)
	}
	price, err := e.fetchPrice(ctx, in.Token)
	if err != nil {
		e.logger.Warn("price lookup failed", zap.String("token", in.Token.Hex()), zap.Error(err))
		return drop(ReasonPriceError)
	}
	usd := tokens.Mul(decimal.NewFromFloat(price))
	tier, ok := e.cfg.USDTiers.Match(usd.InexactFloat64())
	if !ok {
		return drop(ReasonNoTier)
	}

	sig := e.newSignal(in)
	sig.EventType = model.EventUSDBasedTransfer
	sig.Direction = model.DefaultDirection(in.Kind)
	sig.Ticker = data.Ticker
	sig.SupplyPercent = pct.InexactFloat64()
	sig.TokenAmount = tokens.InexactFloat64()
	sig.USDAmount = usd.InexactFloat64()
	sig.FromMultisig = fromMultisig
	applyTier(sig, tier)
	return Result{Signal: sig}
}

// blacklisted fetches the receipt and reports whether any of its logs carries a
// blacklisted topic0 for the kind.
func (e *Engine) blacklisted(ctx context.Context, in Input) (string, bool) {
	if e.deps.Labels == nil {
		return "", false
	}
	signatures := e.deps.Labels.Blacklist(in.Kind)
	if len(signatures) == 0 || e.deps.Receipts == nil {
		return "", false
	}
	receipt, err := e.deps.Receipts.TransactionReceipt(ctx, in.TxHash)
	if err != nil {
		e.logger.Warn("receipt fetch failed", zap.String("tx", in.TxHash.Hex()), zap.Error(err))
		return ReasonReceiptError, true
	}
	for _, log := range receipt.Logs {
		if log == nil || len(log.Topics) == 0 {
			continue
		}
		if name, ok := signatures[log.Topics[0]]; ok {
			e.logger.Debug("blacklisted signature in receipt",
				zap.String("tx", in.TxHash.Hex()),
				zap.String("signature", name),
			)
			return ReasonBlacklisted, true
		}
	}
	return "", false
}

// tokenData prefers the token table and falls back to a rule snapshot for the token.
func (e *Engine) tokenData(in Input) (model.TokenData, bool) {
	if e.deps.Tokens != nil {
		if data, ok := e.deps.Tokens.Token(e.cfg.Chain, in.Token); ok && data.Decimals != nil {
			return data, true
		}
	}
	if e.deps.Rules != nil {
		for _, kind := range model.Kinds {
			if rule, ok := e.deps.Rules.Rule(e.cfg.Chain, in.Token, kind); ok && rule.TokenData.Decimals != nil {
				return rule.TokenData, true
			}
		}
	}
	return model.TokenData{}, false
}

func (e *Engine) fetchPrice(ctx context.Context, token common.Address) (float64, error) {
	if e.deps.Prices == nil {
		return 0, nil
	}
	return e.deps.Prices.TokenPrice(ctx, e.cfg.Chain, token)
}

func (e *Engine) newSignal(in Input) *model.Signal {
	sig := &model.Signal{
		Contract:      model.LowerHex(in.Token),
		Chain:         strings.ToLower(e.cfg.Chain),
		TxHash:        in.TxHash.Hex(),
		FromAddresses: lowerAll(in.Aggregate.FromAddresses()),
		ToAddresses:   lowerAll(in.Aggregate.ToAddresses()),
		DetectedAt:    e.now(),
	}
	if e.deps.Labels != nil {
		if matches := e.deps.Labels.FilterNames(in.Aggregate); !matches.Empty() {
			sig.FilterMatches = &matches
		}
	}
	return sig
}

func applyTier(sig *model.Signal, tier model.Tier) {
	sig.MessageTier = tier.Label
	sig.AutoOpen = tier.AutoOpen
	if tier.PriceCheck != nil {
		check := *tier.PriceCheck
		sig.PriceCheck = &check
	}
}

func lowerAll(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = model.LowerHex(addr)
	}
	return out
}

// scale converts a raw integer amount into whole tokens.
func scale(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// percentOf returns tokens/supply as a fraction. False when supply is not positive.
func percentOf(tokens, supply decimal.Decimal) (decimal.Decimal, bool) {
	if supply.Sign() <= 0 {
		return decimal.Zero, false
	}
	return tokens.DivRound(supply, 18), true
}
