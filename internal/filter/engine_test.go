package filter

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchainScreener/internal/labels"
	"onchainScreener/internal/model"
)

var (
	token     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	alice     = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob       = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	binanceA  = common.HexToAddress("0xbbbb000000000000000000000000000000000001")
	binanceB  = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
	multisig  = common.HexToAddress("0x5afe000000000000000000000000000000000001")
	watchedA  = common.HexToAddress("0xa1fa000000000000000000000000000000000001")
	watchedB  = common.HexToAddress("0xa1fa000000000000000000000000000000000002")
	swapTopic = common.HexToHash("0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822")
	txHash    = common.HexToHash("0xfeed")
)

func u8(v uint8) *uint8 { return &v }

// units returns n whole tokens at 18 decimals.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func transferAgg(total *big.Int, legs ...model.Leg) *model.KindAggregate {
	return &model.KindAggregate{Total: total, Legs: legs}
}

type staticLabels labels.Data

func (s staticLabels) Load(context.Context) (labels.Data, error) { return labels.Data(s), nil }

type fakeRules map[model.EventKind]model.CustomRule

func (f fakeRules) Rule(_ string, addr common.Address, kind model.EventKind) (model.CustomRule, bool) {
	if addr != token {
		return model.CustomRule{}, false
	}
	rule, ok := f[kind]
	return rule, ok
}

type fakeTokens map[common.Address]model.TokenData

func (f fakeTokens) Token(_ string, addr common.Address) (model.TokenData, bool) {
	data, ok := f[addr]
	return data, ok
}

type fakePrices struct {
	price float64
	err   error
	calls int
}

func (f *fakePrices) TokenPrice(context.Context, string, common.Address) (float64, error) {
	f.calls++
	return f.price, f.err
}

type fakeReceipts struct {
	receipt *types.Receipt
	err     error
	calls   int
}

func (f *fakeReceipts) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.calls++
	return f.receipt, f.err
}

func transferTiers() *TierTable {
	return MustTierTable([]model.Tier{
		{Enabled: true, Min: 0.1, Max: 0.15, Label: "low"},
		{Enabled: true, Min: 0.15, Max: 0.3, Label: "medium"},
		{Enabled: true, Min: 0.3, Max: 0.5, Label: "high", PriceCheck: &model.PriceCheck{DelayMinutes: 15, DropPercent: 5}},
		{Enabled: true, Min: 0.5, Max: model.Unbounded, Label: "extreme", AutoOpen: true},
	})
}

type fixture struct {
	labels   *labels.Store
	rules    fakeRules
	tokens   fakeTokens
	prices   *fakePrices
	receipts *fakeReceipts
	watch    *Watch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		rules: fakeRules{},
		tokens: fakeTokens{token: {
			Ticker:            "TKN",
			Decimals:          u8(18),
			CirculatingSupply: decimal.NewFromInt(2_000_000),
			TotalSupply:       decimal.NewFromInt(10_000_000),
		}},
		prices:   &fakePrices{price: 2},
		receipts: &fakeReceipts{receipt: &types.Receipt{}},
	}
}

func (f *fixture) withLabels(t *testing.T, data labels.Data) {
	t.Helper()
	f.labels = labels.NewStore(staticLabels(data), nil, nil)
	require.NoError(t, f.labels.Reload(context.Background()))
}

func (f *fixture) engine(t *testing.T) *Engine {
	t.Helper()
	if f.labels == nil {
		f.withLabels(t, labels.Data{})
	}
	return NewEngine(Config{
		Chain: "ethereum",
		Tiers: map[model.EventKind]*TierTable{
			model.KindTransfer: transferTiers(),
			model.KindMint:     transferTiers(),
			model.KindBurn:     transferTiers(),
		},
		USDTiers: MustTierTable([]model.Tier{
			{Enabled: true, Min: 100_000, Max: model.Unbounded, Label: "usd", AutoOpen: false},
		}),
		Watch: f.watch,
	}, Deps{
		Labels:   f.labels,
		Rules:    f.rules,
		Tokens:   f.tokens,
		Prices:   f.prices,
		Receipts: f.receipts,
	})
}

func evaluate(t *testing.T, e *Engine, kind model.EventKind, agg *model.KindAggregate) Result {
	t.Helper()
	return e.Evaluate(context.Background(), Input{TxHash: txHash, Token: token, Kind: kind, Aggregate: agg})
}

func TestTierTableBoundaries(t *testing.T) {
	table := transferTiers()
	cases := []struct {
		value float64
		label string
		ok    bool
	}{
		{0.05, "", false},
		{0.1, "low", true},
		{0.1499, "low", true},
		{0.15, "medium", true},
		{0.25, "medium", true},
		{0.3, "high", true},
		{0.35, "high", true},
		{0.5, "extreme", true},
		{1e9, "extreme", true},
	}
	for _, tc := range cases {
		tier, ok := table.Match(tc.value)
		assert.Equal(t, tc.ok, ok, "value %v", tc.value)
		assert.Equal(t, tc.label, tier.Label, "value %v", tc.value)
	}
}

func TestTierTableSkipsDisabledBand(t *testing.T) {
	table := MustTierTable([]model.Tier{
		{Enabled: false, Min: 0, Max: 1, Label: "off"},
		{Enabled: true, Min: 1, Max: 2, Label: "on"},
	})
	_, ok := table.Match(0.5)
	assert.False(t, ok)
	tier, ok := table.Match(1.5)
	require.True(t, ok)
	assert.Equal(t, "on", tier.Label)
}

func TestNewTierTableValidation(t *testing.T) {
	_, err := NewTierTable([]model.Tier{{Min: 0.3, Max: 0.1}})
	assert.ErrorContains(t, err, "must be below")

	_, err = NewTierTable([]model.Tier{{Min: 0.1, Max: 0.3, Label: "a"}, {Min: 0.2, Max: 0.4, Label: "b"}})
	assert.ErrorContains(t, err, "overlaps")

	_, err = NewTierTable([]model.Tier{{Min: 0.1, Max: 0.2, Label: "a"}, {Min: 0.3, Max: 0.4, Label: "b"}})
	assert.ErrorContains(t, err, "gap")

	table, err := NewTierTable(nil)
	require.NoError(t, err)
	assert.Zero(t, table.Len())
}

// 0.25 sits in the [0.15, 0.3) band: medium, not high. The band table is authoritative here.
func TestStandardQuarterOfSupplyIsMedium(t *testing.T) {
	f := newFixture(t)
	raw, _ := new(big.Int).SetString("500000000000000000000000", 10)

	res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(raw, model.Leg{From: alice, To: bob, Amount: raw}))
	require.True(t, res.Matched(), "reason %s", res.Reason)
	sig := res.Signal
	assert.InDelta(t, 0.25, sig.SupplyPercent, 1e-12)
	assert.Equal(t, "medium", sig.MessageTier)
	assert.False(t, sig.AutoOpen)
	assert.Equal(t, model.Short, sig.Direction)
	assert.Equal(t, "transfer", sig.EventType)
	assert.Equal(t, "TKN", sig.Ticker)
	assert.Equal(t, "ethereum", sig.Chain)
	assert.Equal(t, txHash.Hex(), sig.TxHash)
	assert.Equal(t, []string{model.LowerHex(alice)}, sig.FromAddresses)
	assert.Equal(t, []string{model.LowerHex(bob)}, sig.ToAddresses)
	assert.InDelta(t, 500000, sig.TokenAmount, 1e-6)
	assert.Nil(t, sig.FilterMatches)
}

func TestStandardHighTierCarriesPriceCheck(t *testing.T) {
	f := newFixture(t)
	amount := units(700_000)

	res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(amount, model.Leg{From: alice, To: bob, Amount: amount}))
	require.True(t, res.Matched())
	assert.Equal(t, "high", res.Signal.MessageTier)
	require.NotNil(t, res.Signal.PriceCheck)
	assert.Equal(t, 15, res.Signal.PriceCheck.DelayMinutes)
}

func TestStandardExactLowerBoundSelectsMedium(t *testing.T) {
	f := newFixture(t)
	amount := units(300_000)

	res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(amount, model.Leg{From: alice, To: bob, Amount: amount}))
	require.True(t, res.Matched())
	assert.Equal(t, "medium", res.Signal.MessageTier)
}

func TestStandardUsesTotalSupplyWhenCirculatingIsZero(t *testing.T) {
	f := newFixture(t)
	f.tokens[token] = model.TokenData{Ticker: "TKN", Decimals: u8(18), TotalSupply: decimal.NewFromInt(1_000_000)}
	amount := units(600_000)

	res := evaluate(t, f.engine(t), model.KindBurn, transferAgg(amount, model.Leg{From: alice, To: common.Address{}, Amount: amount}))
	require.True(t, res.Matched())
	assert.InDelta(t, 0.6, res.Signal.SupplyPercent, 1e-12)
	assert.Equal(t, "extreme", res.Signal.MessageTier)
	assert.True(t, res.Signal.AutoOpen)
	assert.Equal(t, model.Long, res.Signal.Direction)
}

func TestStandardMissingTokenData(t *testing.T) {
	f := newFixture(t)
	delete(f.tokens, token)
	amount := units(900_000)

	res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(amount, model.Leg{From: alice, To: bob, Amount: amount}))
	assert.False(t, res.Matched())
	assert.Equal(t, ReasonNoTokenData, res.Reason)

	f.tokens[token] = model.TokenData{Ticker: "TKN", CirculatingSupply: decimal.NewFromInt(1)}
	res = evaluate(t, f.engine(t), model.KindTransfer, transferAgg(amount, model.Leg{From: alice, To: bob, Amount: amount}))
	assert.Equal(t, ReasonNoTokenData, res.Reason)
}

func TestExchangeSelfTransferSuppressedBeforeTiers(t *testing.T) {
	f := newFixture(t)
	f.withLabels(t, labels.Data{Labels: map[string]string{
		model.LowerHex(binanceA): "Binance 14",
		model.LowerHex(binanceB): "Binance Hot Wallet",
	}})
	amount := units(1_500_000)

	res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(amount, model.Leg{From: binanceA, To: binanceB, Amount: amount}))
	assert.False(t, res.Matched())
	assert.Equal(t, ReasonExchangeSelfTransfer, res.Reason)
	assert.Zero(t, f.receipts.calls)
}

func TestMultisigLegs(t *testing.T) {
	f := newFixture(t)
	f.withLabels(t, labels.Data{Multisig: map[string]struct{}{model.LowerHex(multisig): {}}})
	e := f.engine(t)
	amount := units(700_000)

	res := evaluate(t, e, model.KindTransfer, transferAgg(amount, model.Leg{From: alice, To: multisig, Amount: amount}))
	assert.Equal(t, ReasonMultisig, res.Reason)

	res = evaluate(t, e, model.KindTransfer, transferAgg(amount, model.Leg{From: multisig, To: bob, Amount: amount}))
	require.True(t, res.Matched())
	assert.True(t, res.Signal.FromMultisig)
}

func TestBlacklistReceiptCheck(t *testing.T) {
	amount := units(700_000)
	agg := transferAgg(amount, model.Leg{From: alice, To: bob, Amount: amount})
	blacklist := labels.Data{Signatures: map[model.EventKind]map[common.Hash]string{
		model.KindTransfer: {swapTopic: "Swap"},
	}}

	t.Run("blacklisted", func(t *testing.T) {
		f := newFixture(t)
		f.withLabels(t, blacklist)
		f.receipts.receipt = &types.Receipt{Logs: []*types.Log{
			{Topics: []common.Hash{common.HexToHash("0x01")}},
			{Topics: []common.Hash{swapTopic}},
		}}
		res := evaluate(t, f.engine(t), model.KindTransfer, agg)
		assert.Equal(t, ReasonBlacklisted, res.Reason)
		assert.Equal(t, 1, f.receipts.calls)
	})

	t.Run("clean receipt", func(t *testing.T) {
		f := newFixture(t)
		f.withLabels(t, blacklist)
		f.receipts.receipt = &types.Receipt{Logs: []*types.Log{{Topics: []common.Hash{common.HexToHash("0x01")}}}}
		res := evaluate(t, f.engine(t), model.KindTransfer, agg)
		assert.True(t, res.Matched())
	})

	t.Run("receipt error", func(t *testing.T) {
		f := newFixture(t)
		f.withLabels(t, blacklist)
		f.receipts.err = errors.New("not found")
		res := evaluate(t, f.engine(t), model.KindTransfer, agg)
		assert.Equal(t, ReasonReceiptError, res.Reason)
	})

	t.Run("other kind not checked", func(t *testing.T) {
		f := newFixture(t)
		f.withLabels(t, blacklist)
		res := evaluate(t, f.engine(t), model.KindMint, transferAgg(amount, model.Leg{To: bob, Amount: amount}))
		assert.True(t, res.Matched())
		assert.Zero(t, f.receipts.calls)
	})
}

func TestUSDFallback(t *testing.T) {
	amount := units(100_000)

	t.Run("labelled participant", func(t *testing.T) {
		f := newFixture(t)
		f.withLabels(t, labels.Data{Labels: map[string]string{model.LowerHex(alice): "Wintermute"}})
		res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(amount, model.Leg{From: alice, To: bob, Amount: amount}))
		require.True(t, res.Matched(), "reason %s", res.Reason)
		sig := res.Signal
		assert.Equal(t, model.EventUSDBasedTransfer, sig.EventType)
		assert.InDelta(t, 200_000, sig.USDAmount, 1e-6)
		assert.InDelta(t, 0.05, sig.SupplyPercent, 1e-12)
		assert.Equal(t, "usd", sig.MessageTier)
		require.NotNil(t, sig.FilterMatches)
		assert.Equal(t, "Wintermute", sig.FilterMatches.From[model.LowerHex(alice)])
	})

	t.Run("unlabelled", func(t *testing.T) {
		f := newFixture(t)
		res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(amount, model.Leg{From: alice, To: bob, Amount: amount}))
		assert.Equal(t, ReasonUnlabelled, res.Reason)
		assert.Zero(t, f.prices.calls)
	})

	t.Run("below usd minimum", func(t *testing.T) {
		f := newFixture(t)
		f.withLabels(t, labels.Data{Labels: map[string]string{model.LowerHex(bob): "Wintermute"}})
		f.prices.price = 0.5
		res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(amount, model.Leg{From: alice, To: bob, Amount: amount}))
		assert.Equal(t, ReasonNoTier, res.Reason)
	})

	t.Run("price error", func(t *testing.T) {
		f := newFixture(t)
		f.withLabels(t, labels.Data{Labels: map[string]string{model.LowerHex(bob): "Wintermute"}})
		f.prices.err = errors.New("rate limited")
		res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(amount, model.Leg{From: alice, To: bob, Amount: amount}))
		assert.Equal(t, ReasonPriceError, res.Reason)
	})

	t.Run("mint has no fallback", func(t *testing.T) {
		f := newFixture(t)
		f.withLabels(t, labels.Data{Labels: map[string]string{model.LowerHex(bob): "Wintermute"}})
		res := evaluate(t, f.engine(t), model.KindMint, transferAgg(amount, model.Leg{To: bob, Amount: amount}))
		assert.Equal(t, ReasonNoTier, res.Reason)
		assert.Zero(t, f.prices.calls)
	})
}

func quarterRule(floor float64) model.CustomRule {
	return model.CustomRule{
		Chain:         "ETHEREUM",
		Token:         token,
		Kind:          model.KindTransfer,
		Direction:     model.Long,
		EventName:     "team_unlock",
		SupplyPercent: floor,
		TokenData: model.TokenData{
			Ticker:            "RULE",
			Decimals:          u8(18),
			CirculatingSupply: decimal.NewFromInt(2_000_000),
		},
	}
}

func TestCustomRuleFloorDrops(t *testing.T) {
	f := newFixture(t)
	f.rules[model.KindTransfer] = quarterRule(0.5)
	raw := units(500_000)

	res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(raw, model.Leg{From: alice, To: bob, Amount: raw}))
	assert.False(t, res.Matched())
	assert.Equal(t, ReasonRuleFloor, res.Reason)
}

func TestCustomRuleSupersedesStandardPath(t *testing.T) {
	f := newFixture(t)
	f.withLabels(t, labels.Data{Labels: map[string]string{
		model.LowerHex(binanceA): "Binance 14",
		model.LowerHex(binanceB): "Binance 7",
	}})
	f.rules[model.KindTransfer] = quarterRule(0.2)
	raw := units(500_000)

	res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(raw, model.Leg{From: binanceA, To: binanceB, Amount: raw}))
	require.True(t, res.Matched(), "reason %s", res.Reason)
	sig := res.Signal
	assert.True(t, sig.AutoOpen)
	assert.Equal(t, "Custom event", sig.MessageTier)
	assert.Equal(t, "team_unlock", sig.EventType)
	assert.Equal(t, model.Long, sig.Direction)
	assert.Equal(t, "RULE", sig.Ticker)
	assert.InDelta(t, 0.25, sig.SupplyPercent, 1e-12)
}

func TestCustomRuleWithIncompleteSnapshotBlocksStandardPath(t *testing.T) {
	raw := units(700_000)
	agg := transferAgg(raw, model.Leg{From: alice, To: bob, Amount: raw})

	noDecimals := quarterRule(0.1)
	noDecimals.TokenData.Decimals = nil
	noSupply := quarterRule(0.1)
	noSupply.TokenData.CirculatingSupply = decimal.Zero

	for name, rule := range map[string]model.CustomRule{"no decimals": noDecimals, "no supply": noSupply} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.rules[model.KindTransfer] = rule

			res := evaluate(t, f.engine(t), model.KindTransfer, agg)
			assert.False(t, res.Matched())
			assert.Equal(t, ReasonNoTokenData, res.Reason)
		})
	}
}

func TestCustomRuleAllowLists(t *testing.T) {
	raw := units(500_000)
	agg := transferAgg(raw, model.Leg{From: alice, To: bob, Amount: raw})

	cases := []struct {
		name    string
		from    []common.Address
		to      []common.Address
		matched bool
	}{
		{"sender listed", []common.Address{alice}, nil, true},
		{"sender not listed", []common.Address{bob}, nil, false},
		{"both sides listed", []common.Address{alice}, []common.Address{bob}, true},
		{"receiver side fails", []common.Address{alice}, []common.Address{alice}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rule := quarterRule(0.1)
			rule.From, rule.To = tc.from, tc.to
			f.rules[model.KindTransfer] = rule

			res := evaluate(t, f.engine(t), model.KindTransfer, agg)
			assert.Equal(t, tc.matched, res.Matched())
			if !tc.matched {
				assert.Equal(t, ReasonRuleAddress, res.Reason)
			}
		})
	}
}

func TestCustomRuleDefaultsDirectionAndName(t *testing.T) {
	f := newFixture(t)
	rule := quarterRule(0.1)
	rule.Kind = model.KindMint
	rule.Direction = ""
	rule.EventName = ""
	f.rules[model.KindMint] = rule
	raw := units(500_000)

	res := evaluate(t, f.engine(t), model.KindMint, transferAgg(raw, model.Leg{To: bob, Amount: raw}))
	require.True(t, res.Matched())
	assert.Equal(t, "mint", res.Signal.EventType)
	assert.Equal(t, model.Short, res.Signal.Direction)
}

func TestWatchedWalletFastPath(t *testing.T) {
	f := newFixture(t)
	f.watch = &Watch{
		Wallets:    []common.Address{watchedA, watchedB},
		RecheckUSD: 50_000,
		Tiers: MustTierTable([]model.Tier{
			{Enabled: true, Min: 10_000, Max: model.Unbounded, Label: "alpha", AutoOpen: true},
		}),
	}
	// Rules and labels never apply to watched transfers.
	f.rules[model.KindTransfer] = quarterRule(0.9)
	e := f.engine(t)

	agg := transferAgg(units(15_000),
		model.Leg{From: alice, To: bob, Amount: units(1)},
		model.Leg{From: alice, To: watchedB, Amount: units(10_000)},
		model.Leg{From: bob, To: watchedB, Amount: units(5_000)},
		model.Leg{From: bob, To: watchedA, Amount: units(99_000)},
	)
	res := evaluate(t, e, model.KindTransfer, agg)
	require.True(t, res.Matched(), "reason %s", res.Reason)
	sig := res.Signal
	assert.Equal(t, model.EventWatchedWallet, sig.EventType)
	assert.Equal(t, model.Long, sig.Direction)
	assert.Equal(t, model.LowerHex(watchedB), sig.WalletAddress)
	assert.Equal(t, 2, sig.WalletIndex)
	assert.InDelta(t, 30_000, sig.USDAmount, 1e-6)
	assert.True(t, sig.AutoOpen)
	assert.Equal(t, 1, f.prices.calls)

	// Cached price keeps small transfers off the provider.
	res = evaluate(t, e, model.KindTransfer, agg)
	require.True(t, res.Matched())
	assert.Equal(t, 1, f.prices.calls)

	// A cached value at or above the recheck size refreshes the price.
	f.prices.price = 3
	large := transferAgg(units(40_000), model.Leg{From: alice, To: watchedA, Amount: units(40_000)})
	res = evaluate(t, e, model.KindTransfer, large)
	require.True(t, res.Matched())
	assert.Equal(t, 2, f.prices.calls)
	assert.InDelta(t, 120_000, res.Signal.USDAmount, 1e-6)
	assert.Equal(t, 1, res.Signal.WalletIndex)
}

func TestWatchedWalletUnknownPriceIsRefetched(t *testing.T) {
	f := newFixture(t)
	f.prices.price = 0
	f.watch = &Watch{
		Wallets:    []common.Address{watchedA},
		RecheckUSD: 50_000,
		Tiers:      MustTierTable([]model.Tier{{Enabled: true, Min: 10_000, Max: model.Unbounded, Label: "alpha"}}),
	}
	e := f.engine(t)
	agg := transferAgg(units(20_000), model.Leg{From: alice, To: watchedA, Amount: units(20_000)})

	res := evaluate(t, e, model.KindTransfer, agg)
	assert.Equal(t, ReasonNoTier, res.Reason)
	assert.Equal(t, 1, f.prices.calls)

	f.prices.price = 2
	res = evaluate(t, e, model.KindTransfer, agg)
	require.True(t, res.Matched(), "reason %s", res.Reason)
	assert.Equal(t, 2, f.prices.calls)
	assert.InDelta(t, 40_000, res.Signal.USDAmount, 1e-6)
}

func TestWatchedWalletBelowTier(t *testing.T) {
	f := newFixture(t)
	f.watch = &Watch{
		Wallets: []common.Address{watchedA},
		Tiers:   MustTierTable([]model.Tier{{Enabled: true, Min: 10_000, Max: model.Unbounded, Label: "alpha"}}),
	}
	res := evaluate(t, f.engine(t), model.KindTransfer, transferAgg(units(10), model.Leg{From: alice, To: watchedA, Amount: units(10)}))
	assert.Equal(t, ReasonNoTier, res.Reason)
}

func TestEvaluateTxOrdersAndSkipsDrops(t *testing.T) {
	f := newFixture(t)
	other := common.HexToAddress("0x0000000000000000000000000000000000000abc")
	e := f.engine(t)

	amount := units(700_000)
	events := model.TxEvents{
		token: {
			model.KindBurn:     transferAgg(amount, model.Leg{From: alice, To: common.Address{}, Amount: amount}),
			model.KindTransfer: transferAgg(amount, model.Leg{From: alice, To: bob, Amount: amount}),
		},
		other: {
			model.KindTransfer: transferAgg(amount, model.Leg{From: alice, To: bob, Amount: amount}),
		},
	}
	signals := e.EvaluateTx(context.Background(), txHash, events)
	require.Len(t, signals, 2)
	assert.Equal(t, "transfer", signals[0].EventType)
	assert.Equal(t, "burn", signals[1].EventType)
}

func TestEvaluateEmptyAggregate(t *testing.T) {
	f := newFixture(t)
	res := evaluate(t, f.engine(t), model.KindTransfer, &model.KindAggregate{Total: big.NewInt(0)})
	assert.Equal(t, ReasonEmpty, res.Reason)
	res = evaluate(t, f.engine(t), model.KindTransfer, nil)
	assert.Equal(t, ReasonEmpty, res.Reason)
}
