package config

import (
	"fmt"

	"onchainScreener/internal/filter"
	"onchainScreener/internal/model"
)

var defaultTiers = map[model.EventKind][]model.Tier{
	model.KindTransfer: supplyBands(0.1, 0.15, 0.3, 0.5),
	model.KindMint:     supplyBands(0.1, 0.15, 0.3, 0.5),
	model.KindBurn:     supplyBands(0.05, 0.1, 0.15, 0.2),
}

// supplyBands builds the low/medium/high/extreme ladder starting at the given edges.
// Only the open-ended extreme band auto-opens.
func supplyBands(edges ...float64) []model.Tier {
	labels := []string{"🟢 low", "🟡 medium", "🔴 high", "🚨 extreme"}
	tiers := make([]model.Tier, len(edges))
	for i, lo := range edges {
		hi := model.Unbounded
		if i+1 < len(edges) {
			hi = edges[i+1]
		}
		tiers[i] = model.Tier{Enabled: true, Min: lo, Max: hi, Label: labels[i]}
	}
	tiers[len(tiers)-1].AutoOpen = true
	return tiers
}

// DefaultTiers returns a copy of the built-in supply-percent ladder for kind.
func DefaultTiers(kind model.EventKind) []model.Tier {
	return append([]model.Tier(nil), defaultTiers[kind]...)
}

// openEnded treats a zero max on the last band as unbounded so config files can omit it.
func openEnded(tiers []model.Tier) []model.Tier {
	out := append([]model.Tier(nil), tiers...)
	if n := len(out); n > 0 && out[n-1].Max == 0 {
		out[n-1].Max = model.Unbounded
	}
	return out
}

// TierTables builds the validated supply-percent tables for every kind.
func (c Config) TierTables() (map[model.EventKind]*filter.TierTable, error) {
	out := make(map[model.EventKind]*filter.TierTable, len(model.Kinds))
	for _, kind := range model.Kinds {
		tiers, ok := c.Tiers[kind]
		if !ok {
			tiers = DefaultTiers(kind)
		}
		table, err := filter.NewTierTable(openEnded(tiers))
		if err != nil {
			return nil, fmt.Errorf("tiers.%s: %w", kind, err)
		}
		out[kind] = table
	}
	return out, nil
}

// USDTierTable builds the USD fallback table. It is nil when no bands are configured.
func (c Config) USDTierTable() (*filter.TierTable, error) {
	if len(c.USDTiers) == 0 {
		return nil, nil
	}
	table, err := filter.NewTierTable(openEnded(c.USDTiers))
	if err != nil {
		return nil, fmt.Errorf("usd-tiers: %w", err)
	}
	return table, nil
}

// Build turns the watch section into the filter's watched-wallet settings.
func (w WatchConfig) Build() (*filter.Watch, error) {
	wallets, err := w.Addresses()
	if err != nil {
		return nil, err
	}
	if len(w.Tiers) == 0 {
		return nil, fmt.Errorf("tiers are required")
	}
	tiers, err := filter.NewTierTable(openEnded(w.Tiers))
	if err != nil {
		return nil, fmt.Errorf("tiers: %w", err)
	}
	watch := &filter.Watch{
		Wallets:    wallets,
		EventName:  w.EventName,
		RecheckUSD: w.RecheckUSD,
		Tiers:      tiers,
	}
	if w.Direction != "" {
		if watch.Direction, err = model.ParseDirection(w.Direction); err != nil {
			return nil, err
		}
	}
	return watch, nil
}
