package filter

import (
	"fmt"
	"math"
	"sort"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"onchainScreener/internal/model"
)

// TierTable holds ordered, non-overlapping [min, max) bands keyed by lower bound.
type TierTable struct {
	bands *treemap.Map
}

// NewTierTable validates and indexes tiers. Bands must be well formed and consecutive:
// each band starts where the previous one ends.
func NewTierTable(tiers []model.Tier) (*TierTable, error) {
	sorted := make([]model.Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })

	bands := treemap.NewWith(utils.Float64Comparator)
	for i, tier := range sorted {
		if math.IsNaN(tier.Min) || math.IsNaN(tier.Max) {
			return nil, fmt.Errorf("tier %q: bounds must be numbers", tier.Label)
		}
		if tier.Min >= tier.Max {
			return nil, fmt.Errorf("tier %q: min %v must be below max %v", tier.Label, tier.Min, tier.Max)
		}
		if i > 0 {
			prev := sorted[i-1]
			if tier.Min < prev.Max {
				return nil, fmt.Errorf("tier %q overlaps %q", tier.Label, prev.Label)
			}
			if tier.Min > prev.Max {
				return nil, fmt.Errorf("gap between tier %q and %q", prev.Label, tier.Label)
			}
		}
		bands.Put(tier.Min, tier)
	}
	return &TierTable{bands: bands}, nil
}

// MustTierTable is NewTierTable for static tables.
func MustTierTable(tiers []model.Tier) *TierTable {
	table, err := NewTierTable(tiers)
	if err != nil {
		panic(err)
	}
	return table
}

// Match returns the enabled band containing v.
func (t *TierTable) Match(v float64) (model.Tier, bool) {
	if t == nil || t.bands == nil || t.bands.Empty() || math.IsNaN(v) {
		return model.Tier{}, false
	}
	key, value := t.bands.Floor(v)
	if key == nil {
		return model.Tier{}, false
	}
	tier := value.(model.Tier)
	if !tier.Enabled || !tier.Contains(v) {
		return model.Tier{}, false
	}
	return tier, true
}

// Len returns the number of bands.
func (t *TierTable) Len() int {
	if t == nil || t.bands == nil {
		return 0
	}
	return t.bands.Size()
}
