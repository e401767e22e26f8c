package model

import "math"

// PriceCheck carries the delayed price-check parameters attached to a tier.
type PriceCheck struct {
	DelayMinutes int     `mapstructure:"delay-minutes" json:"delay_minutes"`
	DropPercent  float64 `mapstructure:"drop-percent" json:"drop_percent"`
}

// Tier is a [Min, Max) band over supply percent or USD size.
type Tier struct {
	Enabled    bool        `mapstructure:"enabled"`
	Min        float64     `mapstructure:"min"`
	Max        float64     `mapstructure:"max"`
	Label      string      `mapstructure:"label"`
	AutoOpen   bool        `mapstructure:"auto-open"`
	PriceCheck *PriceCheck `mapstructure:"price-check"`
}

// Contains reports whether v falls inside the band.
func (t Tier) Contains(v float64) bool {
	return t.Min <= v && v < t.Max
}

// Unbounded is the upper bound of the last band.
var Unbounded = math.Inf(1)
