package uom

import (
	"math"

	"github.com/shopspring/decimal"
)

// Strategy selects how one logical order is distributed across venues
type Strategy string

const (
	StrategyPriority   Strategy = "PRIORITY"
	StrategyRoundRobin Strategy = "ROUND_ROBIN"
	StrategySplitEqual Strategy = "SPLIT_EQUAL"
	StrategyWeighted   Strategy = "WEIGHTED"
	StrategyCustom     Strategy = "CUSTOM"
)

// AllocationConfig holds the active distribution policy
type AllocationConfig struct {
	Strategy Strategy `json:"strategy"`
	// Weights drives WEIGHTED; entries must be positive for active venues
	Weights map[string]float64 `json:"weights,omitempty"`
	// CustomRatios drives CUSTOM; fractions in [0,1] per venue
	CustomRatios map[string]float64 `json:"custom_ratios,omitempty"`
	// Precision is the decimal rounding applied to WEIGHTED shares
	Precision int `json:"precision"`
}

// DefaultAllocationConfig routes everything to the top-priority venue.
func DefaultAllocationConfig() AllocationConfig {
	return AllocationConfig{Strategy: StrategyPriority, Precision: 2}
}

// sumRemainder is the absolute leftover below which CUSTOM does not bother
// redistributing.
const sumRemainder = 1e-5

// allocate distributes amount across the active venues in priority order.
// The returned shares always sum back to amount within 1e-5·amount.
func allocate(cfg AllocationConfig, active []string, amount float64, rrSeq uint64) map[string]float64 {
	if len(active) == 0 {
		return nil
	}

	switch cfg.Strategy {
	case StrategyRoundRobin:
		return map[string]float64{active[rrSeq%uint64(len(active))]: amount}

	case StrategySplitEqual:
		out := make(map[string]float64, len(active))
		share := amount / float64(len(active))
		for _, id := range active {
			out[id] = share
		}
		return out

	case StrategyWeighted:
		return allocateWeighted(cfg, active, amount)

	case StrategyCustom:
		return allocateCustom(cfg, active, amount)

	default: // PRIORITY
		return map[string]float64{active[0]: amount}
	}
}

// allocateWeighted rounds each proportional share to the configured
// precision and redistributes the rounding leftover by largest remainder,
// so the shares sum back to the requested amount exactly.
func allocateWeighted(cfg AllocationConfig, active []string, amount float64) map[string]float64 {
	totalWeight := 0.0
	for _, id := range active {
		if w := cfg.Weights[id]; w > 0 {
			totalWeight += w
		}
	}
	if totalWeight <= 0 {
		return map[string]float64{active[0]: amount}
	}

	precision := cfg.Precision
	if precision <= 0 {
		precision = 2
	}
	step := math.Pow10(-precision)

	type share struct {
		id       string
		floored  float64
		fraction float64
	}
	shares := make([]share, 0, len(active))
	allocated := 0.0
	for _, id := range active {
		w := cfg.Weights[id]
		if w <= 0 {
			continue
		}
		exact := amount * w / totalWeight
		floored, _ := decimal.NewFromFloat(exact).RoundFloor(int32(precision)).Float64()
		shares = append(shares, share{id: id, floored: floored, fraction: exact - floored})
		allocated += floored
	}

	// Hand out the leftover one step at a time, largest fraction first;
	// priority order breaks ties since the scan below is stable.
	units := int(math.Round((amount - allocated) / step))
	for ; units > 0; units-- {
		best := -1
		for i := range shares {
			if best < 0 || shares[i].fraction > shares[best].fraction {
				best = i
			}
		}
		shares[best].floored += step
		shares[best].fraction = 0
	}

	out := make(map[string]float64, len(shares))
	for _, s := range shares {
		out[s.id] = s.floored
	}
	return out
}

// allocateCustom applies fixed per-venue ratios; any unallocated remainder
// above the epsilon goes to the top-priority venue.
func allocateCustom(cfg AllocationConfig, active []string, amount float64) map[string]float64 {
	out := make(map[string]float64)
	allocated := 0.0
	for _, id := range active {
		if ratio := cfg.CustomRatios[id]; ratio > 0 {
			share := amount * ratio
			out[id] = share
			allocated += share
		}
	}
	if remainder := amount - allocated; remainder > sumRemainder {
		out[active[0]] += remainder
	}
	return out
}

// allocationSum totals the shares, for the sum invariant check.
func allocationSum(shares map[string]float64) float64 {
	total := 0.0
	for _, v := range shares {
		total += v
	}
	return total
}
