package portfolio

import (
	"math"

	"multi-venue-trading-bot/internal/venue"
)

// zScore95 is the one-tailed 95% normal quantile used for parametric VaR.
const zScore95 = 1.645

// StressScenario is a named vector of per-symbol price shocks (fractions;
// -0.2 means a 20% drop). DefaultShock applies to symbols without an
// explicit entry.
type StressScenario struct {
	Name         string             `json:"name"`
	Shocks       map[string]float64 `json:"shocks,omitempty"`
	DefaultShock float64            `json:"default_shock"`
}

// DefaultStressScenarios covers broad market moves and a single-asset gap.
func DefaultStressScenarios() []StressScenario {
	return []StressScenario{
		{Name: "market_crash_20", DefaultShock: -0.20},
		{Name: "market_rally_10", DefaultShock: 0.10},
		{Name: "btc_flash_crash", Shocks: map[string]float64{"BTCUSDT": -0.30}},
	}
}

// StressResult is one scenario's linear portfolio impact
type StressResult struct {
	Scenario        string  `json:"scenario"`
	PortfolioImpact float64 `json:"portfolio_impact"`
}

// RiskReport is the portfolio risk analysis output
type RiskReport struct {
	ValueAtRisk       float64        `json:"value_at_risk"`
	ConcentrationRisk float64        `json:"concentration_risk"`
	StressTestResults []StressResult `json:"stress_test_results"`
}

// GetPortfolioRiskAnalysis computes parametric 1-day 95% VaR from the
// correlation matrix and per-symbol return volatilities, the largest
// single-symbol exposure fraction, and the configured stress scenarios.
func (c *Coordinator) GetPortfolioRiskAnalysis() RiskReport {
	equity := c.GetPortfolioEquity()
	exposures := c.signedExposures()
	corr := c.GetCorrelationMatrix()

	c.mu.RLock()
	vols := make(map[string]float64, len(c.symbols))
	symbols := c.symbols
	for _, symbol := range symbols {
		if w, ok := c.returns[symbol]; ok {
			vols[symbol] = w.stddev()
		}
	}
	c.mu.RUnlock()

	// Portfolio variance: w' Σ w with Σ_ij = σ_i σ_j ρ_ij.
	variance := 0.0
	for _, a := range symbols {
		for _, b := range symbols {
			variance += exposures[a] * exposures[b] * vols[a] * vols[b] * corr[a][b]
		}
	}
	valueAtRisk := zScore95 * math.Sqrt(math.Max(variance, 0))

	concentration := 0.0
	if equity > 0 {
		for _, symbol := range symbols {
			if frac := math.Abs(exposures[symbol]) / equity; frac > concentration {
				concentration = frac
			}
		}
	}

	scenarios := c.config.StressScenarios
	if len(scenarios) == 0 {
		scenarios = DefaultStressScenarios()
	}
	stress := make([]StressResult, 0, len(scenarios))
	for _, scenario := range scenarios {
		impact := 0.0
		for _, symbol := range symbols {
			shock, ok := scenario.Shocks[symbol]
			if !ok {
				shock = scenario.DefaultShock
			}
			impact += exposures[symbol] * shock
		}
		stress = append(stress, StressResult{Scenario: scenario.Name, PortfolioImpact: impact})
	}

	return RiskReport{
		ValueAtRisk:       valueAtRisk,
		ConcentrationRisk: concentration,
		StressTestResults: stress,
	}
}

// signedExposures returns mark-to-market position value per symbol, longs
// positive and shorts negative.
func (c *Coordinator) signedExposures() map[string]float64 {
	out := make(map[string]float64)
	for _, pos := range c.GetAllPositions() {
		value := pos.Amount * pos.CurrentPrice
		if pos.Side == venue.SideSell {
			value = -value
		}
		out[pos.Symbol] += value
	}
	return out
}
