package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"

	"multi-venue-trading-bot/internal/venue"
)

// MultiSymbolResult contains backtest performance metrics across the
// whole portfolio.
type MultiSymbolResult struct {
	InitialCapital float64                `json:"initial_capital"`
	FinalEquity    float64                `json:"final_equity"`
	NetProfit      float64                `json:"net_profit"`
	ROI            float64                `json:"roi"`
	MaxDrawdown    float64                `json:"max_drawdown"`
	SharpeRatio    float64                `json:"sharpe_ratio"`
	Ticks          int                    `json:"ticks"`
	EquityCurve    []PortfolioEquityPoint `json:"equity_curve"`
	FinalPositions []venue.Position       `json:"final_positions"`
}

// Run replays historical candles through the live update path, one bundle
// per timestamp, and reports portfolio performance. Symbols missing a
// candle at a given timestamp are simply absent from that bundle.
func (c *Coordinator) Run(ctx context.Context, history map[string][]venue.Candle) (*MultiSymbolResult, error) {
	if err := c.Initialize(); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("no historical candles")
	}

	// Bundle candles by timestamp so symbols tick together.
	byTs := make(map[int64]map[string]venue.Candle)
	for symbol, candles := range history {
		for _, candle := range candles {
			bundle, ok := byTs[candle.Timestamp]
			if !ok {
				bundle = make(map[string]venue.Candle)
				byTs[candle.Timestamp] = bundle
			}
			bundle[symbol] = candle
		}
	}
	timestamps := make([]int64, 0, len(byTs))
	for ts := range byTs {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	peak := c.config.TotalCapital
	maxDrawdown := 0.0
	ticks := 0
	for _, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.config.OnTick != nil {
			c.config.OnTick(byTs[ts])
		}
		if err := c.Update(ctx, byTs[ts]); err != nil {
			return nil, fmt.Errorf("tick %d: %w", ts, err)
		}
		ticks++

		equity := c.GetPortfolioEquity()
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	finalEquity := c.GetPortfolioEquity()
	result := &MultiSymbolResult{
		InitialCapital: c.config.TotalCapital,
		FinalEquity:    finalEquity,
		NetProfit:      finalEquity - c.config.TotalCapital,
		MaxDrawdown:    maxDrawdown,
		Ticks:          ticks,
		EquityCurve:    c.GetEquityHistory(),
		FinalPositions: c.GetAllPositions(),
	}
	if c.config.TotalCapital > 0 {
		result.ROI = result.NetProfit / c.config.TotalCapital * 100
	}
	result.SharpeRatio = sharpeRatio(result.EquityCurve)
	return result, nil
}

// sharpeRatio computes mean over standard deviation of per-tick equity
// returns, zero when the curve is too short or flat.
func sharpeRatio(curve []PortfolioEquityPoint) float64 {
	var returns []float64
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Equity > 0 {
			returns = append(returns, curve[i].Equity/curve[i-1].Equity-1)
		}
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
