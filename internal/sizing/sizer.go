// Package sizing computes venue-valid order sizes from the account balance,
// the stop distance and the per-trade risk budget, honoring each symbol's
// market constraints.
package sizing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"multi-venue-trading-bot/internal/symbolinfo"
	"multi-venue-trading-bot/internal/venue"
)

// ErrSizingFailed is returned when no valid size can be produced
var ErrSizingFailed = errors.New("order sizing failed")

// Config holds the sizing parameters
type Config struct {
	// RiskPercentage is the fraction of the balance risked per trade
	RiskPercentage float64
	// MinStopDistancePercentage substitutes degenerate stop distances
	MinStopDistancePercentage float64
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		RiskPercentage:            0.01,
		MinStopDistancePercentage: 0.01,
	}
}

// Sizer computes order sizes for one venue using its symbol info cache.
type Sizer struct {
	cache   *symbolinfo.Cache
	gateway venue.Gateway
	config  Config
	logger  zerolog.Logger
}

// New creates a sizer.
func New(cache *symbolinfo.Cache, gateway venue.Gateway, config Config, logger zerolog.Logger) *Sizer {
	if config.RiskPercentage <= 0 {
		config.RiskPercentage = 0.01
	}
	if config.MinStopDistancePercentage <= 0 {
		config.MinStopDistancePercentage = 0.01
	}
	return &Sizer{
		cache:   cache,
		gateway: gateway,
		config:  config,
		logger:  logger.With().Str("component", "sizing").Logger(),
	}
}

// CalculateOrderSize produces a venue-valid size for the symbol.
// currentPrice and riskPercentage may be zero to use the ticker price and
// the configured risk fraction.
func (s *Sizer) CalculateOrderSize(ctx context.Context, symbol string, accountBalance, stopDistance, currentPrice, riskPercentage float64) (float64, error) {
	if accountBalance <= 0 {
		return 0, fmt.Errorf("%w: non-positive balance", ErrSizingFailed)
	}
	if riskPercentage <= 0 {
		riskPercentage = s.config.RiskPercentage
	}

	info, err := s.cache.GetSymbolInfo(ctx, symbol, symbolinfo.Options{})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSizingFailed, err)
	}

	if currentPrice <= 0 {
		ticker, err := s.gateway.FetchTicker(ctx, symbol)
		if err != nil {
			return 0, fmt.Errorf("%w: ticker fetch: %v", ErrSizingFailed, err)
		}
		currentPrice = ticker.Last
	}
	if currentPrice <= 0 {
		return 0, fmt.Errorf("%w: no current price for %s", ErrSizingFailed, symbol)
	}

	// Degenerate stop distances would explode the size; substitute a floor.
	if stopDistance <= 0 || stopDistance < currentPrice*1e-4 {
		substituted := currentPrice * s.config.MinStopDistancePercentage
		s.logger.Warn().
			Str("symbol", symbol).
			Float64("stop_distance", stopDistance).
			Float64("substituted", substituted).
			Msg("Stop distance below minimum, substituting")
		stopDistance = substituted
	}

	rawSize := (accountBalance * riskPercentage) / stopDistance

	// Constraint priority: the minAmount floor is terminal. Enlarging a
	// floored size further to satisfy minCost would overshoot the caller's
	// risk budget twice over.
	switch {
	case rawSize < info.MinAmount:
		rawSize = info.MinAmount
	case info.MinCost > 0 && rawSize*currentPrice < info.MinCost:
		rawSize = info.MinCost / currentPrice
	}
	if info.MaxAmount > 0 && rawSize > info.MaxAmount {
		rawSize = info.MaxAmount
	}

	// Round down, never up, so the risk cap survives rounding.
	size := roundDown(rawSize, info.AmountPrecision)
	if size <= 0 {
		return 0, fmt.Errorf("%w: size rounds to zero for %s", ErrSizingFailed, symbol)
	}
	return size, nil
}

// CalculateMultiple sizes several symbols in parallel; failed symbols are
// omitted from the result.
func (s *Sizer) CalculateMultiple(ctx context.Context, symbols []string, accountBalance float64, stopDistances, currentPrices map[string]float64, riskPercentage float64) map[string]float64 {
	type res struct {
		symbol string
		size   float64
	}
	ch := make(chan res, len(symbols))

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			size, err := s.CalculateOrderSize(ctx, sym, accountBalance, stopDistances[sym], currentPrices[sym], riskPercentage)
			if err != nil {
				s.logger.Warn().Err(err).Str("symbol", sym).Msg("Sizing failed, omitting")
				return
			}
			ch <- res{symbol: sym, size: size}
		}(symbol)
	}
	wg.Wait()
	close(ch)

	out := make(map[string]float64)
	for r := range ch {
		out[r.symbol] = r.size
	}
	return out
}

// RoundPriceToTickSize floors the price to the symbol's tick grid, falling
// back to the price precision when no tick size is known.
func (s *Sizer) RoundPriceToTickSize(ctx context.Context, symbol string, price float64) (float64, error) {
	info, err := s.cache.GetSymbolInfo(ctx, symbol, symbolinfo.Options{})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSizingFailed, err)
	}
	if info.TickSize > 0 {
		tick := decimal.NewFromFloat(info.TickSize)
		p := decimal.NewFromFloat(price)
		floored, _ := p.Div(tick).Floor().Mul(tick).Float64()
		return floored, nil
	}
	return roundDown(price, info.PricePrecision), nil
}

// roundDown truncates v to the given number of decimals.
func roundDown(v float64, decimals int) float64 {
	out, _ := decimal.NewFromFloat(v).RoundFloor(int32(decimals)).Float64()
	return out
}
