// Package strategy defines the signal-producing collaborator driven by the
// symbol trading engines, plus a few built-in strategies.
package strategy

import (
	"fmt"
	"time"

	"multi-venue-trading-bot/internal/venue"
)

// Strategy defines the interface for trading strategies
type Strategy interface {
	// Name returns the strategy name
	Name() string

	// Evaluate checks if conditions are met for order placement
	Evaluate(candles []venue.Candle, currentPrice float64) (*Signal, error)
}

// Signal represents a trading signal
type Signal struct {
	Type       SignalType
	Symbol     string
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Reason     string
	Timestamp  time.Time
}

type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalNone SignalType = "NONE"
)

// SMACrossConfig configures the moving-average crossover strategy
type SMACrossConfig struct {
	Symbol      string
	FastPeriod  int
	SlowPeriod  int
	StopLossPct float64 // stop distance as a fraction of entry
	TakePct     float64 // take-profit distance as a fraction of entry
}

// SMACrossStrategy goes long when the fast SMA crosses above the slow SMA
// and flat/short when it crosses below.
type SMACrossStrategy struct {
	config SMACrossConfig
	// lastAbove remembers the relation at the previous candle so only the
	// crossing itself fires, not every candle on one side.
	lastAbove *bool
}

func NewSMACrossStrategy(config SMACrossConfig) *SMACrossStrategy {
	if config.FastPeriod <= 0 {
		config.FastPeriod = 9
	}
	if config.SlowPeriod <= config.FastPeriod {
		config.SlowPeriod = config.FastPeriod * 2
	}
	if config.StopLossPct <= 0 {
		config.StopLossPct = 0.02
	}
	if config.TakePct <= 0 {
		config.TakePct = 0.04
	}
	return &SMACrossStrategy{config: config}
}

func (s *SMACrossStrategy) Name() string {
	return fmt.Sprintf("SMACross-%s-%d-%d", s.config.Symbol, s.config.FastPeriod, s.config.SlowPeriod)
}

func (s *SMACrossStrategy) Evaluate(candles []venue.Candle, currentPrice float64) (*Signal, error) {
	if len(candles) < s.config.SlowPeriod {
		return &Signal{Type: SignalNone}, nil
	}

	fast := CalculateSMA(candles, s.config.FastPeriod)
	slow := CalculateSMA(candles, s.config.SlowPeriod)
	if fast == 0 || slow == 0 {
		return &Signal{Type: SignalNone}, nil
	}

	above := fast > slow
	crossed := s.lastAbove != nil && *s.lastAbove != above
	s.lastAbove = &above

	if !crossed {
		return &Signal{Type: SignalNone}, nil
	}

	if above {
		return &Signal{
			Type:       SignalBuy,
			Symbol:     s.config.Symbol,
			EntryPrice: currentPrice,
			StopLoss:   currentPrice * (1 - s.config.StopLossPct),
			TakeProfit: currentPrice * (1 + s.config.TakePct),
			Reason:     fmt.Sprintf("Fast SMA %.2f crossed above slow SMA %.2f", fast, slow),
			Timestamp:  time.Now(),
		}, nil
	}
	return &Signal{
		Type:       SignalSell,
		Symbol:     s.config.Symbol,
		EntryPrice: currentPrice,
		StopLoss:   currentPrice * (1 + s.config.StopLossPct),
		TakeProfit: currentPrice * (1 - s.config.TakePct),
		Reason:     fmt.Sprintf("Fast SMA %.2f crossed below slow SMA %.2f", fast, slow),
		Timestamp:  time.Now(),
	}, nil
}

// BreakoutConfig configures the breakout strategy
type BreakoutConfig struct {
	Symbol      string
	StopLossPct float64
	TakePct     float64
	MinVolume   float64
}

// BreakoutStrategy triggers when price breaks above the previous candle's high
type BreakoutStrategy struct {
	config BreakoutConfig
}

func NewBreakoutStrategy(config BreakoutConfig) *BreakoutStrategy {
	if config.StopLossPct <= 0 {
		config.StopLossPct = 0.02
	}
	if config.TakePct <= 0 {
		config.TakePct = 0.04
	}
	return &BreakoutStrategy{config: config}
}

func (s *BreakoutStrategy) Name() string {
	return fmt.Sprintf("Breakout-%s", s.config.Symbol)
}

func (s *BreakoutStrategy) Evaluate(candles []venue.Candle, currentPrice float64) (*Signal, error) {
	if len(candles) < 2 {
		return &Signal{Type: SignalNone}, nil
	}

	lastCandle := candles[len(candles)-2]
	if s.config.MinVolume > 0 && lastCandle.Volume < s.config.MinVolume {
		return &Signal{Type: SignalNone}, nil
	}

	if currentPrice > lastCandle.High {
		return &Signal{
			Type:       SignalBuy,
			Symbol:     s.config.Symbol,
			EntryPrice: currentPrice,
			StopLoss:   currentPrice * (1 - s.config.StopLossPct),
			TakeProfit: currentPrice * (1 + s.config.TakePct),
			Reason:     fmt.Sprintf("Price %.2f broke above last candle high %.2f", currentPrice, lastCandle.High),
			Timestamp:  time.Now(),
		}, nil
	}
	return &Signal{Type: SignalNone}, nil
}
