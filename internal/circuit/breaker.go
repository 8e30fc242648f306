// Package circuit implements the portfolio-level trading circuit breaker.
// When tripped it drives the coordinator into risk reduction or emergency
// mode rather than halting the process.
package circuit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"multi-venue-trading-bot/internal/events"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Trading halted
	StateHalfOpen BreakerState = "half_open" // Cooldown elapsed, testing recovery
)

// Config holds circuit breaker thresholds
type Config struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxDailyLossPercent  float64 `json:"max_daily_loss_percent"`
	CooldownMinutes      int     `json:"cooldown_minutes"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxConsecutiveLosses: 5,
		MaxDailyLossPercent:  5.0,
		CooldownMinutes:      30,
	}
}

// Breaker tracks realized trade results and trips on loss streaks or a
// daily drawdown breach.
type Breaker struct {
	mu                sync.RWMutex
	config            Config
	state             BreakerState
	consecutiveLosses int
	dailyLoss         float64
	dailyResetTime    time.Time
	lastTripTime      time.Time
	tripReason        string
	bus               *events.Bus
	logger            zerolog.Logger
}

// New creates a breaker.
func New(config Config, bus *events.Bus, logger zerolog.Logger) *Breaker {
	return &Breaker{
		config:         config,
		state:          StateClosed,
		dailyResetTime: time.Now().Truncate(24 * time.Hour).Add(24 * time.Hour),
		bus:            bus,
		logger:         logger.With().Str("component", "circuit").Logger(),
	}
}

// RecordTrade feeds a realized PnL (as a fraction of equity) into the
// breaker.
func (b *Breaker) RecordTrade(pnlPercent float64) {
	if !b.config.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetDailyWindow()

	if pnlPercent < 0 {
		b.consecutiveLosses++
		b.dailyLoss += -pnlPercent
	} else {
		b.consecutiveLosses = 0
	}

	if b.state != StateOpen {
		if b.consecutiveLosses >= b.config.MaxConsecutiveLosses {
			b.trip("consecutive losses")
		} else if b.dailyLoss*100 >= b.config.MaxDailyLossPercent {
			b.trip("daily loss limit")
		}
	}
}

// IsTripped reports whether new risk should be blocked. A tripped breaker
// moves to half-open after the cooldown.
func (b *Breaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		cooldown := time.Duration(b.config.CooldownMinutes) * time.Minute
		if time.Since(b.lastTripTime) >= cooldown {
			b.state = StateHalfOpen
			b.logger.Info().Msg("Circuit breaker half-open after cooldown")
			return false
		}
		return true
	}
	return false
}

// State returns the current breaker state and trip reason.
func (b *Breaker) State() (BreakerState, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state, b.tripReason
}

// Reset closes the breaker manually.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveLosses = 0
	b.tripReason = ""
	if b.bus != nil {
		b.bus.Publish(events.Event{Type: events.EventBreakerReset, Data: map[string]interface{}{}})
	}
	b.logger.Info().Msg("Circuit breaker reset")
}

func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.lastTripTime = time.Now()
	b.tripReason = reason
	if b.bus != nil {
		b.bus.Publish(events.Event{
			Type: events.EventBreakerTripped,
			Data: map[string]interface{}{"reason": reason},
		})
	}
	b.logger.Warn().Str("reason", reason).Msg("Circuit breaker tripped")
}

func (b *Breaker) resetDailyWindow() {
	if time.Now().After(b.dailyResetTime) {
		b.dailyLoss = 0
		b.dailyResetTime = b.dailyResetTime.Add(24 * time.Hour)
	}
}
