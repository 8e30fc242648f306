// Package engine runs the per-symbol trading loop: candles in, strategy
// signals out through the unified order manager, equity recomputed on
// every tick.
package engine

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"multi-venue-trading-bot/internal/events"
	"multi-venue-trading-bot/internal/strategy"
	"multi-venue-trading-bot/internal/uom"
	"multi-venue-trading-bot/internal/venue"
)

// Mode is the system trading mode set by the coordinator
type Mode string

const (
	ModeNormal        Mode = "NORMAL"
	ModeRiskReduction Mode = "RISK_REDUCTION"
	ModeEmergency     Mode = "EMERGENCY"
)

// OrderSizer produces venue-valid sizes from a risk budget
type OrderSizer interface {
	CalculateOrderSize(ctx context.Context, symbol string, accountBalance, stopDistance, currentPrice, riskPercentage float64) (float64, error)
}

// Config holds the per-symbol engine parameters
type Config struct {
	Symbol string
	// Capital is the cash allocated to this symbol
	Capital float64
	// RiskPercentage per trade, passed to the sizer
	RiskPercentage float64
	// MaxPositionValuePct caps open position value as a fraction of capital
	MaxPositionValuePct float64
	// ReductionFactor scales sized amounts in RISK_REDUCTION mode
	ReductionFactor float64
	// HistoryLimit bounds the retained candle history
	HistoryLimit int
}

// Engine drives one symbol: it feeds candles to the strategy, sizes the
// resulting signals and stages them for submission.
type Engine struct {
	mu sync.RWMutex

	config   Config
	strategy strategy.Strategy
	sizer    OrderSizer
	manager  *uom.Manager

	candles      []venue.Candle
	currentPrice float64
	mode         Mode

	pending       []venue.OrderRequest
	recentSignals []venue.OrderRequest

	bus    *events.Bus
	logger zerolog.Logger
}

// New creates an engine for one symbol.
func New(config Config, strat strategy.Strategy, sizer OrderSizer, manager *uom.Manager, logger zerolog.Logger) *Engine {
	if config.MaxPositionValuePct <= 0 {
		config.MaxPositionValuePct = 1.0
	}
	if config.ReductionFactor <= 0 {
		config.ReductionFactor = 0.5
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 500
	}
	return &Engine{
		config:   config,
		strategy: strat,
		sizer:    sizer,
		manager:  manager,
		mode:     ModeNormal,
		logger:   logger.With().Str("component", "engine").Str("symbol", config.Symbol).Logger(),
	}
}

// WithEventBus attaches the event bus.
func (e *Engine) WithEventBus(bus *events.Bus) *Engine {
	e.bus = bus
	return e
}

// Symbol returns the symbol this engine trades.
func (e *Engine) Symbol() string { return e.config.Symbol }

// Update ingests one candle: it marks positions, runs the strategy and
// stages any resulting order for later submission.
func (e *Engine) Update(ctx context.Context, candle venue.Candle) {
	e.mu.Lock()
	e.candles = append(e.candles, candle)
	if len(e.candles) > e.config.HistoryLimit {
		e.candles = e.candles[len(e.candles)-e.config.HistoryLimit:]
	}
	e.currentPrice = candle.Close
	history := make([]venue.Candle, len(e.candles))
	copy(history, e.candles)
	mode := e.mode
	e.mu.Unlock()

	e.manager.MarkAllPositions(map[string]float64{e.config.Symbol: candle.Close})

	if mode == ModeEmergency {
		return
	}

	sig, err := e.strategy.Evaluate(history, candle.Close)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Strategy evaluation failed")
		return
	}
	if sig == nil || sig.Type == strategy.SignalNone {
		return
	}

	req, ok := e.sizeSignal(ctx, sig, mode)
	if !ok {
		return
	}

	e.mu.Lock()
	e.pending = append(e.pending, req)
	e.recentSignals = append(e.recentSignals, req)
	if len(e.recentSignals) > 50 {
		e.recentSignals = e.recentSignals[len(e.recentSignals)-50:]
	}
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type: events.EventSignalGenerated,
			Data: map[string]interface{}{
				"symbol": e.config.Symbol,
				"side":   string(req.Side),
				"amount": req.Amount,
				"reason": sig.Reason,
			},
		})
	}
}

// sizeSignal turns a strategy signal into a sized order request, applying
// the engine-local position cap and the mode scaling.
func (e *Engine) sizeSignal(ctx context.Context, sig *strategy.Signal, mode Mode) (venue.OrderRequest, bool) {
	stopDistance := math.Abs(sig.EntryPrice - sig.StopLoss)
	amount, err := e.sizer.CalculateOrderSize(ctx, e.config.Symbol, e.config.Capital, stopDistance, sig.EntryPrice, e.config.RiskPercentage)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Sizing failed, dropping signal")
		return venue.OrderRequest{}, false
	}

	if mode == ModeRiskReduction {
		amount *= e.config.ReductionFactor
	}

	// Per-symbol cap: open value plus this order must stay within the
	// configured fraction of capital.
	openValue := 0.0
	if pos := e.manager.GetTotalPosition(e.config.Symbol); pos != nil {
		openValue = pos.Amount * pos.CurrentPrice
	}
	budget := e.config.Capital * e.config.MaxPositionValuePct
	if openValue+amount*sig.EntryPrice > budget {
		headroom := (budget - openValue) / sig.EntryPrice
		if headroom <= 0 {
			e.logger.Debug().Float64("open_value", openValue).Msg("Position cap reached, dropping signal")
			return venue.OrderRequest{}, false
		}
		amount = headroom
	}

	side := venue.SideBuy
	if sig.Type == strategy.SignalSell {
		side = venue.SideSell
	}
	return venue.OrderRequest{
		Symbol: e.config.Symbol,
		Side:   side,
		Type:   venue.TypeMarket,
		Amount: amount,
	}, true
}

// TakePendingSignals drains the staged orders for dispatch.
func (e *Engine) TakePendingSignals() []venue.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.pending
	e.pending = nil
	return out
}

// GetRecentSignals returns the most recent staged signals, newest last.
func (e *Engine) GetRecentSignals() []venue.OrderRequest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]venue.OrderRequest, len(e.recentSignals))
	copy(out, e.recentSignals)
	return out
}

// ProcessSignals submits orders through the unified order manager.
// EMERGENCY mode drops everything.
func (e *Engine) ProcessSignals(ctx context.Context, signals []venue.OrderRequest) {
	e.mu.RLock()
	mode := e.mode
	e.mu.RUnlock()
	if mode == ModeEmergency {
		if len(signals) > 0 {
			e.logger.Warn().Int("dropped", len(signals)).Msg("Emergency mode, dropping signals")
		}
		return
	}

	for i := range signals {
		req := signals[i]
		results, err := e.manager.CreateOrder(ctx, &req)
		if err != nil {
			e.logger.Warn().Err(err).Str("side", string(req.Side)).Msg("Order submission failed")
			continue
		}
		if len(results) == 0 {
			e.logger.Warn().Str("side", string(req.Side)).Msg("Order failed on every venue")
		}
	}
}

// SyncOrders reconciles this symbol's orders against venue state.
func (e *Engine) SyncOrders(ctx context.Context) {
	e.manager.SyncAllOrders(ctx)
}

// GetPositions returns this symbol's positions per venue, flattened.
func (e *Engine) GetPositions() []venue.Position {
	out := make([]venue.Position, 0)
	for _, positions := range e.manager.GetAllPositions(e.config.Symbol) {
		out = append(out, positions...)
	}
	return out
}

// GetEquity returns allocated capital plus unrealized PnL across venues.
func (e *Engine) GetEquity() float64 {
	equity := e.config.Capital
	if pos := e.manager.GetTotalPosition(e.config.Symbol); pos != nil {
		equity += pos.UnrealizedPnL
	}
	return equity
}

// GetCurrentPrice returns the last seen close.
func (e *Engine) GetCurrentPrice() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentPrice
}

// Mode returns the current trading mode.
func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// SetSystemMode switches the trading mode. Entering EMERGENCY cancels the
// symbol's resting orders and flattens its aggregate position.
func (e *Engine) SetSystemMode(ctx context.Context, mode Mode) {
	e.mu.Lock()
	prev := e.mode
	e.mode = mode
	e.mu.Unlock()
	if prev == mode {
		return
	}

	e.logger.Info().Str("from", string(prev)).Str("to", string(mode)).Msg("Mode changed")
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type: events.EventModeChanged,
			Data: map[string]interface{}{"symbol": e.config.Symbol, "mode": string(mode)},
		})
	}

	if mode == ModeEmergency {
		e.flatten(ctx)
	}
}

// flatten cancels resting orders and closes the aggregate position with a
// market order on the opposite side.
func (e *Engine) flatten(ctx context.Context) {
	cancelled := e.manager.CancelAllOrders(ctx, "", e.config.Symbol)
	if cancelled > 0 {
		e.logger.Info().Int("cancelled", cancelled).Msg("Resting orders cancelled")
	}

	for venueID, positions := range e.manager.GetAllPositions(e.config.Symbol) {
		for _, pos := range positions {
			side := venue.SideSell
			if pos.Side == venue.SideSell {
				side = venue.SideBuy
			}
			target := e.manager.OMSFor(venueID)
			if target == nil {
				continue
			}
			if _, err := target.CreateOrder(ctx, &venue.OrderRequest{
				Symbol: pos.Symbol,
				Side:   side,
				Type:   venue.TypeMarket,
				Amount: pos.Amount,
			}); err != nil {
				e.logger.Error().Err(err).Str("venue", venueID).Msg("Flatten order failed")
			}
		}
	}
}
