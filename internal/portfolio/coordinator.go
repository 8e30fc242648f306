// Package portfolio implements the multi-symbol coordinator: it owns one
// trading engine per symbol, allocates capital, drives per-tick updates
// and computes portfolio-level equity and risk analytics.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"multi-venue-trading-bot/internal/circuit"
	"multi-venue-trading-bot/internal/engine"
	"multi-venue-trading-bot/internal/events"
	"multi-venue-trading-bot/internal/metrics"
	"multi-venue-trading-bot/internal/venue"
)

// CapitalStrategy selects how initial capital is split across symbols
type CapitalStrategy string

const (
	CapitalEqual  CapitalStrategy = "EQUAL"
	CapitalCustom CapitalStrategy = "CUSTOM"
)

// ErrNotInitialized is returned when Update runs before Initialize
var ErrNotInitialized = errors.New("coordinator not initialized")

// Config holds the coordinator parameters
type Config struct {
	Symbols      []string
	TotalCapital float64
	// Strategy splits TotalCapital; CUSTOM uses Weights, missing entries
	// default to zero
	Strategy CapitalStrategy
	Weights  map[string]float64
	// PortfolioRiskLimit bounds open position value over equity; zero
	// disables pruning
	PortfolioRiskLimit float64
	// CorrelationWindow is the rolling log-return sample count per symbol
	CorrelationWindow int
	// TickBudget bounds one Update fan-out; engines that miss it are
	// skipped for the tick
	TickBudget time.Duration
	// StressScenarios applied linearly in the risk report
	StressScenarios []StressScenario
	// OnTick, when set, runs before each Run bundle is applied. Backtests
	// use it to move simulated venue prices in step with the replay.
	OnTick func(map[string]venue.Candle)
}

// EngineFactory builds the engine for one symbol with its allocated capital.
type EngineFactory func(symbol string, capital float64) *engine.Engine

// PortfolioEquityPoint is one equity history sample
type PortfolioEquityPoint struct {
	Timestamp int64              `json:"timestamp"`
	PerSymbol map[string]float64 `json:"per_symbol"`
	Equity    float64            `json:"equity"`
}

// Coordinator owns the per-symbol engines and the portfolio state.
type Coordinator struct {
	mu sync.RWMutex

	config  Config
	factory EngineFactory
	engines map[string]*engine.Engine
	symbols []string // sorted, fixed at Initialize

	equityHistory []PortfolioEquityPoint
	returns       map[string]*returnWindow
	lastClose     map[string]float64

	breaker *circuit.Breaker
	bus     *events.Bus
	logger  zerolog.Logger
}

// NewCoordinator creates an uninitialized coordinator.
func NewCoordinator(config Config, factory EngineFactory, logger zerolog.Logger) *Coordinator {
	if config.CorrelationWindow <= 0 {
		config.CorrelationWindow = 20
	}
	if config.TickBudget <= 0 {
		config.TickBudget = 30 * time.Second
	}
	return &Coordinator{
		config:    config,
		factory:   factory,
		returns:   make(map[string]*returnWindow),
		lastClose: make(map[string]float64),
		logger:    logger.With().Str("component", "portfolio").Logger(),
	}
}

// WithEventBus attaches the event bus.
func (c *Coordinator) WithEventBus(bus *events.Bus) *Coordinator {
	c.bus = bus
	return c
}

// WithCircuitBreaker attaches the trading circuit breaker; when tripped,
// Update drops all pending signals for the tick.
func (c *Coordinator) WithCircuitBreaker(breaker *circuit.Breaker) *Coordinator {
	c.breaker = breaker
	return c
}

// Initialize allocates capital and builds one engine per symbol.
func (c *Coordinator) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.config.Symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	if c.engines != nil {
		return nil
	}

	allocations, err := c.allocateCapital()
	if err != nil {
		return err
	}

	c.symbols = append([]string(nil), c.config.Symbols...)
	sort.Strings(c.symbols)

	c.engines = make(map[string]*engine.Engine, len(c.symbols))
	for _, symbol := range c.symbols {
		c.engines[symbol] = c.factory(symbol, allocations[symbol])
		c.returns[symbol] = newReturnWindow(c.config.CorrelationWindow)
		c.logger.Info().
			Str("symbol", symbol).
			Float64("capital", allocations[symbol]).
			Msg("Engine initialized")
	}
	return nil
}

// allocateCapital splits TotalCapital per the configured strategy.
// Callers hold mu.
func (c *Coordinator) allocateCapital() (map[string]float64, error) {
	out := make(map[string]float64, len(c.config.Symbols))
	switch c.config.Strategy {
	case CapitalCustom:
		totalWeight := 0.0
		for _, symbol := range c.config.Symbols {
			totalWeight += c.config.Weights[symbol]
		}
		if totalWeight <= 0 {
			return nil, fmt.Errorf("CUSTOM capital allocation needs positive weights")
		}
		for _, symbol := range c.config.Symbols {
			out[symbol] = c.config.TotalCapital * c.config.Weights[symbol] / totalWeight
		}
	default: // EQUAL
		share := c.config.TotalCapital / float64(len(c.config.Symbols))
		for _, symbol := range c.config.Symbols {
			out[symbol] = share
		}
	}
	return out, nil
}

// Update fans one candle bundle out to the engines, prunes the collected
// signals against the portfolio risk limit and dispatches the survivors.
func (c *Coordinator) Update(ctx context.Context, candles map[string]venue.Candle) error {
	c.mu.RLock()
	initialized := c.engines != nil
	c.mu.RUnlock()
	if !initialized {
		return ErrNotInitialized
	}

	tickCtx, cancel := context.WithTimeout(ctx, c.config.TickBudget)
	defer cancel()

	g, gctx := errgroup.WithContext(tickCtx)
	for symbol, candle := range candles {
		eng := c.engineFor(symbol)
		if eng == nil {
			c.logger.Warn().Str("symbol", symbol).Msg("Candle for unregistered symbol, skipping")
			continue
		}
		sym, cndl := symbol, candle
		g.Go(func() error {
			select {
			case <-gctx.Done():
				c.logger.Warn().Str("symbol", sym).Msg("Tick budget exhausted, skipping symbol")
				return nil
			default:
			}
			eng.Update(gctx, cndl)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.recordReturns(candles)
	equity := c.appendEquityPoint(candles)
	c.dispatchSignals(tickCtx, equity)

	// Per-tick reconciliation so fills land before the next bundle.
	for _, symbol := range c.symbolList() {
		c.engineFor(symbol).SyncOrders(tickCtx)
	}
	return nil
}

// dispatchSignals collects staged orders in symbol order and submits the
// ones that survive the portfolio risk limit.
func (c *Coordinator) dispatchSignals(ctx context.Context, equity float64) {
	type staged struct {
		symbol string
		req    venue.OrderRequest
	}
	var pending []staged
	for _, symbol := range c.symbolList() {
		eng := c.engineFor(symbol)
		for _, req := range eng.TakePendingSignals() {
			pending = append(pending, staged{symbol: symbol, req: req})
		}
	}
	if len(pending) == 0 {
		return
	}

	if c.breaker != nil && c.breaker.IsTripped() {
		c.logger.Warn().Int("dropped", len(pending)).Msg("Circuit breaker tripped, dropping signals")
		return
	}

	// Prune in order of arrival: keep a prefix whose projected exposure
	// stays within the limit.
	kept := pending
	if c.config.PortfolioRiskLimit > 0 && equity > 0 {
		openValue := 0.0
		for _, pos := range c.GetAllPositions() {
			openValue += math.Abs(pos.Amount * pos.CurrentPrice)
		}
		budget := equity * c.config.PortfolioRiskLimit
		kept = kept[:0]
		projected := openValue
		for _, s := range pending {
			price := s.req.Price
			if price <= 0 {
				price = c.engineFor(s.symbol).GetCurrentPrice()
			}
			value := s.req.Amount * price
			if projected+value > budget {
				c.logger.Info().
					Str("symbol", s.symbol).
					Float64("value", value).
					Float64("budget", budget).
					Msg("Signal pruned by portfolio risk limit")
				continue
			}
			projected += value
			kept = append(kept, s)
		}
	}

	bySymbol := make(map[string][]venue.OrderRequest)
	for _, s := range kept {
		bySymbol[s.symbol] = append(bySymbol[s.symbol], s.req)
	}
	for symbol, reqs := range bySymbol {
		c.engineFor(symbol).ProcessSignals(ctx, reqs)
	}
}

// recordReturns feeds each symbol's log return into its rolling window.
func (c *Coordinator) recordReturns(candles map[string]venue.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for symbol, candle := range candles {
		window, ok := c.returns[symbol]
		if !ok || candle.Close <= 0 {
			continue
		}
		if prev := c.lastClose[symbol]; prev > 0 {
			window.push(math.Log(candle.Close / prev))
		}
		c.lastClose[symbol] = candle.Close
	}
}

// appendEquityPoint records per-symbol and total equity stamped with the
// bundle's maximum candle timestamp, and returns the total.
func (c *Coordinator) appendEquityPoint(candles map[string]venue.Candle) float64 {
	symbols := c.symbolList()
	perSymbol := make(map[string]float64, len(symbols))
	equity := 0.0
	for _, symbol := range symbols {
		eq := c.engineFor(symbol).GetEquity()
		perSymbol[symbol] = eq
		equity += eq
	}

	var maxTs int64
	for _, candle := range candles {
		if candle.Timestamp > maxTs {
			maxTs = candle.Timestamp
		}
	}

	c.mu.Lock()
	c.equityHistory = append(c.equityHistory, PortfolioEquityPoint{Timestamp: maxTs, PerSymbol: perSymbol, Equity: equity})
	c.mu.Unlock()

	metrics.PortfolioEquity.Set(equity)
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type: events.EventEquityUpdate,
			Data: map[string]interface{}{"equity": equity, "timestamp": maxTs},
		})
	}
	return equity
}

// SetSystemMode propagates the mode to every engine.
func (c *Coordinator) SetSystemMode(ctx context.Context, mode engine.Mode) {
	for _, symbol := range c.symbolList() {
		c.engineFor(symbol).SetSystemMode(ctx, mode)
	}
}

// GetPortfolioEquity sums engine equity across symbols.
func (c *Coordinator) GetPortfolioEquity() float64 {
	total := 0.0
	for _, symbol := range c.symbolList() {
		total += c.engineFor(symbol).GetEquity()
	}
	return total
}

// GetEquityHistory returns a copy of the equity history.
func (c *Coordinator) GetEquityHistory() []PortfolioEquityPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PortfolioEquityPoint, len(c.equityHistory))
	copy(out, c.equityHistory)
	return out
}

// GetAllPositions flattens positions across all engines.
func (c *Coordinator) GetAllPositions() []venue.Position {
	var out []venue.Position
	for _, symbol := range c.symbolList() {
		out = append(out, c.engineFor(symbol).GetPositions()...)
	}
	return out
}

// Engine exposes one symbol's engine, or nil.
func (c *Coordinator) Engine(symbol string) *engine.Engine {
	return c.engineFor(symbol)
}

func (c *Coordinator) engineFor(symbol string) *engine.Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engines[symbol]
}

func (c *Coordinator) symbolList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.symbols
}
