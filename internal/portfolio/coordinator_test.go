package portfolio

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"multi-venue-trading-bot/internal/engine"
	"multi-venue-trading-bot/internal/strategy"
	"multi-venue-trading-bot/internal/uom"
	"multi-venue-trading-bot/internal/venue"
)

// alwaysBuy emits a BUY at every candle.
type alwaysBuy struct{ symbol string }

func (s alwaysBuy) Name() string { return "alwaysBuy" }

func (s alwaysBuy) Evaluate(_ []venue.Candle, price float64) (*strategy.Signal, error) {
	return &strategy.Signal{
		Type:       strategy.SignalBuy,
		Symbol:     s.symbol,
		EntryPrice: price,
		StopLoss:   price * 0.98,
	}, nil
}

// neverSignal stays quiet.
type neverSignal struct{}

func (neverSignal) Name() string { return "never" }

func (neverSignal) Evaluate([]venue.Candle, float64) (*strategy.Signal, error) {
	return &strategy.Signal{Type: strategy.SignalNone}, nil
}

type fixedSizer struct{ size float64 }

func (f fixedSizer) CalculateOrderSize(context.Context, string, float64, float64, float64, float64) (float64, error) {
	return f.size, nil
}

type harness struct {
	gateways map[string]*venue.MockGateway
}

// factory builds engines wired to one mock venue per symbol.
func (h *harness) factory(strat func(symbol string) strategy.Strategy, size float64) EngineFactory {
	return func(symbol string, capital float64) *engine.Engine {
		gw := venue.NewMockGateway("binance")
		gw.Prices[symbol] = 100
		h.gateways[symbol] = gw
		m := uom.NewManager(zerolog.Nop())
		m.AddExchange("binance", gw, 1)
		return engine.New(engine.Config{
			Symbol:         symbol,
			Capital:        capital,
			RiskPercentage: 0.01,
		}, strat(symbol), fixedSizer{size: size}, m, zerolog.Nop())
	}
}

func newHarness() *harness {
	return &harness{gateways: make(map[string]*venue.MockGateway)}
}

func bundle(ts int64, prices map[string]float64) map[string]venue.Candle {
	out := make(map[string]venue.Candle, len(prices))
	for symbol, price := range prices {
		out[symbol] = venue.Candle{Timestamp: ts, Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return out
}

func TestInitializeEqualCapital(t *testing.T) {
	h := newHarness()
	c := NewCoordinator(Config{
		Symbols:      []string{"BTCUSDT", "ETHUSDT"},
		TotalCapital: 10000,
		Strategy:     CapitalEqual,
	}, h.factory(func(string) strategy.Strategy { return neverSignal{} }, 1), zerolog.Nop())

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := c.Engine("BTCUSDT").GetEquity(); got != 5000 {
		t.Errorf("BTCUSDT capital = %v, want 5000", got)
	}
	if got := c.GetPortfolioEquity(); got != 10000 {
		t.Errorf("portfolio equity = %v, want 10000", got)
	}
}

func TestInitializeCustomWeights(t *testing.T) {
	h := newHarness()
	c := NewCoordinator(Config{
		Symbols:      []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		TotalCapital: 10000,
		Strategy:     CapitalCustom,
		Weights:      map[string]float64{"BTCUSDT": 3, "ETHUSDT": 1},
	}, h.factory(func(string) strategy.Strategy { return neverSignal{} }, 1), zerolog.Nop())

	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	if got := c.Engine("BTCUSDT").GetEquity(); got != 7500 {
		t.Errorf("BTCUSDT capital = %v, want 7500", got)
	}
	// Missing weight defaults to zero: still registered, starts flat.
	if c.Engine("SOLUSDT") == nil {
		t.Fatal("zero-weight symbol not registered")
	}
	if got := c.Engine("SOLUSDT").GetEquity(); got != 0 {
		t.Errorf("SOLUSDT capital = %v, want 0", got)
	}
}

func TestUpdateBeforeInitialize(t *testing.T) {
	h := newHarness()
	c := NewCoordinator(Config{Symbols: []string{"BTCUSDT"}, TotalCapital: 1000},
		h.factory(func(string) strategy.Strategy { return neverSignal{} }, 1), zerolog.Nop())

	err := c.Update(context.Background(), bundle(1, map[string]float64{"BTCUSDT": 100}))
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("error = %v, want ErrNotInitialized", err)
	}
}

func TestEquityHistoryUsesMaxBundleTimestamp(t *testing.T) {
	h := newHarness()
	c := NewCoordinator(Config{
		Symbols:      []string{"BTCUSDT", "ETHUSDT"},
		TotalCapital: 10000,
	}, h.factory(func(string) strategy.Strategy { return neverSignal{} }, 1), zerolog.Nop())
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}

	candles := map[string]venue.Candle{
		"BTCUSDT": {Timestamp: 1000, Close: 100},
		"ETHUSDT": {Timestamp: 2000, Close: 50},
	}
	if err := c.Update(context.Background(), candles); err != nil {
		t.Fatal(err)
	}

	history := c.GetEquityHistory()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Timestamp != 2000 {
		t.Errorf("timestamp = %d, want max bundle timestamp 2000", history[0].Timestamp)
	}
	if history[0].Equity != 10000 {
		t.Errorf("equity = %v, want 10000", history[0].Equity)
	}
	if len(history[0].PerSymbol) != 2 {
		t.Fatalf("per-symbol entries = %d, want 2", len(history[0].PerSymbol))
	}
	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		if history[0].PerSymbol[symbol] != 5000 {
			t.Errorf("PerSymbol[%s] = %v, want 5000", symbol, history[0].PerSymbol[symbol])
		}
	}
}

func TestCorrelationMatrix(t *testing.T) {
	h := newHarness()
	c := NewCoordinator(Config{
		Symbols:      []string{"BTCUSDT", "ETHUSDT"},
		TotalCapital: 10000,
	}, h.factory(func(string) strategy.Strategy { return neverSignal{} }, 1), zerolog.Nop())
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// ETH moves proportionally to BTC: identical log returns.
	for _, price := range []float64{100, 110, 105, 118} {
		if err := c.Update(ctx, bundle(0, map[string]float64{
			"BTCUSDT": price,
			"ETHUSDT": price / 10,
		})); err != nil {
			t.Fatal(err)
		}
	}

	matrix := c.GetCorrelationMatrix()
	if matrix["BTCUSDT"]["BTCUSDT"] != 1.0 {
		t.Errorf("diagonal = %v, want exactly 1.0", matrix["BTCUSDT"]["BTCUSDT"])
	}
	if math.Abs(matrix["BTCUSDT"]["ETHUSDT"]-1.0) > 1e-9 {
		t.Errorf("corr(BTC, ETH) = %v, want 1.0 for proportional series", matrix["BTCUSDT"]["ETHUSDT"])
	}
}

func TestCorrelationInsufficientSamplesDefaultsToZero(t *testing.T) {
	h := newHarness()
	c := NewCoordinator(Config{
		Symbols:      []string{"BTCUSDT", "ETHUSDT"},
		TotalCapital: 10000,
	}, h.factory(func(string) strategy.Strategy { return neverSignal{} }, 1), zerolog.Nop())
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}

	// One bundle produces zero returns (needs a previous close).
	if err := c.Update(context.Background(), bundle(1, map[string]float64{"BTCUSDT": 100, "ETHUSDT": 10})); err != nil {
		t.Fatal(err)
	}

	matrix := c.GetCorrelationMatrix()
	if matrix["BTCUSDT"]["ETHUSDT"] != 0 {
		t.Errorf("corr with no samples = %v, want 0", matrix["BTCUSDT"]["ETHUSDT"])
	}
	if matrix["BTCUSDT"]["BTCUSDT"] != 0 {
		t.Errorf("diagonal with <2 samples = %v, want 0", matrix["BTCUSDT"]["BTCUSDT"])
	}
}

func TestPortfolioRiskLimitPrunesSignals(t *testing.T) {
	h := newHarness()
	c := NewCoordinator(Config{
		Symbols:            []string{"BTCUSDT"},
		TotalCapital:       10000,
		PortfolioRiskLimit: 0.001, // budget 10, signal value 100
	}, h.factory(func(symbol string) strategy.Strategy { return alwaysBuy{symbol: symbol} }, 1), zerolog.Nop())
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}

	if err := c.Update(context.Background(), bundle(1, map[string]float64{"BTCUSDT": 100})); err != nil {
		t.Fatal(err)
	}
	if n := len(h.gateways["BTCUSDT"].Executed); n != 0 {
		t.Errorf("venue saw %d orders, want 0 after pruning", n)
	}
}

func TestSignalsDispatchWithoutRiskLimit(t *testing.T) {
	h := newHarness()
	c := NewCoordinator(Config{
		Symbols:      []string{"BTCUSDT"},
		TotalCapital: 10000,
	}, h.factory(func(symbol string) strategy.Strategy { return alwaysBuy{symbol: symbol} }, 1), zerolog.Nop())
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}

	if err := c.Update(context.Background(), bundle(1, map[string]float64{"BTCUSDT": 100})); err != nil {
		t.Fatal(err)
	}
	if n := len(h.gateways["BTCUSDT"].Executed); n != 1 {
		t.Errorf("venue saw %d orders, want 1", n)
	}
}

func TestRiskReportConcentrationAndStress(t *testing.T) {
	h := newHarness()
	c := NewCoordinator(Config{
		Symbols:      []string{"BTCUSDT", "ETHUSDT"},
		TotalCapital: 10000,
		StressScenarios: []StressScenario{
			{Name: "crash_10", DefaultShock: -0.10},
		},
	}, h.factory(func(symbol string) strategy.Strategy { return alwaysBuy{symbol: symbol} }, 10), zerolog.Nop())
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// One BUY of 10 units at 100 fills on BTC only.
	if err := c.Update(ctx, bundle(1, map[string]float64{"BTCUSDT": 100})); err != nil {
		t.Fatal(err)
	}

	report := c.GetPortfolioRiskAnalysis()
	// Exposure 1000 over equity 10000.
	if math.Abs(report.ConcentrationRisk-0.1) > 1e-9 {
		t.Errorf("concentration = %v, want 0.1", report.ConcentrationRisk)
	}
	if len(report.StressTestResults) != 1 {
		t.Fatalf("stress results = %d, want 1", len(report.StressTestResults))
	}
	if math.Abs(report.StressTestResults[0].PortfolioImpact-(-100)) > 1e-9 {
		t.Errorf("impact = %v, want -100 for a 10%% crash on 1000 exposure", report.StressTestResults[0].PortfolioImpact)
	}
}

func TestBacktestRun(t *testing.T) {
	h := newHarness()
	c := NewCoordinator(Config{
		Symbols:      []string{"BTCUSDT"},
		TotalCapital: 10000,
	}, h.factory(func(string) strategy.Strategy { return neverSignal{} }, 1), zerolog.Nop())

	history := map[string][]venue.Candle{
		"BTCUSDT": {
			{Timestamp: 1, Close: 100},
			{Timestamp: 2, Close: 110},
			{Timestamp: 3, Close: 105},
		},
	}
	result, err := c.Run(context.Background(), history)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Ticks != 3 {
		t.Errorf("ticks = %d, want 3", result.Ticks)
	}
	if result.InitialCapital != 10000 || result.FinalEquity != 10000 {
		t.Errorf("equity drifted without trades: %+v", result)
	}
	if len(result.EquityCurve) != 3 {
		t.Errorf("equity curve length = %d, want 3", len(result.EquityCurve))
	}
}

func TestSetSystemModePropagates(t *testing.T) {
	h := newHarness()
	c := NewCoordinator(Config{
		Symbols:      []string{"BTCUSDT", "ETHUSDT"},
		TotalCapital: 10000,
	}, h.factory(func(string) strategy.Strategy { return neverSignal{} }, 1), zerolog.Nop())
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}

	c.SetSystemMode(context.Background(), engine.ModeRiskReduction)
	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		if mode := c.Engine(symbol).Mode(); mode != engine.ModeRiskReduction {
			t.Errorf("%s mode = %s, want RISK_REDUCTION", symbol, mode)
		}
	}
}
