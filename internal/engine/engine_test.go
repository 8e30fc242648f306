package engine

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"multi-venue-trading-bot/internal/strategy"
	"multi-venue-trading-bot/internal/uom"
	"multi-venue-trading-bot/internal/venue"
)

// scriptedStrategy emits the queued signals one per Evaluate call.
type scriptedStrategy struct {
	signals []*strategy.Signal
	calls   int
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Evaluate([]venue.Candle, float64) (*strategy.Signal, error) {
	defer func() { s.calls++ }()
	if s.calls < len(s.signals) {
		return s.signals[s.calls], nil
	}
	return &strategy.Signal{Type: strategy.SignalNone}, nil
}

// fixedSizer returns a constant size regardless of inputs.
type fixedSizer struct{ size float64 }

func (f fixedSizer) CalculateOrderSize(context.Context, string, float64, float64, float64, float64) (float64, error) {
	return f.size, nil
}

func buySignal(entry float64) *strategy.Signal {
	return &strategy.Signal{
		Type:       strategy.SignalBuy,
		Symbol:     "BTCUSDT",
		EntryPrice: entry,
		StopLoss:   entry * 0.98,
		TakeProfit: entry * 1.04,
	}
}

func newTestEngine(t *testing.T, strat strategy.Strategy, sizer OrderSizer) (*Engine, *venue.MockGateway) {
	t.Helper()
	gw := venue.NewMockGateway("binance")
	gw.Prices["BTCUSDT"] = 30000
	m := uom.NewManager(zerolog.Nop())
	if !m.AddExchange("binance", gw, 1) {
		t.Fatal("AddExchange failed")
	}
	e := New(Config{
		Symbol:         "BTCUSDT",
		Capital:        10000,
		RiskPercentage: 0.01,
	}, strat, sizer, m, zerolog.Nop())
	return e, gw
}

func candle(close float64) venue.Candle {
	return venue.Candle{Timestamp: 0, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestUpdateStagesSignal(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedStrategy{signals: []*strategy.Signal{buySignal(30000)}}, fixedSizer{size: 0.1})
	ctx := context.Background()

	e.Update(ctx, candle(30000))

	pending := e.TakePendingSignals()
	if len(pending) != 1 {
		t.Fatalf("got %d pending signals, want 1", len(pending))
	}
	if pending[0].Side != venue.SideBuy || pending[0].Amount != 0.1 || pending[0].Type != venue.TypeMarket {
		t.Errorf("staged order = %+v", pending[0])
	}
	if len(e.TakePendingSignals()) != 0 {
		t.Error("TakePendingSignals should drain")
	}
	if len(e.GetRecentSignals()) != 1 {
		t.Error("recent signal log should retain the order")
	}
}

func TestProcessSignalsSubmitsToVenue(t *testing.T) {
	e, gw := newTestEngine(t, &scriptedStrategy{signals: []*strategy.Signal{buySignal(30000)}}, fixedSizer{size: 0.1})
	ctx := context.Background()

	e.Update(ctx, candle(30000))
	e.ProcessSignals(ctx, e.TakePendingSignals())

	if len(gw.Executed) != 1 || gw.Executed[0].Amount != 0.1 {
		t.Fatalf("venue saw %+v, want one order of 0.1", gw.Executed)
	}
}

func TestRiskReductionScalesAmount(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedStrategy{signals: []*strategy.Signal{buySignal(30000)}}, fixedSizer{size: 0.1})
	ctx := context.Background()

	e.SetSystemMode(ctx, ModeRiskReduction)
	e.Update(ctx, candle(30000))

	pending := e.TakePendingSignals()
	if len(pending) != 1 {
		t.Fatal("signal missing in RISK_REDUCTION mode")
	}
	if math.Abs(pending[0].Amount-0.05) > 1e-12 {
		t.Errorf("amount = %v, want 0.05 (scaled by default 0.5)", pending[0].Amount)
	}
}

func TestEmergencyBlocksNewSignals(t *testing.T) {
	e, gw := newTestEngine(t, &scriptedStrategy{signals: []*strategy.Signal{buySignal(30000), buySignal(30000)}}, fixedSizer{size: 0.1})
	ctx := context.Background()

	e.SetSystemMode(ctx, ModeEmergency)
	e.Update(ctx, candle(30000))
	if len(e.TakePendingSignals()) != 0 {
		t.Error("EMERGENCY update should not stage signals")
	}

	e.ProcessSignals(ctx, []venue.OrderRequest{{
		Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1,
	}})
	if len(gw.Executed) != 0 {
		t.Error("EMERGENCY processing should not reach the venue")
	}
}

func TestEmergencyFlattensOpenPosition(t *testing.T) {
	e, gw := newTestEngine(t, &scriptedStrategy{}, fixedSizer{size: 1})
	ctx := context.Background()

	// Open a long first.
	if _, err := e.manager.OMSFor("binance").CreateOrder(ctx, &venue.OrderRequest{
		Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1,
	}); err != nil {
		t.Fatal(err)
	}
	e.manager.SyncAllOrders(ctx)

	e.SetSystemMode(ctx, ModeEmergency)

	last := gw.Executed[len(gw.Executed)-1]
	if last.Side != venue.SideSell || last.Amount != 1 || last.Type != venue.TypeMarket {
		t.Errorf("flatten order = %+v, want SELL 1 MARKET", last)
	}
}

func TestPositionCapClipsAmount(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedStrategy{signals: []*strategy.Signal{buySignal(30000)}}, fixedSizer{size: 10})
	e.config.MaxPositionValuePct = 0.3 // budget 3000 at capital 10000
	ctx := context.Background()

	e.Update(ctx, candle(30000))

	pending := e.TakePendingSignals()
	if len(pending) != 1 {
		t.Fatal("clipped signal should still be staged")
	}
	if math.Abs(pending[0].Amount-0.1) > 1e-12 { // 3000 / 30000
		t.Errorf("amount = %v, want 0.1 after cap", pending[0].Amount)
	}
}

func TestEquityTracksUnrealizedPnL(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedStrategy{}, fixedSizer{size: 1})
	ctx := context.Background()

	if e.GetEquity() != 10000 {
		t.Fatalf("flat equity = %v, want capital", e.GetEquity())
	}

	if _, err := e.manager.OMSFor("binance").CreateOrder(ctx, &venue.OrderRequest{
		Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1,
	}); err != nil {
		t.Fatal(err)
	}
	e.manager.SyncAllOrders(ctx)

	// Price moves up 500; long 1 unit gains 500.
	e.Update(ctx, candle(30500))
	if math.Abs(e.GetEquity()-10500) > 1e-9 {
		t.Errorf("equity = %v, want 10500", e.GetEquity())
	}
	if e.GetCurrentPrice() != 30500 {
		t.Errorf("current price = %v, want 30500", e.GetCurrentPrice())
	}
}
