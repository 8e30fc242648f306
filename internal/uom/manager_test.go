package uom

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"multi-venue-trading-bot/internal/venue"
)

func newTestManager(t *testing.T, venues ...string) (*Manager, map[string]*venue.MockGateway) {
	t.Helper()
	m := NewManager(zerolog.Nop())
	gws := make(map[string]*venue.MockGateway, len(venues))
	for i, id := range venues {
		gw := venue.NewMockGateway(id)
		gw.Prices["BTCUSDT"] = 30000
		gws[id] = gw
		if !m.AddExchange(id, gw, i+1) {
			t.Fatalf("AddExchange(%s) returned false", id)
		}
	}
	return m, gws
}

func TestWeightedAllocationTwoVenues(t *testing.T) {
	m, _ := newTestManager(t, "binance", "bybit")
	err := m.SetAllocationStrategy(AllocationConfig{
		Strategy: StrategyWeighted,
		Weights:  map[string]float64{"binance": 3, "bybit": 1},
	})
	if err != nil {
		t.Fatalf("SetAllocationStrategy failed: %v", err)
	}

	shares, err := m.Allocate(4)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if shares["binance"] != 3.00 || shares["bybit"] != 1.00 {
		t.Errorf("shares = %v, want binance:3.00 bybit:1.00", shares)
	}
}

func TestWeightedAllocationSumInvariantOnAwkwardSplit(t *testing.T) {
	m, _ := newTestManager(t, "a", "b", "c")
	if err := m.SetAllocationStrategy(AllocationConfig{
		Strategy: StrategyWeighted,
		Weights:  map[string]float64{"a": 1, "b": 1, "c": 1},
	}); err != nil {
		t.Fatal(err)
	}

	// 1/3 does not terminate at 2 decimals; leftover must be redistributed.
	shares, err := m.Allocate(1)
	if err != nil {
		t.Fatal(err)
	}
	if total := allocationSum(shares); math.Abs(total-1) > 1e-5 {
		t.Errorf("sum = %v, want 1 within 1e-5", total)
	}
}

func TestPriorityFallbackAfterDeactivation(t *testing.T) {
	m, _ := newTestManager(t, "binance", "bybit")
	if !m.SetExchangeActive("binance", false) {
		t.Fatal("SetExchangeActive returned false")
	}

	shares, err := m.Allocate(4)
	if err != nil {
		t.Fatal(err)
	}
	if len(shares) != 1 || shares["bybit"] != 4 {
		t.Errorf("shares = %v, want bybit:4", shares)
	}
}

func TestRoundRobinWraps(t *testing.T) {
	m, _ := newTestManager(t, "a", "b", "c")
	if err := m.SetAllocationStrategy(AllocationConfig{Strategy: StrategyRoundRobin}); err != nil {
		t.Fatal(err)
	}

	want := []string{"a", "b", "c", "a"}
	for i, expected := range want {
		shares, err := m.Allocate(1)
		if err != nil {
			t.Fatal(err)
		}
		if len(shares) != 1 || shares[expected] != 1 {
			t.Errorf("call %d: shares = %v, want %s:1", i, shares, expected)
		}
	}
}

func TestSplitEqualAllocation(t *testing.T) {
	m, _ := newTestManager(t, "a", "b")
	if err := m.SetAllocationStrategy(AllocationConfig{Strategy: StrategySplitEqual}); err != nil {
		t.Fatal(err)
	}

	shares, err := m.Allocate(3)
	if err != nil {
		t.Fatal(err)
	}
	if shares["a"] != 1.5 || shares["b"] != 1.5 {
		t.Errorf("shares = %v, want 1.5 each", shares)
	}
}

func TestCustomAllocationRemainderGoesToTopPriority(t *testing.T) {
	m, _ := newTestManager(t, "binance", "bybit")
	if err := m.SetAllocationStrategy(AllocationConfig{
		Strategy:     StrategyCustom,
		CustomRatios: map[string]float64{"binance": 0.5, "bybit": 0.3},
	}); err != nil {
		t.Fatal(err)
	}

	shares, err := m.Allocate(10)
	if err != nil {
		t.Fatal(err)
	}
	// 0.2 of the amount is unallocated by the ratios; binance has priority 1.
	if math.Abs(shares["binance"]-7) > 1e-9 || math.Abs(shares["bybit"]-3) > 1e-9 {
		t.Errorf("shares = %v, want binance:7 bybit:3", shares)
	}
	if total := allocationSum(shares); math.Abs(total-10) > 1e-5*10 {
		t.Errorf("sum = %v, want 10", total)
	}
}

func TestSetAllocationStrategyValidation(t *testing.T) {
	m, _ := newTestManager(t, "binance", "bybit")

	tests := []struct {
		name string
		cfg  AllocationConfig
	}{
		{"weighted missing weight", AllocationConfig{
			Strategy: StrategyWeighted,
			Weights:  map[string]float64{"binance": 3},
		}},
		{"weighted zero weight", AllocationConfig{
			Strategy: StrategyWeighted,
			Weights:  map[string]float64{"binance": 3, "bybit": 0},
		}},
		{"custom missing ratio", AllocationConfig{
			Strategy:     StrategyCustom,
			CustomRatios: map[string]float64{"binance": 1},
		}},
		{"unknown strategy", AllocationConfig{Strategy: "BEST_EFFORT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.SetAllocationStrategy(tt.cfg); !errors.Is(err, ErrInvalidAllocation) {
				t.Errorf("error = %v, want ErrInvalidAllocation", err)
			}
		})
	}
}

func TestCreateOrderFansOutPerAllocation(t *testing.T) {
	m, gws := newTestManager(t, "binance", "bybit")
	if err := m.SetAllocationStrategy(AllocationConfig{
		Strategy: StrategyWeighted,
		Weights:  map[string]float64{"binance": 3, "bybit": 1},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := m.CreateOrder(context.Background(), &venue.OrderRequest{
		Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 4,
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d venue results, want 2", len(results))
	}
	if len(gws["binance"].Executed) != 1 || gws["binance"].Executed[0].Amount != 3 {
		t.Errorf("binance saw %+v, want one order of 3", gws["binance"].Executed)
	}
	if len(gws["bybit"].Executed) != 1 || gws["bybit"].Executed[0].Amount != 1 {
		t.Errorf("bybit saw %+v, want one order of 1", gws["bybit"].Executed)
	}
}

func TestCreateOrderNoActiveVenue(t *testing.T) {
	m := NewManager(zerolog.Nop())

	_, err := m.CreateOrder(context.Background(), &venue.OrderRequest{
		Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1,
	})
	if !errors.Is(err, ErrNoActiveVenue) {
		t.Errorf("error = %v, want ErrNoActiveVenue", err)
	}
}

func TestCreateOrderRejectsInvalidRequest(t *testing.T) {
	m, _ := newTestManager(t, "binance")

	_, err := m.CreateOrder(context.Background(), &venue.OrderRequest{
		Symbol: "BTCUSDT", Side: "HOLD", Type: venue.TypeMarket, Amount: 1,
	})
	if !errors.Is(err, venue.ErrInvalidOrder) {
		t.Errorf("error = %v, want ErrInvalidOrder", err)
	}
}

func TestConsolidatedPositionAcrossVenues(t *testing.T) {
	m, gws := newTestManager(t, "venue1", "venue2")
	if err := m.SetAllocationStrategy(AllocationConfig{Strategy: StrategyPriority}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	gws["venue1"].Prices["BTCUSDT"] = 30000
	if _, err := m.OMSFor("venue1").CreateOrder(ctx, &venue.OrderRequest{
		Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 0.5,
	}); err != nil {
		t.Fatal(err)
	}
	gws["venue2"].Prices["BTCUSDT"] = 33000
	if _, err := m.OMSFor("venue2").CreateOrder(ctx, &venue.OrderRequest{
		Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1.0,
	}); err != nil {
		t.Fatal(err)
	}
	m.SyncAllOrders(ctx)

	total := m.GetTotalPosition("BTCUSDT")
	if total == nil {
		t.Fatal("no consolidated position")
	}
	if math.Abs(total.Amount-1.5) > 1e-9 {
		t.Errorf("amount = %v, want 1.5", total.Amount)
	}
	// (0.5*30000 + 1.0*33000) / 1.5
	if math.Abs(total.EntryPrice-32000) > 1e-9 {
		t.Errorf("entry = %v, want 32000", total.EntryPrice)
	}
	if total.Side != venue.SideBuy {
		t.Errorf("side = %s, want BUY", total.Side)
	}
}

func TestConsolidatedDropsNetFlat(t *testing.T) {
	m, _ := newTestManager(t, "venue1", "venue2")
	ctx := context.Background()

	if _, err := m.OMSFor("venue1").CreateOrder(ctx, &venue.OrderRequest{
		Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeMarket, Amount: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.OMSFor("venue2").CreateOrder(ctx, &venue.OrderRequest{
		Symbol: "BTCUSDT", Side: venue.SideSell, Type: venue.TypeMarket, Amount: 1,
	}); err != nil {
		t.Fatal(err)
	}
	m.SyncAllOrders(ctx)

	if got := m.GetConsolidatedPositions(); len(got) != 0 {
		t.Errorf("consolidated = %+v, want empty for net-flat book", got)
	}
	if m.GetTotalPosition("BTCUSDT") != nil {
		t.Error("GetTotalPosition should be nil for net-flat symbol")
	}
}

func TestCancelAllOrdersAcrossVenues(t *testing.T) {
	m, _ := newTestManager(t, "binance", "bybit")
	if err := m.SetAllocationStrategy(AllocationConfig{Strategy: StrategySplitEqual}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := m.CreateOrder(ctx, &venue.OrderRequest{
		Symbol: "BTCUSDT", Side: venue.SideBuy, Type: venue.TypeLimit, Amount: 2, Price: 29000,
	}); err != nil {
		t.Fatal(err)
	}

	if n := m.CancelAllOrders(ctx, "", ""); n != 2 {
		t.Errorf("cancelled %d, want 2 (one leg per venue)", n)
	}
}

func TestRemoveAndDuplicateRegistration(t *testing.T) {
	m, _ := newTestManager(t, "binance")

	if m.AddExchange("binance", venue.NewMockGateway("binance"), 5) {
		t.Error("duplicate AddExchange should return false")
	}
	if !m.RemoveExchange("binance") {
		t.Error("RemoveExchange returned false")
	}
	if m.RemoveExchange("binance") {
		t.Error("second RemoveExchange should return false")
	}
	if m.SetExchangeActive("binance", true) {
		t.Error("SetExchangeActive on unknown venue should return false")
	}
}
