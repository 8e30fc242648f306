package sizing

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"multi-venue-trading-bot/internal/symbolinfo"
	"multi-venue-trading-bot/internal/venue"
)

func marketInfo(minQty, stepSize, minNotional string) map[string]interface{} {
	return map[string]interface{}{
		"symbol": "BTCUSDT",
		"filters": []interface{}{
			map[string]interface{}{"filterType": "PRICE_FILTER", "tickSize": "0.01"},
			map[string]interface{}{"filterType": "LOT_SIZE", "stepSize": stepSize, "minQty": minQty, "maxQty": "9000"},
			map[string]interface{}{"filterType": "NOTIONAL", "minNotional": minNotional},
		},
	}
}

func newTestSizer(info map[string]interface{}, price float64) *Sizer {
	gw := venue.NewMockGateway("binance")
	gw.MarketInfo = map[string]map[string]interface{}{"BTCUSDT": info}
	gw.Prices["BTCUSDT"] = price
	cache := symbolinfo.New(gw, zerolog.Nop())
	return New(cache, gw, DefaultConfig(), zerolog.Nop())
}

// TestSizingFloorWinsOverRiskBudget covers the minAmount floor: a raw size
// below the venue minimum snaps up to the minimum, and that floor is
// terminal.
func TestSizingFloorWinsOverRiskBudget(t *testing.T) {
	s := newTestSizer(marketInfo("0.00001", "0.00001", "0"), 40000)

	size, err := s.CalculateOrderSize(context.Background(), "BTCUSDT", 10, 20000, 40000, 0.01)
	if err != nil {
		t.Fatalf("CalculateOrderSize failed: %v", err)
	}
	// rawSize = (10*0.01)/20000 = 5e-6 < minAmount 1e-5
	if size != 0.00001 {
		t.Errorf("size = %v, want the 0.00001 floor", size)
	}
}

// TestSizingRiskBudgetAboveFloorIsKept pins the boundary: a raw size that
// already clears the venue minimum is returned as computed, not snapped.
func TestSizingRiskBudgetAboveFloorIsKept(t *testing.T) {
	s := newTestSizer(marketInfo("0.000001", "0.000001", "0"), 40000)

	size, err := s.CalculateOrderSize(context.Background(), "BTCUSDT", 10, 20000, 40000, 0.01)
	if err != nil {
		t.Fatalf("CalculateOrderSize failed: %v", err)
	}
	if size != 0.000005 {
		t.Errorf("size = %v, want the raw 0.000005", size)
	}
}

func TestSizingMinCostBumpsSize(t *testing.T) {
	s := newTestSizer(marketInfo("0.0001", "0.0001", "100"), 10000)

	// rawSize = (1000*0.01)/2000 = 0.005; cost = 50 < minCost 100
	size, err := s.CalculateOrderSize(context.Background(), "BTCUSDT", 1000, 2000, 10000, 0.01)
	if err != nil {
		t.Fatalf("CalculateOrderSize failed: %v", err)
	}
	if size != 0.01 { // 100 / 10000
		t.Errorf("size = %v, want 0.01 to satisfy minCost", size)
	}
}

func TestSizingRoundsDownToPrecision(t *testing.T) {
	s := newTestSizer(marketInfo("0.001", "0.001", "0"), 30000)

	// rawSize = (9999*0.01)/700 = 0.142842857...
	size, err := s.CalculateOrderSize(context.Background(), "BTCUSDT", 9999, 700, 30000, 0.01)
	if err != nil {
		t.Fatalf("CalculateOrderSize failed: %v", err)
	}
	if size != 0.142 {
		t.Errorf("size = %v, want 0.142 (floored to step precision)", size)
	}
}

// TestSizingCapProperty verifies size·stopDistance never exceeds the risk
// budget once the size is above the venue floors.
func TestSizingCapProperty(t *testing.T) {
	s := newTestSizer(marketInfo("0.0001", "0.0001", "0"), 30000)

	balances := []float64{100, 1000, 50000}
	stops := []float64{50, 333.33, 1200}
	for _, bal := range balances {
		for _, stop := range stops {
			size, err := s.CalculateOrderSize(context.Background(), "BTCUSDT", bal, stop, 30000, 0.02)
			if err != nil {
				t.Fatalf("CalculateOrderSize(%v, %v) failed: %v", bal, stop, err)
			}
			budget := bal * 0.02
			if size*stop > budget*(1+1e-9) && size > 0.0001 {
				t.Errorf("risk cap violated: size=%v stop=%v budget=%v", size, stop, budget)
			}
		}
	}
}

func TestSizingSubstitutesDegenerateStopDistance(t *testing.T) {
	s := newTestSizer(marketInfo("0.0001", "0.0001", "0"), 30000)

	// stopDistance 1 < 30000*1e-4=3, substituted with 30000*0.01=300
	size, err := s.CalculateOrderSize(context.Background(), "BTCUSDT", 10000, 1, 30000, 0.01)
	if err != nil {
		t.Fatalf("CalculateOrderSize failed: %v", err)
	}
	want := (10000 * 0.01) / 300.0
	if math.Abs(size-roundDown(want, 4)) > 1e-12 {
		t.Errorf("size = %v, want %v after substitution", size, roundDown(want, 4))
	}
}

func TestSizingFetchesTickerWhenPriceMissing(t *testing.T) {
	s := newTestSizer(marketInfo("0.0001", "0.0001", "0"), 25000)

	size, err := s.CalculateOrderSize(context.Background(), "BTCUSDT", 1000, 500, 0, 0.01)
	if err != nil {
		t.Fatalf("CalculateOrderSize failed: %v", err)
	}
	if size != 0.02 { // (1000*0.01)/500
		t.Errorf("size = %v, want 0.02", size)
	}
}

func TestRoundPriceToTickSize(t *testing.T) {
	s := newTestSizer(marketInfo("0.0001", "0.0001", "0"), 30000)

	price, err := s.RoundPriceToTickSize(context.Background(), "BTCUSDT", 30000.019)
	if err != nil {
		t.Fatalf("RoundPriceToTickSize failed: %v", err)
	}
	if price != 30000.01 {
		t.Errorf("price = %v, want 30000.01", price)
	}
}

func TestCalculateMultipleOmitsFailures(t *testing.T) {
	gw := venue.NewMockGateway("binance")
	gw.MarketInfo = map[string]map[string]interface{}{
		"BTCUSDT": marketInfo("0.0001", "0.0001", "0"),
		"ETHUSDT": nil, // normalization fails
	}
	gw.Prices["BTCUSDT"] = 30000
	cache := symbolinfo.New(gw, zerolog.Nop())
	s := New(cache, gw, DefaultConfig(), zerolog.Nop())

	out := s.CalculateMultiple(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, 1000,
		map[string]float64{"BTCUSDT": 500, "ETHUSDT": 50},
		map[string]float64{"BTCUSDT": 30000, "ETHUSDT": 2000}, 0.01)

	if _, ok := out["ETHUSDT"]; ok {
		t.Error("failed symbol should be omitted")
	}
	if out["BTCUSDT"] != 0.02 {
		t.Errorf("BTCUSDT size = %v, want 0.02", out["BTCUSDT"])
	}
}
