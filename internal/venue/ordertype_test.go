package venue

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestOrderTypeMapRoundTrip(t *testing.T) {
	m := NewOrderTypeMap(binanceOrderTypes)
	for internal := range binanceOrderTypes {
		wire := m.ToVenue(internal)
		back := m.ToInternal(wire, zerolog.Nop())
		if back != internal {
			t.Errorf("round trip for %s: venue=%s back=%s", internal, wire, back)
		}
	}
}

func TestUnknownVenueTypeDefaultsToLimit(t *testing.T) {
	m := NewOrderTypeMap(binanceOrderTypes)
	if got := m.ToInternal("TRAILING_STOP_MARKET_V2", zerolog.Nop()); got != TypeLimit {
		t.Errorf("unknown venue type mapped to %s, want LIMIT", got)
	}
}

func TestMarketFamilyDetection(t *testing.T) {
	tests := []struct {
		t    OrderType
		want bool
	}{
		{TypeMarket, true},
		{TypeStopMarket, true},
		{TypeTakeProfitMarket, true},
		{TypeLimit, false},
		{TypeStopLimit, false},
		{TypeTakeProfit, false},
		{TypeStop, false},
	}
	for _, tc := range tests {
		if got := tc.t.IsMarketFamily(); got != tc.want {
			t.Errorf("IsMarketFamily(%s) = %v, want %v", tc.t, got, tc.want)
		}
	}
}

func TestOrderRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     OrderRequest
		wantErr bool
	}{
		{"valid market", OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeMarket, Amount: 1}, false},
		{"valid limit", OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Type: TypeLimit, Amount: 1, Price: 100}, false},
		{"limit without price", OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Type: TypeLimit, Amount: 1}, true},
		{"stop without stop price", OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Type: TypeStopMarket, Amount: 1}, true},
		{"valid stop limit", OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Type: TypeStopLimit, Amount: 1, Price: 99, StopPrice: 100}, false},
		{"zero amount", OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeMarket, Amount: 0}, true},
		{"missing symbol", OrderRequest{Side: SideBuy, Type: TypeMarket, Amount: 1}, true},
		{"bad side", OrderRequest{Symbol: "BTCUSDT", Side: "HOLD", Type: TypeMarket, Amount: 1}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
