package venue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MockGateway is an in-memory Gateway used by tests and dry-run mode. It
// fills market orders immediately and leaves limit orders open.
type MockGateway struct {
	mu sync.Mutex

	VenueID   string
	NativeOCO bool

	// Prices per symbol returned by FetchTicker and used as fill price
	Prices map[string]float64
	// Balances returned by FetchBalance
	Balances map[string]float64
	// MarketInfo returned by GetMarketInfo
	MarketInfo map[string]map[string]interface{}

	// ExecuteErr, when set, makes ExecuteOrder fail
	ExecuteErr error
	// FailAfter makes ExecuteOrder fail once placed >= FailAfter orders (0 disables)
	FailAfter int

	nextID   int64
	orders   map[string]*RawOrder
	Executed []*OrderRequest
	Canceled []string
}

// NewMockGateway creates a mock venue gateway.
func NewMockGateway(venueID string) *MockGateway {
	return &MockGateway{
		VenueID:  venueID,
		Prices:   make(map[string]float64),
		Balances: map[string]float64{"USDT": 100000},
		orders:   make(map[string]*RawOrder),
		nextID:   1000,
	}
}

func (m *MockGateway) ID() string { return m.VenueID }

func (m *MockGateway) Initialize(ctx context.Context, creds *Credentials) error { return nil }

func (m *MockGateway) SupportsFeature(name string) bool { return name == "stop_market" }

func (m *MockGateway) SupportsOCO() bool { return m.NativeOCO }

func (m *MockGateway) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	price := m.price(symbol)
	candles := make([]Candle, limit)
	now := time.Now().UnixMilli()
	for i := range candles {
		candles[i] = Candle{
			Timestamp: now - int64(limit-i)*60000,
			Open:      price, High: price, Low: price, Close: price,
			Volume: 1,
		}
	}
	return candles, nil
}

func (m *MockGateway) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return &Ticker{Symbol: symbol, Last: m.price(symbol), Timestamp: time.Now().UnixMilli()}, nil
}

func (m *MockGateway) FetchBalance(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.Balances))
	for k, v := range m.Balances {
		out[k] = v
	}
	return out, nil
}

func (m *MockGateway) ExecuteOrder(ctx context.Context, req *OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ExecuteErr != nil {
		return "", m.ExecuteErr
	}
	if m.FailAfter > 0 && len(m.Executed) >= m.FailAfter {
		return "", &HTTPError{StatusCode: 400, Body: "insufficient balance"}
	}

	m.nextID++
	id := strconv.FormatInt(m.nextID, 10)
	raw := &RawOrder{
		VenueOrderID: id,
		Symbol:       req.Symbol,
		Side:         string(req.Side),
		Type:         string(req.Type),
		Amount:       req.Amount,
		Price:        req.Price,
		Status:       "open",
		Timestamp:    time.Now().UnixMilli(),
	}
	if req.Type.IsMarketFamily() {
		raw.Status = "filled"
		raw.FilledAmount = req.Amount
		raw.AvgFillPrice = m.price(req.Symbol)
	}
	m.orders[id] = raw
	m.Executed = append(m.Executed, req)
	return id, nil
}

func (m *MockGateway) FetchOrder(ctx context.Context, venueOrderID, symbol string) (*RawOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.orders[venueOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *raw
	return &cp, nil
}

func (m *MockGateway) FetchOrderAndConvert(ctx context.Context, venueOrderID, symbol string) (*Order, error) {
	raw, err := m.FetchOrder(ctx, venueOrderID, symbol)
	if err != nil {
		return nil, err
	}
	return &Order{
		VenueID:      m.VenueID,
		VenueOrderID: raw.VenueOrderID,
		Symbol:       raw.Symbol,
		Side:         OrderSide(raw.Side),
		Type:         OrderType(raw.Type),
		Amount:       raw.Amount,
		Price:        raw.Price,
		Status:       MapStatus(raw.Status),
		FilledAmount: raw.FilledAmount,
		AvgFillPrice: raw.AvgFillPrice,
		UpdatedAt:    time.UnixMilli(raw.Timestamp),
	}, nil
}

func (m *MockGateway) CancelOrder(ctx context.Context, venueOrderID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.orders[venueOrderID]
	if !ok {
		return ErrOrderNotFound
	}
	if raw.Status == "filled" || raw.Status == "canceled" {
		return fmt.Errorf("order %s not active", venueOrderID)
	}
	raw.Status = "canceled"
	m.Canceled = append(m.Canceled, venueOrderID)
	return nil
}

func (m *MockGateway) CreateOcoOrder(ctx context.Context, p OcoParams) (*OcoResult, error) {
	limitID, err := m.ExecuteOrder(ctx, &OrderRequest{
		Symbol: p.Symbol, Side: p.Side, Type: TypeLimit, Amount: p.Amount, Price: p.LimitPrice,
	})
	if err != nil {
		return nil, err
	}
	stopID, err := m.ExecuteOrder(ctx, &OrderRequest{
		Symbol: p.Symbol, Side: p.Side, Type: TypeStopMarket, Amount: p.Amount, StopPrice: p.StopPrice,
	})
	if err != nil {
		if cancelErr := m.CancelOrder(ctx, limitID, p.Symbol); cancelErr != nil {
			return nil, cancelErr
		}
		return nil, err
	}
	return &OcoResult{VenueOrderID: limitID, StopLegID: stopID, Emulated: !m.NativeOCO}, nil
}

func (m *MockGateway) GetMarketInfo(ctx context.Context, symbol string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.MarketInfo[symbol]; ok {
		return info, nil
	}
	return map[string]interface{}{
		"symbol": symbol,
		"filters": []interface{}{
			map[string]interface{}{"filterType": "PRICE_FILTER", "tickSize": "0.01"},
			map[string]interface{}{"filterType": "LOT_SIZE", "stepSize": "0.0001", "minQty": "0.0001"},
			map[string]interface{}{"filterType": "NOTIONAL", "minNotional": "5"},
		},
	}, nil
}

// FillOrder marks a resting order as (partially) filled, for tests that
// exercise reconciliation.
func (m *MockGateway) FillOrder(venueOrderID string, amount, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.orders[venueOrderID]
	if !ok {
		return
	}
	raw.FilledAmount += amount
	raw.AvgFillPrice = price
	if raw.FilledAmount >= raw.Amount-FlatThreshold {
		raw.Status = "filled"
	} else {
		raw.Status = "partially_filled"
	}
}

// price reads the configured price map. Tests set Prices up front, before
// concurrent use begins.
func (m *MockGateway) price(symbol string) float64 {
	if p, ok := m.Prices[symbol]; ok {
		return p
	}
	return 100
}
