// Package venue provides the uniform gateway to a single trading venue:
// market data, order CRUD, balance, OCO handling and the retry discipline
// that wraps every outbound call.
package venue

import (
	"time"
)

// OrderSide represents the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType represents the internal order type vocabulary
type OrderType string

const (
	TypeMarket           OrderType = "MARKET"
	TypeLimit            OrderType = "LIMIT"
	TypeStop             OrderType = "STOP"
	TypeStopLimit        OrderType = "STOP_LIMIT"
	TypeStopMarket       OrderType = "STOP_MARKET"
	TypeTakeProfit       OrderType = "TAKE_PROFIT"
	TypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// IsMarketFamily reports whether outbound requests for this type must omit
// the price field entirely.
func (t OrderType) IsMarketFamily() bool {
	return t == TypeMarket || t == TypeStopMarket || t == TypeTakeProfitMarket
}

// RequiresPrice reports whether the type must carry a limit price.
func (t OrderType) RequiresPrice() bool {
	return t == TypeLimit || t == TypeStopLimit || t == TypeTakeProfit
}

// RequiresStopPrice reports whether the type must carry a stop trigger price.
func (t OrderType) RequiresStopPrice() bool {
	switch t {
	case TypeStop, TypeStopLimit, TypeStopMarket, TypeTakeProfit, TypeTakeProfitMarket:
		return true
	}
	return false
}

// OrderStatus represents the lifecycle state of a tracked order
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusPlaced          OrderStatus = "PLACED"
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status is a sink in the order state machine.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// Candle represents a single OHLCV candlestick with an epoch-ms timestamp
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Ticker represents the latest traded price for a symbol
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Timestamp int64   `json:"timestamp"`
}

// OrderRequest is the logical order submitted to the order managers
type OrderRequest struct {
	Symbol    string            `json:"symbol"`
	Side      OrderSide         `json:"side"`
	Type      OrderType         `json:"type"`
	Amount    float64           `json:"amount"`
	Price     float64           `json:"price,omitempty"`
	StopPrice float64           `json:"stop_price,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// Validate checks the request against the local constraints that must hold
// before anything is sent to a venue.
func (r *OrderRequest) Validate() error {
	if r.Symbol == "" {
		return ErrInvalidOrder
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return ErrInvalidOrder
	}
	if r.Amount <= 0 {
		return ErrInvalidOrder
	}
	if r.Type.IsMarketFamily() && r.Price != 0 && r.Type == TypeMarket {
		// Tolerated: the gateway strips the price before sending. A MARKET
		// request carrying a price is a caller smell, not a hard failure.
		return nil
	}
	if r.Type.RequiresPrice() && r.Price <= 0 {
		return ErrInvalidOrder
	}
	if r.Type.RequiresStopPrice() && r.StopPrice <= 0 {
		return ErrInvalidOrder
	}
	return nil
}

// Order is an OrderRequest tracked by an OMS through its lifecycle
type Order struct {
	ID           string      `json:"id"`
	VenueID      string      `json:"venue_id,omitempty"`
	VenueOrderID string      `json:"venue_order_id,omitempty"`
	Symbol       string      `json:"symbol"`
	Side         OrderSide   `json:"side"`
	Type         OrderType   `json:"type"`
	Amount       float64     `json:"amount"`
	Price        float64     `json:"price,omitempty"`
	StopPrice    float64     `json:"stop_price,omitempty"`
	Status       OrderStatus `json:"status"`
	FilledAmount float64     `json:"filled_amount"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Position is derived from filled orders; amount is unsigned, direction is
// carried by Side.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Amount        float64   `json:"amount"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	Cost          float64   `json:"cost"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Timestamp     int64     `json:"timestamp"`
}

// FlatThreshold is the amount below which a position is treated as flat
const FlatThreshold = 1e-6

// MarkToMarket refreshes CurrentPrice, Cost and UnrealizedPnL at price.
func (p *Position) MarkToMarket(price float64) {
	p.CurrentPrice = price
	p.Cost = p.Amount * p.EntryPrice
	if p.Side == SideBuy {
		p.UnrealizedPnL = (price - p.EntryPrice) * p.Amount
	} else {
		p.UnrealizedPnL = (p.EntryPrice - price) * p.Amount
	}
}

// SymbolInfo is the unified per-venue symbol metadata shape
type SymbolInfo struct {
	Symbol          string  `json:"symbol"`
	Base            string  `json:"base"`
	Quote           string  `json:"quote"`
	Active          bool    `json:"active"`
	PricePrecision  int     `json:"price_precision"`
	AmountPrecision int     `json:"amount_precision"`
	CostPrecision   int     `json:"cost_precision,omitempty"`
	MinPrice        float64 `json:"min_price,omitempty"`
	MaxPrice        float64 `json:"max_price,omitempty"`
	MinAmount       float64 `json:"min_amount"`
	MaxAmount       float64 `json:"max_amount,omitempty"`
	MinCost         float64 `json:"min_cost,omitempty"`
	TickSize        float64 `json:"tick_size,omitempty"`
	StepSize        float64 `json:"step_size,omitempty"`
	MakerFee        float64 `json:"maker_fee,omitempty"`
	TakerFee        float64 `json:"taker_fee,omitempty"`
	FetchTimestamp  int64   `json:"fetch_timestamp"`

	Raw map[string]interface{} `json:"-"`
}

// RawOrder is a venue-reported order before conversion to the internal shape
type RawOrder struct {
	VenueOrderID string  `json:"venue_order_id"`
	Symbol       string  `json:"symbol"`
	Status       string  `json:"status"`
	Side         string  `json:"side"`
	Type         string  `json:"type"`
	Amount       float64 `json:"amount"`
	Price        float64 `json:"price"`
	FilledAmount float64 `json:"filled_amount"`
	AvgFillPrice float64 `json:"avg_fill_price"`
	Timestamp    int64   `json:"timestamp"`
}

// OcoParams describes a linked take-profit / stop-loss pair
type OcoParams struct {
	Symbol         string
	Side           OrderSide
	Amount         float64
	StopPrice      float64
	LimitPrice     float64
	StopLimitPrice float64
}

// OcoResult is the tagged outcome of an OCO placement. Native venues return
// a single linked identifier; emulated placements return both leg IDs with
// the limit leg first.
type OcoResult struct {
	VenueOrderID string `json:"venue_order_id"`
	StopLegID    string `json:"stop_leg_id,omitempty"`
	Emulated     bool   `json:"emulated"`
}

// Credentials holds the API keypair for one venue
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Testnet   bool   `json:"testnet"`
}
