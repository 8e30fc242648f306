package venue

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Profile captures everything venue-specific: endpoints, the order-type
// vocabulary, response shapes and outbound parameter quirks. Adding a venue
// means adding a profile, not another gateway.
type Profile struct {
	ID        string
	BaseURL   string
	NativeOCO bool
	Features  map[string]bool
	TypeMap   *OrderTypeMap

	CandlesPath    string
	TickerPath     string
	OrderPath      string
	BalancePath    string
	MarketInfoPath string
	OcoPath        string

	AuthHeader string

	// ApplyOrderQuirks mutates the outbound order params for venues that
	// need extra fields (Bitget, Bybit).
	ApplyOrderQuirks func(params url.Values, req *OrderRequest)

	ParseCandles func(body []byte) ([]Candle, error)
	ParseOrder   func(body []byte) (*RawOrder, error)
	ParseOcoIDs  func(body []byte) (limitID, stopID string, err error)
}

// Recognized venue identities with special handling
const (
	VenueBinance = "binance"
	VenueBitget  = "bitget"
	VenueBybit   = "bybit"
)

// ProfileFor returns the profile for a known venue id, or a Binance-shaped
// generic profile for unknown venues.
func ProfileFor(id, baseURL string) *Profile {
	switch id {
	case VenueBitget:
		return BitgetProfile(baseURL)
	case VenueBybit:
		return BybitProfile(baseURL)
	default:
		p := BinanceProfile(baseURL)
		p.ID = id
		return p
	}
}

// BinanceProfile covers Binance spot. OCO is native and returns the order
// list as an array of reports.
func BinanceProfile(baseURL string) *Profile {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &Profile{
		ID:        VenueBinance,
		BaseURL:   baseURL,
		NativeOCO: true,
		Features: map[string]bool{
			"oco":         true,
			"stop_market": true,
		},
		TypeMap:        NewOrderTypeMap(binanceOrderTypes),
		CandlesPath:    "/api/v3/klines",
		TickerPath:     "/api/v3/ticker/price",
		OrderPath:      "/api/v3/order",
		BalancePath:    "/api/v3/account",
		MarketInfoPath: "/api/v3/exchangeInfo",
		OcoPath:        "/api/v3/order/oco",
		AuthHeader:     "X-MBX-APIKEY",
		ParseCandles:   parseArrayCandles,
		ParseOrder:     parseBinanceOrder,
		ParseOcoIDs:    parseBinanceOcoIDs,
	}
}

// BitgetProfile covers Bitget spot. No native OCO; market orders require
// the force field and quote-denominated size on buys.
func BitgetProfile(baseURL string) *Profile {
	if baseURL == "" {
		baseURL = "https://api.bitget.com"
	}
	return &Profile{
		ID:        VenueBitget,
		BaseURL:   baseURL,
		NativeOCO: false,
		Features: map[string]bool{
			"stop_market": true,
		},
		TypeMap:        NewOrderTypeMap(binanceOrderTypes),
		CandlesPath:    "/api/v2/spot/market/candles",
		TickerPath:     "/api/v2/spot/market/tickers",
		OrderPath:      "/api/v2/spot/trade/place-order",
		BalancePath:    "/api/v2/spot/account/assets",
		MarketInfoPath: "/api/v2/spot/public/symbols",
		AuthHeader:     "ACCESS-KEY",
		ApplyOrderQuirks: func(params url.Values, req *OrderRequest) {
			params.Set("force", "gtc")
			if req.Type.IsMarketFamily() && req.Side == SideBuy {
				// Bitget market buys size in quote currency
				params.Set("sizeUnit", "quote")
			}
		},
		ParseCandles: parseArrayCandles,
		ParseOrder:   parseBinanceOrder,
	}
}

// BybitProfile covers Bybit v5 spot. No native OCO; every request carries
// the category field and market orders the marketUnit hint.
func BybitProfile(baseURL string) *Profile {
	if baseURL == "" {
		baseURL = "https://api.bybit.com"
	}
	return &Profile{
		ID:        VenueBybit,
		BaseURL:   baseURL,
		NativeOCO: false,
		Features: map[string]bool{
			"stop_market": true,
		},
		TypeMap:        NewOrderTypeMap(bybitOrderTypes),
		CandlesPath:    "/v5/market/kline",
		TickerPath:     "/v5/market/tickers",
		OrderPath:      "/v5/order/create",
		BalancePath:    "/v5/account/wallet-balance",
		MarketInfoPath: "/v5/market/instruments-info",
		AuthHeader:     "X-BAPI-API-KEY",
		ApplyOrderQuirks: func(params url.Values, req *OrderRequest) {
			params.Set("category", "spot")
			if req.Type.IsMarketFamily() {
				params.Set("marketUnit", "baseCoin")
			}
		},
		ParseCandles: parseArrayCandles,
		ParseOrder:   parseBybitOrder,
	}
}

// parseArrayCandles parses the array-of-arrays kline shape shared by the
// Binance-family endpoints: [openTime, open, high, low, close, volume, ...]
func parseArrayCandles(body []byte) ([]Candle, error) {
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		// Bybit nests the list under result.list
		var wrapped struct {
			Result struct {
				List [][]interface{} `json:"list"`
			} `json:"result"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil || wrapped.Result.List == nil {
			return nil, fmt.Errorf("error parsing candles: %w", err)
		}
		raw = wrapped.Result.List
	}

	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, Candle{
			Timestamp: asInt64(row[0]),
			Open:      asFloat(row[1]),
			High:      asFloat(row[2]),
			Low:       asFloat(row[3]),
			Close:     asFloat(row[4]),
			Volume:    asFloat(row[5]),
		})
	}
	return candles, nil
}

type binanceOrderResponse struct {
	Symbol       string  `json:"symbol"`
	OrderID      int64   `json:"orderId"`
	Status       string  `json:"status"`
	Side         string  `json:"side"`
	Type         string  `json:"type"`
	Price        float64 `json:"price,string"`
	OrigQty      float64 `json:"origQty,string"`
	ExecutedQty  float64 `json:"executedQty,string"`
	CumQuoteQty  float64 `json:"cummulativeQuoteQty,string"`
	TransactTime int64   `json:"transactTime"`
	UpdateTime   int64   `json:"updateTime"`
}

func parseBinanceOrder(body []byte) (*RawOrder, error) {
	var resp binanceOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	if resp.OrderID == 0 {
		return nil, fmt.Errorf("order response missing orderId")
	}
	avg := 0.0
	if resp.ExecutedQty > 0 {
		avg = resp.CumQuoteQty / resp.ExecutedQty
	}
	ts := resp.UpdateTime
	if ts == 0 {
		ts = resp.TransactTime
	}
	return &RawOrder{
		VenueOrderID: strconv.FormatInt(resp.OrderID, 10),
		Symbol:       resp.Symbol,
		Status:       resp.Status,
		Side:         resp.Side,
		Type:         resp.Type,
		Amount:       resp.OrigQty,
		Price:        resp.Price,
		FilledAmount: resp.ExecutedQty,
		AvgFillPrice: avg,
		Timestamp:    ts,
	}, nil
}

func parseBybitOrder(body []byte) (*RawOrder, error) {
	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			OrderID     string `json:"orderId"`
			Symbol      string `json:"symbol"`
			OrderStatus string `json:"orderStatus"`
			Side        string `json:"side"`
			OrderType   string `json:"orderType"`
			Qty         string `json:"qty"`
			Price       string `json:"price"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, &HTTPError{StatusCode: 400, Body: resp.RetMsg}
	}
	if resp.Result.OrderID == "" {
		return nil, fmt.Errorf("order response missing orderId")
	}
	ts, _ := strconv.ParseInt(resp.Result.UpdatedTime, 10, 64)
	return &RawOrder{
		VenueOrderID: resp.Result.OrderID,
		Symbol:       resp.Result.Symbol,
		Status:       resp.Result.OrderStatus,
		Side:         resp.Result.Side,
		Type:         resp.Result.OrderType,
		Amount:       parseFloat(resp.Result.Qty),
		Price:        parseFloat(resp.Result.Price),
		FilledAmount: parseFloat(resp.Result.CumExecQty),
		AvgFillPrice: parseFloat(resp.Result.AvgPrice),
		Timestamp:    ts,
	}, nil
}

// parseBinanceOcoIDs handles the array-of-reports OCO response: the limit
// (take-profit) leg id first, then the stop leg.
func parseBinanceOcoIDs(body []byte) (string, string, error) {
	var resp struct {
		OrderListID  int64 `json:"orderListId"`
		OrderReports []struct {
			OrderID int64  `json:"orderId"`
			Type    string `json:"type"`
		} `json:"orderReports"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("error parsing oco response: %w", err)
	}

	var limitID, stopID string
	for _, rep := range resp.OrderReports {
		switch MapStatusType(rep.Type) {
		case TypeLimit, TypeTakeProfit:
			limitID = strconv.FormatInt(rep.OrderID, 10)
		default:
			stopID = strconv.FormatInt(rep.OrderID, 10)
		}
	}
	if limitID == "" && resp.OrderListID != 0 {
		limitID = strconv.FormatInt(resp.OrderListID, 10)
	}
	if limitID == "" {
		return "", "", fmt.Errorf("oco response missing order ids")
	}
	return limitID, stopID, nil
}

// MapStatusType maps a venue order-type string through the Binance table.
func MapStatusType(s string) OrderType {
	for internal, wire := range binanceOrderTypes {
		if wire == s {
			return internal
		}
	}
	return TypeStop
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}

func asInt64(v interface{}) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	default:
		return 0
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
