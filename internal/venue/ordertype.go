package venue

import (
	"strings"

	"github.com/rs/zerolog"
)

// OrderTypeMap translates between the internal order-type vocabulary and one
// venue's wire strings. The map is bijective by default; unknown venue
// strings fall back to LIMIT with a warning.
type OrderTypeMap struct {
	toVenue  map[OrderType]string
	toLocal  map[string]OrderType
	fallback OrderType
}

// NewOrderTypeMap builds the map from an internal→venue table.
func NewOrderTypeMap(table map[OrderType]string) *OrderTypeMap {
	m := &OrderTypeMap{
		toVenue:  make(map[OrderType]string, len(table)),
		toLocal:  make(map[string]OrderType, len(table)),
		fallback: TypeLimit,
	}
	for internal, wire := range table {
		m.toVenue[internal] = wire
		m.toLocal[strings.ToUpper(wire)] = internal
	}
	return m
}

// ToVenue maps an internal type to the venue string. Types the venue does
// not know are sent as their internal name so the venue can reject them
// explicitly rather than silently mis-trading.
func (m *OrderTypeMap) ToVenue(t OrderType) string {
	if s, ok := m.toVenue[t]; ok {
		return s
	}
	return string(t)
}

// ToInternal maps a venue string back to the internal type.
func (m *OrderTypeMap) ToInternal(s string, logger zerolog.Logger) OrderType {
	if t, ok := m.toLocal[strings.ToUpper(s)]; ok {
		return t
	}
	logger.Warn().Str("venue_type", s).Msg("Unknown venue order type, defaulting to LIMIT")
	return m.fallback
}

// binanceOrderTypes is the Binance wire vocabulary (also used by Bitget,
// which accepts the same spot type names)
var binanceOrderTypes = map[OrderType]string{
	TypeMarket:           "MARKET",
	TypeLimit:            "LIMIT",
	TypeStop:             "STOP_LOSS",
	TypeStopLimit:        "STOP_LOSS_LIMIT",
	TypeStopMarket:       "STOP_MARKET",
	TypeTakeProfit:       "TAKE_PROFIT_LIMIT",
	TypeTakeProfitMarket: "TAKE_PROFIT_MARKET",
}

// bybitOrderTypes is the Bybit v5 vocabulary; conditional orders reuse the
// base type plus trigger parameters, so the map stays bijective on the
// subset Bybit names directly.
var bybitOrderTypes = map[OrderType]string{
	TypeMarket:           "Market",
	TypeLimit:            "Limit",
	TypeStop:             "Stop",
	TypeStopLimit:        "StopLimit",
	TypeStopMarket:       "StopMarket",
	TypeTakeProfit:       "TakeProfitLimit",
	TypeTakeProfitMarket: "TakeProfitMarket",
}

// MapStatus converts a venue-reported status string to the internal status.
func MapStatus(s string) OrderStatus {
	switch strings.ToLower(s) {
	case "new", "open":
		return StatusPlaced
	case "closed", "filled":
		return StatusFilled
	case "partially_filled", "partiallyfilled":
		return StatusPartiallyFilled
	case "canceled", "cancelled", "expired":
		return StatusCanceled
	case "rejected":
		return StatusRejected
	default:
		return StatusOpen
	}
}
