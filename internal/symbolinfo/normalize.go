package symbolinfo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"multi-venue-trading-bot/internal/venue"
)

// Normalize converts a venue's raw market metadata into the unified
// SymbolInfo shape. It understands the Binance exchangeInfo filter list
// (PRICE_FILTER.tickSize, LOT_SIZE.stepSize, NOTIONAL.minNotional) and the
// flat min/max field style used by the other venues.
func Normalize(symbol string, raw map[string]interface{}) (*venue.SymbolInfo, error) {
	if raw == nil {
		return nil, fmt.Errorf("empty market info for %s", symbol)
	}

	// Binance exchangeInfo nests per-symbol data under "symbols"
	if symbols, ok := raw["symbols"].([]interface{}); ok {
		for _, s := range symbols {
			m, ok := s.(map[string]interface{})
			if !ok {
				continue
			}
			if str(m["symbol"]) == symbol {
				raw = m
				break
			}
		}
	}

	info := &venue.SymbolInfo{
		Symbol: symbol,
		Base:   str(raw["baseAsset"]),
		Quote:  str(raw["quoteAsset"]),
		Active: true,
		Raw:    raw,
	}
	if st := str(raw["status"]); st != "" && !strings.EqualFold(st, "TRADING") && !strings.EqualFold(st, "online") {
		info.Active = false
	}
	if info.Base == "" {
		info.Base = str(raw["baseCoin"])
	}
	if info.Quote == "" {
		info.Quote = str(raw["quoteCoin"])
	}

	info.PricePrecision = intval(raw["pricePrecision"], intval(raw["quotePrecision"], 8))
	info.AmountPrecision = intval(raw["quantityPrecision"], intval(raw["baseAssetPrecision"], 8))

	if fees, ok := raw["fees"].(map[string]interface{}); ok {
		info.MakerFee = num(fees["maker"])
		info.TakerFee = num(fees["taker"])
	} else {
		info.MakerFee = num(raw["makerFeeRate"])
		info.TakerFee = num(raw["takerFeeRate"])
	}

	if filters, ok := raw["filters"].([]interface{}); ok {
		applyBinanceFilters(info, filters)
	} else {
		// Flat field style (Bitget/Bybit instrument info)
		info.TickSize = num(raw["tickSize"])
		info.StepSize = num(raw["stepSize"])
		info.MinAmount = num(raw["minTradeAmount"])
		info.MaxAmount = num(raw["maxTradeAmount"])
		info.MinCost = num(raw["minTradeUSDT"])
		info.MinPrice = num(raw["minPrice"])
		info.MaxPrice = num(raw["maxPrice"])
	}

	// Derive precision from step/tick when the venue reports only the latter
	if info.StepSize > 0 {
		info.AmountPrecision = decimalsOf(info.StepSize)
	}
	if info.TickSize > 0 {
		info.PricePrecision = decimalsOf(info.TickSize)
	}
	return info, nil
}

func applyBinanceFilters(info *venue.SymbolInfo, filters []interface{}) {
	for _, f := range filters {
		m, ok := f.(map[string]interface{})
		if !ok {
			continue
		}
		switch str(m["filterType"]) {
		case "PRICE_FILTER":
			info.TickSize = num(m["tickSize"])
			info.MinPrice = num(m["minPrice"])
			info.MaxPrice = num(m["maxPrice"])
		case "LOT_SIZE":
			info.StepSize = num(m["stepSize"])
			info.MinAmount = num(m["minQty"])
			info.MaxAmount = num(m["maxQty"])
		case "NOTIONAL", "MIN_NOTIONAL":
			info.MinCost = num(m["minNotional"])
		}
	}
}

// decimalsOf returns the number of decimal places in an increment like
// 0.001. Increments that are not powers of ten round up conservatively.
func decimalsOf(inc float64) int {
	if inc <= 0 || inc >= 1 {
		return 0
	}
	d := int(math.Ceil(-math.Log10(inc) - 1e-9))
	if d < 0 {
		return 0
	}
	if d > 12 {
		return 12
	}
	return d
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	case int:
		return float64(x)
	default:
		return 0
	}
}

func intval(v interface{}, def int) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case string:
		if n, err := strconv.Atoi(x); err == nil {
			return n
		}
	case int:
		return x
	}
	return def
}
