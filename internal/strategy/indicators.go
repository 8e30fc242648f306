package strategy

import (
	"multi-venue-trading-bot/internal/venue"
)

// CalculateSMA calculates Simple Moving Average
func CalculateSMA(candles []venue.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// CalculateEMA calculates Exponential Moving Average
func CalculateEMA(candles []venue.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	// Seed with the SMA of the first window
	ema := CalculateSMA(candles[:period], period)
	multiplier := 2.0 / float64(period+1)

	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// CalculateRSI calculates the Relative Strength Index
func CalculateRSI(candles []venue.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 50.0 // Neutral RSI
	}

	gains := 0.0
	losses := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	avgGain := gains / float64(period)

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateATR calculates the Average True Range
func CalculateATR(candles []venue.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		highLow := candles[i].High - candles[i].Low
		highClose := candles[i].High - candles[i-1].Close
		lowClose := candles[i-1].Close - candles[i].Low
		tr := highLow
		if highClose > tr {
			tr = highClose
		}
		if lowClose > tr {
			tr = lowClose
		}
		sum += tr
	}
	return sum / float64(period)
}
