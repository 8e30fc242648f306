package strategy

import (
	"math"
	"testing"

	"multi-venue-trading-bot/internal/venue"
)

func candlesFromCloses(closes ...float64) []venue.Candle {
	out := make([]venue.Candle, len(closes))
	for i, c := range closes {
		out[i] = venue.Candle{
			Timestamp: int64(i) * 60000,
			Open:      c, High: c * 1.01, Low: c * 0.99, Close: c,
			Volume: 10,
		}
	}
	return out
}

func TestCalculateSMA(t *testing.T) {
	candles := candlesFromCloses(1, 2, 3, 4, 5)

	if got := CalculateSMA(candles, 5); got != 3 {
		t.Errorf("SMA(5) = %v, want 3", got)
	}
	if got := CalculateSMA(candles, 2); got != 4.5 {
		t.Errorf("SMA(2) = %v, want 4.5", got)
	}
	if got := CalculateSMA(candles, 10); got != 0 {
		t.Errorf("SMA with short history = %v, want 0", got)
	}
}

func TestCalculateRSIExtremes(t *testing.T) {
	up := candlesFromCloses(1, 2, 3, 4, 5, 6, 7, 8)
	if got := CalculateRSI(up, 5); got != 100 {
		t.Errorf("RSI of pure uptrend = %v, want 100", got)
	}
	flatShort := candlesFromCloses(1, 2)
	if got := CalculateRSI(flatShort, 14); got != 50 {
		t.Errorf("RSI with short history = %v, want neutral 50", got)
	}
}

func TestSMACrossFiresOnlyOnCross(t *testing.T) {
	s := NewSMACrossStrategy(SMACrossConfig{Symbol: "BTCUSDT", FastPeriod: 2, SlowPeriod: 4})

	// Downtrend establishes fast < slow.
	down := candlesFromCloses(110, 108, 106, 104, 102)
	sig, err := s.Evaluate(down, 102)
	if err != nil || sig.Type != SignalNone {
		t.Fatalf("warmup signal = %v (%v), want NONE", sig.Type, err)
	}

	// Sharp reversal lifts the fast SMA above the slow one.
	upCross := candlesFromCloses(106, 104, 102, 118, 125)
	sig, err = s.Evaluate(upCross, 125)
	if err != nil {
		t.Fatal(err)
	}
	if sig.Type != SignalBuy {
		t.Fatalf("signal = %v, want BUY on upward cross", sig.Type)
	}
	if sig.StopLoss >= sig.EntryPrice || sig.TakeProfit <= sig.EntryPrice {
		t.Errorf("long levels inverted: entry=%v stop=%v take=%v", sig.EntryPrice, sig.StopLoss, sig.TakeProfit)
	}

	// Same relation again must not re-fire.
	sig, err = s.Evaluate(candlesFromCloses(102, 118, 125, 130, 132), 132)
	if err != nil || sig.Type != SignalNone {
		t.Errorf("repeat signal = %v (%v), want NONE without a new cross", sig.Type, err)
	}
}

func TestBreakoutStrategy(t *testing.T) {
	s := NewBreakoutStrategy(BreakoutConfig{Symbol: "BTCUSDT", StopLossPct: 0.02, TakePct: 0.04})
	candles := candlesFromCloses(100, 101, 102)

	// Previous completed candle high is 101*1.01.
	sig, err := s.Evaluate(candles, 103)
	if err != nil {
		t.Fatal(err)
	}
	if sig.Type != SignalBuy {
		t.Fatalf("signal = %v, want BUY above previous high", sig.Type)
	}
	if math.Abs(sig.StopLoss-103*0.98) > 1e-9 {
		t.Errorf("stop = %v, want %v", sig.StopLoss, 103*0.98)
	}

	sig, _ = s.Evaluate(candles, 100)
	if sig.Type != SignalNone {
		t.Errorf("signal below previous high = %v, want NONE", sig.Type)
	}
}
