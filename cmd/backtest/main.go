// Command backtest replays historical candles through the full portfolio
// coordinator against in-memory venues and prints the performance report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"multi-venue-trading-bot/config"
	"multi-venue-trading-bot/internal/engine"
	"multi-venue-trading-bot/internal/logging"
	"multi-venue-trading-bot/internal/portfolio"
	"multi-venue-trading-bot/internal/sizing"
	"multi-venue-trading-bot/internal/strategy"
	"multi-venue-trading-bot/internal/symbolinfo"
	"multi-venue-trading-bot/internal/uom"
	"multi-venue-trading-bot/internal/venue"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	candlesPath := flag.String("candles", "", "path to a JSON file of candles per symbol")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	if *candlesPath == "" {
		logger.Fatal().Msg("-candles is required")
	}
	history, err := loadCandles(*candlesPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load candles")
	}

	// Backtests always trade against in-memory venues.
	manager := uom.NewManager(logger)
	gw := venue.NewMockGateway("backtest")
	manager.AddExchange("backtest", gw, 1)

	infoCache := symbolinfo.New(gw, logger)
	sizer := sizing.New(infoCache, gw, sizing.Config{
		RiskPercentage:            cfg.Risk.MaxRiskPerTrade,
		MinStopDistancePercentage: cfg.Risk.MinStopDistancePercentage,
	}, logger)

	coordinator := portfolio.NewCoordinator(portfolio.Config{
		Symbols:            cfg.Trading.Symbols,
		TotalCapital:       cfg.Trading.InitialCapital,
		Strategy:           portfolio.CapitalStrategy(cfg.Trading.CapitalAllocation),
		Weights:            cfg.Trading.CapitalWeights,
		PortfolioRiskLimit: cfg.Trading.PortfolioRiskLimit,
		CorrelationWindow:  cfg.Trading.CorrelationWindow,
		OnTick: func(bundle map[string]venue.Candle) {
			for symbol, candle := range bundle {
				gw.Prices[symbol] = candle.Close
			}
		},
	}, func(symbol string, capital float64) *engine.Engine {
		return engine.New(engine.Config{
			Symbol:          symbol,
			Capital:         capital,
			RiskPercentage:  cfg.Risk.MaxRiskPerTrade,
			ReductionFactor: cfg.Risk.RiskReductionFactor,
		}, strategy.NewSMACrossStrategy(strategy.SMACrossConfig{Symbol: symbol}), sizer, manager, logger)
	}, logger)

	// Keep the mock tickers in step with the replayed candles.
	seedPrices(gw, history)

	result, err := coordinator.Run(context.Background(), history)
	if err != nil {
		logger.Fatal().Err(err).Msg("Backtest failed")
	}

	report, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(report))
}

// loadCandles reads {"BTCUSDT": [{timestamp, open, high, low, close, volume}, ...]}.
func loadCandles(path string) (map[string][]venue.Candle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candles file: %w", err)
	}
	var out map[string][]venue.Candle
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse candles file: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("candles file is empty")
	}
	return out, nil
}

func seedPrices(gw *venue.MockGateway, history map[string][]venue.Candle) {
	for symbol, candles := range history {
		if len(candles) > 0 {
			gw.Prices[symbol] = candles[0].Close
		}
	}
}
