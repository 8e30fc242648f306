package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"multi-venue-trading-bot/config"
	"multi-venue-trading-bot/internal/api"
	"multi-venue-trading-bot/internal/circuit"
	"multi-venue-trading-bot/internal/database"
	"multi-venue-trading-bot/internal/engine"
	"multi-venue-trading-bot/internal/events"
	"multi-venue-trading-bot/internal/logging"
	"multi-venue-trading-bot/internal/oms"
	"multi-venue-trading-bot/internal/portfolio"
	"multi-venue-trading-bot/internal/sizing"
	"multi-venue-trading-bot/internal/strategy"
	"multi-venue-trading-bot/internal/symbolinfo"
	"multi-venue-trading-bot/internal/uom"
	"multi-venue-trading-bot/internal/vault"
	"multi-venue-trading-bot/internal/venue"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	dryRun := flag.Bool("dry-run", false, "use in-memory venues instead of live APIs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.Trading.DryRun = true
	}

	logger := logging.New(cfg.Logging)
	logger.Info().Str("config", *configPath).Bool("dry_run", cfg.Trading.DryRun).Msg("Starting trader")

	if len(cfg.Venues) == 0 {
		logger.Fatal().Msg("At least one venue must be configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, continuing without L2 cache")
			redisClient = nil
		}
	}

	var snapshotStore oms.SnapshotStore
	if cfg.Database.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Database connection failed")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Migrations failed")
		}
		snapshotStore = database.NewRepository(db)
	}

	vaultClient, err := vault.NewClient(cfg.Vault)
	if err != nil {
		logger.Fatal().Err(err).Msg("Vault client failed")
	}

	manager := uom.NewManager(logger).WithEventBus(bus)
	if snapshotStore != nil {
		manager.WithSnapshotStore(snapshotStore)
	}

	retryPolicy := venue.RetryPolicy{
		MaxRetries:     cfg.VenueRetry.Max,
		InitialBackoff: time.Duration(cfg.VenueRetry.InitialMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.VenueRetry.MaxMs) * time.Millisecond,
		Factor:         cfg.VenueRetry.Factor,
	}

	gateways := make(map[string]venue.Gateway)
	for _, vc := range cfg.Venues {
		gw, err := buildGateway(ctx, cfg, vc, retryPolicy, vaultClient, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("venue", vc.ID).Msg("Venue initialization failed")
		}
		gateways[vc.ID] = gw
		if !manager.AddExchange(vc.ID, gw, vc.Priority) {
			logger.Fatal().Str("venue", vc.ID).Msg("Duplicate venue id")
		}
		if !vc.Active {
			manager.SetExchangeActive(vc.ID, false)
		}
	}

	if err := manager.SetAllocationStrategy(uom.AllocationConfig{
		Strategy:     uom.Strategy(cfg.Allocation.Strategy),
		Weights:      cfg.Allocation.Weights,
		CustomRatios: cfg.Allocation.CustomRatios,
		Precision:    cfg.Allocation.Precision,
	}); err != nil {
		logger.Fatal().Err(err).Msg("Invalid allocation config")
	}

	// Restore persisted order state before trading resumes.
	if snapshotStore != nil {
		for _, vc := range cfg.Venues {
			if o := manager.OMSFor(vc.ID); o != nil {
				if err := o.LoadSnapshot(ctx); err != nil {
					logger.Warn().Err(err).Str("venue", vc.ID).Msg("Snapshot restore failed")
				}
			}
		}
		manager.SyncAllOrders(ctx)
	}

	primary := primaryVenue(cfg)
	cacheTTL := time.Duration(cfg.SymbolInfo.TTLMs) * time.Millisecond
	infoCache := symbolinfo.New(gateways[primary], logger)
	if redisClient != nil {
		infoCache.WithRedis(redisClient, cacheTTL)
	}
	sizer := sizing.New(infoCache, gateways[primary], sizing.Config{
		RiskPercentage:            cfg.Risk.MaxRiskPerTrade,
		MinStopDistancePercentage: cfg.Risk.MinStopDistancePercentage,
	}, logger)

	breaker := circuit.New(circuit.Config{
		Enabled:              cfg.Breaker.Enabled,
		MaxConsecutiveLosses: cfg.Breaker.MaxConsecutiveLosses,
		MaxDailyLossPercent:  cfg.Breaker.MaxDailyLossPercent,
		CooldownMinutes:      cfg.Breaker.CooldownMinutes,
	}, bus, logger)

	coordinator := portfolio.NewCoordinator(portfolio.Config{
		Symbols:            cfg.Trading.Symbols,
		TotalCapital:       cfg.Trading.InitialCapital,
		Strategy:           portfolio.CapitalStrategy(cfg.Trading.CapitalAllocation),
		Weights:            cfg.Trading.CapitalWeights,
		PortfolioRiskLimit: cfg.Trading.PortfolioRiskLimit,
		CorrelationWindow:  cfg.Trading.CorrelationWindow,
	}, func(symbol string, capital float64) *engine.Engine {
		return engine.New(engine.Config{
			Symbol:          symbol,
			Capital:         capital,
			RiskPercentage:  cfg.Risk.MaxRiskPerTrade,
			ReductionFactor: cfg.Risk.RiskReductionFactor,
		}, strategy.NewSMACrossStrategy(strategy.SMACrossConfig{Symbol: symbol}), sizer, manager, logger).WithEventBus(bus)
	}, logger).WithEventBus(bus).WithCircuitBreaker(breaker)

	if err := coordinator.Initialize(); err != nil {
		logger.Fatal().Err(err).Msg("Coordinator initialization failed")
	}

	if cfg.Server.Enabled {
		server := api.NewServer(api.ServerConfig{
			Addr:           cfg.Server.Address,
			ProductionMode: !cfg.Trading.DryRun,
		}, coordinator, breaker, logger).WithEventBus(bus)
		go func() {
			if err := server.Run(); err != nil {
				logger.Error().Err(err).Msg("API server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("API shutdown failed")
			}
		}()
	}

	runLoop(ctx, cfg, coordinator, breaker, gateways[primary], logger)

	logger.Info().Msg("Shutting down, cancelling resting orders")
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	manager.CancelAllOrders(cleanupCtx, "", "")
	manager.SyncAllOrders(cleanupCtx)
}

// buildGateway wires one venue: dry-run venues are in-memory, live ones
// authenticate with credentials from Vault or the config file.
func buildGateway(ctx context.Context, cfg *config.Config, vc config.VenueConfig, policy venue.RetryPolicy, vaultClient *vault.Client, logger zerolog.Logger) (venue.Gateway, error) {
	if cfg.Trading.DryRun {
		return venue.NewMockGateway(vc.ID), nil
	}

	creds, err := vaultClient.GetCredentials(ctx, vc.ID, vc.Testnet)
	if err != nil {
		if vc.APIKey == "" || vc.SecretKey == "" {
			return nil, fmt.Errorf("no credentials for %s: %w", vc.ID, err)
		}
		creds = &venue.Credentials{APIKey: vc.APIKey, SecretKey: vc.SecretKey, Testnet: vc.Testnet}
	}

	gw := venue.NewRESTGateway(venue.ProfileFor(vc.ID, vc.BaseURL), logger, venue.WithRetryPolicy(policy))
	if err := gw.Initialize(ctx, creds); err != nil {
		return nil, err
	}
	return gw, nil
}

// runLoop drives the coordinator once per timeframe until the context ends.
func runLoop(ctx context.Context, cfg *config.Config, coordinator *portfolio.Coordinator, breaker *circuit.Breaker, primary venue.Gateway, logger zerolog.Logger) {
	interval := time.Duration(cfg.Trading.TimeframeHours * float64(time.Hour))
	if interval <= 0 {
		interval = time.Hour
	}
	timeframe := timeframeLabel(cfg.Trading.TimeframeHours)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prevEquity := coordinator.GetPortfolioEquity()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		bundle := make(map[string]venue.Candle, len(cfg.Trading.Symbols))
		for _, symbol := range cfg.Trading.Symbols {
			candles, err := primary.FetchCandles(ctx, symbol, timeframe, 1)
			if err != nil || len(candles) == 0 {
				logger.Warn().Err(err).Str("symbol", symbol).Msg("Candle fetch failed, skipping symbol")
				continue
			}
			bundle[symbol] = candles[len(candles)-1]
		}
		if len(bundle) == 0 {
			continue
		}

		if err := coordinator.Update(ctx, bundle); err != nil {
			logger.Error().Err(err).Msg("Tick update failed")
			continue
		}

		equity := coordinator.GetPortfolioEquity()
		if prevEquity > 0 {
			breaker.RecordTrade((equity - prevEquity) / prevEquity)
		}
		prevEquity = equity
	}
}

func primaryVenue(cfg *config.Config) string {
	best := ""
	bestPriority := 0
	for _, vc := range cfg.Venues {
		if !vc.Active {
			continue
		}
		if best == "" || vc.Priority < bestPriority {
			best = vc.ID
			bestPriority = vc.Priority
		}
	}
	if best == "" && len(cfg.Venues) > 0 {
		best = cfg.Venues[0].ID
	}
	return best
}

func timeframeLabel(hours float64) string {
	if hours < 1 {
		return fmt.Sprintf("%dm", int(hours*60))
	}
	return fmt.Sprintf("%dh", int(hours))
}
