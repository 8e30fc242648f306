// Package config loads the bot configuration from a JSON file with
// environment variable overrides for secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"multi-venue-trading-bot/internal/logging"
)

// Config is the root configuration
type Config struct {
	Trading    TradingConfig    `json:"trading"`
	Risk       RiskConfig       `json:"risk"`
	Allocation AllocationConfig `json:"allocation"`
	Venues     []VenueConfig    `json:"venues"`
	VenueRetry VenueRetryConfig `json:"venue_retries"`
	SymbolInfo SymbolInfoConfig `json:"symbol_info"`
	Redis      RedisConfig      `json:"redis"`
	Database   DatabaseConfig   `json:"database"`
	Vault      VaultConfig      `json:"vault"`
	Server     ServerConfig     `json:"server"`
	Breaker    BreakerConfig    `json:"circuit_breaker"`
	Logging    logging.Config   `json:"logging"`
}

// TradingConfig holds portfolio-level trading configuration
type TradingConfig struct {
	Symbols            []string           `json:"symbols"`
	TimeframeHours     float64            `json:"timeframe_hours"`
	InitialCapital     float64            `json:"initial_capital"`
	PortfolioRiskLimit float64            `json:"portfolio_risk_limit"`
	CapitalAllocation  string             `json:"capital_allocation"` // EQUAL or CUSTOM
	CapitalWeights     map[string]float64 `json:"capital_weights"`
	CorrelationWindow  int                `json:"correlation_window"`
	DryRun             bool               `json:"dry_run"`
}

// RiskConfig holds position sizing parameters
type RiskConfig struct {
	MaxRiskPerTrade           float64 `json:"max_risk_per_trade"`
	DefaultATRPercentage      float64 `json:"default_atr_percentage"`
	MinStopDistancePercentage float64 `json:"min_stop_distance_percentage"`
	RiskReductionFactor       float64 `json:"risk_reduction_factor"`
}

// AllocationConfig holds the venue allocation policy
type AllocationConfig struct {
	Strategy     string             `json:"strategy"` // PRIORITY, ROUND_ROBIN, SPLIT_EQUAL, WEIGHTED, CUSTOM
	Weights      map[string]float64 `json:"weights,omitempty"`
	CustomRatios map[string]float64 `json:"custom_ratios,omitempty"`
	Precision    int                `json:"precision"` // decimals for weighted share rounding
}

// VenueConfig describes one registered venue
type VenueConfig struct {
	ID        string `json:"id"`
	BaseURL   string `json:"base_url"`
	Priority  int    `json:"priority"`
	Active    bool   `json:"active"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Testnet   bool   `json:"testnet"`
}

// VenueRetryConfig holds the outbound retry schedule
type VenueRetryConfig struct {
	Max       int     `json:"max"`
	InitialMs int     `json:"initial_ms"`
	MaxMs     int     `json:"max_ms"`
	Factor    float64 `json:"factor"`
}

// SymbolInfoConfig holds symbol metadata cache settings
type SymbolInfoConfig struct {
	TTLMs int64 `json:"ttl_ms"`
}

// RedisConfig holds the optional second-level cache settings
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds the optional snapshot store settings
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// VaultConfig holds the optional credential store settings
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// ServerConfig holds the status API settings
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxDailyLossPercent  float64 `json:"max_daily_loss_percent"`
	CooldownMinutes      int     `json:"cooldown_minutes"`
}

// Default returns a configuration with the documented defaults applied.
func Default() *Config {
	return &Config{
		Trading: TradingConfig{
			TimeframeHours:    1,
			InitialCapital:    10000,
			CapitalAllocation: "EQUAL",
			CorrelationWindow: 20,
		},
		Risk: RiskConfig{
			MaxRiskPerTrade:           0.01,
			DefaultATRPercentage:      0.02,
			MinStopDistancePercentage: 0.01,
			RiskReductionFactor:       0.5,
		},
		Allocation: AllocationConfig{
			Strategy:  "PRIORITY",
			Precision: 2,
		},
		VenueRetry: VenueRetryConfig{
			Max:       7,
			InitialMs: 1000,
			MaxMs:     64000,
			Factor:    2,
		},
		SymbolInfo: SymbolInfoConfig{
			TTLMs: 3600000,
		},
		Breaker: BreakerConfig{
			Enabled:              true,
			MaxConsecutiveLosses: 5,
			MaxDailyLossPercent:  5.0,
			CooldownMinutes:      30,
		},
		Server: ServerConfig{
			Address: ":8080",
		},
		Logging: logging.Config{
			Level: "info",
		},
	}
}

// Load reads the configuration file, applies defaults for missing values
// and environment overrides for secrets.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides pulls secrets from the environment so they never need
// to live in the config file.
func applyEnvOverrides(cfg *Config) {
	for i := range cfg.Venues {
		prefix := "VENUE_" + toEnvKey(cfg.Venues[i].ID)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			cfg.Venues[i].APIKey = v
		}
		if v := os.Getenv(prefix + "_SECRET_KEY"); v != "" {
			cfg.Venues[i].SecretKey = v
		}
	}
	if v := os.Getenv("VAULT_TOKEN"); v != "" {
		cfg.Vault.Token = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("INITIAL_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Trading.InitialCapital = f
		}
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Trading.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive")
	}
	if c.Risk.MaxRiskPerTrade <= 0 || c.Risk.MaxRiskPerTrade > 1 {
		return fmt.Errorf("max_risk_per_trade must be in (0, 1]")
	}
	seen := make(map[string]bool)
	for _, v := range c.Venues {
		if v.ID == "" {
			return fmt.Errorf("venue id must not be empty")
		}
		if seen[v.ID] {
			return fmt.Errorf("duplicate venue id %q", v.ID)
		}
		seen[v.ID] = true
	}
	return nil
}

func toEnvKey(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			r = r - 'a' + 'A'
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
