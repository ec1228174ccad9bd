// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DatabaseURL string // SQLite path or DSN
	APIKey      string // static key for trigger-style endpoints
	LogLevel    string
	Port        int
	DevMode     bool

	// Tracked universes
	TrackedAssets        []string // spot symbols
	TrackedFuturesAssets []string
	TrackedLendingAssets []string
	// Alias map for user-facing lending symbols (BTC -> WBTC)
	LendingAssetAliases map[string]string

	// Ingestion cadence
	FetchIntervalHours          int    // spot job
	FuturesFundingIntervalHours int    // futures job
	FuturesKlinesInterval       string // kline interval, e.g. "8h"
	FuturesOIPeriod             string // open-interest period, e.g. "5m"
	LendingFetchIntervalHours   int

	// Backfill windows
	InitialBackfillDays        int
	InitialLendingBackfillDays int
	MinBackfillDays            int

	// Risk analysis
	RiskDefaultLookbackDays int
	RiskMaxLookbackDays     int
	FundingRateLookbackDays int // hard-capped at 30 by the provider
	MaxPortfolioPositions   int
	MaxLeverageLimit        float64
	SensitivityRange        []int // percent steps, e.g. -30..30 step 5
	VaRConfidenceLevels     []float64
	RiskFreeRate            float64
	LendingDataMaxAgeHours  int

	// Provider limits
	BinanceRateLimitPerMinute int
	BinanceRequestDelayMs     int
	DuneAPIKey                string
	DuneLendingQueryID        int

	// Aave account constants
	AaveLiquidationThresholds map[string]float64
	AaveMaxLTV                map[string]float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", "riskwatch.db"),
		APIKey:      getEnv("API_KEY", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnvAsInt("PORT", 8000),
		DevMode:     getEnvAsBool("DEV_MODE", false),

		TrackedAssets:        getEnvAsList("TRACKED_ASSETS", []string{"BTC", "ETH", "SOL", "BNB", "XRP", "ADA", "LINK"}),
		TrackedFuturesAssets: getEnvAsList("TRACKED_FUTURES_ASSETS", []string{"BTC", "ETH", "SOL", "BNB", "XRP", "ADA", "LINK"}),
		TrackedLendingAssets: getEnvAsList("TRACKED_LENDING_ASSETS", []string{"WETH", "WBTC", "USDC", "USDT", "DAI"}),
		LendingAssetAliases: map[string]string{
			"BTC": "WBTC",
			"ETH": "WETH",
		},

		FetchIntervalHours:          getEnvAsInt("FETCH_INTERVAL_HOURS", 12),
		FuturesFundingIntervalHours: getEnvAsInt("FUTURES_FUNDING_INTERVAL_HOURS", 8),
		FuturesKlinesInterval:       getEnv("FUTURES_KLINES_INTERVAL", "8h"),
		FuturesOIPeriod:             getEnv("FUTURES_OI_PERIOD", "5m"),
		LendingFetchIntervalHours:   getEnvAsInt("LENDING_FETCH_INTERVAL_HOURS", 24),

		InitialBackfillDays:        getEnvAsInt("INITIAL_BACKFILL_DAYS", 730),
		InitialLendingBackfillDays: getEnvAsInt("INITIAL_LENDING_BACKFILL_DAYS", 365),
		MinBackfillDays:            getEnvAsInt("MIN_BACKFILL_DAYS", 90),

		RiskDefaultLookbackDays: getEnvAsInt("RISK_ANALYSIS_DEFAULT_LOOKBACK_DAYS", 30),
		RiskMaxLookbackDays:     getEnvAsInt("RISK_ANALYSIS_MAX_LOOKBACK_DAYS", 180),
		FundingRateLookbackDays: getEnvAsInt("FUNDING_RATE_LOOKBACK_DAYS", 30),
		MaxPortfolioPositions:   getEnvAsInt("MAX_PORTFOLIO_POSITIONS", 20),
		MaxLeverageLimit:        getEnvAsFloat("MAX_LEVERAGE_LIMIT", 125),
		SensitivityRange:        getEnvAsIntList("SENSITIVITY_RANGE", []int{-30, -25, -20, -15, -10, -5, 0, 5, 10, 15, 20, 25, 30}),
		VaRConfidenceLevels:     getEnvAsFloatList("VAR_CONFIDENCE_LEVELS", []float64{0.95, 0.99}),
		RiskFreeRate:            getEnvAsFloat("RISK_FREE_RATE", 0.0),
		LendingDataMaxAgeHours:  getEnvAsInt("LENDING_DATA_MAX_AGE_HOURS", 48),

		BinanceRateLimitPerMinute: getEnvAsInt("BINANCE_RATE_LIMIT_REQUESTS_PER_MINUTE", 2400),
		BinanceRequestDelayMs:     getEnvAsInt("BINANCE_REQUEST_DELAY_MS", 100),
		DuneAPIKey:                getEnv("DUNE_API_KEY", ""),
		DuneLendingQueryID:        getEnvAsInt("DUNE_LENDING_QUERY_ID", 3328916),

		AaveLiquidationThresholds: getEnvAsFloatMap("AAVE_LIQUIDATION_THRESHOLDS", map[string]float64{
			"WETH": 0.825,
			"WBTC": 0.75,
			"USDC": 0.87,
			"USDT": 0.87,
			"DAI":  0.80,
		}),
		AaveMaxLTV: getEnvAsFloatMap("AAVE_MAX_LTV", map[string]float64{
			"WETH": 0.80,
			"WBTC": 0.70,
			"USDC": 0.85,
			"USDT": 0.85,
			"DAI":  0.75,
		}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and coherent
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if len(c.TrackedAssets) == 0 {
		return fmt.Errorf("TRACKED_ASSETS must not be empty")
	}
	if c.FetchIntervalHours <= 0 || c.FuturesFundingIntervalHours <= 0 || c.LendingFetchIntervalHours <= 0 {
		return fmt.Errorf("fetch intervals must be positive")
	}
	if c.RiskDefaultLookbackDays > c.RiskMaxLookbackDays {
		return fmt.Errorf("RISK_ANALYSIS_DEFAULT_LOOKBACK_DAYS (%d) exceeds RISK_ANALYSIS_MAX_LOOKBACK_DAYS (%d)",
			c.RiskDefaultLookbackDays, c.RiskMaxLookbackDays)
	}
	if c.FundingRateLookbackDays > 30 {
		// Provider only retains ~30 days of open-interest history.
		c.FundingRateLookbackDays = 30
	}
	if c.MaxLeverageLimit <= 0 {
		return fmt.Errorf("MAX_LEVERAGE_LIMIT must be positive")
	}
	for _, level := range c.VaRConfidenceLevels {
		if level <= 0 || level >= 1 {
			return fmt.Errorf("VaR confidence level %v outside (0, 1)", level)
		}
	}
	return nil
}

// IsTrackedAsset reports whether symbol is in the spot universe.
func (c *Config) IsTrackedAsset(symbol string) bool {
	return containsSymbol(c.TrackedAssets, symbol)
}

// IsTrackedFuturesAsset reports whether symbol is in the futures universe.
func (c *Config) IsTrackedFuturesAsset(symbol string) bool {
	return containsSymbol(c.TrackedFuturesAssets, symbol)
}

// ResolveLendingAsset maps a user-facing symbol to the stored lending
// symbol (BTC -> WBTC) and reports whether the result is tracked.
func (c *Config) ResolveLendingAsset(symbol string) (string, bool) {
	upper := strings.ToUpper(symbol)
	if alias, ok := c.LendingAssetAliases[upper]; ok {
		upper = alias
	}
	return upper, containsSymbol(c.TrackedLendingAssets, upper)
}

func containsSymbol(list []string, symbol string) bool {
	upper := strings.ToUpper(symbol)
	for _, s := range list {
		if s == upper {
			return true
		}
	}
	return false
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsList parses comma-separated values, uppercased and trimmed.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsIntList(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		intVal, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		out = append(out, intVal)
	}
	return out
}

func getEnvAsFloatList(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		floatVal, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, floatVal)
	}
	return out
}

// getEnvAsFloatMap parses "KEY1:0.8,KEY2:0.75" style maps.
func getEnvAsFloatMap(key string, defaultValue map[string]float64) map[string]float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(value, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			return defaultValue
		}
		floatVal, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return defaultValue
		}
		out[strings.ToUpper(strings.TrimSpace(kv[0]))] = floatVal
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
