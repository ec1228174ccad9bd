package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, []string{"BTC", "ETH", "SOL", "BNB", "XRP", "ADA", "LINK"}, cfg.TrackedAssets)
	assert.Equal(t, []string{"WETH", "WBTC", "USDC", "USDT", "DAI"}, cfg.TrackedLendingAssets)
	assert.Equal(t, 12, cfg.FetchIntervalHours)
	assert.Equal(t, 730, cfg.InitialBackfillDays)
	assert.Equal(t, 30, cfg.FundingRateLookbackDays)
	assert.Equal(t, []float64{0.95, 0.99}, cfg.VaRConfidenceLevels)
	assert.Equal(t, 3328916, cfg.DuneLendingQueryID)
	assert.InDelta(t, 0.825, cfg.AaveLiquidationThresholds["WETH"], 1e-9)
	assert.InDelta(t, 0.70, cfg.AaveMaxLTV["WBTC"], 1e-9)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRACKED_ASSETS", "btc, eth")
	t.Setenv("SENSITIVITY_RANGE", "-10,0,10")
	t.Setenv("AAVE_MAX_LTV", "WETH:0.5")
	t.Setenv("FUNDING_RATE_LOOKBACK_DAYS", "90")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH"}, cfg.TrackedAssets)
	assert.Equal(t, []int{-10, 0, 10}, cfg.SensitivityRange)
	assert.Equal(t, map[string]float64{"WETH": 0.5}, cfg.AaveMaxLTV)
	// Open-interest retention caps the funding lookback at 30 days.
	assert.Equal(t, 30, cfg.FundingRateLookbackDays)
}

func TestValidateRejectsBadIntervals(t *testing.T) {
	t.Setenv("FETCH_INTERVAL_HOURS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestResolveLendingAsset(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	asset, ok := cfg.ResolveLendingAsset("btc")
	assert.True(t, ok)
	assert.Equal(t, "WBTC", asset)

	asset, ok = cfg.ResolveLendingAsset("ETH")
	assert.True(t, ok)
	assert.Equal(t, "WETH", asset)

	asset, ok = cfg.ResolveLendingAsset("usdc")
	assert.True(t, ok)
	assert.Equal(t, "USDC", asset)

	_, ok = cfg.ResolveLendingAsset("DOGE")
	assert.False(t, ok)
}
