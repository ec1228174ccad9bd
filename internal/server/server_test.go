package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskwatch/riskwatch/internal/analysis/align"
	"github.com/riskwatch/riskwatch/internal/analysis/risk"
	"github.com/riskwatch/riskwatch/internal/clients/dune"
	"github.com/riskwatch/riskwatch/internal/config"
	"github.com/riskwatch/riskwatch/internal/database"
	"github.com/riskwatch/riskwatch/internal/domain"
	"github.com/riskwatch/riskwatch/internal/ingest"
	"github.com/riskwatch/riskwatch/internal/storage"
)

type stubMarket struct{}

func (stubMarket) FetchSpotKlines(context.Context, string, string, time.Time, time.Time) ([]domain.Candle, error) {
	return nil, nil
}
func (stubMarket) FetchFundingRates(context.Context, string, time.Time, time.Time) ([]domain.FundingRate, error) {
	return nil, nil
}
func (stubMarket) FetchMarkKlines(context.Context, string, string, time.Time, time.Time) ([]domain.Kline, error) {
	return nil, nil
}
func (stubMarket) FetchIndexKlines(context.Context, string, string, time.Time, time.Time) ([]domain.Kline, error) {
	return nil, nil
}
func (stubMarket) FetchOpenInterest(context.Context, string, string, time.Time, time.Time) ([]domain.OpenInterest, error) {
	return nil, nil
}

type stubLending struct{}

func (stubLending) FetchLendingRows(context.Context) ([]dune.LendingRow, error) {
	return nil, nil
}

func testServerConfig() *config.Config {
	return &config.Config{
		APIKey:               "secret",
		Port:                 0,
		TrackedAssets:        []string{"BTC", "ETH"},
		TrackedFuturesAssets: []string{"BTC", "ETH"},
		TrackedLendingAssets: []string{"WETH", "WBTC", "USDC"},
		LendingAssetAliases:  map[string]string{"BTC": "WBTC", "ETH": "WETH"},

		FetchIntervalHours:          12,
		FuturesFundingIntervalHours: 8,
		FuturesKlinesInterval:       "8h",
		FuturesOIPeriod:             "5m",
		LendingFetchIntervalHours:   24,

		InitialBackfillDays:        30,
		InitialLendingBackfillDays: 30,
		MinBackfillDays:            7,

		RiskDefaultLookbackDays: 30,
		RiskMaxLookbackDays:     180,
		FundingRateLookbackDays: 30,
		MaxPortfolioPositions:   20,
		MaxLeverageLimit:        125,
		SensitivityRange:        []int{-30, -20, -10, 0, 10, 20, 30},
		VaRConfidenceLevels:     []float64{0.95, 0.99},
		LendingDataMaxAgeHours:  48,

		AaveLiquidationThresholds: map[string]float64{"WETH": 0.825, "WBTC": 0.75, "USDC": 0.87},
		AaveMaxLTV:                map[string]float64{"WETH": 0.80, "WBTC": 0.70, "USDC": 0.85},
	}
}

type testEnv struct {
	server  *Server
	spot    *storage.SpotRepository
	futures *storage.FuturesRepository
	lending *storage.LendingRepository
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()

	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.InitSchema(db.Conn()))

	cfg := testServerConfig()
	spot := storage.NewSpotRepository(db.Conn(), log)
	futures := storage.NewFuturesRepository(db.Conn(), log)
	lendingRepo := storage.NewLendingRepository(db.Conn(), log)
	backfill := storage.NewBackfillRepository(db.Conn(), log)

	loader := align.NewLoader(spot, futures, lendingRepo, log)
	engine := risk.NewEngine(loader, cfg, log)
	svc := ingest.New(cfg, stubMarket{}, stubLending{}, spot, futures, lendingRepo, backfill, log)

	srv := New(Config{
		Log:      log,
		DB:       db,
		Config:   cfg,
		Spot:     spot,
		Futures:  futures,
		Lending:  lendingRepo,
		Backfill: backfill,
		Risk:     engine,
		Ingest:   svc,
		Jobs:     ingest.NewJobRegistry(log),
		Port:     0,
		DevMode:  true,
	})

	return &testEnv{server: srv, spot: spot, futures: futures, lending: lendingRepo}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func seedSpotDays(t *testing.T, env *testEnv, asset string, days int, startPrice float64) {
	t.Helper()
	base := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
	candles := make([]domain.Candle, 0, days)
	price := startPrice
	for i := 0; i < days; i++ {
		price *= 1.0 + 0.01*float64(i%5-2)
		candles = append(candles, domain.Candle{
			Timestamp: base.AddDate(0, 0, i),
			Open:      price * 0.99,
			High:      price * 1.01,
			Low:       price * 0.98,
			Close:     price,
			Volume:    1000,
		})
	}
	_, err := env.spot.UpsertCandles(asset, candles)
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestAssetsEndpoint(t *testing.T) {
	env := newTestServer(t)
	seedSpotDays(t, env, "BTC", 5, 50000)

	rec := env.do(t, http.MethodGet, "/api/v1/assets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])

	assets := body["assets"].([]any)
	btc := assets[0].(map[string]any)
	assert.Equal(t, "BTC", btc["asset"])
	assert.Equal(t, float64(5), btc["total_candles"])
	assert.Equal(t, false, btc["backfill_completed"])
	assert.NotNil(t, btc["earliest_timestamp"])

	eth := assets[1].(map[string]any)
	assert.Equal(t, "ETH", eth["asset"])
	assert.Equal(t, float64(0), eth["total_candles"])
	assert.Nil(t, eth["latest_timestamp"])
}

func TestOHLCVUnknownAsset(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/ohlcv/DOGE", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "Asset 'DOGE' not found")
}

func TestOHLCVForwardFill(t *testing.T) {
	env := newTestServer(t)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := env.spot.UpsertCandles("BTC", []domain.Candle{
		{Timestamp: base, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10},
		{Timestamp: base.Add(12 * time.Hour), Open: 100, High: 103, Low: 100, Close: 102, Volume: 12},
		// One missing grid point before this candle.
		{Timestamp: base.Add(36 * time.Hour), Open: 102, High: 106, Low: 102, Close: 105, Volume: 9},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/ohlcv/BTC?fill=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "12h", body["interval"])
	assert.Equal(t, float64(4), body["count"])

	data := body["data"].([]any)
	require.Len(t, data, 4)
	filled := data[2].(map[string]any)
	assert.Equal(t, true, filled["filled"])
	assert.Equal(t, 102.0, filled["close"])
	assert.Equal(t, 102.0, filled["open"])
	assert.Equal(t, 0.0, filled["volume"])
	assert.Equal(t, false, data[3].(map[string]any)["filled"])

	// Without fill only the stored rows come back.
	rec = env.do(t, http.MethodGet, "/api/v1/ohlcv/BTC", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["count"])
}

func TestOHLCVLimitValidation(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/ohlcv/BTC?limit=0", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "limit must be between 1 and 10000")

	rec = env.do(t, http.MethodGet, "/api/v1/ohlcv/BTC?start=garbage", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "Invalid start timestamp")
}

func TestFundingRates(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/futures/funding-rates/BTC", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "No funding rate data found for BTC")

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	mark := 50100.0
	_, err := env.futures.UpsertFundingRates("BTC", []domain.FundingRate{
		{Timestamp: base, Rate: 0.0001, MarkPrice: &mark},
		{Timestamp: base.Add(8 * time.Hour), Rate: 0.0002},
	})
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/api/v1/futures/funding-rates/BTC", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "8h", body["interval"])
	assert.Equal(t, float64(2), body["count"])
	first := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, 0.0001, first["funding_rate"])
	assert.Equal(t, 50100.0, first["mark_price"])
}

func TestFuturesUntrackedAsset(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/futures/mark-price/DOGE", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "Tracked futures assets")
}

func TestLendingHistoryResolvesAlias(t *testing.T) {
	env := newTestServer(t)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := env.lending.UpsertSnapshots("WBTC", []domain.LendingSnapshot{
		{
			Timestamp:             base,
			ReserveAddress:        "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599",
			SupplyRateRay:         "20000000000000000000000000",
			VariableBorrowRateRay: "50000000000000000000000000",
			StableBorrowRateRay:   "60000000000000000000000000",
			LiquidityIndex:        "1000000000000000000000000000",
			VariableBorrowIndex:   "1000000000000000000000000000",
		},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/lending/BTC", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "WBTC", body["asset"])
	row := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "20000000000000000000000000", row["supply_rate_ray"])
	assert.InDelta(t, 2.02, row["supply_apy_percent"].(float64), 0.01)
	assert.InDelta(t, 5.13, row["variable_borrow_apy_percent"].(float64), 0.01)
	assert.Equal(t, "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599", row["reserve_address"])
}

func TestLendingHistoryUntracked(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/lending/DOGE", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "Tracked lending assets")

	// Tracked but empty reserve.
	rec = env.do(t, http.MethodGet, "/api/v1/lending/USDC", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "No lending data found for USDC")
}

func TestLendingHistoryLimitValidation(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/lending/USDC?limit=5000", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "limit must be between 1 and 1000")
}

func TestAggregatedStatsValidation(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/aggregated-stats/DOGE", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/aggregated-stats/BTC?start=2024-06-10&end=2024-06-01", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "End date must be after start date", decodeBody(t, rec)["detail"])

	rec = env.do(t, http.MethodGet, "/api/v1/aggregated-stats/BTC?start=2024-01-01&end=2024-06-01", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "Date range too large: 152 days (max 90 days)")
}

func TestAggregatedStatsSingleAsset(t *testing.T) {
	env := newTestServer(t)
	seedSpotDays(t, env, "BTC", 10, 50000)

	rec := env.do(t, http.MethodGet, "/api/v1/aggregated-stats/BTC", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "BTC", body["asset"])

	query := body["query"].(map[string]any)
	assert.Equal(t, float64(30), query["period_days"])

	spot := body["spot"].(map[string]any)
	assert.Greater(t, spot["current_price"].(float64), 0.0)
	assert.Nil(t, body["futures"]) // no funding data seeded
	assert.Nil(t, body["lending"]) // no snapshots seeded
}

func TestAggregatedStatsDataTypes(t *testing.T) {
	env := newTestServer(t)
	seedSpotDays(t, env, "BTC", 10, 50000)

	rec := env.do(t, http.MethodGet, "/api/v1/aggregated-stats/BTC?data_types=bogus", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid data_types: bogus (valid: spot, futures, lending)", decodeBody(t, rec)["detail"])

	// Only the requested domains are computed; spot stays null even
	// though candles exist.
	rec = env.do(t, http.MethodGet, "/api/v1/aggregated-stats/BTC?data_types=lending", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Nil(t, body["spot"])
	assert.Nil(t, body["futures"])

	rec = env.do(t, http.MethodGet, "/api/v1/aggregated-stats/BTC?data_types=spot", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decodeBody(t, rec)["spot"])
}

func TestMultiAssetStats(t *testing.T) {
	env := newTestServer(t)
	seedSpotDays(t, env, "BTC", 10, 50000)
	seedSpotDays(t, env, "ETH", 10, 3000)

	rec := env.do(t, http.MethodGet, "/api/v1/aggregated-stats/multi?assets=BTC,ETH", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	data := body["data"].(map[string]any)
	require.Len(t, data, 2)
	assert.NotNil(t, data["BTC"].(map[string]any)["spot"])
	require.NotNil(t, body["correlations"])
	corr := body["correlations"].(map[string]any)
	assert.Contains(t, corr, "BTC")
}

func TestMultiAssetStatsValidation(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/aggregated-stats/multi", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "assets parameter is required", decodeBody(t, rec)["detail"])

	rec = env.do(t, http.MethodGet, "/api/v1/aggregated-stats/multi?assets=BTC&data_types=bogus", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "Invalid data_types: bogus")

	rec = env.do(t, http.MethodGet, "/api/v1/aggregated-stats/multi?assets=BTC,DOGE", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	many := "BTC"
	for i := 0; i < 10; i++ {
		many += fmt.Sprintf(",A%d", i)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/aggregated-stats/multi?assets="+many, nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "Maximum 10 assets allowed")
}

func TestRiskProfileValidation(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/analysis/risk-profile",
		map[string]any{"positions": []any{}}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Portfolio must contain at least one position", decodeBody(t, rec)["detail"])

	rec = env.do(t, http.MethodPost, "/api/v1/analysis/risk-profile", map[string]any{
		"positions": []map[string]any{
			{"asset": "BTC", "position_type": "spot", "quantity": 1, "entry_price": 50000},
		},
		"lookback_days": 5,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "lookback_days must be between 7 and 180")
}

func TestRiskProfileSpotPortfolio(t *testing.T) {
	env := newTestServer(t)
	seedSpotDays(t, env, "BTC", 25, 50000)

	rec := env.do(t, http.MethodPost, "/api/v1/analysis/risk-profile", map[string]any{
		"positions": []map[string]any{
			{"asset": "BTC", "position_type": "spot", "quantity": 0.5, "entry_price": 48000},
		},
		"lookback_days": 20,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Greater(t, body["current_portfolio_value"].(float64), 0.0)

	metrics := body["risk_metrics"].(map[string]any)
	assert.LessOrEqual(t, metrics["var_95_1day"].(float64), 0.0)
	assert.Nil(t, metrics["lending_metrics"])

	scenarios := body["scenarios"].([]any)
	require.Len(t, scenarios, 8)
	assert.Equal(t, "Bull Market (+30%)", scenarios[0].(map[string]any)["name"])

	sensitivity := body["sensitivity_analysis"].([]any)
	assert.Len(t, sensitivity, 7)
}

func TestRiskProfileUnknownAsset(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/analysis/risk-profile", map[string]any{
		"positions": []map[string]any{
			{"asset": "DOGE", "position_type": "spot", "quantity": 1, "entry_price": 0.1},
		},
	}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFetchTriggerRequiresAPIKey(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/fetch/trigger", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or missing API key", decodeBody(t, rec)["detail"])

	rec = env.do(t, http.MethodPost, "/api/v1/fetch/trigger", nil, map[string]string{"X-API-KEY": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFetchTriggerInvalidAssets(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/fetch/trigger",
		map[string]any{"assets": []string{"DOGE"}},
		map[string]string{"X-API-KEY": "secret"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid assets: DOGE", decodeBody(t, rec)["detail"])
}

func TestFetchTriggerAndStatus(t *testing.T) {
	env := newTestServer(t)
	headers := map[string]string{"X-API-KEY": "secret"}

	rec := env.do(t, http.MethodPost, "/api/v1/fetch/trigger",
		map[string]any{"assets": []string{"BTC"}}, headers)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	jobID := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "Fetch job queued for 1 asset(s)", body["message"])

	// Empty database means every metric skips, so the job finishes fast.
	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/fetch/status/"+jobID, nil, headers)
		if rec.Code != http.StatusOK {
			return false
		}
		return decodeBody(t, rec)["state"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFetchTriggerDateWindow(t *testing.T) {
	env := newTestServer(t)
	headers := map[string]string{"X-API-KEY": "secret"}

	rec := env.do(t, http.MethodPost, "/api/v1/fetch/trigger", map[string]any{
		"assets":     []string{"BTC"},
		"start_date": "2024-01-01",
		"end_date":   "2024-01-05",
	}, headers)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	jobID := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/fetch/status/"+jobID, nil, headers)
		if rec.Code != http.StatusOK {
			return false
		}
		return decodeBody(t, rec)["state"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFetchTriggerDateValidation(t *testing.T) {
	env := newTestServer(t)
	headers := map[string]string{"X-API-KEY": "secret"}

	rec := env.do(t, http.MethodPost, "/api/v1/fetch/trigger",
		map[string]any{"start_date": "not-a-date"}, headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid start_date timestamp: not-a-date", decodeBody(t, rec)["detail"])

	rec = env.do(t, http.MethodPost, "/api/v1/fetch/trigger",
		map[string]any{"start_date": "2024-02-01", "end_date": "2024-01-01"}, headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "End date must be after start date", decodeBody(t, rec)["detail"])

	rec = env.do(t, http.MethodPost, "/api/v1/fetch/trigger",
		map[string]any{"end_date": "2024-01-01"}, headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "start_date is required when end_date is provided", decodeBody(t, rec)["detail"])
}

func TestFetchStatusUnknownJob(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/fetch/status/nope",
		nil, map[string]string{"X-API-KEY": "secret"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "Job 'nope' not found")
}
