package storage

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/riskwatch/riskwatch/internal/database"
	"github.com/riskwatch/riskwatch/internal/domain"
)

// setupTestDB creates an in-memory SQLite database with the full schema
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.InitSchema(db))
	return db
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return parsed.UTC()
}

func makeCandles(start time.Time, interval time.Duration, closes ...float64) []domain.Candle {
	candles := make([]domain.Candle, len(closes))
	for i, close := range closes {
		candles[i] = domain.Candle{
			Timestamp: start.Add(time.Duration(i) * interval),
			Open:      close - 1,
			High:      close + 2,
			Low:       close - 2,
			Close:     close,
			Volume:    100,
		}
	}
	return candles
}

func TestSpotUpsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSpotRepository(db, zerolog.Nop())

	start := ts(t, "2024-01-01T00:00:00Z")
	candles := makeCandles(start, 12*time.Hour, 100, 101, 102)

	n, err := repo.UpsertCandles("BTC", candles)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Second identical upsert changes nothing.
	_, err = repo.UpsertCandles("BTC", candles)
	require.NoError(t, err)

	count, err := repo.Count("BTC")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := repo.GetCandles("BTC", nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, candles[0].Timestamp, got[0].Timestamp)
	assert.Equal(t, 102.0, got[2].Close)
}

func TestSpotRangeRead(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSpotRepository(db, zerolog.Nop())

	start := ts(t, "2024-01-01T00:00:00Z")
	_, err := repo.UpsertCandles("BTC", makeCandles(start, 12*time.Hour, 1, 2, 3, 4, 5))
	require.NoError(t, err)

	from := start.Add(12 * time.Hour)
	to := start.Add(36 * time.Hour)
	got, err := repo.GetCandles("BTC", &from, &to, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 2.0, got[0].Close)
	assert.Equal(t, 4.0, got[2].Close)

	limited, err := repo.GetCandles("BTC", nil, nil, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSpotBoundaryTimestamps(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSpotRepository(db, zerolog.Nop())

	earliest, err := repo.EarliestTimestamp("BTC")
	require.NoError(t, err)
	assert.Nil(t, earliest)

	start := ts(t, "2024-01-01T00:00:00Z")
	_, err = repo.UpsertCandles("BTC", makeCandles(start, 12*time.Hour, 1, 2))
	require.NoError(t, err)

	earliest, err = repo.EarliestTimestamp("BTC")
	require.NoError(t, err)
	require.NotNil(t, earliest)
	assert.Equal(t, start, *earliest)

	latest, err := repo.LatestTimestamp("BTC")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, start.Add(12*time.Hour), *latest)
}

func TestDetectGapsCoalescesRanges(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSpotRepository(db, zerolog.Nop())

	start := ts(t, "2024-01-01T00:00:00Z")
	interval := 12 * time.Hour

	// Grid points 0..6 with 2, 3 and 5 missing.
	var candles []domain.Candle
	for _, i := range []int{0, 1, 4, 6} {
		candles = append(candles, domain.Candle{
			Timestamp: start.Add(time.Duration(i) * interval),
			Open:      1, High: 1, Low: 1, Close: 1, Volume: 1,
		})
	}
	_, err := repo.UpsertCandles("BTC", candles)
	require.NoError(t, err)

	gaps, err := repo.DetectGaps("BTC", interval)
	require.NoError(t, err)
	require.Len(t, gaps, 2)
	assert.Equal(t, start.Add(2*interval), gaps[0].Start)
	assert.Equal(t, start.Add(3*interval), gaps[0].End)
	assert.Equal(t, start.Add(5*interval), gaps[1].Start)
	assert.Equal(t, start.Add(5*interval), gaps[1].End)
}

func TestDetectGapsClosureAfterFill(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSpotRepository(db, zerolog.Nop())

	start := ts(t, "2024-01-01T00:00:00Z")
	interval := 12 * time.Hour

	_, err := repo.UpsertCandles("BTC", []domain.Candle{
		{Timestamp: start, Close: 1, Volume: 1},
		{Timestamp: start.Add(2 * interval), Close: 3, Volume: 1},
	})
	require.NoError(t, err)

	gaps, err := repo.DetectGaps("BTC", interval)
	require.NoError(t, err)
	require.Len(t, gaps, 1)

	// Filling the missing point closes the gap list.
	_, err = repo.UpsertCandles("BTC", []domain.Candle{
		{Timestamp: start.Add(interval), Close: 2, Volume: 1},
	})
	require.NoError(t, err)

	gaps, err = repo.DetectGaps("BTC", interval)
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestFuturesRepositories(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFuturesRepository(db, zerolog.Nop())

	start := ts(t, "2024-01-01T00:00:00Z")
	mark := 50000.0
	rates := []domain.FundingRate{
		{Timestamp: start, Rate: 0.0001, MarkPrice: &mark},
		{Timestamp: start.Add(8 * time.Hour), Rate: -0.0002},
	}
	n, err := repo.UpsertFundingRates("BTC", rates)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	gotRates, err := repo.GetFundingRates("BTC", nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, gotRates, 2)
	require.NotNil(t, gotRates[0].MarkPrice)
	assert.Equal(t, 50000.0, *gotRates[0].MarkPrice)
	assert.Nil(t, gotRates[1].MarkPrice)

	klines := []domain.Kline{
		{Timestamp: start, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Timestamp: start.Add(8 * time.Hour), Open: 1.5, High: 3, Low: 1, Close: 2.5},
	}
	for _, metric := range []domain.Metric{domain.MetricMarkKlines, domain.MetricIndexKlines} {
		_, err = repo.UpsertKlines("BTC", metric, klines)
		require.NoError(t, err)

		got, err := repo.GetKlines("BTC", metric, nil, nil, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 2.5, got[1].Close)
	}

	oi := []domain.OpenInterest{
		{Timestamp: start, Value: 12345},
		{Timestamp: start.Add(5 * time.Minute), Value: 12350},
	}
	_, err = repo.UpsertOpenInterest("BTC", oi)
	require.NoError(t, err)

	gotOI, err := repo.GetOpenInterest("BTC", nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, gotOI, 2)

	// Gap detection is not defined for open interest.
	_, err = repo.DetectGaps("BTC", domain.MetricOpenInterest, 5*time.Minute)
	assert.Error(t, err)
}

func TestFuturesKlineMetricGuard(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFuturesRepository(db, zerolog.Nop())

	_, err := repo.UpsertKlines("BTC", domain.MetricFundingRate, []domain.Kline{{Timestamp: time.Now()}})
	assert.Error(t, err)
}

func TestLendingRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLendingRepository(db, zerolog.Nop())

	start := ts(t, "2024-01-01T00:00:00Z")
	snapshots := []domain.LendingSnapshot{
		{
			Timestamp:             start,
			ReserveAddress:        "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
			SupplyRateRay:         "15000000000000000000000000",
			VariableBorrowRateRay: "25000000000000000000000000",
			StableBorrowRateRay:   "35000000000000000000000000",
			LiquidityIndex:        "1000000000000000000000000000",
			VariableBorrowIndex:   "1000000000000000000000000000",
		},
		{
			Timestamp:             start.Add(24 * time.Hour),
			ReserveAddress:        "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
			SupplyRateRay:         "16000000000000000000000000",
			VariableBorrowRateRay: "26000000000000000000000000",
			StableBorrowRateRay:   "36000000000000000000000000",
			LiquidityIndex:        "1000100000000000000000000000",
			VariableBorrowIndex:   "1000200000000000000000000000",
		},
	}

	n, err := repo.UpsertSnapshots("WETH", snapshots)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-upsert stays idempotent.
	_, err = repo.UpsertSnapshots("WETH", snapshots)
	require.NoError(t, err)
	count, err := repo.Count("WETH")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := repo.GetSnapshots("WETH", nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1000100000000000000000000000", got[1].LiquidityIndex)

	latest, err := repo.LatestTimestamp("WETH")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, start.Add(24*time.Hour), *latest)
}

func TestBackfillStateLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBackfillRepository(db, zerolog.Nop())

	state, err := repo.Get("BTC", domain.MetricSpotOHLCV)
	require.NoError(t, err)
	assert.Nil(t, state)

	completed, err := repo.IsCompleted("BTC", domain.MetricSpotOHLCV)
	require.NoError(t, err)
	assert.False(t, completed)

	last := ts(t, "2024-06-01T00:00:00Z")
	require.NoError(t, repo.Update("BTC", domain.MetricSpotOHLCV, true, &last))

	state, err = repo.Get("BTC", domain.MetricSpotOHLCV)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Completed)
	require.NotNil(t, state.LastFetchedTimestamp)
	assert.Equal(t, last, *state.LastFetchedTimestamp)

	// Metrics are tracked independently per asset.
	completed, err = repo.IsCompleted("BTC", domain.MetricFundingRate)
	require.NoError(t, err)
	assert.False(t, completed)

	// Failure path preserves progress but clears the flag.
	require.NoError(t, repo.Update("BTC", domain.MetricSpotOHLCV, false, &last))
	completed, err = repo.IsCompleted("BTC", domain.MetricSpotOHLCV)
	require.NoError(t, err)
	assert.False(t, completed)
}
