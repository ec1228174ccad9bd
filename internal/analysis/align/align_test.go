package align

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskwatch/riskwatch/internal/domain"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return parsed.UTC()
}

func TestResampleCandlesTakesLastOfDay(t *testing.T) {
	d := day(t, "2024-01-01")
	s := resampleCandles([]domain.Candle{
		{Timestamp: d, Close: 100},
		{Timestamp: d.Add(12 * time.Hour), Close: 105},
		{Timestamp: d.Add(24 * time.Hour), Close: 110},
	})

	require.Len(t, s.Days, 2)
	assert.Equal(t, 105.0, s.Values[0])
	assert.Equal(t, 110.0, s.Values[1])
}

func TestResampleFundingTakesDailyMean(t *testing.T) {
	d := day(t, "2024-01-01")
	s := resampleFunding([]domain.FundingRate{
		{Timestamp: d, Rate: 0.0001},
		{Timestamp: d.Add(8 * time.Hour), Rate: 0.0003},
		{Timestamp: d.Add(16 * time.Hour), Rate: 0.0002},
	})

	require.Len(t, s.Days, 1)
	assert.InDelta(t, 0.0002, s.Values[0], 1e-12)
}

func TestAlignUnionTimelineAndFill(t *testing.T) {
	d0 := day(t, "2024-01-01")

	sources := map[string]*DailySources{
		"BTC": {
			Spot: &Series{
				Days:   []time.Time{d0, d0.Add(48 * time.Hour)}, // day 1 missing
				Values: []float64{100, 102},
			},
		},
		"ETH": {
			// ETH starts one day later: leading gap needs backward fill.
			Spot: &Series{
				Days:   []time.Time{d0.Add(24 * time.Hour), d0.Add(48 * time.Hour)},
				Values: []float64{2000, 2100},
			},
		},
	}

	panel, warnings, err := Align(sources)
	require.NoError(t, err)
	require.Len(t, panel.Days, 3)

	btc, ok := panel.Column(SpotColumn("BTC"))
	require.True(t, ok)
	// Interior hole forward-fills from the previous day.
	assert.Equal(t, []float64{100, 100, 102}, btc)

	eth, ok := panel.Column(SpotColumn("ETH"))
	require.True(t, ok)
	// Leading hole backward-fills and warns.
	assert.Equal(t, []float64{2000, 2000, 2100}, eth)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ETH spot: 1 missing values at the beginning")
}

func TestAlignFundingFillsZero(t *testing.T) {
	d0 := day(t, "2024-01-01")

	sources := map[string]*DailySources{
		"BTC": {
			Mark: &Series{
				Days:   []time.Time{d0, d0.Add(24 * time.Hour), d0.Add(48 * time.Hour)},
				Values: []float64{100, 101, 102},
			},
			// Funding only on the last day: leading holes become 0.
			Funding: &Series{
				Days:   []time.Time{d0.Add(48 * time.Hour)},
				Values: []float64{0.0001},
			},
		},
	}

	panel, warnings, err := Align(sources)
	require.NoError(t, err)

	funding, ok := panel.Column(FundingColumn("BTC"))
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0, 0.0001}, funding)

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "BTC funding: 2 missing funding rates")
}

func TestAlignLendingColumns(t *testing.T) {
	d0 := day(t, "2024-01-01")

	liq := LiquidityIndexColumn("WETH")
	supply := SupplyRateColumn("WETH")
	sources := map[string]*DailySources{
		"WETH": {
			Lending: map[string]*Series{
				liq: {
					Days:   []time.Time{d0, d0.Add(48 * time.Hour)},
					Values: []float64{1.0e27, 1.1e27},
				},
				supply: {
					Days:   []time.Time{d0.Add(48 * time.Hour)},
					Values: []float64{1.5e25},
				},
			},
		},
	}

	panel, warnings, err := Align(sources)
	require.NoError(t, err)

	liqCol, ok := panel.Column(liq)
	require.True(t, ok)
	assert.Equal(t, []float64{1.0e27, 1.0e27, 1.1e27}, liqCol)

	// Rate columns default to zero without warning.
	supplyCol, ok := panel.Column(supply)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0, 1.5e25}, supplyCol)
	assert.Empty(t, warnings)
}

func TestAlignNoDataIsError(t *testing.T) {
	_, _, err := Align(map[string]*DailySources{"BTC": {}})
	assert.Error(t, err)
}

func TestPanelGuaranteeNoHoles(t *testing.T) {
	d0 := day(t, "2024-01-01")
	sources := map[string]*DailySources{
		"BTC": {
			Spot: &Series{
				Days:   []time.Time{d0.Add(24 * time.Hour), d0.Add(96 * time.Hour)},
				Values: []float64{1, 2},
			},
			Mark: &Series{
				Days:   []time.Time{d0, d0.Add(72 * time.Hour)},
				Values: []float64{1, 2},
			},
			Funding: &Series{
				Days:   []time.Time{d0.Add(48 * time.Hour)},
				Values: []float64{0.0001},
			},
		},
	}

	panel, _, err := Align(sources)
	require.NoError(t, err)
	for name, col := range panel.Columns {
		require.Len(t, col, len(panel.Days), "column %s", name)
		for i, v := range col {
			assert.False(t, v != v, "NaN in %s at day %d", name, i)
		}
	}
}

func TestClosestDayIndex(t *testing.T) {
	d0 := day(t, "2024-01-01")
	panel := &Panel{Days: []time.Time{d0, d0.Add(24 * time.Hour), d0.Add(48 * time.Hour)}}

	assert.Equal(t, 0, panel.ClosestDayIndex(d0.Add(-72*time.Hour)))
	assert.Equal(t, 1, panel.ClosestDayIndex(d0.Add(25*time.Hour)))
	assert.Equal(t, 2, panel.ClosestDayIndex(d0.Add(200*time.Hour)))
}
