package align

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/riskwatch/riskwatch/internal/domain"
	"github.com/riskwatch/riskwatch/internal/storage"
)

// Loader reads per-asset history and resamples it to daily cadence.
type Loader struct {
	spot    *storage.SpotRepository
	futures *storage.FuturesRepository
	lending *storage.LendingRepository
	log     zerolog.Logger
	now     func() time.Time
}

// NewLoader creates a panel loader
func NewLoader(spot *storage.SpotRepository, futures *storage.FuturesRepository, lending *storage.LendingRepository, log zerolog.Logger) *Loader {
	return &Loader{
		spot:    spot,
		futures: futures,
		lending: lending,
		log:     log.With().Str("component", "align").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// BuildPanel fetches lookbackDays of history for the assets, resamples
// to daily, and aligns. A failed or empty read degrades that asset
// (its columns are absent); only a fully empty result is an error.
// actualDays is the smallest day span seen across assets with spot
// data, capped at the requested lookback.
func (l *Loader) BuildPanel(ctx context.Context, assets []string, lookbackDays int) (*Panel, []string, int, error) {
	end := l.now()
	start := end.AddDate(0, 0, -lookbackDays)

	sources := make(map[string]*DailySources, len(assets))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	for _, asset := range assets {
		asset := asset
		g.Go(func() error {
			src := l.loadAsset(asset, start, end)
			mu.Lock()
			sources[asset] = src
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	actualDays := lookbackDays
	for _, src := range sources {
		if src.Spot.Empty() {
			continue
		}
		span := int(src.Spot.Days[len(src.Spot.Days)-1].Sub(src.Spot.Days[0]).Hours() / 24)
		if span < actualDays {
			actualDays = span
		}
	}

	panel, warnings, err := Align(sources)
	if err != nil {
		return nil, nil, 0, err
	}
	return panel, warnings, actualDays, nil
}

// loadAsset reads all three source families for one asset. Read
// failures degrade to absent series.
func (l *Loader) loadAsset(asset string, start, end time.Time) *DailySources {
	src := &DailySources{Lending: make(map[string]*Series)}

	candles, err := l.spot.GetCandles(asset, &start, &end, 0)
	if err != nil {
		l.log.Warn().Err(err).Str("asset", asset).Msg("Failed to fetch spot data")
	} else if len(candles) > 0 {
		src.Spot = resampleCandles(candles)
	}

	marks, err := l.futures.GetKlines(asset, domain.MetricMarkKlines, &start, &end, 0)
	if err != nil {
		l.log.Warn().Err(err).Str("asset", asset).Msg("Failed to fetch mark klines")
	} else if len(marks) > 0 {
		src.Mark = resampleKlines(marks)

		funding, err := l.futures.GetFundingRates(asset, &start, &end, 0)
		if err != nil {
			l.log.Warn().Err(err).Str("asset", asset).Msg("Failed to fetch funding rates")
		} else {
			src.Funding = resampleFunding(funding)
		}
	}

	snapshots, err := l.lending.GetSnapshots(asset, &start, &end, 0)
	if err != nil {
		l.log.Warn().Err(err).Str("asset", asset).Msg("Failed to fetch lending data")
	} else if len(snapshots) > 0 {
		src.Lending = resampleLending(asset, snapshots)
	}

	return src
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// dailyLast aggregates (timestamp, value) points to one value per day,
// keeping the last observation.
func dailyLast(times []time.Time, values []float64) *Series {
	byDay := make(map[time.Time]float64, len(times))
	for i, t := range times {
		byDay[dayOf(t)] = values[i]
	}
	return seriesFromMap(byDay)
}

func seriesFromMap(byDay map[time.Time]float64) *Series {
	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	values := make([]float64, len(days))
	for i, day := range days {
		values[i] = byDay[day]
	}
	return &Series{Days: days, Values: values}
}

func resampleCandles(candles []domain.Candle) *Series {
	times := make([]time.Time, len(candles))
	values := make([]float64, len(candles))
	for i, c := range candles {
		times[i] = c.Timestamp
		values[i] = c.Close
	}
	return dailyLast(times, values)
}

func resampleKlines(klines []domain.Kline) *Series {
	times := make([]time.Time, len(klines))
	values := make([]float64, len(klines))
	for i, k := range klines {
		times[i] = k.Timestamp
		values[i] = k.Close
	}
	return dailyLast(times, values)
}

// resampleFunding takes the mean of each day's settlements, a rate
// rather than a level.
func resampleFunding(rates []domain.FundingRate) *Series {
	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	for _, r := range rates {
		day := dayOf(r.Timestamp)
		sums[day] += r.Rate
		counts[day]++
	}
	byDay := make(map[time.Time]float64, len(sums))
	for day, sum := range sums {
		byDay[day] = sum / float64(counts[day])
	}
	return seriesFromMap(byDay)
}

// resampleLending explodes snapshots into the five per-asset panel
// columns, last value of each day. RAY strings parse to float64; the
// analysis layer only ever uses index ratios, which cancel the scale.
func resampleLending(asset string, snapshots []domain.LendingSnapshot) map[string]*Series {
	columns := map[string]func(domain.LendingSnapshot) string{
		LiquidityIndexColumn(asset):      func(s domain.LendingSnapshot) string { return s.LiquidityIndex },
		VariableBorrowIndexColumn(asset): func(s domain.LendingSnapshot) string { return s.VariableBorrowIndex },
		SupplyRateColumn(asset):          func(s domain.LendingSnapshot) string { return s.SupplyRateRay },
		VariableBorrowRateColumn(asset):  func(s domain.LendingSnapshot) string { return s.VariableBorrowRateRay },
		StableBorrowRateColumn(asset):    func(s domain.LendingSnapshot) string { return s.StableBorrowRateRay },
	}

	out := make(map[string]*Series, len(columns))
	for column, extract := range columns {
		byDay := make(map[time.Time]float64)
		for _, snap := range snapshots {
			v, err := strconv.ParseFloat(extract(snap), 64)
			if err != nil {
				continue
			}
			byDay[dayOf(snap.Timestamp)] = v
		}
		if len(byDay) > 0 {
			out[column] = seriesFromMap(byDay)
		}
	}
	return out
}
