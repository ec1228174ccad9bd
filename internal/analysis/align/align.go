// Package align builds the daily panel the risk engine runs on: per
// asset it resamples spot, futures, and lending history to daily
// cadence, joins everything onto one day grid, and fills holes with a
// per-column policy.
package align

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Column name constructors. The panel is keyed "{ASSET}_{field}".

func SpotColumn(asset string) string                { return asset + "_spot" }
func MarkColumn(asset string) string                { return asset + "_futures_mark" }
func FundingColumn(asset string) string             { return asset + "_funding" }
func LiquidityIndexColumn(asset string) string      { return asset + "_liquidity_index" }
func VariableBorrowIndexColumn(asset string) string { return asset + "_variable_borrow_index" }
func SupplyRateColumn(asset string) string          { return asset + "_supply_rate" }
func VariableBorrowRateColumn(asset string) string  { return asset + "_variable_borrow_rate" }
func StableBorrowRateColumn(asset string) string    { return asset + "_stable_borrow_rate" }

// Panel is the aligned daily grid. Every present column has one value
// per day; column absence means the asset had no source data at all.
type Panel struct {
	Days    []time.Time
	Columns map[string][]float64
}

// Has reports whether the column exists.
func (p *Panel) Has(name string) bool {
	_, ok := p.Columns[name]
	return ok
}

// Column returns the column values.
func (p *Panel) Column(name string) ([]float64, bool) {
	values, ok := p.Columns[name]
	return values, ok
}

// Last returns the most recent value of a column.
func (p *Panel) Last(name string) (float64, bool) {
	values, ok := p.Columns[name]
	if !ok || len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// At returns the column value on day i.
func (p *Panel) At(name string, i int) (float64, bool) {
	values, ok := p.Columns[name]
	if !ok || i < 0 || i >= len(values) {
		return 0, false
	}
	return values[i], true
}

// ClosestDayIndex returns the index of the panel day nearest to t.
// Times before the first day clamp to 0, after the last to the end.
func (p *Panel) ClosestDayIndex(t time.Time) int {
	if len(p.Days) == 0 {
		return -1
	}
	day := t.UTC().Truncate(24 * time.Hour)
	i := sort.Search(len(p.Days), func(i int) bool { return !p.Days[i].Before(day) })
	if i == len(p.Days) {
		return len(p.Days) - 1
	}
	if i == 0 {
		return 0
	}
	// Pick the nearer neighbour.
	if day.Sub(p.Days[i-1]) <= p.Days[i].Sub(day) {
		return i - 1
	}
	return i
}

// Series is one daily time series before alignment: sorted unique
// days with one value each.
type Series struct {
	Days   []time.Time
	Values []float64
}

// Empty reports whether the series has no points.
func (s *Series) Empty() bool { return s == nil || len(s.Days) == 0 }

// DailySources is one asset's resampled inputs. Nil members mean the
// source had no rows.
type DailySources struct {
	Spot    *Series
	Mark    *Series
	Funding *Series
	// Lending columns keyed by their panel suffix constructor output.
	Lending map[string]*Series
}

// Align joins all assets' daily series onto the continuous day grid
// spanning the earliest to the latest observed day.
//
// Fill policy: prices and indices forward-fill then backward-fill,
// each with a warning naming the column and the hole count; funding
// and rate columns forward-fill then default to zero (funding holes
// warn, rate holes do not).
func Align(sources map[string]*DailySources) (*Panel, []string, error) {
	var minDay, maxDay time.Time
	seen := false
	observe := func(s *Series) {
		if s.Empty() {
			return
		}
		first, last := s.Days[0], s.Days[len(s.Days)-1]
		if !seen || first.Before(minDay) {
			minDay = first
		}
		if !seen || last.After(maxDay) {
			maxDay = last
		}
		seen = true
	}
	for _, src := range sources {
		observe(src.Spot)
		observe(src.Mark)
		observe(src.Funding)
		for _, s := range src.Lending {
			observe(s)
		}
	}
	if !seen {
		return nil, nil, fmt.Errorf("no data available for any asset")
	}

	days := dayGrid(minDay, maxDay)
	panel := &Panel{Days: days, Columns: make(map[string][]float64)}
	var warnings []string

	assets := make([]string, 0, len(sources))
	for asset := range sources {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		src := sources[asset]

		if !src.Spot.Empty() {
			col := projectSeries(days, src.Spot)
			forwardFill(col)
			if n := countNaN(col); n > 0 {
				warnings = append(warnings, fmt.Sprintf(
					"%s spot: %d missing values at the beginning (no forward-fill source)", asset, n))
				backwardFill(col)
			}
			panel.Columns[SpotColumn(asset)] = col
		}

		if !src.Mark.Empty() {
			col := projectSeries(days, src.Mark)
			forwardFill(col)
			if n := countNaN(col); n > 0 {
				warnings = append(warnings, fmt.Sprintf("%s futures: %d missing mark prices", asset, n))
				backwardFill(col)
			}
			panel.Columns[MarkColumn(asset)] = col

			funding := projectSeries(days, src.Funding)
			forwardFill(funding)
			if n := countNaN(funding); n > 0 {
				warnings = append(warnings, fmt.Sprintf("%s funding: %d missing funding rates", asset, n))
				fillZero(funding)
			}
			panel.Columns[FundingColumn(asset)] = funding
		}

		for _, suffix := range []struct {
			column  string
			warning string
		}{
			{LiquidityIndexColumn(asset), "missing liquidity indices"},
			{VariableBorrowIndexColumn(asset), "missing variable borrow indices"},
		} {
			s, ok := src.Lending[suffix.column]
			if !ok || s.Empty() {
				continue
			}
			col := projectSeries(days, s)
			forwardFill(col)
			if n := countNaN(col); n > 0 {
				warnings = append(warnings, fmt.Sprintf("%s lending: %d %s", asset, n, suffix.warning))
				backwardFill(col)
			}
			panel.Columns[suffix.column] = col
		}

		for _, column := range []string{
			SupplyRateColumn(asset),
			VariableBorrowRateColumn(asset),
			StableBorrowRateColumn(asset),
		} {
			s, ok := src.Lending[column]
			if !ok || s.Empty() {
				continue
			}
			col := projectSeries(days, s)
			forwardFill(col)
			fillZero(col)
			panel.Columns[column] = col
		}
	}

	return panel, warnings, nil
}

func dayGrid(first, last time.Time) []time.Time {
	var days []time.Time
	for day := first; !day.After(last); day = day.Add(24 * time.Hour) {
		days = append(days, day)
	}
	return days
}

// projectSeries scatters a daily series onto the grid, NaN elsewhere.
func projectSeries(days []time.Time, s *Series) []float64 {
	col := make([]float64, len(days))
	for i := range col {
		col[i] = math.NaN()
	}
	if s.Empty() {
		return col
	}
	j := 0
	for i, day := range days {
		for j < len(s.Days) && s.Days[j].Before(day) {
			j++
		}
		if j < len(s.Days) && s.Days[j].Equal(day) {
			col[i] = s.Values[j]
		}
	}
	return col
}

func forwardFill(col []float64) {
	last := math.NaN()
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = last
		} else {
			last = v
		}
	}
}

func backwardFill(col []float64) {
	next := math.NaN()
	for i := len(col) - 1; i >= 0; i-- {
		if math.IsNaN(col[i]) {
			col[i] = next
		} else {
			next = col[i]
		}
	}
}

func fillZero(col []float64) {
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = 0
		}
	}
}

func countNaN(col []float64) int {
	n := 0
	for _, v := range col {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}
