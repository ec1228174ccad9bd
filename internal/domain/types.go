// Package domain holds the record and portfolio types shared by
// storage, ingestion, and the analysis engines.
package domain

import "time"

// Metric identifies one stored time series family per asset.
type Metric string

const (
	MetricSpotOHLCV    Metric = "spot_ohlcv"
	MetricFundingRate  Metric = "funding_rate"
	MetricMarkKlines   Metric = "mark_klines"
	MetricIndexKlines  Metric = "index_klines"
	MetricOpenInterest Metric = "open_interest"
	MetricLending      Metric = "lending"
)

// Candle is one spot OHLCV bar at the native 12h cadence.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// FundingRate is one perpetual funding settlement (8h cadence).
// MarkPrice is optional; some provider rows omit it.
type FundingRate struct {
	Timestamp time.Time
	Rate      float64
	MarkPrice *float64
}

// Kline is one mark-price or index-price OHLC bar.
type Kline struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
}

// OpenInterest is one open-interest observation. The provider retains
// only ~30 days of history for this metric.
type OpenInterest struct {
	Timestamp time.Time
	Value     float64
}

// LendingSnapshot is one daily Aave reserve snapshot. Rates and
// indices are RAY decimal strings (27 fractional digits) to preserve
// precision on the wire and in storage.
type LendingSnapshot struct {
	Timestamp             time.Time
	ReserveAddress        string
	SupplyRateRay         string
	VariableBorrowRateRay string
	StableBorrowRateRay   string
	LiquidityIndex        string
	VariableBorrowIndex   string
}

// BackfillState is one row of the per-(asset, metric) backfill ledger.
type BackfillState struct {
	Asset                string
	Metric               Metric
	Completed            bool
	LastFetchedTimestamp *time.Time
	UpdatedAt            time.Time
}

// Gap is a contiguous range of missing grid points on a fixed-cadence
// metric, inclusive on both ends.
type Gap struct {
	Start time.Time
	End   time.Time
}

// PositionType enumerates the portfolio instrument kinds.
type PositionType string

const (
	PositionSpot          PositionType = "spot"
	PositionFuturesLong   PositionType = "futures_long"
	PositionFuturesShort  PositionType = "futures_short"
	PositionLendingSupply PositionType = "lending_supply"
	PositionLendingBorrow PositionType = "lending_borrow"
)

// IsLending reports whether the position accrues via Aave indices
// rather than market prices.
func (t PositionType) IsLending() bool {
	return t == PositionLendingSupply || t == PositionLendingBorrow
}

// IsFutures reports whether the position is a perpetual contract.
func (t PositionType) IsFutures() bool {
	return t == PositionFuturesLong || t == PositionFuturesShort
}

// BorrowType selects the Aave borrow rate mode.
type BorrowType string

const (
	BorrowVariable BorrowType = "variable"
	BorrowStable   BorrowType = "stable"
)

// Position is one user-supplied portfolio entry. Request-scoped only,
// never persisted.
type Position struct {
	Asset    string
	Quantity float64
	Type     PositionType

	// Spot/futures fields.
	EntryPrice float64
	Leverage   float64 // margin divisor only, never multiplies P&L

	// Lending fields. EntryIndex is the RAY index value at entry; when
	// nil it is looked up on the aligned grid at EntryTimestamp.
	EntryTimestamp *time.Time
	EntryIndex     *float64
	BorrowType     BorrowType
}

// PriceKey addresses a current price by (asset, position type) so spot
// and futures prices for the same asset do not collide.
type PriceKey struct {
	Asset string
	Type  PositionType
}

// LendingIndices holds the current Aave indices for one asset, RAY
// scale as float64 (ratios cancel the scale).
type LendingIndices struct {
	LiquidityIndex      *float64
	VariableBorrowIndex *float64
}

// LendingRates holds current per-asset rates in RAY scale.
type LendingRates struct {
	SupplyRate         *float64
	VariableBorrowRate *float64
	StableBorrowRate   *float64
}
