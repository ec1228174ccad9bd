// Package risk orchestrates the portfolio risk profile: validation,
// panel building, valuation over history, VaR/CVaR and the other risk
// metrics, sensitivity, scenarios, and the lending account block.
package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskwatch/riskwatch/internal/analysis/align"
	"github.com/riskwatch/riskwatch/internal/analysis/lending"
	"github.com/riskwatch/riskwatch/internal/analysis/stats"
	"github.com/riskwatch/riskwatch/internal/analysis/valuation"
	"github.com/riskwatch/riskwatch/internal/config"
	"github.com/riskwatch/riskwatch/internal/domain"
)

// Engine computes risk profiles from the aligned daily panel.
type Engine struct {
	loader *align.Loader
	cfg    *config.Config
	log    zerolog.Logger
	now    func() time.Time
}

// NewEngine creates the risk engine.
func NewEngine(loader *align.Loader, cfg *config.Config, log zerolog.Logger) *Engine {
	return &Engine{
		loader: loader,
		cfg:    cfg,
		log:    log.With().Str("component", "risk").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SensitivityRow is the portfolio value at one uniform price shock.
type SensitivityRow struct {
	PriceChangePct float64 `json:"price_change_pct"`
	PortfolioValue float64 `json:"portfolio_value"`
	PnL            float64 `json:"pnl"`
	ReturnPct      float64 `json:"return_pct"`
}

// RiskMetrics is the numeric core of the profile response.
type RiskMetrics struct {
	LookbackDaysUsed          int                           `json:"lookback_days_used"`
	PortfolioVariance         float64                       `json:"portfolio_variance"`
	PortfolioVolatilityAnnual float64                       `json:"portfolio_volatility_annual"`
	VaR95OneDay               float64                       `json:"var_95_1day"`
	VaR99OneDay               float64                       `json:"var_99_1day"`
	CVaR95                    float64                       `json:"cvar_95"`
	SharpeRatio               float64                       `json:"sharpe_ratio"`
	MaxDrawdown               float64                       `json:"max_drawdown"`
	DeltaExposure             float64                       `json:"delta_exposure"`
	CorrelationMatrix         map[string]map[string]float64 `json:"correlation_matrix"`
	LendingMetrics            *lending.Metrics              `json:"lending_metrics"`
}

// ProfileResponse is the full risk-profile payload.
type ProfileResponse struct {
	CurrentPortfolioValue   float64          `json:"current_portfolio_value"`
	DataAvailabilityWarning *string          `json:"data_availability_warning"`
	SensitivityAnalysis     []SensitivityRow `json:"sensitivity_analysis"`
	RiskMetrics             RiskMetrics      `json:"risk_metrics"`
	Scenarios               []ScenarioResult `json:"scenarios"`
}

// Profile validates the request and computes the full risk profile.
func (e *Engine) Profile(ctx context.Context, req ProfileRequest) (*ProfileResponse, error) {
	lookback := e.cfg.RiskDefaultLookbackDays
	if req.LookbackDays != nil {
		lookback = *req.LookbackDays
	}
	if lookback < 7 || lookback > e.cfg.RiskMaxLookbackDays {
		return nil, domain.Validationf("lookback_days must be between 7 and %d", e.cfg.RiskMaxLookbackDays)
	}

	positions, err := validatePositions(req.Positions, e.cfg.MaxPortfolioPositions, e.cfg.MaxLeverageLimit)
	if err != nil {
		return nil, err
	}

	hasLending := false
	hasFutures := false
	assetSet := make(map[string]struct{})
	for _, pos := range positions {
		assetSet[pos.Asset] = struct{}{}
		if pos.Type.IsLending() {
			hasLending = true
		}
		if pos.Type.IsFutures() {
			hasFutures = true
		}
	}
	assets := make([]string, 0, len(assetSet))
	for asset := range assetSet {
		assets = append(assets, asset)
	}

	e.log.Info().Int("positions", len(positions)).Strs("assets", assets).
		Int("lookback_days", lookback).Msg("Calculating risk profile")

	panel, alignWarnings, actualDays, err := e.loader.BuildPanel(ctx, assets, lookback)
	if err != nil {
		return nil, domain.NotFoundf("no historical data for portfolio assets: %v", err)
	}

	var warnings []string
	if actualDays < 30 {
		warnings = append(warnings, fmt.Sprintf(
			"Warning: Only %d days of data available (recommended: 30+). Risk metrics may be unreliable.", actualDays))
	}
	if hasFutures && lookback > e.cfg.FundingRateLookbackDays {
		warnings = append(warnings, fmt.Sprintf(
			"Futures funding and mark history is retained for ~%d days; lookback of %d days may have sparse futures coverage.",
			e.cfg.FundingRateLookbackDays, lookback))
	}

	if hasLending {
		if err := e.resolveEntryIndices(positions, panel, &warnings); err != nil {
			return nil, err
		}
	}

	prices, err := currentPrices(panel, positions)
	if err != nil {
		return nil, err
	}
	var indices map[string]domain.LendingIndices
	if hasLending {
		indices = extractIndices(panel, positions, len(panel.Days)-1)
	}

	currentValue, err := valuation.PortfolioValue(positions, prices, indices)
	if err != nil {
		return nil, err
	}

	values, returns := e.historicalSeries(positions, panel, hasLending)

	sensitivity := sensitivityTable(positions, prices, indices, e.cfg.SensitivityRange)

	metrics := e.riskMetrics(returns, values, currentValue, actualDays, positions, panel, prices, indices)

	if hasLending {
		lendingMetrics, err := e.lendingMetrics(positions, panel, prices, indices)
		if err != nil {
			return nil, err
		}
		metrics.LendingMetrics = lendingMetrics
	}
	metrics.DeltaExposure = valuation.DeltaExposure(positions)

	scenarios, err := runScenarios(positions, prices, indices)
	if err != nil {
		return nil, err
	}

	var warning *string
	if msg := composeWarning(warnings, alignWarnings); msg != "" {
		warning = &msg
	}

	return &ProfileResponse{
		CurrentPortfolioValue:   currentValue,
		DataAvailabilityWarning: warning,
		SensitivityAnalysis:     sensitivity,
		RiskMetrics:             *metrics,
		Scenarios:               scenarios,
	}, nil
}

// resolveEntryIndices fills missing lending entry indices from the
// panel day nearest each position's entry timestamp. Entries that
// predate the panel use the earliest day, with a warning.
func (e *Engine) resolveEntryIndices(positions []domain.Position, panel *align.Panel, warnings *[]string) error {
	for i := range positions {
		pos := &positions[i]
		if !pos.Type.IsLending() || pos.EntryIndex != nil {
			continue
		}

		column := align.LiquidityIndexColumn(pos.Asset)
		if pos.Type == domain.PositionLendingBorrow {
			column = align.VariableBorrowIndexColumn(pos.Asset)
		}
		if !panel.Has(column) {
			return domain.NotFoundf("no lending index data available for %s", pos.Asset)
		}

		dayIdx := panel.ClosestDayIndex(*pos.EntryTimestamp)
		if pos.EntryTimestamp.Before(panel.Days[0]) {
			*warnings = append(*warnings, fmt.Sprintf(
				"%s entry timestamp predates available lending data; using earliest available index", pos.Asset))
			dayIdx = 0
		}
		idx, _ := panel.At(column, dayIdx)
		pos.EntryIndex = &idx
		e.log.Debug().Str("asset", pos.Asset).Float64("entry_index", idx).Msg("Auto-resolved entry index")
	}
	return nil
}

// currentPrices reads each spot/futures position's price off the last
// panel row. Missing columns are an error; degraded assets cannot be
// valued.
func currentPrices(panel *align.Panel, positions []domain.Position) (map[domain.PriceKey]float64, error) {
	prices := make(map[domain.PriceKey]float64)
	for _, pos := range positions {
		if pos.Type.IsLending() {
			continue
		}
		column := align.SpotColumn(pos.Asset)
		if pos.Type.IsFutures() {
			column = align.MarkColumn(pos.Asset)
		}
		price, ok := panel.Last(column)
		if !ok {
			kind := "spot"
			if pos.Type.IsFutures() {
				kind = "futures"
			}
			return nil, domain.NotFoundf("no %s data available for asset: %s", kind, pos.Asset)
		}
		prices[domain.PriceKey{Asset: pos.Asset, Type: pos.Type}] = price
	}
	return prices, nil
}

// extractIndices reads the lending index columns for day i.
func extractIndices(panel *align.Panel, positions []domain.Position, i int) map[string]domain.LendingIndices {
	indices := make(map[string]domain.LendingIndices)
	for _, pos := range positions {
		if !pos.Type.IsLending() {
			continue
		}
		if _, done := indices[pos.Asset]; done {
			continue
		}
		var idx domain.LendingIndices
		if v, ok := panel.At(align.LiquidityIndexColumn(pos.Asset), i); ok {
			liq := v
			idx.LiquidityIndex = &liq
		}
		if v, ok := panel.At(align.VariableBorrowIndexColumn(pos.Asset), i); ok {
			bor := v
			idx.VariableBorrowIndex = &bor
		}
		indices[pos.Asset] = idx
	}
	return indices
}

// historicalSeries values the portfolio on every panel day. Days where
// a position cannot be valued (missing column) are skipped.
func (e *Engine) historicalSeries(positions []domain.Position, panel *align.Panel, hasLending bool) ([]float64, []float64) {
	values := make([]float64, 0, len(panel.Days))
	for i := range panel.Days {
		prices := make(map[domain.PriceKey]float64)
		for _, pos := range positions {
			if pos.Type.IsLending() {
				continue
			}
			column := align.SpotColumn(pos.Asset)
			if pos.Type.IsFutures() {
				column = align.MarkColumn(pos.Asset)
			}
			if v, ok := panel.At(column, i); ok {
				prices[domain.PriceKey{Asset: pos.Asset, Type: pos.Type}] = v
			}
		}
		var indices map[string]domain.LendingIndices
		if hasLending {
			indices = extractIndices(panel, positions, i)
		}
		value, err := valuation.PortfolioValue(positions, prices, indices)
		if err != nil {
			continue
		}
		values = append(values, value)
	}
	return values, stats.LogReturns(values)
}

// sensitivityTable revalues the portfolio across the configured shock
// range (percent steps, applied as decimals).
func sensitivityTable(positions []domain.Position, prices map[domain.PriceKey]float64, indices map[string]domain.LendingIndices, shockRange []int) []SensitivityRow {
	baseValue, err := valuation.PortfolioValue(positions, prices, indices)
	if err != nil {
		return nil
	}

	rows := make([]SensitivityRow, 0, len(shockRange))
	for _, pct := range shockRange {
		value := baseValue
		if len(prices) > 0 {
			shocked := valuation.UniformShock(float64(pct) / 100).Apply(prices)
			if v, err := valuation.PortfolioValue(positions, shocked, indices); err == nil {
				value = v
			}
		}
		pnl := value - baseValue
		returnPct := 0.0
		if baseValue != 0 {
			returnPct = pnl / baseValue * 100
		}
		rows = append(rows, SensitivityRow{
			PriceChangePct: float64(pct),
			PortfolioValue: value,
			PnL:            pnl,
			ReturnPct:      returnPct,
		})
	}
	return rows
}

func (e *Engine) riskMetrics(
	returns, values []float64,
	currentValue float64,
	actualDays int,
	positions []domain.Position,
	panel *align.Panel,
	prices map[domain.PriceKey]float64,
	indices map[string]domain.LendingIndices,
) *RiskMetrics {
	assetReturns := assetReturns(positions, panel)
	corr := stats.CorrelationMatrix(assetReturns)

	valuesByAsset := make(map[string]float64)
	for _, pos := range positions {
		if v, err := valuation.PositionValue(pos, prices, indices); err == nil {
			valuesByAsset[pos.Asset] += v
		}
	}

	lower, upper := e.confidenceLevels()

	var cvar float64
	if len(returns) > 0 {
		cvar = stats.CVaR(returns, stats.Quantile(returns, 1-lower), currentValue)
	}

	return &RiskMetrics{
		LookbackDaysUsed:          actualDays,
		PortfolioVariance:         stats.PortfolioVariance(valuesByAsset, assetReturns, corr),
		PortfolioVolatilityAnnual: stats.Volatility(returns, true, stats.PeriodsPerYear),
		VaR95OneDay:               stats.VaRHistorical(returns, lower, currentValue),
		VaR99OneDay:               stats.VaRHistorical(returns, upper, currentValue),
		CVaR95:                    cvar,
		SharpeRatio:               stats.SharpeRatio(returns, e.cfg.RiskFreeRate, stats.PeriodsPerYear),
		MaxDrawdown:               stats.MaxDrawdown(values),
		CorrelationMatrix:         corr,
	}
}

// confidenceLevels reads the configured VaR confidence pair, falling
// back to 95%/99% when the list is short.
func (e *Engine) confidenceLevels() (lower, upper float64) {
	lower, upper = 0.95, 0.99
	if len(e.cfg.VaRConfidenceLevels) > 0 {
		lower = e.cfg.VaRConfidenceLevels[0]
	}
	if len(e.cfg.VaRConfidenceLevels) > 1 {
		upper = e.cfg.VaRConfidenceLevels[1]
	}
	return lower, upper
}

// assetReturns computes per-asset daily log returns from the spot
// column, falling back to the futures mark column.
func assetReturns(positions []domain.Position, panel *align.Panel) map[string][]float64 {
	out := make(map[string][]float64)
	for _, pos := range positions {
		if _, done := out[pos.Asset]; done {
			continue
		}
		prices, ok := panel.Column(align.SpotColumn(pos.Asset))
		if !ok {
			prices, ok = panel.Column(align.MarkColumn(pos.Asset))
		}
		if !ok {
			continue
		}
		if r := stats.LogReturns(prices); len(r) > 0 {
			out[pos.Asset] = r
		}
	}
	return out
}

// lendingMetrics assembles the account block from current rates and
// position values.
func (e *Engine) lendingMetrics(positions []domain.Position, panel *align.Panel, prices map[domain.PriceKey]float64, indices map[string]domain.LendingIndices) (*lending.Metrics, error) {
	rates := make(map[string]domain.LendingRates)
	for _, pos := range positions {
		if !pos.Type.IsLending() {
			continue
		}
		if _, done := rates[pos.Asset]; done {
			continue
		}
		var r domain.LendingRates
		if v, ok := panel.Last(align.SupplyRateColumn(pos.Asset)); ok {
			supply := v
			r.SupplyRate = &supply
		}
		if v, ok := panel.Last(align.VariableBorrowRateColumn(pos.Asset)); ok {
			variable := v
			r.VariableBorrowRate = &variable
		}
		if v, ok := panel.Last(align.StableBorrowRateColumn(pos.Asset)); ok {
			stable := v
			r.StableBorrowRate = &stable
		}
		rates[pos.Asset] = r
	}

	valued := make([]lending.ValuedPosition, 0, len(positions))
	for _, pos := range positions {
		value, err := valuation.PositionValue(pos, prices, indices)
		if err != nil {
			return nil, err
		}
		valued = append(valued, lending.ValuedPosition{Position: pos, Value: value})
	}

	dataTimestamp := panel.Days[len(panel.Days)-1]
	return lending.Compute(lending.Inputs{
		Positions:             valued,
		Rates:                 rates,
		LiquidationThresholds: e.cfg.AaveLiquidationThresholds,
		MaxLTVs:               e.cfg.AaveMaxLTV,
		DataTimestamp:         dataTimestamp,
		MaxAgeHours:           e.cfg.LendingDataMaxAgeHours,
		Now:                   e.now(),
	})
}

// composeWarning joins engine warnings and alignment warnings the way
// the response documents: engine warnings first, " | " before the
// "; "-joined alignment list.
func composeWarning(engineWarnings, alignWarnings []string) string {
	head := strings.Join(engineWarnings, " | ")
	tail := strings.Join(alignWarnings, "; ")
	switch {
	case head == "":
		return tail
	case tail == "":
		return head
	default:
		return head + " | " + tail
	}
}
