package ingest

import (
	"context"
	"time"

	"github.com/riskwatch/riskwatch/internal/domain"
)

// marketMetrics are the exchange-sourced metrics in backfill order.
var marketMetrics = []domain.Metric{
	domain.MetricSpotOHLCV,
	domain.MetricFundingRate,
	domain.MetricMarkKlines,
	domain.MetricIndexKlines,
	domain.MetricOpenInterest,
}

// openInterestMaxDays is the provider's retention limit for historical
// open interest.
const openInterestMaxDays = 30

// BackfillMetric runs the resumable backfill state machine for one
// (asset, metric). Branches:
//
//   - already marked completed and not forced: skip
//   - earliest stored point at or before the target start: repair gaps
//     and mark complete
//   - partial history: extend backwards from the target start to just
//     before the earliest stored point
//   - no history: fetch the full target window
//
// Open interest never gap-fills and its window is capped at the
// provider's 30 day retention.
func (s *Service) BackfillMetric(ctx context.Context, asset string, metric domain.Metric, targetDays int, force bool) MetricResult {
	if !force {
		completed, err := s.backfill.IsCompleted(asset, metric)
		if err != nil {
			return MetricResult{Status: StatusFailed, Error: err.Error()}
		}
		if completed {
			s.log.Info().Str("asset", asset).Str("metric", string(metric)).Msg("Backfill already completed, skipping")
			return MetricResult{Status: StatusSkipped, Reason: "already_completed"}
		}
	}

	interval, err := s.metricInterval(metric)
	if err != nil {
		return MetricResult{Status: StatusFailed, Error: err.Error()}
	}

	now := s.now()
	if metric == domain.MetricOpenInterest && targetDays > openInterestMaxDays {
		targetDays = openInterestMaxDays
	}
	targetStart := now.AddDate(0, 0, -targetDays)

	earliest, latest, err := s.boundaries(asset, metric)
	if err != nil {
		return MetricResult{Status: StatusFailed, Error: err.Error()}
	}

	if earliest != nil && !earliest.After(targetStart) {
		gapsFilled := 0
		if metric != domain.MetricOpenInterest {
			gapsFilled, _ = s.FillGaps(ctx, asset, metric)
		}
		if err := s.backfill.Update(asset, metric, true, latest); err != nil {
			return MetricResult{Status: StatusFailed, Error: err.Error()}
		}
		s.log.Info().Str("asset", asset).Str("metric", string(metric)).Msg("History already covers target window")
		return MetricResult{Status: StatusCompleted, Reason: "already_sufficient", GapsFilled: gapsFilled}
	}

	fetchStart := targetStart
	fetchEnd := now
	if earliest != nil {
		fetchEnd = earliest.Add(-interval)
	}

	s.log.Info().
		Str("asset", asset).
		Str("metric", string(metric)).
		Time("start", fetchStart).
		Time("end", fetchEnd).
		Msg("Backfilling history")

	count, err := s.fetchStore(ctx, asset, metric, fetchStart, fetchEnd)
	if err != nil {
		s.log.Error().Err(err).Str("asset", asset).Str("metric", string(metric)).Msg("Backfill failed")
		return MetricResult{Status: StatusFailed, Error: err.Error()}
	}

	// Bring the series current when older data already existed.
	if latest != nil {
		catchUp, err := s.fetchStore(ctx, asset, metric, latest.Add(interval), now)
		if err != nil {
			s.log.Warn().Err(err).Str("asset", asset).Str("metric", string(metric)).Msg("Catch-up during backfill failed")
		} else {
			count += catchUp
		}
	}

	gapsFilled := 0
	if metric != domain.MetricOpenInterest {
		gapsFilled, _ = s.FillGaps(ctx, asset, metric)
	}

	// The ledger records what was actually stored, not what was asked
	// for: a short provider response must not overstate coverage.
	storedEarliest, storedLatest, err := s.boundaries(asset, metric)
	if err != nil {
		return MetricResult{Status: StatusFailed, Error: err.Error()}
	}
	completed := true
	if min := s.minBackfillDays(targetDays); min > 0 {
		span := 0
		if storedEarliest != nil && storedLatest != nil {
			span = int(storedLatest.Sub(*storedEarliest).Hours() / 24)
		}
		if span < min {
			completed = false
			s.log.Warn().
				Str("asset", asset).
				Str("metric", string(metric)).
				Int("stored_days", span).
				Int("min_days", min).
				Msg("Stored history below minimum window, backfill stays incomplete")
		}
	}
	if err := s.backfill.Update(asset, metric, completed, storedLatest); err != nil {
		return MetricResult{Status: StatusFailed, Error: err.Error()}
	}

	s.log.Info().
		Str("asset", asset).
		Str("metric", string(metric)).
		Int("records", count).
		Int("gaps_filled", gapsFilled).
		Msg("Backfill completed")
	return MetricResult{Status: StatusSuccess, RecordsStored: count, GapsFilled: gapsFilled}
}

// minBackfillDays is the smallest stored span acceptable as a
// completed backfill, never more than the metric's target window.
// Zero disables the floor.
func (s *Service) minBackfillDays(targetDays int) int {
	min := s.cfg.MinBackfillDays
	if min > targetDays {
		min = targetDays
	}
	return min
}

// backfillTargetDays picks the window per metric.
func (s *Service) backfillTargetDays(metric domain.Metric) int {
	if metric == domain.MetricOpenInterest {
		return openInterestMaxDays
	}
	return s.cfg.InitialBackfillDays
}

// BackfillAsset backfills every market metric for one asset with
// per-metric error isolation.
func (s *Service) BackfillAsset(ctx context.Context, asset string, force bool) map[domain.Metric]MetricResult {
	results := make(map[domain.Metric]MetricResult, len(marketMetrics))
	for _, metric := range marketMetrics {
		if metric == domain.MetricSpotOHLCV && !s.cfg.IsTrackedAsset(asset) {
			continue
		}
		if metric != domain.MetricSpotOHLCV && !s.cfg.IsTrackedFuturesAsset(asset) {
			continue
		}
		results[metric] = s.BackfillMetric(ctx, asset, metric, s.backfillTargetDays(metric), force)
	}
	return results
}

// Summary aggregates one full ingestion run.
type Summary struct {
	Market  map[string]map[domain.Metric]MetricResult `json:"market"`
	Lending map[string]MetricResult                   `json:"lending"`
}

// BackfillAll backfills every tracked asset sequentially. Market
// requests are already rate limited; fanning out would only queue at
// the limiter while multiplying partial-failure states.
func (s *Service) BackfillAll(ctx context.Context, force bool) Summary {
	assets := unionAssets(s.cfg.TrackedAssets, s.cfg.TrackedFuturesAssets)
	summary := Summary{Market: make(map[string]map[domain.Metric]MetricResult, len(assets))}

	for _, asset := range assets {
		if ctx.Err() != nil {
			break
		}
		summary.Market[asset] = s.BackfillAsset(ctx, asset, force)
	}

	summary.Lending = s.BackfillLending(ctx, force)

	s.log.Info().Int("assets", len(summary.Market)).Msg("Backfill run finished")
	return summary
}

func unionAssets(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, asset := range list {
			if !seen[asset] {
				seen[asset] = true
				out = append(out, asset)
			}
		}
	}
	return out
}

// FillGaps detects holes in a fixed-cadence series and refetches each
// range. A failed range is logged and skipped so one bad window does
// not abort the rest.
func (s *Service) FillGaps(ctx context.Context, asset string, metric domain.Metric) (int, error) {
	interval, err := s.metricInterval(metric)
	if err != nil {
		return 0, err
	}

	var gaps []domain.Gap
	if metric == domain.MetricSpotOHLCV {
		gaps, err = s.spot.DetectGaps(asset, interval)
	} else {
		gaps, err = s.futures.DetectGaps(asset, metric, interval)
	}
	if err != nil {
		return 0, err
	}
	if len(gaps) == 0 {
		return 0, nil
	}

	s.log.Info().
		Str("asset", asset).
		Str("metric", string(metric)).
		Int("gaps", len(gaps)).
		Msg("Filling gaps")

	total := 0
	for _, gap := range gaps {
		count, err := s.fetchStore(ctx, asset, metric, gap.Start, gap.End.Add(interval-time.Millisecond))
		if err != nil {
			s.log.Error().
				Err(err).
				Str("asset", asset).
				Str("metric", string(metric)).
				Time("gap_start", gap.Start).
				Time("gap_end", gap.End).
				Msg("Failed to fill gap")
			continue
		}
		total += count
	}
	return total, nil
}
