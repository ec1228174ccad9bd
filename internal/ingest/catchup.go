package ingest

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riskwatch/riskwatch/internal/domain"
)

// FetchLatest brings one (asset, metric) current: it fetches from one
// interval past the last stored point up to now. Assets with no stored
// history are skipped; backfill owns the initial load.
func (s *Service) FetchLatest(ctx context.Context, asset string, metric domain.Metric) MetricResult {
	interval, err := s.metricInterval(metric)
	if err != nil {
		return MetricResult{Status: StatusFailed, Error: err.Error()}
	}

	_, latest, err := s.boundaries(asset, metric)
	if err != nil {
		return MetricResult{Status: StatusFailed, Error: err.Error()}
	}
	if latest == nil {
		return MetricResult{Status: StatusSkipped, Reason: "no_existing_data"}
	}

	now := s.now()
	start := latest.Add(interval)
	if !start.Before(now) {
		return MetricResult{Status: StatusSkipped, Reason: "already_current"}
	}

	count, err := s.fetchStore(ctx, asset, metric, start, now)
	if err != nil {
		s.log.Error().Err(err).Str("asset", asset).Str("metric", string(metric)).Msg("Catch-up fetch failed")
		return MetricResult{Status: StatusFailed, Error: err.Error()}
	}

	if count > 0 {
		s.log.Info().
			Str("asset", asset).
			Str("metric", string(metric)).
			Int("records", count).
			Msg("Caught up to latest")
	}
	return MetricResult{Status: StatusSuccess, RecordsStored: count}
}

// catchUpMetrics catches up a metric set for one asset and repairs
// gaps afterwards (open interest excepted).
func (s *Service) catchUpMetrics(ctx context.Context, asset string, metrics []domain.Metric) map[domain.Metric]MetricResult {
	results := make(map[domain.Metric]MetricResult, len(metrics))
	for _, metric := range metrics {
		result := s.FetchLatest(ctx, asset, metric)
		if result.Status == StatusSuccess && metric != domain.MetricOpenInterest {
			if filled, err := s.FillGaps(ctx, asset, metric); err == nil {
				result.GapsFilled = filled
			}
		}
		results[metric] = result
	}
	return results
}

// fanOutAssets runs fn per asset with bounded concurrency. Failures
// are recorded per asset inside fn, never propagated, so one broken
// symbol cannot starve the rest.
func (s *Service) fanOutAssets(ctx context.Context, assets []string, fn func(ctx context.Context, asset string) map[domain.Metric]MetricResult) map[string]map[domain.Metric]MetricResult {
	out := make(map[string]map[domain.Metric]MetricResult, len(assets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, asset := range assets {
		asset := asset
		g.Go(func() error {
			results := fn(gctx, asset)
			mu.Lock()
			out[asset] = results
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// FetchLatestSpot catches up spot candles for all tracked assets.
func (s *Service) FetchLatestSpot(ctx context.Context) map[string]map[domain.Metric]MetricResult {
	return s.fanOutAssets(ctx, s.cfg.TrackedAssets, func(ctx context.Context, asset string) map[domain.Metric]MetricResult {
		return s.catchUpMetrics(ctx, asset, []domain.Metric{domain.MetricSpotOHLCV})
	})
}

// FetchLatestFutures catches up all futures metrics for the futures
// universe.
func (s *Service) FetchLatestFutures(ctx context.Context) map[string]map[domain.Metric]MetricResult {
	metrics := []domain.Metric{
		domain.MetricFundingRate,
		domain.MetricMarkKlines,
		domain.MetricIndexKlines,
		domain.MetricOpenInterest,
	}
	return s.fanOutAssets(ctx, s.cfg.TrackedFuturesAssets, func(ctx context.Context, asset string) map[domain.Metric]MetricResult {
		return s.catchUpMetrics(ctx, asset, metrics)
	})
}

// metricsForAsset lists the market metrics an asset is tracked for.
func (s *Service) metricsForAsset(asset string) []domain.Metric {
	var metrics []domain.Metric
	if s.cfg.IsTrackedAsset(asset) {
		metrics = append(metrics, domain.MetricSpotOHLCV)
	}
	if s.cfg.IsTrackedFuturesAsset(asset) {
		metrics = append(metrics,
			domain.MetricFundingRate,
			domain.MetricMarkKlines,
			domain.MetricIndexKlines,
			domain.MetricOpenInterest,
		)
	}
	return metrics
}

// FetchLatestAssets catches up only the named assets, each across the
// metric families it is tracked for. Used by the manual trigger when a
// subset is requested.
func (s *Service) FetchLatestAssets(ctx context.Context, assets []string) Summary {
	market := s.fanOutAssets(ctx, assets, func(ctx context.Context, asset string) map[domain.Metric]MetricResult {
		return s.catchUpMetrics(ctx, asset, s.metricsForAsset(asset))
	})
	return Summary{Market: market}
}

// FetchRange fetches one bounded historical window for the assets
// across their tracked metric families, repairing gaps afterwards.
// Used by the manual trigger when an explicit date range is supplied;
// an empty asset list means the full market universe.
func (s *Service) FetchRange(ctx context.Context, assets []string, start, end time.Time) Summary {
	if len(assets) == 0 {
		assets = unionAssets(s.cfg.TrackedAssets, s.cfg.TrackedFuturesAssets)
	}

	market := s.fanOutAssets(ctx, assets, func(ctx context.Context, asset string) map[domain.Metric]MetricResult {
		metrics := s.metricsForAsset(asset)
		results := make(map[domain.Metric]MetricResult, len(metrics))
		for _, metric := range metrics {
			count, err := s.fetchStore(ctx, asset, metric, start, end)
			if err != nil {
				s.log.Error().Err(err).Str("asset", asset).Str("metric", string(metric)).Msg("Range fetch failed")
				results[metric] = MetricResult{Status: StatusFailed, Error: err.Error()}
				continue
			}
			result := MetricResult{Status: StatusSuccess, RecordsStored: count}
			if count > 0 && metric != domain.MetricOpenInterest {
				if filled, err := s.FillGaps(ctx, asset, metric); err == nil {
					result.GapsFilled = filled
				}
			}
			results[metric] = result
		}
		return results
	})
	return Summary{Market: market}
}

// FetchLatestAll catches up every domain, used by the manual trigger.
func (s *Service) FetchLatestAll(ctx context.Context) Summary {
	summary := Summary{Market: make(map[string]map[domain.Metric]MetricResult)}

	for asset, results := range s.FetchLatestSpot(ctx) {
		summary.Market[asset] = results
	}
	for asset, results := range s.FetchLatestFutures(ctx) {
		if existing, ok := summary.Market[asset]; ok {
			for metric, result := range results {
				existing[metric] = result
			}
		} else {
			summary.Market[asset] = results
		}
	}

	summary.Lending = s.FetchLendingSnapshots(ctx)
	return summary
}
