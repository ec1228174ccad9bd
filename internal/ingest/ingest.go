// Package ingest orchestrates data collection: historical backfill per
// (asset, metric) with resumable state, periodic catch-up from the last
// stored point, and gap repair on fixed-cadence series.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskwatch/riskwatch/internal/clients/dune"
	"github.com/riskwatch/riskwatch/internal/config"
	"github.com/riskwatch/riskwatch/internal/domain"
	"github.com/riskwatch/riskwatch/internal/storage"
)

// MarketProvider is the exchange surface the service pulls from.
type MarketProvider interface {
	FetchSpotKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Candle, error)
	FetchFundingRates(ctx context.Context, symbol string, start, end time.Time) ([]domain.FundingRate, error)
	FetchMarkKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Kline, error)
	FetchIndexKlines(ctx context.Context, pair, interval string, start, end time.Time) ([]domain.Kline, error)
	FetchOpenInterest(ctx context.Context, symbol, period string, start, end time.Time) ([]domain.OpenInterest, error)
}

// LendingProvider returns reserve snapshots for all assets in one call.
type LendingProvider interface {
	FetchLendingRows(ctx context.Context) ([]dune.LendingRow, error)
}

// Status classifies the outcome of one backfill or catch-up unit.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// MetricResult summarizes one (asset, metric) ingestion unit.
type MetricResult struct {
	Status        Status `json:"status"`
	Reason        string `json:"reason,omitempty"`
	RecordsStored int    `json:"records_stored"`
	GapsFilled    int    `json:"gaps_filled,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Service coordinates providers and repositories.
type Service struct {
	cfg     *config.Config
	market  MarketProvider
	lending LendingProvider

	spot        *storage.SpotRepository
	futures     *storage.FuturesRepository
	lendingRepo *storage.LendingRepository
	backfill    *storage.BackfillRepository

	log zerolog.Logger
	now func() time.Time
}

// New creates the ingestion service
func New(
	cfg *config.Config,
	market MarketProvider,
	lending LendingProvider,
	spot *storage.SpotRepository,
	futures *storage.FuturesRepository,
	lendingRepo *storage.LendingRepository,
	backfill *storage.BackfillRepository,
	log zerolog.Logger,
) *Service {
	return &Service{
		cfg:         cfg,
		market:      market,
		lending:     lending,
		spot:        spot,
		futures:     futures,
		lendingRepo: lendingRepo,
		backfill:    backfill,
		log:         log.With().Str("component", "ingest").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// assetToSymbol maps a tracked asset to the exchange's USDT symbol.
func assetToSymbol(asset string) string {
	return strings.ToUpper(asset) + "USDT"
}

// metricInterval returns the native cadence of a metric.
func (s *Service) metricInterval(metric domain.Metric) (time.Duration, error) {
	switch metric {
	case domain.MetricSpotOHLCV:
		return time.Duration(s.cfg.FetchIntervalHours) * time.Hour, nil
	case domain.MetricFundingRate:
		return time.Duration(s.cfg.FuturesFundingIntervalHours) * time.Hour, nil
	case domain.MetricMarkKlines, domain.MetricIndexKlines:
		return parseIntervalDuration(s.cfg.FuturesKlinesInterval)
	case domain.MetricOpenInterest:
		return parseIntervalDuration(s.cfg.FuturesOIPeriod)
	default:
		return 0, fmt.Errorf("no interval defined for metric %s", metric)
	}
}

// parseIntervalDuration parses exchange interval strings like "8h",
// "5m", "1d".
func parseIntervalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval unit %q", s)
	}
}

// fetchStore fetches one (asset, metric) window from the provider and
// upserts it. It is the single point all backfill, catch-up and gap
// paths funnel through.
func (s *Service) fetchStore(ctx context.Context, asset string, metric domain.Metric, start, end time.Time) (int, error) {
	symbol := assetToSymbol(asset)

	switch metric {
	case domain.MetricSpotOHLCV:
		interval := fmt.Sprintf("%dh", s.cfg.FetchIntervalHours)
		candles, err := s.market.FetchSpotKlines(ctx, symbol, interval, start, end)
		if err != nil {
			return 0, err
		}
		return s.spot.UpsertCandles(asset, candles)
	case domain.MetricFundingRate:
		rates, err := s.market.FetchFundingRates(ctx, symbol, start, end)
		if err != nil {
			return 0, err
		}
		return s.futures.UpsertFundingRates(asset, rates)
	case domain.MetricMarkKlines:
		klines, err := s.market.FetchMarkKlines(ctx, symbol, s.cfg.FuturesKlinesInterval, start, end)
		if err != nil {
			return 0, err
		}
		return s.futures.UpsertKlines(asset, metric, klines)
	case domain.MetricIndexKlines:
		klines, err := s.market.FetchIndexKlines(ctx, symbol, s.cfg.FuturesKlinesInterval, start, end)
		if err != nil {
			return 0, err
		}
		return s.futures.UpsertKlines(asset, metric, klines)
	case domain.MetricOpenInterest:
		points, err := s.market.FetchOpenInterest(ctx, symbol, s.cfg.FuturesOIPeriod, start, end)
		if err != nil {
			return 0, err
		}
		return s.futures.UpsertOpenInterest(asset, points)
	default:
		return 0, fmt.Errorf("fetchStore does not handle metric %s", metric)
	}
}

// boundaries returns (earliest, latest) stored timestamps for a metric.
func (s *Service) boundaries(asset string, metric domain.Metric) (*time.Time, *time.Time, error) {
	if metric == domain.MetricSpotOHLCV {
		earliest, err := s.spot.EarliestTimestamp(asset)
		if err != nil {
			return nil, nil, err
		}
		latest, err := s.spot.LatestTimestamp(asset)
		return earliest, latest, err
	}
	earliest, err := s.futures.EarliestTimestamp(asset, metric)
	if err != nil {
		return nil, nil, err
	}
	latest, err := s.futures.LatestTimestamp(asset, metric)
	return earliest, latest, err
}
