package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/riskwatch/riskwatch/internal/clients/dune"
	"github.com/riskwatch/riskwatch/internal/domain"
)

// FetchLendingSnapshots pulls the full lending dataset in one provider
// call, validates each row, and stores the rows grouped per tracked
// asset. Invalid rows are dropped individually; a provider failure
// marks every tracked asset failed.
func (s *Service) FetchLendingSnapshots(ctx context.Context) map[string]MetricResult {
	results := make(map[string]MetricResult, len(s.cfg.TrackedLendingAssets))

	rows, err := s.lending.FetchLendingRows(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Lending fetch failed")
		for _, asset := range s.cfg.TrackedLendingAssets {
			results[asset] = MetricResult{Status: StatusFailed, Error: err.Error()}
		}
		return results
	}

	byAsset := s.groupValidRows(rows)

	for _, asset := range s.cfg.TrackedLendingAssets {
		snapshots := byAsset[asset]
		if len(snapshots) == 0 {
			results[asset] = MetricResult{Status: StatusSkipped, Reason: "no_data"}
			continue
		}
		count, err := s.lendingRepo.UpsertSnapshots(asset, snapshots)
		if err != nil {
			results[asset] = MetricResult{Status: StatusFailed, Error: err.Error()}
			continue
		}
		results[asset] = MetricResult{Status: StatusSuccess, RecordsStored: count}
	}

	s.log.Info().Int("assets", len(byAsset)).Msg("Stored lending snapshots")
	return results
}

// groupValidRows validates and buckets provider rows by upper-cased
// asset symbol. The query returns its full history; rows older than
// the lending backfill window are not stored.
func (s *Service) groupValidRows(rows []dune.LendingRow) map[string][]domain.LendingSnapshot {
	now := s.now()
	var cutoff time.Time
	if s.cfg.InitialLendingBackfillDays > 0 {
		cutoff = now.AddDate(0, 0, -s.cfg.InitialLendingBackfillDays)
	}

	byAsset := make(map[string][]domain.LendingSnapshot)
	dropped := 0

	for _, row := range rows {
		if !cutoff.IsZero() && row.Snapshot.Timestamp.Before(cutoff) {
			continue
		}
		if err := dune.ValidateSnapshot(row.Snapshot, now); err != nil {
			s.log.Warn().
				Err(err).
				Str("asset", row.Asset).
				Msg("Dropping invalid lending snapshot")
			dropped++
			continue
		}
		asset := strings.ToUpper(row.Asset)
		byAsset[asset] = append(byAsset[asset], row.Snapshot)
	}

	if dropped > 0 {
		s.log.Warn().Int("dropped", dropped).Msg("Some lending rows failed validation")
	}
	return byAsset
}

// BackfillLending runs the one-shot lending backfill. The query always
// returns its full history, so backfill and catch-up share one fetch;
// the ledger row only records that the initial load happened.
func (s *Service) BackfillLending(ctx context.Context, force bool) map[string]MetricResult {
	pending := make([]string, 0, len(s.cfg.TrackedLendingAssets))
	results := make(map[string]MetricResult, len(s.cfg.TrackedLendingAssets))

	for _, asset := range s.cfg.TrackedLendingAssets {
		if !force {
			completed, err := s.backfill.IsCompleted(asset, domain.MetricLending)
			if err != nil {
				results[asset] = MetricResult{Status: StatusFailed, Error: err.Error()}
				continue
			}
			if completed {
				results[asset] = MetricResult{Status: StatusSkipped, Reason: "already_completed"}
				continue
			}
		}
		pending = append(pending, asset)
	}
	if len(pending) == 0 {
		return results
	}

	fetched := s.FetchLendingSnapshots(ctx)
	for _, asset := range pending {
		result := fetched[asset]
		results[asset] = result
		if result.Status != StatusSuccess {
			continue
		}
		latest, err := s.lendingRepo.LatestTimestamp(asset)
		if err != nil {
			results[asset] = MetricResult{Status: StatusFailed, Error: err.Error()}
			continue
		}
		if err := s.backfill.Update(asset, domain.MetricLending, true, latest); err != nil {
			results[asset] = MetricResult{Status: StatusFailed, Error: err.Error()}
		}
	}
	return results
}
