package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/riskwatch/riskwatch/internal/analysis/stats"
	"github.com/riskwatch/riskwatch/internal/domain"
)

const (
	statsDefaultWindowDays = 30
	statsMaxWindowDays     = 90
	statsMaxAssets         = 10
)

type statsQuery struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	PeriodDays int    `json:"period_days"`
}

type assetStatsBlock struct {
	Spot    *stats.SpotStats    `json:"spot"`
	Futures *stats.FuturesStats `json:"futures"`
	Lending *stats.LendingStats `json:"lending"`
}

// handleAssetStats serves aggregated statistics for one asset across
// all data domains.
func (s *Server) handleAssetStats(w http.ResponseWriter, r *http.Request) {
	asset := strings.ToUpper(chi.URLParam(r, "asset"))
	if !s.cfg.IsTrackedAsset(asset) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf(
			"Asset '%s' not found. Tracked assets: %s", asset, strings.Join(s.cfg.TrackedAssets, ", ")))
		return
	}

	include, ok := s.parseDataTypes(w, r)
	if !ok {
		return
	}
	start, end, periodDays, ok := s.parseStatsWindow(w, r)
	if !ok {
		return
	}

	block, _, err := s.computeAssetStats(asset, start, end, include)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"asset": asset,
		"query": statsQuery{
			Start:      start.Format(time.RFC3339),
			End:        end.Format(time.RFC3339),
			PeriodDays: periodDays,
		},
		"spot":      block.Spot,
		"futures":   block.Futures,
		"lending":   block.Lending,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMultiAssetStats serves aggregated statistics for up to ten
// assets plus a cross-asset spot correlation matrix.
func (s *Server) handleMultiAssetStats(w http.ResponseWriter, r *http.Request) {
	rawAssets := r.URL.Query().Get("assets")
	if rawAssets == "" {
		s.writeError(w, http.StatusBadRequest, "assets parameter is required")
		return
	}

	var assets []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(rawAssets, ",") {
		asset := strings.ToUpper(strings.TrimSpace(part))
		if asset == "" || seen[asset] {
			continue
		}
		seen[asset] = true
		assets = append(assets, asset)
	}
	if len(assets) == 0 {
		s.writeError(w, http.StatusBadRequest, "assets parameter is required")
		return
	}
	if len(assets) > statsMaxAssets {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Maximum %d assets allowed", statsMaxAssets))
		return
	}
	for _, asset := range assets {
		if !s.cfg.IsTrackedAsset(asset) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf(
				"Asset '%s' not found. Tracked assets: %s", asset, strings.Join(s.cfg.TrackedAssets, ", ")))
			return
		}
	}

	include, ok := s.parseDataTypes(w, r)
	if !ok {
		return
	}
	start, end, periodDays, ok := s.parseStatsWindow(w, r)
	if !ok {
		return
	}

	data := make(map[string]*assetStatsBlock, len(assets))
	spotCandles := make(map[string][]domain.Candle)
	for _, asset := range assets {
		block, candles, err := s.computeAssetStats(asset, start, end, include)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		data[asset] = block
		if include["spot"] && len(candles) > 0 {
			spotCandles[asset] = candles
		}
	}

	var correlations map[string]map[string]float64
	if include["spot"] && len(spotCandles) >= 2 {
		correlations = stats.CrossAssetCorrelations(spotCandles)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"query": map[string]any{
			"assets":      assets,
			"start":       start.Format(time.RFC3339),
			"end":         end.Format(time.RFC3339),
			"period_days": periodDays,
		},
		"data":         data,
		"correlations": correlations,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

// parseStatsWindow resolves the stats date range: default trailing 30
// days, at most 90, end strictly after start.
func (s *Server) parseStatsWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, int, bool) {
	startPtr, endPtr, ok := s.parseRange(w, r)
	if !ok {
		return time.Time{}, time.Time{}, 0, false
	}

	end := time.Now().UTC()
	if endPtr != nil {
		end = *endPtr
	}
	start := end.AddDate(0, 0, -statsDefaultWindowDays)
	if startPtr != nil {
		start = *startPtr
	}

	if !end.After(start) {
		s.writeError(w, http.StatusBadRequest, "End date must be after start date")
		return time.Time{}, time.Time{}, 0, false
	}
	periodDays := int(end.Sub(start).Hours() / 24)
	if periodDays > statsMaxWindowDays {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf(
			"Date range too large: %d days (max %d days)", periodDays, statsMaxWindowDays))
		return time.Time{}, time.Time{}, 0, false
	}
	return start, end, periodDays, true
}

func allDataTypes() map[string]bool {
	return map[string]bool{"spot": true, "futures": true, "lending": true}
}

func (s *Server) parseDataTypes(w http.ResponseWriter, r *http.Request) (map[string]bool, bool) {
	raw := r.URL.Query().Get("data_types")
	if raw == "" {
		return allDataTypes(), true
	}
	valid := allDataTypes()
	include := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		dt := strings.ToLower(strings.TrimSpace(part))
		if dt == "" {
			continue
		}
		if !valid[dt] {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf(
				"Invalid data_types: %s (valid: spot, futures, lending)", dt))
			return nil, false
		}
		include[dt] = true
	}
	if len(include) == 0 {
		return allDataTypes(), true
	}
	return include, true
}

// computeAssetStats builds the per-asset stats block. Missing data in
// any domain degrades that block to nil rather than erroring. The spot
// candles are returned for correlation reuse.
func (s *Server) computeAssetStats(asset string, start, end time.Time, include map[string]bool) (*assetStatsBlock, []domain.Candle, error) {
	block := &assetStatsBlock{}

	var candles []domain.Candle
	if include["spot"] || include["futures"] {
		var err error
		candles, err = s.spot.GetCandles(asset, &start, &end, 0)
		if err != nil {
			return nil, nil, err
		}
	}
	if include["spot"] {
		block.Spot = stats.ComputeSpotStats(candles, s.cfg.RiskFreeRate)
	}

	if include["futures"] && s.cfg.IsTrackedFuturesAsset(asset) {
		funding, err := s.futures.GetFundingRates(asset, &start, &end, 0)
		if err != nil {
			return nil, nil, err
		}
		marks, err := s.futures.GetKlines(asset, domain.MetricMarkKlines, &start, &end, 0)
		if err != nil {
			return nil, nil, err
		}
		oi, err := s.futures.GetOpenInterest(asset, &start, &end, 0)
		if err != nil {
			return nil, nil, err
		}
		var spotPrice *float64
		if len(candles) > 0 {
			price := candles[len(candles)-1].Close
			spotPrice = &price
		}
		block.Futures = stats.ComputeFuturesStats(funding, marks, oi, spotPrice)
	}

	if include["lending"] {
		if reserve, tracked := s.cfg.ResolveLendingAsset(asset); tracked {
			snapshots, err := s.lending.GetSnapshots(reserve, &start, &end, 0)
			if err != nil {
				return nil, nil, err
			}
			block.Lending = stats.ComputeLendingStats(snapshots)
		}
	}

	return block, candles, nil
}
