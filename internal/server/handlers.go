package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/riskwatch/riskwatch/internal/analysis/stats"
	"github.com/riskwatch/riskwatch/internal/domain"
)

const spotInterval = 12 * time.Hour

// handleHealth reports process and database liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, dbStatus, code := "healthy", "connected", http.StatusOK
	if err := s.db.QuickCheck(ctx); err != nil {
		s.log.Error().Err(err).Msg("Health check failed")
		status, dbStatus, code = "unhealthy", "disconnected", http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]string{
		"status":    status,
		"database":  dbStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type assetStatus struct {
	Asset             string  `json:"asset"`
	EarliestTimestamp *string `json:"earliest_timestamp"`
	LatestTimestamp   *string `json:"latest_timestamp"`
	TotalCandles      int     `json:"total_candles"`
	BackfillCompleted bool    `json:"backfill_completed"`
}

// handleAssets lists the tracked spot universe with coverage info.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	out := make([]assetStatus, 0, len(s.cfg.TrackedAssets))
	for _, asset := range s.cfg.TrackedAssets {
		earliest, err := s.spot.EarliestTimestamp(asset)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		latest, err := s.spot.LatestTimestamp(asset)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		count, err := s.spot.Count(asset)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		completed, err := s.backfill.IsCompleted(asset, domain.MetricSpotOHLCV)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		out = append(out, assetStatus{
			Asset:             asset,
			EarliestTimestamp: timeString(earliest),
			LatestTimestamp:   timeString(latest),
			TotalCandles:      count,
			BackfillCompleted: completed,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"assets": out, "count": len(out)})
}

type candleRow struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Filled    bool    `json:"filled"`
}

// handleOHLCV serves raw spot candles, optionally forward-filling
// interior gaps onto the 12h grid.
func (s *Server) handleOHLCV(w http.ResponseWriter, r *http.Request) {
	asset := strings.ToUpper(chi.URLParam(r, "asset"))
	if !s.cfg.IsTrackedAsset(asset) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf(
			"Asset '%s' not found. Tracked assets: %s", asset, strings.Join(s.cfg.TrackedAssets, ", ")))
		return
	}

	start, end, ok := s.parseRange(w, r)
	if !ok {
		return
	}
	limit, ok := s.parseLimit(w, r, 1000, 10000)
	if !ok {
		return
	}
	fill := r.URL.Query().Get("fill") == "true"

	candles, err := s.spot.GetCandles(asset, start, end, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	rows := make([]candleRow, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, candleRow{
			Timestamp: c.Timestamp.UTC().Format(time.RFC3339),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	if fill {
		rows = forwardFillCandles(candles)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"asset":    asset,
		"interval": "12h",
		"data":     rows,
		"count":    len(rows),
	})
}

// forwardFillCandles fills interior gaps on the 12h grid with the last
// close (flat OHLC, zero volume). Leading and trailing ranges are never
// invented; fewer than two candles fill nothing.
func forwardFillCandles(candles []domain.Candle) []candleRow {
	rows := make([]candleRow, 0, len(candles))
	for i, c := range candles {
		if i > 0 {
			prev := candles[i-1]
			for ts := prev.Timestamp.Add(spotInterval); ts.Before(c.Timestamp); ts = ts.Add(spotInterval) {
				rows = append(rows, candleRow{
					Timestamp: ts.UTC().Format(time.RFC3339),
					Open:      prev.Close,
					High:      prev.Close,
					Low:       prev.Close,
					Close:     prev.Close,
					Filled:    true,
				})
			}
		}
		rows = append(rows, candleRow{
			Timestamp: c.Timestamp.UTC().Format(time.RFC3339),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return rows
}

type futuresMetricStatus struct {
	Count             int     `json:"count"`
	EarliestTimestamp *string `json:"earliest_timestamp"`
	LatestTimestamp   *string `json:"latest_timestamp"`
}

// handleFuturesAssets lists per-metric coverage for the futures
// universe.
func (s *Server) handleFuturesAssets(w http.ResponseWriter, r *http.Request) {
	metrics := []domain.Metric{
		domain.MetricFundingRate,
		domain.MetricMarkKlines,
		domain.MetricIndexKlines,
		domain.MetricOpenInterest,
	}

	out := make([]map[string]any, 0, len(s.cfg.TrackedFuturesAssets))
	for _, asset := range s.cfg.TrackedFuturesAssets {
		byMetric := make(map[string]futuresMetricStatus, len(metrics))
		for _, metric := range metrics {
			count, err := s.futures.Count(asset, metric)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			earliest, err := s.futures.EarliestTimestamp(asset, metric)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			latest, err := s.futures.LatestTimestamp(asset, metric)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			byMetric[string(metric)] = futuresMetricStatus{
				Count:             count,
				EarliestTimestamp: timeString(earliest),
				LatestTimestamp:   timeString(latest),
			}
		}
		out = append(out, map[string]any{"asset": asset, "metrics": byMetric})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"assets": out, "count": len(out)})
}

func (s *Server) futuresAsset(w http.ResponseWriter, r *http.Request) (string, bool) {
	asset := strings.ToUpper(chi.URLParam(r, "asset"))
	if !s.cfg.IsTrackedFuturesAsset(asset) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf(
			"Asset '%s' not found. Tracked futures assets: %s", asset, strings.Join(s.cfg.TrackedFuturesAssets, ", ")))
		return "", false
	}
	return asset, true
}

type fundingRow struct {
	Timestamp   string   `json:"timestamp"`
	FundingRate float64  `json:"funding_rate"`
	MarkPrice   *float64 `json:"mark_price"`
}

func (s *Server) handleFundingRates(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.futuresAsset(w, r)
	if !ok {
		return
	}
	start, end, ok := s.parseRange(w, r)
	if !ok {
		return
	}
	limit, ok := s.parseLimit(w, r, 1000, 10000)
	if !ok {
		return
	}

	rates, err := s.futures.GetFundingRates(asset, start, end, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if len(rates) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("No funding rate data found for %s", asset))
		return
	}

	rows := make([]fundingRow, 0, len(rates))
	for _, rate := range rates {
		rows = append(rows, fundingRow{
			Timestamp:   rate.Timestamp.UTC().Format(time.RFC3339),
			FundingRate: rate.Rate,
			MarkPrice:   rate.MarkPrice,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"asset":    asset,
		"interval": fmt.Sprintf("%dh", s.cfg.FuturesFundingIntervalHours),
		"data":     rows,
		"count":    len(rows),
	})
}

type klineRow struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
}

func (s *Server) handleMarkPrice(w http.ResponseWriter, r *http.Request) {
	s.serveKlines(w, r, domain.MetricMarkKlines, "mark price")
}

func (s *Server) handleIndexPrice(w http.ResponseWriter, r *http.Request) {
	s.serveKlines(w, r, domain.MetricIndexKlines, "index price")
}

func (s *Server) serveKlines(w http.ResponseWriter, r *http.Request, metric domain.Metric, label string) {
	asset, ok := s.futuresAsset(w, r)
	if !ok {
		return
	}
	start, end, ok := s.parseRange(w, r)
	if !ok {
		return
	}
	limit, ok := s.parseLimit(w, r, 1000, 10000)
	if !ok {
		return
	}

	klines, err := s.futures.GetKlines(asset, metric, start, end, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if len(klines) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("No %s data found for %s", label, asset))
		return
	}

	rows := make([]klineRow, 0, len(klines))
	for _, k := range klines {
		rows = append(rows, klineRow{
			Timestamp: k.Timestamp.UTC().Format(time.RFC3339),
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"asset":    asset,
		"interval": s.cfg.FuturesKlinesInterval,
		"data":     rows,
		"count":    len(rows),
	})
}

type openInterestRow struct {
	Timestamp    string  `json:"timestamp"`
	OpenInterest float64 `json:"open_interest"`
}

func (s *Server) handleOpenInterest(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.futuresAsset(w, r)
	if !ok {
		return
	}
	start, end, ok := s.parseRange(w, r)
	if !ok {
		return
	}
	limit, ok := s.parseLimit(w, r, 1000, 10000)
	if !ok {
		return
	}

	points, err := s.futures.GetOpenInterest(asset, start, end, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if len(points) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("No open interest data found for %s", asset))
		return
	}

	rows := make([]openInterestRow, 0, len(points))
	for _, p := range points {
		rows = append(rows, openInterestRow{
			Timestamp:    p.Timestamp.UTC().Format(time.RFC3339),
			OpenInterest: p.Value,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"asset": asset,
		"data":  rows,
		"count": len(rows),
	})
}

type lendingAssetStatus struct {
	Asset             string  `json:"asset"`
	EarliestTimestamp *string `json:"earliest_timestamp"`
	LatestTimestamp   *string `json:"latest_timestamp"`
	TotalEvents       int     `json:"total_events"`
	BackfillCompleted bool    `json:"backfill_completed"`
}

// handleLendingAssets lists the tracked lending reserves with coverage.
func (s *Server) handleLendingAssets(w http.ResponseWriter, r *http.Request) {
	out := make([]lendingAssetStatus, 0, len(s.cfg.TrackedLendingAssets))
	for _, asset := range s.cfg.TrackedLendingAssets {
		earliest, err := s.lending.EarliestTimestamp(asset)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		latest, err := s.lending.LatestTimestamp(asset)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		count, err := s.lending.Count(asset)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		completed, err := s.backfill.IsCompleted(asset, domain.MetricLending)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		out = append(out, lendingAssetStatus{
			Asset:             asset,
			EarliestTimestamp: timeString(earliest),
			LatestTimestamp:   timeString(latest),
			TotalEvents:       count,
			BackfillCompleted: completed,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"assets": out, "count": len(out)})
}

type lendingRow struct {
	Timestamp                string  `json:"timestamp"`
	ReserveAddress           string  `json:"reserve_address"`
	SupplyRateRay            string  `json:"supply_rate_ray"`
	SupplyAPYPercent         float64 `json:"supply_apy_percent"`
	VariableBorrowRateRay    string  `json:"variable_borrow_rate_ray"`
	VariableBorrowAPYPercent float64 `json:"variable_borrow_apy_percent"`
	StableBorrowRateRay      string  `json:"stable_borrow_rate_ray"`
	StableBorrowAPYPercent   float64 `json:"stable_borrow_apy_percent"`
	LiquidityIndex           string  `json:"liquidity_index"`
	VariableBorrowIndex      string  `json:"variable_borrow_index"`
}

// handleLendingHistory serves reserve snapshots with both RAY strings
// and derived APY percentages. Rows with unparseable rates are skipped;
// all rows failing is a server error.
func (s *Server) handleLendingHistory(w http.ResponseWriter, r *http.Request) {
	requested := chi.URLParam(r, "asset")
	asset, tracked := s.cfg.ResolveLendingAsset(requested)
	if !tracked {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf(
			"Asset '%s' not found. Tracked lending assets: %s",
			strings.ToUpper(requested), strings.Join(s.cfg.TrackedLendingAssets, ", ")))
		return
	}

	start, end, ok := s.parseRange(w, r)
	if !ok {
		return
	}
	limit, ok := s.parseLimit(w, r, 100, 1000)
	if !ok {
		return
	}

	snapshots, err := s.lending.GetSnapshots(asset, start, end, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if len(snapshots) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("No lending data found for %s", asset))
		return
	}

	rows := make([]lendingRow, 0, len(snapshots))
	for _, snap := range snapshots {
		supplyAPY, okS := stats.RayStringToAPY(snap.SupplyRateRay)
		variableAPY, okV := stats.RayStringToAPY(snap.VariableBorrowRateRay)
		stableAPY, okB := stats.RayStringToAPY(snap.StableBorrowRateRay)
		if !okS || !okV || !okB {
			continue
		}
		rows = append(rows, lendingRow{
			Timestamp:                snap.Timestamp.UTC().Format(time.RFC3339),
			ReserveAddress:           snap.ReserveAddress,
			SupplyRateRay:            snap.SupplyRateRay,
			SupplyAPYPercent:         supplyAPY,
			VariableBorrowRateRay:    snap.VariableBorrowRateRay,
			VariableBorrowAPYPercent: variableAPY,
			StableBorrowRateRay:      snap.StableBorrowRateRay,
			StableBorrowAPYPercent:   stableAPY,
			LiquidityIndex:           snap.LiquidityIndex,
			VariableBorrowIndex:      snap.VariableBorrowIndex,
		})
	}
	if len(rows) == 0 {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to convert lending data for %s", asset))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"asset": asset,
		"data":  rows,
		"count": len(rows),
	})
}

// parseRange reads optional start/end query timestamps. A false return
// means the error response has been written.
func (s *Server) parseRange(w http.ResponseWriter, r *http.Request) (*time.Time, *time.Time, bool) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	return start, end, true
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	return parseTimeString(r.URL.Query().Get(name), name)
}

func parseTimeString(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("Invalid %s timestamp: %s", name, raw)
}

func (s *Server) parseLimit(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > max {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", max))
		return 0, false
	}
	return limit, true
}

func timeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
