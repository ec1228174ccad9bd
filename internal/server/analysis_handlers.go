package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/riskwatch/riskwatch/internal/analysis/risk"
	"github.com/riskwatch/riskwatch/internal/ingest"
)

// handleRiskProfile computes the full portfolio risk profile.
func (s *Server) handleRiskProfile(w http.ResponseWriter, r *http.Request) {
	var req risk.ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	profile, err := s.risk.Profile(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

type fetchTriggerRequest struct {
	Assets    []string `json:"assets"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
}

// handleFetchTrigger queues a background fetch and returns the job id
// immediately. An empty asset list means the full universe; with no
// date range the job catches up from the last stored point, otherwise
// it fetches exactly the requested window.
func (s *Server) handleFetchTrigger(w http.ResponseWriter, r *http.Request) {
	var req fetchTriggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	assets := make([]string, 0, len(req.Assets))
	var invalid []string
	for _, raw := range req.Assets {
		asset := strings.ToUpper(strings.TrimSpace(raw))
		if asset == "" {
			continue
		}
		if !s.cfg.IsTrackedAsset(asset) && !s.cfg.IsTrackedFuturesAsset(asset) {
			invalid = append(invalid, asset)
			continue
		}
		assets = append(assets, asset)
	}
	if len(invalid) > 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid assets: %s", strings.Join(invalid, ", ")))
		return
	}

	start, end, ok := s.parseTriggerWindow(w, req)
	if !ok {
		return
	}

	count := len(assets)
	if count == 0 {
		count = len(s.cfg.TrackedAssets)
	}
	var jobID string
	switch {
	case start != nil:
		fetchAssets := assets
		windowStart, windowEnd := *start, *end
		jobID = s.jobs.Start(context.Background(), func(ctx context.Context) (ingest.Summary, error) {
			return s.ingest.FetchRange(ctx, fetchAssets, windowStart, windowEnd), nil
		})
	case len(assets) == 0:
		// Full run covers spot, futures and lending universes.
		jobID = s.jobs.Start(context.Background(), func(ctx context.Context) (ingest.Summary, error) {
			return s.ingest.FetchLatestAll(ctx), nil
		})
	default:
		fetchAssets := assets
		jobID = s.jobs.Start(context.Background(), func(ctx context.Context) (ingest.Summary, error) {
			return s.ingest.FetchLatestAssets(ctx, fetchAssets), nil
		})
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  jobID,
		"message": fmt.Sprintf("Fetch job queued for %d asset(s)", count),
		"assets":  assets,
	})
}

// parseTriggerWindow resolves the optional trigger date range. A nil
// start with true means no window was requested; end defaults to now
// when only a start is given. A false return means the error response
// has been written.
func (s *Server) parseTriggerWindow(w http.ResponseWriter, req fetchTriggerRequest) (*time.Time, *time.Time, bool) {
	start, err := parseTimeString(req.StartDate, "start_date")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	end, err := parseTimeString(req.EndDate, "end_date")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}

	if start == nil {
		if end != nil {
			s.writeError(w, http.StatusBadRequest, "start_date is required when end_date is provided")
			return nil, nil, false
		}
		return nil, nil, true
	}
	if end == nil {
		now := time.Now().UTC()
		end = &now
	}
	if !end.After(*start) {
		s.writeError(w, http.StatusBadRequest, "End date must be after start date")
		return nil, nil, false
	}
	return start, end, true
}

// handleFetchStatus reports the state of a triggered fetch job.
func (s *Server) handleFetchStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.jobs.Get(jobID)
	if job == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Job '%s' not found", jobID))
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}
