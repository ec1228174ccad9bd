// Package dune fetches pre-aggregated Aave v2 reserve snapshots from a
// Dune Analytics query. The query returns daily averages of rates and
// indices per reserve; rates arrive as decimals and are converted to
// RAY (10^27 fixed point) strings before storage.
package dune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskwatch/riskwatch/internal/domain"
)

const (
	defaultBaseURL = "https://api.dune.com"

	// Free tier allows roughly one request per minute.
	defaultMinRequestInterval = 65 * time.Second

	maxAttempts         = 3
	defaultPollInterval = 5 * time.Second
)

// Config holds client configuration
type Config struct {
	APIKey             string
	QueryID            int
	BaseURL            string
	MinRequestInterval time.Duration
	Timeout            time.Duration
	PollTimeout        time.Duration
	PollInterval       time.Duration
	RetryBackoffBase   time.Duration
}

// Client executes the lending query and returns parsed reserve rows.
type Client struct {
	apiKey       string
	queryID      int
	baseURL      string
	client       *http.Client
	pollTimeout  time.Duration
	pollInterval time.Duration
	backoffBase  time.Duration
	log          zerolog.Logger

	mu          sync.Mutex
	nextRequest time.Time
	interval    time.Duration
}

// New creates a new Dune client
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MinRequestInterval == 0 {
		cfg.MinRequestInterval = defaultMinRequestInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 10 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetryBackoffBase == 0 {
		cfg.RetryBackoffBase = 5 * time.Second
	}

	return &Client{
		apiKey:       cfg.APIKey,
		queryID:      cfg.QueryID,
		baseURL:      cfg.BaseURL,
		client:       &http.Client{Timeout: cfg.Timeout},
		pollTimeout:  cfg.PollTimeout,
		pollInterval: cfg.PollInterval,
		backoffBase:  cfg.RetryBackoffBase,
		interval:     cfg.MinRequestInterval,
		log:          log.With().Str("component", "dune_client").Logger(),
	}
}

// LendingRow is one reserve snapshot as returned by the query. Rates
// and indices are already converted to RAY strings.
type LendingRow struct {
	Asset    string
	Snapshot domain.LendingSnapshot
}

// FetchLendingRows executes the lending query and returns all rows for
// all reserves. Up to three attempts with exponential backoff; the
// whole execute/poll/results cycle counts as one attempt.
func (c *Client) FetchLendingRows(ctx context.Context) ([]LendingRow, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rows, err := c.runQuery(ctx)
		if err == nil {
			return rows, nil
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}
		backoff := c.backoffBase * time.Duration(1<<attempt)
		c.log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Dune query failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
	return nil, fmt.Errorf("dune query %d failed after %d attempts: %w", c.queryID, maxAttempts, lastErr)
}

func (c *Client) runQuery(ctx context.Context) ([]LendingRow, error) {
	executionID, err := c.execute(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.waitForCompletion(ctx, executionID); err != nil {
		return nil, err
	}

	return c.results(ctx, executionID)
}

func (c *Client) execute(ctx context.Context) (string, error) {
	var resp struct {
		ExecutionID string `json:"execution_id"`
	}
	path := fmt.Sprintf("/api/v1/query/%d/execute", c.queryID)
	if err := c.do(ctx, http.MethodPost, path, &resp); err != nil {
		return "", fmt.Errorf("execute query %d: %w", c.queryID, err)
	}
	if resp.ExecutionID == "" {
		return "", domain.PermanentProvider(fmt.Errorf("execute query %d: empty execution id", c.queryID))
	}
	return resp.ExecutionID, nil
}

func (c *Client) waitForCompletion(ctx context.Context, executionID string) error {
	deadline := time.Now().Add(c.pollTimeout)

	for {
		var status struct {
			State string `json:"state"`
		}
		path := fmt.Sprintf("/api/v1/execution/%s/status", executionID)
		if err := c.do(ctx, http.MethodGet, path, &status); err != nil {
			return fmt.Errorf("poll execution %s: %w", executionID, err)
		}

		switch status.State {
		case "QUERY_STATE_COMPLETED":
			return nil
		case "QUERY_STATE_FAILED", "QUERY_STATE_CANCELLED", "QUERY_STATE_EXPIRED":
			return domain.PermanentProvider(fmt.Errorf("execution %s ended in state %s", executionID, status.State))
		}

		if time.Now().After(deadline) {
			return domain.TransientProvider(fmt.Errorf("execution %s did not complete within %s", executionID, c.pollTimeout))
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

func (c *Client) results(ctx context.Context, executionID string) ([]LendingRow, error) {
	var resp struct {
		Result struct {
			Rows []rawLendingRow `json:"rows"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/api/v1/execution/%s/results", executionID)
	if err := c.do(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, fmt.Errorf("fetch results for %s: %w", executionID, err)
	}

	rows := make([]LendingRow, 0, len(resp.Result.Rows))
	for _, raw := range resp.Result.Rows {
		row, err := raw.toLendingRow()
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", raw.Symbol).Msg("Skipping malformed lending row")
			continue
		}
		rows = append(rows, row)
	}

	c.log.Info().
		Int("rows", len(rows)).
		Int("query_id", c.queryID).
		Msg("Fetched lending rows")
	return rows, nil
}

// do performs one API round trip with the free-tier request spacing.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	if err := c.waitTurn(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return domain.PermanentProvider(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("X-Dune-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.TransientProvider(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.TransientProvider(fmt.Errorf("failed to read response body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(body, out); err != nil {
			return domain.PermanentProvider(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.TransientProvider(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	default:
		return domain.PermanentProvider(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	}
}

// waitTurn blocks until the spacing window since the previous request
// has elapsed. Poll requests count against the budget too.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	wait := c.nextRequest.Sub(now)
	if wait < 0 {
		wait = 0
		c.nextRequest = now
	}
	c.nextRequest = c.nextRequest.Add(c.interval)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	c.log.Debug().Dur("wait", wait).Msg("Rate limiting Dune request")
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rawLendingRow mirrors the query's column names.
type rawLendingRow struct {
	DT                     string      `json:"dt"`
	Symbol                 string      `json:"symbol"`
	Reserve                string      `json:"reserve"`
	AvgSupplyRate          json.Number `json:"avg_supplyRate"`
	AvgVariableBorrowRate  json.Number `json:"avg_variableBorrowRate"`
	AvgStableBorrowRate    json.Number `json:"avg_stableBorrowRate"`
	AvgLiquidityIndex      json.Number `json:"avg_liquidityIndex"`
	AvgVariableBorrowIndex json.Number `json:"avg_variableBorrowIndex"`
}

func (r rawLendingRow) toLendingRow() (LendingRow, error) {
	ts, err := parseDuneTime(r.DT)
	if err != nil {
		return LendingRow{}, fmt.Errorf("invalid dt %q: %w", r.DT, err)
	}

	snapshot := domain.LendingSnapshot{
		Timestamp:      ts,
		ReserveAddress: r.Reserve,
	}
	for _, field := range []struct {
		name  string
		value json.Number
		dst   *string
	}{
		{"avg_supplyRate", r.AvgSupplyRate, &snapshot.SupplyRateRay},
		{"avg_variableBorrowRate", r.AvgVariableBorrowRate, &snapshot.VariableBorrowRateRay},
		{"avg_stableBorrowRate", r.AvgStableBorrowRate, &snapshot.StableBorrowRateRay},
		{"avg_liquidityIndex", r.AvgLiquidityIndex, &snapshot.LiquidityIndex},
		{"avg_variableBorrowIndex", r.AvgVariableBorrowIndex, &snapshot.VariableBorrowIndex},
	} {
		ray, err := decimalToRay(field.value.String())
		if err != nil {
			return LendingRow{}, fmt.Errorf("invalid %s %q: %w", field.name, field.value, err)
		}
		*field.dst = ray
	}

	return LendingRow{Asset: r.Symbol, Snapshot: snapshot}, nil
}

// parseDuneTime accepts the timestamp formats the API emits.
func parseDuneTime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05.000 MST",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

// decimalToRay scales a decimal string by 10^27 and returns the integer
// RAY representation. big.Float keeps the 27-digit scale exact where
// float64 would not.
func decimalToRay(s string) (string, error) {
	f, ok := new(big.Float).SetPrec(256).SetString(s)
	if !ok {
		return "", fmt.Errorf("not a decimal number")
	}
	scale := new(big.Float).SetPrec(256).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil))
	f.Mul(f, scale)

	i, _ := f.Int(nil)
	return i.String(), nil
}

func truncate(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
