package dune

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskwatch/riskwatch/internal/domain"
)

const testReserve = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		APIKey:             "test-key",
		QueryID:            3328916,
		BaseURL:            srv.URL,
		MinRequestInterval: time.Millisecond,
		PollTimeout:        2 * time.Second,
		PollInterval:       time.Millisecond,
		RetryBackoffBase:   time.Millisecond,
	}, zerolog.Nop())
}

func TestFetchLendingRows(t *testing.T) {
	var statusCalls atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("X-Dune-API-Key"))

		switch r.URL.Path {
		case "/api/v1/query/3328916/execute":
			require.Equal(t, http.MethodPost, r.Method)
			fmt.Fprint(w, `{"execution_id":"exec-1"}`)
		case "/api/v1/execution/exec-1/status":
			if statusCalls.Add(1) == 1 {
				fmt.Fprint(w, `{"state":"QUERY_STATE_EXECUTING"}`)
				return
			}
			fmt.Fprint(w, `{"state":"QUERY_STATE_COMPLETED"}`)
		case "/api/v1/execution/exec-1/results":
			fmt.Fprintf(w, `{"result":{"rows":[
				{"dt":"2024-01-01 00:00:00","symbol":"WETH","reserve":"%s",
				 "avg_supplyRate":0.015,"avg_variableBorrowRate":0.025,
				 "avg_stableBorrowRate":0.035,"avg_liquidityIndex":1.0001,
				 "avg_variableBorrowIndex":1.0002},
				{"dt":"not-a-date","symbol":"BAD","reserve":"%s",
				 "avg_supplyRate":0,"avg_variableBorrowRate":0,
				 "avg_stableBorrowRate":0,"avg_liquidityIndex":1,
				 "avg_variableBorrowIndex":1}
			]}}`, testReserve, testReserve)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	client := newTestClient(t, handler)
	rows, err := client.FetchLendingRows(context.Background())
	require.NoError(t, err)

	// The malformed row is skipped, not fatal.
	require.Len(t, rows, 1)
	assert.Equal(t, "WETH", rows[0].Asset)
	assert.Equal(t, testReserve, rows[0].Snapshot.ReserveAddress)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rows[0].Snapshot.Timestamp)
	assert.Equal(t, "15000000000000000000000000", rows[0].Snapshot.SupplyRateRay)
	assert.Equal(t, "1000100000000000000000000000", rows[0].Snapshot.LiquidityIndex)
	assert.GreaterOrEqual(t, statusCalls.Load(), int32(2))
}

func TestFetchLendingRowsFailsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
	})

	client := newTestClient(t, handler)
	_, err := client.FetchLendingRows(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProviderPermanent))
	// Retries still happen: the whole-cycle retry wraps all failures.
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchLendingRowsFailsOnQueryFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/query/3328916/execute":
			fmt.Fprint(w, `{"execution_id":"exec-2"}`)
		case "/api/v1/execution/exec-2/status":
			fmt.Fprint(w, `{"state":"QUERY_STATE_FAILED"}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	client := newTestClient(t, handler)
	_, err := client.FetchLendingRows(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUERY_STATE_FAILED")
}

func TestDecimalToRay(t *testing.T) {
	cases := map[string]string{
		"0":      "0",
		"1":      "1000000000000000000000000000",
		"0.015":  "15000000000000000000000000",
		"1.0001": "1000100000000000000000000000",
	}
	for in, want := range cases {
		got, err := decimalToRay(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %s", in)
	}

	_, err := decimalToRay("not-a-number")
	assert.Error(t, err)
}

func validSnapshot() domain.LendingSnapshot {
	return domain.LendingSnapshot{
		Timestamp:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ReserveAddress:        testReserve,
		SupplyRateRay:         "15000000000000000000000000",
		VariableBorrowRateRay: "25000000000000000000000000",
		StableBorrowRateRay:   "35000000000000000000000000",
		LiquidityIndex:        "1000100000000000000000000000",
		VariableBorrowIndex:   "1000200000000000000000000000",
	}
}

func TestValidateSnapshot(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, ValidateSnapshot(validSnapshot(), now))

	future := validSnapshot()
	future.Timestamp = now.Add(time.Hour)
	assert.ErrorIs(t, ValidateSnapshot(future, now), domain.ErrValidation)

	badReserve := validSnapshot()
	badReserve.ReserveAddress = "c02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	assert.ErrorIs(t, ValidateSnapshot(badReserve, now), domain.ErrValidation)

	// Rate above the 200% APR ceiling.
	hotRate := validSnapshot()
	hotRate.VariableBorrowRateRay = "2000000000000000000000000001"
	assert.ErrorIs(t, ValidateSnapshot(hotRate, now), domain.ErrValidation)

	// Index below 1.0 RAY.
	lowIndex := validSnapshot()
	lowIndex.LiquidityIndex = "999999999999999999999999999"
	assert.ErrorIs(t, ValidateSnapshot(lowIndex, now), domain.ErrValidation)

	garbage := validSnapshot()
	garbage.SupplyRateRay = "abc"
	assert.ErrorIs(t, ValidateSnapshot(garbage, now), domain.ErrValidation)
}
