package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/riskwatch/riskwatch/internal/domain"
)

// rawKline is the provider's positional kline array:
// [openTime, open, high, low, close, volume, closeTime, ...].
type rawKline []json.RawMessage

// FetchSpotKlines returns spot candles for [start, end], paginated at
// 1000 rows per page. The cursor advances to the last candle's close
// time plus one millisecond.
func (c *Client) FetchSpotKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Candle, error) {
	var candles []domain.Candle
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor <= endMs {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("interval", interval)
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		params.Set("endTime", strconv.FormatInt(endMs, 10))
		params.Set("limit", strconv.Itoa(spotKlinesPageSize))

		body, err := c.get(ctx, c.spotBaseURL, "/api/v3/klines", params)
		if err != nil {
			return nil, fmt.Errorf("spot klines fetch for %s: %w", symbol, err)
		}

		page, closeTimes, err := parseKlines(body, true)
		if err != nil {
			return nil, domain.PermanentProvider(fmt.Errorf("spot klines parse for %s: %w", symbol, err))
		}
		if len(page) == 0 {
			break
		}

		for _, k := range page {
			candles = append(candles, domain.Candle{
				Timestamp: k.Timestamp,
				Open:      k.Open,
				High:      k.High,
				Low:       k.Low,
				Close:     k.Close,
				Volume:    k.volume,
			})
		}
		cursor = closeTimes[len(closeTimes)-1] + 1

		if len(page) < spotKlinesPageSize {
			break
		}
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("interval", interval).
		Int("count", len(candles)).
		Msg("Fetched spot klines")
	return dedupCandles(candles), nil
}

// parsedKline is an internal normalized kline with optional volume.
type parsedKline struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	volume    float64
}

// parseKlines normalizes a kline page. When withVolume is false the
// volume column is ignored (mark/index klines carry no usable volume).
func parseKlines(body []byte, withVolume bool) ([]parsedKline, []int64, error) {
	var raw []rawKline
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("unexpected kline payload: %w", err)
	}

	klines := make([]parsedKline, 0, len(raw))
	closeTimes := make([]int64, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			return nil, nil, fmt.Errorf("kline row has %d fields, want at least 7", len(row))
		}

		var openTime, closeTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, nil, fmt.Errorf("invalid open time: %w", err)
		}
		if err := json.Unmarshal(row[6], &closeTime); err != nil {
			return nil, nil, fmt.Errorf("invalid close time: %w", err)
		}

		k := parsedKline{Timestamp: time.UnixMilli(openTime).UTC()}
		var err error
		if k.Open, err = parseDecimalField(row[1]); err != nil {
			return nil, nil, fmt.Errorf("invalid open: %w", err)
		}
		if k.High, err = parseDecimalField(row[2]); err != nil {
			return nil, nil, fmt.Errorf("invalid high: %w", err)
		}
		if k.Low, err = parseDecimalField(row[3]); err != nil {
			return nil, nil, fmt.Errorf("invalid low: %w", err)
		}
		if k.Close, err = parseDecimalField(row[4]); err != nil {
			return nil, nil, fmt.Errorf("invalid close: %w", err)
		}
		if withVolume {
			if k.volume, err = parseDecimalField(row[5]); err != nil {
				return nil, nil, fmt.Errorf("invalid volume: %w", err)
			}
		}

		klines = append(klines, k)
		closeTimes = append(closeTimes, closeTime)
	}
	return klines, closeTimes, nil
}

// parseDecimalField parses a JSON string-encoded decimal ("50123.45").
func parseDecimalField(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

// dedupCandles drops duplicate timestamps, keeping the last occurrence.
// Pages can overlap when the provider rounds window boundaries.
func dedupCandles(candles []domain.Candle) []domain.Candle {
	if len(candles) < 2 {
		return candles
	}
	out := candles[:0]
	for i, c := range candles {
		if i > 0 && c.Timestamp.Equal(out[len(out)-1].Timestamp) {
			out[len(out)-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}
