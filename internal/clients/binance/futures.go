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

// FetchFundingRates returns settled funding rates for [start, end],
// paginated at 1000 rows. The cursor advances to the last funding time
// plus one millisecond.
func (c *Client) FetchFundingRates(ctx context.Context, symbol string, start, end time.Time) ([]domain.FundingRate, error) {
	type fundingRow struct {
		FundingTime int64  `json:"fundingTime"`
		FundingRate string `json:"fundingRate"`
		MarkPrice   string `json:"markPrice"`
	}

	var rates []domain.FundingRate
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor <= endMs {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		params.Set("endTime", strconv.FormatInt(endMs, 10))
		params.Set("limit", strconv.Itoa(fundingPageSize))

		body, err := c.get(ctx, c.futuresBaseURL, "/fapi/v1/fundingRate", params)
		if err != nil {
			return nil, fmt.Errorf("funding rates fetch for %s: %w", symbol, err)
		}

		var rows []fundingRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, domain.PermanentProvider(fmt.Errorf("funding rates parse for %s: %w", symbol, err))
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			rate, err := strconv.ParseFloat(row.FundingRate, 64)
			if err != nil {
				return nil, domain.PermanentProvider(fmt.Errorf("invalid funding rate %q: %w", row.FundingRate, err))
			}
			fr := domain.FundingRate{
				Timestamp: time.UnixMilli(row.FundingTime).UTC(),
				Rate:      rate,
			}
			// markPrice is absent on older records.
			if row.MarkPrice != "" {
				if mark, err := strconv.ParseFloat(row.MarkPrice, 64); err == nil {
					fr.MarkPrice = &mark
				}
			}
			rates = append(rates, fr)
		}
		cursor = rows[len(rows)-1].FundingTime + 1

		if len(rows) < fundingPageSize {
			break
		}
	}

	c.log.Debug().
		Str("symbol", symbol).
		Int("count", len(rates)).
		Msg("Fetched funding rates")
	return rates, nil
}

// FetchMarkKlines returns mark-price klines for [start, end],
// paginated at 1500 rows.
func (c *Client) FetchMarkKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Kline, error) {
	return c.fetchFuturesKlines(ctx, "/fapi/v1/markPriceKlines", "symbol", symbol, interval, start, end)
}

// FetchIndexKlines returns index-price klines for [start, end]. The
// index endpoint keys on the pair rather than the symbol; for USDT
// perpetuals the two strings are identical.
func (c *Client) FetchIndexKlines(ctx context.Context, pair, interval string, start, end time.Time) ([]domain.Kline, error) {
	return c.fetchFuturesKlines(ctx, "/fapi/v1/indexPriceKlines", "pair", pair, interval, start, end)
}

func (c *Client) fetchFuturesKlines(ctx context.Context, path, symbolParam, symbol, interval string, start, end time.Time) ([]domain.Kline, error) {
	var klines []domain.Kline
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor <= endMs {
		params := url.Values{}
		params.Set(symbolParam, symbol)
		params.Set("interval", interval)
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		params.Set("endTime", strconv.FormatInt(endMs, 10))
		params.Set("limit", strconv.Itoa(markKlinesPageSize))

		body, err := c.get(ctx, c.futuresBaseURL, path, params)
		if err != nil {
			return nil, fmt.Errorf("%s fetch for %s: %w", path, symbol, err)
		}

		page, closeTimes, err := parseKlines(body, false)
		if err != nil {
			return nil, domain.PermanentProvider(fmt.Errorf("%s parse for %s: %w", path, symbol, err))
		}
		if len(page) == 0 {
			break
		}

		for _, k := range page {
			klines = append(klines, domain.Kline{
				Timestamp: k.Timestamp,
				Open:      k.Open,
				High:      k.High,
				Low:       k.Low,
				Close:     k.Close,
			})
		}
		cursor = closeTimes[len(closeTimes)-1] + 1

		if len(page) < markKlinesPageSize {
			break
		}
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("path", path).
		Int("count", len(klines)).
		Msg("Fetched futures klines")
	return klines, nil
}

// FetchOpenInterest returns historical open interest for [start, end],
// paginated at 500 rows. The provider only retains roughly 30 days of
// history for this endpoint.
func (c *Client) FetchOpenInterest(ctx context.Context, symbol, period string, start, end time.Time) ([]domain.OpenInterest, error) {
	type oiRow struct {
		Timestamp       int64  `json:"timestamp"`
		SumOpenInterest string `json:"sumOpenInterest"`
	}

	var records []domain.OpenInterest
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor <= endMs {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("period", period)
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		params.Set("endTime", strconv.FormatInt(endMs, 10))
		params.Set("limit", strconv.Itoa(openInterestPageSize))

		body, err := c.get(ctx, c.futuresBaseURL, "/futures/data/openInterestHist", params)
		if err != nil {
			return nil, fmt.Errorf("open interest fetch for %s: %w", symbol, err)
		}

		var rows []oiRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, domain.PermanentProvider(fmt.Errorf("open interest parse for %s: %w", symbol, err))
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			value, err := strconv.ParseFloat(row.SumOpenInterest, 64)
			if err != nil {
				return nil, domain.PermanentProvider(fmt.Errorf("invalid open interest %q: %w", row.SumOpenInterest, err))
			}
			records = append(records, domain.OpenInterest{
				Timestamp: time.UnixMilli(row.Timestamp).UTC(),
				Value:     value,
			})
		}
		cursor = rows[len(rows)-1].Timestamp + 1

		if len(rows) < openInterestPageSize {
			break
		}
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("period", period).
		Int("count", len(records)).
		Msg("Fetched open interest")
	return records, nil
}
