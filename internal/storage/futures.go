package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskwatch/riskwatch/internal/database"
	"github.com/riskwatch/riskwatch/internal/domain"
)

// FuturesRepository manages the four futures metric tables: funding
// rates, mark-price klines, index-price klines, and open interest.
type FuturesRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewFuturesRepository creates a new futures repository
func NewFuturesRepository(db *sql.DB, log zerolog.Logger) *FuturesRepository {
	return &FuturesRepository{
		db:  db,
		log: log.With().Str("repository", "futures").Logger(),
	}
}

// metricTable maps a futures metric to its table name.
func metricTable(metric domain.Metric) (string, error) {
	switch metric {
	case domain.MetricFundingRate:
		return "futures_funding_rates", nil
	case domain.MetricMarkKlines:
		return "futures_mark_price_klines", nil
	case domain.MetricIndexKlines:
		return "futures_index_price_klines", nil
	case domain.MetricOpenInterest:
		return "futures_open_interest", nil
	default:
		return "", fmt.Errorf("unknown futures metric: %s", metric)
	}
}

// UpsertFundingRates inserts or replaces funding rows in one transaction.
func (r *FuturesRepository) UpsertFundingRates(asset string, rates []domain.FundingRate) (int, error) {
	if len(rates) == 0 {
		return 0, nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO futures_funding_rates (asset, timestamp, funding_rate, mark_price)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(asset, timestamp) DO UPDATE SET
				funding_rate = excluded.funding_rate,
				mark_price = excluded.mark_price
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare funding upsert: %w", err)
		}
		defer stmt.Close()

		for _, rate := range rates {
			var markPrice sql.NullFloat64
			if rate.MarkPrice != nil {
				markPrice = sql.NullFloat64{Float64: *rate.MarkPrice, Valid: true}
			}
			if _, err := stmt.Exec(asset, rate.Timestamp.UnixMilli(), rate.Rate, markPrice); err != nil {
				return fmt.Errorf("failed to upsert funding rate at %s: %w", rate.Timestamp, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, domain.StorageErr(err)
	}

	r.log.Debug().Str("asset", asset).Int("count", len(rates)).Msg("Upserted funding rates")
	return len(rates), nil
}

// UpsertKlines inserts or replaces mark or index klines in one transaction.
func (r *FuturesRepository) UpsertKlines(asset string, metric domain.Metric, klines []domain.Kline) (int, error) {
	if len(klines) == 0 {
		return 0, nil
	}
	table, err := metricTable(metric)
	if err != nil {
		return 0, err
	}
	if metric != domain.MetricMarkKlines && metric != domain.MetricIndexKlines {
		return 0, fmt.Errorf("metric %s does not store klines", metric)
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(fmt.Sprintf(`
			INSERT INTO %s (asset, timestamp, open, high, low, close)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(asset, timestamp) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close
		`, table))
		if err != nil {
			return fmt.Errorf("failed to prepare kline upsert: %w", err)
		}
		defer stmt.Close()

		for _, k := range klines {
			if _, err := stmt.Exec(asset, k.Timestamp.UnixMilli(), k.Open, k.High, k.Low, k.Close); err != nil {
				return fmt.Errorf("failed to upsert kline at %s: %w", k.Timestamp, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, domain.StorageErr(err)
	}

	r.log.Debug().Str("asset", asset).Str("metric", string(metric)).Int("count", len(klines)).Msg("Upserted klines")
	return len(klines), nil
}

// UpsertOpenInterest inserts or replaces open-interest rows in one transaction.
func (r *FuturesRepository) UpsertOpenInterest(asset string, points []domain.OpenInterest) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO futures_open_interest (asset, timestamp, open_interest)
			VALUES (?, ?, ?)
			ON CONFLICT(asset, timestamp) DO UPDATE SET
				open_interest = excluded.open_interest
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare open-interest upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			if _, err := stmt.Exec(asset, p.Timestamp.UnixMilli(), p.Value); err != nil {
				return fmt.Errorf("failed to upsert open interest at %s: %w", p.Timestamp, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, domain.StorageErr(err)
	}

	r.log.Debug().Str("asset", asset).Int("count", len(points)).Msg("Upserted open interest")
	return len(points), nil
}

// GetFundingRates returns funding rows in ascending time order.
func (r *FuturesRepository) GetFundingRates(asset string, start, end *time.Time, limit int) ([]domain.FundingRate, error) {
	query := `SELECT timestamp, funding_rate, mark_price FROM futures_funding_rates WHERE asset = ?`
	args := []any{asset}
	query, args = appendRangeClauses(query, args, start, end, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.StorageErr(fmt.Errorf("failed to query funding rates: %w", err))
	}
	defer rows.Close()

	var rates []domain.FundingRate
	for rows.Next() {
		var rate domain.FundingRate
		var ms int64
		var markPrice sql.NullFloat64
		if err := rows.Scan(&ms, &rate.Rate, &markPrice); err != nil {
			return nil, domain.StorageErr(fmt.Errorf("failed to scan funding rate: %w", err))
		}
		rate.Timestamp = time.UnixMilli(ms).UTC()
		if markPrice.Valid {
			mp := markPrice.Float64
			rate.MarkPrice = &mp
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// GetKlines returns mark or index klines in ascending time order.
func (r *FuturesRepository) GetKlines(asset string, metric domain.Metric, start, end *time.Time, limit int) ([]domain.Kline, error) {
	table, err := metricTable(metric)
	if err != nil {
		return nil, err
	}
	if metric != domain.MetricMarkKlines && metric != domain.MetricIndexKlines {
		return nil, fmt.Errorf("metric %s does not store klines", metric)
	}

	query := fmt.Sprintf(`SELECT timestamp, open, high, low, close FROM %s WHERE asset = ?`, table)
	args := []any{asset}
	query, args = appendRangeClauses(query, args, start, end, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.StorageErr(fmt.Errorf("failed to query klines: %w", err))
	}
	defer rows.Close()

	var klines []domain.Kline
	for rows.Next() {
		var k domain.Kline
		var ms int64
		if err := rows.Scan(&ms, &k.Open, &k.High, &k.Low, &k.Close); err != nil {
			return nil, domain.StorageErr(fmt.Errorf("failed to scan kline: %w", err))
		}
		k.Timestamp = time.UnixMilli(ms).UTC()
		klines = append(klines, k)
	}
	return klines, rows.Err()
}

// GetOpenInterest returns open-interest rows in ascending time order.
func (r *FuturesRepository) GetOpenInterest(asset string, start, end *time.Time, limit int) ([]domain.OpenInterest, error) {
	query := `SELECT timestamp, open_interest FROM futures_open_interest WHERE asset = ?`
	args := []any{asset}
	query, args = appendRangeClauses(query, args, start, end, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.StorageErr(fmt.Errorf("failed to query open interest: %w", err))
	}
	defer rows.Close()

	var points []domain.OpenInterest
	for rows.Next() {
		var p domain.OpenInterest
		var ms int64
		if err := rows.Scan(&ms, &p.Value); err != nil {
			return nil, domain.StorageErr(fmt.Errorf("failed to scan open interest: %w", err))
		}
		p.Timestamp = time.UnixMilli(ms).UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// LatestTimestamp returns the most recent timestamp for a futures metric.
func (r *FuturesRepository) LatestTimestamp(asset string, metric domain.Metric) (*time.Time, error) {
	table, err := metricTable(metric)
	if err != nil {
		return nil, err
	}
	return queryBoundaryTimestamp(r.db, fmt.Sprintf(`SELECT MAX(timestamp) FROM %s WHERE asset = ?`, table), asset)
}

// EarliestTimestamp returns the oldest timestamp for a futures metric.
func (r *FuturesRepository) EarliestTimestamp(asset string, metric domain.Metric) (*time.Time, error) {
	table, err := metricTable(metric)
	if err != nil {
		return nil, err
	}
	return queryBoundaryTimestamp(r.db, fmt.Sprintf(`SELECT MIN(timestamp) FROM %s WHERE asset = ?`, table), asset)
}

// Count returns the number of rows for a futures metric.
func (r *FuturesRepository) Count(asset string, metric domain.Metric) (int, error) {
	table, err := metricTable(metric)
	if err != nil {
		return 0, err
	}
	var count int
	err = r.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE asset = ?`, table), asset).Scan(&count)
	if err != nil {
		return 0, domain.StorageErr(fmt.Errorf("failed to count rows: %w", err))
	}
	return count, nil
}

// DetectGaps runs grid-based gap detection for a fixed-cadence futures
// metric. Open interest is retention-bounded and excluded.
func (r *FuturesRepository) DetectGaps(asset string, metric domain.Metric, interval time.Duration) ([]domain.Gap, error) {
	if metric == domain.MetricOpenInterest {
		return nil, fmt.Errorf("gap detection is not defined for open interest")
	}
	table, err := metricTable(metric)
	if err != nil {
		return nil, err
	}
	return detectGaps(r.db, table, asset, interval)
}

// appendRangeClauses adds optional start/end/limit clauses to a range query.
func appendRangeClauses(query string, args []any, start, end *time.Time, limit int) (string, []any) {
	if start != nil {
		query += ` AND timestamp >= ?`
		args = append(args, start.UnixMilli())
	}
	if end != nil {
		query += ` AND timestamp <= ?`
		args = append(args, end.UnixMilli())
	}
	query += ` ORDER BY timestamp ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return query, args
}
