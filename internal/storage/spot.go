// Package storage provides the repositories over the SQLite store:
// batch upserts, time-bounded range reads, coverage queries, gap
// detection, and the per-(asset, metric) backfill-state ledger.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskwatch/riskwatch/internal/database"
	"github.com/riskwatch/riskwatch/internal/domain"
)

// SpotRepository manages spot OHLCV rows.
type SpotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSpotRepository creates a new spot repository
func NewSpotRepository(db *sql.DB, log zerolog.Logger) *SpotRepository {
	return &SpotRepository{
		db:  db,
		log: log.With().Str("repository", "spot").Logger(),
	}
}

// UpsertCandles inserts or replaces candles in one transaction.
// Idempotent on (asset, timestamp).
func (r *SpotRepository) UpsertCandles(asset string, candles []domain.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO spot_ohlcv (asset, timestamp, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(asset, timestamp) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, c := range candles {
			if _, err := stmt.Exec(asset, c.Timestamp.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
				return fmt.Errorf("failed to upsert candle at %s: %w", c.Timestamp, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, domain.StorageErr(err)
	}

	r.log.Debug().Str("asset", asset).Int("count", len(candles)).Msg("Upserted candles")
	return len(candles), nil
}

// GetCandles returns candles in ascending time order. Start and end are
// inclusive; zero limit means no limit.
func (r *SpotRepository) GetCandles(asset string, start, end *time.Time, limit int) ([]domain.Candle, error) {
	query := `SELECT timestamp, open, high, low, close, volume FROM spot_ohlcv WHERE asset = ?`
	args := []any{asset}

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

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.StorageErr(fmt.Errorf("failed to query candles: %w", err))
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var ms int64
		if err := rows.Scan(&ms, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, domain.StorageErr(fmt.Errorf("failed to scan candle: %w", err))
		}
		c.Timestamp = time.UnixMilli(ms).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LatestTimestamp returns the most recent candle timestamp, or nil when
// no rows exist.
func (r *SpotRepository) LatestTimestamp(asset string) (*time.Time, error) {
	return queryBoundaryTimestamp(r.db, `SELECT MAX(timestamp) FROM spot_ohlcv WHERE asset = ?`, asset)
}

// EarliestTimestamp returns the oldest candle timestamp, or nil.
func (r *SpotRepository) EarliestTimestamp(asset string) (*time.Time, error) {
	return queryBoundaryTimestamp(r.db, `SELECT MIN(timestamp) FROM spot_ohlcv WHERE asset = ?`, asset)
}

// Count returns the number of stored candles for the asset.
func (r *SpotRepository) Count(asset string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM spot_ohlcv WHERE asset = ?`, asset).Scan(&count)
	if err != nil {
		return 0, domain.StorageErr(fmt.Errorf("failed to count candles: %w", err))
	}
	return count, nil
}

// DetectGaps returns ranges of missing grid points between the earliest
// and latest stored timestamps at the given cadence.
func (r *SpotRepository) DetectGaps(asset string, interval time.Duration) ([]domain.Gap, error) {
	return detectGaps(r.db, "spot_ohlcv", asset, interval)
}

// queryBoundaryTimestamp runs a MAX/MIN timestamp query, mapping NULL
// to nil.
func queryBoundaryTimestamp(db *sql.DB, query, asset string) (*time.Time, error) {
	var ms sql.NullInt64
	if err := db.QueryRow(query, asset).Scan(&ms); err != nil {
		return nil, domain.StorageErr(fmt.Errorf("failed to query boundary timestamp: %w", err))
	}
	if !ms.Valid {
		return nil, nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t, nil
}
