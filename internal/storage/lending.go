package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskwatch/riskwatch/internal/database"
	"github.com/riskwatch/riskwatch/internal/domain"
)

// LendingRepository manages Aave reserve snapshot rows. RAY values stay
// TEXT end to end; only the analysis layer converts them to floats.
type LendingRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewLendingRepository creates a new lending repository
func NewLendingRepository(db *sql.DB, log zerolog.Logger) *LendingRepository {
	return &LendingRepository{
		db:  db,
		log: log.With().Str("repository", "lending").Logger(),
	}
}

// UpsertSnapshots inserts or replaces snapshots in one transaction.
func (r *LendingRepository) UpsertSnapshots(asset string, snapshots []domain.LendingSnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO lendings (
				asset, timestamp, reserve_address,
				supply_rate_ray, variable_borrow_rate_ray, stable_borrow_rate_ray,
				liquidity_index, variable_borrow_index
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(asset, timestamp) DO UPDATE SET
				reserve_address = excluded.reserve_address,
				supply_rate_ray = excluded.supply_rate_ray,
				variable_borrow_rate_ray = excluded.variable_borrow_rate_ray,
				stable_borrow_rate_ray = excluded.stable_borrow_rate_ray,
				liquidity_index = excluded.liquidity_index,
				variable_borrow_index = excluded.variable_borrow_index
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare lending upsert: %w", err)
		}
		defer stmt.Close()

		for _, s := range snapshots {
			if _, err := stmt.Exec(
				asset, s.Timestamp.UnixMilli(), s.ReserveAddress,
				s.SupplyRateRay, s.VariableBorrowRateRay, s.StableBorrowRateRay,
				s.LiquidityIndex, s.VariableBorrowIndex,
			); err != nil {
				return fmt.Errorf("failed to upsert snapshot at %s: %w", s.Timestamp, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, domain.StorageErr(err)
	}

	r.log.Debug().Str("asset", asset).Int("count", len(snapshots)).Msg("Upserted lending snapshots")
	return len(snapshots), nil
}

// GetSnapshots returns snapshots in ascending time order.
func (r *LendingRepository) GetSnapshots(asset string, start, end *time.Time, limit int) ([]domain.LendingSnapshot, error) {
	query := `
		SELECT timestamp, reserve_address,
			supply_rate_ray, variable_borrow_rate_ray, stable_borrow_rate_ray,
			liquidity_index, variable_borrow_index
		FROM lendings WHERE asset = ?`
	args := []any{asset}
	query, args = appendRangeClauses(query, args, start, end, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.StorageErr(fmt.Errorf("failed to query lending snapshots: %w", err))
	}
	defer rows.Close()

	var snapshots []domain.LendingSnapshot
	for rows.Next() {
		var s domain.LendingSnapshot
		var ms int64
		if err := rows.Scan(
			&ms, &s.ReserveAddress,
			&s.SupplyRateRay, &s.VariableBorrowRateRay, &s.StableBorrowRateRay,
			&s.LiquidityIndex, &s.VariableBorrowIndex,
		); err != nil {
			return nil, domain.StorageErr(fmt.Errorf("failed to scan lending snapshot: %w", err))
		}
		s.Timestamp = time.UnixMilli(ms).UTC()
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// LatestTimestamp returns the most recent snapshot timestamp, or nil.
func (r *LendingRepository) LatestTimestamp(asset string) (*time.Time, error) {
	return queryBoundaryTimestamp(r.db, `SELECT MAX(timestamp) FROM lendings WHERE asset = ?`, asset)
}

// EarliestTimestamp returns the oldest snapshot timestamp, or nil.
func (r *LendingRepository) EarliestTimestamp(asset string) (*time.Time, error) {
	return queryBoundaryTimestamp(r.db, `SELECT MIN(timestamp) FROM lendings WHERE asset = ?`, asset)
}

// Count returns the number of stored snapshots for the asset.
func (r *LendingRepository) Count(asset string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM lendings WHERE asset = ?`, asset).Scan(&count)
	if err != nil {
		return 0, domain.StorageErr(fmt.Errorf("failed to count lending snapshots: %w", err))
	}
	return count, nil
}
