package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskwatch/riskwatch/internal/domain"
)

// BackfillRepository manages the per-(asset, metric) backfill ledger.
type BackfillRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBackfillRepository creates a new backfill-state repository
func NewBackfillRepository(db *sql.DB, log zerolog.Logger) *BackfillRepository {
	return &BackfillRepository{
		db:  db,
		log: log.With().Str("repository", "backfill").Logger(),
	}
}

// Get returns the state row for (asset, metric), or nil when absent.
func (r *BackfillRepository) Get(asset string, metric domain.Metric) (*domain.BackfillState, error) {
	var state domain.BackfillState
	var completed int
	var lastFetched sql.NullInt64
	var updatedAt int64

	err := r.db.QueryRow(`
		SELECT asset, metric, completed, last_fetched_timestamp, updated_at
		FROM backfill_state WHERE asset = ? AND metric = ?
	`, asset, metric).Scan(&state.Asset, &state.Metric, &completed, &lastFetched, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageErr(fmt.Errorf("failed to query backfill state: %w", err))
	}

	state.Completed = completed != 0
	if lastFetched.Valid {
		t := time.UnixMilli(lastFetched.Int64).UTC()
		state.LastFetchedTimestamp = &t
	}
	state.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &state, nil
}

// Update upserts the state row for (asset, metric).
func (r *BackfillRepository) Update(asset string, metric domain.Metric, completed bool, lastFetched *time.Time) error {
	completedInt := 0
	if completed {
		completedInt = 1
	}
	var lastFetchedMs sql.NullInt64
	if lastFetched != nil {
		lastFetchedMs = sql.NullInt64{Int64: lastFetched.UnixMilli(), Valid: true}
	}

	_, err := r.db.Exec(`
		INSERT INTO backfill_state (asset, metric, completed, last_fetched_timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(asset, metric) DO UPDATE SET
			completed = excluded.completed,
			last_fetched_timestamp = excluded.last_fetched_timestamp,
			updated_at = excluded.updated_at
	`, asset, metric, completedInt, lastFetchedMs, time.Now().UTC().UnixMilli())
	if err != nil {
		return domain.StorageErr(fmt.Errorf("failed to update backfill state: %w", err))
	}

	r.log.Debug().
		Str("asset", asset).
		Str("metric", string(metric)).
		Bool("completed", completed).
		Msg("Updated backfill state")
	return nil
}

// IsCompleted reports whether backfill has been marked complete for
// (asset, metric). A missing row counts as not completed.
func (r *BackfillRepository) IsCompleted(asset string, metric domain.Metric) (bool, error) {
	state, err := r.Get(asset, metric)
	if err != nil {
		return false, err
	}
	return state != nil && state.Completed, nil
}
