package database

import (
	"database/sql"
	"fmt"
)

// Schema DDL. All series tables are keyed UNIQUE(asset, timestamp);
// timestamps are unix milliseconds UTC. RAY-precision values are
// stored as TEXT to avoid float truncation.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS spot_ohlcv (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		UNIQUE(asset, timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spot_ohlcv_asset_timestamp
		ON spot_ohlcv(asset, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS futures_funding_rates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		funding_rate REAL NOT NULL,
		mark_price REAL,
		UNIQUE(asset, timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_funding_rates_asset_timestamp
		ON futures_funding_rates(asset, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS futures_mark_price_klines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		UNIQUE(asset, timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mark_klines_asset_timestamp
		ON futures_mark_price_klines(asset, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS futures_index_price_klines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		UNIQUE(asset, timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_index_klines_asset_timestamp
		ON futures_index_price_klines(asset, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS futures_open_interest (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		open_interest REAL NOT NULL,
		UNIQUE(asset, timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_open_interest_asset_timestamp
		ON futures_open_interest(asset, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS lendings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		reserve_address TEXT NOT NULL,
		supply_rate_ray TEXT NOT NULL,
		variable_borrow_rate_ray TEXT NOT NULL,
		stable_borrow_rate_ray TEXT NOT NULL,
		liquidity_index TEXT NOT NULL,
		variable_borrow_index TEXT NOT NULL,
		UNIQUE(asset, timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lendings_asset_timestamp
		ON lendings(asset, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS backfill_state (
		asset TEXT NOT NULL,
		metric TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		last_fetched_timestamp INTEGER,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY(asset, metric)
	)`,
}

// InitSchema creates all tables and indexes if they do not exist.
func InitSchema(conn *sql.DB) error {
	return WithTransaction(conn, func(tx *sql.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("failed to apply schema statement: %w", err)
			}
		}
		return nil
	})
}
