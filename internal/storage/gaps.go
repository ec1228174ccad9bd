package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/riskwatch/riskwatch/internal/domain"
)

// detectGaps builds the expected timestamp grid between the earliest
// and latest stored rows at the given cadence, subtracts the stored
// set, and coalesces consecutive misses into inclusive ranges.
//
// Not used for open interest (retention-bounded) nor lending
// (event-driven snapshots; absence implies no snapshot).
func detectGaps(db *sql.DB, table, asset string, interval time.Duration) ([]domain.Gap, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("gap detection requires a positive interval")
	}

	rows, err := db.Query(
		fmt.Sprintf(`SELECT timestamp FROM %s WHERE asset = ? ORDER BY timestamp ASC`, table), asset)
	if err != nil {
		return nil, domain.StorageErr(fmt.Errorf("failed to query timestamps for gap detection: %w", err))
	}
	defer rows.Close()

	stored := make(map[int64]struct{})
	var earliest, latest int64
	first := true
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, domain.StorageErr(fmt.Errorf("failed to scan timestamp: %w", err))
		}
		stored[ms] = struct{}{}
		if first {
			earliest = ms
			first = false
		}
		latest = ms
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageErr(err)
	}
	if first {
		return nil, nil // no data, no grid
	}

	step := interval.Milliseconds()
	var missing []int64
	for ms := earliest; ms <= latest; ms += step {
		if _, ok := stored[ms]; !ok {
			missing = append(missing, ms)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	var gaps []domain.Gap
	gapStart, gapEnd := missing[0], missing[0]
	for _, ms := range missing[1:] {
		if ms-gapEnd == step {
			gapEnd = ms
			continue
		}
		gaps = append(gaps, domain.Gap{
			Start: time.UnixMilli(gapStart).UTC(),
			End:   time.UnixMilli(gapEnd).UTC(),
		})
		gapStart, gapEnd = ms, ms
	}
	gaps = append(gaps, domain.Gap{
		Start: time.UnixMilli(gapStart).UTC(),
		End:   time.UnixMilli(gapEnd).UTC(),
	})

	return gaps, nil
}
