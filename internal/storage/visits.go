package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AppendVisit appends one visit to the durable log.
func (s *Storage) AppendVisit(ctx context.Context, v Visit) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.stmtAppendVisit.ExecContext(ctx, v.Fingerprint, v.Timestamp.UTC(), v.Path, v.Country)
	if err != nil {
		return fmt.Errorf("append visit: %w", err)
	}
	return nil
}

// ReplayVisits streams retained visits with ts >= since, oldest first,
// calling fn for each. Used to rebuild aggregator state on startup; the
// retained window is bounded by the retention cleanup, so this never
// replays from epoch.
func (s *Storage) ReplayVisits(ctx context.Context, since time.Time, fn func(Visit) error) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT fingerprint, ts, path, country FROM visits WHERE ts >= ? ORDER BY ts ASC
`, since.UTC())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var v Visit
		var tsStr sql.NullString
		if err := rows.Scan(&v.Fingerprint, &tsStr, &v.Path, &v.Country); err != nil {
			return err
		}
		if tsStr.Valid {
			v.Timestamp = parseTimestamp(tsStr.String)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return rows.Err()
}

// RecentVisits returns the most recent N visits for the debug endpoint.
func (s *Storage) RecentVisits(ctx context.Context, limit int) ([]Visit, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT fingerprint, ts, path, country FROM visits
WHERE ts >= datetime('now', '-24 hours')
ORDER BY ts DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Visit
	for rows.Next() {
		var v Visit
		var tsStr sql.NullString
		if err := rows.Scan(&v.Fingerprint, &tsStr, &v.Path, &v.Country); err != nil {
			return nil, err
		}
		if tsStr.Valid {
			v.Timestamp = parseTimestamp(tsStr.String)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Cleanup deletes visits older than the retention period. Counters are
// unaffected; they are monotonic and live in their own table.
func (s *Storage) Cleanup(ctx context.Context, retentionDays int) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM visits WHERE ts < datetime('now', ?)
`, fmt.Sprintf("-%d days", retentionDays))
	return err
}

// parseTimestamp handles the formats sqlite may hand back for TIMESTAMP
// columns.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
