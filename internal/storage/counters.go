package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// LoadCounters returns the persisted counter snapshot. A missing row (fresh
// database) yields zero counters and a zero UpdatedAt.
func (s *Storage) LoadCounters(ctx context.Context) (Counters, error) {
	var c Counters
	var tsStr sql.NullString
	row := s.db.QueryRowContext(ctx, `
SELECT total_visits, unique_visitors, updated_at FROM counters WHERE id = 1
`)
	if err := row.Scan(&c.TotalVisits, &c.UniqueVisitors, &tsStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Counters{}, nil
		}
		return Counters{}, err
	}
	if tsStr.Valid {
		c.UpdatedAt = parseTimestamp(tsStr.String)
	}
	return c, nil
}

// SaveCounters upserts the counter snapshot.
func (s *Storage) SaveCounters(ctx context.Context, c Counters) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ts := c.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.stmtSaveCounters.ExecContext(ctx, c.TotalVisits, c.UniqueVisitors, ts.UTC())
	return err
}
