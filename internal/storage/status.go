package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
)

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Health checks database connectivity.
func (s *Storage) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, "SELECT 1")
	var n int
	if err := row.Scan(&n); err != nil {
		return err
	}
	if n != 1 {
		return errors.New("unexpected ping result")
	}
	return nil
}

// Ping verifies database connectivity by executing a simple query.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetDatabaseStats returns row counts for metrics.
func (s *Storage) GetDatabaseStats(ctx context.Context) (DatabaseStats, error) {
	var stats DatabaseStats
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM visits")
	if err := row.Scan(&stats.VisitsCount); err != nil {
		return stats, fmt.Errorf("count visits: %w", err)
	}
	return stats, nil
}

// DBFileSize returns the size of the database file in bytes.
func (s *Storage) DBFileSize() (int64, error) {
	var path string
	row := s.db.QueryRow("SELECT file FROM pragma_database_list WHERE name = 'main'")
	if err := row.Scan(&path); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
