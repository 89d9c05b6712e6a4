package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Storage provides database operations for visitstat: the append-only visit
// log and the periodic counter snapshot.
type Storage struct {
	db           *sql.DB
	writeMu      sync.Mutex
	queryTimeout time.Duration

	stmtAppendVisit  *sql.Stmt
	stmtSaveCounters *sql.Stmt
}

// Options configures the Storage instance.
type Options struct {
	MaxConnections int
	QueryTimeout   time.Duration
}

// New creates a new Storage instance with default options.
// For custom options, use NewWithOptions.
func New(dbPath string) (*Storage, error) {
	return NewWithOptions(dbPath, Options{
		MaxConnections: 1,
		QueryTimeout:   30 * time.Second,
	})
}

// NewWithOptions creates a new Storage instance with the given options.
func NewWithOptions(dbPath string, opts Options) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=30000&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, err
	}

	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	queryTimeout := opts.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}

	s := &Storage{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *Storage) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS visits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT NOT NULL,
	ts TIMESTAMP NOT NULL,
	path TEXT
);

CREATE INDEX IF NOT EXISTS idx_visits_ts ON visits(ts);
CREATE INDEX IF NOT EXISTS idx_visits_fingerprint ON visits(fingerprint);

CREATE TABLE IF NOT EXISTS counters (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total_visits INTEGER NOT NULL DEFAULT 0,
	unique_visitors INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the initial release. Errors are ignored since the
	// column may already exist.
	migrations := []string{
		"ALTER TABLE visits ADD COLUMN country TEXT DEFAULT ''",
	}
	for _, m := range migrations {
		_, _ = s.db.Exec(m)
	}

	return nil
}

func (s *Storage) prepareStatements() error {
	var err error

	s.stmtAppendVisit, err = s.db.Prepare(`
INSERT INTO visits (fingerprint, ts, path, country) VALUES (?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare append visit: %w", err)
	}

	s.stmtSaveCounters, err = s.db.Prepare(`
INSERT INTO counters (id, total_visits, unique_visitors, updated_at)
VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	total_visits = excluded.total_visits,
	unique_visitors = excluded.unique_visitors,
	updated_at = excluded.updated_at
`)
	if err != nil {
		return fmt.Errorf("prepare save counters: %w", err)
	}

	return nil
}

// Close closes the database connection and prepared statements.
func (s *Storage) Close() error {
	if s.stmtAppendVisit != nil {
		s.stmtAppendVisit.Close()
	}
	if s.stmtSaveCounters != nil {
		s.stmtSaveCounters.Close()
	}
	return s.db.Close()
}

// QueryTimeout returns the configured query timeout duration.
func (s *Storage) QueryTimeout() time.Duration {
	return s.queryTimeout
}
