package storage

import "time"

// Visit is a single recorded visit event. Immutable once appended.
type Visit struct {
	Fingerprint string
	Timestamp   time.Time
	Path        string
	Country     string
}

// Counters is the persisted snapshot of the monotonic aggregate counters.
type Counters struct {
	TotalVisits    int64
	UniqueVisitors int64
	UpdatedAt      time.Time
}

// DatabaseStats holds row counts for metrics reporting.
type DatabaseStats struct {
	VisitsCount int64
}
