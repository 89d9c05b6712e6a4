// Package engine maintains incrementally-updated visit counters bucketed by
// time granularity. Queries are answered from bucket state alone, never by
// re-scanning recorded events.
//
// All day boundaries are UTC. Bucket intervals are [start, start+granularity).
package engine

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// Live-window queries are clamped to this range of minutes.
	MinLiveMinutes = 1
	MaxLiveMinutes = 60

	// Retention horizons per granularity. Minute buckets serve the live
	// window (up to MaxLiveMinutes), hour buckets the trailing 24 hours,
	// day buckets the month total plus the 7-day history.
	minuteRetention = time.Duration(MaxLiveMinutes+1) * time.Minute
	hourRetention   = 25 * time.Hour
	dayRetention    = 37 * 24 * time.Hour
)

// Clock abstracts time.Now so tests can drive the aggregation windows.
type Clock func() time.Time

// bucket accumulates visits for one granularity-aligned interval. The
// uniques set holds every fingerprint seen in the interval; exact sets are
// deliberate at this traffic scale.
type bucket struct {
	visits  int64
	uniques map[string]struct{}
}

func newBucket() *bucket {
	return &bucket{uniques: make(map[string]struct{})}
}

// Engine owns all bucket state behind a single mutex. Mutations and reads
// both take the lock briefly, so readers always observe a consistent
// snapshot.
type Engine struct {
	mu  sync.Mutex
	now Clock

	// Buckets keyed by the unix second of their aligned interval start.
	minutes map[int64]*bucket
	hours   map[int64]*bucket
	days    map[int64]*bucket

	totalVisits    int64
	uniqueVisitors int64

	// restoredAsOf marks the snapshot time loaded via Restore; replayed
	// events at or before it are already reflected in the counters.
	restoredAsOf time.Time
}

func New(now Clock) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		now:     now,
		minutes: make(map[int64]*bucket),
		hours:   make(map[int64]*bucket),
		days:    make(map[int64]*bucket),
	}
}

// Record applies one visit event to all granularities and evicts buckets
// that have aged out of every reporting horizon.
func (e *Engine) Record(fp string, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apply(fp, ts, true)
	e.evict(e.now().UTC())
}

// Restore seeds the monotonic counters from a persisted snapshot taken at
// asOf. Call before Replay.
func (e *Engine) Restore(totalVisits, uniqueVisitors int64, asOf time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalVisits = totalVisits
	e.uniqueVisitors = uniqueVisitors
	e.restoredAsOf = asOf
}

// Replay rebuilds bucket state from the durable visit log after a restart.
// Counters only advance for events newer than the restored snapshot, so the
// replayed window never double-counts.
func (e *Engine) Replay(fp string, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apply(fp, ts, ts.After(e.restoredAsOf))
}

func (e *Engine) apply(fp string, ts time.Time, count bool) {
	ts = ts.UTC()
	if count {
		e.totalVisits++
		if !e.seenInDays(fp) {
			e.uniqueVisitors++
		}
	}
	for _, g := range []struct {
		m   map[int64]*bucket
		key int64
	}{
		{e.minutes, ts.Truncate(time.Minute).Unix()},
		{e.hours, ts.Truncate(time.Hour).Unix()},
		{e.days, dayStart(ts).Unix()},
	} {
		b, ok := g.m[g.key]
		if !ok {
			b = newBucket()
			g.m[g.key] = b
		}
		b.visits++
		b.uniques[fp] = struct{}{}
	}
}

// seenInDays reports whether fp appears in any retained day bucket. Tokens
// rotate daily upstream, so this is effectively "seen before at all".
func (e *Engine) seenInDays(fp string) bool {
	for _, b := range e.days {
		if _, ok := b.uniques[fp]; ok {
			return true
		}
	}
	return false
}

func (e *Engine) evict(now time.Time) {
	for key := range e.minutes {
		if now.Unix()-key >= int64(minuteRetention/time.Second) {
			delete(e.minutes, key)
		}
	}
	for key := range e.hours {
		if now.Unix()-key >= int64(hourRetention/time.Second) {
			delete(e.hours, key)
		}
	}
	for key := range e.days {
		if now.Unix()-key >= int64(dayRetention/time.Second) {
			delete(e.days, key)
		}
	}
}

// Snapshot assembles the full aggregate view under the lock. Any internal
// fault (corrupt bucket state, clock skew) degrades to a zero-filled
// snapshot rather than an error; the caller always gets a well-formed value.
func (e *Engine) Snapshot() (st Stats) {
	now := e.now().UTC()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("stats snapshot failed, serving zeros", "panic", r)
			st = zeroStats(now)
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	st = Stats{
		TotalVisitors:  e.totalVisits,
		UniqueVisitors: e.uniqueVisitors,
		Timestamp:      now,
	}

	today := dayStart(now)
	if b, ok := e.days[today.Unix()]; ok {
		st.TodayVisitors = b.visits
		st.TodayUnique = int64(len(b.uniques))
	}

	weekUniques := make(map[string]struct{})
	for i := 0; i < 30; i++ {
		b, ok := e.days[today.AddDate(0, 0, -i).Unix()]
		if !ok {
			continue
		}
		st.MonthVisitors += b.visits
		if i < 7 {
			st.WeekVisitors += b.visits
			for fp := range b.uniques {
				weekUniques[fp] = struct{}{}
			}
		}
	}
	st.WeekUnique = int64(len(weekUniques))

	hour := now.Truncate(time.Hour)
	for i := 0; i < 24; i++ {
		if b, ok := e.hours[hour.Add(time.Duration(-i)*time.Hour).Unix()]; ok {
			st.Last24hVisitors += b.visits
		}
	}

	st.Last7Days = make([]DayEntry, 0, 7)
	for i := 6; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		entry := DayEntry{
			Date:  day.Format("2006-01-02"),
			Label: day.Format("Mon"),
		}
		if b, ok := e.days[day.Unix()]; ok {
			entry.Visits = b.visits
			entry.Unique = int64(len(b.uniques))
		}
		st.Last7Days = append(st.Last7Days, entry)
	}
	return st
}

// LiveVisitors returns the number of distinct fingerprints seen in minute
// buckets whose start lies within [now - minutes, now]. The minutes argument
// is clamped to [MinLiveMinutes, MaxLiveMinutes].
func (e *Engine) LiveVisitors(minutes int) int {
	if minutes < MinLiveMinutes {
		minutes = MinLiveMinutes
	}
	if minutes > MaxLiveMinutes {
		minutes = MaxLiveMinutes
	}
	now := e.now().UTC()
	cutoff := now.Add(time.Duration(-minutes) * time.Minute)

	e.mu.Lock()
	defer e.mu.Unlock()

	live := make(map[string]struct{})
	for key, b := range e.minutes {
		if key >= cutoff.Unix() {
			for fp := range b.uniques {
				live[fp] = struct{}{}
			}
		}
	}
	return len(live)
}

// Compact evicts buckets outside every retention horizon. Meant to be
// called once after a bulk Replay; Record evicts incrementally on its own.
func (e *Engine) Compact() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evict(e.now().UTC())
}

// Counters returns the monotonic totals for snapshot persistence.
func (e *Engine) Counters() (totalVisits, uniqueVisitors int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalVisits, e.uniqueVisitors
}

// BucketCounts reports retained bucket counts per granularity, for metrics.
func (e *Engine) BucketCounts() (minutes, hours, days int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.minutes), len(e.hours), len(e.days)
}

func dayStart(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

// zeroStats returns the well-formed all-zero snapshot, including the
// 7-element history so clients never see a short series.
func zeroStats(now time.Time) Stats {
	st := Stats{Timestamp: now, Last7Days: make([]DayEntry, 0, 7)}
	today := dayStart(now)
	for i := 6; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		st.Last7Days = append(st.Last7Days, DayEntry{
			Date:  day.Format("2006-01-02"),
			Label: day.Format("Mon"),
		})
	}
	return st
}
