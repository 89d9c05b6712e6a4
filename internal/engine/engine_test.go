package engine

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock lets tests drive the aggregation windows deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// baseTime is a Monday at noon UTC.
var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine() (*Engine, *fakeClock) {
	clock := &fakeClock{now: baseTime}
	return New(clock.Now), clock
}

func TestRecord_TotalMatchesCallCount(t *testing.T) {
	e, clock := newTestEngine()

	const n = 25
	for i := 0; i < n; i++ {
		e.Record(fmt.Sprintf("fp-%d", i%4), clock.Now())
		clock.Advance(time.Second)
	}

	st := e.Snapshot()
	if st.TotalVisitors != n {
		t.Errorf("TotalVisitors = %d, want %d", st.TotalVisitors, n)
	}
}

func TestSnapshot_UniqueNeverExceedsVisits(t *testing.T) {
	e, clock := newTestEngine()

	for i := 0; i < 10; i++ {
		e.Record(fmt.Sprintf("fp-%d", i%3), clock.Now())
	}

	st := e.Snapshot()
	if st.TodayUnique > st.TodayVisitors {
		t.Errorf("TodayUnique = %d > TodayVisitors = %d", st.TodayUnique, st.TodayVisitors)
	}
	if st.WeekUnique > st.WeekVisitors {
		t.Errorf("WeekUnique = %d > WeekVisitors = %d", st.WeekUnique, st.WeekVisitors)
	}
	if st.UniqueVisitors > st.TotalVisitors {
		t.Errorf("UniqueVisitors = %d > TotalVisitors = %d", st.UniqueVisitors, st.TotalVisitors)
	}
}

func TestRecord_RepeatFingerprintSameDay(t *testing.T) {
	e, clock := newTestEngine()

	e.Record("fp-a", clock.Now())
	e.Record("fp-a", clock.Now())

	st := e.Snapshot()
	if st.TodayVisitors != 2 {
		t.Errorf("TodayVisitors = %d, want 2", st.TodayVisitors)
	}
	if st.TodayUnique != 1 {
		t.Errorf("TodayUnique = %d, want 1", st.TodayUnique)
	}
}

func TestSnapshot_EmptyEngine(t *testing.T) {
	e, _ := newTestEngine()

	st := e.Snapshot()
	if st.TotalVisitors != 0 || st.UniqueVisitors != 0 || st.TodayVisitors != 0 ||
		st.WeekVisitors != 0 || st.MonthVisitors != 0 || st.Last24hVisitors != 0 {
		t.Errorf("expected all-zero snapshot, got %+v", st)
	}
	if len(st.Last7Days) != 7 {
		t.Fatalf("len(Last7Days) = %d, want 7", len(st.Last7Days))
	}
	for i, entry := range st.Last7Days {
		if entry.Visits != 0 || entry.Unique != 0 {
			t.Errorf("entry %d not zero: %+v", i, entry)
		}
		if entry.Date == "" || entry.Label == "" {
			t.Errorf("entry %d missing date or label: %+v", i, entry)
		}
	}
}

func TestSnapshot_Last7DaysOrderAndLabels(t *testing.T) {
	e, _ := newTestEngine()

	st := e.Snapshot()
	// baseTime is Monday 2025-03-10; oldest entry is the previous Tuesday.
	wantLabels := []string{"Tue", "Wed", "Thu", "Fri", "Sat", "Sun", "Mon"}
	for i, want := range wantLabels {
		if st.Last7Days[i].Label != want {
			t.Errorf("Last7Days[%d].Label = %q, want %q", i, st.Last7Days[i].Label, want)
		}
	}
	if st.Last7Days[6].Date != "2025-03-10" {
		t.Errorf("newest entry date = %q, want 2025-03-10", st.Last7Days[6].Date)
	}
	if st.Last7Days[0].Date != "2025-03-04" {
		t.Errorf("oldest entry date = %q, want 2025-03-04", st.Last7Days[0].Date)
	}
}

func TestLiveVisitors_WindowBoundary(t *testing.T) {
	e, clock := newTestEngine()

	e.Record("fp-old", clock.Now().Add(-6*time.Minute))
	if got := e.LiveVisitors(5); got != 0 {
		t.Errorf("LiveVisitors(5) = %d, want 0 for 6-minute-old event", got)
	}

	e.Record("fp-new", clock.Now().Add(-4*time.Minute))
	if got := e.LiveVisitors(5); got != 1 {
		t.Errorf("LiveVisitors(5) = %d, want 1", got)
	}
}

func TestLiveVisitors_Clamping(t *testing.T) {
	e, clock := newTestEngine()

	// One event 30 minutes ago: visible only with a window >= 31 minutes.
	e.Record("fp-a", clock.Now().Add(-30*time.Minute))

	if got := e.LiveVisitors(0); got != 0 {
		t.Errorf("LiveVisitors(0) = %d, want 0 (clamped to 1 minute)", got)
	}
	if got := e.LiveVisitors(-5); got != 0 {
		t.Errorf("LiveVisitors(-5) = %d, want 0 (clamped to 1 minute)", got)
	}
	if got := e.LiveVisitors(9999); got != 1 {
		t.Errorf("LiveVisitors(9999) = %d, want 1 (clamped to 60 minutes)", got)
	}
}

func TestLiveVisitors_CountsDistinctFingerprints(t *testing.T) {
	e, clock := newTestEngine()

	e.Record("fp-a", clock.Now())
	e.Record("fp-a", clock.Now())
	e.Record("fp-b", clock.Now())

	if got := e.LiveVisitors(5); got != 2 {
		t.Errorf("LiveVisitors(5) = %d, want 2", got)
	}
}

func TestSnapshot_DayRollover(t *testing.T) {
	e, clock := newTestEngine()

	for i := 0; i < 3; i++ {
		e.Record("fp-a", clock.Now())
	}
	for i := 0; i < 2; i++ {
		e.Record("fp-b", clock.Now())
	}

	st := e.Snapshot()
	if st.TodayVisitors != 5 {
		t.Errorf("TodayVisitors = %d, want 5", st.TodayVisitors)
	}
	if st.TodayUnique != 2 {
		t.Errorf("TodayUnique = %d, want 2", st.TodayUnique)
	}

	clock.Advance(24 * time.Hour)
	e.Record("fp-a", clock.Now())

	st = e.Snapshot()
	if st.TodayVisitors != 1 {
		t.Errorf("after rollover TodayVisitors = %d, want 1", st.TodayVisitors)
	}
	if st.TodayUnique != 1 {
		t.Errorf("after rollover TodayUnique = %d, want 1", st.TodayUnique)
	}
	if st.WeekVisitors != 6 {
		t.Errorf("after rollover WeekVisitors = %d, want 6", st.WeekVisitors)
	}
	if st.WeekUnique != 2 {
		t.Errorf("after rollover WeekUnique = %d, want 2", st.WeekUnique)
	}
}

func TestSnapshot_WeekUniqueIsUnionNotSum(t *testing.T) {
	e, clock := newTestEngine()

	// Same fingerprint on two different days of the week.
	e.Record("fp-a", clock.Now())
	clock.Advance(24 * time.Hour)
	e.Record("fp-a", clock.Now())

	st := e.Snapshot()
	if st.WeekVisitors != 2 {
		t.Errorf("WeekVisitors = %d, want 2", st.WeekVisitors)
	}
	if st.WeekUnique != 1 {
		t.Errorf("WeekUnique = %d, want 1 (union, not per-day sum)", st.WeekUnique)
	}
	dayMax := st.Last7Days[5].Unique
	if st.Last7Days[6].Unique > dayMax {
		dayMax = st.Last7Days[6].Unique
	}
	if st.WeekUnique < dayMax {
		t.Errorf("WeekUnique = %d < max daily unique %d", st.WeekUnique, dayMax)
	}
}

func TestSnapshot_Last24hUsesHourBuckets(t *testing.T) {
	e, clock := newTestEngine()

	e.Record("fp-a", clock.Now().Add(-23*time.Hour))
	e.Record("fp-b", clock.Now().Add(-25*time.Hour))
	e.Record("fp-c", clock.Now())

	st := e.Snapshot()
	if st.Last24hVisitors != 2 {
		t.Errorf("Last24hVisitors = %d, want 2 (25h-old event excluded)", st.Last24hVisitors)
	}
}

func TestSnapshot_MonthWindow(t *testing.T) {
	e, clock := newTestEngine()

	e.Record("fp-a", clock.Now().AddDate(0, 0, -29))
	e.Record("fp-b", clock.Now().AddDate(0, 0, -31))
	e.Record("fp-c", clock.Now())

	st := e.Snapshot()
	if st.MonthVisitors != 2 {
		t.Errorf("MonthVisitors = %d, want 2 (31-day-old event excluded)", st.MonthVisitors)
	}
	// The 31-day-old event still counts toward the all-time totals.
	if st.TotalVisitors != 3 {
		t.Errorf("TotalVisitors = %d, want 3", st.TotalVisitors)
	}
}

func TestRecord_EvictsExpiredBuckets(t *testing.T) {
	e, clock := newTestEngine()

	e.Record("fp-old", clock.Now())
	clock.Advance(2 * time.Hour)
	e.Record("fp-new", clock.Now())

	minutes, hours, days := e.BucketCounts()
	if minutes != 1 {
		t.Errorf("minute buckets = %d, want 1 (old bucket evicted)", minutes)
	}
	if hours != 2 {
		t.Errorf("hour buckets = %d, want 2", hours)
	}
	if days != 1 {
		t.Errorf("day buckets = %d, want 1", days)
	}

	clock.Advance(38 * 24 * time.Hour)
	e.Record("fp-later", clock.Now())
	_, _, days = e.BucketCounts()
	if days != 1 {
		t.Errorf("day buckets = %d, want 1 after retention horizon", days)
	}

	// Evicted buckets are not required by any currently-valid query.
	st := e.Snapshot()
	if st.TodayVisitors != 1 {
		t.Errorf("TodayVisitors = %d, want 1", st.TodayVisitors)
	}
	if st.TotalVisitors != 3 {
		t.Errorf("TotalVisitors = %d, want 3 (totals survive eviction)", st.TotalVisitors)
	}
}

func TestRestore_SeedsCounters(t *testing.T) {
	e, _ := newTestEngine()

	e.Restore(100, 40, baseTime.Add(-time.Hour))

	st := e.Snapshot()
	if st.TotalVisitors != 100 {
		t.Errorf("TotalVisitors = %d, want 100", st.TotalVisitors)
	}
	if st.UniqueVisitors != 40 {
		t.Errorf("UniqueVisitors = %d, want 40", st.UniqueVisitors)
	}
}

func TestReplay_OnlyCountsEventsAfterSnapshot(t *testing.T) {
	e, clock := newTestEngine()
	asOf := clock.Now().Add(-time.Hour)
	e.Restore(100, 40, asOf)

	// Already reflected in the snapshot counters: buckets only.
	e.Replay("fp-a", asOf.Add(-time.Minute))
	// Appended after the last flush: counters advance.
	e.Replay("fp-b", asOf.Add(time.Minute))

	st := e.Snapshot()
	if st.TotalVisitors != 101 {
		t.Errorf("TotalVisitors = %d, want 101", st.TotalVisitors)
	}
	if st.UniqueVisitors != 41 {
		t.Errorf("UniqueVisitors = %d, want 41", st.UniqueVisitors)
	}
	if st.TodayVisitors != 2 {
		t.Errorf("TodayVisitors = %d, want 2 (both events rebuilt into buckets)", st.TodayVisitors)
	}
}

func TestSnapshot_ConcurrentRecords(t *testing.T) {
	e, clock := newTestEngine()

	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 250; i++ {
				e.Record(fmt.Sprintf("fp-%d-%d", w, i%10), clock.Now())
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		<-done
	}

	st := e.Snapshot()
	if st.TotalVisitors != 1000 {
		t.Errorf("TotalVisitors = %d, want 1000", st.TotalVisitors)
	}
	if st.TodayUnique != 40 {
		t.Errorf("TodayUnique = %d, want 40", st.TodayUnique)
	}
}
