package engine

import "time"

// Stats is the aggregate snapshot served by /api/stats. It is a pure
// function of bucket state at a single instant, so all fields are mutually
// consistent.
type Stats struct {
	TotalVisitors   int64      `json:"total_visitors"`
	UniqueVisitors  int64      `json:"unique_visitors"`
	TodayVisitors   int64      `json:"today_visitors"`
	TodayUnique     int64      `json:"today_unique"`
	WeekVisitors    int64      `json:"week_visitors"`
	WeekUnique      int64      `json:"week_unique"`
	MonthVisitors   int64      `json:"month_visitors"`
	Last24hVisitors int64      `json:"last_24h_visitors"`
	Last7Days       []DayEntry `json:"last_7_days"`
	Timestamp       time.Time  `json:"timestamp"`
}

// DayEntry is one day of the 7-day history, oldest first in Stats.Last7Days.
type DayEntry struct {
	Date   string `json:"date"`
	Label  string `json:"label"`
	Visits int64  `json:"visits"`
	Unique int64  `json:"unique"`
}
