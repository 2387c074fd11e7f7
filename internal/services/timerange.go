package services

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// TimeRange is an inclusive [Start, End] interval over lead creation times.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

var instantLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimeRange reads the report filter from query parameters. The second
// return value is false when no filter applies, which includes every
// malformed combination.
func ParseTimeRange(params map[string]string, now time.Time) (TimeRange, bool) {
	now = now.UTC()

	switch strings.TrimSpace(params["time_range"]) {
	case "years":
		year, ok := intParam(params, "year", now.Year())
		if !ok {
			return TimeRange{}, false
		}
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return TimeRange{Start: start, End: endOf(start.AddDate(1, 0, 0))}, true

	case "quarters":
		year, ok := intParam(params, "quarter_year", now.Year())
		if !ok {
			return TimeRange{}, false
		}
		quarter := map[string]int{"Q1": 1, "Q2": 2, "Q3": 3, "Q4": 4}[strings.ToUpper(strings.TrimSpace(params["quarter"]))]
		if quarter == 0 {
			return TimeRange{}, false
		}
		start := time.Date(year, time.Month(3*(quarter-1)+1), 1, 0, 0, 0, 0, time.UTC)
		return TimeRange{Start: start, End: endOf(start.AddDate(0, 3, 0))}, true

	case "months":
		year, ok := intParam(params, "month_year", now.Year())
		if !ok {
			return TimeRange{}, false
		}
		month, ok := intParam(params, "month", int(now.Month()))
		if !ok || month < 1 || month > 12 {
			return TimeRange{}, false
		}
		start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		return TimeRange{Start: start, End: endOf(start.AddDate(0, 1, 0))}, true

	case "custom":
		start, ok := parseInstant(params["start_datetime"])
		if !ok {
			return TimeRange{}, false
		}
		end, ok := parseInstant(params["end_datetime"])
		if !ok || end.Before(start) {
			return TimeRange{}, false
		}
		return TimeRange{Start: start, End: end}, true

	default:
		return TimeRange{}, false
	}
}

// Contains reports whether t falls inside the range, bounds included.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Apply filters column to the range.
func (r TimeRange) Apply(db *gorm.DB, column string) *gorm.DB {
	return db.Where(column+" BETWEEN ? AND ?", r.Start, r.End)
}

// endOf returns the last whole second before next.
func endOf(next time.Time) time.Time {
	return next.Add(-time.Second)
}

func intParam(params map[string]string, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(params[key])
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, false
	}
	return value, true
}

func parseInstant(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range instantLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
