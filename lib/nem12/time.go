package nem12

import (
	"fmt"
	"sort"
	"time"

	"sapn-exporter/lib/timezone"
)

// ParseDate interprets a YYYYMMDD record date as midnight in the meter's
// civil zone.
func ParseDate(date string) (time.Time, error) {
	return time.ParseInLocation("20060102", date, timezone.Location)
}

// IntervalTime converts a (date, slot) pair into an absolute timestamp:
// slot*5 minutes after local midnight. The offset is added as an absolute
// duration so slots stay distinct and monotonic across DST transitions
// (23- and 25-hour days included).
func IntervalTime(date string, interval int) (time.Time, error) {
	midnight, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	return midnight.Add(time.Duration(interval) * IntervalMinutes * time.Minute), nil
}

// IntervalEpoch is IntervalTime as Unix seconds.
func IntervalEpoch(date string, interval int) (int64, error) {
	t, err := IntervalTime(date, interval)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// IntervalClock renders a slot as the wall clock "HH:MM" it nominally
// starts at.
func IntervalClock(interval int) string {
	minutes := interval * IntervalMinutes
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Dates returns the distinct record dates present, in ascending order.
func Dates(readings []Reading) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range readings {
		if seen[r.Date] {
			continue
		}
		seen[r.Date] = true
		out = append(out, r.Date)
	}
	// YYYYMMDD sorts lexicographically
	sort.Strings(out)
	return out
}

// DailyTotal sums the kWh consumed on one record date.
func DailyTotal(readings []Reading, date string) float64 {
	total := 0.0
	for _, r := range readings {
		if r.Date == date {
			total += r.Value
		}
	}
	return total
}

// LatestDate returns the most recent record date, or "" when there are
// no readings.
func LatestDate(readings []Reading) string {
	latest := ""
	for _, r := range readings {
		if r.Date > latest {
			latest = r.Date
		}
	}
	return latest
}
