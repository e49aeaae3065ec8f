package store

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	shardPrefix = "sensors_"
	shardSuffix = ".json"
	weekLayout  = "2006_01_02"
)

// WeekStart truncates t to the Monday 00:00 UTC that starts its calendar
// week. Every reading belongs to exactly one such week.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -daysSinceMonday)
}

// ShardFilename returns the file name for a week-start shard key.
func ShardFilename(week time.Time) string {
	return shardPrefix + week.UTC().Format(weekLayout) + shardSuffix
}

// ParseShardFilename recovers the week-start key from a shard file name.
func ParseShardFilename(name string) (time.Time, error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, shardPrefix) || !strings.HasSuffix(base, shardSuffix) {
		return time.Time{}, fmt.Errorf("not a shard file: %s", base)
	}
	dateStr := strings.TrimSuffix(strings.TrimPrefix(base, shardPrefix), shardSuffix)
	week, err := time.ParseInLocation(weekLayout, dateStr, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad shard date in %s: %w", base, err)
	}
	return week, nil
}

// WeeksInRange returns the ascending week-start keys whose seven-day windows
// intersect [start, end]. The result covers the keys a query or purge must
// consider; the corresponding files may or may not exist.
func WeeksInRange(start, end time.Time) []time.Time {
	if end.Before(start) {
		return nil
	}
	var weeks []time.Time
	for week := WeekStart(start); !week.After(end.UTC()); week = week.AddDate(0, 0, 7) {
		weeks = append(weeks, week)
	}
	return weeks
}
