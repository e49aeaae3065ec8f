package store

import (
	"testing"
	"time"
)

func TestWeekStart(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			"monday maps to itself",
			time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		},
		{
			"mid-week maps back to monday",
			time.Date(2026, 8, 27, 13, 45, 12, 0, time.UTC),
			time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		},
		{
			"sunday belongs to the preceding monday",
			time.Date(2026, 8, 30, 23, 59, 59, 0, time.UTC),
			time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		},
		{
			"monday 00:00 exactly",
			time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := WeekStart(tc.in)
			if !got.Equal(tc.want) {
				t.Errorf("WeekStart(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestShardFilenameRoundTrip(t *testing.T) {
	week := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	name := ShardFilename(week)
	if name != "sensors_2026_08_24.json" {
		t.Fatalf("unexpected shard filename: %s", name)
	}

	parsed, err := ParseShardFilename(name)
	if err != nil {
		t.Fatalf("ParseShardFilename returned error: %v", err)
	}
	if !parsed.Equal(week) {
		t.Fatalf("round trip mismatch: got %v, want %v", parsed, week)
	}
}

func TestParseShardFilenameRejectsOtherFiles(t *testing.T) {
	for _, name := range []string{"forecasts.json", "sensors.json", "sensors_bogus.json", "archive.log"} {
		if _, err := ParseShardFilename(name); err == nil {
			t.Errorf("expected error for %q", name)
		}
	}
}

func TestWeeksInRange(t *testing.T) {
	start := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) // Thursday
	end := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)     // Wednesday two weeks on

	weeks := WeeksInRange(start, end)
	want := []time.Time{
		time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}
	if len(weeks) != len(want) {
		t.Fatalf("expected %d weeks, got %d: %v", len(want), len(weeks), weeks)
	}
	for i := range want {
		if !weeks[i].Equal(want[i]) {
			t.Errorf("week %d: got %v, want %v", i, weeks[i], want[i])
		}
	}
}

func TestWeeksInRangeInvertedWindow(t *testing.T) {
	start := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	if weeks := WeeksInRange(start, start.Add(-time.Hour)); weeks != nil {
		t.Fatalf("expected nil for inverted window, got %v", weeks)
	}
}
