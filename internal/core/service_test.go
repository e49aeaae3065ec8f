package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/homesense/homesense/internal/forecast"
	"github.com/homesense/homesense/internal/models"
	"github.com/homesense/homesense/internal/query"
	"github.com/homesense/homesense/internal/retention"
	"github.com/homesense/homesense/internal/store"
)

type fakeBroadcaster struct {
	sensorUpdates   []models.SensorUpdate
	forecastUpdates []models.ForecastRecord
}

func (f *fakeBroadcaster) BroadcastSensorUpdate(update models.SensorUpdate) {
	f.sensorUpdates = append(f.sensorUpdates, update)
}

func (f *fakeBroadcaster) BroadcastForecastUpdate(record models.ForecastRecord) {
	f.forecastUpdates = append(f.forecastUpdates, record)
}

func newTestService(t *testing.T) (*Service, *fakeBroadcaster, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	registry := store.NewRegistry(s)
	engine := query.NewEngine(s)
	archive := retention.NewArchiveLog(filepath.Join(s.DataDir(), "archive.log"))
	ret := retention.NewWorker(s, archive, 4*7*24*time.Hour)
	forecasts := forecast.NewStore(filepath.Join(s.DataDir(), "forecasts.json"))
	broadcaster := &fakeBroadcaster{}
	return New(s, registry, engine, ret, forecasts, broadcaster, 500), broadcaster, s
}

func ptr(v float64) *float64 { return &v }

func TestAppendBroadcastsLatestReading(t *testing.T) {
	svc, broadcaster, _ := newTestService(t)
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	// Out-of-order batch; the event must carry the newest reading.
	err := svc.Append("living-room", "temperature", []models.Reading{
		{Timestamp: base.Add(time.Hour), Value: ptr(22)},
		{Timestamp: base, Value: ptr(21)},
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if len(broadcaster.sensorUpdates) != 1 {
		t.Fatalf("expected 1 sensor update, got %d", len(broadcaster.sensorUpdates))
	}
	update := broadcaster.sensorUpdates[0]
	if update.SensorID != "living-room" {
		t.Errorf("SensorID = %q, want %q", update.SensorID, "living-room")
	}
	if !update.Timestamp.Equal(base.Add(time.Hour)) {
		t.Errorf("Timestamp = %v, want the newest reading's time", update.Timestamp)
	}
	if v := update.Metrics["temperature"]; v == nil || *v != 22 {
		t.Errorf("value = %v, want 22", v)
	}
}

func TestAppendFailureDoesNotBroadcast(t *testing.T) {
	svc, broadcaster, _ := newTestService(t)

	if err := svc.Append("", "temperature", []models.Reading{{Timestamp: time.Now(), Value: ptr(1)}}); err == nil {
		t.Fatal("expected error for empty sensor id")
	}
	if len(broadcaster.sensorUpdates) != 0 {
		t.Errorf("failed append must not broadcast, got %d updates", len(broadcaster.sensorUpdates))
	}
}

func TestQueryAppliesDefaultBudget(t *testing.T) {
	svc, _, _ := newTestService(t)
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	readings := make([]models.Reading, 600)
	for i := range readings {
		readings[i] = models.Reading{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: ptr(float64(i))}
	}
	if err := svc.Append("s1", "temperature", readings); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Zero budget falls back to the configured default of 500.
	result, err := svc.Query(query.Request{
		Selections: []models.Selection{{SensorID: "s1", Metrics: []string{"temperature"}}},
		Start:      base,
		End:        base.Add(600 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(result.Rows) != 500 {
		t.Errorf("rows = %d, want the 500-point default budget", len(result.Rows))
	}

	// Negative budgets still fail.
	if _, err := svc.Query(query.Request{
		Selections:  []models.Selection{{SensorID: "s1", Metrics: []string{"temperature"}}},
		Start:       base,
		End:         base.Add(time.Hour),
		PointBudget: -1,
	}); err == nil {
		t.Error("expected error for negative point budget")
	}
}

func TestPurgeNow(t *testing.T) {
	svc, _, s := newTestService(t)
	timeNow = func() time.Time { return time.Date(2026, 8, 27, 2, 0, 0, 0, time.UTC) }
	defer func() { timeNow = time.Now }()

	old := timeNow().AddDate(0, 0, -60)
	if err := svc.Append("attic", "humidity", []models.Reading{{Timestamp: old, Value: ptr(50)}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	result, err := svc.PurgeNow(context.Background())
	if err != nil {
		t.Fatalf("PurgeNow failed: %v", err)
	}
	if result.ShardsPurged != 1 {
		t.Errorf("ShardsPurged = %d, want 1", result.ShardsPurged)
	}

	shards, err := s.ShardsOnDisk()
	if err != nil {
		t.Fatalf("ShardsOnDisk failed: %v", err)
	}
	if len(shards) != 0 {
		t.Errorf("expected no shards after purge, got %d", len(shards))
	}
}

func TestStorageStats(t *testing.T) {
	svc, _, _ := newTestService(t)

	if err := svc.Append("attic", "humidity", []models.Reading{{Timestamp: time.Now().UTC(), Value: ptr(50)}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	stats, err := svc.StorageStats()
	if err != nil {
		t.Fatalf("StorageStats failed: %v", err)
	}
	if stats.ShardCount != 1 {
		t.Errorf("ShardCount = %d, want 1", stats.ShardCount)
	}
	if stats.RetentionHorizon != 4*7*24*time.Hour {
		t.Errorf("RetentionHorizon = %v, want 4 weeks", stats.RetentionHorizon)
	}
}

func TestGetForecastMissingMetric(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, ok := svc.GetForecast("temperature"); ok {
		t.Error("expected no forecast for unknown metric")
	}
}
