package store

import (
	"testing"
	"time"

	"github.com/homesense/homesense/internal/models"
)

func TestRegistryDiscovery(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	if err := s.Append("living-room", "temperature", []models.Reading{{Timestamp: base, Value: ptr(21)}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append("living-room", "humidity", []models.Reading{{Timestamp: base, Value: ptr(45)}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append("attic", "humidity", []models.Reading{{Timestamp: base.AddDate(0, 0, 7), Value: ptr(60)}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	r := NewRegistry(s)
	if err := r.Discover(); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	sensors := r.List()
	if len(sensors) != 2 {
		t.Fatalf("expected 2 sensors, got %d", len(sensors))
	}
	if sensors[0].ID != "attic" || sensors[1].ID != "living-room" {
		t.Fatalf("unexpected sensor order: %v, %v", sensors[0].ID, sensors[1].ID)
	}

	desc, ok := r.Get("living-room")
	if !ok {
		t.Fatal("expected living-room descriptor")
	}
	if desc.Name != "living-room" {
		t.Errorf("discovered sensor name = %q, want ID fallback", desc.Name)
	}
	if len(desc.Metrics) != 2 || desc.Metrics[0] != "humidity" || desc.Metrics[1] != "temperature" {
		t.Errorf("metrics = %v, want sorted [humidity temperature]", desc.Metrics)
	}
}

func TestRegistryRenamePersists(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	if err := s.Append("s1", "temperature", []models.Reading{{Timestamp: base, Value: ptr(20)}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	r := NewRegistry(s)
	if err := r.Discover(); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if err := r.SetDisplayName("s1", "Living Room"); err != nil {
		t.Fatalf("SetDisplayName failed: %v", err)
	}
	if err := r.SetDisplayName("unknown", "x"); err == nil {
		t.Error("expected error renaming unknown sensor")
	}

	// A fresh registry sees the persisted name.
	r2 := NewRegistry(s)
	desc, ok := r2.Get("s1")
	if !ok {
		t.Fatal("expected persisted descriptor")
	}
	if desc.Name != "Living Room" {
		t.Errorf("persisted name = %q, want %q", desc.Name, "Living Room")
	}
}
