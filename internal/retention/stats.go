package retention

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/homesense/homesense/internal/models"
)

// maxPurgeHistory caps the retained purge run records.
const maxPurgeHistory = 50

// PurgeRunStats is one retention run's outcome, kept for operational
// visibility.
type PurgeRunStats struct {
	Timestamp        time.Time     `json:"timestamp"`
	ShardsPurged     int           `json:"shardsPurged"`
	BytesFreed       int64         `json:"bytesFreed"`
	RetentionHorizon time.Duration `json:"retentionHorizon"`
}

type statsDocument struct {
	History []PurgeRunStats `json:"history"`
	Last    *PurgeRunStats  `json:"last,omitempty"`
}

// statsFile persists purge run history, newest last, capped at
// maxPurgeHistory entries.
type statsFile struct {
	path string
	mu   sync.Mutex
}

func newStatsFile(path string) *statsFile {
	return &statsFile{path: path}
}

func (s *statsFile) record(now time.Time, result models.PurgeResult, horizon time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	run := PurgeRunStats{
		Timestamp:        now.UTC(),
		ShardsPurged:     result.ShardsPurged,
		BytesFreed:       result.BytesFreed,
		RetentionHorizon: horizon,
	}
	doc.History = append(doc.History, run)
	if len(doc.History) > maxPurgeHistory {
		doc.History = doc.History[len(doc.History)-maxPurgeHistory:]
	}
	doc.Last = &run

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode purge stats: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write purge stats: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace purge stats: %w", err)
	}
	return nil
}

func (s *statsFile) loadLocked() statsDocument {
	var doc statsDocument
	data, err := os.ReadFile(s.path)
	if err != nil {
		return doc
	}
	// A corrupt stats file just resets the history.
	_ = json.Unmarshal(data, &doc)
	return doc
}

// History returns the recorded purge runs, oldest first.
func (s *statsFile) History() []PurgeRunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked().History
}

// History exposes the worker's purge run history.
func (w *Worker) History() []PurgeRunStats {
	return w.stats.History()
}
