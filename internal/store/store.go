// Package store implements the weekly shard store: durable append-merge
// persistence of per-sensor, per-metric reading series as one JSON document
// per calendar week.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/homesense/homesense/internal/models"
)

// ErrInvalidArgument is returned for malformed append requests. Storage-level
// failures are wrapped separately so callers can tell the two apart.
var ErrInvalidArgument = errors.New("invalid argument")

// Store reads and writes weekly shard files under a single data directory.
// Writers replace shard files atomically (write-to-temp-then-rename), so
// concurrent readers never observe a partially written shard.
type Store struct {
	dataDir string

	// Serializes read-modify-write cycles on shard files. Readers do not
	// take the lock; atomic replacement keeps them consistent.
	writeMu sync.Mutex
}

// New creates a Store rooted at dataDir, creating the directory if needed.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dataDir: dataDir}, nil
}

// DataDir returns the directory shard files live in.
func (s *Store) DataDir() string {
	return s.dataDir
}

// ShardPath returns the on-disk path for a week-start shard key.
func (s *Store) ShardPath(week time.Time) string {
	return filepath.Join(s.dataDir, ShardFilename(week))
}

// Append merges new readings for one sensor metric into the shard files
// their timestamps fall in. A batch straddling a week boundary is split and
// each affected shard is rewritten atomically. Duplicate timestamps resolve
// last-write-wins: the incoming value replaces the stored one.
func (s *Store) Append(sensorID, metric string, readings []models.Reading) error {
	if strings.TrimSpace(sensorID) == "" {
		return fmt.Errorf("%w: empty sensor id", ErrInvalidArgument)
	}
	if strings.TrimSpace(metric) == "" {
		return fmt.Errorf("%w: empty metric", ErrInvalidArgument)
	}
	if len(readings) == 0 {
		return nil
	}

	// Split the batch by calendar week.
	byWeek := make(map[time.Time][]models.Reading)
	for _, r := range readings {
		week := WeekStart(r.Timestamp)
		byWeek[week] = append(byWeek[week], r)
	}

	weeks := make([]time.Time, 0, len(byWeek))
	for week := range byWeek {
		weeks = append(weeks, week)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].Before(weeks[j]) })

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, week := range weeks {
		if err := s.appendToShard(week, sensorID, metric, byWeek[week]); err != nil {
			return fmt.Errorf("failed to append to shard %s: %w", ShardFilename(week), err)
		}
	}
	return nil
}

// appendToShard performs one read-modify-write cycle. Caller holds writeMu.
func (s *Store) appendToShard(week time.Time, sensorID, metric string, readings []models.Reading) error {
	doc := s.loadShard(week)

	metrics, ok := doc.Sensors[sensorID]
	if !ok {
		metrics = make(map[string]*models.Series)
		doc.Sensors[sensorID] = metrics
	}

	merged := mergeSeries(metrics[metric], readings)
	metrics[metric] = merged

	return s.writeShard(week, doc)
}

// mergeSeries folds new readings into an existing series, de-duplicating by
// timestamp with the new value winning, and returns the result sorted
// ascending.
func mergeSeries(existing *models.Series, readings []models.Reading) *models.Series {
	values := make(map[int64]*float64, existing.Len()+len(readings))
	for i, ts := range seriesTimestamps(existing) {
		values[ts.UnixNano()] = existing.Values[i]
	}
	for _, r := range readings {
		values[r.Timestamp.UTC().UnixNano()] = r.Value
	}

	keys := make([]int64, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := &models.Series{
		Timestamps: make([]time.Time, len(keys)),
		Values:     make([]*float64, len(keys)),
	}
	for i, k := range keys {
		out.Timestamps[i] = time.Unix(0, k).UTC()
		out.Values[i] = values[k]
	}
	return out
}

func seriesTimestamps(s *models.Series) []time.Time {
	if s == nil {
		return nil
	}
	return s.Timestamps
}

// Read returns the stored series for one sensor metric in one weekly shard.
// A missing sensor, metric or shard is reported as ok == false, not an
// error; unreadable shards read as empty.
func (s *Store) Read(sensorID, metric string, week time.Time) (*models.Series, bool) {
	doc := s.loadShard(WeekStart(week))
	metrics, ok := doc.Sensors[sensorID]
	if !ok {
		return nil, false
	}
	series, ok := metrics[metric]
	if !ok || series.Len() == 0 {
		return nil, false
	}
	return series, true
}

// ReadDocument returns the full shard document for a week. Used by the
// retention worker to summarize a shard before deleting it.
func (s *Store) ReadDocument(week time.Time) (*models.ShardDocument, error) {
	path := s.ShardPath(WeekStart(week))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc models.ShardDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode shard %s: %w", filepath.Base(path), err)
	}
	validateDocument(&doc, filepath.Base(path))
	return &doc, nil
}

// ListShardsInRange returns the ascending week-start keys whose windows
// intersect [start, end]. Keys are returned whether or not the file exists;
// reads of missing shards simply come back empty.
func (s *Store) ListShardsInRange(start, end time.Time) []time.Time {
	return WeeksInRange(start, end)
}

// ShardFileInfo describes one shard file currently on disk.
type ShardFileInfo struct {
	Week time.Time
	Path string
	Size int64
}

// ShardsOnDisk lists the shard files actually present, ordered by week.
func (s *Store) ShardsOnDisk() ([]ShardFileInfo, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var shards []ShardFileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		week, err := ParseShardFilename(entry.Name())
		if err != nil {
			continue // not a shard file
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		shards = append(shards, ShardFileInfo{
			Week: week,
			Path: filepath.Join(s.dataDir, entry.Name()),
			Size: info.Size(),
		})
	}

	sort.Slice(shards, func(i, j int) bool { return shards[i].Week.Before(shards[j].Week) })
	return shards, nil
}

// RemoveShard deletes a shard file. Removing an absent shard is a no-op, so
// a retried purge stays idempotent.
func (s *Store) RemoveShard(week time.Time) error {
	err := os.Remove(s.ShardPath(WeekStart(week)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove shard: %w", err)
	}
	return nil
}

// TimeBounds reports the earliest and latest timestamps present anywhere in
// storage. Used to resolve "all available data" windows. ok is false when
// storage holds no readings at all.
func (s *Store) TimeBounds() (min, max time.Time, ok bool) {
	shards, err := s.ShardsOnDisk()
	if err != nil || len(shards) == 0 {
		return time.Time{}, time.Time{}, false
	}

	// Earliest shard with data gives the minimum, latest the maximum.
	// Corrupt or empty shards are skipped in both directions.
	for _, shard := range shards {
		if t, found := documentBound(s.loadShard(shard.Week), false); found {
			min = t
			ok = true
			break
		}
	}
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	for i := len(shards) - 1; i >= 0; i-- {
		if t, found := documentBound(s.loadShard(shards[i].Week), true); found {
			max = t
			break
		}
	}
	return min, max, true
}

func documentBound(doc *models.ShardDocument, wantMax bool) (time.Time, bool) {
	var bound time.Time
	found := false
	for _, metrics := range doc.Sensors {
		for _, series := range metrics {
			if series.Len() == 0 {
				continue
			}
			var t time.Time
			if wantMax {
				t = series.Timestamps[series.Len()-1]
			} else {
				t = series.Timestamps[0]
			}
			if !found || (wantMax && t.After(bound)) || (!wantMax && t.Before(bound)) {
				bound = t
				found = true
			}
		}
	}
	return bound, found
}

// Stats reports current storage usage.
func (s *Store) Stats(retentionHorizon time.Duration) (models.StorageStats, error) {
	shards, err := s.ShardsOnDisk()
	if err != nil {
		return models.StorageStats{}, err
	}
	stats := models.StorageStats{
		ShardCount:       len(shards),
		RetentionHorizon: retentionHorizon,
	}
	for _, shard := range shards {
		stats.TotalBytes += shard.Size
	}
	return stats, nil
}

// loadShard reads a shard document, treating a missing or unreadable file as
// empty. Callers get partial data rather than a failed operation.
func (s *Store) loadShard(week time.Time) *models.ShardDocument {
	path := s.ShardPath(week)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("shard", filepath.Base(path)).Msg("Failed to read shard, treating as empty")
		}
		return models.NewShardDocument()
	}

	var doc models.ShardDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn().Err(err).Str("shard", filepath.Base(path)).Msg("Corrupt shard, treating as empty")
		return models.NewShardDocument()
	}
	if doc.Sensors == nil {
		doc.Sensors = make(map[string]map[string]*models.Series)
	}
	validateDocument(&doc, filepath.Base(path))
	return &doc
}

// validateDocument drops series whose timestamp and value arrays disagree in
// length. The offending series reads as absent and is rebuilt on the next
// write to it.
func validateDocument(doc *models.ShardDocument, shardName string) {
	for sensorID, metrics := range doc.Sensors {
		for metric, series := range metrics {
			if series == nil || len(series.Timestamps) != len(series.Values) {
				log.Warn().
					Str("shard", shardName).
					Str("sensor", sensorID).
					Str("metric", metric).
					Msg("Series length mismatch, excluding series")
				delete(metrics, metric)
			}
		}
	}
}

// writeShard atomically replaces a shard file. Never writes in place.
func (s *Store) writeShard(week time.Time, doc *models.ShardDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode shard: %w", err)
	}

	path := s.ShardPath(week)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write shard temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace shard: %w", err)
	}
	return nil
}
