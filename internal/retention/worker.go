package retention

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/homesense/homesense/internal/models"
	"github.com/homesense/homesense/internal/store"
)

// Worker purges shards older than the retention horizon, archiving a
// statistical summary of each before deletion.
type Worker struct {
	store   *store.Store
	archive *ArchiveLog
	stats   *statsFile

	mu      sync.RWMutex
	horizon time.Duration
}

// NewWorker creates a retention worker. horizon is the age beyond which
// shards are purged.
func NewWorker(s *store.Store, archive *ArchiveLog, horizon time.Duration) *Worker {
	return &Worker{
		store:   s,
		archive: archive,
		stats:   newStatsFile(filepath.Join(s.DataDir(), "purge_stats.json")),
		horizon: horizon,
	}
}

// SetHorizon updates the retention horizon. Called when configuration is
// hot-reloaded.
func (w *Worker) SetHorizon(horizon time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.horizon = horizon
}

// Horizon returns the current retention horizon.
func (w *Worker) Horizon() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.horizon
}

// Run is the scheduled entrypoint: one purge pass with logging.
func (w *Worker) Run(ctx context.Context, now time.Time) error {
	result, err := w.Purge(ctx, now)
	if err != nil {
		return err
	}
	log.Info().
		Int("shards", result.ShardsPurged).
		Int64("bytesFreed", result.BytesFreed).
		Msg("Data purge completed")
	return nil
}

// Purge summarizes and deletes every shard whose week start is strictly
// before now minus the horizon. Per shard the order is fixed: summarize,
// append the archive record, then delete — so a crash in between is safe to
// retry (the shard simply no longer exists on the re-run). A shard that
// cannot be summarized is still purged, with the failure noted in its
// archive record; a shard whose archive append fails is kept for the next
// run.
func (w *Worker) Purge(ctx context.Context, now time.Time) (models.PurgeResult, error) {
	cutoff := now.Add(-w.Horizon())

	shards, err := w.store.ShardsOnDisk()
	if err != nil {
		return models.PurgeResult{}, fmt.Errorf("failed to list shards for purge: %w", err)
	}

	var result models.PurgeResult
	for _, shard := range shards {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !shard.Week.Before(cutoff) {
			continue
		}

		record := w.summarize(shard)
		if err := w.archive.Append(record); err != nil {
			log.Error().Err(err).
				Str("shard", filepath.Base(shard.Path)).
				Msg("Failed to archive shard summary, keeping shard")
			continue
		}

		if err := w.store.RemoveShard(shard.Week); err != nil {
			log.Error().Err(err).
				Str("shard", filepath.Base(shard.Path)).
				Msg("Failed to delete purged shard")
			continue
		}

		result.ShardsPurged++
		result.BytesFreed += shard.Size
		log.Debug().
			Str("shard", filepath.Base(shard.Path)).
			Int64("bytes", shard.Size).
			Msg("Purged shard")
	}

	if result.ShardsPurged > 0 {
		if err := w.stats.record(now, result, w.Horizon()); err != nil {
			log.Warn().Err(err).Msg("Failed to save purge stats")
		}
	}
	return result, nil
}

// summarize computes the shard's archive record: per-metric min/max/mean
// across all sensors plus file metadata. A corrupt shard yields a record
// noting the failure instead of stats.
func (w *Worker) summarize(shard store.ShardFileInfo) models.ArchiveRecord {
	record := models.ArchiveRecord{
		Filename:   filepath.Base(shard.Path),
		WeekStart:  shard.Week,
		SizeBytes:  shard.Size,
		ArchivedAt: time.Now().UTC(),
	}

	doc, err := w.store.ReadDocument(shard.Week)
	if err != nil {
		record.Error = err.Error()
		return record
	}

	type agg struct {
		count int
		min   float64
		max   float64
		sum   float64
	}
	byMetric := make(map[string]*agg)
	points := 0

	for _, metrics := range doc.Sensors {
		for metric, series := range metrics {
			points += series.Len()
			for _, v := range series.Values {
				if v == nil {
					continue
				}
				a, ok := byMetric[metric]
				if !ok {
					a = &agg{min: *v, max: *v}
					byMetric[metric] = a
				}
				if *v < a.min {
					a.min = *v
				}
				if *v > a.max {
					a.max = *v
				}
				a.sum += *v
				a.count++
			}
		}
	}

	record.DataPoints = points
	record.Metrics = make(map[string]models.MetricSummary, len(byMetric))
	for metric, a := range byMetric {
		record.Metrics[metric] = models.MetricSummary{
			Count: a.count,
			Min:   a.min,
			Max:   a.max,
			Mean:  a.sum / float64(a.count),
		}
	}
	return record
}

// StorageStats reports current usage alongside the active horizon.
func (w *Worker) StorageStats() (models.StorageStats, error) {
	return w.store.Stats(w.Horizon())
}
