package forecast

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/homesense/homesense/internal/models"
	"github.com/homesense/homesense/internal/store"
)

// Broadcaster pushes forecast updates to live dashboard clients. Delivery is
// best-effort; implementations must never block the worker.
type Broadcaster interface {
	BroadcastForecastUpdate(record models.ForecastRecord)
}

// Config holds forecasting worker tunables.
type Config struct {
	HistoryWindow  time.Duration // how far back history is loaded
	MinSamples     int           // below this, a metric is skipped for the cycle
	HorizonSteps   int           // future steps per forecast, hourly granularity
	MatchTolerance time.Duration // actual-vs-forecast matching window for accuracy
	Concurrency    int           // metrics fitted in parallel
}

// DefaultConfig returns the standard forecasting settings: four weeks of
// history, 48 hourly steps ahead.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:  28 * 24 * time.Hour,
		MinSamples:     50,
		HorizonSteps:   48,
		MatchTolerance: 30 * time.Minute,
		Concurrency:    4,
	}
}

// Worker produces per-metric forecast records on a schedule.
type Worker struct {
	store       *store.Store
	registry    *store.Registry
	forecasts   *Store
	fitter      Fitter
	broadcaster Broadcaster // optional
	cfg         Config
}

// NewWorker creates a forecasting worker. broadcaster may be nil.
func NewWorker(s *store.Store, registry *store.Registry, forecasts *Store, fitter Fitter, broadcaster Broadcaster, cfg Config) *Worker {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultConfig().HistoryWindow
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	if cfg.HorizonSteps <= 0 {
		cfg.HorizonSteps = DefaultConfig().HorizonSteps
	}
	if cfg.MatchTolerance <= 0 {
		cfg.MatchTolerance = DefaultConfig().MatchTolerance
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Worker{
		store:       s,
		registry:    registry,
		forecasts:   forecasts,
		fitter:      fitter,
		broadcaster: broadcaster,
		cfg:         cfg,
	}
}

// Run generates a fresh forecast document: every tracked metric with enough
// recent history gets a new record; the rest are omitted this cycle. The
// previous cycle's records feed rolling accuracy before being replaced.
func (w *Worker) Run(ctx context.Context, now time.Time) error {
	if err := w.registry.Discover(); err != nil {
		log.Warn().Err(err).Msg("Sensor discovery failed before forecasting")
	}

	metrics := w.trackedMetrics()
	if len(metrics) == 0 {
		log.Debug().Msg("No metrics to forecast")
		return nil
	}

	prev := w.forecasts.Load()

	var mu sync.Mutex
	results := make(map[string]models.ForecastRecord)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, metric := range metrics {
		metric := metric
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			record, ok := w.forecastMetric(metric, prev.Metrics[metric], now)
			if ok {
				mu.Lock()
				results[metric] = record
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(results) == 0 {
		log.Info().Msg("Forecast cycle produced no records")
		return nil
	}

	if err := w.forecasts.Replace(results, now); err != nil {
		return err
	}

	if w.broadcaster != nil {
		for _, record := range results {
			w.broadcaster.BroadcastForecastUpdate(record)
		}
	}

	log.Info().Int("metrics", len(results)).Msg("Forecast generation completed")
	return nil
}

// forecastMetric builds one metric's record. ok is false when the metric is
// skipped this cycle (insufficient data).
func (w *Worker) forecastMetric(metric string, prev models.ForecastRecord, now time.Time) (models.ForecastRecord, bool) {
	timestamps, values := w.loadHistory(metric, now)
	if len(values) < w.cfg.MinSamples {
		log.Debug().
			Str("metric", metric).
			Int("samples", len(values)).
			Int("required", w.cfg.MinSamples).
			Msg("Skipping forecast, not enough history")
		return models.ForecastRecord{}, false
	}

	accuracy := prev.Accuracy
	if len(prev.Values) > 0 {
		accuracy = updateAccuracy(prev, timestamps, values, now, w.cfg.MatchTolerance)
	}

	model, err := w.fitter.Fit(timestamps, values)
	if err != nil {
		log.Warn().Err(err).Str("metric", metric).Msg("Model fit failed, skipping metric")
		return models.ForecastRecord{}, false
	}

	predicted, upper, lower := model.Forecast(w.cfg.HorizonSteps)

	base := timestamps[len(timestamps)-1]
	forecastTimes := make([]time.Time, w.cfg.HorizonSteps)
	for i := range forecastTimes {
		forecastTimes[i] = base.Add(time.Duration(i+1) * time.Hour)
	}

	return models.ForecastRecord{
		Metric:      metric,
		Timestamps:  forecastTimes,
		Values:      predicted,
		UpperBound:  upper,
		LowerBound:  lower,
		Model:       model.Name(),
		GeneratedAt: now.UTC(),
		Accuracy:    accuracy,
	}, true
}

// loadHistory merges a metric's readings across all sensors within the
// history window, averaging where multiple sensors report at the same
// instant, and returns them sorted ascending.
func (w *Worker) loadHistory(metric string, now time.Time) ([]time.Time, []float64) {
	start := now.Add(-w.cfg.HistoryWindow)
	weeks := w.store.ListShardsInRange(start, now)

	type bucket struct {
		sum   float64
		count int
	}
	merged := make(map[int64]*bucket)

	for _, sensor := range w.registry.List() {
		if !hasMetric(sensor, metric) {
			continue
		}
		for _, week := range weeks {
			series, ok := w.store.Read(sensor.ID, metric, week)
			if !ok {
				continue
			}
			for i, ts := range series.Timestamps {
				if ts.Before(start) || ts.After(now) || series.Values[i] == nil {
					continue
				}
				key := ts.UnixNano()
				b, ok := merged[key]
				if !ok {
					b = &bucket{}
					merged[key] = b
				}
				b.sum += *series.Values[i]
				b.count++
			}
		}
	}

	keys := make([]int64, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	timestamps := make([]time.Time, len(keys))
	values := make([]float64, len(keys))
	for i, k := range keys {
		b := merged[k]
		timestamps[i] = time.Unix(0, k).UTC()
		values[i] = b.sum / float64(b.count)
	}
	return timestamps, values
}

func (w *Worker) trackedMetrics() []string {
	seen := make(map[string]struct{})
	var metrics []string
	for _, sensor := range w.registry.List() {
		for _, metric := range sensor.Metrics {
			if _, ok := seen[metric]; !ok {
				seen[metric] = struct{}{}
				metrics = append(metrics, metric)
			}
		}
	}
	sort.Strings(metrics)
	return metrics
}

func hasMetric(sensor models.SensorDescriptor, metric string) bool {
	for _, m := range sensor.Metrics {
		if m == metric {
			return true
		}
	}
	return false
}
