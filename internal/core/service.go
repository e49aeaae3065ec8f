// Package core is the façade the external adapters call: append, query,
// forecast fetch, purge trigger, and storage stats. The ingestion, chart,
// chat and web layers all live outside this module and reach the pipeline
// only through this service.
package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/homesense/homesense/internal/forecast"
	"github.com/homesense/homesense/internal/models"
	"github.com/homesense/homesense/internal/query"
	"github.com/homesense/homesense/internal/retention"
	"github.com/homesense/homesense/internal/store"
)

// Broadcaster receives best-effort live-dashboard events. Implementations
// must never block; a missing subscriber must never affect storage
// operations.
type Broadcaster interface {
	BroadcastSensorUpdate(update models.SensorUpdate)
	BroadcastForecastUpdate(record models.ForecastRecord)
}

// timeNow is swapped out in tests.
var timeNow = time.Now

// Service wires the pipeline together behind the external interface.
type Service struct {
	store       *store.Store
	registry    *store.Registry
	engine      *query.Engine
	retention   *retention.Worker
	forecasts   *forecast.Store
	broadcaster Broadcaster // optional

	defaultPointBudget int
}

// New creates the service. broadcaster may be nil.
func New(s *store.Store, registry *store.Registry, engine *query.Engine, ret *retention.Worker, forecasts *forecast.Store, broadcaster Broadcaster, defaultPointBudget int) *Service {
	return &Service{
		store:              s,
		registry:           registry,
		engine:             engine,
		retention:          ret,
		forecasts:          forecasts,
		broadcaster:        broadcaster,
		defaultPointBudget: defaultPointBudget,
	}
}

// Append durably stores new readings for one sensor metric and emits a
// best-effort sensor_update event with the latest reading.
func (s *Service) Append(sensorID, metric string, readings []models.Reading) error {
	if err := s.store.Append(sensorID, metric, readings); err != nil {
		return err
	}

	if s.broadcaster != nil && len(readings) > 0 {
		latest := readings[0]
		for _, r := range readings[1:] {
			if r.Timestamp.After(latest.Timestamp) {
				latest = r
			}
		}
		s.broadcaster.BroadcastSensorUpdate(models.SensorUpdate{
			SensorID:  sensorID,
			Timestamp: latest.Timestamp.UTC(),
			Metrics:   map[string]*float64{metric: latest.Value},
		})
	}
	return nil
}

// Query answers a chart request. A zero point budget falls back to the
// configured default; negative budgets are rejected by the engine.
func (s *Service) Query(req query.Request) (models.QueryResult, error) {
	if req.PointBudget == 0 {
		req.PointBudget = s.defaultPointBudget
	}
	return s.engine.Execute(req)
}

// GetForecast returns the current forecast record for a metric.
func (s *Service) GetForecast(metric string) (models.ForecastRecord, bool) {
	return s.forecasts.Get(metric)
}

// PurgeNow runs one retention pass immediately, outside the schedule.
func (s *Service) PurgeNow(ctx context.Context) (models.PurgeResult, error) {
	result, err := s.retention.Purge(ctx, timeNow())
	if err != nil {
		return result, err
	}
	log.Info().
		Int("shards", result.ShardsPurged).
		Int64("bytesFreed", result.BytesFreed).
		Msg("Manual purge completed")
	return result, nil
}

// StorageStats reports current on-disk usage and the retention horizon.
func (s *Service) StorageStats() (models.StorageStats, error) {
	return s.retention.StorageStats()
}

// Sensors lists the known sensor descriptors.
func (s *Service) Sensors() []models.SensorDescriptor {
	return s.registry.List()
}

// RenameSensor updates a sensor's display name.
func (s *Service) RenameSensor(sensorID, name string) error {
	return s.registry.SetDisplayName(sensorID, name)
}
