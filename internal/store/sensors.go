package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/homesense/homesense/internal/models"
)

const sensorsFilename = "sensors.json"

// Registry tracks known sensor descriptors. Descriptors come from an
// explicit sensors.json configuration when present and are supplemented by
// discovery from shard contents. Only display names change at runtime.
type Registry struct {
	store *Store
	path  string

	mu      sync.RWMutex
	sensors map[string]*models.SensorDescriptor
}

// NewRegistry creates a registry backed by the store's data directory,
// loading any existing sensors.json.
func NewRegistry(store *Store) *Registry {
	r := &Registry{
		store:   store,
		path:    filepath.Join(store.DataDir(), sensorsFilename),
		sensors: make(map[string]*models.SensorDescriptor),
	}
	r.load()
	return r
}

func (r *Registry) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to read sensor config")
		}
		return
	}

	var descriptors []models.SensorDescriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		log.Warn().Err(err).Msg("Corrupt sensor config, starting from discovery")
		return
	}

	for i := range descriptors {
		d := descriptors[i]
		if d.ID == "" {
			continue
		}
		r.sensors[d.ID] = &d
	}
	log.Debug().Int("sensors", len(r.sensors)).Msg("Loaded sensor config")
}

// Discover walks the shard files on disk and folds every sensor and metric
// found into the registry. Unknown sensors get a descriptor named after
// their ID; known sensors have their metric sets unioned.
func (r *Registry) Discover() error {
	shards, err := r.store.ShardsOnDisk()
	if err != nil {
		return fmt.Errorf("failed to list shards for discovery: %w", err)
	}

	found := make(map[string]map[string]struct{})
	for _, shard := range shards {
		doc := r.store.loadShard(shard.Week)
		for sensorID, metrics := range doc.Sensors {
			set, ok := found[sensorID]
			if !ok {
				set = make(map[string]struct{})
				found[sensorID] = set
			}
			for metric := range metrics {
				set[metric] = struct{}{}
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for sensorID, metricSet := range found {
		desc, ok := r.sensors[sensorID]
		if !ok {
			desc = &models.SensorDescriptor{ID: sensorID, Name: sensorID}
			r.sensors[sensorID] = desc
		}
		existing := make(map[string]struct{}, len(desc.Metrics))
		for _, m := range desc.Metrics {
			existing[m] = struct{}{}
		}
		for metric := range metricSet {
			if _, ok := existing[metric]; !ok {
				desc.Metrics = append(desc.Metrics, metric)
			}
		}
		sort.Strings(desc.Metrics)
	}

	log.Info().Int("sensors", len(r.sensors)).Msg("Sensor discovery completed")
	return nil
}

// Get returns one sensor descriptor.
func (r *Registry) Get(sensorID string) (models.SensorDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.sensors[sensorID]
	if !ok {
		return models.SensorDescriptor{}, false
	}
	return *desc, true
}

// List returns all descriptors ordered by sensor ID.
func (r *Registry) List() []models.SensorDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SensorDescriptor, 0, len(r.sensors))
	for _, desc := range r.sensors {
		out = append(out, *desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetDisplayName updates a sensor's display name and persists the registry.
// Display names are the only mutable descriptor field.
func (r *Registry) SetDisplayName(sensorID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.sensors[sensorID]
	if !ok {
		return fmt.Errorf("%w: unknown sensor %q", ErrInvalidArgument, sensorID)
	}
	desc.Name = name
	return r.saveLocked()
}

// saveLocked persists the registry with the same atomic replace discipline
// as shard files. Caller must hold mu.
func (r *Registry) saveLocked() error {
	out := make([]models.SensorDescriptor, 0, len(r.sensors))
	for _, desc := range r.sensors {
		out = append(out, *desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sensor config: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sensor config: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace sensor config: %w", err)
	}
	return nil
}
