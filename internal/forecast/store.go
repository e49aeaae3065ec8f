package forecast

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/homesense/homesense/internal/models"
)

// Document is the on-disk forecast store: one JSON document keyed by metric
// name. Each worker run replaces it wholesale.
type Document struct {
	Metrics   map[string]models.ForecastRecord `json:"metrics"`
	UpdatedAt time.Time                        `json:"updatedAt"`
}

// Store persists forecast records with the same atomic-replace discipline as
// shard files.
type Store struct {
	path string
	mu   sync.RWMutex
}

// NewStore creates a forecast store at path (conventionally
// <dataDir>/forecasts.json).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the current document. A missing or corrupt file loads as empty;
// the next run rewrites it.
func (s *Store) Load() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() Document {
	doc := Document{Metrics: make(map[string]models.ForecastRecord)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to read forecast store")
		}
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn().Err(err).Msg("Corrupt forecast store, starting empty")
		return Document{Metrics: make(map[string]models.ForecastRecord)}
	}
	if doc.Metrics == nil {
		doc.Metrics = make(map[string]models.ForecastRecord)
	}
	return doc
}

// Get returns the forecast record for one metric.
func (s *Store) Get(metric string) (models.ForecastRecord, bool) {
	doc := s.Load()
	rec, ok := doc.Metrics[metric]
	return rec, ok
}

// Replace atomically swaps in a new document containing exactly the given
// records.
func (s *Store) Replace(records map[string]models.ForecastRecord, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := Document{Metrics: records, UpdatedAt: updatedAt.UTC()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode forecasts: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write forecasts: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace forecasts: %w", err)
	}
	return nil
}
