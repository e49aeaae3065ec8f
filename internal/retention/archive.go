// Package retention bounds storage growth by age: shards past the retention
// horizon are summarized into a permanent archive log and deleted.
package retention

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/homesense/homesense/internal/models"
)

// ArchiveLog is an append-only sequence of shard summary documents, one JSON
// document per line. Records are never mutated or purged once written.
type ArchiveLog struct {
	path string
	mu   sync.Mutex
}

// NewArchiveLog creates an archive log at path (conventionally
// <dataDir>/archive.log).
func NewArchiveLog(path string) *ArchiveLog {
	return &ArchiveLog{path: path}
}

// Append writes one archive record. The underlying O_APPEND write keeps the
// log intact for concurrent readers.
func (a *ArchiveLog) Append(record models.ArchiveRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode archive record: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open archive log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append archive record: %w", err)
	}
	return nil
}

// Records reads every archive record. Unparseable lines are logged and
// skipped rather than failing the read.
func (a *ArchiveLog) Records() ([]models.ArchiveRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open archive log: %w", err)
	}
	defer f.Close()

	var records []models.ArchiveRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record models.ArchiveRecord
		if err := json.Unmarshal(line, &record); err != nil {
			log.Warn().Err(err).Msg("Skipping unparseable archive record")
			continue
		}
		records = append(records, record)
	}
	return records, scanner.Err()
}
