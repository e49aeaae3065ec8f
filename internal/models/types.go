// Package models holds the domain types shared across the storage, query,
// retention and forecasting packages.
package models

import (
	"fmt"
	"time"
)

// Series is one sensor metric's readings: two equal-length ordered slices.
// Values may be nil where a reading was recorded with no usable value.
type Series struct {
	Timestamps []time.Time `json:"timestamps"`
	Values     []*float64  `json:"values"`
}

// Len returns the number of readings in the series.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Timestamps)
}

// ShardDocument is the on-disk shape of one weekly shard file: every
// sensor's series whose readings fall inside that calendar week.
type ShardDocument struct {
	Sensors map[string]map[string]*Series `json:"sensors"`
}

// NewShardDocument returns an empty shard document ready for merging.
func NewShardDocument() *ShardDocument {
	return &ShardDocument{Sensors: make(map[string]map[string]*Series)}
}

// Reading is a single timestamped value handed to Append.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"`
}

// SensorDescriptor describes one sensor. Metrics is the set of metric names
// the sensor produces, discovered from shard contents or configured.
type SensorDescriptor struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Location string   `json:"location,omitempty"`
	Metrics  []string `json:"metrics"`
}

// SeriesKey identifies one selected (sensor, metric) pair in a query.
type SeriesKey struct {
	SensorID string `json:"sensorId"`
	Metric   string `json:"metric"`
}

// String renders the key the way aligned rows index their value columns.
func (k SeriesKey) String() string {
	return fmt.Sprintf("%s.%s", k.SensorID, k.Metric)
}

// Selection pairs a sensor with the metrics requested from it.
type Selection struct {
	SensorID string   `json:"sensorId"`
	Metrics  []string `json:"metrics"`
}

// AlignedRow is one synchronized output row: a timestamp plus one optional
// value per selected series, keyed by SeriesKey.String(). Absent readings
// stay nil; nothing is interpolated.
type AlignedRow struct {
	Timestamp time.Time           `json:"timestamp"`
	Values    map[string]*float64 `json:"values"`
}

// QueryResult is the aligned table returned to the chart layer.
type QueryResult struct {
	Rows  []AlignedRow `json:"rows"`
	Count int          `json:"count"`
}

// AccuracyMetrics tracks rolling forecast error for one metric.
type AccuracyMetrics struct {
	MAE     float64 `json:"mae"`
	RMSE    float64 `json:"rmse"`
	MAPE    float64 `json:"mape"`
	Samples int     `json:"samples"`
}

// ForecastRecord is one metric's full forecast output. Each forecasting run
// replaces the record wholesale; it is never partially updated.
type ForecastRecord struct {
	Metric      string          `json:"metric"`
	Timestamps  []time.Time     `json:"timestamps"`
	Values      []float64       `json:"values"`
	UpperBound  []float64       `json:"upperBound"`
	LowerBound  []float64       `json:"lowerBound"`
	Model       string          `json:"model"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Accuracy    AccuracyMetrics `json:"accuracy"`
}

// MetricSummary is the per-metric statistical summary archived before a
// shard is purged.
type MetricSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// ArchiveRecord permanently summarizes one purged shard. Append-only; an
// Error is recorded when summarization failed but the shard was purged
// anyway.
type ArchiveRecord struct {
	Filename   string                   `json:"filename"`
	WeekStart  time.Time                `json:"weekStart"`
	SizeBytes  int64                    `json:"sizeBytes"`
	DataPoints int                      `json:"dataPoints"`
	Metrics    map[string]MetricSummary `json:"metrics,omitempty"`
	ArchivedAt time.Time                `json:"archivedAt"`
	Error      string                   `json:"error,omitempty"`
}

// SensorUpdate is the live-dashboard event emitted after an append: the
// latest reading per metric for one sensor.
type SensorUpdate struct {
	SensorID  string              `json:"sensorId"`
	Timestamp time.Time           `json:"timestamp"`
	Metrics   map[string]*float64 `json:"metrics"`
}

// PurgeResult reports one retention run.
type PurgeResult struct {
	ShardsPurged int   `json:"shardsPurged"`
	BytesFreed   int64 `json:"bytesFreed"`
}

// StorageStats describes current on-disk usage.
type StorageStats struct {
	TotalBytes       int64         `json:"totalBytes"`
	ShardCount       int           `json:"shardCount"`
	RetentionHorizon time.Duration `json:"retentionHorizon"`
}
