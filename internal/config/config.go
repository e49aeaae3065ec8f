// Package config loads daemon settings from defaults, an optional config
// file, a .env file, and HOMESENSE_-prefixed environment variables, in that
// order of precedence.
package config

import (
	"fmt"
	"time"
)

// Settings is the daemon's full configuration.
type Settings struct {
	DataDir   string            `yaml:"dataDir" json:"dataDir"`
	Logging   LoggingSettings   `yaml:"logging" json:"logging"`
	Retention RetentionSettings `yaml:"retention" json:"retention"`
	Forecast  ForecastSettings  `yaml:"forecast" json:"forecast"`
	Query     QuerySettings     `yaml:"query" json:"query"`
}

// LoggingSettings controls log output.
type LoggingSettings struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// RetentionSettings controls the purge job.
type RetentionSettings struct {
	Weeks               int    `yaml:"weeks" json:"weeks"`
	DailyAt             string `yaml:"dailyAt" json:"dailyAt"`
	MisfireGraceMinutes int    `yaml:"misfireGraceMinutes" json:"misfireGraceMinutes"`
}

// Horizon returns the retention horizon as a duration.
func (r RetentionSettings) Horizon() time.Duration {
	return time.Duration(r.Weeks) * 7 * 24 * time.Hour
}

// ForecastSettings controls the forecasting job.
type ForecastSettings struct {
	IntervalMinutes     int `yaml:"intervalMinutes" json:"intervalMinutes"`
	MisfireGraceMinutes int `yaml:"misfireGraceMinutes" json:"misfireGraceMinutes"`
	MinSamples          int `yaml:"minSamples" json:"minSamples"`
	HorizonSteps        int `yaml:"horizonSteps" json:"horizonSteps"`
	HistoryWeeks        int `yaml:"historyWeeks" json:"historyWeeks"`
}

// QuerySettings controls query defaults.
type QuerySettings struct {
	DefaultPointBudget int `yaml:"defaultPointBudget" json:"defaultPointBudget"`
}

// DefaultSettings returns the baseline configuration: four-week retention
// purged daily at 02:00 UTC, hourly 48-step forecasts over four weeks of
// history.
func DefaultSettings() *Settings {
	return &Settings{
		DataDir: "./data",
		Logging: LoggingSettings{
			Level:  "info",
			Format: "auto",
		},
		Retention: RetentionSettings{
			Weeks:               4,
			DailyAt:             "02:00",
			MisfireGraceMinutes: 60,
		},
		Forecast: ForecastSettings{
			IntervalMinutes:     60,
			MisfireGraceMinutes: 10,
			MinSamples:          50,
			HorizonSteps:        48,
			HistoryWeeks:        4,
		},
		Query: QuerySettings{
			DefaultPointBudget: 500,
		},
	}
}

// Validate rejects configurations the daemon cannot run with.
func (s *Settings) Validate() error {
	if s.DataDir == "" {
		return fmt.Errorf("dataDir must not be empty")
	}
	if s.Retention.Weeks <= 0 {
		return fmt.Errorf("retention.weeks must be positive, got %d", s.Retention.Weeks)
	}
	if len(s.Retention.DailyAt) != 5 || s.Retention.DailyAt[2] != ':' {
		return fmt.Errorf("retention.dailyAt must be HH:MM, got %q", s.Retention.DailyAt)
	}
	if s.Forecast.IntervalMinutes <= 0 {
		return fmt.Errorf("forecast.intervalMinutes must be positive, got %d", s.Forecast.IntervalMinutes)
	}
	if s.Forecast.HorizonSteps <= 0 {
		return fmt.Errorf("forecast.horizonSteps must be positive, got %d", s.Forecast.HorizonSteps)
	}
	if s.Forecast.HistoryWeeks <= 0 {
		return fmt.Errorf("forecast.historyWeeks must be positive, got %d", s.Forecast.HistoryWeeks)
	}
	if s.Query.DefaultPointBudget <= 0 {
		return fmt.Errorf("query.defaultPointBudget must be positive, got %d", s.Query.DefaultPointBudget)
	}
	return nil
}
