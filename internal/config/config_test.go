package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	assert.Equal(t, 4, s.Retention.Weeks)
	assert.Equal(t, "02:00", s.Retention.DailyAt)
	assert.Equal(t, 4*7*24*time.Hour, s.Retention.Horizon())
	assert.Equal(t, 60, s.Forecast.IntervalMinutes)
	assert.Equal(t, 48, s.Forecast.HorizonSteps)
	assert.Equal(t, 500, s.Query.DefaultPointBudget)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty data dir", func(s *Settings) { s.DataDir = "" }},
		{"zero retention", func(s *Settings) { s.Retention.Weeks = 0 }},
		{"bad daily time", func(s *Settings) { s.Retention.DailyAt = "2am" }},
		{"zero forecast interval", func(s *Settings) { s.Forecast.IntervalMinutes = 0 }},
		{"zero horizon steps", func(s *Settings) { s.Forecast.HorizonSteps = 0 }},
		{"zero history", func(s *Settings) { s.Forecast.HistoryWeeks = 0 }},
		{"zero point budget", func(s *Settings) { s.Query.DefaultPointBudget = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			tc.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homesense.yml")
	content := `
dataDir: /var/lib/homesense
retention:
  weeks: 8
  dailyAt: "03:30"
forecast:
  intervalMinutes: 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	settings, usedPath, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, usedPath)

	assert.Equal(t, "/var/lib/homesense", settings.DataDir)
	assert.Equal(t, 8, settings.Retention.Weeks)
	assert.Equal(t, "03:30", settings.Retention.DailyAt)
	assert.Equal(t, 30, settings.Forecast.IntervalMinutes)

	// Untouched fields keep their defaults.
	assert.Equal(t, 50, settings.Forecast.MinSamples)
	assert.Equal(t, 500, settings.Query.DefaultPointBudget)
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homesense.json")
	content := `{"dataDir": "/srv/homesense", "query": {"defaultPointBudget": 250}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	settings, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/homesense", settings.DataDir)
	assert.Equal(t, 250, settings.Query.DefaultPointBudget)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homesense.yml")
	require.NoError(t, os.WriteFile(path, []byte("retention:\n  weeks: 8\n"), 0o644))

	t.Setenv("HOMESENSE_RETENTION_WEEKS", "2")
	t.Setenv("HOMESENSE_DATA_DIR", "/env/data")
	t.Setenv("HOMESENSE_LOG_LEVEL", "DEBUG")

	settings, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, settings.Retention.Weeks, "environment must win over the file")
	assert.Equal(t, "/env/data", settings.DataDir)
	assert.Equal(t, "debug", settings.Logging.Level, "log level is normalized to lowercase")
}

func TestEnvIgnoresNonNumericOverride(t *testing.T) {
	t.Setenv("HOMESENSE_RETENTION_WEEKS", "many")

	settings, _, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, settings.Retention.Weeks)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homesense.yml")
	require.NoError(t, os.WriteFile(path, []byte("retention:\n  weeks: -1\n"), 0o644))

	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homesense.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))

	_, _, err := Load(path)
	assert.Error(t, err)
}
