package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const envPrefix = "HOMESENSE_"

var defaultConfigPaths = []string{
	"/etc/homesense/homesense.yml",
	"/etc/homesense/homesense.yaml",
	"/etc/homesense/homesense.json",
	"./homesense.yml",
	"./homesense.yaml",
	"./homesense.json",
}

// Load assembles settings from defaults, the first config file found
// (explicitPath first when given), .env, and environment variables. It
// returns the settings and the config file path actually used ("" when
// running on defaults).
func Load(explicitPath string) (*Settings, string, error) {
	// .env values become plain environment variables; existing ones win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	settings := DefaultSettings()

	paths := defaultConfigPaths
	if explicitPath != "" {
		paths = append([]string{explicitPath}, paths...)
	}

	usedPath := ""
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			usedPath = path
			break
		}
	}
	if usedPath != "" {
		if err := applyFile(settings, usedPath); err != nil {
			return nil, "", err
		}
		log.Info().Str("path", usedPath).Msg("Loaded configuration file")
	}

	applyEnv(settings)

	if err := settings.Validate(); err != nil {
		return nil, "", fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, usedPath, nil
}

func applyFile(settings *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, settings); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, settings); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
	return nil
}

func applyEnv(settings *Settings) {
	if val := os.Getenv(envPrefix + "DATA_DIR"); val != "" {
		settings.DataDir = val
	}
	if val := os.Getenv(envPrefix + "LOG_LEVEL"); val != "" {
		settings.Logging.Level = strings.ToLower(val)
	}
	if val := os.Getenv(envPrefix + "LOG_FORMAT"); val != "" {
		settings.Logging.Format = strings.ToLower(val)
	}
	if val := envInt("RETENTION_WEEKS"); val > 0 {
		settings.Retention.Weeks = val
	}
	if val := os.Getenv(envPrefix + "RETENTION_DAILY_AT"); val != "" {
		settings.Retention.DailyAt = val
	}
	if val := envInt("FORECAST_INTERVAL_MINUTES"); val > 0 {
		settings.Forecast.IntervalMinutes = val
	}
	if val := envInt("FORECAST_MIN_SAMPLES"); val > 0 {
		settings.Forecast.MinSamples = val
	}
	if val := envInt("FORECAST_HORIZON_STEPS"); val > 0 {
		settings.Forecast.HorizonSteps = val
	}
	if val := envInt("FORECAST_HISTORY_WEEKS"); val > 0 {
		settings.Forecast.HistoryWeeks = val
	}
	if val := envInt("QUERY_DEFAULT_POINT_BUDGET"); val > 0 {
		settings.Query.DefaultPointBudget = val
	}
}

func envInt(key string) int {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return 0
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Warn().Str("key", envPrefix+key).Str("value", val).Msg("Ignoring non-numeric environment override")
		return 0
	}
	return n
}
