package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/homesense/homesense/internal/config"
	"github.com/homesense/homesense/internal/core"
	"github.com/homesense/homesense/internal/forecast"
	"github.com/homesense/homesense/internal/logging"
	"github.com/homesense/homesense/internal/query"
	"github.com/homesense/homesense/internal/retention"
	"github.com/homesense/homesense/internal/scheduler"
	"github.com/homesense/homesense/internal/store"
	"github.com/homesense/homesense/internal/websocket"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "homesense",
	Short:   "Homesense - environmental sensor storage and forecasting daemon",
	Long:    `Homesense ingests environmental sensor readings into weekly shards, answers aligned chart queries, forecasts near-future values, and enforces the retention policy.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Homesense %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon() {
	// Baseline logger for early startup messages.
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "homesense"})

	cfg, usedConfigPath, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.Logging.Format,
		Level:     cfg.Logging.Level,
		Component: "homesense",
	})

	log.Info().Str("version", Version).Str("dataDir", cfg.DataDir).Msg("Starting homesense")

	shardStore, err := store.New(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open shard store")
	}

	registry := store.NewRegistry(shardStore)
	if err := registry.Discover(); err != nil {
		log.Warn().Err(err).Msg("Initial sensor discovery failed")
	}

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	engine := query.NewEngine(shardStore)

	archive := retention.NewArchiveLog(filepath.Join(cfg.DataDir, "archive.log"))
	retentionWorker := retention.NewWorker(shardStore, archive, cfg.Retention.Horizon())

	forecastStore := forecast.NewStore(filepath.Join(cfg.DataDir, "forecasts.json"))
	fitter := &forecast.TrendSeasonalFitter{MinSamples: cfg.Forecast.MinSamples}
	forecastWorker := forecast.NewWorker(shardStore, registry, forecastStore, fitter, hub, forecast.Config{
		HistoryWindow: time.Duration(cfg.Forecast.HistoryWeeks) * 7 * 24 * time.Hour,
		MinSamples:    cfg.Forecast.MinSamples,
		HorizonSteps:  cfg.Forecast.HorizonSteps,
	})

	service := core.New(shardStore, registry, engine, retentionWorker, forecastStore, hub, cfg.Query.DefaultPointBudget)
	if stats, err := service.StorageStats(); err == nil {
		log.Info().
			Int("shards", stats.ShardCount).
			Int64("totalBytes", stats.TotalBytes).
			Dur("retentionHorizon", stats.RetentionHorizon).
			Msg("Shard store ready")
	}

	sched := scheduler.New()
	mustAdd := func(job scheduler.Job) {
		if err := sched.Add(job); err != nil {
			log.Fatal().Err(err).Str("job", job.ID).Msg("Failed to register job")
		}
	}
	mustAdd(scheduler.Job{
		ID:           "forecasting",
		Name:         "Generate forecasts",
		Every:        time.Duration(cfg.Forecast.IntervalMinutes) * time.Minute,
		MisfireGrace: time.Duration(cfg.Forecast.MisfireGraceMinutes) * time.Minute,
		Run:          forecastWorker.Run,
	})
	mustAdd(scheduler.Job{
		ID:           "retention",
		Name:         "Purge old shards",
		At:           cfg.Retention.DailyAt,
		MisfireGrace: time.Duration(cfg.Retention.MisfireGraceMinutes) * time.Minute,
		Run:          retentionWorker.Run,
	})
	sched.Start()
	defer sched.Stop()

	// Retention horizon and forecast tunables may change while running.
	if usedConfigPath != "" {
		watcher, err := config.Watch(usedConfigPath, func(updated *config.Settings) {
			retentionWorker.SetHorizon(updated.Retention.Horizon())
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config watcher unavailable")
		} else {
			defer watcher.Close()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
}
