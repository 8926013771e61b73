package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/txnetl/internal/config"
	"github.com/JonMunkholm/txnetl/internal/extract"
	"github.com/JonMunkholm/txnetl/internal/load"
	"github.com/JonMunkholm/txnetl/internal/logging"
	"github.com/JonMunkholm/txnetl/internal/pipeline"
	"github.com/JonMunkholm/txnetl/internal/store"
	"github.com/JonMunkholm/txnetl/internal/store/postgres"
	"github.com/JonMunkholm/txnetl/internal/store/sqlite"
	"github.com/JonMunkholm/txnetl/internal/transform"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg *config.Config
}

// setup loads .env and the environment, then configures logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	envLoaded := godotenv.Overload() == nil

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "env_file", envLoaded, "config", cfg.String())
	return nil
}

// openStore connects to the configured engine.
func (a *app) openStore(ctx context.Context) (store.Repository, error) {
	switch a.cfg.Database.Driver {
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, a.cfg.Database.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		s, err := postgres.Open(ctx, a.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	}
}

// loadConfig builds the loader config. A non-empty override replaces
// ETL_STRATEGY.
func (a *app) loadConfig(override string) (load.Config, error) {
	raw := a.cfg.ETL.Strategy
	if override != "" {
		raw = override
	}
	strategy, err := load.ParseStrategy(strings.ToLower(raw))
	if err != nil {
		return load.Config{}, err
	}
	return load.Config{
		BatchSize:         a.cfg.ETL.BatchSize,
		SetBasedThreshold: a.cfg.ETL.SetBasedThreshold,
		BulkThreshold:     a.cfg.ETL.BulkThreshold,
		BulkEnabled:       a.cfg.ETL.BulkEnabled,
		Strategy:          strategy,
	}, nil
}

// statusTable returns the built-in synonyms plus any from
// ETL_STATUS_SYNONYMS_FILE.
func (a *app) statusTable() (*transform.StatusTable, error) {
	table := transform.DefaultStatusTable()
	if a.cfg.ETL.StatusSynonymsFile == "" {
		return table, nil
	}
	extra, err := transform.LoadStatusSynonyms(a.cfg.ETL.StatusSynonymsFile)
	if err != nil {
		return nil, err
	}
	slog.Info("status synonyms loaded", "file", a.cfg.ETL.StatusSynonymsFile, "extra", len(extra))
	return table.With(extra), nil
}

// newPipeline wires extractor, transformer, and loader over repo.
func (a *app) newPipeline(repo store.Repository, strategy string) (*pipeline.Pipeline, error) {
	ldCfg, err := a.loadConfig(strategy)
	if err != nil {
		return nil, err
	}
	statuses, err := a.statusTable()
	if err != nil {
		return nil, err
	}

	return pipeline.New(
		extract.New(extract.Config{MaxFileSize: a.cfg.ETL.MaxFileSize}),
		transform.New(transform.Config{Statuses: statuses}),
		load.New(repo, ldCfg),
		pipeline.Config{
			ProcessedPath: a.cfg.ETL.ProcessedPath,
			RejectsPath:   a.cfg.ETL.RejectsPath,
		},
	), nil
}
