package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/JonMunkholm/txnetl/internal/catalog"
	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/pipeline"
	"github.com/JonMunkholm/txnetl/internal/store"
	"github.com/JonMunkholm/txnetl/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// errRunFailed makes the process exit non-zero after the summary is printed.
var errRunFailed = errors.New("one or more files failed")

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:               "txnetl",
		Short:             "Load transaction files into the canonical store",
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.AddCommand(
		newRunCmd(a),
		newSchemaCmd(a),
		newCatalogCmd(a),
		newItemsCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
	)
	return root
}

// withStore opens the store, ensures the schema, and closes the store when
// fn returns.
func (a *app) withStore(ctx context.Context, fn func(repo store.Repository) error) error {
	repo, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return fn(repo)
}

// --- run ---

func newRunCmd(a *app) *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Extract, transform, and load files or directories",
		Long: `Run the pipeline over files or directories. With no paths the raw data
directory (ETL_DATA_RAW_PATH) is scanned. Files whose content was already
loaded are skipped.

Examples:
  txnetl run
  txnetl run data/raw/vendas_2024_03.csv
  txnetl run --strategy set data/raw`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				args = []string{a.cfg.ETL.RawDataPath}
			}

			return a.withStore(ctx, func(repo store.Repository) error {
				p, err := a.newPipeline(repo, strategy)
				if err != nil {
					return err
				}
				summary := p.Run(ctx, args)
				printSummary(os.Stdout, summary)
				if summary.Failed() {
					return errRunFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "force an insert strategy: auto, row, set, bulk")
	return cmd
}

// --- schema ---

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create tables and indexes when absent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(store.Repository) error {
				printSuccess("schema ready (%s)", a.cfg.Database.Driver)
				return nil
			})
		},
	}
}

// --- catalog / items ---

func newCatalogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog <file>",
		Short: "Load categories and products from a catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(repo store.Repository) error {
				res, err := catalog.LoadCatalog(cmd.Context(), repo, args[0])
				if err != nil {
					return err
				}
				printSuccess("catalog loaded: %d categories, %d products new, %d products existing",
					res.Categories, res.Products, res.Skipped)
				printRejected(res.Rejected)
				return nil
			})
		},
	}
}

func newItemsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "items <file>",
		Short: "Load transaction line items through a staged merge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(repo store.Repository) error {
				res, err := catalog.LoadItems(cmd.Context(), repo, args[0])
				if err != nil {
					return err
				}
				printSuccess("items loaded: %d inserted, %d skipped (unknown product or transaction, or already loaded)",
					res.Inserted, res.Skipped)
				printRejected(res.Rejected)
				return nil
			})
		},
	}
}

// --- history ---

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		status string
		runID  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent execution logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.LogFilter{RunID: runID, Limit: limit}
			if status != "" {
				filter.Status = core.LogStatus(strings.ToUpper(status))
			}
			return a.withStore(cmd.Context(), func(repo store.Repository) error {
				logs, err := repo.ListExecutionLogs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				printLogs(os.Stdout, logs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", store.DefaultListLimit, "maximum rows")
	cmd.Flags().StringVar(&status, "status", "", "filter by status: in_progress, success, partial, error")
	cmd.Flags().StringVar(&runID, "run", "", "filter by run id")
	return cmd
}

// --- serve ---

func newServeCmd(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ops server, optionally rescanning the raw data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(repo store.Repository) error {
				p, err := a.newPipeline(repo, "")
				if err != nil {
					return err
				}

				gate := pipeline.NewGate(a.cfg.ETL.RunWaitTime)
				sched := pipeline.NewScheduler(p, gate, pipeline.SchedulerConfig{
					Dir:      a.cfg.ETL.RawDataPath,
					Interval: a.cfg.ETL.WatchInterval,
				})
				srv := web.NewServer(repo, sched, a.cfg.Server)

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("ops server: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					slog.Info("shutting down")

					shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
					defer cancel()
					if err := gate.WaitForIdle(shutdownCtx); err != nil {
						slog.Warn("run did not finish before shutdown", "error", err)
					}
					return srv.Shutdown(shutdownCtx)
				})
				if watch {
					g.Go(func() error {
						sched.Start(gctx)
						return nil
					})
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "also run the raw data directory every ETL_WATCH_INTERVAL")
	return cmd
}
