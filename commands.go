package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/catalog/roi"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/crawl"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/mas/api"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/metrics"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/processor"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
	gp "github.com/UCLM-PAFyC/libRemoteSensing-sub001/worker/gdalprocess"
)

func migrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending catalog schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return catalog.Migrate(a.config.Database.DSN(), a.logger)
		},
	}
}

// loadProject reads a project definition. A sourceDatabase entry
// selects the catalog database.
func (a *app) loadProject(path string) (*utils.ProjectDefinition, error) {
	def, err := utils.ParseProjectFile(path)
	if err != nil {
		return nil, err
	}
	if def.SourceDatabase != "" {
		a.config.Database.Name = def.SourceDatabase
	}
	if def.WorkingDatabase != "" && def.WorkingDatabase != a.config.Database.Name {
		a.logger.Warn("working database ignored, results are written as rasters",
			zap.String("working_database", def.WorkingDatabase), zap.String("catalog", a.config.Database.Name))
	}
	return def, nil
}

func initProjectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init-project <project file>",
		Short: "Register the ROIs of a project definition in the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			def, err := a.loadProject(args[0])
			if err != nil {
				return err
			}
			rois, err := roi.Load(def.RoiFile)
			if err != nil {
				return err
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, r := range rois {
				p := catalog.Project{
					Code:        r.Code,
					ResultsPath: def.ResultsPath,
					InitialJd:   def.InitialJd,
					FinalJd:     def.FinalJd,
					OutputSRID:  a.grid.SRID,
					WKT:         r.WKT,
				}
				if _, err := store.InsertProject(ctx, p, def.RoiSrid); err != nil {
					return err
				}
			}
			a.logger.Info("project initialised", zap.String("file", args[0]), zap.Int("rois", len(rois)))
			return nil
		},
	}
}

func crawlCommand(a *app) *cobra.Command {
	c := &crawl.Crawler{}
	cmd := &cobra.Command{
		Use:   "crawl <directory>...",
		Short: "Register the NDVI products described by YAML sidecars",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			c.Store = store
			c.Logger = a.logger
			c.Metrics = a.metrics
			for _, root := range args {
				if _, err := c.Run(ctx, root); err != nil {
					return fmt.Errorf("crawl %s: %w", root, err)
				}
			}
			return a.metrics.WriteTextfile(a.config.Metrics.TextFile)
		},
	}
	cmd.Flags().IntVar(&c.Conc, "conc", 8, "Directories read concurrently")
	cmd.Flags().StringVar(&c.Pattern, "pattern", "", "Filter expression over path and type (d or f)")
	cmd.Flags().BoolVar(&c.FollowSymlink, "follow-symlinks", false, "Descend into symbolic links")
	cmd.Flags().BoolVar(&c.DryRun, "dry-run", false, "Parse sidecars without writing to the catalog")
	return cmd
}

func (a *app) kcbModel(def *utils.ProjectDefinition) (processor.KcbModel, error) {
	if def.KcbExpression == "" {
		return processor.LinearKcb{M: def.KcbM, N: def.KcbN}, nil
	}
	return processor.NewExpressionKcb(def.KcbExpression, def.KcbM, def.KcbN)
}

func (a *app) unitLogger() (metrics.Logger, func()) {
	mc := a.config.Metrics
	if mc.LogDir == "" {
		return metrics.NewStdoutLogger(a.logger), func() {}
	}
	fl := metrics.NewFileLogger(mc.LogDir, mc.MaxLogFileSize, mc.MaxLogFiles, a.logger)
	return fl, fl.Close
}

func (a *app) merger(rasters *gp.Rasters) processor.Merger {
	if a.config.Merge.Builtin {
		return &processor.MosaicMerger{Rasters: rasters, SRID: a.grid.SRID}
	}
	return gp.NewExternalMerger(a.config.Merge.Command, a.logger)
}

// checkWindows warns when the catalog projects were registered with a
// date window other than the project file's, and when the ETH0 table
// leaves days of a project window uncovered. Accumulation runs over the
// catalog windows.
func (a *app) checkWindows(def *utils.ProjectDefinition, eth0 utils.Eth0Table, projects []catalog.Project) {
	first, last, _ := eth0.Span()
	for _, p := range projects {
		if p.InitialJd != def.InitialJd || p.FinalJd != def.FinalJd {
			a.logger.Warn("catalog project window differs from the project file",
				zap.String("roi", p.Code), zap.Int("initial_jd", p.InitialJd), zap.Int("final_jd", p.FinalJd),
				zap.Int("file_initial_jd", def.InitialJd), zap.Int("file_final_jd", def.FinalJd))
		}
		if gaps := eth0.Gaps(p.InitialJd, p.FinalJd); len(gaps) > 0 {
			a.logger.Warn("eth0 table does not cover the project window",
				zap.String("roi", p.Code), zap.Int("initial_jd", p.InitialJd), zap.Int("final_jd", p.FinalJd),
				zap.Int("eth0_first_jd", first), zap.Int("eth0_last_jd", last),
				zap.Int("missing_days", len(gaps)), zap.Int("first_missing_jd", gaps[0]))
		}
	}
}

func accumulateCommand(a *app) *cobra.Command {
	var (
		mode    string
		onError string
		noMerge bool
		summary string
	)
	cmd := &cobra.Command{
		Use:   "accumulate <project file>",
		Short: "Accumulate the crop water requirement of every ROI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if mode != "" {
				a.config.Accumulation.Mode = mode
			}
			if onError != "" {
				a.config.Accumulation.OnError = onError
			}
			if err := a.config.Validate(); err != nil {
				return err
			}

			def, err := a.loadProject(args[0])
			if err != nil {
				return err
			}
			eth0, err := utils.LoadEth0Table(def.Eth0File)
			if err != nil {
				return err
			}
			kcb, err := a.kcbModel(def)
			if err != nil {
				return err
			}

			report, err := processor.OpenReport(def.ReportFile)
			if err != nil {
				return err
			}
			defer report.Close()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			projects, err := store.Projects(ctx)
			if err != nil {
				return err
			}
			a.checkWindows(def, eth0, projects)

			unitLog, closeUnitLog := a.unitLogger()
			defer closeUnitLog()

			rasters := gp.NewRasters()
			o := &processor.Orchestrator{
				Catalog: store,
				Rasters: rasters,
				Geoms:   gp.Geometries{},
				Grid:    a.grid,
				Settings: processor.Settings{
					InitialNdvi: def.InitialNdvi,
					FinalNdvi:   def.FinalNdvi,
					Kcb:         kcb,
					Eth0:        eth0,
					OnError:     a.config.Accumulation.OnError,
				},
				Report:  report,
				Logger:  a.logger,
				Metrics: a.metrics,
				UnitLog: unitLog,
			}

			res, runErr := o.Run(ctx, a.config.Accumulation.Mode)
			if runErr == nil && a.config.Merge.Enabled && !noMerge {
				runErr = processor.RunMerges(ctx, a.merger(rasters), res.MergeTasks,
					a.config.Merge.Concurrency, a.logger, a.metrics)
			}
			if res != nil {
				a.logger.Info("accumulation finished", zap.String("run_id", res.RunID), zap.String("mode", res.Mode),
					zap.Int("outputs", len(res.Outputs)), zap.Int("failures", len(res.Failures)),
					zap.Int("merge_tasks", len(res.MergeTasks)))
				if summary != "" {
					if err := writeSummary(summary, res); err != nil {
						a.logger.Error("failed to write run summary", zap.String("file", summary), zap.Error(err))
					}
				}
			}

			if err := a.metrics.WriteTextfile(a.config.Metrics.TextFile); err != nil {
				a.logger.Error("failed to write metrics textfile", zap.Error(err))
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Processing variant: roi, roi_tile or tile")
	cmd.Flags().StringVar(&onError, "on-error", "", "Unit failure policy: abort or continue")
	cmd.Flags().BoolVar(&noMerge, "no-merge", false, "Skip the per ROI mosaic of tile outputs")
	cmd.Flags().StringVar(&summary, "summary", "", "Write the run result as JSON to this file")
	return cmd
}

func writeSummary(path string, res *processor.RunResult) error {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

func mergeCommand(a *app) *cobra.Command {
	var rois []string
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Mosaic the per tile outputs of ROIs into one raster each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			projects, err := store.Projects(ctx)
			if err != nil {
				return err
			}
			wanted := make(map[string]bool, len(rois))
			for _, code := range rois {
				wanted[code] = true
			}

			var tasks []processor.MergeTask
			for _, p := range projects {
				if len(wanted) > 0 && !wanted[p.Code] {
					continue
				}
				tasks = append(tasks, processor.MergeTaskFor(p))
			}

			err = processor.RunMerges(ctx, a.merger(gp.NewRasters()), tasks, a.config.Merge.Concurrency, a.logger, a.metrics)
			if werr := a.metrics.WriteTextfile(a.config.Metrics.TextFile); werr != nil {
				a.logger.Error("failed to write metrics textfile", zap.Error(werr))
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&rois, "roi", nil, "Limit the merge to these ROI codes")
	return cmd
}

func serveAPICommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-api",
		Short: "Serve the product catalog as JSON over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			ln, err := api.Listen(a.config.API.Port)
			if err != nil {
				return err
			}
			return api.NewServer(store, a.config.API.Memcache, a.logger, a.metrics).Serve(ctx, ln)
		},
	}
}

