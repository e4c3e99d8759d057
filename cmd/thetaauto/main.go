package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"thetaauto/adapters/engine"
	"thetaauto/adapters/postgres"
	"thetaauto/adapters/report"
	"thetaauto/adapters/resultdb"
	"thetaauto/adapters/tabular"
	"thetaauto/app"
	"thetaauto/domain/model"
	"thetaauto/domain/result"
	"thetaauto/internal"
	"thetaauto/internal/config"
	"thetaauto/internal/migration"
	"thetaauto/ports"
	"thetaauto/ui"
)

// env bundles the loaded configuration and logger shared by all commands
type env struct {
	cfg    *config.Config
	logger *internal.Logger
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	var e env
	rootCmd := &cobra.Command{
		Use:           "thetaauto",
		Short:         "Build template-morphing models and drive the theta inference engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if workDir, _ := cmd.Flags().GetString("workdir"); workDir != "" {
				cfg.Paths.SetWorkDir(workDir)
			}
			e.cfg = cfg
			e.logger = internal.NewLogger(internal.ParseLogLevel(cfg.Log.Level))
			return nil
		},
	}
	rootCmd.PersistentFlags().String("workdir", "", "Work directory (overrides THETA_WORKDIR)")

	rootCmd.AddCommand(
		newBuildCmd(&e),
		newAnalyzeCmd(&e),
		newRunCmd(&e),
		newSummaryCmd(&e),
		newServeCmd(&e),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (e *env) loadModel(ctx context.Context, histos, planFile string) (*model.Model, *app.Plan, error) {
	store := tabular.NewStore(histos, e.logger)
	m, err := model.BuildModelFromSource(ctx, store, model.WithLogger(e.logger))
	if err != nil {
		return nil, nil, err
	}
	if planFile == "" {
		return m, &app.Plan{}, nil
	}
	plan, err := app.LoadPlan(planFile)
	if err != nil {
		return nil, nil, err
	}
	if err := app.ExecutePlan(m, plan); err != nil {
		return nil, nil, err
	}
	return m, plan, nil
}

func (e *env) runner() *engine.Runner {
	return &engine.Runner{
		Binary:      e.cfg.Engine.Binary,
		Args:        e.cfg.Engine.Args,
		WorkDir:     e.cfg.Paths.WorkDir,
		CacheDir:    e.cfg.Paths.CacheDir,
		Parallelism: e.cfg.Engine.Parallelism,
		Timeout:     e.cfg.Engine.Timeout,
		Logger:      e.logger,
	}
}

// openArchive connects and migrates the summary archive if one is configured
func (e *env) openArchive(ctx context.Context) (ports.SummaryArchive, func(), error) {
	if !e.cfg.Archive.Enabled() {
		return nil, func() {}, nil
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", e.cfg.Archive.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to summary archive: %w", err)
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return postgres.NewSummaryArchive(db), func() { db.Close() }, nil
}

func (e *env) service(archive ports.SummaryArchive) *app.AnalysisService {
	return app.NewAnalysisService(
		app.NewConfigWriter(e.cfg.Paths.WorkDir, model.CfgOptions{}),
		e.runner(),
		resultdb.Opener{Driver: e.cfg.Results.Driver},
		archive,
		e.logger,
	)
}

func newBuildCmd(e *env) *cobra.Command {
	var planFile string

	cmd := &cobra.Command{
		Use:   "build <histograms.csv|.xlsx>",
		Short: "Write the model configuration of every signal process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := e.loadModel(cmd.Context(), args[0], planFile)
			if err != nil {
				return err
			}
			names, err := e.service(nil).WriteModelConfigs(m)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(filepath.Join(e.cfg.Paths.WorkDir, name+".cfg"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&planFile, "plan", "", "YAML analysis plan applied to the model")
	return cmd
}

func newAnalyzeCmd(e *env) *cobra.Command {
	var planFile string

	cmd := &cobra.Command{
		Use:   "analyze <histograms.csv|.xlsx>",
		Short: "Build the model, run the plan's methods (model_summary if none) and write the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, plan, err := e.loadModel(ctx, args[0], planFile)
			if err != nil {
				return err
			}
			methods, err := plan.NewMethods(e.cfg.Engine.PluginFiles)
			if err != nil {
				return err
			}
			if len(methods) == 0 {
				methods = []app.Method{app.ModelSummary{}}
			}
			for _, method := range methods {
				if p, ok := method.(*app.Posteriors); ok {
					p.StoreName = "posteriors-data.csv"
					p.Store = tabular.NewStore(filepath.Join(e.cfg.Paths.WorkDir, p.StoreName), e.logger)
				}
			}

			archive, closeArchive, err := e.openArchive(ctx)
			if err != nil {
				return err
			}
			defer closeArchive()

			sink := report.New(report.Context{WorkDir: e.cfg.Paths.WorkDir, File: e.cfg.Paths.ReportFile})
			summaries, runErr := e.service(archive).Analyze(ctx, m, methods, sink)
			if err := sink.Close(); err != nil {
				return err
			}
			printSummaries(summaries)
			return runErr
		},
	}

	cmd.Flags().StringVar(&planFile, "plan", "", "YAML analysis plan (required)")
	cmd.MarkFlagRequired("plan")
	return cmd
}

func newRunCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "run <config-name>...",
		Short: "Run configurations of the work directory through the engine cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := e.runner()
			if err := r.Run(cmd.Context(), args); err != nil {
				return err
			}
			for _, name := range args {
				fmt.Println(r.CachedDB(name))
			}
			return nil
		},
	}
}

func newSummaryCmd(e *env) *cobra.Command {
	var table, column string

	cmd := &cobra.Command{
		Use:   "summary <result.db>",
		Short: "Summarize one result column of a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := resultdb.Open(ctx, e.cfg.Results.Driver, args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			data, err := r.Column(ctx, table, column)
			if err != nil {
				return err
			}
			s, err := result.Summarize("summary", "", result.InputData, column, data)
			if err != nil {
				return err
			}
			fmt.Printf("%s: n=%d observed %s expected %s\n", column, s.N, s.Observed(), s.Expected())
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "products", "Result table")
	cmd.Flags().StringVar(&column, "column", "bayes__quant09500", "Result column")
	return cmd
}

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the report and work directory over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, closeArchive, err := e.openArchive(cmd.Context())
			if err != nil {
				return err
			}
			defer closeArchive()

			browser := ui.NewApp(ui.Config{
				Port:    e.cfg.Server.Port,
				Report:  report.Context{WorkDir: e.cfg.Paths.WorkDir, File: e.cfg.Paths.ReportFile},
				Archive: archive,
				Logger:  e.logger,
			})
			return browser.ListenAndServe(e.cfg.Server.Port)
		},
	}
}

func printSummaries(summaries []result.Summary) {
	for _, s := range summaries {
		fmt.Printf("%-16s %-20s %-5s %-28s %s\n", s.Method, s.Signal, s.Input, s.Quantity, s.Observed())
	}
}
