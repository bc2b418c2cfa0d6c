package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sis-grade-sync/internal/app"
	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/internal/report"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	stageSource string
)

var rootCmd = &cobra.Command{
	Use:           "sisctl",
	Short:         "Run the SIS grade sync workflows by hand",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the sis_* tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(_ context.Context, a *app.App) error {
			return a.Migrate()
		})
	},
}

var stageCmd = &cobra.Command{
	Use:   "stage <odl|pd|hybrid>",
	Short: "Extract grades for a pipeline and stage them in the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipelineJob(cmd.Context(), model.JobStageGrades, args[0], stageSource)
	},
}

var postCmd = &cobra.Command{
	Use:   "post <odl|pd|hybrid>",
	Short: "Post the unposted ledger rows of a pipeline to the SIS",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipelineJob(cmd.Context(), model.JobPostGrades, args[0], "")
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile-visibility",
	Short: "Make courses with unresolved sections Public and Active in the SIS",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runJob(cmd.Context(), model.NewRunJob(model.JobReconcileVisibility, ""))
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo-visibility",
	Short: "Restore the logged visibility of courses once their sections resolve",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runJob(cmd.Context(), model.NewRunJob(model.JobUndoVisibility, ""))
	},
}

var enrollCmd = &cobra.Command{
	Use:   "sync-enrollments",
	Short: "Mirror SIS class lists into the enrollment tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runJob(cmd.Context(), model.NewRunJob(model.JobSyncEnrollments, ""))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or config.yaml)")
	stageCmd.Flags().StringVar(&stageSource, "source", "", "storage key of the hybrid master file (default: newest upload)")

	rootCmd.AddCommand(migrateCmd, stageCmd, postCmd, reconcileCmd, undoCmd, enrollCmd)
}

func runPipelineJob(ctx context.Context, kind model.JobKind, name, source string) error {
	pipeline, err := model.ParsePipeline(name)
	if err != nil {
		return err
	}
	job := model.NewRunJob(kind, pipeline)
	job.Source = source
	return runJob(ctx, job)
}

// runJob goes through the same runner as the queue worker, so reports and
// notifications behave the same.
func runJob(ctx context.Context, job model.RunJob) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		summary, err := a.Runner.Run(ctx, job)
		if summary != nil {
			fmt.Fprintln(os.Stdout, report.FormatSummary(summary))
		}
		return err
	})
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	if configPath != "" {
		os.Setenv("CONFIG_PATH", configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format, "sisctl")

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
