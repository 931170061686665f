package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/manytask/checker/pkg/course"
)

const (
	gradeCmdUse   = "grade <root> <referenceRoot>"
	gradeCmdShort = "Detect changed tasks from the current git state and grade them"
	gradeArgCount = 2

	timestampLayout = time.RFC3339
)

type gradeFlags struct {
	submitScore bool
	timestamp   string
	noClean     bool
	dryRun      bool
	verbose     bool
}

// NewGradeCommand creates the grade subcommand.
func NewGradeCommand() *cobra.Command {
	flags := &gradeFlags{}

	cmd := &cobra.Command{
		Use:   gradeCmdUse,
		Short: gradeCmdShort,
		Args:  cobra.ExactArgs(gradeArgCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrade(cmd, args[0], args[1], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.submitScore, "submit-score", false, "run report pipelines for real instead of a forced dry run")
	cmd.Flags().StringVar(&flags.timestamp, "timestamp", "", "RFC3339 instant the deadline multiplier is computed against (default: now)")
	cmd.Flags().BoolVar(&flags.noClean, "no-clean", false, "keep the staged working directory after the run")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "run pipelines without side-effecting stages")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "stream stage output")

	return cmd
}

func runGrade(cmd *cobra.Command, root, referenceRoot string, flags *gradeFlags) error {
	logger := slog.Default()

	bundle, err := loadCourse(referenceRoot, logger)
	if err != nil {
		return err
	}

	timestamp := time.Now()

	if flags.timestamp != "" {
		timestamp, err = time.Parse(timestampLayout, flags.timestamp)
		if err != nil {
			return fmt.Errorf("parse --timestamp: %w", err)
		}
	}

	state, err := gitState(cmd.Context(), root)
	if err != nil {
		return fmt.Errorf("collect git state: %w", err)
	}

	tasks := bundle.Model.DetectChanges(course.ChangeDetectionMode(bundle.Checker.Testing.ChangesDetection), state)
	if len(tasks) == 0 {
		cmd.Println("no changed tasks detected, nothing to grade")

		return nil
	}

	workDir, err := os.MkdirTemp("", "checker-grade-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	if !flags.noClean {
		defer os.RemoveAll(workDir)
	}

	exp := buildExporter(bundle, referenceRoot, logger, timestamp)

	if err := exp.ExportForTesting(workDir); err != nil {
		return fmt.Errorf("stage working directory: %w", err)
	}

	t, err := buildTester(bundle, referenceRoot, root, logger, flags.verbose, flags.dryRun)
	if err != nil {
		return err
	}

	result, err := t.Run(cmd.Context(), workDir, tasks, flags.submitScore, timestamp)
	if err != nil {
		return err
	}

	for _, tr := range result.TaskResults {
		status := "ok"
		if tr.Failed {
			status = "FAILED"
		}

		cmd.Printf("%-30s %-7s %.1f%%\n", tr.TaskName, status, tr.ScorePercent*100)
	}

	if len(result.FailedTasks) > 0 {
		return fmt.Errorf("%d task(s) failed", len(result.FailedTasks))
	}

	return nil
}
