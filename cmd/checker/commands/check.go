package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	checkCmdUse   = "check <root> <referenceRoot>"
	checkCmdShort = "Run selected tasks' test pipelines without submitting a score"
	checkArgCount = 2
)

type checkFlags struct {
	tasks       []string
	groups      []string
	concurrency int
	noClean     bool
	dryRun      bool
	verbose     bool
}

// NewCheckCommand creates the check subcommand.
func NewCheckCommand() *cobra.Command {
	flags := &checkFlags{}

	cmd := &cobra.Command{
		Use:   checkCmdUse,
		Short: checkCmdShort,
		Args:  cobra.ExactArgs(checkArgCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args[0], args[1], flags)
		},
	}

	cmd.Flags().StringSliceVar(&flags.tasks, "task", nil, "grade only these tasks (repeatable)")
	cmd.Flags().StringSliceVar(&flags.groups, "group", nil, "grade only tasks in these groups (repeatable)")
	cmd.Flags().IntVar(&flags.concurrency, "num-processes", 0, "max tasks graded concurrently (0 = GOMAXPROCS)")
	cmd.Flags().BoolVar(&flags.noClean, "no-clean", false, "keep the staged working directory after the run")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "run pipelines without side-effecting stages")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "stream stage output")

	return cmd
}

func runCheck(cmd *cobra.Command, root, referenceRoot string, flags *checkFlags) error {
	logger := slog.Default()

	bundle, err := loadCourse(referenceRoot, logger)
	if err != nil {
		return err
	}

	now := time.Now()

	tasks, err := selectTasks(bundle, now, flags.tasks, flags.groups)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "checker-check-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	if !flags.noClean {
		defer os.RemoveAll(workDir)
	}

	exp := buildExporter(bundle, referenceRoot, logger, now)

	if err := exp.ExportForTesting(workDir); err != nil {
		return fmt.Errorf("stage working directory: %w", err)
	}

	t, err := buildTester(bundle, referenceRoot, root, logger, flags.verbose, flags.dryRun)
	if err != nil {
		return err
	}

	t.Concurrency = flags.concurrency

	result, err := t.Run(cmd.Context(), workDir, tasks, false, now)
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
