package commands

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

const (
	exportCmdUse   = "export <referenceRoot> <exportRoot>"
	exportCmdShort = "Produce the public student-facing view of the course"
	exportArgCount = 2
)

type exportFlags struct {
	commit        bool
	commitMessage string
	dryRun        bool
}

// NewExportCommand creates the export subcommand.
func NewExportCommand() *cobra.Command {
	flags := &exportFlags{}

	cmd := &cobra.Command{
		Use:   exportCmdUse,
		Short: exportCmdShort,
		Args:  cobra.ExactArgs(exportArgCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, args[0], args[1], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.commit, "commit", false, "commit and push the exported tree to its export.destination remote")
	cmd.Flags().StringVar(&flags.commitMessage, "message", "", "commit message override (default: export.commitMessage)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "skip the commit/push step even with --commit")

	return cmd
}

func runExport(cmd *cobra.Command, referenceRoot, exportRoot string, flags *exportFlags) error {
	logger := slog.Default()

	bundle, err := loadCourse(referenceRoot, logger)
	if err != nil {
		return err
	}

	now := time.Now()

	exp := buildExporter(bundle, referenceRoot, logger, now)
	exp.DryRun = flags.dryRun

	message := flags.commitMessage
	if message == "" {
		message = bundle.Checker.Export.CommitMessage
	}

	if err := exp.ExportPublic(cmd.Context(), exportRoot, flags.commit, message); err != nil {
		return err
	}

	cmd.Println("exported public course view to", exportRoot)

	return nil
}
