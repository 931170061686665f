package commands

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

const (
	validateCmdUse   = "validate <root>"
	validateCmdShort = "Load and validate checker.yml, manytask.yml, and the on-disk course layout"
	validateArgCount = 1
)

// NewValidateCommand creates the validate subcommand.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   validateCmdUse,
		Short: validateCmdShort,
		Args:  cobra.ExactArgs(validateArgCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}
}

func runValidate(cmd *cobra.Command, root string) error {
	logger := slog.Default()

	bundle, err := loadCourse(root, logger)
	if err != nil {
		return err
	}

	t, err := buildTester(bundle, root, "", logger, false, true)
	if err != nil {
		return err
	}

	now := time.Now()

	if err := t.Validate(now, true); err != nil {
		return err
	}

	exp := buildExporter(bundle, root, logger, now)

	if err := exp.Validate(); err != nil {
		return err
	}

	cmd.Println("course configuration and layout are valid")

	return nil
}
