// Package main provides the entry point for the checker CLI tool.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/manytask/checker/cmd/checker/commands"
	"github.com/manytask/checker/pkg/observability"
	"github.com/manytask/checker/pkg/version"
)

var (
	verbose bool
	quiet   bool

	otlpEndpoint string
	environment  string
)

func main() {
	version.InitBinaryVersion()

	providers, err := observability.Init(observability.Config{
		ServiceVersion: version.Version,
		Environment:    environment,
		Mode:           observability.ModeCLI,
		OTLPEndpoint:   otlpEndpoint,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: init observability: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("shutdown observability providers", "error", shutdownErr)
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "checker",
		Short: "checker - grading pipeline engine for programming courses",
		Long: `checker runs a course's grading pipelines against student submissions.

Commands:
  validate  Load and validate checker.yml, manytask.yml, and the course layout
  check     Run selected tasks' test pipelines without submitting a score
  grade     Detect changed tasks from the current git state and grade them
  export    Produce the public student-facing view of the course
  schema    Write JSON Schema documents for the config shapes and plugins`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector address (empty disables export)")
	rootCmd.PersistentFlags().StringVar(&environment, "environment", "dev", "deployment environment reported to observability backends")

	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(commands.NewCheckCommand())
	rootCmd.AddCommand(commands.NewGradeCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
	rootCmd.AddCommand(commands.NewSchemaCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "checker %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
