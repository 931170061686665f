package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/manytask/checker/internal/schema"
)

const (
	schemaCmdUse   = "schema <outputFolder>"
	schemaCmdShort = "Write JSON Schema documents for the config shapes and every built-in plugin's arguments"
	schemaArgCount = 1
)

// NewSchemaCommand creates the schema subcommand.
func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   schemaCmdUse,
		Short: schemaCmdShort,
		Args:  cobra.ExactArgs(schemaArgCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd, args[0])
		},
	}
}

func runSchema(cmd *cobra.Command, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	for name, v := range schema.Shapes() {
		if err := schema.WriteFile(outputDir, name, schema.Generate(name, v)); err != nil {
			return fmt.Errorf("write schema for %s: %w", name, err)
		}

		cmd.Printf("generated schema for %s\n", name)
	}

	return nil
}
