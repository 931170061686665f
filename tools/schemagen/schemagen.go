// Package main generates JSON schemas for the course configuration shapes
// and every built-in plugin's declared argument struct.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/manytask/checker/internal/schema"
)

func main() {
	var outputDir string

	flag.StringVar(&outputDir, "o", "docs/schemas", "Output directory for schemas")
	flag.Parse()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	for name, v := range schema.Shapes() {
		if err := schema.WriteFile(outputDir, name, schema.Generate(name, v)); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing schema for %s: %v\n", name, err)
			os.Exit(1)
		}

		fmt.Printf("Generated schema for %s\n", name)
	}

	fmt.Println("All schemas generated successfully")
}
