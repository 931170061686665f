package plugin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"

	"github.com/manytask/checker/pkg/pipeline"
)

// CopyFilesArgs is copy_files's declared argument shape.
type CopyFilesArgs struct {
	SourceDir      string   `mapstructure:"sourceDir"`
	TargetDir      string   `mapstructure:"targetDir"`
	Patterns       []string `mapstructure:"patterns"`
	IgnorePatterns []string `mapstructure:"ignorePatterns"`
}

// CopyFilesPlugin copies every file under SourceDir matching Patterns (but
// not IgnorePatterns) into TargetDir, preserving relative paths — used to
// assemble the sandbox's working tree from the task's public/private files.
type CopyFilesPlugin struct{}

// Schema implements pipeline.Plugin.
func (p *CopyFilesPlugin) Schema() any { return CopyFilesArgs{} }

// Run implements pipeline.Plugin.
func (p *CopyFilesPlugin) Run(_ context.Context, _ *pipeline.Context, rawArgs map[string]any, _ bool) (pipeline.PluginOutput, error) {
	var args CopyFilesArgs
	if err := mapstructure.Decode(rawArgs, &args); err != nil {
		return pipeline.PluginOutput{}, argError("copyFiles", err)
	}

	ignored, err := ignoredEntries(args.SourceDir, args.IgnorePatterns)
	if err != nil {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: %w", ErrPluginExecutionFailed, err)
	}

	copied := 0

	for _, pattern := range args.Patterns {
		matches, err := filepath.Glob(filepath.Join(args.SourceDir, pattern))
		if err != nil {
			return pipeline.PluginOutput{}, fmt.Errorf("%w: invalid pattern %q: %w", ErrPluginExecutionFailed, pattern, err)
		}

		for _, src := range matches {
			if ignored[src] {
				continue
			}

			n, err := copyTree(src, args.SourceDir, args.TargetDir, ignored)
			if err != nil {
				return pipeline.PluginOutput{}, fmt.Errorf("%w: %w", ErrPluginExecutionFailed, err)
			}

			copied += n
		}
	}

	return pipeline.PluginOutput{Stdout: fmt.Sprintf("copied %d files", copied), Percentage: 1.0}, nil
}

func ignoredEntries(sourceDir string, patterns []string) (map[string]bool, error) {
	ignored := make(map[string]bool)

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(sourceDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}

		for _, m := range matches {
			ignored[m] = true
		}
	}

	return ignored, nil
}

func copyTree(src, sourceDir, targetDir string, ignored map[string]bool) (int, error) {
	if ignored[src] {
		return 0, nil
	}

	rel, err := filepath.Rel(sourceDir, src)
	if err != nil {
		return 0, err
	}

	dst := filepath.Join(targetDir, rel)

	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}

	if info.IsDir() {
		entries, err := os.ReadDir(src)
		if err != nil {
			return 0, err
		}

		total := 0

		for _, entry := range entries {
			n, err := copyTree(filepath.Join(src, entry.Name()), sourceDir, targetDir, ignored)
			if err != nil {
				return total, err
			}

			total += n
		}

		return total, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}

	if src == dst {
		return 1, nil
	}

	if err := copyFile(src, dst); err != nil {
		return 0, err
	}

	return 1, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)

	return err
}
