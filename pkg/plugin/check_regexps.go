package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-viper/mapstructure/v2"

	"github.com/manytask/checker/pkg/pipeline"
)

// CheckRegexpsArgs is check_regexps's declared argument shape.
type CheckRegexpsArgs struct {
	Origin   string   `mapstructure:"origin"`
	Patterns []string `mapstructure:"patterns"`
	Regexps  []string `mapstructure:"regexps"`
}

// CheckRegexpsPlugin fails a stage the first time any file matching Patterns
// under Origin contains a match for any of Regexps — used to ban forbidden
// constructs (e.g. a banned standard-library call) from student submissions.
type CheckRegexpsPlugin struct{}

// Schema implements pipeline.Plugin.
func (p *CheckRegexpsPlugin) Schema() any { return CheckRegexpsArgs{} }

// Run implements pipeline.Plugin.
func (p *CheckRegexpsPlugin) Run(_ context.Context, _ *pipeline.Context, rawArgs map[string]any, _ bool) (pipeline.PluginOutput, error) {
	var args CheckRegexpsArgs
	if err := mapstructure.Decode(rawArgs, &args); err != nil {
		return pipeline.PluginOutput{}, argError("checkRegexps", err)
	}

	if _, err := os.Stat(args.Origin); err != nil {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: origin %q does not exist", ErrPluginExecutionFailed, args.Origin)
	}

	regexps := make([]*regexp.Regexp, 0, len(args.Regexps))

	for _, pattern := range args.Regexps {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return pipeline.PluginOutput{}, fmt.Errorf("%w: invalid regexp %q: %w", ErrPluginExecutionFailed, pattern, err)
		}

		regexps = append(regexps, re)
	}

	for _, glob := range args.Patterns {
		matches, err := filepath.Glob(filepath.Join(args.Origin, glob))
		if err != nil {
			return pipeline.PluginOutput{}, fmt.Errorf("%w: invalid pattern %q: %w", ErrPluginExecutionFailed, glob, err)
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}

			content, err := os.ReadFile(match)
			if err != nil {
				return pipeline.PluginOutput{}, fmt.Errorf("%w: read %q: %w", ErrPluginExecutionFailed, match, err)
			}

			for i, re := range regexps {
				if re.Match(content) {
					return pipeline.PluginOutput{Stdout: fmt.Sprintf("file %q matches forbidden pattern %q", match, args.Regexps[i])},
						fmt.Errorf("%w: file %q matches forbidden regexp %q", ErrPluginExecutionFailed, match, args.Regexps[i])
				}
			}
		}
	}

	return pipeline.PluginOutput{Stdout: "no forbidden patterns found", Percentage: 1.0}, nil
}
