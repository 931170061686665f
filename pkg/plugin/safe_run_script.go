package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/manytask/checker/pkg/pipeline"
	"github.com/manytask/checker/pkg/sandbox"
)

// Sandbox is an alias for sandbox.Sandbox, the isolation contract the
// sandboxed plugins run their commands through.
type Sandbox = sandbox.Sandbox

// SafeRunScriptArgs is safe_run_script's declared argument shape.
type SafeRunScriptArgs struct {
	Origin        string            `mapstructure:"origin"`
	Script        any               `mapstructure:"script"`
	TimeoutSecs   float64           `mapstructure:"timeout"`
	Input         string            `mapstructure:"input"`
	EnvAdditional map[string]string `mapstructure:"envAdditional"`
	EnvWhitelist  []string          `mapstructure:"envWhitelist"`
	PathsWhitelist []string         `mapstructure:"pathsWhitelist"`
	PathsBlacklist []string         `mapstructure:"pathsBlacklist"`
	LockNetwork   bool              `mapstructure:"lockNetwork"`
	AllowFallback bool              `mapstructure:"allowFallback"`
}

// SafeRunScriptPlugin runs a script inside Sandbox, isolating network,
// filesystem, and environment access. Falls back to an unsandboxed run
// (via RunScriptPlugin's semantics) when Sandbox is unavailable and
// AllowFallback is set.
type SafeRunScriptPlugin struct {
	Sandbox Sandbox
}

// Schema implements pipeline.Plugin.
func (p *SafeRunScriptPlugin) Schema() any { return SafeRunScriptArgs{} }

// Run implements pipeline.Plugin.
func (p *SafeRunScriptPlugin) Run(ctx context.Context, _ *pipeline.Context, rawArgs map[string]any, _ bool) (pipeline.PluginOutput, error) {
	var args SafeRunScriptArgs
	if err := mapstructure.Decode(rawArgs, &args); err != nil {
		return pipeline.PluginOutput{}, argError("safeRunScript", err)
	}

	argv, shell, err := scriptArgv(args.Script)
	if err != nil {
		return pipeline.PluginOutput{}, argError("safeRunScript", err)
	}

	if shell {
		argv = []string{"sh", "-c", argv[0]}
	}

	allowPaths := args.PathsWhitelist
	if args.Origin != "" {
		allowPaths = append(append([]string{}, allowPaths...), args.Origin)
	}

	var stdin *os.File

	if args.Input != "" {
		f, openErr := os.Open(args.Input)
		if openErr != nil {
			return pipeline.PluginOutput{}, fmt.Errorf("%w: open input %q: %w", ErrPluginExecutionFailed, args.Input, openErr)
		}
		defer f.Close()

		stdin = f
	}

	opts := sandbox.Options{
		AllowPaths:    allowPaths,
		DenyPaths:     args.PathsBlacklist,
		LockNetwork:   args.LockNetwork,
		EnvWhitelist:  args.EnvWhitelist,
		EnvAdditions:  args.EnvAdditional,
		WorkDir:       args.Origin,
		AllowFallback: args.AllowFallback,
	}

	if args.TimeoutSecs > 0 {
		opts.Timeout = time.Duration(args.TimeoutSecs * float64(time.Second))
	}

	var stdinReader io.Reader

	if stdin != nil {
		data, readErr := readAll(stdin)
		if readErr != nil {
			return pipeline.PluginOutput{}, fmt.Errorf("%w: read input: %w", ErrPluginExecutionFailed, readErr)
		}

		stdinReader = bytes.NewReader(data)
	}

	result, runErr := p.Sandbox.Run(ctx, argv, stdinReader, opts)
	if runErr != nil {
		return pipeline.PluginOutput{Stdout: resultOutput(runErr)}, fmt.Errorf("%w: %w", ErrPluginExecutionFailed, runErr)
	}

	return pipeline.PluginOutput{Stdout: result.Stdout, Percentage: 1.0}, nil
}

func readAll(f *os.File) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// resultOutput extracts the captured output from a sandbox.CalledProcessError
// so it's surfaced in the stage's recorded Output even on failure.
func resultOutput(err error) string {
	var cpe *sandbox.CalledProcessError
	if errors.As(err, &cpe) {
		return cpe.Output
	}

	return ""
}
