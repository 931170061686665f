package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/manytask/checker/pkg/pipeline"
)

// ErrPluginExecutionFailed is the taxonomy-mapped error every built-in
// plugin returns when the underlying command fails or times out.
var ErrPluginExecutionFailed = errors.New("plugin execution failed")

// RunScriptArgs is run_script's declared argument shape.
type RunScriptArgs struct {
	Origin        string            `mapstructure:"origin"`
	Script        any               `mapstructure:"script"` // string or []string
	TimeoutSecs   float64           `mapstructure:"timeout"`
	EnvAdditional map[string]string `mapstructure:"envAdditional"`
	EnvWhitelist  []string          `mapstructure:"envWhitelist"`
	Input         string            `mapstructure:"input"`
}

// RunScriptPlugin runs a script directly on the host, unsandboxed, merging
// stdout/stderr and scrubbing the child's environment to EnvWhitelist plus
// EnvAdditional.
type RunScriptPlugin struct{}

// Schema implements pipeline.Plugin.
func (p *RunScriptPlugin) Schema() any { return RunScriptArgs{} }

// Run implements pipeline.Plugin.
func (p *RunScriptPlugin) Run(ctx context.Context, _ *pipeline.Context, rawArgs map[string]any, _ bool) (pipeline.PluginOutput, error) {
	var args RunScriptArgs
	if err := mapstructure.Decode(rawArgs, &args); err != nil {
		return pipeline.PluginOutput{}, argError("runScript", err)
	}

	return runScript(ctx, args)
}

func runScript(ctx context.Context, args RunScriptArgs) (pipeline.PluginOutput, error) {
	argv, shell, err := scriptArgv(args.Script)
	if err != nil {
		return pipeline.PluginOutput{}, argError("runScript", err)
	}

	if args.TimeoutSecs > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(args.TimeoutSecs*float64(time.Second)))
		defer cancel()
	}

	var cmd *exec.Cmd
	if shell {
		cmd = exec.CommandContext(ctx, "sh", "-c", argv[0]) //nolint:gosec // script text is course config, not student input
	} else {
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // same trust boundary
	}

	cmd.Dir = args.Origin
	cmd.Env = scrubEnv(args.EnvWhitelist, args.EnvAdditional)

	if args.Input != "" {
		f, openErr := os.Open(args.Input)
		if openErr != nil {
			return pipeline.PluginOutput{}, fmt.Errorf("%w: open input %q: %w", ErrPluginExecutionFailed, args.Input, openErr)
		}
		defer f.Close()

		cmd.Stdin = f
	}

	var buf bytes.Buffer

	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()

	if ctx.Err() != nil {
		return pipeline.PluginOutput{Stdout: buf.String()}, fmt.Errorf("%w: script timed out after %.0fs", ErrPluginExecutionFailed, args.TimeoutSecs)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return pipeline.PluginOutput{Stdout: buf.String()}, fmt.Errorf("%w: script failed with exit code %d", ErrPluginExecutionFailed, exitErr.ExitCode())
		}

		return pipeline.PluginOutput{Stdout: buf.String()}, fmt.Errorf("%w: %w", ErrPluginExecutionFailed, runErr)
	}

	return pipeline.PluginOutput{Stdout: buf.String(), Percentage: 1.0}, nil
}

// scriptArgv normalizes Script (a string run through a shell, or a []any of
// argv tokens run directly) into an argv slice plus whether it must be
// interpreted by a shell.
func scriptArgv(script any) ([]string, bool, error) {
	switch v := script.(type) {
	case string:
		return []string{v}, true, nil
	case []string:
		if len(v) == 0 {
			return nil, false, errors.New("script: empty argv")
		}

		return v, false, nil
	case []any:
		argv := make([]string, 0, len(v))

		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false, fmt.Errorf("script: argv entry %v is not a string", item)
			}

			argv = append(argv, s)
		}

		if len(argv) == 0 {
			return nil, false, errors.New("script: empty argv")
		}

		return argv, false, nil
	default:
		return nil, false, fmt.Errorf("script: unsupported type %T", script)
	}
}

// scrubEnv rebuilds an environment from scratch: EnvWhitelist intersected
// with the parent's environment, plus EnvAdditional.
func scrubEnv(whitelist []string, additional map[string]string) []string {
	parent := envByKey(os.Environ())

	env := make([]string, 0, len(whitelist)+len(additional))
	for _, k := range whitelist {
		if v, ok := parent[k]; ok {
			env = append(env, k+"="+v)
		}
	}

	for k, v := range additional {
		env = append(env, k+"="+v)
	}

	return env
}

func envByKey(environ []string) map[string]string {
	m := make(map[string]string, len(environ))

	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]

				break
			}
		}
	}

	return m
}
