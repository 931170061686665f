package pipeline

import (
	"context"
	"errors"
)

// FailPolicy controls how a stage's plugin failure affects the rest of the
// pipeline.
type FailPolicy string

const (
	// FailFast aborts all later stages (they are recorded skipped) and marks
	// the pipeline failed.
	FailFast FailPolicy = "fast"

	// FailAfterAll marks the pipeline failed but lets later stages run.
	FailAfterAll FailPolicy = "afterAll"

	// FailNever ignores the stage's failure entirely.
	FailNever FailPolicy = "never"
)

// Stage is one step of a pipeline: a named call into a registered plugin.
type Stage struct {
	Name           string
	Plugin         string
	Args           map[string]any
	RunIf          string
	FailPolicy     FailPolicy
	RegisterOutput string
}

// PluginOutput is what a plugin returns on success.
type PluginOutput struct {
	Stdout     string
	Percentage float64
}

// Plugin is the single operation every pipeline plugin implements. The
// runner never touches a plugin's internals except through this interface
// and its declared argument schema.
type Plugin interface {
	// Run executes the plugin with resolved args against ctx. verbose
	// requests extra diagnostic output in Stdout.
	Run(ctx context.Context, pctx *Context, args map[string]any, verbose bool) (PluginOutput, error)

	// Schema returns the plugin's declared argument shape; see pkg/plugin
	// for the concrete shapes. Runner.Validate does not consult it.
	Schema() any
}

// PluginLookup resolves a plugin by its registry name. pkg/plugin.Registry
// implements this; kept as an interface here so pipeline never imports
// plugin (which imports pipeline for Context/PluginOutput).
type PluginLookup interface {
	Get(name string) (Plugin, bool)
}

// ErrUnknownPlugin is a ConfigError: a stage names a plugin missing from the registry.
var ErrUnknownPlugin = errors.New("unknown plugin")

// ErrInvalidRunIf is a ConfigError: a stage's runIf does not resolve to a boolean.
var ErrInvalidRunIf = errors.New("runIf does not resolve to a boolean")

// ErrForwardReference is a ConfigError: a registerOutput reference is never reachable.
var ErrForwardReference = errors.New("registerOutput reference is unreachable")

// ErrPluginFailed wraps a plugin's returned error as a PluginExecutionFailed event.
var ErrPluginFailed = errors.New("plugin execution failed")
