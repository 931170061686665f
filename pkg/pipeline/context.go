// Package pipeline executes an ordered list of stages against a shared
// context, resolving "${{ expression }}" placeholders and applying one of
// three failure policies per stage.
package pipeline

import "time"

// StageResult is the outcome of a single stage execution. The runner sets
// Percentage on every result it produces: the plugin's percentage on success,
// 0 on failure, and the documented sentinel 1.0 for skipped and dry-run stages.
type StageResult struct {
	Name       string
	Failed     bool
	Skipped    bool
	Percentage *float64
	Elapsed    time.Duration
	Output     string
}

// Context is the fixed-shape mapping placeholder expressions are evaluated
// against: {global, task, parameters, env, outputs}.
type Context struct {
	Global     map[string]any
	Task       map[string]any
	Parameters map[string]any
	Env        map[string]string
	Outputs    map[string]StageResult
}

// NewContext returns an empty, ready-to-use Context.
func NewContext() *Context {
	return &Context{
		Global:     map[string]any{},
		Task:       map[string]any{},
		Parameters: map[string]any{},
		Env:        map[string]string{},
		Outputs:    map[string]StageResult{},
	}
}

// Clone returns a Context sharing Global by reference (it is read-only after
// Exporter emits the reference tree) but with a fresh, independently mutable
// Task/Parameters/Env/Outputs — matching §5's "outputs map is not shared
// across tasks" rule, seeded (copied, not aliased) from the global pipeline's
// outputs.
func (c *Context) Clone() *Context {
	clone := &Context{
		Global:     c.Global,
		Task:       map[string]any{},
		Parameters: map[string]any{},
		Env:        map[string]string{},
		Outputs:    map[string]StageResult{},
	}

	for k, v := range c.Task {
		clone.Task[k] = v
	}

	for k, v := range c.Parameters {
		clone.Parameters[k] = v
	}

	for k, v := range c.Env {
		clone.Env[k] = v
	}

	for k, v := range c.Outputs {
		clone.Outputs[k] = v
	}

	return clone
}

// asMap exposes the context as the nested map an expression evaluator can
// walk with member access, under the fixed top-level keys.
func (c *Context) asMap() map[string]any {
	outputs := make(map[string]any, len(c.Outputs))
	for k, v := range c.Outputs {
		pct := any(nil)
		if v.Percentage != nil {
			pct = *v.Percentage
		}

		outputs[k] = map[string]any{
			"name":       v.Name,
			"failed":     v.Failed,
			"skipped":    v.Skipped,
			"percentage": pct,
			"output":     v.Output,
		}
	}

	env := make(map[string]any, len(c.Env))
	for k, v := range c.Env {
		env[k] = v
	}

	return map[string]any{
		"global":     c.Global,
		"task":       c.Task,
		"parameters": c.Parameters,
		"env":        env,
		"outputs":    outputs,
	}
}
