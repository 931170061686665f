package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result is the outcome of running every stage of a pipeline.
type Result struct {
	Failed bool
	Stages []StageResult
}

// Runner executes a linear sequence of stages against a shared Context.
type Runner struct {
	Stages  []Stage
	Plugins PluginLookup
	DryRun  bool
	Verbose bool

	Tracer trace.Tracer
	Logger *slog.Logger
}

// Validate checks, without executing anything, that every stage's plugin
// exists and that its runIf (when checkPlaceholders) resolves to a boolean
// against a context where the outputs registered by earlier stages carry the
// skipped sentinel, so a runIf naming an output no earlier stage registers
// fails. Stage args are neither resolved nor checked here.
func (r *Runner) Validate(pctx *Context, checkPlaceholders bool) error {
	registered := make(map[string]bool)

	for _, stage := range r.Stages {
		if _, ok := r.Plugins.Get(stage.Plugin); !ok {
			return fmt.Errorf("%w: stage %q references %q", ErrUnknownPlugin, stage.Name, stage.Plugin)
		}

		if checkPlaceholders && stage.RunIf != "" {
			scratch := pctx.Clone()
			seedSkippedOutputs(scratch, registered)

			val, err := ResolveString(stage.RunIf, scratch)
			if err != nil {
				return fmt.Errorf("%w: stage %q: %w", ErrInvalidRunIf, stage.Name, err)
			}

			if _, ok := val.(bool); !ok {
				return fmt.Errorf("%w: stage %q evaluated to %T", ErrInvalidRunIf, stage.Name, val)
			}
		}

		if stage.RegisterOutput != "" {
			registered[stage.RegisterOutput] = true
		}
	}

	return nil
}

// seedSkippedOutputs populates ctx.Outputs with the documented
// skipped=true,percentage=1.0 sentinel for every key registered so far, so
// Validate can resolve forward-looking runIf expressions without running
// anything.
func seedSkippedOutputs(ctx *Context, registered map[string]bool) {
	one := 1.0
	for key := range registered {
		if _, ok := ctx.Outputs[key]; !ok {
			ctx.Outputs[key] = StageResult{Name: key, Skipped: true, Percentage: &one}
		}
	}
}

// Run executes every stage in order against pctx, mutating pctx.Outputs as
// stages whose RegisterOutput is set complete, fail, or are skipped.
func (r *Runner) Run(ctx context.Context, pctx *Context) (Result, error) {
	result := Result{Stages: make([]StageResult, 0, len(r.Stages))}

	skipTheRest := false

	for _, stage := range r.Stages {
		sr, err := r.runStage(ctx, pctx, stage, skipTheRest, &result)
		if err != nil {
			return result, err
		}

		if sr.Failed && stage.FailPolicy == FailFast {
			skipTheRest = true
		}

		if stage.RegisterOutput != "" {
			pctx.Outputs[stage.RegisterOutput] = sr
		}

		result.Stages = append(result.Stages, sr)
	}

	return result, nil
}

func (r *Runner) runStage(ctx context.Context, pctx *Context, stage Stage, skipTheRest bool, result *Result) (StageResult, error) {
	if skipTheRest {
		return skippedResult(stage.Name), nil
	}

	if stage.RunIf != "" {
		val, err := ResolveString(stage.RunIf, pctx)
		if err != nil {
			return StageResult{}, fmt.Errorf("%w: stage %q: %w", ErrInvalidRunIf, stage.Name, err)
		}

		runIt, ok := val.(bool)
		if !ok {
			return StageResult{}, fmt.Errorf("%w: stage %q evaluated to %T", ErrInvalidRunIf, stage.Name, val)
		}

		if !runIt {
			return skippedResult(stage.Name), nil
		}
	}

	if r.DryRun {
		one := 1.0
		return StageResult{Name: stage.Name, Percentage: &one}, nil
	}

	spanCtx, span := r.startSpan(ctx, stage)
	defer span.End()

	started := time.Now()

	args, err := resolveArgs(stage.Args, pctx)
	if err != nil {
		return StageResult{}, fmt.Errorf("resolve args for stage %q: %w", stage.Name, err)
	}

	plugin, ok := r.Plugins.Get(stage.Plugin)
	if !ok {
		return StageResult{}, fmt.Errorf("%w: stage %q references %q", ErrUnknownPlugin, stage.Name, stage.Plugin)
	}

	out, runErr := plugin.Run(spanCtx, pctx, args, r.Verbose)
	elapsed := time.Since(started)

	if runErr != nil {
		wrapped := fmt.Errorf("%w: stage %q: %w", ErrPluginFailed, stage.Name, runErr)
		result.Failed = result.Failed || stage.FailPolicy != FailNever

		pct := 0.0

		output := out.Stdout
		if output == "" {
			output = wrapped.Error()
		}

		sr := StageResult{Name: stage.Name, Failed: true, Percentage: &pct, Elapsed: elapsed, Output: output}

		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())

		if r.Logger != nil {
			r.Logger.WarnContext(spanCtx, "stage failed", "stage", stage.Name, "plugin", stage.Plugin, "err", wrapped)
		}

		return sr, nil
	}

	pct := out.Percentage

	return StageResult{Name: stage.Name, Percentage: &pct, Elapsed: elapsed, Output: out.Stdout}, nil
}

func (r *Runner) startSpan(ctx context.Context, stage Stage) (context.Context, trace.Span) {
	if r.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return r.Tracer.Start(ctx, "checker.pipeline.stage",
		trace.WithAttributes(
			attribute.String("stage.name", stage.Name),
			attribute.String("plugin.name", stage.Plugin),
		),
	)
}

func skippedResult(name string) StageResult {
	one := 1.0
	return StageResult{Name: name, Skipped: true, Percentage: &one}
}

func resolveArgs(args map[string]any, ctx *Context) (map[string]any, error) {
	resolved, err := ResolveValue(args, ctx)
	if err != nil {
		return nil, err
	}

	m, _ := resolved.(map[string]any)

	return m, nil
}
