// Package tester orchestrates the three pipelines a grading run executes:
// one global pipeline shared by every task, then per-task pairs of a task
// pipeline and (on success) a report pipeline, run concurrently across a
// bounded worker pool. Grounded on the run()/validate() shape of the Python
// checker's Tester.
package tester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/manytask/checker/pkg/course"
	"github.com/manytask/checker/pkg/deadlines"
	"github.com/manytask/checker/pkg/pipeline"
)

// ErrTestingFailed is returned by Run when one or more task pipelines failed.
var ErrTestingFailed = errors.New("task pipelines failed")

// GlobalVariables are the invariant per-run values every stage's ${{ global.* }}
// placeholder resolves against.
type GlobalVariables struct {
	RefDir       string
	RepoDir      string
	TempDir      string
	TaskNames    []string
	TaskSubPaths []string
}

func (g GlobalVariables) asMap() map[string]any {
	return map[string]any{
		"refDir":       g.RefDir,
		"repoDir":      g.RepoDir,
		"tempDir":      g.TempDir,
		"taskNames":    g.TaskNames,
		"taskSubPaths": g.TaskSubPaths,
	}
}

// TaskVariables are the per-task values added to the context's ${{ task.* }}
// namespace.
type TaskVariables struct {
	Name         string
	SubPath      string
	ScorePercent float64
}

func (t TaskVariables) asMap() map[string]any {
	return map[string]any{
		"name":         t.Name,
		"subPath":      t.SubPath,
		"scorePercent": t.ScorePercent,
	}
}

// TaskResult is the outcome of one task's pipeline pair.
type TaskResult struct {
	TaskName       string
	ScorePercent   float64
	Pipeline       pipeline.Result
	Failed         bool
	Err            error
	ReportPipeline pipeline.Result
	ReportFailed   bool
	ReportErr      error
}

// Result is the outcome of a full Run.
type Result struct {
	GlobalPipeline pipeline.Result
	TaskResults    []TaskResult
	FailedTasks    []string
}

// Tester encapsulates the testing logic: accept a directory with files ready
// for testing, run the global pipeline once, then for every selected task
// run its task pipeline and, on success, its report pipeline.
type Tester struct {
	Model    *course.Model
	Schedule deadlines.Schedule
	Plugins  pipeline.PluginLookup

	GlobalStages []pipeline.Stage
	TaskStages   []pipeline.Stage
	ReportStages []pipeline.Stage

	ReferenceDir  string
	RepositoryDir string

	// DefaultParameters are course-wide; TaskParameters[name] overrides them
	// per task, keyed by task name. Task wins on key collision.
	DefaultParameters map[string]any
	TaskParameters     map[string]map[string]any

	// Concurrency bounds the number of tasks graded at once. <= 0 defaults
	// to runtime.GOMAXPROCS(0).
	Concurrency int

	Verbose bool
	DryRun  bool

	Tracer trace.Tracer
	Logger *slog.Logger
}

// Validate checks, without executing anything, that the global pipeline and
// every selected task's task+report pipelines reference real plugins, that
// runIf expressions (when checkPlaceholders) resolve to booleans, and that
// registerOutput forward references are reachable.
func (t *Tester) Validate(now time.Time, checkPlaceholders bool) error {
	tasks := t.Model.GetTasks(boolPtr(true), nil, now)

	globalVars := t.globalVariables("", tasks)
	globalCtx := t.newContext(globalVars.asMap(), nil, t.DefaultParameters)

	globalRunner := &pipeline.Runner{Stages: t.GlobalStages, Plugins: t.Plugins}
	if err := globalRunner.Validate(globalCtx, checkPlaceholders); err != nil {
		return fmt.Errorf("global pipeline: %w", err)
	}

	taskRunner := &pipeline.Runner{Stages: t.TaskStages, Plugins: t.Plugins}
	reportRunner := &pipeline.Runner{Stages: t.ReportStages, Plugins: t.Plugins}

	for _, task := range tasks {
		taskCtx := t.taskContext(globalCtx, task, now)

		if err := taskRunner.Validate(taskCtx, checkPlaceholders); err != nil {
			return fmt.Errorf("task %q pipeline: %w", task.Name, err)
		}

		if err := reportRunner.Validate(taskCtx, checkPlaceholders); err != nil {
			return fmt.Errorf("task %q report pipeline: %w", task.Name, err)
		}
	}

	return nil
}

// Run executes the global pipeline, then every selected task's task+report
// pipeline pair concurrently across a bounded worker pool. tasks defaults to
// every enabled task when nil. report=false still runs the report pipeline,
// but with dryRun forced so it produces no side effects. timestamp defaults
// to time.Now() when zero; it is the instant a task's deadline multiplier is
// computed against.
func (t *Tester) Run(ctx context.Context, origin string, tasks []course.Task, report bool, timestamp time.Time) (Result, error) {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	if tasks == nil {
		tasks = t.Model.GetTasks(boolPtr(true), nil, timestamp)
	}

	globalVars := t.globalVariables(origin, tasks)
	globalCtx := t.newContext(globalVars.asMap(), nil, t.DefaultParameters)

	globalRunner := &pipeline.Runner{
		Stages: t.GlobalStages, Plugins: t.Plugins,
		DryRun: t.DryRun, Verbose: t.Verbose, Tracer: t.Tracer, Logger: t.Logger,
	}

	globalResult, err := globalRunner.Run(ctx, globalCtx)
	if err != nil {
		return Result{}, fmt.Errorf("global pipeline: %w", err)
	}

	if globalResult.Failed {
		return Result{GlobalPipeline: globalResult}, fmt.Errorf("%w: global pipeline", ErrTestingFailed)
	}

	results := make([]TaskResult, len(tasks))

	limit := t.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, task := range tasks {
		i, task := i, task

		g.Go(func() error {
			results[i] = t.runOneTask(gctx, globalCtx, task, report, timestamp)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{GlobalPipeline: globalResult, TaskResults: results}, err
	}

	var failed []string

	for _, r := range results {
		if r.Failed {
			failed = append(failed, r.TaskName)
		}
	}

	out := Result{GlobalPipeline: globalResult, TaskResults: results, FailedTasks: failed}

	if len(failed) > 0 {
		return out, fmt.Errorf("%w: %s", ErrTestingFailed, strings.Join(failed, ", "))
	}

	return out, nil
}

func (t *Tester) runOneTask(ctx context.Context, globalCtx *pipeline.Context, task course.Task, report bool, timestamp time.Time) TaskResult {
	taskCtx := t.taskContext(globalCtx, task, timestamp)
	scorePercent, _ := taskCtx.Task["scorePercent"].(float64)

	if t.Logger != nil {
		t.Logger.InfoContext(ctx, "running task pipeline", "task", task.Name)
	}

	taskRunner := &pipeline.Runner{
		Stages: t.TaskStages, Plugins: t.Plugins,
		DryRun: t.DryRun, Verbose: t.Verbose, Tracer: t.Tracer, Logger: t.Logger,
	}

	taskResult, err := taskRunner.Run(ctx, taskCtx)
	if err != nil {
		return TaskResult{TaskName: task.Name, ScorePercent: scorePercent, Failed: true, Err: err}
	}

	tr := TaskResult{
		TaskName:     task.Name,
		ScorePercent: scorePercent,
		Pipeline:     taskResult,
		Failed:       taskResult.Failed,
	}

	if taskResult.Failed {
		return tr
	}

	if t.Logger != nil {
		t.Logger.InfoContext(ctx, "reporting task result", "task", task.Name, "report", report)
	}

	reportRunner := &pipeline.Runner{
		Stages: t.ReportStages, Plugins: t.Plugins,
		DryRun: t.DryRun || !report, Verbose: t.Verbose, Tracer: t.Tracer, Logger: t.Logger,
	}

	reportResult, err := reportRunner.Run(ctx, taskCtx)
	if err != nil {
		tr.ReportErr = err

		return tr
	}

	tr.ReportPipeline = reportResult
	tr.ReportFailed = reportResult.Failed

	return tr
}

func (t *Tester) globalVariables(origin string, tasks []course.Task) GlobalVariables {
	names := make([]string, len(tasks))
	subPaths := make([]string, len(tasks))

	for i, task := range tasks {
		names[i] = task.Name
		subPaths[i] = task.RelativePath
	}

	return GlobalVariables{
		RefDir:       t.ReferenceDir,
		RepoDir:      t.RepositoryDir,
		TempDir:      origin,
		TaskNames:    names,
		TaskSubPaths: subPaths,
	}
}

func (t *Tester) newContext(global map[string]any, task map[string]any, parameters map[string]any) *pipeline.Context {
	ctx := pipeline.NewContext()
	ctx.Global = global

	if task != nil {
		ctx.Task = task
	}

	ctx.Parameters = mergeParameters(parameters, nil)
	ctx.Env = envSnapshot()

	return ctx
}

// taskContext derives a per-task context from the (shared, read-only after
// this point) global context: a fresh Task/Parameters/Env/Outputs, with
// Outputs seeded (copied, not aliased) from the global pipeline's outputs.
func (t *Tester) taskContext(globalCtx *pipeline.Context, task course.Task, timestamp time.Time) *pipeline.Context {
	group, _ := t.Model.GroupOf(task.Name)
	scorePercent := t.Schedule.Multiplier(group, timestamp)

	taskCtx := globalCtx.Clone()
	taskCtx.Task = TaskVariables{Name: task.Name, SubPath: task.RelativePath, ScorePercent: scorePercent}.asMap()
	taskCtx.Parameters = mergeParameters(t.DefaultParameters, t.TaskParameters[task.Name])

	return taskCtx
}

func mergeParameters(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))

	for k, v := range base {
		merged[k] = v
	}

	for k, v := range override {
		merged[k] = v
	}

	return merged
}

func envSnapshot() map[string]string {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[k] = v
		}
	}

	return env
}

func boolPtr(b bool) *bool {
	return &b
}
