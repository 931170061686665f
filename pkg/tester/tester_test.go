package tester_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manytask/checker/pkg/course"
	"github.com/manytask/checker/pkg/deadlines"
	"github.com/manytask/checker/pkg/pipeline"
	"github.com/manytask/checker/pkg/tester"
)

type fakePlugin struct {
	fail bool
	pct  float64
	run  func(args map[string]any)
}

func (f fakePlugin) Run(_ context.Context, _ *pipeline.Context, args map[string]any, _ bool) (pipeline.PluginOutput, error) {
	if f.run != nil {
		f.run(args)
	}

	if f.fail {
		return pipeline.PluginOutput{}, errors.New("boom")
	}

	return pipeline.PluginOutput{Percentage: f.pct}, nil
}

func (f fakePlugin) Schema() any { return nil }

type registry map[string]pipeline.Plugin

func (r registry) Get(name string) (pipeline.Plugin, bool) {
	p, ok := r[name]

	return p, ok
}

func buildModel() *course.Model {
	return &course.Model{Groups: []course.Group{
		{
			Name:    "week1",
			Enabled: true,
			Start:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			End:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			Tasks: []course.Task{
				{Name: "hello-world", Enabled: true, Score: 10, RelativePath: "week1/hello-world"},
				{Name: "broken-task", Enabled: true, Score: 10, RelativePath: "week1/broken-task"},
			},
		},
	}}
}

func TestTester_Run_GlobalPipelineFailureAbortsBeforeAnyTask(t *testing.T) {
	var taskRan int32

	tst := &tester.Tester{
		Model:        buildModel(),
		Schedule:     deadlines.Schedule{Policy: deadlines.Hard},
		GlobalStages: []pipeline.Stage{{Name: "setup", Plugin: "bad", FailPolicy: pipeline.FailFast}},
		TaskStages:   []pipeline.Stage{{Name: "run", Plugin: "count"}},
		Plugins: registry{
			"bad":   fakePlugin{fail: true},
			"count": fakePlugin{pct: 1.0, run: func(map[string]any) { atomic.AddInt32(&taskRan, 1) }},
		},
	}

	_, err := tst.Run(context.Background(), t.TempDir(), nil, true, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.ErrorIs(t, err, tester.ErrTestingFailed)
	assert.Zero(t, atomic.LoadInt32(&taskRan))
}

func TestTester_Run_ReportPipelineSkippedWhenTaskPipelineFails(t *testing.T) {
	var reportRan int32

	tst := &tester.Tester{
		Model:    buildModel(),
		Schedule: deadlines.Schedule{Policy: deadlines.Hard},
		TaskStages: []pipeline.Stage{
			{Name: "run", Plugin: "fail", FailPolicy: pipeline.FailFast},
		},
		ReportStages: []pipeline.Stage{
			{Name: "report", Plugin: "report"},
		},
		Plugins: registry{
			"fail":   fakePlugin{fail: true},
			"report": fakePlugin{pct: 1.0, run: func(map[string]any) { atomic.AddInt32(&reportRan, 1) }},
		},
	}

	result, err := tst.Run(context.Background(), t.TempDir(), []course.Task{{Name: "hello-world", Enabled: true}},
		true, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.ErrorIs(t, err, tester.ErrTestingFailed)
	assert.Equal(t, []string{"hello-world"}, result.FailedTasks)
	assert.Zero(t, atomic.LoadInt32(&reportRan))
}

func TestTester_Run_ReportDisabledForcesDryRunButStillRuns(t *testing.T) {
	var reportInvoked bool

	tst := &tester.Tester{
		Model:    buildModel(),
		Schedule: deadlines.Schedule{Policy: deadlines.Hard},
		TaskStages: []pipeline.Stage{
			{Name: "run", Plugin: "ok"},
		},
		ReportStages: []pipeline.Stage{
			{Name: "report", Plugin: "report"},
		},
		Plugins: registry{
			"ok":     fakePlugin{pct: 1.0},
			"report": fakePlugin{pct: 1.0, run: func(map[string]any) { reportInvoked = true }},
		},
	}

	result, err := tst.Run(context.Background(), t.TempDir(), []course.Task{{Name: "hello-world", Enabled: true}},
		false, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, result.TaskResults, 1)
	require.Len(t, result.TaskResults[0].ReportPipeline.Stages, 1, "report pipeline should still run, just in forced dry-run mode")
	assert.False(t, result.TaskResults[0].ReportPipeline.Stages[0].Skipped)
	assert.False(t, reportInvoked, "a dry-run stage records a synthetic result without invoking its plugin")
}

func TestTester_Run_TaskContextCarriesScorePercent(t *testing.T) {
	var gotPercent float64

	tst := &tester.Tester{
		Model:    buildModel(),
		Schedule: deadlines.Schedule{Policy: deadlines.Hard},
		TaskStages: []pipeline.Stage{
			{Name: "run", Plugin: "capture"},
		},
		Plugins: registry{
			"capture": fakePlugin{pct: 1.0},
		},
	}

	// Past the group's end: hard policy drops to 0.0 since there are no steps.
	result, err := tst.Run(context.Background(), t.TempDir(), []course.Task{{Name: "hello-world", Enabled: true}},
		false, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, result.TaskResults, 1)
	gotPercent = result.TaskResults[0].ScorePercent
	assert.InDelta(t, 0.0, gotPercent, 1e-9)
}

func TestTester_Validate_CatchesUnknownPluginInReportPipeline(t *testing.T) {
	tst := &tester.Tester{
		Model:        buildModel(),
		Schedule:     deadlines.Schedule{Policy: deadlines.Hard},
		ReportStages: []pipeline.Stage{{Name: "report", Plugin: "doesNotExist"}},
		Plugins:      registry{},
	}

	err := tst.Validate(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrUnknownPlugin)
}
