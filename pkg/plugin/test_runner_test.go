package plugin_test

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manytask/checker/pkg/pipeline"
	"github.com/manytask/checker/pkg/plugin"
	"github.com/manytask/checker/pkg/sandbox"
)

// fakeSandbox opens the report pipe (found via EnvAdditions) and writes a
// sequence of newline-delimited JSON reports, simulating a test framework
// incrementally reporting progress with the last line authoritative.
type fakeSandbox struct {
	lines []string
	fail  bool
}

func (f *fakeSandbox) Run(_ context.Context, _ []string, _ io.Reader, opts sandbox.Options) (sandbox.Result, error) {
	path := opts.EnvAdditions["CHECKER_REPORT_PATH"]

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return sandbox.Result{}, err
	}

	for _, line := range f.lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			w.Close()

			return sandbox.Result{}, err
		}
	}

	w.Close()

	if f.fail {
		return sandbox.Result{}, &sandbox.CalledProcessError{ExitCode: 1}
	}

	return sandbox.Result{ExitCode: 0}, nil
}

func TestTestRunnerPlugin_LastLineAuthoritative(t *testing.T) {
	sb := &fakeSandbox{lines: []string{
		`{"summary":{"passed":1,"failed":1,"total":2,"collected":2}}`,
		`{"summary":{"passed":2,"failed":0,"total":2,"collected":2}}`,
	}}

	p := &plugin.TestRunnerPlugin{Sandbox: sb}

	out, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"origin": t.TempDir(),
		"script": []any{"pytest"},
	}, false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Percentage, 1e-9)
}

func TestTestRunnerPlugin_NoTestsRanYieldsZero(t *testing.T) {
	sb := &fakeSandbox{lines: []string{`{"summary":{"passed":0,"failed":0,"total":0,"collected":0}}`}}

	p := &plugin.TestRunnerPlugin{Sandbox: sb}

	out, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"origin": t.TempDir(),
		"script": []any{"pytest"},
	}, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out.Percentage, 1e-9)
}

func TestTestRunnerPlugin_ChildFailureFailsWithoutReportPercentage(t *testing.T) {
	sb := &fakeSandbox{
		lines: []string{`{"summary":{"passed":0,"failed":1,"total":1,"collected":1}}`},
		fail:  true,
	}

	p := &plugin.TestRunnerPlugin{Sandbox: sb}

	_, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"origin": t.TempDir(),
		"script": []any{"pytest"},
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrPluginExecutionFailed)
}

func TestTestRunnerPlugin_ReportPercentageModeGrantsPartialCreditOnChildFailure(t *testing.T) {
	sb := &fakeSandbox{
		lines: []string{`{"summary":{"passed":1,"failed":1,"total":2,"collected":2}}`},
		fail:  true,
	}

	p := &plugin.TestRunnerPlugin{Sandbox: sb}

	out, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"origin":           t.TempDir(),
		"script":           []any{"pytest"},
		"reportPercentage": true,
	}, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, out.Percentage, 1e-9)
}
