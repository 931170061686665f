package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/manytask/checker/pkg/pipeline"
	"github.com/manytask/checker/pkg/sandbox"
)

// TestRunnerArgs is runTests's declared argument shape.
type TestRunnerArgs struct {
	Origin           string            `mapstructure:"origin"`
	Script           any               `mapstructure:"script"` // argv run against a FIFO path substituted in via ${{ reportPath }}
	TimeoutSecs      float64           `mapstructure:"timeout"`
	EnvWhitelist     []string          `mapstructure:"envWhitelist"`
	EnvAdditional    map[string]string `mapstructure:"envAdditional"`
	PathsWhitelist   []string          `mapstructure:"pathsWhitelist"`
	LockNetwork      bool              `mapstructure:"lockNetwork"`
	AllowFallback    bool              `mapstructure:"allowFallback"`
	ReportPercentage bool              `mapstructure:"reportPercentage"`
}

// testReport is one newline-delimited JSON line the reporter writes through
// the pipe: {created, duration, summary:{passed,failed,skipped,error,total,
// collected}, tests:[...]}.
type testReport struct {
	Created  float64 `json:"created"`
	Duration float64 `json:"duration"`
	Summary  struct {
		Passed    int `json:"passed"`
		Failed    int `json:"failed"`
		Skipped   int `json:"skipped"`
		Error     int `json:"error"`
		Total     int `json:"total"`
		Collected int `json:"collected"`
	} `json:"summary"`
}

// TestRunnerPlugin spawns a student's test suite under Sandbox, reporting
// results back over a FIFO it creates before spawning the child: the child
// cannot tamper with results it has already written once they've left its
// process, because the pipe has no file position for it to rewrite. The
// background reader keeps the most recently received valid JSON line;
// malformed output is ignored, not fatal, since the producer is expected to
// overwrite a partial write with a complete one before exiting.
type TestRunnerPlugin struct {
	Sandbox Sandbox
}

// Schema implements pipeline.Plugin.
func (p *TestRunnerPlugin) Schema() any { return TestRunnerArgs{} }

// Run implements pipeline.Plugin.
func (p *TestRunnerPlugin) Run(ctx context.Context, _ *pipeline.Context, rawArgs map[string]any, _ bool) (pipeline.PluginOutput, error) {
	var args TestRunnerArgs
	if err := mapstructure.Decode(rawArgs, &args); err != nil {
		return pipeline.PluginOutput{}, argError("runTests", err)
	}

	argv, shell, err := scriptArgv(args.Script)
	if err != nil {
		return pipeline.PluginOutput{}, argError("runTests", err)
	}

	if shell {
		argv = []string{"sh", "-c", argv[0]}
	}

	reportDir, err := os.MkdirTemp("", "checker-report-*")
	if err != nil {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: create report dir: %w", ErrPluginExecutionFailed, err)
	}
	defer os.RemoveAll(reportDir)

	reportPath := filepath.Join(reportDir, "report.pipe")

	if err := syscall.Mkfifo(reportPath, 0o600); err != nil {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: create report pipe: %w", ErrPluginExecutionFailed, err)
	}

	reader := &pipeReader{path: reportPath}
	reader.start(ctx)

	allowPaths := append(append([]string{}, args.PathsWhitelist...), args.Origin, reportDir)

	opts := sandbox.Options{
		AllowPaths:    allowPaths,
		LockNetwork:   args.LockNetwork,
		EnvWhitelist:  args.EnvWhitelist,
		EnvAdditions:  withReportPath(args.EnvAdditional, reportPath),
		WorkDir:       args.Origin,
		AllowFallback: args.AllowFallback,
	}

	if args.TimeoutSecs > 0 {
		opts.Timeout = time.Duration(args.TimeoutSecs * float64(time.Second))
	}

	_, runErr := p.Sandbox.Run(ctx, argv, nil, opts)

	reader.stop()

	report, readErr := reader.result()

	if runErr != nil && !args.ReportPercentage {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: %w", ErrPluginExecutionFailed, runErr)
	}

	if readErr != nil {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: reading test report: %w", ErrPluginExecutionFailed, readErr)
	}

	if report.Summary.Total == 0 {
		return pipeline.PluginOutput{Stdout: "no tests ran", Percentage: 0}, nil
	}

	pct := float64(report.Summary.Passed) / float64(report.Summary.Total)

	return pipeline.PluginOutput{
		Stdout:     fmt.Sprintf("passed %d/%d tests", report.Summary.Passed, report.Summary.Total),
		Percentage: pct,
	}, nil
}

func withReportPath(additional map[string]string, reportPath string) map[string]string {
	env := make(map[string]string, len(additional)+1)
	for k, v := range additional {
		env[k] = v
	}

	env["CHECKER_REPORT_PATH"] = reportPath

	return env
}

// pipeReader opens reportPath for reading in the background (a FIFO open
// for read blocks until a writer connects) and keeps the last line that
// parsed as a valid testReport.
type pipeReader struct {
	path string

	mu      sync.Mutex
	last    testReport
	lastErr error
	done    chan struct{}
}

func (r *pipeReader) start(ctx context.Context) {
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		f, err := openFIFOForRead(ctx, r.path)
		if err != nil {
			r.mu.Lock()
			r.lastErr = err
			r.mu.Unlock()

			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

		sawLine := false

		for scanner.Scan() {
			var rep testReport
			if err := json.Unmarshal(scanner.Bytes(), &rep); err != nil {
				continue
			}

			sawLine = true

			r.mu.Lock()
			r.last = rep
			r.mu.Unlock()
		}

		r.mu.Lock()
		if !sawLine {
			r.lastErr = errors.New("no valid report line received")
		}
		r.mu.Unlock()
	}()
}

// openFIFOForRead opens path for reading without blocking indefinitely when
// no writer ever connects (a crashed child, or one that never execs into
// the test framework): it polls with O_NONBLOCK until a writer appears or
// ctx is done, then clears O_NONBLOCK so the returned file reads normally.
func openFIFOForRead(ctx context.Context, path string) (*os.File, error) {
	for {
		fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NONBLOCK, 0)
		if err == nil {
			if clearErr := syscall.SetNonblock(fd, false); clearErr != nil {
				syscall.Close(fd)

				return nil, clearErr
			}

			return os.NewFile(uintptr(fd), path), nil
		}

		if !errors.Is(err, syscall.ENXIO) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (r *pipeReader) stop() {
	if r.done != nil {
		<-r.done
	}
}

func (r *pipeReader) result() (testReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.last, r.lastErr
}
