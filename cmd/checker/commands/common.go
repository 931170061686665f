// Package commands implements the checker CLI's subcommands: validate,
// check, grade, export, schema. Grounded on the teacher's
// cmd/codefang/commands package layout (one file per verb, a const block of
// Use/Short/flag names, sentinel Err* variables).
package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/manytask/checker/pkg/config"
	"github.com/manytask/checker/pkg/course"
	"github.com/manytask/checker/pkg/exporter"
	"github.com/manytask/checker/pkg/plugin"
	"github.com/manytask/checker/pkg/sandbox"
	"github.com/manytask/checker/pkg/tester"
)

// ErrNoTasksSelected is returned when a --task/--group filter matches nothing.
var ErrNoTasksSelected = errors.New("no tasks matched the given filters")

// courseBundle is every piece loaded off disk that check/grade/validate
// share: the merged course model, its two config documents, and the plugin
// registry stages are resolved against.
type courseBundle struct {
	Model    *course.Model
	Checker  *config.CheckerConfig
	Manytask *config.ManytaskConfig
	Registry *plugin.Registry
}

// loadCourse loads checker.yml/manytask.yml from the current working
// directory (not from referenceRoot or any other argument), builds the physical
// course model from referenceRoot's marker files, and merges in the
// deadline schedule. searchPlugins (checker.yml's testing.searchPlugins) is
// decoded but never consulted — this build resolves plugins through an
// explicit, statically-registered plugin.Registry rather than walking the
// filesystem for them.
func loadCourse(referenceRoot string, logger *slog.Logger) (*courseBundle, error) {
	checkerCfg, err := config.LoadCheckerConfig("")
	if err != nil {
		return nil, fmt.Errorf("load checker.yml: %w", err)
	}

	manytaskCfg, err := config.LoadManytaskConfig("")
	if err != nil {
		return nil, fmt.Errorf("load manytask.yml: %w", err)
	}

	model, err := course.LoadFromDisk(referenceRoot)
	if err != nil {
		return nil, fmt.Errorf("load course layout: %w", err)
	}

	scheduleGroups, err := manytaskCfg.Deadlines.Groups()
	if err != nil {
		return nil, fmt.Errorf("parse deadline schedule: %w", err)
	}

	if err := model.Merge(logger, scheduleGroups); err != nil {
		return nil, fmt.Errorf("merge deadline schedule: %w", err)
	}

	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("validate course model: %w", err)
	}

	return &courseBundle{
		Model:    model,
		Checker:  checkerCfg,
		Manytask: manytaskCfg,
		Registry: plugin.NewDefaultRegistry(sandbox.NewFirejail()),
	}, nil
}

// buildTester assembles a tester.Tester from a loaded bundle, ready for
// Validate or Run.
func buildTester(bundle *courseBundle, referenceDir, repositoryDir string, logger *slog.Logger, verbose, dryRun bool) (*tester.Tester, error) {
	schedule, err := bundle.Manytask.Deadlines.ToSchedule()
	if err != nil {
		return nil, fmt.Errorf("build deadline schedule: %w", err)
	}

	return &tester.Tester{
		Model:             bundle.Model,
		Schedule:          schedule,
		Plugins:           bundle.Registry,
		GlobalStages:      bundle.Checker.Testing.GlobalStages(),
		TaskStages:        bundle.Checker.Testing.TaskStages(),
		ReportStages:      bundle.Checker.Testing.ReportStages(),
		ReferenceDir:      referenceDir,
		RepositoryDir:     repositoryDir,
		DefaultParameters: bundle.Checker.DefaultParameters,
		Verbose:           verbose,
		DryRun:            dryRun,
		Logger:            logger,
	}, nil
}

// selectTasks narrows bundle's enabled tasks to those named by taskNames or
// belonging to a group in groupNames. Both empty selects every enabled task.
func selectTasks(bundle *courseBundle, now time.Time, taskNames, groupNames []string) ([]course.Task, error) {
	all := bundle.Model.GetTasks(boolPtr(true), nil, now)

	if len(taskNames) == 0 && len(groupNames) == 0 {
		return all, nil
	}

	wantTask := toSet(taskNames)
	wantGroup := toSet(groupNames)

	var out []course.Task

	for _, g := range bundle.Model.GetGroups(boolPtr(true), nil, now) {
		groupSelected := wantGroup[g.Name]

		for _, t := range g.Tasks {
			if !t.Enabled {
				continue
			}

			if groupSelected || wantTask[t.Name] {
				out = append(out, t)
			}
		}
	}

	if len(out) == 0 {
		return nil, ErrNoTasksSelected
	}

	return out, nil
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}

	return out
}

func boolPtr(b bool) *bool { return &b }

// buildExporter assembles an exporter.Exporter from a loaded bundle.
func buildExporter(bundle *courseBundle, referenceRoot string, logger *slog.Logger, now time.Time) *exporter.Exporter {
	return &exporter.Exporter{
		Model:         bundle.Model,
		ReferenceRoot: referenceRoot,
		Structure:     bundle.Checker.Structure.ToStructureConfig(),
		Export:        bundle.Checker.Export.ToConfig(),
		Logger:        logger,
		Now:           now,
	}
}

// gitState shells out to the git binary to collect the facts
// course.Model.DetectChanges needs, matching pkg/exporter's own
// os/exec-based git idiom rather than adding a library dependency for a
// handful of read-only plumbing commands.
func gitState(ctx context.Context, repoRoot string) (course.GitState, error) {
	branch, err := runGit(ctx, repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return course.GitState{}, fmt.Errorf("git branch: %w", err)
	}

	message, err := runGit(ctx, repoRoot, "log", "-1", "--pretty=%B")
	if err != nil {
		return course.GitState{}, fmt.Errorf("git commit message: %w", err)
	}

	changed, err := runGit(ctx, repoRoot, "diff", "--name-only", "HEAD~1", "HEAD")
	if err != nil {
		return course.GitState{}, fmt.Errorf("git changed files: %w", err)
	}

	return course.GitState{
		BranchName:    strings.TrimSpace(branch),
		CommitMessage: strings.TrimSpace(message),
		ChangedPaths:  splitNonEmpty(changed),
	}, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmdArgs := append([]string{"-C", dir}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...) //nolint:gosec // fixed argv, no injection

	var out bytes.Buffer
	cmd.Stdout = &out

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return out.String(), nil
}

func splitNonEmpty(s string) []string {
	var out []string

	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}

	return out
}
