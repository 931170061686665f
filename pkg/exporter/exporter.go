package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/manytask/checker/pkg/course"
)

// Config is export's course-wide settings, decoded from checker.yml's
// `export` block.
type Config struct {
	Destination     string
	DefaultBranch   string
	Templates       TemplatePolicy
	ServiceUsername string
	ServiceToken    string
}

// Exporter produces the public, testing, and private filesystem views of a
// course from its reference tree (and, for the testing view, a student
// working tree).
type Exporter struct {
	Model          *course.Model
	ReferenceRoot  string
	RepositoryRoot string

	Structure StructureConfig
	Export    Config

	Verbose bool
	DryRun  bool

	Logger *slog.Logger
	Now    time.Time
}

func (e *Exporter) now() time.Time {
	if e.Now.IsZero() {
		return time.Now()
	}

	return e.Now
}

// Validate runs the course model's own invariant checks, then the per-task
// template policy validation for every enabled task.
func (e *Exporter) Validate() error {
	if err := e.Model.Validate(); err != nil {
		return err
	}

	for _, task := range e.Model.GetTasks(boolPtr(true), nil, e.now()) {
		taskDir := filepath.Join(e.ReferenceRoot, filepath.FromSlash(task.RelativePath))

		if err := validateTaskTemplates(task.Name, taskDir, e.Export.Templates); err != nil {
			return err
		}
	}

	return nil
}

// ExportPublic builds the student-facing public view at target: private
// files dropped, templates resolved, not-yet-started and disabled
// groups/tasks skipped.
func (e *Exporter) ExportPublic(ctx context.Context, target string, push bool, commitMessage string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}

	if err := e.copyFilesWithConfig(e.ReferenceRoot, target, e.Structure, copyOptions{
		CopyPublic:    true,
		CopyOther:     true,
		FillTemplates: true,
		ExtraIgnore:   e.disabledOrNotStartedPaths(),
	}); err != nil {
		return err
	}

	if push && !e.DryRun {
		if commitMessage == "" {
			commitMessage = "chore(auto): update public files [skip-ci]"
		}

		return e.commitAndPush(ctx, target, commitMessage)
	}

	return nil
}

// ExportForTesting builds the grading sandbox's working tree at target: the
// student's own submission copied first, then the reference tree's public,
// private and other files overlaid unresolved on top — the reference tree
// wins at any path the two trees share. Both passes skip entries matching the
// ignore patterns.
func (e *Exporter) ExportForTesting(target string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}

	if err := e.copyFilesWithConfig(e.RepositoryRoot, target, e.Structure, copyOptions{
		CopyPublic:  true,
		CopyPrivate: true,
		CopyOther:   true,
	}); err != nil {
		return err
	}

	return e.copyFilesWithConfig(e.ReferenceRoot, target, e.Structure, copyOptions{
		CopyPublic:  true,
		CopyPrivate: true,
		CopyOther:   true,
	})
}

// ExportPrivate builds the grader-facing private view at target: identical
// to public but with private files included and disabled items excluded.
func (e *Exporter) ExportPrivate(target string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}

	extraIgnore := e.disabledOrNotStartedPaths()

	if err := e.copyFilesWithConfig(e.ReferenceRoot, target, e.Structure, copyOptions{
		CopyOther:     true,
		FillTemplates: true,
		ExtraIgnore:   extraIgnore,
	}); err != nil {
		return err
	}

	return e.copyFilesWithConfig(e.ReferenceRoot, target, e.Structure, copyOptions{
		CopyPublic:  true,
		CopyPrivate: true,
		ExtraIgnore: extraIgnore,
	})
}

// ExportForContribution builds a view meant for course authors: public+other
// files from the student tree are not involved; instead it stitches the
// reference tree's public+other then private+other passes, leaving templates
// unresolved so a contributor sees the real solution files. Not named by the
// distilled spec but present in the original implementation; kept as a
// convenience for course maintainers.
func (e *Exporter) ExportForContribution(target string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}

	if err := e.copyFilesWithConfig(e.ReferenceRoot, target, e.Structure, copyOptions{
		CopyPublic: true,
		CopyOther:  true,
	}); err != nil {
		return err
	}

	return e.copyFilesWithConfig(e.ReferenceRoot, target, e.Structure, copyOptions{
		CopyPrivate: true,
		CopyOther:   true,
	})
}

func (e *Exporter) disabledOrNotStartedPaths() map[string]bool {
	now := e.now()
	out := make(map[string]bool)

	for _, g := range e.Model.GetGroups(boolPtr(false), nil, now) {
		out[filepath.ToSlash(g.RelativePath)] = true
	}

	for _, g := range e.Model.GetGroups(nil, boolPtr(false), now) {
		out[filepath.ToSlash(g.RelativePath)] = true
	}

	for _, t := range e.Model.GetTasks(boolPtr(false), nil, now) {
		out[filepath.ToSlash(t.RelativePath)] = true
	}

	for _, t := range e.Model.GetTasks(nil, boolPtr(false), now) {
		out[filepath.ToSlash(t.RelativePath)] = true
	}

	return out
}

// subConfigs maps a relative path (slash form) to the structure override
// declared by that directory's own .group.yml/.task.yml, across every
// enabled group and task.
func (e *Exporter) subConfigs() map[string]*course.StructureOverride {
	out := make(map[string]*course.StructureOverride)

	for _, g := range e.Model.GetGroups(boolPtr(true), nil, e.now()) {
		if g.Structure != nil {
			out[filepath.ToSlash(g.RelativePath)] = g.Structure
		}
	}

	for _, t := range e.Model.GetTasks(boolPtr(true), nil, e.now()) {
		if t.Structure != nil {
			out[filepath.ToSlash(t.RelativePath)] = t.Structure
		}
	}

	return out
}

func boolPtr(b bool) *bool { return &b }

// commitAndPush stages, commits, and pushes target to Export.Destination's
// DefaultBranch, initializing a git repository (and wiring a remote with
// embedded basic-auth credentials when ServiceUsername/Token are set) if
// target isn't one already. A clean working tree is a no-op.
func (e *Exporter) commitAndPush(ctx context.Context, target, commitMessage string) error {
	if _, err := os.Stat(filepath.Join(target, ".git")); errors.Is(err, os.ErrNotExist) {
		if err := e.runGit(ctx, target, "init"); err != nil {
			return err
		}

		if err := e.runGit(ctx, target, "remote", "add", "origin", e.remoteURL()); err != nil {
			return err
		}
	}

	if err := e.runGit(ctx, target, "add", "--all"); err != nil {
		return err
	}

	dirty, err := e.hasChanges(ctx, target)
	if err != nil {
		return err
	}

	if !dirty {
		if e.Logger != nil {
			e.Logger.InfoContext(ctx, "export: no changes to commit", "target", target)
		}

		return nil
	}

	if err := e.runGit(ctx, target, "commit", "-m", commitMessage); err != nil {
		return err
	}

	branch := e.Export.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	return e.runGit(ctx, target, "push", "origin", fmt.Sprintf("HEAD:refs/heads/%s", branch))
}

func (e *Exporter) remoteURL() string {
	url := e.Export.Destination
	if !strings.HasSuffix(url, ".git") {
		url += ".git"
	}

	if e.Export.ServiceUsername == "" || e.Export.ServiceToken == "" {
		return url
	}

	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(url, scheme) {
			return scheme + e.Export.ServiceUsername + ":" + e.Export.ServiceToken + "@" + strings.TrimPrefix(url, scheme)
		}
	}

	return url
}

func (e *Exporter) hasChanges(ctx context.Context, target string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", target, "status", "--porcelain") //nolint:gosec // fixed argv, no injection
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}

	return len(strings.TrimSpace(string(out))) > 0, nil
}

func (e *Exporter) runGit(ctx context.Context, dir string, args ...string) error {
	cmdArgs := append([]string{"-C", dir}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...) //nolint:gosec // fixed argv, no injection

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}

	return nil
}
