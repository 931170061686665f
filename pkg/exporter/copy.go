package exporter

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manytask/checker/pkg/course"
)

// copyOptions is one call's view-selection flags, threaded unchanged through
// a recursive copyFilesWithConfig walk except where a directory's own
// public/private match widens them to "copy everything beneath".
type copyOptions struct {
	CopyPublic    bool
	CopyPrivate   bool
	CopyOther     bool
	FillTemplates bool
	ExtraIgnore   map[string]bool
	Policy        TemplatePolicy
}

// copyFilesWithConfig mirrors the reference implementation's recursive
// structural copy: at every directory level it resolves the effective
// StructureConfig (inherited, overridden per-field by any .task.yml/
// .group.yml at that path), decides per-entry whether it is ignored,
// public, private, or "other", and either skips, recurses, or copies it —
// resolving templates along the way when FillTemplates is set.
func (e *Exporter) copyFilesWithConfig(root, destination string, config StructureConfig, opts copyOptions) error {
	subConfigs := e.subConfigs()
	opts.Policy = e.Export.Templates

	return copyDir(root, destination, config, opts, subConfigs, root, destination)
}

func copyDir(root, destination string, config StructureConfig, opts copyOptions,
	subConfigs map[string]*course.StructureOverride, globalRoot, globalDestination string,
) error {
	rel := relSlash(globalRoot, root)

	if opts.ExtraIgnore[rel] {
		return nil
	}

	excludePaths := excludeDueToTemplates(root, opts.FillTemplates)

	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := copyEntry(root, destination, entry, config, opts, subConfigs, globalRoot, globalDestination, excludePaths); err != nil {
			return err
		}
	}

	return nil
}

func copyEntry(root, destination string, entry os.DirEntry, config StructureConfig, opts copyOptions,
	subConfigs map[string]*course.StructureOverride, globalRoot, globalDestination string, excludePaths map[string]bool,
) error {
	name := entry.Name()
	path := filepath.Join(root, name)
	pathDestination := filepath.Join(destination, name)
	relFromRoot := relSlash(globalRoot, path)

	isDir := entry.IsDir()

	isTemplateFile := !isDir && templatingEnabled(opts.Policy) && strings.HasSuffix(name, templateSuffix)
	isTemplateDir := isDir && templatingEnabled(opts.Policy) && strings.HasSuffix(name, templateSuffix)
	isTemplateComment := !isDir && commentsEnabled(opts.Policy) && isTextFile(path) && containsMarkers(path)

	if excludePaths[name] {
		return nil
	}

	if matchesAny(name, relFromRoot, config.IgnorePatterns) {
		return nil
	}

	isPublic := matchesAny(name, relFromRoot, config.PublicPatterns)
	if isPublic && !opts.CopyPublic {
		return nil
	}

	isPrivate := !isPublic && matchesAny(name, relFromRoot, config.PrivatePatterns)
	if isPrivate && !opts.CopyPrivate {
		return nil
	}

	if !isPublic && !isPrivate && !isDir && !opts.CopyOther {
		return nil
	}

	if opts.FillTemplates && (isTemplateFile || isTemplateDir) {
		empty, err := isEmptyTemplateSource(path, isDir)
		if err != nil {
			return err
		}

		if empty {
			return nil
		}
	}

	if isDir {
		return copySubdir(path, pathDestination, config, opts, subConfigs, globalRoot, globalDestination,
			isPublic, isPrivate, isTemplateDir, relFromRoot)
	}

	return copyLeafFile(path, pathDestination, opts, isTemplateFile, isTemplateComment)
}

func copySubdir(path, pathDestination string, config StructureConfig, opts copyOptions,
	subConfigs map[string]*course.StructureOverride, globalRoot, globalDestination string,
	isPublic, isPrivate, isTemplateDir bool, relFromRoot string,
) error {
	if isPublic || isPrivate {
		widened := opts
		widened.CopyPublic, widened.CopyPrivate, widened.CopyOther = true, true, true

		return copyDir(path, pathDestination, config, widened, subConfigs, globalRoot, globalDestination)
	}

	if opts.FillTemplates && isTemplateDir {
		pathDestination = filepath.Join(filepath.Dir(pathDestination), strings.TrimSuffix(filepath.Base(pathDestination), templateSuffix))
	}

	sub := config
	if override, ok := subConfigs[relFromRoot]; ok {
		sub = config.Overlay(override)
	}

	return copyDir(path, pathDestination, sub, opts, subConfigs, globalRoot, globalDestination)
}

func copyLeafFile(path, pathDestination string, opts copyOptions, isTemplateFile, isTemplateComment bool) error {
	if opts.FillTemplates && isTemplateFile {
		pathDestination = filepath.Join(filepath.Dir(pathDestination), strings.TrimSuffix(filepath.Base(pathDestination), templateSuffix))
	}

	if err := os.MkdirAll(filepath.Dir(pathDestination), 0o755); err != nil {
		return err
	}

	if opts.FillTemplates && isTemplateComment {
		raw, err := os.ReadFile(path) //nolint:gosec // course reference tree, not attacker input
		if err != nil {
			return err
		}

		return os.WriteFile(pathDestination, []byte(ResolveComments(string(raw))), 0o644) //nolint:gosec // exported course content
	}

	return copyFilePreservingMode(path, pathDestination)
}

// excludeDueToTemplates computes, for a single directory level, the entry
// names that must be skipped because they are superseded by template
// resolution — either the ".template" sibling itself (when templates are
// left unresolved, e.g. the testing view) or the base file it will replace
// (when resolving).
func excludeDueToTemplates(root string, fillTemplates bool) map[string]bool {
	out := make(map[string]bool)

	entries, err := os.ReadDir(root)
	if err != nil {
		return out
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, templateSuffix) {
			continue
		}

		if fillTemplates {
			out[strings.TrimSuffix(name, templateSuffix)] = true
		} else {
			out[name] = true
		}
	}

	return out
}

func isEmptyTemplateSource(path string, isDir bool) (bool, error) {
	if isDir {
		entries, err := os.ReadDir(path)
		if err != nil {
			return false, err
		}

		return len(entries) == 0, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}

	return info.Size() == 0, nil
}

func isTextFile(path string) bool {
	raw, err := os.ReadFile(path) //nolint:gosec // course reference tree, not attacker input
	if err != nil {
		return false
	}

	return isTextContent(raw)
}

func containsMarkers(path string) bool {
	raw, err := os.ReadFile(path) //nolint:gosec // course reference tree, not attacker input
	if err != nil {
		return false
	}

	content := string(raw)

	return strings.Contains(content, solutionBegin) && strings.Contains(content, solutionEnd)
}

func relSlash(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}

	return filepath.ToSlash(rel)
}

func copyFilePreservingMode(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // course reference tree, not attacker input
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)

	return err
}
