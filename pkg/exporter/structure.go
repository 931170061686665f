// Package exporter produces the public, testing, and private filesystem
// views of a course from its reference tree, resolving per-task templates
// along the way. Grounded on original_source/checker/checker/exporter.py's
// Exporter class.
package exporter

import (
	"path/filepath"

	"github.com/manytask/checker/pkg/course"
)

// StructureConfig carries the three glob lists governing what a directory's
// contents export as: entirely excluded, reference-only, or always visible.
type StructureConfig struct {
	IgnorePatterns  []string
	PrivatePatterns []string
	PublicPatterns  []string
}

// Overlay applies override's explicitly-set (non-nil) fields onto c,
// per-field rather than whole-object — a directory's marker file may
// override only, say, ignorePatterns while still inheriting its parent's
// public/private patterns.
func (c StructureConfig) Overlay(override *course.StructureOverride) StructureConfig {
	if override == nil {
		return c
	}

	out := c

	if override.IgnorePatterns != nil {
		out.IgnorePatterns = override.IgnorePatterns
	}

	if override.PrivatePatterns != nil {
		out.PrivatePatterns = override.PrivatePatterns
	}

	if override.PublicPatterns != nil {
		out.PublicPatterns = override.PublicPatterns
	}

	return out
}

// matchesAny reports whether name (a single path component) or rel (the
// path relative to the export root, slash-separated) matches any pattern.
func matchesAny(name, rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}

		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
	}

	return false
}
