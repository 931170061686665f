package course

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	groupMarkerFile = ".group.yml"
	taskMarkerFile  = ".task.yml"

	defaultMarkerVersion = 1
)

// ErrUnsupportedMarkerVersion is returned when a marker file declares a
// version this build does not understand.
var ErrUnsupportedMarkerVersion = errors.New("unsupported marker version")

// ErrTaskWithoutGroup is returned when a .task.yml is found with no
// enclosing .group.yml directory above it.
var ErrTaskWithoutGroup = errors.New("task has no enclosing group")

// StructureOverride is the per-directory glob-list override a marker file may
// carry. Unset fields (nil slices) inherit the parent's value; an explicit
// empty slice clears the inherited patterns.
type StructureOverride struct {
	IgnorePatterns  []string `yaml:"ignorePatterns"`
	PrivatePatterns []string `yaml:"privatePatterns"`
	PublicPatterns  []string `yaml:"publicPatterns"`
}

// groupMarker is the decoded shape of a .group.yml file. An empty file
// decodes to the zero value, which LoadFromDisk treats as all-defaults.
type groupMarker struct {
	Version    int                    `yaml:"version"`
	Structure  *StructureOverride     `yaml:"structure"`
	Parameters map[string]interface{} `yaml:"parameters"`
}

// taskMarker is the decoded shape of a .task.yml file.
type taskMarker struct {
	Version    int                    `yaml:"version"`
	Bonus      bool                   `yaml:"bonus"`
	Large      bool                   `yaml:"large"`
	Special    bool                   `yaml:"special"`
	MinScore   int                    `yaml:"minScore"`
	Tags       []string               `yaml:"tags"`
	Structure  *StructureOverride     `yaml:"structure"`
	Parameters map[string]interface{} `yaml:"parameters"`
}

type pendingGroup struct {
	group Group
	order int
}

func decodeMarker[T any](path string) (T, error) {
	var marker T

	raw, err := os.ReadFile(path) //nolint:gosec // course root is operator-controlled, not attacker input
	if err != nil {
		return marker, fmt.Errorf("read marker %s: %w", path, err)
	}

	if len(raw) == 0 {
		return marker, nil
	}

	if err := yaml.Unmarshal(raw, &marker); err != nil {
		return marker, fmt.Errorf("parse marker %s: %w", path, err)
	}

	return marker, nil
}

// LoadFromDisk walks referenceRoot looking for .group.yml/.task.yml marker
// files and builds the physical Model: groups and their tasks, with
// RelativePath set but scoring/deadline fields left at their zero value until
// Merge attaches a deadline schedule.
func LoadFromDisk(referenceRoot string) (*Model, error) {
	groups := make(map[string]*pendingGroup)
	order := 0

	findEnclosingGroup := func(dir string) *pendingGroup {
		for {
			if g, ok := groups[dir]; ok {
				return g
			}

			if dir == "." || dir == string(os.PathSeparator) || dir == "" {
				return nil
			}

			parent := filepath.Dir(dir)
			if parent == dir {
				return nil
			}

			dir = parent
		}
	}

	walkErr := filepath.WalkDir(referenceRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(referenceRoot, path)
		if relErr != nil {
			return fmt.Errorf("relpath %s: %w", path, relErr)
		}

		groupMarkerPath := filepath.Join(path, groupMarkerFile)
		if _, statErr := os.Stat(groupMarkerPath); statErr == nil {
			marker, decodeErr := decodeMarker[groupMarker](groupMarkerPath)
			if decodeErr != nil {
				return decodeErr
			}

			if marker.Version != 0 && marker.Version != defaultMarkerVersion {
				return fmt.Errorf("%w: %s declares version %d", ErrUnsupportedMarkerVersion, groupMarkerPath, marker.Version)
			}

			groups[rel] = &pendingGroup{
				group: Group{
					Name:         filepath.Base(path),
					Enabled:      true,
					RelativePath: rel,
					Structure:    marker.Structure,
				},
				order: order,
			}
			order++
		}

		taskMarkerPath := filepath.Join(path, taskMarkerFile)
		if _, statErr := os.Stat(taskMarkerPath); statErr == nil {
			marker, decodeErr := decodeMarker[taskMarker](taskMarkerPath)
			if decodeErr != nil {
				return decodeErr
			}

			if marker.Version != 0 && marker.Version != defaultMarkerVersion {
				return fmt.Errorf("%w: %s declares version %d", ErrUnsupportedMarkerVersion, taskMarkerPath, marker.Version)
			}

			parent := findEnclosingGroup(filepath.Dir(rel))
			if parent == nil {
				return fmt.Errorf("%w: %s", ErrTaskWithoutGroup, rel)
			}

			parent.group.Tasks = append(parent.group.Tasks, Task{
				Name:         filepath.Base(path),
				Enabled:      true,
				RelativePath: rel,
				Bonus:        marker.Bonus,
				Large:        marker.Large,
				Special:      marker.Special,
				MinScore:     marker.MinScore,
				Tags:         marker.Tags,
				ScoringFunc:  "max",
				Structure:    marker.Structure,
			})
		}

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk reference root %s: %w", referenceRoot, walkErr)
	}

	ordered := make([]*pendingGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	model := &Model{Groups: make([]Group, 0, len(ordered))}
	for _, g := range ordered {
		model.Groups = append(model.Groups, g.group)
	}

	if err := model.checkDuplicateNames(); err != nil {
		return nil, err
	}

	return model, nil
}

// relativePathContains reports whether changedPath falls under the task's
// relative directory.
func relativePathContains(taskRelPath, changedPath string) bool {
	clean := filepath.ToSlash(filepath.Clean(changedPath))
	prefix := filepath.ToSlash(filepath.Clean(taskRelPath))

	return clean == prefix || strings.HasPrefix(clean, prefix+"/")
}
