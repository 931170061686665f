package course

import "strings"

// ChangeDetectionMode selects how DetectChanges decides which tasks to grade.
type ChangeDetectionMode string

const (
	// ModeBranchName matches the current branch name against task/group names.
	ModeBranchName ChangeDetectionMode = "branchName"

	// ModeCommitMessage matches the HEAD commit message against task/group names.
	ModeCommitMessage ChangeDetectionMode = "commitMessage"

	// ModeLastCommitChanges matches changed file paths against task directories.
	ModeLastCommitChanges ChangeDetectionMode = "lastCommitChanges"

	// ModeFilesChanged matches an arbitrary caller-supplied changed-path list
	// (e.g. a full working-tree diff rather than just the last commit)
	// against task directories, using the same matching rule as
	// ModeLastCommitChanges.
	ModeFilesChanged ChangeDetectionMode = "filesChanged"
)

// GitState carries the repository facts DetectChanges needs. Git access
// itself is out of scope here (shelled out by the caller); this struct is
// the pure-data boundary.
type GitState struct {
	BranchName    string
	CommitMessage string
	ChangedPaths  []string
}

// DetectChanges returns the set of enabled tasks that should be re-graded
// under mode, given state. Group matches expand to every enabled task in
// the group. A disabled group never contributes tasks, matching the
// group-disable-dominance rule enforced by GetTasks.
func (m *Model) DetectChanges(mode ChangeDetectionMode, state GitState) []Task {
	switch mode {
	case ModeBranchName:
		return m.detectByText(state.BranchName)
	case ModeCommitMessage:
		return m.detectByText(state.CommitMessage)
	case ModeLastCommitChanges, ModeFilesChanged:
		return m.detectByChangedPaths(state.ChangedPaths)
	default:
		return nil
	}
}

// detectByText implements the branchName/commitMessage rule: a task or
// group name matches if it equals text exactly or is contained as a
// substring within it. This substring behaviour is intentional — see
// DESIGN.md's "open questions resolved" for why it is not tightened to an
// equality check.
func (m *Model) detectByText(text string) []Task {
	var out []Task

	for _, g := range m.Groups {
		if !g.Enabled {
			continue
		}

		if g.Name == text || strings.Contains(text, g.Name) {
			out = append(out, enabledTasks(g)...)
			continue
		}

		for _, t := range g.Tasks {
			if !t.Enabled {
				continue
			}

			if t.Name == text || strings.Contains(text, t.Name) {
				out = append(out, t)
			}
		}
	}

	return dedupTasks(out)
}

func (m *Model) detectByChangedPaths(changedPaths []string) []Task {
	var out []Task

	for _, g := range m.Groups {
		if !g.Enabled {
			continue
		}

		for _, t := range g.Tasks {
			if !t.Enabled {
				continue
			}

			for _, p := range changedPaths {
				if relativePathContains(t.RelativePath, p) {
					out = append(out, t)
					break
				}
			}
		}
	}

	return dedupTasks(out)
}

func enabledTasks(g Group) []Task {
	var out []Task

	for _, t := range g.Tasks {
		if t.Enabled {
			out = append(out, t)
		}
	}

	return out
}

func dedupTasks(tasks []Task) []Task {
	seen := make(map[string]struct{}, len(tasks))

	out := make([]Task, 0, len(tasks))

	for _, t := range tasks {
		if _, ok := seen[t.Name]; ok {
			continue
		}

		seen[t.Name] = struct{}{}

		out = append(out, t)
	}

	return out
}
