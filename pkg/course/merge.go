package course

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrScheduledTaskMissing is returned by Merge when an enabled task named
// in the deadline schedule has no corresponding on-disk task directory.
var ErrScheduledTaskMissing = errors.New("scheduled task has no on-disk directory")

// Merge attaches scheduling data (start/end/steps/score/enabled) from
// scheduleGroups — decoded straight from manytask.yml's deadline schedule,
// using the same Group/Task shapes as the physical model — onto the
// physically-loaded groups and tasks, matching by name. A schedule group
// with no on-disk counterpart only produces a warning log; a schedule task
// marked enabled with no on-disk counterpart is fatal, per the "every
// enabled task in the deadline schedule must be discoverable on disk"
// invariant.
func (m *Model) Merge(logger *slog.Logger, scheduleGroups []Group) error {
	byName := make(map[string]int, len(m.Groups))
	for i, g := range m.Groups {
		byName[g.Name] = i
	}

	for _, sg := range scheduleGroups {
		idx, ok := byName[sg.Name]
		if !ok {
			if logger != nil {
				logger.Warn("schedule group has no on-disk directory", "group", sg.Name)
			}

			continue
		}

		diskGroup := &m.Groups[idx]
		diskGroup.Enabled = sg.Enabled
		diskGroup.Start = sg.Start
		diskGroup.End = sg.End
		diskGroup.Steps = sg.Steps

		taskByName := make(map[string]int, len(diskGroup.Tasks))
		for i, t := range diskGroup.Tasks {
			taskByName[t.Name] = i
		}

		for _, st := range sg.Tasks {
			ti, ok := taskByName[st.Name]
			if !ok {
				if st.Enabled {
					return fmt.Errorf("%w: %q in group %q", ErrScheduledTaskMissing, st.Name, sg.Name)
				}

				continue
			}

			diskGroup.Tasks[ti].Score = st.Score
			if st.MinScore != 0 {
				diskGroup.Tasks[ti].MinScore = st.MinScore
			}

			if st.Bonus {
				diskGroup.Tasks[ti].Bonus = true
			}

			diskGroup.Tasks[ti].Enabled = st.Enabled
			diskGroup.Tasks[ti].ScoringFunc = st.ScoringFunc
		}
	}

	return nil
}

// Validate runs the group-level step invariants on every group that was
// merged with a schedule entry and checks that no two tasks share a name.
// The schedule-to-disk cross-reference check is done by Merge.
func (m *Model) Validate() error {
	for _, g := range m.Groups {
		if g.Start.IsZero() && g.End.IsZero() {
			// Group never merged with a schedule entry; nothing to validate.
			continue
		}

		if err := g.Validate(); err != nil {
			return err
		}
	}

	return m.checkDuplicateNames()
}
