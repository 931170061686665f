package course

import "time"

// GetGroups returns groups matching the enabled/started filters. A nil
// filter is not applied. started is evaluated against now.
func (m *Model) GetGroups(enabled, started *bool, now time.Time) []Group {
	var out []Group

	for _, g := range m.Groups {
		if enabled != nil && g.Enabled != *enabled {
			continue
		}

		if started != nil && g.IsOpen(now) != *started {
			continue
		}

		out = append(out, g)
	}

	return out
}

// GetTasks returns tasks matching the enabled/started filters. Group-level
// disable dominates: a disabled group's tasks are never returned regardless
// of their own Enabled flag, and a group's started state governs all its
// tasks' started state.
func (m *Model) GetTasks(enabled, started *bool, now time.Time) []Task {
	var out []Task

	for _, g := range m.Groups {
		if !g.Enabled {
			continue
		}

		if started != nil && g.IsOpen(now) != *started {
			continue
		}

		for _, t := range g.Tasks {
			if enabled != nil && t.Enabled != *enabled {
				continue
			}

			out = append(out, t)
		}
	}

	return out
}

// GroupOf returns the group containing the named task, and whether it was found.
func (m *Model) GroupOf(taskName string) (Group, bool) {
	for _, g := range m.Groups {
		for _, t := range g.Tasks {
			if t.Name == taskName {
				return g, true
			}
		}
	}

	return Group{}, false
}
