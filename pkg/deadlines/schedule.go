// Package deadlines computes the score multiplier in effect for a task at a
// given instant, under either a hard-step or linearly-interpolated late
// policy. Grounded on the step/multiplier semantics of the Python
// manytask/deadlines.py DeadlinesAPI this platform supersedes.
package deadlines

import (
	"time"

	"github.com/manytask/checker/pkg/course"
)

// Policy selects how the multiplier decays across deadline steps.
type Policy string

const (
	// Hard applies a step function: full percentage until a deadline, then
	// an instant drop to the next step's percentage.
	Hard Policy = "hard"

	// Interpolate linearly ramps the multiplier down across a fixed window
	// following each deadline, rather than dropping instantly.
	Interpolate Policy = "interpolate"
)

// Schedule holds the deadline policy shared by every group in a course.
type Schedule struct {
	Timezone          *time.Location
	Policy            Policy
	Window            time.Duration
	MaxSubmissions    int
	SubmissionPenalty float64
}

// point is one (percentage, deadline) pair of a group's flattened effective
// schedule, built per §4.6: [(1.0, step0), (p0, step1), ..., (p_{n-1}, end)].
type point struct {
	percentage float64
	deadline   time.Time
}

// effectivePoints flattens a group's Start/Steps/End into the ordered list
// used by both policies. The group's Steps must already satisfy
// Group.Validate's strictly-decreasing-percentage / strictly-increasing-
// deadline invariant.
func effectivePoints(g course.Group) []point {
	if len(g.Steps) == 0 {
		return []point{{percentage: 1.0, deadline: g.End}}
	}

	pts := make([]point, 0, len(g.Steps)+1)
	pts = append(pts, point{percentage: 1.0, deadline: g.Steps[0].Deadline})

	for i := 1; i < len(g.Steps); i++ {
		pts = append(pts, point{percentage: g.Steps[i-1].Percentage, deadline: g.Steps[i].Deadline})
	}

	pts = append(pts, point{percentage: g.Steps[len(g.Steps)-1].Percentage, deadline: g.End})

	return pts
}

// Multiplier returns the score multiplier in effect for a task in group g at
// instant t, under s's policy.
func (s Schedule) Multiplier(g course.Group, t time.Time) float64 {
	pts := effectivePoints(g)

	switch s.Policy {
	case Interpolate:
		return interpolatedMultiplier(pts, s.Window, t)
	case Hard:
		return hardMultiplier(pts, t)
	default:
		return hardMultiplier(pts, t)
	}
}

// hardMultiplier returns the percentage of the first point whose deadline is
// at or after t; 0.0 once t passes the last point (group end).
func hardMultiplier(pts []point, t time.Time) float64 {
	for _, p := range pts {
		if !t.After(p.deadline) {
			return p.percentage
		}
	}

	return 0.0
}

// interpolatedMultiplier implements §4.6's interpolate rule: before the
// first deadline the multiplier is flat 1.0; between consecutive deadlines
// it ramps linearly from the previous percentage to the next over window;
// past the final point (group end) it is a hard 0.0 — the window never
// extends interpolation beyond the group's own end.
func interpolatedMultiplier(pts []point, window time.Duration, t time.Time) float64 {
	if len(pts) == 0 {
		return 0.0
	}

	if !t.After(pts[0].deadline) {
		return 1.0
	}

	prevDeadline := pts[0].deadline
	prevPct := pts[0].percentage

	for _, p := range pts[1:] {
		if !t.After(p.deadline) {
			if window <= 0 {
				return p.percentage
			}

			frac := float64(t.Sub(prevDeadline)) / float64(window)
			if frac >= 1 {
				return p.percentage
			}

			return prevPct - frac*(prevPct-p.percentage)
		}

		prevDeadline = p.deadline
		prevPct = p.percentage
	}

	return 0.0
}
