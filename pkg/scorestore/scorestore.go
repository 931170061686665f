// Package scorestore defines the ScoreStore contract — a per-(course, user,
// task) score cell with an idempotent merge-based update rule — and a cached
// sqlite-backed implementation of it.
package scorestore

import (
	"context"
	"math"
	"time"
)

// Record is one (course, user, task) score cell.
type Record struct {
	Score          int
	LastSubmitTime time.Time
}

// MergeFunc combines an existing Record with a newly-submitted percentage
// into the Record that should be stored. Supplied by the caller so
// alternative scoring policies (e.g. a course that wants "always latest"
// instead of monotonic-max) can be plugged in without changing the store.
type MergeFunc func(old Record, scorePercent float64, taskScore int, bonus bool, submitTime time.Time) Record

// DefaultMerge implements §4.6's update rule: new := max(old, round(scorePercent
// * taskScore)); bonus tasks accumulate additively instead.
func DefaultMerge(old Record, scorePercent float64, taskScore int, bonus bool, submitTime time.Time) Record {
	candidate := int(math.Round(scorePercent * float64(taskScore)))

	next := old.Score
	if bonus {
		next = old.Score + candidate
	} else if candidate > old.Score {
		next = candidate
	}

	return Record{Score: next, LastSubmitTime: submitTime}
}

// Stats is a per-task completion fraction, as returned by GetStats.
type Stats struct {
	TaskID             string
	NonZeroFraction    float64
	EnrolledCount      int
	NonZeroScoreCount  int
}

// ScoreStore is the score-persistence contract. Implementations must
// serialise concurrent updates to the same (course, user, task) cell and
// never decrease a score except through an explicit caller-supplied
// MergeFunc.
type ScoreStore interface {
	// StoreScore applies merge to the current Record (zero value if absent)
	// for (courseID, userID, taskID) and persists the result, inside a
	// transaction that serialises concurrent submissions for the same cell.
	StoreScore(ctx context.Context, courseID, userID, taskID string, scorePercent float64, taskScore int, bonus bool, submitTime time.Time, merge MergeFunc) (Record, error)

	// GetAllScores returns every user's scores for courseID, read from a
	// snapshot refreshed by a timer or invalidated on any successful write.
	GetAllScores(ctx context.Context, courseID string) (map[string]map[string]Record, error)

	// GetScores returns one user's scores for courseID.
	GetScores(ctx context.Context, courseID, userID string) (map[string]Record, error)

	// GetStats returns, per task, the fraction of enrolled users with a
	// non-zero score.
	GetStats(ctx context.Context, courseID string) ([]Stats, error)

	// MaxScoreStarted sums the scores of started, enabled, non-bonus tasks
	// as of now.
	MaxScoreStarted(ctx context.Context, courseID string, now time.Time) (int, error)

	// Close releases any held resources.
	Close() error
}
