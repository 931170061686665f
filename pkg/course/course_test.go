package course_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manytask/checker/pkg/course"
)

func boolPtr(b bool) *bool { return &b }

func buildModel() *course.Model {
	return &course.Model{
		Groups: []course.Group{
			{
				Name:    "week1",
				Enabled: true,
				Start:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				End:     time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
				Tasks: []course.Task{
					{Name: "hello-world", Enabled: true, RelativePath: "week1/hello-world"},
					{Name: "fizzbuzz", Enabled: false, RelativePath: "week1/fizzbuzz"},
				},
			},
			{
				Name:    "week2-disabled",
				Enabled: false,
				Start:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
				End:     time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
				Tasks: []course.Task{
					{Name: "matrix", Enabled: true, RelativePath: "week2-disabled/matrix"},
				},
			},
		},
	}
}

func TestGetTasks_GroupDisableDominates(t *testing.T) {
	m := buildModel()

	tasks := m.GetTasks(boolPtr(true), nil, time.Now())

	names := make([]string, 0, len(tasks))
	for _, task := range tasks {
		names = append(names, task.Name)
	}

	assert.Contains(t, names, "hello-world")
	assert.NotContains(t, names, "matrix", "task in a disabled group must never be returned even though it is itself enabled")
	assert.NotContains(t, names, "fizzbuzz", "task itself disabled")
}

func TestDetectChanges_BranchNameSubstring(t *testing.T) {
	m := buildModel()

	tasks := m.DetectChanges(course.ModeBranchName, course.GitState{BranchName: "submits/hello-world-retry"})

	require.Len(t, tasks, 1)
	assert.Equal(t, "hello-world", tasks[0].Name)
}

func TestDetectChanges_GroupMatchExpandsToEnabledTasks(t *testing.T) {
	m := buildModel()

	tasks := m.DetectChanges(course.ModeBranchName, course.GitState{BranchName: "week1"})

	require.Len(t, tasks, 1)
	assert.Equal(t, "hello-world", tasks[0].Name, "fizzbuzz is disabled, must not be included")
}

func TestDetectChanges_LastCommitChanges(t *testing.T) {
	m := buildModel()

	tasks := m.DetectChanges(course.ModeLastCommitChanges, course.GitState{
		ChangedPaths: []string{"week1/hello-world/main.py", "README.md"},
	})

	require.Len(t, tasks, 1)
	assert.Equal(t, "hello-world", tasks[0].Name)
}

func TestDetectChanges_Idempotent(t *testing.T) {
	m := buildModel()
	state := course.GitState{ChangedPaths: []string{"week1/hello-world/main.py"}}

	first := m.DetectChanges(course.ModeLastCommitChanges, state)
	second := m.DetectChanges(course.ModeLastCommitChanges, state)

	assert.Equal(t, first, second)
}

func TestGroupValidate_StepsMustStrictlyDecrease(t *testing.T) {
	g := course.Group{
		Name:  "bad",
		Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC),
		Steps: []course.Step{
			{Percentage: 0.5, Deadline: time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)},
			{Percentage: 0.5, Deadline: time.Date(2021, 1, 3, 0, 0, 0, 0, time.UTC)},
		},
	}

	err := g.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, course.ErrInvalidSteps)
}

func TestModelMerge_MissingEnabledTaskIsFatal(t *testing.T) {
	m := &course.Model{Groups: []course.Group{{Name: "week1", Enabled: true}}}

	err := m.Merge(nil, []course.Group{
		{
			Name:    "week1",
			Enabled: true,
			Tasks: []course.Task{
				{Name: "nonexistent-task", Enabled: true, Score: 10},
			},
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, course.ErrScheduledTaskMissing)
}
