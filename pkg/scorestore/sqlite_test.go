package scorestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manytask/checker/pkg/course"
	"github.com/manytask/checker/pkg/scorestore"
)

func buildModel() *course.Model {
	return &course.Model{
		Groups: []course.Group{
			{
				Name:    "week1",
				Enabled: true,
				Start:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				End:     time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
				Tasks: []course.Task{
					{Name: "hello-world", Score: 10, Enabled: true},
					{Name: "bonus-task", Score: 5, Enabled: true, Bonus: true},
				},
			},
		},
	}
}

func TestStoreScore_MonotonicMax(t *testing.T) {
	store, err := scorestore.Open(":memory:", buildModel(), time.Millisecond)
	require.NoError(t, err)

	defer store.Close()

	ctx := context.Background()
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	rec, err := store.StoreScore(ctx, "c1", "u1", "hello-world", 0.5, 10, false, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Score)

	// A lower-scoring resubmission must not decrease the stored score.
	rec, err = store.StoreScore(ctx, "c1", "u1", "hello-world", 0.2, 10, false, now.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Score)

	// A higher-scoring resubmission raises it.
	rec, err = store.StoreScore(ctx, "c1", "u1", "hello-world", 1.0, 10, false, now.Add(2*time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Score)
}

func TestStoreScore_BonusAccumulatesAdditively(t *testing.T) {
	store, err := scorestore.Open(":memory:", buildModel(), time.Millisecond)
	require.NoError(t, err)

	defer store.Close()

	ctx := context.Background()
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	rec, err := store.StoreScore(ctx, "c1", "u1", "bonus-task", 1.0, 5, true, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Score)

	rec, err = store.StoreScore(ctx, "c1", "u1", "bonus-task", 1.0, 5, true, now.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Score)
}

func TestGetAllScores_ReflectsWrites(t *testing.T) {
	store, err := scorestore.Open(":memory:", buildModel(), time.Millisecond)
	require.NoError(t, err)

	defer store.Close()

	ctx := context.Background()
	now := time.Now().Add(0)

	_, err = store.StoreScore(ctx, "c1", "u1", "hello-world", 0.5, 10, false, now, nil)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)

	all, err := store.GetAllScores(ctx, "c1")
	require.NoError(t, err)
	require.Contains(t, all, "u1")
	assert.Equal(t, 5, all["u1"]["hello-world"].Score)
}

func TestMaxScoreStarted_ExcludesBonusAndDisabled(t *testing.T) {
	model := buildModel()
	store, err := scorestore.Open(":memory:", model, time.Millisecond)
	require.NoError(t, err)

	defer store.Close()

	total, err := store.MaxScoreStarted(context.Background(), "c1", time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 10, total) // bonus-task excluded
}
