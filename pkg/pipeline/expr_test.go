package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manytask/checker/pkg/pipeline"
)

func TestResolveString_BarePlaceholderYieldsNativeValue(t *testing.T) {
	ctx := pipeline.NewContext()
	ctx.Task["scorePercent"] = 0.75
	ctx.Task["enabled"] = true

	val, err := pipeline.ResolveString("${{ task.scorePercent }}", ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, val.(float64), 1e-9)

	bval, err := pipeline.ResolveString("${{ task.enabled }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, bval)
}

func TestResolveString_EmbeddedPlaceholderRendersAsString(t *testing.T) {
	ctx := pipeline.NewContext()
	ctx.Task["name"] = "fizzbuzz"

	val, err := pipeline.ResolveString("task: ${{ task.name }}!", ctx)
	require.NoError(t, err)
	assert.Equal(t, "task: fizzbuzz!", val)
}

func TestResolveString_ArithmeticAndComparison(t *testing.T) {
	ctx := pipeline.NewContext()
	ctx.Task["score"] = 8
	ctx.Task["minScore"] = 10

	val, err := pipeline.ResolveString("${{ task.score >= task.minScore }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, false, val)

	val, err = pipeline.ResolveString("${{ task.score + 2 }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, val)
}

func TestResolveString_UndefinedNameFails(t *testing.T) {
	ctx := pipeline.NewContext()

	_, err := pipeline.ResolveString("${{ task.missing }}", ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrUndefinedName)
}
