package plugin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manytask/checker/pkg/pipeline"
	"github.com/manytask/checker/pkg/plugin"
)

func TestAggregatePlugin_MeanStrategy(t *testing.T) {
	p := &plugin.AggregatePlugin{}

	out, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"scores": []any{0.5, 1.0},
	}, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, out.Percentage, 1e-9)
}

func TestAggregatePlugin_WeightedSum(t *testing.T) {
	p := &plugin.AggregatePlugin{}

	out, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"scores":   []any{1.0, 1.0},
		"weights":  []any{0.3, 0.7},
		"strategy": "sum",
	}, false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Percentage, 1e-9)
}

func TestAggregatePlugin_MismatchedLengthsFails(t *testing.T) {
	p := &plugin.AggregatePlugin{}

	_, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"scores":  []any{1.0},
		"weights": []any{1.0, 2.0},
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrPluginExecutionFailed)
}

func TestAggregatePlugin_EmptyScoresFails(t *testing.T) {
	p := &plugin.AggregatePlugin{}

	_, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"scores": []any{},
	}, false)
	require.Error(t, err)
}
