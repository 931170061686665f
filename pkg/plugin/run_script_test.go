package plugin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manytask/checker/pkg/pipeline"
	"github.com/manytask/checker/pkg/plugin"
)

func TestRunScriptPlugin_SuccessCapturesStdout(t *testing.T) {
	p := &plugin.RunScriptPlugin{}

	out, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"origin": t.TempDir(),
		"script": "echo hello",
	}, false)
	require.NoError(t, err)
	assert.Contains(t, out.Stdout, "hello")
	assert.InDelta(t, 1.0, out.Percentage, 1e-9)
}

func TestRunScriptPlugin_NonZeroExitFails(t *testing.T) {
	p := &plugin.RunScriptPlugin{}

	_, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"origin": t.TempDir(),
		"script": "exit 3",
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrPluginExecutionFailed)
}

func TestRunScriptPlugin_TimeoutFails(t *testing.T) {
	p := &plugin.RunScriptPlugin{}

	_, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"origin":  t.TempDir(),
		"script":  "sleep 5",
		"timeout": 0.05,
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrPluginExecutionFailed)
}
