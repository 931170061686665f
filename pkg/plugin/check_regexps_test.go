package plugin_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manytask/checker/pkg/pipeline"
	"github.com/manytask/checker/pkg/plugin"
)

func TestCheckRegexpsPlugin_NoMatchSucceeds(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))

	p := &plugin.CheckRegexpsPlugin{}

	out, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"origin":   dir,
		"patterns": []any{"*.go"},
		"regexps":  []any{"os\\.Exit"},
	}, false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Percentage, 1e-9)
}

func TestCheckRegexpsPlugin_MatchFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() { os.Exit(1) }\n"), 0o644))

	p := &plugin.CheckRegexpsPlugin{}

	_, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"origin":   dir,
		"patterns": []any{"*.go"},
		"regexps":  []any{"os\\.Exit"},
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrPluginExecutionFailed)
}

func TestCheckRegexpsPlugin_MissingOriginFails(t *testing.T) {
	p := &plugin.CheckRegexpsPlugin{}

	_, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"origin":   "/no/such/dir",
		"patterns": []any{"*.go"},
		"regexps":  []any{"x"},
	}, false)
	require.Error(t, err)
}
