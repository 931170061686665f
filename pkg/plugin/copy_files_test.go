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

func TestCopyFilesPlugin_CopiesMatchedFilesExceptIgnored(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(src, "solution.py"), []byte("print(1)\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "conftest.py"), []byte("# private\n"), 0o644))

	p := &plugin.CopyFilesPlugin{}

	out, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"sourceDir":      src,
		"targetDir":      dst,
		"patterns":       []any{"*.py"},
		"ignorePatterns": []any{"conftest.py"},
	}, false)
	require.NoError(t, err)
	assert.Contains(t, out.Stdout, "copied 1 files")

	_, err = os.Stat(filepath.Join(dst, "solution.py"))
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(dst, "conftest.py"))
	assert.True(t, os.IsNotExist(err))
}
