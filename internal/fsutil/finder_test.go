package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesWithSuffix(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.cache.hcl", "a.cache.hcl", "build.config.hcl", ".cache.hcl", "nested/c.cache.hcl"} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d.cache.hcl"), 0o755))

	files, err := FilesWithSuffix(dir, ".cache.hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.cache.hcl"), filepath.Join(dir, "b.cache.hcl")}, files)

	_, err = FilesWithSuffix(filepath.Join(dir, "missing"), ".cache.hcl")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	assert.Panics(t, func() { _, _ = FilesWithSuffix(dir, "") })
}
