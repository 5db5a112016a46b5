package sig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("hello"), 0644))

	sa, err := File(a)
	require.NoError(t, err)
	sb, err := File(b)
	require.NoError(t, err)

	assert.Equal(t, sa, sb, "same content must hash the same regardless of path")
	assert.False(t, sa.IsNil())

	require.NoError(t, os.WriteFile(b, []byte("hello!"), 0644))
	sb, err = File(b)
	require.NoError(t, err)
	assert.NotEqual(t, sa, sb)

	t.Run("directory is an error", func(t *testing.T) {
		_, err := File(dir)
		assert.Error(t, err)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := File(filepath.Join(dir, "nope"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestHasherFieldsAreDelimited(t *testing.T) {
	a := New().String("ab").String("c").Sum()
	b := New().String("a").String("bc").Sum()
	assert.NotEqual(t, a, b)
}

func TestParse(t *testing.T) {
	s := String("payload")
	got, err := Parse(s.String())
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.Len(t, s.Short(), 8)

	_, err = Parse("zz")
	assert.Error(t, err)
	_, err = FromBytes([]byte{1, 2})
	assert.Error(t, err)
}
