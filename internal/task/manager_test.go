package task_test

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/specialistvlad/gridbuild/internal/task"
	"github.com/specialistvlad/gridbuild/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerGroups(t *testing.T) {
	m := task.NewManager()
	require.Len(t, m.Groups(), 1)

	t.Run("first named group reuses the empty default", func(t *testing.T) {
		require.NoError(t, m.AddGroup("tools"))
		assert.Len(t, m.Groups(), 1)
		assert.Equal(t, "tools", m.Groups()[0].Name)
	})

	g1 := &testutil.FakeGenerator{GenTarget: "a"}
	m.AddGenerator(g1)

	require.NoError(t, m.AddGroup("docs"))
	g2 := &testutil.FakeGenerator{GenTarget: "b"}
	m.AddGenerator(g2)
	assert.Equal(t, 1, m.Current())

	t.Run("duplicate name", func(t *testing.T) {
		assert.Error(t, m.AddGroup("docs"))
	})

	t.Run("switching back", func(t *testing.T) {
		require.NoError(t, m.SetGroup("tools"))
		g3 := &testutil.FakeGenerator{GenTarget: "c"}
		m.AddGenerator(g3)
		assert.Equal(t, []task.Generator{g1, g3}, m.Groups()[0].Generators())
		assert.Equal(t, []task.Generator{g1, g3, g2}, m.Generators())
		assert.Error(t, m.SetGroup("nope"))
	})

	t.Run("use group creates or selects", func(t *testing.T) {
		require.NoError(t, m.UseGroup("docs"))
		assert.Equal(t, 1, m.Current())
		require.NoError(t, m.UseGroup("extra"))
		assert.Equal(t, 2, m.Current())
	})

	t.Run("tasks", func(t *testing.T) {
		a := testutil.NewFakeTask("a", nil)
		b := testutil.NewFakeTask("b", nil)
		m.AddTasks(1, b)
		m.AddTasks(0, a)
		assert.Equal(t, 2, m.Total())
		assert.Equal(t, []task.Task{a, b}, m.Tasks())
	})
}

func TestFormatError(t *testing.T) {
	ft := testutil.NewFakeTask("x", nil)
	assert.Empty(t, ft.FormatError())

	ft.SetState(task.Missing, task.ErrMissingOutput)
	assert.Equal(t, " -> missing files: fake:x", ft.FormatError())

	ft.SetState(task.Exception, errors.New("boom"))
	assert.Equal(t, " -> fake:x: boom", ft.FormatError())

	err := exec.Command("sh", "-c", "exit 3").Run()
	require.Error(t, err)
	ft.SetState(task.Crashed, err)
	assert.Equal(t, " -> task failed (err #3): fake:x", ft.FormatError())

	assert.True(t, task.Crashed.Failed())
	assert.False(t, task.Skipped.Failed())
}
