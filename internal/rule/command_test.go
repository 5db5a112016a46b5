package rule_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/gridbuild/internal/build"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/rule"
	"github.com/specialistvlad/gridbuild/internal/task"
	"github.com/specialistvlad/gridbuild/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func declare(bc *build.Context, decl rule.Target) {
	for _, v := range bc.Variants() {
		bc.AddGenerator(rule.NewGenerator(bc, decl, v, bc.SrcNode()))
	}
}

func TestCommandIncremental(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	target := func(t *testing.T) rule.Target {
		return rule.Target{Output: "a.out", Rule: copyRule(t, "a"), Sources: []string{"a.txt"}, Vars: []string{"FLAGS"}}
	}
	build1 := func(t *testing.T, flags string) {
		t.Helper()
		e := f.env("default")
		e.SetString("FLAGS", flags)
		bc := f.open(t, build.Options{}, e)
		declare(bc, target(t))
		require.NoError(t, bc.Compile(f.ctx))
	}

	t.Run("first build runs the command", func(t *testing.T) {
		build1(t, "-O1")
		assert.Equal(t, []string{"a"}, f.ranLines(t))
		assert.Equal(t, "alpha", testutil.ReadFile(t, filepath.Join(f.bld, "default", "a.out")))
	})

	t.Run("unchanged inputs are skipped", func(t *testing.T) {
		build1(t, "-O1")
		assert.Len(t, f.ranLines(t), 1)
	})

	t.Run("a changed source reruns", func(t *testing.T) {
		f.write(t, "a.txt", "beta")
		build1(t, "-O1")
		assert.Len(t, f.ranLines(t), 2)
		assert.Equal(t, "beta", testutil.ReadFile(t, filepath.Join(f.bld, "default", "a.out")))
	})

	t.Run("a changed signature variable reruns", func(t *testing.T) {
		build1(t, "-O2")
		assert.Len(t, f.ranLines(t), 3)
	})

	t.Run("a deleted output reruns", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(f.bld, "default", "a.out")))
		build1(t, "-O2")
		assert.Len(t, f.ranLines(t), 4)
	})
}

func TestCommandChainsBuildOutputs(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	bc := f.open(t, build.Options{Jobs: 4})

	// The consumer is declared before its producer.
	declare(bc, rule.Target{Output: "b.out", Rule: copyRule(t, "b"), Sources: []string{"a.out"}})
	declare(bc, rule.Target{Output: "a.out", Rule: copyRule(t, "a"), Sources: []string{"a.txt"}})
	require.NoError(t, bc.Compile(f.ctx))

	assert.Equal(t, []string{"a", "b"}, f.ranLines(t))
	assert.Equal(t, "alpha", testutil.ReadFile(t, filepath.Join(f.bld, "default", "b.out")))

	bc = f.open(t, build.Options{Jobs: 4})
	declare(bc, rule.Target{Output: "b.out", Rule: copyRule(t, "b"), Sources: []string{"a.out"}})
	declare(bc, rule.Target{Output: "a.out", Rule: copyRule(t, "a"), Sources: []string{"a.txt"}})
	require.NoError(t, bc.Compile(f.ctx))
	assert.Len(t, f.ranLines(t), 2, "nothing changed")
}

func TestCommandDependencies(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha", "config.h": "1", "x.h": "x"})
	run := func(t *testing.T) {
		t.Helper()
		bc := f.open(t, build.Options{})
		declare(bc, rule.Target{
			Output:   "a.out",
			Rule:     copyRule(t, "a"),
			Sources:  []string{"a.txt"},
			Deps:     []string{"config.h", "api-v2"},
			Implicit: []string{"*.h"},
		})
		require.NoError(t, bc.Compile(f.ctx))
	}

	run(t)
	run(t)
	require.Len(t, f.ranLines(t), 1)

	t.Run("manual dependency change", func(t *testing.T) {
		f.write(t, "config.h", "2")
		run(t)
		assert.Len(t, f.ranLines(t), 2)
	})

	t.Run("implicit dependency change", func(t *testing.T) {
		f.write(t, "x.h", "y")
		run(t)
		assert.Len(t, f.ranLines(t), 3)
	})

	t.Run("new implicit dependency", func(t *testing.T) {
		f.write(t, "y.h", "new")
		run(t)
		assert.Len(t, f.ranLines(t), 4)
		run(t)
		assert.Len(t, f.ranLines(t), 4)
	})
}

// Two variants share source signatures but keep independent output
// signatures.
func TestCommandVariants(t *testing.T) {
	f := newFixture(t, map[string]string{"a.c": "int a;"})
	run := func(t *testing.T) *build.Context {
		t.Helper()
		bc := f.open(t, build.Options{}, f.env("debug"), f.env("release"))
		for _, v := range bc.Variants() {
			bc.AddGenerator(rule.NewGenerator(bc, rule.Target{Output: "a.o", Rule: copyRule(t, v), Sources: []string{"a.c"}}, v, bc.SrcNode()))
		}
		require.NoError(t, bc.Compile(f.ctx))
		return bc
	}

	run(t)
	assert.ElementsMatch(t, []string{"debug", "release"}, f.ranLines(t))

	f.write(t, "a.c", "int b;")
	bc := run(t)
	assert.ElementsMatch(t, []string{"debug", "release", "debug", "release"}, f.ranLines(t))
	src, err := bc.FindResource(f.ctx, bc.SrcNode(), "a.c")
	require.NoError(t, err)
	_, ok := bc.SourceSig(src.ID())
	assert.True(t, ok)

	require.NoError(t, os.Remove(filepath.Join(f.bld, "release", "a.o")))
	run(t)
	lines := f.ranLines(t)
	require.Len(t, lines, 5)
	assert.Equal(t, "release", lines[4])
}

// A failing command produces a BuildError with its formatted message, and
// the state saved on disk keeps what succeeded before it.
func TestCommandFailure(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	bc := f.open(t, build.Options{Jobs: 1})
	declare(bc, rule.Target{Output: "a.out", Rule: copyRule(t, "a"), Sources: []string{"a.txt"}})
	declare(bc, rule.Target{Output: "bad.out", Rule: tmpl(t, "echo broken >&2; exit 3"), Sources: []string{"a.txt"}})

	err := bc.Compile(f.ctx)
	var be *build.BuildError
	require.True(t, errors.As(err, &be), "got %v", err)
	require.Len(t, be.Tasks, 1)
	assert.Equal(t, task.Crashed, be.Tasks[0].State())
	assert.Contains(t, be.Tasks[0].FormatError(), "task failed (err #3)")
	assert.Contains(t, be.Tasks[0].FormatError(), "bad.out")
	assert.Contains(t, be.Tasks[0].Err().Error(), "broken")

	reloaded := f.open(t, build.Options{})
	out, err := reloaded.FindResource(f.ctx, reloaded.SrcNode(), "a.out")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, node.Build, out.Kind())
	_, ok := reloaded.BuildSig("default", out.ID())
	assert.True(t, ok, "signature of the successful task was saved")

	t.Run("keep going runs the rest", func(t *testing.T) {
		bc := f.open(t, build.Options{Jobs: 1, KeepGoing: true})
		declare(bc, rule.Target{Output: "bad.out", Rule: tmpl(t, "exit 1"), Sources: []string{"a.txt"}})
		declare(bc, rule.Target{Output: "c.out", Rule: copyRule(t, "c"), Sources: []string{"a.txt"}})
		err := bc.Compile(f.ctx)
		require.ErrorAs(t, err, &be)
		assert.Contains(t, f.ranLines(t), "c")
	})
}

func TestCommandMissingOutput(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	bc := f.open(t, build.Options{})
	declare(bc, rule.Target{Output: "never.out", Rule: tmpl(t, "true"), Sources: []string{"a.txt"}})

	err := bc.Compile(f.ctx)
	var be *build.BuildError
	require.ErrorAs(t, err, &be)
	require.Len(t, be.Tasks, 1)
	assert.Equal(t, task.Missing, be.Tasks[0].State())
	assert.Contains(t, be.Tasks[0].FormatError(), "missing files")
}

func TestCommandUnproducedInput(t *testing.T) {
	f := newFixture(t, map[string]string{})
	bc := f.open(t, build.Options{})
	declare(bc, rule.Target{Output: "a.out", Rule: copyRule(t, "a"), Sources: []string{"nowhere.txt"}})

	err := bc.Compile(f.ctx)
	var be *build.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, task.Exception, be.Tasks[0].State())
	assert.Contains(t, be.Tasks[0].FormatError(), "neither a source file nor produced")
	assert.Empty(t, f.ranLines(t))
}

func TestGeneratorPostsOnce(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	bc := f.open(t, build.Options{})
	g := rule.NewGenerator(bc, rule.Target{Name: "first", Output: "a.out", Rule: copyRule(t, "a"), Sources: []string{"a.txt"}}, "default", bc.SrcNode())

	assert.Equal(t, "first", g.Name())
	assert.Equal(t, "a.out", g.Target())
	assert.False(t, g.Posted())

	tasks, err := g.Post(f.ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a.txt -> a.out (default)", tasks[0].String())
	assert.Len(t, tasks[0].UniqueID(), 64)

	again, err := g.Post(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	other := rule.NewGenerator(bc, rule.Target{Output: "a.out", Rule: copyRule(t, "b"), Sources: []string{"a.txt"}}, "default", bc.SrcNode())
	ts, err := other.Post(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, tasks[0].UniqueID(), ts[0].UniqueID(), "same inputs and outputs")
}

func TestGeneratorRejectsSourceOutput(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	bc := f.open(t, build.Options{})
	g := rule.NewGenerator(bc, rule.Target{Output: "a.txt", Rule: copyRule(t, "a")}, "default", bc.SrcNode())
	_, err := g.Post(f.ctx)
	assert.ErrorContains(t, err, "not a build output")
}

func TestCommandAlways(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	cache := filepath.Join(f.root, "cache")
	for i := 1; i <= 2; i++ {
		bc := f.open(t, build.Options{CacheDir: cache})
		declare(bc, rule.Target{Output: "a.out", Rule: copyRule(t, "a"), Sources: []string{"a.txt"}, Always: true})
		require.NoError(t, bc.Compile(f.ctx))
		assert.Len(t, f.ranLines(t), i)
	}
	entries, err := filepath.Glob(filepath.Join(cache, "*", "*", "a.out"))
	require.NoError(t, err)
	assert.Empty(t, entries, "commands that always run bypass the output cache")
}

func TestCommandOutputCache(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	cache := filepath.Join(f.root, "cache")
	build1 := func(t *testing.T) {
		t.Helper()
		bc := f.open(t, build.Options{CacheDir: cache})
		declare(bc, rule.Target{Output: "a.out", Rule: copyRule(t, "a"), Sources: []string{"a.txt"}})
		require.NoError(t, bc.Compile(f.ctx))
	}

	build1(t)
	require.Len(t, f.ranLines(t), 1)
	entries, err := filepath.Glob(filepath.Join(cache, "*", "*", "a.out"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alpha", testutil.ReadFile(t, entries[0]))

	t.Run("a fresh build tree restores from the cache", func(t *testing.T) {
		require.NoError(t, os.RemoveAll(f.bld))
		build1(t)
		assert.Len(t, f.ranLines(t), 1)
		assert.Equal(t, "alpha", testutil.ReadFile(t, filepath.Join(f.bld, "default", "a.out")))
		assert.Contains(t, f.log.String(), "Restored outputs from cache.")
	})

	t.Run("restored outputs are up to date", func(t *testing.T) {
		build1(t)
		assert.Len(t, f.ranLines(t), 1)
	})

	t.Run("a changed source misses the cache", func(t *testing.T) {
		f.write(t, "a.txt", "beta")
		build1(t)
		assert.Len(t, f.ranLines(t), 2)
		entries, err := filepath.Glob(filepath.Join(cache, "*", "*", "a.out"))
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}
