package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/gridbuild/internal/env"
	"github.com/specialistvlad/gridbuild/internal/executor"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/task"
	"github.com/specialistvlad/gridbuild/internal/testutil"
	"github.com/stretchr/testify/require"
)

type project struct {
	c   *Context
	ctx context.Context
	log *testutil.SafeBuffer
	src string
	bld string
}

// newProject creates src/ and bld/ under a temp dir and loads a Context for
// the given variants.
func newProject(t *testing.T, opts Options, files map[string]string, variants ...string) *project {
	t.Helper()
	root := testutil.TempDir(t)
	src := filepath.Join(root, "src")
	bld := filepath.Join(root, "bld")
	require.NoError(t, os.MkdirAll(src, 0o755))
	testutil.WriteFiles(t, src, files)

	ctx, buf := testutil.LogContext(t)
	p := &project{ctx: ctx, log: buf, src: src, bld: bld}
	p.c = p.reload(t, opts, variants...)
	return p
}

// reload simulates a new process against the same directories.
func (p *project) reload(t *testing.T, opts Options, variants ...string) *Context {
	t.Helper()
	if len(variants) == 0 {
		variants = []string{env.DefaultVariant}
	}
	if opts.LaunchDir == "" {
		opts.LaunchDir = p.src
	}
	c := New(opts)
	for _, v := range variants {
		c.SetEnv(v, env.New(v))
	}
	require.NoError(t, c.LoadDirs(p.ctx, p.src, p.bld))
	p.c = c
	return c
}

func (p *project) resource(t *testing.T, rel string) *node.Node {
	t.Helper()
	n, err := p.c.FindResource(p.ctx, p.c.SrcNode(), rel)
	require.NoError(t, err)
	require.NotNil(t, n, "resource %s", rel)
	return n
}

type fakeRunner struct {
	res  *executor.Result
	err  error
	cwd  string
	seen int
}

func (f *fakeRunner) Run(_ context.Context, m *task.Manager) (*executor.Result, error) {
	f.cwd, _ = os.Getwd()
	f.seen = m.Total()
	return f.res, f.err
}

func generator(name, target, variant string, dir node.ID, tasks ...task.Task) *testutil.FakeGenerator {
	return &testutil.FakeGenerator{GenName: name, GenTarget: target, GenVar: variant, GenDir: dir, Tasks: tasks}
}
