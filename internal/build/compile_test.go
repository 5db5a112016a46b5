package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/gridbuild/internal/executor"
	"github.com/specialistvlad/gridbuild/internal/task"
	"github.com/specialistvlad/gridbuild/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePersistencePolicy(t *testing.T) {
	interrupted := fmt.Errorf("%w: %w", executor.ErrInterrupted, context.Canceled)

	testCases := []struct {
		name      string
		res       *executor.Result
		err       error
		wantSaved bool
		wantErr   error
	}{
		{name: "nothing ran", res: &executor.Result{Skipped: 3}},
		{name: "no result", res: nil},
		{name: "tasks ran", res: &executor.Result{Started: 2}, wantSaved: true},
		{name: "interrupt after start", res: &executor.Result{Started: 1}, err: interrupted, wantSaved: true, wantErr: executor.ErrInterrupted},
		{name: "interrupt before start", res: &executor.Result{}, err: interrupted, wantErr: executor.ErrInterrupted},
		{name: "unexpected error", res: &executor.Result{Started: 4}, err: errors.New("boom"), wantErr: errors.New("boom")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProject(t, Options{}, nil)
			runner := &fakeRunner{res: tc.res, err: tc.err}
			p.c.Runner = runner
			wd, err := os.Getwd()
			require.NoError(t, err)

			err = p.c.Compile(p.ctx)
			if tc.wantErr != nil {
				require.Error(t, err)
				if errors.Is(tc.wantErr, executor.ErrInterrupted) {
					assert.ErrorIs(t, err, executor.ErrInterrupted)
				} else {
					assert.EqualError(t, err, tc.wantErr.Error())
				}
			} else {
				require.NoError(t, err)
			}

			if tc.wantSaved {
				assert.FileExists(t, filepath.Join(p.bld, SnapshotFile))
			} else {
				assert.NoFileExists(t, filepath.Join(p.bld, SnapshotFile))
			}

			assert.Equal(t, p.bld, runner.cwd, "tasks run from the build root")
			after, err := os.Getwd()
			require.NoError(t, err)
			assert.Equal(t, wd, after, "working directory is restored")
		})
	}
}

func TestCompileReportsFailedTasks(t *testing.T) {
	p := newProject(t, Options{}, nil)
	bad := testutil.NewFakeTask("bad", nil)
	bad.SetState(task.Missing, task.ErrMissingOutput)
	p.c.Runner = &fakeRunner{res: &executor.Result{Started: 1, Failed: []task.Task{bad}}}

	err := p.c.Compile(p.ctx)
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "build failed\n -> missing files: fake:bad", err.Error())
	assert.FileExists(t, filepath.Join(p.bld, SnapshotFile), "state is saved even when tasks fail")
}

func TestCompileWithParallelRunner(t *testing.T) {
	p := newProject(t, Options{Jobs: 2, Mode: ModeInstall}, nil)
	tl := testutil.NewTimeline()
	a := testutil.NewFakeTask("a", tl)
	b := testutil.NewFakeTask("b", tl)
	b.Status = task.SkipMe
	p.c.AddGenerator(generator("", "ab", "default", p.c.SrcNode().ID(), a, b))

	require.NoError(t, p.c.Compile(p.ctx))
	assert.Equal(t, task.Success, a.State())
	assert.Equal(t, task.Skipped, b.State())
	assert.Equal(t, 1, a.Installed)
	assert.Equal(t, 1, b.Installed, "up to date tasks still install")

	t.Run("uninstall builds nothing", func(t *testing.T) {
		p := newProject(t, Options{Mode: ModeUninstall}, nil)
		c := testutil.NewFakeTask("c", tl)
		p.c.AddGenerator(generator("", "c", "default", p.c.SrcNode().ID(), c))
		require.NoError(t, p.c.Compile(p.ctx))
		assert.Equal(t, task.Skipped, c.State())
		assert.Nil(t, tl.Get("c"))
		assert.Equal(t, 1, c.Installed)
		assert.NoFileExists(t, filepath.Join(p.bld, SnapshotFile))
	})
}

type panicRunner struct{}

func (panicRunner) Run(context.Context, *task.Manager) (*executor.Result, error) {
	panic("runner exploded")
}

func TestCompileRecoversRunnerPanic(t *testing.T) {
	p := newProject(t, Options{}, nil)
	p.c.Runner = panicRunner{}
	err := p.c.Compile(p.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.NoFileExists(t, filepath.Join(p.bld, SnapshotFile))
}
