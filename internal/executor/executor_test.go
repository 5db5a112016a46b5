package executor

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/specialistvlad/gridbuild/internal/task"
	"github.com/specialistvlad/gridbuild/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	started, finished int
}

func (o *countingObserver) TaskStarted(task.Task)                 { o.started++ }
func (o *countingObserver) TaskFinished(task.Task, time.Duration) { o.finished++ }

func TestParallelRunsEveryTask(t *testing.T) {
	tl := testutil.NewTimeline()
	m := task.NewManager()
	a := testutil.NewFakeTask("a", tl)
	b := testutil.NewFakeTask("b", tl)
	c := testutil.NewFakeTask("c", tl)
	c.Status = task.SkipMe
	m.AddTasks(0, a, b, c)

	obs := &countingObserver{}
	var progress bytes.Buffer
	var finished []string
	p := &Parallel{
		Jobs:     2,
		Observer: obs,
		Progress: &progress,
		Finished: func(_ context.Context, t task.Task) error {
			finished = append(finished, t.UniqueID())
			return nil
		},
	}
	res, err := p.Run(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Started)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Failed)
	assert.Equal(t, task.Success, a.State())
	assert.Equal(t, task.Skipped, c.State())
	assert.Equal(t, 1, a.PostRuns)
	assert.Equal(t, 0, c.PostRuns)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, finished)
	assert.Equal(t, 2, obs.started)
	assert.Equal(t, 3, obs.finished, "skipped tasks are reported as finished")
	assert.Contains(t, progress.String(), "fake:a")
}

func TestParallelGroupsAreBarriers(t *testing.T) {
	tl := testutil.NewTimeline()
	m := task.NewManager()
	slow := testutil.NewFakeTask("slow", tl)
	slow.Sleep = 50 * time.Millisecond
	fast := testutil.NewFakeTask("fast", tl)
	m.AddTasks(0, slow, fast)
	require.NoError(t, m.AddGroup("second"))
	late := testutil.NewFakeTask("late", tl)
	m.AddTasks(1, late)

	_, err := (&Parallel{Jobs: 4}).Run(context.Background(), m)
	require.NoError(t, err)

	slowRec, lateRec := tl.Get("slow"), tl.Get("late")
	require.NotNil(t, slowRec)
	require.NotNil(t, lateRec)
	assert.False(t, lateRec.Start.Before(slowRec.End), "second group started before the first finished")
	assert.Equal(t, "late", tl.Order()[2])
}

func TestParallelAskLater(t *testing.T) {
	tl := testutil.NewTimeline()
	m := task.NewManager()
	producer := testutil.NewFakeTask("producer", tl)
	producer.Sleep = 10 * time.Millisecond
	consumer := testutil.NewFakeTask("consumer", tl)
	consumer.After = []task.Task{producer}
	m.AddTasks(0, consumer, producer)

	_, err := (&Parallel{Jobs: 4}).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, []string{"producer", "consumer"}, tl.Order())

	t.Run("deadlock", func(t *testing.T) {
		m := task.NewManager()
		x := testutil.NewFakeTask("x", nil)
		y := testutil.NewFakeTask("y", nil)
		x.After = []task.Task{y}
		y.After = []task.Task{x}
		m.AddTasks(0, x, y)

		_, err := (&Parallel{Jobs: 1}).Run(context.Background(), m)
		assert.ErrorIs(t, err, ErrDeadlock)
	})
}

func TestParallelFailures(t *testing.T) {
	t.Run("stops after first failure", func(t *testing.T) {
		m := task.NewManager()
		bad := testutil.NewFakeTask("bad", nil)
		bad.RunErr = errors.New("exit 1")
		good := testutil.NewFakeTask("good", nil)
		m.AddTasks(0, bad)
		require.NoError(t, m.AddGroup("next"))
		m.AddTasks(1, good)

		res, err := (&Parallel{Jobs: 1}).Run(context.Background(), m)
		require.NoError(t, err)
		require.Len(t, res.Failed, 1)
		assert.Equal(t, task.Crashed, bad.State())
		assert.Equal(t, task.NotRun, good.State())
	})

	t.Run("keep going", func(t *testing.T) {
		m := task.NewManager()
		bad := testutil.NewFakeTask("bad", nil)
		bad.RunErr = errors.New("exit 1")
		missing := testutil.NewFakeTask("missing", nil)
		missing.PostErr = task.ErrMissingOutput
		broken := testutil.NewFakeTask("broken", nil)
		broken.StatusErr = errors.New("no signature")
		good := testutil.NewFakeTask("good", nil)
		m.AddTasks(0, bad, missing, broken, good)

		res, err := (&Parallel{Jobs: 2, KeepGoing: true}).Run(context.Background(), m)
		require.NoError(t, err)
		assert.Len(t, res.Failed, 3)
		assert.Equal(t, task.Missing, missing.State())
		assert.Equal(t, task.Exception, broken.State())
		assert.Equal(t, task.Success, good.State())
		assert.Zero(t, bad.Installed)
	})
}

type stateObserver struct {
	states map[string]task.State
}

func (o *stateObserver) TaskStarted(task.Task) {}
func (o *stateObserver) TaskFinished(t task.Task, _ time.Duration) {
	o.states[t.UniqueID()] = t.State()
}

func TestParallelReportsFinalStates(t *testing.T) {
	m := task.NewManager()
	broken := testutil.NewFakeTask("broken", nil)
	broken.StatusErr = errors.New("no signature")
	hook := testutil.NewFakeTask("hook", nil)
	skipped := testutil.NewFakeTask("skipped", nil)
	skipped.Status = task.SkipMe
	good := testutil.NewFakeTask("good", nil)
	m.AddTasks(0, broken, hook, skipped, good)

	obs := &stateObserver{states: make(map[string]task.State)}
	p := &Parallel{
		Jobs:      1,
		KeepGoing: true,
		Observer:  obs,
		Finished: func(_ context.Context, t task.Task) error {
			if t.UniqueID() == "good" {
				return nil
			}
			return errors.New("cannot install")
		},
	}
	res, err := p.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Len(t, res.Failed, 3)
	assert.Equal(t, map[string]task.State{
		"broken":  task.Exception,
		"hook":    task.Exception,
		"skipped": task.Exception,
		"good":    task.Success,
	}, obs.states)
}

func TestParallelSkipAll(t *testing.T) {
	m := task.NewManager()
	a := testutil.NewFakeTask("a", nil)
	m.AddTasks(0, a)

	var installed int
	p := &Parallel{Jobs: 1, SkipAll: true, Finished: func(_ context.Context, t task.Task) error {
		installed++
		return nil
	}}
	res, err := p.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Zero(t, res.Started)
	assert.Equal(t, task.Skipped, a.State())
	assert.Equal(t, 1, installed)
}

func TestParallelInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := task.NewManager()
	first := testutil.NewFakeTask("first", nil)
	first.Sleep = time.Second
	second := testutil.NewFakeTask("second", nil)
	m.AddTasks(0, first, second)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, err := (&Parallel{Jobs: 1}).Run(ctx, m)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Started)
	assert.Equal(t, task.NotRun, second.State())
}
