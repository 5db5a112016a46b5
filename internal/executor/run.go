package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gookit/color"
	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/task"
	"golang.org/x/sync/errgroup"
)

type outcome struct {
	t       task.Task
	err     error
	elapsed time.Duration
}

// run is the coordinator state of one Parallel.Run call. Every field is
// touched only by the coordinating goroutine; workers only see the task they
// were handed and the done channel.
type run struct {
	p     *Parallel
	jobs  int
	total int

	workers  errgroup.Group
	done     chan outcome
	inFlight int

	processed   int
	progress    bool
	stop        bool
	interrupted bool
	res         Result
}

func newRun(p *Parallel, total int) *run {
	jobs := p.Jobs
	if jobs < 1 {
		jobs = 1
	}
	r := &run{p: p, jobs: jobs, total: total, done: make(chan outcome, jobs)}
	r.workers.SetLimit(jobs)
	return r
}

// wait drains every in-flight task.
func (r *run) wait() {
	for r.inFlight > 0 {
		r.collect(context.Background())
	}
	_ = r.workers.Wait()
}

// group runs one barrier group to completion.
func (r *run) group(ctx context.Context, idx int, tasks []task.Task) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Running task group.", "group", idx, "tasks", len(tasks))

	pending := append([]task.Task(nil), tasks...)
	var frozen []task.Task
	r.progress = true

	for {
		for len(pending) > 0 && !r.stop {
			if ctx.Err() != nil {
				logger.Debug("Context cancelled, no longer dispatching.")
				r.interrupted = true
				r.stop = true
				break
			}
			if r.inFlight >= r.jobs {
				r.collect(ctx)
				continue
			}
			t := pending[0]
			pending = pending[1:]
			if later := r.examine(ctx, t); later {
				frozen = append(frozen, t)
			}
		}

		if r.inFlight > 0 {
			r.collect(ctx)
			continue
		}
		if r.stop || len(frozen) == 0 {
			return nil
		}
		if !r.progress {
			return fmt.Errorf("%w: %d task(s) in group %d, first %s", ErrDeadlock, len(frozen), idx, frozen[0])
		}
		pending, frozen = frozen, nil
		r.progress = false
	}
}

// examine decides what to do with t. It returns true when t must be retried
// later in the same group.
func (r *run) examine(ctx context.Context, t task.Task) bool {
	if t.State() != task.NotRun {
		return false
	}

	st := task.SkipMe
	if !r.p.SkipAll {
		var err error
		st, err = t.RunnableStatus(ctx)
		if err != nil {
			r.processed++
			r.progress = true
			t.SetState(task.Exception, err)
			r.report(t, 0)
			r.fail(ctx, t)
			return false
		}
	}

	switch st {
	case task.AskLater:
		return true
	case task.SkipMe:
		r.processed++
		r.progress = true
		r.res.Skipped++
		t.SetState(task.Skipped, nil)
		r.finish(ctx, t)
		r.report(t, 0)
		if t.State().Failed() {
			r.fail(ctx, t)
		}
	default:
		r.processed++
		r.progress = true
		r.dispatch(ctx, t)
	}
	return false
}

func (r *run) dispatch(ctx context.Context, t task.Task) {
	r.inFlight++
	r.res.Started++
	if r.p.Progress != nil {
		fmt.Fprintf(r.p.Progress, "[%*d/%d] %s\n", len(fmt.Sprint(r.total)), r.processed, r.total, color.Green.Sprint(t.String()))
	}
	if r.p.Observer != nil {
		r.p.Observer.TaskStarted(t)
	}
	ctxlog.FromContext(ctx).Debug("Dispatching task.", "task", t.String())

	start := time.Now()
	r.workers.Go(func() error {
		err := safeRun(ctx, t)
		r.done <- outcome{t: t, err: err, elapsed: time.Since(start)}
		return nil
	})
}

func safeRun(ctx context.Context, t task.Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return t.Run(ctx)
}

// collect waits for one worker result and records it.
func (r *run) collect(ctx context.Context) {
	o := <-r.done
	r.inFlight--
	r.progress = true
	t := o.t

	switch {
	case o.err != nil:
		t.SetState(task.Crashed, o.err)
	default:
		if err := t.PostRun(ctx); err != nil {
			state := task.Exception
			if errors.Is(err, task.ErrMissingOutput) {
				state = task.Missing
			}
			t.SetState(state, err)
		} else {
			t.SetState(task.Success, nil)
		}
	}

	if !t.State().Failed() {
		r.finish(ctx, t)
	}
	r.report(t, o.elapsed)
	if t.State().Failed() {
		ctxlog.FromContext(ctx).Debug("Task failed.", "task", t.String(), "state", t.State().String(), "error", t.Err())
		r.fail(ctx, t)
	}
}

// finish runs the install hook of a task that succeeded or was skipped. A
// hook error turns the task into an exception.
func (r *run) finish(ctx context.Context, t task.Task) {
	if r.p.Finished == nil {
		return
	}
	if err := r.p.Finished(ctx, t); err != nil {
		t.SetState(task.Exception, err)
	}
}

// report tells the observer about t once its state is final.
func (r *run) report(t task.Task, elapsed time.Duration) {
	if r.p.Observer != nil {
		r.p.Observer.TaskFinished(t, elapsed)
	}
}

func (r *run) fail(_ context.Context, t task.Task) {
	r.res.Failed = append(r.res.Failed, t)
	if !r.p.KeepGoing {
		r.stop = true
	}
}
