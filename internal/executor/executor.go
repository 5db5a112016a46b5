// Package executor runs the tasks of a task.Manager on a bounded pool of
// workers, one group at a time.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/specialistvlad/gridbuild/internal/task"
)

var (
	// ErrInterrupted is returned when the context is cancelled mid-run.
	ErrInterrupted = errors.New("build interrupted")
	// ErrDeadlock is returned when every remaining task in a group keeps
	// asking to be scheduled later.
	ErrDeadlock = errors.New("deadlock: tasks are waiting on each other")
)

// Observer is told about task lifecycle events. Calls happen on the
// coordinating goroutine. Skipped tasks are reported as finished with zero
// elapsed time and no start.
type Observer interface {
	TaskStarted(t task.Task)
	TaskFinished(t task.Task, elapsed time.Duration)
}

// Result summarises one run.
type Result struct {
	// Started counts tasks handed to a worker.
	Started int
	Skipped int
	Failed  []task.Task
}

// Parallel is the default runner.
type Parallel struct {
	Jobs int
	// KeepGoing keeps dispatching after a task fails.
	KeepGoing bool
	// SkipAll answers SkipMe for every task without asking it. Used for
	// uninstalling, where nothing must be built.
	SkipAll bool
	// Finished is called for every task that succeeded or was skipped.
	Finished func(ctx context.Context, t task.Task) error
	Observer Observer
	// Progress receives one line per started task when non-nil.
	Progress io.Writer
}

// Run executes every materialised task of m.
func (p *Parallel) Run(ctx context.Context, m *task.Manager) (*Result, error) {
	r := newRun(p, m.Total())
	defer r.wait()

	for i, g := range m.Groups() {
		if err := r.group(ctx, i, g.Tasks()); err != nil {
			return &r.res, err
		}
		if r.stop {
			break
		}
	}
	r.wait()
	if r.interrupted || ctx.Err() != nil {
		return &r.res, fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
	}
	return &r.res, nil
}
