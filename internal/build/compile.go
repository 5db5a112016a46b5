package build

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/executor"
	"github.com/specialistvlad/gridbuild/internal/task"
)

// Compile posts the generators in scope and runs their tasks from inside the
// build root. State is saved when tasks ran: after a normal finish, and after
// an interrupt if anything had started. Any other runner error discards the
// run's state changes.
func (c *Context) Compile(ctx context.Context) (err error) {
	logger := ctxlog.FromContext(ctx)

	if err := c.Flush(ctx); err != nil {
		return err
	}

	back, err := os.Getwd()
	if err != nil {
		return &Error{Kind: KindInternal, Msg: "cannot determine working directory", Err: err}
	}
	if err := os.Chdir(c.bldRoot); err != nil {
		return fsErr(c.bldRoot, "cannot enter build directory", err)
	}
	defer func() {
		if cerr := os.Chdir(back); cerr != nil {
			logger.Warn("Cannot return to the launch directory.", "dir", back, "error", cerr)
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			err = &Error{Kind: KindInternal, Msg: "build runner panicked", Err: fmt.Errorf("%v", p)}
		}
	}()

	logger.Debug("Executor starting.", "tasks", c.tasks.Total(), "jobs", c.opts.Jobs, "mode", c.opts.Mode.String())
	res, err := c.runner().Run(ctx, c.tasks)
	started := res != nil && res.Started > 0

	if err != nil {
		if errors.Is(err, executor.ErrInterrupted) && started {
			if serr := c.Save(ctx); serr != nil {
				logger.Error("Cannot save build state after interrupt.", "error", serr)
			}
		}
		return err
	}

	if res == nil {
		return nil
	}
	if started {
		if err := c.Save(ctx); err != nil {
			return err
		}
	}
	logger.Debug("Executor finished.", "started", res.Started, "skipped", res.Skipped, "failed", len(res.Failed))
	if len(res.Failed) > 0 {
		return &BuildError{Tasks: res.Failed}
	}
	return nil
}

func (c *Context) runner() Runner {
	if c.Runner != nil {
		return c.Runner
	}
	p := &executor.Parallel{
		Jobs:      c.opts.Jobs,
		KeepGoing: c.opts.KeepGoing,
		SkipAll:   c.opts.Mode == ModeUninstall,
		Finished:  c.finished,
		Progress:  c.opts.Progress,
	}
	if c.opts.Metrics != nil {
		p.Observer = c.opts.Metrics
	}
	return p
}

// finished runs a task's install hook in install and uninstall mode.
func (c *Context) finished(ctx context.Context, t task.Task) error {
	if c.opts.Mode == ModeNone {
		return nil
	}
	if inst, ok := t.(task.Installer); ok {
		return inst.Install(ctx)
	}
	return nil
}
