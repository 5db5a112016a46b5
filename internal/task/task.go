package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/gridbuild/internal/node"
)

// Status is a task's answer to "should you run now".
type Status int

const (
	// RunMe means the task is stale and its prerequisites are done.
	RunMe Status = iota
	// SkipMe means the outputs are up to date.
	SkipMe
	// AskLater means a task this one depends on has not finished yet.
	AskLater
)

func (s Status) String() string {
	switch s {
	case RunMe:
		return "run"
	case SkipMe:
		return "skip"
	case AskLater:
		return "ask-later"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// State records what happened to a task during this run.
type State int

const (
	NotRun State = iota
	Missing
	Crashed
	Exception
	Skipped
	Success
)

func (s State) String() string {
	switch s {
	case NotRun:
		return "not-run"
	case Missing:
		return "missing"
	case Crashed:
		return "crashed"
	case Exception:
		return "exception"
	case Skipped:
		return "skipped"
	case Success:
		return "success"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Failed reports whether the state counts as a build failure.
func (s State) Failed() bool {
	return s == Missing || s == Crashed || s == Exception
}

// ErrMissingOutput is returned from PostRun when a task ran but one of its
// declared outputs does not exist.
var ErrMissingOutput = errors.New("missing file")

// Task is one schedulable unit of work.
type Task interface {
	fmt.Stringer
	// UniqueID is stable across runs for the same command on the same
	// inputs and outputs in the same variant.
	UniqueID() string
	RunnableStatus(ctx context.Context) (Status, error)
	Run(ctx context.Context) error
	PostRun(ctx context.Context) error
	State() State
	SetState(s State, err error)
	Err() error
	FormatError() string
}

// Installer is implemented by tasks that copy their outputs to an install
// location once they have finished.
type Installer interface {
	Install(ctx context.Context) error
}

// Generator is a declared, not yet materialised, source of tasks.
type Generator interface {
	// Name is the explicit name the script gave the generator, or "".
	Name() string
	// Target is the name of what the generator produces.
	Target() string
	Variant() string
	// Dir is the directory node the generator was declared in.
	Dir() node.ID
	// Post materialises the tasks. Calling it again returns no tasks.
	Post(ctx context.Context) ([]Task, error)
	Posted() bool
}

// Base carries the run state shared by every task implementation.
type Base struct {
	state State
	err   error
}

func (b *Base) State() State { return b.state }
func (b *Base) Err() error   { return b.err }

func (b *Base) SetState(s State, err error) {
	b.state = s
	b.err = err
}

type exitCoder interface {
	ExitCode() int
}

// FormatError renders the failure line for t, or "" if t did not fail.
func FormatError(t Task) string {
	err := t.Err()
	switch t.State() {
	case Crashed:
		var ec exitCoder
		if errors.As(err, &ec) {
			return fmt.Sprintf(" -> task failed (err #%d): %s", ec.ExitCode(), t)
		}
		if err != nil {
			return fmt.Sprintf(" -> task failed: %s: %v", t, err)
		}
		return fmt.Sprintf(" -> task failed: %s", t)
	case Missing:
		return fmt.Sprintf(" -> missing files: %s", t)
	case Exception:
		if err != nil {
			return fmt.Sprintf(" -> %s: %v", t, err)
		}
		return fmt.Sprintf(" -> %s: unexpected failure", t)
	default:
		return ""
	}
}
