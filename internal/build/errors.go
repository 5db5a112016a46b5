package build

import (
	"fmt"
	"strings"

	"github.com/specialistvlad/gridbuild/internal/task"
)

// Kind classifies fatal build errors.
type Kind int

const (
	// KindConfig covers unusable configuration: version mismatches, equal
	// source and build roots, broken scripts.
	KindConfig Kind = iota + 1
	// KindTarget is an explicitly requested target that matches nothing.
	KindTarget
	// KindFilesystem is a filesystem operation the build cannot recover from.
	KindFilesystem
	// KindInternal is an engine bug surfacing as an error.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration error"
	case KindTarget:
		return "unknown target"
	case KindFilesystem:
		return "filesystem error"
	case KindInternal:
		return "internal error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified fatal error.
type Error struct {
	Kind Kind
	Path string
	Msg  string
	Err  error
}

// Sentinels for errors.Is matching on Kind alone.
var (
	ErrConfig     = &Error{Kind: KindConfig}
	ErrTarget     = &Error{Kind: KindTarget}
	ErrFilesystem = &Error{Kind: KindFilesystem}
	ErrInternal   = &Error{Kind: KindInternal}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if e.Msg == "" {
		b.WriteString(e.Kind.String())
	}
	if e.Path != "" {
		fmt.Fprintf(&b, ": %s", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func configErr(path, msg string, err error) error {
	return &Error{Kind: KindConfig, Path: path, Msg: msg, Err: err}
}

func fsErr(path, msg string, err error) error {
	return &Error{Kind: KindFilesystem, Path: path, Msg: msg, Err: err}
}

// BuildError reports the tasks that failed during a compile.
type BuildError struct {
	Tasks []task.Task
}

func (e *BuildError) Error() string {
	lines := []string{"build failed"}
	for _, t := range e.Tasks {
		if msg := t.FormatError(); msg != "" {
			lines = append(lines, msg)
		}
	}
	return strings.Join(lines, "\n")
}
