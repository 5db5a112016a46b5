package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/specialistvlad/gridbuild/internal/app"
	"github.com/specialistvlad/gridbuild/internal/build"
	"github.com/specialistvlad/gridbuild/internal/executor"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitFailure     = 1
	ExitUsage       = 2
	ExitInterrupted = 130
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError maps a command failure to its exit code: configuration and
// unknown target errors are usage errors, an interrupt exits with 130, and
// everything else, failed tasks included, is a plain failure.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	code := ExitFailure
	switch {
	case errors.Is(err, executor.ErrInterrupted):
		code = ExitInterrupted
	case errors.Is(err, build.ErrConfig), errors.Is(err, build.ErrTarget):
		code = ExitUsage
	}
	return &ExitError{Code: code, Message: err.Error(), Err: err}
}

type flags struct {
	top         string
	out         string
	jobs        int
	keep        bool
	targets     []string
	destdir     string
	cacheDir    string
	logLevel    string
	logFormat   string
	metricsFile string
	progress    bool
}

func (f *flags) config() (*app.Config, error) {
	cfg, err := app.NewConfig(app.Config{
		Top:         f.top,
		Out:         f.out,
		Jobs:        f.jobs,
		KeepGoing:   f.keep,
		Targets:     f.targets,
		DestDir:     f.destdir,
		CacheDir:    f.cacheDir,
		LogLevel:    f.logLevel,
		LogFormat:   f.logFormat,
		MetricsFile: f.metricsFile,
		Progress:    f.progress,
	})
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Message: err.Error(), Err: err}
	}
	return cfg, nil
}

// NewRootCommand builds the command tree. Command output goes to outW, logs
// and errors to errW.
func NewRootCommand(outW, errW io.Writer) *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "gridbuild",
		Short: "gridbuild is an incremental, content-hash based build engine",
		Long: `gridbuild rebuilds only the outputs whose inputs, commands or variables changed.
Projects declare their variants in configure.hcl and their targets in build.hcl.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(errW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Message: err.Error(), Err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&f.top, "top", ".", "Source root of the project.")
	pf.StringVar(&f.out, "out", app.DefaultOut, "Build root, relative to the source root unless absolute.")
	pf.IntVarP(&f.jobs, "jobs", "j", runtime.NumCPU(), "Number of tasks to run in parallel.")
	pf.BoolVarP(&f.keep, "keep", "k", false, "Keep running after a task fails.")
	pf.StringSliceVar(&f.targets, "targets", nil, "Build only these targets (comma separated).")
	pf.StringVar(&f.destdir, "destdir", "", "Prefix prepended to every install path.")
	pf.StringVar(&f.cacheDir, "cache-dir", os.Getenv("GRIDBUILD_CACHE"), "Shared cache of task outputs, keyed by task signature.")
	pf.StringVar(&f.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.StringVar(&f.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "Write prometheus metrics to this file after the command.")
	pf.BoolVar(&f.progress, "progress", false, "Print one line per started task.")

	command := func(use, short string, fn func(*app.App, context.Context) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := f.config()
				if err != nil {
					return err
				}
				a := app.NewApp(outW, errW, cfg)
				return exitError(fn(a, cmd.Context()))
			},
		}
	}

	root.AddCommand(
		command("configure", "Store the variants declared in configure.hcl", (*app.App).Configure),
		command("build", "Bring the declared outputs up to date", (*app.App).Build),
		command("install", "Build, then install the declared files", (*app.App).Install),
		command("uninstall", "Remove the installed files", (*app.App).Uninstall),
		command("clean", "Remove every build output", (*app.App).Clean),
		command("list", "Print the declared targets per variant", (*app.App).List),
		command("dump", "Print the persisted build state as YAML", (*app.App).Dump),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of gridbuild",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "gridbuild version %s\n", build.Version)
			},
		},
	)
	return root
}

// Execute runs the command line args under ctx.
func Execute(ctx context.Context, args []string, outW, errW io.Writer) error {
	root := NewRootCommand(outW, errW)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	// Unknown commands and argument count errors.
	return &ExitError{Code: ExitUsage, Message: err.Error(), Err: err}
}
