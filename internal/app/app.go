package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/specialistvlad/gridbuild/internal/build"
	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/env"
	"github.com/specialistvlad/gridbuild/internal/metrics"
	"github.com/specialistvlad/gridbuild/internal/script"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	metrics *metrics.Collector

	// Runner replaces the parallel runner of every build context, if set.
	Runner build.Runner
}

// NewApp returns an App printing command output to outW and logs to logW.
func NewApp(outW, logW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	logger.Debug("Logger configured successfully.")
	return &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		metrics: metrics.New(),
	}
}

// Metrics returns the application's collectors. This is primarily for testing.
func (a *App) Metrics() *metrics.Collector { return a.metrics }

// run attaches the logger to ctx, runs fn and accounts for the outcome.
func (a *App) run(ctx context.Context, command string, fn func(ctx context.Context) error) error {
	ctx = ctxlog.WithLogger(ctx, a.logger.With("command", command))
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Command started.")

	err := fn(ctx)
	a.metrics.Run(command, err)
	if a.config.MetricsFile != "" {
		if werr := a.metrics.WriteTextfile(a.config.MetricsFile); werr != nil {
			logger.Warn("Cannot write metrics file.", "path", a.config.MetricsFile, "error", werr)
		}
	}
	logger.Debug("Command finished.", "error", err)
	return err
}

// open loads the persisted state of the configured project into a new build
// context. With scripts set, the build scripts are declared too.
func (a *App) open(ctx context.Context, mode build.Mode, scripts bool) (*build.Context, error) {
	logger := ctxlog.FromContext(ctx)
	src, bld, err := a.config.Dirs()
	if err != nil {
		return nil, &build.Error{Kind: build.KindConfig, Msg: "invalid project directories", Err: err}
	}

	opts := build.Options{
		Jobs:      a.config.Jobs,
		KeepGoing: a.config.KeepGoing,
		Targets:   a.config.Targets,
		ScriptDir: src,
		DestDir:   a.config.DestDir,
		CacheDir:  a.config.CacheDir,
		Mode:      mode,
		Metrics:   a.metrics,
	}
	if a.config.Progress {
		opts.Progress = a.outW
	}
	bc := build.New(opts)
	bc.Runner = a.Runner

	if err := bc.LoadDirs(ctx, src, bld); err != nil {
		return nil, err
	}
	n, err := bc.LoadEnvs(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &build.Error{Kind: build.KindConfig, Path: bld, Msg: "project is not configured, run configure first"}
	}
	logger.Debug("Project opened.", "src", src, "bld", bld, "variants", bc.Variants())

	if scripts {
		l := script.NewLoader(bc)
		if err := l.Load(ctx, src); err != nil {
			return nil, err
		}
		logger.Debug("Build scripts loaded.", "files", len(l.Files()), "generators", l.Generators())
	}
	return bc, nil
}

// Configure reads configure.hcl and stores the variants under the build
// root. A project without configure.hcl gets a single empty default variant.
func (a *App) Configure(ctx context.Context) error {
	return a.run(ctx, "configure", func(ctx context.Context) error {
		logger := ctxlog.FromContext(ctx)
		src, bld, err := a.config.Dirs()
		if err != nil {
			return &build.Error{Kind: build.KindConfig, Msg: "invalid project directories", Err: err}
		}
		if src == bld {
			return &build.Error{Kind: build.KindConfig, Path: src, Msg: "source and build directories must differ"}
		}

		path := filepath.Join(src, script.ConfigureFile)
		var envs []*env.Environment
		switch _, err := os.Stat(path); {
		case errors.Is(err, os.ErrNotExist):
			logger.Info("No configuration script, using an empty default variant.", "path", path)
			envs = []*env.Environment{env.New(env.DefaultVariant)}
		case err != nil:
			return &build.Error{Kind: build.KindFilesystem, Path: path, Msg: "cannot read configuration script", Err: err}
		default:
			if envs, err = script.LoadConfigure(ctx, path); err != nil {
				return err
			}
		}

		if err := build.WriteConfiguration(ctx, src, bld, envs); err != nil {
			return err
		}
		names := make([]string, len(envs))
		for i, e := range envs {
			names[i] = e.Variant()
		}
		logger.Info("Project configured.", "src", src, "bld", bld, "variants", names)
		return nil
	})
}

// Build brings the outputs in scope up to date.
func (a *App) Build(ctx context.Context) error {
	return a.run(ctx, "build", func(ctx context.Context) error {
		return a.compile(ctx, build.ModeNone)
	})
}

// Install builds and then copies the declared files to their install paths.
func (a *App) Install(ctx context.Context) error {
	return a.run(ctx, "install", func(ctx context.Context) error {
		return a.compile(ctx, build.ModeInstall)
	})
}

// Uninstall removes what Install would have installed, then the install
// directories left empty. Nothing is built.
func (a *App) Uninstall(ctx context.Context) error {
	return a.run(ctx, "uninstall", func(ctx context.Context) error {
		return a.compile(ctx, build.ModeUninstall)
	})
}

func (a *App) compile(ctx context.Context, mode build.Mode) error {
	logger := ctxlog.FromContext(ctx)
	bc, err := a.open(ctx, mode, true)
	if err != nil {
		return err
	}
	if err := bc.Compile(ctx); err != nil {
		return err
	}
	switch mode {
	case build.ModeInstall:
		logger.Info("Install finished.", "files", len(bc.Installed()))
	case build.ModeUninstall:
		bc.CleanEmptyDirectories(ctx)
		logger.Info("Uninstall finished.", "files", len(bc.Installed()))
	default:
		logger.Info("Build finished.", "tasks", bc.Tasks().Total())
	}
	return nil
}

// Clean removes every build output and forgets the build signatures.
func (a *App) Clean(ctx context.Context) error {
	return a.run(ctx, "clean", func(ctx context.Context) error {
		bc, err := a.open(ctx, build.ModeNone, false)
		if err != nil {
			return err
		}
		return bc.Clean(ctx)
	})
}

// List prints the variant and name of every declared generator.
func (a *App) List(ctx context.Context) error {
	return a.run(ctx, "list", func(ctx context.Context) error {
		bc, err := a.open(ctx, build.ModeNone, true)
		if err != nil {
			return err
		}
		for _, g := range bc.Tasks().Generators() {
			name := g.Name()
			if name == "" {
				name = g.Target()
			}
			if _, err := fmt.Fprintf(a.outW, "%s %s\n", g.Variant(), name); err != nil {
				return err
			}
		}
		return nil
	})
}
