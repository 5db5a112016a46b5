package rule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/gridbuild/internal/build"
	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/env"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/sig"
	"github.com/specialistvlad/gridbuild/internal/task"
	"github.com/zclconf/go-cty/cty"
)

// Target declares a shell command that turns sources into one output file.
type Target struct {
	// Name is the optional explicit name used by --targets.
	Name   string
	Output string
	// Rule is a template evaluated with the environment plus SRC and TGT.
	Rule    hcl.Expression
	Sources []string
	// Vars lists environment variables whose values count in the signature.
	Vars []string
	// Deps are extra files or plain strings the output depends on.
	Deps []string
	// Implicit are glob patterns, relative to the declaring directory, of
	// files whose contents count in the signature.
	Implicit []string
	// Always runs the command on every build. The signature is still
	// computed and recorded.
	Always  bool
	Install hcl.Expression
	Chmod   os.FileMode
}

// Generator materialises a Target for one variant.
type Generator struct {
	bc      *build.Context
	decl    Target
	variant string
	dir     node.ID
	posted  bool
}

// NewGenerator returns the generator of decl declared in dir for variant.
func NewGenerator(bc *build.Context, decl Target, variant string, dir *node.Node) *Generator {
	return &Generator{bc: bc, decl: decl, variant: variant, dir: dir.ID()}
}

func (g *Generator) Name() string    { return g.decl.Name }
func (g *Generator) Target() string  { return g.decl.Output }
func (g *Generator) Variant() string { return g.variant }
func (g *Generator) Dir() node.ID    { return g.dir }
func (g *Generator) Posted() bool    { return g.posted }

// Post resolves the inputs, declares the output and returns the command
// task.
func (g *Generator) Post(ctx context.Context) ([]task.Task, error) {
	if g.posted {
		return nil, nil
	}
	g.posted = true

	dir := g.bc.Tree().Get(g.dir)
	if dir == nil {
		return nil, fmt.Errorf("declaring directory is no longer known")
	}
	e := g.bc.EnvForVariant(g.variant)
	if e == nil {
		return nil, fmt.Errorf("no environment for variant %q", g.variant)
	}
	if g.decl.Rule == nil {
		return nil, fmt.Errorf("target %s has no rule", g.decl.Output)
	}

	c := &Command{
		bc:      g.bc,
		env:     e,
		rule:    g.decl.Rule,
		variant: g.variant,
		vars:    g.decl.Vars,
		always:  g.decl.Always,
		install: g.decl.Install,
		chmod:   g.decl.Chmod,
	}
	for _, s := range g.decl.Sources {
		n, err := input(ctx, g.bc, dir, s)
		if err != nil {
			return nil, err
		}
		c.inputs = append(c.inputs, n)
	}

	out, err := g.bc.FindOrDeclare(ctx, dir, g.decl.Output)
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", g.decl.Output, err)
	}
	c.outputs = []*node.Node{out}

	if err := g.addDeps(ctx, dir, out); err != nil {
		return nil, err
	}
	for _, pattern := range g.decl.Implicit {
		ns, err := g.bc.Glob(ctx, dir, pattern)
		if err != nil {
			return nil, err
		}
		for _, n := range ns {
			if n.ID() != out.ID() {
				c.implicit = append(c.implicit, n)
			}
		}
	}

	c.uid = c.uniqueID()
	g.bc.SetProducer(g.variant, out.ID(), c)
	ctxlog.FromContext(ctx).Debug("Target posted.", "target", g.decl.Output, "variant", g.variant, "inputs", len(c.inputs))
	return []task.Task{c}, nil
}

// addDeps attaches the declared manual dependencies to out: existing files
// by node, anything else as a plain string.
func (g *Generator) addDeps(ctx context.Context, dir, out *node.Node) error {
	have := make(map[any]bool)
	for _, v := range g.bc.ManualDeps(out.ID()) {
		have[v] = true
	}
	for _, d := range g.decl.Deps {
		n, err := g.bc.FindResource(ctx, dir, d)
		if err != nil {
			return err
		}
		var v any = d
		if n != nil {
			v = n.ID()
		}
		if !have[v] {
			have[v] = true
			g.bc.AddManualDep(out.ID(), v)
		}
	}
	return nil
}

// Command runs one shell command in the build root.
type Command struct {
	task.Base

	bc      *build.Context
	env     *env.Environment
	rule    hcl.Expression
	variant string
	vars    []string
	always  bool
	install hcl.Expression
	chmod   os.FileMode

	inputs   []*node.Node
	outputs  []*node.Node
	implicit []*node.Node

	uid     string
	cmdline string
	sig     sig.Sig
	cached  bool
}

func (c *Command) String() string {
	ins := strings.Join(relNames(c.bc, c.inputs), " ")
	outs := strings.Join(relNames(c.bc, c.outputs), " ")
	if ins == "" {
		return fmt.Sprintf("%s (%s)", outs, c.variant)
	}
	return fmt.Sprintf("%s -> %s (%s)", ins, outs, c.variant)
}

func (c *Command) UniqueID() string { return c.uid }

func (c *Command) uniqueID() string {
	h := sig.New().String("command").String(c.variant)
	for _, n := range c.inputs {
		h.String(n.Path())
	}
	h.String("->")
	for _, n := range c.outputs {
		h.String(n.Path())
	}
	return h.Sum().String()
}

// FormatError renders the failure line of the task.
func (c *Command) FormatError() string { return task.FormatError(c) }

// RunnableStatus waits for the producers of build inputs, then compares the
// signature against the one recorded by the last successful run.
func (c *Command) RunnableStatus(ctx context.Context) (task.Status, error) {
	deps := append(append([]*node.Node(nil), c.inputs...), c.implicit...)
	if st, err := waitFor(c.bc, c, c.variant, deps); err != nil || st == task.AskLater {
		return st, err
	}

	if err := c.expand(); err != nil {
		return task.RunMe, err
	}
	s, err := c.signature()
	if err != nil {
		return task.RunMe, err
	}
	c.sig = s

	logger := ctxlog.FromContext(ctx)
	if c.always {
		return task.RunMe, nil
	}
	if prev, ok := c.bc.TaskSig(c.uid); !ok || prev != s {
		logger.Debug("Task signature changed.", "task", c.String(), "sig", s.Short())
		return task.RunMe, nil
	}
	for _, out := range c.outputs {
		if _, ok := c.bc.BuildSig(c.variant, out.ID()); !ok {
			logger.Debug("Task output missing.", "task", c.String(), "output", out.Name())
			return task.RunMe, nil
		}
		if prev, ok := c.bc.RawDep(c.variant, out.ID()); !ok || prev != c.implicitNames() {
			return task.RunMe, nil
		}
	}
	return task.SkipMe, nil
}

// expand evaluates the rule into the command line.
func (c *Command) expand() error {
	srcs := make([]string, len(c.inputs))
	for i, n := range c.inputs {
		srcs[i] = c.bc.AbsPath(n, c.variant)
	}
	tgts := make([]string, len(c.outputs))
	for i, n := range c.outputs {
		tgts[i] = c.bc.AbsPath(n, c.variant)
	}
	line, err := evalString(c.rule, c.env, map[string]cty.Value{
		"SRC": pathList(srcs),
		"TGT": pathList(tgts),
	})
	if err != nil {
		return fmt.Errorf("cannot expand rule: %w", err)
	}
	c.cmdline = line
	return nil
}

func (c *Command) signature() (sig.Sig, error) {
	h := sig.New().String(c.cmdline)
	for _, n := range c.inputs {
		s, ok := c.bc.NodeSig(c.variant, n)
		if !ok {
			return sig.Nil, fmt.Errorf("input %s has no signature", n.Path())
		}
		h.Sig(s)
	}
	for _, out := range c.outputs {
		for _, v := range c.bc.ManualDeps(out.ID()) {
			switch d := v.(type) {
			case node.ID:
				if n := c.bc.Tree().Get(d); n != nil {
					s, _ := c.bc.NodeSig(c.variant, n)
					h.Sig(s)
				}
			case string:
				h.String(d)
			}
		}
	}
	h.Sig(c.env.Hash(c.vars))
	for _, n := range c.implicit {
		s, _ := c.bc.NodeSig(c.variant, n)
		h.String(n.Name()).Sig(s)
	}
	return h.Sum(), nil
}

// implicitNames hashes the sorted names of the resolved implicit
// dependencies.
func (c *Command) implicitNames() sig.Sig {
	names := relNames(c.bc, c.implicit)
	sort.Strings(names)
	h := sig.New()
	for _, n := range names {
		h.String(n)
	}
	return h.Sum()
}

// Run restores the outputs from the output cache when possible, and
// otherwise executes the command line with sh from the build root.
func (c *Command) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	c.cached = !c.always && c.bc.RetrieveOutputs(ctx, c.sig, c.variant, c.outputs)
	if c.cached {
		logger.Info("Restored outputs from cache.", "task", c.String())
		return nil
	}

	for _, out := range c.outputs {
		if err := os.MkdirAll(filepath.Dir(c.bc.AbsPath(out, c.variant)), 0o755); err != nil {
			return err
		}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", c.cmdline)
	cmd.Dir = c.bc.BldRoot()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("Running command.", "cmd", c.cmdline, "dir", cmd.Dir)
	err := cmd.Run()
	if stdout.Len() > 0 {
		logger.Info("Command output.", "task", c.String(), "stdout", strings.TrimRight(stdout.String(), "\n"))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return &commandError{ExitError: exitErr, stderr: strings.TrimRight(stderr.String(), "\n")}
		}
		return err
	}
	if stderr.Len() > 0 {
		logger.Warn("Command wrote to stderr.", "task", c.String(), "stderr", strings.TrimRight(stderr.String(), "\n"))
	}
	return nil
}

// PostRun records the signatures of the produced outputs and of the task,
// and publishes freshly built outputs to the output cache.
func (c *Command) PostRun(ctx context.Context) error {
	for _, out := range c.outputs {
		p := c.bc.AbsPath(out, c.variant)
		s, err := sig.File(p)
		if err != nil {
			return fmt.Errorf("%w: %s", task.ErrMissingOutput, p)
		}
		c.bc.SetBuildSig(c.variant, out.ID(), s)
		c.bc.SetRawDep(c.variant, out.ID(), c.implicitNames())
	}
	c.bc.SetTaskSig(c.uid, c.sig)

	if !c.cached && !c.always {
		if err := c.bc.StoreOutputs(ctx, c.sig, c.variant, c.outputs); err != nil {
			ctxlog.FromContext(ctx).Warn("Cannot store outputs in cache.", "task", c.String(), "error", err)
		}
	}
	return nil
}

// Install copies the outputs to the target's install path.
func (c *Command) Install(ctx context.Context) error {
	dest, err := evalString(c.install, c.env, nil)
	if err != nil {
		return fmt.Errorf("cannot expand install path: %w", err)
	}
	_, err = c.bc.InstallFiles(ctx, c.env, dest, c.outputs, c.chmod)
	return err
}

// commandError keeps the exit code of a failed command and adds its
// standard error.
type commandError struct {
	*exec.ExitError
	stderr string
}

func (e *commandError) Error() string {
	return e.ExitError.Error() + ": " + e.stderr
}

func (e *commandError) Unwrap() error { return e.ExitError }
