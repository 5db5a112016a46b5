package rule

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/gridbuild/internal/build"
	"github.com/specialistvlad/gridbuild/internal/env"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/sig"
	"github.com/specialistvlad/gridbuild/internal/task"
)

// InstallKind selects what an Install declaration does.
type InstallKind int

const (
	// InstallFiles copies files into a destination directory.
	InstallFiles InstallKind = iota
	// InstallAs copies one file to a destination path.
	InstallAs
	// Symlink creates a symbolic link at the destination.
	Symlink
)

func (k InstallKind) String() string {
	switch k {
	case InstallAs:
		return "install_as"
	case Symlink:
		return "symlink"
	default:
		return "install"
	}
}

// Install declares files to copy, or a link to create, at install time.
type Install struct {
	Kind InstallKind
	Name string
	Dest hcl.Expression
	// Files are relative to the declaring directory. InstallAs uses the
	// first entry.
	Files []string
	// LinkTarget is the content of the link for Symlink.
	LinkTarget string
	Chmod      os.FileMode
}

// InstallGenerator materialises an Install for one variant.
type InstallGenerator struct {
	bc      *build.Context
	decl    Install
	variant string
	dir     node.ID
	posted  bool
}

// NewInstallGenerator returns the generator of decl declared in dir.
func NewInstallGenerator(bc *build.Context, decl Install, variant string, dir *node.Node) *InstallGenerator {
	return &InstallGenerator{bc: bc, decl: decl, variant: variant, dir: dir.ID()}
}

func (g *InstallGenerator) Name() string    { return g.decl.Name }
func (g *InstallGenerator) Target() string  { return "" }
func (g *InstallGenerator) Variant() string { return g.variant }
func (g *InstallGenerator) Dir() node.ID    { return g.dir }
func (g *InstallGenerator) Posted() bool    { return g.posted }

// Post resolves the files and returns the installer task.
func (g *InstallGenerator) Post(ctx context.Context) ([]task.Task, error) {
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

	t := &Installer{bc: g.bc, env: e, decl: g.decl, variant: g.variant}
	switch g.decl.Kind {
	case Symlink:
		if g.decl.LinkTarget == "" {
			return nil, fmt.Errorf("symlink %s has no target", g.decl.Name)
		}
	case InstallAs:
		if len(g.decl.Files) != 1 {
			return nil, fmt.Errorf("install_as %s needs exactly one file", g.decl.Name)
		}
	}
	for _, f := range g.decl.Files {
		n, err := input(ctx, g.bc, dir, f)
		if err != nil {
			return nil, err
		}
		t.files = append(t.files, n)
	}

	h := sig.New().String(g.decl.Kind.String()).String(g.variant).String(g.decl.Name).String(g.decl.LinkTarget)
	for _, n := range t.files {
		h.String(n.Path())
	}
	t.uid = h.Sum().String()
	return []task.Task{t}, nil
}

// Installer never builds anything; it waits for the producers of its files
// and does its work in the install hook.
type Installer struct {
	task.Base

	bc      *build.Context
	env     *env.Environment
	decl    Install
	variant string
	files   []*node.Node
	uid     string
}

func (t *Installer) String() string {
	label := t.decl.Kind.String()
	if t.decl.Name != "" {
		label += " " + t.decl.Name
	}
	if t.decl.Kind == Symlink {
		return fmt.Sprintf("%s -> %s (%s)", label, t.decl.LinkTarget, t.variant)
	}
	return fmt.Sprintf("%s: %s (%s)", label, strings.Join(relNames(t.bc, t.files), " "), t.variant)
}

func (t *Installer) UniqueID() string    { return t.uid }
func (t *Installer) FormatError() string { return task.FormatError(t) }

func (t *Installer) RunnableStatus(ctx context.Context) (task.Status, error) {
	st, err := waitFor(t.bc, t, t.variant, t.files)
	if err != nil || st == task.AskLater {
		return st, err
	}
	return task.SkipMe, nil
}

func (t *Installer) Run(ctx context.Context) error     { return nil }
func (t *Installer) PostRun(ctx context.Context) error { return nil }

// Install performs the declared operation for the current mode.
func (t *Installer) Install(ctx context.Context) error {
	dest, err := evalString(t.decl.Dest, t.env, nil)
	if err != nil {
		return fmt.Errorf("cannot expand destination: %w", err)
	}
	switch t.decl.Kind {
	case Symlink:
		return t.bc.SymlinkAs(ctx, t.env, dest, t.decl.LinkTarget)
	case InstallAs:
		_, err = t.bc.InstallAs(ctx, t.env, dest, t.files[0], t.decl.Chmod)
	default:
		_, err = t.bc.InstallFiles(ctx, t.env, dest, t.files, t.decl.Chmod)
	}
	return err
}
