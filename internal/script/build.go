package script

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/gridbuild/internal/build"
	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/rule"
	"github.com/specialistvlad/gridbuild/internal/task"
)

// Loader declares the generators of build scripts into a build context.
type Loader struct {
	bc         *build.Context
	parser     *hclparse.Parser
	files      []string
	generators int
}

// NewLoader returns a loader feeding bc.
func NewLoader(bc *build.Context) *Loader {
	return &Loader{bc: bc, parser: hclparse.NewParser()}
}

// Files lists the scripts read so far, in load order.
func (l *Loader) Files() []string { return append([]string(nil), l.files...) }

// Generators is the number of generators declared so far.
func (l *Loader) Generators() int { return l.generators }

func scriptErr(path, msg string, err error) error {
	return &build.Error{Kind: build.KindConfig, Path: path, Msg: msg, Err: err}
}

// Load reads build.hcl in dir, then the scripts of the directories listed
// in its subdirs attribute.
func (l *Loader) Load(ctx context.Context, dir string) error {
	logger := ctxlog.FromContext(ctx)
	path := filepath.Join(dir, BuildFile)
	if slices.Contains(l.files, path) {
		return scriptErr(path, "build script is included twice", nil)
	}

	file, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return scriptErr(path, "failed to parse build script", diags)
	}
	l.files = append(l.files, path)

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return scriptErr(path, "failed to decode build script", diags)
	}
	dirNode, err := l.bc.FindDir(ctx, dir)
	if err != nil {
		return scriptErr(dir, "build script directory is not usable", err)
	}

	var subdirs []string
	if attr, ok := content.Attributes["subdirs"]; ok {
		if diags := gohcl.DecodeExpression(attr.Expr, nil, &subdirs); diags.HasErrors() {
			return scriptErr(path, "invalid subdirs", diags)
		}
	}

	before := l.generators
	for _, block := range content.Blocks {
		if block.Type != "group" {
			if err := l.declare(ctx, path, dirNode, block); err != nil {
				return err
			}
			continue
		}
		if err := l.bc.Tasks().UseGroup(block.Labels[0]); err != nil {
			return scriptErr(path, "invalid group", err)
		}
		inner, diags := block.Body.Content(groupSchema)
		if diags.HasErrors() {
			return scriptErr(path, "failed to decode group "+block.Labels[0], diags)
		}
		for _, b := range inner.Blocks {
			if err := l.declare(ctx, path, dirNode, b); err != nil {
				return err
			}
		}
	}
	logger.Debug("Build script loaded.", "path", path, "generators", l.generators-before, "subdirs", len(subdirs))

	for _, sub := range subdirs {
		if err := l.Load(ctx, filepath.Join(dir, filepath.FromSlash(sub))); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) declare(ctx context.Context, path string, dir *node.Node, block *hcl.Block) error {
	label := block.Labels[0]
	fail := func(msg string, err error) error {
		return scriptErr(path, fmt.Sprintf("%s %q: %s", block.Type, label, msg), err)
	}

	var (
		variants []string
		mk       func(variant string) task.Generator
	)
	switch block.Type {
	case "target":
		var b targetBlock
		if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
			return fail("invalid declaration", diags)
		}
		mode, err := parseMode(b.Chmod)
		if err != nil {
			return fail("invalid chmod", err)
		}
		decl := rule.Target{
			Name:     b.Name,
			Output:   label,
			Rule:     b.Rule,
			Sources:  b.Source,
			Vars:     b.Vars,
			Deps:     b.Deps,
			Implicit: b.Implicit,
			Always:   b.Always,
			Install:  optionalExpr(ctx, b.InstallPath, "install_path"),
			Chmod:    mode,
		}
		variants = b.Variants
		mk = func(v string) task.Generator { return rule.NewGenerator(l.bc, decl, v, dir) }

	case "install":
		var b installBlock
		if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
			return fail("invalid declaration", diags)
		}
		mode, err := parseMode(b.Chmod)
		if err != nil {
			return fail("invalid chmod", err)
		}
		decl := rule.Install{Kind: rule.InstallFiles, Name: label, Dest: b.Dest, Files: b.Files, Chmod: mode}
		variants = b.Variants
		mk = func(v string) task.Generator { return rule.NewInstallGenerator(l.bc, decl, v, dir) }

	case "install_as":
		var b installAsBlock
		if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
			return fail("invalid declaration", diags)
		}
		mode, err := parseMode(b.Chmod)
		if err != nil {
			return fail("invalid chmod", err)
		}
		decl := rule.Install{Kind: rule.InstallAs, Name: label, Dest: b.Dest, Files: []string{b.File}, Chmod: mode}
		variants = b.Variants
		mk = func(v string) task.Generator { return rule.NewInstallGenerator(l.bc, decl, v, dir) }

	case "symlink":
		var b symlinkBlock
		if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
			return fail("invalid declaration", diags)
		}
		decl := rule.Install{Kind: rule.Symlink, Name: label, Dest: b.Dest, LinkTarget: b.Target}
		variants = b.Variants
		mk = func(v string) task.Generator { return rule.NewInstallGenerator(l.bc, decl, v, dir) }

	default:
		return fail("unsupported block", nil)
	}

	vs, err := l.variants(variants)
	if err != nil {
		return fail("invalid variants", err)
	}
	for _, v := range vs {
		l.bc.AddGenerator(mk(v))
		l.generators++
	}
	return nil
}

// variants resolves a declaration's variant list. An empty list means every
// configured variant.
func (l *Loader) variants(requested []string) ([]string, error) {
	all := l.bc.Variants()
	if len(requested) == 0 {
		return all, nil
	}
	for _, v := range requested {
		if !slices.Contains(all, v) {
			return nil, fmt.Errorf("variant %q is not configured", v)
		}
	}
	return requested, nil
}
