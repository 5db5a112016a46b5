package build

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/sig"
)

// Rescan reconciles the known children of a source directory with the
// filesystem. It runs at most once per directory per Context.
func (c *Context) Rescan(ctx context.Context, dir *node.Node) error {
	if c.scanned[dir.ID()] {
		return nil
	}
	c.scanned[dir.ID()] = true

	// The unnamed root would be a drive list on Windows.
	if dir.IsRoot() && runtime.GOOS == "windows" {
		return nil
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.Rescanned()
	}

	path := dir.Path()
	names, err := listDir(path)
	if err != nil {
		names = map[string]bool{}
	}
	c.dirContents[dir.ID()] = names

	if err := c.reconcileSources(ctx, dir, names); err != nil {
		return err
	}

	src := c.SrcNode()
	if src == nil || !dir.IsChildOf(src) {
		return nil
	}
	if bld := c.BldNode(); bld != nil && dir.IsChildOf(bld) {
		return nil
	}
	rel, _ := dir.RelTo(src)
	c.reconcileBuild(ctx, dir, rel)
	return nil
}

func (c *Context) reconcileSources(ctx context.Context, dir *node.Node, names map[string]bool) error {
	logger := ctxlog.FromContext(ctx)
	for _, child := range dir.Children() {
		if child.Kind() != node.Source {
			continue
		}
		if names[child.Name()] {
			s, err := sig.File(child.Path())
			if err != nil {
				return fsErr(child.Path(), "file is not readable or has become a directory", err)
			}
			c.sourceSigs[child.ID()] = s
			continue
		}
		logger.Debug("Source file vanished.", "path", child.Path())
		c.forget(child.ID())
		c.tree.Detach(child)
	}
	return nil
}

func (c *Context) reconcileBuild(ctx context.Context, dir *node.Node, rel string) {
	variants := c.Variants()
	for _, v := range variants {
		present, err := listDir(filepath.Join(c.bldRoot, v, rel))
		if err != nil {
			c.resetBuildDir(ctx, dir, rel, variants)
			return
		}
		for _, child := range dir.Children() {
			if child.Kind() == node.Build && !present[child.Name()] {
				delete(c.buildSigs[v], child.ID())
			}
		}
	}
}

// resetBuildDir handles a missing build output directory: every build
// signature of the directory is dropped and the directory is recreated for
// every variant.
func (c *Context) resetBuildDir(ctx context.Context, dir *node.Node, rel string, variants []string) {
	logger := ctxlog.FromContext(ctx)
	for _, child := range dir.Children() {
		if child.Kind() != node.Build {
			continue
		}
		for _, tbl := range c.buildSigs {
			delete(tbl, child.ID())
		}
	}
	for _, v := range variants {
		p := filepath.Join(c.bldRoot, v, rel)
		if err := os.MkdirAll(p, 0o755); err != nil {
			logger.Warn("Cannot create build output directory.", "path", p, "error", err)
		}
	}
	logger.Debug("Build output directory recreated.", "rel", rel)
}

// forget drops every signature recorded for a node.
func (c *Context) forget(id node.ID) {
	delete(c.sourceSigs, id)
	for _, tbl := range c.buildSigs {
		delete(tbl, id)
	}
	for _, tbl := range c.rawDeps {
		delete(tbl, id)
	}
	delete(c.depsMan, id)
}

func listDir(path string) (map[string]bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	return names, nil
}
