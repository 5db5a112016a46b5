package build

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/sig"
	"github.com/specialistvlad/gridbuild/internal/snapshot"
)

// LoadDirs fixes the source and build roots, restores the previous run's
// state, and makes sure both roots have directory nodes.
func (c *Context) LoadDirs(ctx context.Context, src, bld string) error {
	logger := ctxlog.FromContext(ctx)

	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return configErr(src, "invalid source directory", err)
	}
	bldAbs, err := filepath.Abs(bld)
	if err != nil {
		return configErr(bld, "invalid build directory", err)
	}
	if srcAbs == bldAbs {
		return configErr(srcAbs, "source and build directories must differ", nil)
	}
	if err := os.MkdirAll(bldAbs, 0o755); err != nil {
		return fsErr(bldAbs, "cannot create build directory", err)
	}
	c.srcRoot, c.bldRoot = srcAbs, bldAbs

	if err := c.Load(ctx); err != nil {
		return err
	}
	if c.tree == nil {
		c.tree = node.NewTree()
	}

	srcNode, err := c.tree.EnsureDir(srcAbs)
	if err != nil {
		return &Error{Kind: KindInternal, Path: srcAbs, Msg: "cannot register source directory", Err: err}
	}
	bldNode, err := c.tree.EnsureDir(bldAbs)
	if err != nil {
		return &Error{Kind: KindInternal, Path: bldAbs, Msg: "cannot register build directory", Err: err}
	}
	c.srcNode, c.bldNode = srcNode.ID(), bldNode.ID()
	c.InitVariants()

	logger.Debug("Directories loaded.", "src", srcAbs, "bld", bldAbs, "nodes", c.tree.Len())
	return nil
}

func (c *Context) snapshotPath() string {
	return filepath.Join(c.bldRoot, SnapshotFile)
}

// Load validates the configuration descriptor and restores the snapshot.
// A missing, unreadable or outdated snapshot leaves an empty state.
func (c *Context) Load(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	desc, err := ReadDescriptor(c.bldRoot)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("No configuration descriptor found.", "bld", c.bldRoot)
	case err != nil:
		return configErr(descriptorPath(c.bldRoot), "unreadable configuration descriptor", err)
	case desc.Version != Version:
		return configErr(descriptorPath(c.bldRoot),
			"version mismatch: configured with "+desc.Version+", running "+Version+"; reconfigure the project", nil)
	}

	c.resetState()
	snap, err := snapshot.Read(c.snapshotPath())
	if err != nil {
		logger.Debug("Starting from an empty state.", "reason", err)
		return nil
	}
	tree, err := snap.Tree()
	if err != nil {
		logger.Debug("Snapshot tree is unusable, starting from an empty state.", "error", err)
		return nil
	}

	c.tree = tree
	c.srcNode, c.bldNode = snap.SrcNode, snap.BldNode
	if snap.SourceSigs != nil {
		c.sourceSigs = snap.SourceSigs
	}
	copyTables(c.buildSigs, snap.BuildSigs)
	copyTables(c.rawDeps, snap.RawDeps)
	if snap.TaskSigs != nil {
		c.taskSigs = snap.TaskSigs
	}
	logger.Debug("Snapshot restored.", "nodes", tree.Len(), "tasks", len(c.taskSigs))
	return nil
}

func copyTables(dst, src map[string]map[node.ID]sig.Sig) {
	for v, tbl := range src {
		if tbl == nil {
			tbl = make(map[node.ID]sig.Sig)
		}
		dst[v] = tbl
	}
}

// Snapshot captures the persistent state.
func (c *Context) Snapshot() *snapshot.Snapshot {
	s := &snapshot.Snapshot{
		SrcNode:    c.srcNode,
		BldNode:    c.bldNode,
		SourceSigs: c.sourceSigs,
		BuildSigs:  c.buildSigs,
		RawDeps:    c.rawDeps,
		TaskSigs:   c.taskSigs,
	}
	s.FromTree(c.tree)
	return s
}

// Save persists the state atomically.
func (c *Context) Save(ctx context.Context) error {
	path := c.snapshotPath()
	if err := snapshot.Write(path, c.Snapshot()); err != nil {
		return fsErr(path, "cannot save build state", err)
	}
	ctxlog.FromContext(ctx).Debug("Build state saved.", "path", path, "nodes", c.tree.Len())
	return nil
}
