package build

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/sig"
)

// Clean deletes every build output of every variant, drops the build nodes
// and all recorded signatures, and saves the emptied state.
func (c *Context) Clean(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	var outputs []*node.Node
	node.Walk(c.SrcNode(), func(n *node.Node) bool {
		if n.Kind() == node.Build {
			outputs = append(outputs, n)
		}
		return true
	})

	removed := 0
	for _, n := range outputs {
		for _, v := range c.Variants() {
			p := c.AbsPath(n, v)
			err := os.Remove(p)
			switch {
			case err == nil:
				removed++
			case !errors.Is(err, fs.ErrNotExist):
				logger.Warn("Cannot remove build output.", "path", p, "error", err)
			}
		}
		c.tree.Detach(n)
	}

	c.sourceSigs = make(map[node.ID]sig.Sig)
	for v := range c.buildSigs {
		c.buildSigs[v] = make(map[node.ID]sig.Sig)
	}
	for v := range c.rawDeps {
		c.rawDeps[v] = make(map[node.ID]sig.Sig)
	}
	c.taskSigs = make(map[string]sig.Sig)
	c.scanned = make(map[node.ID]bool)

	logger.Info("Build outputs removed.", "files", removed, "nodes", len(outputs))
	return c.Save(ctx)
}
