package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/specialistvlad/gridbuild/internal/ctxlog"
	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/task"
)

func indexKey(variant, name string) string {
	return variant + "_" + name
}

// rebuildIndex maps variant-qualified names to generators. Generators are
// indexed both by explicit name and by target; the first registration of a
// key wins.
func (c *Context) rebuildIndex() {
	if c.index != nil && !c.indexDirty {
		return
	}
	c.index = make(map[string]task.Generator)
	for _, g := range c.tasks.Generators() {
		for _, name := range []string{g.Name(), g.Target()} {
			if name == "" {
				continue
			}
			key := indexKey(g.Variant(), name)
			if _, taken := c.index[key]; !taken {
				c.index[key] = g
			}
		}
	}
	c.indexDirty = false
}

// Lookup returns the generator known as name in variant, or nil.
func (c *Context) Lookup(name, variant string) task.Generator {
	c.rebuildIndex()
	return c.index[indexKey(variant, name)]
}

// Flush posts the generators in scope, in group order, so that their tasks
// are ready to run.
func (c *Context) Flush(ctx context.Context) error {
	c.rebuildIndex()
	if names := targetNames(c.opts.Targets); len(names) > 0 {
		return c.flushTargets(ctx, names)
	}
	return c.flushDefault(ctx)
}

func targetNames(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, name := range strings.Split(r, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

func (c *Context) flushTargets(ctx context.Context, names []string) error {
	logger := ctxlog.FromContext(ctx)
	wanted := make(map[task.Generator]bool)
	for _, name := range names {
		found := false
		for _, v := range c.Variants() {
			if g := c.index[indexKey(v, name)]; g != nil {
				wanted[g] = true
				found = true
			}
		}
		if !found {
			return c.unknownTarget(name)
		}
	}
	logger.Debug("Posting requested targets.", "targets", names, "generators", len(wanted))
	return c.post(ctx, func(g task.Generator) bool { return wanted[g] })
}

func (c *Context) flushDefault(ctx context.Context) error {
	ln := c.launchNode()
	ctxlog.FromContext(ctx).Debug("Posting generators below launch directory.", "dir", ln.Path())
	return c.post(ctx, func(g task.Generator) bool {
		d := c.tree.Get(g.Dir())
		return d != nil && d.IsChildOf(ln)
	})
}

// launchNode is the directory that bounds a default build: the launch
// directory, or the source root when launched from the build tree, from
// outside the sources, or when the main script is not at the source root.
func (c *Context) launchNode() *node.Node {
	src := c.SrcNode()
	launch := c.opts.LaunchDir
	if launch == "" {
		wd, err := os.Getwd()
		if err != nil {
			return src
		}
		launch = wd
	}
	launch, err := filepath.Abs(launch)
	if err != nil {
		return src
	}
	scriptDir := c.opts.ScriptDir
	if scriptDir == "" {
		scriptDir = c.srcRoot
	}
	if abs, err := filepath.Abs(scriptDir); err != nil || abs != c.srcRoot {
		return src
	}

	ln := c.nearestKnown(launch)
	if ln.IsChildOf(c.BldNode()) || !ln.IsChildOf(src) {
		return src
	}
	return ln
}

// nearestKnown returns the node of path or of its closest known ancestor.
func (c *Context) nearestKnown(path string) *node.Node {
	for {
		if n := c.tree.Lookup(path); n != nil {
			return n
		}
		parent := filepath.Dir(path)
		if parent == path {
			return c.tree.Root()
		}
		path = parent
	}
}

func (c *Context) post(ctx context.Context, keep func(task.Generator) bool) error {
	for i, grp := range c.tasks.Groups() {
		for _, g := range grp.Generators() {
			if g.Posted() || !keep(g) {
				continue
			}
			tasks, err := g.Post(ctx)
			if err != nil {
				return fmt.Errorf("cannot create tasks for %s (%s): %w", describe(g), g.Variant(), err)
			}
			c.tasks.AddTasks(i, tasks...)
		}
	}
	return nil
}

func describe(g task.Generator) string {
	if g.Name() != "" {
		return g.Name()
	}
	return g.Target()
}

func (c *Context) unknownTarget(name string) error {
	msg := fmt.Sprintf("target %q does not exist", name)
	if best := c.closestName(name); best != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", best)
	}
	return &Error{Kind: KindTarget, Msg: msg}
}

func (c *Context) closestName(name string) string {
	seen := make(map[string]bool)
	var candidates []string
	for _, g := range c.index {
		n := describe(g)
		if !seen[n] {
			seen[n] = true
			candidates = append(candidates, n)
		}
	}
	sort.Strings(candidates)

	best, bestDist := "", len(name)/2+1
	for _, cand := range candidates {
		if d := levenshtein.Distance(name, cand, nil); d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best
}
