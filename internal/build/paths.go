package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/specialistvlad/gridbuild/internal/node"
	"github.com/specialistvlad/gridbuild/internal/sig"
)

// AbsPath returns where n lives on disk. Build nodes map into the variant's
// output tree, everything else is its source path.
func (c *Context) AbsPath(n *node.Node, variant string) string {
	if n.Kind() != node.Build {
		return n.Path()
	}
	return filepath.Join(c.BuildDir(n.Parent(), variant), n.Name())
}

// BuildDir is the output directory mirroring dir for variant.
func (c *Context) BuildDir(dir *node.Node, variant string) string {
	rel, ok := dir.RelTo(c.SrcNode())
	if !ok {
		rel = strings.TrimLeft(dir.Path(), string(filepath.Separator))
	}
	return filepath.Join(c.bldRoot, variant, rel)
}

// FindDir returns the directory node for path, relative to the source root
// unless absolute. The directory must exist on disk or be known already.
func (c *Context) FindDir(ctx context.Context, path string) (*node.Node, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.srcRoot, path)
	}
	if n := c.tree.Lookup(path); n != nil {
		if n.Kind() != node.Dir {
			return nil, fmt.Errorf("%s is not a directory", path)
		}
		return n, nil
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	return c.tree.EnsureDir(path)
}

// walkDirs resolves the directory part of rel starting at dir. With create
// set, missing directories get nodes even if they do not exist on disk.
func (c *Context) walkDirs(ctx context.Context, dir *node.Node, parts []string, create bool) (*node.Node, error) {
	cur := dir
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if parent := cur.Parent(); parent != nil {
				cur = parent
			}
			continue
		}
		if next := cur.Child(p); next != nil {
			if next.Kind() != node.Dir {
				return nil, fmt.Errorf("%s is not a directory", next.Path())
			}
			cur = next
			continue
		}
		if !create {
			if err := c.Rescan(ctx, cur); err != nil {
				return nil, err
			}
			if !c.dirContents[cur.ID()][p] {
				return nil, nil
			}
			if st, err := os.Stat(filepath.Join(cur.Path(), p)); err != nil || !st.IsDir() {
				return nil, nil
			}
		}
		next, err := c.tree.Add(cur, p, node.Dir)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func splitRel(rel string) []string {
	return strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/")
}

// FindResource returns the source or build node for rel below dir, or nil if
// there is none. A file present on disk but not yet known is discovered,
// hashed and added as a source node.
func (c *Context) FindResource(ctx context.Context, dir *node.Node, rel string) (*node.Node, error) {
	parts := splitRel(rel)
	parent, err := c.walkDirs(ctx, dir, parts[:len(parts)-1], false)
	if err != nil || parent == nil {
		return nil, err
	}
	if err := c.Rescan(ctx, parent); err != nil {
		return nil, err
	}
	name := parts[len(parts)-1]
	if n := parent.Child(name); n != nil {
		if n.Kind() == node.Dir {
			return nil, nil
		}
		return n, nil
	}
	if !c.dirContents[parent.ID()][name] {
		return nil, nil
	}
	s, err := sig.File(filepath.Join(parent.Path(), name))
	if err != nil {
		return nil, nil
	}
	n, err := c.tree.Add(parent, name, node.Source)
	if err != nil {
		return nil, err
	}
	c.sourceSigs[n.ID()] = s
	return n, nil
}

// FindOrDeclare returns the build node for rel below dir, creating it and
// any missing directory nodes. Naming an existing source file is an error.
func (c *Context) FindOrDeclare(ctx context.Context, dir *node.Node, rel string) (*node.Node, error) {
	parts := splitRel(rel)
	parent, err := c.walkDirs(ctx, dir, parts[:len(parts)-1], true)
	if err != nil {
		return nil, err
	}
	if err := c.Rescan(ctx, parent); err != nil {
		return nil, err
	}
	name := parts[len(parts)-1]
	if n := parent.Child(name); n != nil {
		if n.Kind() != node.Build {
			return nil, fmt.Errorf("%s is a %s node, not a build output", n.Path(), n.Kind())
		}
		return n, nil
	}
	return c.tree.Add(parent, name, node.Build)
}

// Glob returns the files directly inside dir whose names match pattern,
// sorted by name.
func (c *Context) Glob(ctx context.Context, dir *node.Node, pattern string) ([]*node.Node, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if err := c.Rescan(ctx, dir); err != nil {
		return nil, err
	}
	var names []string
	for name := range c.dirContents[dir.ID()] {
		if ok, _ := filepath.Match(pattern, name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []*node.Node
	for _, name := range names {
		n, err := c.FindResource(ctx, dir, name)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}
