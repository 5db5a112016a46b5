// Package node models the build's view of the filesystem as a tree of Nodes
// held in an arena. Nodes are addressed by ID handles; the numeric identity is
// allocated from a counter owned by the Tree and is never derived from a path,
// so it stays stable across runs once persisted.
package node

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ID identifies a Node within its Tree. Zero is never allocated.
type ID uint64

// NoID is the absent handle.
const NoID ID = 0

// Kind tags what a Node stands for.
type Kind uint8

const (
	// Dir is a directory in the source tree.
	Dir Kind = iota + 1
	// Source is a file the user maintains.
	Source
	// Build is a file produced by the build, one physical copy per variant.
	Build
)

func (k Kind) String() string {
	switch k {
	case Dir:
		return "dir"
	case Source:
		return "source"
	case Build:
		return "build"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Node is one directory or file known to the build.
type Node struct {
	id       ID
	name     string
	kind     Kind
	parent   ID
	children []ID
	index    map[string]ID
	tree     *Tree
}

func (n *Node) ID() ID       { return n.id }
func (n *Node) Name() string { return n.name }
func (n *Node) Kind() Kind   { return n.kind }
func (n *Node) Tree() *Tree  { return n.tree }

// IsRoot reports whether n is the unnamed top of its tree.
func (n *Node) IsRoot() bool { return n.parent == NoID }

// Parent returns the enclosing directory, or nil for the root.
func (n *Node) Parent() *Node {
	if n.parent == NoID {
		return nil
	}
	return n.tree.nodes[n.parent]
}

// Children returns the direct children in insertion order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, id := range n.children {
		out = append(out, n.tree.nodes[id])
	}
	return out
}

// Child returns the direct child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	id, ok := n.index[name]
	if !ok {
		return nil
	}
	return n.tree.nodes[id]
}

// Height is the number of edges between n and the root.
func (n *Node) Height() int {
	h := 0
	for p := n.Parent(); p != nil; p = p.Parent() {
		h++
	}
	return h
}

// IsChildOf reports whether n is anc or lies below it.
func (n *Node) IsChildOf(anc *Node) bool {
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.id == anc.id {
			return true
		}
	}
	return false
}

// Path returns the absolute filesystem path of n in the source tree.
func (n *Node) Path() string {
	parts := n.components(nil)
	return string(filepath.Separator) + filepath.Join(parts...)
}

// RelTo returns the path of n relative to anc. The second result is false
// when n does not lie at or below anc.
func (n *Node) RelTo(anc *Node) (string, bool) {
	parts := n.components(anc)
	if parts == nil && n.id != anc.id {
		return "", false
	}
	if len(parts) == 0 {
		return ".", true
	}
	return filepath.Join(parts...), true
}

// components lists names from stop (exclusive) down to n. With stop == nil it
// walks up to the root. It returns nil if stop is never reached.
func (n *Node) components(stop *Node) []string {
	var rev []string
	cur := n
	for {
		if stop != nil && cur.id == stop.id {
			break
		}
		if cur.IsRoot() {
			if stop != nil {
				return nil
			}
			break
		}
		rev = append(rev, cur.name)
		cur = cur.Parent()
	}
	parts := make([]string, len(rev))
	for i, name := range rev {
		parts[len(rev)-1-i] = name
	}
	return parts
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%d %s)", n.kind, n.id, n.Path())
}

// splitPath turns a cleaned absolute path into its components.
func splitPath(abs string) []string {
	abs = filepath.Clean(abs)
	if vol := filepath.VolumeName(abs); vol != "" {
		abs = abs[len(vol):]
	}
	var parts []string
	for _, p := range strings.Split(abs, string(filepath.Separator)) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
