package node

import (
	"fmt"
	"path/filepath"
)

// Tree owns every Node and the identity counter.
type Tree struct {
	nodes map[ID]*Node
	root  ID
	last  ID
}

// NewTree returns a tree holding only the unnamed root directory.
func NewTree() *Tree {
	t := &Tree{nodes: make(map[ID]*Node)}
	root := t.alloc("", Dir, NoID)
	t.root = root.id
	return t
}

func (t *Tree) alloc(name string, kind Kind, parent ID) *Node {
	t.last++
	n := &Node{id: t.last, name: name, kind: kind, parent: parent, tree: t}
	t.nodes[n.id] = n
	return n
}

// Root returns the unnamed top directory.
func (t *Tree) Root() *Node { return t.nodes[t.root] }

// Get resolves a handle. It returns nil for detached or unknown IDs.
func (t *Tree) Get(id ID) *Node { return t.nodes[id] }

// Len is the number of live nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// LastID is the most recently allocated identity.
func (t *Tree) LastID() ID { return t.last }

// Add returns the child of parent named name, creating it with the given kind
// if it does not exist. An existing child of a different kind is an error.
func (t *Tree) Add(parent *Node, name string, kind Kind) (*Node, error) {
	if parent.tree != t {
		return nil, fmt.Errorf("node %s belongs to another tree", parent)
	}
	if parent.kind != Dir {
		return nil, fmt.Errorf("cannot add %q under non-directory %s", name, parent)
	}
	if name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid node name %q", name)
	}
	if existing := parent.Child(name); existing != nil {
		if existing.kind != kind {
			return nil, fmt.Errorf("%s already exists as %s, not %s", existing.Path(), existing.kind, kind)
		}
		return existing, nil
	}
	n := t.alloc(name, kind, parent.id)
	if parent.index == nil {
		parent.index = make(map[string]ID)
	}
	parent.children = append(parent.children, n.id)
	parent.index[name] = n.id
	return n, nil
}

// Detach removes n and everything below it from the tree. The root cannot be
// detached. Detached IDs are never handed out again.
func (t *Tree) Detach(n *Node) {
	if n.IsRoot() {
		return
	}
	if p := n.Parent(); p != nil {
		delete(p.index, n.name)
		for i, id := range p.children {
			if id == n.id {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
	}
	t.drop(n)
}

func (t *Tree) drop(n *Node) {
	for _, id := range n.children {
		if c := t.nodes[id]; c != nil {
			t.drop(c)
		}
	}
	delete(t.nodes, n.id)
}

// Lookup finds the node for an absolute path without creating anything.
func (t *Tree) Lookup(abs string) *Node {
	cur := t.Root()
	for _, part := range splitPath(abs) {
		cur = cur.Child(part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// EnsureDir returns the Dir node for an absolute path, creating directory
// nodes along the way.
func (t *Tree) EnsureDir(abs string) (*Node, error) {
	if !filepath.IsAbs(abs) {
		return nil, fmt.Errorf("path %q is not absolute", abs)
	}
	cur := t.Root()
	for _, part := range splitPath(abs) {
		next, err := t.Add(cur, part, Dir)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Walk visits n and its descendants depth first, children in insertion order.
// Returning false from fn skips the subtree below that node.
func Walk(n *Node, fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, fn)
	}
}
